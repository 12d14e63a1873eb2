package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxFrameSize   = 4096
	actionJoin     = "joinBoard"
	actionLeave    = "leaveBoard"
	eventJoined    = "joinedBoard"
	eventJoinError = "joinBoardError"
)

// Authenticator resolves the user behind an upgrade request.
type Authenticator func(r *http.Request) (userID string, err error)

// BoardAuthorizer reports whether userID may follow boardID.
type BoardAuthorizer func(ctx context.Context, userID, boardID string) error

type clientFrame struct {
	Action  string `json:"action"`
	BoardID string `json:"boardId"`
}

// Handler upgrades requests to websocket sessions bound to a Hub.
type Handler struct {
	hub       *Hub
	authn     Authenticator
	authorize BoardAuthorizer
	upgrader  websocket.Upgrader
	logger    *log.Logger
}

func NewHandler(hub *Hub, authn Authenticator, authorize BoardAuthorizer, allowedOrigin string, logger *log.Logger) *Handler {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Handler{
		hub:       hub,
		authn:     authn,
		authorize: authorize,
		logger:    logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || allowedOrigin == "" || allowedOrigin == "*" || origin == allowedOrigin
			},
		},
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID, err := h.authn(r)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WithError(err).Debug("websocket upgrade failed")
		return
	}

	session := h.hub.Connect(userID)
	entry := h.logger.WithFields(log.Fields{"session": session.ID, "user_id": userID})
	entry.Debug("websocket session opened")

	go h.writeLoop(conn, session, entry)
	h.readLoop(conn, session, entry)
}

func (h *Handler) readLoop(conn *websocket.Conn, s *Session, entry *log.Entry) {
	defer func() {
		h.hub.Disconnect(s)
		conn.Close()
		entry.Debug("websocket session closed")
	}()

	conn.SetReadLimit(maxFrameSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				entry.WithError(err).Debug("websocket read")
			}
			return
		}
		var frame clientFrame
		if err := json.Unmarshal(data, &frame); err != nil || frame.BoardID == "" {
			continue
		}
		topic := BoardTopic(frame.BoardID)
		switch frame.Action {
		case actionJoin:
			if err := h.join(s, frame.BoardID); err != nil {
				h.send(s, eventJoinError, map[string]string{"boardId": frame.BoardID, "message": err.Error()})
				continue
			}
			h.send(s, eventJoined, map[string]string{"boardId": frame.BoardID})
		case actionLeave:
			h.hub.Unsubscribe(topic, s)
		}
	}
}

// join subscribes s to the board topic. Access is checked again once the
// subscription exists: a removal that lands between the first check and
// Subscribe would otherwise miss the eviction and leave s listening.
func (h *Handler) join(s *Session, boardID string) error {
	ctx := context.Background()
	if err := h.authorize(ctx, s.UserID, boardID); err != nil {
		return err
	}
	topic := BoardTopic(boardID)
	h.hub.Subscribe(topic, s)
	if err := h.authorize(ctx, s.UserID, boardID); err != nil {
		h.hub.Unsubscribe(topic, s)
		return err
	}
	return nil
}

// send writes a direct reply to one session.
func (h *Handler) send(s *Session, event string, data any) {
	frame, err := json.Marshal(Envelope{Event: event, Data: data})
	if err != nil {
		return
	}
	select {
	case s.out <- frame:
	case <-s.done:
	default:
	}
}

func (h *Handler) writeLoop(conn *websocket.Conn, s *Session, entry *log.Entry) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case frame := <-s.out:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				entry.WithError(err).Debug("websocket write")
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-s.done:
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			return
		}
	}
}
