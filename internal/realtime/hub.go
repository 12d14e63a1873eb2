// Package realtime fans board and user events out to connected websocket
// sessions grouped by topic.
package realtime

import (
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

const defaultBufferSize = 64

func UserTopic(userID string) string  { return "user:" + userID }
func BoardTopic(boardID string) string { return "board:" + boardID }

// Envelope is the frame written to clients.
type Envelope struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

// Session is one connected client. Outbound frames are buffered and drained
// by a single writer so frames for a topic leave in publish order.
type Session struct {
	ID     string
	UserID string

	out    chan []byte
	done   chan struct{}
	once   sync.Once
	topics map[string]struct{} // guarded by Hub.mu
}

// Outbound is drained by the session writer.
func (s *Session) Outbound() <-chan []byte { return s.out }

// Done is closed when the hub drops the session.
func (s *Session) Done() <-chan struct{} { return s.done }

func (s *Session) close() {
	s.once.Do(func() { close(s.done) })
}

type Hub struct {
	mu         sync.Mutex
	topics     map[string]map[*Session]struct{}
	bufferSize int
	logger     *log.Logger
}

func NewHub(bufferSize int, logger *log.Logger) *Hub {
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Hub{
		topics:     make(map[string]map[*Session]struct{}),
		bufferSize: bufferSize,
		logger:     logger,
	}
}

// Connect registers a session for userID and subscribes it to the user topic.
func (h *Hub) Connect(userID string) *Session {
	s := &Session{
		ID:     uuid.NewString(),
		UserID: userID,
		out:    make(chan []byte, h.bufferSize),
		done:   make(chan struct{}),
		topics: make(map[string]struct{}),
	}
	h.Subscribe(UserTopic(userID), s)
	return s
}

func (h *Hub) Subscribe(topic string, s *Session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	subs, ok := h.topics[topic]
	if !ok {
		subs = make(map[*Session]struct{})
		h.topics[topic] = subs
	}
	subs[s] = struct{}{}
	s.topics[topic] = struct{}{}
}

func (h *Hub) Unsubscribe(topic string, s *Session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.unsubscribeLocked(topic, s)
}

func (h *Hub) unsubscribeLocked(topic string, s *Session) {
	if subs, ok := h.topics[topic]; ok {
		delete(subs, s)
		if len(subs) == 0 {
			delete(h.topics, topic)
		}
	}
	delete(s.topics, topic)
}

// Disconnect removes the session from every topic.
func (h *Hub) Disconnect(s *Session) {
	h.mu.Lock()
	for topic := range s.topics {
		h.unsubscribeLocked(topic, s)
	}
	h.mu.Unlock()
	s.close()
}

// EvictUser drops every session of userID from topic.
func (h *Hub) EvictUser(topic, userID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for s := range h.topics[topic] {
		if s.UserID == userID {
			h.unsubscribeLocked(topic, s)
			n++
		}
	}
	return n
}

// Publish delivers event to every session currently subscribed to topic.
// A session whose buffer is full misses the event.
func (h *Hub) Publish(topic, event string, data any) {
	frame, err := json.Marshal(Envelope{Event: event, Data: data})
	if err != nil {
		h.logger.WithFields(log.Fields{"topic": topic, "event": event}).WithError(err).Error("encode realtime event")
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for s := range h.topics[topic] {
		select {
		case <-s.done:
		case s.out <- frame:
		default:
			h.logger.WithFields(log.Fields{
				"topic":   topic,
				"event":   event,
				"session": s.ID,
				"user_id": s.UserID,
			}).Warn("realtime buffer full, dropping event")
		}
	}
}

// Subscribers reports the number of sessions on topic.
func (h *Hub) Subscribers(topic string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.topics[topic])
}
