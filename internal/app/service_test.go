package app

import (
	"context"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskboard/api/internal/auth"
	"taskboard/api/internal/config"
	"taskboard/api/internal/notify"
	"taskboard/api/internal/realtime"
	"taskboard/api/internal/store"
)

const testSecret = "0123456789abcdef0123456789abcdef"

type recordedEvent struct {
	Topic string
	Event string
	Data  any
}

type recordingHub struct {
	mu      sync.Mutex
	events  []recordedEvent
	evicted []string
}

func (h *recordingHub) Publish(topic, event string, data any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, recordedEvent{Topic: topic, Event: event, Data: data})
}

func (h *recordingHub) EvictUser(topic, userID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.evicted = append(h.evicted, topic+"/"+userID)
	return 1
}

func (h *recordingHub) named(topic, event string) []recordedEvent {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []recordedEvent
	for _, e := range h.events {
		if e.Topic == topic && e.Event == event {
			out = append(out, e)
		}
	}
	return out
}

type fakeRevoker struct {
	revoked map[string]time.Time
}

func (f *fakeRevoker) Revoke(_ context.Context, tokenID string, expiresAt time.Time) error {
	f.revoked[tokenID] = expiresAt
	return nil
}

type harness struct {
	svc     *Service
	store   *store.MemoryStore
	hub     *recordingHub
	revoker *fakeRevoker
	logger  *log.Logger

	admin store.User
	bob   store.User
	carol store.User
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	return newHarnessWith(t, 5, nil)
}

// newHarnessWith lets a test raise the position retry budget and wrap the
// store the service writes through. Notifications and auth still use the
// underlying memory store.
func newHarnessWith(t *testing.T, attempts int, wrap func(*store.MemoryStore) Store) *harness {
	t.Helper()
	logger := log.New()
	logger.SetOutput(io.Discard)

	st := store.NewMemoryStore()
	hub := &recordingHub{}
	revoker := &fakeRevoker{revoked: map[string]time.Time{}}
	invites, err := auth.NewInviteSigner([]byte(testSecret), 24*time.Hour)
	require.NoError(t, err)

	cfg := config.Config{
		ClientURL:        "http://localhost:3000",
		PositionAttempts: attempts,
		ReminderWindow:   24 * time.Hour,
	}
	var svcStore Store = st
	if wrap != nil {
		svcStore = wrap(st)
	}
	svc, err := New(cfg, Deps{
		Store:    svcStore,
		Hub:      hub,
		Notifier: notify.NewEngine(st, hub, nil, nil, logger),
		Invites:  invites,
		Gate:     auth.NewGate([]byte(testSecret), st, nil),
		Revoker:  revoker,
		Logger:   logger,
	})
	require.NoError(t, err)

	h := &harness{
		svc:     svc,
		store:   st,
		hub:     hub,
		revoker: revoker,
		logger:  logger,
		admin:   store.User{ID: "u_ada", Name: "Ada", Email: "ada@example.com"},
		bob:     store.User{ID: "u_bob", Name: "Bob", Email: "bob@example.com"},
		carol:   store.User{ID: "u_carol", Name: "Carol", Email: "carol@example.com"},
	}
	for _, u := range []store.User{h.admin, h.bob, h.carol} {
		st.PutUser(u)
	}
	return h
}

// boardWithBob creates a board owned by admin with bob as an accepted member.
func (h *harness) boardWithBob(t *testing.T) store.Board {
	t.Helper()
	ctx := context.Background()
	board, err := h.svc.CreateBoard(ctx, h.admin, CreateBoardInput{Name: "Launch", Lists: []string{"Todo", "Done"}})
	require.NoError(t, err)
	require.NoError(t, h.store.AddMember(ctx, board.ID, store.Member{
		UserID:             h.bob.ID,
		Role:               "member",
		InvitationAccepted: true,
	}))
	board, err = h.store.GetBoard(ctx, board.ID)
	require.NoError(t, err)
	return board
}

func (h *harness) notifications(t *testing.T, userID string) []store.Notification {
	t.Helper()
	items, _, err := h.store.ListNotifications(context.Background(), userID, 0, 1000)
	require.NoError(t, err)
	return items
}

func (h *harness) countContaining(t *testing.T, userID, fragment string) int {
	t.Helper()
	n := 0
	for _, item := range h.notifications(t, userID) {
		if strings.Contains(item.Message, fragment) {
			n++
		}
	}
	return n
}

func TestCreateBoardMakesCreatorAdmin(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	board, err := h.svc.CreateBoard(ctx, h.admin, CreateBoardInput{Name: "  Roadmap ", Lists: []string{"Todo"}})
	require.NoError(t, err)
	assert.Equal(t, "Roadmap", board.Name)
	require.Len(t, board.Members, 1)
	assert.Equal(t, "admin", board.Members[0].Role)
	assert.True(t, board.Members[0].InvitationAccepted)
	assert.Equal(t, 1, h.countContaining(t, h.admin.ID, "You created a new board"))

	_, err = h.svc.CreateBoard(ctx, h.admin, CreateBoardInput{Name: "  "})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestBoardAccessIsLimitedToAcceptedMembers(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	board := h.boardWithBob(t)

	_, err := h.svc.GetBoard(ctx, h.carol, board.ID)
	assert.ErrorIs(t, err, ErrPermissionDenied)

	_, err = h.svc.GetBoard(ctx, h.admin, "brd_missing")
	assert.ErrorIs(t, err, ErrNotFound)

	view, err := h.svc.GetBoard(ctx, h.bob, board.ID)
	require.NoError(t, err)
	require.Len(t, view.Members, 2)
	assert.Equal(t, "Ada", view.Members[0].Name)

	require.NoError(t, h.store.AddMember(ctx, board.ID, store.Member{UserID: h.carol.ID, Role: "member"}))
	_, err = h.svc.GetBoard(ctx, h.carol, board.ID)
	assert.ErrorIs(t, err, ErrPermissionDenied, "pending members cannot read the board")

	err = h.svc.CanFollowBoard(ctx, h.carol.ID, board.ID)
	assert.ErrorIs(t, err, ErrPermissionDenied)
	assert.NoError(t, h.svc.CanFollowBoard(ctx, h.bob.ID, board.ID))
}

func TestListOperationsNotifyOtherMembers(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	board := h.boardWithBob(t)

	list, updated, err := h.svc.AddList(ctx, h.bob, board.ID, AddListInput{Name: "Review"})
	require.NoError(t, err)
	assert.Len(t, updated.Lists, 3)
	assert.Equal(t, 1, h.countContaining(t, h.admin.ID, "A new list 'Review' was added by Bob."))
	assert.Zero(t, h.countContaining(t, h.bob.ID, "A new list"))
	assert.Len(t, h.hub.named(realtime.BoardTopic(board.ID), EventListChanged), 1)

	order := []string{list.ID, board.Lists[1].ID, board.Lists[0].ID}
	reordered, err := h.svc.ReorderLists(ctx, h.admin, board.ID, ReorderListsInput{ListIDs: order})
	require.NoError(t, err)
	assert.Equal(t, list.ID, reordered.Lists[0].ID)

	_, err = h.svc.ReorderLists(ctx, h.admin, board.ID, ReorderListsInput{ListIDs: order[:2]})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = h.svc.DeleteList(ctx, h.admin, board.ID, list.ID)
	require.NoError(t, err)
	_, err = h.svc.DeleteList(ctx, h.admin, board.ID, list.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteBoardRequiresAdmin(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	board := h.boardWithBob(t)

	err := h.svc.DeleteBoard(ctx, h.bob, board.ID)
	assert.ErrorIs(t, err, ErrPermissionDenied)

	require.NoError(t, h.svc.DeleteBoard(ctx, h.admin, board.ID))
	assert.Equal(t, 1, h.countContaining(t, h.bob.ID, "Board 'Launch' was deleted by Ada."))
	changes := h.hub.named(realtime.BoardTopic(board.ID), EventBoardChanged)
	require.Len(t, changes, 1)
	assert.Equal(t, changeDeleted, changes[0].Data.(BoardChange).Type)

	_, err = h.svc.GetBoard(ctx, h.admin, board.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRemoveMemberEvictsAndUnassigns(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	board := h.boardWithBob(t)

	task, err := h.svc.CreateTask(ctx, h.admin, board.ID, CreateTaskInput{
		ListID:     board.Lists[0].ID,
		Title:      "Ship",
		AssignedTo: []string{h.bob.ID},
	})
	require.NoError(t, err)

	_, err = h.svc.RemoveMember(ctx, h.admin, board.ID, h.admin.ID)
	assert.ErrorIs(t, err, ErrValidation)
	_, err = h.svc.RemoveMember(ctx, h.bob, board.ID, h.admin.ID)
	assert.ErrorIs(t, err, ErrPermissionDenied)

	updated, err := h.svc.RemoveMember(ctx, h.admin, board.ID, h.bob.ID)
	require.NoError(t, err)
	_, stillMember := updated.Member(h.bob.ID)
	assert.False(t, stillMember)

	got, err := h.store.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Empty(t, got.AssignedTo)

	assert.Equal(t, []string{realtime.BoardTopic(board.ID) + "/" + h.bob.ID}, h.hub.evicted)
	assert.Len(t, h.hub.named(realtime.UserTopic(h.bob.ID), EventLeaveBoard), 1)
	assert.Equal(t, 1, h.countContaining(t, h.bob.ID, "You have been removed from the board 'Launch'."))

	_, err = h.svc.GetBoard(ctx, h.bob, board.ID)
	assert.ErrorIs(t, err, ErrPermissionDenied)
}

func TestInviteAndJoinFlow(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	board := h.boardWithBob(t)

	_, err := h.svc.InviteUser(ctx, h.bob, board.ID, InviteInput{Email: "alice@example.com"})
	assert.ErrorIs(t, err, ErrPermissionDenied)

	result, err := h.svc.InviteUser(ctx, h.admin, board.ID, InviteInput{Email: " Alice@Example.com "})
	require.NoError(t, err)
	assert.False(t, result.Pending)
	assert.Equal(t, "alice@example.com", result.Email)
	require.True(t, strings.HasPrefix(result.InviteLink, "http://localhost:3000/invite/accept?token="))
	token := strings.TrimPrefix(result.InviteLink, "http://localhost:3000/invite/accept?token=")

	info, err := h.svc.VerifyInvite(ctx, token)
	require.NoError(t, err)
	assert.False(t, info.Exists)
	assert.Equal(t, "Launch", info.BoardName)

	alice := store.User{ID: "u_alice", Name: "Alice", Email: "alice@example.com"}
	h.store.PutUser(alice)
	info, err = h.svc.VerifyInvite(ctx, token)
	require.NoError(t, err)
	assert.True(t, info.Exists)

	_, _, err = h.svc.JoinBoard(ctx, h.carol, token)
	assert.ErrorIs(t, err, ErrEmailMismatch)

	joinedBoard, joined, err := h.svc.JoinBoard(ctx, alice, token)
	require.NoError(t, err)
	assert.True(t, joined)
	member, ok := joinedBoard.Member(alice.ID)
	require.True(t, ok)
	assert.True(t, member.InvitationAccepted)
	assert.Equal(t, "member", member.Role)

	assert.Equal(t, 1, h.countContaining(t, h.admin.ID, "Alice joined the board 'Launch'."))
	assert.Equal(t, 1, h.countContaining(t, h.bob.ID, "Alice joined the board 'Launch'."))
	assert.Zero(t, h.countContaining(t, alice.ID, "joined the board"))

	_, joined, err = h.svc.JoinBoard(ctx, alice, token)
	require.NoError(t, err)
	assert.False(t, joined)

	var memberJoined int
	for _, e := range h.hub.named(realtime.BoardTopic(board.ID), EventBoardChanged) {
		if e.Data.(BoardChange).Type == changeMemberJoined {
			memberJoined++
		}
	}
	assert.Equal(t, 1, memberJoined)
	assert.Equal(t, 1, h.countContaining(t, h.admin.ID, "Alice joined the board 'Launch'."))
}

func TestInviteExistingUserAddsPendingMember(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	board := h.boardWithBob(t)

	result, err := h.svc.InviteUser(ctx, h.admin, board.ID, InviteInput{Email: h.carol.Email})
	require.NoError(t, err)
	assert.True(t, result.Pending)

	invites := h.notifications(t, h.carol.ID)
	require.Len(t, invites, 1)
	assert.Equal(t, store.NotificationBoardInvite, invites[0].Type)
	assert.True(t, strings.HasPrefix(invites[0].Link, "/invite/accept?token="))
	assert.Equal(t, 1, h.countContaining(t, h.admin.ID, "You have successfully invited 'carol@example.com'"))

	_, err = h.svc.InviteUser(ctx, h.admin, board.ID, InviteInput{Email: h.bob.Email})
	assert.ErrorIs(t, err, ErrValidation)

	boards, err := h.svc.ListBoards(ctx, h.carol)
	require.NoError(t, err)
	assert.Len(t, boards, 1, "pending invites are listed")

	token := strings.TrimPrefix(result.InviteLink, "http://localhost:3000/invite/accept?token=")
	_, joined, err := h.svc.JoinBoard(ctx, h.carol, token)
	require.NoError(t, err)
	assert.True(t, joined)
	_, err = h.svc.GetBoard(ctx, h.carol, board.ID)
	assert.NoError(t, err)
}

func TestInviteTokenRejections(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.svc.VerifyInvite(ctx, "not-a-token")
	assert.ErrorIs(t, err, ErrInvalidOrExpiredToken)
	_, _, err = h.svc.JoinBoard(ctx, h.bob, "not-a-token")
	assert.ErrorIs(t, err, ErrInvalidOrExpiredToken)
	_, err = h.svc.VerifyInvite(ctx, "")
	assert.ErrorIs(t, err, ErrValidation)
}

func TestLogoutRevokesToken(t *testing.T) {
	h := newHarness(t)
	expires := time.Now().Add(time.Hour)
	require.NoError(t, h.svc.Logout(context.Background(), auth.Identity{User: h.bob, TokenID: "jti-1", ExpiresAt: expires}))
	assert.Equal(t, expires, h.revoker.revoked["jti-1"])
}
