package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"taskboard/api/internal/attachment"
	"taskboard/api/internal/auth"
	"taskboard/api/internal/config"
	"taskboard/api/internal/email"
	"taskboard/api/internal/notify"
	"taskboard/api/internal/position"
	"taskboard/api/internal/search"
	"taskboard/api/internal/store"
)

// Store is satisfied by both PostgresStore and MemoryStore.
type Store interface {
	Ping(context.Context) error

	GetUserByID(context.Context, string) (store.User, error)
	GetUserByEmail(context.Context, string) (store.User, error)
	ListUsersByIDs(context.Context, []string) ([]store.User, error)

	CreateBoard(context.Context, store.Board) error
	GetBoard(context.Context, string) (store.Board, error)
	ListBoardsForUser(context.Context, string) ([]store.Board, error)
	DeleteBoard(context.Context, string) error
	AddList(context.Context, string, store.List) error
	DeleteList(context.Context, string, string) error
	ReorderLists(context.Context, string, []string) error
	AddMember(context.Context, string, store.Member) error
	AcceptMember(context.Context, string, string) (bool, error)
	RemoveMember(context.Context, string, string) error

	GetTask(context.Context, string) (store.Task, error)
	ListTasks(context.Context, string) ([]store.Task, error)
	ListDueTasks(context.Context, time.Time) ([]store.Task, error)
	ListSnapshot(context.Context, string) (position.Snapshot, error)
	InsertTask(context.Context, store.Task, position.Plan, map[string]int64) error
	MoveTask(context.Context, string, store.TaskPatch, string, int, position.Plan, map[string]int64) (store.Task, error)
	UpdateTask(context.Context, string, store.TaskPatch) (store.Task, error)
	DeleteTask(context.Context, store.Task, position.Plan, map[string]int64) error

	InsertNotification(context.Context, store.Notification) error
	ListNotifications(context.Context, string, int, int) ([]store.Notification, int, error)
	MarkNotificationRead(context.Context, string, string) (store.Notification, error)
	MarkAllNotificationsRead(context.Context, string) (int64, error)
	DeleteNotification(context.Context, string, string) error
	NotificationExists(context.Context, string, store.NotificationType, string) (bool, error)
}

// Broadcaster is the live-update channel.
type Broadcaster interface {
	Publish(topic, event string, data any)
	EvictUser(topic, userID string) int
}

type inviteMailer interface {
	InviteMessage(to, boardName, inviter, inviteURL string) (email.Message, error)
}

type attachmentStore interface {
	PresignUpload(ctx context.Context, boardID, taskID, filename string) (attachment.Upload, error)
	PresignDownload(ctx context.Context, boardID, taskID, key string) (string, error)
}

type tokenRevoker interface {
	Revoke(ctx context.Context, tokenID string, expiresAt time.Time) error
}

// Check is a named readiness probe.
type Check struct {
	Name string
	Ping func(context.Context) error
}

// Deps carries the collaborators of Service. Store, Hub, Notifier, Invites
// and Gate are required; the rest are optional integrations.
type Deps struct {
	Store       Store
	Hub         Broadcaster
	Notifier    *notify.Engine
	Invites     *auth.InviteSigner
	Gate        *auth.Gate
	Allocator   *position.Allocator
	Mailer      inviteMailer
	Revoker     tokenRevoker
	Search      *search.Service
	Attachments attachmentStore
	Checks      []Check
	Logger      *log.Logger
}

type Service struct {
	cfg         config.Config
	store       Store
	hub         Broadcaster
	notifier    *notify.Engine
	invites     *auth.InviteSigner
	gate        *auth.Gate
	alloc       *position.Allocator
	mailer      inviteMailer
	revoker     tokenRevoker
	search      *search.Service
	attachments attachmentStore
	checks      []Check
	logger      *log.Logger
	now         func() time.Time
}

func New(cfg config.Config, deps Deps) (*Service, error) {
	switch {
	case deps.Store == nil:
		return nil, errors.New("app: store is required")
	case deps.Hub == nil:
		return nil, errors.New("app: hub is required")
	case deps.Notifier == nil:
		return nil, errors.New("app: notifier is required")
	case deps.Invites == nil:
		return nil, errors.New("app: invite signer is required")
	case deps.Gate == nil:
		return nil, errors.New("app: auth gate is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = log.StandardLogger()
	}
	alloc := deps.Allocator
	if alloc == nil {
		alloc = position.NewAllocator(deps.Store, cfg.PositionAttempts, logger)
	}
	return &Service{
		cfg:         cfg,
		store:       deps.Store,
		hub:         deps.Hub,
		notifier:    deps.Notifier,
		invites:     deps.Invites,
		gate:        deps.Gate,
		alloc:       alloc,
		mailer:      deps.Mailer,
		revoker:     deps.Revoker,
		search:      deps.Search,
		attachments: deps.Attachments,
		checks:      deps.Checks,
		logger:      logger,
		now:         time.Now,
	}, nil
}

// Authenticate resolves a bearer token to the calling user.
func (s *Service) Authenticate(ctx context.Context, token string) (auth.Identity, error) {
	identity, err := s.gate.Authenticate(ctx, token)
	if err != nil {
		if errors.Is(err, auth.ErrUnauthenticated) || errors.Is(err, auth.ErrInvalidCredential) {
			return auth.Identity{}, ErrUnauthenticated
		}
		return auth.Identity{}, err
	}
	return identity, nil
}

// Logout revokes the caller's access token until it would have expired.
func (s *Service) Logout(ctx context.Context, identity auth.Identity) error {
	if s.revoker == nil || identity.TokenID == "" {
		return nil
	}
	expires := identity.ExpiresAt
	if expires.IsZero() {
		expires = s.now().Add(24 * time.Hour)
	}
	if err := s.revoker.Revoke(ctx, identity.TokenID, expires); err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	return nil
}

// Readiness runs the store ping plus every configured check.
func (s *Service) Readiness(ctx context.Context) map[string]error {
	results := map[string]error{"database": s.store.Ping(ctx)}
	for _, c := range s.checks {
		results[c.Name] = c.Ping(ctx)
	}
	return results
}
