// Package notify persists per-user notifications and pushes them to the
// recipients' live sessions. Nothing here fails the calling request: every
// error is logged and the remaining recipients are still attempted.
package notify

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"taskboard/api/internal/dispatch"
	"taskboard/api/internal/email"
	"taskboard/api/internal/realtime"
	"taskboard/api/internal/store"
	"taskboard/api/internal/util"
)

const EventNewNotification = "new_notification"

type Store interface {
	InsertNotification(ctx context.Context, n store.Notification) error
	NotificationExists(ctx context.Context, recipientID string, typ store.NotificationType, link string) (bool, error)
}

type Publisher interface {
	Publish(topic, event string, data any)
}

// Mailer renders and sends the emails attached to notifications.
type Mailer interface {
	IsConfigured() bool
	Send(msg email.Message) error
	AssignmentMessage(to, userName, taskTitle, boardName, assigner, taskPath string) (email.Message, error)
	DeadlineMessage(to, userName, taskTitle string, deadline time.Time, overdue bool, taskPath string) (email.Message, error)
}

type Outbox interface {
	Enqueue(job dispatch.Job) error
}

type Engine struct {
	store  Store
	pub    Publisher
	mail   Mailer
	outbox Outbox
	logger *log.Logger
	now    func() time.Time
}

// NewEngine wires the fan-out engine. mail and outbox may be nil, in which
// case no email is sent.
func NewEngine(st Store, pub Publisher, mail Mailer, outbox Outbox, logger *log.Logger) *Engine {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Engine{store: st, pub: pub, mail: mail, outbox: outbox, logger: logger, now: time.Now}
}

func BoardLink(boardID string) string { return "/boards/" + boardID }

func TaskLink(boardID, taskID string) string {
	return fmt.Sprintf("/boards/%s/tasks/%s", boardID, taskID)
}

// NotifyUser persists one notification and pushes it to the recipient.
func (e *Engine) NotifyUser(ctx context.Context, recipientID string, typ store.NotificationType, message, link string) (store.Notification, bool) {
	n := store.Notification{
		ID:          util.NewID("ntf"),
		RecipientID: recipientID,
		Type:        typ,
		Message:     message,
		Link:        link,
		CreatedAt:   e.now().UTC(),
	}
	if err := e.store.InsertNotification(ctx, n); err != nil {
		e.logger.WithFields(log.Fields{
			"recipient": recipientID,
			"type":      typ,
		}).WithError(err).Error("persist notification")
		return store.Notification{}, false
	}
	e.pub.Publish(realtime.UserTopic(recipientID), EventNewNotification, n)
	return n, true
}

// NotifyBoardMembers sends a board_action to every member except the actor
// and returns how many were delivered.
func (e *Engine) NotifyBoardMembers(ctx context.Context, board store.Board, actorID, message, link string) int {
	sent := 0
	for _, m := range board.Members {
		if m.UserID == actorID {
			continue
		}
		if _, ok := e.NotifyUser(ctx, m.UserID, store.NotificationBoardAction, message, link); ok {
			sent++
		}
	}
	return sent
}

// NotifyAssignees sends task_assignment to each assignee other than the
// actor, plus an email when the mailer is configured.
func (e *Engine) NotifyAssignees(ctx context.Context, board store.Board, task store.Task, actor store.User, assignees []store.User) int {
	link := TaskLink(board.ID, task.ID)
	sent := 0
	for _, u := range assignees {
		if u.ID == actor.ID {
			continue
		}
		if _, ok := e.NotifyUser(ctx, u.ID, store.NotificationTaskAssignment,
			fmt.Sprintf("You have been assigned to task '%s'.", task.Title), link); !ok {
			continue
		}
		sent++
		if u.Email == "" {
			continue
		}
		user := u
		e.Email("task_assignment", func() (email.Message, error) {
			return e.mail.AssignmentMessage(user.Email, user.Name, task.Title, board.Name, actor.Name, link)
		})
	}
	return sent
}

// RemindDeadline notifies user about task's deadline unless an identical
// reminder already exists. Deadlines already in the past produce a
// deadline_alert instead of a deadline_reminder.
func (e *Engine) RemindDeadline(ctx context.Context, task store.Task, user store.User) bool {
	if task.Deadline == nil {
		return false
	}
	overdue := !task.Deadline.After(e.now())
	typ := store.NotificationDeadlineReminder
	message := fmt.Sprintf("Reminder: Task '%s' is due %s.", task.Title, task.Deadline.UTC().Format(time.RFC1123))
	if overdue {
		typ = store.NotificationDeadlineAlert
		message = fmt.Sprintf("Task '%s' is past its deadline.", task.Title)
	}
	link := TaskLink(task.BoardID, task.ID)

	exists, err := e.store.NotificationExists(ctx, user.ID, typ, link)
	if err != nil {
		e.logger.WithFields(log.Fields{"task_id": task.ID, "recipient": user.ID}).WithError(err).Error("check reminder dedup")
		return false
	}
	if exists {
		return false
	}
	if _, ok := e.NotifyUser(ctx, user.ID, typ, message, link); !ok {
		return false
	}
	if user.Email != "" {
		deadline := *task.Deadline
		e.Email(string(typ), func() (email.Message, error) {
			return e.mail.DeadlineMessage(user.Email, user.Name, task.Title, deadline, overdue, link)
		})
	}
	return true
}

// Email renders and queues a message for background delivery. Unconfigured
// mail, render failures and a full queue are logged and dropped.
func (e *Engine) Email(kind string, build func() (email.Message, error)) {
	if e.mail == nil || e.outbox == nil || !e.mail.IsConfigured() {
		return
	}
	msg, err := build()
	if err != nil {
		e.logger.WithField("kind", kind).WithError(err).Error("render email")
		return
	}
	err = e.outbox.Enqueue(dispatch.Job{
		Kind: "email:" + kind,
		Run: func(context.Context) error {
			return e.mail.Send(msg)
		},
	})
	if err != nil {
		e.logger.WithFields(log.Fields{"kind": kind, "to": msg.To}).WithError(err).Warn("queue email")
	}
}
