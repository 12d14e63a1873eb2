package store

import (
	"errors"
	"time"
)

var (
	ErrNotFound      = errors.New("store: not found")
	ErrAlreadyMember = errors.New("store: already a board member")
)

// User is owned by the auth subsystem; the board service only reads it.
type User struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"createdAt"`
}

type List struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type Member struct {
	UserID             string    `json:"userId"`
	Role               string    `json:"role"`
	InvitationAccepted bool      `json:"invitationAccepted"`
	JoinedAt           time.Time `json:"joinedAt"`
}

type Board struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedBy string    `json:"createdBy"`
	Lists     []List    `json:"lists"`
	Members   []Member  `json:"members"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (b Board) Member(userID string) (Member, bool) {
	for _, m := range b.Members {
		if m.UserID == userID {
			return m, true
		}
	}
	return Member{}, false
}

func (b Board) HasList(listID string) bool {
	for _, l := range b.Lists {
		if l.ID == listID {
			return true
		}
	}
	return false
}

func (b Board) MemberIDs() []string {
	ids := make([]string, 0, len(b.Members))
	for _, m := range b.Members {
		ids = append(ids, m.UserID)
	}
	return ids
}

type Task struct {
	ID          string     `json:"id"`
	BoardID     string     `json:"boardId"`
	ListID      string     `json:"listId"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Deadline    *time.Time `json:"deadline,omitempty"`
	Attachment  string     `json:"attachment,omitempty"`
	Position    int        `json:"position"`
	CreatedBy   string     `json:"createdBy"`
	AssignedTo  []string   `json:"assignedTo"`
	Completed   bool       `json:"completed"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

func (t Task) IsAssigned(userID string) bool {
	for _, id := range t.AssignedTo {
		if id == userID {
			return true
		}
	}
	return false
}

// TaskPatch carries the non-positional fields an update sets. Nil fields are
// left as stored, so concurrent patches to different fields both survive.
type TaskPatch struct {
	Title       *string
	Description *string
	SetDeadline bool
	Deadline    *time.Time
	Attachment  *string
	Completed   *bool
	AssignedTo  *[]string
}

// Apply returns t with the patch applied. AssignedTo is not filtered here;
// stores intersect it with the board's members when they write.
func (p TaskPatch) Apply(t Task) Task {
	if p.Title != nil {
		t.Title = *p.Title
	}
	if p.Description != nil {
		t.Description = *p.Description
	}
	if p.SetDeadline {
		t.Deadline = nil
		if p.Deadline != nil {
			d := *p.Deadline
			t.Deadline = &d
		}
	}
	if p.Attachment != nil {
		t.Attachment = *p.Attachment
	}
	if p.Completed != nil {
		t.Completed = *p.Completed
	}
	if p.AssignedTo != nil {
		t.AssignedTo = append([]string{}, (*p.AssignedTo)...)
	}
	return t
}

// KeepMembers drops assignees not in members, preserving order.
func KeepMembers(assigned []string, members map[string]bool) []string {
	kept := make([]string, 0, len(assigned))
	for _, id := range assigned {
		if members[id] {
			kept = append(kept, id)
		}
	}
	return kept
}

type NotificationType string

const (
	NotificationDeadlineAlert    NotificationType = "deadline_alert"
	NotificationDeadlineReminder NotificationType = "deadline_reminder"
	NotificationBoardAction      NotificationType = "board_action"
	NotificationBoardInvite      NotificationType = "board_invite"
	NotificationTaskAssignment   NotificationType = "task_assignment"
)

type Notification struct {
	ID          string           `json:"id"`
	RecipientID string           `json:"recipient"`
	Type        NotificationType `json:"type"`
	Message     string           `json:"message"`
	Link        string           `json:"link,omitempty"`
	IsRead      bool             `json:"isRead"`
	CreatedAt   time.Time        `json:"createdAt"`
}
