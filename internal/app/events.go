package app

import (
	"taskboard/api/internal/realtime"
	"taskboard/api/internal/store"
)

const (
	EventListChanged          = "listChanged"
	EventTaskChanged          = "taskChanged"
	EventBoardChanged         = "boardChanged"
	EventNotificationRead     = "notificationRead"
	EventAllNotificationsRead = "allNotificationsRead"
	EventNotificationDeleted  = "notificationDeleted"
	EventLeaveBoard           = "leaveBoard"
)

const (
	changeCreated       = "created"
	changeUpdated       = "updated"
	changeDeleted       = "deleted"
	changeReordered     = "reordered"
	changeMemberJoined  = "memberJoined"
	changeMemberRemoved = "memberRemoved"
)

type ListChange struct {
	Type    string       `json:"type"`
	BoardID string       `json:"boardId"`
	List    *store.List  `json:"list,omitempty"`
	ListID  string       `json:"listId,omitempty"`
	Lists   []store.List `json:"lists,omitempty"`
}

type TaskChange struct {
	Type    string      `json:"type"`
	BoardID string      `json:"boardId"`
	Task    *store.Task `json:"task,omitempty"`
	TaskID  string      `json:"taskId,omitempty"`
}

type BoardChange struct {
	Type          string      `json:"type"`
	BoardID       string      `json:"boardId"`
	User          *store.User `json:"user,omitempty"`
	RemovedUserID string      `json:"removedUserId,omitempty"`
}

func (s *Service) publishBoard(boardID, event string, payload any) {
	s.hub.Publish(realtime.BoardTopic(boardID), event, payload)
}

func (s *Service) publishUser(userID, event string, payload any) {
	s.hub.Publish(realtime.UserTopic(userID), event, payload)
}
