package app

import (
	"context"
	"fmt"

	"taskboard/api/internal/store"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

type NotificationPage struct {
	Notifications []store.Notification `json:"notifications"`
	TotalCount    int                  `json:"totalCount"`
	TotalPages    int                  `json:"totalPages"`
	CurrentPage   int                  `json:"currentPage"`
}

// ListNotifications returns one page of the caller's notifications, newest
// first. Pages are 1-based.
func (s *Service) ListNotifications(ctx context.Context, actor store.User, page, limit int) (NotificationPage, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	items, total, err := s.store.ListNotifications(ctx, actor.ID, (page-1)*limit, limit)
	if err != nil {
		return NotificationPage{}, fmt.Errorf("list notifications: %w", err)
	}
	if items == nil {
		items = []store.Notification{}
	}
	return NotificationPage{
		Notifications: items,
		TotalCount:    total,
		TotalPages:    (total + limit - 1) / limit,
		CurrentPage:   page,
	}, nil
}

func (s *Service) MarkNotificationRead(ctx context.Context, actor store.User, notificationID string) (store.Notification, error) {
	n, err := s.store.MarkNotificationRead(ctx, notificationID, actor.ID)
	if err != nil {
		return store.Notification{}, translate(err, "Notification")
	}
	s.publishUser(actor.ID, EventNotificationRead, n)
	return n, nil
}

func (s *Service) MarkAllNotificationsRead(ctx context.Context, actor store.User) (int64, error) {
	updated, err := s.store.MarkAllNotificationsRead(ctx, actor.ID)
	if err != nil {
		return 0, fmt.Errorf("mark all notifications read: %w", err)
	}
	s.publishUser(actor.ID, EventAllNotificationsRead, map[string]any{"userId": actor.ID})
	return updated, nil
}

func (s *Service) DeleteNotification(ctx context.Context, actor store.User, notificationID string) error {
	if err := s.store.DeleteNotification(ctx, notificationID, actor.ID); err != nil {
		return translate(err, "Notification")
	}
	s.publishUser(actor.ID, EventNotificationDeleted, map[string]string{"id": notificationID})
	return nil
}
