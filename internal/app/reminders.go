package app

import (
	"context"
	"fmt"
	"time"
)

// RemindDeadlines sends reminders for open tasks due within the configured
// window, and alerts for those already overdue. Each (user, type, task) pair
// is notified at most once.
func (s *Service) RemindDeadlines(ctx context.Context) (int, error) {
	window := s.cfg.ReminderWindow
	if window <= 0 {
		window = 24 * time.Hour
	}
	tasks, err := s.store.ListDueTasks(ctx, s.now().Add(window))
	if err != nil {
		return 0, fmt.Errorf("list due tasks: %w", err)
	}
	sent := 0
	for _, task := range tasks {
		if task.Completed || task.Deadline == nil || len(task.AssignedTo) == 0 {
			continue
		}
		users, err := s.store.ListUsersByIDs(ctx, task.AssignedTo)
		if err != nil {
			s.logger.WithField("task_id", task.ID).WithError(err).Warn("load assignees for reminder")
			continue
		}
		for _, u := range users {
			if s.notifier.RemindDeadline(ctx, task, u) {
				sent++
			}
		}
	}
	return sent, nil
}

// RunReminders scans on every tick until ctx is done.
func (s *Service) RunReminders(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sent, err := s.RemindDeadlines(ctx)
			if err != nil {
				s.logger.WithError(err).Error("deadline reminder scan failed")
				continue
			}
			if sent > 0 {
				s.logger.WithField("sent", sent).Info("deadline reminders sent")
			}
		}
	}
}
