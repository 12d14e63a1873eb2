package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"taskboard/api/internal/position"
)

// MemoryStore is a process-local store with the same semantics as
// PostgresStore. It backs local development without DATABASE_URL and the
// service tests.
type MemoryStore struct {
	mu            sync.RWMutex
	users         map[string]User
	boards        map[string]Board
	listBoard     map[string]string
	listVersions  map[string]int64
	tasks         map[string]Task
	notifications []Notification
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:        map[string]User{},
		boards:       map[string]Board{},
		listBoard:    map[string]string{},
		listVersions: map[string]int64{},
		tasks:        map[string]Task{},
	}
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

// PutUser registers a user, standing in for the auth subsystem.
func (s *MemoryStore) PutUser(u User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	s.users[u.ID] = u
}

func (s *MemoryStore) GetUserByID(_ context.Context, userID string) (User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[userID]
	if !ok {
		return User{}, ErrNotFound
	}
	return u, nil
}

func (s *MemoryStore) GetUserByEmail(_ context.Context, email string) (User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if strings.EqualFold(u.Email, email) {
			return u, nil
		}
	}
	return User{}, ErrNotFound
}

func (s *MemoryStore) ListUsersByIDs(_ context.Context, ids []string) ([]User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	users := make([]User, 0, len(ids))
	for _, id := range ids {
		if u, ok := s.users[id]; ok {
			users = append(users, u)
		}
	}
	sort.Slice(users, func(i, j int) bool { return users[i].Name < users[j].Name })
	return users, nil
}

func copyBoard(b Board) Board {
	b.Lists = append([]List{}, b.Lists...)
	b.Members = append([]Member{}, b.Members...)
	return b
}

func copyTask(t Task) Task {
	t.AssignedTo = append([]string{}, t.AssignedTo...)
	if t.Deadline != nil {
		d := *t.Deadline
		t.Deadline = &d
	}
	return t
}

func (s *MemoryStore) CreateBoard(_ context.Context, board Board) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	board = copyBoard(board)
	board.UpdatedAt = board.CreatedAt
	s.boards[board.ID] = board
	for _, l := range board.Lists {
		s.listBoard[l.ID] = board.ID
	}
	return nil
}

func (s *MemoryStore) GetBoard(_ context.Context, boardID string) (Board, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.boards[boardID]
	if !ok {
		return Board{}, ErrNotFound
	}
	return copyBoard(b), nil
}

func (s *MemoryStore) ListBoardsForUser(_ context.Context, userID string) ([]Board, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	boards := make([]Board, 0)
	for _, b := range s.boards {
		if _, ok := b.Member(userID); ok {
			boards = append(boards, copyBoard(b))
		}
	}
	sort.Slice(boards, func(i, j int) bool { return boards[i].CreatedAt.After(boards[j].CreatedAt) })
	return boards, nil
}

func (s *MemoryStore) DeleteBoard(_ context.Context, boardID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.boards[boardID]
	if !ok {
		return ErrNotFound
	}
	for _, l := range b.Lists {
		delete(s.listBoard, l.ID)
		delete(s.listVersions, l.ID)
	}
	for id, t := range s.tasks {
		if t.BoardID == boardID {
			delete(s.tasks, id)
		}
	}
	delete(s.boards, boardID)
	return nil
}

// mutateBoard runs fn against the stored board under the write lock.
func (s *MemoryStore) mutateBoard(boardID string, fn func(*Board) error) error {
	b, ok := s.boards[boardID]
	if !ok {
		return ErrNotFound
	}
	b = copyBoard(b)
	if err := fn(&b); err != nil {
		return err
	}
	b.UpdatedAt = time.Now().UTC()
	s.boards[boardID] = b
	return nil
}

func (s *MemoryStore) AddList(_ context.Context, boardID string, list List) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mutateBoard(boardID, func(b *Board) error {
		b.Lists = append(b.Lists, list)
		s.listBoard[list.ID] = boardID
		return nil
	})
}

func (s *MemoryStore) DeleteList(_ context.Context, boardID, listID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mutateBoard(boardID, func(b *Board) error {
		idx := -1
		for i, l := range b.Lists {
			if l.ID == listID {
				idx = i
			}
		}
		if idx < 0 {
			return ErrNotFound
		}
		b.Lists = append(b.Lists[:idx], b.Lists[idx+1:]...)
		delete(s.listBoard, listID)
		delete(s.listVersions, listID)
		for id, t := range s.tasks {
			if t.ListID == listID {
				delete(s.tasks, id)
			}
		}
		return nil
	})
}

func (s *MemoryStore) ReorderLists(_ context.Context, boardID string, listIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mutateBoard(boardID, func(b *Board) error {
		byID := make(map[string]List, len(b.Lists))
		for _, l := range b.Lists {
			byID[l.ID] = l
		}
		ordered := make([]List, 0, len(listIDs))
		for _, id := range listIDs {
			l, ok := byID[id]
			if !ok {
				return ErrNotFound
			}
			ordered = append(ordered, l)
		}
		b.Lists = ordered
		return nil
	})
}

func (s *MemoryStore) AddMember(_ context.Context, boardID string, member Member) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mutateBoard(boardID, func(b *Board) error {
		if _, ok := b.Member(member.UserID); ok {
			return ErrAlreadyMember
		}
		b.Members = append(b.Members, member)
		return nil
	})
}

func (s *MemoryStore) AcceptMember(_ context.Context, boardID, userID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	flipped := false
	err := s.mutateBoard(boardID, func(b *Board) error {
		for i, m := range b.Members {
			if m.UserID == userID && !m.InvitationAccepted {
				b.Members[i].InvitationAccepted = true
				b.Members[i].JoinedAt = time.Now().UTC()
				flipped = true
			}
		}
		return nil
	})
	return flipped, err
}

func (s *MemoryStore) RemoveMember(_ context.Context, boardID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mutateBoard(boardID, func(b *Board) error {
		idx := -1
		for i, m := range b.Members {
			if m.UserID == userID {
				idx = i
			}
		}
		if idx < 0 {
			return ErrNotFound
		}
		b.Members = append(b.Members[:idx], b.Members[idx+1:]...)
		for id, t := range s.tasks {
			if t.BoardID != boardID || !t.IsAssigned(userID) {
				continue
			}
			kept := make([]string, 0, len(t.AssignedTo))
			for _, a := range t.AssignedTo {
				if a != userID {
					kept = append(kept, a)
				}
			}
			t.AssignedTo = kept
			s.tasks[id] = t
		}
		return nil
	})
}

func (s *MemoryStore) GetTask(_ context.Context, taskID string) (Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[taskID]
	if !ok {
		return Task{}, ErrNotFound
	}
	return copyTask(t), nil
}

func (s *MemoryStore) ListTasks(_ context.Context, boardID string) ([]Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	order := map[string]int{}
	if b, ok := s.boards[boardID]; ok {
		for i, l := range b.Lists {
			order[l.ID] = i
		}
	}
	tasks := make([]Task, 0)
	for _, t := range s.tasks {
		if t.BoardID == boardID {
			tasks = append(tasks, copyTask(t))
		}
	}
	sort.Slice(tasks, func(i, j int) bool {
		a, b := tasks[i], tasks[j]
		if a.ListID != b.ListID {
			oa, okA := order[a.ListID]
			ob, okB := order[b.ListID]
			if okA != okB {
				return okA
			}
			if oa != ob {
				return oa < ob
			}
			return a.ListID < b.ListID
		}
		return a.Position < b.Position
	})
	return tasks, nil
}

func (s *MemoryStore) ListDueTasks(_ context.Context, until time.Time) ([]Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tasks := make([]Task, 0)
	for _, t := range s.tasks {
		if t.Completed || t.Deadline == nil || len(t.AssignedTo) == 0 || t.Deadline.After(until) {
			continue
		}
		tasks = append(tasks, copyTask(t))
	}
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].Deadline.Before(*tasks[j].Deadline) })
	return tasks, nil
}

// SearchTasks matches every whitespace-separated term case-insensitively
// against title and description.
func (s *MemoryStore) SearchTasks(ctx context.Context, boardID, text string, limit int) ([]Task, error) {
	if limit <= 0 {
		limit = 20
	}
	terms := strings.Fields(strings.ToLower(text))
	all, _ := s.ListTasks(ctx, boardID)
	matches := make([]Task, 0)
	for _, t := range all {
		haystack := strings.ToLower(t.Title + " " + t.Description)
		hit := len(terms) > 0
		for _, term := range terms {
			if !strings.Contains(haystack, term) {
				hit = false
				break
			}
		}
		if hit {
			matches = append(matches, t)
		}
		if len(matches) == limit {
			break
		}
	}
	return matches, nil
}

func (s *MemoryStore) ListSnapshot(_ context.Context, listID string) (position.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.listBoard[listID]; !ok {
		return position.Snapshot{}, ErrNotFound
	}
	count := 0
	for _, t := range s.tasks {
		if t.ListID == listID {
			count++
		}
	}
	return position.Snapshot{ListID: listID, Version: s.listVersions[listID], Count: count}, nil
}

// claim must be called with the write lock held.
func (s *MemoryStore) claim(versions map[string]int64) error {
	for id, v := range versions {
		if _, ok := s.listBoard[id]; !ok {
			return position.ErrConflict
		}
		if s.listVersions[id] != v {
			return position.ErrConflict
		}
	}
	for id := range versions {
		s.listVersions[id]++
	}
	return nil
}

func (s *MemoryStore) shift(shifts []position.Shift, exclude string) {
	for id, t := range s.tasks {
		if id == exclude {
			continue
		}
		for _, sh := range shifts {
			if t.ListID == sh.ListID && sh.Covers(t.Position) {
				t.Position += sh.Delta
			}
		}
		s.tasks[id] = t
	}
}

func (s *MemoryStore) InsertTask(_ context.Context, task Task, plan position.Plan, versions map[string]int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.claim(versions); err != nil {
		return err
	}
	s.shift(plan.Shifts, task.ID)
	task = copyTask(task)
	task.ListID = plan.ListID
	task.Position = plan.Position
	task.AssignedTo = KeepMembers(task.AssignedTo, s.memberSet(task.BoardID))
	task.UpdatedAt = task.CreatedAt
	s.tasks[task.ID] = task
	return nil
}

// memberSet must be called with the lock held.
func (s *MemoryStore) memberSet(boardID string) map[string]bool {
	set := map[string]bool{}
	for _, m := range s.boards[boardID].Members {
		set[m.UserID] = true
	}
	return set
}

// patch applies p to the stored row and drops assignees that are no longer
// board members. It must be called with the write lock held.
func (s *MemoryStore) patch(taskID string, p TaskPatch) (Task, bool) {
	current, ok := s.tasks[taskID]
	if !ok {
		return Task{}, false
	}
	t := p.Apply(copyTask(current))
	t.AssignedTo = KeepMembers(t.AssignedTo, s.memberSet(t.BoardID))
	t.UpdatedAt = time.Now().UTC()
	return t, true
}

func (s *MemoryStore) at(taskID, listID string, pos int) bool {
	t, ok := s.tasks[taskID]
	return ok && t.ListID == listID && t.Position == pos
}

func (s *MemoryStore) MoveTask(_ context.Context, taskID string, p TaskPatch, fromList string, fromPos int, plan position.Plan, versions map[string]int64) (Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.at(taskID, fromList, fromPos) {
		return Task{}, position.ErrConflict
	}
	if err := s.claim(versions); err != nil {
		return Task{}, err
	}
	s.shift(plan.Shifts, taskID)
	task, _ := s.patch(taskID, p)
	task.ListID = plan.ListID
	task.Position = plan.Position
	s.tasks[taskID] = task
	return copyTask(task), nil
}

func (s *MemoryStore) UpdateTask(_ context.Context, taskID string, p TaskPatch) (Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.patch(taskID, p)
	if !ok {
		return Task{}, ErrNotFound
	}
	s.tasks[taskID] = task
	return copyTask(task), nil
}

func (s *MemoryStore) DeleteTask(_ context.Context, task Task, plan position.Plan, versions map[string]int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.at(task.ID, task.ListID, task.Position) {
		return position.ErrConflict
	}
	if err := s.claim(versions); err != nil {
		return err
	}
	delete(s.tasks, task.ID)
	s.shift(plan.Shifts, task.ID)
	return nil
}

func (s *MemoryStore) InsertNotification(_ context.Context, n Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notifications = append(s.notifications, n)
	return nil
}

// ListNotifications pages newest first; equal timestamps keep reverse
// insertion order.
func (s *MemoryStore) ListNotifications(_ context.Context, recipientID string, offset, limit int) ([]Notification, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	mine := make([]Notification, 0)
	for i := len(s.notifications) - 1; i >= 0; i-- {
		if s.notifications[i].RecipientID == recipientID {
			mine = append(mine, s.notifications[i])
		}
	}
	sort.SliceStable(mine, func(i, j int) bool { return mine[i].CreatedAt.After(mine[j].CreatedAt) })
	total := len(mine)
	if offset >= total {
		return []Notification{}, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return append([]Notification{}, mine[offset:end]...), total, nil
}

func (s *MemoryStore) MarkNotificationRead(_ context.Context, notificationID, recipientID string) (Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, n := range s.notifications {
		if n.ID == notificationID && n.RecipientID == recipientID {
			s.notifications[i].IsRead = true
			return s.notifications[i], nil
		}
	}
	return Notification{}, ErrNotFound
}

func (s *MemoryStore) MarkAllNotificationsRead(_ context.Context, recipientID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for i := range s.notifications {
		if s.notifications[i].RecipientID == recipientID && !s.notifications[i].IsRead {
			s.notifications[i].IsRead = true
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) DeleteNotification(_ context.Context, notificationID, recipientID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, n := range s.notifications {
		if n.ID == notificationID && n.RecipientID == recipientID {
			s.notifications = append(s.notifications[:i], s.notifications[i+1:]...)
			return nil
		}
	}
	return ErrNotFound
}

func (s *MemoryStore) NotificationExists(_ context.Context, recipientID string, typ NotificationType, link string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, n := range s.notifications {
		if n.RecipientID == recipientID && n.Type == typ && n.Link == link {
			return true, nil
		}
	}
	return false, nil
}
