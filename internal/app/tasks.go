package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"taskboard/api/internal/attachment"
	"taskboard/api/internal/notify"
	"taskboard/api/internal/position"
	"taskboard/api/internal/rbac"
	"taskboard/api/internal/search"
	"taskboard/api/internal/store"
	"taskboard/api/internal/util"
)

type CreateTaskInput struct {
	ListID      string     `json:"listId" validate:"required"`
	Title       string     `json:"title" validate:"required,max=500"`
	Description string     `json:"description" validate:"max=10000"`
	Deadline    *time.Time `json:"deadline"`
	Attachment  string     `json:"attachment"`
	AssignedTo  []string   `json:"assignedTo" validate:"omitempty,dive,required"`
	// Position defaults to the end of the list.
	Position *int `json:"position" validate:"omitempty,min=0"`
}

// OptionalTime distinguishes an absent deadline from an explicit null.
type OptionalTime struct {
	Set   bool
	Value *time.Time
}

func (o *OptionalTime) UnmarshalJSON(data []byte) error {
	o.Set = true
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		o.Value = nil
		return nil
	}
	var t time.Time
	if err := json.Unmarshal(data, &t); err != nil {
		return err
	}
	o.Value = &t
	return nil
}

// UpdateTaskInput is a partial update; nil fields are left alone.
type UpdateTaskInput struct {
	Title       *string      `json:"title" validate:"omitempty,min=1,max=500"`
	Description *string      `json:"description" validate:"omitempty,max=10000"`
	Deadline    OptionalTime `json:"deadline"`
	Attachment  *string      `json:"attachment"`
	Completed   *bool        `json:"completed"`
	AssignedTo  *[]string    `json:"assignedTo"`
	ListID      *string      `json:"listId" validate:"omitempty,min=1"`
	Position    *int         `json:"position"`
}

// Fields names every attribute present in the patch.
func (in UpdateTaskInput) Fields() []string {
	var fields []string
	add := func(present bool, name string) {
		if present {
			fields = append(fields, name)
		}
	}
	add(in.Title != nil, "title")
	add(in.Description != nil, "description")
	add(in.Deadline.Set, "deadline")
	add(in.Attachment != nil, "attachment")
	add(in.Completed != nil, rbac.FieldCompleted)
	add(in.AssignedTo != nil, "assignedTo")
	add(in.ListID != nil, "listId")
	add(in.Position != nil, "position")
	return fields
}

func (in UpdateTaskInput) moves(task store.Task) bool {
	return (in.ListID != nil && *in.ListID != task.ListID) ||
		(in.Position != nil && *in.Position != task.Position)
}

// patch converts the non-positional fields into a store patch, which the
// store applies to the row as it stands at write time.
func (in UpdateTaskInput) patch() store.TaskPatch {
	p := store.TaskPatch{
		Description: in.Description,
		SetDeadline: in.Deadline.Set,
		Deadline:    in.Deadline.Value,
		Attachment:  in.Attachment,
		Completed:   in.Completed,
	}
	if in.Title != nil {
		title := strings.TrimSpace(*in.Title)
		p.Title = &title
	}
	if in.AssignedTo != nil {
		ids := dedupe(*in.AssignedTo)
		p.AssignedTo = &ids
	}
	return p
}

func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

func memberSet(board store.Board) map[string]bool {
	set := make(map[string]bool, len(board.Members))
	for _, m := range board.Members {
		set[m.UserID] = true
	}
	return set
}

func checkAssignees(board store.Board, ids []string) error {
	var invalid []string
	for _, id := range ids {
		if _, ok := board.Member(id); !ok {
			invalid = append(invalid, id)
		}
	}
	if len(invalid) > 0 {
		return validationError("Some assigned users are not members of this board", map[string]any{"assignedTo": invalid})
	}
	return nil
}

func (s *Service) CreateTask(ctx context.Context, actor store.User, boardID string, input CreateTaskInput) (store.Task, error) {
	input.Title = strings.TrimSpace(input.Title)
	if err := validateInput(input); err != nil {
		return store.Task{}, err
	}
	acc, err := s.authorize(ctx, boardID, actor, rbac.ActionCreateTask)
	if err != nil {
		return store.Task{}, err
	}
	if !acc.board.HasList(input.ListID) {
		return store.Task{}, notFound("List")
	}
	assignees := dedupe(input.AssignedTo)
	if err := checkAssignees(acc.board, assignees); err != nil {
		return store.Task{}, err
	}

	now := s.now().UTC()
	task := store.Task{
		ID:          util.NewID("tsk"),
		BoardID:     boardID,
		ListID:      input.ListID,
		Title:       input.Title,
		Description: input.Description,
		Deadline:    input.Deadline,
		Attachment:  input.Attachment,
		CreatedBy:   actor.ID,
		AssignedTo:  assignees,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	at := position.Open
	if input.Position != nil {
		at = *input.Position
	}
	err = s.alloc.Run(ctx, func(txn *position.Txn) error {
		snap, err := txn.Snapshot(task.ListID)
		if err != nil {
			return err
		}
		plan := position.Insert(task.ListID, at, snap.Count)
		task.Position = plan.Position
		return s.store.InsertTask(txn.Context(), task, plan, txn.Versions())
	})
	if err != nil {
		return store.Task{}, translate(err, "List")
	}

	if fresh, err := s.store.GetTask(ctx, task.ID); err == nil {
		task = fresh
	}
	board := s.refreshBoard(ctx, acc.board)
	s.indexTask(task)
	s.publishBoard(boardID, EventTaskChanged, TaskChange{Type: changeCreated, BoardID: boardID, Task: &task})
	s.notifier.NotifyBoardMembers(ctx, board, actor.ID,
		fmt.Sprintf("Task '%s' was created by %s.", task.Title, actor.Name), notify.TaskLink(boardID, task.ID))
	s.notifyAssigned(ctx, board, task, actor, task.AssignedTo)
	return task, nil
}

func (s *Service) ListTasks(ctx context.Context, actor store.User, boardID string) ([]store.Task, error) {
	if _, err := s.authorize(ctx, boardID, actor, rbac.ActionView); err != nil {
		return nil, err
	}
	tasks, err := s.store.ListTasks(ctx, boardID)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	return tasks, nil
}

// loadTask fetches a task and checks it belongs to boardID.
func (s *Service) loadTask(ctx context.Context, boardID, taskID string) (store.Task, error) {
	task, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return store.Task{}, translate(err, "Task")
	}
	if task.BoardID != boardID {
		return store.Task{}, notFound("Task")
	}
	return task, nil
}

// UpdateTask applies a partial update. Admins may change anything and move
// the task; an assignee without admin rights may only toggle completion.
func (s *Service) UpdateTask(ctx context.Context, actor store.User, boardID, taskID string, input UpdateTaskInput) (store.Task, error) {
	if err := validateInput(input); err != nil {
		return store.Task{}, err
	}
	if input.Position != nil && *input.Position < 0 {
		return store.Task{}, validationError("position must not be negative", map[string]string{"position": "min"})
	}
	acc, err := s.authorize(ctx, boardID, actor, rbac.ActionView)
	if err != nil {
		return store.Task{}, err
	}
	current, err := s.loadTask(ctx, boardID, taskID)
	if err != nil {
		return store.Task{}, err
	}
	fields := input.Fields()
	isAssignee := current.IsAssigned(actor.ID)
	if !rbac.CanUpdateTask(acc.role, isAssignee, fields) {
		if isAssignee {
			return store.Task{}, permissionDenied("You can only update the completion status of this task.")
		}
		return store.Task{}, permissionDenied("You do not have permission to update this task.")
	}
	if input.ListID != nil && !acc.board.HasList(*input.ListID) {
		return store.Task{}, notFound("List")
	}
	if input.AssignedTo != nil {
		if err := checkAssignees(acc.board, dedupe(*input.AssignedTo)); err != nil {
			return store.Task{}, err
		}
	}

	var updated store.Task
	if input.moves(current) {
		updated, err = s.moveTask(ctx, taskID, input)
	} else {
		updated, err = s.store.UpdateTask(ctx, taskID, input.patch())
	}
	if err != nil {
		return store.Task{}, translate(err, "Task")
	}
	board := s.refreshBoard(ctx, acc.board)

	s.indexTask(updated)
	s.publishBoard(boardID, EventTaskChanged, TaskChange{Type: changeUpdated, BoardID: boardID, Task: &updated, TaskID: updated.ID})
	if input.Completed != nil && *input.Completed {
		s.notifier.NotifyBoardMembers(ctx, board, actor.ID,
			fmt.Sprintf("Task '%s' was completed by %s.", updated.Title, actor.Name), notify.TaskLink(boardID, updated.ID))
	} else {
		s.notifier.NotifyBoardMembers(ctx, board, actor.ID,
			fmt.Sprintf("Task '%s' was updated by %s.", updated.Title, actor.Name), notify.BoardLink(boardID))
	}
	if input.AssignedTo != nil {
		s.notifyAssigned(ctx, board, updated, actor, added(current.AssignedTo, updated.AssignedTo))
	}
	return updated, nil
}

// moveTask re-reads the task under a fresh snapshot on every attempt so the
// plan is always derived from the latest positions.
func (s *Service) moveTask(ctx context.Context, taskID string, input UpdateTaskInput) (store.Task, error) {
	var moved store.Task
	err := s.alloc.Run(ctx, func(txn *position.Txn) error {
		peek, err := s.store.GetTask(txn.Context(), taskID)
		if err != nil {
			return err
		}
		toList := peek.ListID
		if input.ListID != nil {
			toList = *input.ListID
		}
		src, err := txn.Snapshot(peek.ListID)
		if err != nil {
			return err
		}
		dest := src
		if toList != peek.ListID {
			if dest, err = txn.Snapshot(toList); err != nil {
				return err
			}
		}
		task, err := s.store.GetTask(txn.Context(), taskID)
		if err != nil {
			return err
		}
		if task.ListID != peek.ListID {
			return position.ErrConflict
		}

		to := dest.Count
		if input.Position != nil {
			to = *input.Position
		}
		count := dest.Count
		if toList == task.ListID {
			count = src.Count
		}
		plan, err := position.Move(task.ListID, task.Position, toList, to, count)
		if err != nil {
			return validationError(err.Error(), nil)
		}
		moved, err = s.store.MoveTask(txn.Context(), taskID, input.patch(), task.ListID, task.Position, plan, txn.Versions())
		return err
	})
	return moved, err
}

// added returns ids present in after but not before.
func added(before, after []string) []string {
	had := make(map[string]bool, len(before))
	for _, id := range before {
		had[id] = true
	}
	var out []string
	for _, id := range after {
		if !had[id] {
			out = append(out, id)
		}
	}
	return out
}

// notifyAssigned skips ids that are not members of board, which callers
// should re-read after the write.
func (s *Service) notifyAssigned(ctx context.Context, board store.Board, task store.Task, actor store.User, ids []string) {
	ids = store.KeepMembers(ids, memberSet(board))
	if len(ids) == 0 {
		return
	}
	users, err := s.store.ListUsersByIDs(ctx, ids)
	if err != nil {
		s.logger.WithField("task_id", task.ID).WithError(err).Warn("load assignees for notification")
		return
	}
	s.notifier.NotifyAssignees(ctx, board, task, actor, users)
}

func (s *Service) DeleteTask(ctx context.Context, actor store.User, boardID, taskID string) error {
	acc, err := s.authorize(ctx, boardID, actor, rbac.ActionDeleteTask)
	if err != nil {
		return err
	}
	var deleted store.Task
	err = s.alloc.Run(ctx, func(txn *position.Txn) error {
		peek, err := s.loadTask(txn.Context(), boardID, taskID)
		if err != nil {
			return err
		}
		if _, err := txn.Snapshot(peek.ListID); err != nil {
			return err
		}
		task, err := s.loadTask(txn.Context(), boardID, taskID)
		if err != nil {
			return err
		}
		deleted = task
		return s.store.DeleteTask(txn.Context(), task, position.Remove(task.ListID, task.Position), txn.Versions())
	})
	if err != nil {
		return translate(err, "Task")
	}

	s.dropFromIndex([]store.Task{deleted})
	s.publishBoard(boardID, EventTaskChanged, TaskChange{Type: changeDeleted, BoardID: boardID, TaskID: taskID})
	s.notifier.NotifyBoardMembers(ctx, s.refreshBoard(ctx, acc.board), actor.ID,
		fmt.Sprintf("Task '%s' was deleted by %s.", deleted.Title, actor.Name), notify.BoardLink(boardID))
	return nil
}

func (s *Service) SearchTasks(ctx context.Context, actor store.User, boardID, text string, limit int) (search.Response, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return search.Response{}, validationError("q is required", map[string]string{"q": "required"})
	}
	if _, err := s.authorize(ctx, boardID, actor, rbac.ActionView); err != nil {
		return search.Response{}, err
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: text}, nil
	}
	return s.search.Search(ctx, search.Query{BoardID: boardID, Text: text, Limit: limit}), nil
}

func (s *Service) indexTask(t store.Task) {
	if s.search == nil {
		return
	}
	s.search.IndexTask(search.TaskRecord{
		ID:          t.ID,
		BoardID:     t.BoardID,
		ListID:      t.ListID,
		Title:       t.Title,
		Description: t.Description,
		Completed:   t.Completed,
	})
}

func (s *Service) dropFromIndex(tasks []store.Task) {
	if s.search == nil || len(tasks) == 0 {
		return
	}
	ids := make([]string, 0, len(tasks))
	for _, t := range tasks {
		ids = append(ids, t.ID)
	}
	s.search.DeleteTasks(ids...)
}

type AttachmentInput struct {
	Filename string `json:"filename" validate:"required,max=255"`
}

// PresignAttachment returns an upload URL; the client then stores the key
// on the task through UpdateTask.
func (s *Service) PresignAttachment(ctx context.Context, actor store.User, boardID, taskID string, input AttachmentInput) (attachment.Upload, error) {
	if err := validateInput(input); err != nil {
		return attachment.Upload{}, err
	}
	if s.attachments == nil {
		return attachment.Upload{}, ErrStorageDisabled
	}
	if _, err := s.authorize(ctx, boardID, actor, rbac.ActionAttach); err != nil {
		return attachment.Upload{}, err
	}
	if _, err := s.loadTask(ctx, boardID, taskID); err != nil {
		return attachment.Upload{}, err
	}
	up, err := s.attachments.PresignUpload(ctx, boardID, taskID, input.Filename)
	if err != nil {
		return attachment.Upload{}, fmt.Errorf("presign attachment: %w", err)
	}
	return up, nil
}

func (s *Service) AttachmentURL(ctx context.Context, actor store.User, boardID, taskID string) (string, error) {
	if s.attachments == nil {
		return "", ErrStorageDisabled
	}
	if _, err := s.authorize(ctx, boardID, actor, rbac.ActionView); err != nil {
		return "", err
	}
	task, err := s.loadTask(ctx, boardID, taskID)
	if err != nil {
		return "", err
	}
	if task.Attachment == "" {
		return "", notFound("Attachment")
	}
	link, err := s.attachments.PresignDownload(ctx, boardID, taskID, task.Attachment)
	if err != nil {
		if errors.Is(err, attachment.ErrForeignKey) {
			return "", notFound("Attachment")
		}
		return "", fmt.Errorf("presign download: %w", err)
	}
	return link, nil
}
