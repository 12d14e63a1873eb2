package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"taskboard/api/internal/notify"
	"taskboard/api/internal/rbac"
	"taskboard/api/internal/realtime"
	"taskboard/api/internal/store"
	"taskboard/api/internal/util"
)

type CreateBoardInput struct {
	Name  string   `json:"name" validate:"required,max=200"`
	Lists []string `json:"lists" validate:"omitempty,max=50,dive,required,max=200"`
}

type AddListInput struct {
	Name string `json:"name" validate:"required,max=200"`
}

type ReorderListsInput struct {
	ListIDs []string `json:"listIds" validate:"required,min=1,dive,required"`
}

// MemberView is a member joined with the user's display fields.
type MemberView struct {
	store.Member
	Name  string `json:"name"`
	Email string `json:"email"`
}

type BoardView struct {
	store.Board
	Members []MemberView `json:"members"`
}

func (s *Service) CreateBoard(ctx context.Context, actor store.User, input CreateBoardInput) (store.Board, error) {
	input.Name = strings.TrimSpace(input.Name)
	if err := validateInput(input); err != nil {
		return store.Board{}, err
	}
	now := s.now().UTC()
	board := store.Board{
		ID:        util.NewID("brd"),
		Name:      input.Name,
		CreatedBy: actor.ID,
		Members: []store.Member{{
			UserID:             actor.ID,
			Role:               string(rbac.RoleAdmin),
			InvitationAccepted: true,
			JoinedAt:           now,
		}},
		CreatedAt: now,
		UpdatedAt: now,
	}
	for _, name := range input.Lists {
		board.Lists = append(board.Lists, store.List{ID: util.NewID("lst"), Name: strings.TrimSpace(name)})
	}
	if err := s.store.CreateBoard(ctx, board); err != nil {
		return store.Board{}, fmt.Errorf("create board: %w", err)
	}

	s.notifier.NotifyUser(ctx, actor.ID, store.NotificationBoardAction,
		fmt.Sprintf("You created a new board: '%s'.", board.Name), notify.BoardLink(board.ID))
	return board, nil
}

// ListBoards returns every board the caller belongs to, pending invites included.
func (s *Service) ListBoards(ctx context.Context, actor store.User) ([]BoardView, error) {
	boards, err := s.store.ListBoardsForUser(ctx, actor.ID)
	if err != nil {
		return nil, fmt.Errorf("list boards: %w", err)
	}
	views := make([]BoardView, 0, len(boards))
	for _, b := range boards {
		view, err := s.boardView(ctx, b)
		if err != nil {
			return nil, err
		}
		views = append(views, view)
	}
	return views, nil
}

func (s *Service) GetBoard(ctx context.Context, actor store.User, boardID string) (BoardView, error) {
	acc, err := s.authorize(ctx, boardID, actor, rbac.ActionView)
	if err != nil {
		return BoardView{}, err
	}
	return s.boardView(ctx, acc.board)
}

func (s *Service) boardView(ctx context.Context, board store.Board) (BoardView, error) {
	users, err := s.store.ListUsersByIDs(ctx, board.MemberIDs())
	if err != nil {
		return BoardView{}, fmt.Errorf("load members: %w", err)
	}
	byID := make(map[string]store.User, len(users))
	for _, u := range users {
		byID[u.ID] = u
	}
	view := BoardView{Board: board, Members: make([]MemberView, 0, len(board.Members))}
	for _, m := range board.Members {
		u := byID[m.UserID]
		view.Members = append(view.Members, MemberView{Member: m, Name: u.Name, Email: u.Email})
	}
	return view, nil
}

func (s *Service) DeleteBoard(ctx context.Context, actor store.User, boardID string) error {
	acc, err := s.authorize(ctx, boardID, actor, rbac.ActionDeleteBoard)
	if err != nil {
		return err
	}
	tasks, err := s.store.ListTasks(ctx, boardID)
	if err != nil {
		return fmt.Errorf("list board tasks: %w", err)
	}
	if err := s.store.DeleteBoard(ctx, boardID); err != nil {
		return translate(err, "Board")
	}

	s.dropFromIndex(tasks)
	s.notifier.NotifyBoardMembers(ctx, acc.board, actor.ID,
		fmt.Sprintf("Board '%s' was deleted by %s.", acc.board.Name, actor.Name), "/boards")
	s.publishBoard(boardID, EventBoardChanged, BoardChange{Type: changeDeleted, BoardID: boardID})
	return nil
}

func (s *Service) AddList(ctx context.Context, actor store.User, boardID string, input AddListInput) (store.List, store.Board, error) {
	input.Name = strings.TrimSpace(input.Name)
	if err := validateInput(input); err != nil {
		return store.List{}, store.Board{}, err
	}
	acc, err := s.authorize(ctx, boardID, actor, rbac.ActionEditLists)
	if err != nil {
		return store.List{}, store.Board{}, err
	}
	list := store.List{ID: util.NewID("lst"), Name: input.Name}
	if err := s.store.AddList(ctx, boardID, list); err != nil {
		return store.List{}, store.Board{}, translate(err, "Board")
	}

	board := s.refreshBoard(ctx, acc.board)
	s.notifier.NotifyBoardMembers(ctx, board, actor.ID,
		fmt.Sprintf("A new list '%s' was added by %s.", list.Name, actor.Name), notify.BoardLink(boardID))
	s.publishBoard(boardID, EventListChanged, ListChange{Type: changeCreated, BoardID: boardID, List: &list})
	return list, board, nil
}

func (s *Service) DeleteList(ctx context.Context, actor store.User, boardID, listID string) (store.Board, error) {
	acc, err := s.authorize(ctx, boardID, actor, rbac.ActionEditLists)
	if err != nil {
		return store.Board{}, err
	}
	var list store.List
	for _, l := range acc.board.Lists {
		if l.ID == listID {
			list = l
		}
	}
	if list.ID == "" {
		return store.Board{}, notFound("List")
	}
	tasks, err := s.store.ListTasks(ctx, boardID)
	if err != nil {
		return store.Board{}, fmt.Errorf("list board tasks: %w", err)
	}
	if err := s.store.DeleteList(ctx, boardID, listID); err != nil {
		return store.Board{}, translate(err, "List")
	}

	var dropped []store.Task
	for _, t := range tasks {
		if t.ListID == listID {
			dropped = append(dropped, t)
		}
	}
	s.dropFromIndex(dropped)

	board := s.refreshBoard(ctx, acc.board)
	s.notifier.NotifyBoardMembers(ctx, board, actor.ID,
		fmt.Sprintf("A list '%s' was deleted by %s.", list.Name, actor.Name), notify.BoardLink(boardID))
	s.publishBoard(boardID, EventListChanged, ListChange{Type: changeDeleted, BoardID: boardID, ListID: listID})
	return board, nil
}

// ReorderLists replaces the list order. listIDs must name every list once.
func (s *Service) ReorderLists(ctx context.Context, actor store.User, boardID string, input ReorderListsInput) (store.Board, error) {
	if err := validateInput(input); err != nil {
		return store.Board{}, err
	}
	acc, err := s.authorize(ctx, boardID, actor, rbac.ActionEditLists)
	if err != nil {
		return store.Board{}, err
	}
	if !isPermutation(acc.board.Lists, input.ListIDs) {
		return store.Board{}, validationError("listIds must contain every list of the board exactly once", nil)
	}
	if err := s.store.ReorderLists(ctx, boardID, input.ListIDs); err != nil {
		return store.Board{}, translate(err, "Board")
	}

	board := s.refreshBoard(ctx, acc.board)
	s.notifier.NotifyBoardMembers(ctx, board, actor.ID,
		fmt.Sprintf("%s updated the list order in '%s'.", actor.Name, board.Name), notify.BoardLink(boardID))
	s.publishBoard(boardID, EventListChanged, ListChange{Type: changeReordered, BoardID: boardID, Lists: board.Lists})
	return board, nil
}

func isPermutation(lists []store.List, ids []string) bool {
	if len(lists) != len(ids) {
		return false
	}
	want := make(map[string]bool, len(lists))
	for _, l := range lists {
		want[l.ID] = true
	}
	for _, id := range ids {
		if !want[id] {
			return false
		}
		delete(want, id)
	}
	return len(want) == 0
}

// RemoveMember drops userID from the board, unassigns them from its tasks
// and detaches their live sessions from the board topic.
func (s *Service) RemoveMember(ctx context.Context, actor store.User, boardID, userID string) (store.Board, error) {
	acc, err := s.authorize(ctx, boardID, actor, rbac.ActionRemoveMember)
	if err != nil {
		return store.Board{}, err
	}
	if userID == actor.ID {
		return store.Board{}, validationError("You cannot remove yourself from the board", nil)
	}
	if _, ok := acc.board.Member(userID); !ok {
		return store.Board{}, notFound("Member")
	}
	removed, err := s.store.GetUserByID(ctx, userID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return store.Board{}, fmt.Errorf("load member: %w", err)
	}
	if err := s.store.RemoveMember(ctx, boardID, userID); err != nil {
		return store.Board{}, translate(err, "Member")
	}

	board := s.refreshBoard(ctx, acc.board)
	name := removed.Name
	if name == "" {
		name = "a member"
	}
	s.notifier.NotifyBoardMembers(ctx, board, actor.ID,
		fmt.Sprintf("%s removed %s from '%s'.", actor.Name, name, board.Name), notify.BoardLink(boardID))
	s.notifier.NotifyUser(ctx, userID, store.NotificationBoardAction,
		fmt.Sprintf("You have been removed from the board '%s'.", board.Name), "")
	s.publishUser(userID, EventLeaveBoard, map[string]string{"boardId": boardID})
	s.hub.EvictUser(realtime.BoardTopic(boardID), userID)
	s.publishBoard(boardID, EventBoardChanged, BoardChange{Type: changeMemberRemoved, BoardID: boardID, RemovedUserID: userID})
	return board, nil
}
