package app

import (
	"context"

	"taskboard/api/internal/rbac"
	"taskboard/api/internal/store"
)

// access is the resolved caller context for one board operation.
type access struct {
	board  store.Board
	member store.Member
	role   rbac.Role
}

// authorize loads the board, then checks that actor is an accepted member
// whose role permits action.
func (s *Service) authorize(ctx context.Context, boardID string, actor store.User, action rbac.Action) (access, error) {
	board, err := s.store.GetBoard(ctx, boardID)
	if err != nil {
		return access{}, translate(err, "Board")
	}
	member, ok := board.Member(actor.ID)
	if !ok {
		return access{}, permissionDenied("Access denied. You are not a member of this board.")
	}
	if !member.InvitationAccepted {
		return access{}, permissionDenied("Accept the invitation to this board first.")
	}
	role := rbac.Normalize(member.Role)
	if !rbac.Can(role, action) {
		return access{}, permissionDenied("Access denied. Insufficient permissions.")
	}
	return access{board: board, member: member, role: role}, nil
}

// CanFollowBoard gates live-update subscriptions to a board topic.
func (s *Service) CanFollowBoard(ctx context.Context, userID, boardID string) error {
	_, err := s.authorize(ctx, boardID, store.User{ID: userID}, rbac.ActionView)
	return err
}

// refreshBoard re-reads the board after a mutation so fan-out sees the
// committed member set. The pre-mutation copy is used if the read fails.
func (s *Service) refreshBoard(ctx context.Context, fallback store.Board) store.Board {
	board, err := s.store.GetBoard(ctx, fallback.ID)
	if err != nil {
		s.logger.WithField("board_id", fallback.ID).WithError(err).Warn("reload board for fan-out")
		return fallback
	}
	return board
}
