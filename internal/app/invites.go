package app

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"taskboard/api/internal/email"
	"taskboard/api/internal/notify"
	"taskboard/api/internal/rbac"
	"taskboard/api/internal/store"
)

type InviteInput struct {
	Email string `json:"email" validate:"required,email"`
}

type InviteResult struct {
	InviteLink string `json:"inviteLink"`
	Email      string `json:"email"`
	// Pending is set when the invitee already has an account and was added
	// as a pending member.
	Pending bool `json:"pending"`
}

type InviteInfo struct {
	BoardID   string `json:"boardId"`
	BoardName string `json:"boardName"`
	Email     string `json:"email"`
	Exists    bool   `json:"exists"`
}

// InviteUser issues a 24h invite for email. If an account with that email
// exists it is added to the board as a pending member.
func (s *Service) InviteUser(ctx context.Context, actor store.User, boardID string, input InviteInput) (InviteResult, error) {
	input.Email = strings.ToLower(strings.TrimSpace(input.Email))
	if err := validateInput(input); err != nil {
		return InviteResult{}, err
	}
	acc, err := s.authorize(ctx, boardID, actor, rbac.ActionInvite)
	if err != nil {
		return InviteResult{}, err
	}

	invited, err := s.store.GetUserByEmail(ctx, input.Email)
	exists := err == nil
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return InviteResult{}, fmt.Errorf("lookup invitee: %w", err)
	}
	if exists {
		if _, ok := acc.board.Member(invited.ID); ok {
			return InviteResult{}, validationError("User is already a member of this board", nil)
		}
		err := s.store.AddMember(ctx, boardID, store.Member{
			UserID:   invited.ID,
			Role:     string(rbac.RoleMember),
			JoinedAt: s.now().UTC(),
		})
		if errors.Is(err, store.ErrAlreadyMember) {
			return InviteResult{}, validationError("User is already a member of this board", nil)
		}
		if err != nil {
			return InviteResult{}, translate(err, "Board")
		}
	}

	token, _, err := s.invites.Issue(boardID, input.Email)
	if err != nil {
		return InviteResult{}, fmt.Errorf("issue invite: %w", err)
	}
	path := "/invite/accept?token=" + url.QueryEscape(token)
	link := s.cfg.ClientURL + path

	if s.mailer != nil {
		boardName, inviter, to := acc.board.Name, actor.Name, input.Email
		s.notifier.Email("board_invite", func() (email.Message, error) {
			return s.mailer.InviteMessage(to, boardName, inviter, link)
		})
	}
	if exists {
		s.notifier.NotifyUser(ctx, invited.ID, store.NotificationBoardInvite,
			fmt.Sprintf("You've been invited to join the board '%s' by %s.", acc.board.Name, actor.Name), path)
	}
	s.notifier.NotifyUser(ctx, actor.ID, store.NotificationBoardAction,
		fmt.Sprintf("You have successfully invited '%s' to the board '%s'.", input.Email, acc.board.Name),
		notify.BoardLink(boardID))

	return InviteResult{InviteLink: link, Email: input.Email, Pending: exists}, nil
}

// VerifyInvite checks a token without changing any state.
func (s *Service) VerifyInvite(ctx context.Context, token string) (InviteInfo, error) {
	if strings.TrimSpace(token) == "" {
		return InviteInfo{}, validationError("Missing token", nil)
	}
	claims, err := s.invites.Parse(token)
	if err != nil {
		return InviteInfo{}, translate(err, "Invite")
	}
	board, err := s.store.GetBoard(ctx, claims.BoardID)
	if err != nil {
		return InviteInfo{}, translate(err, "Board")
	}
	_, err = s.store.GetUserByEmail(ctx, claims.Email)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return InviteInfo{}, fmt.Errorf("lookup invitee: %w", err)
	}
	return InviteInfo{
		BoardID:   board.ID,
		BoardName: board.Name,
		Email:     claims.Email,
		Exists:    err == nil,
	}, nil
}

// JoinBoard redeems an invite for the caller. Redeeming again after the
// membership is accepted returns the board with joined=false and emits
// nothing.
func (s *Service) JoinBoard(ctx context.Context, actor store.User, token string) (store.Board, bool, error) {
	if strings.TrimSpace(token) == "" {
		return store.Board{}, false, validationError("Missing token", nil)
	}
	claims, err := s.invites.Parse(token)
	if err != nil {
		return store.Board{}, false, translate(err, "Invite")
	}
	if !strings.EqualFold(strings.TrimSpace(actor.Email), claims.Email) {
		return store.Board{}, false, ErrEmailMismatch
	}
	board, err := s.store.GetBoard(ctx, claims.BoardID)
	if err != nil {
		return store.Board{}, false, translate(err, "Board")
	}

	joined, err := s.acceptMembership(ctx, board, actor.ID)
	if err != nil {
		return store.Board{}, false, err
	}
	if !joined {
		return board, false, nil
	}

	board = s.refreshBoard(ctx, board)
	s.notifier.NotifyBoardMembers(ctx, board, actor.ID,
		fmt.Sprintf("%s joined the board '%s'.", actor.Name, board.Name), notify.BoardLink(board.ID))
	user := actor
	s.publishBoard(board.ID, EventBoardChanged, BoardChange{Type: changeMemberJoined, BoardID: board.ID, User: &user})
	return board, true, nil
}

// acceptMembership adds or accepts userID and reports whether anything changed.
func (s *Service) acceptMembership(ctx context.Context, board store.Board, userID string) (bool, error) {
	member, ok := board.Member(userID)
	if ok && member.InvitationAccepted {
		return false, nil
	}
	if !ok {
		err := s.store.AddMember(ctx, board.ID, store.Member{
			UserID:             userID,
			Role:               string(rbac.RoleMember),
			InvitationAccepted: true,
			JoinedAt:           s.now().UTC(),
		})
		if err == nil {
			return true, nil
		}
		if !errors.Is(err, store.ErrAlreadyMember) {
			return false, translate(err, "Board")
		}
		// Added concurrently; fall through and accept.
	}
	flipped, err := s.store.AcceptMember(ctx, board.ID, userID)
	if err != nil {
		return false, translate(err, "Board")
	}
	return flipped, nil
}
