package team

import (
	"context"
	"fmt"
	"time"

	"collabrepo/api/internal/apperr"
	"collabrepo/api/internal/util"
)

type Service struct {
	store Store
	now   func() time.Time
}

func NewService(store Store) *Service {
	return &Service{store: store, now: func() time.Time { return time.Now().UTC().Truncate(time.Microsecond) }}
}

func (s *Service) AddMember(ctx context.Context, teamID, memberID int64) error {
	if err := validateIDs(teamID, memberID); err != nil {
		return err
	}
	return s.store.AddMember(ctx, teamID, memberID)
}

func (s *Service) RemoveMember(ctx context.Context, teamID, memberID int64) error {
	return s.store.RemoveMember(ctx, teamID, memberID)
}

func (s *Service) IsMember(ctx context.Context, teamID, memberID int64) (bool, error) {
	return s.store.IsMember(ctx, teamID, memberID)
}

func (s *Service) ListMembers(ctx context.Context, teamID int64) ([]int64, error) {
	return s.store.ListMembers(ctx, teamID)
}

// GroupsOf lists the teams principalID belongs to.
func (s *Service) GroupsOf(ctx context.Context, principalID int64) ([]int64, error) {
	return s.store.TeamsOf(ctx, principalID)
}

func (s *Service) CreateInvitation(ctx context.Context, inv Invitation) (Invitation, error) {
	if err := validateIDs(inv.TeamID, inv.InviteeID); err != nil {
		return Invitation{}, err
	}
	inv.ID = util.NewID("inv")
	inv.CreatedOn = s.now()
	if err := s.store.InsertInvitation(ctx, inv); err != nil {
		return Invitation{}, fmt.Errorf("create invitation: %w", err)
	}
	return inv, nil
}

func (s *Service) GetInvitation(ctx context.Context, id string) (Invitation, error) {
	return s.store.GetInvitation(ctx, id)
}

func (s *Service) DeleteInvitation(ctx context.Context, id string) error {
	return s.store.DeleteInvitation(ctx, id)
}

func (s *Service) OpenInvitationsByUser(ctx context.Context, userID int64, now time.Time, limit, offset int) ([]Invitation, error) {
	if err := validatePage(limit, offset); err != nil {
		return nil, err
	}
	return s.store.OpenInvitations(ctx, Filter{UserID: userID}, now, limit, offset)
}

func (s *Service) CountOpenInvitationsByUser(ctx context.Context, userID int64, now time.Time) (int64, error) {
	return s.store.CountOpenInvitations(ctx, Filter{UserID: userID}, now)
}

func (s *Service) OpenInvitationsByTeamAndUser(ctx context.Context, teamID, userID int64, now time.Time, limit, offset int) ([]Invitation, error) {
	if err := validatePage(limit, offset); err != nil {
		return nil, err
	}
	return s.store.OpenInvitations(ctx, Filter{TeamID: teamID, UserID: userID}, now, limit, offset)
}

func (s *Service) CountOpenInvitationsByTeamAndUser(ctx context.Context, teamID, userID int64, now time.Time) (int64, error) {
	return s.store.CountOpenInvitations(ctx, Filter{TeamID: teamID, UserID: userID}, now)
}

func (s *Service) DeleteInvitationsByTeamAndUser(ctx context.Context, teamID, userID int64) error {
	return s.store.DeleteInvitations(ctx, teamID, userID)
}

// AcceptInvitation makes the invitee a member and clears their pending
// invitations and requests for the team in one transaction.
func (s *Service) AcceptInvitation(ctx context.Context, id string, principalID int64) error {
	err := s.store.InTx(ctx, func(tx Tx) error {
		inv, err := tx.GetInvitation(ctx, id)
		if err != nil {
			return err
		}
		if inv.InviteeID != principalID {
			return apperr.AccessDenied("invitation %s is addressed to another user", id)
		}
		if inv.ExpiresOn != nil && !inv.ExpiresOn.After(s.now()) {
			return apperr.BadRequest("invitation %s has expired", id)
		}
		if err := tx.AddMember(ctx, inv.TeamID, inv.InviteeID); err != nil {
			return err
		}
		if err := tx.DeleteInvitations(ctx, inv.TeamID, inv.InviteeID); err != nil {
			return err
		}
		return tx.DeleteRequests(ctx, inv.TeamID, inv.InviteeID)
	})
	if err != nil {
		return fmt.Errorf("accept invitation %s: %w", id, err)
	}
	return nil
}

func (s *Service) CreateRequest(ctx context.Context, req Request) (Request, error) {
	if err := validateIDs(req.TeamID, req.RequesterID); err != nil {
		return Request{}, err
	}
	req.ID = util.NewID("req")
	req.CreatedOn = s.now()
	if err := s.store.InsertRequest(ctx, req); err != nil {
		return Request{}, fmt.Errorf("create membership request: %w", err)
	}
	return req, nil
}

func (s *Service) GetRequest(ctx context.Context, id string) (Request, error) {
	return s.store.GetRequest(ctx, id)
}

func (s *Service) DeleteRequest(ctx context.Context, id string) error {
	return s.store.DeleteRequest(ctx, id)
}

func (s *Service) OpenRequestsByTeam(ctx context.Context, teamID int64, now time.Time, limit, offset int) ([]Request, error) {
	if err := validatePage(limit, offset); err != nil {
		return nil, err
	}
	return s.store.OpenRequests(ctx, Filter{TeamID: teamID}, now, limit, offset)
}

func (s *Service) CountOpenRequestsByTeam(ctx context.Context, teamID int64, now time.Time) (int64, error) {
	return s.store.CountOpenRequests(ctx, Filter{TeamID: teamID}, now)
}

func (s *Service) OpenRequestsByTeamAndRequester(ctx context.Context, teamID, requesterID int64, now time.Time, limit, offset int) ([]Request, error) {
	if err := validatePage(limit, offset); err != nil {
		return nil, err
	}
	return s.store.OpenRequests(ctx, Filter{TeamID: teamID, UserID: requesterID}, now, limit, offset)
}

func (s *Service) CountOpenRequestsByTeamAndRequester(ctx context.Context, teamID, requesterID int64, now time.Time) (int64, error) {
	return s.store.CountOpenRequests(ctx, Filter{TeamID: teamID, UserID: requesterID}, now)
}

func (s *Service) DeleteRequestsByTeamAndRequester(ctx context.Context, teamID, requesterID int64) error {
	return s.store.DeleteRequests(ctx, teamID, requesterID)
}

func validateIDs(teamID, userID int64) error {
	if teamID <= 0 {
		return apperr.BadRequest("team id is required")
	}
	if userID <= 0 {
		return apperr.BadRequest("user id is required")
	}
	return nil
}

func validatePage(limit, offset int) error {
	if limit <= 0 {
		return apperr.BadRequest("limit must be positive")
	}
	if offset < 0 {
		return apperr.BadRequest("offset must not be negative")
	}
	return nil
}
