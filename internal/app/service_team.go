package app

import (
	"context"

	"collabrepo/api/internal/acl"
	"collabrepo/api/internal/apperr"
	"collabrepo/api/internal/team"
)

type PaginatedResults[T any] struct {
	Results     []T   `json:"results"`
	TotalNumber int64 `json:"totalNumberOfResults"`
}

// AddMember is open to administrators.
func (s *Service) AddMember(ctx context.Context, p acl.Principal, teamID, memberID int64) error {
	if err := s.requireAdmin(ctx, p); err != nil {
		return err
	}
	return s.teams.AddMember(ctx, teamID, memberID)
}

// RemoveMember lets members leave on their own; anyone else needs to be an
// administrator.
func (s *Service) RemoveMember(ctx context.Context, p acl.Principal, teamID, memberID int64) error {
	if err := s.requireUser(p); err != nil {
		return err
	}
	if p.ID != memberID {
		if err := s.requireAdmin(ctx, p); err != nil {
			return err
		}
	}
	return s.teams.RemoveMember(ctx, teamID, memberID)
}

func (s *Service) ListMembers(ctx context.Context, p acl.Principal, teamID int64) ([]int64, error) {
	if err := s.requireUser(p); err != nil {
		return nil, err
	}
	return s.teams.ListMembers(ctx, teamID)
}

func (s *Service) CreateInvitation(ctx context.Context, p acl.Principal, inv team.Invitation) (team.Invitation, error) {
	if err := s.requireAdmin(ctx, p); err != nil {
		return team.Invitation{}, err
	}
	inv.CreatedBy = p.ID
	return s.teams.CreateInvitation(ctx, inv)
}

// OpenInvitations lists what userID may still accept. Users see their own;
// administrators see anyone's.
func (s *Service) OpenInvitations(ctx context.Context, p acl.Principal, userID, teamID int64, limit, offset int) (PaginatedResults[team.Invitation], error) {
	if err := s.requireSelfOrAdmin(ctx, p, userID); err != nil {
		return PaginatedResults[team.Invitation]{}, err
	}
	now := s.now()
	var (
		results []team.Invitation
		total   int64
		err     error
	)
	if teamID != 0 {
		results, err = s.teams.OpenInvitationsByTeamAndUser(ctx, teamID, userID, now, limit, offset)
		if err == nil {
			total, err = s.teams.CountOpenInvitationsByTeamAndUser(ctx, teamID, userID, now)
		}
	} else {
		results, err = s.teams.OpenInvitationsByUser(ctx, userID, now, limit, offset)
		if err == nil {
			total, err = s.teams.CountOpenInvitationsByUser(ctx, userID, now)
		}
	}
	if err != nil {
		return PaginatedResults[team.Invitation]{}, err
	}
	return PaginatedResults[team.Invitation]{Results: results, TotalNumber: total}, nil
}

func (s *Service) AcceptInvitation(ctx context.Context, p acl.Principal, id string) error {
	if err := s.requireUser(p); err != nil {
		return err
	}
	return s.teams.AcceptInvitation(ctx, id, p.ID)
}

// CreateRequest files a request on behalf of the caller.
func (s *Service) CreateRequest(ctx context.Context, p acl.Principal, req team.Request) (team.Request, error) {
	if err := s.requireUser(p); err != nil {
		return team.Request{}, err
	}
	req.RequesterID = p.ID
	ok, err := s.teams.IsMember(ctx, req.TeamID, p.ID)
	if err != nil {
		return team.Request{}, err
	}
	if ok {
		return team.Request{}, apperr.BadRequest("%d is already a member of team %d", p.ID, req.TeamID)
	}
	return s.teams.CreateRequest(ctx, req)
}

func (s *Service) OpenRequests(ctx context.Context, p acl.Principal, teamID, requesterID int64, limit, offset int) (PaginatedResults[team.Request], error) {
	if err := s.requireAdmin(ctx, p); err != nil {
		return PaginatedResults[team.Request]{}, err
	}
	now := s.now()
	var (
		results []team.Request
		total   int64
		err     error
	)
	if requesterID != 0 {
		results, err = s.teams.OpenRequestsByTeamAndRequester(ctx, teamID, requesterID, now, limit, offset)
		if err == nil {
			total, err = s.teams.CountOpenRequestsByTeamAndRequester(ctx, teamID, requesterID, now)
		}
	} else {
		results, err = s.teams.OpenRequestsByTeam(ctx, teamID, now, limit, offset)
		if err == nil {
			total, err = s.teams.CountOpenRequestsByTeam(ctx, teamID, now)
		}
	}
	if err != nil {
		return PaginatedResults[team.Request]{}, err
	}
	return PaginatedResults[team.Request]{Results: results, TotalNumber: total}, nil
}

func (s *Service) requireSelfOrAdmin(ctx context.Context, p acl.Principal, userID int64) error {
	if err := s.requireUser(p); err != nil {
		return err
	}
	if p.ID == userID {
		return nil
	}
	return s.requireAdmin(ctx, p)
}
