package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"collabrepo/api/internal/apperr"
	"collabrepo/api/internal/team"
)

type membership struct {
	teamID   int64
	memberID int64
}

type teamState struct {
	members     map[membership]bool
	invitations map[string]team.Invitation
	requests    map[string]team.Request
}

func (s *teamState) clone() *teamState {
	next := &teamState{
		members:     make(map[membership]bool, len(s.members)),
		invitations: make(map[string]team.Invitation, len(s.invitations)),
		requests:    make(map[string]team.Request, len(s.requests)),
	}
	for k, v := range s.members {
		next.members[k] = v
	}
	for k, v := range s.invitations {
		next.invitations[k] = v
	}
	for k, v := range s.requests {
		next.requests[k] = v
	}
	return next
}

// TeamStore serializes every call on one mutex; there are no long scans to
// run concurrently with writers.
type TeamStore struct {
	mu    sync.Mutex
	state *teamState
}

func NewTeamStore() *TeamStore {
	return &TeamStore{state: &teamState{
		members:     make(map[membership]bool),
		invitations: make(map[string]team.Invitation),
		requests:    make(map[string]team.Request),
	}}
}

func (s *TeamStore) InTx(ctx context.Context, fn func(tx team.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.state.clone()
	if err := fn(teamTx{work}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.state = work
	return nil
}

// do runs one call against the live state under the lock.
func (s *TeamStore) do(fn func(tx teamTx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(teamTx{s.state})
}

func (s *TeamStore) AddMember(ctx context.Context, teamID, memberID int64) error {
	return s.do(func(tx teamTx) error { return tx.AddMember(ctx, teamID, memberID) })
}

func (s *TeamStore) RemoveMember(ctx context.Context, teamID, memberID int64) error {
	return s.do(func(tx teamTx) error { return tx.RemoveMember(ctx, teamID, memberID) })
}

func (s *TeamStore) IsMember(ctx context.Context, teamID, memberID int64) (ok bool, err error) {
	err = s.do(func(tx teamTx) error { ok, err = tx.IsMember(ctx, teamID, memberID); return err })
	return ok, err
}

func (s *TeamStore) ListMembers(ctx context.Context, teamID int64) (ids []int64, err error) {
	err = s.do(func(tx teamTx) error { ids, err = tx.ListMembers(ctx, teamID); return err })
	return ids, err
}

func (s *TeamStore) TeamsOf(ctx context.Context, memberID int64) (ids []int64, err error) {
	err = s.do(func(tx teamTx) error { ids, err = tx.TeamsOf(ctx, memberID); return err })
	return ids, err
}

func (s *TeamStore) InsertInvitation(ctx context.Context, inv team.Invitation) error {
	return s.do(func(tx teamTx) error { return tx.InsertInvitation(ctx, inv) })
}

func (s *TeamStore) GetInvitation(ctx context.Context, id string) (inv team.Invitation, err error) {
	err = s.do(func(tx teamTx) error { inv, err = tx.GetInvitation(ctx, id); return err })
	return inv, err
}

func (s *TeamStore) DeleteInvitation(ctx context.Context, id string) error {
	return s.do(func(tx teamTx) error { return tx.DeleteInvitation(ctx, id) })
}

func (s *TeamStore) OpenInvitations(ctx context.Context, f team.Filter, now time.Time, limit, offset int) (out []team.Invitation, err error) {
	err = s.do(func(tx teamTx) error { out, err = tx.OpenInvitations(ctx, f, now, limit, offset); return err })
	return out, err
}

func (s *TeamStore) CountOpenInvitations(ctx context.Context, f team.Filter, now time.Time) (n int64, err error) {
	err = s.do(func(tx teamTx) error { n, err = tx.CountOpenInvitations(ctx, f, now); return err })
	return n, err
}

func (s *TeamStore) DeleteInvitations(ctx context.Context, teamID, inviteeID int64) error {
	return s.do(func(tx teamTx) error { return tx.DeleteInvitations(ctx, teamID, inviteeID) })
}

func (s *TeamStore) InsertRequest(ctx context.Context, req team.Request) error {
	return s.do(func(tx teamTx) error { return tx.InsertRequest(ctx, req) })
}

func (s *TeamStore) GetRequest(ctx context.Context, id string) (req team.Request, err error) {
	err = s.do(func(tx teamTx) error { req, err = tx.GetRequest(ctx, id); return err })
	return req, err
}

func (s *TeamStore) DeleteRequest(ctx context.Context, id string) error {
	return s.do(func(tx teamTx) error { return tx.DeleteRequest(ctx, id) })
}

func (s *TeamStore) OpenRequests(ctx context.Context, f team.Filter, now time.Time, limit, offset int) (out []team.Request, err error) {
	err = s.do(func(tx teamTx) error { out, err = tx.OpenRequests(ctx, f, now, limit, offset); return err })
	return out, err
}

func (s *TeamStore) CountOpenRequests(ctx context.Context, f team.Filter, now time.Time) (n int64, err error) {
	err = s.do(func(tx teamTx) error { n, err = tx.CountOpenRequests(ctx, f, now); return err })
	return n, err
}

func (s *TeamStore) DeleteRequests(ctx context.Context, teamID, requesterID int64) error {
	return s.do(func(tx teamTx) error { return tx.DeleteRequests(ctx, teamID, requesterID) })
}

type teamTx struct {
	state *teamState
}

func (t teamTx) AddMember(_ context.Context, teamID, memberID int64) error {
	t.state.members[membership{teamID, memberID}] = true
	return nil
}

func (t teamTx) RemoveMember(_ context.Context, teamID, memberID int64) error {
	key := membership{teamID, memberID}
	if !t.state.members[key] {
		return apperr.NotFound("%d is not a member of team %d", memberID, teamID)
	}
	delete(t.state.members, key)
	return nil
}

func (t teamTx) IsMember(_ context.Context, teamID, memberID int64) (bool, error) {
	return t.state.members[membership{teamID, memberID}], nil
}

func (t teamTx) ListMembers(_ context.Context, teamID int64) ([]int64, error) {
	ids := make([]int64, 0)
	for m := range t.state.members {
		if m.teamID == teamID {
			ids = append(ids, m.memberID)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (t teamTx) TeamsOf(_ context.Context, memberID int64) ([]int64, error) {
	ids := make([]int64, 0)
	for m := range t.state.members {
		if m.memberID == memberID {
			ids = append(ids, m.teamID)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (t teamTx) InsertInvitation(_ context.Context, inv team.Invitation) error {
	if _, ok := t.state.invitations[inv.ID]; ok {
		return apperr.BadRequest("invitation %s already exists", inv.ID)
	}
	t.state.invitations[inv.ID] = inv
	return nil
}

func (t teamTx) GetInvitation(_ context.Context, id string) (team.Invitation, error) {
	inv, ok := t.state.invitations[id]
	if !ok {
		return team.Invitation{}, apperr.NotFound("invitation %s does not exist", id)
	}
	return inv, nil
}

func (t teamTx) DeleteInvitation(_ context.Context, id string) error {
	if _, ok := t.state.invitations[id]; !ok {
		return apperr.NotFound("invitation %s does not exist", id)
	}
	delete(t.state.invitations, id)
	return nil
}

func (t teamTx) openInvitations(f team.Filter, now time.Time) []team.Invitation {
	out := make([]team.Invitation, 0)
	for _, inv := range t.state.invitations {
		if f.TeamID != 0 && inv.TeamID != f.TeamID {
			continue
		}
		if f.UserID != 0 && inv.InviteeID != f.UserID {
			continue
		}
		if inv.ExpiresOn != nil && !inv.ExpiresOn.After(now) {
			continue
		}
		if t.state.members[membership{inv.TeamID, inv.InviteeID}] {
			continue
		}
		out = append(out, inv)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedOn.Equal(out[j].CreatedOn) {
			return out[i].CreatedOn.After(out[j].CreatedOn)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (t teamTx) OpenInvitations(_ context.Context, f team.Filter, now time.Time, limit, offset int) ([]team.Invitation, error) {
	return page(t.openInvitations(f, now), limit, offset), nil
}

func (t teamTx) CountOpenInvitations(_ context.Context, f team.Filter, now time.Time) (int64, error) {
	return int64(len(t.openInvitations(f, now))), nil
}

func (t teamTx) DeleteInvitations(_ context.Context, teamID, inviteeID int64) error {
	for id, inv := range t.state.invitations {
		if inv.TeamID == teamID && inv.InviteeID == inviteeID {
			delete(t.state.invitations, id)
		}
	}
	return nil
}

func (t teamTx) InsertRequest(_ context.Context, req team.Request) error {
	if _, ok := t.state.requests[req.ID]; ok {
		return apperr.BadRequest("membership request %s already exists", req.ID)
	}
	t.state.requests[req.ID] = req
	return nil
}

func (t teamTx) GetRequest(_ context.Context, id string) (team.Request, error) {
	req, ok := t.state.requests[id]
	if !ok {
		return team.Request{}, apperr.NotFound("membership request %s does not exist", id)
	}
	return req, nil
}

func (t teamTx) DeleteRequest(_ context.Context, id string) error {
	if _, ok := t.state.requests[id]; !ok {
		return apperr.NotFound("membership request %s does not exist", id)
	}
	delete(t.state.requests, id)
	return nil
}

func (t teamTx) openRequests(f team.Filter, now time.Time) []team.Request {
	out := make([]team.Request, 0)
	for _, req := range t.state.requests {
		if f.TeamID != 0 && req.TeamID != f.TeamID {
			continue
		}
		if f.UserID != 0 && req.RequesterID != f.UserID {
			continue
		}
		if req.ExpiresOn != nil && !req.ExpiresOn.After(now) {
			continue
		}
		if t.state.members[membership{req.TeamID, req.RequesterID}] {
			continue
		}
		out = append(out, req)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedOn.Equal(out[j].CreatedOn) {
			return out[i].CreatedOn.After(out[j].CreatedOn)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (t teamTx) OpenRequests(_ context.Context, f team.Filter, now time.Time, limit, offset int) ([]team.Request, error) {
	return page(t.openRequests(f, now), limit, offset), nil
}

func (t teamTx) CountOpenRequests(_ context.Context, f team.Filter, now time.Time) (int64, error) {
	return int64(len(t.openRequests(f, now))), nil
}

func (t teamTx) DeleteRequests(_ context.Context, teamID, requesterID int64) error {
	for id, req := range t.state.requests {
		if req.TeamID == teamID && req.RequesterID == requesterID {
			delete(t.state.requests, id)
		}
	}
	return nil
}

func page[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return make([]T, 0)
	}
	end := offset + limit
	if end > len(items) {
		end = len(items)
	}
	return items[offset:end]
}
