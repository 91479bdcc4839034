package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"collabrepo/api/internal/team"
)

type invitationRow struct {
	ID        string     `db:"id"`
	TeamID    int64      `db:"team_id"`
	InviteeID int64      `db:"invitee_id"`
	Message   string     `db:"message"`
	CreatedBy int64      `db:"created_by"`
	CreatedOn time.Time  `db:"created_on"`
	ExpiresOn *time.Time `db:"expires_on"`
}

func (r invitationRow) invitation() team.Invitation {
	return team.Invitation{
		ID:        r.ID,
		TeamID:    r.TeamID,
		InviteeID: r.InviteeID,
		Message:   r.Message,
		CreatedBy: r.CreatedBy,
		CreatedOn: r.CreatedOn.UTC(),
		ExpiresOn: utcPtr(r.ExpiresOn),
	}
}

type requestRow struct {
	ID          string     `db:"id"`
	TeamID      int64      `db:"team_id"`
	RequesterID int64      `db:"requester_id"`
	Message     string     `db:"message"`
	CreatedOn   time.Time  `db:"created_on"`
	ExpiresOn   *time.Time `db:"expires_on"`
}

func (r requestRow) request() team.Request {
	return team.Request{
		ID:          r.ID,
		TeamID:      r.TeamID,
		RequesterID: r.RequesterID,
		Message:     r.Message,
		CreatedOn:   r.CreatedOn.UTC(),
		ExpiresOn:   utcPtr(r.ExpiresOn),
	}
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

type TeamStore struct {
	teamQueries
	db *sqlx.DB
}

func NewTeamStore(db *sqlx.DB) *TeamStore {
	return &TeamStore{teamQueries: teamQueries{q: db}, db: db}
}

func (s *TeamStore) InTx(ctx context.Context, fn func(tx team.Tx) error) error {
	return inTx(ctx, s.db, func(tx *sqlx.Tx) error {
		return fn(teamQueries{q: tx})
	})
}

type teamQueries struct {
	q sqlx.ExtContext
}

func (t teamQueries) AddMember(ctx context.Context, teamID, memberID int64) error {
	_, err := t.q.ExecContext(ctx, `
		INSERT INTO team_members (team_id, member_id) VALUES ($1, $2)
		ON CONFLICT (team_id, member_id) DO NOTHING
	`, teamID, memberID)
	return mapError(err, "membership of %d in team %d", memberID, teamID)
}

func (t teamQueries) RemoveMember(ctx context.Context, teamID, memberID int64) error {
	res, err := t.q.ExecContext(ctx, `DELETE FROM team_members WHERE team_id = $1 AND member_id = $2`, teamID, memberID)
	if err != nil {
		return mapError(err, "membership of %d in team %d", memberID, teamID)
	}
	return expectRows(res, "%d is not a member of team %d", memberID, teamID)
}

func (t teamQueries) IsMember(ctx context.Context, teamID, memberID int64) (bool, error) {
	var ok bool
	if err := sqlx.GetContext(ctx, t.q, &ok, `
		SELECT EXISTS(SELECT 1 FROM team_members WHERE team_id = $1 AND member_id = $2)
	`, teamID, memberID); err != nil {
		return false, fmt.Errorf("check membership: %w", err)
	}
	return ok, nil
}

func (t teamQueries) ListMembers(ctx context.Context, teamID int64) ([]int64, error) {
	ids := make([]int64, 0)
	if err := sqlx.SelectContext(ctx, t.q, &ids, `SELECT member_id FROM team_members WHERE team_id = $1 ORDER BY member_id`, teamID); err != nil {
		return nil, fmt.Errorf("list members of team %d: %w", teamID, err)
	}
	return ids, nil
}

func (t teamQueries) TeamsOf(ctx context.Context, memberID int64) ([]int64, error) {
	ids := make([]int64, 0)
	if err := sqlx.SelectContext(ctx, t.q, &ids, `SELECT team_id FROM team_members WHERE member_id = $1 ORDER BY team_id`, memberID); err != nil {
		return nil, fmt.Errorf("list teams of %d: %w", memberID, err)
	}
	return ids, nil
}

func (t teamQueries) InsertInvitation(ctx context.Context, inv team.Invitation) error {
	_, err := t.q.ExecContext(ctx, `
		INSERT INTO membership_invitations (id, team_id, invitee_id, message, created_by, created_on, expires_on)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, inv.ID, inv.TeamID, inv.InviteeID, inv.Message, inv.CreatedBy, inv.CreatedOn, inv.ExpiresOn)
	return mapError(err, "invitation %s", inv.ID)
}

func (t teamQueries) GetInvitation(ctx context.Context, id string) (team.Invitation, error) {
	var row invitationRow
	if err := sqlx.GetContext(ctx, t.q, &row, `
		SELECT id, team_id, invitee_id, message, created_by, created_on, expires_on
		FROM membership_invitations WHERE id = $1
	`, id); err != nil {
		return team.Invitation{}, mapError(err, "invitation %s", id)
	}
	return row.invitation(), nil
}

func (t teamQueries) DeleteInvitation(ctx context.Context, id string) error {
	res, err := t.q.ExecContext(ctx, `DELETE FROM membership_invitations WHERE id = $1`, id)
	if err != nil {
		return mapError(err, "invitation %s", id)
	}
	return expectRows(res, "invitation %s does not exist", id)
}

// openClause builds the WHERE clause shared by open invitation and request
// queries. The membership test is NOT EXISTS so that callers with no
// memberships at all still see their rows.
func openClause(userColumn string, f team.Filter, now time.Time) (string, []any) {
	clause := ` WHERE (o.expires_on IS NULL OR o.expires_on > $1)
		AND NOT EXISTS (
			SELECT 1 FROM team_members m WHERE m.team_id = o.team_id AND m.member_id = o.` + userColumn + `
		)`
	args := []any{now}
	argIndex := 2

	if f.TeamID != 0 {
		clause += fmt.Sprintf(" AND o.team_id = $%d", argIndex)
		args = append(args, f.TeamID)
		argIndex++
	}
	if f.UserID != 0 {
		clause += fmt.Sprintf(" AND o.%s = $%d", userColumn, argIndex)
		args = append(args, f.UserID)
	}
	return clause, args
}

func pageClause(args []any, limit, offset int) (string, []any) {
	n := len(args)
	return fmt.Sprintf(" ORDER BY o.created_on DESC, o.id LIMIT $%d OFFSET $%d", n+1, n+2), append(args, limit, offset)
}

func (t teamQueries) OpenInvitations(ctx context.Context, f team.Filter, now time.Time, limit, offset int) ([]team.Invitation, error) {
	where, args := openClause("invitee_id", f, now)
	paging, args := pageClause(args, limit, offset)

	var rows []invitationRow
	if err := sqlx.SelectContext(ctx, t.q, &rows, `
		SELECT o.id, o.team_id, o.invitee_id, o.message, o.created_by, o.created_on, o.expires_on
		FROM membership_invitations o`+where+paging, args...); err != nil {
		return nil, fmt.Errorf("list open invitations: %w", err)
	}
	out := make([]team.Invitation, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.invitation())
	}
	return out, nil
}

func (t teamQueries) CountOpenInvitations(ctx context.Context, f team.Filter, now time.Time) (int64, error) {
	where, args := openClause("invitee_id", f, now)
	var n int64
	if err := sqlx.GetContext(ctx, t.q, &n, `SELECT COUNT(*) FROM membership_invitations o`+where, args...); err != nil {
		return 0, fmt.Errorf("count open invitations: %w", err)
	}
	return n, nil
}

func (t teamQueries) DeleteInvitations(ctx context.Context, teamID, inviteeID int64) error {
	_, err := t.q.ExecContext(ctx, `DELETE FROM membership_invitations WHERE team_id = $1 AND invitee_id = $2`, teamID, inviteeID)
	return mapError(err, "invitations of %d to team %d", inviteeID, teamID)
}

func (t teamQueries) InsertRequest(ctx context.Context, req team.Request) error {
	_, err := t.q.ExecContext(ctx, `
		INSERT INTO membership_requests (id, team_id, requester_id, message, created_on, expires_on)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, req.ID, req.TeamID, req.RequesterID, req.Message, req.CreatedOn, req.ExpiresOn)
	return mapError(err, "membership request %s", req.ID)
}

func (t teamQueries) GetRequest(ctx context.Context, id string) (team.Request, error) {
	var row requestRow
	if err := sqlx.GetContext(ctx, t.q, &row, `
		SELECT id, team_id, requester_id, message, created_on, expires_on
		FROM membership_requests WHERE id = $1
	`, id); err != nil {
		return team.Request{}, mapError(err, "membership request %s", id)
	}
	return row.request(), nil
}

func (t teamQueries) DeleteRequest(ctx context.Context, id string) error {
	res, err := t.q.ExecContext(ctx, `DELETE FROM membership_requests WHERE id = $1`, id)
	if err != nil {
		return mapError(err, "membership request %s", id)
	}
	return expectRows(res, "membership request %s does not exist", id)
}

func (t teamQueries) OpenRequests(ctx context.Context, f team.Filter, now time.Time, limit, offset int) ([]team.Request, error) {
	where, args := openClause("requester_id", f, now)
	paging, args := pageClause(args, limit, offset)

	var rows []requestRow
	if err := sqlx.SelectContext(ctx, t.q, &rows, `
		SELECT o.id, o.team_id, o.requester_id, o.message, o.created_on, o.expires_on
		FROM membership_requests o`+where+paging, args...); err != nil {
		return nil, fmt.Errorf("list open membership requests: %w", err)
	}
	out := make([]team.Request, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.request())
	}
	return out, nil
}

func (t teamQueries) CountOpenRequests(ctx context.Context, f team.Filter, now time.Time) (int64, error) {
	where, args := openClause("requester_id", f, now)
	var n int64
	if err := sqlx.GetContext(ctx, t.q, &n, `SELECT COUNT(*) FROM membership_requests o`+where, args...); err != nil {
		return 0, fmt.Errorf("count open membership requests: %w", err)
	}
	return n, nil
}

func (t teamQueries) DeleteRequests(ctx context.Context, teamID, requesterID int64) error {
	_, err := t.q.ExecContext(ctx, `DELETE FROM membership_requests WHERE team_id = $1 AND requester_id = $2`, teamID, requesterID)
	return mapError(err, "membership requests of %d to team %d", requesterID, teamID)
}
