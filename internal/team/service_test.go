package team_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"collabrepo/api/internal/apperr"
	"collabrepo/api/internal/store/memory"
	"collabrepo/api/internal/team"
)

const (
	teamA int64 = 10
	teamB int64 = 11
	admin int64 = 1
	user  int64 = 100
	other int64 = 101
)

// newService ticks its clock one second per call so creation order is stable.
func newService() *team.Service {
	svc := team.NewService(memory.NewTeamStore())
	tick := time.Now().UTC()
	team.SetClock(svc, func() time.Time {
		tick = tick.Add(time.Second)
		return tick
	})
	return svc
}

func ptr(t time.Time) *time.Time { return &t }

func TestMembershipAndGroups(t *testing.T) {
	svc := newService()
	ctx := context.Background()

	require.NoError(t, svc.AddMember(ctx, teamA, user))
	require.NoError(t, svc.AddMember(ctx, teamB, user))
	require.NoError(t, svc.AddMember(ctx, teamA, user), "adding twice is harmless")
	require.NoError(t, svc.AddMember(ctx, teamA, other))

	members, err := svc.ListMembers(ctx, teamA)
	require.NoError(t, err)
	assert.Equal(t, []int64{user, other}, members)

	groups, err := svc.GroupsOf(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, []int64{teamA, teamB}, groups)

	require.NoError(t, svc.RemoveMember(ctx, teamA, user))
	ok, err := svc.IsMember(ctx, teamA, user)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.True(t, apperr.Is(svc.RemoveMember(ctx, teamA, user), apperr.KindNotFound))

	assert.True(t, apperr.Is(svc.AddMember(ctx, 0, user), apperr.KindBadRequest))
}

func TestOpenInvitationsByUser(t *testing.T) {
	svc := newService()
	ctx := context.Background()
	now := time.Now().UTC()

	open, err := svc.CreateInvitation(ctx, team.Invitation{TeamID: teamA, InviteeID: user, CreatedBy: admin})
	require.NoError(t, err)
	future, err := svc.CreateInvitation(ctx, team.Invitation{TeamID: teamB, InviteeID: user, CreatedBy: admin, ExpiresOn: ptr(now.Add(time.Hour))})
	require.NoError(t, err)
	_, err = svc.CreateInvitation(ctx, team.Invitation{TeamID: 12, InviteeID: user, CreatedBy: admin, ExpiresOn: ptr(now.Add(-time.Hour))})
	require.NoError(t, err)
	_, err = svc.CreateInvitation(ctx, team.Invitation{TeamID: teamA, InviteeID: other, CreatedBy: admin})
	require.NoError(t, err)

	got, err := svc.OpenInvitationsByUser(ctx, user, now, 10, 0)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, future.ID, got[0].ID, "newest first")
	assert.Equal(t, open.ID, got[1].ID)

	count, err := svc.CountOpenInvitationsByUser(ctx, user, now)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	paged, err := svc.OpenInvitationsByUser(ctx, user, now, 1, 1)
	require.NoError(t, err)
	require.Len(t, paged, 1)
	assert.Equal(t, open.ID, paged[0].ID)

	require.NoError(t, svc.AddMember(ctx, teamA, user))
	got, err = svc.OpenInvitationsByUser(ctx, user, now, 10, 0)
	require.NoError(t, err)
	require.Len(t, got, 1, "invitations to teams the user joined are no longer open")
	assert.Equal(t, future.ID, got[0].ID)

	byTeam, err := svc.OpenInvitationsByTeamAndUser(ctx, teamB, user, now, 10, 0)
	require.NoError(t, err)
	assert.Len(t, byTeam, 1)
	n, err := svc.CountOpenInvitationsByTeamAndUser(ctx, teamA, user, now)
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = svc.OpenInvitationsByUser(ctx, user, now, 0, 0)
	assert.True(t, apperr.Is(err, apperr.KindBadRequest))
}

func TestOpenInvitationsWithNoMembershipsAtAll(t *testing.T) {
	svc := newService()
	ctx := context.Background()

	_, err := svc.CreateInvitation(ctx, team.Invitation{TeamID: teamA, InviteeID: user})
	require.NoError(t, err)

	got, err := svc.OpenInvitationsByUser(ctx, user, time.Now(), 10, 0)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestAcceptInvitation(t *testing.T) {
	svc := newService()
	ctx := context.Background()

	inv, err := svc.CreateInvitation(ctx, team.Invitation{TeamID: teamA, InviteeID: user})
	require.NoError(t, err)
	_, err = svc.CreateInvitation(ctx, team.Invitation{TeamID: teamA, InviteeID: user, Message: "again"})
	require.NoError(t, err)
	_, err = svc.CreateRequest(ctx, team.Request{TeamID: teamA, RequesterID: user})
	require.NoError(t, err)

	err = svc.AcceptInvitation(ctx, inv.ID, other)
	assert.True(t, apperr.Is(err, apperr.KindAccessDenied))

	require.NoError(t, svc.AcceptInvitation(ctx, inv.ID, user))
	ok, err := svc.IsMember(ctx, teamA, user)
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = svc.GetInvitation(ctx, inv.ID)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
	n, err := svc.CountOpenRequestsByTeam(ctx, teamA, time.Now())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestAcceptExpiredInvitationChangesNothing(t *testing.T) {
	svc := newService()
	ctx := context.Background()

	inv, err := svc.CreateInvitation(ctx, team.Invitation{TeamID: teamA, InviteeID: user, ExpiresOn: ptr(time.Now().Add(-time.Minute))})
	require.NoError(t, err)

	err = svc.AcceptInvitation(ctx, inv.ID, user)
	assert.True(t, apperr.Is(err, apperr.KindBadRequest))
	ok, err := svc.IsMember(ctx, teamA, user)
	require.NoError(t, err)
	assert.False(t, ok)
	_, err = svc.GetInvitation(ctx, inv.ID)
	assert.NoError(t, err)
}

func TestOpenRequests(t *testing.T) {
	svc := newService()
	ctx := context.Background()
	now := time.Now().UTC()

	first, err := svc.CreateRequest(ctx, team.Request{TeamID: teamA, RequesterID: user})
	require.NoError(t, err)
	second, err := svc.CreateRequest(ctx, team.Request{TeamID: teamA, RequesterID: other})
	require.NoError(t, err)
	_, err = svc.CreateRequest(ctx, team.Request{TeamID: teamB, RequesterID: user})
	require.NoError(t, err)

	got, err := svc.OpenRequestsByTeam(ctx, teamA, now, 10, 0)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, second.ID, got[0].ID)
	assert.Equal(t, first.ID, got[1].ID)

	mine, err := svc.OpenRequestsByTeamAndRequester(ctx, teamA, user, now, 10, 0)
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, first.ID, mine[0].ID)

	require.NoError(t, svc.DeleteRequestsByTeamAndRequester(ctx, teamA, user))
	n, err := svc.CountOpenRequestsByTeamAndRequester(ctx, teamA, user, now)
	require.NoError(t, err)
	assert.Zero(t, n)

	require.NoError(t, svc.DeleteRequest(ctx, second.ID))
	assert.True(t, apperr.Is(svc.DeleteRequest(ctx, second.ID), apperr.KindNotFound))
}
