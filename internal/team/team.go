// Package team stores team membership and the invitations and requests that
// lead to it. Teams double as ACL groups.
package team

import (
	"context"
	"time"
)

type Invitation struct {
	ID        string     `json:"id"`
	TeamID    int64      `json:"teamId"`
	InviteeID int64      `json:"inviteeId"`
	Message   string     `json:"message,omitempty"`
	CreatedBy int64      `json:"createdBy"`
	CreatedOn time.Time  `json:"createdOn"`
	ExpiresOn *time.Time `json:"expiresOn,omitempty"`
}

type Request struct {
	ID          string     `json:"id"`
	TeamID      int64      `json:"teamId"`
	RequesterID int64      `json:"userId"`
	Message     string     `json:"message,omitempty"`
	CreatedOn   time.Time  `json:"createdOn"`
	ExpiresOn   *time.Time `json:"expiresOn,omitempty"`
}

// Filter narrows open invitation or request queries. Zero fields match all.
// UserID is the invitee for invitations and the requester for requests.
type Filter struct {
	TeamID int64
	UserID int64
}

type Tx interface {
	AddMember(ctx context.Context, teamID, memberID int64) error
	RemoveMember(ctx context.Context, teamID, memberID int64) error
	IsMember(ctx context.Context, teamID, memberID int64) (bool, error)
	ListMembers(ctx context.Context, teamID int64) ([]int64, error)
	TeamsOf(ctx context.Context, memberID int64) ([]int64, error)

	InsertInvitation(ctx context.Context, inv Invitation) error
	GetInvitation(ctx context.Context, id string) (Invitation, error)
	DeleteInvitation(ctx context.Context, id string) error
	// OpenInvitations returns unexpired invitations whose invitee is not yet
	// a member, newest first.
	OpenInvitations(ctx context.Context, f Filter, now time.Time, limit, offset int) ([]Invitation, error)
	CountOpenInvitations(ctx context.Context, f Filter, now time.Time) (int64, error)
	DeleteInvitations(ctx context.Context, teamID, inviteeID int64) error

	InsertRequest(ctx context.Context, req Request) error
	GetRequest(ctx context.Context, id string) (Request, error)
	DeleteRequest(ctx context.Context, id string) error
	OpenRequests(ctx context.Context, f Filter, now time.Time, limit, offset int) ([]Request, error)
	CountOpenRequests(ctx context.Context, f Filter, now time.Time) (int64, error)
	DeleteRequests(ctx context.Context, teamID, requesterID int64) error
}

type Store interface {
	Tx
	InTx(ctx context.Context, fn func(tx Tx) error) error
}
