package app

import (
	"context"
	"fmt"
	"io"
	"time"

	"collabrepo/api/internal/acl"
	"collabrepo/api/internal/apperr"
	"collabrepo/api/internal/blob"
	"collabrepo/api/internal/session"
	"collabrepo/api/internal/team"
	"collabrepo/api/internal/wiki"
)

// Deps are the collaborators a Service orchestrates. Ping reports backing
// store health and may be nil.
type Deps struct {
	Wikis      *wiki.Service
	ACLs       *acl.Service
	Teams      *team.Service
	Blobs      blob.Store
	Sessions   session.Store
	Principals acl.Principals
	SessionTTL time.Duration
	// MaxUploadBytes caps a single file upload; zero means DefaultMaxUploadBytes.
	MaxUploadBytes int64
	Ping           func(context.Context) error
}

const DefaultMaxUploadBytes int64 = 64 << 20

// Service authorizes every call against the entity ACLs before handing it to
// the core services.
type Service struct {
	wikis      *wiki.Service
	acls       *acl.Service
	teams      *team.Service
	blobs      blob.Store
	sessions   session.Store
	principals acl.Principals
	sessionTTL time.Duration
	maxUpload  int64
	ping       func(context.Context) error
	now        func() time.Time
}

func NewService(d Deps) *Service {
	if d.MaxUploadBytes <= 0 {
		d.MaxUploadBytes = DefaultMaxUploadBytes
	}
	return &Service{
		wikis:      d.Wikis,
		acls:       d.ACLs,
		teams:      d.Teams,
		blobs:      d.Blobs,
		sessions:   d.Sessions,
		principals: d.Principals,
		sessionTTL: d.SessionTTL,
		maxUpload:  d.MaxUploadBytes,
		ping:       d.Ping,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) Ping(ctx context.Context) error {
	if s.sessions != nil {
		if err := s.sessions.Ping(ctx); err != nil {
			return fmt.Errorf("session store: %w", err)
		}
	}
	if s.ping == nil {
		return nil
	}
	return s.ping(ctx)
}

// PrincipalFromToken resolves a bearer token. An empty token is the
// anonymous user.
func (s *Service) PrincipalFromToken(ctx context.Context, token string) (acl.Principal, error) {
	if token == "" {
		return acl.Principal{ID: s.principals.AnonymousUserID}, nil
	}
	return s.sessions.Lookup(ctx, token)
}

// IssueSession mints a token for principalID. Only administrators may do so.
func (s *Service) IssueSession(ctx context.Context, caller acl.Principal, principalID int64, ttl time.Duration) (string, error) {
	if err := s.requireAdmin(ctx, caller); err != nil {
		return "", err
	}
	if principalID <= 0 {
		return "", apperr.BadRequest("principal id is required")
	}
	if ttl <= 0 {
		ttl = s.sessionTTL
	}
	return s.sessions.Issue(ctx, acl.Principal{ID: principalID}, ttl)
}

func (s *Service) RevokeSession(ctx context.Context, token string) error {
	if token == "" {
		return apperr.Unauthorized("no bearer token")
	}
	return s.sessions.Revoke(ctx, token)
}

func (s *Service) anonymous(p acl.Principal) bool {
	return p.ID == 0 || p.ID == s.principals.AnonymousUserID
}

func (s *Service) requireUser(p acl.Principal) error {
	if s.anonymous(p) {
		return apperr.Unauthorized("sign in required")
	}
	return nil
}

func (s *Service) isAdmin(ctx context.Context, p acl.Principal) (bool, error) {
	if s.anonymous(p) {
		return false, nil
	}
	for _, g := range p.Groups {
		if g == s.principals.AdminGroupID {
			return true, nil
		}
	}
	return s.teams.IsMember(ctx, s.principals.AdminGroupID, p.ID)
}

func (s *Service) requireAdmin(ctx context.Context, p acl.Principal) error {
	if err := s.requireUser(p); err != nil {
		return err
	}
	ok, err := s.isAdmin(ctx, p)
	if err != nil {
		return err
	}
	if !ok {
		return apperr.AccessDenied("administrator access required")
	}
	return nil
}

func (s *Service) UploadFile(ctx context.Context, p acl.Principal, fileName, contentType string, body io.Reader) (blob.FileHandle, error) {
	if err := s.requireUser(p); err != nil {
		return blob.FileHandle{}, err
	}
	if fileName == "" {
		return blob.FileHandle{}, apperr.BadRequest("file name is required")
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return blob.FileHandle{}, apperr.Wrap(apperr.KindBadRequest, err, "read upload")
	}
	return s.blobs.Put(ctx, blob.PutInput{FileName: fileName, ContentType: contentType, Data: data, CreatedBy: p.ID})
}

func (s *Service) GetFileHandle(ctx context.Context, p acl.Principal, id string) (blob.FileHandle, error) {
	if err := s.requireUser(p); err != nil {
		return blob.FileHandle{}, err
	}
	return s.blobs.Stat(ctx, id)
}
