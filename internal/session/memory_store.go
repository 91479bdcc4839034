package session

import (
	"context"
	"sync"
	"time"

	"collabrepo/api/internal/acl"
	"collabrepo/api/internal/apperr"
)

type memoryEntry struct {
	data      Data
	expiresAt time.Time
}

// MemoryStore is used when no redis url is configured.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]memoryEntry), now: time.Now}
}

func (s *MemoryStore) Issue(ctx context.Context, p acl.Principal, ttl time.Duration) (string, error) {
	token, err := newToken()
	if err != nil {
		return "", err
	}
	if err := s.Save(ctx, token, p, ttl); err != nil {
		return "", err
	}
	return token, nil
}

func (s *MemoryStore) Save(_ context.Context, token string, p acl.Principal, ttl time.Duration) error {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[HashToken(token)] = memoryEntry{
		data:      Data{PrincipalID: p.ID, Groups: append([]int64(nil), p.Groups...), CreatedAt: now.UTC()},
		expiresAt: now.Add(ttlOrDefault(ttl)),
	}
	return nil
}

func (s *MemoryStore) Lookup(_ context.Context, token string) (acl.Principal, error) {
	key := HashToken(token)
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[key]
	if !ok {
		return acl.Principal{}, apperr.Unauthorized("token not found or expired")
	}
	if !s.now().Before(entry.expiresAt) {
		delete(s.entries, key)
		return acl.Principal{}, apperr.Unauthorized("token not found or expired")
	}
	return acl.Principal{ID: entry.data.PrincipalID, Groups: append([]int64(nil), entry.data.Groups...)}, nil
}

func (s *MemoryStore) Revoke(_ context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, HashToken(token))
	return nil
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }
