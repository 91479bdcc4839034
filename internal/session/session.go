// Package session maps opaque bearer tokens to principals.
package session

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"time"

	"collabrepo/api/internal/acl"
)

// Store issues and resolves bearer tokens. Only the token hash is persisted.
type Store interface {
	Issue(ctx context.Context, p acl.Principal, ttl time.Duration) (string, error)
	// Save binds a caller-chosen token, such as a configured bootstrap token.
	Save(ctx context.Context, token string, p acl.Principal, ttl time.Duration) error
	Lookup(ctx context.Context, token string) (acl.Principal, error)
	Revoke(ctx context.Context, token string) error
	Ping(ctx context.Context) error
	Close() error
}

const DefaultTTL = 24 * time.Hour

// Data is the payload kept for each issued token.
type Data struct {
	PrincipalID int64     `json:"principal_id"`
	Groups      []int64   `json:"groups,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

func HashToken(value string) string {
	sum := sha256.Sum256([]byte(value))
	return fmt.Sprintf("%x", sum)
}

func newToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func ttlOrDefault(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return DefaultTTL
	}
	return ttl
}
