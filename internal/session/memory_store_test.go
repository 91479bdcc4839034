package session

import (
	"context"
	"testing"
	"time"

	"collabrepo/api/internal/acl"
	"collabrepo/api/internal/apperr"
)

func TestMemoryStoreExpiry(t *testing.T) {
	store := NewMemoryStore()
	now := time.Unix(1_700_000_000, 0)
	store.now = func() time.Time { return now }
	ctx := context.Background()

	token, err := store.Issue(ctx, acl.Principal{ID: 9}, time.Minute)
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	if p, err := store.Lookup(ctx, token); err != nil || p.ID != 9 {
		t.Fatalf("Lookup = %+v, %v", p, err)
	}

	now = now.Add(time.Minute)
	if _, err := store.Lookup(ctx, token); !apperr.Is(err, apperr.KindUnauthorized) {
		t.Fatalf("expected unauthorized after expiry, got %v", err)
	}
}

func TestMemoryStoreRevoke(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	token, err := store.Issue(ctx, acl.Principal{ID: 9}, 0)
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	if err := store.Revoke(ctx, token); err != nil {
		t.Fatalf("Revoke failed: %v", err)
	}
	if _, err := store.Lookup(ctx, token); err == nil {
		t.Fatal("expected error after revoke")
	}
}
