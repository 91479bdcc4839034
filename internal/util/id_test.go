package util

import (
	"strings"
	"testing"
)

func TestNewIDPrefix(t *testing.T) {
	id := NewID("wiki")
	if !strings.HasPrefix(id, "wiki_") {
		t.Fatalf("expected wiki_ prefix, got %q", id)
	}
	if len(id) != len("wiki_")+32 {
		t.Fatalf("unexpected id length %d for %q", len(id), id)
	}
	if NewID("") == NewID("") {
		t.Fatalf("expected distinct ids")
	}
}

func TestNewEtagIsUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		etag := NewEtag()
		if seen[etag] {
			t.Fatalf("duplicate etag %q", etag)
		}
		seen[etag] = true
	}
}
