package wiki_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"collabrepo/api/internal/apperr"
	"collabrepo/api/internal/wiki"
)

func TestConcurrentUpdatesWithOneEtag(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()
	root := createPage(t, svc, "Root", "")

	const writers = 16
	var wg sync.WaitGroup
	errs := make([]error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			next := root
			next.Title = "Edited"
			_, errs[i] = svc.UpdateWikiPage(ctx, next, nil, owner, nil)
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.True(t, apperr.Is(err, apperr.KindConflictingUpdate), "%v", err)
	}
	assert.Equal(t, 1, succeeded)

	history, err := svc.GetHistory(ctx, keyOf(root), 100, 0)
	require.NoError(t, err)
	require.Len(t, history, 2)
	for i, snap := range history {
		assert.Equal(t, int64(len(history)-i), snap.Version, "versions have no gaps")
	}
}

func TestConcurrentOppositeReparentsNeverCycle(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()
	root := createPage(t, svc, "Root", "")
	a := createPage(t, svc, "A", root.ID)
	b := createPage(t, svc, "B", root.ID)

	for round := 0; round < 20; round++ {
		var err error
		a, err = svc.Get(ctx, keyOf(a))
		require.NoError(t, err)
		b, err = svc.Get(ctx, keyOf(b))
		require.NoError(t, err)

		var wg sync.WaitGroup
		errs := make([]error, 2)
		move := func(i int, page wiki.Page, parent string) {
			defer wg.Done()
			page.ParentID = parent
			_, errs[i] = svc.UpdateWikiPage(ctx, page, nil, owner, nil)
		}
		wg.Add(2)
		go move(0, a, b.ID)
		go move(1, b, a.ID)
		wg.Wait()

		succeeded := 0
		for _, err := range errs {
			if err == nil {
				succeeded++
				continue
			}
			assert.True(t, apperr.Is(err, apperr.KindCycleDetected), "round %d: %v", round, err)
		}
		require.Equal(t, 1, succeeded, "round %d", round)

		for _, page := range []wiki.Page{a, b} {
			assert.True(t, reachesRoot(t, svc, page.ID, root.ID), "round %d: %s is cut off from the root", round, page.Title)
		}

		for _, page := range []wiki.Page{a, b} {
			current, err := svc.Get(ctx, keyOf(page))
			require.NoError(t, err)
			if current.ParentID != root.ID {
				current.ParentID = root.ID
				_, err = svc.UpdateWikiPage(ctx, current, nil, owner, nil)
				require.NoError(t, err)
			}
		}
	}
}

func reachesRoot(t *testing.T, svc *wiki.Service, id, rootID string) bool {
	t.Helper()
	for hops := 0; hops < 10; hops++ {
		if id == rootID {
			return true
		}
		page, err := svc.Get(context.Background(), wiki.Key{OwnerKey: owner, WikiID: id})
		require.NoError(t, err)
		id = page.ParentID
	}
	return false
}
