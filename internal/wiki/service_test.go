package wiki_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"collabrepo/api/internal/apperr"
	"collabrepo/api/internal/blob"
	"collabrepo/api/internal/store/memory"
	"collabrepo/api/internal/wiki"
)

var owner = wiki.OwnerKey{OwnerID: "syn123", OwnerType: wiki.OwnerEntity}

const creator int64 = 1001

func newService(t *testing.T) *wiki.Service {
	t.Helper()
	return wiki.NewService(memory.NewWikiStore(), 100)
}

func handles(refs ...string) map[string]blob.FileHandle {
	m := make(map[string]blob.FileHandle, len(refs))
	for _, ref := range refs {
		m["file-"+ref+".txt"] = blob.FileHandle{ID: ref, FileName: "file-" + ref + ".txt"}
	}
	return m
}

func createPage(t *testing.T, svc *wiki.Service, title, parentID string, attachments ...string) wiki.Page {
	t.Helper()
	page, err := svc.Create(context.Background(), wiki.Page{
		Title:          title,
		ParentID:       parentID,
		MarkdownRef:    "md-" + title,
		AttachmentRefs: attachments,
		CreatedBy:      creator,
	}, handles(attachments...), owner, attachments)
	require.NoError(t, err)
	return page
}

func keyOf(page wiki.Page) wiki.Key {
	return wiki.Key{OwnerKey: owner, WikiID: page.ID}
}

func TestCreateRootAndChild(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	root := createPage(t, svc, "Root", "")
	assert.Equal(t, int64(1), root.Version)
	assert.NotEmpty(t, root.Etag)
	assert.Equal(t, creator, root.ModifiedBy)
	assert.Equal(t, root.CreatedOn, root.ModifiedOn)

	rootID, err := svc.GetRootID(ctx, owner)
	require.NoError(t, err)
	assert.Equal(t, root.ID, rootID)

	child := createPage(t, svc, "Child", root.ID)
	assert.Equal(t, root.ID, child.ParentID)

	rootID, err = svc.GetRootID(ctx, owner)
	require.NoError(t, err)
	assert.Equal(t, root.ID, rootID, "root pointer is unchanged by children")

	got, err := svc.Get(ctx, keyOf(child))
	require.NoError(t, err)
	assert.Equal(t, child, got)
}

func TestCreateRejectsInvalidHierarchy(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, wiki.Page{Title: "Orphan", ParentID: "missing", MarkdownRef: "md"}, nil, owner, nil)
	assert.True(t, apperr.Is(err, apperr.KindInvalidHierarchy), "got %v", err)

	root := createPage(t, svc, "Root", "")

	_, err = svc.Create(ctx, wiki.Page{Title: "Second root", MarkdownRef: "md"}, nil, owner, nil)
	assert.True(t, apperr.Is(err, apperr.KindInvalidHierarchy), "got %v", err)

	_, err = svc.Create(ctx, wiki.Page{ID: "self", ParentID: "self", MarkdownRef: "md"}, nil, owner, nil)
	assert.True(t, apperr.Is(err, apperr.KindCycleDetected), "got %v", err)

	other := wiki.OwnerKey{OwnerID: "syn456", OwnerType: wiki.OwnerEntity}
	_, err = svc.Create(ctx, wiki.Page{Title: "Root 2", MarkdownRef: "md"}, nil, other, nil)
	require.NoError(t, err)
	_, err = svc.Create(ctx, wiki.Page{Title: "Cross", ParentID: root.ID, MarkdownRef: "md"}, nil, other, nil)
	assert.True(t, apperr.Is(err, apperr.KindInvalidHierarchy), "got %v", err)
}

func TestCreateValidatesAttachments(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	tests := []struct {
		name     string
		page     wiki.Page
		names    map[string]blob.FileHandle
		newRefs  []string
		wantKind apperr.Kind
	}{
		{name: "missing markdown", page: wiki.Page{Title: "x"}, wantKind: apperr.KindBadRequest},
		{name: "unnamed attachment", page: wiki.Page{MarkdownRef: "md", AttachmentRefs: []string{"a"}}, newRefs: []string{"a"}, wantKind: apperr.KindBadRequest},
		{name: "new ref not attached", page: wiki.Page{MarkdownRef: "md"}, names: handles("a"), newRefs: []string{"a"}, wantKind: apperr.KindBadRequest},
		{name: "attachment not reserved", page: wiki.Page{MarkdownRef: "md", AttachmentRefs: []string{"a"}}, names: handles("a"), wantKind: apperr.KindBadRequest},
		{name: "bad owner", page: wiki.Page{MarkdownRef: "md"}, wantKind: apperr.KindBadRequest},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			scope := owner
			if tc.name == "bad owner" {
				scope = wiki.OwnerKey{OwnerID: "x", OwnerType: "TEAM"}
			}
			_, err := svc.Create(ctx, tc.page, tc.names, scope, tc.newRefs)
			assert.Equal(t, tc.wantKind, apperr.KindOf(err), "got %v", err)
		})
	}

	_, err := svc.GetRootID(ctx, owner)
	assert.True(t, apperr.Is(err, apperr.KindNotFound), "failed creates must not leave a root")
}

func TestCreateCollapsesDuplicateAttachments(t *testing.T) {
	svc := newService(t)

	page, err := svc.Create(context.Background(), wiki.Page{
		MarkdownRef:    "md",
		AttachmentRefs: []string{"b", "a", "b"},
	}, handles("a", "b"), owner, []string{"a", "b", "a"})
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "a"}, page.AttachmentRefs)

	reserved, err := svc.GetReservedRefs(context.Background(), keyOf(page))
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, reserved)
}

func update(t *testing.T, svc *wiki.Service, page wiki.Page, newRefs ...string) wiki.Page {
	t.Helper()
	page.ModifiedBy = creator + 1
	updated, err := svc.UpdateWikiPage(context.Background(), page, handles(page.AttachmentRefs...), owner, newRefs)
	require.NoError(t, err)
	return updated
}

func TestUpdateScenarioTwoAttachments(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	root := createPage(t, svc, "R", "")
	child := createPage(t, svc, "C", root.ID)

	child.AttachmentRefs = []string{"fh1"}
	child = update(t, svc, child, "fh1")
	child.AttachmentRefs = []string{"fh1", "fh2"}
	child = update(t, svc, child, "fh2")

	assert.Equal(t, int64(3), child.Version)

	refs, err := svc.GetAttachmentRefs(ctx, keyOf(child))
	require.NoError(t, err)
	assert.Equal(t, []string{"fh1", "fh2"}, refs)

	history, err := svc.GetHistory(ctx, keyOf(child), 10, 0)
	require.NoError(t, err)
	require.Len(t, history, 3)
	for i, snap := range history {
		assert.Equal(t, int64(3-i), snap.Version)
	}
}

func TestUpdateBumpsVersionEtagAndModifiedOn(t *testing.T) {
	svc := newService(t)
	root := createPage(t, svc, "R", "")

	next := root
	next.Title = "Renamed"
	updated := update(t, svc, next)

	assert.Equal(t, root.Version+1, updated.Version)
	assert.NotEqual(t, root.Etag, updated.Etag)
	assert.True(t, updated.ModifiedOn.After(root.ModifiedOn))
	assert.Equal(t, root.CreatedOn, updated.CreatedOn)
	assert.Equal(t, root.CreatedBy, updated.CreatedBy)
	assert.Equal(t, creator+1, updated.ModifiedBy)
	assert.Equal(t, "Renamed", updated.Title)
}

func TestUpdateStaleEtagConflicts(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()
	root := createPage(t, svc, "R", "")

	first := root
	first.Title = "first"
	update(t, svc, first)

	stale := root
	stale.Title = "second"
	_, err := svc.UpdateWikiPage(ctx, stale, nil, owner, nil)
	assert.True(t, apperr.Is(err, apperr.KindConflictingUpdate), "got %v", err)

	current, err := svc.Get(ctx, keyOf(root))
	require.NoError(t, err)
	assert.Equal(t, "first", current.Title)
	assert.Equal(t, int64(2), current.Version)

	stale.Etag = ""
	_, err = svc.UpdateWikiPage(ctx, stale, nil, owner, nil)
	assert.True(t, apperr.Is(err, apperr.KindBadRequest), "got %v", err)
}

func TestUpdateRejectsCycles(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	root := createPage(t, svc, "R", "")
	c := createPage(t, svc, "C", root.ID)
	d := createPage(t, svc, "D", c.ID)
	e := createPage(t, svc, "E", d.ID)

	for _, target := range []string{c.ID, d.ID, e.ID} {
		t.Run("parent "+target, func(t *testing.T) {
			moved := c
			moved.ParentID = target
			_, err := svc.UpdateWikiPage(ctx, moved, nil, owner, nil)
			require.True(t, apperr.Is(err, apperr.KindCycleDetected), "got %v", err)

			current, err := svc.Get(ctx, keyOf(c))
			require.NoError(t, err)
			assert.Equal(t, root.ID, current.ParentID)
			assert.Equal(t, c.Version, current.Version)
			assert.Equal(t, c.Etag, current.Etag)
		})
	}
}

func TestUpdateReparent(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	root := createPage(t, svc, "R", "")
	a := createPage(t, svc, "A", root.ID)
	b := createPage(t, svc, "B", root.ID)

	moved := b
	moved.ParentID = a.ID
	moved = update(t, svc, moved)
	assert.Equal(t, a.ID, moved.ParentID)

	removed := a
	removed.ParentID = ""
	_, err := svc.UpdateWikiPage(ctx, removed, nil, owner, nil)
	assert.True(t, apperr.Is(err, apperr.KindInvalidHierarchy), "got %v", err)

	rooted := root
	rooted.ParentID = a.ID
	_, err = svc.UpdateWikiPage(ctx, rooted, nil, owner, nil)
	assert.True(t, apperr.Is(err, apperr.KindInvalidHierarchy), "got %v", err)

	missing := a
	missing.ParentID = "nope"
	_, err = svc.UpdateWikiPage(ctx, missing, nil, owner, nil)
	assert.True(t, apperr.Is(err, apperr.KindInvalidHierarchy), "got %v", err)
}

func TestHistoryRoundTrip(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	page := createPage(t, svc, "R", "", "a")
	sets := map[int64][]string{1: {"a"}}
	markdown := map[int64]string{1: page.MarkdownRef}

	steps := []struct {
		attachments []string
		newRefs     []string
	}{
		{attachments: []string{"a", "b"}, newRefs: []string{"b"}},
		{attachments: []string{"b"}},
		{attachments: []string{"b", "c", "a"}, newRefs: []string{"c"}},
		{attachments: nil},
	}
	for i, step := range steps {
		page.AttachmentRefs = step.attachments
		page.MarkdownRef = fmt.Sprintf("md-v%d", i+2)
		page = update(t, svc, page, step.newRefs...)
		sets[page.Version] = append([]string{}, step.attachments...)
		markdown[page.Version] = page.MarkdownRef
	}

	for version, want := range sets {
		refs, err := svc.GetAttachmentRefsForVersion(ctx, keyOf(page), version)
		require.NoError(t, err)
		assert.Equal(t, want, refs, "version %d", version)

		md, err := svc.GetMarkdownRefForVersion(ctx, keyOf(page), version)
		require.NoError(t, err)
		assert.Equal(t, markdown[version], md, "version %d", version)
	}

	asOf, err := svc.GetReservedRefsAsOf(ctx, keyOf(page), 3)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, asOf)

	ledger, err := svc.GetReservedRefs(ctx, keyOf(page))
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, ledger, "ledger only grows on first reference")

	_, err = svc.GetAttachmentRefsForVersion(ctx, keyOf(page), 99)
	assert.True(t, apperr.Is(err, apperr.KindNotFound), "got %v", err)
}

func TestHistoryPagination(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	page := createPage(t, svc, "R", "")
	for i := 0; i < 4; i++ {
		page = update(t, svc, page)
	}

	first, err := svc.GetHistory(ctx, keyOf(page), 2, 0)
	require.NoError(t, err)
	second, err := svc.GetHistory(ctx, keyOf(page), 2, 2)
	require.NoError(t, err)
	last, err := svc.GetHistory(ctx, keyOf(page), 2, 4)
	require.NoError(t, err)

	var versions []int64
	for _, snap := range append(append(first, second...), last...) {
		versions = append(versions, snap.Version)
	}
	assert.Equal(t, []int64{5, 4, 3, 2, 1}, versions)

	_, err = svc.GetHistory(ctx, keyOf(page), 0, 0)
	assert.True(t, apperr.Is(err, apperr.KindBadRequest))
	_, err = svc.GetHistory(ctx, keyOf(page), 1, -1)
	assert.True(t, apperr.Is(err, apperr.KindBadRequest))
}

func TestDeleteOwnerRemovesWholeTree(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	root := createPage(t, svc, "R", "")
	child := createPage(t, svc, "C", root.ID)

	require.NoError(t, svc.DeleteOwner(ctx, owner))
	_, err := svc.GetRootID(ctx, owner)
	assert.True(t, apperr.Is(err, apperr.KindNotFound), "root id: %v", err)
	_, err = svc.LookupKey(ctx, child.ID)
	assert.True(t, apperr.Is(err, apperr.KindNotFound), "child: %v", err)

	require.NoError(t, svc.DeleteOwner(ctx, owner), "owner without a wiki")
}

func TestDeleteCascades(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	root := createPage(t, svc, "R", "")
	a := createPage(t, svc, "A", root.ID, "fa")
	b := createPage(t, svc, "B", a.ID)
	c := createPage(t, svc, "C", b.ID)
	keep := createPage(t, svc, "Keep", root.ID)

	require.NoError(t, svc.Delete(ctx, keyOf(a)))

	for _, gone := range []wiki.Page{a, b, c} {
		_, err := svc.Get(ctx, keyOf(gone))
		assert.True(t, apperr.Is(err, apperr.KindNotFound), "get %s: %v", gone.Title, err)
		_, err = svc.GetHistory(ctx, keyOf(gone), 10, 0)
		assert.True(t, apperr.Is(err, apperr.KindNotFound), "history %s: %v", gone.Title, err)
		_, err = svc.GetReservedRefs(ctx, keyOf(gone))
		assert.True(t, apperr.Is(err, apperr.KindNotFound), "reservations %s: %v", gone.Title, err)
	}

	_, err := svc.Get(ctx, keyOf(keep))
	require.NoError(t, err)

	err = svc.Delete(ctx, keyOf(a))
	assert.True(t, apperr.Is(err, apperr.KindNotFound), "second delete: %v", err)

	require.NoError(t, svc.Delete(ctx, keyOf(root)))
	_, err = svc.GetRootID(ctx, owner)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
	_, err = svc.Get(ctx, keyOf(keep))
	assert.True(t, apperr.Is(err, apperr.KindNotFound))

	fresh := createPage(t, svc, "New root", "")
	rootID, err := svc.GetRootID(ctx, owner)
	require.NoError(t, err)
	assert.Equal(t, fresh.ID, rootID)
}

func TestScopeIsPartOfTheKey(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()
	root := createPage(t, svc, "R", "")

	wrong := wiki.NewKey("syn999", wiki.OwnerEntity, root.ID)
	_, err := svc.Get(ctx, wrong)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
	assert.True(t, apperr.Is(svc.Delete(ctx, wrong), apperr.KindNotFound))

	key, err := svc.LookupKey(ctx, root.ID)
	require.NoError(t, err)
	assert.Equal(t, keyOf(root), key)
}

func TestLockForUpdateReturnsCurrentEtag(t *testing.T) {
	svc := newService(t)
	root := createPage(t, svc, "R", "")

	etag, err := svc.LockForUpdate(context.Background(), root.ID)
	require.NoError(t, err)
	assert.Equal(t, root.Etag, etag)

	updated := update(t, svc, root)
	etag, err = svc.LockForUpdate(context.Background(), root.ID)
	require.NoError(t, err)
	assert.Equal(t, updated.Etag, etag)

	_, err = svc.LockForUpdate(context.Background(), "missing")
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestHeaderTreeOrdersRootFirstThenTitle(t *testing.T) {
	svc := newService(t)

	root := createPage(t, svc, "Zeta root", "")
	b := createPage(t, svc, "Beta", root.ID)
	createPage(t, svc, "Alpha", b.ID)
	createPage(t, svc, "Gamma", root.ID)

	headers, err := svc.GetHeaderTree(context.Background(), owner)
	require.NoError(t, err)

	var titles []string
	for _, h := range headers {
		titles = append(titles, h.Title)
	}
	assert.Equal(t, []string{"Zeta root", "Alpha", "Beta", "Gamma"}, titles)
	assert.Empty(t, headers[0].ParentID)
	assert.Equal(t, b.ID, headers[1].ParentID)
}

func TestAttachmentForFileName(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()
	root := createPage(t, svc, "R", "", "fh1", "fh2")

	ref, err := svc.GetAttachmentForFileName(ctx, keyOf(root), "file-fh2.txt")
	require.NoError(t, err)
	assert.Equal(t, "fh2", ref)

	_, err = svc.GetAttachmentForFileName(ctx, keyOf(root), "nope.txt")
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestRestoreVersionAppends(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	page := createPage(t, svc, "Original", "", "a")
	page.Title = "Changed"
	page.AttachmentRefs = []string{"b"}
	page.MarkdownRef = "md-changed"
	page = update(t, svc, page, "b")

	restored, err := svc.RestoreVersion(ctx, keyOf(page), 1, page.Etag, creator)
	require.NoError(t, err)
	assert.Equal(t, int64(3), restored.Version)
	assert.Equal(t, "Original", restored.Title)
	assert.Equal(t, "md-Original", restored.MarkdownRef)
	assert.Equal(t, []string{"a"}, restored.AttachmentRefs)

	_, err = svc.RestoreVersion(ctx, keyOf(page), 1, page.Etag, creator)
	assert.True(t, apperr.Is(err, apperr.KindConflictingUpdate))

	_, err = svc.RestoreVersion(ctx, keyOf(page), 42, restored.Etag, creator)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestFailedUpdateLeavesNoTrace(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()
	root := createPage(t, svc, "R", "")

	bad := root
	bad.AttachmentRefs = []string{"x"}
	_, err := svc.UpdateWikiPage(ctx, bad, handles("x"), owner, nil)
	require.True(t, apperr.Is(err, apperr.KindBadRequest), "got %v", err)

	current, err := svc.Get(ctx, keyOf(root))
	require.NoError(t, err)
	assert.Equal(t, root, current)

	ledger, err := svc.GetReservedRefs(ctx, keyOf(root))
	require.NoError(t, err)
	assert.Empty(t, ledger)
}
