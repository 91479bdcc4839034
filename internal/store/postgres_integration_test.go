package store

import (
	"context"
	"testing"
	"time"

	"collabrepo/api/internal/acl"
	"collabrepo/api/internal/apperr"
	"collabrepo/api/internal/blob"
	"collabrepo/api/internal/team"
	"collabrepo/api/internal/wiki"
)

func TestWikiStorePostgres(t *testing.T) {
	db, _ := testDB(t)
	ctx := context.Background()
	svc := wiki.NewService(NewWikiStore(db), 100)
	owner := wiki.OwnerKey{OwnerID: "syn1", OwnerType: wiki.OwnerEntity}
	names := map[string]blob.FileHandle{
		"a.csv": {ID: "fh-a", FileName: "a.csv"},
		"b.csv": {ID: "fh-b", FileName: "b.csv"},
	}

	root, err := svc.Create(ctx, wiki.Page{Title: "Root", MarkdownRef: "md-1", AttachmentRefs: []string{"fh-a"}, CreatedBy: 7},
		names, owner, []string{"fh-a"})
	if err != nil {
		t.Fatalf("create root: %v", err)
	}
	child, err := svc.Create(ctx, wiki.Page{Title: "Child", ParentID: root.ID, MarkdownRef: "md-c", CreatedBy: 7}, nil, owner, nil)
	if err != nil {
		t.Fatalf("create child: %v", err)
	}

	if _, err := svc.Create(ctx, wiki.Page{Title: "Second", MarkdownRef: "md"}, nil, owner, nil); !apperr.Is(err, apperr.KindInvalidHierarchy) {
		t.Fatalf("expected second root to be rejected, got %v", err)
	}

	root.AttachmentRefs = []string{"fh-a", "fh-b"}
	root.MarkdownRef = "md-2"
	updated, err := svc.UpdateWikiPage(ctx, root, names, owner, []string{"fh-b"})
	if err != nil {
		t.Fatalf("update root: %v", err)
	}
	if updated.Version != 2 || !updated.ModifiedOn.After(root.ModifiedOn) {
		t.Fatalf("unexpected version bump: %+v", updated)
	}

	if _, err := svc.UpdateWikiPage(ctx, root, names, owner, nil); !apperr.Is(err, apperr.KindConflictingUpdate) {
		t.Fatalf("expected stale etag conflict, got %v", err)
	}

	refs, err := svc.GetAttachmentRefsForVersion(ctx, wiki.Key{OwnerKey: owner, WikiID: root.ID}, 1)
	if err != nil {
		t.Fatalf("refs for version 1: %v", err)
	}
	if len(refs) != 1 || refs[0] != "fh-a" {
		t.Fatalf("expected [fh-a] at version 1, got %v", refs)
	}

	reserved, err := svc.GetReservedRefs(ctx, wiki.Key{OwnerKey: owner, WikiID: root.ID})
	if err != nil {
		t.Fatalf("reserved refs: %v", err)
	}
	if len(reserved) != 2 || reserved[0] != "fh-a" || reserved[1] != "fh-b" {
		t.Fatalf("expected ledger [fh-a fh-b], got %v", reserved)
	}

	history, err := svc.GetHistory(ctx, wiki.Key{OwnerKey: owner, WikiID: root.ID}, 10, 0)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 2 || history[0].Version != 2 {
		t.Fatalf("unexpected history %+v", history)
	}

	if err := svc.Delete(ctx, wiki.Key{OwnerKey: owner, WikiID: root.ID}); err != nil {
		t.Fatalf("delete root: %v", err)
	}
	if _, err := svc.Get(ctx, wiki.Key{OwnerKey: owner, WikiID: child.ID}); !apperr.Is(err, apperr.KindNotFound) {
		t.Fatalf("expected child to be deleted with root, got %v", err)
	}
	if _, err := svc.GetRootID(ctx, owner); !apperr.Is(err, apperr.KindNotFound) {
		t.Fatalf("expected owner root pointer to be cleared, got %v", err)
	}
}

func TestACLStorePostgres(t *testing.T) {
	db, _ := testDB(t)
	ctx := context.Background()
	svc := acl.NewService(NewACLStore(db), nil, acl.Principals{
		AdminGroupID:              2,
		PublicGroupID:             273949,
		AuthenticatedUsersGroupID: 273948,
		AnonymousUserID:           273950,
	}, 100)

	if err := svc.Bootstrap(ctx, 1); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	if err := svc.Bootstrap(ctx, 1); err != nil {
		t.Fatalf("second bootstrap should be a no-op: %v", err)
	}

	project, err := svc.CreateEntity(ctx, acl.Entity{Name: "P", Kind: acl.KindProject, CreatedBy: 50})
	if err != nil {
		t.Fatalf("create project: %v", err)
	}
	folder, err := svc.CreateEntity(ctx, acl.Entity{Name: "F", Kind: acl.KindFolder, ParentID: project.ID, CreatedBy: 50})
	if err != nil {
		t.Fatalf("create folder: %v", err)
	}

	benefactor, err := svc.GetBenefactor(ctx, folder.ID)
	if err != nil || benefactor != project.ID {
		t.Fatalf("benefactor = %q, %v; want %q", benefactor, err, project.ID)
	}

	own, err := svc.CreateAcl(ctx, acl.ACL{EntityID: folder.ID, ResourceAccess: []acl.ResourceAccess{
		{PrincipalID: 60, AccessTypes: []acl.AccessType{acl.AccessRead, acl.AccessDownload}},
	}}, 50)
	if err != nil {
		t.Fatalf("create acl: %v", err)
	}
	got, err := svc.GetAcl(ctx, folder.ID)
	if err != nil {
		t.Fatalf("get acl: %v", err)
	}
	if got.Etag != own.Etag || len(got.ResourceAccess) != 1 || len(got.ResourceAccess[0].AccessTypes) != 2 {
		t.Fatalf("unexpected acl %+v", got)
	}

	ok, err := svc.CanAccess(ctx, acl.Principal{ID: 60}, folder.ID, acl.AccessDownload)
	if err != nil || !ok {
		t.Fatalf("expected download access, got %v, %v", ok, err)
	}

	if err := svc.DeleteAcl(ctx, folder.ID); err != nil {
		t.Fatalf("delete acl: %v", err)
	}
	if err := svc.DeleteAcl(ctx, project.ID); !apperr.Is(err, apperr.KindForbiddenOperation) {
		t.Fatalf("expected project acl delete to be forbidden, got %v", err)
	}

	if _, err := svc.DeleteEntity(ctx, project.ID); err != nil {
		t.Fatalf("delete project: %v", err)
	}
	if _, err := svc.GetEntity(ctx, folder.ID); !apperr.Is(err, apperr.KindNotFound) {
		t.Fatalf("expected folder to be deleted, got %v", err)
	}
}

func TestTeamStorePostgres(t *testing.T) {
	db, _ := testDB(t)
	ctx := context.Background()
	svc := team.NewService(NewTeamStore(db))
	now := time.Now().UTC()

	inv, err := svc.CreateInvitation(ctx, team.Invitation{TeamID: 10, InviteeID: 100, CreatedBy: 1})
	if err != nil {
		t.Fatalf("create invitation: %v", err)
	}
	past := now.Add(-time.Hour)
	if _, err := svc.CreateInvitation(ctx, team.Invitation{TeamID: 11, InviteeID: 100, CreatedBy: 1, ExpiresOn: &past}); err != nil {
		t.Fatalf("create expired invitation: %v", err)
	}

	open, err := svc.OpenInvitationsByUser(ctx, 100, now.Add(time.Second), 10, 0)
	if err != nil {
		t.Fatalf("open invitations: %v", err)
	}
	if len(open) != 1 || open[0].ID != inv.ID {
		t.Fatalf("expected only %s to be open, got %+v", inv.ID, open)
	}

	if err := svc.AcceptInvitation(ctx, inv.ID, 100); err != nil {
		t.Fatalf("accept: %v", err)
	}
	groups, err := svc.GroupsOf(ctx, 100)
	if err != nil || len(groups) != 1 || groups[0] != 10 {
		t.Fatalf("groups = %v, %v", groups, err)
	}
	n, err := svc.CountOpenInvitationsByUser(ctx, 100, now)
	if err != nil || n != 0 {
		t.Fatalf("open count after accept = %d, %v", n, err)
	}
}
