package wiki

import (
	"context"
	"fmt"
	"sort"
	"time"

	"collabrepo/api/internal/apperr"
	"collabrepo/api/internal/blob"
	"collabrepo/api/internal/hierarchy"
	"collabrepo/api/internal/util"
)

type Service struct {
	store   Store
	checker hierarchy.Checker
	now     func() time.Time
}

func NewService(store Store, maxDepth int) *Service {
	return &Service{
		store:   store,
		checker: hierarchy.NewChecker(maxDepth),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Create stores the first version of page under owner. fileNames maps the
// attachment file names to their handles; newRefs lists the attachments not
// yet reserved for this page, which on create is all of them.
func (s *Service) Create(ctx context.Context, page Page, fileNames map[string]blob.FileHandle, owner OwnerKey, newRefs []string) (Page, error) {
	if err := validateOwner(owner); err != nil {
		return Page{}, err
	}
	if page.ID == "" {
		page.ID = util.NewID("wiki")
	}
	if page.ParentID == page.ID {
		return Page{}, apperr.CycleDetected("wiki %s cannot be its own parent", page.ID)
	}
	attachments, err := resolveAttachments(page, fileNames)
	if err != nil {
		return Page{}, err
	}
	if err := checkNewRefs(attachments, newRefs, nil); err != nil {
		return Page{}, err
	}

	now := s.now().Truncate(time.Microsecond)
	modifiedBy := page.ModifiedBy
	if modifiedBy == 0 {
		modifiedBy = page.CreatedBy
	}
	rec := Record{
		Owner:      owner,
		ID:         page.ID,
		ParentID:   page.ParentID,
		Title:      page.Title,
		Etag:       util.NewEtag(),
		CreatedBy:  page.CreatedBy,
		CreatedOn:  now,
		ModifiedBy: modifiedBy,
		ModifiedOn: now,
		Version:    1,
	}
	snap := Snapshot{
		WikiID:      rec.ID,
		Version:     1,
		Title:       rec.Title,
		MarkdownRef: page.MarkdownRef,
		Attachments: attachments,
		ModifiedBy:  rec.ModifiedBy,
		ModifiedOn:  rec.ModifiedOn,
	}

	err = s.store.InTx(ctx, func(tx Tx) error {
		rootID, found, err := tx.LockOwner(ctx, owner)
		if err != nil {
			return err
		}
		switch {
		case !found && rec.ParentID != "":
			return apperr.InvalidHierarchy("parent wiki %s does not exist under %s/%s", rec.ParentID, owner.OwnerType, owner.OwnerID)
		case !found:
			rec.RootID = rec.ID
		case rec.ParentID == "":
			return apperr.InvalidHierarchy("%s/%s already has root wiki %s", owner.OwnerType, owner.OwnerID, rootID)
		default:
			if err := checkParentInScope(ctx, tx, owner, rec.ParentID); err != nil {
				return err
			}
			rec.RootID = rootID
		}

		if err := tx.InsertRecord(ctx, rec); err != nil {
			return err
		}
		if !found {
			if err := tx.InsertOwner(ctx, owner, rec.ID); err != nil {
				return err
			}
		}
		if err := tx.InsertSnapshot(ctx, snap); err != nil {
			return err
		}
		return tx.InsertReservations(ctx, rec.ID, rec.Version, dedupe(newRefs))
	})
	if err != nil {
		return Page{}, fmt.Errorf("create wiki: %w", err)
	}
	return assemble(rec, snap), nil
}

// UpdateWikiPage appends a new version. page.Etag must equal the current
// etag; newRefs lists attachments referenced for the first time.
func (s *Service) UpdateWikiPage(ctx context.Context, page Page, fileNames map[string]blob.FileHandle, owner OwnerKey, newRefs []string) (Page, error) {
	if err := validateOwner(owner); err != nil {
		return Page{}, err
	}
	if page.ID == "" {
		return Page{}, apperr.BadRequest("wiki id is required")
	}
	if page.Etag == "" {
		return Page{}, apperr.BadRequest("etag is required to update wiki %s", page.ID)
	}
	attachments, err := resolveAttachments(page, fileNames)
	if err != nil {
		return Page{}, err
	}

	var result Page
	err = s.store.InTx(ctx, func(tx Tx) error {
		// Structural changes take the owner row before the page row.
		if head, err := tx.GetRecord(ctx, page.ID); err == nil && head.ParentID != page.ParentID {
			if _, _, err := tx.LockOwner(ctx, owner); err != nil {
				return err
			}
		}
		current, err := lockInScope(ctx, tx, owner, page.ID)
		if err != nil {
			return err
		}
		if current.Etag != page.Etag {
			return apperr.Conflict("wiki %s was updated since it was read; fetch the latest etag", page.ID)
		}
		if page.ParentID != current.ParentID {
			if err := s.reparent(ctx, tx, owner, current, page.ParentID); err != nil {
				return err
			}
		}

		reserved, err := reservedSet(ctx, tx, page.ID)
		if err != nil {
			return err
		}
		if err := checkNewRefs(attachments, newRefs, reserved); err != nil {
			return err
		}

		next := current
		next.ParentID = page.ParentID
		next.Title = page.Title
		next.ModifiedBy = page.ModifiedBy
		result, err = s.appendVersion(ctx, tx, next, page.MarkdownRef, attachments, unreserved(dedupe(newRefs), reserved))
		return err
	})
	if err != nil {
		return Page{}, fmt.Errorf("update wiki %s: %w", page.ID, err)
	}
	return result, nil
}

// RestoreVersion appends a new version whose content equals version.
func (s *Service) RestoreVersion(ctx context.Context, key Key, version int64, etag string, modifiedBy int64) (Page, error) {
	var result Page
	err := s.store.InTx(ctx, func(tx Tx) error {
		current, err := lockInScope(ctx, tx, key.OwnerKey, key.WikiID)
		if err != nil {
			return err
		}
		if current.Etag != etag {
			return apperr.Conflict("wiki %s was updated since it was read; fetch the latest etag", key.WikiID)
		}
		old, err := tx.GetSnapshot(ctx, key.WikiID, version)
		if err != nil {
			return err
		}
		next := current
		next.Title = old.Title
		next.ModifiedBy = modifiedBy
		result, err = s.appendVersion(ctx, tx, next, old.MarkdownRef, old.Attachments, nil)
		return err
	})
	if err != nil {
		return Page{}, fmt.Errorf("restore wiki %s to version %d: %w", key.WikiID, version, err)
	}
	return result, nil
}

// appendVersion bumps the version and etag of next, then writes the head row,
// its snapshot and the reservations for fresh.
func (s *Service) appendVersion(ctx context.Context, tx Tx, next Record, markdownRef string, attachments []Attachment, fresh []string) (Page, error) {
	now := s.now().Truncate(time.Microsecond)
	if !now.After(next.ModifiedOn) {
		now = next.ModifiedOn.Add(time.Microsecond)
	}
	next.Version++
	next.Etag = util.NewEtag()
	next.ModifiedOn = now

	snap := Snapshot{
		WikiID:      next.ID,
		Version:     next.Version,
		Title:       next.Title,
		MarkdownRef: markdownRef,
		Attachments: attachments,
		ModifiedBy:  next.ModifiedBy,
		ModifiedOn:  next.ModifiedOn,
	}
	if err := tx.UpdateRecord(ctx, next); err != nil {
		return Page{}, err
	}
	if err := tx.InsertSnapshot(ctx, snap); err != nil {
		return Page{}, err
	}
	if err := tx.InsertReservations(ctx, next.ID, next.Version, fresh); err != nil {
		return Page{}, err
	}
	return assemble(next, snap), nil
}

// reparent validates moving current under newParent. The root pointer row is
// locked before the tree is read, so concurrent reparenting in one scope
// validates one move at a time against committed parents.
func (s *Service) reparent(ctx context.Context, tx Tx, owner OwnerKey, current Record, newParent string) error {
	if current.ParentID == "" {
		return apperr.InvalidHierarchy("root wiki %s cannot be given a parent", current.ID)
	}
	if newParent == "" {
		return apperr.InvalidHierarchy("only the root wiki of %s/%s may have no parent", owner.OwnerType, owner.OwnerID)
	}
	if _, _, err := tx.LockOwner(ctx, owner); err != nil {
		return err
	}
	if err := s.checker.Validate(ctx, treeOf(tx), current.ID, newParent); err != nil {
		if apperr.Is(err, apperr.KindNotFound) {
			return apperr.InvalidHierarchy("parent wiki %s does not exist", newParent)
		}
		return err
	}
	return checkParentInScope(ctx, tx, owner, newParent)
}

// Get returns the current head of key.
func (s *Service) Get(ctx context.Context, key Key) (Page, error) {
	rec, err := s.recordInScope(ctx, key)
	if err != nil {
		return Page{}, err
	}
	snap, err := s.store.GetSnapshot(ctx, rec.ID, rec.Version)
	if err != nil {
		return Page{}, fmt.Errorf("get wiki %s: %w", key.WikiID, err)
	}
	return assemble(rec, snap), nil
}

// GetHistory returns snapshots newest first.
func (s *Service) GetHistory(ctx context.Context, key Key, limit, offset int) ([]Snapshot, error) {
	if limit <= 0 {
		return nil, apperr.BadRequest("limit must be positive")
	}
	if offset < 0 {
		return nil, apperr.BadRequest("offset must not be negative")
	}
	if _, err := s.recordInScope(ctx, key); err != nil {
		return nil, err
	}
	history, err := s.store.ListSnapshots(ctx, key.WikiID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("wiki history %s: %w", key.WikiID, err)
	}
	return history, nil
}

func (s *Service) snapshotAt(ctx context.Context, key Key, version int64) (Snapshot, error) {
	if _, err := s.recordInScope(ctx, key); err != nil {
		return Snapshot{}, err
	}
	snap, err := s.store.GetSnapshot(ctx, key.WikiID, version)
	if err != nil {
		return Snapshot{}, fmt.Errorf("wiki %s version %d: %w", key.WikiID, version, err)
	}
	return snap, nil
}

func (s *Service) GetMarkdownRefForVersion(ctx context.Context, key Key, version int64) (string, error) {
	snap, err := s.snapshotAt(ctx, key, version)
	if err != nil {
		return "", err
	}
	return snap.MarkdownRef, nil
}

// GetAttachmentRefsForVersion returns the attachment set that was active
// once version was written.
func (s *Service) GetAttachmentRefsForVersion(ctx context.Context, key Key, version int64) ([]string, error) {
	snap, err := s.snapshotAt(ctx, key, version)
	if err != nil {
		return nil, err
	}
	return snap.AttachmentRefs(), nil
}

// GetReservedRefsAsOf returns every blob reserved at or before version.
func (s *Service) GetReservedRefsAsOf(ctx context.Context, key Key, version int64) ([]string, error) {
	if _, err := s.snapshotAt(ctx, key, version); err != nil {
		return nil, err
	}
	reservations, err := s.store.ListReservations(ctx, key.WikiID)
	if err != nil {
		return nil, fmt.Errorf("wiki reservations %s: %w", key.WikiID, err)
	}
	refs := make([]string, 0, len(reservations))
	for _, r := range reservations {
		if r.Version <= version {
			refs = append(refs, r.BlobRef)
		}
	}
	return refs, nil
}

// GetReservedRefs returns the full reservation ledger of key.
func (s *Service) GetReservedRefs(ctx context.Context, key Key) ([]string, error) {
	if _, err := s.recordInScope(ctx, key); err != nil {
		return nil, err
	}
	reservations, err := s.store.ListReservations(ctx, key.WikiID)
	if err != nil {
		return nil, fmt.Errorf("wiki reservations %s: %w", key.WikiID, err)
	}
	refs := make([]string, 0, len(reservations))
	for _, r := range reservations {
		refs = append(refs, r.BlobRef)
	}
	return refs, nil
}

func (s *Service) GetAttachmentRefs(ctx context.Context, key Key) ([]string, error) {
	page, err := s.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	return page.AttachmentRefs, nil
}

func (s *Service) GetAttachmentForFileName(ctx context.Context, key Key, fileName string) (string, error) {
	rec, err := s.recordInScope(ctx, key)
	if err != nil {
		return "", err
	}
	snap, err := s.store.GetSnapshot(ctx, rec.ID, rec.Version)
	if err != nil {
		return "", fmt.Errorf("get wiki %s: %w", key.WikiID, err)
	}
	for _, a := range snap.Attachments {
		if a.FileName == fileName {
			return a.FileHandleID, nil
		}
	}
	return "", apperr.NotFound("wiki %s has no attachment named %q", key.WikiID, fileName)
}

// Delete removes key and its whole subtree with every snapshot and
// reservation. The owner row is locked before the subtree is listed so no
// reparent can move a page into it meanwhile.
func (s *Service) Delete(ctx context.Context, key Key) error {
	err := s.store.InTx(ctx, func(tx Tx) error {
		if _, _, err := tx.LockOwner(ctx, key.OwnerKey); err != nil {
			return err
		}
		rec, err := lockInScope(ctx, tx, key.OwnerKey, key.WikiID)
		if err != nil {
			return err
		}

		ids := []string{rec.ID}
		seen := map[string]bool{rec.ID: true}
		for i := 0; i < len(ids); i++ {
			children, err := tx.ListChildren(ctx, ids[i])
			if err != nil {
				return err
			}
			for _, child := range children {
				if !seen[child] {
					seen[child] = true
					ids = append(ids, child)
				}
			}
		}

		if err := tx.DeletePages(ctx, ids); err != nil {
			return err
		}
		if rec.ParentID == "" {
			return tx.DeleteOwner(ctx, key.OwnerKey)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete wiki %s: %w", key.WikiID, err)
	}
	return nil
}

// LockForUpdate locks id inside tx and returns its current etag. Callers
// composing their own transaction use it before comparing etags.
func LockForUpdate(ctx context.Context, tx Tx, id string) (string, error) {
	rec, err := tx.LockRecord(ctx, id)
	if err != nil {
		return "", err
	}
	return rec.Etag, nil
}

// LockForUpdate reads the current etag of id under a row lock held for the
// duration of a short transaction.
func (s *Service) LockForUpdate(ctx context.Context, id string) (string, error) {
	var etag string
	err := s.store.InTx(ctx, func(tx Tx) error {
		var err error
		etag, err = LockForUpdate(ctx, tx, id)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("lock wiki %s: %w", id, err)
	}
	return etag, nil
}

// DeleteOwner removes the whole wiki tree of owner. An owner without a wiki
// is not an error.
func (s *Service) DeleteOwner(ctx context.Context, owner OwnerKey) error {
	rootID, err := s.GetRootID(ctx, owner)
	if apperr.Is(err, apperr.KindNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	err = s.Delete(ctx, Key{OwnerKey: owner, WikiID: rootID})
	if err != nil && !apperr.Is(err, apperr.KindNotFound) {
		return err
	}
	return nil
}

func (s *Service) LookupKey(ctx context.Context, id string) (Key, error) {
	rec, err := s.store.GetRecord(ctx, id)
	if err != nil {
		return Key{}, err
	}
	return Key{OwnerKey: rec.Owner, WikiID: rec.ID}, nil
}

func (s *Service) GetRootID(ctx context.Context, owner OwnerKey) (string, error) {
	if err := validateOwner(owner); err != nil {
		return "", err
	}
	return s.store.RootOf(ctx, owner)
}

// GetHeaderTree lists every page of owner, the root first and the rest
// ordered by title.
func (s *Service) GetHeaderTree(ctx context.Context, owner OwnerKey) ([]Header, error) {
	if err := validateOwner(owner); err != nil {
		return nil, err
	}
	records, err := s.store.ListRecords(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("wiki header tree: %w", err)
	}
	sort.SliceStable(records, func(i, j int) bool {
		a, b := records[i], records[j]
		if (a.ParentID == "") != (b.ParentID == "") {
			return a.ParentID == ""
		}
		if a.Title != b.Title {
			return a.Title < b.Title
		}
		return a.ID < b.ID
	})
	headers := make([]Header, 0, len(records))
	for _, rec := range records {
		headers = append(headers, Header{ID: rec.ID, Title: rec.Title, ParentID: rec.ParentID})
	}
	return headers, nil
}

func (s *Service) recordInScope(ctx context.Context, key Key) (Record, error) {
	rec, err := s.store.GetRecord(ctx, key.WikiID)
	if err != nil {
		return Record{}, err
	}
	if rec.Owner != key.OwnerKey {
		return Record{}, apperr.NotFound("wiki %s does not exist under %s/%s", key.WikiID, key.OwnerType, key.OwnerID)
	}
	return rec, nil
}

func lockInScope(ctx context.Context, tx Tx, owner OwnerKey, id string) (Record, error) {
	rec, err := tx.LockRecord(ctx, id)
	if err != nil {
		return Record{}, err
	}
	if rec.Owner != owner {
		return Record{}, apperr.NotFound("wiki %s does not exist under %s/%s", id, owner.OwnerType, owner.OwnerID)
	}
	return rec, nil
}

func checkParentInScope(ctx context.Context, tx Tx, owner OwnerKey, parentID string) error {
	parent, err := tx.GetRecord(ctx, parentID)
	if apperr.Is(err, apperr.KindNotFound) {
		return apperr.InvalidHierarchy("parent wiki %s does not exist", parentID)
	}
	if err != nil {
		return err
	}
	if parent.Owner != owner {
		return apperr.InvalidHierarchy("parent wiki %s belongs to %s/%s", parentID, parent.Owner.OwnerType, parent.Owner.OwnerID)
	}
	return nil
}

func treeOf(r Reader) hierarchy.Tree {
	return hierarchy.TreeFunc(func(ctx context.Context, id string) (string, error) {
		rec, err := r.GetRecord(ctx, id)
		if err != nil {
			return "", err
		}
		return rec.ParentID, nil
	})
}

func validateOwner(owner OwnerKey) error {
	if owner.OwnerID == "" {
		return apperr.BadRequest("owner id is required")
	}
	if !owner.OwnerType.Valid() {
		return apperr.BadRequest("unknown owner type %q", owner.OwnerType)
	}
	return nil
}

// resolveAttachments pairs each attachment ref of page with its file name.
func resolveAttachments(page Page, fileNames map[string]blob.FileHandle) ([]Attachment, error) {
	if page.MarkdownRef == "" {
		return nil, apperr.BadRequest("wiki %s has no markdown", page.ID)
	}
	names := make(map[string]string, len(fileNames))
	for name, handle := range fileNames {
		names[handle.ID] = name
	}
	refs := dedupe(page.AttachmentRefs)
	attachments := make([]Attachment, 0, len(refs))
	for _, ref := range refs {
		name, ok := names[ref]
		if !ok {
			return nil, apperr.BadRequest("attachment %s has no file name", ref)
		}
		attachments = append(attachments, Attachment{FileHandleID: ref, FileName: name})
	}
	return attachments, nil
}

// checkNewRefs requires that newRefs only name attachments of this version
// and that every attachment missing from reserved is listed.
func checkNewRefs(attachments []Attachment, newRefs []string, reserved map[string]bool) error {
	current := make(map[string]bool, len(attachments))
	for _, a := range attachments {
		current[a.FileHandleID] = true
	}
	listed := make(map[string]bool, len(newRefs))
	for _, ref := range newRefs {
		if !current[ref] {
			return apperr.BadRequest("new file handle %s is not an attachment", ref)
		}
		listed[ref] = true
	}
	for _, a := range attachments {
		if !reserved[a.FileHandleID] && !listed[a.FileHandleID] {
			return apperr.BadRequest("attachment %s is neither reserved nor listed as new", a.FileHandleID)
		}
	}
	return nil
}

func reservedSet(ctx context.Context, r Reader, id string) (map[string]bool, error) {
	reservations, err := r.ListReservations(ctx, id)
	if err != nil {
		return nil, err
	}
	set := make(map[string]bool, len(reservations))
	for _, res := range reservations {
		set[res.BlobRef] = true
	}
	return set, nil
}

func unreserved(refs []string, reserved map[string]bool) []string {
	out := make([]string, 0, len(refs))
	for _, ref := range refs {
		if !reserved[ref] {
			out = append(out, ref)
		}
	}
	return out
}

// dedupe drops repeated refs, keeping first occurrences in order.
func dedupe(refs []string) []string {
	seen := make(map[string]bool, len(refs))
	out := make([]string, 0, len(refs))
	for _, ref := range refs {
		if ref == "" || seen[ref] {
			continue
		}
		seen[ref] = true
		out = append(out, ref)
	}
	return out
}

func assemble(rec Record, snap Snapshot) Page {
	return Page{
		ID:             rec.ID,
		ParentID:       rec.ParentID,
		Title:          rec.Title,
		MarkdownRef:    snap.MarkdownRef,
		AttachmentRefs: snap.AttachmentRefs(),
		Etag:           rec.Etag,
		CreatedBy:      rec.CreatedBy,
		CreatedOn:      rec.CreatedOn,
		ModifiedBy:     rec.ModifiedBy,
		ModifiedOn:     rec.ModifiedOn,
		Version:        rec.Version,
	}
}
