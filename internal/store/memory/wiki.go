// Package memory holds in-process implementations of the wiki, acl and team
// stores. Each store keeps its state behind one mutex; InTx works on a copy
// and swaps it in only when fn succeeds, so a failed transaction leaves no
// trace. Writers serialize on the mutex, which stands in for row locks.
package memory

import (
	"context"
	"sort"
	"sync"

	"collabrepo/api/internal/apperr"
	"collabrepo/api/internal/wiki"
)

type wikiState struct {
	owners       map[wiki.OwnerKey]string
	records      map[string]wiki.Record
	snapshots    map[string][]wiki.Snapshot
	reservations map[string][]wiki.Reservation
}

func newWikiState() *wikiState {
	return &wikiState{
		owners:       make(map[wiki.OwnerKey]string),
		records:      make(map[string]wiki.Record),
		snapshots:    make(map[string][]wiki.Snapshot),
		reservations: make(map[string][]wiki.Reservation),
	}
}

func (s *wikiState) clone() *wikiState {
	next := newWikiState()
	for k, v := range s.owners {
		next.owners[k] = v
	}
	for k, v := range s.records {
		next.records[k] = v
	}
	for k, v := range s.snapshots {
		next.snapshots[k] = append([]wiki.Snapshot(nil), v...)
	}
	for k, v := range s.reservations {
		next.reservations[k] = append([]wiki.Reservation(nil), v...)
	}
	return next
}

type WikiStore struct {
	mu    sync.RWMutex
	state *wikiState
}

func NewWikiStore() *WikiStore {
	return &WikiStore{state: newWikiState()}
}

func (s *WikiStore) InTx(ctx context.Context, fn func(tx wiki.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.state.clone()
	if err := fn(&wikiTx{wikiReader{work}}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.state = work
	return nil
}

func (s *WikiStore) reader() wikiReader {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return wikiReader{s.state}
}

// Committed states are never mutated, so a reader may keep using one after
// the lock is released.
func (s *WikiStore) GetRecord(ctx context.Context, id string) (wiki.Record, error) {
	return s.reader().GetRecord(ctx, id)
}

func (s *WikiStore) ListRecords(ctx context.Context, owner wiki.OwnerKey) ([]wiki.Record, error) {
	return s.reader().ListRecords(ctx, owner)
}

func (s *WikiStore) ListChildren(ctx context.Context, id string) ([]string, error) {
	return s.reader().ListChildren(ctx, id)
}

func (s *WikiStore) RootOf(ctx context.Context, owner wiki.OwnerKey) (string, error) {
	return s.reader().RootOf(ctx, owner)
}

func (s *WikiStore) GetSnapshot(ctx context.Context, id string, version int64) (wiki.Snapshot, error) {
	return s.reader().GetSnapshot(ctx, id, version)
}

func (s *WikiStore) ListSnapshots(ctx context.Context, id string, limit, offset int) ([]wiki.Snapshot, error) {
	return s.reader().ListSnapshots(ctx, id, limit, offset)
}

func (s *WikiStore) ListReservations(ctx context.Context, id string) ([]wiki.Reservation, error) {
	return s.reader().ListReservations(ctx, id)
}

type wikiReader struct {
	state *wikiState
}

func (r wikiReader) GetRecord(_ context.Context, id string) (wiki.Record, error) {
	rec, ok := r.state.records[id]
	if !ok {
		return wiki.Record{}, apperr.NotFound("wiki %s does not exist", id)
	}
	return rec, nil
}

func (r wikiReader) ListRecords(_ context.Context, owner wiki.OwnerKey) ([]wiki.Record, error) {
	records := make([]wiki.Record, 0)
	for _, rec := range r.state.records {
		if rec.Owner == owner {
			records = append(records, rec)
		}
	}
	sort.Slice(records, func(i, j int) bool { return records[i].ID < records[j].ID })
	return records, nil
}

func (r wikiReader) ListChildren(_ context.Context, id string) ([]string, error) {
	children := make([]string, 0)
	for _, rec := range r.state.records {
		if rec.ParentID == id {
			children = append(children, rec.ID)
		}
	}
	sort.Strings(children)
	return children, nil
}

func (r wikiReader) RootOf(_ context.Context, owner wiki.OwnerKey) (string, error) {
	rootID, ok := r.state.owners[owner]
	if !ok {
		return "", apperr.NotFound("%s/%s has no root wiki", owner.OwnerType, owner.OwnerID)
	}
	return rootID, nil
}

func (r wikiReader) GetSnapshot(_ context.Context, id string, version int64) (wiki.Snapshot, error) {
	for _, snap := range r.state.snapshots[id] {
		if snap.Version == version {
			return copySnapshot(snap), nil
		}
	}
	return wiki.Snapshot{}, apperr.NotFound("wiki %s has no version %d", id, version)
}

func (r wikiReader) ListSnapshots(_ context.Context, id string, limit, offset int) ([]wiki.Snapshot, error) {
	all := r.state.snapshots[id]
	out := make([]wiki.Snapshot, 0)
	for i := len(all) - 1 - offset; i >= 0 && len(out) < limit; i-- {
		out = append(out, copySnapshot(all[i]))
	}
	return out, nil
}

func (r wikiReader) ListReservations(_ context.Context, id string) ([]wiki.Reservation, error) {
	return append(make([]wiki.Reservation, 0), r.state.reservations[id]...), nil
}

type wikiTx struct {
	wikiReader
}

func (t *wikiTx) LockRecord(ctx context.Context, id string) (wiki.Record, error) {
	return t.GetRecord(ctx, id)
}

func (t *wikiTx) LockOwner(_ context.Context, owner wiki.OwnerKey) (string, bool, error) {
	rootID, ok := t.state.owners[owner]
	return rootID, ok, nil
}

func (t *wikiTx) InsertOwner(_ context.Context, owner wiki.OwnerKey, rootID string) error {
	if existing, ok := t.state.owners[owner]; ok {
		return apperr.InvalidHierarchy("%s/%s already has root wiki %s", owner.OwnerType, owner.OwnerID, existing)
	}
	t.state.owners[owner] = rootID
	return nil
}

func (t *wikiTx) DeleteOwner(_ context.Context, owner wiki.OwnerKey) error {
	delete(t.state.owners, owner)
	return nil
}

func (t *wikiTx) InsertRecord(_ context.Context, rec wiki.Record) error {
	if _, ok := t.state.records[rec.ID]; ok {
		return apperr.BadRequest("wiki %s already exists", rec.ID)
	}
	t.state.records[rec.ID] = rec
	return nil
}

func (t *wikiTx) UpdateRecord(_ context.Context, rec wiki.Record) error {
	if _, ok := t.state.records[rec.ID]; !ok {
		return apperr.NotFound("wiki %s does not exist", rec.ID)
	}
	t.state.records[rec.ID] = rec
	return nil
}

func (t *wikiTx) InsertSnapshot(_ context.Context, snap wiki.Snapshot) error {
	for _, existing := range t.state.snapshots[snap.WikiID] {
		if existing.Version == snap.Version {
			return apperr.DataIntegrity("wiki %s already has version %d", snap.WikiID, snap.Version)
		}
	}
	t.state.snapshots[snap.WikiID] = append(t.state.snapshots[snap.WikiID], copySnapshot(snap))
	return nil
}

func (t *wikiTx) InsertReservations(_ context.Context, id string, version int64, refs []string) error {
	existing := make(map[string]bool)
	for _, r := range t.state.reservations[id] {
		existing[r.BlobRef] = true
	}
	for _, ref := range refs {
		if existing[ref] {
			continue
		}
		existing[ref] = true
		t.state.reservations[id] = append(t.state.reservations[id], wiki.Reservation{WikiID: id, BlobRef: ref, Version: version})
	}
	return nil
}

func (t *wikiTx) DeletePages(_ context.Context, ids []string) error {
	for _, id := range ids {
		delete(t.state.records, id)
		delete(t.state.snapshots, id)
		delete(t.state.reservations, id)
	}
	return nil
}

func copySnapshot(snap wiki.Snapshot) wiki.Snapshot {
	snap.Attachments = append(make([]wiki.Attachment, 0, len(snap.Attachments)), snap.Attachments...)
	return snap
}
