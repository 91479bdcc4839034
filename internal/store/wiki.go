package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"collabrepo/api/internal/apperr"
	"collabrepo/api/internal/wiki"
)

type wikiRow struct {
	ID         string    `db:"id"`
	OwnerID    string    `db:"owner_id"`
	OwnerType  string    `db:"owner_type"`
	ParentID   string    `db:"parent_id"`
	RootID     string    `db:"root_id"`
	Title      string    `db:"title"`
	Etag       string    `db:"etag"`
	CreatedBy  int64     `db:"created_by"`
	CreatedOn  time.Time `db:"created_on"`
	ModifiedBy int64     `db:"modified_by"`
	ModifiedOn time.Time `db:"modified_on"`
	Version    int64     `db:"version"`
}

func (r wikiRow) record() wiki.Record {
	return wiki.Record{
		Owner:      wiki.OwnerKey{OwnerID: r.OwnerID, OwnerType: wiki.OwnerType(r.OwnerType)},
		ID:         r.ID,
		ParentID:   r.ParentID,
		RootID:     r.RootID,
		Title:      r.Title,
		Etag:       r.Etag,
		CreatedBy:  r.CreatedBy,
		CreatedOn:  r.CreatedOn.UTC(),
		ModifiedBy: r.ModifiedBy,
		ModifiedOn: r.ModifiedOn.UTC(),
		Version:    r.Version,
	}
}

type snapshotRow struct {
	WikiID      string    `db:"wiki_id"`
	Version     int64     `db:"version"`
	Title       string    `db:"title"`
	MarkdownRef string    `db:"markdown_ref"`
	Attachments []byte    `db:"attachments"`
	ModifiedBy  int64     `db:"modified_by"`
	ModifiedOn  time.Time `db:"modified_on"`
}

func (r snapshotRow) snapshot() (wiki.Snapshot, error) {
	attachments := make([]wiki.Attachment, 0)
	if err := json.Unmarshal(r.Attachments, &attachments); err != nil {
		return wiki.Snapshot{}, apperr.Wrap(apperr.KindDataIntegrity, err, "wiki %s version %d has unreadable attachments", r.WikiID, r.Version)
	}
	return wiki.Snapshot{
		WikiID:      r.WikiID,
		Version:     r.Version,
		Title:       r.Title,
		MarkdownRef: r.MarkdownRef,
		Attachments: attachments,
		ModifiedBy:  r.ModifiedBy,
		ModifiedOn:  r.ModifiedOn.UTC(),
	}, nil
}

const wikiColumns = `id, owner_id, owner_type, COALESCE(parent_id, '') AS parent_id, root_id, title, etag,
	created_by, created_on, modified_by, modified_on, version`

const snapshotColumns = `wiki_id, version, title, markdown_ref, attachments, modified_by, modified_on`

// WikiStore persists wiki pages in Postgres. Page and owner rows are locked
// with SELECT ... FOR UPDATE inside InTx.
type WikiStore struct {
	wikiQueries
	db *sqlx.DB
}

func NewWikiStore(db *sqlx.DB) *WikiStore {
	return &WikiStore{wikiQueries: wikiQueries{q: db}, db: db}
}

func (s *WikiStore) InTx(ctx context.Context, fn func(tx wiki.Tx) error) error {
	return inTx(ctx, s.db, func(tx *sqlx.Tx) error {
		return fn(wikiQueries{q: tx})
	})
}

// wikiQueries runs against either the pool or an open transaction.
type wikiQueries struct {
	q sqlx.ExtContext
}

func (w wikiQueries) GetRecord(ctx context.Context, id string) (wiki.Record, error) {
	var row wikiRow
	if err := sqlx.GetContext(ctx, w.q, &row, `SELECT `+wikiColumns+` FROM wiki_pages WHERE id = $1`, id); err != nil {
		return wiki.Record{}, mapError(err, "wiki %s", id)
	}
	return row.record(), nil
}

func (w wikiQueries) LockRecord(ctx context.Context, id string) (wiki.Record, error) {
	var row wikiRow
	if err := sqlx.GetContext(ctx, w.q, &row, `SELECT `+wikiColumns+` FROM wiki_pages WHERE id = $1 FOR NO KEY UPDATE`, id); err != nil {
		return wiki.Record{}, mapError(err, "wiki %s", id)
	}
	return row.record(), nil
}

func (w wikiQueries) ListRecords(ctx context.Context, owner wiki.OwnerKey) ([]wiki.Record, error) {
	var rows []wikiRow
	if err := sqlx.SelectContext(ctx, w.q, &rows, `
		SELECT `+wikiColumns+` FROM wiki_pages
		WHERE owner_id = $1 AND owner_type = $2
		ORDER BY id
	`, owner.OwnerID, string(owner.OwnerType)); err != nil {
		return nil, fmt.Errorf("list wikis of %s/%s: %w", owner.OwnerType, owner.OwnerID, err)
	}
	records := make([]wiki.Record, 0, len(rows))
	for _, row := range rows {
		records = append(records, row.record())
	}
	return records, nil
}

func (w wikiQueries) ListChildren(ctx context.Context, id string) ([]string, error) {
	children := make([]string, 0)
	if err := sqlx.SelectContext(ctx, w.q, &children, `SELECT id FROM wiki_pages WHERE parent_id = $1 ORDER BY id`, id); err != nil {
		return nil, fmt.Errorf("list children of wiki %s: %w", id, err)
	}
	return children, nil
}

func (w wikiQueries) RootOf(ctx context.Context, owner wiki.OwnerKey) (string, error) {
	var rootID string
	err := sqlx.GetContext(ctx, w.q, &rootID, `
		SELECT root_wiki_id FROM wiki_owners WHERE owner_id = $1 AND owner_type = $2
	`, owner.OwnerID, string(owner.OwnerType))
	if err != nil {
		return "", mapError(err, "root wiki of %s/%s", owner.OwnerType, owner.OwnerID)
	}
	return rootID, nil
}

func (w wikiQueries) GetSnapshot(ctx context.Context, id string, version int64) (wiki.Snapshot, error) {
	var row snapshotRow
	err := sqlx.GetContext(ctx, w.q, &row, `
		SELECT `+snapshotColumns+` FROM wiki_snapshots WHERE wiki_id = $1 AND version = $2
	`, id, version)
	if err != nil {
		return wiki.Snapshot{}, mapError(err, "wiki %s version %d", id, version)
	}
	return row.snapshot()
}

func (w wikiQueries) ListSnapshots(ctx context.Context, id string, limit, offset int) ([]wiki.Snapshot, error) {
	var rows []snapshotRow
	if err := sqlx.SelectContext(ctx, w.q, &rows, `
		SELECT `+snapshotColumns+` FROM wiki_snapshots
		WHERE wiki_id = $1
		ORDER BY version DESC
		LIMIT $2 OFFSET $3
	`, id, limit, offset); err != nil {
		return nil, fmt.Errorf("list history of wiki %s: %w", id, err)
	}
	out := make([]wiki.Snapshot, 0, len(rows))
	for _, row := range rows {
		snap, err := row.snapshot()
		if err != nil {
			return nil, err
		}
		out = append(out, snap)
	}
	return out, nil
}

func (w wikiQueries) ListReservations(ctx context.Context, id string) ([]wiki.Reservation, error) {
	var rows []struct {
		WikiID  string `db:"wiki_id"`
		BlobRef string `db:"blob_ref"`
		Version int64  `db:"version"`
	}
	if err := sqlx.SelectContext(ctx, w.q, &rows, `
		SELECT wiki_id, blob_ref, version FROM wiki_attachment_reservations
		WHERE wiki_id = $1
		ORDER BY position
	`, id); err != nil {
		return nil, fmt.Errorf("list reservations of wiki %s: %w", id, err)
	}
	out := make([]wiki.Reservation, 0, len(rows))
	for _, row := range rows {
		out = append(out, wiki.Reservation{WikiID: row.WikiID, BlobRef: row.BlobRef, Version: row.Version})
	}
	return out, nil
}

func (w wikiQueries) LockOwner(ctx context.Context, owner wiki.OwnerKey) (string, bool, error) {
	var rootID string
	err := sqlx.GetContext(ctx, w.q, &rootID, `
		SELECT root_wiki_id FROM wiki_owners WHERE owner_id = $1 AND owner_type = $2 FOR UPDATE
	`, owner.OwnerID, string(owner.OwnerType))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("lock owner %s/%s: %w", owner.OwnerType, owner.OwnerID, err)
	}
	return rootID, true, nil
}

func (w wikiQueries) InsertOwner(ctx context.Context, owner wiki.OwnerKey, rootID string) error {
	_, err := w.q.ExecContext(ctx, `
		INSERT INTO wiki_owners (owner_id, owner_type, root_wiki_id) VALUES ($1, $2, $3)
	`, owner.OwnerID, string(owner.OwnerType), rootID)
	if isUniqueViolation(err) {
		return apperr.InvalidHierarchy("%s/%s already has a root wiki", owner.OwnerType, owner.OwnerID)
	}
	return mapError(err, "root wiki of %s/%s", owner.OwnerType, owner.OwnerID)
}

func (w wikiQueries) DeleteOwner(ctx context.Context, owner wiki.OwnerKey) error {
	_, err := w.q.ExecContext(ctx, `DELETE FROM wiki_owners WHERE owner_id = $1 AND owner_type = $2`,
		owner.OwnerID, string(owner.OwnerType))
	return mapError(err, "root wiki of %s/%s", owner.OwnerType, owner.OwnerID)
}

func (w wikiQueries) InsertRecord(ctx context.Context, rec wiki.Record) error {
	_, err := w.q.ExecContext(ctx, `
		INSERT INTO wiki_pages (id, owner_id, owner_type, parent_id, root_id, title, etag,
			created_by, created_on, modified_by, modified_on, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, rec.ID, rec.Owner.OwnerID, string(rec.Owner.OwnerType), nullable(rec.ParentID), rec.RootID, rec.Title, rec.Etag,
		rec.CreatedBy, rec.CreatedOn, rec.ModifiedBy, rec.ModifiedOn, rec.Version)
	return mapError(err, "wiki %s", rec.ID)
}

func (w wikiQueries) UpdateRecord(ctx context.Context, rec wiki.Record) error {
	res, err := w.q.ExecContext(ctx, `
		UPDATE wiki_pages
		SET parent_id = $2, root_id = $3, title = $4, etag = $5,
			modified_by = $6, modified_on = $7, version = $8
		WHERE id = $1
	`, rec.ID, nullable(rec.ParentID), rec.RootID, rec.Title, rec.Etag, rec.ModifiedBy, rec.ModifiedOn, rec.Version)
	if err != nil {
		return mapError(err, "wiki %s", rec.ID)
	}
	return expectRows(res, "wiki %s does not exist", rec.ID)
}

func (w wikiQueries) InsertSnapshot(ctx context.Context, snap wiki.Snapshot) error {
	attachments := snap.Attachments
	if attachments == nil {
		attachments = []wiki.Attachment{}
	}
	payload, err := json.Marshal(attachments)
	if err != nil {
		return fmt.Errorf("marshal attachments: %w", err)
	}
	_, err = w.q.ExecContext(ctx, `
		INSERT INTO wiki_snapshots (wiki_id, version, title, markdown_ref, attachments, modified_by, modified_on)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, snap.WikiID, snap.Version, snap.Title, snap.MarkdownRef, string(payload), snap.ModifiedBy, snap.ModifiedOn)
	if isUniqueViolation(err) {
		return apperr.DataIntegrity("wiki %s already has version %d", snap.WikiID, snap.Version)
	}
	return mapError(err, "wiki %s version %d", snap.WikiID, snap.Version)
}

// InsertReservations keeps the first reservation of each ref; position
// preserves the order refs were first seen.
func (w wikiQueries) InsertReservations(ctx context.Context, id string, version int64, refs []string) error {
	for _, ref := range refs {
		if _, err := w.q.ExecContext(ctx, `
			INSERT INTO wiki_attachment_reservations (wiki_id, blob_ref, version)
			VALUES ($1, $2, $3)
			ON CONFLICT (wiki_id, blob_ref) DO NOTHING
		`, id, ref, version); err != nil {
			return mapError(err, "reservation of %s by wiki %s", ref, id)
		}
	}
	return nil
}

func (w wikiQueries) DeletePages(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	query, args, err := in(w.q, `DELETE FROM wiki_pages WHERE id IN (?)`, ids)
	if err != nil {
		return err
	}
	_, err = w.q.ExecContext(ctx, query, args...)
	return deletePagesError(err)
}

// deletePagesError reports a foreign key violation as a conflict: a page
// outside ids still points into the subtree, so it was moved in concurrently.
func deletePagesError(err error) error {
	if isForeignKeyViolation(err) {
		return apperr.Wrap(apperr.KindConflictingUpdate, err, "a page was moved under the deleted subtree; retry the delete")
	}
	return mapError(err, "wiki pages")
}
