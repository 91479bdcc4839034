package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"collabrepo/api/internal/acl"
	"collabrepo/api/internal/apperr"
)

type entityRow struct {
	ID         string    `db:"id"`
	ParentID   string    `db:"parent_id"`
	Name       string    `db:"name"`
	Kind       string    `db:"kind"`
	Etag       string    `db:"etag"`
	CreatedBy  int64     `db:"created_by"`
	CreatedOn  time.Time `db:"created_on"`
	ModifiedBy int64     `db:"modified_by"`
	ModifiedOn time.Time `db:"modified_on"`
}

func (r entityRow) entity() acl.Entity {
	return acl.Entity{
		ID:         r.ID,
		ParentID:   r.ParentID,
		Name:       r.Name,
		Kind:       acl.Kind(r.Kind),
		Etag:       r.Etag,
		CreatedBy:  r.CreatedBy,
		CreatedOn:  r.CreatedOn.UTC(),
		ModifiedBy: r.ModifiedBy,
		ModifiedOn: r.ModifiedOn.UTC(),
	}
}

type aclRow struct {
	EntityID   string    `db:"entity_id"`
	Etag       string    `db:"etag"`
	CreatedBy  int64     `db:"created_by"`
	CreatedOn  time.Time `db:"created_on"`
	ModifiedBy int64     `db:"modified_by"`
	ModifiedOn time.Time `db:"modified_on"`
}

type accessRow struct {
	PrincipalID int64  `db:"principal_id"`
	AccessType  string `db:"access_type"`
}

const entityColumns = `id, COALESCE(parent_id, '') AS parent_id, name, kind, etag,
	created_by, created_on, modified_by, modified_on`

// ACLStore persists the entity tree and the ACLs owned by its nodes. The
// entity row lock also guards the entity's ACL.
type ACLStore struct {
	aclQueries
	db *sqlx.DB
}

func NewACLStore(db *sqlx.DB) *ACLStore {
	return &ACLStore{aclQueries: aclQueries{q: db}, db: db}
}

func (s *ACLStore) InTx(ctx context.Context, fn func(tx acl.Tx) error) error {
	return inTx(ctx, s.db, func(tx *sqlx.Tx) error {
		return fn(aclQueries{q: tx})
	})
}

type aclQueries struct {
	q sqlx.ExtContext
}

func (a aclQueries) GetEntity(ctx context.Context, id string) (acl.Entity, error) {
	var row entityRow
	if err := sqlx.GetContext(ctx, a.q, &row, `SELECT `+entityColumns+` FROM entities WHERE id = $1`, id); err != nil {
		return acl.Entity{}, mapError(err, "entity %s", id)
	}
	return row.entity(), nil
}

func (a aclQueries) LockEntity(ctx context.Context, id string) (acl.Entity, error) {
	var row entityRow
	if err := sqlx.GetContext(ctx, a.q, &row, `SELECT `+entityColumns+` FROM entities WHERE id = $1 FOR UPDATE`, id); err != nil {
		return acl.Entity{}, mapError(err, "entity %s", id)
	}
	return row.entity(), nil
}

// hierarchyLockKey names the advisory lock held by entity moves and subtree
// deletes.
const hierarchyLockKey int64 = 0x656e74697479

func (a aclQueries) LockHierarchy(ctx context.Context) error {
	if _, err := a.q.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, hierarchyLockKey); err != nil {
		return fmt.Errorf("lock entity hierarchy: %w", err)
	}
	return nil
}

func (a aclQueries) ListChildren(ctx context.Context, id string) ([]string, error) {
	children := make([]string, 0)
	if err := sqlx.SelectContext(ctx, a.q, &children, `SELECT id FROM entities WHERE parent_id = $1 ORDER BY id`, id); err != nil {
		return nil, fmt.Errorf("list children of entity %s: %w", id, err)
	}
	return children, nil
}

func (a aclQueries) GetACL(ctx context.Context, entityID string) (acl.ACL, error) {
	var row aclRow
	err := sqlx.GetContext(ctx, a.q, &row, `
		SELECT entity_id, etag, created_by, created_on, modified_by, modified_on
		FROM acls WHERE entity_id = $1
	`, entityID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return acl.ACL{}, apperr.NotFound("entity %s owns no ACL", entityID)
		}
		return acl.ACL{}, fmt.Errorf("get acl of %s: %w", entityID, err)
	}

	var access []accessRow
	if err := sqlx.SelectContext(ctx, a.q, &access, `
		SELECT principal_id, access_type FROM acl_resource_access
		WHERE entity_id = $1
		ORDER BY principal_id, access_type COLLATE "C"
	`, entityID); err != nil {
		return acl.ACL{}, fmt.Errorf("get resource access of %s: %w", entityID, err)
	}

	out := acl.ACL{
		EntityID:       row.EntityID,
		Etag:           row.Etag,
		CreatedBy:      row.CreatedBy,
		CreatedOn:      row.CreatedOn.UTC(),
		ModifiedBy:     row.ModifiedBy,
		ModifiedOn:     row.ModifiedOn.UTC(),
		ResourceAccess: make([]acl.ResourceAccess, 0),
	}
	for _, r := range access {
		n := len(out.ResourceAccess)
		if n == 0 || out.ResourceAccess[n-1].PrincipalID != r.PrincipalID {
			out.ResourceAccess = append(out.ResourceAccess, acl.ResourceAccess{PrincipalID: r.PrincipalID})
			n++
		}
		out.ResourceAccess[n-1].AccessTypes = append(out.ResourceAccess[n-1].AccessTypes, acl.AccessType(r.AccessType))
	}
	return out, nil
}

func (a aclQueries) InsertEntity(ctx context.Context, e acl.Entity) error {
	_, err := a.q.ExecContext(ctx, `
		INSERT INTO entities (id, parent_id, name, kind, etag, created_by, created_on, modified_by, modified_on)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, e.ID, nullable(e.ParentID), e.Name, string(e.Kind), e.Etag, e.CreatedBy, e.CreatedOn, e.ModifiedBy, e.ModifiedOn)
	return mapError(err, "entity %s", e.ID)
}

func (a aclQueries) UpdateEntity(ctx context.Context, e acl.Entity) error {
	res, err := a.q.ExecContext(ctx, `
		UPDATE entities
		SET parent_id = $2, name = $3, kind = $4, etag = $5, modified_by = $6, modified_on = $7
		WHERE id = $1
	`, e.ID, nullable(e.ParentID), e.Name, string(e.Kind), e.Etag, e.ModifiedBy, e.ModifiedOn)
	if err != nil {
		return mapError(err, "entity %s", e.ID)
	}
	return expectRows(res, "entity %s does not exist", e.ID)
}

func (a aclQueries) DeleteEntities(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	query, args, err := in(a.q, `DELETE FROM entities WHERE id IN (?)`, ids)
	if err != nil {
		return err
	}
	if _, err := a.q.ExecContext(ctx, query, args...); err != nil {
		return mapError(err, "entities")
	}
	return nil
}

func (a aclQueries) InsertACL(ctx context.Context, list acl.ACL) error {
	_, err := a.q.ExecContext(ctx, `
		INSERT INTO acls (entity_id, etag, created_by, created_on, modified_by, modified_on)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, list.EntityID, list.Etag, list.CreatedBy, list.CreatedOn, list.ModifiedBy, list.ModifiedOn)
	if isUniqueViolation(err) {
		return apperr.BadRequest("entity %s already owns an ACL", list.EntityID)
	}
	if err != nil {
		return mapError(err, "acl of entity %s", list.EntityID)
	}
	return a.insertAccess(ctx, list)
}

func (a aclQueries) UpdateACL(ctx context.Context, list acl.ACL) error {
	res, err := a.q.ExecContext(ctx, `
		UPDATE acls SET etag = $2, modified_by = $3, modified_on = $4 WHERE entity_id = $1
	`, list.EntityID, list.Etag, list.ModifiedBy, list.ModifiedOn)
	if err != nil {
		return mapError(err, "acl of entity %s", list.EntityID)
	}
	if err := expectRows(res, "entity %s owns no ACL", list.EntityID); err != nil {
		return err
	}
	if _, err := a.q.ExecContext(ctx, `DELETE FROM acl_resource_access WHERE entity_id = $1`, list.EntityID); err != nil {
		return fmt.Errorf("clear resource access of %s: %w", list.EntityID, err)
	}
	return a.insertAccess(ctx, list)
}

func (a aclQueries) DeleteACL(ctx context.Context, entityID string) error {
	res, err := a.q.ExecContext(ctx, `DELETE FROM acls WHERE entity_id = $1`, entityID)
	if err != nil {
		return mapError(err, "acl of entity %s", entityID)
	}
	return expectRows(res, "entity %s owns no ACL", entityID)
}

func (a aclQueries) insertAccess(ctx context.Context, list acl.ACL) error {
	for _, ra := range list.ResourceAccess {
		for _, accessType := range ra.AccessTypes {
			if _, err := a.q.ExecContext(ctx, `
				INSERT INTO acl_resource_access (entity_id, principal_id, access_type)
				VALUES ($1, $2, $3)
				ON CONFLICT DO NOTHING
			`, list.EntityID, ra.PrincipalID, string(accessType)); err != nil {
				return mapError(err, "resource access of entity %s", list.EntityID)
			}
		}
	}
	return nil
}
