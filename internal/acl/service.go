package acl

import (
	"context"
	"fmt"
	"time"

	"collabrepo/api/internal/apperr"
	"collabrepo/api/internal/hierarchy"
	"collabrepo/api/internal/util"
)

// Principals names the well-known principal ids.
type Principals struct {
	AdminGroupID              int64
	PublicGroupID             int64
	AuthenticatedUsersGroupID int64
	AnonymousUserID           int64
}

type Service struct {
	store      Store
	groups     GroupResolver
	principals Principals
	checker    hierarchy.Checker
	now        func() time.Time
}

// NewService wires the resolver. groups may be nil when principals carry
// their full group list.
func NewService(store Store, groups GroupResolver, principals Principals, maxDepth int) *Service {
	return &Service{
		store:      store,
		groups:     groups,
		principals: principals,
		checker:    hierarchy.NewChecker(maxDepth),
		now:        func() time.Time { return time.Now().UTC().Truncate(time.Microsecond) },
	}
}

// Bootstrap creates the system root and its ACL if they do not exist yet.
func (s *Service) Bootstrap(ctx context.Context, adminID int64) error {
	err := s.store.InTx(ctx, func(tx Tx) error {
		if _, err := tx.GetEntity(ctx, RootEntityID); err == nil {
			return nil
		} else if !apperr.Is(err, apperr.KindNotFound) {
			return err
		}

		now := s.now()
		root := Entity{
			ID:         RootEntityID,
			Name:       "root",
			Kind:       KindRoot,
			Etag:       util.NewEtag(),
			CreatedBy:  adminID,
			CreatedOn:  now,
			ModifiedBy: adminID,
			ModifiedOn: now,
		}
		if err := tx.InsertEntity(ctx, root); err != nil {
			return err
		}
		entries, err := normalize([]ResourceAccess{
			{PrincipalID: s.principals.AdminGroupID, AccessTypes: AllAccessTypes},
			{PrincipalID: s.principals.AuthenticatedUsersGroupID, AccessTypes: []AccessType{AccessCreate, AccessRead}},
		})
		if err != nil {
			return err
		}
		return tx.InsertACL(ctx, ACL{
			EntityID:       RootEntityID,
			Etag:           util.NewEtag(),
			CreatedBy:      adminID,
			CreatedOn:      now,
			ModifiedBy:     adminID,
			ModifiedOn:     now,
			ResourceAccess: entries,
		})
	})
	if err != nil {
		return fmt.Errorf("bootstrap root entity: %w", err)
	}
	return nil
}

// CreateEntity adds e under its parent. Projects live directly under the
// root and get an ACL granting their creator every access type; everything
// else inherits.
func (s *Service) CreateEntity(ctx context.Context, e Entity) (Entity, error) {
	if !e.Kind.Valid() || e.Kind == KindRoot {
		return Entity{}, apperr.BadRequest("invalid entity kind %q", e.Kind)
	}
	if e.Name == "" {
		return Entity{}, apperr.BadRequest("entity name is required")
	}
	if e.Kind == KindProject && e.ParentID == "" {
		e.ParentID = RootEntityID
	}
	if e.ID == "" {
		e.ID = util.NewID("syn")
	}
	now := s.now()
	e.Etag = util.NewEtag()
	e.CreatedOn = now
	e.ModifiedOn = now
	e.ModifiedBy = e.CreatedBy

	err := s.store.InTx(ctx, func(tx Tx) error {
		if err := s.checkPlacement(ctx, tx, e, e.ParentID); err != nil {
			return err
		}
		if err := tx.InsertEntity(ctx, e); err != nil {
			return err
		}
		if e.Kind != KindProject {
			return nil
		}
		entries, err := normalize([]ResourceAccess{{PrincipalID: e.CreatedBy, AccessTypes: AllAccessTypes}})
		if err != nil {
			return err
		}
		return tx.InsertACL(ctx, ACL{
			EntityID:       e.ID,
			Etag:           util.NewEtag(),
			CreatedBy:      e.CreatedBy,
			CreatedOn:      now,
			ModifiedBy:     e.CreatedBy,
			ModifiedOn:     now,
			ResourceAccess: entries,
		})
	})
	if err != nil {
		return Entity{}, fmt.Errorf("create entity: %w", err)
	}
	return e, nil
}

func (s *Service) GetEntity(ctx context.Context, id string) (Entity, error) {
	return s.store.GetEntity(ctx, id)
}

// MoveEntity reparents id. The hierarchy lock is taken before the cycle
// check so two moves never validate against each other's stale parents.
func (s *Service) MoveEntity(ctx context.Context, id, newParentID, etag string, modifiedBy int64) (Entity, error) {
	var moved Entity
	err := s.store.InTx(ctx, func(tx Tx) error {
		if err := tx.LockHierarchy(ctx); err != nil {
			return err
		}
		current, err := tx.LockEntity(ctx, id)
		if err != nil {
			return err
		}
		if current.Kind == KindRoot || current.ID == RootEntityID {
			return apperr.Forbidden("the root entity cannot be moved")
		}
		if current.Etag != etag {
			return apperr.Conflict("entity %s was updated since it was read; fetch the latest etag", id)
		}
		if newParentID == current.ParentID {
			moved = current
			return nil
		}
		if err := s.checker.Validate(ctx, entityTree(tx), id, newParentID); err != nil {
			if apperr.Is(err, apperr.KindNotFound) {
				return apperr.InvalidHierarchy("parent entity %s does not exist", newParentID)
			}
			return err
		}
		if err := s.checkPlacement(ctx, tx, current, newParentID); err != nil {
			return err
		}

		current.ParentID = newParentID
		current.Etag = util.NewEtag()
		current.ModifiedBy = modifiedBy
		current.ModifiedOn = s.now()
		if err := tx.UpdateEntity(ctx, current); err != nil {
			return err
		}
		moved = current
		return nil
	})
	if err != nil {
		return Entity{}, fmt.Errorf("move entity %s: %w", id, err)
	}
	return moved, nil
}

// DeleteEntity removes id, its descendants and every ACL among them, and
// returns the ids it removed, id first.
func (s *Service) DeleteEntity(ctx context.Context, id string) ([]string, error) {
	if id == RootEntityID {
		return nil, apperr.Forbidden("the root entity cannot be deleted")
	}
	var deleted []string
	err := s.store.InTx(ctx, func(tx Tx) error {
		if err := tx.LockHierarchy(ctx); err != nil {
			return err
		}
		if _, err := tx.LockEntity(ctx, id); err != nil {
			return err
		}
		ids, err := descendants(ctx, tx, id)
		if err != nil {
			return err
		}
		deleted = append([]string{id}, ids...)
		return tx.DeleteEntities(ctx, deleted)
	})
	if err != nil {
		return nil, fmt.Errorf("delete entity %s: %w", id, err)
	}
	return deleted, nil
}

// Subtree lists id followed by all of its descendants, breadth first.
func (s *Service) Subtree(ctx context.Context, id string) ([]string, error) {
	if _, err := s.store.GetEntity(ctx, id); err != nil {
		return nil, err
	}
	ids, err := descendants(ctx, s.store, id)
	if err != nil {
		return nil, fmt.Errorf("subtree of entity %s: %w", id, err)
	}
	return append([]string{id}, ids...), nil
}

// GetAcl returns the ACL id owns itself. Inheriting entities have none.
func (s *Service) GetAcl(ctx context.Context, entityID string) (ACL, error) {
	if _, err := s.store.GetEntity(ctx, entityID); err != nil {
		return ACL{}, err
	}
	acl, err := s.store.GetACL(ctx, entityID)
	if apperr.Is(err, apperr.KindNotFound) {
		benefactor, berr := s.GetBenefactor(ctx, entityID)
		if berr != nil {
			return ACL{}, berr
		}
		return ACL{}, apperr.NotFound("entity %s inherits its ACL from %s", entityID, benefactor)
	}
	return acl, err
}

// GetBenefactor returns the id of the nearest entity at or above entityID
// that owns an ACL.
func (s *Service) GetBenefactor(ctx context.Context, entityID string) (string, error) {
	acl, err := s.effective(ctx, s.store, entityID)
	if err != nil {
		return "", err
	}
	return acl.EntityID, nil
}

func (s *Service) GetEffectiveAcl(ctx context.Context, entityID string) (ACL, error) {
	return s.effective(ctx, s.store, entityID)
}

func (s *Service) effective(ctx context.Context, r Reader, entityID string) (ACL, error) {
	if _, err := r.GetEntity(ctx, entityID); err != nil {
		return ACL{}, err
	}

	var found *ACL
	err := s.checker.Walk(ctx, entityTree(r), entityID, func(id string) (bool, error) {
		acl, err := r.GetACL(ctx, id)
		if apperr.Is(err, apperr.KindNotFound) {
			return false, nil
		}
		if err != nil {
			return true, err
		}
		found = &acl
		return true, nil
	})
	if apperr.Is(err, apperr.KindNotFound) {
		return ACL{}, apperr.Wrap(apperr.KindDataIntegrity, err, "ancestor chain of %s is broken", entityID)
	}
	if apperr.Is(err, apperr.KindInvalidHierarchy) {
		return ACL{}, apperr.Wrap(apperr.KindDataIntegrity, err, "ancestor chain of %s is too deep", entityID)
	}
	if err != nil {
		return ACL{}, err
	}
	if found == nil {
		return ACL{}, apperr.DataIntegrity("entity %s has no ancestor owning an ACL", entityID)
	}
	return *found, nil
}

// CreateAcl gives an inheriting entity its own ACL.
func (s *Service) CreateAcl(ctx context.Context, acl ACL, createdBy int64) (ACL, error) {
	entries, err := normalize(acl.ResourceAccess)
	if err != nil {
		return ACL{}, err
	}
	now := s.now()
	created := ACL{
		EntityID:       acl.EntityID,
		Etag:           util.NewEtag(),
		CreatedBy:      createdBy,
		CreatedOn:      now,
		ModifiedBy:     createdBy,
		ModifiedOn:     now,
		ResourceAccess: entries,
	}
	err = s.store.InTx(ctx, func(tx Tx) error {
		if _, err := tx.LockEntity(ctx, acl.EntityID); err != nil {
			return err
		}
		if _, err := tx.GetACL(ctx, acl.EntityID); err == nil {
			return apperr.BadRequest("entity %s already owns an ACL", acl.EntityID)
		} else if !apperr.Is(err, apperr.KindNotFound) {
			return err
		}
		return tx.InsertACL(ctx, created)
	})
	if err != nil {
		return ACL{}, fmt.Errorf("create acl %s: %w", acl.EntityID, err)
	}
	return created, nil
}

// UpdateAcl replaces the ACL owned by entityID, creating one when the
// entity inherited. When it already owns one, acl.Etag must match. With
// recursive set, every descendant's own ACL is deleted in the same
// transaction so the subtree inherits the new one. Projects keep theirs.
func (s *Service) UpdateAcl(ctx context.Context, acl ACL, entityID string, recursive bool, modifiedBy int64) (ACL, error) {
	if acl.EntityID != "" && acl.EntityID != entityID {
		return ACL{}, apperr.BadRequest("acl id %s does not match entity %s", acl.EntityID, entityID)
	}
	entries, err := normalize(acl.ResourceAccess)
	if err != nil {
		return ACL{}, err
	}

	var saved ACL
	err = s.store.InTx(ctx, func(tx Tx) error {
		if recursive {
			if err := tx.LockHierarchy(ctx); err != nil {
				return err
			}
		}
		if _, err := tx.LockEntity(ctx, entityID); err != nil {
			return err
		}
		now := s.now()
		existing, err := tx.GetACL(ctx, entityID)
		switch {
		case err == nil:
			if existing.Etag != acl.Etag {
				return apperr.Conflict("acl of %s was updated since it was read; fetch the latest etag", entityID)
			}
			saved = existing
			saved.Etag = util.NewEtag()
			saved.ModifiedBy = modifiedBy
			saved.ModifiedOn = now
			saved.ResourceAccess = entries
			if err := tx.UpdateACL(ctx, saved); err != nil {
				return err
			}
		case apperr.Is(err, apperr.KindNotFound):
			saved = ACL{
				EntityID:       entityID,
				Etag:           util.NewEtag(),
				CreatedBy:      modifiedBy,
				CreatedOn:      now,
				ModifiedBy:     modifiedBy,
				ModifiedOn:     now,
				ResourceAccess: entries,
			}
			if err := tx.InsertACL(ctx, saved); err != nil {
				return err
			}
		default:
			return err
		}

		if !recursive {
			return nil
		}
		ids, err := descendants(ctx, tx, entityID)
		if err != nil {
			return err
		}
		for _, id := range ids {
			child, err := tx.GetEntity(ctx, id)
			if err != nil {
				return err
			}
			if child.NonInheritingRoot() {
				continue
			}
			if _, err := tx.GetACL(ctx, id); apperr.Is(err, apperr.KindNotFound) {
				continue
			} else if err != nil {
				return err
			}
			if err := tx.DeleteACL(ctx, id); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return ACL{}, fmt.Errorf("update acl %s: %w", entityID, err)
	}
	return saved, nil
}

// DeleteAcl makes entityID inherit again. The root and projects keep their
// ACL no matter who asks.
func (s *Service) DeleteAcl(ctx context.Context, entityID string) error {
	err := s.store.InTx(ctx, func(tx Tx) error {
		e, err := tx.LockEntity(ctx, entityID)
		if err != nil {
			return err
		}
		if e.NonInheritingRoot() {
			return apperr.Forbidden("cannot delete the ACL of %s %s; it cannot inherit", e.Kind, e.ID)
		}
		if _, err := tx.GetACL(ctx, entityID); apperr.Is(err, apperr.KindNotFound) {
			return apperr.BadRequest("entity %s already inherits its ACL", entityID)
		} else if err != nil {
			return err
		}
		return tx.DeleteACL(ctx, entityID)
	})
	if err != nil {
		return fmt.Errorf("delete acl %s: %w", entityID, err)
	}
	return nil
}

// checkPlacement enforces where e may sit: projects directly under the root,
// everything else under a non-root container.
func (s *Service) checkPlacement(ctx context.Context, r Reader, e Entity, parentID string) error {
	if parentID == "" {
		return apperr.InvalidHierarchy("entity %s needs a parent", e.ID)
	}
	if e.Kind == KindProject && parentID != RootEntityID {
		return apperr.InvalidHierarchy("project %s must be a child of the root", e.ID)
	}
	if e.Kind != KindProject && parentID == RootEntityID {
		return apperr.InvalidHierarchy("only projects may be children of the root")
	}
	parent, err := r.GetEntity(ctx, parentID)
	if apperr.Is(err, apperr.KindNotFound) {
		return apperr.InvalidHierarchy("parent entity %s does not exist", parentID)
	}
	if err != nil {
		return err
	}
	if !parent.Kind.Container() {
		return apperr.InvalidHierarchy("a %s cannot contain other entities", parent.Kind)
	}
	return nil
}

// descendants lists every entity below id, breadth first.
func descendants(ctx context.Context, r Reader, id string) ([]string, error) {
	seen := map[string]bool{id: true}
	queue := []string{id}
	var out []string
	for len(queue) > 0 {
		children, err := r.ListChildren(ctx, queue[0])
		if err != nil {
			return nil, err
		}
		queue = queue[1:]
		for _, child := range children {
			if seen[child] {
				continue
			}
			seen[child] = true
			out = append(out, child)
			queue = append(queue, child)
		}
	}
	return out, nil
}

func entityTree(r Reader) hierarchy.Tree {
	return hierarchy.TreeFunc(func(ctx context.Context, id string) (string, error) {
		e, err := r.GetEntity(ctx, id)
		if err != nil {
			return "", err
		}
		return e.ParentID, nil
	})
}
