package app

import (
	"context"
	"fmt"

	"collabrepo/api/internal/acl"
	"collabrepo/api/internal/apperr"
)

// CreateEntity needs CREATE on the parent; projects are created under the
// root.
func (s *Service) CreateEntity(ctx context.Context, p acl.Principal, e acl.Entity) (acl.Entity, error) {
	if err := s.requireUser(p); err != nil {
		return acl.Entity{}, err
	}
	if e.ParentID == "" && e.Kind == acl.KindProject {
		e.ParentID = acl.RootEntityID
	}
	if e.ParentID == "" {
		return acl.Entity{}, apperr.BadRequest("parent id is required")
	}
	if err := s.acls.Authorize(ctx, p, e.ParentID, acl.AccessCreate); err != nil {
		return acl.Entity{}, err
	}
	e.CreatedBy = p.ID
	return s.acls.CreateEntity(ctx, e)
}

func (s *Service) GetEntity(ctx context.Context, p acl.Principal, id string) (acl.Entity, error) {
	if err := s.acls.Authorize(ctx, p, id, acl.AccessRead); err != nil {
		return acl.Entity{}, err
	}
	return s.acls.GetEntity(ctx, id)
}

func (s *Service) MoveEntity(ctx context.Context, p acl.Principal, id, newParentID, etag string) (acl.Entity, error) {
	if err := s.acls.Authorize(ctx, p, id, acl.AccessUpdate); err != nil {
		return acl.Entity{}, err
	}
	if err := s.acls.Authorize(ctx, p, newParentID, acl.AccessCreate); err != nil {
		return acl.Entity{}, err
	}
	return s.acls.MoveEntity(ctx, id, newParentID, etag, p.ID)
}

// DeleteEntity removes the entity subtree and every wiki owned inside it.
// Wikis go first so a failure leaves the entities in place for a retry;
// the sweep after the entity delete catches wikis created meanwhile.
func (s *Service) DeleteEntity(ctx context.Context, p acl.Principal, id string) error {
	if err := s.acls.Authorize(ctx, p, id, acl.AccessDelete); err != nil {
		return err
	}
	ids, err := s.acls.Subtree(ctx, id)
	if err != nil {
		return err
	}
	if err := s.deleteWikisOf(ctx, ids); err != nil {
		return err
	}
	deleted, err := s.acls.DeleteEntity(ctx, id)
	if err != nil {
		return err
	}
	return s.deleteWikisOf(ctx, deleted)
}

func (s *Service) deleteWikisOf(ctx context.Context, entityIDs []string) error {
	for _, entityID := range entityIDs {
		if err := s.wikis.DeleteOwner(ctx, entityOwner(entityID)); err != nil {
			return fmt.Errorf("delete wiki of entity %s: %w", entityID, err)
		}
	}
	return nil
}

func (s *Service) GetAcl(ctx context.Context, p acl.Principal, entityID string) (acl.ACL, error) {
	if err := s.acls.Authorize(ctx, p, entityID, acl.AccessRead); err != nil {
		return acl.ACL{}, err
	}
	return s.acls.GetAcl(ctx, entityID)
}

func (s *Service) CreateAcl(ctx context.Context, p acl.Principal, list acl.ACL) (acl.ACL, error) {
	if err := s.acls.Authorize(ctx, p, list.EntityID, acl.AccessChangePermissions); err != nil {
		return acl.ACL{}, err
	}
	return s.acls.CreateAcl(ctx, list, p.ID)
}

func (s *Service) UpdateAcl(ctx context.Context, p acl.Principal, list acl.ACL, recursive bool) (acl.ACL, error) {
	if err := s.acls.Authorize(ctx, p, list.EntityID, acl.AccessChangePermissions); err != nil {
		return acl.ACL{}, err
	}
	return s.acls.UpdateAcl(ctx, list, list.EntityID, recursive, p.ID)
}

func (s *Service) DeleteAcl(ctx context.Context, p acl.Principal, entityID string) error {
	if err := s.acls.Authorize(ctx, p, entityID, acl.AccessChangePermissions); err != nil {
		return err
	}
	return s.acls.DeleteAcl(ctx, entityID)
}

func (s *Service) GetBenefactor(ctx context.Context, p acl.Principal, entityID string) (string, error) {
	if err := s.acls.Authorize(ctx, p, entityID, acl.AccessRead); err != nil {
		return "", err
	}
	return s.acls.GetBenefactor(ctx, entityID)
}

func (s *Service) GetPermissions(ctx context.Context, p acl.Principal, entityID string) (acl.Permissions, error) {
	return s.acls.GetUserPermissions(ctx, p, entityID)
}

func (s *Service) CanAccess(ctx context.Context, p acl.Principal, entityID string, accessType acl.AccessType) (bool, error) {
	return s.acls.CanAccess(ctx, p, entityID, accessType)
}
