package acl

import (
	"context"
	"fmt"

	"collabrepo/api/internal/apperr"
)

// Permissions summarizes what a principal may do with one entity.
type Permissions struct {
	CanView              bool  `json:"canView"`
	CanEdit              bool  `json:"canEdit"`
	CanDelete            bool  `json:"canDelete"`
	CanChangePermissions bool  `json:"canChangePermissions"`
	CanDownload          bool  `json:"canDownload"`
	CanAddChild          bool  `json:"canAddChild"`
	CanEnableInheritance bool  `json:"canEnableInheritance"`
	OwnerPrincipalID     int64 `json:"ownerPrincipalId"`
	IsCreator            bool  `json:"isCreator"`
	IsAdmin              bool  `json:"isAdmin"`
}

// CanAccess reports whether principal, directly or through a group, holds
// accessType on the effective ACL of entityID.
func (s *Service) CanAccess(ctx context.Context, principal Principal, entityID string, accessType AccessType) (bool, error) {
	if !accessType.Valid() {
		return false, apperr.BadRequest("unknown access type %q", accessType)
	}
	ids, err := s.principalSet(ctx, principal)
	if err != nil {
		return false, err
	}
	acl, err := s.effective(ctx, s.store, entityID)
	if err != nil {
		return false, err
	}
	if ids[s.principals.AdminGroupID] {
		return true, nil
	}
	return grants(acl, ids, accessType), nil
}

// Authorize is CanAccess that fails with ACCESS_DENIED instead of
// returning false.
func (s *Service) Authorize(ctx context.Context, principal Principal, entityID string, accessType AccessType) error {
	ok, err := s.CanAccess(ctx, principal, entityID, accessType)
	if err != nil {
		return err
	}
	if !ok {
		return apperr.AccessDenied("principal %d lacks %s on %s", principal.ID, accessType, entityID)
	}
	return nil
}

func (s *Service) GetUserPermissions(ctx context.Context, principal Principal, entityID string) (Permissions, error) {
	e, err := s.store.GetEntity(ctx, entityID)
	if err != nil {
		return Permissions{}, err
	}
	ids, err := s.principalSet(ctx, principal)
	if err != nil {
		return Permissions{}, err
	}
	acl, err := s.effective(ctx, s.store, entityID)
	if err != nil {
		return Permissions{}, fmt.Errorf("permissions of %d on %s: %w", principal.ID, entityID, err)
	}

	admin := ids[s.principals.AdminGroupID]
	has := func(a AccessType) bool { return admin || grants(acl, ids, a) }
	perms := Permissions{
		CanView:              has(AccessRead),
		CanEdit:              has(AccessUpdate),
		CanDelete:            has(AccessDelete),
		CanChangePermissions: has(AccessChangePermissions),
		CanDownload:          has(AccessDownload),
		CanAddChild:          e.Kind.Container() && has(AccessCreate),
		OwnerPrincipalID:     e.CreatedBy,
		IsCreator:            principal.ID == e.CreatedBy && !s.isAnonymous(principal),
		IsAdmin:              admin,
	}
	perms.CanEnableInheritance = perms.CanChangePermissions && !e.NonInheritingRoot()
	return perms, nil
}

// principalSet is the principal itself, its groups, PUBLIC, and
// AUTHENTICATED_USERS unless the caller is anonymous.
func (s *Service) principalSet(ctx context.Context, principal Principal) (map[int64]bool, error) {
	ids := map[int64]bool{principal.ID: true, s.principals.PublicGroupID: true}
	for _, g := range principal.Groups {
		ids[g] = true
	}
	if s.isAnonymous(principal) {
		return ids, nil
	}
	ids[s.principals.AuthenticatedUsersGroupID] = true
	if s.groups != nil {
		groups, err := s.groups.GroupsOf(ctx, principal.ID)
		if err != nil {
			return nil, fmt.Errorf("resolve groups of %d: %w", principal.ID, err)
		}
		for _, g := range groups {
			ids[g] = true
		}
	}
	return ids, nil
}

func (s *Service) isAnonymous(principal Principal) bool {
	return principal.ID == 0 || principal.ID == s.principals.AnonymousUserID
}

func grants(acl ACL, ids map[int64]bool, accessType AccessType) bool {
	for _, entry := range acl.ResourceAccess {
		if ids[entry.PrincipalID] && entry.Grants(accessType) {
			return true
		}
	}
	return false
}
