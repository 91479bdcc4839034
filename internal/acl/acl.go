// Package acl owns the entity containment tree and its access control lists.
// Entities without their own ACL inherit the ACL of their nearest ancestor
// that has one (the benefactor).
package acl

import (
	"context"
	"sort"
	"time"

	"collabrepo/api/internal/apperr"
)

// RootEntityID is the system root. It and every project always own an ACL.
const RootEntityID = "syn_root"

type AccessType string

const (
	AccessCreate            AccessType = "CREATE"
	AccessRead              AccessType = "READ"
	AccessUpdate            AccessType = "UPDATE"
	AccessDelete            AccessType = "DELETE"
	AccessChangePermissions AccessType = "CHANGE_PERMISSIONS"
	AccessDownload          AccessType = "DOWNLOAD"
	AccessParticipate       AccessType = "PARTICIPATE"
	AccessSubmit            AccessType = "SUBMIT"
)

var AllAccessTypes = []AccessType{
	AccessCreate,
	AccessRead,
	AccessUpdate,
	AccessDelete,
	AccessChangePermissions,
	AccessDownload,
	AccessParticipate,
	AccessSubmit,
}

func (a AccessType) Valid() bool {
	for _, known := range AllAccessTypes {
		if a == known {
			return true
		}
	}
	return false
}

type ResourceAccess struct {
	PrincipalID int64        `json:"principalId"`
	AccessTypes []AccessType `json:"accessType"`
}

func (r ResourceAccess) Grants(accessType AccessType) bool {
	for _, a := range r.AccessTypes {
		if a == accessType {
			return true
		}
	}
	return false
}

type ACL struct {
	EntityID       string           `json:"id"`
	Etag           string           `json:"etag"`
	CreatedBy      int64            `json:"createdBy"`
	CreatedOn      time.Time        `json:"creationDate"`
	ModifiedBy     int64            `json:"modifiedBy"`
	ModifiedOn     time.Time        `json:"modifiedOn"`
	ResourceAccess []ResourceAccess `json:"resourceAccess"`
}

type Kind string

const (
	KindRoot    Kind = "root"
	KindProject Kind = "project"
	KindFolder  Kind = "folder"
	KindFile    Kind = "file"
	KindTable   Kind = "table"
)

func (k Kind) Valid() bool {
	switch k {
	case KindRoot, KindProject, KindFolder, KindFile, KindTable:
		return true
	}
	return false
}

// Container reports whether entities of kind k may have children.
func (k Kind) Container() bool {
	return k == KindRoot || k == KindProject || k == KindFolder
}

type Entity struct {
	ID         string    `json:"id"`
	ParentID   string    `json:"parentId,omitempty"`
	Name       string    `json:"name"`
	Kind       Kind      `json:"kind"`
	Etag       string    `json:"etag"`
	CreatedBy  int64     `json:"createdBy"`
	CreatedOn  time.Time `json:"createdOn"`
	ModifiedBy int64     `json:"modifiedBy"`
	ModifiedOn time.Time `json:"modifiedOn"`
}

// NonInheritingRoot reports whether e must always own its ACL: the system
// root and the projects directly beneath it.
func (e Entity) NonInheritingRoot() bool {
	return e.ID == RootEntityID || e.Kind == KindRoot || e.Kind == KindProject || e.ParentID == RootEntityID
}

// Principal is a caller as resolved by the identity provider.
type Principal struct {
	ID     int64   `json:"id"`
	Groups []int64 `json:"groups,omitempty"`
}

// GroupResolver lists the groups (teams) a principal belongs to.
type GroupResolver interface {
	GroupsOf(ctx context.Context, principalID int64) ([]int64, error)
}

type Reader interface {
	GetEntity(ctx context.Context, id string) (Entity, error)
	ListChildren(ctx context.Context, id string) ([]string, error)
	// GetACL returns the ACL owned by entityID; NOT_FOUND when it inherits.
	GetACL(ctx context.Context, entityID string) (ACL, error)
}

type Tx interface {
	Reader
	// LockEntity reads an entity and holds a write lock on its row, which
	// also guards its ACL, until the transaction ends.
	LockEntity(ctx context.Context, id string) (Entity, error)
	// LockHierarchy serializes structural changes (moves, subtree deletes,
	// recursive ACL updates) until the transaction ends.
	LockHierarchy(ctx context.Context) error
	InsertEntity(ctx context.Context, e Entity) error
	UpdateEntity(ctx context.Context, e Entity) error
	// DeleteEntities removes the entities and the ACLs they own.
	DeleteEntities(ctx context.Context, ids []string) error
	InsertACL(ctx context.Context, acl ACL) error
	UpdateACL(ctx context.Context, acl ACL) error
	DeleteACL(ctx context.Context, entityID string) error
}

type Store interface {
	Reader
	InTx(ctx context.Context, fn func(tx Tx) error) error
}

// normalize validates entries and merges repeated principals. Access types
// come back sorted so stored ACLs compare by value.
func normalize(entries []ResourceAccess) ([]ResourceAccess, error) {
	merged := make(map[int64]map[AccessType]bool)
	order := make([]int64, 0, len(entries))
	for _, entry := range entries {
		if entry.PrincipalID == 0 {
			return nil, apperr.BadRequest("resource access entry is missing a principal id")
		}
		if len(entry.AccessTypes) == 0 {
			return nil, apperr.BadRequest("resource access for principal %d has no access types", entry.PrincipalID)
		}
		set, ok := merged[entry.PrincipalID]
		if !ok {
			set = make(map[AccessType]bool)
			merged[entry.PrincipalID] = set
			order = append(order, entry.PrincipalID)
		}
		for _, a := range entry.AccessTypes {
			if !a.Valid() {
				return nil, apperr.BadRequest("unknown access type %q", a)
			}
			set[a] = true
		}
	}

	sort.Slice(order, func(i, j int) bool { return order[i] < order[j] })
	out := make([]ResourceAccess, 0, len(order))
	for _, principalID := range order {
		types := make([]AccessType, 0, len(merged[principalID]))
		for a := range merged[principalID] {
			types = append(types, a)
		}
		sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
		out = append(out, ResourceAccess{PrincipalID: principalID, AccessTypes: types})
	}
	return out, nil
}
