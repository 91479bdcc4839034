// Package wiki implements versioned wiki pages: an append-only snapshot per
// version, an attachment reservation ledger, and parent-pointer trees scoped
// to an owner container with an O(1) root pointer.
package wiki

import (
	"context"
	"time"
)

type OwnerType string

const (
	OwnerEntity     OwnerType = "ENTITY"
	OwnerEvaluation OwnerType = "EVALUATION"
)

func (t OwnerType) Valid() bool {
	return t == OwnerEntity || t == OwnerEvaluation
}

// OwnerKey identifies the container a page tree lives under.
type OwnerKey struct {
	OwnerID   string    `json:"ownerObjectId"`
	OwnerType OwnerType `json:"ownerObjectType"`
}

type Key struct {
	OwnerKey
	WikiID string `json:"wikiPageId"`
}

func NewKey(ownerID string, ownerType OwnerType, wikiID string) Key {
	return Key{OwnerKey: OwnerKey{OwnerID: ownerID, OwnerType: ownerType}, WikiID: wikiID}
}

type Page struct {
	ID             string    `json:"id"`
	ParentID       string    `json:"parentWikiId,omitempty"`
	Title          string    `json:"title"`
	MarkdownRef    string    `json:"markdownFileHandleId"`
	AttachmentRefs []string  `json:"attachmentFileHandleIds"`
	Etag           string    `json:"etag"`
	CreatedBy      int64     `json:"createdBy"`
	CreatedOn      time.Time `json:"createdOn"`
	ModifiedBy     int64     `json:"modifiedBy"`
	ModifiedOn     time.Time `json:"modifiedOn"`
	Version        int64     `json:"version"`
}

// Record is the mutable head row of a page.
type Record struct {
	Owner      OwnerKey
	ID         string
	ParentID   string
	RootID     string
	Title      string
	Etag       string
	CreatedBy  int64
	CreatedOn  time.Time
	ModifiedBy int64
	ModifiedOn time.Time
	Version    int64
}

type Attachment struct {
	FileHandleID string `json:"fileHandleId"`
	FileName     string `json:"fileName"`
}

// Snapshot is the immutable content of one version.
type Snapshot struct {
	WikiID      string       `json:"wikiId"`
	Version     int64        `json:"version"`
	Title       string       `json:"title"`
	MarkdownRef string       `json:"markdownFileHandleId"`
	Attachments []Attachment `json:"attachments"`
	ModifiedBy  int64        `json:"modifiedBy"`
	ModifiedOn  time.Time    `json:"modifiedOn"`
}

func (s Snapshot) AttachmentRefs() []string {
	refs := make([]string, 0, len(s.Attachments))
	for _, a := range s.Attachments {
		refs = append(refs, a.FileHandleID)
	}
	return refs
}

type Reservation struct {
	WikiID  string
	BlobRef string
	Version int64
}

type Header struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	ParentID string `json:"parentId,omitempty"`
}

type Reader interface {
	GetRecord(ctx context.Context, id string) (Record, error)
	ListRecords(ctx context.Context, owner OwnerKey) ([]Record, error)
	ListChildren(ctx context.Context, id string) ([]string, error)
	RootOf(ctx context.Context, owner OwnerKey) (string, error)
	GetSnapshot(ctx context.Context, id string, version int64) (Snapshot, error)
	// ListSnapshots returns snapshots newest first.
	ListSnapshots(ctx context.Context, id string, limit, offset int) ([]Snapshot, error)
	// ListReservations returns the ledger in reservation order.
	ListReservations(ctx context.Context, id string) ([]Reservation, error)
}

type Tx interface {
	Reader
	// LockRecord reads the head row and holds a write lock on it until the
	// transaction ends.
	LockRecord(ctx context.Context, id string) (Record, error)
	// LockOwner locks the owner's root pointer row. found is false when the
	// owner has no pages yet.
	LockOwner(ctx context.Context, owner OwnerKey) (rootID string, found bool, err error)
	InsertOwner(ctx context.Context, owner OwnerKey, rootID string) error
	DeleteOwner(ctx context.Context, owner OwnerKey) error
	InsertRecord(ctx context.Context, rec Record) error
	UpdateRecord(ctx context.Context, rec Record) error
	InsertSnapshot(ctx context.Context, snap Snapshot) error
	InsertReservations(ctx context.Context, id string, version int64, refs []string) error
	// DeletePages removes head rows, snapshots and reservations of ids.
	DeletePages(ctx context.Context, ids []string) error
}

// Store runs fn in a transaction: every write in fn commits or none does.
type Store interface {
	Reader
	InTx(ctx context.Context, fn func(tx Tx) error) error
}
