package memory

import (
	"context"
	"sort"
	"sync"

	"collabrepo/api/internal/acl"
	"collabrepo/api/internal/apperr"
)

type aclState struct {
	entities map[string]acl.Entity
	acls     map[string]acl.ACL
}

func (s *aclState) clone() *aclState {
	next := &aclState{
		entities: make(map[string]acl.Entity, len(s.entities)),
		acls:     make(map[string]acl.ACL, len(s.acls)),
	}
	for k, v := range s.entities {
		next.entities[k] = v
	}
	for k, v := range s.acls {
		next.acls[k] = v
	}
	return next
}

type ACLStore struct {
	mu    sync.RWMutex
	state *aclState
}

func NewACLStore() *ACLStore {
	return &ACLStore{state: &aclState{
		entities: make(map[string]acl.Entity),
		acls:     make(map[string]acl.ACL),
	}}
}

func (s *ACLStore) InTx(ctx context.Context, fn func(tx acl.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.state.clone()
	if err := fn(aclTx{aclReader{work}}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.state = work
	return nil
}

func (s *ACLStore) reader() aclReader {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return aclReader{s.state}
}

func (s *ACLStore) GetEntity(ctx context.Context, id string) (acl.Entity, error) {
	return s.reader().GetEntity(ctx, id)
}

func (s *ACLStore) ListChildren(ctx context.Context, id string) ([]string, error) {
	return s.reader().ListChildren(ctx, id)
}

func (s *ACLStore) GetACL(ctx context.Context, entityID string) (acl.ACL, error) {
	return s.reader().GetACL(ctx, entityID)
}

type aclReader struct {
	state *aclState
}

func (r aclReader) GetEntity(_ context.Context, id string) (acl.Entity, error) {
	e, ok := r.state.entities[id]
	if !ok {
		return acl.Entity{}, apperr.NotFound("entity %s does not exist", id)
	}
	return e, nil
}

func (r aclReader) ListChildren(_ context.Context, id string) ([]string, error) {
	children := make([]string, 0)
	for _, e := range r.state.entities {
		if e.ParentID == id {
			children = append(children, e.ID)
		}
	}
	sort.Strings(children)
	return children, nil
}

func (r aclReader) GetACL(_ context.Context, entityID string) (acl.ACL, error) {
	a, ok := r.state.acls[entityID]
	if !ok {
		return acl.ACL{}, apperr.NotFound("entity %s owns no ACL", entityID)
	}
	return copyACL(a), nil
}

type aclTx struct {
	aclReader
}

func (t aclTx) LockEntity(ctx context.Context, id string) (acl.Entity, error) {
	return t.GetEntity(ctx, id)
}

// LockHierarchy is a no-op: InTx already holds the store mutex.
func (t aclTx) LockHierarchy(context.Context) error { return nil }

func (t aclTx) InsertEntity(_ context.Context, e acl.Entity) error {
	if _, ok := t.state.entities[e.ID]; ok {
		return apperr.BadRequest("entity %s already exists", e.ID)
	}
	t.state.entities[e.ID] = e
	return nil
}

func (t aclTx) UpdateEntity(_ context.Context, e acl.Entity) error {
	if _, ok := t.state.entities[e.ID]; !ok {
		return apperr.NotFound("entity %s does not exist", e.ID)
	}
	t.state.entities[e.ID] = e
	return nil
}

func (t aclTx) DeleteEntities(_ context.Context, ids []string) error {
	for _, id := range ids {
		delete(t.state.entities, id)
		delete(t.state.acls, id)
	}
	return nil
}

func (t aclTx) InsertACL(_ context.Context, a acl.ACL) error {
	if _, ok := t.state.entities[a.EntityID]; !ok {
		return apperr.NotFound("entity %s does not exist", a.EntityID)
	}
	if _, ok := t.state.acls[a.EntityID]; ok {
		return apperr.BadRequest("entity %s already owns an ACL", a.EntityID)
	}
	t.state.acls[a.EntityID] = copyACL(a)
	return nil
}

func (t aclTx) UpdateACL(_ context.Context, a acl.ACL) error {
	if _, ok := t.state.acls[a.EntityID]; !ok {
		return apperr.NotFound("entity %s owns no ACL", a.EntityID)
	}
	t.state.acls[a.EntityID] = copyACL(a)
	return nil
}

func (t aclTx) DeleteACL(_ context.Context, entityID string) error {
	if _, ok := t.state.acls[entityID]; !ok {
		return apperr.NotFound("entity %s owns no ACL", entityID)
	}
	delete(t.state.acls, entityID)
	return nil
}

func copyACL(a acl.ACL) acl.ACL {
	entries := make([]acl.ResourceAccess, 0, len(a.ResourceAccess))
	for _, ra := range a.ResourceAccess {
		entries = append(entries, acl.ResourceAccess{
			PrincipalID: ra.PrincipalID,
			AccessTypes: append([]acl.AccessType(nil), ra.AccessTypes...),
		})
	}
	a.ResourceAccess = entries
	return a
}
