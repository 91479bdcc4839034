package blob

import (
	"bytes"
	"context"
	"io"
	"sync"
	"time"

	"collabrepo/api/internal/apperr"
	"collabrepo/api/internal/util"
)

type memoryObject struct {
	handle FileHandle
	data   []byte
}

type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string]memoryObject
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[string]memoryObject), now: time.Now}
}

func (s *MemoryStore) Put(_ context.Context, in PutInput) (FileHandle, error) {
	handle := describe(util.NewID("blob"), in, s.now())
	data := append([]byte(nil), in.Data...)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[handle.ID] = memoryObject{handle: handle, data: data}
	return handle, nil
}

func (s *MemoryStore) Stat(_ context.Context, id string) (FileHandle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.objects[id]
	if !ok {
		return FileHandle{}, apperr.NotFound("blob %s", id)
	}
	return obj.handle, nil
}

func (s *MemoryStore) Open(_ context.Context, id string) (io.ReadCloser, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.objects[id]
	if !ok {
		return nil, apperr.NotFound("blob %s", id)
	}
	return io.NopCloser(bytes.NewReader(obj.data)), nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.objects[id]; !ok {
		return apperr.NotFound("blob %s", id)
	}
	delete(s.objects, id)
	return nil
}
