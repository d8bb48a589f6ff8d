package storage

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
)

type memoryObject struct {
	data []byte
	meta Metadata
}

// MemoryStore keeps objects in process memory. It is used when no object
// store endpoint is configured, and by tests.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string]memoryObject
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[string]memoryObject)}
}

// Put stores data at objectPath, replacing any existing object.
func (s *MemoryStore) Put(_ context.Context, objectPath string, data []byte, meta Metadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[objectPath] = memoryObject{data: slices.Clone(data), meta: meta.Clone()}
	return nil
}

// Delete removes objectPath. Missing objects are not an error.
func (s *MemoryStore) Delete(_ context.Context, objectPath string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, objectPath)
	return nil
}

// Metadata returns the metadata of objectPath.
func (s *MemoryStore) Metadata(_ context.Context, objectPath string) (Metadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.objects[objectPath]
	if !ok {
		return Metadata{}, fmt.Errorf("%w: %s", ErrObjectNotFound, objectPath)
	}
	return obj.meta.Clone(), nil
}

// SetMetadata replaces the metadata of objectPath.
func (s *MemoryStore) SetMetadata(_ context.Context, objectPath string, meta Metadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	obj, ok := s.objects[objectPath]
	if !ok {
		return fmt.Errorf("%w: %s", ErrObjectNotFound, objectPath)
	}
	obj.meta = meta.Clone()
	s.objects[objectPath] = obj
	return nil
}

// Data returns the bytes stored at objectPath.
func (s *MemoryStore) Data(objectPath string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.objects[objectPath]
	return slices.Clone(obj.data), ok
}

// Paths lists stored object paths in sorted order.
func (s *MemoryStore) Paths() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	paths := make([]string, 0, len(s.objects))
	for p := range s.objects {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}
