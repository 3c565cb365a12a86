// Package memory contains an in-memory blob store for tests.
package memory

import (
	"context"
	"fmt"
	"io"
	"sync"
)

// Object is one stored blob.
type Object struct {
	ContentType string
	Data        []byte
}

// BlobStore keeps archived objects in a map for inspection.
type BlobStore struct {
	mu      sync.RWMutex
	objects map[string]Object
}

// New returns an empty memory blob store.
func New() *BlobStore {
	return &BlobStore{objects: make(map[string]Object)}
}

// PutObject records the blob under path and returns a mem:// URI.
func (s *BlobStore) PutObject(_ context.Context, path string, contentType string, r io.Reader) (string, error) {
	if path == "" {
		return "", fmt.Errorf("path is required")
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("read data: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[path] = Object{ContentType: contentType, Data: data}
	return "mem://" + path, nil
}

// Get returns a stored object.
func (s *BlobStore) Get(path string) (Object, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.objects[path]
	return obj, ok
}

// Len reports the number of stored objects.
func (s *BlobStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects)
}
