/*
Package archive stores archived documents.

Metadata (id, title, access level) lives in the Persistence Gateway; the document
bodies live in an ObjectStore, either an S3-compatible bucket or process memory.
*/
package archive

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
)

// MaxBodySize is the largest archive body accepted, 1 MB.
const MaxBodySize = 1 << 20

// ErrObjectNotFound is returned when no object exists under the key.
var ErrObjectNotFound = errors.New("archive: object not found")

// ObjectStore keeps archive bodies.
type ObjectStore interface {
	Put(ctx context.Context, key, contentType string, body io.Reader) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}

// MemoryStore is an ObjectStore held in process memory.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[string][]byte)}
}

func (m *MemoryStore) Put(_ context.Context, key, _ string, body io.Reader) error {
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, body); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.objects[key] = buf.Bytes()
	return nil
}

func (m *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	body, ok := m.objects[key]
	if !ok {
		return nil, ErrObjectNotFound
	}
	return bytes.Clone(body), nil
}

func (m *MemoryStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.objects, key)
	return nil
}
