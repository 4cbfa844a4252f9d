// Package memory provides an in-memory storage.Backend. It is suitable for
// tests and single-process applications that do not need persistence.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/jrsteele09/go-oauth-credentials/storage"
)

var _ storage.Backend = (*Backend)(nil)

type Backend struct {
	values map[string][]byte
	lock   sync.RWMutex
}

func New() *Backend {
	return &Backend{
		values: make(map[string][]byte),
	}
}

func (b *Backend) Get(_ context.Context, key string) ([]byte, error) {
	b.lock.RLock()
	defer b.lock.RUnlock()
	value, ok := b.values[key]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return append([]byte(nil), value...), nil
}

func (b *Backend) Set(_ context.Context, key string, value []byte) error {
	b.lock.Lock()
	defer b.lock.Unlock()
	b.values[key] = append([]byte(nil), value...)
	return nil
}

func (b *Backend) Remove(_ context.Context, key string) error {
	b.lock.Lock()
	defer b.lock.Unlock()
	delete(b.values, key)
	return nil
}

func (b *Backend) Keys(_ context.Context) ([]string, error) {
	b.lock.RLock()
	defer b.lock.RUnlock()

	keys := make([]string, 0, len(b.values))
	for k := range b.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

func (b *Backend) Clear(_ context.Context) error {
	b.lock.Lock()
	defer b.lock.Unlock()
	b.values = make(map[string][]byte)
	return nil
}

// NewStorage is shorthand for a KVStorage over a fresh in-memory backend.
func NewStorage(options ...storage.KVStorageOption) *storage.KVStorage {
	return storage.NewKVStorage(New(), options...)
}
