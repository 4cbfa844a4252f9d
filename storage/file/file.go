// Package file provides a storage.Backend persisted as a single JSON document
// on disk. When an encryption key is configured the document is sealed with
// XChaCha20-Poly1305 before it is written.
package file

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/jrsteele09/go-oauth-credentials/storage"
	"github.com/pkg/errors"
	"golang.org/x/crypto/chacha20poly1305"
)

var _ storage.Backend = (*Backend)(nil)

const filePerm = 0o600

// Backend keeps every value in memory and rewrites the whole file on each
// mutation. Writes go to a temporary file that is renamed over the target.
type Backend struct {
	path   string
	aead   cipherAEAD
	values map[string][]byte
	lock   sync.RWMutex
}

type cipherAEAD interface {
	NonceSize() int
	Seal(dst, nonce, plaintext, additionalData []byte) []byte
	Open(dst, nonce, ciphertext, additionalData []byte) ([]byte, error)
}

type Option func(*Backend) error

// WithEncryptionKey enables encryption at rest. The key must be 32 bytes.
func WithEncryptionKey(key []byte) Option {
	return func(b *Backend) error {
		if len(key) == 0 {
			return nil
		}
		aead, err := chacha20poly1305.NewX(key)
		if err != nil {
			return errors.Wrap(err, "file.WithEncryptionKey")
		}
		b.aead = aead
		return nil
	}
}

// KeyFromBase64 decodes a standard base64 encryption key.
func KeyFromBase64(s string) ([]byte, error) {
	if s == "" {
		return nil, nil
	}
	key, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("failed to decode base64 key: %w", err)
	}
	if len(key) != chacha20poly1305.KeySize {
		return nil, fmt.Errorf("key must be %d bytes, got %d", chacha20poly1305.KeySize, len(key))
	}
	return key, nil
}

// GenerateKey returns a random key suitable for WithEncryptionKey.
func GenerateKey() ([]byte, error) {
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}
	return key, nil
}

// New opens path, loading any existing document. A missing file is treated as empty.
func New(path string, options ...Option) (*Backend, error) {
	b := &Backend{
		path:   path,
		values: make(map[string][]byte),
	}
	for _, opt := range options {
		if err := opt(b); err != nil {
			return nil, err
		}
	}
	if err := b.load(); err != nil {
		return nil, err
	}
	return b, nil
}

// NewStorage opens path and wraps it in a KVStorage.
func NewStorage(path string, key []byte, options ...storage.KVStorageOption) (*storage.KVStorage, error) {
	b, err := New(path, WithEncryptionKey(key))
	if err != nil {
		return nil, err
	}
	return storage.NewKVStorage(b, options...), nil
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
	previous, existed := b.values[key]
	b.values[key] = append([]byte(nil), value...)
	if err := b.flush(); err != nil {
		if existed {
			b.values[key] = previous
		} else {
			delete(b.values, key)
		}
		return err
	}
	return nil
}

func (b *Backend) Remove(_ context.Context, key string) error {
	b.lock.Lock()
	defer b.lock.Unlock()
	previous, existed := b.values[key]
	if !existed {
		return nil
	}
	delete(b.values, key)
	if err := b.flush(); err != nil {
		b.values[key] = previous
		return err
	}
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
	previous := b.values
	b.values = make(map[string][]byte)
	if err := b.flush(); err != nil {
		b.values = previous
		return err
	}
	return nil
}

// Encrypted reports whether the document is sealed on disk.
func (b *Backend) Encrypted() bool {
	return b.aead != nil
}

func (b *Backend) load() error {
	data, err := os.ReadFile(b.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return errors.Wrapf(err, "file.Backend read %s", b.path)
	}
	if len(data) == 0 {
		return nil
	}

	if b.aead != nil {
		if data, err = b.open(data); err != nil {
			return err
		}
	}
	if err := json.Unmarshal(data, &b.values); err != nil {
		return errors.Wrapf(err, "file.Backend decode %s", b.path)
	}
	return nil
}

// flush must be called with the write lock held.
func (b *Backend) flush() error {
	data, err := json.Marshal(b.values)
	if err != nil {
		return errors.Wrap(err, "file.Backend encode")
	}
	if b.aead != nil {
		if data, err = b.seal(data); err != nil {
			return err
		}
	}

	dir := filepath.Dir(b.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return errors.Wrapf(err, "file.Backend mkdir %s", dir)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(b.path)+".*.tmp")
	if err != nil {
		return errors.Wrap(err, "file.Backend create temp")
	}
	defer os.Remove(tmp.Name()) // no-op after a successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return errors.Wrap(err, "file.Backend write")
	}
	if err := tmp.Chmod(filePerm); err != nil {
		tmp.Close()
		return errors.Wrap(err, "file.Backend chmod")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "file.Backend close")
	}
	if err := os.Rename(tmp.Name(), b.path); err != nil {
		return errors.Wrap(err, "file.Backend rename")
	}
	return nil
}

// seal produces [nonce][ciphertext].
func (b *Backend) seal(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, b.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	return b.aead.Seal(nonce, nonce, plaintext, nil), nil
}

func (b *Backend) open(sealed []byte) ([]byte, error) {
	nonceSize := b.aead.NonceSize()
	if len(sealed) < nonceSize {
		return nil, fmt.Errorf("ciphertext too short")
	}
	nonce, ciphertext := sealed[:nonceSize], sealed[nonceSize:]
	plaintext, err := b.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt %s: %w", b.path, err)
	}
	return plaintext, nil
}
