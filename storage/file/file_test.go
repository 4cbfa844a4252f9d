package file_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/jrsteele09/go-oauth-credentials/storage"
	"github.com/jrsteele09/go-oauth-credentials/storage/file"
	"github.com/jrsteele09/go-oauth-credentials/token"
	"github.com/stretchr/testify/require"
)

func TestBackendPersists(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "credentials.json")

	b, err := file.New(path)
	require.NoError(t, err)
	require.False(t, b.Encrypted())

	require.NoError(t, b.Set(ctx, "a", []byte("1")))
	require.NoError(t, b.Set(ctx, "b", []byte("2")))
	require.NoError(t, b.Remove(ctx, "a"))

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	reopened, err := file.New(path)
	require.NoError(t, err)
	keys, err := reopened.Keys(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"b"}, keys)

	value, err := reopened.Get(ctx, "b")
	require.NoError(t, err)
	require.Equal(t, []byte("2"), value)

	_, err = reopened.Get(ctx, "a")
	require.ErrorIs(t, err, storage.ErrNotFound)

	require.NoError(t, reopened.Clear(ctx))
	keys, err = reopened.Keys(ctx)
	require.NoError(t, err)
	require.Empty(t, keys)
}

func TestBackendEncryption(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "credentials.json")
	key, err := file.GenerateKey()
	require.NoError(t, err)

	b, err := file.New(path, file.WithEncryptionKey(key))
	require.NoError(t, err)
	require.True(t, b.Encrypted())
	require.NoError(t, b.Set(ctx, "token:one", []byte(`{"secret":"access-token-value"}`)))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NotContains(t, string(raw), "access-token-value")

	reopened, err := file.New(path, file.WithEncryptionKey(key))
	require.NoError(t, err)
	value, err := reopened.Get(ctx, "token:one")
	require.NoError(t, err)
	require.Contains(t, string(value), "access-token-value")

	otherKey, err := file.GenerateKey()
	require.NoError(t, err)
	_, err = file.New(path, file.WithEncryptionKey(otherKey))
	require.Error(t, err)

	_, err = file.New(path)
	require.Error(t, err, "sealed file is not plain JSON")
}

func TestKeyFromBase64(t *testing.T) {
	key, err := file.KeyFromBase64("")
	require.NoError(t, err)
	require.Nil(t, key)

	_, err = file.KeyFromBase64("c2hvcnQ=")
	require.Error(t, err)

	_, err = file.KeyFromBase64("not base64!")
	require.Error(t, err)
}

func TestNewStorage(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "credentials.json")

	s, err := file.NewStorage(path, nil)
	require.NoError(t, err)
	tok := token.New(token.Token{ID: "one", AccessToken: "a", ExpiresIn: 60})
	require.NoError(t, s.Add(ctx, tok, nil))

	reopened, err := file.NewStorage(path, nil)
	require.NoError(t, err)
	defaultID, err := reopened.DefaultID(ctx)
	require.NoError(t, err)
	require.Equal(t, "one", defaultID)

	got, err := reopened.Get(ctx, "one")
	require.NoError(t, err)
	require.Equal(t, "a", got.AccessToken)
}
