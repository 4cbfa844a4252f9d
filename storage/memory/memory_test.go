package memory_test

import (
	"context"
	"testing"

	"github.com/jrsteele09/go-oauth-credentials/storage"
	"github.com/jrsteele09/go-oauth-credentials/storage/memory"
	"github.com/stretchr/testify/require"
)

func TestBackend(t *testing.T) {
	ctx := context.Background()
	b := memory.New()

	_, err := b.Get(ctx, "missing")
	require.ErrorIs(t, err, storage.ErrNotFound)

	value := []byte("v1")
	require.NoError(t, b.Set(ctx, "b", value))
	require.NoError(t, b.Set(ctx, "a", []byte("v2")))
	value[0] = 'x'

	got, err := b.Get(ctx, "b")
	require.NoError(t, err)
	require.Equal(t, []byte("v1"), got, "stored values are copied")

	keys, err := b.Keys(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b"}, keys)

	require.NoError(t, b.Remove(ctx, "a"))
	require.NoError(t, b.Remove(ctx, "a"))
	keys, _ = b.Keys(ctx)
	require.Equal(t, []string{"b"}, keys)

	require.NoError(t, b.Clear(ctx))
	keys, _ = b.Keys(ctx)
	require.Empty(t, keys)
}
