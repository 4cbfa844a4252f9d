package storage_test

import (
	"context"
	"testing"

	"github.com/jrsteele09/go-oauth-credentials/storage"
	"github.com/jrsteele09/go-oauth-credentials/storage/memory"
	"github.com/jrsteele09/go-oauth-credentials/token"
	"github.com/stretchr/testify/require"
)

type testFixture struct {
	storage *storage.KVStorage
	events  []storage.Event
}

func setupTestFixture(t *testing.T) *testFixture {
	t.Helper()
	f := &testFixture{storage: memory.NewStorage()}
	dispose := f.storage.Subscribe(func(e storage.Event) {
		f.events = append(f.events, e)
	})
	t.Cleanup(dispose)
	return f
}

func newToken(id string) *token.Token {
	return token.New(token.Token{
		ID:           id,
		AccessToken:  "access-" + id,
		RefreshToken: "refresh-" + id,
		ExpiresIn:    3600,
		Context:      token.Context{Issuer: "https://issuer.example.com", ClientID: "client"},
	})
}

func (f *testFixture) add(t *testing.T, id string, tags ...string) *token.Token {
	t.Helper()
	tok := newToken(id)
	require.NoError(t, f.storage.Add(context.Background(), tok, token.NewMetadata(tok, tags)))
	return tok
}

func TestAdd(t *testing.T) {
	ctx := context.Background()

	t.Run("first token becomes default", func(t *testing.T) {
		f := setupTestFixture(t)
		tok := f.add(t, "one")

		defaultID, err := f.storage.DefaultID(ctx)
		require.NoError(t, err)
		require.Equal(t, "one", defaultID)
		require.Equal(t, []storage.Event{
			storage.TokenAdded{ID: "one", Token: tok},
			storage.DefaultChanged{ID: "one"},
		}, f.events)

		f.events = nil
		f.add(t, "two")
		defaultID, _ = f.storage.DefaultID(ctx)
		require.Equal(t, "one", defaultID)
		require.Len(t, f.events, 1)
	})

	t.Run("duplicate id is rejected", func(t *testing.T) {
		f := setupTestFixture(t)
		f.add(t, "one")
		dup := newToken("one")
		err := f.storage.Add(ctx, dup, token.NewMetadata(dup, nil))
		require.ErrorIs(t, err, storage.ErrDuplicateID)
	})

	t.Run("metadata for another id is rejected", func(t *testing.T) {
		f := setupTestFixture(t)
		tok := newToken("one")
		err := f.storage.Add(ctx, tok, token.NewMetadata(newToken("two"), nil))
		require.ErrorIs(t, err, storage.ErrMetadataMismatch)

		ids, err := f.storage.AllIDs(ctx)
		require.NoError(t, err)
		require.Empty(t, ids)
		require.Empty(t, f.events)
	})

	t.Run("nil metadata is derived", func(t *testing.T) {
		f := setupTestFixture(t)
		tok := newToken("one")
		require.NoError(t, f.storage.Add(ctx, tok, nil))
		m, err := f.storage.Metadata(ctx, "one")
		require.NoError(t, err)
		require.Equal(t, "one", m.ID)
	})
}

func TestGetRoundTrip(t *testing.T) {
	f := setupTestFixture(t)
	tok := f.add(t, "one", "work")

	got, err := f.storage.Get(context.Background(), "one")
	require.NoError(t, err)
	require.True(t, tok.IsEqual(got))
	require.Equal(t, tok.ID, got.ID)

	m, err := f.storage.Metadata(context.Background(), "one")
	require.NoError(t, err)
	require.Equal(t, []string{"work"}, m.Tags)

	_, err = f.storage.Get(context.Background(), "missing")
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestReplace(t *testing.T) {
	ctx := context.Background()
	f := setupTestFixture(t)
	f.add(t, "one", "work")
	f.events = nil

	refreshed := token.New(token.Token{ID: "one", AccessToken: "new-access"})
	require.NoError(t, f.storage.Replace(ctx, "one", refreshed))
	require.Equal(t, []storage.Event{storage.TokenReplaced{ID: "one", Token: refreshed}}, f.events)

	got, err := f.storage.Get(ctx, "one")
	require.NoError(t, err)
	require.Equal(t, "new-access", got.AccessToken)

	m, err := f.storage.Metadata(ctx, "one")
	require.NoError(t, err)
	require.Equal(t, []string{"work"}, m.Tags, "metadata half is untouched")

	err = f.storage.Replace(ctx, "missing", token.New(token.Token{ID: "missing"}))
	require.ErrorIs(t, err, storage.ErrNotFound)

	err = f.storage.Replace(ctx, "one", token.New(token.Token{ID: "two"}))
	require.ErrorIs(t, err, storage.ErrMetadataMismatch)
}

func TestSetMetadata(t *testing.T) {
	ctx := context.Background()
	f := setupTestFixture(t)
	tok := f.add(t, "one")
	f.events = nil

	updated := token.NewMetadata(tok, []string{"a", "b"})
	require.NoError(t, f.storage.SetMetadata(ctx, updated))
	require.Equal(t, []storage.Event{storage.MetadataUpdated{ID: "one", Metadata: updated}}, f.events)

	got, err := f.storage.Get(ctx, "one")
	require.NoError(t, err)
	require.Equal(t, tok.AccessToken, got.AccessToken, "token half is untouched")

	missing := token.NewMetadata(newToken("missing"), nil)
	require.ErrorIs(t, f.storage.SetMetadata(ctx, missing), storage.ErrNotFound)
}

func TestRemove(t *testing.T) {
	ctx := context.Background()

	t.Run("removing the default clears the pointer", func(t *testing.T) {
		f := setupTestFixture(t)
		f.add(t, "one")
		f.add(t, "two")
		f.events = nil

		require.NoError(t, f.storage.Remove(ctx, "one"))
		require.Equal(t, []storage.Event{
			storage.TokenRemoved{ID: "one"},
			storage.DefaultChanged{ID: ""},
		}, f.events)

		defaultID, err := f.storage.DefaultID(ctx)
		require.NoError(t, err)
		require.Empty(t, defaultID)
	})

	t.Run("removing another id keeps the default", func(t *testing.T) {
		f := setupTestFixture(t)
		f.add(t, "one")
		f.add(t, "two")
		f.events = nil

		require.NoError(t, f.storage.Remove(ctx, "two"))
		require.Equal(t, []storage.Event{storage.TokenRemoved{ID: "two"}}, f.events)
		defaultID, _ := f.storage.DefaultID(ctx)
		require.Equal(t, "one", defaultID)
	})

	t.Run("unknown id", func(t *testing.T) {
		f := setupTestFixture(t)
		require.ErrorIs(t, f.storage.Remove(ctx, "missing"), storage.ErrNotFound)
	})
}

func TestSetDefaultID(t *testing.T) {
	ctx := context.Background()
	f := setupTestFixture(t)
	f.add(t, "one")
	f.add(t, "two")
	f.events = nil

	require.NoError(t, f.storage.SetDefaultID(ctx, "two"))
	require.NoError(t, f.storage.SetDefaultID(ctx, "two"))
	require.Equal(t, []storage.Event{storage.DefaultChanged{ID: "two"}}, f.events)

	require.ErrorIs(t, f.storage.SetDefaultID(ctx, "missing"), storage.ErrNotFound)

	require.NoError(t, f.storage.SetDefaultID(ctx, ""))
	defaultID, err := f.storage.DefaultID(ctx)
	require.NoError(t, err)
	require.Empty(t, defaultID)
}

func TestClear(t *testing.T) {
	ctx := context.Background()
	f := setupTestFixture(t)
	f.add(t, "one")
	f.add(t, "two")
	f.events = nil

	require.NoError(t, f.storage.Clear(ctx))
	require.Equal(t, []storage.Event{
		storage.TokenRemoved{ID: "one"},
		storage.TokenRemoved{ID: "two"},
		storage.DefaultChanged{ID: ""},
	}, f.events)

	ids, err := f.storage.AllIDs(ctx)
	require.NoError(t, err)
	require.Empty(t, ids)
}

func TestEventNames(t *testing.T) {
	require.Equal(t, "token_added", storage.TokenAdded{}.Name())
	require.Equal(t, "default_changed", storage.DefaultChanged{}.Name())
}
