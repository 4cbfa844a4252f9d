// Package storage persists tokens and their metadata as separate halves of one
// record per id, plus a pointer to the default id. Every mutation is announced
// with a typed Event so that coordinators, including ones in other processes
// sharing the same backend, can react without polling.
package storage

import (
	"context"

	"github.com/jrsteele09/go-oauth-credentials/events"
	internalerrors "github.com/jrsteele09/go-oauth-credentials/internal/errors"
	"github.com/jrsteele09/go-oauth-credentials/token"
)

var (
	ErrNotFound         = internalerrors.ErrNotFound
	ErrDuplicateID      = internalerrors.ErrDuplicateID
	ErrMetadataMismatch = internalerrors.ErrMetadataMismatch
	ErrTokenRequired    = internalerrors.ErrTokenRequired
)

// Storage is the token persistence contract used by the coordinator.
// All methods accept context.Context for tracing and cancellation.
type Storage interface {
	// Add stores a new pair. The first token added to an empty store becomes the default.
	Add(ctx context.Context, t *token.Token, metadata *token.Metadata) error

	// Replace swaps the token half of an existing pair.
	Replace(ctx context.Context, id string, t *token.Token) error

	// SetMetadata swaps the metadata half of an existing pair.
	SetMetadata(ctx context.Context, metadata *token.Metadata) error

	// Remove deletes a pair, clearing the default pointer when it referenced id.
	Remove(ctx context.Context, id string) error

	Get(ctx context.Context, id string) (*token.Token, error)
	Metadata(ctx context.Context, id string) (*token.Metadata, error)
	AllIDs(ctx context.Context) ([]string, error)

	// DefaultID returns "" when no default is set.
	DefaultID(ctx context.Context) (string, error)

	// SetDefaultID points the default at a stored id, or clears it with "".
	SetDefaultID(ctx context.Context, id string) error

	// Clear removes every pair and the default pointer.
	Clear(ctx context.Context) error

	Subscribe(fn func(Event)) events.Dispose
}

// Backend is the persistent key/value store a Storage writes records into.
// Get returns ErrNotFound for unknown keys.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Remove(ctx context.Context, key string) error
	Keys(ctx context.Context) ([]string, error)
	Clear(ctx context.Context) error
}

// Event is one of TokenAdded, TokenRemoved, TokenReplaced, MetadataUpdated or DefaultChanged.
type Event interface {
	Name() string
	storageEvent()
}

// Event names, as used in logs and by cross-process relays.
const (
	EventTokenAdded      = "token_added"
	EventTokenRemoved    = "token_removed"
	EventTokenReplaced   = "token_replaced"
	EventMetadataUpdated = "metadata_updated"
	EventDefaultChanged  = "default_changed"
)

type TokenAdded struct {
	ID    string
	Token *token.Token
}

type TokenRemoved struct {
	ID string
}

type TokenReplaced struct {
	ID    string
	Token *token.Token
}

type MetadataUpdated struct {
	ID       string
	Metadata *token.Metadata
}

// DefaultChanged carries the new default id, "" when the pointer was cleared.
type DefaultChanged struct {
	ID string
}

func (TokenAdded) Name() string      { return EventTokenAdded }
func (TokenRemoved) Name() string    { return EventTokenRemoved }
func (TokenReplaced) Name() string   { return EventTokenReplaced }
func (MetadataUpdated) Name() string { return EventMetadataUpdated }
func (DefaultChanged) Name() string  { return EventDefaultChanged }

func (TokenAdded) storageEvent()      {}
func (TokenRemoved) storageEvent()    {}
func (TokenReplaced) storageEvent()   {}
func (MetadataUpdated) storageEvent() {}
func (DefaultChanged) storageEvent()  {}
