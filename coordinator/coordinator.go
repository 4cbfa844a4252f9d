// Package coordinator bridges token storage and the credential identity map.
// It persists refreshes, schedules advisory expiry notifications, caches the
// default credential and keeps live credentials in step with storage changes
// made by other coordinators sharing the same storage.
package coordinator

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/jrsteele09/go-oauth-credentials/credential"
	"github.com/jrsteele09/go-oauth-credentials/events"
	internalerrors "github.com/jrsteele09/go-oauth-credentials/internal/errors"
	"github.com/jrsteele09/go-oauth-credentials/internal/utils"
	"github.com/jrsteele09/go-oauth-credentials/storage"
	"github.com/jrsteele09/go-oauth-credentials/token"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	ErrNoCredential = internalerrors.ErrNoCredential
	ErrNotFound     = storage.ErrNotFound
)

var _ credential.Owner = (*Coordinator)(nil)

type Option func(*Coordinator)

func WithLogger(logger zerolog.Logger) Option {
	return func(c *Coordinator) {
		c.logger = logger
	}
}

func WithNowFunc(nowFunc func() time.Time) Option {
	return func(c *Coordinator) {
		c.nowFunc = nowFunc
	}
}

// WithGracePeriod sets how close to expiry Authorize refreshes first.
func WithGracePeriod(d time.Duration) Option {
	return func(c *Coordinator) {
		c.gracePeriod = d
	}
}

// Coordinator is the sole writer of its storage and identity map.
type Coordinator struct {
	storage     storage.Storage
	source      *credential.DataSource
	emitter     *events.Emitter[Event]
	logger      zerolog.Logger
	nowFunc     func() time.Time
	gracePeriod time.Duration

	mu        sync.Mutex
	timers    map[string]*expiryTimer
	refreshed map[string]events.Dispose

	defaultMu       sync.Mutex
	defaultResolved bool
	defaultCred     *credential.Credential
	defaultGen      uint64

	disposers []events.Dispose
	closeOnce sync.Once
}

// New wires a Coordinator over store. Credentials get their exchange client
// from factory.
func New(store storage.Storage, factory credential.ClientFactory, options ...Option) *Coordinator {
	c := &Coordinator{
		storage:     store,
		emitter:     events.NewEmitter[Event](),
		logger:      log.Logger,
		nowFunc:     time.Now,
		gracePeriod: credential.DefaultGracePeriod,
		timers:      make(map[string]*expiryTimer),
		refreshed:   make(map[string]events.Dispose),
	}
	for _, opt := range options {
		opt(c)
	}
	c.logger = c.logger.With().Str("component", "coordinator").Logger()

	c.source = credential.NewDataSource(factory,
		credential.WithDataSourceLogger(c.logger),
		credential.WithCredentialOptions(
			credential.WithOwner(c),
			credential.WithLogger(c.logger),
			credential.WithNowFunc(c.nowFunc),
		),
	)
	c.disposers = append(c.disposers,
		c.source.Subscribe(c.onSourceEvent),
		store.Subscribe(c.onStorageEvent),
	)
	return c
}

// Close detaches from storage and stops every timer. Live credentials stay usable.
func (c *Coordinator) Close() {
	c.closeOnce.Do(func() {
		for _, dispose := range c.disposers {
			dispose()
		}
		c.mu.Lock()
		for id, timer := range c.timers {
			timer.stop()
			delete(c.timers, id)
		}
		for id, dispose := range c.refreshed {
			dispose()
			delete(c.refreshed, id)
		}
		c.mu.Unlock()
	})
}

func (c *Coordinator) Subscribe(fn func(Event)) events.Dispose {
	return c.emitter.Subscribe(fn)
}

// Store persists t with metadata and returns its Credential. Nil metadata is
// derived from t.
func (c *Coordinator) Store(ctx context.Context, t *token.Token, metadata *token.Metadata) (*credential.Credential, error) {
	if t == nil {
		return nil, storage.ErrTokenRequired
	}
	if metadata == nil {
		metadata = token.NewMetadata(t, nil)
	}
	if err := c.storage.Add(ctx, t, metadata); err != nil {
		return nil, errors.Wrapf(err, "store %s", t.ID)
	}
	return c.source.CredentialFor(t, metadata)
}

// StoreTagged stores t with metadata derived from it and the given tags.
func (c *Coordinator) StoreTagged(ctx context.Context, t *token.Token, tags ...string) (*credential.Credential, error) {
	if t == nil {
		return nil, storage.ErrTokenRequired
	}
	return c.Store(ctx, t, token.NewMetadata(t, tags))
}

// With returns the Credential for id, loading it from storage when it is not live.
func (c *Coordinator) With(ctx context.Context, id string) (*credential.Credential, error) {
	if cred, ok := c.source.Get(id); ok {
		return cred, nil
	}
	t, err := c.storage.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	metadata, err := c.storage.Metadata(ctx, id)
	if err != nil {
		return nil, err
	}
	return c.source.CredentialFor(t, metadata)
}

// Find returns the credentials whose metadata matches, in id order.
func (c *Coordinator) Find(ctx context.Context, matcher Matcher) ([]*credential.Credential, error) {
	ids, err := c.storage.AllIDs(ctx)
	if err != nil {
		return nil, err
	}

	var found []*credential.Credential
	for _, id := range ids {
		metadata, err := c.storage.Metadata(ctx, id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		ok, err := matcher.Match(metadata)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		cred, err := c.With(ctx, id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		found = append(found, cred)
	}
	return found, nil
}

func (c *Coordinator) AllIDs(ctx context.Context) ([]string, error) {
	return c.storage.AllIDs(ctx)
}

func (c *Coordinator) Metadata(ctx context.Context, id string) (*token.Metadata, error) {
	return c.storage.Metadata(ctx, id)
}

// SetTags replaces the tags of id. Listeners see TagsUpdated once storage
// reports the metadata change.
func (c *Coordinator) SetTags(ctx context.Context, id string, tags []string) error {
	metadata, err := c.storage.Metadata(ctx, id)
	if err != nil {
		return err
	}
	return c.storage.SetMetadata(ctx, metadata.WithTags(tags))
}

// Remove deletes id from storage and evicts its Credential. The grant is not
// revoked.
func (c *Coordinator) Remove(ctx context.Context, id string) error {
	if err := c.storage.Remove(ctx, id); err != nil {
		return err
	}
	c.source.Remove(id)
	return nil
}

// Clear removes every credential and the default pointer, then publishes Cleared.
func (c *Coordinator) Clear(ctx context.Context) error {
	if err := c.storage.Clear(ctx); err != nil {
		return err
	}
	c.source.Clear()
	c.invalidateDefault()

	c.mu.Lock()
	for id, timer := range c.timers {
		timer.stop()
		delete(c.timers, id)
	}
	c.mu.Unlock()

	c.logger.Info().Msg("cleared")
	c.emitter.Emit(Cleared{})
	return nil
}

// Default returns the default Credential, or nil when none is set. A stored
// default pointing at a missing record is reset to none.
func (c *Coordinator) Default(ctx context.Context) (*credential.Credential, error) {
	c.defaultMu.Lock()
	if c.defaultResolved {
		cred := c.defaultCred
		c.defaultMu.Unlock()
		return cred, nil
	}
	gen := c.defaultGen
	c.defaultMu.Unlock()

	id, err := c.storage.DefaultID(ctx)
	if err != nil {
		return nil, err
	}

	var cred *credential.Credential
	if id != "" {
		cred, err = c.With(ctx, id)
		if errors.Is(err, ErrNotFound) {
			c.logger.Warn().Str("id", id).Msg("default credential missing, resetting")
			if err := c.storage.SetDefaultID(ctx, ""); err != nil {
				return nil, err
			}
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
	}

	c.defaultMu.Lock()
	if gen == c.defaultGen {
		c.defaultResolved = true
		c.defaultCred = cred
	}
	c.defaultMu.Unlock()
	return cred, nil
}

// SetDefault makes cred the default. Nil clears it.
func (c *Coordinator) SetDefault(ctx context.Context, cred *credential.Credential) error {
	id := ""
	if cred != nil {
		id = cred.ID()
	}
	if err := c.storage.SetDefaultID(ctx, id); err != nil {
		return err
	}

	c.defaultMu.Lock()
	c.defaultGen++
	c.defaultResolved = true
	c.defaultCred = cred
	c.defaultMu.Unlock()
	return nil
}

// Authorize resolves the credential named by id, or the default when id is
// empty, refreshes it within the grace period and authorizes req with it.
func (c *Coordinator) Authorize(ctx context.Context, req *http.Request, id string) error {
	var (
		cred *credential.Credential
		err  error
	)
	if id != "" {
		cred, err = c.With(ctx, id)
		if errors.Is(err, ErrNotFound) {
			return errors.Wrapf(ErrNoCredential, "credential %s", id)
		}
	} else {
		cred, err = c.Default(ctx)
	}
	if err != nil {
		return err
	}
	if cred == nil {
		return ErrNoCredential
	}

	if _, err := cred.RefreshIfNeeded(ctx, c.gracePeriod); err != nil {
		return err
	}
	return cred.Authorize(ctx, req)
}

func (c *Coordinator) invalidateDefault() {
	c.defaultMu.Lock()
	c.defaultGen++
	c.defaultResolved = false
	c.defaultCred = nil
	c.defaultMu.Unlock()
}

func (c *Coordinator) onSourceEvent(e credential.Event) {
	switch e := e.(type) {
	case credential.Added:
		cred := e.Credential
		dispose := cred.SubscribeRefreshed(c.onRefreshed)
		c.mu.Lock()
		c.refreshed[cred.ID()] = dispose
		c.mu.Unlock()
		c.schedule(cred)
		c.emitter.Emit(CredentialAdded{Credential: cred})

	case credential.Removed:
		c.mu.Lock()
		if timer, ok := c.timers[e.ID]; ok {
			timer.stop()
			delete(c.timers, e.ID)
		}
		if dispose, ok := c.refreshed[e.ID]; ok {
			dispose()
			delete(c.refreshed, e.ID)
		}
		c.mu.Unlock()

		c.defaultMu.Lock()
		stale := c.defaultResolved && c.defaultCred != nil && c.defaultCred.ID() == e.ID
		c.defaultMu.Unlock()
		if stale {
			c.invalidateDefault()
		}
		c.emitter.Emit(CredentialRemoved{ID: e.ID})
	}
}

func (c *Coordinator) onRefreshed(e credential.Refreshed) {
	// Refreshes run detached from any caller.
	ctx := context.Background()
	if err := c.storage.Replace(ctx, e.Credential.ID(), e.Token); err != nil {
		c.logger.Error().Err(err).Str("id", e.Credential.ID()).Msg("persist refreshed token")
	}
	c.schedule(e.Credential)
	c.emitter.Emit(CredentialRefreshed{Credential: e.Credential})
}

func (c *Coordinator) onStorageEvent(e storage.Event) {
	switch e := e.(type) {
	case storage.TokenRemoved:
		c.source.Remove(e.ID)

	case storage.TokenReplaced:
		cred, ok := c.source.Get(e.ID)
		if !ok || cred.Token().IsEqual(e.Token) {
			return
		}
		if err := cred.SetToken(e.Token); err != nil {
			c.logger.Error().Err(err).Str("id", e.ID).Msg("sync replaced token")
			return
		}
		c.schedule(cred)

	case storage.MetadataUpdated:
		cred, ok := c.source.Get(e.ID)
		changed := !ok || !utils.SameSet(cred.Tags(), e.Metadata.Tags)
		if ok {
			if err := cred.SetMetadata(e.Metadata); err != nil {
				c.logger.Error().Err(err).Str("id", e.ID).Msg("sync metadata")
			}
		}
		if changed {
			c.emitter.Emit(TagsUpdated{ID: e.ID, Tags: append([]string(nil), e.Metadata.Tags...)})
		}

	case storage.DefaultChanged:
		c.defaultMu.Lock()
		current := ""
		if c.defaultCred != nil {
			current = c.defaultCred.ID()
		}
		keep := c.defaultResolved && current == e.ID
		c.defaultMu.Unlock()
		if !keep {
			c.invalidateDefault()
		}
		c.emitter.Emit(DefaultChanged{ID: e.ID})
	}
}
