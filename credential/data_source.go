package credential

import (
	"slices"
	"sync"

	"github.com/jrsteele09/go-oauth-credentials/events"
	"github.com/jrsteele09/go-oauth-credentials/token"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Event is published by a DataSource when its identity map changes.
type Event interface {
	dataSourceEvent()
}

// Added reports a newly constructed Credential.
type Added struct {
	Credential *Credential
}

// Removed reports an evicted Credential id.
type Removed struct {
	ID string
}

func (Added) dataSourceEvent()   {}
func (Removed) dataSourceEvent() {}

type DataSourceOption func(*DataSource)

// WithCredentialOptions applies options to every Credential the source builds.
func WithCredentialOptions(options ...Option) DataSourceOption {
	return func(d *DataSource) {
		d.credentialOptions = append(d.credentialOptions, options...)
	}
}

func WithDataSourceLogger(logger zerolog.Logger) DataSourceOption {
	return func(d *DataSource) {
		d.logger = logger
	}
}

// DataSource is the identity map of live Credentials keyed by token id.
type DataSource struct {
	factory           ClientFactory
	credentialOptions []Option
	logger            zerolog.Logger

	mu          sync.Mutex
	credentials map[string]*Credential
	emitter     *events.Emitter[Event]
}

func NewDataSource(factory ClientFactory, options ...DataSourceOption) *DataSource {
	d := &DataSource{
		factory:     factory,
		logger:      log.Logger,
		credentials: make(map[string]*Credential),
		emitter:     events.NewEmitter[Event](),
	}
	for _, opt := range options {
		opt(d)
	}
	d.logger = d.logger.With().Str("component", "data_source").Logger()
	return d
}

// CredentialFor returns the live Credential for t.ID, building and recording
// one when none exists. An existing Credential keeps its own token.
func (d *DataSource) CredentialFor(t *token.Token, metadata *token.Metadata) (*Credential, error) {
	if t == nil {
		return nil, ErrTokenRequired
	}
	if metadata != nil {
		if err := metadata.Validate(t); err != nil {
			return nil, err
		}
	}

	d.mu.Lock()
	if c, ok := d.credentials[t.ID]; ok {
		d.mu.Unlock()
		return c, nil
	}

	client, err := d.factory(t)
	if err != nil {
		d.mu.Unlock()
		return nil, errors.Wrapf(err, "client for %s", t.ID)
	}
	c, err := New(t, metadata, client, d.credentialOptions...)
	if err != nil {
		d.mu.Unlock()
		return nil, err
	}
	d.credentials[t.ID] = c
	d.mu.Unlock()

	d.logger.Debug().Str("id", t.ID).Msg("credential added")
	d.emitter.Emit(Added{Credential: c})
	return c, nil
}

func (d *DataSource) Get(id string) (*Credential, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	c, ok := d.credentials[id]
	return c, ok
}

// Remove evicts id and reports whether it was present.
func (d *DataSource) Remove(id string) bool {
	d.mu.Lock()
	_, ok := d.credentials[id]
	delete(d.credentials, id)
	d.mu.Unlock()

	if ok {
		d.logger.Debug().Str("id", id).Msg("credential removed")
		d.emitter.Emit(Removed{ID: id})
	}
	return ok
}

// Clear evicts every Credential, publishing Removed for each in id order.
func (d *DataSource) Clear() {
	d.mu.Lock()
	ids := make([]string, 0, len(d.credentials))
	for id := range d.credentials {
		ids = append(ids, id)
	}
	clear(d.credentials)
	d.mu.Unlock()

	slices.Sort(ids)
	for _, id := range ids {
		d.emitter.Emit(Removed{ID: id})
	}
}

func (d *DataSource) IDs() []string {
	d.mu.Lock()
	ids := make([]string, 0, len(d.credentials))
	for id := range d.credentials {
		ids = append(ids, id)
	}
	d.mu.Unlock()
	slices.Sort(ids)
	return ids
}

func (d *DataSource) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.credentials)
}

func (d *DataSource) Subscribe(fn func(Event)) events.Dispose {
	return d.emitter.Subscribe(fn)
}
