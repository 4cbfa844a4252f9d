package storage

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"

	"github.com/jrsteele09/go-oauth-credentials/events"
	"github.com/jrsteele09/go-oauth-credentials/token"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	tokenKeyPrefix = "token:"
	defaultIDKey   = "default_id"
)

// record is the persisted shape per credential id.
type record struct {
	Token    *token.Token    `json:"token"`
	Metadata *token.Metadata `json:"metadata"`
}

// KVStorage implements Storage on top of a Backend. Mutations are serialised
// by a mutex; events are emitted after the backend write completes and the
// lock is released.
type KVStorage struct {
	backend Backend
	mu      sync.Mutex
	emitter *events.Emitter[Event]
	logger  zerolog.Logger

	notifier  Notifier
	origin    string
	stopRelay context.CancelFunc
}

var _ Storage = (*KVStorage)(nil)

type KVStorageOption func(*KVStorage)

func WithLogger(logger zerolog.Logger) KVStorageOption {
	return func(s *KVStorage) {
		s.logger = logger
	}
}

func NewKVStorage(backend Backend, options ...KVStorageOption) *KVStorage {
	s := &KVStorage{
		backend: backend,
		emitter: events.NewEmitter[Event](),
		logger:  log.Logger,
	}
	for _, opt := range options {
		opt(s)
	}
	s.logger = s.logger.With().Str("component", "storage").Logger()
	if s.notifier != nil {
		s.startRelay()
	}
	return s
}

// Close stops relaying events from other storages. The backend stays open.
func (s *KVStorage) Close() {
	if s.stopRelay != nil {
		s.stopRelay()
	}
}

func (s *KVStorage) Subscribe(fn func(Event)) events.Dispose {
	return s.emitter.Subscribe(fn)
}

func (s *KVStorage) Add(ctx context.Context, t *token.Token, metadata *token.Metadata) error {
	if t == nil {
		return ErrTokenRequired
	}
	if metadata == nil {
		metadata = token.NewMetadata(t, nil)
	}
	if err := metadata.Validate(t); err != nil {
		return err
	}

	s.mu.Lock()
	ids, err := s.allIDs(ctx)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	for _, id := range ids {
		if id == t.ID {
			s.mu.Unlock()
			return errors.Wrapf(ErrDuplicateID, "KVStorage.Add %s", t.ID)
		}
	}

	if err := s.writeRecord(ctx, &record{Token: t, Metadata: metadata}); err != nil {
		s.mu.Unlock()
		return err
	}

	promoted := len(ids) == 0
	if promoted {
		if err := s.backend.Set(ctx, defaultIDKey, []byte(t.ID)); err != nil {
			s.mu.Unlock()
			return errors.Wrap(err, "KVStorage.Add set default")
		}
	}
	s.mu.Unlock()

	s.logger.Debug().Str("id", t.ID).Bool("default", promoted).Msg("token added")
	s.emit(ctx, TokenAdded{ID: t.ID, Token: t})
	if promoted {
		s.emit(ctx, DefaultChanged{ID: t.ID})
	}
	return nil
}

func (s *KVStorage) Replace(ctx context.Context, id string, t *token.Token) error {
	if t == nil {
		return ErrTokenRequired
	}
	if t.ID != id {
		return errors.Wrapf(ErrMetadataMismatch, "KVStorage.Replace %s with token %s", id, t.ID)
	}

	s.mu.Lock()
	rec, err := s.readRecord(ctx, id)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	rec.Token = t
	if err := s.writeRecord(ctx, rec); err != nil {
		s.mu.Unlock()
		return err
	}
	s.mu.Unlock()

	s.emit(ctx, TokenReplaced{ID: id, Token: t})
	return nil
}

func (s *KVStorage) SetMetadata(ctx context.Context, metadata *token.Metadata) error {
	if metadata == nil {
		return errors.New("KVStorage.SetMetadata: metadata is required")
	}

	s.mu.Lock()
	rec, err := s.readRecord(ctx, metadata.ID)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	rec.Metadata = metadata
	if err := s.writeRecord(ctx, rec); err != nil {
		s.mu.Unlock()
		return err
	}
	s.mu.Unlock()

	s.emit(ctx, MetadataUpdated{ID: metadata.ID, Metadata: metadata})
	return nil
}

func (s *KVStorage) Remove(ctx context.Context, id string) error {
	s.mu.Lock()
	if _, err := s.readRecord(ctx, id); err != nil {
		s.mu.Unlock()
		return err
	}
	if err := s.backend.Remove(ctx, tokenKeyPrefix+id); err != nil {
		s.mu.Unlock()
		return errors.Wrap(err, "KVStorage.Remove")
	}

	defaultID, err := s.defaultID(ctx)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	clearedDefault := defaultID == id
	if clearedDefault {
		if err := s.backend.Remove(ctx, defaultIDKey); err != nil {
			s.mu.Unlock()
			return errors.Wrap(err, "KVStorage.Remove clear default")
		}
	}
	s.mu.Unlock()

	s.logger.Debug().Str("id", id).Bool("was_default", clearedDefault).Msg("token removed")
	s.emit(ctx, TokenRemoved{ID: id})
	if clearedDefault {
		s.emit(ctx, DefaultChanged{ID: ""})
	}
	return nil
}

func (s *KVStorage) Get(ctx context.Context, id string) (*token.Token, error) {
	rec, err := s.readRecord(ctx, id)
	if err != nil {
		return nil, err
	}
	return rec.Token, nil
}

func (s *KVStorage) Metadata(ctx context.Context, id string) (*token.Metadata, error) {
	rec, err := s.readRecord(ctx, id)
	if err != nil {
		return nil, err
	}
	return rec.Metadata, nil
}

func (s *KVStorage) AllIDs(ctx context.Context) ([]string, error) {
	return s.allIDs(ctx)
}

func (s *KVStorage) DefaultID(ctx context.Context) (string, error) {
	return s.defaultID(ctx)
}

func (s *KVStorage) SetDefaultID(ctx context.Context, id string) error {
	s.mu.Lock()
	current, err := s.defaultID(ctx)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	if current == id {
		s.mu.Unlock()
		return nil
	}

	if id == "" {
		err = s.backend.Remove(ctx, defaultIDKey)
	} else {
		if _, err := s.readRecord(ctx, id); err != nil {
			s.mu.Unlock()
			return err
		}
		err = s.backend.Set(ctx, defaultIDKey, []byte(id))
	}
	s.mu.Unlock()
	if err != nil {
		return errors.Wrap(err, "KVStorage.SetDefaultID")
	}

	s.emit(ctx, DefaultChanged{ID: id})
	return nil
}

func (s *KVStorage) Clear(ctx context.Context) error {
	s.mu.Lock()
	ids, err := s.allIDs(ctx)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	defaultID, err := s.defaultID(ctx)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	if err := s.backend.Clear(ctx); err != nil {
		s.mu.Unlock()
		return errors.Wrap(err, "KVStorage.Clear")
	}
	s.mu.Unlock()

	for _, id := range ids {
		s.emit(ctx, TokenRemoved{ID: id})
	}
	if defaultID != "" {
		s.emit(ctx, DefaultChanged{ID: ""})
	}
	return nil
}

func (s *KVStorage) allIDs(ctx context.Context) ([]string, error) {
	keys, err := s.backend.Keys(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "KVStorage.AllIDs Keys")
	}
	ids := make([]string, 0, len(keys))
	for _, key := range keys {
		if id, ok := strings.CutPrefix(key, tokenKeyPrefix); ok {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *KVStorage) defaultID(ctx context.Context) (string, error) {
	data, err := s.backend.Get(ctx, defaultIDKey)
	if errors.Is(err, ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", errors.Wrap(err, "KVStorage.DefaultID Get")
	}
	return string(data), nil
}

func (s *KVStorage) readRecord(ctx context.Context, id string) (*record, error) {
	data, err := s.backend.Get(ctx, tokenKeyPrefix+id)
	if errors.Is(err, ErrNotFound) {
		return nil, errors.Wrapf(ErrNotFound, "token %s", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, "KVStorage.readRecord Get")
	}

	rec := &record{}
	if err := json.Unmarshal(data, rec); err != nil {
		return nil, errors.Wrapf(err, "KVStorage.readRecord decode %s", id)
	}
	if rec.Token == nil || rec.Metadata == nil {
		return nil, errors.Errorf("KVStorage.readRecord: incomplete record for %s", id)
	}
	return rec, nil
}

func (s *KVStorage) writeRecord(ctx context.Context, rec *record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return errors.Wrap(err, "KVStorage.writeRecord encode")
	}
	if err := s.backend.Set(ctx, tokenKeyPrefix+rec.Token.ID, data); err != nil {
		return errors.Wrap(err, "KVStorage.writeRecord Set")
	}
	return nil
}
