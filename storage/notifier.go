package storage

import (
	"context"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

const relayBuffer = 64

// Change announces one mutation to other processes sharing a backend. Only
// the id travels; receivers re-read the record from the backend.
type Change struct {
	Origin string `json:"origin"`
	Event  string `json:"event"`
	ID     string `json:"id"`
}

// Notifier carries Changes between KVStorage instances sharing one backend.
// Watch blocks, calling fn for every Change, until ctx is done.
type Notifier interface {
	Publish(ctx context.Context, c Change) error
	Watch(ctx context.Context, fn func(Change)) error
}

// WithNotifier relays events to and from other storages on the same backend.
func WithNotifier(n Notifier) KVStorageOption {
	return func(s *KVStorage) {
		s.notifier = n
	}
}

func (s *KVStorage) startRelay() {
	s.origin = uuid.NewString()
	ctx, cancel := context.WithCancel(context.Background())
	s.stopRelay = cancel

	changes := make(chan Change, relayBuffer)
	go func() {
		defer close(changes)
		err := s.notifier.Watch(ctx, func(c Change) {
			if c.Origin == s.origin {
				return
			}
			select {
			case changes <- c:
			case <-ctx.Done():
			}
		})
		if err != nil && ctx.Err() == nil {
			s.logger.Error().Err(err).Msg("storage event relay stopped")
		}
	}()
	go func() {
		for c := range changes {
			s.applyRemote(ctx, c)
		}
	}()
}

// emit delivers e to local subscribers and announces it to other storages.
func (s *KVStorage) emit(ctx context.Context, e Event) {
	s.emitter.Emit(e)
	if s.notifier == nil {
		return
	}
	c := Change{Origin: s.origin, Event: e.Name(), ID: eventID(e)}
	if err := s.notifier.Publish(context.WithoutCancel(ctx), c); err != nil {
		s.logger.Warn().Err(err).Str("event", c.Event).Str("id", c.ID).Msg("failed to publish storage event")
	}
}

// applyRemote turns a Change from another storage into a local event.
func (s *KVStorage) applyRemote(ctx context.Context, c Change) {
	var e Event
	switch c.Event {
	case EventTokenRemoved:
		e = TokenRemoved{ID: c.ID}
	case EventDefaultChanged:
		e = DefaultChanged{ID: c.ID}
	case EventTokenAdded, EventTokenReplaced, EventMetadataUpdated:
		rec, err := s.readRecord(ctx, c.ID)
		if errors.Is(err, ErrNotFound) {
			// Removed again before we got here; the removal follows.
			return
		}
		if err != nil {
			s.logger.Warn().Err(err).Str("event", c.Event).Str("id", c.ID).Msg("failed to load relayed record")
			return
		}
		switch c.Event {
		case EventTokenAdded:
			e = TokenAdded{ID: c.ID, Token: rec.Token}
		case EventTokenReplaced:
			e = TokenReplaced{ID: c.ID, Token: rec.Token}
		default:
			e = MetadataUpdated{ID: c.ID, Metadata: rec.Metadata}
		}
	default:
		s.logger.Debug().Str("event", c.Event).Msg("ignoring unknown relayed event")
		return
	}
	s.logger.Debug().Str("event", c.Event).Str("id", c.ID).Msg("relayed storage event")
	s.emitter.Emit(e)
}

func eventID(e Event) string {
	switch e := e.(type) {
	case TokenAdded:
		return e.ID
	case TokenRemoved:
		return e.ID
	case TokenReplaced:
		return e.ID
	case MetadataUpdated:
		return e.ID
	case DefaultChanged:
		return e.ID
	}
	return ""
}
