// Package valkey provides a storage.Backend on a Valkey (or Redis) server so
// that several processes can share one credential store.
package valkey

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jrsteele09/go-oauth-credentials/storage"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	valkeygo "github.com/valkey-io/valkey-go"
)

const (
	// DefaultKeyPrefix is used when Config.KeyPrefix is empty.
	DefaultKeyPrefix = "credctl:"

	scanBatchSize           = 100
	eventsChannel           = "events"
	connectionVerifyTimeout = 5 * time.Second
)

var (
	_ storage.Backend  = (*Backend)(nil)
	_ storage.Notifier = (*Backend)(nil)
)

type Config struct {
	// Address is the server address, e.g. "localhost:6379".
	Address   string
	Password  string
	DB        int
	KeyPrefix string
	TLS       *tls.Config
	Logger    *zerolog.Logger
}

type Backend struct {
	client valkeygo.Client
	prefix string
	logger zerolog.Logger
}

// New connects to the server and verifies the connection with a PING.
func New(cfg Config) (*Backend, error) {
	if cfg.Address == "" {
		return nil, fmt.Errorf("valkey address is required")
	}

	opts := valkeygo.ClientOption{
		InitAddress: []string{cfg.Address},
		SelectDB:    cfg.DB,
		Password:    cfg.Password,
		TLSConfig:   cfg.TLS,
	}
	client, err := valkeygo.NewClient(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create valkey client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), connectionVerifyTimeout)
	defer cancel()
	if err := client.Do(ctx, client.B().Ping().Build()).Error(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to valkey: %w", err)
	}

	b := NewWithClient(client, cfg.KeyPrefix)
	if cfg.Logger != nil {
		b.logger = cfg.Logger.With().Str("component", "valkey").Logger()
	}
	b.logger.Info().Str("address", cfg.Address).Int("db", cfg.DB).Str("prefix", b.prefix).Msg("connected to valkey storage")
	return b, nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client valkeygo.Client, prefix string) *Backend {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &Backend{
		client: client,
		prefix: prefix,
		logger: log.Logger.With().Str("component", "valkey").Logger(),
	}
}

// NewStorage connects and wraps the backend in a KVStorage that relays its
// events through the server to every other storage on the same prefix.
func NewStorage(cfg Config, options ...storage.KVStorageOption) (*storage.KVStorage, *Backend, error) {
	b, err := New(cfg)
	if err != nil {
		return nil, nil, err
	}
	options = append([]storage.KVStorageOption{storage.WithNotifier(b)}, options...)
	return storage.NewKVStorage(b, options...), b, nil
}

func (b *Backend) Close() {
	b.client.Close()
	b.logger.Info().Msg("valkey storage connection closed")
}

func (b *Backend) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := b.client.Do(ctx, b.client.B().Get().Key(b.key(key)).Build()).ToString()
	if err != nil {
		if valkeygo.IsValkeyNil(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get %s: %w", key, err)
	}
	return []byte(data), nil
}

func (b *Backend) Set(ctx context.Context, key string, value []byte) error {
	if err := b.client.Do(ctx, b.client.B().Set().Key(b.key(key)).Value(string(value)).Build()).Error(); err != nil {
		return fmt.Errorf("failed to set %s: %w", key, err)
	}
	return nil
}

func (b *Backend) Remove(ctx context.Context, key string) error {
	if err := b.client.Do(ctx, b.client.B().Del().Key(b.key(key)).Build()).Error(); err != nil {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}

// Keys lists every key under the prefix, with the prefix removed.
func (b *Backend) Keys(ctx context.Context) ([]string, error) {
	seen := make(map[string]struct{})
	err := b.scan(ctx, func(key string) error {
		seen[b.trim(key)] = struct{}{}
		return nil
	})
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	return keys, nil
}

func (b *Backend) Clear(ctx context.Context) error {
	return b.scan(ctx, func(key string) error {
		if err := b.client.Do(ctx, b.client.B().Del().Key(key).Build()).Error(); err != nil {
			return fmt.Errorf("failed to delete %s: %w", key, err)
		}
		return nil
	})
}

// Publish announces c on the prefix's event channel.
func (b *Backend) Publish(ctx context.Context, c storage.Change) error {
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to encode change: %w", err)
	}
	if err := b.client.Do(ctx, b.client.B().Publish().Channel(b.key(eventsChannel)).Message(string(data)).Build()).Error(); err != nil {
		return fmt.Errorf("failed to publish %s: %w", c.Event, err)
	}
	return nil
}

// Watch subscribes to the prefix's event channel until ctx is done.
func (b *Backend) Watch(ctx context.Context, fn func(storage.Change)) error {
	err := b.client.Receive(ctx, b.client.B().Subscribe().Channel(b.key(eventsChannel)).Build(), func(msg valkeygo.PubSubMessage) {
		var c storage.Change
		if err := json.Unmarshal([]byte(msg.Message), &c); err != nil {
			b.logger.Warn().Err(err).Str("channel", msg.Channel).Msg("ignoring malformed change")
			return
		}
		fn(c)
	})
	if err != nil && ctx.Err() != nil {
		return nil
	}
	return err
}

// scan calls fn with each raw key matching the prefix. SCAN may yield a key more than once.
func (b *Backend) scan(ctx context.Context, fn func(key string) error) error {
	pattern := escapePattern(b.prefix) + "*"
	var cursor uint64
	for {
		result, err := b.client.Do(ctx,
			b.client.B().Scan().Cursor(cursor).Match(pattern).Count(scanBatchSize).Build(),
		).AsScanEntry()
		if err != nil {
			return fmt.Errorf("failed to scan keys: %w", err)
		}
		for _, key := range result.Elements {
			if err := fn(key); err != nil {
				return err
			}
		}
		cursor = result.Cursor
		if cursor == 0 {
			return nil
		}
	}
}

func (b *Backend) key(k string) string {
	return b.prefix + k
}

func (b *Backend) trim(k string) string {
	return strings.TrimPrefix(k, b.prefix)
}

// escapePattern quotes glob metacharacters so a prefix is matched literally.
func escapePattern(s string) string {
	var sb strings.Builder
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '\\':
			sb.WriteRune('\\')
		}
		sb.WriteRune(r)
	}
	return sb.String()
}
