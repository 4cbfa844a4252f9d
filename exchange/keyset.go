package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	internalerrors "github.com/jrsteele09/go-oauth-credentials/internal/errors"
	"github.com/jrsteele09/go-oauth-credentials/transport"
	"golang.org/x/time/rate"
)

// ErrKeyNotFound is returned when no key in the set matches a token's kid.
var ErrKeyNotFound = internalerrors.ErrKeyNotFound

const (
	DefaultKeySetTTL = time.Hour

	maxKeySetSize = 1 << 20
)

// KeySet caches an issuer's JSON Web Key Set. Lookups are served from the
// cache until it expires; a forced lookup always re-fetches, paced by a rate
// limit so that tokens with unknown kids cannot hammer the endpoint.
type KeySet struct {
	url       string
	transport transport.Transport
	ttl       time.Duration
	limiter   *rate.Limiter
	nowFunc   func() time.Time

	mu        sync.Mutex
	keys      *jose.JSONWebKeySet
	fetchedAt time.Time
	fetches   int
}

func NewKeySet(jwksURL string, tr transport.Transport, ttl time.Duration, limiter *rate.Limiter, nowFunc func() time.Time) *KeySet {
	if ttl <= 0 {
		ttl = DefaultKeySetTTL
	}
	if limiter == nil {
		limiter = rate.NewLimiter(rate.Every(time.Second), 5)
	}
	if nowFunc == nil {
		nowFunc = time.Now
	}
	return &KeySet{
		url:       jwksURL,
		transport: tr,
		ttl:       ttl,
		limiter:   limiter,
		nowFunc:   nowFunc,
	}
}

// Key returns the public key for kid. With force set the cache is bypassed;
// a forced lookup waits for the rate limiter rather than skipping the fetch.
// An empty kid matches when the set holds exactly one signing key.
func (k *KeySet) Key(ctx context.Context, kid string, force bool) (any, error) {
	if force {
		if err := k.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("key set re-fetch: %w", err)
		}
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	stale := k.keys == nil || k.nowFunc().Sub(k.fetchedAt) >= k.ttl
	if stale || force {
		if err := k.fetch(ctx); err != nil {
			return nil, err
		}
	}

	key, ok := k.lookup(kid)
	if !ok {
		return nil, fmt.Errorf("kid %q: %w", kid, ErrKeyNotFound)
	}
	return key, nil
}

// Fetches is the number of key set downloads performed.
func (k *KeySet) Fetches() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.fetches
}

func (k *KeySet) lookup(kid string) (any, bool) {
	if kid != "" {
		for _, jwk := range k.keys.Key(kid) {
			if jwk.Use == "" || jwk.Use == "sig" {
				return jwk.Key, true
			}
		}
		return nil, false
	}

	var found []jose.JSONWebKey
	for _, jwk := range k.keys.Keys {
		if jwk.Use == "" || jwk.Use == "sig" {
			found = append(found, jwk)
		}
	}
	if len(found) != 1 {
		return nil, false
	}
	return found[0].Key, true
}

// fetch must be called with mu held.
func (k *KeySet) fetch(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, k.url, nil)
	if err != nil {
		return fmt.Errorf("failed to create jwks request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := k.transport.Do(ctx, req)
	if err != nil {
		return fmt.Errorf("jwks request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxKeySetSize))
	if err != nil {
		return fmt.Errorf("failed to read jwks response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("jwks endpoint returned status %d", resp.StatusCode)
	}

	keys := &jose.JSONWebKeySet{}
	if err := json.Unmarshal(body, keys); err != nil {
		return fmt.Errorf("invalid jwks document: %w", err)
	}

	k.keys = keys
	k.fetchedAt = k.nowFunc()
	k.fetches++
	return nil
}
