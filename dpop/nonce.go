package dpop

import (
	"net/url"
	"strings"
	"time"

	"github.com/dgraph-io/ristretto/v2"
	"github.com/pkg/errors"
)

// DefaultNonceTTL bounds how long a server-provided nonce is reused.
const DefaultNonceTTL = 5 * time.Minute

// NonceCache remembers the latest DPoP-Nonce per authorization or resource
// server origin.
type NonceCache struct {
	cache *ristretto.Cache[string, string]
	ttl   time.Duration
}

func NewNonceCache(ttl time.Duration) (*NonceCache, error) {
	if ttl <= 0 {
		ttl = DefaultNonceTTL
	}
	cache, err := ristretto.NewCache(&ristretto.Config[string, string]{
		NumCounters:        10_000,
		MaxCost:            1_000,
		BufferItems:        64,
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to initialize nonce cache")
	}
	return &NonceCache{cache: cache, ttl: ttl}, nil
}

// Get returns the cached nonce for the origin of rawURL.
func (c *NonceCache) Get(rawURL string) (string, bool) {
	origin, err := Origin(rawURL)
	if err != nil {
		return "", false
	}
	return c.cache.Get(origin)
}

// Set stores nonce for the origin of rawURL. An empty nonce clears the entry.
func (c *NonceCache) Set(rawURL, nonce string) error {
	origin, err := Origin(rawURL)
	if err != nil {
		return err
	}
	if nonce == "" {
		c.cache.Del(origin)
		return nil
	}
	c.cache.SetWithTTL(origin, nonce, 1, c.ttl)
	c.cache.Wait()
	return nil
}

func (c *NonceCache) Close() {
	c.cache.Close()
}

// Origin reduces a URL to scheme://host[:port], lower-cased.
func Origin(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", errors.Wrapf(err, "invalid url %q", rawURL)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", errors.Errorf("url %q has no origin", rawURL)
	}
	return strings.ToLower(u.Scheme + "://" + u.Host), nil
}
