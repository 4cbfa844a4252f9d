// Package credential binds a stored Token to the exchange client that can
// refresh, revoke and verify it. A Credential is the live handle for one token
// id; the DataSource guarantees at most one Credential per id.
package credential

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/jrsteele09/go-oauth-credentials/events"
	"github.com/jrsteele09/go-oauth-credentials/exchange"
	internalerrors "github.com/jrsteele09/go-oauth-credentials/internal/errors"
	"github.com/jrsteele09/go-oauth-credentials/oauth2"
	"github.com/jrsteele09/go-oauth-credentials/token"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	xoauth2 "golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"
)

// DefaultGracePeriod is how close to expiry RefreshIfNeeded starts refreshing.
const DefaultGracePeriod = 30 * time.Second

var (
	ErrIdentityMismatch = internalerrors.ErrIdentityMismatch
	ErrMetadataMismatch = internalerrors.ErrMetadataMismatch
	ErrNoRefreshToken   = internalerrors.ErrNoRefreshToken
	ErrTokenRequired    = internalerrors.ErrTokenRequired
)

// TokenClient is the protocol surface a Credential drives.
type TokenClient interface {
	Refresh(ctx context.Context, t *token.Token, scopes []string) (*token.Token, error)
	Revoke(ctx context.Context, value string, hint oauth2.TokenTypeHint) error
	Introspect(ctx context.Context, value string, hint oauth2.TokenTypeHint) (*oauth2.IntrospectionResponse, error)
	UserInfo(ctx context.Context, t *token.Token) (map[string]any, error)
	Authorize(ctx context.Context, t *token.Token, req *http.Request) error
}

var _ TokenClient = (*exchange.Client)(nil)

// ClientFactory derives the TokenClient for a token from its context.
type ClientFactory func(t *token.Token) (TokenClient, error)

// PoolFactory adapts an exchange.Pool.
func PoolFactory(p *exchange.Pool) ClientFactory {
	return func(t *token.Token) (TokenClient, error) {
		client, err := p.ForToken(t)
		if err != nil {
			return nil, err
		}
		return client, nil
	}
}

// Owner performs the persistence-backed operations a Credential delegates
// upward. The coordinator implements it.
type Owner interface {
	Remove(ctx context.Context, id string) error
	SetTags(ctx context.Context, id string, tags []string) error
}

// Refreshed is published after a refresh replaced a Credential's token.
type Refreshed struct {
	Credential *Credential
	Token      *token.Token
}

type Option func(*Credential)

func WithOwner(owner Owner) Option {
	return func(c *Credential) {
		c.owner = owner
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(c *Credential) {
		c.logger = logger
	}
}

func WithNowFunc(nowFunc func() time.Time) Option {
	return func(c *Credential) {
		c.nowFunc = nowFunc
	}
}

// Credential is the live handle for one token id. The id never changes; the
// token is replaced only by a successful refresh or an explicit SetToken.
type Credential struct {
	id      string
	client  TokenClient
	owner   Owner
	logger  zerolog.Logger
	nowFunc func() time.Time

	mu       sync.RWMutex
	token    *token.Token
	metadata *token.Metadata

	flight    singleflight.Group
	refreshed *events.Emitter[Refreshed]
}

// New binds t to client. Metadata may be nil, in which case it is derived from t.
func New(t *token.Token, metadata *token.Metadata, client TokenClient, options ...Option) (*Credential, error) {
	if t == nil {
		return nil, ErrTokenRequired
	}
	if metadata == nil {
		metadata = token.NewMetadata(t, nil)
	}
	if err := metadata.Validate(t); err != nil {
		return nil, err
	}

	c := &Credential{
		id:        t.ID,
		client:    client,
		logger:    log.Logger,
		nowFunc:   time.Now,
		token:     t,
		metadata:  metadata,
		refreshed: events.NewEmitter[Refreshed](),
	}
	for _, opt := range options {
		opt(c)
	}
	c.logger = c.logger.With().Str("component", "credential").Str("id", c.id).Logger()
	return c, nil
}

func (c *Credential) ID() string {
	return c.id
}

func (c *Credential) Token() *token.Token {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// SetToken replaces the held token. The token must carry this credential's id.
func (c *Credential) SetToken(t *token.Token) error {
	if t == nil {
		return ErrTokenRequired
	}
	if t.ID != c.id {
		return ErrIdentityMismatch
	}
	c.mu.Lock()
	c.token = t
	c.mu.Unlock()
	return nil
}

// Metadata is the last known metadata snapshot.
func (c *Credential) Metadata() *token.Metadata {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.metadata
}

// SetMetadata updates the snapshot. It does not persist anything.
func (c *Credential) SetMetadata(m *token.Metadata) error {
	if m == nil || m.ID != c.id {
		return ErrMetadataMismatch
	}
	c.mu.Lock()
	c.metadata = m
	c.mu.Unlock()
	return nil
}

func (c *Credential) Tags() []string {
	return append([]string(nil), c.Metadata().Tags...)
}

// SetTags persists new tags through the owner.
func (c *Credential) SetTags(ctx context.Context, tags []string) error {
	if c.owner == nil {
		return c.SetMetadata(c.Metadata().WithTags(tags))
	}
	return c.owner.SetTags(ctx, c.id, tags)
}

func (c *Credential) IsExpired() bool {
	return c.Token().IsExpiredAt(c.nowFunc())
}

// SubscribeRefreshed registers fn for every successful refresh.
func (c *Credential) SubscribeRefreshed(fn func(Refreshed)) events.Dispose {
	return c.refreshed.Subscribe(fn)
}

// Refresh exchanges the refresh token for a new token. Concurrent calls share
// one exchange. A failed refresh leaves the held token unchanged.
func (c *Credential) Refresh(ctx context.Context) (*token.Token, error) {
	v, err := c.do(ctx, "refresh", func(ctx context.Context) (any, error) {
		current := c.Token()
		fresh, err := c.client.Refresh(ctx, current, nil)
		if err != nil {
			return nil, errors.Wrap(err, "refresh")
		}
		if err := c.SetToken(fresh); err != nil {
			return nil, err
		}
		c.logger.Debug().Time("expires_at", fresh.ExpiresAt()).Msg("token refreshed")
		c.refreshed.Emit(Refreshed{Credential: c, Token: fresh})
		return fresh, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*token.Token), nil
}

// RefreshIfNeeded refreshes when the token expires within grace. Tokens
// without a refresh token are returned as they are.
func (c *Credential) RefreshIfNeeded(ctx context.Context, grace time.Duration) (*token.Token, error) {
	current := c.Token()
	if current.RemainingValidity(c.nowFunc()) > grace || !current.HasRefreshToken() {
		return current, nil
	}
	return c.Refresh(ctx)
}

// Downscope obtains a token for a narrower scope set. The result is not
// stored and the credential keeps its own token.
func (c *Credential) Downscope(ctx context.Context, scopes []string) (*token.Token, error) {
	if len(scopes) == 0 {
		return c.Token(), nil
	}
	return c.client.Refresh(ctx, c.Token(), scopes)
}

// Revoke revokes the selected halves of the grant. The credential is removed
// when nothing usable remains: always for ALL, for REFRESH when a refresh
// token existed, and for ACCESS when there was no refresh token.
func (c *Credential) Revoke(ctx context.Context, revokeType oauth2.RevokeType) error {
	_, err := c.do(ctx, "revoke:"+string(revokeType), func(ctx context.Context) (any, error) {
		return nil, c.revoke(ctx, revokeType)
	})
	return err
}

func (c *Credential) revoke(ctx context.Context, revokeType oauth2.RevokeType) error {
	t := c.Token()
	remove := false

	switch revokeType {
	case oauth2.RevokeAll:
		if t.HasRefreshToken() {
			if err := c.client.Revoke(ctx, t.RefreshToken, oauth2.RefreshTokenHint); err != nil {
				return errors.Wrap(err, "revoke refresh token")
			}
		}
		if err := c.client.Revoke(ctx, t.AccessToken, oauth2.AccessTokenHint); err != nil {
			return errors.Wrap(err, "revoke access token")
		}
		remove = true
	case oauth2.RevokeAccess:
		if err := c.client.Revoke(ctx, t.AccessToken, oauth2.AccessTokenHint); err != nil {
			return errors.Wrap(err, "revoke access token")
		}
		remove = !t.HasRefreshToken()
	case oauth2.RevokeRefresh:
		if !t.HasRefreshToken() {
			return nil
		}
		if err := c.client.Revoke(ctx, t.RefreshToken, oauth2.RefreshTokenHint); err != nil {
			return errors.Wrap(err, "revoke refresh token")
		}
		remove = true
	default:
		return errors.Errorf("unknown revoke type %q", revokeType)
	}

	c.logger.Info().Str("type", string(revokeType)).Bool("removed", remove).Msg("token revoked")
	if remove {
		return c.Remove(ctx)
	}
	return nil
}

// Introspect asks the authorization server about the access or refresh token.
func (c *Credential) Introspect(ctx context.Context, hint oauth2.TokenTypeHint) (*oauth2.IntrospectionResponse, error) {
	if hint == "" {
		hint = oauth2.AccessTokenHint
	}
	v, err := c.do(ctx, "introspect:"+string(hint), func(ctx context.Context) (any, error) {
		t := c.Token()
		value := t.AccessToken
		if hint == oauth2.RefreshTokenHint {
			if !t.HasRefreshToken() {
				return nil, ErrNoRefreshToken
			}
			value = t.RefreshToken
		}
		return c.client.Introspect(ctx, value, hint)
	})
	if err != nil {
		return nil, err
	}
	return v.(*oauth2.IntrospectionResponse), nil
}

func (c *Credential) UserInfo(ctx context.Context) (map[string]any, error) {
	return c.client.UserInfo(ctx, c.Token())
}

// Authorize attaches the access token (and a DPoP proof when bound) to req.
func (c *Credential) Authorize(ctx context.Context, req *http.Request) error {
	return c.client.Authorize(ctx, c.Token(), req)
}

// Remove removes the credential through its owner.
func (c *Credential) Remove(ctx context.Context) error {
	if c.owner == nil {
		return nil
	}
	return c.owner.Remove(ctx, c.id)
}

// TokenSource adapts the credential to golang.org/x/oauth2, refreshing within grace.
func (c *Credential) TokenSource(ctx context.Context, grace time.Duration) xoauth2.TokenSource {
	return &tokenSource{ctx: ctx, credential: c, grace: grace}
}

type tokenSource struct {
	ctx        context.Context
	credential *Credential
	grace      time.Duration
}

func (s *tokenSource) Token() (*xoauth2.Token, error) {
	t, err := s.credential.RefreshIfNeeded(s.ctx, s.grace)
	if err != nil {
		return nil, err
	}
	return t.OAuth2(), nil
}

// do runs fn once per key across concurrent callers. The shared call is not
// cancelled by any one caller; a cancelled caller stops waiting.
func (c *Credential) do(ctx context.Context, key string, fn func(context.Context) (any, error)) (any, error) {
	shared := context.WithoutCancel(ctx)
	ch := c.flight.DoChan(key, func() (any, error) {
		return fn(shared)
	})
	select {
	case res := <-ch:
		return res.Val, res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
