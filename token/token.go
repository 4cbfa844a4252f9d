// Package token defines the immutable value types for one OAuth2/OIDC grant and
// the non-secret metadata stored beside it.
package token

import (
	"strings"
	"time"

	"github.com/google/uuid"
	internalerrors "github.com/jrsteele09/go-oauth-credentials/internal/errors"
	"github.com/jrsteele09/go-oauth-credentials/oauth2"
	xoauth2 "golang.org/x/oauth2"
)

// NowTimeFunc returns the current time. It can be overridden in tests.
var NowTimeFunc = time.Now

// ErrIdentityMismatch is returned when a token is assigned to a holder with a different id.
var ErrIdentityMismatch = internalerrors.ErrIdentityMismatch

// Context records where a token came from and how it was requested. It is
// enough to rebuild an exchange client for the token.
type Context struct {
	Issuer        string   `json:"issuer"`
	ClientID      string   `json:"client_id"`
	Scopes        []string `json:"scopes,omitempty"`
	DPoPKeyPairID string   `json:"dpop_key_pair_id,omitempty"` // proof-of-possession key binding
	ACRValues     string   `json:"acr_values,omitempty"`       // step-up parameters
	MaxAge        int      `json:"max_age,omitempty"`
}

// Token is one grant issued by an authorization server. Values are never
// mutated after construction; a refresh produces a new Token with the same ID.
type Token struct {
	ID           string
	TokenType    oauth2.TokenType
	AccessToken  string
	RefreshToken string
	IDToken      *IDToken
	Scope        string
	DeviceSecret string
	IssuedAt     time.Time
	ExpiresIn    int // seconds
	Context      Context
}

// Option customises a Token built by New or FromResponse.
type Option func(*Token)

// WithID pins the token id, used when a refresh response replaces an existing grant.
func WithID(id string) Option {
	return func(t *Token) {
		t.ID = id
	}
}

func WithIssuedAt(issuedAt time.Time) Option {
	return func(t *Token) {
		t.IssuedAt = issuedAt
	}
}

// New finalises a token literal: it assigns a random id and the issue time when
// they are missing and defaults the token type to Bearer.
func New(t Token, options ...Option) *Token {
	for _, opt := range options {
		opt(&t)
	}
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	if t.IssuedAt.IsZero() {
		t.IssuedAt = NowTimeFunc()
	}
	if t.TokenType == "" {
		t.TokenType = oauth2.BearerTokenType
	}
	if len(t.Context.Scopes) > 0 {
		t.Context.Scopes = append([]string(nil), t.Context.Scopes...)
	}
	return &t
}

// FromResponse builds a token from a token endpoint response.
func FromResponse(resp *oauth2.TokenResponse, ctx Context, options ...Option) (*Token, error) {
	var idToken *IDToken
	if resp.IDToken != "" {
		parsed, err := ParseIDToken(resp.IDToken)
		if err != nil {
			return nil, err
		}
		idToken = parsed
	}

	tokenType := oauth2.BearerTokenType
	if strings.EqualFold(resp.TokenType, string(oauth2.DPoPTokenType)) {
		tokenType = oauth2.DPoPTokenType
	}

	return New(Token{
		TokenType:    tokenType,
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
		IDToken:      idToken,
		Scope:        resp.Scope,
		DeviceSecret: resp.DeviceSecret,
		ExpiresIn:    resp.ExpiresIn,
		Context:      ctx,
	}, options...), nil
}

// ExpiresAt is IssuedAt plus ExpiresIn.
func (t *Token) ExpiresAt() time.Time {
	return t.IssuedAt.Add(time.Duration(t.ExpiresIn) * time.Second)
}

func (t *Token) IsExpired() bool {
	return t.IsExpiredAt(NowTimeFunc())
}

func (t *Token) IsExpiredAt(now time.Time) bool {
	return !now.Before(t.ExpiresAt())
}

// RemainingValidity is the time left before expiry at now; negative once expired.
func (t *Token) RemainingValidity(now time.Time) time.Duration {
	return t.ExpiresAt().Sub(now)
}

func (t *Token) HasRefreshToken() bool {
	return t.RefreshToken != ""
}

// Scopes returns the granted scopes, falling back to the requested ones when
// the server did not echo a scope string.
func (t *Token) Scopes() []string {
	if t.Scope != "" {
		return strings.Fields(t.Scope)
	}
	return append([]string(nil), t.Context.Scopes...)
}

// Merge is applied to a refresh response (the receiver) against the token it
// replaces. A server may omit refresh_token when it does not rotate, meaning
// the old one is still valid; only then is a new token built that keeps the
// old refresh token, id and ID token. Nothing else is carried forward.
func (t *Token) Merge(old *Token) *Token {
	if t.RefreshToken != "" || old == nil || old.RefreshToken == "" {
		return t
	}

	merged := *t
	merged.ID = old.ID
	merged.RefreshToken = old.RefreshToken
	if merged.IDToken == nil {
		merged.IDToken = old.IDToken
	}
	return &merged
}

// IsEqual compares the secret material of two tokens. Ids are not compared.
func (t *Token) IsEqual(other *Token) bool {
	if t == nil || other == nil {
		return t == other
	}
	return t.AccessToken == other.AccessToken &&
		t.RefreshToken == other.RefreshToken &&
		t.Scope == other.Scope &&
		t.IDToken.RawValue() == other.IDToken.RawValue()
}

// OAuth2 converts the token for use with golang.org/x/oauth2 clients.
func (t *Token) OAuth2() *xoauth2.Token {
	tok := &xoauth2.Token{
		AccessToken:  t.AccessToken,
		TokenType:    string(t.TokenType),
		RefreshToken: t.RefreshToken,
		Expiry:       t.ExpiresAt(),
		ExpiresIn:    int64(t.ExpiresIn),
	}
	if t.IDToken != nil {
		tok = tok.WithExtra(map[string]any{"id_token": t.IDToken.Raw})
	}
	return tok
}
