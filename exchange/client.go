// Package exchange talks to the authorization server: discovery, token
// requests for every supported grant, refresh deduplication, ID token
// validation, revocation, introspection and userinfo.
package exchange

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jrsteele09/go-oauth-credentials/dpop"
	internalerrors "github.com/jrsteele09/go-oauth-credentials/internal/errors"
	"github.com/jrsteele09/go-oauth-credentials/oauth2"
	"github.com/jrsteele09/go-oauth-credentials/token"
	"github.com/jrsteele09/go-oauth-credentials/transport"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"
)

const (
	instrumentationName = "github.com/jrsteele09/go-oauth-credentials/exchange"

	maxResponseSize = 1 << 20

	headerDPoP      = "DPoP"
	headerDPoPNonce = "DPoP-Nonce"
)

var (
	ErrNoRefreshToken = internalerrors.ErrNoRefreshToken
	ErrUnsupported    = internalerrors.ErrUnsupported
)

// Config identifies one OAuth client at one issuer.
type Config struct {
	Issuer       string
	ClientID     string
	ClientSecret string
	Scopes       []string
	RedirectURL  string
	UseDPoP      bool
	// Endpoints skips discovery when set.
	Endpoints *Endpoints
}

func (c Config) key() string {
	return fmt.Sprintf("%s|%s|%t", c.Issuer, c.ClientID, c.UseDPoP)
}

// TokenRequest is a token endpoint request for a grant other than refresh_token.
type TokenRequest struct {
	GrantType oauth2.GrantType
	Scopes    []string

	// authorization_code
	Code         string
	RedirectURI  string
	CodeVerifier string
	Nonce        string

	// urn:ietf:params:oauth:grant-type:token-exchange
	SubjectToken       string
	SubjectTokenType   string
	ActorToken         string
	ActorTokenType     string
	RequestedTokenType string
	Audience           string
	Resource           string

	ACRValues string
	MaxAge    int
	Extra     url.Values
}

// Client is bound to one Config. Clients for the same issuer and client id
// should share a RefreshQueue; Pool takes care of that.
type Client struct {
	cfg        Config
	transport  transport.Transport
	authority  dpop.Authority
	queue      *RefreshQueue
	validator  *Validator
	logger     zerolog.Logger
	nowFunc    func() time.Time
	clockSkew  time.Duration
	keySetTTL  time.Duration
	algorithms []string
	keyLimiter *rate.Limiter
	tracer     trace.Tracer
	requests   metric.Int64Counter

	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider

	mu        sync.Mutex
	endpoints *Endpoints
	keys      *KeySet
}

type ClientOption func(*Client)

func WithTransport(t transport.Transport) ClientOption {
	return func(c *Client) {
		c.transport = t
	}
}

// WithAuthority provides the DPoP signing authority. Required when Config.UseDPoP is set.
func WithAuthority(a dpop.Authority) ClientOption {
	return func(c *Client) {
		c.authority = a
	}
}

func WithRefreshQueue(q *RefreshQueue) ClientOption {
	return func(c *Client) {
		c.queue = q
	}
}

func WithLogger(logger zerolog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithNowFunc sets the clock used for ID token checks and key set expiry.
func WithNowFunc(nowFunc func() time.Time) ClientOption {
	return func(c *Client) {
		c.nowFunc = nowFunc
	}
}

func WithClockSkew(d time.Duration) ClientOption {
	return func(c *Client) {
		c.clockSkew = d
	}
}

func WithKeySetTTL(d time.Duration) ClientOption {
	return func(c *Client) {
		c.keySetTTL = d
	}
}

// WithAlgorithms replaces the ID token algorithm allow-list.
func WithAlgorithms(algs ...string) ClientOption {
	return func(c *Client) {
		c.algorithms = algs
	}
}

// WithKeySetLimiter bounds forced key set re-fetches.
func WithKeySetLimiter(l *rate.Limiter) ClientOption {
	return func(c *Client) {
		c.keyLimiter = l
	}
}

func WithTracerProvider(tp trace.TracerProvider) ClientOption {
	return func(c *Client) {
		c.tracerProvider = tp
	}
}

func WithMeterProvider(mp metric.MeterProvider) ClientOption {
	return func(c *Client) {
		c.meterProvider = mp
	}
}

func NewClient(cfg Config, options ...ClientOption) (*Client, error) {
	if cfg.Issuer == "" {
		return nil, fmt.Errorf("exchange: issuer is required")
	}
	if cfg.ClientID == "" {
		return nil, fmt.Errorf("exchange: client id is required")
	}

	c := &Client{
		cfg:       cfg,
		logger:    log.Logger,
		nowFunc:   time.Now,
		clockSkew: DefaultClockSkew,
		keySetTTL: DefaultKeySetTTL,
	}
	for _, opt := range options {
		opt(c)
	}

	if cfg.UseDPoP && c.authority == nil {
		return nil, fmt.Errorf("exchange: dpop requires a signing authority")
	}
	if c.transport == nil {
		c.transport = transport.NewHTTPTransport(nil)
	}
	if c.queue == nil {
		c.queue = NewRefreshQueue()
	}
	if c.tracerProvider == nil {
		c.tracerProvider = otel.GetTracerProvider()
	}
	if c.meterProvider == nil {
		c.meterProvider = otel.GetMeterProvider()
	}

	c.tracer = c.tracerProvider.Tracer(instrumentationName)
	requests, err := c.meterProvider.Meter(instrumentationName).Int64Counter(
		"oauth.client.token_requests",
		metric.WithDescription("Token endpoint requests by grant type and outcome"),
	)
	if err != nil {
		return nil, fmt.Errorf("exchange: failed to create counter: %w", err)
	}
	c.requests = requests

	c.validator = NewValidator(cfg.Issuer, cfg.ClientID, c.algorithms, c.clockSkew, c.nowFunc)
	c.logger = c.logger.With().Str("component", "exchange").Str("issuer", cfg.Issuer).Str("client_id", cfg.ClientID).Logger()
	return c, nil
}

func (c *Client) Config() Config {
	return c.cfg
}

func (c *Client) RefreshQueue() *RefreshQueue {
	return c.queue
}

// Endpoints returns the configured endpoints or discovers them once.
func (c *Client) Endpoints(ctx context.Context) (*Endpoints, error) {
	if c.cfg.Endpoints != nil {
		return c.cfg.Endpoints, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.endpoints != nil {
		return c.endpoints, nil
	}

	ctx, span := c.tracer.Start(ctx, "exchange.discover")
	defer span.End()

	endpoints, err := Discover(ctx, c.transport, c.cfg.Issuer)
	if err != nil {
		recordError(span, err)
		return nil, err
	}
	c.endpoints = endpoints
	c.logger.Debug().Str("token_endpoint", endpoints.Token).Msg("discovered endpoints")
	return endpoints, nil
}

// Refresh exchanges t's refresh token. Scopes narrows the request; empty keeps
// the original grant. The result keeps t's id, and keeps t's refresh token when
// the server did not rotate it. Failures leave t untouched.
func (c *Client) Refresh(ctx context.Context, t *token.Token, scopes []string) (*token.Token, error) {
	if !t.HasRefreshToken() {
		return nil, ErrNoRefreshToken
	}

	fresh, err := c.queue.Do(ctx, t.RefreshToken, scopes, func(ctx context.Context) (*token.Token, error) {
		return c.refresh(ctx, t, scopes)
	})
	if err != nil {
		return nil, err
	}
	if fresh.ID != t.ID {
		rebound := *fresh
		rebound.ID = t.ID
		fresh = &rebound
	}
	return fresh.Merge(t), nil
}

func (c *Client) refresh(ctx context.Context, t *token.Token, scopes []string) (*token.Token, error) {
	c.logger.Debug().Str("id", t.ID).Str("refresh_token", fingerprint(t.RefreshToken)).Strs("scopes", scopes).Msg("refreshing token")

	form := url.Values{}
	form.Set("grant_type", string(oauth2.RefreshTokenGrant))
	form.Set("refresh_token", t.RefreshToken)
	if len(scopes) > 0 {
		form.Set("scope", strings.Join(scopes, " "))
	}

	resp, err := c.tokenRequest(ctx, oauth2.RefreshTokenGrant, form, t.Context.DPoPKeyPairID)
	if err != nil {
		return nil, err
	}

	tokCtx := t.Context
	if len(scopes) > 0 {
		tokCtx.Scopes = append([]string(nil), scopes...)
	}
	fresh, err := token.FromResponse(resp, tokCtx, token.WithID(t.ID), token.WithIssuedAt(c.nowFunc()))
	if err != nil {
		return nil, err
	}

	if fresh.IDToken != nil {
		if err := c.VerifyIDToken(ctx, fresh.IDToken, Expectations{MaxAge: t.Context.MaxAge}); err != nil {
			return nil, err
		}
		if t.IDToken != nil && t.IDToken.Subject() != fresh.IDToken.Subject() {
			return nil, validationErr(CheckSubject, "refreshed id token subject differs from the original")
		}
	}
	return fresh, nil
}

// Exchange performs an authorization_code, client_credentials or token-exchange request.
func (c *Client) Exchange(ctx context.Context, req TokenRequest) (*token.Token, error) {
	form := url.Values{}
	for k, vs := range req.Extra {
		form[k] = append([]string(nil), vs...)
	}
	form.Set("grant_type", string(req.GrantType))

	scopes := req.Scopes
	if len(scopes) == 0 {
		scopes = c.cfg.Scopes
	}

	switch req.GrantType {
	case oauth2.AuthorizationCodeGrant:
		form.Set("code", req.Code)
		redirect := req.RedirectURI
		if redirect == "" {
			redirect = c.cfg.RedirectURL
		}
		setIfPresent(form, "redirect_uri", redirect)
		setIfPresent(form, "code_verifier", req.CodeVerifier)
	case oauth2.ClientCredentialsGrant:
		if len(scopes) > 0 {
			form.Set("scope", strings.Join(scopes, " "))
		}
	case oauth2.TokenExchangeGrant:
		form.Set("subject_token", req.SubjectToken)
		form.Set("subject_token_type", req.SubjectTokenType)
		setIfPresent(form, "actor_token", req.ActorToken)
		setIfPresent(form, "actor_token_type", req.ActorTokenType)
		setIfPresent(form, "requested_token_type", req.RequestedTokenType)
		setIfPresent(form, "audience", req.Audience)
		setIfPresent(form, "resource", req.Resource)
		if len(scopes) > 0 {
			form.Set("scope", strings.Join(scopes, " "))
		}
	default:
		return nil, fmt.Errorf("exchange: grant type %q: %w", req.GrantType, ErrUnsupported)
	}

	keyPairID := ""
	if c.cfg.UseDPoP {
		id, err := c.authority.CreateKeyPair(ctx)
		if err != nil {
			return nil, fmt.Errorf("exchange: failed to create dpop key pair: %w", err)
		}
		keyPairID = id
	}

	tok, err := c.exchange(ctx, req, form, scopes, keyPairID)
	if err != nil && keyPairID != "" {
		if delErr := c.authority.DeleteKeyPair(context.WithoutCancel(ctx), keyPairID); delErr != nil {
			c.logger.Warn().Err(delErr).Str("key_pair_id", keyPairID).Msg("failed to delete unused dpop key pair")
		}
	}
	return tok, err
}

func (c *Client) exchange(ctx context.Context, req TokenRequest, form url.Values, scopes []string, keyPairID string) (*token.Token, error) {
	resp, err := c.tokenRequest(ctx, req.GrantType, form, keyPairID)
	if err != nil {
		return nil, err
	}

	tok, err := token.FromResponse(resp, token.Context{
		Issuer:        c.cfg.Issuer,
		ClientID:      c.cfg.ClientID,
		Scopes:        scopes,
		DPoPKeyPairID: keyPairID,
		ACRValues:     req.ACRValues,
		MaxAge:        req.MaxAge,
	}, token.WithIssuedAt(c.nowFunc()))
	if err != nil {
		return nil, err
	}

	if tok.IDToken != nil {
		if err := c.VerifyIDToken(ctx, tok.IDToken, Expectations{Nonce: req.Nonce, MaxAge: req.MaxAge}); err != nil {
			return nil, err
		}
	} else if req.Nonce != "" {
		return nil, validationErr(CheckNonce, "nonce was sent but no id token was returned")
	}
	return tok, nil
}

// VerifyIDToken runs the ordered claim checks, then verifies the signature.
// A signature whose key is not in the cached key set triggers exactly one
// forced re-fetch and one more verification attempt.
func (c *Client) VerifyIDToken(ctx context.Context, idToken *token.IDToken, expect Expectations) error {
	if err := c.validator.Validate(idToken, expect); err != nil {
		return err
	}

	keys, err := c.keySet(ctx)
	if err != nil {
		return err
	}

	err = c.verifySignature(ctx, keys, idToken, false)
	if internalerrors.Is(err, ErrKeyNotFound) {
		c.logger.Debug().Str("kid", idToken.KeyID()).Msg("signing key not cached, re-fetching key set")
		err = c.verifySignature(ctx, keys, idToken, true)
	}
	if err != nil {
		return &ValidationError{Check: CheckSignature, Message: err.Error(), Err: err}
	}
	return nil
}

func (c *Client) verifySignature(ctx context.Context, keys *KeySet, idToken *token.IDToken, force bool) error {
	_, err := jwt.Parse(idToken.Raw, func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		return keys.Key(ctx, kid, force)
	}, jwt.WithValidMethods(c.validator.Algorithms()), jwt.WithoutClaimsValidation())
	return err
}

func (c *Client) keySet(ctx context.Context) (*KeySet, error) {
	endpoints, err := c.Endpoints(ctx)
	if err != nil {
		return nil, err
	}
	if endpoints.JWKS == "" {
		return nil, fmt.Errorf("exchange: issuer publishes no jwks_uri: %w", ErrUnsupported)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.keys == nil {
		c.keys = NewKeySet(endpoints.JWKS, c.transport, c.keySetTTL, c.keyLimiter, c.nowFunc)
	}
	return c.keys, nil
}

// KeySet exposes the cached key set, creating it if needed.
func (c *Client) KeySet(ctx context.Context) (*KeySet, error) {
	return c.keySet(ctx)
}

// Revoke revokes one token value at the revocation endpoint (RFC 7009).
func (c *Client) Revoke(ctx context.Context, value string, hint oauth2.TokenTypeHint) error {
	ctx, span := c.tracer.Start(ctx, "exchange.revoke", trace.WithAttributes(attribute.String("oauth.token_type_hint", string(hint))))
	defer span.End()

	endpoints, err := c.Endpoints(ctx)
	if err != nil {
		recordError(span, err)
		return err
	}
	if endpoints.Revocation == "" {
		return fmt.Errorf("exchange: issuer has no revocation endpoint: %w", ErrUnsupported)
	}

	form := url.Values{}
	form.Set("token", value)
	setIfPresent(form, "token_type_hint", string(hint))

	status, _, body, err := c.postForm(ctx, endpoints.Revocation, form, "")
	if err != nil {
		recordError(span, err)
		return err
	}
	if status != http.StatusOK {
		err := oauth2.ParseError(status, body)
		recordError(span, err)
		return err
	}
	c.logger.Debug().Str("hint", string(hint)).Msg("token revoked")
	return nil
}

// Introspect queries the introspection endpoint (RFC 7662).
func (c *Client) Introspect(ctx context.Context, value string, hint oauth2.TokenTypeHint) (*oauth2.IntrospectionResponse, error) {
	ctx, span := c.tracer.Start(ctx, "exchange.introspect", trace.WithAttributes(attribute.String("oauth.token_type_hint", string(hint))))
	defer span.End()

	endpoints, err := c.Endpoints(ctx)
	if err != nil {
		recordError(span, err)
		return nil, err
	}
	if endpoints.Introspection == "" {
		return nil, fmt.Errorf("exchange: issuer has no introspection endpoint: %w", ErrUnsupported)
	}

	form := url.Values{}
	form.Set("token", value)
	setIfPresent(form, "token_type_hint", string(hint))

	status, _, body, err := c.postForm(ctx, endpoints.Introspection, form, "")
	if err != nil {
		recordError(span, err)
		return nil, err
	}
	if status != http.StatusOK {
		err := oauth2.ParseError(status, body)
		recordError(span, err)
		return nil, err
	}

	result := &oauth2.IntrospectionResponse{}
	if err := json.Unmarshal(body, result); err != nil {
		return nil, fmt.Errorf("exchange: invalid introspection response: %w", err)
	}
	return result, nil
}

// UserInfo fetches the userinfo endpoint with t's access token. When t carries
// an ID token the returned subject must match it.
func (c *Client) UserInfo(ctx context.Context, t *token.Token) (map[string]any, error) {
	ctx, span := c.tracer.Start(ctx, "exchange.userinfo")
	defer span.End()

	endpoints, err := c.Endpoints(ctx)
	if err != nil {
		recordError(span, err)
		return nil, err
	}
	if endpoints.UserInfo == "" {
		return nil, fmt.Errorf("exchange: issuer has no userinfo endpoint: %w", ErrUnsupported)
	}

	var status int
	var body []byte
	for attempt := 0; ; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoints.UserInfo, nil)
		if err != nil {
			return nil, fmt.Errorf("exchange: failed to create userinfo request: %w", err)
		}
		req.Header.Set("Accept", "application/json")
		if err := c.Authorize(ctx, t, req); err != nil {
			return nil, err
		}

		var header http.Header
		status, header, body, err = c.send(ctx, req)
		if err != nil {
			recordError(span, err)
			return nil, err
		}
		if attempt == 0 && t.TokenType == oauth2.DPoPTokenType && c.nonceRetry(endpoints.UserInfo, status, header, body) {
			continue
		}
		break
	}

	if status != http.StatusOK {
		err := oauth2.ParseError(status, body)
		recordError(span, err)
		return nil, err
	}

	claims := map[string]any{}
	if err := json.Unmarshal(body, &claims); err != nil {
		return nil, fmt.Errorf("exchange: invalid userinfo response: %w", err)
	}
	if t.IDToken != nil {
		if sub, _ := claims["sub"].(string); sub != t.IDToken.Subject() {
			return nil, validationErr(CheckSubject, "userinfo subject %q does not match id token", sub)
		}
	}
	return claims, nil
}

// Authorize sets the Authorization header for a resource request and, for
// DPoP-bound tokens, a fresh proof.
func (c *Client) Authorize(ctx context.Context, t *token.Token, req *http.Request) error {
	scheme := string(oauth2.BearerTokenType)
	if t.TokenType == oauth2.DPoPTokenType {
		if c.authority == nil || t.Context.DPoPKeyPairID == "" {
			return fmt.Errorf("exchange: dpop token %s has no bound key pair", t.ID)
		}
		proof, err := c.authority.SignProof(ctx, t.Context.DPoPKeyPairID, dpop.ProofRequest{
			Method:      req.Method,
			URL:         req.URL.String(),
			AccessToken: t.AccessToken,
		})
		if err != nil {
			return err
		}
		req.Header.Set(headerDPoP, proof)
		scheme = string(oauth2.DPoPTokenType)
	}
	req.Header.Set("Authorization", scheme+" "+t.AccessToken)
	return nil
}

func (c *Client) tokenRequest(ctx context.Context, grant oauth2.GrantType, form url.Values, keyPairID string) (*oauth2.TokenResponse, error) {
	ctx, span := c.tracer.Start(ctx, "exchange.token", trace.WithAttributes(
		attribute.String("oauth.grant_type", string(grant)),
		attribute.String("oauth.client_id", c.cfg.ClientID),
		attribute.Bool("oauth.dpop", keyPairID != ""),
	))
	defer span.End()

	resp, err := c.doTokenRequest(ctx, form, keyPairID)
	outcome := "success"
	if err != nil {
		outcome = "error"
		recordError(span, err)
	}
	c.requests.Add(ctx, 1, metric.WithAttributes(
		attribute.String("oauth.grant_type", string(grant)),
		attribute.String("outcome", outcome),
	))
	return resp, err
}

func (c *Client) doTokenRequest(ctx context.Context, form url.Values, keyPairID string) (*oauth2.TokenResponse, error) {
	endpoints, err := c.Endpoints(ctx)
	if err != nil {
		return nil, err
	}

	status, _, body, err := c.postForm(ctx, endpoints.Token, form, keyPairID)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, oauth2.ParseError(status, body)
	}

	resp := &oauth2.TokenResponse{}
	if err := json.Unmarshal(body, resp); err != nil {
		return nil, fmt.Errorf("exchange: invalid token response: %w", err)
	}
	if resp.AccessToken == "" {
		return nil, fmt.Errorf("exchange: token response has no access_token")
	}
	return resp, nil
}

// postForm sends an authenticated form POST. With a key pair it attaches a
// DPoP proof and retries once when the server demands a fresh nonce.
func (c *Client) postForm(ctx context.Context, endpoint string, form url.Values, keyPairID string) (int, http.Header, []byte, error) {
	for attempt := 0; ; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(c.authenticate(form).Encode()))
		if err != nil {
			return 0, nil, nil, fmt.Errorf("exchange: failed to create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.Header.Set("Accept", "application/json")
		if c.cfg.ClientSecret != "" {
			req.SetBasicAuth(url.QueryEscape(c.cfg.ClientID), url.QueryEscape(c.cfg.ClientSecret))
		}

		if keyPairID != "" {
			proof, err := c.authority.SignProof(ctx, keyPairID, dpop.ProofRequest{Method: http.MethodPost, URL: endpoint})
			if err != nil {
				return 0, nil, nil, err
			}
			req.Header.Set(headerDPoP, proof)
		}

		status, header, body, err := c.send(ctx, req)
		if err != nil {
			return 0, nil, nil, err
		}
		if attempt == 0 && keyPairID != "" && c.nonceRetry(endpoint, status, header, body) {
			continue
		}
		return status, header, body, nil
	}
}

func (c *Client) authenticate(form url.Values) url.Values {
	if c.cfg.ClientSecret != "" {
		return form
	}
	out := url.Values{}
	for k, vs := range form {
		out[k] = vs
	}
	out.Set("client_id", c.cfg.ClientID)
	return out
}

func (c *Client) send(ctx context.Context, req *http.Request) (int, http.Header, []byte, error) {
	resp, err := c.transport.Do(ctx, req)
	if err != nil {
		return 0, nil, nil, fmt.Errorf("exchange: request to %s failed: %w", req.URL.Path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return 0, nil, nil, fmt.Errorf("exchange: failed to read response: %w", err)
	}

	if nonce := resp.Header.Get(headerDPoPNonce); nonce != "" && c.authority != nil {
		if err := c.authority.CacheNonce(req.URL.String(), nonce); err != nil {
			c.logger.Warn().Err(err).Msg("failed to cache dpop nonce")
		}
	}
	return resp.StatusCode, resp.Header, body, nil
}

// nonceRetry reports whether a response is a use_dpop_nonce challenge that
// supplied a nonce, which send has already cached.
func (c *Client) nonceRetry(endpoint string, status int, header http.Header, body []byte) bool {
	if header.Get(headerDPoPNonce) == "" {
		return false
	}
	switch status {
	case http.StatusBadRequest:
		e := oauth2.ParseError(status, body)
		if e.Code != oauth2.ErrCodeUseDPoPNonce {
			return false
		}
	case http.StatusUnauthorized:
		if !strings.Contains(header.Get("WWW-Authenticate"), oauth2.ErrCodeUseDPoPNonce) {
			return false
		}
	default:
		return false
	}
	c.logger.Debug().Str("endpoint", endpoint).Msg("retrying with server dpop nonce")
	return true
}

func setIfPresent(form url.Values, key, value string) {
	if value != "" {
		form.Set(key, value)
	}
}

// fingerprint identifies a secret in logs without revealing it.
func fingerprint(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:4])
}

func recordError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
