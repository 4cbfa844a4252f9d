package exchange_test

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	"github.com/golang-jwt/jwt/v5"
	"github.com/jrsteele09/go-oauth-credentials/exchange"
	"github.com/jrsteele09/go-oauth-credentials/token"
	"github.com/jrsteele09/go-oauth-credentials/transport"
	"github.com/stretchr/testify/require"
)

const testClientID = "test-client"

type signingKey struct {
	kid string
	key *rsa.PrivateKey
}

// testServer is a minimal OpenID provider.
type testServer struct {
	*httptest.Server
	t *testing.T

	mu           sync.Mutex
	published    []signingKey
	tokenHandler http.HandlerFunc
	revoked      []string

	jwksFetches atomic.Int32
	tokenCalls  atomic.Int32
}

func newSigningKey(t *testing.T, kid string) signingKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return signingKey{kid: kid, key: key}
}

func setupTestServer(t *testing.T) (*testServer, signingKey) {
	t.Helper()
	key := newSigningKey(t, "key-1")
	s := &testServer{t: t, published: []signingKey{key}}

	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/openid-configuration", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"issuer":                                s.URL,
			"authorization_endpoint":                s.URL + "/authorize",
			"token_endpoint":                        s.URL + "/token",
			"revocation_endpoint":                   s.URL + "/revoke",
			"introspection_endpoint":                s.URL + "/introspect",
			"userinfo_endpoint":                     s.URL + "/userinfo",
			"jwks_uri":                              s.URL + "/jwks",
			"id_token_signing_alg_values_supported": []string{"RS256"},
		})
	})
	mux.HandleFunc("/jwks", func(w http.ResponseWriter, r *http.Request) {
		s.jwksFetches.Add(1)
		s.mu.Lock()
		set := jose.JSONWebKeySet{}
		for _, k := range s.published {
			set.Keys = append(set.Keys, jose.JSONWebKey{Key: &k.key.PublicKey, KeyID: k.kid, Algorithm: "RS256", Use: "sig"})
		}
		s.mu.Unlock()
		writeJSON(w, http.StatusOK, set)
	})
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		s.tokenCalls.Add(1)
		_ = r.ParseForm()
		s.mu.Lock()
		h := s.tokenHandler
		s.mu.Unlock()
		h(w, r)
	})
	mux.HandleFunc("/revoke", func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		s.mu.Lock()
		s.revoked = append(s.revoked, r.PostForm.Get("token_type_hint")+":"+r.PostForm.Get("token"))
		s.mu.Unlock()
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/introspect", func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		writeJSON(w, http.StatusOK, map[string]any{
			"active":    r.PostForm.Get("token") == "live-access",
			"scope":     "openid api",
			"client_id": testClientID,
		})
	})
	mux.HandleFunc("/userinfo", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer live-access" {
			writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "invalid_token"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"sub": "user-1", "email": "user@example.com"})
	})

	s.Server = httptest.NewTLSServer(mux)
	t.Cleanup(s.Close)
	return s, key
}

func (s *testServer) setTokenHandler(h http.HandlerFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokenHandler = h
}

func (s *testServer) publish(keys ...signingKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.published = keys
}

func (s *testServer) revocations() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.revoked...)
}

func (s *testServer) config() exchange.Config {
	return exchange.Config{
		Issuer:   s.URL,
		ClientID: testClientID,
		Scopes:   []string{"openid", "profile", "api"},
	}
}

func (s *testServer) client(t *testing.T, options ...exchange.ClientOption) *exchange.Client {
	t.Helper()
	return s.clientFor(t, s.config(), options...)
}

func (s *testServer) clientFor(t *testing.T, cfg exchange.Config, options ...exchange.ClientOption) *exchange.Client {
	t.Helper()
	options = append([]exchange.ClientOption{exchange.WithTransport(transport.NewHTTPTransport(s.Client()))}, options...)
	c, err := exchange.NewClient(cfg, options...)
	require.NoError(t, err)
	return c
}

// claims returns a valid ID token claim set for the server.
func (s *testServer) claims() jwt.MapClaims {
	now := time.Now()
	return jwt.MapClaims{
		"iss": s.URL,
		"aud": testClientID,
		"sub": "user-1",
		"iat": now.Unix(),
		"exp": now.Add(time.Hour).Unix(),
	}
}

func signIDToken(t *testing.T, key signingKey, claims jwt.MapClaims) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	tok.Header["kid"] = key.kid
	signed, err := tok.SignedString(key.key)
	require.NoError(t, err)
	return signed
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func tokenResponse(access, refresh, scope, idToken string) map[string]any {
	resp := map[string]any{
		"access_token": access,
		"token_type":   "Bearer",
		"expires_in":   3600,
	}
	if refresh != "" {
		resp["refresh_token"] = refresh
	}
	if scope != "" {
		resp["scope"] = scope
	}
	if idToken != "" {
		resp["id_token"] = idToken
	}
	return resp
}

func storedToken(s *testServer, refresh string) *token.Token {
	return token.New(token.Token{
		ID:           "cred-1",
		AccessToken:  "old-access",
		RefreshToken: refresh,
		Scope:        "openid profile api",
		ExpiresIn:    60,
		Context: token.Context{
			Issuer:   s.URL,
			ClientID: testClientID,
			Scopes:   []string{"openid", "profile", "api"},
		},
	})
}
