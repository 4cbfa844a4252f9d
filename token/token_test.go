package token_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jrsteele09/go-oauth-credentials/oauth2"
	"github.com/jrsteele09/go-oauth-credentials/token"
	"github.com/stretchr/testify/require"
)

func signedIDToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return raw
}

func TestMerge(t *testing.T) {
	issuedAt := time.Unix(1_700_000_000, 0)

	t.Run("response without refresh token inherits the old one", func(t *testing.T) {
		old := token.New(token.Token{ID: "cred-1", AccessToken: "a1", RefreshToken: "r1", ExpiresIn: 3600, IssuedAt: issuedAt})
		resp := token.New(token.Token{ID: "other", AccessToken: "a2", ExpiresIn: 1800, IssuedAt: issuedAt})

		merged := resp.Merge(old)
		require.Equal(t, "a2", merged.AccessToken)
		require.Equal(t, 1800, merged.ExpiresIn)
		require.Equal(t, "r1", merged.RefreshToken)
		require.Equal(t, "cred-1", merged.ID)
		require.Empty(t, resp.RefreshToken, "merge must not mutate the response")
	})

	t.Run("old token without refresh token returns response unchanged", func(t *testing.T) {
		old := token.New(token.Token{AccessToken: "a1", ExpiresIn: 3600})
		resp := token.New(token.Token{AccessToken: "a2", ExpiresIn: 1800})
		require.Same(t, resp, resp.Merge(old))

		rotated := token.New(token.Token{AccessToken: "a2", RefreshToken: "r2"})
		require.Same(t, rotated, rotated.Merge(old))
	})

	t.Run("rotated refresh token wins", func(t *testing.T) {
		old := token.New(token.Token{AccessToken: "a1", RefreshToken: "r1"})
		resp := token.New(token.Token{AccessToken: "a2", RefreshToken: "r2"})
		require.Same(t, resp, resp.Merge(old))
	})

	t.Run("id token is inherited only when missing and device secret never is", func(t *testing.T) {
		idt, err := token.ParseIDToken(signedIDToken(t, jwt.MapClaims{"sub": "user-1"}))
		require.NoError(t, err)

		old := token.New(token.Token{AccessToken: "a1", RefreshToken: "r1", IDToken: idt, DeviceSecret: "ds"})
		merged := token.New(token.Token{AccessToken: "a2"}).Merge(old)
		require.Same(t, idt, merged.IDToken)
		require.Empty(t, merged.DeviceSecret)
	})
}

func TestIsEqual(t *testing.T) {
	a := token.New(token.Token{ID: "1", AccessToken: "a", RefreshToken: "r", Scope: "openid"})
	b := token.New(token.Token{ID: "2", AccessToken: "a", RefreshToken: "r", Scope: "openid"})
	require.True(t, a.IsEqual(b), "ids are not compared")

	c := token.New(token.Token{ID: "1", AccessToken: "a", RefreshToken: "r", Scope: "openid email"})
	require.False(t, a.IsEqual(c))
}

func TestExpiry(t *testing.T) {
	issuedAt := time.Unix(1_700_000_000, 0)
	tok := token.New(token.Token{AccessToken: "a", ExpiresIn: 60, IssuedAt: issuedAt})

	require.Equal(t, issuedAt.Add(time.Minute), tok.ExpiresAt())
	require.False(t, tok.IsExpiredAt(issuedAt.Add(59*time.Second)))
	require.True(t, tok.IsExpiredAt(issuedAt.Add(time.Minute)))
	require.Equal(t, 30*time.Second, tok.RemainingValidity(issuedAt.Add(30*time.Second)))

	zero := token.New(token.Token{AccessToken: "a", ExpiresIn: 0, IssuedAt: issuedAt})
	require.True(t, zero.IsExpiredAt(issuedAt))
}

func TestNewDefaults(t *testing.T) {
	tok := token.New(token.Token{AccessToken: "a"})
	require.NotEmpty(t, tok.ID)
	require.False(t, tok.IssuedAt.IsZero())
	require.Equal(t, oauth2.BearerTokenType, tok.TokenType)
}

func TestScopes(t *testing.T) {
	granted := token.New(token.Token{Scope: "openid email", Context: token.Context{Scopes: []string{"openid"}}})
	require.Equal(t, []string{"openid", "email"}, granted.Scopes())

	requested := token.New(token.Token{Context: token.Context{Scopes: []string{"openid", "profile"}}})
	require.Equal(t, []string{"openid", "profile"}, requested.Scopes())
}

func TestFromResponse(t *testing.T) {
	raw := signedIDToken(t, jwt.MapClaims{"sub": "user-1", "iss": "https://issuer.example.com", "nonce": "n-1"})
	tok, err := token.FromResponse(&oauth2.TokenResponse{
		AccessToken:  "a",
		TokenType:    "dpop",
		ExpiresIn:    300,
		RefreshToken: "r",
		IDToken:      raw,
		Scope:        "openid",
	}, token.Context{Issuer: "https://issuer.example.com", ClientID: "client"}, token.WithID("fixed"))
	require.NoError(t, err)

	require.Equal(t, "fixed", tok.ID)
	require.Equal(t, oauth2.DPoPTokenType, tok.TokenType)
	require.Equal(t, "user-1", tok.IDToken.Subject())
	require.Equal(t, "n-1", tok.IDToken.Nonce())
	require.Equal(t, "HS256", tok.IDToken.Algorithm())

	_, err = token.FromResponse(&oauth2.TokenResponse{AccessToken: "a", IDToken: "not-a-jwt"}, token.Context{})
	require.Error(t, err)
}

func TestJSONRoundTrip(t *testing.T) {
	raw := signedIDToken(t, jwt.MapClaims{"sub": "user-1"})
	idt, err := token.ParseIDToken(raw)
	require.NoError(t, err)

	tok := token.New(token.Token{
		AccessToken:  "a",
		RefreshToken: "r",
		IDToken:      idt,
		Scope:        "openid",
		ExpiresIn:    300,
		IssuedAt:     time.Unix(1_700_000_000, 0),
		Context:      token.Context{Issuer: "https://issuer.example.com", ClientID: "client", Scopes: []string{"openid"}},
	})

	data, err := json.Marshal(tok)
	require.NoError(t, err)

	var decoded token.Token
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.Equal(t, tok.ID, decoded.ID)
	require.True(t, tok.IsEqual(&decoded))
	require.Equal(t, tok.ExpiresAt(), decoded.ExpiresAt())
	require.Equal(t, tok.Context, decoded.Context)
	require.Equal(t, "user-1", decoded.IDToken.Subject())
}

func TestOAuth2Conversion(t *testing.T) {
	tok := token.New(token.Token{AccessToken: "a", RefreshToken: "r", ExpiresIn: 60, IssuedAt: time.Unix(1_700_000_000, 0)})
	o := tok.OAuth2()
	require.Equal(t, "a", o.AccessToken)
	require.Equal(t, "Bearer", o.TokenType)
	require.Equal(t, tok.ExpiresAt(), o.Expiry)
}
