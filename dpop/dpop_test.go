package dpop_test

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"testing"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	"github.com/golang-jwt/jwt/v5"
	"github.com/jrsteele09/go-oauth-credentials/dpop"
	"github.com/stretchr/testify/require"
)

func setupTestAuthority(t *testing.T, options ...dpop.MemoryAuthorityOption) *dpop.MemoryAuthority {
	t.Helper()
	a, err := dpop.NewMemoryAuthority(time.Minute, options...)
	require.NoError(t, err)
	t.Cleanup(a.Close)
	return a
}

// parseProof verifies a proof against the key embedded in its own header.
func parseProof(t *testing.T, proof string) (*jwt.Token, jwt.MapClaims) {
	t.Helper()
	claims := jwt.MapClaims{}
	parsed, err := jwt.ParseWithClaims(proof, claims, func(tok *jwt.Token) (any, error) {
		raw, err := json.Marshal(tok.Header["jwk"])
		if err != nil {
			return nil, err
		}
		var jwk jose.JSONWebKey
		if err := json.Unmarshal(raw, &jwk); err != nil {
			return nil, err
		}
		require.True(t, jwk.IsPublic(), "proof must only carry the public key")
		return jwk.Key, nil
	}, jwt.WithValidMethods([]string{dpop.ES256, dpop.RS256}))
	require.NoError(t, err)
	return parsed, claims
}

func TestSignProof(t *testing.T) {
	ctx := context.Background()
	a := setupTestAuthority(t)

	id, err := a.CreateKeyPair(ctx)
	require.NoError(t, err)

	proof, err := a.SignProof(ctx, id, dpop.ProofRequest{
		Method:      "GET",
		URL:         "https://api.example.com/resource?q=1#frag",
		AccessToken: "access-token",
	})
	require.NoError(t, err)

	parsed, claims := parseProof(t, proof)
	require.Equal(t, dpop.ProofType, parsed.Header["typ"])
	require.Equal(t, "ES256", parsed.Header["alg"])
	require.Equal(t, "GET", claims["htm"])
	require.Equal(t, "https://api.example.com/resource", claims["htu"])
	require.Equal(t, dpop.AccessTokenHash("access-token"), claims["ath"])
	require.NotEmpty(t, claims["jti"])
	require.NotContains(t, claims, "nonce")

	second, err := a.SignProof(ctx, id, dpop.ProofRequest{Method: "GET", URL: "https://api.example.com/resource"})
	require.NoError(t, err)
	_, secondClaims := parseProof(t, second)
	require.NotEqual(t, claims["jti"], secondClaims["jti"])
	require.NotContains(t, secondClaims, "ath")
}

func TestSignProofUsesCachedNonce(t *testing.T) {
	ctx := context.Background()
	a := setupTestAuthority(t)
	id, err := a.CreateKeyPair(ctx)
	require.NoError(t, err)

	require.NoError(t, a.CacheNonce("https://AS.example.com/token", "server-nonce"))
	nonce, ok := a.Nonce("https://as.example.com/other/path")
	require.True(t, ok)
	require.Equal(t, "server-nonce", nonce)

	proof, err := a.SignProof(ctx, id, dpop.ProofRequest{Method: "POST", URL: "https://as.example.com/token"})
	require.NoError(t, err)
	_, claims := parseProof(t, proof)
	require.Equal(t, "server-nonce", claims["nonce"])

	proof, err = a.SignProof(ctx, id, dpop.ProofRequest{Method: "POST", URL: "https://other.example.com/token"})
	require.NoError(t, err)
	_, claims = parseProof(t, proof)
	require.NotContains(t, claims, "nonce")

	require.NoError(t, a.CacheNonce("https://as.example.com", ""))
	_, ok = a.Nonce("https://as.example.com/token")
	require.False(t, ok)
}

func TestRSAKeys(t *testing.T) {
	ctx := context.Background()
	a := setupTestAuthority(t, dpop.WithRSAKeys())
	id, err := a.CreateKeyPair(ctx)
	require.NoError(t, err)

	proof, err := a.SignProof(ctx, id, dpop.ProofRequest{Method: "POST", URL: "https://as.example.com/token"})
	require.NoError(t, err)
	parsed, _ := parseProof(t, proof)
	require.Equal(t, "RS256", parsed.Header["alg"])
}

func TestDeleteKeyPair(t *testing.T) {
	ctx := context.Background()
	a := setupTestAuthority(t)
	id, err := a.CreateKeyPair(ctx)
	require.NoError(t, err)

	require.NoError(t, a.DeleteKeyPair(ctx, id))
	require.ErrorIs(t, a.DeleteKeyPair(ctx, id), dpop.ErrKeyPairNotFound)

	_, err = a.SignProof(ctx, id, dpop.ProofRequest{Method: "GET", URL: "https://x.example.com"})
	require.ErrorIs(t, err, dpop.ErrKeyPairNotFound)
}

func TestThumbprintStableAcrossPEMRoundTrip(t *testing.T) {
	kp, err := dpop.GenerateECDSAKeyPair("kid")
	require.NoError(t, err)

	pemData, err := kp.ExportPrivateKeyPEM()
	require.NoError(t, err)
	loaded, err := dpop.LoadKeyPairFromPEM("kid", pemData)
	require.NoError(t, err)
	require.Equal(t, dpop.ES256, loaded.Algorithm)
	_, ok := loaded.PrivateKey.(*ecdsa.PrivateKey)
	require.True(t, ok)

	want, err := kp.Thumbprint()
	require.NoError(t, err)
	got, err := loaded.Thumbprint()
	require.NoError(t, err)
	require.Equal(t, want, got)

	a := setupTestAuthority(t)
	a.Import(loaded)
	fromAuthority, err := a.Thumbprint(context.Background(), "kid")
	require.NoError(t, err)
	require.Equal(t, want, fromAuthority)

	_, err = dpop.LoadKeyPairFromPEM("kid", "not pem")
	require.Error(t, err)
}

func TestOrigin(t *testing.T) {
	origin, err := dpop.Origin("HTTPS://Example.COM:8443/a/b?c=d")
	require.NoError(t, err)
	require.Equal(t, "https://example.com:8443", origin)

	_, err = dpop.Origin("/relative")
	require.Error(t, err)
}
