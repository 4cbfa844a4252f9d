package token

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// IDToken is an OpenID Connect ID token parsed without signature verification.
// Verification is the exchange client's job; this type only exposes claims.
type IDToken struct {
	Raw    string
	Header map[string]any
	Claims jwt.MapClaims
}

// ParseIDToken decodes the header and claims of a compact JWT.
func ParseIDToken(raw string) (*IDToken, error) {
	parsed, _, err := jwt.NewParser().ParseUnverified(raw, jwt.MapClaims{})
	if err != nil {
		return nil, fmt.Errorf("failed to parse id token: %w", err)
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("error extracting id token claims")
	}

	return &IDToken{
		Raw:    raw,
		Header: parsed.Header,
		Claims: claims,
	}, nil
}

// RawValue is nil safe.
func (t *IDToken) RawValue() string {
	if t == nil {
		return ""
	}
	return t.Raw
}

func (t *IDToken) Subject() string {
	sub, _ := t.Claims.GetSubject()
	return sub
}

func (t *IDToken) Issuer() string {
	iss, _ := t.Claims.GetIssuer()
	return iss
}

func (t *IDToken) Audience() []string {
	aud, _ := t.Claims.GetAudience()
	return aud
}

func (t *IDToken) ExpiresAt() time.Time {
	return numericTime(t.Claims.GetExpirationTime())
}

func (t *IDToken) IssuedAt() time.Time {
	return numericTime(t.Claims.GetIssuedAt())
}

// AuthTime is the zero time when the auth_time claim is absent.
func (t *IDToken) AuthTime() time.Time {
	switch v := t.Claims["auth_time"].(type) {
	case float64:
		return time.Unix(int64(v), 0)
	case int64:
		return time.Unix(v, 0)
	default:
		return time.Time{}
	}
}

func (t *IDToken) Nonce() string {
	nonce, _ := t.Claims["nonce"].(string)
	return nonce
}

func (t *IDToken) Algorithm() string {
	alg, _ := t.Header["alg"].(string)
	return alg
}

func (t *IDToken) KeyID() string {
	kid, _ := t.Header["kid"].(string)
	return kid
}

func numericTime(d *jwt.NumericDate, err error) time.Time {
	if err != nil || d == nil {
		return time.Time{}
	}
	return d.Time
}
