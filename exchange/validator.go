package exchange

import (
	"fmt"
	"net/url"
	"slices"
	"time"

	"github.com/jrsteele09/go-oauth-credentials/token"
)

// Validation checks, in the order they run.
const (
	CheckIssuer     = "issuer"
	CheckAudience   = "audience"
	CheckScheme     = "scheme"
	CheckAlgorithm  = "algorithm"
	CheckExpiration = "expiration"
	CheckIssuedAt   = "issued_at"
	CheckNonce      = "nonce"
	CheckMaxAge     = "max_age"
	CheckSubject    = "subject"
	CheckSignature  = "signature"
)

// DefaultClockSkew is the tolerance applied to exp, iat and auth_time.
const DefaultClockSkew = 5 * time.Minute

// DefaultAlgorithms is the ID token signing algorithm allow-list. "none" and
// symmetric algorithms are never accepted.
var DefaultAlgorithms = []string{"RS256", "RS384", "RS512", "PS256", "PS384", "PS512", "ES256", "ES384", "ES512", "EdDSA"}

// ValidationError reports the first ID token check that failed.
type ValidationError struct {
	Check   string
	Message string
	Err     error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("id token validation failed: %s: %s", e.Check, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

func validationErr(check, format string, args ...any) error {
	return &ValidationError{Check: check, Message: fmt.Sprintf(format, args...)}
}

// Expectations are the per-request inputs to validation.
type Expectations struct {
	// Nonce must match the nonce claim when set.
	Nonce string
	// MaxAge, in seconds, requires a recent auth_time when positive.
	MaxAge int
}

// Validator checks ID token claims. Signature verification is done separately
// against the key set once every claim check has passed.
type Validator struct {
	issuer     string
	clientID   string
	algorithms []string
	clockSkew  time.Duration
	nowFunc    func() time.Time
}

func NewValidator(issuer, clientID string, algorithms []string, clockSkew time.Duration, nowFunc func() time.Time) *Validator {
	if len(algorithms) == 0 {
		algorithms = DefaultAlgorithms
	}
	if nowFunc == nil {
		nowFunc = time.Now
	}
	return &Validator{
		issuer:     issuer,
		clientID:   clientID,
		algorithms: algorithms,
		clockSkew:  clockSkew,
		nowFunc:    nowFunc,
	}
}

func (v *Validator) Algorithms() []string {
	return v.algorithms
}

// Validate runs the ordered claim checks and returns a *ValidationError for the first failure.
func (v *Validator) Validate(idToken *token.IDToken, expect Expectations) error {
	now := v.nowFunc()

	if iss := idToken.Issuer(); iss != v.issuer {
		return validationErr(CheckIssuer, "expected %q, got %q", v.issuer, iss)
	}

	aud := idToken.Audience()
	if !slices.Contains(aud, v.clientID) {
		return validationErr(CheckAudience, "%q not in %v", v.clientID, aud)
	}
	if len(aud) > 1 {
		if azp, _ := idToken.Claims["azp"].(string); azp != v.clientID {
			return validationErr(CheckAudience, "authorized party %q does not match %q", azp, v.clientID)
		}
	}

	if u, err := url.Parse(v.issuer); err != nil || u.Scheme != "https" {
		return validationErr(CheckScheme, "issuer %q is not an https url", v.issuer)
	}

	if alg := idToken.Algorithm(); !slices.Contains(v.algorithms, alg) {
		return validationErr(CheckAlgorithm, "algorithm %q is not allowed", alg)
	}

	exp := idToken.ExpiresAt()
	if exp.IsZero() {
		return validationErr(CheckExpiration, "missing exp claim")
	}
	if !now.Before(exp.Add(v.clockSkew)) {
		return validationErr(CheckExpiration, "expired at %s", exp.UTC().Format(time.RFC3339))
	}

	iat := idToken.IssuedAt()
	if iat.IsZero() {
		return validationErr(CheckIssuedAt, "missing iat claim")
	}
	if iat.After(now.Add(v.clockSkew)) {
		return validationErr(CheckIssuedAt, "issued in the future at %s", iat.UTC().Format(time.RFC3339))
	}

	if expect.Nonce != "" && idToken.Nonce() != expect.Nonce {
		return validationErr(CheckNonce, "nonce does not match the request")
	}

	if expect.MaxAge > 0 {
		authTime := idToken.AuthTime()
		if authTime.IsZero() {
			return validationErr(CheckMaxAge, "auth_time is required when max_age is requested")
		}
		deadline := authTime.Add(time.Duration(expect.MaxAge)*time.Second + v.clockSkew)
		if now.After(deadline) {
			return validationErr(CheckMaxAge, "authentication at %s is older than max_age %ds", authTime.UTC().Format(time.RFC3339), expect.MaxAge)
		}
	}

	if idToken.Subject() == "" {
		return validationErr(CheckSubject, "missing sub claim")
	}
	return nil
}
