// Package dpop implements the proof-of-possession signing authority: it owns
// key pairs, signs per-request DPoP proofs (RFC 9449) and remembers the nonces
// servers hand out.
package dpop

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"net/url"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	internalerrors "github.com/jrsteele09/go-oauth-credentials/internal/errors"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ErrKeyPairNotFound is returned for an unknown key pair id.
var ErrKeyPairNotFound = errors.Wrap(internalerrors.ErrNotFound, "dpop key pair")

// ProofType is the typ header of a DPoP proof.
const ProofType = "dpop+jwt"

// NowTimeFunc returns the current time. It can be overridden in tests.
var NowTimeFunc = time.Now

// ProofRequest describes the HTTP request a proof is bound to.
type ProofRequest struct {
	Method string
	URL    string
	// AccessToken is set when calling a resource server; it becomes the ath claim.
	AccessToken string
	// Nonce overrides the cached nonce for the URL's origin.
	Nonce string
}

// Authority is the signing collaborator used by the exchange client and by
// credentials when authorizing requests.
type Authority interface {
	CreateKeyPair(ctx context.Context) (string, error)
	DeleteKeyPair(ctx context.Context, keyPairID string) error
	Thumbprint(ctx context.Context, keyPairID string) (string, error)
	SignProof(ctx context.Context, keyPairID string, req ProofRequest) (string, error)
	Nonce(rawURL string) (string, bool)
	CacheNonce(rawURL, nonce string) error
}

var _ Authority = (*MemoryAuthority)(nil)

// MemoryAuthority keeps key pairs in process memory.
type MemoryAuthority struct {
	keys   map[string]*KeyPair
	lock   sync.RWMutex
	nonces *NonceCache
	logger zerolog.Logger
	rsa    bool
}

type MemoryAuthorityOption func(*MemoryAuthority)

func WithLogger(logger zerolog.Logger) MemoryAuthorityOption {
	return func(a *MemoryAuthority) {
		a.logger = logger
	}
}

// WithRSAKeys makes CreateKeyPair generate RS256 keys instead of ES256.
func WithRSAKeys() MemoryAuthorityOption {
	return func(a *MemoryAuthority) {
		a.rsa = true
	}
}

func NewMemoryAuthority(nonceTTL time.Duration, options ...MemoryAuthorityOption) (*MemoryAuthority, error) {
	nonces, err := NewNonceCache(nonceTTL)
	if err != nil {
		return nil, err
	}
	a := &MemoryAuthority{
		keys:   make(map[string]*KeyPair),
		nonces: nonces,
		logger: log.Logger,
	}
	for _, opt := range options {
		opt(a)
	}
	a.logger = a.logger.With().Str("component", "dpop").Logger()
	return a, nil
}

func (a *MemoryAuthority) CreateKeyPair(_ context.Context) (string, error) {
	id := uuid.New().String()
	var kp *KeyPair
	var err error
	if a.rsa {
		kp, err = GenerateRSAKeyPair(id, 2048)
	} else {
		kp, err = GenerateECDSAKeyPair(id)
	}
	if err != nil {
		return "", err
	}
	a.Import(kp)
	a.logger.Debug().Str("key_pair_id", id).Str("alg", kp.Algorithm).Msg("key pair created")
	return id, nil
}

// Import registers an existing key pair, replacing any with the same id.
func (a *MemoryAuthority) Import(kp *KeyPair) {
	a.lock.Lock()
	defer a.lock.Unlock()
	a.keys[kp.KeyID] = kp
}

func (a *MemoryAuthority) DeleteKeyPair(_ context.Context, keyPairID string) error {
	a.lock.Lock()
	defer a.lock.Unlock()
	if _, ok := a.keys[keyPairID]; !ok {
		return errors.Wrap(ErrKeyPairNotFound, keyPairID)
	}
	delete(a.keys, keyPairID)
	return nil
}

func (a *MemoryAuthority) KeyPair(keyPairID string) (*KeyPair, error) {
	a.lock.RLock()
	defer a.lock.RUnlock()
	kp, ok := a.keys[keyPairID]
	if !ok {
		return nil, errors.Wrap(ErrKeyPairNotFound, keyPairID)
	}
	return kp, nil
}

func (a *MemoryAuthority) Thumbprint(_ context.Context, keyPairID string) (string, error) {
	kp, err := a.KeyPair(keyPairID)
	if err != nil {
		return "", err
	}
	return kp.Thumbprint()
}

// SignProof builds and signs a proof JWT with claims jti, htm, htu, iat and,
// when known, ath and nonce.
func (a *MemoryAuthority) SignProof(_ context.Context, keyPairID string, req ProofRequest) (string, error) {
	kp, err := a.KeyPair(keyPairID)
	if err != nil {
		return "", err
	}
	htu, err := TargetURI(req.URL)
	if err != nil {
		return "", err
	}

	claims := jwt.MapClaims{
		"jti": uuid.New().String(),
		"htm": req.Method,
		"htu": htu,
		"iat": NowTimeFunc().Unix(),
	}
	if req.AccessToken != "" {
		claims["ath"] = AccessTokenHash(req.AccessToken)
	}
	nonce := req.Nonce
	if nonce == "" {
		nonce, _ = a.nonces.Get(req.URL)
	}
	if nonce != "" {
		claims["nonce"] = nonce
	}

	proof := jwt.NewWithClaims(kp.GetSigningMethod(), claims)
	proof.Header["typ"] = ProofType
	proof.Header["jwk"] = kp.PublicJWK()

	signed, err := proof.SignedString(kp.PrivateKey)
	if err != nil {
		return "", errors.Wrap(err, "failed to sign dpop proof")
	}
	return signed, nil
}

func (a *MemoryAuthority) Nonce(rawURL string) (string, bool) {
	return a.nonces.Get(rawURL)
}

func (a *MemoryAuthority) CacheNonce(rawURL, nonce string) error {
	return a.nonces.Set(rawURL, nonce)
}

func (a *MemoryAuthority) Close() {
	a.nonces.Close()
}

// AccessTokenHash is the ath claim: base64url(SHA-256(access token)).
func AccessTokenHash(accessToken string) string {
	sum := sha256.Sum256([]byte(accessToken))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// TargetURI strips query and fragment, as required for the htu claim.
func TargetURI(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", errors.Wrapf(err, "invalid url %q", rawURL)
	}
	u.RawQuery = ""
	u.Fragment = ""
	u.RawFragment = ""
	return u.String(), nil
}
