package dpop

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"

	jose "github.com/go-jose/go-jose/v4"
	"github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"
)

// Signing algorithms supported for proofs.
const (
	ES256 = "ES256"
	ES384 = "ES384"
	RS256 = "RS256"
)

// KeyPair is a proof-of-possession key. The private half never leaves the process.
type KeyPair struct {
	KeyID      string
	PrivateKey crypto.Signer
	Algorithm  string
}

// GenerateECDSAKeyPair generates a P-256 key pair for ES256 proofs.
func GenerateECDSAKeyPair(keyID string) (*KeyPair, error) {
	privateKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, errors.Wrap(err, "failed to generate ECDSA key")
	}

	return &KeyPair{
		KeyID:      keyID,
		PrivateKey: privateKey,
		Algorithm:  ES256,
	}, nil
}

// GenerateRSAKeyPair generates an RSA key pair for RS256 proofs.
func GenerateRSAKeyPair(keyID string, bits int) (*KeyPair, error) {
	if bits < 2048 {
		bits = 2048
	}

	privateKey, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return nil, errors.Wrap(err, "failed to generate RSA key")
	}

	return &KeyPair{
		KeyID:      keyID,
		PrivateKey: privateKey,
		Algorithm:  RS256,
	}, nil
}

func (kp *KeyPair) PublicKey() crypto.PublicKey {
	return kp.PrivateKey.Public()
}

// GetSigningMethod returns the JWT signing method for this key pair
func (kp *KeyPair) GetSigningMethod() jwt.SigningMethod {
	switch kp.Algorithm {
	case ES384:
		return jwt.SigningMethodES384
	case RS256:
		return jwt.SigningMethodRS256
	default:
		return jwt.SigningMethodES256
	}
}

// PublicJWK returns the public key as carried in the proof's jwk header.
func (kp *KeyPair) PublicJWK() jose.JSONWebKey {
	return jose.JSONWebKey{
		Key:       kp.PublicKey(),
		Algorithm: kp.Algorithm,
		Use:       "sig",
	}
}

// Thumbprint is the base64url SHA-256 JWK thumbprint (RFC 7638), used as dpop_jkt.
func (kp *KeyPair) Thumbprint() (string, error) {
	jwk := kp.PublicJWK()
	sum, err := jwk.Thumbprint(crypto.SHA256)
	if err != nil {
		return "", errors.Wrap(err, "failed to compute JWK thumbprint")
	}
	return base64.RawURLEncoding.EncodeToString(sum), nil
}

// ExportPrivateKeyPEM exports the private key as PEM
func (kp *KeyPair) ExportPrivateKeyPEM() (string, error) {
	var privateKeyBytes []byte
	var err error
	var blockType string

	switch key := kp.PrivateKey.(type) {
	case *rsa.PrivateKey:
		privateKeyBytes = x509.MarshalPKCS1PrivateKey(key)
		blockType = "RSA PRIVATE KEY"
	case *ecdsa.PrivateKey:
		privateKeyBytes, err = x509.MarshalECPrivateKey(key)
		if err != nil {
			return "", errors.Wrap(err, "failed to marshal ECDSA private key")
		}
		blockType = "EC PRIVATE KEY"
	default:
		return "", errors.New("unsupported private key type")
	}

	privateKeyPEM := pem.EncodeToMemory(&pem.Block{
		Type:  blockType,
		Bytes: privateKeyBytes,
	})

	return string(privateKeyPEM), nil
}

// LoadKeyPairFromPEM restores a key pair exported with ExportPrivateKeyPEM.
func LoadKeyPairFromPEM(keyID, privateKeyPEM string) (*KeyPair, error) {
	block, _ := pem.Decode([]byte(privateKeyPEM))
	if block == nil {
		return nil, errors.New("failed to decode PEM block")
	}

	switch block.Type {
	case "EC PRIVATE KEY":
		key, err := x509.ParseECPrivateKey(block.Bytes)
		if err != nil {
			return nil, errors.Wrap(err, "failed to parse ECDSA private key")
		}
		alg := ES256
		if key.Curve == elliptic.P384() {
			alg = ES384
		}
		return &KeyPair{KeyID: keyID, PrivateKey: key, Algorithm: alg}, nil
	case "RSA PRIVATE KEY":
		key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
		if err != nil {
			return nil, errors.Wrap(err, "failed to parse RSA private key")
		}
		return &KeyPair{KeyID: keyID, PrivateKey: key, Algorithm: RS256}, nil
	default:
		return nil, errors.Errorf("unsupported PEM block %q", block.Type)
	}
}
