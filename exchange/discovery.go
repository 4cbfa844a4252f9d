package exchange

import (
	"context"
	"fmt"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/jrsteele09/go-oauth-credentials/transport"
	xoauth2 "golang.org/x/oauth2"
)

// Endpoints are the authorization server URLs the client talks to.
type Endpoints struct {
	Authorization string
	Token         string
	Revocation    string
	Introspection string
	UserInfo      string
	JWKS          string

	IDTokenSigningAlgs []string
	DPoPSigningAlgs    []string
}

// OAuth2 converts to the golang.org/x/oauth2 endpoint representation.
func (e *Endpoints) OAuth2() xoauth2.Endpoint {
	return xoauth2.Endpoint{
		AuthURL:  e.Authorization,
		TokenURL: e.Token,
	}
}

type providerMetadata struct {
	RevocationEndpoint    string   `json:"revocation_endpoint"`
	IntrospectionEndpoint string   `json:"introspection_endpoint"`
	JWKSURI               string   `json:"jwks_uri"`
	IDTokenSigningAlgs    []string `json:"id_token_signing_alg_values_supported"`
	DPoPSigningAlgs       []string `json:"dpop_signing_alg_values_supported"`
}

// Discover reads {issuer}/.well-known/openid-configuration. The document's
// issuer must equal the configured one.
func Discover(ctx context.Context, tr transport.Transport, issuer string) (*Endpoints, error) {
	ctx = oidc.ClientContext(ctx, transport.NewClient(tr))
	provider, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return nil, fmt.Errorf("failed to discover %s: %w", issuer, err)
	}

	var meta providerMetadata
	if err := provider.Claims(&meta); err != nil {
		return nil, fmt.Errorf("failed to decode discovery document: %w", err)
	}

	endpoint := provider.Endpoint()
	return &Endpoints{
		Authorization:      endpoint.AuthURL,
		Token:              endpoint.TokenURL,
		Revocation:         meta.RevocationEndpoint,
		Introspection:      meta.IntrospectionEndpoint,
		UserInfo:           provider.UserInfoEndpoint(),
		JWKS:               meta.JWKSURI,
		IDTokenSigningAlgs: meta.IDTokenSigningAlgs,
		DPoPSigningAlgs:    meta.DPoPSigningAlgs,
	}, nil
}
