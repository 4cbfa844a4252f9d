package loopback

import (
	"context"
	"slices"

	"github.com/jrsteele09/go-oauth-credentials/exchange"
	"github.com/jrsteele09/go-oauth-credentials/oauth2"
	"github.com/jrsteele09/go-oauth-credentials/token"
)

// Browser opens the authorization URL for the user.
type Browser func(ctx context.Context, authURL string) error

// Login runs an authorization-code flow with PKCE against client, receiving
// the code on a loopback redirect. The returned token has been validated but
// is not stored.
func Login(ctx context.Context, client *exchange.Client, opts exchange.AuthorizationOptions, open Browser, options ...Option) (*token.Token, error) {
	receiver, err := Listen("127.0.0.1:0", options...)
	if err != nil {
		return nil, err
	}
	defer receiver.Close()

	opts.RedirectURL = receiver.RedirectURL()
	authReq, err := client.AuthCodeURL(ctx, opts)
	if err != nil {
		return nil, err
	}
	if err := open(ctx, authReq.URL); err != nil {
		return nil, err
	}

	resp, err := receiver.Wait(ctx, authReq.State)
	if err != nil {
		return nil, err
	}

	scopes := opts.Scopes
	if len(scopes) == 0 {
		scopes = client.Config().Scopes
	}
	req := exchange.TokenRequest{
		GrantType:    oauth2.AuthorizationCodeGrant,
		Scopes:       scopes,
		Code:         resp.Code,
		RedirectURI:  opts.RedirectURL,
		CodeVerifier: authReq.CodeVerifier,
		ACRValues:    opts.ACRValues,
		MaxAge:       opts.MaxAge,
	}
	// Only OpenID requests carry an ID token to check the nonce against.
	if slices.Contains(scopes, "openid") {
		req.Nonce = authReq.Nonce
	}
	return client.Exchange(ctx, req)
}
