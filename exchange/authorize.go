package exchange

import (
	"context"
	"strconv"

	"github.com/google/uuid"
	xoauth2 "golang.org/x/oauth2"
)

// AuthorizationRequest holds the per-login values the caller must keep until
// the code comes back: State to match the callback, Nonce and CodeVerifier to
// pass to Exchange.
type AuthorizationRequest struct {
	URL          string
	State        string
	Nonce        string
	CodeVerifier string
}

type AuthorizationOptions struct {
	Scopes []string
	// RedirectURL overrides the configured redirect, e.g. for a loopback port
	// chosen at runtime.
	RedirectURL string
	ACRValues string
	MaxAge    int
	// DPoPKeyThumbprint binds the authorization code to a key (dpop_jkt).
	DPoPKeyThumbprint string
}

// AuthCodeURL builds an authorization request with PKCE (S256), a nonce and a state.
func (c *Client) AuthCodeURL(ctx context.Context, opts AuthorizationOptions) (*AuthorizationRequest, error) {
	endpoints, err := c.Endpoints(ctx)
	if err != nil {
		return nil, err
	}

	scopes := opts.Scopes
	if len(scopes) == 0 {
		scopes = c.cfg.Scopes
	}
	redirect := opts.RedirectURL
	if redirect == "" {
		redirect = c.cfg.RedirectURL
	}
	conf := &xoauth2.Config{
		ClientID:    c.cfg.ClientID,
		Endpoint:    endpoints.OAuth2(),
		RedirectURL: redirect,
		Scopes:      scopes,
	}

	req := &AuthorizationRequest{
		State:        uuid.New().String(),
		Nonce:        uuid.New().String(),
		CodeVerifier: xoauth2.GenerateVerifier(),
	}
	params := []xoauth2.AuthCodeOption{
		xoauth2.S256ChallengeOption(req.CodeVerifier),
		xoauth2.SetAuthURLParam("nonce", req.Nonce),
	}
	if opts.ACRValues != "" {
		params = append(params, xoauth2.SetAuthURLParam("acr_values", opts.ACRValues))
	}
	if opts.MaxAge > 0 {
		params = append(params, xoauth2.SetAuthURLParam("max_age", strconv.Itoa(opts.MaxAge)))
	}
	if opts.DPoPKeyThumbprint != "" {
		params = append(params, xoauth2.SetAuthURLParam("dpop_jkt", opts.DPoPKeyThumbprint))
	}
	req.URL = conf.AuthCodeURL(req.State, params...)
	return req, nil
}
