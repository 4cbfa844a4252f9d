package oauth2

// TokenResponse represents the response from an OAuth2 token request.
// This is the standard OAuth2 token endpoint response format as defined in RFC 6749.
// Returned from the token endpoint for every grant type the exchange client issues.
type TokenResponse struct {
	// AccessToken is the token used to access protected resources.
	// Usage: "Authorization: Bearer <access_token>" or "Authorization: DPoP <access_token>"
	AccessToken string `json:"access_token"`

	// TokenType indicates how to use the access token ("Bearer" or "DPoP").
	TokenType string `json:"token_type"`

	// ExpiresIn is the lifetime in seconds of the access token.
	ExpiresIn int `json:"expires_in,omitempty"`

	// RefreshToken is an opaque token used to obtain new access tokens.
	// Omitted on a refresh response when the server does not rotate refresh tokens.
	RefreshToken string `json:"refresh_token,omitempty"`

	// IDToken is the OpenID Connect ID token. Only present when "openid" was requested.
	IDToken string `json:"id_token,omitempty"`

	// Scope is the space separated list of granted scopes.
	// Note: May be less than requested if some scopes were denied
	Scope string `json:"scope,omitempty"`

	// DeviceSecret is issued for native SSO when the "device_sso" scope was granted.
	DeviceSecret string `json:"device_secret,omitempty"`

	// IssuedTokenType is set on RFC 8693 token exchange responses.
	IssuedTokenType string `json:"issued_token_type,omitempty"`
}
