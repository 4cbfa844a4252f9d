package oauth2

// GrantType represents the OAuth 2.0 grant type used at the token endpoint.
type GrantType string

const (
	// AuthorizationCodeGrant exchanges an authorization code (plus PKCE verifier) for tokens.
	AuthorizationCodeGrant GrantType = "authorization_code"

	// ClientCredentialsGrant obtains a token for the client itself (no user context).
	ClientCredentialsGrant GrantType = "client_credentials"

	// RefreshTokenGrant exchanges a refresh token for new tokens.
	RefreshTokenGrant GrantType = "refresh_token"

	// TokenExchangeGrant is the RFC 8693 token exchange grant.
	TokenExchangeGrant GrantType = "urn:ietf:params:oauth:grant-type:token-exchange"
)

// TokenType is the access token usage scheme returned in token_type.
type TokenType string

const (
	BearerTokenType TokenType = "Bearer"
	DPoPTokenType   TokenType = "DPoP"
)

// RevokeType selects which halves of a grant a revocation targets.
type RevokeType string

const (
	RevokeAll     RevokeType = "ALL"
	RevokeAccess  RevokeType = "ACCESS"
	RevokeRefresh RevokeType = "REFRESH"
)

// TokenTypeHint is the token_type_hint parameter of RFC 7009 and RFC 7662.
type TokenTypeHint string

const (
	AccessTokenHint  TokenTypeHint = "access_token"
	RefreshTokenHint TokenTypeHint = "refresh_token"
	IDTokenHint      TokenTypeHint = "id_token"
	DeviceSecretHint TokenTypeHint = "device_secret"
)
