package oauth2

import (
	"encoding/json"
	"strings"
)

// IntrospectionResponse represents an RFC 7662 token introspection response.
// The 'active' field indicates the state of the token - if it's false, other fields may not be populated.
type IntrospectionResponse struct {
	Active    bool           `json:"active"`               // True or false - Is the token valid
	Scope     string         `json:"scope,omitempty"`      // Space separated scopes
	ClientID  string         `json:"client_id,omitempty"`  // Client the token was issued to
	Username  string         `json:"username,omitempty"`   // Human readable resource owner
	TokenType string         `json:"token_type,omitempty"` // Bearer, DPoP, ...
	Exp       *int64         `json:"exp,omitempty"`        // Expiration
	Iat       *int64         `json:"iat,omitempty"`        // Issued at time
	Nbf       *int64         `json:"nbf,omitempty"`        // Not before
	Sub       string         `json:"sub,omitempty"`        // Subject
	Aud       any            `json:"aud,omitempty"`        // Audience (string or array)
	Iss       string         `json:"iss,omitempty"`        // Issuer of the token
	Jti       string         `json:"jti,omitempty"`        // Token identifier
	Extra     map[string]any `json:"-"`                    // Everything else the server returned
}

var introspectionFields = []string{"active", "scope", "client_id", "username", "token_type", "exp", "iat", "nbf", "sub", "aud", "iss", "jti"}

// UnmarshalJSON decodes the registered members and keeps the rest in Extra.
func (r *IntrospectionResponse) UnmarshalJSON(data []byte) error {
	type plain IntrospectionResponse
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	var all map[string]any
	if err := json.Unmarshal(data, &all); err != nil {
		return err
	}
	for _, name := range introspectionFields {
		delete(all, name)
	}
	if len(all) > 0 {
		p.Extra = all
	}
	*r = IntrospectionResponse(p)
	return nil
}

// Scopes splits Scope on spaces.
func (r *IntrospectionResponse) Scopes() []string {
	return strings.Fields(r.Scope)
}
