package token

import (
	"maps"

	internalerrors "github.com/jrsteele09/go-oauth-credentials/internal/errors"
)

// ErrMetadataMismatch is returned when metadata is paired with a token of another id.
var ErrMetadataMismatch = internalerrors.ErrMetadataMismatch

// Metadata is the non-secret sidecar of a Token. It can be listed and queried
// without loading secret material.
type Metadata struct {
	ID            string         `json:"id"`
	Tags          []string       `json:"tags"`
	Scopes        []string       `json:"scopes"`
	Issuer        string         `json:"issuer"`
	ClientID      string         `json:"client_id"`
	DPoPKeyPairID string         `json:"dpop_key_pair_id,omitempty"`
	Claims        map[string]any `json:"claims,omitempty"` // ID token claims
}

// Metadata field names addressable by Field.
const (
	FieldID            = "id"
	FieldTags          = "tags"
	FieldScopes        = "scopes"
	FieldIssuer        = "issuer"
	FieldClientID      = "client_id"
	FieldDPoPKeyPairID = "dpop_key_pair_id"
)

// NewMetadata derives metadata from a token.
func NewMetadata(t *Token, tags []string) *Metadata {
	m := &Metadata{
		ID:            t.ID,
		Tags:          append([]string{}, tags...),
		Scopes:        t.Scopes(),
		Issuer:        t.Context.Issuer,
		ClientID:      t.Context.ClientID,
		DPoPKeyPairID: t.Context.DPoPKeyPairID,
	}
	if t.IDToken != nil {
		m.Claims = maps.Clone(map[string]any(t.IDToken.Claims))
	}
	return m
}

// Validate enforces that the metadata describes t.
func (m *Metadata) Validate(t *Token) error {
	if m.ID != t.ID {
		return ErrMetadataMismatch
	}
	return nil
}

// WithTags returns a copy with tags replaced.
func (m *Metadata) WithTags(tags []string) *Metadata {
	c := *m
	c.Tags = append([]string{}, tags...)
	return &c
}

// Field looks a metadata field up by name. Known fields win over ID token
// claims of the same name. Array valued fields are returned as []string.
func (m *Metadata) Field(name string) (any, bool) {
	switch name {
	case FieldID:
		return m.ID, true
	case FieldTags:
		return m.Tags, true
	case FieldScopes:
		return m.Scopes, true
	case FieldIssuer:
		return m.Issuer, true
	case FieldClientID:
		return m.ClientID, true
	case FieldDPoPKeyPairID:
		return m.DPoPKeyPairID, m.DPoPKeyPairID != ""
	}
	v, ok := m.Claims[name]
	return v, ok
}
