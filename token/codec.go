package token

import (
	"encoding/json"
	"time"

	"github.com/jrsteele09/go-oauth-credentials/oauth2"
)

// tokenJSON is the persisted plain-data shape of a Token.
type tokenJSON struct {
	ID           string           `json:"id"`
	TokenType    oauth2.TokenType `json:"token_type"`
	AccessToken  string           `json:"access_token"`
	RefreshToken string           `json:"refresh_token,omitempty"`
	IDToken      string           `json:"id_token,omitempty"`
	Scope        string           `json:"scope,omitempty"`
	DeviceSecret string           `json:"device_secret,omitempty"`
	IssuedAt     int64            `json:"issued_at"`
	ExpiresIn    int              `json:"expires_in"`
	Context      Context          `json:"context"`
}

func (t *Token) MarshalJSON() ([]byte, error) {
	return json.Marshal(tokenJSON{
		ID:           t.ID,
		TokenType:    t.TokenType,
		AccessToken:  t.AccessToken,
		RefreshToken: t.RefreshToken,
		IDToken:      t.IDToken.RawValue(),
		Scope:        t.Scope,
		DeviceSecret: t.DeviceSecret,
		IssuedAt:     t.IssuedAt.Unix(),
		ExpiresIn:    t.ExpiresIn,
		Context:      t.Context,
	})
}

func (t *Token) UnmarshalJSON(data []byte) error {
	var j tokenJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return err
	}

	var idToken *IDToken
	if j.IDToken != "" {
		parsed, err := ParseIDToken(j.IDToken)
		if err != nil {
			return err
		}
		idToken = parsed
	}

	*t = Token{
		ID:           j.ID,
		TokenType:    j.TokenType,
		AccessToken:  j.AccessToken,
		RefreshToken: j.RefreshToken,
		IDToken:      idToken,
		Scope:        j.Scope,
		DeviceSecret: j.DeviceSecret,
		IssuedAt:     time.Unix(j.IssuedAt, 0),
		ExpiresIn:    j.ExpiresIn,
		Context:      j.Context,
	}
	return nil
}
