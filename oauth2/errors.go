package oauth2

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// Error codes the client reacts to.
const (
	ErrCodeInvalidGrant   = "invalid_grant"
	ErrCodeInvalidRequest = "invalid_request"
	ErrCodeInvalidClient  = "invalid_client"
	ErrCodeUseDPoPNonce   = "use_dpop_nonce"
)

// Error is an error response returned by the authorization server (RFC 6749 section 5.2).
type Error struct {
	Code        string `json:"error"`
	Description string `json:"error_description,omitempty"`
	URI         string `json:"error_uri,omitempty"`
	StatusCode  int    `json:"-"`
}

func (e *Error) Error() string {
	msg := "oauth2: " + e.Code
	if e.Description != "" {
		msg += ": " + e.Description
	}
	if e.URI != "" {
		msg += " (" + e.URI + ")"
	}
	return msg
}

// ParseError builds an *Error from a non-2xx response body. Bodies that are not
// RFC 6749 error documents produce a generic error carrying the status code.
func ParseError(statusCode int, body []byte) *Error {
	e := &Error{}
	if err := json.Unmarshal(body, e); err != nil || e.Code == "" {
		e = &Error{
			Code:        fmt.Sprintf("http_%d", statusCode),
			Description: http.StatusText(statusCode),
		}
	}
	e.StatusCode = statusCode
	return e
}
