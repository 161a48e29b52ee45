package oauth

import (
	"fmt"
	"net/http"
)

// Error is an OAuth 2.0 protocol error (RFC 6749 section 5.2). The handler
// renders it as a JSON error response with the carried HTTP status.
type Error struct {
	// Code is the OAuth error code, e.g. "invalid_grant".
	Code string `json:"error"`

	// Description is the human-readable detail.
	Description string `json:"error_description,omitempty"`

	// Status is the HTTP status to respond with. Not serialized.
	Status int `json:"-"`
}

func (e *Error) Error() string {
	if e.Description != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Description)
	}
	return e.Code
}

func invalidRequest(description string) *Error {
	return &Error{Code: "invalid_request", Description: description, Status: http.StatusBadRequest}
}

func invalidClient(description string) *Error {
	return &Error{Code: "invalid_client", Description: description, Status: http.StatusUnauthorized}
}

func invalidGrant(description string) *Error {
	return &Error{Code: "invalid_grant", Description: description, Status: http.StatusBadRequest}
}

func unsupportedGrantType(description string) *Error {
	return &Error{Code: "unsupported_grant_type", Description: description, Status: http.StatusBadRequest}
}

func serverError(description string) *Error {
	return &Error{Code: "server_error", Description: description, Status: http.StatusInternalServerError}
}
