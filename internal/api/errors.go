package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/go-resty/resty/v2"
)

// ErrSessionExpired is returned when a request is rejected as unauthorized
// and the credentials could not be refreshed, or were rejected again after a
// refresh. The caller must log in again.
var ErrSessionExpired = errors.New("api: session expired")

// errNoRefreshToken is returned by [Client.Refresh] for credentials without a
// refresh token.
var errNoRefreshToken = errors.New("api: no refresh token available")

// Error is a non-2xx response from the backend.
type Error struct {
	// StatusCode is the HTTP status of the response.
	StatusCode int

	// Detail is the backend's error detail, or a generic message for the
	// operation when the backend sent none.
	Detail string
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("api: status %d: %s", e.StatusCode, e.Detail)
}

// errorBody is the backend error envelope. detail is usually a string but
// validation errors carry a list.
type errorBody struct {
	Detail json.RawMessage `json:"detail"`
}

// newError builds an [Error] from resp. fallback is used when the body carries
// no usable detail.
func newError(resp *resty.Response, fallback string) *Error {
	return &Error{StatusCode: resp.StatusCode(), Detail: detail(resp.Body(), fallback)}
}

func detail(body []byte, fallback string) string {
	var eb errorBody
	if err := json.Unmarshal(body, &eb); err != nil || len(eb.Detail) == 0 || string(eb.Detail) == "null" {
		return fallback
	}
	var s string
	if err := json.Unmarshal(eb.Detail, &s); err == nil {
		if strings.TrimSpace(s) == "" {
			return fallback
		}
		return s
	}
	return string(eb.Detail)
}
