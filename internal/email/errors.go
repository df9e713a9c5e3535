package email

import (
	"errors"
	"fmt"
)

// CapabilityError means the message uses a feature the selected
// provider cannot express. It is raised before any network call.
type CapabilityError struct {
	Provider string
	Feature  string
}

func (e *CapabilityError) Error() string {
	return fmt.Sprintf("%s does not support %s", e.Provider, e.Feature)
}

// IsCapabilityError reports whether err wraps a CapabilityError.
func IsCapabilityError(err error) bool {
	var ce *CapabilityError
	return errors.As(err, &ce)
}

// ErrorKind classifies a failed provider API call.
type ErrorKind string

const (
	// ErrKindAuth means the ESP rejected our credentials.
	ErrKindAuth ErrorKind = "auth"
	// ErrKindRejected means the ESP understood the request and refused it.
	ErrKindRejected ErrorKind = "rejected"
	// ErrKindTransport means we could not complete the HTTP exchange,
	// or the ESP failed server-side.
	ErrKindTransport ErrorKind = "transport"
)

// APIError is a failed call to a provider's API. Body holds the raw
// response body for diagnostics; Err is set for network-level failures.
type APIError struct {
	Provider   string
	Kind       ErrorKind
	StatusCode int
	Body       string
	Err        error
}

func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s api error (%s): %v", e.Provider, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s api error (%s): status %d: %s", e.Provider, e.Kind, e.StatusCode, e.Body)
}

func (e *APIError) Unwrap() error { return e.Err }

// ClassifyStatus maps an HTTP response status to an ErrorKind.
func ClassifyStatus(status int) ErrorKind {
	switch {
	case status == 401 || status == 403:
		return ErrKindAuth
	case status >= 400 && status < 500:
		return ErrKindRejected
	default:
		return ErrKindTransport
	}
}

// WebhookAuthError means an incoming webhook request failed shared-secret
// or signature verification. The endpoint must respond 400 and process
// nothing from the request.
type WebhookAuthError struct {
	Provider string
	Reason   string
}

func (e *WebhookAuthError) Error() string {
	return fmt.Sprintf("%s webhook auth failed: %s", e.Provider, e.Reason)
}

// IsWebhookAuthError reports whether err wraps a WebhookAuthError.
func IsWebhookAuthError(err error) bool {
	var we *WebhookAuthError
	return errors.As(err, &we)
}
