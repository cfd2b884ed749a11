package clientkit

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// FailureKind classifies expected request failures.
type FailureKind string

const (
	// FailureNetwork means no response was obtained at all; Status is 0.
	FailureNetwork FailureKind = "network"
	// FailureValidation means the server rejected client-correctable input
	// with per-field messages.
	FailureValidation FailureKind = "validation"
	// FailureUnauthorized means the request ended 401 and the refresh path
	// could not recover it.
	FailureUnauthorized FailureKind = "unauthorized"
	// FailureServer covers every other non-2xx outcome.
	FailureServer FailureKind = "server"
)

// ErrSessionExpired marks the terminal outcome of the 401 path: the
// refresh failed, the session was logged out, and the caller must
// re-authenticate. Test with errors.Is.
var ErrSessionExpired = errors.New("executor.session_expired")

// Failure is the tagged result for an expected request failure. The
// executor returns it as the error value; it never panics for HTTP or
// transport problems.
type Failure struct {
	Kind    FailureKind
	Status  int
	Message string
	RawBody string
	// Fields carries per-field validation messages when Kind is
	// FailureValidation.
	Fields map[string][]string

	wrapped error
}

// Error renders the failure as "kind (status): message".
func (failure *Failure) Error() string {
	if failure.Status == 0 {
		return fmt.Sprintf("%s: %s", failure.Kind, failure.Message)
	}
	return fmt.Sprintf("%s (%d): %s", failure.Kind, failure.Status, failure.Message)
}

// Unwrap exposes a wrapped sentinel such as ErrSessionExpired.
func (failure *Failure) Unwrap() error {
	return failure.wrapped
}

const fallbackFailureMessage = "request failed"

// classifyFailure builds a Failure for a non-2xx response body following
// the API's conventions: 400 bodies shaped as field→message(s) become
// validation failures; otherwise the conventional detail/message/error
// field (or a fallback) becomes a single generic message.
func classifyFailure(status int, body []byte) *Failure {
	failure := &Failure{
		Kind:    FailureServer,
		Status:  status,
		RawBody: string(body),
		Message: fallbackFailureMessage,
	}
	if status == 401 {
		failure.Kind = FailureUnauthorized
	}

	var decoded map[string]json.RawMessage
	if unmarshalErr := json.Unmarshal(body, &decoded); unmarshalErr != nil {
		if text := strings.TrimSpace(string(body)); text != "" {
			failure.Message = text
		}
		return failure
	}

	if message, ok := conventionalMessage(decoded); ok {
		failure.Message = message
		return failure
	}

	if status == 400 {
		if fields, ok := fieldMessages(decoded); ok {
			failure.Kind = FailureValidation
			failure.Fields = fields
			failure.Message = "validation failed"
			return failure
		}
	}
	return failure
}

// conventionalMessage extracts the API's single-message field.
func conventionalMessage(decoded map[string]json.RawMessage) (string, bool) {
	for _, key := range []string{"detail", "message", "error"} {
		raw, ok := decoded[key]
		if !ok {
			continue
		}
		var message string
		if unmarshalErr := json.Unmarshal(raw, &message); unmarshalErr == nil && message != "" {
			return message, true
		}
	}
	return "", false
}

// fieldMessages interprets the body as a field→message(s) mapping. Values
// may be a single string or an array of strings; anything else disqualifies
// the body from the validation shape.
func fieldMessages(decoded map[string]json.RawMessage) (map[string][]string, bool) {
	if len(decoded) == 0 {
		return nil, false
	}
	fields := make(map[string][]string, len(decoded))
	for key, raw := range decoded {
		var single string
		if unmarshalErr := json.Unmarshal(raw, &single); unmarshalErr == nil {
			fields[key] = []string{single}
			continue
		}
		var many []string
		if unmarshalErr := json.Unmarshal(raw, &many); unmarshalErr == nil && len(many) > 0 {
			fields[key] = many
			continue
		}
		return nil, false
	}
	return fields, true
}

// networkFailure builds the status-0 failure for transport-level errors.
func networkFailure(cause error) *Failure {
	return &Failure{
		Kind:    FailureNetwork,
		Status:  0,
		Message: "network error: " + cause.Error(),
		wrapped: cause,
	}
}

// sessionExpiredFailure builds the terminal 401 failure.
func sessionExpiredFailure(status int, body []byte) *Failure {
	return &Failure{
		Kind:    FailureUnauthorized,
		Status:  status,
		RawBody: string(body),
		Message: "session expired",
		wrapped: ErrSessionExpired,
	}
}
