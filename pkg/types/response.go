// Package types holds the wire envelopes shared by every HTTP response.
package types

// SuccessEnvelope wraps successful payloads so clients always unwrap "data".
type SuccessEnvelope struct {
	Data any `json:"data"`
}

// APIError is the client-facing shape of a failure. Code is a stable machine
// token (VALIDATION_ERROR, STATE_CONFLICT, ...); Message is safe to show a user.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

type ErrorEnvelope struct {
	Error APIError `json:"error"`
}
