package bridge

import (
	"errors"
)

// Sentinel errors classifying every failure the bridge can surface. All
// upstream-facing failures are converted to one of these at the bridge
// boundary; no raw transport error crosses into the handlers.
var (
	// ErrUpstreamUnavailable: network failure or non-2xx from the portal.
	ErrUpstreamUnavailable = errors.New("upstream portal unavailable")
	// ErrUpstreamTimeout: the per-call deadline elapsed.
	ErrUpstreamTimeout = errors.New("upstream portal timed out")
	// ErrSessionMissing: no tracked session for the supplied token.
	ErrSessionMissing = errors.New("session missing")
	// ErrMissingField: the caller omitted a required input.
	ErrMissingField = errors.New("missing required field")
	// ErrInvalidCaptcha: the portal rejected the captcha answer.
	ErrInvalidCaptcha = errors.New("invalid captcha")
	// ErrInvalidCredentials: the portal rejected the credentials.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrLoginFailed: unclassified login response.
	ErrLoginFailed = errors.New("login failed")
	// ErrSessionExpired: the portal no longer honors the session.
	ErrSessionExpired = errors.New("session expired")
	// ErrInvalidUpstreamResponse: the result body did not parse.
	ErrInvalidUpstreamResponse = errors.New("invalid upstream response")
)

// Message returns the short human-readable text for a classified bridge
// error. Unclassified errors get a generic try-again message rather than
// surfacing raw upstream text.
func Message(err error) string {
	switch {
	case errors.Is(err, ErrMissingField):
		return "Missing required fields"
	case errors.Is(err, ErrSessionMissing):
		return "Session not found. Please fetch a new captcha."
	case errors.Is(err, ErrInvalidCaptcha):
		return "Invalid captcha. Please try again."
	case errors.Is(err, ErrInvalidCredentials):
		return "Invalid username or password."
	case errors.Is(err, ErrSessionExpired):
		return "Session expired. Please login again."
	case errors.Is(err, ErrInvalidUpstreamResponse):
		return "Invalid response from server. Session may have expired."
	case errors.Is(err, ErrUpstreamTimeout):
		return "The exam portal took too long to respond. Please try again."
	case errors.Is(err, ErrUpstreamUnavailable):
		return "The exam portal is unavailable. Please try again later."
	default:
		return "Something went wrong. Please try again."
	}
}
