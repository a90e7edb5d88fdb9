// Package session tracks upstream portal sessions between the captcha,
// login, and result steps of the IPU bridge flow.
//
// The portal issues a JSESSIONID cookie with each captcha challenge; the same
// cookie must be replayed on the login POST and every result fetch. Entries
// here are an optimization only — the portal remains the sole authority on
// whether a session is still valid.
package session

import (
	"context"
	"time"
)

// Entry is one tracked upstream session.
type Entry struct {
	// Token is the opaque identifier extracted from the portal's
	// Set-Cookie header (the JSESSIONID value).
	Token string `json:"token"`
	// Cookie is the full cookie string to replay on subsequent requests.
	Cookie string `json:"cookie"`
	// ExpiresAt is the absolute expiry time. An entry past this time
	// behaves exactly like a missing one, swept or not.
	ExpiresAt time.Time `json:"expires_at"`
}

// Store maps session tokens to their replay cookie and expiry.
//
// The in-memory implementation is valid only for a single-instance
// deployment; a restart invalidates all sessions and callers recover by
// fetching a fresh captcha. The Redis implementation can back a horizontally
// scaled bridge.
type Store interface {
	// Put inserts or overwrites an entry with expiry now+ttl.
	Put(ctx context.Context, token, cookie string, ttl time.Duration) error

	// Get returns the replay cookie for a live token. Expired or unknown
	// tokens return errdefs.ErrNotFound.
	Get(ctx context.Context, token string) (string, error)

	// Delete removes an entry. Deleting a missing token is not an error.
	Delete(ctx context.Context, token string) error

	// Sweep removes all expired entries and reports how many it removed.
	Sweep(ctx context.Context) (int, error)
}
