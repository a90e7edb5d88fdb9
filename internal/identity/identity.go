// Package identity provides anonymous per-device identity primitives.
//
// There is no external auth provider: a device is identified by a random
// cookie, and onboarding links that cookie to an IPU enrollment number.
package identity

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/http"
	"regexp"
	"time"
)

const (
	// AnonCookieName is the device identity cookie.
	AnonCookieName = "ipulse_anon_id"

	anonCookieMaxAge = 180 * 24 * time.Hour
)

type contextKey int

const anonIDKey contextKey = iota

var anonIDPattern = regexp.MustCompile(`^anon_[a-f0-9]{32}$`)

// AnonIDFromContext extracts the device identity from the request context.
func AnonIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(anonIDKey).(string); ok {
		return v
	}
	return ""
}

// ContextWithAnonID returns a context carrying the given device identity.
func ContextWithAnonID(ctx context.Context, anonID string) context.Context {
	return context.WithValue(ctx, anonIDKey, anonID)
}

func generateAnonID() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate anonymous id: %w", err)
	}
	return "anon_" + hex.EncodeToString(buf), nil
}

// IsValidAnonID reports whether a cookie value is a well-formed device ID.
func IsValidAnonID(id string) bool {
	return anonIDPattern.MatchString(id)
}

// Middleware reads or mints the anonymous device cookie and stores the ID in
// the request context. Malformed cookie values are replaced rather than
// trusted.
func Middleware(isDev bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			anonID := ""
			if cookie, err := r.Cookie(AnonCookieName); err == nil && IsValidAnonID(cookie.Value) {
				anonID = cookie.Value
			}

			if anonID == "" {
				generated, err := generateAnonID()
				if err != nil {
					http.Error(w, "failed to establish identity", http.StatusInternalServerError)
					return
				}
				anonID = generated
				http.SetCookie(w, &http.Cookie{
					Name:     AnonCookieName,
					Value:    anonID,
					Path:     "/",
					MaxAge:   int(anonCookieMaxAge.Seconds()),
					HttpOnly: true,
					Secure:   !isDev,
					SameSite: http.SameSiteLaxMode,
				})
			}

			ctx := context.WithValue(r.Context(), anonIDKey, anonID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
