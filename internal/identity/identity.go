// Package identity provides anonymous per-device identity primitives.
// Session-ownership checks downstream treat the resolved user ID as a
// pre-condition; there is no account system.
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
	AnonCookieName = "parley_anon_id"
	// anonCookieMaxAge keeps coaching history attached to a device.
	anonCookieMaxAge = 90 * 24 * time.Hour
)

type contextKey int

const userIDKey contextKey = iota

var anonIDPattern = regexp.MustCompile(`^anon_[a-f0-9]{32}$`)

// UserIDFromContext extracts the user ID from the request context.
func UserIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(userIDKey).(string); ok {
		return v
	}
	return ""
}

// WithUserID returns a context carrying the given user ID. Used by tests
// and by the middleware below.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

func generateAnonID() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate anonymous id: %w", err)
	}
	return "anon_" + hex.EncodeToString(buf), nil
}

func isValidAnonID(id string) bool {
	return anonIDPattern.MatchString(id)
}

// Middleware resolves (or mints) the anonymous device identity and puts it
// on the request context. A fresh identity is re-issued when the cookie is
// missing or malformed.
func Middleware(isDev bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID := ""
			if c, err := r.Cookie(AnonCookieName); err == nil && isValidAnonID(c.Value) {
				userID = c.Value
			}

			if userID == "" {
				id, err := generateAnonID()
				if err != nil {
					http.Error(w, `{"error": "failed to establish identity"}`, http.StatusInternalServerError)
					return
				}
				userID = id
				http.SetCookie(w, &http.Cookie{
					Name:     AnonCookieName,
					Value:    userID,
					Path:     "/",
					MaxAge:   int(anonCookieMaxAge.Seconds()),
					HttpOnly: true,
					Secure:   !isDev,
					SameSite: http.SameSiteLaxMode,
				})
			}

			next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), userID)))
		})
	}
}
