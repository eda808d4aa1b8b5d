package web

import (
	"net/http"
	"strings"
	"time"
)

const (
	// UserCookie carries the opaque visitor identifier.
	UserCookie = "sg_uid"

	// assignmentCookiePrefix prefixes one cookie per experiment; the
	// experiment ID completes the name, value is the variant ID.
	assignmentCookiePrefix = "sg_exp_"
)

// CookieStore is a request-scoped AssignmentStore over HTTP cookies: Get
// reads the incoming request's cookies, Set appends Set-Cookie headers to
// the response. One instance is built per request by the Bridge.
type CookieStore struct {
	r      *http.Request
	w      http.ResponseWriter
	secure bool
}

// NewCookieStore creates a CookieStore bound to the given request pair.
// secure marks written cookies Secure for HTTPS-only transport.
func NewCookieStore(w http.ResponseWriter, r *http.Request, secure bool) *CookieStore {
	return &CookieStore{r: r, w: w, secure: secure}
}

// Get returns the variant pinned by the experiment's cookie, or "".
// The userID parameter is unused: a cookie jar is already per-visitor.
func (c *CookieStore) Get(_, experimentID string) (string, error) {
	cookie, err := c.r.Cookie(assignmentCookieName(experimentID))
	if err != nil {
		return "", nil
	}
	return cookie.Value, nil
}

// Set pins the assignment with a Set-Cookie header on the response.
func (c *CookieStore) Set(_, experimentID, variantID string, ttl time.Duration) error {
	http.SetCookie(c.w, &http.Cookie{
		Name:     assignmentCookieName(experimentID),
		Value:    variantID,
		Path:     "/",
		MaxAge:   int(ttl.Seconds()),
		HttpOnly: true,
		Secure:   c.secure,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

// assignmentCookieName derives a deterministic cookie name from the
// experiment ID, replacing characters that are invalid in cookie names.
func assignmentCookieName(experimentID string) string {
	sanitized := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, experimentID)
	return assignmentCookiePrefix + sanitized
}
