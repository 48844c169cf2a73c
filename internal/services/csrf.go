package services

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"net/http"
)

const CSRFCookieName = "csrf"

// CSRFGuard implements the double-submit cookie pattern: the token lives in
// an HttpOnly cookie and must be echoed back in a request header.
type CSRFGuard struct {
	secure bool
}

func NewCSRFGuard(secureCookie bool) *CSRFGuard {
	return &CSRFGuard{secure: secureCookie}
}

// Issue mints a 256-bit token, stores it in the cookie and returns it.
func (g *CSRFGuard) Issue(w http.ResponseWriter) (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate csrf token: %w", err)
	}
	token := hex.EncodeToString(b)

	http.SetCookie(w, &http.Cookie{
		Name:     CSRFCookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   g.secure,
		SameSite: http.SameSiteStrictMode,
	})
	return token, nil
}

// Validate reports whether presented matches the cookie on r. A request
// without the cookie never validates.
func (g *CSRFGuard) Validate(r *http.Request, presented string) bool {
	if presented == "" {
		return false
	}
	cookie, err := r.Cookie(CSRFCookieName)
	if err != nil || cookie.Value == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(cookie.Value), []byte(presented)) == 1
}
