package middleware

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"itdesk/internal/errs"
	"itdesk/internal/models"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

// SessionCookie carries the provider access token for browser clients.
const SessionCookie = "sb-access-token"

// jwksRefetchInterval bounds how often an unknown kid may trigger a fetch.
const jwksRefetchInterval = time.Minute

// SessionAuth verifies access tokens issued by the external session
// provider: HS256 tokens signed with the project secret, or RS256 tokens
// whose keys are published at a JWKS endpoint.
type SessionAuth struct {
	secret     []byte
	jwksURL    string
	client     *http.Client
	log        *zap.Logger
	mu         sync.RWMutex
	publicKeys map[string]*rsa.PublicKey

	fetchMu   sync.Mutex
	lastFetch time.Time
	now       func() time.Time
}

type JWKS struct {
	Keys []JWK `json:"keys"`
}

type JWK struct {
	Kid string `json:"kid"`
	Kty string `json:"kty"`
	Use string `json:"use"`
	N   string `json:"n"`
	E   string `json:"e"`
}

func NewSessionAuth(secret, jwksURL string, log *zap.Logger) *SessionAuth {
	return &SessionAuth{
		secret:     []byte(secret),
		jwksURL:    jwksURL,
		client:     &http.Client{Timeout: 10 * time.Second},
		log:        log,
		publicKeys: make(map[string]*rsa.PublicKey),
		now:        time.Now,
	}
}

// Start refreshes the JWKS key set hourly until ctx is done. It is a no-op
// without a JWKS URL.
func (a *SessionAuth) Start(ctx context.Context) {
	if a.jwksURL == "" {
		return
	}

	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		if err := a.fetchKeys(ctx); err != nil {
			a.log.Warn("jwks refresh failed", zap.String("url", a.jwksURL), zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// claimRefetch reports whether an on-demand fetch may run now and, if so,
// records it.
func (a *SessionAuth) claimRefetch() bool {
	a.fetchMu.Lock()
	defer a.fetchMu.Unlock()
	now := a.now()
	if !a.lastFetch.IsZero() && now.Sub(a.lastFetch) < jwksRefetchInterval {
		return false
	}
	a.lastFetch = now
	return true
}

func (a *SessionAuth) fetchKeys(ctx context.Context) error {
	a.fetchMu.Lock()
	a.lastFetch = a.now()
	a.fetchMu.Unlock()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.jwksURL, nil)
	if err != nil {
		return err
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("jwks: unexpected status %d", resp.StatusCode)
	}

	var jwks JWKS
	if err := json.NewDecoder(resp.Body).Decode(&jwks); err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	for _, key := range jwks.Keys {
		if key.Kty != "RSA" {
			continue
		}

		nBytes, err := base64.RawURLEncoding.DecodeString(key.N)
		if err != nil {
			continue
		}

		eBytes, err := base64.RawURLEncoding.DecodeString(key.E)
		if err != nil {
			continue
		}

		var e int
		for _, b := range eBytes {
			e = e<<8 | int(b)
		}

		a.publicKeys[key.Kid] = &rsa.PublicKey{
			N: new(big.Int).SetBytes(nBytes),
			E: e,
		}
	}

	return nil
}

func (a *SessionAuth) getPublicKey(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	a.mu.RLock()
	key, exists := a.publicKeys[kid]
	a.mu.RUnlock()
	if exists {
		return key, nil
	}

	if a.jwksURL == "" || !a.claimRefetch() {
		return nil, fmt.Errorf("public key not found")
	}
	if err := a.fetchKeys(ctx); err != nil {
		return nil, err
	}

	a.mu.RLock()
	key, exists = a.publicKeys[kid]
	a.mu.RUnlock()
	if !exists {
		return nil, fmt.Errorf("public key not found")
	}
	return key, nil
}

func tokenFromRequest(r *http.Request) string {
	if authHeader := r.Header.Get("Authorization"); authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) == 2 && parts[0] == "Bearer" {
			return parts[1]
		}
		return ""
	}
	if c, err := r.Cookie(SessionCookie); err == nil {
		return c.Value
	}
	return ""
}

// Identify verifies the request's access token and extracts the caller.
func (a *SessionAuth) Identify(r *http.Request) (*models.Identity, error) {
	return a.Verify(r.Context(), tokenFromRequest(r))
}

// Verify checks a provider access token and extracts the caller.
func (a *SessionAuth) Verify(ctx context.Context, tokenString string) (*models.Identity, error) {
	if tokenString == "" {
		return nil, errs.ErrUnauthorized
	}

	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		switch token.Method.(type) {
		case *jwt.SigningMethodHMAC:
			if len(a.secret) == 0 {
				return nil, fmt.Errorf("hmac tokens not accepted")
			}
			return a.secret, nil
		case *jwt.SigningMethodRSA:
			kid, ok := token.Header["kid"].(string)
			if !ok {
				return nil, fmt.Errorf("kid header not found")
			}
			return a.getPublicKey(ctx, kid)
		default:
			return nil, fmt.Errorf("unexpected signing method")
		}
	}, jwt.WithValidMethods([]string{"HS256", "RS256"}), jwt.WithExpirationRequired())
	if err != nil || !token.Valid {
		return nil, errors.Join(errs.ErrUnauthorized, err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, errs.ErrUnauthorized
	}

	userID, _ := claims["sub"].(string)
	if userID == "" {
		return nil, errs.ErrUnauthorized
	}

	email, _ := claims["email"].(string)
	id := &models.Identity{
		UserID: userID,
		Email:  email,
		Role:   roleFromClaims(claims),
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		id.ExpiresAt = exp.Time
	}
	return id, nil
}

// roleFromClaims reads the application role from user_metadata, then
// app_metadata. The top-level "role" claim is the provider's own and is
// ignored.
func roleFromClaims(claims jwt.MapClaims) models.Role {
	for _, k := range []string{"user_metadata", "app_metadata"} {
		meta, ok := claims[k].(map[string]interface{})
		if !ok {
			continue
		}
		if role, ok := meta["role"].(string); ok && role != "" {
			return models.Role(strings.ToUpper(role))
		}
	}
	return ""
}

func (a *SessionAuth) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, err := a.Identify(r)
			if err != nil {
				http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
		})
	}
}
