// Package client talks to the itdesk API the way the browser frontend does:
// cookies are kept in a jar and mutating calls carry the CSRF token, fetched
// lazily on first use.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"itdesk/internal/errs"
	"itdesk/internal/models"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"
)

const csrfHeader = "X-CSRF-Token"

// APIError is a non-2xx response. It unwraps to the matching errs sentinel.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api: %d %s", e.Status, e.Message)
}

func (e *APIError) Unwrap() error {
	switch e.Status {
	case http.StatusBadRequest:
		return errs.ErrInvalidInput
	case http.StatusUnauthorized:
		return errs.ErrUnauthorized
	case http.StatusForbidden:
		return errs.ErrForbidden
	case http.StatusNotFound:
		return errs.ErrNotFound
	case http.StatusTooManyRequests:
		return errs.ErrRateLimited
	}
	return nil
}

type Client struct {
	baseURL     *url.URL
	http        *http.Client
	accessToken string

	mu   sync.Mutex
	csrf string
}

type Option func(*Client)

// WithAccessToken sends the token as a bearer credential on every call.
func WithAccessToken(token string) Option {
	return func(c *Client) { c.accessToken = token }
}

// WithHTTPClient replaces the transport. A cookie jar is added when missing.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}

	c := &Client{
		baseURL: u,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.http.Jar == nil {
		jar, err := cookiejar.New(nil)
		if err != nil {
			return nil, err
		}
		c.http.Jar = jar
	}
	return c, nil
}

func isMutating(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}

// CSRFToken returns the cached token, fetching one when none is cached.
func (c *Client) CSRFToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	tok := c.csrf
	c.mu.Unlock()
	if tok != "" {
		return tok, nil
	}

	var resp models.CSRFTokenResponse
	if err := c.do(ctx, http.MethodGet, "/api/csrf", nil, &resp); err != nil {
		return "", fmt.Errorf("failed to fetch csrf token: %w", err)
	}
	if resp.CSRFToken == "" {
		return "", errors.New("failed to fetch csrf token: empty token")
	}

	c.mu.Lock()
	c.csrf = resp.CSRFToken
	c.mu.Unlock()
	return resp.CSRFToken, nil
}

func (c *Client) forgetCSRF(tok string) {
	c.mu.Lock()
	if c.csrf == tok {
		c.csrf = ""
	}
	c.mu.Unlock()
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL.String()+path, rd)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.accessToken)
	}

	var tok string
	if isMutating(method) {
		if tok, err = c.CSRFToken(ctx); err != nil {
			return err
		}
		req.Header.Set(csrfHeader, tok)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode}
		var eb models.ErrorResponse
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if json.Unmarshal(raw, &eb) == nil && eb.Error != "" {
			apiErr.Message = eb.Error
		} else {
			apiErr.Message = strings.TrimSpace(string(raw))
		}
		// a rejected token is dropped so the next mutating call fetches a new one
		if tok != "" && resp.StatusCode == http.StatusForbidden && strings.Contains(apiErr.Message, "csrf") {
			c.forgetCSRF(tok)
		}
		return apiErr
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// Login exchanges a provider access token for a session cookie.
func (c *Client) Login(ctx context.Context, accessToken string) (*models.Identity, error) {
	var id models.Identity
	if err := c.do(ctx, http.MethodPost, "/api/auth/session", models.SessionRequest{AccessToken: accessToken}, &id); err != nil {
		return nil, err
	}
	return &id, nil
}

func (c *Client) Logout(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/api/auth/logout", nil, nil)
}

// List returns every diagram, most recently updated first.
func (c *Client) List(ctx context.Context) ([]*models.Diagram, error) {
	var out []*models.Diagram
	if err := c.do(ctx, http.MethodGet, "/api/infra", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Save(ctx context.Context, req *models.SaveDiagramRequest) (*models.Diagram, error) {
	var out models.Diagram
	if err := c.do(ctx, http.MethodPost, "/api/infra", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Delete(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/infra/"+url.PathEscape(id), nil, nil)
}

func (c *Client) Reveal(ctx context.Context, docID string) (*models.RevealedCredential, error) {
	var out models.RevealedCredential
	if err := c.do(ctx, http.MethodPost, "/api/docs/"+url.PathEscape(docID)+"/reveal", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) AccessLog(ctx context.Context, docID string) ([]*models.DocAccessLog, error) {
	var out []*models.DocAccessLog
	if err := c.do(ctx, http.MethodGet, "/api/docs/"+url.PathEscape(docID)+"/access", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) SecurityAlerts(ctx context.Context) ([]*models.SecurityAlert, error) {
	var out []*models.SecurityAlert
	if err := c.do(ctx, http.MethodGet, "/api/security/alerts", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}
