package models

import (
	"encoding/json"
	"time"
)

type Role string

const (
	RoleAdmin  Role = "ADMIN"
	RoleTI     Role = "TI"
	RoleViewer Role = "VIEWER"
)

// Identity is the authenticated caller as reported by the session provider.
type Identity struct {
	UserID    string    `json:"user_id"`
	Email     string    `json:"email,omitempty"`
	Role      Role      `json:"role"`
	ExpiresAt time.Time `json:"expires_at"`
}

type RouteClass string

const (
	RouteClassAuth RouteClass = "auth"
	RouteClassAPI  RouteClass = "api"
)

type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

const (
	AlertRateLimitExceeded = "RATE_LIMIT_EXCEEDED"
	AlertCSRFFailed        = "CSRF_VALIDATION_FAILED"
)

type SecurityAlert struct {
	ID        int64          `json:"id"`
	Type      string         `json:"type"`
	Severity  Severity       `json:"severity"`
	Details   map[string]any `json:"details"`
	CreatedAt time.Time      `json:"created_at"`
}

type Diagram struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Data      string    `json:"data"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type SaveDiagramRequest struct {
	ID   *string `json:"id,omitempty"`
	Name string  `json:"name"`
	Data string  `json:"data"`
}

const (
	DocTypeCredential    = "Credencial"
	ActionViewCredential = "VIEW_CREDENTIAL"
)

// Credential is the projection of a documentation record needed to reveal
// its secret. CredPassEnc is nonce||ciphertext.
type Credential struct {
	ID          string
	Title       string
	Type        string
	CredUser    string
	CredPassEnc []byte
}

type RevealedCredential struct {
	CredUser string `json:"credUser"`
	CredPass string `json:"credPass"`
}

type DocAccessLog struct {
	ID         string    `json:"id"`
	DocumentID string    `json:"documentId"`
	UserID     string    `json:"userId"`
	Action     string    `json:"action"`
	CreatedAt  time.Time `json:"createdAt"`
}

type SessionRequest struct {
	AccessToken string `json:"accessToken"`
}

type CSRFTokenResponse struct {
	CSRFToken string `json:"csrfToken"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

// RawDetails marshals alert details for storage; nil maps become an empty object.
func RawDetails(d map[string]any) []byte {
	if d == nil {
		return []byte("{}")
	}
	b, err := json.Marshal(d)
	if err != nil {
		return []byte("{}")
	}
	return b
}
