// Package authz holds the role decision table for every resource class.
package authz

import "itdesk/internal/models"

type Resource string

const (
	ResourceAsset         Resource = "asset"
	ResourceBackup        Resource = "backup"
	ResourceLicense       Resource = "license"
	ResourceInfra         Resource = "infra"
	ResourceDocument      Resource = "document"
	ResourceCredential    Resource = "credential"
	ResourceSecurityAlert Resource = "security_alert"
)

type Action string

const (
	ActionRead   Action = "read"
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
	ActionReveal Action = "reveal"
)

// Allowed reports whether an authenticated caller with role may perform
// action on resource. An empty or unrecognised role is an ordinary
// authenticated user. Unknown resource/action pairs are denied.
func Allowed(role models.Role, resource Resource, action Action) bool {
	staff := role == models.RoleAdmin || role == models.RoleTI

	switch resource {
	case ResourceAsset, ResourceBackup, ResourceLicense, ResourceInfra:
		switch action {
		case ActionRead:
			return true
		case ActionCreate, ActionUpdate:
			return role != models.RoleViewer
		case ActionDelete:
			return role == models.RoleAdmin
		}

	case ResourceDocument, ResourceCredential:
		switch action {
		case ActionRead:
			return true
		case ActionCreate, ActionUpdate, ActionDelete:
			return staff
		case ActionReveal:
			return resource == ResourceCredential && staff
		}

	case ResourceSecurityAlert:
		return action == ActionRead && staff
	}

	return false
}
