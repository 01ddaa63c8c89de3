package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// AuthorityLevel is a rank on a fixed total order. Higher values denote strictly
// greater power; equal levels never act on each other.
type AuthorityLevel int

const (
	AuthorityNone              AuthorityLevel = 0
	AuthorityCustom            AuthorityLevel = 100
	AuthorityServerModerator   AuthorityLevel = 500
	AuthorityServerAdmin       AuthorityLevel = 600
	AuthorityServerOwner       AuthorityLevel = 700
	AuthorityPlatformModerator AuthorityLevel = 800
	AuthorityPlatformAdmin     AuthorityLevel = 900
	AuthorityPlatformOwner     AuthorityLevel = 1000
)

// String returns the symbolic name of well-known levels and the number otherwise
func (l AuthorityLevel) String() string {
	switch l {
	case AuthorityNone:
		return "NONE"
	case AuthorityCustom:
		return "CUSTOM"
	case AuthorityServerModerator:
		return "SERVER_MODERATOR"
	case AuthorityServerAdmin:
		return "SERVER_ADMIN"
	case AuthorityServerOwner:
		return "SERVER_OWNER"
	case AuthorityPlatformModerator:
		return "PLATFORM_MODERATOR"
	case AuthorityPlatformAdmin:
		return "PLATFORM_ADMIN"
	case AuthorityPlatformOwner:
		return "PLATFORM_OWNER"
	}
	return fmt.Sprintf("%d", int(l))
}

// GlobalRole is a platform-wide role held outside any tenant
type GlobalRole string

const (
	GlobalRoleOwner     GlobalRole = "PLATFORM_OWNER"
	GlobalRoleAdmin     GlobalRole = "PLATFORM_ADMIN"
	GlobalRoleModerator GlobalRole = "PLATFORM_MODERATOR"
)

// Level maps the global role to its authority level. Unknown roles map to NONE.
func (r GlobalRole) Level() AuthorityLevel {
	switch r {
	case GlobalRoleOwner:
		return AuthorityPlatformOwner
	case GlobalRoleAdmin:
		return AuthorityPlatformAdmin
	case GlobalRoleModerator:
		return AuthorityPlatformModerator
	}
	return AuthorityNone
}

// Capability is a named permission bit a role may grant, orthogonal to level
type Capability string

const (
	CapabilityManage        Capability = "MANAGE"
	CapabilityAssignRoles   Capability = "ASSIGN_ROLES"
	CapabilityBypassChecks  Capability = "BYPASS_CHECKS"
	CapabilityViewLogs      Capability = "VIEW_LOGS"
	CapabilityManageBilling Capability = "MANAGE_BILLING"
)

var knownCapabilities = map[Capability]struct{}{
	CapabilityManage:        {},
	CapabilityAssignRoles:   {},
	CapabilityBypassChecks:  {},
	CapabilityViewLogs:      {},
	CapabilityManageBilling: {},
}

// IsValid reports whether c is one of the closed set of capability tags
func (c Capability) IsValid() bool {
	_, ok := knownCapabilities[c]
	return ok
}

// ParseCapability converts a tag into a Capability, rejecting unknown values
func ParseCapability(s string) (Capability, error) {
	c := Capability(strings.ToUpper(strings.TrimSpace(s)))
	if !c.IsValid() {
		return "", fmt.Errorf("unknown capability %q", s)
	}
	return c, nil
}

// NativePermission is a permission of the platform's own permission system
type NativePermission string

const (
	NativeAdministrator NativePermission = "ADMINISTRATOR"
	NativeManageTenant  NativePermission = "MANAGE_TENANT"
	NativeRemoveMember  NativePermission = "REMOVE_MEMBER"
	NativeBanMember     NativePermission = "BAN_MEMBER"
)

// ModerationPermissions grant the fallback moderator level
var ModerationPermissions = []NativePermission{
	NativeManageTenant,
	NativeRemoveMember,
	NativeBanMember,
}

// MembershipContext is the tenant-scoped membership data a caller may supply
// with a request. A nil NativePermissions slice means "not supplied" and the
// resolver falls back to the permission lookup.
type MembershipContext struct {
	NativePermissions []NativePermission `json:"native_permissions,omitempty"`
}

// HasSnapshot reports whether the caller supplied a permission snapshot
func (m *MembershipContext) HasSnapshot() bool {
	return m != nil && m.NativePermissions != nil
}

// Has reports whether the snapshot contains p
func (m *MembershipContext) Has(p NativePermission) bool {
	if m == nil {
		return false
	}
	for _, held := range m.NativePermissions {
		if held == p {
			return true
		}
	}
	return false
}

// RoleClass is the authority class of a tenant role definition
type RoleClass string

const (
	RoleClassAdmin     RoleClass = "ADMIN"
	RoleClassModerator RoleClass = "MODERATOR"
	RoleClassCustom    RoleClass = "CUSTOM"
)

// Level returns the authority level carried by the class
func (c RoleClass) Level() AuthorityLevel {
	switch c {
	case RoleClassAdmin:
		return AuthorityServerAdmin
	case RoleClassModerator:
		return AuthorityServerModerator
	}
	return AuthorityCustom
}

// RoleDefinition is a tenant-defined role
type RoleDefinition struct {
	ID           uuid.UUID    `json:"id" db:"id"`
	TenantID     string       `json:"tenant_id" db:"tenant_id"`
	Name         string       `json:"name" db:"name"`
	Class        RoleClass    `json:"class" db:"class"`
	Capabilities []Capability `json:"capabilities" db:"capabilities"`
}

// TableName returns the table name for the RoleDefinition model
func (RoleDefinition) TableName() string {
	return "tenant_roles"
}

// Grants reports whether the role carries capability c
func (r *RoleDefinition) Grants(c Capability) bool {
	for _, held := range r.Capabilities {
		if held == c {
			return true
		}
	}
	return false
}

// RoleAssignment binds an actor to a role definition inside one tenant
type RoleAssignment struct {
	ID         uuid.UUID      `json:"id" db:"id"`
	TenantID   string         `json:"tenant_id" db:"tenant_id"`
	ActorID    string         `json:"actor_id" db:"actor_id"`
	Role       RoleDefinition `json:"role"`
	AssignedBy string         `json:"assigned_by" db:"assigned_by"`
	AssignedAt time.Time      `json:"assigned_at" db:"assigned_at"`
}

// TableName returns the table name for the RoleAssignment model
func (RoleAssignment) TableName() string {
	return "role_assignments"
}

// NewRoleAssignment creates a new RoleAssignment instance
func NewRoleAssignment(tenantID, actorID string, role RoleDefinition, assignedBy string) *RoleAssignment {
	return &RoleAssignment{
		ID:         uuid.New(),
		TenantID:   tenantID,
		ActorID:    actorID,
		Role:       role,
		AssignedBy: assignedBy,
		AssignedAt: time.Now().UTC(),
	}
}
