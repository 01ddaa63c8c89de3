package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// AuditAction represents the type of action being audited
type AuditAction string

const (
	AuditActionExecuted              AuditAction = "ACTION_EXECUTED"
	AuditActionFailedPermissionCheck AuditAction = "FAILED_PERMISSION_CHECK"
	AuditActionRoleGranted           AuditAction = "ROLE_GRANTED"
	AuditActionRoleRevoked           AuditAction = "ROLE_REVOKED"
	AuditActionCorrection            AuditAction = "CORRECTION"
)

// AuditOutcome is the terminal outcome recorded with an audit entry
type AuditOutcome string

const (
	AuditOutcomeAllowed AuditOutcome = "allowed"
	AuditOutcomeDenied  AuditOutcome = "denied"
)

// Denial codes stored in the metadata of FAILED_PERMISSION_CHECK records
const (
	DenialRateLimit             = "RATE_LIMIT"
	DenialInsufficientAuthority = "INSUFFICIENT_AUTHORITY"
	DenialSubscriptionRequired  = "SUBSCRIPTION_REQUIRED"
	DenialInvalidContext        = "INVALID_CONTEXT"
	DenialInternal              = "INTERNAL"
)

// AuditRecord is an append-only trail entry. Records are never updated or
// deleted; a correction is a new record referencing the original.
type AuditRecord struct {
	ID         uuid.UUID       `json:"id" db:"id"`
	TenantID   string          `json:"tenant_id" db:"tenant_id"`
	ActorID    string          `json:"actor_id" db:"actor_id"`
	TargetID   *string         `json:"target_id,omitempty" db:"target_id"`
	Action     AuditAction     `json:"action" db:"action"`
	Subject    string          `json:"subject,omitempty" db:"subject"` // the gated action name
	Outcome    AuditOutcome    `json:"outcome" db:"outcome"`
	Reason     string          `json:"reason,omitempty" db:"reason"`
	Metadata   json.RawMessage `json:"metadata,omitempty" db:"metadata"` // JSONB
	RequestID  string          `json:"request_id,omitempty" db:"request_id"`
	IPAddress  string          `json:"ip_address,omitempty" db:"ip_address"`
	UserAgent  string          `json:"user_agent,omitempty" db:"user_agent"`
	CorrectsID *uuid.UUID      `json:"corrects_id,omitempty" db:"corrects_id"`
	Timestamp  time.Time       `json:"timestamp" db:"timestamp"`
}

// TableName returns the table name for the AuditRecord model
func (AuditRecord) TableName() string {
	return "audit_records"
}

// NewAuditRecord creates a new AuditRecord instance
func NewAuditRecord(tenantID, actorID string, action AuditAction, outcome AuditOutcome) *AuditRecord {
	return &AuditRecord{
		ID:        uuid.New(),
		TenantID:  tenantID,
		ActorID:   actorID,
		Action:    action,
		Outcome:   outcome,
		Timestamp: time.Now().UTC(),
	}
}

// WithTarget sets the target actor
func (a *AuditRecord) WithTarget(targetID string) *AuditRecord {
	if targetID != "" {
		a.TargetID = &targetID
	}
	return a
}

// WithSubject sets the name of the gated action
func (a *AuditRecord) WithSubject(subject string) *AuditRecord {
	a.Subject = subject
	return a
}

// WithReason sets the human-readable reason
func (a *AuditRecord) WithReason(reason string) *AuditRecord {
	a.Reason = reason
	return a
}

// WithMetadata sets the metadata
func (a *AuditRecord) WithMetadata(metadata interface{}) *AuditRecord {
	if metadata == nil {
		return a
	}
	if data, err := json.Marshal(metadata); err == nil {
		a.Metadata = data
	}
	return a
}

// WithRequest sets request metadata
func (a *AuditRecord) WithRequest(requestID, ipAddress, userAgent string) *AuditRecord {
	a.RequestID = requestID
	a.IPAddress = ipAddress
	a.UserAgent = userAgent
	return a
}

// WithCorrection marks the record as a correction of an earlier one
func (a *AuditRecord) WithCorrection(originalID uuid.UUID) *AuditRecord {
	a.Action = AuditActionCorrection
	a.CorrectsID = &originalID
	return a
}

// MetadataMap decodes the metadata into a map. Empty or invalid metadata yields an empty map.
func (a *AuditRecord) MetadataMap() map[string]interface{} {
	out := make(map[string]interface{})
	if len(a.Metadata) == 0 {
		return out
	}
	_ = json.Unmarshal(a.Metadata, &out)
	return out
}

// AuditQuery filters audit reads
type AuditQuery struct {
	TenantID string
	ActorID  string // matches the actor or the target of a record
	Action   AuditAction
	Limit    int
	Offset   int
}
