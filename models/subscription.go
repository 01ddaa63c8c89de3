package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Tier is a subscription tier tag
type Tier string

const (
	TierFree       Tier = "FREE"
	TierBasic      Tier = "BASIC"
	TierPro        Tier = "PRO"
	TierElite      Tier = "ELITE"
	TierEnterprise Tier = "ENTERPRISE"
)

// TierLadder orders tiers from least to most capable. The ladder is deployment
// configuration: FREE < PRO < ELITE or FREE < BASIC < PRO < ENTERPRISE.
type TierLadder []Tier

// DefaultTierLadder is used when no ladder is configured
var DefaultTierLadder = TierLadder{TierFree, TierPro, TierElite}

// ParseTierLadder parses a comma separated ladder such as "FREE,BASIC,PRO,ENTERPRISE"
func ParseTierLadder(s string) (TierLadder, error) {
	parts := strings.Split(s, ",")
	ladder := make(TierLadder, 0, len(parts))
	seen := make(map[Tier]struct{}, len(parts))
	for _, p := range parts {
		t := Tier(strings.ToUpper(strings.TrimSpace(p)))
		if t == "" {
			continue
		}
		if _, dup := seen[t]; dup {
			return nil, fmt.Errorf("duplicate tier %q in ladder", t)
		}
		seen[t] = struct{}{}
		ladder = append(ladder, t)
	}
	if len(ladder) == 0 {
		return nil, fmt.Errorf("tier ladder is empty")
	}
	return ladder, nil
}

// Rank returns the position of t in the ladder, or -1 when t is not on it
func (l TierLadder) Rank(t Tier) int {
	for i, candidate := range l {
		if candidate == t {
			return i
		}
	}
	return -1
}

// Covers reports whether current satisfies required. Unknown tiers never satisfy
// and are never satisfied.
func (l TierLadder) Covers(current, required Tier) bool {
	cur, req := l.Rank(current), l.Rank(required)
	if cur < 0 || req < 0 {
		return false
	}
	return cur >= req
}

// Base returns the lowest tier of the ladder
func (l TierLadder) Base() Tier {
	if len(l) == 0 {
		return TierFree
	}
	return l[0]
}

// Contains reports whether t is on the ladder
func (l TierLadder) Contains(t Tier) bool {
	return l.Rank(t) >= 0
}

// SubscriptionScope tells whether a record belongs to a tenant or an actor
type SubscriptionScope string

const (
	SubscriptionScopeTenant SubscriptionScope = "tenant"
	SubscriptionScopeActor  SubscriptionScope = "actor"
)

// SubscriptionRecord is written by billing events and read-only to the gate
type SubscriptionRecord struct {
	ID        uuid.UUID         `json:"id" db:"id"`
	Scope     SubscriptionScope `json:"scope" db:"scope"`
	OwnerID   string            `json:"owner_id" db:"owner_id"`
	Tier      Tier              `json:"tier" db:"tier"`
	Active    bool              `json:"active" db:"active"`
	ExpiresAt *time.Time        `json:"expires_at,omitempty" db:"expires_at"`
	UpdatedAt time.Time         `json:"updated_at" db:"updated_at"`
}

// TableName returns the table name for the SubscriptionRecord model
func (SubscriptionRecord) TableName() string {
	return "subscriptions"
}
