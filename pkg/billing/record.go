// Package billing contains the core reconciliation logic that maps provider
// webhook events onto per-user subscription records.
package billing

import "time"

// Tier is the entitlement level granted to a user.
type Tier string

const (
	TierFree    Tier = "free"
	TierPro     Tier = "pro"
	TierPremium Tier = "premium"
)

// Record is the subscription state stored per application user.
// There is exactly one record per user id; it is created at the first
// successful checkout completion and never deleted afterwards.
type Record struct {
	// UserID is the application user identifier (document key)
	UserID string

	// Tier is the current entitlement level
	Tier Tier

	// IsActive reports whether entitlement should be granted right now.
	// Derived from Status via IsEntitledStatus, never set independently.
	IsActive bool

	// PeriodStart and PeriodEnd bound the current billing cycle
	PeriodStart time.Time
	PeriodEnd   time.Time

	// SubscriptionID is the provider subscription handle, set on first
	// activation and stable thereafter
	SubscriptionID string

	// CustomerID is the provider customer handle. Immutable once set; it is
	// the join key for events that carry no user id.
	CustomerID string

	// PriceID is the provider price/product identifier driving tier resolution
	PriceID string

	// Status is the last-seen raw subscription status, retained for diagnostics
	Status string

	// UpdatedAt is set by the store on every write
	UpdatedAt time.Time
}

// RecordPatch is a partial record used for merge writes. Nil fields are left
// untouched in the stored record.
type RecordPatch struct {
	Tier           *Tier
	IsActive       *bool
	PeriodStart    *time.Time
	PeriodEnd      *time.Time
	SubscriptionID *string
	CustomerID     *string
	PriceID        *string
	Status         *string
}

// Apply merges the patch into rec in place.
func (p *RecordPatch) Apply(rec *Record) {
	if p.Tier != nil {
		rec.Tier = *p.Tier
	}
	if p.IsActive != nil {
		rec.IsActive = *p.IsActive
	}
	if p.PeriodStart != nil {
		rec.PeriodStart = *p.PeriodStart
	}
	if p.PeriodEnd != nil {
		rec.PeriodEnd = *p.PeriodEnd
	}
	if p.SubscriptionID != nil {
		rec.SubscriptionID = *p.SubscriptionID
	}
	if p.CustomerID != nil {
		rec.CustomerID = *p.CustomerID
	}
	if p.PriceID != nil {
		rec.PriceID = *p.PriceID
	}
	if p.Status != nil {
		rec.Status = *p.Status
	}
}
