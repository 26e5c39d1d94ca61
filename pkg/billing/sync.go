package billing

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// SyncResult reports the record state after a manual sync.
type SyncResult struct {
	Success  bool   `json:"success"`
	Tier     Tier   `json:"tier"`
	IsActive bool   `json:"isActive"`
	Status   string `json:"status"`
}

// SyncUser re-pulls the user's subscription from the provider and overwrites
// the record, running the same tier and status derivation as the webhook
// handlers. It is the caller-triggered escape hatch for drift correction.
//
// A user with no subscription on record gets Success=false with the current
// (or default) state, not an error.
func (r *Reconciler) SyncUser(ctx context.Context, userID string) (*SyncResult, error) {
	startTime := time.Now()

	rec, err := r.store.GetRecord(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrRecordNotFound) {
			r.metrics.RecordUserSync("skipped")
			return &SyncResult{Success: false, Tier: TierFree, IsActive: false}, nil
		}
		r.metrics.RecordUserSync("error")
		return nil, fmt.Errorf("failed to read record for user %s: %w", userID, err)
	}

	if rec.SubscriptionID == "" {
		r.metrics.RecordUserSync("skipped")
		return &SyncResult{
			Success:  false,
			Tier:     rec.Tier,
			IsActive: rec.IsActive,
			Status:   rec.Status,
		}, nil
	}

	sub, err := r.provider.Subscription(ctx, rec.SubscriptionID)
	if err != nil {
		r.metrics.RecordUserSync("error")
		r.metrics.RecordUserSyncDuration(time.Since(startTime))
		return nil, fmt.Errorf("failed to fetch subscription %s: %w", rec.SubscriptionID, err)
	}

	tier := r.tiers.Resolve(sub.PriceID)
	active := IsEntitledStatus(sub.Status)
	if rec.Tier != tier {
		r.metrics.RecordTierChange(string(rec.Tier), string(tier))
	}

	updated := &Record{
		UserID:         userID,
		Tier:           tier,
		IsActive:       active,
		PeriodStart:    sub.PeriodStart,
		PeriodEnd:      sub.PeriodEnd,
		SubscriptionID: sub.ID,
		CustomerID:     rec.CustomerID,
		PriceID:        sub.PriceID,
		Status:         sub.Status,
	}
	if err := r.store.UpdateRecord(ctx, userID, updated); err != nil {
		r.metrics.RecordUserSync("error")
		r.metrics.RecordUserSyncDuration(time.Since(startTime))
		return nil, fmt.Errorf("failed to update record for user %s: %w", userID, err)
	}

	r.metrics.RecordUserSync("success")
	r.metrics.RecordUserSyncDuration(time.Since(startTime))
	r.logger.Info("subscription synced",
		Field{Key: "user_id", Value: userID},
		Field{Key: "tier", Value: tier},
		Field{Key: "status", Value: sub.Status})

	return &SyncResult{
		Success:  true,
		Tier:     tier,
		IsActive: active,
		Status:   sub.Status,
	}, nil
}

// PortalURL creates a provider-hosted management session for the user and
// returns its URL. Returns ErrCustomerNotFound when the user has no provider
// customer on record.
func (r *Reconciler) PortalURL(ctx context.Context, userID string) (string, error) {
	rec, err := r.store.GetRecord(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrRecordNotFound) {
			return "", fmt.Errorf("%w: %s", ErrCustomerNotFound, userID)
		}
		return "", fmt.Errorf("failed to read record for user %s: %w", userID, err)
	}
	if rec.CustomerID == "" {
		return "", fmt.Errorf("%w: %s", ErrCustomerNotFound, userID)
	}

	url, err := r.provider.PortalURL(ctx, rec.CustomerID, r.portalReturnURL)
	if err != nil {
		return "", fmt.Errorf("failed to create portal session: %w", err)
	}
	return url, nil
}
