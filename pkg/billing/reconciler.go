package billing

import (
	"context"
	"errors"
	"fmt"
)

// Config holds the collaborators for a Reconciler. Store, Provider and Tiers
// are required; Logger and Metrics default to no-ops.
type Config struct {
	// Store persists subscription records
	Store Store

	// Provider is the outbound client to the payment provider
	Provider ProviderClient

	// Tiers resolves price/product ids to tiers
	Tiers *TierResolver

	// PortalReturnURL is where the provider-hosted portal sends users back
	PortalReturnURL string

	// Logger is an optional structured logger
	Logger Logger

	// Metrics is an optional metrics collector
	Metrics Metrics
}

// Reconciler translates provider events into store mutations. Handlers
// re-derive full record state from the event's own facts or a live re-fetch,
// so replaying the same event converges to the same record and deliveries
// are tolerated in either order.
type Reconciler struct {
	store           Store
	provider        ProviderClient
	tiers           *TierResolver
	portalReturnURL string
	logger          Logger
	metrics         Metrics
}

// NewReconciler creates a Reconciler from the given configuration.
func NewReconciler(config Config) (*Reconciler, error) {
	if config.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if config.Provider == nil {
		return nil, fmt.Errorf("provider client is required")
	}
	if config.Tiers == nil {
		return nil, fmt.Errorf("tier resolver is required")
	}

	logger := config.Logger
	if logger == nil {
		logger = &NoopLogger{}
	}
	metrics := config.Metrics
	if metrics == nil {
		metrics = &NoopMetrics{}
	}

	return &Reconciler{
		store:           config.Store,
		provider:        config.Provider,
		tiers:           config.Tiers,
		portalReturnURL: config.PortalReturnURL,
		logger:          logger,
		metrics:         metrics,
	}, nil
}

// Apply dispatches a decoded event to its handler.
//
// Failure semantics: permanent per-event conditions (unknown user, missing
// reference, lookup miss) degrade to a logged no-op returning nil, so the
// webhook acknowledges and the provider does not retry an event whose failure
// is not transient. Only genuine transient faults (store unreachable,
// provider API error) propagate, signaling the provider to redeliver later.
func (r *Reconciler) Apply(ctx context.Context, ev *Event) error {
	switch ev.Kind {
	case EventCheckoutCompleted:
		return r.applyCheckoutCompleted(ctx, ev.Checkout)
	case EventSubscriptionUpdated:
		return r.applySubscriptionState(ctx, ev.Subscription)
	case EventSubscriptionDeleted:
		return r.applySubscriptionDeleted(ctx, ev.Subscription)
	case EventInvoicePaid:
		return r.applyInvoicePaid(ctx, ev.Invoice)
	case EventInvoicePaymentFailed:
		return r.applyInvoicePaymentFailed(ctx, ev.Invoice)
	default:
		// Unknown event types are acknowledged and ignored so new provider
		// event types never fail dispatch.
		r.logger.Debug("ignoring unhandled event type", Field{Key: "event_type", Value: ev.Type})
		return nil
	}
}

// applyCheckoutCompleted activates a subscription record for the user
// referenced on the checkout session. The record is created here; this is the
// only point where the customer id is attached to a user.
func (r *Reconciler) applyCheckoutCompleted(ctx context.Context, facts *CheckoutFacts) error {
	if facts.UserID == "" {
		// No user to attribute the session to. Retrying cannot fix this.
		r.logger.Warn("no user reference on checkout session, dropping event",
			Field{Key: "subscription_id", Value: facts.SubscriptionID})
		return nil
	}
	if facts.SubscriptionID == "" {
		// One-time payment checkout, nothing to reconcile
		r.logger.Debug("checkout session without subscription, ignoring",
			Field{Key: "user_id", Value: facts.UserID})
		return nil
	}

	sub, err := r.provider.Subscription(ctx, facts.SubscriptionID)
	if err != nil {
		return fmt.Errorf("failed to fetch subscription %s: %w", facts.SubscriptionID, err)
	}

	tier := r.tiers.Resolve(sub.PriceID)
	active := IsEntitledStatus(sub.Status)

	if err := r.recordTierChange(ctx, facts.UserID, tier); err != nil {
		return err
	}

	patch := &RecordPatch{
		Tier:           &tier,
		IsActive:       &active,
		PeriodStart:    &sub.PeriodStart,
		PeriodEnd:      &sub.PeriodEnd,
		SubscriptionID: &sub.ID,
		CustomerID:     &sub.CustomerID,
		PriceID:        &sub.PriceID,
		Status:         &sub.Status,
	}
	if err := r.store.MergeRecord(ctx, facts.UserID, patch); err != nil {
		return fmt.Errorf("failed to write record for user %s: %w", facts.UserID, err)
	}

	r.logger.Info("subscription activated",
		Field{Key: "user_id", Value: facts.UserID},
		Field{Key: "tier", Value: tier},
		Field{Key: "subscription_id", Value: sub.ID})
	return nil
}

// applySubscriptionState re-derives the full record from a subscription
// snapshot and overwrites the existing record. The record must already exist;
// events for customers with no matching record are dropped.
func (r *Reconciler) applySubscriptionState(ctx context.Context, sub *SubscriptionState) error {
	userID, ok, err := r.lookupUser(ctx, sub.CustomerID)
	if err != nil || !ok {
		return err
	}

	rec, err := r.store.GetRecord(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrRecordNotFound) {
			r.logger.Warn("no record for user, dropping subscription update",
				Field{Key: "user_id", Value: userID})
			return nil
		}
		return fmt.Errorf("failed to read record for user %s: %w", userID, err)
	}

	tier := r.tiers.Resolve(sub.PriceID)
	if rec.Tier != tier {
		r.metrics.RecordTierChange(string(rec.Tier), string(tier))
	}

	updated := &Record{
		UserID:         userID,
		Tier:           tier,
		IsActive:       IsEntitledStatus(sub.Status),
		PeriodStart:    sub.PeriodStart,
		PeriodEnd:      sub.PeriodEnd,
		SubscriptionID: sub.ID,
		CustomerID:     rec.CustomerID, // immutable once set
		PriceID:        sub.PriceID,
		Status:         sub.Status,
	}
	if err := r.store.UpdateRecord(ctx, userID, updated); err != nil {
		if errors.Is(err, ErrRecordNotFound) {
			r.logger.Warn("record vanished during subscription update, dropping event",
				Field{Key: "user_id", Value: userID})
			return nil
		}
		return fmt.Errorf("failed to update record for user %s: %w", userID, err)
	}

	r.logger.Info("subscription updated",
		Field{Key: "user_id", Value: userID},
		Field{Key: "tier", Value: tier},
		Field{Key: "status", Value: sub.Status})
	return nil
}

// applySubscriptionDeleted downgrades the user to the free tier. Historical
// provider ids are retained; the record is never deleted.
func (r *Reconciler) applySubscriptionDeleted(ctx context.Context, sub *SubscriptionState) error {
	userID, ok, err := r.lookupUser(ctx, sub.CustomerID)
	if err != nil || !ok {
		return err
	}

	if err := r.recordTierChange(ctx, userID, TierFree); err != nil {
		return err
	}

	tier := TierFree
	active := false
	patch := &RecordPatch{
		Tier:      &tier,
		IsActive:  &active,
		PeriodEnd: &sub.PeriodEnd,
		Status:    &sub.Status,
	}
	if err := r.store.MergeRecord(ctx, userID, patch); err != nil {
		return fmt.Errorf("failed to downgrade record for user %s: %w", userID, err)
	}

	r.logger.Info("subscription canceled, user downgraded",
		Field{Key: "user_id", Value: userID},
		Field{Key: "status", Value: sub.Status})
	return nil
}

// applyInvoicePaid treats a successful payment as a trigger to refresh the
// full subscription snapshot, not a distinct state transition.
func (r *Reconciler) applyInvoicePaid(ctx context.Context, facts *InvoiceFacts) error {
	if facts.SubscriptionID == "" {
		// Not a subscription invoice
		r.logger.Debug("invoice without subscription reference, ignoring",
			Field{Key: "customer_id", Value: facts.CustomerID})
		return nil
	}

	sub, err := r.provider.Subscription(ctx, facts.SubscriptionID)
	if err != nil {
		return fmt.Errorf("failed to fetch subscription %s: %w", facts.SubscriptionID, err)
	}

	return r.applySubscriptionState(ctx, sub)
}

// applyInvoicePaymentFailed logs only. The provider's retry schedule is the
// source of truth; entitlement changes when a later subscription event
// reflects the final status.
func (r *Reconciler) applyInvoicePaymentFailed(ctx context.Context, facts *InvoiceFacts) error {
	if facts.CustomerID == "" {
		return nil
	}

	userID, err := r.store.FindUserByCustomerID(ctx, facts.CustomerID)
	if err != nil {
		if errors.Is(err, ErrRecordNotFound) {
			r.logger.Warn("payment failed for unknown customer",
				Field{Key: "customer_id", Value: facts.CustomerID})
			return nil
		}
		return fmt.Errorf("failed to look up customer %s: %w", facts.CustomerID, err)
	}

	r.logger.Warn("invoice payment failed, awaiting provider retry",
		Field{Key: "user_id", Value: userID},
		Field{Key: "customer_id", Value: facts.CustomerID})
	return nil
}

// lookupUser resolves a customer id to a user id. A miss is a permanent
// per-event condition: it is logged and reported as ok=false with a nil
// error so callers drop the event.
func (r *Reconciler) lookupUser(ctx context.Context, customerID string) (string, bool, error) {
	if customerID == "" {
		r.logger.Warn("event without customer id, dropping")
		return "", false, nil
	}

	userID, err := r.store.FindUserByCustomerID(ctx, customerID)
	if err != nil {
		if errors.Is(err, ErrRecordNotFound) {
			r.logger.Warn("no user for customer id, dropping event",
				Field{Key: "customer_id", Value: customerID})
			return "", false, nil
		}
		return "", false, fmt.Errorf("failed to look up customer %s: %w", customerID, err)
	}

	return userID, true, nil
}

// recordTierChange emits the tier change metric when the stored tier differs
// from the incoming one. A missing record counts as a change from free.
func (r *Reconciler) recordTierChange(ctx context.Context, userID string, tier Tier) error {
	prev := TierFree
	rec, err := r.store.GetRecord(ctx, userID)
	if err != nil && !errors.Is(err, ErrRecordNotFound) {
		return fmt.Errorf("failed to read record for user %s: %w", userID, err)
	}
	if rec != nil {
		prev = rec.Tier
	}
	if prev != tier {
		r.metrics.RecordTierChange(string(prev), string(tier))
	}
	return nil
}
