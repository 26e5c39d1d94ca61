package billing

import "time"

// EventKind identifies the handled webhook event kinds. Events the reconciler
// does not act on are decoded as EventOther so dispatch never fails on types
// the provider adds later.
type EventKind string

const (
	EventCheckoutCompleted    EventKind = "checkout_completed"
	EventSubscriptionUpdated  EventKind = "subscription_updated"
	EventSubscriptionDeleted  EventKind = "subscription_deleted"
	EventInvoicePaid          EventKind = "invoice_paid"
	EventInvoicePaymentFailed EventKind = "invoice_payment_failed"
	EventOther                EventKind = "other"
)

// Event is the internal representation of a verified webhook event. Exactly
// one of the fact fields is set, matching Kind. Decoding from the provider's
// wire format happens in stripeapi so the reconciler never touches SDK types.
type Event struct {
	// Kind selects the handler
	Kind EventKind

	// Type is the raw provider event type, kept for logging and metrics
	Type string

	// Checkout is set for EventCheckoutCompleted
	Checkout *CheckoutFacts

	// Subscription is set for EventSubscriptionUpdated and EventSubscriptionDeleted
	Subscription *SubscriptionState

	// Invoice is set for EventInvoicePaid and EventInvoicePaymentFailed
	Invoice *InvoiceFacts
}

// CheckoutFacts are the facts extracted from a completed checkout session.
type CheckoutFacts struct {
	// UserID is the caller-supplied reference on the checkout session.
	// Empty when the session carried none; the event is then unattributable.
	UserID string

	// SubscriptionID is the provider subscription created by the checkout.
	// Empty for non-subscription checkouts.
	SubscriptionID string
}

// SubscriptionState is a full snapshot of a provider subscription, either
// taken from an event payload or re-fetched live from the provider API.
type SubscriptionState struct {
	ID          string
	CustomerID  string
	PriceID     string
	Status      string
	PeriodStart time.Time
	PeriodEnd   time.Time
}

// InvoiceFacts are the facts extracted from an invoice event.
type InvoiceFacts struct {
	// SubscriptionID is empty when the invoice is not tied to a subscription
	SubscriptionID string

	// CustomerID is the provider customer the invoice belongs to
	CustomerID string
}
