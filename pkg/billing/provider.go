package billing

import "context"

// ProviderClient is the outbound interface to the payment provider. It is
// passed into the Reconciler explicitly so tests can substitute a fake.
type ProviderClient interface {
	// Subscription fetches a live snapshot of a provider subscription.
	Subscription(ctx context.Context, subscriptionID string) (*SubscriptionState, error)

	// PortalURL creates a provider-hosted management session for a customer
	// and returns its URL.
	PortalURL(ctx context.Context, customerID, returnURL string) (string, error)
}
