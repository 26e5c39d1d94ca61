// Package stripeapi wraps the Stripe SDK behind the billing.ProviderClient
// interface and decodes verified webhook payloads into internal events, so
// the reconciler never depends on Stripe's wire format.
package stripeapi

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v83"

	"github.com/mihaimyh/stripesync/pkg/billing"
)

// Client implements billing.ProviderClient against the Stripe API.
type Client struct {
	sc      *stripe.Client
	metrics billing.Metrics
}

// NewClient creates a Stripe-backed provider client. Metrics may be nil.
func NewClient(apiKey string, metrics billing.Metrics) (*Client, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, fmt.Errorf("stripe API key is required")
	}
	if metrics == nil {
		metrics = &billing.NoopMetrics{}
	}

	return &Client{
		sc:      stripe.NewClient(apiKey),
		metrics: metrics,
	}, nil
}

// Subscription implements billing.ProviderClient.
func (c *Client) Subscription(ctx context.Context, subscriptionID string) (*billing.SubscriptionState, error) {
	startTime := time.Now()

	sub, err := c.sc.V1Subscriptions.Retrieve(ctx, subscriptionID, nil)
	c.metrics.RecordProviderAPICallDuration("/subscriptions/retrieve", time.Since(startTime))
	if err != nil {
		c.metrics.RecordProviderAPICall("/subscriptions/retrieve", "error")
		return nil, fmt.Errorf("%w: retrieve subscription %s: %v", billing.ErrProviderAPIError, subscriptionID, err)
	}
	c.metrics.RecordProviderAPICall("/subscriptions/retrieve", "success")

	return subscriptionState(sub), nil
}

// PortalURL implements billing.ProviderClient.
func (c *Client) PortalURL(ctx context.Context, customerID, returnURL string) (string, error) {
	startTime := time.Now()

	params := &stripe.BillingPortalSessionCreateParams{
		Customer:  stripe.String(customerID),
		ReturnURL: stripe.String(returnURL),
	}
	session, err := c.sc.V1BillingPortalSessions.Create(ctx, params)
	c.metrics.RecordProviderAPICallDuration("/billing_portal/sessions", time.Since(startTime))
	if err != nil {
		c.metrics.RecordProviderAPICall("/billing_portal/sessions", "error")
		return "", fmt.Errorf("%w: create portal session: %v", billing.ErrProviderAPIError, err)
	}
	c.metrics.RecordProviderAPICall("/billing_portal/sessions", "success")

	return session.URL, nil
}

// subscriptionState maps a Stripe subscription onto the internal snapshot.
// Since API version 2025-03 the billing period lives on the subscription
// items, so the price id and period bounds come from the first item.
func subscriptionState(sub *stripe.Subscription) *billing.SubscriptionState {
	state := &billing.SubscriptionState{
		ID:     sub.ID,
		Status: string(sub.Status),
	}
	if sub.Customer != nil {
		state.CustomerID = sub.Customer.ID
	}
	if sub.Items != nil && len(sub.Items.Data) > 0 {
		item := sub.Items.Data[0]
		if item.Price != nil {
			state.PriceID = item.Price.ID
		}
		if item.CurrentPeriodStart > 0 {
			state.PeriodStart = time.Unix(item.CurrentPeriodStart, 0).UTC()
		}
		if item.CurrentPeriodEnd > 0 {
			state.PeriodEnd = time.Unix(item.CurrentPeriodEnd, 0).UTC()
		}
	}
	return state
}
