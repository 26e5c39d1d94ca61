package stripeapi

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v83"

	"github.com/mihaimyh/stripesync/pkg/billing"
)

// DecodeEvent verifies a webhook payload against the signing secret and
// decodes it into an internal event. Signature verification runs before any
// event-type interpretation; it is the sole authentication on this path.
//
// Returns billing.ErrInvalidWebhookSignature on a bad signature and
// billing.ErrInvalidWebhookPayload when a handled event's body cannot be
// parsed. Event types the reconciler does not handle decode to an
// EventOther event, never an error.
func DecodeEvent(payload []byte, sigHeader, secret string) (*billing.Event, error) {
	event, err := stripe.ConstructEvent(payload, sigHeader, secret)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", billing.ErrInvalidWebhookSignature, err)
	}

	eventType := string(event.Type)

	switch event.Type {
	case "checkout.session.completed":
		return decodeCheckoutSession(&event, eventType)
	case "customer.subscription.updated":
		return decodeSubscription(&event, eventType, billing.EventSubscriptionUpdated)
	case "customer.subscription.deleted":
		return decodeSubscription(&event, eventType, billing.EventSubscriptionDeleted)
	case "invoice.payment_succeeded":
		return decodeInvoice(&event, eventType, billing.EventInvoicePaid)
	case "invoice.payment_failed":
		return decodeInvoice(&event, eventType, billing.EventInvoicePaymentFailed)
	default:
		return &billing.Event{Kind: billing.EventOther, Type: eventType}, nil
	}
}

func decodeCheckoutSession(event *stripe.Event, eventType string) (*billing.Event, error) {
	var session stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		return nil, fmt.Errorf("%w: unmarshal checkout session: %v", billing.ErrInvalidWebhookPayload, err)
	}

	// The application user id arrives as the client reference set when the
	// checkout session was created; metadata is the fallback.
	userID := session.ClientReferenceID
	if userID == "" && session.Metadata != nil {
		userID = session.Metadata["user_id"]
	}

	subscriptionID := ""
	if session.Subscription != nil {
		subscriptionID = session.Subscription.ID
	}

	return &billing.Event{
		Kind: billing.EventCheckoutCompleted,
		Type: eventType,
		Checkout: &billing.CheckoutFacts{
			UserID:         userID,
			SubscriptionID: subscriptionID,
		},
	}, nil
}

func decodeSubscription(event *stripe.Event, eventType string, kind billing.EventKind) (*billing.Event, error) {
	var sub stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
		return nil, fmt.Errorf("%w: unmarshal subscription: %v", billing.ErrInvalidWebhookPayload, err)
	}

	state := subscriptionState(&sub)

	// Older API versions carry the period bounds on the subscription object
	// itself; the v83 struct no longer has those fields, so fall back to the
	// raw payload when the items carried none.
	if state.PeriodStart.IsZero() || state.PeriodEnd.IsZero() {
		var rawData map[string]interface{}
		if err := json.Unmarshal(event.Data.Raw, &rawData); err == nil {
			if state.PeriodStart.IsZero() {
				state.PeriodStart = unixFromRaw(rawData, "current_period_start")
			}
			if state.PeriodEnd.IsZero() {
				state.PeriodEnd = unixFromRaw(rawData, "current_period_end")
			}
		}
	}

	return &billing.Event{
		Kind:         kind,
		Type:         eventType,
		Subscription: state,
	}, nil
}

func decodeInvoice(event *stripe.Event, eventType string, kind billing.EventKind) (*billing.Event, error) {
	// The v83 Invoice struct does not expose the subscription reference
	// directly, so extract it from the raw JSON. It arrives either as an id
	// string or as an expanded object.
	var rawData map[string]interface{}
	if err := json.Unmarshal(event.Data.Raw, &rawData); err != nil {
		return nil, fmt.Errorf("%w: unmarshal invoice: %v", billing.ErrInvalidWebhookPayload, err)
	}

	return &billing.Event{
		Kind: kind,
		Type: eventType,
		Invoice: &billing.InvoiceFacts{
			SubscriptionID: idFromRaw(rawData, "subscription"),
			CustomerID:     idFromRaw(rawData, "customer"),
		},
	}, nil
}

// idFromRaw extracts an object reference that may be an id string or an
// expanded object with an "id" field.
func idFromRaw(rawData map[string]interface{}, key string) string {
	switch v := rawData[key].(type) {
	case string:
		return v
	case map[string]interface{}:
		if id, ok := v["id"].(string); ok {
			return id
		}
	}
	return ""
}

func unixFromRaw(rawData map[string]interface{}, key string) time.Time {
	if secs, ok := rawData[key].(float64); ok && secs > 0 {
		return time.Unix(int64(secs), 0).UTC()
	}
	return time.Time{}
}
