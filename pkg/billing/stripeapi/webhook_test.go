package stripeapi

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v83"

	"github.com/mihaimyh/stripesync/pkg/billing"
)

const testSecret = "whsec_decode_test"

func signPayload(payload []byte, secret string) string {
	ts := time.Now().Unix()
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.%s", ts, payload)
	return fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

func signedEvent(t *testing.T, eventType string, object map[string]any) ([]byte, string) {
	t.Helper()
	payload, err := json.Marshal(map[string]any{
		"id":          "evt_decode_1",
		"object":      "event",
		"api_version": stripe.APIVersion,
		"type":        eventType,
		"data":        map[string]any{"object": object},
	})
	require.NoError(t, err)
	return payload, signPayload(payload, testSecret)
}

func TestDecodeEvent_InvalidSignature(t *testing.T) {
	payload, _ := signedEvent(t, "checkout.session.completed", map[string]any{"id": "cs_1"})

	t.Run("missing header", func(t *testing.T) {
		_, err := DecodeEvent(payload, "", testSecret)
		assert.ErrorIs(t, err, billing.ErrInvalidWebhookSignature)
	})

	t.Run("wrong secret", func(t *testing.T) {
		_, err := DecodeEvent(payload, signPayload(payload, "whsec_other"), testSecret)
		assert.ErrorIs(t, err, billing.ErrInvalidWebhookSignature)
	})

	t.Run("stale timestamp", func(t *testing.T) {
		ts := time.Now().Add(-time.Hour).Unix()
		mac := hmac.New(sha256.New, []byte(testSecret))
		fmt.Fprintf(mac, "%d.%s", ts, payload)
		header := fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))

		_, err := DecodeEvent(payload, header, testSecret)
		assert.ErrorIs(t, err, billing.ErrInvalidWebhookSignature)
	})
}

func TestDecodeEvent_CheckoutSession(t *testing.T) {
	t.Run("client reference id", func(t *testing.T) {
		payload, sig := signedEvent(t, "checkout.session.completed", map[string]any{
			"id":                  "cs_1",
			"mode":                "subscription",
			"client_reference_id": "user123",
			"subscription":        "sub_123",
		})

		event, err := DecodeEvent(payload, sig, testSecret)
		require.NoError(t, err)
		assert.Equal(t, billing.EventCheckoutCompleted, event.Kind)
		assert.Equal(t, "checkout.session.completed", event.Type)
		require.NotNil(t, event.Checkout)
		assert.Equal(t, "user123", event.Checkout.UserID)
		assert.Equal(t, "sub_123", event.Checkout.SubscriptionID)
	})

	t.Run("metadata fallback", func(t *testing.T) {
		payload, sig := signedEvent(t, "checkout.session.completed", map[string]any{
			"id":           "cs_2",
			"subscription": "sub_123",
			"metadata":     map[string]any{"user_id": "user456"},
		})

		event, err := DecodeEvent(payload, sig, testSecret)
		require.NoError(t, err)
		assert.Equal(t, "user456", event.Checkout.UserID)
	})

	t.Run("no user reference", func(t *testing.T) {
		payload, sig := signedEvent(t, "checkout.session.completed", map[string]any{
			"id": "cs_3",
		})

		event, err := DecodeEvent(payload, sig, testSecret)
		require.NoError(t, err)
		assert.Empty(t, event.Checkout.UserID)
		assert.Empty(t, event.Checkout.SubscriptionID)
	})
}

func TestDecodeEvent_Subscription(t *testing.T) {
	t.Run("period bounds from items", func(t *testing.T) {
		payload, sig := signedEvent(t, "customer.subscription.updated", map[string]any{
			"id":       "sub_123",
			"customer": "cus_abc",
			"status":   "active",
			"items": map[string]any{
				"object": "list",
				"data": []map[string]any{{
					"id":                   "si_1",
					"price":                map[string]any{"id": "price_pro"},
					"current_period_start": 1767225600,
					"current_period_end":   1769904000,
				}},
			},
		})

		event, err := DecodeEvent(payload, sig, testSecret)
		require.NoError(t, err)
		assert.Equal(t, billing.EventSubscriptionUpdated, event.Kind)
		require.NotNil(t, event.Subscription)
		assert.Equal(t, "sub_123", event.Subscription.ID)
		assert.Equal(t, "cus_abc", event.Subscription.CustomerID)
		assert.Equal(t, "price_pro", event.Subscription.PriceID)
		assert.Equal(t, "active", event.Subscription.Status)
		assert.Equal(t, time.Unix(1767225600, 0).UTC(), event.Subscription.PeriodStart)
		assert.Equal(t, time.Unix(1769904000, 0).UTC(), event.Subscription.PeriodEnd)
	})

	t.Run("period bounds from top-level fallback", func(t *testing.T) {
		// Payloads from older API versions carry the bounds on the
		// subscription object itself
		payload, sig := signedEvent(t, "customer.subscription.updated", map[string]any{
			"id":                   "sub_123",
			"customer":             "cus_abc",
			"status":               "past_due",
			"current_period_start": 1767225600,
			"current_period_end":   1769904000,
		})

		event, err := DecodeEvent(payload, sig, testSecret)
		require.NoError(t, err)
		assert.Equal(t, time.Unix(1767225600, 0).UTC(), event.Subscription.PeriodStart)
		assert.Equal(t, time.Unix(1769904000, 0).UTC(), event.Subscription.PeriodEnd)
	})

	t.Run("deleted maps to its own kind", func(t *testing.T) {
		payload, sig := signedEvent(t, "customer.subscription.deleted", map[string]any{
			"id":       "sub_123",
			"customer": "cus_abc",
			"status":   "canceled",
		})

		event, err := DecodeEvent(payload, sig, testSecret)
		require.NoError(t, err)
		assert.Equal(t, billing.EventSubscriptionDeleted, event.Kind)
		assert.Equal(t, "canceled", event.Subscription.Status)
	})
}

func TestDecodeEvent_Invoice(t *testing.T) {
	t.Run("id string references", func(t *testing.T) {
		payload, sig := signedEvent(t, "invoice.payment_succeeded", map[string]any{
			"id":           "in_1",
			"customer":     "cus_abc",
			"subscription": "sub_123",
		})

		event, err := DecodeEvent(payload, sig, testSecret)
		require.NoError(t, err)
		assert.Equal(t, billing.EventInvoicePaid, event.Kind)
		require.NotNil(t, event.Invoice)
		assert.Equal(t, "sub_123", event.Invoice.SubscriptionID)
		assert.Equal(t, "cus_abc", event.Invoice.CustomerID)
	})

	t.Run("expanded object references", func(t *testing.T) {
		payload, sig := signedEvent(t, "invoice.payment_failed", map[string]any{
			"id":           "in_2",
			"customer":     map[string]any{"id": "cus_abc", "object": "customer"},
			"subscription": map[string]any{"id": "sub_123", "object": "subscription"},
		})

		event, err := DecodeEvent(payload, sig, testSecret)
		require.NoError(t, err)
		assert.Equal(t, billing.EventInvoicePaymentFailed, event.Kind)
		assert.Equal(t, "sub_123", event.Invoice.SubscriptionID)
		assert.Equal(t, "cus_abc", event.Invoice.CustomerID)
	})

	t.Run("no subscription reference", func(t *testing.T) {
		payload, sig := signedEvent(t, "invoice.payment_succeeded", map[string]any{
			"id":       "in_3",
			"customer": "cus_abc",
		})

		event, err := DecodeEvent(payload, sig, testSecret)
		require.NoError(t, err)
		assert.Empty(t, event.Invoice.SubscriptionID)
	})
}

func TestDecodeEvent_UnhandledType(t *testing.T) {
	payload, sig := signedEvent(t, "customer.tax_id.created", map[string]any{"id": "txi_1"})

	event, err := DecodeEvent(payload, sig, testSecret)
	require.NoError(t, err)
	assert.Equal(t, billing.EventOther, event.Kind)
	assert.Equal(t, "customer.tax_id.created", event.Type)
	assert.Nil(t, event.Checkout)
	assert.Nil(t, event.Subscription)
	assert.Nil(t, event.Invoice)
}
