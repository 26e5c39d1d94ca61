package api

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v83"

	"github.com/mihaimyh/stripesync/pkg/billing"
	"github.com/mihaimyh/stripesync/storage/memory"
)

const testWebhookSecret = "whsec_test_secret"

type stubProvider struct {
	subs      map[string]*billing.SubscriptionState
	err       error
	portalURL string
}

func (p *stubProvider) Subscription(_ context.Context, subscriptionID string) (*billing.SubscriptionState, error) {
	if p.err != nil {
		return nil, p.err
	}
	sub, ok := p.subs[subscriptionID]
	if !ok {
		return nil, fmt.Errorf("%w: no such subscription %s", billing.ErrProviderAPIError, subscriptionID)
	}
	subCopy := *sub
	return &subCopy, nil
}

func (p *stubProvider) PortalURL(_ context.Context, _, _ string) (string, error) {
	return p.portalURL, nil
}

type testEnv struct {
	handler  *Handler
	store    *memory.Store
	provider *stubProvider
}

func newTestEnv(t *testing.T, mutate func(*Config)) *testEnv {
	t.Helper()

	store := memory.New()
	provider := &stubProvider{
		subs: map[string]*billing.SubscriptionState{
			"sub_123": {
				ID:          "sub_123",
				CustomerID:  "cus_abc",
				PriceID:     "price_pro",
				Status:      "active",
				PeriodStart: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
				PeriodEnd:   time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC),
			},
		},
		portalURL: "https://billing.example.com/session",
	}

	reconciler, err := billing.NewReconciler(billing.Config{
		Store:    store,
		Provider: provider,
		Tiers: billing.NewTierResolver(map[string]billing.Tier{
			"price_pro": billing.TierPro,
		}, billing.TierPro, nil),
		PortalReturnURL: "https://example.com/account",
	})
	require.NoError(t, err)

	config := Config{
		Reconciler:    reconciler,
		WebhookSecret: testWebhookSecret,
		GetUserID:     FromHeader("X-User-ID"),
	}
	if mutate != nil {
		mutate(&config)
	}

	handler, err := NewHandler(config)
	require.NoError(t, err)

	return &testEnv{handler: handler, store: store, provider: provider}
}

// signPayload produces a Stripe-Signature header for the payload using the
// documented t=...,v1=hex(hmac-sha256(secret, "t.payload")) scheme.
func signPayload(payload []byte, secret string) string {
	ts := time.Now().Unix()
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.%s", ts, payload)
	return fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

func eventPayload(t *testing.T, eventType string, object map[string]any) []byte {
	t.Helper()
	payload, err := json.Marshal(map[string]any{
		"id":          "evt_test_1",
		"object":      "event",
		"api_version": stripe.APIVersion,
		"type":        eventType,
		"data":        map[string]any{"object": object},
	})
	require.NoError(t, err)
	return payload
}

func postWebhook(env *testEnv, payload []byte, sigHeader string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", bytes.NewReader(payload))
	if sigHeader != "" {
		req.Header.Set("Stripe-Signature", sigHeader)
	}
	rr := httptest.NewRecorder()
	env.handler.Routes().ServeHTTP(rr, req)
	return rr
}

func TestWebhook_SignatureVerification(t *testing.T) {
	env := newTestEnv(t, nil)
	payload := eventPayload(t, "customer.updated", map[string]any{"id": "cus_abc"})

	t.Run("missing signature rejected", func(t *testing.T) {
		rr := postWebhook(env, payload, "")
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("signature with wrong secret rejected", func(t *testing.T) {
		rr := postWebhook(env, payload, signPayload(payload, "whsec_wrong"))
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("tampered payload rejected", func(t *testing.T) {
		sig := signPayload(payload, testWebhookSecret)
		tampered := bytes.Replace(payload, []byte("cus_abc"), []byte("cus_zzz"), 1)
		rr := postWebhook(env, tampered, sig)
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("valid signature acknowledged", func(t *testing.T) {
		rr := postWebhook(env, payload, signPayload(payload, testWebhookSecret))
		assert.Equal(t, http.StatusOK, rr.Code)
		assert.JSONEq(t, `{"received": true}`, rr.Body.String())
	})
}

func TestWebhook_CheckoutCompleted(t *testing.T) {
	env := newTestEnv(t, nil)
	payload := eventPayload(t, "checkout.session.completed", map[string]any{
		"id":                  "cs_1",
		"mode":                "subscription",
		"client_reference_id": "user123",
		"subscription":        "sub_123",
	})

	rr := postWebhook(env, payload, signPayload(payload, testWebhookSecret))
	require.Equal(t, http.StatusOK, rr.Code)

	rec, err := env.store.GetRecord(context.Background(), "user123")
	require.NoError(t, err)
	assert.Equal(t, billing.TierPro, rec.Tier)
	assert.True(t, rec.IsActive)
	assert.Equal(t, "sub_123", rec.SubscriptionID)
	assert.Equal(t, "cus_abc", rec.CustomerID)
}

func TestWebhook_UnknownEventAcknowledged(t *testing.T) {
	env := newTestEnv(t, nil)
	payload := eventPayload(t, "customer.tax_id.created", map[string]any{"id": "txi_1"})

	rr := postWebhook(env, payload, signPayload(payload, testWebhookSecret))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"received": true}`, rr.Body.String())
}

func TestWebhook_UnknownCustomerAcknowledged(t *testing.T) {
	env := newTestEnv(t, nil)
	// No record references cus_nobody, so the update has nowhere to land
	payload := eventPayload(t, "customer.subscription.updated", map[string]any{
		"id":                   "sub_999",
		"customer":             "cus_nobody",
		"status":               "active",
		"current_period_start": 1767225600,
		"current_period_end":   1769904000,
	})

	rr := postWebhook(env, payload, signPayload(payload, testWebhookSecret))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"received": true}`, rr.Body.String())
}

func TestWebhook_TransientFailureReturns500(t *testing.T) {
	env := newTestEnv(t, func(c *Config) {
		c.DecodeEvent = func(_ []byte, _, _ string) (*billing.Event, error) {
			return &billing.Event{
				Kind:     billing.EventCheckoutCompleted,
				Type:     "checkout.session.completed",
				Checkout: &billing.CheckoutFacts{UserID: "user123", SubscriptionID: "sub_123"},
			}, nil
		}
	})
	env.provider.err = billing.ErrProviderAPIError

	rr := postWebhook(env, []byte(`{}`), "sig-ignored-by-override")
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
}

func TestWebhook_UndecodablePayloadReturns400(t *testing.T) {
	env := newTestEnv(t, func(c *Config) {
		c.DecodeEvent = func(_ []byte, _, _ string) (*billing.Event, error) {
			return nil, fmt.Errorf("%w: truncated body", billing.ErrInvalidWebhookPayload)
		}
	})

	rr := postWebhook(env, []byte(`{"broken"`), "sig-ignored-by-override")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestWebhook_MissingSecretReturns503(t *testing.T) {
	env := newTestEnv(t, func(c *Config) {
		c.WebhookSecret = ""
	})

	rr := postWebhook(env, []byte(`{}`), "")
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestWebhook_OversizedBodyReturns413(t *testing.T) {
	env := newTestEnv(t, nil)
	payload := []byte(strings.Repeat("x", maxWebhookBody+1))

	rr := postWebhook(env, payload, signPayload(payload, testWebhookSecret))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rr.Code)
}

func TestWebhook_MethodNotAllowed(t *testing.T) {
	env := newTestEnv(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/webhooks/stripe", nil)
	rr := httptest.NewRecorder()
	env.handler.Webhook(rr, req)
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
}

func TestPortal(t *testing.T) {
	t.Run("missing user id returns 401", func(t *testing.T) {
		env := newTestEnv(t, nil)
		req := httptest.NewRequest(http.MethodPost, "/billing/portal", nil)
		rr := httptest.NewRecorder()
		env.handler.Routes().ServeHTTP(rr, req)
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})

	t.Run("no customer on record returns 404", func(t *testing.T) {
		env := newTestEnv(t, nil)
		req := httptest.NewRequest(http.MethodPost, "/billing/portal", nil)
		req.Header.Set("X-User-ID", "user123")
		rr := httptest.NewRecorder()
		env.handler.Routes().ServeHTTP(rr, req)
		assert.Equal(t, http.StatusNotFound, rr.Code)
	})

	t.Run("returns the session url", func(t *testing.T) {
		env := newTestEnv(t, nil)
		customerID := "cus_abc"
		require.NoError(t, env.store.MergeRecord(context.Background(), "user123",
			&billing.RecordPatch{CustomerID: &customerID}))

		req := httptest.NewRequest(http.MethodPost, "/billing/portal", nil)
		req.Header.Set("X-User-ID", "user123")
		rr := httptest.NewRecorder()
		env.handler.Routes().ServeHTTP(rr, req)

		require.Equal(t, http.StatusOK, rr.Code)
		assert.JSONEq(t, `{"url": "https://billing.example.com/session"}`, rr.Body.String())
	})
}

func TestSync(t *testing.T) {
	t.Run("missing user id returns 401", func(t *testing.T) {
		env := newTestEnv(t, nil)
		req := httptest.NewRequest(http.MethodPost, "/billing/sync", nil)
		rr := httptest.NewRecorder()
		env.handler.Routes().ServeHTTP(rr, req)
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})

	t.Run("no record returns success=false", func(t *testing.T) {
		env := newTestEnv(t, nil)
		req := httptest.NewRequest(http.MethodPost, "/billing/sync", nil)
		req.Header.Set("X-User-ID", "user123")
		rr := httptest.NewRecorder()
		env.handler.Routes().ServeHTTP(rr, req)

		require.Equal(t, http.StatusOK, rr.Code)
		var result billing.SyncResult
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &result))
		assert.False(t, result.Success)
		assert.Equal(t, billing.TierFree, result.Tier)
	})

	t.Run("re-pulls state from the provider", func(t *testing.T) {
		env := newTestEnv(t, nil)
		subID := "sub_123"
		customerID := "cus_abc"
		require.NoError(t, env.store.MergeRecord(context.Background(), "user123",
			&billing.RecordPatch{SubscriptionID: &subID, CustomerID: &customerID}))

		req := httptest.NewRequest(http.MethodPost, "/billing/sync", nil)
		req.Header.Set("X-User-ID", "user123")
		rr := httptest.NewRecorder()
		env.handler.Routes().ServeHTTP(rr, req)

		require.Equal(t, http.StatusOK, rr.Code)
		var result billing.SyncResult
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &result))
		assert.True(t, result.Success)
		assert.Equal(t, billing.TierPro, result.Tier)
		assert.True(t, result.IsActive)
	})

	t.Run("provider failure returns 500", func(t *testing.T) {
		env := newTestEnv(t, nil)
		subID := "sub_123"
		require.NoError(t, env.store.MergeRecord(context.Background(), "user123",
			&billing.RecordPatch{SubscriptionID: &subID}))
		env.provider.err = billing.ErrProviderAPIError

		req := httptest.NewRequest(http.MethodPost, "/billing/sync", nil)
		req.Header.Set("X-User-ID", "user123")
		rr := httptest.NewRecorder()
		env.handler.Routes().ServeHTTP(rr, req)
		assert.Equal(t, http.StatusInternalServerError, rr.Code)
	})
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t, nil)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rr := httptest.NewRecorder()
	env.handler.Routes().ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "ok", rr.Body.String())
}

func TestConfig_Validate(t *testing.T) {
	t.Run("missing reconciler", func(t *testing.T) {
		_, err := NewHandler(Config{GetUserID: FromHeader("X-User-ID")})
		assert.Error(t, err)
	})

	t.Run("missing user id extractor", func(t *testing.T) {
		env := newTestEnv(t, nil)
		_, err := NewHandler(Config{Reconciler: env.handler.config.Reconciler})
		assert.Error(t, err)
	})
}
