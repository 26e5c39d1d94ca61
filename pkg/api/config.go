package api

import (
	"fmt"
	"net/http"

	"github.com/mihaimyh/stripesync/pkg/billing"
	"github.com/mihaimyh/stripesync/pkg/billing/stripeapi"
)

// Config holds configuration for the HTTP handler.
type Config struct {
	// Reconciler processes decoded events and serves the caller-invoked
	// operations (required)
	Reconciler *billing.Reconciler

	// WebhookSecret verifies inbound webhook signatures (required)
	WebhookSecret string

	// GetUserID extracts the authenticated caller's user id from a request
	// (required for the portal and sync endpoints)
	GetUserID func(*http.Request) string

	// DecodeEvent verifies and decodes a webhook payload. Defaults to
	// stripeapi.DecodeEvent; overridable in tests.
	DecodeEvent func(payload []byte, sigHeader, secret string) (*billing.Event, error)

	// Logger is an optional structured logger
	Logger billing.Logger

	// Metrics is an optional metrics collector
	Metrics billing.Metrics
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.Reconciler == nil {
		return fmt.Errorf("reconciler is required")
	}
	if c.GetUserID == nil {
		return fmt.Errorf("getUserID is required")
	}
	return nil
}

// NewHandler creates a new HTTP handler with the given configuration.
func NewHandler(config Config) (*Handler, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if config.DecodeEvent == nil {
		config.DecodeEvent = stripeapi.DecodeEvent
	}
	if config.Logger == nil {
		config.Logger = &billing.NoopLogger{}
	}
	if config.Metrics == nil {
		config.Metrics = &billing.NoopMetrics{}
	}
	return &Handler{config: config}, nil
}

// FromHeader returns a GetUserID function that extracts the user id from a
// header. The header is expected to be set by an authenticating proxy or
// middleware in front of this service.
func FromHeader(headerName string) func(*http.Request) string {
	return func(r *http.Request) string {
		return r.Header.Get(headerName)
	}
}

// FromContext returns a GetUserID function that extracts the user id from
// the request context.
func FromContext(key interface{}) func(*http.Request) string {
	return func(r *http.Request) string {
		if userID, ok := r.Context().Value(key).(string); ok {
			return userID
		}
		return ""
	}
}
