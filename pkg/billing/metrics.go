package billing

import "time"

// Metrics defines the interface for tracking reconciliation operations.
// All methods are optional - components should gracefully handle nil metrics.
type Metrics interface {
	// RecordWebhookEvent records a webhook event received from the provider.
	// eventType: The provider event type (e.g., "checkout.session.completed")
	// status: "success", "skipped" or "error"
	RecordWebhookEvent(eventType, status string)

	// RecordWebhookProcessingDuration records how long it took to process a webhook.
	RecordWebhookProcessingDuration(eventType string, duration time.Duration)

	// RecordWebhookError records a webhook processing error.
	// errorType: The type of error (e.g., "auth_failed", "invalid_payload", "processing_error")
	RecordWebhookError(errorType string)

	// RecordUserSync records a manual subscription sync operation.
	// status: "success", "skipped" or "error"
	RecordUserSync(status string)

	// RecordUserSyncDuration records how long a user sync took.
	RecordUserSyncDuration(duration time.Duration)

	// RecordTierChange records when a user's tier changes.
	RecordTierChange(fromTier, toTier string)

	// RecordProviderAPICall records an API call to the billing provider.
	// endpoint: The API endpoint called (e.g., "/subscriptions/{id}")
	// status: "success" or "error"
	RecordProviderAPICall(endpoint, status string)

	// RecordProviderAPICallDuration records how long a provider API call took.
	RecordProviderAPICallDuration(endpoint string, duration time.Duration)
}

// NoopMetrics is a no-op implementation of the Metrics interface.
type NoopMetrics struct{}

func (n *NoopMetrics) RecordWebhookEvent(_, _ string)                            {}
func (n *NoopMetrics) RecordWebhookProcessingDuration(_ string, _ time.Duration) {}
func (n *NoopMetrics) RecordWebhookError(_ string)                               {}
func (n *NoopMetrics) RecordUserSync(_ string)                                   {}
func (n *NoopMetrics) RecordUserSyncDuration(_ time.Duration)                    {}
func (n *NoopMetrics) RecordTierChange(_, _ string)                              {}
func (n *NoopMetrics) RecordProviderAPICall(_, _ string)                         {}
func (n *NoopMetrics) RecordProviderAPICallDuration(_ string, _ time.Duration)   {}
