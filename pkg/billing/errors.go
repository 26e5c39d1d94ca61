package billing

import "errors"

var (
	// ErrInvalidWebhookSignature is returned when webhook signature validation fails
	ErrInvalidWebhookSignature = errors.New("invalid webhook signature")

	// ErrInvalidWebhookPayload is returned when a webhook payload cannot be parsed
	ErrInvalidWebhookPayload = errors.New("invalid webhook payload")

	// ErrRecordNotFound is returned when no subscription record exists for a user
	ErrRecordNotFound = errors.New("subscription record not found")

	// ErrCustomerNotFound is returned when a user has no provider customer on record
	ErrCustomerNotFound = errors.New("customer not found for user")

	// ErrUnauthorized is returned when a caller-invoked operation has no caller identity
	ErrUnauthorized = errors.New("caller not authenticated")

	// ErrProviderAPIError is returned when the billing provider's API returns an error
	ErrProviderAPIError = errors.New("billing provider API error")
)
