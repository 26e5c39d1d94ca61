package api

// ackResponse is the fixed acknowledgment returned to the provider for every
// accepted webhook delivery.
type ackResponse struct {
	Received bool `json:"received"`
}

// portalResponse carries the provider-hosted management session URL.
type portalResponse struct {
	URL string `json:"url"`
}

// errorResponse is the JSON error body for caller-facing failures.
type errorResponse struct {
	Error string `json:"error"`
}
