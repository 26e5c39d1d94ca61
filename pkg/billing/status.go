package billing

import "strings"

// entitledStatuses is the allow-list of provider subscription statuses under
// which a user retains access. past_due is included deliberately: it gives a
// grace window while the provider's payment retry is in flight.
var entitledStatuses = map[string]bool{
	"active":   true,
	"trialing": true,
	"past_due": true,
}

// IsEntitledStatus reports whether a raw provider subscription status should
// grant access. Pure and total: any status outside the allow-list (canceled,
// unpaid, incomplete_expired, ...) resolves to false.
func IsEntitledStatus(rawStatus string) bool {
	return entitledStatuses[strings.ToLower(strings.TrimSpace(rawStatus))]
}
