package billing

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsEntitledStatus(t *testing.T) {
	tests := []struct {
		status string
		want   bool
	}{
		{"active", true},
		{"trialing", true},
		{"past_due", true}, // grace window while the provider retries payment
		{"canceled", false},
		{"unpaid", false},
		{"incomplete", false},
		{"incomplete_expired", false},
		{"paused", false},
		{"", false},
		{"ACTIVE", true},
		{"  active  ", true},
		{"something_new", false},
	}

	for _, tt := range tests {
		t.Run(tt.status, func(t *testing.T) {
			assert.Equal(t, tt.want, IsEntitledStatus(tt.status))
		})
	}
}
