// Package config assembles the service configuration once at process start.
// Values come from the environment, optionally seeded from a .env file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"github.com/mihaimyh/stripesync/pkg/billing"
)

// Storage backend names accepted in STORAGE_BACKEND.
const (
	BackendFirestore = "firestore"
	BackendPostgres  = "postgres"
	BackendRedis     = "redis"
	BackendMemory    = "memory"
)

// Config holds everything the service needs, assembled once and passed down.
type Config struct {
	// ListenAddr is the HTTP listen address
	ListenAddr string

	// AuthHeader carries the authenticated caller's user id, set by the
	// authenticating proxy in front of this service
	AuthHeader string

	// StripeAPIKey is the secret key for outbound Stripe API calls
	StripeAPIKey string

	// StripeWebhookSecret verifies inbound webhook signatures
	StripeWebhookSecret string

	// TierMapping maps Stripe price/product ids to tiers
	TierMapping map[string]billing.Tier

	// DefaultTier is the fallback for unmapped price ids
	DefaultTier billing.Tier

	// PortalReturnURL is where the billing portal sends users back
	PortalReturnURL string

	// StorageBackend selects the record store implementation
	StorageBackend string

	FirestoreProjectID  string
	FirestoreCollection string

	PostgresDSN string

	RedisAddr     string
	RedisPassword string
	RedisDB       int
}

// Load reads configuration from the environment. A .env file in the working
// directory is loaded first when present.
func Load() (*Config, error) {
	// Missing .env is fine; the environment may be set directly
	_ = godotenv.Load()

	cfg := &Config{
		ListenAddr:          envOr("LISTEN_ADDR", ":8080"),
		AuthHeader:          envOr("AUTH_HEADER", "X-User-ID"),
		StripeAPIKey:        strings.TrimSpace(os.Getenv("STRIPE_API_KEY")),
		StripeWebhookSecret: strings.TrimSpace(os.Getenv("STRIPE_WEBHOOK_SECRET")),
		DefaultTier:         billing.Tier(envOr("DEFAULT_TIER", string(billing.TierPro))),
		PortalReturnURL:     os.Getenv("PORTAL_RETURN_URL"),
		StorageBackend:      envOr("STORAGE_BACKEND", BackendFirestore),
		FirestoreProjectID:  os.Getenv("FIRESTORE_PROJECT_ID"),
		FirestoreCollection: envOr("FIRESTORE_COLLECTION", "subscriptions"),
		PostgresDSN:         os.Getenv("POSTGRES_DSN"),
		RedisAddr:           envOr("REDIS_ADDR", "localhost:6379"),
		RedisPassword:       os.Getenv("REDIS_PASSWORD"),
	}

	if db := os.Getenv("REDIS_DB"); db != "" {
		n, err := strconv.Atoi(db)
		if err != nil {
			return nil, fmt.Errorf("invalid REDIS_DB %q: %w", db, err)
		}
		cfg.RedisDB = n
	}

	mapping, err := ParseTierMapping(os.Getenv("TIER_MAPPING"))
	if err != nil {
		return nil, err
	}
	cfg.TierMapping = mapping

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks required keys and backend-specific settings.
func (c *Config) Validate() error {
	if c.StripeAPIKey == "" {
		return fmt.Errorf("STRIPE_API_KEY is required")
	}
	if c.StripeWebhookSecret == "" {
		return fmt.Errorf("STRIPE_WEBHOOK_SECRET is required")
	}

	switch c.StorageBackend {
	case BackendFirestore:
		if c.FirestoreProjectID == "" {
			return fmt.Errorf("FIRESTORE_PROJECT_ID is required for the firestore backend")
		}
	case BackendPostgres:
		if c.PostgresDSN == "" {
			return fmt.Errorf("POSTGRES_DSN is required for the postgres backend")
		}
	case BackendRedis, BackendMemory:
	default:
		return fmt.Errorf("unknown STORAGE_BACKEND %q", c.StorageBackend)
	}
	return nil
}

// ParseTierMapping parses a "price_id:tier,price_id:tier" list into a
// mapping table. An empty input yields an empty mapping; every price id then
// resolves to the default tier.
func ParseTierMapping(raw string) (map[string]billing.Tier, error) {
	mapping := make(map[string]billing.Tier)
	if strings.TrimSpace(raw) == "" {
		return mapping, nil
	}

	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		parts := strings.SplitN(pair, ":", 2)
		if len(parts) != 2 || strings.TrimSpace(parts[0]) == "" || strings.TrimSpace(parts[1]) == "" {
			return nil, fmt.Errorf("invalid TIER_MAPPING entry %q", pair)
		}
		mapping[strings.TrimSpace(parts[0])] = billing.Tier(strings.TrimSpace(parts[1]))
	}
	return mapping, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
