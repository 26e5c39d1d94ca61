package billing

import "strings"

// TierResolver maps provider price/product identifiers to tiers using an
// exact-match table configured at startup.
type TierResolver struct {
	mapping     map[string]Tier
	defaultTier Tier
	logger      Logger
}

// NewTierResolver creates a resolver over the given price-to-tier mapping.
// Keys are matched case-insensitively. Unmapped ids resolve to defaultTier.
func NewTierResolver(mapping map[string]Tier, defaultTier Tier, logger Logger) *TierResolver {
	if defaultTier == "" {
		defaultTier = TierPro
	}
	if logger == nil {
		logger = &NoopLogger{}
	}

	normalized := make(map[string]Tier, len(mapping))
	for k, v := range mapping {
		normalized[strings.ToLower(strings.TrimSpace(k))] = v
	}

	return &TierResolver{
		mapping:     normalized,
		defaultTier: defaultTier,
		logger:      logger,
	}
}

// Resolve returns the tier for a price/product id. It is total: an unmapped
// id returns the default tier with a diagnostic warning, never an error, so
// a missing mapping entry cannot block a user's entitlement.
func (r *TierResolver) Resolve(priceID string) Tier {
	key := strings.ToLower(strings.TrimSpace(priceID))
	if key == "" {
		r.logger.Warn("tier resolution with empty price id, using default",
			Field{Key: "default_tier", Value: r.defaultTier})
		return r.defaultTier
	}

	if tier, ok := r.mapping[key]; ok {
		return tier
	}

	r.logger.Warn("no tier mapping for price id, using default",
		Field{Key: "price_id", Value: priceID},
		Field{Key: "default_tier", Value: r.defaultTier})
	return r.defaultTier
}

// DefaultTier returns the fallback tier for unmapped price ids.
func (r *TierResolver) DefaultTier() Tier {
	return r.defaultTier
}
