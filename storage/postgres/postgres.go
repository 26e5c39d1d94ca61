// Package postgres provides a PostgreSQL implementation of the billing.Store
// interface. Merge semantics are expressed with an upsert that COALESCEs
// unset patch fields onto the stored values.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mihaimyh/stripesync/pkg/billing"
)

// Schema creates the subscriptions table and the customer-id index backing
// the reverse lookup.
const Schema = `
CREATE TABLE IF NOT EXISTS subscriptions (
	user_id         TEXT PRIMARY KEY,
	tier            TEXT NOT NULL DEFAULT 'free',
	is_active       BOOLEAN NOT NULL DEFAULT FALSE,
	period_start    TIMESTAMPTZ,
	period_end      TIMESTAMPTZ,
	subscription_id TEXT NOT NULL DEFAULT '',
	customer_id     TEXT NOT NULL DEFAULT '',
	price_id        TEXT NOT NULL DEFAULT '',
	status          TEXT NOT NULL DEFAULT '',
	updated_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS subscriptions_customer_id_idx ON subscriptions (customer_id);
`

// Store implements billing.Store using PostgreSQL
type Store struct {
	pool   *pgxpool.Pool
	config Config
}

// Config holds PostgreSQL store configuration
type Config struct {
	// ConnectionString is the PostgreSQL connection string
	ConnectionString string

	// Pool configuration
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() Config {
	return Config{
		MaxConns:        10,
		MinConns:        2,
		MaxConnLifetime: time.Hour,
		MaxConnIdleTime: 30 * time.Minute,
	}
}

// New creates a new PostgreSQL store adapter
func New(ctx context.Context, config Config) (*Store, error) {
	if config.ConnectionString == "" {
		return nil, fmt.Errorf("connection string is required")
	}

	poolConfig, err := pgxpool.ParseConfig(config.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}

	if config.MaxConns > 0 {
		poolConfig.MaxConns = config.MaxConns
	}
	if config.MinConns > 0 {
		poolConfig.MinConns = config.MinConns
	}
	if config.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = config.MaxConnLifetime
	}
	if config.MaxConnIdleTime > 0 {
		poolConfig.MaxConnIdleTime = config.MaxConnIdleTime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{pool: pool, config: config}, nil
}

// EnsureSchema creates the subscriptions table and indexes if missing
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("failed to ensure schema: %w", err)
	}
	return nil
}

// Close closes the PostgreSQL connection pool
func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// GetRecord implements billing.Store
func (s *Store) GetRecord(ctx context.Context, userID string) (*billing.Record, error) {
	var rec billing.Record
	var periodStart, periodEnd *time.Time

	err := s.pool.QueryRow(ctx,
		`SELECT user_id, tier, is_active, period_start, period_end,
			subscription_id, customer_id, price_id, status, updated_at
			FROM subscriptions WHERE user_id = $1`,
		userID).Scan(
		&rec.UserID,
		&rec.Tier,
		&rec.IsActive,
		&periodStart,
		&periodEnd,
		&rec.SubscriptionID,
		&rec.CustomerID,
		&rec.PriceID,
		&rec.Status,
		&rec.UpdatedAt,
	)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, billing.ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get record: %w", err)
	}

	if periodStart != nil {
		rec.PeriodStart = *periodStart
	}
	if periodEnd != nil {
		rec.PeriodEnd = *periodEnd
	}
	return &rec, nil
}

// MergeRecord implements billing.Store
func (s *Store) MergeRecord(ctx context.Context, userID string, patch *billing.RecordPatch) error {
	if userID == "" {
		return fmt.Errorf("user id is required")
	}
	if patch == nil {
		return fmt.Errorf("patch is required")
	}

	var tier *string
	if patch.Tier != nil {
		t := string(*patch.Tier)
		tier = &t
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO subscriptions
			(user_id, tier, is_active, period_start, period_end,
			 subscription_id, customer_id, price_id, status, updated_at)
		VALUES ($1, COALESCE($2, 'free'), COALESCE($3, FALSE), $4, $5,
			COALESCE($6, ''), COALESCE($7, ''), COALESCE($8, ''), COALESCE($9, ''), now())
		ON CONFLICT (user_id) DO UPDATE SET
			tier            = COALESCE($2, subscriptions.tier),
			is_active       = COALESCE($3, subscriptions.is_active),
			period_start    = COALESCE($4, subscriptions.period_start),
			period_end      = COALESCE($5, subscriptions.period_end),
			subscription_id = COALESCE($6, subscriptions.subscription_id),
			customer_id     = COALESCE($7, subscriptions.customer_id),
			price_id        = COALESCE($8, subscriptions.price_id),
			status          = COALESCE($9, subscriptions.status),
			updated_at      = now()`,
		userID, tier, patch.IsActive, patch.PeriodStart, patch.PeriodEnd,
		patch.SubscriptionID, patch.CustomerID, patch.PriceID, patch.Status)
	if err != nil {
		return fmt.Errorf("failed to merge record: %w", err)
	}
	return nil
}

// UpdateRecord implements billing.Store
func (s *Store) UpdateRecord(ctx context.Context, userID string, rec *billing.Record) error {
	if rec == nil || userID == "" {
		return fmt.Errorf("invalid record")
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE subscriptions SET
			tier = $2, is_active = $3, period_start = $4, period_end = $5,
			subscription_id = $6, customer_id = $7, price_id = $8, status = $9,
			updated_at = now()
		WHERE user_id = $1`,
		userID, string(rec.Tier), rec.IsActive, rec.PeriodStart, rec.PeriodEnd,
		rec.SubscriptionID, rec.CustomerID, rec.PriceID, rec.Status)
	if err != nil {
		return fmt.Errorf("failed to update record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return billing.ErrRecordNotFound
	}
	return nil
}

// FindUserByCustomerID implements billing.Store
func (s *Store) FindUserByCustomerID(ctx context.Context, customerID string) (string, error) {
	if customerID == "" {
		return "", billing.ErrRecordNotFound
	}

	var userID string
	err := s.pool.QueryRow(ctx,
		`SELECT user_id FROM subscriptions WHERE customer_id = $1 LIMIT 1`,
		customerID).Scan(&userID)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", billing.ErrRecordNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to query by customer id: %w", err)
	}
	return userID, nil
}
