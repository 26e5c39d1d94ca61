// Package redis provides a Redis implementation of the billing.Store
// interface. Records are stored as JSON values; a secondary key per provider
// customer id backs the reverse lookup.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mihaimyh/stripesync/pkg/billing"
)

const defaultKeyPrefix = "stripesync"

// Store implements billing.Store using Redis
type Store struct {
	client    *redis.Client
	keyPrefix string
}

// Config holds Redis store configuration
type Config struct {
	// KeyPrefix namespaces all keys. Default: "stripesync".
	KeyPrefix string
}

// New creates a new Redis store adapter
func New(client *redis.Client, config Config) (*Store, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if config.KeyPrefix == "" {
		config.KeyPrefix = defaultKeyPrefix
	}

	return &Store{
		client:    client,
		keyPrefix: config.KeyPrefix,
	}, nil
}

// GetRecord implements billing.Store
func (s *Store) GetRecord(ctx context.Context, userID string) (*billing.Record, error) {
	data, err := s.client.Get(ctx, s.recordKey(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, billing.ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get record: %w", err)
	}

	var rec billing.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode record: %w", err)
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

	key := s.recordKey(userID)

	// Optimistic read-modify-write; the watch keeps concurrent merges for
	// the same user from dropping each other's fields.
	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		rec := &billing.Record{UserID: userID, Tier: billing.TierFree}

		data, err := tx.Get(ctx, key).Bytes()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if err == nil {
			if err := json.Unmarshal(data, rec); err != nil {
				return fmt.Errorf("failed to decode record: %w", err)
			}
		}

		patch.Apply(rec)
		rec.UpdatedAt = time.Now().UTC()

		encoded, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("failed to encode record: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, encoded, 0)
			if rec.CustomerID != "" {
				pipe.Set(ctx, s.customerKey(rec.CustomerID), userID, 0)
			}
			return nil
		})
		return err
	}, key)
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

	key := s.recordKey(userID)

	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("failed to check record: %w", err)
	}
	if exists == 0 {
		return billing.ErrRecordNotFound
	}

	recCopy := *rec
	recCopy.UserID = userID
	recCopy.UpdatedAt = time.Now().UTC()

	encoded, err := json.Marshal(&recCopy)
	if err != nil {
		return fmt.Errorf("failed to encode record: %w", err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, key, encoded, 0)
		if recCopy.CustomerID != "" {
			pipe.Set(ctx, s.customerKey(recCopy.CustomerID), userID, 0)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to update record: %w", err)
	}
	return nil
}

// FindUserByCustomerID implements billing.Store
func (s *Store) FindUserByCustomerID(ctx context.Context, customerID string) (string, error) {
	if customerID == "" {
		return "", billing.ErrRecordNotFound
	}

	userID, err := s.client.Get(ctx, s.customerKey(customerID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", billing.ErrRecordNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to query by customer id: %w", err)
	}
	return userID, nil
}

func (s *Store) recordKey(userID string) string {
	return fmt.Sprintf("%s:record:%s", s.keyPrefix, userID)
}

func (s *Store) customerKey(customerID string) string {
	return fmt.Sprintf("%s:customer:%s", s.keyPrefix, customerID)
}
