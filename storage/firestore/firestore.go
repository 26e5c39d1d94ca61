// Package firestore provides a Firestore implementation of the billing.Store
// interface. This is the primary production backend: one document per user in
// a single collection, queryable by the provider customer id.
package firestore

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/mihaimyh/stripesync/pkg/billing"
)

// Store implements billing.Store using Google Cloud Firestore
type Store struct {
	client     *firestore.Client
	collection string
}

// Config holds Firestore store configuration
type Config struct {
	// Collection is the Firestore collection for subscription records.
	// Default: "subscriptions".
	// The customerId field should be backed by a single-field index for the
	// reverse lookup query volume.
	Collection string
}

// New creates a new Firestore store adapter
func New(client *firestore.Client, config Config) (*Store, error) {
	if client == nil {
		return nil, fmt.Errorf("firestore client is required")
	}
	if config.Collection == "" {
		config.Collection = "subscriptions"
	}

	return &Store{
		client:     client,
		collection: config.Collection,
	}, nil
}

// GetRecord implements billing.Store
func (s *Store) GetRecord(ctx context.Context, userID string) (*billing.Record, error) {
	doc := s.client.Collection(s.collection).Doc(userID)
	snap, err := doc.Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, billing.ErrRecordNotFound
		}
		return nil, fmt.Errorf("failed to get record: %w", err)
	}

	if !snap.Exists() {
		return nil, billing.ErrRecordNotFound
	}

	data := snap.Data()
	return &billing.Record{
		UserID:         userID,
		Tier:           billing.Tier(getString(data, "tier")),
		IsActive:       getBool(data, "isActive"),
		PeriodStart:    getTime(data, "periodStart"),
		PeriodEnd:      getTime(data, "periodEnd"),
		SubscriptionID: getString(data, "stripeSubscriptionId"),
		CustomerID:     getString(data, "stripeCustomerId"),
		PriceID:        getString(data, "stripePriceId"),
		Status:         getString(data, "stripeStatus"),
		UpdatedAt:      getTime(data, "updatedAt"),
	}, nil
}

// MergeRecord implements billing.Store
func (s *Store) MergeRecord(ctx context.Context, userID string, patch *billing.RecordPatch) error {
	if userID == "" {
		return fmt.Errorf("user id is required")
	}
	if patch == nil {
		return fmt.Errorf("patch is required")
	}

	data := map[string]interface{}{
		"updatedAt": firestore.ServerTimestamp,
	}
	if patch.Tier != nil {
		data["tier"] = string(*patch.Tier)
	}
	if patch.IsActive != nil {
		data["isActive"] = *patch.IsActive
	}
	if patch.PeriodStart != nil {
		data["periodStart"] = *patch.PeriodStart
	}
	if patch.PeriodEnd != nil {
		data["periodEnd"] = *patch.PeriodEnd
	}
	if patch.SubscriptionID != nil {
		data["stripeSubscriptionId"] = *patch.SubscriptionID
	}
	if patch.CustomerID != nil {
		data["stripeCustomerId"] = *patch.CustomerID
	}
	if patch.PriceID != nil {
		data["stripePriceId"] = *patch.PriceID
	}
	if patch.Status != nil {
		data["stripeStatus"] = *patch.Status
	}

	doc := s.client.Collection(s.collection).Doc(userID)
	if _, err := doc.Set(ctx, data, firestore.MergeAll); err != nil {
		return fmt.Errorf("failed to merge record: %w", err)
	}
	return nil
}

// UpdateRecord implements billing.Store
func (s *Store) UpdateRecord(ctx context.Context, userID string, rec *billing.Record) error {
	if rec == nil || userID == "" {
		return fmt.Errorf("invalid record")
	}

	doc := s.client.Collection(s.collection).Doc(userID)
	_, err := doc.Update(ctx, []firestore.Update{
		{Path: "tier", Value: string(rec.Tier)},
		{Path: "isActive", Value: rec.IsActive},
		{Path: "periodStart", Value: rec.PeriodStart},
		{Path: "periodEnd", Value: rec.PeriodEnd},
		{Path: "stripeSubscriptionId", Value: rec.SubscriptionID},
		{Path: "stripeCustomerId", Value: rec.CustomerID},
		{Path: "stripePriceId", Value: rec.PriceID},
		{Path: "stripeStatus", Value: rec.Status},
		{Path: "updatedAt", Value: firestore.ServerTimestamp},
	})
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return billing.ErrRecordNotFound
		}
		return fmt.Errorf("failed to update record: %w", err)
	}
	return nil
}

// FindUserByCustomerID implements billing.Store
func (s *Store) FindUserByCustomerID(ctx context.Context, customerID string) (string, error) {
	if customerID == "" {
		return "", billing.ErrRecordNotFound
	}

	iter := s.client.Collection(s.collection).
		Where("stripeCustomerId", "==", customerID).
		Limit(1).
		Documents(ctx)
	defer iter.Stop()

	snap, err := iter.Next()
	if err == iterator.Done {
		return "", billing.ErrRecordNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to query by customer id: %w", err)
	}

	return snap.Ref.ID, nil
}

// Helper functions for type conversion from Firestore data

func getString(data map[string]interface{}, key string) string {
	if v, ok := data[key].(string); ok {
		return v
	}
	return ""
}

func getBool(data map[string]interface{}, key string) bool {
	if v, ok := data[key].(bool); ok {
		return v
	}
	return false
}

func getTime(data map[string]interface{}, key string) time.Time {
	if v, ok := data[key].(time.Time); ok {
		return v
	}
	return time.Time{}
}
