// Package memory provides an in-memory implementation of the billing.Store
// interface. This implementation is primarily intended for testing and
// development.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mihaimyh/stripesync/pkg/billing"
)

// Store implements billing.Store using an in-memory map
type Store struct {
	mu      sync.RWMutex
	records map[string]*billing.Record
}

// New creates a new in-memory store
func New() *Store {
	return &Store{
		records: make(map[string]*billing.Record),
	}
}

// GetRecord implements billing.Store
func (s *Store) GetRecord(ctx context.Context, userID string) (*billing.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[userID]
	if !ok {
		return nil, billing.ErrRecordNotFound
	}

	// Return a copy to prevent external mutations
	recCopy := *rec
	return &recCopy, nil
}

// MergeRecord implements billing.Store
func (s *Store) MergeRecord(ctx context.Context, userID string, patch *billing.RecordPatch) error {
	if userID == "" {
		return fmt.Errorf("user id is required")
	}
	if patch == nil {
		return fmt.Errorf("patch is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[userID]
	if !ok {
		rec = &billing.Record{UserID: userID, Tier: billing.TierFree}
		s.records[userID] = rec
	}

	patch.Apply(rec)
	rec.UpdatedAt = time.Now().UTC()
	return nil
}

// UpdateRecord implements billing.Store
func (s *Store) UpdateRecord(ctx context.Context, userID string, rec *billing.Record) error {
	if rec == nil || userID == "" {
		return fmt.Errorf("invalid record")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[userID]; !ok {
		return billing.ErrRecordNotFound
	}

	recCopy := *rec
	recCopy.UserID = userID
	recCopy.UpdatedAt = time.Now().UTC()
	s.records[userID] = &recCopy
	return nil
}

// FindUserByCustomerID implements billing.Store
func (s *Store) FindUserByCustomerID(ctx context.Context, customerID string) (string, error) {
	if customerID == "" {
		return "", billing.ErrRecordNotFound
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	for userID, rec := range s.records {
		if rec.CustomerID == customerID {
			return userID, nil
		}
	}
	return "", billing.ErrRecordNotFound
}
