package billing

import "context"

// Store persists subscription records keyed by application user id.
// Implementations must provide per-document atomic writes; concurrent writes
// for the same user are last-write-wins, no application-level locking.
type Store interface {
	// GetRecord returns the record for a user, or ErrRecordNotFound.
	GetRecord(ctx context.Context, userID string) (*Record, error)

	// MergeRecord applies a partial update to the user's record, creating the
	// record if it does not exist. Nil patch fields are left untouched.
	// The store sets UpdatedAt on every write.
	MergeRecord(ctx context.Context, userID string, patch *RecordPatch) error

	// UpdateRecord overwrites the user's record. Returns ErrRecordNotFound
	// when no record exists; it never creates one.
	UpdateRecord(ctx context.Context, userID string, rec *Record) error

	// FindUserByCustomerID reverse-looks-up the user owning a provider
	// customer id, limited to a single match. Zero matches return
	// ErrRecordNotFound; the field is expected unique in practice since it is
	// set once at checkout completion and never reassigned.
	FindUserByCustomerID(ctx context.Context, customerID string) (string, error)
}
