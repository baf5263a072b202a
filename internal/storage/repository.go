package storage

import (
	"context"
	"errors"

	"rentchain/internal/models"
)

// ErrNotFound is returned when a requested row does not exist
var ErrNotFound = errors.New("not found")

// Repository defines the interface for all storage operations.
// The store is a projection, never authoritative for chain state: it is
// written only by the lifecycle coordinator and the reconciliation pass.
type Repository interface {
	// Listings
	SaveListing(ctx context.Context, listing *models.Listing) error
	UpdateListing(ctx context.Context, listing *models.Listing) error
	GetListing(ctx context.Context, id string) (*models.Listing, error)
	ListListings(ctx context.Context, limit, offset int) ([]*models.Listing, error)
	ListListingsByOwner(ctx context.Context, owner string, limit, offset int) ([]*models.Listing, error)

	// Non-terminated listings with a contract address: the reconciliation
	// sweep's working set
	ListListingsForReconciliation(ctx context.Context) ([]*models.Listing, error)

	// Transaction journal
	SaveTransactionRecord(ctx context.Context, record *models.TransactionRecord) error
	UpdateTransactionRecord(ctx context.Context, record *models.TransactionRecord) error
	ListUnresolvedTransactions(ctx context.Context) ([]*models.TransactionRecord, error)

	// Confirmed deploys whose Ref has no listing row: the deploy landed but
	// the projection write never did, so a contract exists with nothing
	// pointing at it
	ListOrphanCandidates(ctx context.Context) ([]*models.TransactionRecord, error)

	// Health & Maintenance
	Ping(ctx context.Context) error
	Close() error
}
