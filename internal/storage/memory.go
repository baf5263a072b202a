package storage

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"sync"
	"time"

	"rentchain/internal/models"
)

// MemoryRepository is an in-memory Repository used for tests and local
// development without a database
type MemoryRepository struct {
	mu       sync.RWMutex
	listings map[string]*models.Listing
	records  map[string]*models.TransactionRecord
}

// NewMemoryRepository creates an empty in-memory repository
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		listings: make(map[string]*models.Listing),
		records:  make(map[string]*models.TransactionRecord),
	}
}

// SaveListing inserts a new listing
func (r *MemoryRepository) SaveListing(ctx context.Context, listing *models.Listing) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.listings[listing.ID]; exists {
		return fmt.Errorf("listing %s already exists", listing.ID)
	}
	r.listings[listing.ID] = cloneListing(listing)
	return nil
}

// UpdateListing rewrites an existing listing
func (r *MemoryRepository) UpdateListing(ctx context.Context, listing *models.Listing) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.listings[listing.ID]; !exists {
		return fmt.Errorf("listing %s: %w", listing.ID, ErrNotFound)
	}
	listing.UpdatedAt = time.Now().UTC()
	r.listings[listing.ID] = cloneListing(listing)
	return nil
}

// GetListing retrieves a listing by id
func (r *MemoryRepository) GetListing(ctx context.Context, id string) (*models.Listing, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	listing, exists := r.listings[id]
	if !exists {
		return nil, fmt.Errorf("listing %s: %w", id, ErrNotFound)
	}
	return cloneListing(listing), nil
}

// ListListings lists all listings, newest first
func (r *MemoryRepository) ListListings(ctx context.Context, limit, offset int) ([]*models.Listing, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	all := r.sortedListings()
	return paginate(all, limit, offset), nil
}

// ListListingsByOwner lists the listings published by one owner address
func (r *MemoryRepository) ListListingsByOwner(ctx context.Context, owner string, limit, offset int) ([]*models.Listing, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var matched []*models.Listing
	for _, listing := range r.sortedListings() {
		if listing.Owner == owner {
			matched = append(matched, listing)
		}
	}
	return paginate(matched, limit, offset), nil
}

// ListListingsForReconciliation returns non-terminated listings with a
// contract address
func (r *MemoryRepository) ListListingsForReconciliation(ctx context.Context) ([]*models.Listing, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var matched []*models.Listing
	for _, listing := range r.sortedListings() {
		if listing.Status != models.StatusTerminated && listing.ContractAddress != nil {
			matched = append(matched, listing)
		}
	}
	return matched, nil
}

// SaveTransactionRecord inserts a journal row
func (r *MemoryRepository) SaveTransactionRecord(ctx context.Context, record *models.TransactionRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.records[record.ID]; exists {
		return fmt.Errorf("transaction record %s already exists", record.ID)
	}
	clone := *record
	r.records[record.ID] = &clone
	return nil
}

// UpdateTransactionRecord rewrites the outcome fields of a journal row,
// mirroring the column set the Postgres implementation updates
func (r *MemoryRepository) UpdateTransactionRecord(ctx context.Context, record *models.TransactionRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, exists := r.records[record.ID]
	if !exists {
		return fmt.Errorf("transaction record %s: %w", record.ID, ErrNotFound)
	}
	existing.TxHash = record.TxHash
	existing.State = record.State
	existing.ResultAddress = record.ResultAddress
	existing.RevertReason = record.RevertReason
	existing.UpdatedAt = time.Now().UTC()
	return nil
}

// ListUnresolvedTransactions returns journal rows still awaiting resolution
func (r *MemoryRepository) ListUnresolvedTransactions(ctx context.Context) ([]*models.TransactionRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var records []*models.TransactionRecord
	for _, record := range r.records {
		if record.State == models.TxSubmitted || record.State == models.TxTimedOut {
			clone := *record
			records = append(records, &clone)
		}
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Nonce < records[j].Nonce })
	return records, nil
}

// ListOrphanCandidates returns confirmed deploy journal rows whose listing
// write never happened
func (r *MemoryRepository) ListOrphanCandidates(ctx context.Context) ([]*models.TransactionRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var records []*models.TransactionRecord
	for _, record := range r.records {
		if record.State != models.TxConfirmed || record.OperationKind != models.OpDeploy {
			continue
		}
		if _, exists := r.listings[record.Ref]; exists {
			continue
		}
		clone := *record
		records = append(records, &clone)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Nonce < records[j].Nonce })
	return records, nil
}

// Ping always succeeds for the in-memory repository
func (r *MemoryRepository) Ping(ctx context.Context) error {
	return nil
}

// Close is a no-op for the in-memory repository
func (r *MemoryRepository) Close() error {
	return nil
}

func (r *MemoryRepository) sortedListings() []*models.Listing {
	all := make([]*models.Listing, 0, len(r.listings))
	for _, listing := range r.listings {
		all = append(all, cloneListing(listing))
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].ID < all[j].ID
		}
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})
	return all
}

func paginate(listings []*models.Listing, limit, offset int) []*models.Listing {
	if offset >= len(listings) {
		return nil
	}
	listings = listings[offset:]
	if limit > 0 && limit < len(listings) {
		listings = listings[:limit]
	}
	return listings
}

// cloneListing deep-copies a listing so callers cannot mutate stored state
// through shared big.Int or pointer fields
func cloneListing(l *models.Listing) *models.Listing {
	clone := *l
	if l.RentAmount != nil {
		clone.RentAmount = new(big.Int).Set(l.RentAmount)
	}
	if l.DepositAmount != nil {
		clone.DepositAmount = new(big.Int).Set(l.DepositAmount)
	}
	if l.ContractAddress != nil {
		addr := *l.ContractAddress
		clone.ContractAddress = &addr
	}
	if l.LastReconciledAt != nil {
		ts := *l.LastReconciledAt
		clone.LastReconciledAt = &ts
	}
	return &clone
}
