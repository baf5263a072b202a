package storage

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"rentchain/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresRepository implements the Repository interface using PostgreSQL
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository creates a new PostgreSQL repository
func NewPostgresRepository(ctx context.Context, databaseURL string) (*PostgresRepository, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	// Test the connection
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresRepository{
		pool: pool,
	}, nil
}

// EnsureSchema creates the tables this service needs if they do not exist yet
func (r *PostgresRepository) EnsureSchema(ctx context.Context) error {
	ddl := `
		CREATE TABLE IF NOT EXISTS listings (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL DEFAULT '',
			description TEXT NOT NULL DEFAULT '',
			image_url TEXT NOT NULL DEFAULT '',
			owner TEXT NOT NULL,
			renter TEXT NOT NULL,
			content_hash TEXT NOT NULL,
			rent_amount TEXT NOT NULL,
			deposit_amount TEXT NOT NULL,
			duration_days BIGINT NOT NULL,
			contract_address TEXT,
			status TEXT NOT NULL,
			needs_reconcile BOOLEAN NOT NULL DEFAULT FALSE,
			last_reconciled_at TIMESTAMPTZ,
			last_known_chain_active BOOLEAN NOT NULL DEFAULT FALSE,
			last_known_chain_terminated BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_listings_owner ON listings (owner);
		CREATE INDEX IF NOT EXISTS idx_listings_status ON listings (status);

		CREATE TABLE IF NOT EXISTS transaction_records (
			id TEXT PRIMARY KEY,
			nonce BIGINT NOT NULL,
			operation_kind TEXT NOT NULL,
			target_contract_address TEXT,
			ref TEXT NOT NULL DEFAULT '',
			tx_hash TEXT NOT NULL,
			state TEXT NOT NULL,
			submitted_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL,
			result_address TEXT,
			revert_reason TEXT NOT NULL DEFAULT ''
		);
		CREATE INDEX IF NOT EXISTS idx_tx_records_state ON transaction_records (state);
	`

	if _, err := r.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("failed to ensure schema: %w", err)
	}
	return nil
}

const listingColumns = `
	id, title, description, image_url, owner, renter, content_hash,
	rent_amount, deposit_amount, duration_days, contract_address, status,
	needs_reconcile, last_reconciled_at, last_known_chain_active,
	last_known_chain_terminated, created_at, updated_at
`

// SaveListing inserts a new listing row
func (r *PostgresRepository) SaveListing(ctx context.Context, listing *models.Listing) error {
	query := `
		INSERT INTO listings (` + listingColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
	`

	_, err := r.pool.Exec(ctx, query,
		listing.ID,
		listing.Title,
		listing.Description,
		listing.ImageURL,
		listing.Owner,
		listing.Renter,
		listing.ContentHash,
		listing.RentAmount.String(),
		listing.DepositAmount.String(),
		listing.DurationDays,
		listing.ContractAddress,
		listing.Status,
		listing.NeedsReconcile,
		listing.LastReconciledAt,
		listing.LastKnownChainActive,
		listing.LastKnownChainTerminated,
		listing.CreatedAt,
		listing.UpdatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to save listing: %w", err)
	}

	return nil
}

// UpdateListing rewrites the mutable projection fields of a listing
func (r *PostgresRepository) UpdateListing(ctx context.Context, listing *models.Listing) error {
	listing.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE listings SET
			contract_address = $2,
			status = $3,
			needs_reconcile = $4,
			last_reconciled_at = $5,
			last_known_chain_active = $6,
			last_known_chain_terminated = $7,
			updated_at = $8
		WHERE id = $1
	`

	tag, err := r.pool.Exec(ctx, query,
		listing.ID,
		listing.ContractAddress,
		listing.Status,
		listing.NeedsReconcile,
		listing.LastReconciledAt,
		listing.LastKnownChainActive,
		listing.LastKnownChainTerminated,
		listing.UpdatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to update listing: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("listing %s: %w", listing.ID, ErrNotFound)
	}

	return nil
}

// GetListing retrieves a listing by id
func (r *PostgresRepository) GetListing(ctx context.Context, id string) (*models.Listing, error) {
	query := `SELECT ` + listingColumns + ` FROM listings WHERE id = $1`

	listing, err := scanListing(r.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("listing %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get listing: %w", err)
	}

	return listing, nil
}

// ListListings lists all listings with pagination
func (r *PostgresRepository) ListListings(ctx context.Context, limit, offset int) ([]*models.Listing, error) {
	query := `
		SELECT ` + listingColumns + `
		FROM listings
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2
	`

	rows, err := r.pool.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list listings: %w", err)
	}
	defer rows.Close()

	return collectListings(rows)
}

// ListListingsByOwner lists the listings published by one owner address
func (r *PostgresRepository) ListListingsByOwner(ctx context.Context, owner string, limit, offset int) ([]*models.Listing, error) {
	query := `
		SELECT ` + listingColumns + `
		FROM listings
		WHERE owner = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.pool.Query(ctx, query, owner, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list listings by owner: %w", err)
	}
	defer rows.Close()

	return collectListings(rows)
}

// ListListingsForReconciliation returns every non-terminated listing that has
// a contract address set
func (r *PostgresRepository) ListListingsForReconciliation(ctx context.Context) ([]*models.Listing, error) {
	query := `
		SELECT ` + listingColumns + `
		FROM listings
		WHERE status != $1 AND contract_address IS NOT NULL
		ORDER BY created_at ASC
	`

	rows, err := r.pool.Query(ctx, query, models.StatusTerminated)
	if err != nil {
		return nil, fmt.Errorf("failed to list listings for reconciliation: %w", err)
	}
	defer rows.Close()

	return collectListings(rows)
}

// SaveTransactionRecord inserts a journal row for a submitted transaction
func (r *PostgresRepository) SaveTransactionRecord(ctx context.Context, record *models.TransactionRecord) error {
	query := `
		INSERT INTO transaction_records (
			id, nonce, operation_kind, target_contract_address, ref, tx_hash,
			state, submitted_at, updated_at, result_address, revert_reason
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	_, err := r.pool.Exec(ctx, query,
		record.ID,
		record.Nonce,
		record.OperationKind,
		record.TargetContractAddress,
		record.Ref,
		record.TxHash,
		record.State,
		record.SubmittedAt,
		record.UpdatedAt,
		record.ResultAddress,
		record.RevertReason,
	)

	if err != nil {
		return fmt.Errorf("failed to save transaction record: %w", err)
	}

	return nil
}

// UpdateTransactionRecord rewrites the outcome fields of a journal row
func (r *PostgresRepository) UpdateTransactionRecord(ctx context.Context, record *models.TransactionRecord) error {
	record.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE transaction_records SET
			tx_hash = $2,
			state = $3,
			result_address = $4,
			revert_reason = $5,
			updated_at = $6
		WHERE id = $1
	`

	tag, err := r.pool.Exec(ctx, query,
		record.ID,
		record.TxHash,
		record.State,
		record.ResultAddress,
		record.RevertReason,
		record.UpdatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to update transaction record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("transaction record %s: %w", record.ID, ErrNotFound)
	}

	return nil
}

// ListUnresolvedTransactions returns journal rows still awaiting resolution
// (timed out or never observed confirming)
func (r *PostgresRepository) ListUnresolvedTransactions(ctx context.Context) ([]*models.TransactionRecord, error) {
	query := `
		SELECT
			id, nonce, operation_kind, target_contract_address, ref, tx_hash,
			state, submitted_at, updated_at, result_address, revert_reason
		FROM transaction_records
		WHERE state IN ($1, $2)
		ORDER BY nonce ASC
	`

	rows, err := r.pool.Query(ctx, query, models.TxSubmitted, models.TxTimedOut)
	if err != nil {
		return nil, fmt.Errorf("failed to list unresolved transactions: %w", err)
	}
	defer rows.Close()

	var records []*models.TransactionRecord
	for rows.Next() {
		var record models.TransactionRecord
		err := rows.Scan(
			&record.ID,
			&record.Nonce,
			&record.OperationKind,
			&record.TargetContractAddress,
			&record.Ref,
			&record.TxHash,
			&record.State,
			&record.SubmittedAt,
			&record.UpdatedAt,
			&record.ResultAddress,
			&record.RevertReason,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction record: %w", err)
		}
		records = append(records, &record)
	}

	return records, rows.Err()
}

// ListOrphanCandidates returns confirmed deploy journal rows whose listing
// write never happened
func (r *PostgresRepository) ListOrphanCandidates(ctx context.Context) ([]*models.TransactionRecord, error) {
	query := `
		SELECT
			id, nonce, operation_kind, target_contract_address, ref, tx_hash,
			state, submitted_at, updated_at, result_address, revert_reason
		FROM transaction_records t
		WHERE t.state = $1
		  AND t.operation_kind = $2
		  AND NOT EXISTS (SELECT 1 FROM listings l WHERE l.id = t.ref)
		ORDER BY nonce ASC
	`

	rows, err := r.pool.Query(ctx, query, models.TxConfirmed, models.OpDeploy)
	if err != nil {
		return nil, fmt.Errorf("failed to list orphan candidates: %w", err)
	}
	defer rows.Close()

	var records []*models.TransactionRecord
	for rows.Next() {
		var record models.TransactionRecord
		err := rows.Scan(
			&record.ID,
			&record.Nonce,
			&record.OperationKind,
			&record.TargetContractAddress,
			&record.Ref,
			&record.TxHash,
			&record.State,
			&record.SubmittedAt,
			&record.UpdatedAt,
			&record.ResultAddress,
			&record.RevertReason,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan orphan candidate: %w", err)
		}
		records = append(records, &record)
	}

	return records, rows.Err()
}

// Ping verifies database connectivity
func (r *PostgresRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// Close closes the connection pool
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// scanListing reads one listing row, converting the wei columns from their
// decimal-string representation back into big integers
func scanListing(row pgx.Row) (*models.Listing, error) {
	var listing models.Listing
	var rentStr, depositStr string

	err := row.Scan(
		&listing.ID,
		&listing.Title,
		&listing.Description,
		&listing.ImageURL,
		&listing.Owner,
		&listing.Renter,
		&listing.ContentHash,
		&rentStr,
		&depositStr,
		&listing.DurationDays,
		&listing.ContractAddress,
		&listing.Status,
		&listing.NeedsReconcile,
		&listing.LastReconciledAt,
		&listing.LastKnownChainActive,
		&listing.LastKnownChainTerminated,
		&listing.CreatedAt,
		&listing.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	var ok bool
	if listing.RentAmount, ok = new(big.Int).SetString(rentStr, 10); !ok {
		return nil, fmt.Errorf("invalid rent_amount %q for listing %s", rentStr, listing.ID)
	}
	if listing.DepositAmount, ok = new(big.Int).SetString(depositStr, 10); !ok {
		return nil, fmt.Errorf("invalid deposit_amount %q for listing %s", depositStr, listing.ID)
	}

	return &listing, nil
}

func collectListings(rows pgx.Rows) ([]*models.Listing, error) {
	var listings []*models.Listing
	for rows.Next() {
		listing, err := scanListing(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan listing: %w", err)
		}
		listings = append(listings, listing)
	}
	return listings, rows.Err()
}
