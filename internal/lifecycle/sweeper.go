package lifecycle

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"rentchain/internal/broadcast"
	"rentchain/internal/chain"
	"rentchain/internal/metrics"
	"rentchain/internal/models"
	"rentchain/internal/storage"
)

// SweeperConfig bounds the periodic reconciliation pass
type SweeperConfig struct {
	Interval time.Duration

	// How long a submitted transaction may sit unobserved before the sweep
	// treats it as abandoned by its caller
	StaleAfter time.Duration

	// Whether timed-out transactions still absent from the chain get a
	// fee-bumped same-nonce replacement
	ReplaceEnabled bool
}

// Sweeper is the periodic self-healing pass: it reconciles every
// non-terminated listing with a contract address, resolves timed-out journal
// entries, and discovers orphaned deploys (contracts that confirmed after
// their caller had already given up).
type Sweeper struct {
	coordinator *Coordinator
	store       storage.Repository
	queue       *broadcast.Queue
	client      *chain.Client
	cfg         SweeperConfig
}

// NewSweeper creates the reconciliation sweeper
func NewSweeper(coordinator *Coordinator, store storage.Repository, queue *broadcast.Queue, client *chain.Client, cfg SweeperConfig) *Sweeper {
	if cfg.Interval <= 0 {
		cfg.Interval = 60 * time.Second
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = 5 * time.Minute
	}
	return &Sweeper{
		coordinator: coordinator,
		store:       store,
		queue:       queue,
		client:      client,
		cfg:         cfg,
	}
}

// Run executes sweep passes until the context is cancelled
func (s *Sweeper) Run(ctx context.Context) {
	slog.Info("Reconciliation sweeper starting",
		"interval", s.cfg.Interval,
		"stale_after", s.cfg.StaleAfter,
		"replace_enabled", s.cfg.ReplaceEnabled,
	)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("Reconciliation sweeper stopped")
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

// sweep performs one full pass
func (s *Sweeper) sweep(ctx context.Context) {
	s.resolvePendingHandles(ctx)
	s.resolveJournal(ctx)
	s.detectOrphans(ctx)
	s.reconcileListings(ctx)
	metrics.ReconciliationSweeps.Inc()
}

// resolvePendingHandles re-checks the queue's live timed-out handles: the
// transaction may have been included after its caller abandoned the wait
func (s *Sweeper) resolvePendingHandles(ctx context.Context) {
	for _, handle := range s.queue.PendingHandles() {
		outcome := s.queue.Resolve(ctx, handle)

		switch outcome.State {
		case models.TxConfirmed:
			s.routeLateConfirmation(ctx, handle.Kind, handle.Ref(), handle.RecordID, handle.Nonce, handle.TxHash.Hex(), outcome.ResultAddress)

		case models.TxReverted:
			// Terminal; the journal is already updated by Resolve. Re-read
			// chain truth for the listing in case anything else moved it.
			if handle.Ref() != "" && handle.Kind != models.OpDeploy {
				s.reconcileOne(ctx, handle.Ref())
			}

		case models.TxTimedOut:
			if s.cfg.ReplaceEnabled && handle.Age() > s.cfg.StaleAfter {
				if _, err := s.queue.Replace(ctx, handle); err != nil {
					slog.Warn("Replacement submission failed",
						"tx_hash", handle.TxHash.Hex(),
						"error", err,
					)
				}
			}
		}
	}
}

// resolveJournal resolves persisted journal rows with no live handle, e.g.
// submissions from a previous process run that crashed mid-wait
func (s *Sweeper) resolveJournal(ctx context.Context) {
	records, err := s.store.ListUnresolvedTransactions(ctx)
	if err != nil {
		slog.Error("Failed to list unresolved transactions", "error", err)
		return
	}
	metrics.UnresolvedTransactions.Set(float64(len(records)))

	live := make(map[string]struct{})
	for _, handle := range s.queue.PendingHandles() {
		live[handle.RecordID] = struct{}{}
	}

	for _, record := range records {
		if _, ok := live[record.ID]; ok {
			continue // handled by resolvePendingHandles
		}
		// A fresh submission may still have its caller waiting on it
		if record.State == models.TxSubmitted && time.Since(record.SubmittedAt) < s.cfg.StaleAfter {
			continue
		}

		receipt, err := s.client.Receipt(ctx, common.HexToHash(record.TxHash))
		if err != nil {
			continue // still not included, or endpoint unavailable; next pass
		}

		if receipt.Status == types.ReceiptStatusSuccessful {
			var resultAddr *common.Address
			if record.OperationKind == models.OpDeploy {
				addr := receipt.ContractAddress
				resultAddr = &addr
			}
			record.State = models.TxConfirmed
			s.updateRecord(ctx, record, resultAddr)
			s.routeLateConfirmation(ctx, record.OperationKind, record.Ref, record.ID, record.Nonce, record.TxHash, resultAddr)
		} else {
			record.State = models.TxReverted
			record.RevertReason = "reverted (resolved by reconciliation sweep)"
			s.updateRecord(ctx, record, nil)
			if record.Ref != "" && record.OperationKind != models.OpDeploy {
				s.reconcileOne(ctx, record.Ref)
			}
		}
	}
}

// routeLateConfirmation handles a transaction found confirmed after the fact.
// Deploys whose listing was never persisted become orphans flagged for manual
// cleanup; everything else routes into reconciliation for its listing.
func (s *Sweeper) routeLateConfirmation(ctx context.Context, kind models.OperationKind, ref, recordID string, nonce uint64, txHash string, resultAddr *common.Address) {
	if kind == models.OpDeploy {
		_, err := s.store.GetListing(ctx, ref)
		if errors.Is(err, storage.ErrNotFound) {
			record := &models.TransactionRecord{
				ID:            recordID,
				Nonce:         nonce,
				OperationKind: kind,
				Ref:           ref,
				TxHash:        txHash,
				State:         models.TxOrphaned,
				UpdatedAt:     time.Now().UTC(),
			}
			if resultAddr != nil {
				addr := resultAddr.Hex()
				record.ResultAddress = &addr
			}
			if uerr := s.store.UpdateTransactionRecord(ctx, record); uerr != nil {
				slog.Error("Failed to mark orphaned deploy", "record_id", recordID, "error", uerr)
			}
			metrics.OrphanedContracts.Inc()
			slog.Error("Orphaned contract discovered: deploy confirmed after caller gave up",
				"record_id", recordID,
				"tx_hash", txHash,
				"contract_address", record.ResultAddress,
			)
		}
		return
	}

	if ref != "" {
		s.reconcileOne(ctx, ref)
	}
}

// detectOrphans flags confirmed deploy journal rows whose listing write never
// happened. This catches the write-failure path where the journal already
// reads Confirmed when the caller's SaveListing fails, so the row never passes
// through the unresolved set again.
func (s *Sweeper) detectOrphans(ctx context.Context) {
	candidates, err := s.store.ListOrphanCandidates(ctx)
	if err != nil {
		slog.Error("Failed to list orphan candidates", "error", err)
		return
	}

	for _, record := range candidates {
		record.State = models.TxOrphaned
		record.UpdatedAt = time.Now().UTC()
		if err := s.store.UpdateTransactionRecord(ctx, record); err != nil {
			slog.Error("Failed to mark orphaned deploy", "record_id", record.ID, "error", err)
			continue
		}
		metrics.OrphanedContracts.Inc()
		slog.Error("Orphaned contract discovered: deploy confirmed without a listing row",
			"record_id", record.ID,
			"tx_hash", record.TxHash,
			"contract_address", record.ResultAddress,
		)
	}
}

// reconcileListings re-reads chain truth for every non-terminated listing
// with a contract address, self-healing silent drift
func (s *Sweeper) reconcileListings(ctx context.Context) {
	listings, err := s.store.ListListingsForReconciliation(ctx)
	if err != nil {
		slog.Error("Failed to list listings for reconciliation", "error", err)
		return
	}

	for _, listing := range listings {
		s.reconcileOne(ctx, listing.ID)
	}
}

func (s *Sweeper) reconcileOne(ctx context.Context, listingID string) {
	if _, err := s.coordinator.Reconcile(ctx, listingID); err != nil {
		// A listing with an operation in flight is skipped, not an error
		if models.IsFault(err, models.FaultInvalidStateTransition) {
			return
		}
		slog.Warn("Reconciliation failed", "listing_id", listingID, "error", err)
	}
}

func (s *Sweeper) updateRecord(ctx context.Context, record *models.TransactionRecord, resultAddr *common.Address) {
	record.UpdatedAt = time.Now().UTC()
	if resultAddr != nil {
		addr := resultAddr.Hex()
		record.ResultAddress = &addr
	}
	if err := s.store.UpdateTransactionRecord(ctx, record); err != nil {
		slog.Error("Failed to update transaction record", "record_id", record.ID, "error", err)
	}
}
