package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"rentchain/internal/metrics"
	"rentchain/internal/models"
)

// Reconcile compares the stored projection against the authoritative on-chain
// state and corrects the store whenever they diverge. The chain always wins.
// Idempotent: with no intervening chain change, a second run is a no-op.
func (c *Coordinator) Reconcile(ctx context.Context, listingID string) (*models.Listing, error) {
	if !c.acquire(listingID) {
		return nil, models.NewFault(models.FaultInvalidStateTransition, "another operation is in flight for this listing")
	}
	defer c.release(listingID)

	listing, err := c.getListing(ctx, listingID)
	if err != nil {
		return nil, err
	}

	// Nothing on chain to compare against before a confirmed deploy
	if listing.ContractAddress == nil {
		return listing, nil
	}

	// Terminated is a one-way gate; the chain cannot move it back
	if listing.Status.Terminal() {
		return listing, nil
	}

	view, err := c.reader.FetchView(ctx, common.HexToAddress(*listing.ContractAddress))
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	desired := view.StatusFromChain()

	if desired != listing.Status {
		// A prior partial-failure window left the projection behind; correct
		// it and record the signal
		slog.Warn("Drift detected, correcting projection to chain truth",
			"listing_id", listing.ID,
			"stored_status", listing.Status,
			"chain_status", desired,
			"is_active", view.IsActive,
			"is_terminated", view.IsTerminated,
		)
		metrics.DriftCorrections.Inc()
		listing.Status = desired
	}

	listing.LastKnownChainActive = view.IsActive
	listing.LastKnownChainTerminated = view.IsTerminated
	listing.LastReconciledAt = &now
	listing.NeedsReconcile = false

	if err := c.store.UpdateListing(ctx, listing); err != nil {
		return nil, fmt.Errorf("failed to persist reconciled listing: %w", err)
	}

	return listing, nil
}
