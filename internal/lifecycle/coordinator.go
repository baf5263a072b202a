package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"rentchain/internal/broadcast"
	"rentchain/internal/chain"
	"rentchain/internal/metrics"
	"rentchain/internal/models"
	"rentchain/internal/storage"
)

// Broadcaster is the slice of the broadcast queue the coordinator drives.
// Satisfied by *broadcast.Queue; tests substitute a scripted fake.
type Broadcaster interface {
	Enqueue(ctx context.Context, kind models.OperationKind, payload broadcast.Payload) (*broadcast.Handle, error)
	AwaitOutcome(ctx context.Context, handle *broadcast.Handle, timeout time.Duration) broadcast.Outcome
}

// AgreementReader fetches the authoritative on-chain view of an agreement.
// Satisfied by *agreement.Aggregator.
type AgreementReader interface {
	FetchView(ctx context.Context, contractAddress common.Address) (*models.AgreementView, error)
}

// Config bounds the coordinator's chain interactions
type Config struct {
	ConfirmTimeout time.Duration
	DeployGasLimit uint64
	CallGasLimit   uint64
}

// DeployRequest carries everything needed to publish a listing backed by a
// fresh agreement contract
type DeployRequest struct {
	Title       string
	Description string
	ImageURL    string

	Owner         string
	Renter        string
	ContentHash   string
	RentAmount    *big.Int
	DepositAmount *big.Int
	DurationDays  uint64
}

// Coordinator owns every Listing.status transition. It advances the
// per-listing state machine only on confirmed chain outcomes, holds the
// per-listing in-flight marker across submit, confirmation wait, and store
// write, and never mutates the store on a failed operation.
type Coordinator struct {
	store   storage.Repository
	queue   Broadcaster
	reader  AgreementReader
	binding *chain.Agreement
	cfg     Config

	inflightMu sync.Mutex
	inflight   map[string]struct{}
}

// NewCoordinator creates the lifecycle coordinator
func NewCoordinator(store storage.Repository, queue Broadcaster, reader AgreementReader, binding *chain.Agreement, cfg Config) *Coordinator {
	if cfg.ConfirmTimeout <= 0 {
		cfg.ConfirmTimeout = 90 * time.Second
	}
	return &Coordinator{
		store:    store,
		queue:    queue,
		reader:   reader,
		binding:  binding,
		cfg:      cfg,
		inflight: make(map[string]struct{}),
	}
}

// Deploy publishes a new listing: submits the agreement contract creation and
// persists the listing exactly once, after the deploy confirms. Nothing is
// persisted on failure, so retrying with the same parameters is safe.
func (c *Coordinator) Deploy(ctx context.Context, req DeployRequest) (*models.Listing, error) {
	if err := validateDeployRequest(req); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	listing := &models.Listing{
		ID:            uuid.NewString(),
		Title:         req.Title,
		Description:   req.Description,
		ImageURL:      req.ImageURL,
		Owner:         req.Owner,
		Renter:        req.Renter,
		ContentHash:   req.ContentHash,
		RentAmount:    new(big.Int).Set(req.RentAmount),
		DepositAmount: new(big.Int).Set(req.DepositAmount),
		DurationDays:  req.DurationDays,
		Status:        models.StatusDraft,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if !c.acquire(listing.ID) {
		return nil, models.NewFault(models.FaultInvalidStateTransition, "operation already in flight for this listing")
	}
	defer c.release(listing.ID)

	data, err := c.binding.DeployData(
		common.HexToAddress(req.Renter),
		req.ContentHash,
		req.RentAmount,
		req.DepositAmount,
		req.DurationDays,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to build deploy payload: %w", err)
	}

	handle, err := c.queue.Enqueue(ctx, models.OpDeploy, broadcast.Payload{
		Data:     data,
		GasLimit: c.cfg.DeployGasLimit,
		Ref:      listing.ID,
	})
	if err != nil {
		metrics.LifecycleOperations.WithLabelValues("deploy", "error").Inc()
		return nil, err
	}

	outcome := c.queue.AwaitOutcome(ctx, handle, c.cfg.ConfirmTimeout)
	switch outcome.State {
	case models.TxConfirmed:
		if outcome.ResultAddress == nil {
			return nil, fmt.Errorf("deploy confirmed without a contract address")
		}
		addr := outcome.ResultAddress.Hex()
		listing.ContractAddress = &addr
		listing.Status = models.StatusAvailable
		if err := c.store.SaveListing(ctx, listing); err != nil {
			// The contract exists but the projection write failed; the sweep
			// will surface it as an orphan from the journal
			return nil, fmt.Errorf("deploy confirmed at %s but listing write failed: %w", addr, err)
		}
		metrics.LifecycleOperations.WithLabelValues("deploy", "confirmed").Inc()
		slog.Info("Listing deployed",
			"listing_id", listing.ID,
			"contract_address", addr,
			"owner", listing.Owner,
		)
		return listing, nil

	case models.TxReverted:
		metrics.LifecycleOperations.WithLabelValues("deploy", "reverted").Inc()
		return nil, models.Faultf(models.FaultChainRejected, "deploy rejected by chain: %s", outcome.RevertReason)

	default:
		metrics.LifecycleOperations.WithLabelValues("deploy", "timeout").Inc()
		return nil, models.NewFault(models.FaultConfirmationTimeout,
			"deploy not confirmed within the wait bound; if it lands later the reconciliation sweep flags it for cleanup")
	}
}

// Activate moves an Available listing to Occupied by paying rent + deposit
// into the agreement contract. The payment is the exact integer sum in
// smallest units.
func (c *Coordinator) Activate(ctx context.Context, listingID string) (*models.Listing, error) {
	if !c.acquire(listingID) {
		return nil, models.NewFault(models.FaultInvalidStateTransition, "another operation is in flight for this listing")
	}
	defer c.release(listingID)

	listing, err := c.getListing(ctx, listingID)
	if err != nil {
		return nil, err
	}

	if listing.Status != models.StatusAvailable || listing.ContractAddress == nil {
		return nil, models.Faultf(models.FaultInvalidStateTransition,
			"cannot activate listing in status %q", listing.Status)
	}

	data, err := c.binding.ActivateData()
	if err != nil {
		return nil, fmt.Errorf("failed to build activate payload: %w", err)
	}

	to := common.HexToAddress(*listing.ContractAddress)
	payment := listing.ActivationPayment()

	handle, err := c.queue.Enqueue(ctx, models.OpActivate, broadcast.Payload{
		To:       &to,
		Value:    payment,
		Data:     data,
		GasLimit: c.cfg.CallGasLimit,
		Ref:      listing.ID,
	})
	if err != nil {
		metrics.LifecycleOperations.WithLabelValues("activate", "error").Inc()
		return nil, err
	}

	outcome := c.queue.AwaitOutcome(ctx, handle, c.cfg.ConfirmTimeout)
	switch outcome.State {
	case models.TxConfirmed:
		listing.Status = models.StatusOccupied
		listing.LastKnownChainActive = true
		if err := c.store.UpdateListing(ctx, listing); err != nil {
			return nil, fmt.Errorf("activation confirmed but listing write failed: %w", err)
		}
		metrics.LifecycleOperations.WithLabelValues("activate", "confirmed").Inc()
		slog.Info("Listing activated",
			"listing_id", listing.ID,
			"payment_wei", payment,
		)
		return listing, nil

	case models.TxReverted:
		metrics.LifecycleOperations.WithLabelValues("activate", "reverted").Inc()
		return nil, models.Faultf(models.FaultChainRejected, "activation rejected by contract: %s", outcome.RevertReason)

	default:
		// The funds-bearing transaction may still land later; flag the
		// listing so reconciliation re-reads chain truth before anything
		// else is accepted
		listing.NeedsReconcile = true
		if err := c.store.UpdateListing(ctx, listing); err != nil {
			slog.Error("Failed to flag listing for reconciliation", "listing_id", listing.ID, "error", err)
		}
		metrics.LifecycleOperations.WithLabelValues("activate", "timeout").Inc()
		return nil, models.NewFault(models.FaultConfirmationTimeout,
			"activation not confirmed within the wait bound; listing flagged for reconciliation")
	}
}

// Terminate ends an agreement from Available or Occupied. Terminated is a
// one-way gate: no further mutating operation is ever accepted.
func (c *Coordinator) Terminate(ctx context.Context, listingID string) (*models.Listing, error) {
	if !c.acquire(listingID) {
		return nil, models.NewFault(models.FaultInvalidStateTransition, "another operation is in flight for this listing")
	}
	defer c.release(listingID)

	listing, err := c.getListing(ctx, listingID)
	if err != nil {
		return nil, err
	}

	if !listing.Status.CanTransitionTo(models.StatusTerminated) || listing.ContractAddress == nil {
		return nil, models.Faultf(models.FaultInvalidStateTransition,
			"cannot terminate listing in status %q", listing.Status)
	}

	data, err := c.binding.TerminateData()
	if err != nil {
		return nil, fmt.Errorf("failed to build terminate payload: %w", err)
	}

	to := common.HexToAddress(*listing.ContractAddress)

	handle, err := c.queue.Enqueue(ctx, models.OpTerminate, broadcast.Payload{
		To:       &to,
		Data:     data,
		GasLimit: c.cfg.CallGasLimit,
		Ref:      listing.ID,
	})
	if err != nil {
		metrics.LifecycleOperations.WithLabelValues("terminate", "error").Inc()
		return nil, err
	}

	outcome := c.queue.AwaitOutcome(ctx, handle, c.cfg.ConfirmTimeout)
	switch outcome.State {
	case models.TxConfirmed:
		listing.Status = models.StatusTerminated
		listing.LastKnownChainActive = false
		listing.LastKnownChainTerminated = true
		if err := c.store.UpdateListing(ctx, listing); err != nil {
			return nil, fmt.Errorf("termination confirmed but listing write failed: %w", err)
		}
		metrics.LifecycleOperations.WithLabelValues("terminate", "confirmed").Inc()
		slog.Info("Listing terminated", "listing_id", listing.ID)
		return listing, nil

	case models.TxReverted:
		metrics.LifecycleOperations.WithLabelValues("terminate", "reverted").Inc()
		return nil, models.Faultf(models.FaultChainRejected, "termination rejected by contract: %s", outcome.RevertReason)

	default:
		listing.NeedsReconcile = true
		if err := c.store.UpdateListing(ctx, listing); err != nil {
			slog.Error("Failed to flag listing for reconciliation", "listing_id", listing.ID, "error", err)
		}
		metrics.LifecycleOperations.WithLabelValues("terminate", "timeout").Inc()
		return nil, models.NewFault(models.FaultConfirmationTimeout,
			"termination not confirmed within the wait bound; listing flagged for reconciliation")
	}
}

func (c *Coordinator) getListing(ctx context.Context, id string) (*models.Listing, error) {
	listing, err := c.store.GetListing(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, models.Faultf(models.FaultNotFound, "listing %s not found", id)
		}
		return nil, fmt.Errorf("failed to load listing: %w", err)
	}
	return listing, nil
}

// acquire takes the per-listing in-flight marker. Exactly one mutating
// operation is permitted per listing at any time, independent of the queue's
// signer-level serialization: other listings' operations interleave through
// the same queue, so the shared nonce alone cannot guard a single listing.
func (c *Coordinator) acquire(listingID string) bool {
	c.inflightMu.Lock()
	defer c.inflightMu.Unlock()

	if _, busy := c.inflight[listingID]; busy {
		return false
	}
	c.inflight[listingID] = struct{}{}
	metrics.InFlightOperations.Set(float64(len(c.inflight)))
	return true
}

func (c *Coordinator) release(listingID string) {
	c.inflightMu.Lock()
	defer c.inflightMu.Unlock()

	delete(c.inflight, listingID)
	metrics.InFlightOperations.Set(float64(len(c.inflight)))
}

func validateDeployRequest(req DeployRequest) error {
	if !common.IsHexAddress(req.Owner) {
		return models.Faultf(models.FaultInvalidArgument, "invalid owner address %q", req.Owner)
	}
	if !common.IsHexAddress(req.Renter) {
		return models.Faultf(models.FaultInvalidArgument, "invalid renter address %q", req.Renter)
	}
	if req.ContentHash == "" {
		return models.NewFault(models.FaultInvalidArgument, "content hash is required")
	}
	if req.RentAmount == nil || req.RentAmount.Sign() <= 0 {
		return models.NewFault(models.FaultInvalidArgument, "rent amount must be a positive integer in smallest units")
	}
	if req.DepositAmount == nil || req.DepositAmount.Sign() < 0 {
		return models.NewFault(models.FaultInvalidArgument, "deposit amount must be a non-negative integer in smallest units")
	}
	if req.DurationDays == 0 {
		return models.NewFault(models.FaultInvalidArgument, "duration must be at least one day")
	}
	return nil
}
