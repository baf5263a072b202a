package broadcast

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/google/uuid"

	"rentchain/internal/chain"
	"rentchain/internal/metrics"
	"rentchain/internal/models"
	"rentchain/internal/storage"
)

// ErrQueueHalted is returned once persistent nonce desynchronization has
// stopped admission of new operations. Only an operator-triggered resync
// reopens the queue.
var ErrQueueHalted = errors.New("broadcast queue halted: nonce desynchronized, operator resync required")

// maxNonceStrikes is the number of consecutive nonce-resync failures
// tolerated before the queue halts admission
const maxNonceStrikes = 3

// Payload describes one chain-mutating call to submit
type Payload struct {
	// Nil for deploys
	To *common.Address

	// Wei attached to the call; nil means zero
	Value *big.Int

	Data     []byte
	GasLimit uint64

	// Opaque caller reference recorded in the journal (the coordinator puts
	// the listing id here)
	Ref string
}

// Handle identifies a submitted transaction and carries enough of the
// original payload to replay or fee-bump it
type Handle struct {
	RecordID string
	TxHash   common.Hash
	Nonce    uint64
	Kind     models.OperationKind
	GasPrice *big.Int

	payload     Payload
	submittedAt time.Time
}

// Ref returns the opaque caller reference recorded at enqueue time
func (h *Handle) Ref() string {
	return h.payload.Ref
}

// Age returns how long ago the transaction was submitted
func (h *Handle) Age() time.Duration {
	return time.Since(h.submittedAt)
}

// Outcome is the terminal observation of one confirmation wait
type Outcome struct {
	State models.TxState

	// For confirmed deploys: the address of the created contract
	ResultAddress *common.Address

	// For reverts: the contract's reason, verbatim
	RevertReason string

	Err error
}

// Queue is the single choke point for every chain-mutating call. All
// operations share one signing identity, so nonces must be assigned exactly
// once, in increasing order, inside a strictly serialized critical section.
// The critical section covers only nonce-assignment-and-submit; confirmation
// waits proceed concurrently outside it.
type Queue struct {
	client  *chain.Client
	signer  *chain.Signer
	journal storage.Repository

	pollInterval time.Duration

	mu           sync.Mutex
	chainID      *big.Int
	nonce        uint64
	nonceInit    bool
	nonceStrikes int
	halted       bool

	pendingMu sync.Mutex
	pending   map[common.Hash]*Handle // timed-out handles kept for recovery
}

// NewQueue creates the broadcast queue for the custodial signer
func NewQueue(client *chain.Client, signer *chain.Signer, journal storage.Repository, pollInterval time.Duration) *Queue {
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	return &Queue{
		client:       client,
		signer:       signer,
		journal:      journal,
		pollInterval: pollInterval,
		pending:      make(map[common.Hash]*Handle),
	}
}

// SignerAddress returns the shared signer's account address
func (q *Queue) SignerAddress() common.Address {
	return q.signer.Address()
}

// Enqueue admits a mutating request: assigns the next nonce, signs, submits,
// and returns a handle once the transaction is in the mempool. Strictly
// serialized; a new nonce is derived only after the previous operation has
// been submitted.
func (q *Queue) Enqueue(ctx context.Context, kind models.OperationKind, payload Payload) (*Handle, error) {
	start := time.Now()
	q.mu.Lock()
	defer func() {
		q.mu.Unlock()
		metrics.SubmitCriticalSectionDuration.Observe(time.Since(start).Seconds())
	}()

	if q.halted {
		return nil, models.WrapFault(models.FaultSignerFailure, "queue is not admitting operations", ErrQueueHalted)
	}

	if err := q.ensureCursorLocked(ctx); err != nil {
		return nil, models.WrapFault(models.FaultSignerFailure, "failed to initialize signer state", err)
	}

	gasPrice, err := q.client.SuggestGasPrice(ctx)
	if err != nil {
		return nil, models.WrapFault(models.FaultSignerFailure, "failed to price transaction", err)
	}

	value := payload.Value
	if value == nil {
		value = new(big.Int)
	}

	// Insufficient balance is fatal for this operation and must surface to
	// the operator; it never mutates the store or consumes the nonce
	cost := new(big.Int).Mul(gasPrice, new(big.Int).SetUint64(payload.GasLimit))
	cost.Add(cost, value)
	balance, err := q.client.Balance(ctx, q.signer.Address())
	if err != nil {
		return nil, models.WrapFault(models.FaultSignerFailure, "failed to check signer balance", err)
	}
	if balance.Cmp(cost) < 0 {
		return nil, models.Faultf(models.FaultSignerFailure,
			"insufficient signer balance: have %s wei, need %s wei", balance, cost)
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    q.nonce,
		GasPrice: gasPrice,
		Gas:      payload.GasLimit,
		To:       payload.To,
		Value:    value,
		Data:     payload.Data,
	})

	signed, err := q.signer.Sign(tx, q.chainID)
	if err != nil {
		return nil, models.WrapFault(models.FaultSignerFailure, "failed to sign transaction", err)
	}

	if err := q.client.Submit(ctx, signed); err != nil {
		// The chain may or may not have seen the transaction; re-synchronize
		// the cursor against the chain's reported next-nonce so subsequent
		// operations stay includable
		q.resyncCursorLocked(ctx)
		return nil, models.WrapFault(models.FaultSignerFailure, "failed to submit transaction", err)
	}

	handle := &Handle{
		RecordID:    uuid.NewString(),
		TxHash:      signed.Hash(),
		Nonce:       q.nonce,
		Kind:        kind,
		GasPrice:    gasPrice,
		payload:     payload,
		submittedAt: time.Now().UTC(),
	}
	q.nonce++
	q.nonceStrikes = 0

	q.journalSubmitted(ctx, handle)
	metrics.TransactionsSubmitted.WithLabelValues(string(kind)).Inc()

	slog.Info("Transaction submitted",
		"kind", kind,
		"nonce", handle.Nonce,
		"tx_hash", handle.TxHash.Hex(),
		"gas_price", gasPrice,
	)

	return handle, nil
}

// AwaitOutcome blocks until the chain includes the transaction or the timeout
// elapses. Business-level reverts surface as an outcome, never as an error.
// A timeout abandons the wait only: the transaction may still confirm later,
// so the handle is retained for the reconciliation sweep.
func (q *Queue) AwaitOutcome(ctx context.Context, handle *Handle, timeout time.Duration) Outcome {
	start := time.Now()
	defer func() {
		metrics.ConfirmationWaitDuration.Observe(time.Since(start).Seconds())
	}()

	deadline := time.Now().Add(timeout)

	for {
		receipt, err := q.client.Receipt(ctx, handle.TxHash)
		if err == nil {
			return q.finalize(ctx, handle, receipt)
		}
		if !errors.Is(err, ethereum.NotFound) {
			slog.Warn("Receipt lookup failed, continuing to poll",
				"tx_hash", handle.TxHash.Hex(),
				"error", err,
			)
		}

		if time.Now().After(deadline) {
			return q.timeOut(ctx, handle)
		}

		select {
		case <-ctx.Done():
			return q.timeOut(ctx, handle)
		case <-time.After(q.pollInterval):
		}
	}
}

// Resolve performs a single receipt check for a previously timed-out handle.
// Used by the reconciliation sweep; returns a TimedOut outcome when the
// transaction is still not included.
func (q *Queue) Resolve(ctx context.Context, handle *Handle) Outcome {
	receipt, err := q.client.Receipt(ctx, handle.TxHash)
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return Outcome{State: models.TxTimedOut}
		}
		return Outcome{State: models.TxTimedOut, Err: err}
	}
	return q.finalize(ctx, handle, receipt)
}

// Replace resubmits a timed-out transaction with the same nonce and a fee bid
// bumped by 12.5%, never with a new nonce, so a dual inclusion is impossible.
func (q *Queue) Replace(ctx context.Context, handle *Handle) (*Handle, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	bumped := new(big.Int).Add(handle.GasPrice, new(big.Int).Div(handle.GasPrice, big.NewInt(8)))

	value := handle.payload.Value
	if value == nil {
		value = new(big.Int)
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    handle.Nonce,
		GasPrice: bumped,
		Gas:      handle.payload.GasLimit,
		To:       handle.payload.To,
		Value:    value,
		Data:     handle.payload.Data,
	})

	signed, err := q.signer.Sign(tx, q.chainID)
	if err != nil {
		return nil, fmt.Errorf("failed to sign replacement: %w", err)
	}

	if err := q.client.Submit(ctx, signed); err != nil {
		// "nonce too low" or "already known" means the original landed after
		// all; the next sweep pass will find its receipt
		return nil, fmt.Errorf("failed to submit replacement: %w", err)
	}

	replacement := &Handle{
		RecordID:    handle.RecordID,
		TxHash:      signed.Hash(),
		Nonce:       handle.Nonce,
		Kind:        handle.Kind,
		GasPrice:    bumped,
		payload:     handle.payload,
		submittedAt: time.Now().UTC(),
	}

	q.pendingMu.Lock()
	delete(q.pending, handle.TxHash)
	q.pending[replacement.TxHash] = replacement
	q.pendingMu.Unlock()

	q.journalUpdate(ctx, replacement, models.TxTimedOut, nil, "")
	metrics.TransactionsReplaced.Inc()

	slog.Info("Transaction replaced with higher fee",
		"nonce", replacement.Nonce,
		"old_tx_hash", handle.TxHash.Hex(),
		"new_tx_hash", replacement.TxHash.Hex(),
		"gas_price", bumped,
	)

	return replacement, nil
}

// PendingHandles returns a snapshot of the timed-out handles awaiting
// resolution
func (q *Queue) PendingHandles() []*Handle {
	q.pendingMu.Lock()
	defer q.pendingMu.Unlock()

	handles := make([]*Handle, 0, len(q.pending))
	for _, h := range q.pending {
		handles = append(handles, h)
	}
	return handles
}

// Halted reports whether the queue has stopped admitting operations
func (q *Queue) Halted() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.halted
}

// ResyncNonce re-synchronizes the nonce cursor against the chain and reopens
// a halted queue. Operator-triggered.
func (q *Queue) ResyncNonce(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	nonce, err := q.client.PendingNonce(ctx, q.signer.Address())
	if err != nil {
		return fmt.Errorf("failed to resync nonce: %w", err)
	}

	q.nonce = nonce
	q.nonceInit = true
	q.nonceStrikes = 0
	q.halted = false
	metrics.QueueHalted.Set(0)
	metrics.NonceResyncs.Inc()

	slog.Info("Nonce cursor resynchronized", "nonce", nonce)
	return nil
}

// ensureCursorLocked lazily initializes the chain id and nonce cursor.
// Caller must hold q.mu.
func (q *Queue) ensureCursorLocked(ctx context.Context) error {
	if q.chainID == nil {
		id, err := q.client.ChainID(ctx)
		if err != nil {
			return fmt.Errorf("failed to get chain id: %w", err)
		}
		q.chainID = id
	}

	if !q.nonceInit {
		nonce, err := q.client.PendingNonce(ctx, q.signer.Address())
		if err != nil {
			return fmt.Errorf("failed to fetch initial nonce: %w", err)
		}
		q.nonce = nonce
		q.nonceInit = true
	}

	return nil
}

// resyncCursorLocked re-reads the chain's pending nonce after a submission
// anomaly. Repeated failures halt the queue rather than risk a nonce gap.
// Caller must hold q.mu.
func (q *Queue) resyncCursorLocked(ctx context.Context) {
	nonce, err := q.client.PendingNonce(ctx, q.signer.Address())
	if err != nil {
		q.nonceStrikes++
		slog.Error("Nonce resync failed",
			"strikes", q.nonceStrikes,
			"error", err,
		)
		if q.nonceStrikes >= maxNonceStrikes {
			q.halted = true
			metrics.QueueHalted.Set(1)
			slog.Error("Broadcast queue halted: persistent nonce desynchronization")
		}
		return
	}

	q.nonce = nonce
	q.nonceStrikes = 0
	metrics.NonceResyncs.Inc()
}

// finalize converts a receipt into a terminal outcome and updates the journal
func (q *Queue) finalize(ctx context.Context, handle *Handle, receipt *types.Receipt) Outcome {
	q.pendingMu.Lock()
	delete(q.pending, handle.TxHash)
	q.pendingMu.Unlock()

	if receipt.Status == types.ReceiptStatusSuccessful {
		var resultAddr *common.Address
		if handle.Kind == models.OpDeploy {
			addr := receipt.ContractAddress
			resultAddr = &addr
		}

		q.journalUpdate(ctx, handle, models.TxConfirmed, resultAddr, "")
		metrics.TransactionsConfirmed.WithLabelValues(string(handle.Kind)).Inc()

		slog.Info("Transaction confirmed",
			"kind", handle.Kind,
			"nonce", handle.Nonce,
			"tx_hash", handle.TxHash.Hex(),
			"block", receipt.BlockNumber,
		)

		return Outcome{State: models.TxConfirmed, ResultAddress: resultAddr}
	}

	reason := q.client.RevertReason(ctx, ethereum.CallMsg{
		From:     q.signer.Address(),
		To:       handle.payload.To,
		Gas:      handle.payload.GasLimit,
		GasPrice: handle.GasPrice,
		Value:    handle.payload.Value,
		Data:     handle.payload.Data,
	}, receipt.BlockNumber)

	q.journalUpdate(ctx, handle, models.TxReverted, nil, reason)
	metrics.TransactionsReverted.WithLabelValues(string(handle.Kind)).Inc()

	slog.Warn("Transaction reverted",
		"kind", handle.Kind,
		"nonce", handle.Nonce,
		"tx_hash", handle.TxHash.Hex(),
		"reason", reason,
	)

	return Outcome{State: models.TxReverted, RevertReason: reason}
}

// timeOut records the abandoned wait and keeps the handle for recovery
func (q *Queue) timeOut(ctx context.Context, handle *Handle) Outcome {
	q.pendingMu.Lock()
	q.pending[handle.TxHash] = handle
	q.pendingMu.Unlock()

	q.journalUpdate(ctx, handle, models.TxTimedOut, nil, "")
	metrics.TransactionsTimedOut.WithLabelValues(string(handle.Kind)).Inc()

	slog.Warn("Confirmation wait timed out",
		"kind", handle.Kind,
		"nonce", handle.Nonce,
		"tx_hash", handle.TxHash.Hex(),
	)

	return Outcome{State: models.TxTimedOut}
}

// journalSubmitted persists the journal row for a fresh submission. A journal
// write failure is logged, not returned: the transaction is already on chain
// and the sweep reconciles from chain truth.
func (q *Queue) journalSubmitted(ctx context.Context, handle *Handle) {
	record := &models.TransactionRecord{
		ID:            handle.RecordID,
		Nonce:         handle.Nonce,
		OperationKind: handle.Kind,
		Ref:           handle.payload.Ref,
		TxHash:        handle.TxHash.Hex(),
		State:         models.TxSubmitted,
		SubmittedAt:   handle.submittedAt,
		UpdatedAt:     handle.submittedAt,
	}
	if handle.payload.To != nil {
		target := handle.payload.To.Hex()
		record.TargetContractAddress = &target
	}

	if err := q.journal.SaveTransactionRecord(ctx, record); err != nil {
		slog.Error("Failed to journal submission", "tx_hash", handle.TxHash.Hex(), "error", err)
	}
}

func (q *Queue) journalUpdate(ctx context.Context, handle *Handle, state models.TxState, resultAddr *common.Address, reason string) {
	record := &models.TransactionRecord{
		ID:            handle.RecordID,
		Nonce:         handle.Nonce,
		OperationKind: handle.Kind,
		Ref:           handle.payload.Ref,
		TxHash:        handle.TxHash.Hex(),
		State:         state,
		SubmittedAt:   handle.submittedAt,
		UpdatedAt:     time.Now().UTC(),
		RevertReason:  reason,
	}
	if handle.payload.To != nil {
		target := handle.payload.To.Hex()
		record.TargetContractAddress = &target
	}
	if resultAddr != nil {
		addr := resultAddr.Hex()
		record.ResultAddress = &addr
	}

	if err := q.journal.UpdateTransactionRecord(ctx, record); err != nil {
		slog.Error("Failed to journal outcome",
			"tx_hash", handle.TxHash.Hex(),
			"state", state,
			"error", err,
		)
	}
}

// IsNonceError reports whether an RPC error message indicates external
// interference with the signer's nonce sequence
func IsNonceError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "nonce too low") ||
		strings.Contains(msg, "nonce too high") ||
		strings.Contains(msg, "replacement transaction underpriced") ||
		strings.Contains(msg, "already known")
}
