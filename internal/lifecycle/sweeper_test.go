package lifecycle

import (
	"context"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rentchain/internal/broadcast"
	"rentchain/internal/chain"
	"rentchain/internal/metrics"
	"rentchain/internal/models"
	"rentchain/internal/storage"
)

// fakeChainBackend serves scripted receipts for sweep resolution tests
type fakeChainBackend struct {
	mu       sync.Mutex
	receipts map[common.Hash]*types.Receipt
}

func (f *fakeChainBackend) ChainID(ctx context.Context) (*big.Int, error) {
	return big.NewInt(1337), nil
}

func (f *fakeChainBackend) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	return 0, nil
}

func (f *fakeChainBackend) BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error) {
	return new(big.Int).Mul(big.NewInt(1000), big.NewInt(1e18)), nil
}

func (f *fakeChainBackend) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	return big.NewInt(1_000_000_000), nil
}

func (f *fakeChainBackend) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	return nil
}

func (f *fakeChainBackend) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if receipt, ok := f.receipts[txHash]; ok {
		return receipt, nil
	}
	return nil, ethereum.NotFound
}

func (f *fakeChainBackend) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	return nil, nil
}

func newTestSweeper(t *testing.T, reader *fakeReader) (*Sweeper, *storage.MemoryRepository, *fakeChainBackend) {
	t.Helper()

	backend := &fakeChainBackend{receipts: make(map[common.Hash]*types.Receipt)}
	client := chain.NewClient(backend, nil)

	signer, err := chain.NewSigner("ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80")
	require.NoError(t, err)

	store := storage.NewMemoryRepository()
	queue := broadcast.NewQueue(client, signer, store, 10*time.Millisecond)

	binding, err := chain.NewAgreement("0x00")
	require.NoError(t, err)

	coordinator := NewCoordinator(store, queue, reader, binding, Config{ConfirmTimeout: time.Second})
	sweeper := NewSweeper(coordinator, store, queue, client, SweeperConfig{
		Interval:   time.Minute,
		StaleAfter: time.Minute,
	})
	return sweeper, store, backend
}

func TestSweepMarksOrphanedDeploy(t *testing.T) {
	sweeper, store, backend := newTestSweeper(t, &fakeReader{})
	ctx := context.Background()

	// A deploy journal row from a previous run: the caller timed out, no
	// listing was ever persisted, and the transaction has since been mined
	txHash := common.HexToHash("0x01")
	contractAddr := common.HexToAddress("0xcccccccccccccccccccccccccccccccccccccccc")
	require.NoError(t, store.SaveTransactionRecord(ctx, &models.TransactionRecord{
		ID:            "rec-1",
		Nonce:         0,
		OperationKind: models.OpDeploy,
		Ref:           "never-persisted-listing",
		TxHash:        txHash.Hex(),
		State:         models.TxTimedOut,
		SubmittedAt:   time.Now().UTC().Add(-time.Hour),
		UpdatedAt:     time.Now().UTC().Add(-time.Hour),
	}))

	backend.receipts[txHash] = &types.Receipt{
		Status:          types.ReceiptStatusSuccessful,
		TxHash:          txHash,
		ContractAddress: contractAddr,
		BlockNumber:     big.NewInt(10),
	}

	sweeper.sweep(ctx)

	records, err := store.ListUnresolvedTransactions(ctx)
	require.NoError(t, err)
	assert.Empty(t, records, "the orphan is terminal for the journal")
}

func TestSweepMarksConfirmedDeployWithoutListing(t *testing.T) {
	sweeper, store, _ := newTestSweeper(t, &fakeReader{})
	ctx := context.Background()

	// The deploy confirmed and the journal was updated, but the listing write
	// failed; the row is already Confirmed, so only the orphan detector can
	// surface it
	contractAddr := "0xcccccccccccccccccccccccccccccccccccccccc"
	require.NoError(t, store.SaveTransactionRecord(ctx, &models.TransactionRecord{
		ID:            "rec-4",
		Nonce:         3,
		OperationKind: models.OpDeploy,
		Ref:           "never-persisted-listing",
		TxHash:        common.HexToHash("0x04").Hex(),
		State:         models.TxConfirmed,
		ResultAddress: &contractAddr,
		SubmittedAt:   time.Now().UTC().Add(-time.Hour),
		UpdatedAt:     time.Now().UTC().Add(-time.Hour),
	}))

	before := testutil.ToFloat64(metrics.OrphanedContracts)
	sweeper.sweep(ctx)

	assert.Equal(t, before+1, testutil.ToFloat64(metrics.OrphanedContracts))

	candidates, err := store.ListOrphanCandidates(ctx)
	require.NoError(t, err)
	assert.Empty(t, candidates, "the row is now terminal for the journal")

	// A second pass must not rediscover the same orphan
	sweeper.sweep(ctx)
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.OrphanedContracts))
}

func TestSweepIgnoresConfirmedDeployWithListing(t *testing.T) {
	sweeper, store, _ := newTestSweeper(t, &fakeReader{view: &models.AgreementView{}})
	ctx := context.Background()

	listing := seedListing(t, store, models.StatusAvailable)
	require.NoError(t, store.SaveTransactionRecord(ctx, &models.TransactionRecord{
		ID:            "rec-5",
		Nonce:         4,
		OperationKind: models.OpDeploy,
		Ref:           listing.ID,
		TxHash:        common.HexToHash("0x05").Hex(),
		State:         models.TxConfirmed,
		SubmittedAt:   time.Now().UTC().Add(-time.Hour),
		UpdatedAt:     time.Now().UTC().Add(-time.Hour),
	}))

	before := testutil.ToFloat64(metrics.OrphanedContracts)
	sweeper.sweep(ctx)
	assert.Equal(t, before, testutil.ToFloat64(metrics.OrphanedContracts), "a routed deploy is not an orphan")
}

func TestSweepResolvesLateActivation(t *testing.T) {
	reader := &fakeReader{view: &models.AgreementView{IsActive: true}}
	sweeper, store, backend := newTestSweeper(t, reader)
	ctx := context.Background()

	listing := seedListing(t, store, models.StatusAvailable)
	listing.NeedsReconcile = true
	require.NoError(t, store.UpdateListing(ctx, listing))

	// An activate from a previous run that was mined after the caller gave up
	txHash := common.HexToHash("0x02")
	require.NoError(t, store.SaveTransactionRecord(ctx, &models.TransactionRecord{
		ID:            "rec-2",
		Nonce:         1,
		OperationKind: models.OpActivate,
		Ref:           listing.ID,
		TxHash:        txHash.Hex(),
		State:         models.TxTimedOut,
		SubmittedAt:   time.Now().UTC().Add(-time.Hour),
		UpdatedAt:     time.Now().UTC().Add(-time.Hour),
	}))

	backend.receipts[txHash] = &types.Receipt{
		Status:      types.ReceiptStatusSuccessful,
		TxHash:      txHash,
		BlockNumber: big.NewInt(11),
	}

	sweeper.sweep(ctx)

	stored, err := store.GetListing(ctx, listing.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusOccupied, stored.Status, "chain truth advances the projection")
	assert.False(t, stored.NeedsReconcile)
}

func TestSweepLeavesFreshSubmissionsAlone(t *testing.T) {
	sweeper, store, backend := newTestSweeper(t, &fakeReader{})
	ctx := context.Background()

	// Still inside its caller's confirmation wait; the sweep must not race it
	txHash := common.HexToHash("0x03")
	require.NoError(t, store.SaveTransactionRecord(ctx, &models.TransactionRecord{
		ID:            "rec-3",
		Nonce:         2,
		OperationKind: models.OpActivate,
		Ref:           "listing-1",
		TxHash:        txHash.Hex(),
		State:         models.TxSubmitted,
		SubmittedAt:   time.Now().UTC(),
		UpdatedAt:     time.Now().UTC(),
	}))

	backend.receipts[txHash] = &types.Receipt{
		Status:      types.ReceiptStatusSuccessful,
		TxHash:      txHash,
		BlockNumber: big.NewInt(12),
	}

	sweeper.sweep(ctx)

	records, err := store.ListUnresolvedTransactions(ctx)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, models.TxSubmitted, records[0].State, "fresh submissions stay untouched")
}

func TestSweepReconcilesDriftedListings(t *testing.T) {
	reader := &fakeReader{view: &models.AgreementView{IsTerminated: true}}
	sweeper, store, _ := newTestSweeper(t, reader)
	ctx := context.Background()

	listing := seedListing(t, store, models.StatusOccupied)

	sweeper.sweep(ctx)

	stored, err := store.GetListing(ctx, listing.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusTerminated, stored.Status)
	assert.True(t, stored.LastKnownChainTerminated)
}
