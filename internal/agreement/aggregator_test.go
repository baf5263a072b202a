package agreement

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rentchain/internal/chain"
	"rentchain/internal/models"
)

// fakeBackend answers read calls from a calldata -> return-data table
type fakeBackend struct {
	returns map[string][]byte
	failOn  string
}

func (f *fakeBackend) ChainID(ctx context.Context) (*big.Int, error) { return big.NewInt(1337), nil }

func (f *fakeBackend) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	return 0, nil
}

func (f *fakeBackend) BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error) {
	return new(big.Int), nil
}

func (f *fakeBackend) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	return big.NewInt(1), nil
}

func (f *fakeBackend) SendTransaction(ctx context.Context, tx *types.Transaction) error { return nil }

func (f *fakeBackend) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	return nil, ethereum.NotFound
}

func (f *fakeBackend) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	key := common.Bytes2Hex(msg.Data)
	if key == f.failOn {
		return nil, errors.New("missing trie node")
	}
	ret, ok := f.returns[key]
	if !ok {
		return nil, errors.New("unexpected call")
	}
	return ret, nil
}

func packOutput(t *testing.T, typeName string, value interface{}) []byte {
	t.Helper()
	typ, err := abi.NewType(typeName, "", nil)
	require.NoError(t, err)
	out, err := abi.Arguments{{Type: typ}}.Pack(value)
	require.NoError(t, err)
	return out
}

func newTestAggregator(t *testing.T) (*Aggregator, *chain.Agreement, *fakeBackend) {
	t.Helper()

	binding, err := chain.NewAgreement("0x00")
	require.NoError(t, err)

	backend := &fakeBackend{returns: make(map[string][]byte)}
	return NewAggregator(chain.NewClient(backend, nil), binding), binding, backend
}

func register(t *testing.T, binding *chain.Agreement, backend *fakeBackend, method, typeName string, value interface{}) string {
	t.Helper()
	data, err := binding.CallData(method)
	require.NoError(t, err)
	key := common.Bytes2Hex(data)
	backend.returns[key] = packOutput(t, typeName, value)
	return key
}

func registerAll(t *testing.T, binding *chain.Agreement, backend *fakeBackend) map[string]string {
	t.Helper()

	keys := make(map[string]string)
	keys["landlord"] = register(t, binding, backend, "landlord", "address", common.HexToAddress("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"))
	keys["renter"] = register(t, binding, backend, "renter", "address", common.HexToAddress("0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"))
	keys["propertyIPFSHash"] = register(t, binding, backend, "propertyIPFSHash", "string", "QmTestHash")
	keys["rentAmount"] = register(t, binding, backend, "rentAmount", "uint256", big.NewInt(500_000_000_000_000_000))
	keys["depositAmount"] = register(t, binding, backend, "depositAmount", "uint256", big.NewInt(1_000_000_000_000_000_000))
	keys["rentalDuration"] = register(t, binding, backend, "rentalDuration", "uint256", big.NewInt(12))
	keys["isActive"] = register(t, binding, backend, "isActive", "bool", true)
	keys["isTerminated"] = register(t, binding, backend, "isTerminated", "bool", false)
	return keys
}

func TestFetchViewAssemblesAllFields(t *testing.T) {
	aggregator, binding, backend := newTestAggregator(t)
	registerAll(t, binding, backend)

	view, err := aggregator.FetchView(context.Background(), common.HexToAddress("0xcccccccccccccccccccccccccccccccccccccccc"))
	require.NoError(t, err)

	assert.Equal(t, common.HexToAddress("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa").Hex(), view.Landlord)
	assert.Equal(t, common.HexToAddress("0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb").Hex(), view.Renter)
	assert.Equal(t, "QmTestHash", view.ContentHash)
	assert.Equal(t, big.NewInt(500_000_000_000_000_000), view.RentAmount)
	assert.Equal(t, big.NewInt(1_000_000_000_000_000_000), view.DepositAmount)
	assert.Equal(t, uint64(12), view.DurationDays)
	assert.True(t, view.IsActive)
	assert.False(t, view.IsTerminated)
}

func TestFetchViewAllOrNothing(t *testing.T) {
	aggregator, binding, backend := newTestAggregator(t)
	keys := registerAll(t, binding, backend)

	// A single failing accessor fails the whole view; no partial data escapes
	backend.failOn = keys["isActive"]

	view, err := aggregator.FetchView(context.Background(), common.HexToAddress("0xcccccccccccccccccccccccccccccccccccccccc"))
	require.Error(t, err)
	assert.Nil(t, view)
	assert.True(t, models.IsFault(err, models.FaultAggregationFailure))
}

func TestStatusFromChainPrecedence(t *testing.T) {
	view := &models.AgreementView{IsActive: true, IsTerminated: true}
	assert.Equal(t, models.StatusTerminated, view.StatusFromChain(), "terminated wins over active")

	view = &models.AgreementView{IsActive: true}
	assert.Equal(t, models.StatusOccupied, view.StatusFromChain())

	view = &models.AgreementView{}
	assert.Equal(t, models.StatusAvailable, view.StatusFromChain())
}
