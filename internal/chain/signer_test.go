package chain

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// well-known throwaway development key, never funded anywhere real
const testKeyHex = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

func TestNewSignerDerivesAddress(t *testing.T) {
	signer, err := NewSigner(testKeyHex)
	require.NoError(t, err)
	assert.Equal(t, "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266", signer.Address().Hex())

	// A 0x prefix is tolerated
	prefixed, err := NewSigner("0x" + testKeyHex)
	require.NoError(t, err)
	assert.Equal(t, signer.Address(), prefixed.Address())
}

func TestNewSignerRejectsBadKey(t *testing.T) {
	_, err := NewSigner("")
	assert.Error(t, err)

	_, err = NewSigner("not-a-key")
	assert.Error(t, err)
}

func TestSignBindsChainID(t *testing.T) {
	signer, err := NewSigner(testKeyHex)
	require.NoError(t, err)

	chainID := big.NewInt(1337)
	tx := types.NewTx(&types.LegacyTx{
		Nonce:    3,
		GasPrice: big.NewInt(2_000_000_000),
		Gas:      100_000,
		Value:    big.NewInt(1),
	})

	signed, err := signer.Sign(tx, chainID)
	require.NoError(t, err)

	from, err := types.Sender(types.LatestSignerForChainID(chainID), signed)
	require.NoError(t, err)
	assert.Equal(t, signer.Address(), from)

	// A different chain id must not recover the same sender
	_, err = types.Sender(types.LatestSignerForChainID(big.NewInt(1)), signed)
	assert.Error(t, err)
}
