package chain

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	"rentchain/internal/chain/retry"
)

// Backend is the subset of the Ethereum JSON-RPC surface this service needs.
// *ethclient.Client satisfies it; tests substitute an in-memory fake chain.
type Backend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// Client is the stateless ledger adapter: submit transaction, wait for
// confirmation, call read method, fetch nonce/balance. Read calls go through
// the configured retry strategy; submissions never auto-retry (a resubmitted
// transaction is a duplicate-side-effect risk, the broadcast queue owns that
// decision).
type Client struct {
	backend  Backend
	strategy retry.Strategy
}

// Dial connects to the RPC endpoint and wraps it in a Client
func Dial(rpcURL string, strategy retry.Strategy) (*Client, error) {
	backend, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("failed to dial RPC endpoint: %w", err)
	}
	return NewClient(backend, strategy), nil
}

// NewClient wraps an existing backend
func NewClient(backend Backend, strategy retry.Strategy) *Client {
	if strategy == nil {
		strategy = retry.NewNoRetryStrategy()
	}
	return &Client{backend: backend, strategy: strategy}
}

// ChainID returns the chain id of the connected network
func (c *Client) ChainID(ctx context.Context) (*big.Int, error) {
	var id *big.Int
	err := c.strategy.Execute(ctx, func() error {
		var err error
		id, err = c.backend.ChainID(ctx)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get chain id: %w", err)
	}
	return id, nil
}

// PendingNonce returns the next nonce the chain expects from the account,
// including transactions still in the mempool
func (c *Client) PendingNonce(ctx context.Context, account common.Address) (uint64, error) {
	nonce, err := c.backend.PendingNonceAt(ctx, account)
	if err != nil {
		return 0, fmt.Errorf("failed to get pending nonce: %w", err)
	}
	return nonce, nil
}

// Balance returns the current balance of the account in wei
func (c *Client) Balance(ctx context.Context, account common.Address) (*big.Int, error) {
	balance, err := c.backend.BalanceAt(ctx, account, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get balance: %w", err)
	}
	return balance, nil
}

// SuggestGasPrice returns the node's suggested gas price
func (c *Client) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	price, err := c.backend.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get gas price: %w", err)
	}
	return price, nil
}

// Submit broadcasts a signed transaction. No retry: the caller decides how to
// handle submission failures.
func (c *Client) Submit(ctx context.Context, tx *types.Transaction) error {
	return c.backend.SendTransaction(ctx, tx)
}

// Receipt fetches the receipt for a transaction hash. Returns
// ethereum.NotFound while the transaction is not yet included.
func (c *Client) Receipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	return c.backend.TransactionReceipt(ctx, txHash)
}

// Call executes a read-only method against a contract at the latest block
func (c *Client) Call(ctx context.Context, to common.Address, data []byte) ([]byte, error) {
	var out []byte
	err := c.strategy.Execute(ctx, func() error {
		var err error
		out, err = c.backend.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("contract call failed: %w", err)
	}
	return out, nil
}

// RevertReason replays a mined-but-failed transaction as a call at its
// inclusion block and extracts the contract's revert string. Falls back to
// the raw RPC error text when the revert data cannot be decoded.
func (c *Client) RevertReason(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) string {
	_, err := c.backend.CallContract(ctx, msg, blockNumber)
	if err == nil {
		// Call succeeded on replay: the failure was gas- or state-timing
		// related rather than a deliberate revert
		return "transaction failed without revert data"
	}

	if de, ok := err.(interface{ ErrorData() interface{} }); ok {
		if hexData, ok := de.ErrorData().(string); ok {
			if reason, uerr := abi.UnpackRevert(common.FromHex(hexData)); uerr == nil {
				return reason
			}
		}
	}

	return err.Error()
}
