// Package chainstest provides an in-memory chain client for tests.
package chainstest

import (
	"context"
	"errors"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Client is a scripted chains.Client. Hooks, when set, run before the call
// returns and may block.
type Client struct {
	mu sync.Mutex

	ID       *big.Int
	Balances map[common.Address]*big.Int
	Gas      uint64
	Price    *big.Int
	Nonce    uint64

	BalanceErr error
	GasErr     error
	PriceErr   error
	SendErr    error

	BalanceHook  func(ctx context.Context)
	EstimateHook func(ctx context.Context)

	BalanceCalls  int
	EstimateCalls int
	Estimated     []ethereum.CallMsg
	Sent          []*types.Transaction
	Closed        bool
}

func New(chainID uint64) *Client {
	return &Client{
		ID:       new(big.Int).SetUint64(chainID),
		Balances: map[common.Address]*big.Int{},
		Gas:      21000,
		Price:    big.NewInt(25_000_000_000),
	}
}

func (c *Client) SetBalance(addr common.Address, wei *big.Int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Balances[addr] = new(big.Int).Set(wei)
}

func (c *Client) SetBalanceErr(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.BalanceErr = err
}

func (c *Client) SentTxs() []*types.Transaction {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*types.Transaction(nil), c.Sent...)
}

func (c *Client) Calls() (balance, estimate int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.BalanceCalls, c.EstimateCalls
}

func (c *Client) ChainID(context.Context) (*big.Int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ID == nil {
		return nil, errors.New("no chain id")
	}
	return new(big.Int).Set(c.ID), nil
}

func (c *Client) BalanceAt(ctx context.Context, account common.Address, _ *big.Int) (*big.Int, error) {
	c.mu.Lock()
	c.BalanceCalls++
	hook := c.BalanceHook
	c.mu.Unlock()

	if hook != nil {
		hook(ctx)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.BalanceErr != nil {
		return nil, c.BalanceErr
	}
	if b, ok := c.Balances[account]; ok {
		return new(big.Int).Set(b), nil
	}
	return new(big.Int), nil
}

func (c *Client) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Nonce, nil
}

func (c *Client) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	c.mu.Lock()
	c.EstimateCalls++
	c.Estimated = append(c.Estimated, msg)
	hook := c.EstimateHook
	c.mu.Unlock()

	if hook != nil {
		hook(ctx)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.GasErr != nil {
		return 0, c.GasErr
	}
	gas := c.Gas
	if len(msg.Data) > 0 {
		gas += 16 * uint64(len(msg.Data))
	}
	return gas, nil
}

func (c *Client) SuggestGasPrice(context.Context) (*big.Int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.PriceErr != nil {
		return nil, c.PriceErr
	}
	return new(big.Int).Set(c.Price), nil
}

func (c *Client) SendTransaction(_ context.Context, tx *types.Transaction) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.SendErr != nil {
		return c.SendErr
	}
	c.Sent = append(c.Sent, tx)
	c.Nonce++
	return nil
}

func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Closed = true
}
