package txmanager

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/tranvictor/txmanager/internal/circuitbreaker"
)

// EthNetworkClient is the default NetworkClient, backed by go-ethereum's
// ethclient.
type EthNetworkClient struct {
	c *ethclient.Client
}

// DialEthClient connects to an RPC endpoint and wraps it as a NetworkClient.
func DialEthClient(rawurl string) (*EthNetworkClient, error) {
	c, err := ethclient.Dial(rawurl)
	if err != nil {
		return nil, fmt.Errorf("dialing rpc endpoint: %w", err)
	}
	return &EthNetworkClient{c: c}, nil
}

// NewEthNetworkClient wraps an existing ethclient.
func NewEthNetworkClient(c *ethclient.Client) *EthNetworkClient {
	return &EthNetworkClient{c: c}
}

func (e *EthNetworkClient) NonceAt(ctx context.Context, account common.Address) (uint64, error) {
	return e.c.NonceAt(ctx, account, nil)
}

func (e *EthNetworkClient) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	return e.c.PendingNonceAt(ctx, account)
}

func (e *EthNetworkClient) BalanceAt(ctx context.Context, account common.Address) (*big.Int, error) {
	return e.c.BalanceAt(ctx, account, nil)
}

func (e *EthNetworkClient) TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	receipt, err := e.c.TransactionReceipt(ctx, hash)
	if errors.Is(err, ethereum.NotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return receipt, nil
}

func (e *EthNetworkClient) SendRawTransaction(ctx context.Context, raw []byte) (common.Hash, error) {
	tx := new(types.Transaction)
	if err := tx.UnmarshalBinary(raw); err != nil {
		return common.Hash{}, fmt.Errorf("decoding raw transaction: %w", err)
	}
	if err := e.c.SendTransaction(ctx, tx); err != nil {
		return common.Hash{}, err
	}
	return tx.Hash(), nil
}

func (e *EthNetworkClient) EstimateGas(ctx context.Context, msg CallMsg) (uint64, error) {
	return e.c.EstimateGas(ctx, ethereum.CallMsg{
		From:  msg.From,
		To:    msg.To,
		Value: msg.Value,
		Data:  msg.Data,
	})
}

func (e *EthNetworkClient) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	return e.c.SuggestGasPrice(ctx)
}

func (e *EthNetworkClient) SuggestGasTipCap(ctx context.Context) (*big.Int, error) {
	return e.c.SuggestGasTipCap(ctx)
}

func (e *EthNetworkClient) BlockNumber(ctx context.Context) (uint64, error) {
	return e.c.BlockNumber(ctx)
}

func (e *EthNetworkClient) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	return e.c.HeaderByNumber(ctx, number)
}

// guardedClient wraps a NetworkClient with a circuit breaker so a flapping
// node fails fast instead of stalling every lifecycle step.
type guardedClient struct {
	inner   NetworkClient
	breaker *circuitbreaker.CircuitBreaker
}

func newGuardedClient(inner NetworkClient, breaker *circuitbreaker.CircuitBreaker) *guardedClient {
	return &guardedClient{inner: inner, breaker: breaker}
}

// call runs fn under the breaker, recording the outcome.
func (g *guardedClient) call(fn func() error) error {
	if !g.breaker.Allow() {
		return ErrCircuitBreakerOpen
	}
	err := fn()
	if err != nil {
		g.breaker.RecordFailure()
		return err
	}
	g.breaker.RecordSuccess()
	return nil
}

func (g *guardedClient) NonceAt(ctx context.Context, account common.Address) (nonce uint64, err error) {
	err = g.call(func() (e error) { nonce, e = g.inner.NonceAt(ctx, account); return })
	return
}

func (g *guardedClient) PendingNonceAt(ctx context.Context, account common.Address) (nonce uint64, err error) {
	err = g.call(func() (e error) { nonce, e = g.inner.PendingNonceAt(ctx, account); return })
	return
}

func (g *guardedClient) BalanceAt(ctx context.Context, account common.Address) (balance *big.Int, err error) {
	err = g.call(func() (e error) { balance, e = g.inner.BalanceAt(ctx, account); return })
	return
}

func (g *guardedClient) TransactionReceipt(ctx context.Context, hash common.Hash) (receipt *types.Receipt, err error) {
	err = g.call(func() (e error) { receipt, e = g.inner.TransactionReceipt(ctx, hash); return })
	return
}

func (g *guardedClient) SendRawTransaction(ctx context.Context, raw []byte) (hash common.Hash, err error) {
	// Broadcast rejections (nonce too low, underpriced, known tx) are
	// protocol answers from a healthy node, not transport failures, so they
	// must not trip the breaker.
	if !g.breaker.Allow() {
		return common.Hash{}, ErrCircuitBreakerOpen
	}
	hash, err = g.inner.SendRawTransaction(ctx, raw)
	if err != nil && errors.Is(classifyBroadcastError(err), ErrBroadcastFailed) {
		g.breaker.RecordFailure()
	} else {
		g.breaker.RecordSuccess()
	}
	return
}

func (g *guardedClient) EstimateGas(ctx context.Context, msg CallMsg) (gas uint64, err error) {
	err = g.call(func() (e error) { gas, e = g.inner.EstimateGas(ctx, msg); return })
	return
}

func (g *guardedClient) SuggestGasPrice(ctx context.Context) (price *big.Int, err error) {
	err = g.call(func() (e error) { price, e = g.inner.SuggestGasPrice(ctx); return })
	return
}

func (g *guardedClient) SuggestGasTipCap(ctx context.Context) (tip *big.Int, err error) {
	// A missing eth_maxPriorityFeePerGas method means a pre-fee-market
	// chain, not an unhealthy node.
	if !g.breaker.Allow() {
		return nil, ErrCircuitBreakerOpen
	}
	return g.inner.SuggestGasTipCap(ctx)
}

func (g *guardedClient) BlockNumber(ctx context.Context) (number uint64, err error) {
	err = g.call(func() (e error) { number, e = g.inner.BlockNumber(ctx); return })
	return
}

func (g *guardedClient) HeaderByNumber(ctx context.Context, number *big.Int) (header *types.Header, err error) {
	err = g.call(func() (e error) { header, e = g.inner.HeaderByNumber(ctx, number); return })
	return
}
