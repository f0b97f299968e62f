package txmanager

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// CallMsg is the chain-neutral shape of a gas estimation request.
type CallMsg struct {
	From  common.Address
	To    *common.Address
	Value *big.Int
	Data  []byte
}

// NetworkClient is the transport boundary. Implementations submit calls to a
// node and return typed results; the manager never sees transport-specific
// error shapes beyond what classifyBroadcastError normalizes.
type NetworkClient interface {
	// NonceAt returns the account's mined (latest-block) nonce.
	NonceAt(ctx context.Context, account common.Address) (uint64, error)

	// PendingNonceAt returns the account's next nonce including mempool
	// transactions known to the node.
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)

	// BalanceAt returns the account's latest balance.
	BalanceAt(ctx context.Context, account common.Address) (*big.Int, error)

	// TransactionReceipt returns the receipt for a mined transaction, or
	// (nil, nil) when the transaction is not mined.
	TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error)

	// SendRawTransaction submits a signed raw transaction and returns the
	// hash the network accepted it under.
	SendRawTransaction(ctx context.Context, raw []byte) (common.Hash, error)

	// EstimateGas simulates the call and returns the gas it consumed.
	EstimateGas(ctx context.Context, msg CallMsg) (uint64, error)

	// SuggestGasPrice returns the node's legacy gas price suggestion.
	SuggestGasPrice(ctx context.Context) (*big.Int, error)

	// SuggestGasTipCap returns the node's priority fee suggestion. An error
	// marks the chain as pre-fee-market and the engine falls back to a
	// legacy gas price.
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)

	// BlockNumber returns the current chain head number.
	BlockNumber(ctx context.Context) (uint64, error)

	// HeaderByNumber returns the header of the given block, nil for head.
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
}
