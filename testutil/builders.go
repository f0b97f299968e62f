package testutil

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// ============================================================
// Transaction Builders
// ============================================================

// NewDynamicTx creates a new EIP-1559 dynamic fee transaction for testing
func NewDynamicTx(nonce uint64, to common.Address, value *big.Int, gasLimit uint64, gasTipCap, gasFeeCap *big.Int, chainID uint64) *types.Transaction {
	return types.NewTx(&types.DynamicFeeTx{
		ChainID:   new(big.Int).SetUint64(chainID),
		Nonce:     nonce,
		GasTipCap: gasTipCap,
		GasFeeCap: gasFeeCap,
		Gas:       gasLimit,
		To:        &to,
		Value:     value,
		Data:      nil,
	})
}

// NewTx creates a simple test transaction with default gas settings on mainnet
func NewTx(nonce uint64, to common.Address, value *big.Int) *types.Transaction {
	return NewDynamicTx(nonce, to, value, 21000, TwoGwei, TwentyGwei, ChainIDMainnet)
}

// NewLegacyTx creates a legacy (pre-EIP-1559) transaction for testing
func NewLegacyTx(nonce uint64, to common.Address, value *big.Int, gasLimit uint64, gasPrice *big.Int) *types.Transaction {
	return types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		GasPrice: gasPrice,
		Gas:      gasLimit,
		To:       &to,
		Value:    value,
		Data:     nil,
	})
}

// ============================================================
// Receipt Builders
// ============================================================

// NewReceipt creates a test receipt for a transaction hash with a specific status
func NewReceipt(txHash common.Hash, status uint64, blockNumber int64) *types.Receipt {
	return &types.Receipt{
		Status:      status,
		TxHash:      txHash,
		BlockNumber: big.NewInt(blockNumber),
		BlockHash:   common.HexToHash("0xabcdef1234567890abcdef1234567890abcdef1234567890abcdef1234567890"),
		GasUsed:     21000,
	}
}

// NewSuccessReceipt creates a successful test receipt
func NewSuccessReceipt(txHash common.Hash, blockNumber int64) *types.Receipt {
	return NewReceipt(txHash, types.ReceiptStatusSuccessful, blockNumber)
}

// NewFailedReceipt creates a reverted test receipt
func NewFailedReceipt(txHash common.Hash, blockNumber int64) *types.Receipt {
	return NewReceipt(txHash, types.ReceiptStatusFailed, blockNumber)
}
