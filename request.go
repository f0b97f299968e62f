package txmanager

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// TxRequest is a fluent builder over AddTransaction. Build one with R(),
// chain the setters and call Submit.
type TxRequest struct {
	m      *TxManager
	params TxParams
	opts   AddTxOptions
}

// R starts a transaction request.
func (m *TxManager) R() *TxRequest {
	return &TxRequest{m: m}
}

func (r *TxRequest) SetFrom(from common.Address) *TxRequest {
	r.params.From = from
	return r
}

func (r *TxRequest) SetTo(to common.Address) *TxRequest {
	r.params.To = &to
	return r
}

func (r *TxRequest) SetValue(value *big.Int) *TxRequest {
	r.params.Value = value
	return r
}

func (r *TxRequest) SetData(data []byte) *TxRequest {
	r.params.Data = data
	return r
}

// SetNonce pins the nonce, bypassing the coordinator's reservation.
func (r *TxRequest) SetNonce(nonce uint64) *TxRequest {
	r.params.Nonce = &nonce
	return r
}

func (r *TxRequest) SetGas(gas uint64) *TxRequest {
	r.params.Gas = gas
	return r
}

func (r *TxRequest) SetGasPrice(price *big.Int) *TxRequest {
	r.params.GasPrice = price
	return r
}

func (r *TxRequest) SetMaxFeePerGas(fee *big.Int) *TxRequest {
	r.params.MaxFeePerGas = fee
	return r
}

func (r *TxRequest) SetMaxPriorityFeePerGas(tip *big.Int) *TxRequest {
	r.params.MaxPriorityFeePerGas = tip
	return r
}

// SetActionID makes the submission idempotent under the given key.
func (r *TxRequest) SetActionID(actionID string) *TxRequest {
	r.opts.ActionID = actionID
	return r
}

func (r *TxRequest) SetOrigin(origin string) *TxRequest {
	r.opts.Origin = origin
	return r
}

func (r *TxRequest) SetChainID(chainID uint64) *TxRequest {
	r.opts.ChainID = chainID
	return r
}

func (r *TxRequest) SetType(t TransactionType) *TxRequest {
	r.opts.Type = t
	return r
}

// Submit validates the accumulated request and hands it to AddTransaction.
func (r *TxRequest) Submit(ctx context.Context) (*TransactionMeta, *TxResult, error) {
	return r.m.AddTransaction(ctx, &r.params, r.opts)
}
