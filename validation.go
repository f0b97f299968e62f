package txmanager

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jellydator/validation"
)

// Validate checks the shape of the params. It is called before a transaction
// enters the store and again on every store update, so a mutated record can
// never commit malformed params.
func (p *TxParams) Validate() error {
	if p == nil {
		return fmt.Errorf("%w: params are nil", ErrInvalidParams)
	}
	err := validation.ValidateStruct(p,
		validation.Field(&p.From, validation.By(nonZeroAddress)),
		validation.Field(&p.Value, validation.By(nonNegative)),
		validation.Field(&p.GasPrice, validation.By(nonNegative)),
		validation.Field(&p.MaxFeePerGas, validation.By(nonNegative)),
		validation.Field(&p.MaxPriorityFeePerGas, validation.By(nonNegative)),
	)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidParams, err)
	}
	if p.GasPrice != nil && p.IsFeeMarket() {
		return fmt.Errorf("%w: gasPrice cannot be combined with fee-market fields", ErrInvalidParams)
	}
	if p.MaxFeePerGas != nil && p.MaxPriorityFeePerGas != nil &&
		p.MaxPriorityFeePerGas.Cmp(p.MaxFeePerGas) > 0 {
		return fmt.Errorf("%w: maxPriorityFeePerGas exceeds maxFeePerGas", ErrInvalidParams)
	}
	if p.To == nil && len(p.Data) == 0 {
		return fmt.Errorf("%w: transaction without destination must carry deploy data", ErrInvalidParams)
	}
	return nil
}

func nonZeroAddress(value interface{}) error {
	addr, ok := value.(common.Address)
	if !ok || addr == (common.Address{}) {
		return fmt.Errorf("address must not be zero")
	}
	return nil
}

func nonNegative(value interface{}) error {
	v, ok := value.(*big.Int)
	if !ok || v == nil {
		return nil
	}
	if v.Sign() < 0 {
		return fmt.Errorf("must not be negative")
	}
	return nil
}

// deriveType classifies a transaction from its destination and call data.
func deriveType(p *TxParams) TransactionType {
	switch {
	case p.To == nil:
		return TypeDeploy
	case len(p.Data) > 0:
		return TypeContractCall
	default:
		return TypeSimpleSend
	}
}
