package txmanager

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strconv"

	"github.com/KyberNetwork/logger"
)

// ErrEstimateGasFailed wraps gas estimation failures: the call is meant to
// revert, or the node is unreachable.
var ErrEstimateGasFailed = fmt.Errorf("estimate gas failed")

// FeeEngine populates initial gas and fee fields for new transactions and
// computes bumped values for speed-up and cancel. It is stateless: every
// method reads the network and returns values, nothing is cached or mutated.
type FeeEngine struct {
	client NetworkClient

	gasBufferPercent  float64
	extraGasLimit     uint64
	speedUpMultiplier float64
	cancelMultiplier  float64
}

// NewFeeEngine builds an engine using the manager defaults.
func NewFeeEngine(client NetworkClient, defaults ManagerDefaults) *FeeEngine {
	speedUp := defaults.SpeedUpMultiplier
	if speedUp == 0 {
		speedUp = DefaultSpeedUpMultiplier
	}
	cancel := defaults.CancelMultiplier
	if cancel == 0 {
		cancel = DefaultCancelMultiplier
	}
	return &FeeEngine{
		client:            client,
		gasBufferPercent:  defaults.GasBufferPercent,
		extraGasLimit:     defaults.ExtraGasLimit,
		speedUpMultiplier: speedUp,
		cancelMultiplier:  cancel,
	}
}

// PopulateFees fills in the gas limit and fee fields the caller left empty.
// The gas limit gets a safety buffer applied before the extra gas limit;
// fee selection prefers fee-market fields and falls back to a legacy gas
// price on chains whose node doesn't serve a priority fee.
func (e *FeeEngine) PopulateFees(ctx context.Context, p *TxParams) error {
	if p.Gas == 0 {
		estimated, err := e.client.EstimateGas(ctx, CallMsg{
			From:  p.From,
			To:    p.To,
			Value: p.Value,
			Data:  p.Data,
		})
		if err != nil {
			return errors.Join(ErrEstimateGasFailed, fmt.Errorf("couldn't estimate gas, the tx is meant to revert or network error: %w", err))
		}
		buffer := uint64(float64(estimated) * e.gasBufferPercent)
		p.Gas = estimated + buffer + e.extraGasLimit
	}

	if p.GasPrice != nil || p.IsFeeMarket() {
		return nil
	}

	tip, tipErr := e.client.SuggestGasTipCap(ctx)
	if tipErr == nil {
		head, err := e.client.HeaderByNumber(ctx, nil)
		if err != nil {
			return fmt.Errorf("fetching head for fee estimate: %w", err)
		}
		if head.BaseFee != nil {
			// maxFee = 2*baseFee + tip absorbs a full base fee doubling
			maxFee := new(big.Int).Add(
				new(big.Int).Mul(head.BaseFee, big.NewInt(2)),
				tip,
			)
			p.MaxPriorityFeePerGas = tip
			p.MaxFeePerGas = maxFee
			return nil
		}
	}

	logger.WithFields(logger.Fields{
		"from": p.From.Hex(),
	}).Debug("no priority fee available, falling back to legacy gas price")

	price, err := e.client.SuggestGasPrice(ctx)
	if err != nil {
		return fmt.Errorf("fetching gas price suggestion: %w", err)
	}
	p.GasPrice = price
	return nil
}

// BumpedFee returns the fee to use for a replacement transaction: the
// caller-supplied target when it meets the minimum of ceil(existing * m),
// otherwise that minimum. Legacy and fee-market values bump independently.
func BumpedFee(existing *big.Int, multiplier float64, supplied *big.Int) *big.Int {
	if existing == nil {
		return supplied
	}
	minimum := ceilMul(existing, multiplier)
	if supplied != nil && supplied.Cmp(minimum) >= 0 {
		return new(big.Int).Set(supplied)
	}
	return minimum
}

// ceilMul computes ceil(v * multiplier) exactly. The multiplier goes through
// its shortest decimal form so 1.1 means 11/10, not the nearest binary
// float: ceil(100 * 1.1) must be 110, never 111.
func ceilMul(v *big.Int, multiplier float64) *big.Int {
	rat, ok := new(big.Rat).SetString(strconv.FormatFloat(multiplier, 'f', -1, 64))
	if !ok {
		rat = new(big.Rat).SetFloat64(multiplier)
	}
	num := new(big.Int).Mul(v, rat.Num())
	quo, rem := new(big.Int).QuoRem(num, rat.Denom(), new(big.Int))
	if rem.Sign() > 0 {
		quo.Add(quo, big.NewInt(1))
	}
	return quo
}

// SpeedUpParams returns the params of a replacement that resubmits the
// original destination, value and data unchanged with bumped fees on the
// same nonce.
func (e *FeeEngine) SpeedUpParams(orig *TxParams, override *FeeOverride) *TxParams {
	p := orig.Clone()
	e.applyBump(p, orig, e.speedUpMultiplier, override)
	return p
}

// CancelParams returns the params of a replacement that voids the original:
// a zero-value self-send on the same nonce with the same gas limit and
// bumped fees.
func (e *FeeEngine) CancelParams(orig *TxParams, override *FeeOverride) *TxParams {
	from := orig.From
	p := &TxParams{
		From:  from,
		To:    &from,
		Value: big.NewInt(0),
		Gas:   orig.Gas,
	}
	if orig.Nonce != nil {
		n := *orig.Nonce
		p.Nonce = &n
	}
	e.applyBump(p, orig, e.cancelMultiplier, override)
	return p
}

func (e *FeeEngine) applyBump(p, orig *TxParams, multiplier float64, override *FeeOverride) {
	var supplied FeeOverride
	if override != nil {
		supplied = *override
	}
	// only bump the fee mode the original actually used; a legacy original
	// never grows fee-market fields and vice versa
	if orig.GasPrice != nil {
		p.GasPrice = BumpedFee(orig.GasPrice, multiplier, supplied.GasPrice)
	}
	if orig.MaxFeePerGas != nil {
		p.MaxFeePerGas = BumpedFee(orig.MaxFeePerGas, multiplier, supplied.MaxFeePerGas)
	}
	if orig.MaxPriorityFeePerGas != nil {
		p.MaxPriorityFeePerGas = BumpedFee(orig.MaxPriorityFeePerGas, multiplier, supplied.MaxPriorityFeePerGas)
	}
}
