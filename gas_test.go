package txmanager

import (
	"context"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tranvictor/txmanager/testutil"
)

func TestBumpedFee(t *testing.T) {
	t.Run("1.1x bump of 100 gwei is exactly 110 gwei", func(t *testing.T) {
		existing := big.NewInt(100_000_000_000)
		got := BumpedFee(existing, 1.1, nil)
		assert.Equal(t, "110000000000", got.String())
	})

	t.Run("1.1x bump of small values rounds up, not down", func(t *testing.T) {
		// 1.1 must behave as 11/10: ceil(100 * 11/10) = 110, ceil(101 * 11/10) = 112
		assert.Equal(t, int64(110), BumpedFee(big.NewInt(100), 1.1, nil).Int64())
		assert.Equal(t, int64(112), BumpedFee(big.NewInt(101), 1.1, nil).Int64())
	})

	t.Run("1.5x cancel bump", func(t *testing.T) {
		existing := big.NewInt(100_000_000_000)
		got := BumpedFee(existing, 1.5, nil)
		assert.Equal(t, "150000000000", got.String())
	})

	t.Run("supplied target wins when it meets the minimum", func(t *testing.T) {
		existing := big.NewInt(100)
		supplied := big.NewInt(200)
		assert.Equal(t, int64(200), BumpedFee(existing, 1.1, supplied).Int64())
	})

	t.Run("supplied target below the minimum is ignored", func(t *testing.T) {
		existing := big.NewInt(100)
		supplied := big.NewInt(105)
		assert.Equal(t, int64(110), BumpedFee(existing, 1.1, supplied).Int64())
	})
}

func TestFeeEnginePopulateFees(t *testing.T) {
	defaults := defaultManagerDefaults()
	defaults.GasBufferPercent = 0.4
	defaults.ExtraGasLimit = 5000

	t.Run("estimates gas with buffer then extra gas limit", func(t *testing.T) {
		client := newMockNetworkClient()
		client.estimatedGas = 50000
		engine := NewFeeEngine(client, defaults)

		p := &TxParams{From: testutil.TestAddr1, To: &testutil.TestAddr2, GasPrice: testutil.TwentyGwei}
		require.NoError(t, engine.PopulateFees(context.Background(), p))
		assert.Equal(t, uint64(75000), p.Gas)
	})

	t.Run("keeps a caller-supplied gas limit", func(t *testing.T) {
		client := newMockNetworkClient()
		engine := NewFeeEngine(client, defaults)

		p := &TxParams{From: testutil.TestAddr1, To: &testutil.TestAddr2, Gas: 21000, GasPrice: testutil.TwentyGwei}
		require.NoError(t, engine.PopulateFees(context.Background(), p))
		assert.Equal(t, uint64(21000), p.Gas)
	})

	t.Run("fills fee-market fields from tip and base fee", func(t *testing.T) {
		client := newMockNetworkClient()
		client.tipCap = big.NewInt(2_000_000_000)
		client.baseFee = big.NewInt(10_000_000_000)
		engine := NewFeeEngine(client, defaults)

		p := &TxParams{From: testutil.TestAddr1, To: &testutil.TestAddr2}
		require.NoError(t, engine.PopulateFees(context.Background(), p))
		assert.Equal(t, "2000000000", p.MaxPriorityFeePerGas.String())
		// maxFee = 2*baseFee + tip
		assert.Equal(t, "22000000000", p.MaxFeePerGas.String())
		assert.Nil(t, p.GasPrice)
	})

	t.Run("falls back to legacy gas price when the node has no tip", func(t *testing.T) {
		client := newMockNetworkClient()
		client.tipCapErr = assert.AnError
		engine := NewFeeEngine(client, defaults)

		p := &TxParams{From: testutil.TestAddr1, To: &testutil.TestAddr2}
		require.NoError(t, engine.PopulateFees(context.Background(), p))
		assert.Nil(t, p.MaxFeePerGas)
		assert.Equal(t, 0, p.GasPrice.Cmp(client.gasPrice))
	})
}

func TestSpeedUpParams(t *testing.T) {
	engine := NewFeeEngine(newMockNetworkClient(), defaultManagerDefaults())
	nonce := uint64(7)
	orig := &TxParams{
		From:     testutil.TestAddr1,
		To:       &testutil.TestAddr2,
		Value:    testutil.OneEth,
		Nonce:    &nonce,
		Gas:      21000,
		GasPrice: big.NewInt(100_000_000_000),
	}

	got := engine.SpeedUpParams(orig, nil)
	assert.Equal(t, orig.From, got.From)
	assert.Equal(t, *orig.To, *got.To)
	assert.Equal(t, 0, got.Value.Cmp(orig.Value))
	assert.Equal(t, nonce, *got.Nonce)
	assert.Equal(t, "110000000000", got.GasPrice.String())
}

func TestCancelParams(t *testing.T) {
	engine := NewFeeEngine(newMockNetworkClient(), defaultManagerDefaults())
	nonce := uint64(7)
	orig := &TxParams{
		From:     testutil.TestAddr1,
		To:       &testutil.TestAddr2,
		Value:    testutil.OneEth,
		Data:     []byte{0x01, 0x02},
		Nonce:    &nonce,
		Gas:      60000,
		GasPrice: big.NewInt(100_000_000_000),
	}

	got := engine.CancelParams(orig, nil)
	// a cancel is a zero-value self-send occupying the same nonce slot
	assert.Equal(t, orig.From, got.From)
	assert.Equal(t, orig.From, *got.To)
	assert.Equal(t, int64(0), got.Value.Int64())
	assert.Empty(t, got.Data)
	assert.Equal(t, nonce, *got.Nonce)
	assert.Equal(t, orig.Gas, got.Gas)
	assert.Equal(t, "150000000000", got.GasPrice.String())
}

func TestCancelParamsFeeMarket(t *testing.T) {
	engine := NewFeeEngine(newMockNetworkClient(), defaultManagerDefaults())
	nonce := uint64(3)
	orig := &TxParams{
		From:                 testutil.TestAddr1,
		To:                   &testutil.TestAddr2,
		Nonce:                &nonce,
		Gas:                  21000,
		MaxFeePerGas:         big.NewInt(100),
		MaxPriorityFeePerGas: big.NewInt(10),
	}

	got := engine.CancelParams(orig, nil)
	assert.Nil(t, got.GasPrice, "a fee-market original must not grow a legacy gas price")
	assert.Equal(t, int64(150), got.MaxFeePerGas.Int64())
	assert.Equal(t, int64(15), got.MaxPriorityFeePerGas.Int64())
}
