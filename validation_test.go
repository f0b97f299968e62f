package txmanager

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tranvictor/txmanager/testutil"
)

func TestTxParamsValidate(t *testing.T) {
	valid := func() *TxParams {
		return &TxParams{
			From:     testutil.TestAddr1,
			To:       &testutil.TestAddr2,
			Value:    testutil.OneEth,
			GasPrice: testutil.TwentyGwei,
		}
	}

	t.Run("accepts a well-formed simple send", func(t *testing.T) {
		assert.NoError(t, valid().Validate())
	})

	t.Run("rejects nil params", func(t *testing.T) {
		var p *TxParams
		assert.ErrorIs(t, p.Validate(), ErrInvalidParams)
	})

	t.Run("rejects a zero from-address", func(t *testing.T) {
		p := valid()
		p.From = [20]byte{}
		assert.ErrorIs(t, p.Validate(), ErrInvalidParams)
	})

	t.Run("rejects a negative value", func(t *testing.T) {
		p := valid()
		p.Value = big.NewInt(-1)
		assert.ErrorIs(t, p.Validate(), ErrInvalidParams)
	})

	t.Run("rejects mixing legacy and fee-market fees", func(t *testing.T) {
		p := valid()
		p.MaxFeePerGas = big.NewInt(100)
		assert.ErrorIs(t, p.Validate(), ErrInvalidParams)
	})

	t.Run("rejects a tip above the fee cap", func(t *testing.T) {
		p := valid()
		p.GasPrice = nil
		p.MaxFeePerGas = big.NewInt(100)
		p.MaxPriorityFeePerGas = big.NewInt(200)
		assert.ErrorIs(t, p.Validate(), ErrInvalidParams)
	})

	t.Run("rejects a deploy without data", func(t *testing.T) {
		p := valid()
		p.To = nil
		assert.ErrorIs(t, p.Validate(), ErrInvalidParams)
	})

	t.Run("accepts a deploy with data", func(t *testing.T) {
		p := valid()
		p.To = nil
		p.Data = []byte{0x60, 0x80}
		assert.NoError(t, p.Validate())
	})
}

func TestDeriveType(t *testing.T) {
	to := testutil.TestAddr2
	assert.Equal(t, TypeSimpleSend, deriveType(&TxParams{To: &to}))
	assert.Equal(t, TypeContractCall, deriveType(&TxParams{To: &to, Data: []byte{0x01}}))
	assert.Equal(t, TypeDeploy, deriveType(&TxParams{Data: []byte{0x01}}))
}
