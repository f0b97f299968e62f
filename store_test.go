package txmanager

import (
	"fmt"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tranvictor/txmanager/testutil"
)

func newTestMeta(id string, nonce uint64, status TransactionStatus) *TransactionMeta {
	n := nonce
	return &TransactionMeta{
		ID:      id,
		ChainID: testutil.ChainIDMainnet,
		Status:  status,
		Type:    TypeSimpleSend,
		TxParams: &TxParams{
			From:     testutil.TestAddr1,
			To:       &testutil.TestAddr2,
			Value:    testutil.OneEth,
			Nonce:    &n,
			Gas:      21000,
			GasPrice: testutil.TwentyGwei,
		},
		Time: time.Now(),
	}
}

func newTestStore(t *testing.T, historyLimit int) *TransactionStore {
	t.Helper()
	s, err := NewTransactionStore(historyLimit, false, nil)
	require.NoError(t, err)
	return s
}

func TestStoreInsert(t *testing.T) {
	t.Run("rejects duplicate id", func(t *testing.T) {
		s := newTestStore(t, 0)
		require.NoError(t, s.Insert(newTestMeta("a", 0, StatusUnapproved)))
		assert.Error(t, s.Insert(newTestMeta("a", 1, StatusUnapproved)))
	})

	t.Run("rejects actionId of a live transaction", func(t *testing.T) {
		s := newTestStore(t, 0)
		first := newTestMeta("a", 0, StatusSubmitted)
		first.ActionID = "pay-invoice-1"
		require.NoError(t, s.Insert(first))

		second := newTestMeta("b", 1, StatusUnapproved)
		second.ActionID = "pay-invoice-1"
		assert.ErrorIs(t, s.Insert(second), ErrDuplicateActionID)
	})

	t.Run("frees the actionId once the holder is rejected or dropped", func(t *testing.T) {
		s := newTestStore(t, 0)
		first := newTestMeta("a", 0, StatusRejected)
		first.ActionID = "pay-invoice-1"
		require.NoError(t, s.Insert(first))

		second := newTestMeta("b", 1, StatusUnapproved)
		second.ActionID = "pay-invoice-1"
		assert.NoError(t, s.Insert(second))
	})

	t.Run("rejects malformed params", func(t *testing.T) {
		s := newTestStore(t, 0)
		bad := newTestMeta("a", 0, StatusUnapproved)
		bad.TxParams.From = [20]byte{}
		assert.ErrorIs(t, s.Insert(bad), ErrInvalidParams)
	})
}

func TestStoreUpdate(t *testing.T) {
	t.Run("appends a history entry per changed field", func(t *testing.T) {
		s := newTestStore(t, 0)
		tx := newTestMeta("a", 0, StatusUnapproved)
		require.NoError(t, s.Insert(tx))

		tx.Status = StatusApproved
		tx.TxParams.GasPrice = big.NewInt(30000000000)
		require.NoError(t, s.Update(tx, "approved with edited fees"))

		got, err := s.Get("a")
		require.NoError(t, err)
		require.Len(t, got.History, 2)
		assert.Equal(t, "status", got.History[0].FieldPath)
		assert.Equal(t, string(StatusUnapproved), got.History[0].OldValue)
		assert.Equal(t, string(StatusApproved), got.History[0].NewValue)
		assert.Equal(t, "txParams.gasPrice", got.History[1].FieldPath)
		assert.Equal(t, "approved with edited fees", got.History[1].Note)
	})

	t.Run("terminal records refuse status and param changes", func(t *testing.T) {
		s := newTestStore(t, 0)
		tx := newTestMeta("a", 0, StatusConfirmed)
		require.NoError(t, s.Insert(tx))

		tx.Status = StatusSubmitted
		assert.ErrorIs(t, s.Update(tx, "rewind"), ErrTxTerminal)

		tx.Status = StatusConfirmed
		tx.TxParams.Gas = 50000
		assert.ErrorIs(t, s.Update(tx, "edit gas"), ErrTxTerminal)
	})

	t.Run("terminal records accept confirmation metadata", func(t *testing.T) {
		s := newTestStore(t, 0)
		tx := newTestMeta("a", 0, StatusDropped)
		require.NoError(t, s.Insert(tx))

		winner := testutil.NewTx(0, testutil.TestAddr2, testutil.OneEth)
		tx.ReplacedBy = winner.Hash()
		tx.ReplacedByID = "b"
		assert.NoError(t, s.Update(tx, "sibling won the nonce"))
	})
}

func TestStoreQueryGroupLimit(t *testing.T) {
	s := newTestStore(t, 0)
	// three nonce groups, the middle one with a speed-up sibling
	base := time.Now()
	for i, spec := range []struct {
		id    string
		nonce uint64
	}{
		{"n0", 0},
		{"n1-a", 1},
		{"n1-b", 1},
		{"n2", 2},
	} {
		tx := newTestMeta(spec.id, spec.nonce, StatusSubmitted)
		tx.Time = base.Add(time.Duration(i) * time.Second)
		require.NoError(t, s.Insert(tx))
	}

	got := s.Query(TxQuery{Limit: 2})
	// newest two groups are nonce 2 and nonce 1; nonce 1 comes back whole
	require.Len(t, got, 3)
	ids := []string{got[0].ID, got[1].ID, got[2].ID}
	assert.Equal(t, []string{"n2", "n1-b", "n1-a"}, ids)
}

func TestStoreTrim(t *testing.T) {
	t.Run("evicts oldest terminal groups past the limit", func(t *testing.T) {
		s := newTestStore(t, 3)
		base := time.Now()
		for i := 0; i < 5; i++ {
			tx := newTestMeta(fmt.Sprintf("c%d", i), uint64(i), StatusConfirmed)
			tx.Time = base.Add(time.Duration(i) * time.Minute)
			require.NoError(t, s.Insert(tx))
		}
		all := s.All()
		require.Len(t, all, 3)
		_, err := s.Get("c0")
		assert.ErrorIs(t, err, ErrTxNotFound)
		_, err = s.Get("c1")
		assert.ErrorIs(t, err, ErrTxNotFound)
	})

	t.Run("never evicts groups holding a pending transaction", func(t *testing.T) {
		s := newTestStore(t, 2)
		base := time.Now()
		// oldest group has a submitted sibling, so it is untouchable
		oldPending := newTestMeta("p", 0, StatusSubmitted)
		oldPending.Time = base
		require.NoError(t, s.Insert(oldPending))
		oldConfirmed := newTestMeta("p-sib", 0, StatusFailed)
		oldConfirmed.Time = base
		require.NoError(t, s.Insert(oldConfirmed))

		for i := 1; i <= 4; i++ {
			tx := newTestMeta(fmt.Sprintf("c%d", i), uint64(i), StatusConfirmed)
			tx.Time = base.Add(time.Duration(i) * time.Minute)
			require.NoError(t, s.Insert(tx))
		}

		_, err := s.Get("p")
		assert.NoError(t, err)
		_, err = s.Get("p-sib")
		assert.NoError(t, err, "sibling of a pending transaction must survive trimming")
		_, err = s.Get("c1")
		assert.ErrorIs(t, err, ErrTxNotFound)
	})

	t.Run("evicts same-nonce same-day siblings together", func(t *testing.T) {
		s := newTestStore(t, 1)
		base := time.Now()
		a := newTestMeta("a", 0, StatusConfirmed)
		a.Time = base
		b := newTestMeta("b", 0, StatusFailed)
		b.Time = base.Add(time.Second)
		require.NoError(t, s.Insert(a))
		require.NoError(t, s.Insert(b))

		newer := newTestMeta("c", 1, StatusConfirmed)
		newer.Time = base.Add(time.Minute)
		require.NoError(t, s.Insert(newer))

		// the whole nonce-0 group went, not just one member
		_, errA := s.Get("a")
		_, errB := s.Get("b")
		assert.ErrorIs(t, errA, ErrTxNotFound)
		assert.ErrorIs(t, errB, ErrTxNotFound)
		_, errC := s.Get("c")
		assert.NoError(t, errC)
	})
}

func TestStoreInFlightNonces(t *testing.T) {
	s := newTestStore(t, 0)
	require.NoError(t, s.Insert(newTestMeta("a", 3, StatusSubmitted)))
	require.NoError(t, s.Insert(newTestMeta("b", 4, StatusConfirmed)))
	require.NoError(t, s.Insert(newTestMeta("c", 5, StatusRejected)))

	other := newTestMeta("d", 9, StatusSubmitted)
	other.TxParams.From = testutil.TestAddr3
	require.NoError(t, s.Insert(other))

	nonces := s.InFlightNonces(testutil.TestAddr1, testutil.ChainIDMainnet)
	assert.ElementsMatch(t, []uint64{3, 4}, nonces)
}

func TestStoreWipe(t *testing.T) {
	s := newTestStore(t, 0)
	require.NoError(t, s.Insert(newTestMeta("a", 0, StatusConfirmed)))
	other := newTestMeta("b", 1, StatusConfirmed)
	other.TxParams.From = testutil.TestAddr3
	require.NoError(t, s.Insert(other))

	removed := s.Wipe(WipeFilter{From: &testutil.TestAddr1})
	assert.Equal(t, 1, removed)
	_, err := s.Get("a")
	assert.ErrorIs(t, err, ErrTxNotFound)
	_, err = s.Get("b")
	assert.NoError(t, err)
}

func TestStorePersistence(t *testing.T) {
	persist := &recordingPersistence{}
	s, err := NewTransactionStore(0, false, persist)
	require.NoError(t, err)
	require.NoError(t, s.Insert(newTestMeta("a", 0, StatusUnapproved)))

	assert.Equal(t, 1, persist.saves)
	require.Len(t, persist.snapshot, 1)
	assert.Equal(t, "a", persist.snapshot[0].ID)

	reloaded, err := NewTransactionStore(0, false, persist)
	require.NoError(t, err)
	got, err := reloaded.Get("a")
	require.NoError(t, err)
	assert.Equal(t, StatusUnapproved, got.Status)
}
