package txmanager

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/KyberNetwork/logger"
	"github.com/ethereum/go-ethereum/core/types"
)

// trackerCommitFunc commits a mutated record back to the store and emits the
// matching lifecycle event. The manager supplies it so the tracker never
// touches the event hub or result handles directly. A commit error means the
// store refused the transition and the check must not proceed as if it held.
type trackerCommitFunc func(tx *TransactionMeta, note string, evt EventType) error

// PendingTransactionTracker watches submitted transactions until they reach a
// terminal status. Every tick it sweeps the store: transactions with a
// receipt get confirmed (and their nonce siblings dropped), transactions
// whose nonce was consumed elsewhere get dropped, and transactions the
// network seems to have forgotten get resubmitted with a doubling backoff.
//
// The tracker keeps no authoritative state of its own. Its tick counters are
// in-memory only; after a restart, every submitted transaction in the store
// is simply swept again.
type PendingTransactionTracker struct {
	store       *TransactionStore
	client      NetworkClient
	broadcaster *Broadcaster
	commit      trackerCommitFunc

	interval          time.Duration
	confirmationDepth uint64
	resubmitEnabled   bool
	resubmitTicks     int
	maxRetries        int

	mu      sync.Mutex
	ticks   map[string]int
	trigger chan struct{}
}

// NewPendingTransactionTracker builds a tracker over the store and network.
func NewPendingTransactionTracker(
	store *TransactionStore,
	client NetworkClient,
	broadcaster *Broadcaster,
	defaults ManagerDefaults,
	commit trackerCommitFunc,
) *PendingTransactionTracker {
	interval := defaults.TrackerInterval
	if interval <= 0 {
		interval = DefaultTrackerInterval
	}
	resubmitTicks := defaults.ResubmitTicks
	if resubmitTicks <= 0 {
		resubmitTicks = DefaultResubmitTicks
	}
	maxRetries := defaults.MaxRetries
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	return &PendingTransactionTracker{
		store:             store,
		client:            client,
		broadcaster:       broadcaster,
		commit:            commit,
		interval:          interval,
		confirmationDepth: defaults.ConfirmationDepth,
		resubmitEnabled:   defaults.ResubmitEnabled,
		resubmitTicks:     resubmitTicks,
		maxRetries:        maxRetries,
		ticks:             make(map[string]int),
		trigger:           make(chan struct{}, 1),
	}
}

// Start runs the sweep loop until the context is cancelled.
func (t *PendingTransactionTracker) Start(ctx context.Context) {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-t.trigger:
		}
		t.CheckPending(ctx)
	}
}

// Trigger nudges the loop to sweep immediately, e.g. when a new block is
// observed. It never blocks; a pending nudge coalesces with the next.
func (t *PendingTransactionTracker) Trigger() {
	select {
	case t.trigger <- struct{}{}:
	default:
	}
}

// CheckPending sweeps every submitted transaction once. A failing check is
// logged and skipped so one bad record or RPC hiccup never stalls the rest.
func (t *PendingTransactionTracker) CheckPending(ctx context.Context) {
	pending := t.store.Query(TxQuery{
		Predicate: func(tx *TransactionMeta) bool {
			return tx.Status == StatusSubmitted
		},
	})
	for _, tx := range pending {
		if ctx.Err() != nil {
			return
		}
		if err := t.checkTx(ctx, tx); err != nil {
			logger.WithFields(logger.Fields{
				"tx_id":   tx.ID,
				"tx_hash": tx.Hash.Hex(),
				"error":   err,
			}).Warn("pending transaction check failed")
		}
	}
}

func (t *PendingTransactionTracker) checkTx(ctx context.Context, tx *TransactionMeta) error {
	receipt, err := t.client.TransactionReceipt(ctx, tx.Hash)
	if err != nil {
		return fmt.Errorf("fetching receipt: %w", err)
	}
	if receipt != nil {
		if t.confirmationDepth > 0 && receipt.BlockNumber != nil {
			head, err := t.client.BlockNumber(ctx)
			if err != nil {
				return fmt.Errorf("fetching head number: %w", err)
			}
			if head < receipt.BlockNumber.Uint64()+t.confirmationDepth {
				return nil
			}
		}
		return t.Confirm(ctx, tx, receipt)
	}

	if tx.TxParams != nil && tx.TxParams.Nonce != nil {
		mined, err := t.client.NonceAt(ctx, tx.TxParams.From)
		if err != nil {
			return fmt.Errorf("fetching mined nonce: %w", err)
		}
		if mined > *tx.TxParams.Nonce {
			// nonce consumed with no receipt for this hash: a sibling or an
			// external transaction won the slot
			t.clearTicks(tx.ID)
			tx.Status = StatusDropped
			return t.commit(tx, "nonce consumed by another transaction", EventDropped)
		}
	}

	return t.maybeResubmit(ctx, tx)
}

// Confirm marks the transaction confirmed with its receipt and drops every
// sibling competing for the same nonce. The manager also calls it when an
// externally published transaction is observed on chain.
func (t *PendingTransactionTracker) Confirm(ctx context.Context, tx *TransactionMeta, receipt *types.Receipt) error {
	if receipt == nil {
		return fmt.Errorf("%w: confirmation requires a receipt", ErrInvalidParams)
	}
	t.clearTicks(tx.ID)

	tx.Status = StatusConfirmed
	tx.Receipt = receipt
	if receipt.BlockNumber != nil {
		header, err := t.client.HeaderByNumber(ctx, receipt.BlockNumber)
		if err != nil {
			logger.WithFields(logger.Fields{
				"tx_id": tx.ID,
				"block": receipt.BlockNumber,
				"error": err,
			}).Warn("couldn't fetch block header for base fee")
		} else if header.BaseFee != nil {
			tx.BaseFeePerGas = new(big.Int).Set(header.BaseFee)
		}
	}
	if err := t.commit(tx, "receipt observed on chain", EventConfirmed); err != nil {
		return err
	}
	t.dropSiblings(tx)
	return nil
}

// dropSiblings marks every non-terminal transaction sharing the winner's
// nonce slot as dropped, recording which transaction consumed the nonce.
func (t *PendingTransactionTracker) dropSiblings(winner *TransactionMeta) {
	if winner.TxParams == nil || winner.TxParams.Nonce == nil {
		return
	}
	group := winner.nonceGroupKey()
	siblings := t.store.Query(TxQuery{
		Predicate: func(tx *TransactionMeta) bool {
			return tx.ID != winner.ID && !tx.Status.Terminal() && tx.nonceGroupKey() == group
		},
	})
	for _, sib := range siblings {
		t.clearTicks(sib.ID)
		sib.Status = StatusDropped
		sib.ReplacedBy = winner.Hash
		sib.ReplacedByID = winner.ID
		if err := t.commit(sib, "nonce consumed by sibling "+winner.ID, EventDropped); err != nil {
			logger.WithFields(logger.Fields{
				"tx_id":  sib.ID,
				"winner": winner.ID,
				"error":  err,
			}).Warn("couldn't drop replaced sibling")
		}
	}
}

// maybeResubmit rebroadcasts the signed raw transaction once it has gone
// unmined for resubmitTicks * 2^retries sweeps, up to maxRetries times.
func (t *PendingTransactionTracker) maybeResubmit(ctx context.Context, tx *TransactionMeta) error {
	if !t.resubmitEnabled || len(tx.RawTx) == 0 {
		return nil
	}
	if tx.Retries >= t.maxRetries {
		return nil
	}

	ticks := t.bumpTicks(tx.ID)
	threshold := t.resubmitTicks << uint(tx.Retries)
	if ticks < threshold {
		return nil
	}

	_, err := t.broadcaster.Publish(ctx, tx.RawTx)
	if err != nil && !errors.Is(err, ErrAlreadyKnown) && !errors.Is(err, ErrNonceTooLow) {
		return fmt.Errorf("resubmitting: %w", err)
	}
	// already-known and nonce-too-low mean the network has it (or mined it);
	// either way the retry counted
	t.clearTicks(tx.ID)
	tx.Retries++
	logger.WithFields(logger.Fields{
		"tx_id":   tx.ID,
		"tx_hash": tx.Hash.Hex(),
		"retries": tx.Retries,
	}).Info("resubmitted pending transaction")
	return t.commit(tx, "resubmitted after going unmined", EventStatusUpdate)
}

func (t *PendingTransactionTracker) bumpTicks(id string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ticks[id]++
	return t.ticks[id]
}

func (t *PendingTransactionTracker) clearTicks(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.ticks, id)
}
