package txmanager

import (
	"context"
	"sync"

	"github.com/KyberNetwork/logger"
	"github.com/ethereum/go-ethereum/common"
)

const subscriberBuffer = 64

// eventHub fans lifecycle events out to subscribers over typed channels.
// Publishing never blocks: a subscriber that stops draining loses events
// rather than stalling the pipeline.
type eventHub struct {
	mu     sync.Mutex
	subs   map[int]chan Event
	nextID int
}

func newEventHub() *eventHub {
	return &eventHub{subs: make(map[int]chan Event)}
}

// subscribe returns a receive channel and its cancel function. Cancelling
// closes the channel.
func (h *eventHub) subscribe() (<-chan Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := h.nextID
	h.nextID++
	ch := make(chan Event, subscriberBuffer)
	h.subs[id] = ch

	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if c, ok := h.subs[id]; ok {
			delete(h.subs, id)
			close(c)
		}
	}
	return ch, cancel
}

func (h *eventHub) publish(evt Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, ch := range h.subs {
		select {
		case ch <- evt:
		default:
			logger.WithFields(logger.Fields{
				"subscriber": id,
				"event":      string(evt.Type),
			}).Warn("event subscriber is not draining, dropping event")
		}
	}
}

type txOutcome struct {
	Hash common.Hash
	Err  error
}

// TxResult is the per-transaction completion handle: a one-shot channel
// resolved with the broadcast hash once the transaction is submitted, or
// with a classified error when it is rejected or fails beforehand.
type TxResult struct {
	once sync.Once
	done chan struct{}
	out  txOutcome
}

func newTxResult() *TxResult {
	return &TxResult{done: make(chan struct{})}
}

// resolve completes the handle. Later calls are no-ops, so a transaction
// that fails after submission doesn't re-resolve.
func (r *TxResult) resolve(hash common.Hash, err error) {
	r.once.Do(func() {
		r.out = txOutcome{Hash: hash, Err: err}
		close(r.done)
	})
}

// Wait blocks until the transaction is submitted (returning its hash),
// fails, or the context is done. Wait may be called any number of times.
func (r *TxResult) Wait(ctx context.Context) (common.Hash, error) {
	select {
	case <-r.done:
		return r.out.Hash, r.out.Err
	case <-ctx.Done():
		return common.Hash{}, ctx.Err()
	}
}
