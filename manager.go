package txmanager

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/KyberNetwork/logger"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/google/uuid"

	"github.com/tranvictor/txmanager/internal/circuitbreaker"
	"github.com/tranvictor/txmanager/internal/nonce"
)

// TxManager orchestrates the full transaction lifecycle: intake, approval,
// nonce reservation, signing, broadcast and tracking. It owns the
// authoritative store; every status transition goes through its commit path
// so the store, the event hub and the per-transaction result handles can
// never disagree.
type TxManager struct {
	defaults ManagerDefaults

	client  NetworkClient
	breaker *circuitbreaker.CircuitBreaker
	signer  Signer
	gateway ApprovalGateway
	hooks   Hooks
	persist Persistence

	store       *TransactionStore
	fees        *FeeEngine
	signing     *SigningCoordinator
	broadcaster *Broadcaster
	nonces      *nonce.Coordinator
	tracker     *PendingTransactionTracker
	events      *eventHub

	mu      sync.Mutex
	results map[string]*TxResult

	startOnce sync.Once
}

// Option configures the manager at construction time.
type Option func(*TxManager)

// WithNetworkClient sets the network transport. Required.
func WithNetworkClient(c NetworkClient) Option {
	return func(m *TxManager) { m.client = c }
}

// WithSigner sets the signing capability. A manager without a signer can
// record and track but never submit.
func WithSigner(s Signer) Option {
	return func(m *TxManager) { m.signer = s }
}

// WithApprovalGateway sets the approval decision source. Defaults to
// AutoApprovalGateway.
func WithApprovalGateway(g ApprovalGateway) Option {
	return func(m *TxManager) { m.gateway = g }
}

// WithManualApproval routes approvals through the manager's Approve and
// Reject methods instead of a gateway: each new transaction parks at
// unapproved until one of them is called.
func WithManualApproval() Option {
	return func(m *TxManager) { m.gateway = newManualGateway() }
}

// WithHooks sets the lifecycle hooks. Defaults to BaseHooks.
func WithHooks(h Hooks) Option {
	return func(m *TxManager) { m.hooks = h }
}

// WithPersistence sets the snapshot persistence hook. Defaults to
// NoopPersistence.
func WithPersistence(p Persistence) Option {
	return func(m *TxManager) { m.persist = p }
}

// WithDefaults overrides the manager defaults wholesale. Zero-valued fee and
// tracker fields fall back to package defaults.
func WithDefaults(d ManagerDefaults) Option {
	return func(m *TxManager) { m.defaults = d }
}

// WithBreakerConfig tunes the circuit breaker guarding the network client.
func WithBreakerConfig(cfg circuitbreaker.Config) Option {
	return func(m *TxManager) { m.breaker = circuitbreaker.New(cfg) }
}

// NewTxManager builds a manager. The network client is guarded by a circuit
// breaker; transactions left mid-pipeline (approved or signed) by a previous
// run are failed on boot since their in-memory continuations are gone.
func NewTxManager(opts ...Option) (*TxManager, error) {
	m := &TxManager{
		defaults: defaultManagerDefaults(),
		gateway:  AutoApprovalGateway{},
		hooks:    BaseHooks{},
		persist:  NoopPersistence{},
		results:  make(map[string]*TxResult),
		events:   newEventHub(),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.client == nil {
		return nil, fmt.Errorf("a network client is required")
	}
	if m.breaker == nil {
		m.breaker = circuitbreaker.New(circuitbreaker.DefaultConfig())
	}
	m.client = newGuardedClient(m.client, m.breaker)

	store, err := NewTransactionStore(m.defaults.HistoryLimit, m.defaults.DisableHistory, m.persist)
	if err != nil {
		return nil, err
	}
	m.store = store

	m.fees = NewFeeEngine(m.client, m.defaults)
	m.signing = NewSigningCoordinator(m.signer)
	m.broadcaster = NewBroadcaster(m.client)
	m.nonces = nonce.NewCoordinator(m.nextNetworkNonce, m.store.InFlightNonces)
	m.tracker = NewPendingTransactionTracker(m.store, m.client, m.broadcaster, m.defaults, m.commit)

	m.recoverFromRestart()
	return m, nil
}

// recoverFromRestart fails transactions stranded between approval and
// broadcast. Submitted transactions are left alone: the tracker re-adopts
// them on its first sweep.
func (m *TxManager) recoverFromRestart() {
	stranded := m.store.Query(TxQuery{
		Predicate: func(tx *TransactionMeta) bool {
			return tx.Status == StatusApproved || tx.Status == StatusSigned
		},
	})
	for _, tx := range stranded {
		tx.Status = StatusFailed
		tx.Error = "interrupted before broadcast by a restart"
		_ = m.commit(tx, "failed on boot recovery", EventFailed)
	}
}

// Start launches the pending transaction tracker. It is idempotent; the
// tracker stops when the context is cancelled.
func (m *TxManager) Start(ctx context.Context) {
	m.startOnce.Do(func() {
		go m.tracker.Start(ctx)
	})
}

// TriggerTracker nudges the tracker to sweep immediately, e.g. on a new
// block notification.
func (m *TxManager) TriggerTracker() {
	m.tracker.Trigger()
}

// Subscribe returns a lifecycle event channel and its cancel function.
func (m *TxManager) Subscribe() (<-chan Event, func()) {
	return m.events.subscribe()
}

// BreakerStats reports the network circuit breaker counters.
func (m *TxManager) BreakerStats() circuitbreaker.Stats {
	return m.breaker.Stats()
}

// ResetBreaker forces the network circuit breaker closed.
func (m *TxManager) ResetBreaker() {
	m.breaker.Reset()
}

// commit writes a mutated record to the store and fans out the lifecycle
// event. It is the single mutation path shared by the pipeline and the
// tracker; the store's terminal guard makes it the authoritative gate, so a
// commit error must stop whatever flow attempted it. Terminal commits also
// release the transaction's result handle.
func (m *TxManager) commit(tx *TransactionMeta, note string, evt EventType) error {
	if err := m.store.Update(tx, note); err != nil {
		logger.WithFields(logger.Fields{
			"tx_id": tx.ID,
			"note":  note,
			"error": err,
		}).Error("committing transaction update failed")
		return err
	}
	if tx.Status.Terminal() {
		m.mu.Lock()
		delete(m.results, tx.ID)
		m.mu.Unlock()
	}
	m.events.publish(Event{Type: evt, Tx: tx.Clone()})
	return nil
}

// resultFor returns the completion handle for the transaction, creating and
// pre-resolving one from stored state when the pipeline goroutine that owned
// the original handle is gone. Handles for terminal transactions are not
// re-registered: commit already released them and the map must not regrow.
func (m *TxManager) resultFor(tx *TransactionMeta) *TxResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.results[tx.ID]; ok {
		return r
	}
	r := newTxResult()
	switch tx.Status {
	case StatusSubmitted, StatusConfirmed, StatusDropped:
		r.resolve(tx.Hash, nil)
	case StatusFailed:
		r.resolve(common.Hash{}, fmt.Errorf("%w: %s", ErrBroadcastFailed, tx.Error))
	case StatusRejected:
		r.resolve(common.Hash{}, ErrUserRejected)
	}
	if !tx.Status.Terminal() {
		m.results[tx.ID] = r
	}
	return r
}

func (m *TxManager) registerResult(id string) *TxResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := newTxResult()
	m.results[id] = r
	return r
}

// AddTransaction records a new transaction and starts its lifecycle. It
// returns the stored record and a completion handle that resolves with the
// broadcast hash, or with an error when the transaction is rejected or fails
// before submission.
//
// A repeated call carrying the actionId of a live transaction returns that
// transaction instead of creating a duplicate.
func (m *TxManager) AddTransaction(ctx context.Context, params *TxParams, opts AddTxOptions) (*TransactionMeta, *TxResult, error) {
	if err := params.Validate(); err != nil {
		return nil, nil, err
	}
	chainID := opts.ChainID
	if chainID == 0 {
		chainID = m.defaults.ChainID
	}
	if chainID == 0 {
		return nil, nil, ErrNoChainID
	}
	if opts.Origin != "" {
		if err := m.hooks.AuthorizeOrigin(opts.Origin, params.From); err != nil {
			return nil, nil, fmt.Errorf("%w: origin %s: %s", ErrOriginNotAuthorized, opts.Origin, err)
		}
	}
	if existing := m.store.GetByActionID(opts.ActionID); existing != nil {
		logger.WithFields(logger.Fields{
			"action_id": opts.ActionID,
			"tx_id":     existing.ID,
		}).Info("action id already in flight, returning existing transaction")
		return existing, m.resultFor(existing), nil
	}

	p := params.Clone()
	if err := m.fees.PopulateFees(ctx, p); err != nil {
		return nil, nil, err
	}
	if m.defaults.CheckBalance {
		if err := m.checkBalance(ctx, p); err != nil {
			return nil, nil, err
		}
	}

	txType := opts.Type
	if txType == "" {
		txType = deriveType(p)
	}
	tx := &TransactionMeta{
		ID:       uuid.NewString(),
		ActionID: opts.ActionID,
		ChainID:  chainID,
		Status:   StatusUnapproved,
		Type:     txType,
		TxParams: p,
		Time:     time.Now(),
		Origin:   opts.Origin,
	}
	if err := m.store.Insert(tx); err != nil {
		if errors.Is(err, ErrDuplicateActionID) {
			// lost the intake race to a concurrent call with the same actionId
			if existing := m.store.GetByActionID(opts.ActionID); existing != nil {
				return existing, m.resultFor(existing), nil
			}
		}
		return nil, nil, err
	}

	result := m.registerResult(tx.ID)
	m.events.publish(Event{Type: EventUnapproved, Tx: tx.Clone()})
	go m.runPipeline(ctx, tx.ID, result)
	return tx, result, nil
}

// checkBalance verifies the account can cover value plus the worst-case fee.
func (m *TxManager) checkBalance(ctx context.Context, p *TxParams) error {
	balance, err := m.client.BalanceAt(ctx, p.From)
	if err != nil {
		return fmt.Errorf("fetching balance for %s: %w", p.From.Hex(), err)
	}
	feeCap := p.GasPrice
	if p.MaxFeePerGas != nil {
		feeCap = p.MaxFeePerGas
	}
	cost := big.NewInt(0)
	if p.Value != nil {
		cost = new(big.Int).Set(p.Value)
	}
	if feeCap != nil {
		cost.Add(cost, new(big.Int).Mul(feeCap, new(big.Int).SetUint64(p.Gas)))
	}
	if balance.Cmp(cost) < 0 {
		return fmt.Errorf("%w: balance %s, needs %s", ErrInsufficientBalance, balance, cost)
	}
	return nil
}

// runPipeline drives one transaction from unapproved to submitted. A nonce is
// reserved only after approval so a rejection never burns one.
func (m *TxManager) runPipeline(ctx context.Context, id string, result *TxResult) {
	tx, err := m.store.Get(id)
	if err != nil {
		result.resolve(common.Hash{}, err)
		return
	}

	if err := m.hooks.BeforeApprove(tx); err != nil {
		m.failTx(tx, result, fmt.Errorf("before-approve hook: %w", err))
		return
	}
	decision, err := m.gateway.RequestApproval(ctx, tx)
	if err != nil {
		m.failTx(tx, result, fmt.Errorf("approval request: %w", err))
		return
	}
	// re-read the record: it may have been edited or cancelled while the
	// decision was pending, and a late approval must not resurrect it
	latest, err := m.store.Get(id)
	if err != nil {
		result.resolve(common.Hash{}, err)
		return
	}
	if latest.Status != StatusUnapproved {
		if latest.Status == StatusRejected {
			result.resolve(common.Hash{}, ErrUserRejected)
		} else {
			result.resolve(common.Hash{}, fmt.Errorf("%w: %s", ErrTxTerminal, id))
		}
		return
	}
	tx = latest
	if !decision.Approved {
		tx.Status = StatusRejected
		if err := m.commit(tx, "rejected by user", EventRejected); err != nil {
			result.resolve(common.Hash{}, err)
			return
		}
		result.resolve(common.Hash{}, ErrUserRejected)
		return
	}
	if decision.MutatedParams != nil {
		mutated := decision.MutatedParams.Clone()
		mutated.From = tx.TxParams.From
		if err := mutated.Validate(); err != nil {
			m.failTx(tx, result, fmt.Errorf("approval-mutated params: %w", err))
			return
		}
		tx.TxParams = mutated
	}
	tx.Status = StatusApproved
	if err := m.commit(tx, "approved", EventApproved); err != nil {
		result.resolve(common.Hash{}, err)
		return
	}

	if tx.TxParams.Nonce == nil {
		lease, err := m.nonces.Reserve(ctx, tx.TxParams.From, tx.ChainID)
		if err != nil {
			m.failTx(tx, result, fmt.Errorf("reserving nonce: %w", err))
			return
		}
		defer lease.Release()
		n := lease.Nonce
		tx.TxParams.Nonce = &n
	}

	m.finalize(ctx, tx, result)
}

// finalize signs and broadcasts an approved transaction that already has its
// nonce. Speed-up and cancel replacements enter here directly.
func (m *TxManager) finalize(ctx context.Context, tx *TransactionMeta, result *TxResult) {
	signed, err := m.signing.Sign(ctx, tx)
	if errors.Is(err, ErrSigningSkipped) {
		// another flow owns this id's signature
		return
	}
	if err != nil {
		m.failTx(tx, result, err)
		return
	}
	normalizeSignature(tx, signed)
	tx.Status = StatusSigned
	if err := m.commit(tx, "signed", EventStatusUpdate); err != nil {
		result.resolve(common.Hash{}, err)
		return
	}

	if err := m.hooks.AfterSign(tx); err != nil {
		m.failTx(tx, result, fmt.Errorf("after-sign hook: %w", err))
		return
	}
	if err := m.hooks.BeforePublish(tx); err != nil {
		m.failTx(tx, result, fmt.Errorf("before-publish hook: %w", err))
		return
	}

	hash, err := m.broadcaster.Publish(ctx, tx.RawTx)
	if err != nil {
		m.failTx(tx, result, err)
		return
	}
	tx.Hash = hash
	tx.Status = StatusSubmitted
	// the broadcast already happened; a commit failure here is logged by
	// commit and the caller still gets the hash
	_ = m.commit(tx, "broadcast accepted", EventSubmitted)
	result.resolve(hash, nil)
	m.tracker.Trigger()
}

func (m *TxManager) failTx(tx *TransactionMeta, result *TxResult, err error) {
	tx.Status = StatusFailed
	tx.Error = err.Error()
	_ = m.commit(tx, "pipeline failed", EventFailed)
	result.resolve(common.Hash{}, err)
}

// Approve resolves a manual approval wait, optionally carrying user-edited
// params. It errors unless the manager was built WithManualApproval and the
// transaction is parked at unapproved.
func (m *TxManager) Approve(id string, mutated *TxParams) error {
	g, ok := m.gateway.(*manualGateway)
	if !ok {
		return fmt.Errorf("manager is not using manual approval")
	}
	return g.decide(id, ApprovalResult{Approved: true, MutatedParams: mutated})
}

// Reject resolves a manual approval wait with a rejection.
func (m *TxManager) Reject(id string) error {
	g, ok := m.gateway.(*manualGateway)
	if !ok {
		return fmt.Errorf("manager is not using manual approval")
	}
	return g.decide(id, ApprovalResult{Approved: false})
}

// SpeedUp resubmits a submitted transaction on its nonce with bumped fees.
// The caller-supplied override is honored only when it meets the bump
// minimum. The replacement skips approval: the user already approved the
// transfer itself.
func (m *TxManager) SpeedUp(ctx context.Context, id string, override *FeeOverride) (*TransactionMeta, *TxResult, error) {
	orig, err := m.store.Get(id)
	if err != nil {
		return nil, nil, err
	}
	if orig.Status.Terminal() {
		return nil, nil, fmt.Errorf("%w: %s", ErrTxTerminal, id)
	}
	if orig.Status != StatusSubmitted {
		return nil, nil, fmt.Errorf("%w: only submitted transactions can be sped up", ErrTxNotEditable)
	}
	params := m.fees.SpeedUpParams(orig.TxParams, override)
	return m.replace(ctx, orig, params, TypeRetry)
}

// Cancel voids a transaction. An unapproved transaction is simply rejected;
// a submitted one gets a zero-value self-send racing it on the same nonce.
func (m *TxManager) Cancel(ctx context.Context, id string, override *FeeOverride) (*TransactionMeta, *TxResult, error) {
	orig, err := m.store.Get(id)
	if err != nil {
		return nil, nil, err
	}
	switch {
	case orig.Status == StatusUnapproved:
		// a parked approval wait handles the rejection itself
		if g, ok := m.gateway.(*manualGateway); ok {
			if err := g.decide(id, ApprovalResult{Approved: false}); err != nil {
				return nil, nil, err
			}
			return orig, nil, nil
		}
		tx := orig
		// grab the handle before the terminal commit releases it
		res := m.resultFor(tx)
		tx.Status = StatusRejected
		if err := m.commit(tx, "cancelled before approval", EventRejected); err != nil {
			return nil, nil, err
		}
		res.resolve(common.Hash{}, ErrUserRejected)
		return tx, nil, nil
	case orig.Status.Terminal():
		return nil, nil, fmt.Errorf("%w: %s", ErrTxTerminal, id)
	case orig.Status != StatusSubmitted:
		return nil, nil, fmt.Errorf("%w: only unapproved or submitted transactions can be cancelled", ErrTxNotEditable)
	}
	params := m.fees.CancelParams(orig.TxParams, override)
	return m.replace(ctx, orig, params, TypeCancel)
}

// replace inserts a pre-approved replacement sharing the original's nonce
// and drives it through signing and broadcast.
func (m *TxManager) replace(ctx context.Context, orig *TransactionMeta, params *TxParams, txType TransactionType) (*TransactionMeta, *TxResult, error) {
	tx := &TransactionMeta{
		ID:       uuid.NewString(),
		ChainID:  orig.ChainID,
		Status:   StatusApproved,
		Type:     txType,
		TxParams: params,
		Time:     time.Now(),
		Origin:   orig.Origin,
	}
	if err := m.store.Insert(tx); err != nil {
		return nil, nil, err
	}
	result := m.registerResult(tx.ID)
	m.events.publish(Event{Type: EventApproved, Tx: tx.Clone()})
	go m.finalize(ctx, tx, result)
	return tx, result, nil
}

// UpdateEditableParams replaces the params of a transaction still waiting
// for approval. The from-address is immutable: it was what the origin was
// authorized against.
func (m *TxManager) UpdateEditableParams(id string, params *TxParams) (*TransactionMeta, error) {
	tx, err := m.store.Get(id)
	if err != nil {
		return nil, err
	}
	if tx.Status != StatusUnapproved {
		return nil, fmt.Errorf("%w: %s is %s", ErrTxNotEditable, id, tx.Status)
	}
	p := params.Clone()
	p.From = tx.TxParams.From
	if err := p.Validate(); err != nil {
		return nil, err
	}
	tx.TxParams = p
	if err := m.commit(tx, "params edited before approval", EventStatusUpdate); err != nil {
		return nil, err
	}
	return tx, nil
}

// ConfirmExternal records an on-chain confirmation observed outside the
// tracker, e.g. an incoming transaction or one published by another wallet.
// Unknown transactions are adopted into the store first; siblings competing
// for the nonce are dropped either way.
func (m *TxManager) ConfirmExternal(ctx context.Context, tx *TransactionMeta, receipt *types.Receipt) error {
	existing, err := m.store.Get(tx.ID)
	if errors.Is(err, ErrTxNotFound) {
		adopted := tx.Clone()
		if adopted.ID == "" {
			adopted.ID = uuid.NewString()
		}
		if adopted.Type == "" {
			adopted.Type = TypeIncoming
		}
		adopted.Status = StatusSubmitted
		if adopted.Time.IsZero() {
			adopted.Time = time.Now()
		}
		if err := m.store.Insert(adopted); err != nil {
			return err
		}
		existing = adopted
	} else if err != nil {
		return err
	}
	if existing.Status.Terminal() {
		return fmt.Errorf("%w: %s", ErrTxTerminal, existing.ID)
	}
	return m.tracker.Confirm(ctx, existing, receipt)
}

// GetTransaction returns a snapshot of one transaction.
func (m *TxManager) GetTransaction(id string) (*TransactionMeta, error) {
	return m.store.Get(id)
}

// GetTransactions returns matching snapshots, newest first. A limit bounds
// nonce groups, never splitting one.
func (m *TxManager) GetTransactions(q TxQuery) []*TransactionMeta {
	return m.store.Query(q)
}

// WipeTransactions removes every transaction matching the filter and returns
// the count.
func (m *TxManager) WipeTransactions(filter WipeFilter) int {
	return m.store.Wipe(filter)
}

// nextNetworkNonce merges the mined and mempool views of an account's nonce.
// A mined nonce ahead of the pending one means the node's mempool view is
// stale, so the larger value wins.
func (m *TxManager) nextNetworkNonce(ctx context.Context, account common.Address, chainID uint64) (uint64, error) {
	mined, err := m.client.NonceAt(ctx, account)
	if err != nil {
		return 0, err
	}
	pending, err := m.client.PendingNonceAt(ctx, account)
	if err != nil {
		return 0, err
	}
	if mined > pending {
		logger.WithFields(logger.Fields{
			"account": account.Hex(),
			"mined":   mined,
			"pending": pending,
		}).Warn("mined nonce ahead of pending nonce, node mempool view is stale")
		return mined, nil
	}
	return pending, nil
}

// manualGateway parks each approval request until Approve or Reject names
// its transaction id.
type manualGateway struct {
	mu      sync.Mutex
	waiters map[string]chan ApprovalResult
}

func newManualGateway() *manualGateway {
	return &manualGateway{waiters: make(map[string]chan ApprovalResult)}
}

func (g *manualGateway) RequestApproval(ctx context.Context, tx *TransactionMeta) (ApprovalResult, error) {
	ch := make(chan ApprovalResult, 1)
	g.mu.Lock()
	g.waiters[tx.ID] = ch
	g.mu.Unlock()
	defer func() {
		g.mu.Lock()
		delete(g.waiters, tx.ID)
		g.mu.Unlock()
	}()

	select {
	case res := <-ch:
		return res, nil
	case <-ctx.Done():
		return ApprovalResult{}, ctx.Err()
	}
}

// decide resolves the wait for the given transaction id.
func (g *manualGateway) decide(id string, res ApprovalResult) error {
	g.mu.Lock()
	ch, ok := g.waiters[id]
	g.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: no approval pending for %s", ErrTxNotFound, id)
	}
	select {
	case ch <- res:
		return nil
	default:
		return fmt.Errorf("approval for %s already decided", id)
	}
}
