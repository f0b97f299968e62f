package txmanager

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/KyberNetwork/logger"
	"github.com/ethereum/go-ethereum/common"
)

// TxQuery selects transactions from the store.
type TxQuery struct {
	// Predicate matches against the full record; nil matches everything.
	Predicate func(*TransactionMeta) bool

	// ChainID restricts results to one chain when non-zero.
	ChainID uint64

	// Limit bounds the number of nonce groups returned, newest first. A
	// group is never truncated mid-way, so the row count may exceed the
	// limit. Zero means unlimited.
	Limit int
}

// WipeFilter selects transactions for removal. Zero-valued fields match
// everything.
type WipeFilter struct {
	From    *common.Address
	ChainID uint64
	Origin  string
}

// TransactionStore is the authoritative record of all transactions known to
// the wallet. It is the single shared mutable resource of the subsystem:
// every mutation goes through its writer lock, and every committed mutation
// is pushed to the persistence hook.
type TransactionStore struct {
	mu    sync.RWMutex
	txs   map[string]*TransactionMeta
	order []string

	historyLimit   int
	disableHistory bool
	persist        Persistence
}

// NewTransactionStore builds a store, seeding it from the persistence hook.
func NewTransactionStore(historyLimit int, disableHistory bool, persist Persistence) (*TransactionStore, error) {
	if persist == nil {
		persist = NoopPersistence{}
	}
	s := &TransactionStore{
		txs:            make(map[string]*TransactionMeta),
		historyLimit:   historyLimit,
		disableHistory: disableHistory,
		persist:        persist,
	}
	loaded, err := persist.Load()
	if err != nil {
		return nil, fmt.Errorf("loading persisted transactions: %w", err)
	}
	for _, tx := range loaded {
		if tx == nil || tx.ID == "" {
			continue
		}
		s.txs[tx.ID] = tx.Clone()
		s.order = append(s.order, tx.ID)
	}
	return s, nil
}

// Insert adds a new transaction record. The id must be unused and the
// actionId, when present, must not collide with a live (non-superseded)
// transaction.
func (s *TransactionStore) Insert(tx *TransactionMeta) error {
	if err := tx.TxParams.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.txs[tx.ID]; exists {
		return fmt.Errorf("transaction id %s already exists", tx.ID)
	}
	if tx.ActionID != "" {
		for _, existing := range s.txs {
			if existing.ActionID == tx.ActionID && !superseded(existing) {
				return fmt.Errorf("%w: %s", ErrDuplicateActionID, tx.ActionID)
			}
		}
	}

	s.txs[tx.ID] = tx.Clone()
	s.order = append(s.order, tx.ID)
	s.trimLocked()
	s.saveLocked()
	return nil
}

// superseded reports whether a record no longer claims its actionId slot.
func superseded(tx *TransactionMeta) bool {
	return tx.Status == StatusRejected || tx.Status == StatusDropped
}

// Update commits a mutated record, re-validating its params and appending a
// history entry per changed field. Terminal records accept confirmation
// metadata (receipt, base fee, replacement pointers) but never a status or
// params change.
func (s *TransactionStore) Update(tx *TransactionMeta, note string) error {
	if err := tx.TxParams.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.txs[tx.ID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrTxNotFound, tx.ID)
	}

	changes := diffHistory(existing, tx, note, time.Now())
	if existing.Status.Terminal() {
		for _, c := range changes {
			if c.FieldPath == "status" || strings.HasPrefix(c.FieldPath, "txParams.") {
				return fmt.Errorf("%w: %s cannot change %s", ErrTxTerminal, tx.ID, c.FieldPath)
			}
		}
	}

	committed := tx.Clone()
	if s.disableHistory {
		committed.History = nil
	} else {
		committed.History = append(append([]HistoryEntry(nil), existing.History...), changes...)
	}
	s.txs[tx.ID] = committed
	tx.History = append([]HistoryEntry(nil), committed.History...)

	s.trimLocked()
	s.saveLocked()
	return nil
}

// Get returns a snapshot of the record with the given id.
func (s *TransactionStore) Get(id string) (*TransactionMeta, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tx, ok := s.txs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTxNotFound, id)
	}
	return tx.Clone(), nil
}

// GetByActionID returns the live transaction claiming the given actionId,
// or nil when none does.
func (s *TransactionStore) GetByActionID(actionID string) *TransactionMeta {
	if actionID == "" {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, tx := range s.txs {
		if tx.ActionID == actionID && !superseded(tx) {
			return tx.Clone()
		}
	}
	return nil
}

// Query returns matching snapshots, newest first. When a limit is set, it
// bounds the number of nonce groups, and every returned group is complete:
// UI consumers depend on seeing all transactions sharing a nonce together.
func (s *TransactionStore) Query(q TxQuery) []*TransactionMeta {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matches := make([]*TransactionMeta, 0)
	for _, id := range s.order {
		tx := s.txs[id]
		if q.ChainID != 0 && tx.ChainID != q.ChainID {
			continue
		}
		if q.Predicate != nil && !q.Predicate(tx) {
			continue
		}
		matches = append(matches, tx)
	}
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Time.After(matches[j].Time)
	})

	if q.Limit <= 0 {
		return cloneAll(matches)
	}

	included := make(map[string]bool)
	result := make([]*TransactionMeta, 0, len(matches))
	for _, tx := range matches {
		key := tx.nonceGroupKey()
		if !included[key] {
			if len(included) >= q.Limit {
				continue
			}
			included[key] = true
		}
		result = append(result, tx)
	}
	return cloneAll(result)
}

// InFlightNonces returns the nonces of locally submitted and confirmed
// transactions for an account, used by the nonce coordinator to avoid
// reissuing a nonce that is already spoken for.
func (s *TransactionStore) InFlightNonces(from common.Address, chainID uint64) []uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var nonces []uint64
	for _, tx := range s.txs {
		if tx.ChainID != chainID || tx.TxParams == nil || tx.TxParams.Nonce == nil {
			continue
		}
		if tx.TxParams.From != from {
			continue
		}
		switch tx.Status {
		case StatusSubmitted, StatusSigned, StatusApproved, StatusConfirmed:
			nonces = append(nonces, *tx.TxParams.Nonce)
		}
	}
	return nonces
}

// Wipe removes every transaction matching the filter and returns the count.
func (s *TransactionStore) Wipe(filter WipeFilter) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	kept := s.order[:0]
	for _, id := range s.order {
		tx := s.txs[id]
		if wipeMatch(tx, filter) {
			delete(s.txs, id)
			removed++
			continue
		}
		kept = append(kept, id)
	}
	s.order = kept
	if removed > 0 {
		s.saveLocked()
	}
	return removed
}

func wipeMatch(tx *TransactionMeta, f WipeFilter) bool {
	if f.From != nil && (tx.TxParams == nil || tx.TxParams.From != *f.From) {
		return false
	}
	if f.ChainID != 0 && tx.ChainID != f.ChainID {
		return false
	}
	if f.Origin != "" && tx.Origin != f.Origin {
		return false
	}
	return true
}

// All returns a snapshot of every record in insertion order.
func (s *TransactionStore) All() []*TransactionMeta {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

func (s *TransactionStore) snapshotLocked() []*TransactionMeta {
	out := make([]*TransactionMeta, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.txs[id].Clone())
	}
	return out
}

func cloneAll(txs []*TransactionMeta) []*TransactionMeta {
	out := make([]*TransactionMeta, len(txs))
	for i, tx := range txs {
		out[i] = tx.Clone()
	}
	return out
}

// trimLocked evicts the oldest retained (confirmed/failed/rejected) records
// once their count exceeds the history limit. Eviction happens a whole
// (nonce, chainId, calendar-day) group at a time: siblings created the same
// day are presented together and must never be split. Groups containing a
// pending or unapproved transaction are untouchable.
func (s *TransactionStore) trimLocked() {
	if s.historyLimit <= 0 {
		return
	}
	for s.retainedCountLocked() > s.historyLimit {
		if !s.evictOldestGroupLocked() {
			return
		}
	}
}

func (s *TransactionStore) retainedCountLocked() int {
	n := 0
	for _, tx := range s.txs {
		switch tx.Status {
		case StatusConfirmed, StatusFailed, StatusRejected:
			n++
		}
	}
	return n
}

// evictOldestGroupLocked removes the oldest fully-terminal trim group.
// Returns false when no group is evictable.
func (s *TransactionStore) evictOldestGroupLocked() bool {
	// Bucket all records into (nonce, chainId, day) trim groups.
	groups := make(map[string][]string)
	oldest := make(map[string]time.Time)
	for _, id := range s.order {
		tx := s.txs[id]
		key := trimGroupKey(tx)
		groups[key] = append(groups[key], id)
		if t, ok := oldest[key]; !ok || tx.Time.Before(t) {
			oldest[key] = tx.Time
		}
	}

	var victim string
	var victimTime time.Time
	for key, ids := range groups {
		evictable := true
		for _, id := range ids {
			if !s.txs[id].Status.Terminal() {
				evictable = false
				break
			}
		}
		if !evictable {
			continue
		}
		if victim == "" || oldest[key].Before(victimTime) {
			victim = key
			victimTime = oldest[key]
		}
	}
	if victim == "" {
		return false
	}

	for _, id := range groups[victim] {
		delete(s.txs, id)
	}
	kept := s.order[:0]
	for _, id := range s.order {
		if _, ok := s.txs[id]; ok {
			kept = append(kept, id)
		}
	}
	s.order = kept
	return true
}

// trimGroupKey buckets a record for retention purposes. Records without a
// nonce can never be split from siblings, so they trim individually.
func trimGroupKey(tx *TransactionMeta) string {
	day := tx.Time.UTC().Format("2006-01-02")
	if tx.TxParams == nil || tx.TxParams.Nonce == nil {
		return fmt.Sprintf("id:%s@%s", tx.ID, day)
	}
	return fmt.Sprintf("%d-%d@%s", *tx.TxParams.Nonce, tx.ChainID, day)
}

func (s *TransactionStore) saveLocked() {
	if err := s.persist.Save(s.snapshotLocked()); err != nil {
		logger.WithFields(logger.Fields{
			"error": err,
		}).Error("persisting transaction snapshot failed")
	}
}

func groupKey(from common.Address, chainID uint64, nonce uint64) string {
	return fmt.Sprintf("%s-%d-%d", strings.ToLower(from.Hex()), chainID, nonce)
}
