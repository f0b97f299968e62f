package txmanager

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Fee bump and timing constants
const (
	// DefaultSpeedUpMultiplier is applied to the existing fees when a
	// transaction is resubmitted with the same nonce to get it mined faster.
	DefaultSpeedUpMultiplier = 1.1
	// DefaultCancelMultiplier is applied to the existing fees when a
	// zero-value self-send is submitted to void a pending transaction.
	DefaultCancelMultiplier = 1.5

	DefaultTrackerInterval = 5 * time.Second
	DefaultResubmitTicks   = 3
	DefaultMaxRetries      = 9
	DefaultHistoryLimit    = 40
)

// TransactionStatus is the lifecycle state of a transaction record.
type TransactionStatus string

const (
	StatusUnapproved TransactionStatus = "unapproved"
	StatusApproved   TransactionStatus = "approved"
	StatusSigned     TransactionStatus = "signed"
	StatusSubmitted  TransactionStatus = "submitted"
	StatusConfirmed  TransactionStatus = "confirmed"
	StatusFailed     TransactionStatus = "failed"
	StatusRejected   TransactionStatus = "rejected"
	StatusDropped    TransactionStatus = "dropped"
)

// Terminal reports whether the status is absorbing: once reached, the
// transaction never transitions again.
func (s TransactionStatus) Terminal() bool {
	switch s {
	case StatusConfirmed, StatusFailed, StatusRejected, StatusDropped:
		return true
	default:
		return false
	}
}

// TransactionType is the semantic classification of a transaction, derived
// from its call data and destination at submission time.
type TransactionType string

const (
	TypeSimpleSend   TransactionType = "simpleSend"
	TypeContractCall TransactionType = "contractInteraction"
	TypeDeploy       TransactionType = "contractDeployment"
	TypeCancel       TransactionType = "cancel"
	TypeRetry        TransactionType = "retry"
	TypeIncoming     TransactionType = "incoming"
)

// TxParams holds the chain-level fields of a transaction. Once the
// transaction is broadcast the params are frozen except for fee-bump copies
// made by speed-up and cancel.
type TxParams struct {
	From  common.Address
	To    *common.Address
	Value *big.Int
	Data  []byte
	Nonce *uint64
	Gas   uint64

	// Legacy fee field
	GasPrice *big.Int

	// Fee-market fields
	MaxFeePerGas         *big.Int
	MaxPriorityFeePerGas *big.Int
}

// IsFeeMarket reports whether the params carry fee-market (EIP-1559 style)
// fee fields rather than a legacy gas price.
func (p *TxParams) IsFeeMarket() bool {
	return p.MaxFeePerGas != nil || p.MaxPriorityFeePerGas != nil
}

// Clone returns a deep copy of the params.
func (p *TxParams) Clone() *TxParams {
	if p == nil {
		return nil
	}
	cp := &TxParams{
		From: p.From,
		Gas:  p.Gas,
	}
	if p.To != nil {
		to := *p.To
		cp.To = &to
	}
	if p.Value != nil {
		cp.Value = new(big.Int).Set(p.Value)
	}
	if p.Data != nil {
		cp.Data = append([]byte(nil), p.Data...)
	}
	if p.Nonce != nil {
		n := *p.Nonce
		cp.Nonce = &n
	}
	if p.GasPrice != nil {
		cp.GasPrice = new(big.Int).Set(p.GasPrice)
	}
	if p.MaxFeePerGas != nil {
		cp.MaxFeePerGas = new(big.Int).Set(p.MaxFeePerGas)
	}
	if p.MaxPriorityFeePerGas != nil {
		cp.MaxPriorityFeePerGas = new(big.Int).Set(p.MaxPriorityFeePerGas)
	}
	return cp
}

// HistoryEntry is one mutation applied to a transaction record. The history
// log is append-only and is used for audit and debugging, never for control
// flow.
type HistoryEntry struct {
	FieldPath string
	OldValue  string
	NewValue  string
	Note      string
	Timestamp time.Time
}

// TransactionMeta is the authoritative record of one transaction known to
// the wallet. ID is immutable and globally unique for the lifetime of the
// store; ActionID, when set, is the caller-supplied idempotency key.
type TransactionMeta struct {
	ID       string
	ActionID string
	ChainID  uint64
	Status   TransactionStatus
	Type     TransactionType
	TxParams *TxParams
	Time     time.Time
	Origin   string

	// Set once the transaction is broadcast
	Hash  common.Hash
	RawTx []byte

	// Normalized signature components, set after signing
	SigV *big.Int
	SigR *big.Int
	SigS *big.Int

	// Confirmation metadata
	Receipt       *types.Receipt
	BaseFeePerGas *big.Int

	// Replacement bookkeeping: set on dropped transactions whose nonce was
	// consumed by a sibling that confirmed instead.
	ReplacedBy   common.Hash
	ReplacedByID string

	// Retries counts tracker resubmissions of the signed raw transaction.
	Retries int

	// Error is set only when Status == StatusFailed.
	Error string

	History []HistoryEntry
}

// Clone returns a deep copy of the record.
func (m *TransactionMeta) Clone() *TransactionMeta {
	if m == nil {
		return nil
	}
	cp := *m
	cp.TxParams = m.TxParams.Clone()
	if m.RawTx != nil {
		cp.RawTx = append([]byte(nil), m.RawTx...)
	}
	if m.SigV != nil {
		cp.SigV = new(big.Int).Set(m.SigV)
	}
	if m.SigR != nil {
		cp.SigR = new(big.Int).Set(m.SigR)
	}
	if m.SigS != nil {
		cp.SigS = new(big.Int).Set(m.SigS)
	}
	if m.BaseFeePerGas != nil {
		cp.BaseFeePerGas = new(big.Int).Set(m.BaseFeePerGas)
	}
	cp.History = append([]HistoryEntry(nil), m.History...)
	return &cp
}

// nonceGroupKey identifies the set of transactions competing for the same
// (from, chainID, nonce) slot. Transactions without a nonce yet form
// singleton groups keyed by their id.
func (m *TransactionMeta) nonceGroupKey() string {
	if m.TxParams == nil || m.TxParams.Nonce == nil {
		return "id:" + m.ID
	}
	return groupKey(m.TxParams.From, m.ChainID, *m.TxParams.Nonce)
}

// EventType names the lifecycle notifications emitted by the manager.
type EventType string

const (
	EventUnapproved   EventType = "unapproved"
	EventApproved     EventType = "approved"
	EventSubmitted    EventType = "submitted"
	EventConfirmed    EventType = "confirmed"
	EventFailed       EventType = "failed"
	EventDropped      EventType = "dropped"
	EventRejected     EventType = "rejected"
	EventStatusUpdate EventType = "status-update"
)

// Event is one lifecycle notification. Tx is a snapshot; mutating it does
// not affect the store.
type Event struct {
	Type EventType
	Tx   *TransactionMeta
}

// ManagerDefaults holds the configuration inherited by every transaction
// the manager processes.
type ManagerDefaults struct {
	// ChainID used when AddTxOptions doesn't carry one. Zero means the
	// caller must always supply a chain id.
	ChainID uint64

	// Fee configuration
	SpeedUpMultiplier float64
	CancelMultiplier  float64
	GasBufferPercent  float64
	ExtraGasLimit     uint64

	// Tracker configuration
	TrackerInterval   time.Duration
	ConfirmationDepth uint64
	ResubmitEnabled   bool
	ResubmitTicks     int
	MaxRetries        int

	// Store configuration
	HistoryLimit   int
	DisableHistory bool

	// CheckBalance enables the pre-approval balance guard.
	CheckBalance bool
}

func defaultManagerDefaults() ManagerDefaults {
	return ManagerDefaults{
		SpeedUpMultiplier: DefaultSpeedUpMultiplier,
		CancelMultiplier:  DefaultCancelMultiplier,
		TrackerInterval:   DefaultTrackerInterval,
		ResubmitEnabled:   true,
		ResubmitTicks:     DefaultResubmitTicks,
		MaxRetries:        DefaultMaxRetries,
		HistoryLimit:      DefaultHistoryLimit,
	}
}

// AddTxOptions carries the per-submission options of AddTransaction.
type AddTxOptions struct {
	// ActionID is the caller-supplied idempotency key. A repeated call with
	// the same ActionID returns the existing transaction instead of
	// creating a new one.
	ActionID string

	// Origin is the requesting caller, used for authorization and audit.
	Origin string

	// ChainID overrides the manager default for this transaction.
	ChainID uint64

	// Type forces the semantic classification instead of deriving it from
	// the call data.
	Type TransactionType
}

// FeeOverride carries caller-supplied target fees for speed-up and cancel.
// Each value is used only if it meets the computed bump minimum.
type FeeOverride struct {
	GasPrice             *big.Int
	MaxFeePerGas         *big.Int
	MaxPriorityFeePerGas *big.Int
}
