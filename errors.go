package txmanager

import (
	"fmt"
	"strings"
)

// Pre-flight errors: returned synchronously by AddTransaction, never enter
// the store.
var (
	ErrInvalidParams       = fmt.Errorf("invalid transaction params")
	ErrOriginNotAuthorized = fmt.Errorf("origin is not authorized for this account")
	ErrNoChainID           = fmt.Errorf("no chain id configured or supplied")
	ErrNoSigner            = fmt.Errorf("no signer configured")
	ErrInsufficientBalance = fmt.Errorf("account balance cannot cover value and fees")
	ErrDuplicateActionID   = fmt.Errorf("action id already in flight")
)

// Lifecycle errors
var (
	ErrTxNotFound     = fmt.Errorf("transaction not found")
	ErrUserRejected   = fmt.Errorf("user rejected the transaction")
	ErrTxTerminal     = fmt.Errorf("transaction already reached a terminal status")
	ErrTxNotEditable  = fmt.Errorf("transaction params can only be edited while unapproved")
	ErrSigningSkipped = fmt.Errorf("transaction is already being signed")
)

// Broadcast error taxonomy: the network rejected the raw transaction. The
// sub-classification is derived from the node's error message so callers
// never see transport-specific shapes.
var (
	ErrBroadcastFailed   = fmt.Errorf("broadcast failed")
	ErrAlreadyKnown      = fmt.Errorf("transaction already known to the network")
	ErrNonceTooLow       = fmt.Errorf("nonce too low")
	ErrUnderpriced       = fmt.Errorf("transaction underpriced")
	ErrInsufficientFunds = fmt.Errorf("insufficient funds for gas * price + value")
)

// ErrCircuitBreakerOpen is surfaced when the per-chain breaker guarding the
// network client refuses a call.
var ErrCircuitBreakerOpen = fmt.Errorf("circuit breaker is open: network temporarily unavailable")

// classifyBroadcastError maps a node error from sendRawTransaction onto the
// broadcast taxonomy. The message patterns cover geth, erigon and nethermind
// wordings.
func classifyBroadcastError(err error) error {
	if err == nil {
		return nil
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "already known"),
		strings.Contains(msg, "alreadyknown"),
		strings.Contains(msg, "known transaction"):
		return fmt.Errorf("%w: %s", ErrAlreadyKnown, err)
	case strings.Contains(msg, "nonce too low"),
		strings.Contains(msg, "oldnonce"),
		strings.Contains(msg, "invalid transaction nonce"):
		return fmt.Errorf("%w: %s", ErrNonceTooLow, err)
	case strings.Contains(msg, "underpriced"),
		strings.Contains(msg, "replacement transaction"),
		strings.Contains(msg, "fee too low"):
		return fmt.Errorf("%w: %s", ErrUnderpriced, err)
	case strings.Contains(msg, "insufficient funds"):
		return fmt.Errorf("%w: %s", ErrInsufficientFunds, err)
	default:
		return fmt.Errorf("%w: %s", ErrBroadcastFailed, err)
	}
}
