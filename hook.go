package txmanager

import "github.com/ethereum/go-ethereum/common"

// Hooks lets an embedder observe and veto lifecycle steps. All methods
// receive a snapshot of the record; returning an error aborts the step.
// Embed BaseHooks to implement only the hooks you care about.
type Hooks interface {
	// AuthorizeOrigin is called before a transaction with a non-empty
	// origin enters the store. Return an error to refuse the origin access
	// to the from-address.
	AuthorizeOrigin(origin string, from common.Address) error

	// BeforeApprove runs before the approval request is dispatched.
	BeforeApprove(tx *TransactionMeta) error

	// AfterSign runs once the signature has been normalized onto the
	// record.
	AfterSign(tx *TransactionMeta) error

	// BeforePublish runs right before the raw transaction is broadcast.
	BeforePublish(tx *TransactionMeta) error
}

// BaseHooks is the no-op Hooks implementation.
type BaseHooks struct{}

func (BaseHooks) AuthorizeOrigin(string, common.Address) error { return nil }
func (BaseHooks) BeforeApprove(*TransactionMeta) error         { return nil }
func (BaseHooks) AfterSign(*TransactionMeta) error             { return nil }
func (BaseHooks) BeforePublish(*TransactionMeta) error         { return nil }
