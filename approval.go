package txmanager

import "context"

// ApprovalResult is the outcome of an approval request. It carries no
// per-decision callbacks: embedders observe what happens after approval
// through the Hooks interface and the transaction's TxResult handle.
type ApprovalResult struct {
	Approved bool

	// MutatedParams carries user edits (typically gas fields) made during
	// approval. They are re-validated before the transaction proceeds.
	MutatedParams *TxParams
}

// ApprovalGateway requests an external decision for an unapproved
// transaction before it consumes a nonce. The wait has no implicit timeout:
// implementations block until an explicit accept or reject signal, or until
// the context is cancelled.
type ApprovalGateway interface {
	RequestApproval(ctx context.Context, tx *TransactionMeta) (ApprovalResult, error)
}

// AutoApprovalGateway approves every transaction immediately. It is the
// default for headless embedders that gate submissions upstream.
type AutoApprovalGateway struct{}

func (AutoApprovalGateway) RequestApproval(context.Context, *TransactionMeta) (ApprovalResult, error) {
	return ApprovalResult{Approved: true}, nil
}
