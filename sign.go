package txmanager

import (
	"context"
	"fmt"
	"sync"

	"github.com/KyberNetwork/logger"
	"github.com/ethereum/go-ethereum/core/types"
)

// Signer is the injected signing capability. Implementations may front
// software keys, hardware wallets or remote signers; returning (nil, nil)
// means the signer declined without error.
type Signer interface {
	SignTransaction(ctx context.Context, params *TxParams, chainID uint64) (*types.Transaction, error)
}

// SignedTx is the outcome of a successful signing step.
type SignedTx struct {
	Raw []byte
	Tx  *types.Transaction
}

// SigningCoordinator converts params into a signed raw transaction exactly
// once per logical transaction. Re-entrant signing of the same id (two
// approval attempts racing) is skipped, never double-signed.
type SigningCoordinator struct {
	mu       sync.Mutex
	inFlight map[string]struct{}
	signer   Signer
}

// NewSigningCoordinator builds a coordinator over the signer capability.
// The signer may be nil; signing then fails with ErrNoSigner.
func NewSigningCoordinator(signer Signer) *SigningCoordinator {
	return &SigningCoordinator{
		inFlight: make(map[string]struct{}),
		signer:   signer,
	}
}

// begin registers the id as currently signing. Returns false when the id is
// already in flight.
func (s *SigningCoordinator) begin(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.inFlight[id]; busy {
		return false
	}
	s.inFlight[id] = struct{}{}
	return true
}

func (s *SigningCoordinator) end(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inFlight, id)
}

// Sign produces the signed raw transaction for the record. It returns
// (nil, ErrSigningSkipped) when the id is already being signed so the
// caller can back off instead of double-signing.
func (s *SigningCoordinator) Sign(ctx context.Context, tx *TransactionMeta) (*SignedTx, error) {
	if s.signer == nil {
		return nil, ErrNoSigner
	}
	if !s.begin(tx.ID) {
		logger.WithFields(logger.Fields{
			"tx_id": tx.ID,
		}).Debug("signing already in flight, skipping")
		return nil, ErrSigningSkipped
	}
	defer s.end(tx.ID)

	signed, err := s.signer.SignTransaction(ctx, tx.TxParams, tx.ChainID)
	if err != nil {
		return nil, fmt.Errorf("signer failed for tx %s: %w", tx.ID, err)
	}
	if signed == nil {
		return nil, fmt.Errorf("signer returned no transaction for tx %s", tx.ID)
	}

	raw, err := signed.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("serializing signed tx %s: %w", tx.ID, err)
	}
	return &SignedTx{Raw: raw, Tx: signed}, nil
}

// normalizeSignature copies the signature components and wire bytes of the
// signed transaction onto the record.
func normalizeSignature(tx *TransactionMeta, signed *SignedTx) {
	v, r, sv := signed.Tx.RawSignatureValues()
	tx.SigV = v
	tx.SigR = r
	tx.SigS = sv
	tx.RawTx = signed.Raw
	tx.Hash = signed.Tx.Hash()
}
