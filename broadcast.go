package txmanager

import (
	"context"

	"github.com/KyberNetwork/logger"
	"github.com/ethereum/go-ethereum/common"
)

// Broadcaster submits signed raw transactions to the network. It is
// stateless; the only side effect is the network call itself.
type Broadcaster struct {
	client NetworkClient
}

// NewBroadcaster builds a broadcaster over the network client.
func NewBroadcaster(client NetworkClient) *Broadcaster {
	return &Broadcaster{client: client}
}

// Publish submits the raw transaction and returns the hash the network
// accepted it under. Failures come back classified (ErrAlreadyKnown,
// ErrNonceTooLow, ErrUnderpriced, ErrInsufficientFunds or
// ErrBroadcastFailed), never as transport-specific shapes.
func (b *Broadcaster) Publish(ctx context.Context, raw []byte) (common.Hash, error) {
	hash, err := b.client.SendRawTransaction(ctx, raw)
	if err != nil {
		classified := classifyBroadcastError(err)
		logger.WithFields(logger.Fields{
			"error": classified,
		}).Debug("broadcast rejected")
		return common.Hash{}, classified
	}
	logger.WithFields(logger.Fields{
		"tx_hash": hash.Hex(),
	}).Info("broadcasted transaction")
	return hash, nil
}
