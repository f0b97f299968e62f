// Package nonce issues network-safe nonces for wallet accounts. Reservation
// is exclusive per (address, chain): while one caller holds a lease, every
// other reservation for the same account blocks, so two concurrent approval
// flows can never be handed the same nonce.
//
// The lease is advisory and lives only in memory. The safe state is always
// re-derivable from the chain plus the local transaction store, so a crashed
// process never wedges an account.
package nonce

import (
	"context"
	"fmt"
	"sync"

	"github.com/KyberNetwork/logger"
	"github.com/ethereum/go-ethereum/common"
)

// NetworkNextFunc returns the network's next expected nonce for the account
// (mempool included).
type NetworkNextFunc func(ctx context.Context, account common.Address, chainID uint64) (uint64, error)

// InFlightFunc returns nonces already claimed by locally known transactions
// (submitted or confirmed) for the account.
type InFlightFunc func(account common.Address, chainID uint64) []uint64

// Lease is a reserved nonce. The holder must call Release once the nonce is
// either consumed (transaction signed and handed to the network) or
// abandoned; Release is idempotent.
type Lease struct {
	Nonce uint64

	once    sync.Once
	release func()
}

// Release returns the account gate so the next reservation can proceed.
func (l *Lease) Release() {
	l.once.Do(l.release)
}

// Coordinator serializes nonce reservation per account.
type Coordinator struct {
	mu    sync.Mutex
	gates map[string]chan struct{}

	networkNext NetworkNextFunc
	inFlight    InFlightFunc
}

// NewCoordinator builds a coordinator over the two state sources.
func NewCoordinator(networkNext NetworkNextFunc, inFlight InFlightFunc) *Coordinator {
	return &Coordinator{
		gates:       make(map[string]chan struct{}),
		networkNext: networkNext,
		inFlight:    inFlight,
	}
}

func (c *Coordinator) gate(account common.Address, chainID uint64) chan struct{} {
	key := fmt.Sprintf("%s-%d", account.Hex(), chainID)
	c.mu.Lock()
	defer c.mu.Unlock()
	g, ok := c.gates[key]
	if !ok {
		g = make(chan struct{}, 1)
		c.gates[key] = g
	}
	return g
}

// Reserve picks the first nonce that is free against both the network's
// expected nonce and locally in-flight transactions, and holds the account
// gate until the lease is released.
func (c *Coordinator) Reserve(ctx context.Context, account common.Address, chainID uint64) (*Lease, error) {
	g := c.gate(account, chainID)
	select {
	case g <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	next, err := c.networkNext(ctx, account, chainID)
	if err != nil {
		<-g
		return nil, fmt.Errorf("querying network nonce for %s: %w", account.Hex(), err)
	}

	claimed := make(map[uint64]bool)
	for _, n := range c.inFlight(account, chainID) {
		claimed[n] = true
	}
	nonce := next
	for claimed[nonce] {
		nonce++
	}

	logger.WithFields(logger.Fields{
		"account":      account.Hex(),
		"chain_id":     chainID,
		"network_next": next,
		"reserved":     nonce,
		"in_flight":    len(claimed),
	}).Debug("nonce reserved")

	return &Lease{
		Nonce:   nonce,
		release: func() { <-g },
	}, nil
}
