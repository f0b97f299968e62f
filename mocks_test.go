package txmanager

// Mock implementations live here rather than in testutil to avoid import
// cycles: they need txmanager types, and txmanager tests import testutil.

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// mockNetworkClient is a configurable in-memory NetworkClient.
type mockNetworkClient struct {
	mu sync.Mutex

	minedNonces   map[common.Address]uint64
	pendingNonces map[common.Address]uint64
	balances      map[common.Address]*big.Int
	receipts      map[common.Hash]*types.Receipt

	estimatedGas uint64
	gasPrice     *big.Int
	tipCap       *big.Int
	tipCapErr    error
	baseFee      *big.Int
	blockNumber  uint64

	sendErr    error
	receiptErr error
	nonceErr   error

	sentRaw [][]byte
}

func newMockNetworkClient() *mockNetworkClient {
	return &mockNetworkClient{
		minedNonces:   make(map[common.Address]uint64),
		pendingNonces: make(map[common.Address]uint64),
		balances:      make(map[common.Address]*big.Int),
		receipts:      make(map[common.Hash]*types.Receipt),
		estimatedGas:  21000,
		gasPrice:      big.NewInt(20000000000),
		tipCap:        big.NewInt(2000000000),
		baseFee:       big.NewInt(10000000000),
		blockNumber:   100,
	}
}

func (m *mockNetworkClient) NonceAt(ctx context.Context, account common.Address) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.nonceErr != nil {
		return 0, m.nonceErr
	}
	return m.minedNonces[account], nil
}

func (m *mockNetworkClient) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.nonceErr != nil {
		return 0, m.nonceErr
	}
	return m.pendingNonces[account], nil
}

func (m *mockNetworkClient) BalanceAt(ctx context.Context, account common.Address) (*big.Int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok := m.balances[account]; ok {
		return new(big.Int).Set(b), nil
	}
	return big.NewInt(0), nil
}

func (m *mockNetworkClient) TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.receiptErr != nil {
		return nil, m.receiptErr
	}
	return m.receipts[hash], nil
}

func (m *mockNetworkClient) SendRawTransaction(ctx context.Context, raw []byte) (common.Hash, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sendErr != nil {
		return common.Hash{}, m.sendErr
	}
	tx := new(types.Transaction)
	if err := tx.UnmarshalBinary(raw); err != nil {
		return common.Hash{}, fmt.Errorf("mock couldn't decode raw tx: %w", err)
	}
	m.sentRaw = append(m.sentRaw, append([]byte(nil), raw...))
	return tx.Hash(), nil
}

func (m *mockNetworkClient) EstimateGas(ctx context.Context, msg CallMsg) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.estimatedGas, nil
}

func (m *mockNetworkClient) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return new(big.Int).Set(m.gasPrice), nil
}

func (m *mockNetworkClient) SuggestGasTipCap(ctx context.Context) (*big.Int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.tipCapErr != nil {
		return nil, m.tipCapErr
	}
	return new(big.Int).Set(m.tipCap), nil
}

func (m *mockNetworkClient) BlockNumber(ctx context.Context) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.blockNumber, nil
}

func (m *mockNetworkClient) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := number
	if n == nil {
		n = new(big.Int).SetUint64(m.blockNumber)
	}
	return &types.Header{
		Number:  new(big.Int).Set(n),
		BaseFee: new(big.Int).Set(m.baseFee),
	}, nil
}

func (m *mockNetworkClient) setMinedNonce(account common.Address, n uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.minedNonces[account] = n
}

func (m *mockNetworkClient) setPendingNonce(account common.Address, n uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pendingNonces[account] = n
}

func (m *mockNetworkClient) setReceipt(hash common.Hash, receipt *types.Receipt) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.receipts[hash] = receipt
}

func (m *mockNetworkClient) sentCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sentRaw)
}

// mockSigner signs with a real key so raw bytes decode and hashes are stable.
type mockSigner struct {
	mu    sync.Mutex
	key   *ecdsa.PrivateKey
	err   error
	calls int
}

func newMockSigner(key *ecdsa.PrivateKey) *mockSigner {
	return &mockSigner{key: key}
}

func (s *mockSigner) SignTransaction(ctx context.Context, params *TxParams, chainID uint64) (*types.Transaction, error) {
	s.mu.Lock()
	s.calls++
	err := s.err
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	var n uint64
	if params.Nonce != nil {
		n = *params.Nonce
	}
	var inner types.TxData
	if params.GasPrice != nil {
		inner = &types.LegacyTx{
			Nonce:    n,
			GasPrice: params.GasPrice,
			Gas:      params.Gas,
			To:       params.To,
			Value:    params.Value,
			Data:     params.Data,
		}
	} else {
		inner = &types.DynamicFeeTx{
			ChainID:   new(big.Int).SetUint64(chainID),
			Nonce:     n,
			GasTipCap: params.MaxPriorityFeePerGas,
			GasFeeCap: params.MaxFeePerGas,
			Gas:       params.Gas,
			To:        params.To,
			Value:     params.Value,
			Data:      params.Data,
		}
	}
	signer := types.LatestSignerForChainID(new(big.Int).SetUint64(chainID))
	return types.SignTx(types.NewTx(inner), signer, s.key)
}

func (s *mockSigner) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// mockApprovalGateway returns a canned decision, optionally blocking until
// released.
type mockApprovalGateway struct {
	decision ApprovalResult
	err      error
	block    chan struct{}
}

func (g *mockApprovalGateway) RequestApproval(ctx context.Context, tx *TransactionMeta) (ApprovalResult, error) {
	if g.block != nil {
		select {
		case <-g.block:
		case <-ctx.Done():
			return ApprovalResult{}, ctx.Err()
		}
	}
	return g.decision, g.err
}

// recordingPersistence keeps the last snapshot and counts saves.
type recordingPersistence struct {
	mu       sync.Mutex
	seed     []*TransactionMeta
	snapshot []*TransactionMeta
	saves    int
}

func (p *recordingPersistence) Load() ([]*TransactionMeta, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	// once something has been saved, a reload sees that snapshot, not the
	// original seed
	if p.snapshot != nil {
		return p.snapshot, nil
	}
	return p.seed, nil
}

func (p *recordingPersistence) Save(txs []*TransactionMeta) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.snapshot = txs
	p.saves++
	return nil
}
