package txmanager

// Persistence is the injected storage hook. Load is called once at
// construction; Save after every committed store mutation. Both operate on
// full snapshots, not deltas: the store is the in-memory source of truth and
// pushes state outward, so wallets can back the snapshot with whatever
// storage they already have.
type Persistence interface {
	Load() ([]*TransactionMeta, error)
	Save(txs []*TransactionMeta) error
}

// NoopPersistence keeps no state across restarts.
type NoopPersistence struct{}

func (NoopPersistence) Load() ([]*TransactionMeta, error) { return nil, nil }
func (NoopPersistence) Save([]*TransactionMeta) error     { return nil }
