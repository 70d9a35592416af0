package merchant

import (
	"context"
	"errors"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// MemStore is the in-memory merchant store for tests and local runs.
type MemStore struct {
	mu        sync.RWMutex
	merchants map[string]Merchant
	byKeyID   map[string]string
}

func NewMemStore() *MemStore {
	return &MemStore{merchants: make(map[string]Merchant), byKeyID: make(map[string]string)}
}

func (m *MemStore) Create(_ context.Context, mer Merchant) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.merchants[mer.ID] = mer
	if mer.KeyID != "" {
		m.byKeyID[mer.KeyID] = mer.ID
	}
	return nil
}

func (m *MemStore) Get(_ context.Context, id string) (Merchant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	mer, ok := m.merchants[id]
	if !ok {
		return Merchant{}, ErrNotFound
	}
	return mer, nil
}

func (m *MemStore) GetByKeyID(_ context.Context, keyID string) (Merchant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byKeyID[keyID]
	if !ok {
		return Merchant{}, ErrNotFound
	}
	return m.merchants[id], nil
}

// PGStore persists merchants in Postgres.
type PGStore struct {
	Pool *pgxpool.Pool
}

func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{Pool: pool}
}

const merchantColumns = `id, name, wallet_address, key_id, api_key_hash, active, created_at`

func (p *PGStore) Create(ctx context.Context, m Merchant) error {
	_, err := p.Pool.Exec(ctx, `
		INSERT INTO merchants (`+merchantColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		m.ID, m.Name, m.WalletAddress, m.KeyID, m.APIKeyHash, m.Active, m.CreatedAt)
	return err
}

func (p *PGStore) Get(ctx context.Context, id string) (Merchant, error) {
	return scanMerchant(p.Pool.QueryRow(ctx, `
		SELECT `+merchantColumns+` FROM merchants WHERE id = $1`, id))
}

func (p *PGStore) GetByKeyID(ctx context.Context, keyID string) (Merchant, error) {
	return scanMerchant(p.Pool.QueryRow(ctx, `
		SELECT `+merchantColumns+` FROM merchants WHERE key_id = $1`, keyID))
}

func scanMerchant(row pgx.Row) (Merchant, error) {
	var m Merchant
	err := row.Scan(&m.ID, &m.Name, &m.WalletAddress, &m.KeyID, &m.APIKeyHash, &m.Active, &m.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Merchant{}, ErrNotFound
		}
		return Merchant{}, err
	}
	return m, nil
}
