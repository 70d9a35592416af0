package webhook

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrEndpointNotFound is returned for unknown endpoint ids.
var ErrEndpointNotFound = errors.New("webhook: endpoint not found")

// Endpoint is a merchant-registered delivery target. An empty EventTypes list
// subscribes the endpoint to everything.
type Endpoint struct {
	ID         string    `json:"id"`
	MerchantID string    `json:"-"`
	URL        string    `json:"url"`
	Secret     string    `json:"-"`
	EventTypes []string  `json:"eventTypes"`
	Active     bool      `json:"active"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Subscribed reports whether the endpoint wants events of the given type.
func (e Endpoint) Subscribed(eventType Type) bool {
	if len(e.EventTypes) == 0 {
		return true
	}
	return slices.Contains(e.EventTypes, string(eventType))
}

// EndpointStore persists webhook endpoints.
type EndpointStore interface {
	Create(ctx context.Context, ep Endpoint) error
	Get(ctx context.Context, id string) (Endpoint, error)
	Delete(ctx context.Context, merchantID, id string) error
	ListByMerchant(ctx context.Context, merchantID string) ([]Endpoint, error)
	// ListActiveForType returns the merchant's active endpoints subscribed to
	// eventType.
	ListActiveForType(ctx context.Context, merchantID string, eventType Type) ([]Endpoint, error)
}

// NewEndpointID mints a webhook endpoint identifier.
func NewEndpointID() string {
	return "we_" + uuid.NewString()
}

// MemEndpointStore is the in-memory EndpointStore for tests and local runs.
type MemEndpointStore struct {
	mu        sync.RWMutex
	endpoints map[string]Endpoint
}

func NewMemEndpointStore() *MemEndpointStore {
	return &MemEndpointStore{endpoints: make(map[string]Endpoint)}
}

func (m *MemEndpointStore) Create(_ context.Context, ep Endpoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.endpoints[ep.ID] = ep
	return nil
}

func (m *MemEndpointStore) Get(_ context.Context, id string) (Endpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ep, ok := m.endpoints[id]
	if !ok {
		return Endpoint{}, ErrEndpointNotFound
	}
	return ep, nil
}

func (m *MemEndpointStore) Delete(_ context.Context, merchantID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ep, ok := m.endpoints[id]
	if !ok || ep.MerchantID != merchantID {
		return ErrEndpointNotFound
	}
	delete(m.endpoints, id)
	return nil
}

func (m *MemEndpointStore) ListByMerchant(_ context.Context, merchantID string) ([]Endpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Endpoint
	for _, ep := range m.endpoints {
		if ep.MerchantID == merchantID {
			out = append(out, ep)
		}
	}
	return out, nil
}

func (m *MemEndpointStore) ListActiveForType(_ context.Context, merchantID string, eventType Type) ([]Endpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Endpoint
	for _, ep := range m.endpoints {
		if ep.MerchantID == merchantID && ep.Active && ep.Subscribed(eventType) {
			out = append(out, ep)
		}
	}
	return out, nil
}

// PGEndpointStore persists endpoints in Postgres.
type PGEndpointStore struct {
	Pool *pgxpool.Pool
}

func NewPGEndpointStore(pool *pgxpool.Pool) *PGEndpointStore {
	return &PGEndpointStore{Pool: pool}
}

const endpointColumns = `id, merchant_id, url, secret, event_types, active, created_at`

func (p *PGEndpointStore) Create(ctx context.Context, ep Endpoint) error {
	_, err := p.Pool.Exec(ctx, `
		INSERT INTO webhook_endpoints (`+endpointColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		ep.ID, ep.MerchantID, ep.URL, ep.Secret, ep.EventTypes, ep.Active, ep.CreatedAt)
	return err
}

func (p *PGEndpointStore) Get(ctx context.Context, id string) (Endpoint, error) {
	row := p.Pool.QueryRow(ctx, `SELECT `+endpointColumns+` FROM webhook_endpoints WHERE id = $1`, id)
	return scanEndpoint(row)
}

func (p *PGEndpointStore) Delete(ctx context.Context, merchantID, id string) error {
	tag, err := p.Pool.Exec(ctx, `DELETE FROM webhook_endpoints WHERE id = $1 AND merchant_id = $2`, id, merchantID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrEndpointNotFound
	}
	return nil
}

func (p *PGEndpointStore) ListByMerchant(ctx context.Context, merchantID string) ([]Endpoint, error) {
	rows, err := p.Pool.Query(ctx, `
		SELECT `+endpointColumns+` FROM webhook_endpoints
		WHERE merchant_id = $1 ORDER BY created_at`, merchantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectEndpoints(rows)
}

func (p *PGEndpointStore) ListActiveForType(ctx context.Context, merchantID string, eventType Type) ([]Endpoint, error) {
	rows, err := p.Pool.Query(ctx, `
		SELECT `+endpointColumns+` FROM webhook_endpoints
		WHERE merchant_id = $1 AND active
		  AND (event_types = '{}' OR $2 = ANY(event_types))`, merchantID, string(eventType))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectEndpoints(rows)
}

func collectEndpoints(rows pgx.Rows) ([]Endpoint, error) {
	var out []Endpoint
	for rows.Next() {
		ep, err := scanEndpoint(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ep)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEndpoint(row rowScanner) (Endpoint, error) {
	var ep Endpoint
	err := row.Scan(&ep.ID, &ep.MerchantID, &ep.URL, &ep.Secret, &ep.EventTypes, &ep.Active, &ep.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Endpoint{}, ErrEndpointNotFound
		}
		return Endpoint{}, err
	}
	return ep, nil
}
