package session

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Store persists checkout sessions. Every mutation goes through a defined
// transition; the completion guard is the store's responsibility so a retried
// request can never double-credit a session.
type Store interface {
	Create(ctx context.Context, s CheckoutSession) error
	// Get returns the session, applying expiry on read: a pending session
	// past its deadline is persisted as expired before it is returned. A
	// processing session never expires; its staged signature may already be
	// on chain.
	Get(ctx context.Context, id string) (CheckoutSession, error)
	// Submit stages a signature and moves pending → processing.
	Submit(ctx context.Context, id, signature, payer string) (CheckoutSession, error)
	// Complete finalizes the session exactly once. Subsequent attempts return
	// ErrAlreadyFinalized and leave the stored signature untouched.
	Complete(ctx context.Context, id, signature, payer string) (CheckoutSession, error)
	// Reopen returns a processing session to pending after a failed attempt,
	// clearing the staged signature so a rebuild may submit a fresh one.
	Reopen(ctx context.Context, id string) (CheckoutSession, error)
	// Cancel abandons a pending session.
	Cancel(ctx context.Context, id string) (CheckoutSession, error)
	ListByMerchant(ctx context.Context, merchantID string, limit int) ([]CheckoutSession, error)
	// ExpireDue sweeps sessions whose deadline passed and returns the ones it
	// expired, so callers can emit expiry notifications.
	ExpireDue(ctx context.Context, now time.Time) ([]CheckoutSession, error)
}

// MemStore is an in-memory Store used by tests and local development.
type MemStore struct {
	mu       sync.Mutex
	sessions map[string]CheckoutSession
	now      func() time.Time

	// Retention for terminal sessions pruned during sweeps.
	Retention time.Duration
}

// NewMemStore returns an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{sessions: make(map[string]CheckoutSession), now: time.Now, Retention: 24 * time.Hour}
}

// WithClock overrides the store's clock; tests use it to drive expiry.
func (m *MemStore) WithClock(now func() time.Time) *MemStore {
	m.now = now
	return m
}

func (m *MemStore) Create(_ context.Context, s CheckoutSession) error {
	if err := s.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = s
	return nil
}

func (m *MemStore) Get(_ context.Context, id string) (CheckoutSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getLocked(id)
}

func (m *MemStore) getLocked(id string) (CheckoutSession, error) {
	s, ok := m.sessions[id]
	if !ok {
		return CheckoutSession{}, ErrNotFound
	}
	if s.ExpiredAt(m.now()) {
		s.Status = StatusExpired
		m.sessions[id] = s
	}
	return s, nil
}

func (m *MemStore) Submit(_ context.Context, id, signature, payer string) (CheckoutSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, err := m.getLocked(id)
	if err != nil {
		return CheckoutSession{}, err
	}
	switch {
	case s.Status == StatusExpired:
		return CheckoutSession{}, ErrExpired
	case s.Status.Terminal():
		return CheckoutSession{}, ErrAlreadyFinalized
	case s.TxSignature != "":
		return CheckoutSession{}, ErrAlreadySubmitted
	}
	s.Status = StatusProcessing
	s.TxSignature = signature
	s.PayerAddress = payer
	m.sessions[id] = s
	return s, nil
}

func (m *MemStore) Complete(_ context.Context, id, signature, payer string) (CheckoutSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, err := m.getLocked(id)
	if err != nil {
		return CheckoutSession{}, err
	}
	switch {
	case s.Status == StatusExpired:
		return CheckoutSession{}, ErrExpired
	case s.Status.Terminal():
		return CheckoutSession{}, ErrAlreadyFinalized
	case s.TxSignature != "" && s.TxSignature != signature:
		return CheckoutSession{}, ErrAlreadySubmitted
	}
	s.Status = StatusCompleted
	s.TxSignature = signature
	s.PayerAddress = payer
	s.CompletedAt = m.now()
	m.sessions[id] = s
	return s, nil
}

func (m *MemStore) Reopen(_ context.Context, id string) (CheckoutSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, err := m.getLocked(id)
	if err != nil {
		return CheckoutSession{}, err
	}
	if s.Status != StatusProcessing {
		if s.Status.Terminal() {
			return CheckoutSession{}, ErrAlreadyFinalized
		}
		return s, nil
	}
	s.Status = StatusPending
	s.TxSignature = ""
	s.PayerAddress = ""
	m.sessions[id] = s
	return s, nil
}

func (m *MemStore) Cancel(_ context.Context, id string) (CheckoutSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, err := m.getLocked(id)
	if err != nil {
		return CheckoutSession{}, err
	}
	switch {
	case s.Status == StatusExpired:
		return CheckoutSession{}, ErrExpired
	case s.Status.Terminal():
		return CheckoutSession{}, ErrAlreadyFinalized
	case s.Status != StatusPending:
		return CheckoutSession{}, ErrNotCancellable
	}
	s.Status = StatusCancelled
	m.sessions[id] = s
	return s, nil
}

func (m *MemStore) ListByMerchant(_ context.Context, merchantID string, limit int) ([]CheckoutSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]CheckoutSession, 0)
	for _, s := range m.sessions {
		if s.MerchantID == merchantID {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemStore) ExpireDue(_ context.Context, now time.Time) ([]CheckoutSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var expired []CheckoutSession
	for id, s := range m.sessions {
		if s.ExpiredAt(now) {
			s.Status = StatusExpired
			m.sessions[id] = s
			expired = append(expired, s)
		}
		if s.Status.Terminal() && m.Retention > 0 && now.Sub(s.CreatedAt) > m.Retention {
			delete(m.sessions, id)
		}
	}
	return expired, nil
}
