package events

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/settlrhq/settlr/internal/webhook"
)

// PGEventStore appends emitted events to the webhook_events table.
type PGEventStore struct {
	Pool *pgxpool.Pool
}

func NewPGEventStore(pool *pgxpool.Pool) *PGEventStore {
	return &PGEventStore{Pool: pool}
}

func (p *PGEventStore) InsertEvent(ctx context.Context, merchantID string, event webhook.Event) error {
	_, err := p.Pool.Exec(ctx, `
		INSERT INTO webhook_events (id, merchant_id, type, payload, created_at)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (id) DO NOTHING`,
		event.ID, merchantID, string(event.Type), []byte(event.Payment), event.CreatedAt)
	return err
}
