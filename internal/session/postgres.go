package session

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// PGStore persists checkout sessions in Postgres. State transitions are
// conditional UPDATEs so two concurrent completions cannot both win.
type PGStore struct {
	Pool *pgxpool.Pool
}

func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{Pool: pool}
}

const sessionColumns = `id, merchant_id, merchant_name, merchant_wallet, amount, currency,
	description, metadata, success_url, cancel_url, memo, order_id, status,
	tx_signature, payer_address, created_at, expires_at, completed_at`

func (p *PGStore) Create(ctx context.Context, s CheckoutSession) error {
	if err := s.Validate(); err != nil {
		return err
	}
	_, err := p.Pool.Exec(ctx, `
		INSERT INTO checkout_sessions (`+sessionColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)`,
		s.ID, s.MerchantID, s.MerchantName, s.MerchantWallet, s.Amount.String(), s.Currency,
		s.Description, s.Metadata, s.SuccessURL, s.CancelURL, s.Memo, s.OrderID, string(s.Status),
		nullable(s.TxSignature), nullable(s.PayerAddress), s.CreatedAt, s.ExpiresAt, nullableTime(s.CompletedAt))
	return err
}

func (p *PGStore) Get(ctx context.Context, id string) (CheckoutSession, error) {
	// Expiry on read: persist the expiry before returning the row so every
	// reader observes the same state. Only pending rows expire; a processing
	// row keeps waiting for its confirmation outcome.
	_, err := p.Pool.Exec(ctx, `
		UPDATE checkout_sessions
		SET status = 'expired'
		WHERE id = $1 AND status = 'pending' AND expires_at <= now()`, id)
	if err != nil {
		return CheckoutSession{}, err
	}
	return p.scanOne(p.Pool.QueryRow(ctx, `
		SELECT `+sessionColumns+` FROM checkout_sessions WHERE id = $1`, id))
}

func (p *PGStore) Submit(ctx context.Context, id, signature, payer string) (CheckoutSession, error) {
	tag, err := p.Pool.Exec(ctx, `
		UPDATE checkout_sessions
		SET status = 'processing', tx_signature = $2, payer_address = $3
		WHERE id = $1 AND status = 'pending' AND tx_signature IS NULL AND expires_at > now()`,
		id, signature, payer)
	if err != nil {
		return CheckoutSession{}, err
	}
	if tag.RowsAffected() == 0 {
		return CheckoutSession{}, p.transitionError(ctx, id, false)
	}
	return p.Get(ctx, id)
}

func (p *PGStore) Complete(ctx context.Context, id, signature, payer string) (CheckoutSession, error) {
	tag, err := p.Pool.Exec(ctx, `
		UPDATE checkout_sessions
		SET status = 'completed', tx_signature = $2, payer_address = $3, completed_at = now()
		WHERE id = $1
		  AND (status = 'processing' OR (status = 'pending' AND expires_at > now()))
		  AND (tx_signature IS NULL OR tx_signature = $2)`,
		id, signature, payer)
	if err != nil {
		return CheckoutSession{}, err
	}
	if tag.RowsAffected() == 0 {
		return CheckoutSession{}, p.transitionError(ctx, id, true)
	}
	return p.Get(ctx, id)
}

func (p *PGStore) Reopen(ctx context.Context, id string) (CheckoutSession, error) {
	tag, err := p.Pool.Exec(ctx, `
		UPDATE checkout_sessions
		SET status = 'pending', tx_signature = NULL, payer_address = NULL
		WHERE id = $1 AND status = 'processing'`, id)
	if err != nil {
		return CheckoutSession{}, err
	}
	if tag.RowsAffected() == 0 {
		s, err := p.Get(ctx, id)
		if err != nil {
			return CheckoutSession{}, err
		}
		if s.Status.Terminal() {
			return CheckoutSession{}, ErrAlreadyFinalized
		}
		return s, nil
	}
	return p.Get(ctx, id)
}

func (p *PGStore) Cancel(ctx context.Context, id string) (CheckoutSession, error) {
	tag, err := p.Pool.Exec(ctx, `
		UPDATE checkout_sessions
		SET status = 'cancelled'
		WHERE id = $1 AND status = 'pending' AND expires_at > now()`, id)
	if err != nil {
		return CheckoutSession{}, err
	}
	if tag.RowsAffected() == 0 {
		s, err := p.Get(ctx, id)
		if err != nil {
			return CheckoutSession{}, err
		}
		switch {
		case s.Status == StatusExpired:
			return CheckoutSession{}, ErrExpired
		case s.Status.Terminal():
			return CheckoutSession{}, ErrAlreadyFinalized
		default:
			return CheckoutSession{}, ErrNotCancellable
		}
	}
	return p.Get(ctx, id)
}

func (p *PGStore) ListByMerchant(ctx context.Context, merchantID string, limit int) ([]CheckoutSession, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := p.Pool.Query(ctx, `
		SELECT `+sessionColumns+` FROM checkout_sessions
		WHERE merchant_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, merchantID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []CheckoutSession
	for rows.Next() {
		s, err := p.scanOne(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (p *PGStore) ExpireDue(ctx context.Context, now time.Time) ([]CheckoutSession, error) {
	rows, err := p.Pool.Query(ctx, `
		UPDATE checkout_sessions
		SET status = 'expired'
		WHERE status = 'pending' AND expires_at <= $1
		RETURNING `+sessionColumns, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []CheckoutSession
	for rows.Next() {
		s, err := p.scanOne(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// transitionError inspects the current row to explain a zero-row conditional
// update.
func (p *PGStore) transitionError(ctx context.Context, id string, completing bool) error {
	s, err := p.Get(ctx, id)
	if err != nil {
		return err
	}
	switch {
	case s.Status == StatusExpired:
		return ErrExpired
	case s.Status.Terminal():
		return ErrAlreadyFinalized
	case s.TxSignature != "":
		return ErrAlreadySubmitted
	case completing:
		return ErrAlreadySubmitted
	default:
		return ErrAlreadyFinalized
	}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (p *PGStore) scanOne(row rowScanner) (CheckoutSession, error) {
	var (
		s           CheckoutSession
		amount      string
		status      string
		txSig       *string
		payerAddr   *string
		completedAt *time.Time
	)
	err := row.Scan(&s.ID, &s.MerchantID, &s.MerchantName, &s.MerchantWallet, &amount, &s.Currency,
		&s.Description, &s.Metadata, &s.SuccessURL, &s.CancelURL, &s.Memo, &s.OrderID, &status,
		&txSig, &payerAddr, &s.CreatedAt, &s.ExpiresAt, &completedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return CheckoutSession{}, ErrNotFound
		}
		return CheckoutSession{}, err
	}
	s.Amount, err = decimal.NewFromString(amount)
	if err != nil {
		return CheckoutSession{}, err
	}
	s.Status, err = ParseStatus(status)
	if err != nil {
		return CheckoutSession{}, err
	}
	if txSig != nil {
		s.TxSignature = *txSig
	}
	if payerAddr != nil {
		s.PayerAddress = *payerAddr
	}
	if completedAt != nil {
		s.CompletedAt = *completedAt
	}
	return s, nil
}

func nullable(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
