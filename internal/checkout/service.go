package checkout

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/settlrhq/settlr/internal/chain"
	"github.com/settlrhq/settlr/internal/events"
	"github.com/settlrhq/settlr/internal/merchant"
	"github.com/settlrhq/settlr/internal/obs"
	"github.com/settlrhq/settlr/internal/payment"
	"github.com/settlrhq/settlr/internal/relay"
	"github.com/settlrhq/settlr/internal/session"
	"github.com/settlrhq/settlr/internal/token"
	"github.com/settlrhq/settlr/internal/webhook"
)

var (
	// ErrInvalidAddress is returned when a wallet address fails base58 parsing.
	ErrInvalidAddress = errors.New("checkout: invalid address")
	// ErrPaymentFailed is returned when the ledger rejected the transaction.
	// The session is reopened for a fresh attempt.
	ErrPaymentFailed = errors.New("checkout: payment failed on chain")
)

// Service drives the session lifecycle: create, build, complete, cancel,
// expire. It owns no HTTP concerns; handlers translate its errors.
type Service struct {
	Sessions  session.Store
	Builder   chain.Builder
	Tracker   chain.Tracker
	Relay     *relay.Client // nil when fee delegation is disabled
	Projector payment.Projector
	Bus       *events.Bus
	TTL       time.Duration
	Log       zerolog.Logger
}

// CreateParams is the validated input for a new session.
type CreateParams struct {
	Amount      decimal.Decimal
	Currency    string
	Description string
	Metadata    map[string]string
	SuccessURL  string
	CancelURL   string
	Memo        string
	OrderID     string
	ExpiresIn   time.Duration
}

// Create opens a session for the merchant and emits payment.created.
func (s *Service) Create(ctx context.Context, m merchant.Merchant, p CreateParams) (payment.Payment, error) {
	currency := p.Currency
	if currency == "" {
		currency = "USDC"
	}
	// The codec rejects unknown symbols, non-positive amounts and sub-atomic
	// dust in one pass.
	if _, err := s.Projector.Codec.ToAtomic(p.Amount, currency); err != nil {
		return payment.Payment{}, err
	}
	if _, err := solana.PublicKeyFromBase58(m.WalletAddress); err != nil {
		return payment.Payment{}, fmt.Errorf("%w: merchant wallet: %v", ErrInvalidAddress, err)
	}
	ttl := p.ExpiresIn
	if ttl <= 0 {
		ttl = s.TTL
	}
	now := time.Now().UTC()
	sess := session.CheckoutSession{
		ID:             session.NewID(),
		MerchantID:     m.ID,
		MerchantName:   m.Name,
		MerchantWallet: m.WalletAddress,
		Amount:         p.Amount,
		Currency:       currency,
		Description:    p.Description,
		Metadata:       p.Metadata,
		SuccessURL:     p.SuccessURL,
		CancelURL:      p.CancelURL,
		Memo:           p.Memo,
		OrderID:        p.OrderID,
		Status:         session.StatusPending,
		CreatedAt:      now,
		ExpiresAt:      now.Add(ttl),
	}
	if err := s.Sessions.Create(ctx, sess); err != nil {
		return payment.Payment{}, err
	}
	if obs.SessionsCreatedTotal != nil {
		obs.SessionsCreatedTotal.Inc()
	}
	pay, err := s.Projector.FromSession(sess)
	if err != nil {
		return payment.Payment{}, err
	}
	s.emit(ctx, sess.MerchantID, webhook.TypePaymentCreated, pay)
	s.Log.Info().Str("session_id", sess.ID).Str("merchant_id", m.ID).
		Str("amount", p.Amount.String()).Str("currency", currency).
		Msg("checkout session created")
	return pay, nil
}

// Get returns the payment view of a session, with expiry applied on read.
func (s *Service) Get(ctx context.Context, id string) (payment.Payment, error) {
	sess, err := s.Sessions.Get(ctx, id)
	if err != nil {
		return payment.Payment{}, err
	}
	return s.Projector.FromSession(sess)
}

// List returns the merchant's payments, newest first.
func (s *Service) List(ctx context.Context, merchantID string, limit int) ([]payment.Payment, error) {
	sessions, err := s.Sessions.ListByMerchant(ctx, merchantID, limit)
	if err != nil {
		return nil, err
	}
	out := make([]payment.Payment, 0, len(sessions))
	for _, sess := range sessions {
		pay, err := s.Projector.FromSession(sess)
		if err != nil {
			return nil, err
		}
		out = append(out, pay)
	}
	return out, nil
}

// BuildTransfer assembles the customer-pays-gas transaction for a pending
// session. A build failure gets one retry with a fresh blockhash before
// surfacing.
func (s *Service) BuildTransfer(ctx context.Context, id, payerAddress string) (string, error) {
	sess, err := s.payableSession(ctx, id)
	if err != nil {
		return "", err
	}
	payer, err := solana.PublicKeyFromBase58(payerAddress)
	if err != nil {
		return "", fmt.Errorf("%w: payer: %v", ErrInvalidAddress, err)
	}
	recipient, err := solana.PublicKeyFromBase58(sess.MerchantWallet)
	if err != nil {
		return "", fmt.Errorf("%w: merchant wallet: %v", ErrInvalidAddress, err)
	}
	// Pre-check the payer's balance so a transfer that must fail on chain is
	// rejected before it is ever signed.
	if err := s.Builder.CheckBalance(ctx, payer, sess.Currency, sess.Amount); err != nil {
		return "", err
	}
	params := chain.BuildParams{
		Payer:     payer,
		Recipient: recipient,
		Symbol:    sess.Currency,
		Amount:    sess.Amount,
		Memo:      sess.Memo,
	}
	tx, err := s.Builder.Build(ctx, params)
	if errors.Is(err, chain.ErrTransactionBuild) {
		tx, err = s.Builder.Build(ctx, params)
	}
	if err != nil {
		return "", err
	}
	raw, err := tx.MarshalBinary()
	if err != nil {
		return "", fmt.Errorf("%w: serialize: %v", chain.ErrTransactionBuild, err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// Complete stages the signature, waits for ledger confirmation and finalizes
// the session exactly once. A failed or timed-out confirmation returns the
// session to pending so the customer can retry with a fresh transaction.
func (s *Service) Complete(ctx context.Context, id, signature, payerAddress string) (payment.Payment, error) {
	if _, err := s.Sessions.Submit(ctx, id, signature, payerAddress); err != nil {
		if !s.resumable(ctx, id, signature, err) {
			return payment.Payment{}, err
		}
	}
	sig, err := solana.SignatureFromBase58(signature)
	if err != nil {
		_, _ = s.Sessions.Reopen(ctx, id)
		return payment.Payment{}, fmt.Errorf("%w: signature: %v", ErrInvalidAddress, err)
	}

	start := time.Now()
	outcome, trackErr := s.Tracker.Track(ctx, sig)
	if outcome != chain.TrackConfirmed {
		if _, err := s.Sessions.Reopen(ctx, id); err != nil {
			s.Log.Error().Err(err).Str("session_id", id).Msg("reopen after failed confirmation")
		}
		s.completionMetric("failed")
		s.emitSessionEvent(ctx, id, webhook.TypePaymentFailed)
		if trackErr != nil {
			return payment.Payment{}, trackErr
		}
		return payment.Payment{}, ErrPaymentFailed
	}
	if obs.ConfirmationLatency != nil {
		obs.ConfirmationLatency.Observe(obs.DurationMillis(time.Since(start)))
	}

	sess, err := s.Sessions.Complete(ctx, id, signature, payerAddress)
	if err != nil {
		s.completionMetric("conflict")
		return payment.Payment{}, err
	}
	s.completionMetric("completed")
	pay, err := s.Projector.FromSession(sess)
	if err != nil {
		return payment.Payment{}, err
	}
	s.emit(ctx, sess.MerchantID, webhook.TypePaymentCompleted, pay)
	s.Log.Info().Str("session_id", id).Str("signature", signature).Msg("checkout session completed")
	return pay, nil
}

// resumable reports whether a Submit conflict is the same signature resuming
// its own confirmation (e.g. after a gasless submit staged it already).
func (s *Service) resumable(ctx context.Context, id, signature string, submitErr error) bool {
	if !errors.Is(submitErr, session.ErrAlreadySubmitted) {
		return false
	}
	sess, err := s.Sessions.Get(ctx, id)
	if err != nil {
		return false
	}
	return sess.Status == session.StatusProcessing && sess.TxSignature == signature
}

// Cancel abandons a pending session and emits payment.cancelled.
func (s *Service) Cancel(ctx context.Context, id string) (payment.Payment, error) {
	sess, err := s.Sessions.Cancel(ctx, id)
	if err != nil {
		return payment.Payment{}, err
	}
	pay, err := s.Projector.FromSession(sess)
	if err != nil {
		return payment.Payment{}, err
	}
	s.emit(ctx, sess.MerchantID, webhook.TypePaymentCancelled, pay)
	return pay, nil
}

// Sweep expires due sessions and emits payment.expired for each.
func (s *Service) Sweep(ctx context.Context) error {
	expired, err := s.Sessions.ExpireDue(ctx, time.Now().UTC())
	if err != nil {
		return err
	}
	for _, sess := range expired {
		s.emitSession(ctx, sess, webhook.TypePaymentExpired)
	}
	if len(expired) > 0 {
		s.Log.Info().Int("count", len(expired)).Msg("expired due checkout sessions")
	}
	return nil
}

// GaslessQuote exposes the relay's fee configuration, or a disabled quote
// when no relay is wired.
func (s *Service) GaslessQuote(ctx context.Context) (relay.FeeQuote, error) {
	if s.Relay == nil {
		return relay.FeeQuote{Enabled: false}, nil
	}
	quote, err := s.Relay.FeeQuote(ctx)
	if err != nil {
		if errors.Is(err, relay.ErrRelayUnavailable) {
			return relay.FeeQuote{Enabled: false}, nil
		}
		return relay.FeeQuote{}, err
	}
	return quote, nil
}

// GaslessBuildResult is the service-level outcome of a gasless build.
type GaslessBuildResult struct {
	Available   bool
	Transaction string
	Fee         uint64
	Reason      string
}

// GaslessBuild assembles a fee-delegated transaction for the session. An
// unavailable relay is not an error; callers fall back to BuildTransfer.
func (s *Service) GaslessBuild(ctx context.Context, id, payerAddress string) (GaslessBuildResult, error) {
	sess, err := s.payableSession(ctx, id)
	if err != nil {
		return GaslessBuildResult{}, err
	}
	if s.Relay == nil {
		s.gaslessMetric("unavailable")
		return GaslessBuildResult{Reason: "fee delegation disabled"}, nil
	}
	payer, err := solana.PublicKeyFromBase58(payerAddress)
	if err != nil {
		return GaslessBuildResult{}, fmt.Errorf("%w: payer: %v", ErrInvalidAddress, err)
	}
	recipient, err := solana.PublicKeyFromBase58(sess.MerchantWallet)
	if err != nil {
		return GaslessBuildResult{}, fmt.Errorf("%w: merchant wallet: %v", ErrInvalidAddress, err)
	}
	result, err := s.Relay.Build(ctx, payer, recipient, sess.Currency, sess.Amount, sess.Memo)
	if err != nil {
		s.gaslessMetric("error")
		return GaslessBuildResult{}, err
	}
	if result.Outcome != relay.OutcomeOK {
		s.gaslessMetric("unavailable")
		return GaslessBuildResult{Reason: result.Reason}, nil
	}
	raw, err := result.Tx.MarshalBinary()
	if err != nil {
		return GaslessBuildResult{}, fmt.Errorf("%w: serialize: %v", chain.ErrTransactionBuild, err)
	}
	s.gaslessMetric("ok")
	return GaslessBuildResult{
		Available:   true,
		Transaction: base64.StdEncoding.EncodeToString(raw),
		Fee:         result.Fee,
	}, nil
}

// GaslessSubmit forwards the signed transaction to the relay and stages the
// returned signature on the session. Completion still goes through Complete.
func (s *Service) GaslessSubmit(ctx context.Context, id, payerAddress, txBase64 string) (string, error) {
	if s.Relay == nil {
		return "", relay.ErrRelayUnavailable
	}
	if _, err := s.payableSession(ctx, id); err != nil {
		return "", err
	}
	raw, err := base64.StdEncoding.DecodeString(txBase64)
	if err != nil {
		return "", fmt.Errorf("%w: decode transaction: %v", chain.ErrTransactionBuild, err)
	}
	tx, err := solana.TransactionFromDecoder(bin.NewBinDecoder(raw))
	if err != nil {
		return "", fmt.Errorf("%w: parse transaction: %v", chain.ErrTransactionBuild, err)
	}
	signature, err := s.Relay.Submit(ctx, tx)
	if err != nil {
		return "", err
	}
	if _, err := s.Sessions.Submit(ctx, id, signature, payerAddress); err != nil {
		// The transaction is already in flight; a staging conflict is logged,
		// not surfaced.
		s.Log.Warn().Err(err).Str("session_id", id).Msg("stage gasless signature")
	}
	return signature, nil
}

func (s *Service) payableSession(ctx context.Context, id string) (session.CheckoutSession, error) {
	sess, err := s.Sessions.Get(ctx, id)
	if err != nil {
		return session.CheckoutSession{}, err
	}
	switch {
	case sess.Status == session.StatusExpired:
		return session.CheckoutSession{}, session.ErrExpired
	case sess.Status.Terminal():
		return session.CheckoutSession{}, session.ErrAlreadyFinalized
	}
	return sess, nil
}

func (s *Service) completionMetric(result string) {
	if obs.SessionCompletionsTotal != nil {
		obs.SessionCompletionsTotal.WithLabelValues(result).Inc()
	}
}

func (s *Service) gaslessMetric(outcome string) {
	if obs.GaslessBuildTotal != nil {
		obs.GaslessBuildTotal.WithLabelValues(outcome).Inc()
	}
}

func (s *Service) emit(ctx context.Context, merchantID string, eventType webhook.Type, pay payment.Payment) {
	if s.Bus == nil {
		return
	}
	if _, err := s.Bus.Emit(ctx, merchantID, eventType, pay); err != nil {
		s.Log.Error().Err(err).Str("type", string(eventType)).Str("payment_id", pay.ID).
			Msg("emit payment event")
	}
}

func (s *Service) emitSessionEvent(ctx context.Context, id string, eventType webhook.Type) {
	sess, err := s.Sessions.Get(ctx, id)
	if err != nil {
		return
	}
	s.emitSession(ctx, sess, eventType)
}

func (s *Service) emitSession(ctx context.Context, sess session.CheckoutSession, eventType webhook.Type) {
	pay, err := s.Projector.FromSession(sess)
	if err != nil {
		return
	}
	if eventType == webhook.TypePaymentFailed {
		pay.Status = payment.StatusFailed
	}
	s.emit(ctx, sess.MerchantID, eventType, pay)
}
