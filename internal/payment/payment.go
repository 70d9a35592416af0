package payment

import (
	"net/url"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/settlrhq/settlr/internal/session"
	"github.com/settlrhq/settlr/internal/token"
)

// Status is the merchant-facing payment state. It is a superset of session
// states: a confirmed-but-failed on-chain attempt surfaces here as failed even
// though the underlying session returns to pending.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusExpired    Status = "expired"
	StatusCancelled  Status = "cancelled"
	StatusRefunded   Status = "refunded"
)

// Payment is the read model returned to merchants. Amounts carry both the
// decimal display value and the atomic on-chain quantity.
type Payment struct {
	ID              string            `json:"id"`
	MerchantID      string            `json:"-"`
	Amount          decimal.Decimal   `json:"amount"`
	AmountAtomic    uint64            `json:"amountAtomic"`
	Token           string            `json:"token"`
	Status          Status            `json:"status"`
	MerchantAddress string            `json:"merchantAddress"`
	CheckoutURL     string            `json:"checkoutUrl"`
	Memo            string            `json:"memo,omitempty"`
	OrderID         string            `json:"orderId,omitempty"`
	Metadata        map[string]string `json:"metadata,omitempty"`
	TxSignature     string            `json:"txSignature,omitempty"`
	PayerAddress    string            `json:"payerAddress,omitempty"`
	CreatedAt       time.Time         `json:"createdAt"`
	ExpiresAt       time.Time         `json:"expiresAt"`
	CompletedAt     *time.Time        `json:"completedAt,omitempty"`
}

// Projector converts checkout sessions into the payment read model.
type Projector struct {
	Codec           token.Codec
	CheckoutBaseURL string
}

// FromSession projects a session into a Payment.
func (p Projector) FromSession(s session.CheckoutSession) (Payment, error) {
	atomic, err := p.Codec.ToAtomic(s.Amount, s.Currency)
	if err != nil {
		return Payment{}, err
	}
	out := Payment{
		ID:              s.ID,
		MerchantID:      s.MerchantID,
		Amount:          s.Amount,
		AmountAtomic:    atomic,
		Token:           s.Currency,
		Status:          Status(s.Status),
		MerchantAddress: s.MerchantWallet,
		CheckoutURL:     p.CheckoutURL(s),
		Memo:            s.Memo,
		OrderID:         s.OrderID,
		Metadata:        s.Metadata,
		TxSignature:     s.TxSignature,
		PayerAddress:    s.PayerAddress,
		CreatedAt:       s.CreatedAt,
		ExpiresAt:       s.ExpiresAt,
	}
	if !s.CompletedAt.IsZero() {
		t := s.CompletedAt
		out.CompletedAt = &t
	}
	return out, nil
}

// CheckoutURL assembles the hosted payment page link for a session. The query
// carries everything the page needs to render and build the transfer without a
// second round trip.
func (p Projector) CheckoutURL(s session.CheckoutSession) string {
	q := url.Values{}
	q.Set("amount", s.Amount.String())
	if s.MerchantName != "" {
		q.Set("merchant", s.MerchantName)
	}
	q.Set("to", s.MerchantWallet)
	if s.Memo != "" {
		q.Set("memo", s.Memo)
	}
	if s.OrderID != "" {
		q.Set("orderId", s.OrderID)
	}
	if s.SuccessURL != "" {
		q.Set("successUrl", s.SuccessURL)
	}
	if s.CancelURL != "" {
		q.Set("cancelUrl", s.CancelURL)
	}
	q.Set("paymentId", s.ID)
	return p.CheckoutBaseURL + "?" + q.Encode()
}

// ParseLimit parses a list-endpoint limit query parameter with bounds.
func ParseLimit(raw string, def, max int) int {
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	if n > max {
		return max
	}
	return n
}
