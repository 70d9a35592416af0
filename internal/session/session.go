package session

import (
	"crypto/rand"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Status enumerates checkout session states. pending and processing are the
// only non-terminal states; status is monotonic — a terminal session never
// transitions again.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusExpired    Status = "expired"
	StatusCancelled  Status = "cancelled"
)

// Terminal reports whether the status permits no further transitions.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusExpired, StatusCancelled:
		return true
	default:
		return false
	}
}

// ParseStatus validates a raw status value at the boundary.
func ParseStatus(raw string) (Status, error) {
	switch Status(raw) {
	case StatusPending, StatusProcessing, StatusCompleted, StatusExpired, StatusCancelled:
		return Status(raw), nil
	default:
		return "", errors.New("session: unknown status " + raw)
	}
}

var (
	// ErrNotFound is returned for unknown session ids.
	ErrNotFound = errors.New("session: not found")
	// ErrExpired is returned when the session's deadline has passed without completion.
	ErrExpired = errors.New("session: expired")
	// ErrAlreadyFinalized is returned when a terminal session receives another
	// transition; completion is accepted exactly once per session id.
	ErrAlreadyFinalized = errors.New("session: already finalized")
	// ErrAlreadySubmitted is returned when a second signature is submitted
	// while one is already associated with the session.
	ErrAlreadySubmitted = errors.New("session: signature already submitted")
	// ErrNotCancellable is returned when cancel is requested after funds may
	// have moved.
	ErrNotCancellable = errors.New("session: not cancellable")
	// ErrInvalidSession is returned when creation parameters violate invariants.
	ErrInvalidSession = errors.New("session: invalid")
)

// CheckoutSession is a time-boxed intent to pay, created by a merchant and
// consumed by exactly one completing payment.
type CheckoutSession struct {
	ID             string
	MerchantID     string
	MerchantName   string
	MerchantWallet string
	Amount         decimal.Decimal
	Currency       string
	Description    string
	Metadata       map[string]string
	SuccessURL     string
	CancelURL      string
	Memo           string
	OrderID        string
	Status         Status
	TxSignature    string
	PayerAddress   string
	CreatedAt      time.Time
	ExpiresAt      time.Time
	CompletedAt    time.Time
}

// Validate enforces creation invariants: positive amount and an expiry
// strictly after creation.
func (s *CheckoutSession) Validate() error {
	if s.ID == "" || s.MerchantID == "" || s.MerchantWallet == "" {
		return ErrInvalidSession
	}
	if s.Amount.Sign() <= 0 {
		return ErrInvalidSession
	}
	if !s.ExpiresAt.After(s.CreatedAt) {
		return ErrInvalidSession
	}
	return nil
}

// ExpiredAt reports whether the session should read as expired at now. Expiry
// is evaluated on every read so client clock skew cannot extend a session.
// Only pending sessions expire: once a signature is staged the transfer may
// already be on chain, so a processing session resolves to completed or
// failed regardless of the deadline.
func (s *CheckoutSession) ExpiredAt(now time.Time) bool {
	return s.Status == StatusPending && !now.Before(s.ExpiresAt)
}

const sessionIDAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

// NewID generates a checkout session identifier in the cs_ namespace.
func NewID() string {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		panic(err)
	}
	for i, b := range buf {
		buf[i] = sessionIDAlphabet[int(b)%len(sessionIDAlphabet)]
	}
	return "cs_" + string(buf)
}
