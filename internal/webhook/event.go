package webhook

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Type identifies what happened. Receivers must tolerate types they do not
// recognize and acknowledge them anyway.
type Type string

const (
	TypePaymentCreated   Type = "payment.created"
	TypePaymentCompleted Type = "payment.completed"
	TypePaymentFailed    Type = "payment.failed"
	TypePaymentExpired   Type = "payment.expired"
	TypePaymentCancelled Type = "payment.cancelled"
	TypePaymentRefunded  Type = "payment.refunded"

	TypeSubscriptionCreated   Type = "subscription.created"
	TypeSubscriptionRenewed   Type = "subscription.renewed"
	TypeSubscriptionCancelled Type = "subscription.cancelled"
	TypeSubscriptionExpired   Type = "subscription.expired"
)

// Event is the envelope delivered to merchant endpoints. Payment holds the
// type-specific payload verbatim; the envelope shape never changes across
// event types.
//
// Signature is empty until delivery: the deliverer computes it per endpoint
// over the envelope serialized with the signature field blank, then sends the
// envelope with the field filled in.
type Event struct {
	ID        string          `json:"id"`
	Type      Type            `json:"type"`
	Payment   json.RawMessage `json:"payment"`
	CreatedAt time.Time       `json:"timestamp"`
	Signature string          `json:"signature"`
}

// NewEvent wraps a payload in a fresh envelope.
func NewEvent(eventType Type, payload any) (Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, err
	}
	return Event{
		ID:        "evt_" + uuid.NewString(),
		Type:      eventType,
		Payment:   raw,
		CreatedAt: time.Now().UTC(),
	}, nil
}
