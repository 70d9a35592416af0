package webhook

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/settlrhq/settlr/internal/common"
)

// Handler processes one verified event. Returning an error makes the receiver
// answer non-2xx so the sender retries.
type Handler func(ctx context.Context, event Event) error

// Receiver is the inbound side: an HTTP handler merchants can mount to
// consume events from this service. Signature verification happens against the
// raw request bytes before any parsing, and unrecognized event types are
// acknowledged so senders do not retry them forever.
type Receiver struct {
	Secret   string
	Handlers map[Type]Handler
	MaxBody  int64
	Log      zerolog.Logger
}

func (rc *Receiver) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	maxBody := rc.MaxBody
	if maxBody <= 0 {
		maxBody = 1 << 20
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBody))
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "INVALID_BODY", "unable to read payload", nil)
		return
	}
	signature := r.Header.Get("X-Signature")
	if signature == "" || !Verify(rc.Secret, body, signature) {
		common.JSONError(w, http.StatusUnauthorized, "INVALID_SIGNATURE", "signature verification failed", nil)
		return
	}
	var event Event
	if err := json.Unmarshal(body, &event); err != nil {
		common.JSONError(w, http.StatusBadRequest, "INVALID_PAYLOAD", "malformed event", nil)
		return
	}
	handler, ok := rc.Handlers[event.Type]
	if !ok {
		rc.Log.Debug().Str("type", string(event.Type)).Msg("unhandled webhook event type acknowledged")
		common.JSON(w, http.StatusOK, map[string]bool{"received": true})
		return
	}
	if err := handler(r.Context(), event); err != nil {
		rc.Log.Error().Err(err).Str("event_id", event.ID).Msg("webhook handler failed")
		common.JSONError(w, http.StatusInternalServerError, "HANDLER_ERROR", "event processing failed", nil)
		return
	}
	common.JSON(w, http.StatusOK, map[string]bool{"received": true})
}
