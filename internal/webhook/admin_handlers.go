package webhook

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	validator "github.com/go-playground/validator/v10"

	"github.com/settlrhq/settlr/internal/common"
	"github.com/settlrhq/settlr/internal/merchant"
)

// AdminHandlers exposes endpoint management under merchant authentication.
type AdminHandlers struct {
	Store    EndpointStore
	Validate *validator.Validate
}

// Mount registers the admin routes on r. The router is expected to already
// carry the merchant auth middleware.
func (h AdminHandlers) Mount(r chi.Router) {
	r.Post("/webhooks", h.create)
	r.Get("/webhooks", h.list)
	r.Get("/webhooks/{id}", h.get)
	r.Delete("/webhooks/{id}", h.delete)
}

type createEndpointRequest struct {
	URL        string   `json:"url" validate:"required,url"`
	EventTypes []string `json:"eventTypes" validate:"dive,required"`
}

type createEndpointResponse struct {
	Endpoint
	// Secret is returned exactly once, at creation.
	Secret string `json:"secret"`
}

func (h AdminHandlers) create(w http.ResponseWriter, r *http.Request) {
	m, ok := merchant.FromContext(r.Context())
	if !ok {
		common.JSONError(w, http.StatusUnauthorized, "UNAUTHENTICATED", "merchant auth required", nil)
		return
	}
	var req createEndpointRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		common.JSONError(w, http.StatusBadRequest, "INVALID_BODY", "malformed json", nil)
		return
	}
	if h.Validate != nil {
		if err := h.Validate.Struct(req); err != nil {
			common.JSONError(w, http.StatusBadRequest, "VALIDATION_FAILED", err.Error(), nil)
			return
		}
	}
	if err := validateURL(req.URL); err != nil {
		common.JSONError(w, http.StatusBadRequest, "INVALID_URL", err.Error(), nil)
		return
	}
	for _, et := range req.EventTypes {
		if !knownEventType(Type(et)) {
			common.JSONError(w, http.StatusBadRequest, "UNKNOWN_EVENT_TYPE", "unknown event type "+et, nil)
			return
		}
	}
	secret, err := newSecret()
	if err != nil {
		common.JSONError(w, http.StatusInternalServerError, "SECRET_ERROR", "unable to generate secret", nil)
		return
	}
	ep := Endpoint{
		ID:         NewEndpointID(),
		MerchantID: m.ID,
		URL:        req.URL,
		Secret:     secret,
		EventTypes: req.EventTypes,
		Active:     true,
		CreatedAt:  time.Now().UTC(),
	}
	if err := h.Store.Create(r.Context(), ep); err != nil {
		common.JSONError(w, http.StatusInternalServerError, "STORE_ERROR", "unable to save endpoint", nil)
		return
	}
	common.JSON(w, http.StatusCreated, createEndpointResponse{Endpoint: ep, Secret: secret})
}

func (h AdminHandlers) list(w http.ResponseWriter, r *http.Request) {
	m, ok := merchant.FromContext(r.Context())
	if !ok {
		common.JSONError(w, http.StatusUnauthorized, "UNAUTHENTICATED", "merchant auth required", nil)
		return
	}
	endpoints, err := h.Store.ListByMerchant(r.Context(), m.ID)
	if err != nil {
		common.JSONError(w, http.StatusInternalServerError, "STORE_ERROR", "unable to list endpoints", nil)
		return
	}
	if endpoints == nil {
		endpoints = []Endpoint{}
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": endpoints})
}

func (h AdminHandlers) get(w http.ResponseWriter, r *http.Request) {
	m, ok := merchant.FromContext(r.Context())
	if !ok {
		common.JSONError(w, http.StatusUnauthorized, "UNAUTHENTICATED", "merchant auth required", nil)
		return
	}
	ep, err := h.Store.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil || ep.MerchantID != m.ID {
		common.JSONError(w, http.StatusNotFound, "NOT_FOUND", "endpoint not found", nil)
		return
	}
	common.JSON(w, http.StatusOK, ep)
}

func (h AdminHandlers) delete(w http.ResponseWriter, r *http.Request) {
	m, ok := merchant.FromContext(r.Context())
	if !ok {
		common.JSONError(w, http.StatusUnauthorized, "UNAUTHENTICATED", "merchant auth required", nil)
		return
	}
	if err := h.Store.Delete(r.Context(), m.ID, chi.URLParam(r, "id")); err != nil {
		if errors.Is(err, ErrEndpointNotFound) {
			common.JSONError(w, http.StatusNotFound, "NOT_FOUND", "endpoint not found", nil)
			return
		}
		common.JSONError(w, http.StatusInternalServerError, "STORE_ERROR", "unable to delete endpoint", nil)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func knownEventType(t Type) bool {
	switch t {
	case TypePaymentCreated, TypePaymentCompleted, TypePaymentFailed,
		TypePaymentExpired, TypePaymentCancelled, TypePaymentRefunded,
		TypeSubscriptionCreated, TypeSubscriptionRenewed,
		TypeSubscriptionCancelled, TypeSubscriptionExpired:
		return true
	default:
		return false
	}
}

func newSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return "whsec_" + hex.EncodeToString(buf), nil
}
