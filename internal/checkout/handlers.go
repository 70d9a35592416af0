package checkout

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	validator "github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/settlrhq/settlr/internal/chain"
	"github.com/settlrhq/settlr/internal/common"
	"github.com/settlrhq/settlr/internal/merchant"
	"github.com/settlrhq/settlr/internal/payment"
	"github.com/settlrhq/settlr/internal/relay"
	"github.com/settlrhq/settlr/internal/session"
	"github.com/settlrhq/settlr/internal/token"
)

// Handlers exposes the checkout HTTP surface.
type Handlers struct {
	Service  *Service
	Validate *validator.Validate
}

// MountPublic registers the customer-facing routes: session reads, completion,
// cancellation and the gasless facade.
func (h Handlers) MountPublic(r chi.Router) {
	r.Get("/checkout/sessions", h.getSession)
	r.Post("/checkout/complete", h.complete)
	r.Post("/checkout/cancel", h.cancel)
	r.Get("/gasless", h.gaslessQuote)
	r.Post("/gasless", h.gasless)
}

// MountMerchant registers routes behind merchant API-key auth.
func (h Handlers) MountMerchant(r chi.Router) {
	r.Post("/checkout/sessions", h.createSession)
	r.Get("/payments", h.listPayments)
	r.Get("/payments/{id}", h.getPayment)
}

type createSessionRequest struct {
	Amount      string            `json:"amount" validate:"required"`
	Currency    string            `json:"currency"`
	Description string            `json:"description"`
	Metadata    map[string]string `json:"metadata"`
	SuccessURL  string            `json:"successUrl" validate:"omitempty,url"`
	CancelURL   string            `json:"cancelUrl" validate:"omitempty,url"`
	Memo        string            `json:"memo"`
	OrderID     string            `json:"orderId"`
	ExpiresIn   int               `json:"expiresIn"` // seconds
}

func (h Handlers) createSession(w http.ResponseWriter, r *http.Request) {
	m, ok := merchant.FromContext(r.Context())
	if !ok {
		common.JSONError(w, http.StatusUnauthorized, "UNAUTHENTICATED", "merchant auth required", nil)
		return
	}
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		common.JSONError(w, http.StatusBadRequest, "INVALID_BODY", "malformed json", nil)
		return
	}
	if err := h.Validate.Struct(req); err != nil {
		common.JSONError(w, http.StatusBadRequest, "VALIDATION_FAILED", err.Error(), nil)
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "INVALID_AMOUNT", "amount is not a decimal number", nil)
		return
	}
	pay, err := h.Service.Create(r.Context(), m, CreateParams{
		Amount:      amount,
		Currency:    req.Currency,
		Description: req.Description,
		Metadata:    req.Metadata,
		SuccessURL:  req.SuccessURL,
		CancelURL:   req.CancelURL,
		Memo:        req.Memo,
		OrderID:     req.OrderID,
		ExpiresIn:   time.Duration(req.ExpiresIn) * time.Second,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	common.JSON(w, http.StatusCreated, pay)
}

func (h Handlers) getSession(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if id == "" {
		common.JSONError(w, http.StatusBadRequest, "MISSING_ID", "id query parameter required", nil)
		return
	}
	pay, err := h.Service.Get(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, pay)
}

type completeRequest struct {
	SessionID    string `json:"sessionId" validate:"required"`
	Signature    string `json:"signature" validate:"required"`
	PayerAddress string `json:"payerAddress"`
}

func (h Handlers) complete(w http.ResponseWriter, r *http.Request) {
	var req completeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		common.JSONError(w, http.StatusBadRequest, "INVALID_BODY", "malformed json", nil)
		return
	}
	if err := h.Validate.Struct(req); err != nil {
		common.JSONError(w, http.StatusBadRequest, "VALIDATION_FAILED", err.Error(), nil)
		return
	}
	pay, err := h.Service.Complete(r.Context(), req.SessionID, req.Signature, req.PayerAddress)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, pay)
}

type cancelRequest struct {
	SessionID string `json:"sessionId" validate:"required"`
}

func (h Handlers) cancel(w http.ResponseWriter, r *http.Request) {
	var req cancelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		common.JSONError(w, http.StatusBadRequest, "INVALID_BODY", "malformed json", nil)
		return
	}
	if err := h.Validate.Struct(req); err != nil {
		common.JSONError(w, http.StatusBadRequest, "VALIDATION_FAILED", err.Error(), nil)
		return
	}
	pay, err := h.Service.Cancel(r.Context(), req.SessionID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, pay)
}

func (h Handlers) listPayments(w http.ResponseWriter, r *http.Request) {
	m, ok := merchant.FromContext(r.Context())
	if !ok {
		common.JSONError(w, http.StatusUnauthorized, "UNAUTHENTICATED", "merchant auth required", nil)
		return
	}
	limit := payment.ParseLimit(r.URL.Query().Get("limit"), 20, 100)
	payments, err := h.Service.List(r.Context(), m.ID, limit)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": payments})
}

func (h Handlers) getPayment(w http.ResponseWriter, r *http.Request) {
	m, ok := merchant.FromContext(r.Context())
	if !ok {
		common.JSONError(w, http.StatusUnauthorized, "UNAUTHENTICATED", "merchant auth required", nil)
		return
	}
	pay, err := h.Service.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if pay.MerchantID != m.ID {
		common.JSONError(w, http.StatusNotFound, "NOT_FOUND", "payment not found", nil)
		return
	}
	common.JSON(w, http.StatusOK, pay)
}

func (h Handlers) gaslessQuote(w http.ResponseWriter, r *http.Request) {
	quote, err := h.Service.GaslessQuote(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, quote)
}

type gaslessRequest struct {
	Action       string `json:"action" validate:"required,oneof=build submit"`
	SessionID    string `json:"sessionId" validate:"required"`
	PayerAddress string `json:"payerAddress"`
	Transaction  string `json:"transaction"`
}

func (h Handlers) gasless(w http.ResponseWriter, r *http.Request) {
	var req gaslessRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		common.JSONError(w, http.StatusBadRequest, "INVALID_BODY", "malformed json", nil)
		return
	}
	if err := h.Validate.Struct(req); err != nil {
		common.JSONError(w, http.StatusBadRequest, "VALIDATION_FAILED", err.Error(), nil)
		return
	}
	switch req.Action {
	case "build":
		result, err := h.Service.GaslessBuild(r.Context(), req.SessionID, req.PayerAddress)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		if !result.Available {
			// Fall back to the standard customer-pays-gas build so the page
			// can proceed in one round trip.
			tx, err := h.Service.BuildTransfer(r.Context(), req.SessionID, req.PayerAddress)
			if err != nil {
				writeServiceError(w, err)
				return
			}
			common.JSON(w, http.StatusOK, map[string]any{
				"gasless":     false,
				"reason":      result.Reason,
				"transaction": tx,
			})
			return
		}
		common.JSON(w, http.StatusOK, map[string]any{
			"gasless":     true,
			"fee":         result.Fee,
			"transaction": result.Transaction,
		})
	case "submit":
		if req.Transaction == "" {
			common.JSONError(w, http.StatusBadRequest, "VALIDATION_FAILED", "transaction is required", nil)
			return
		}
		signature, err := h.Service.GaslessSubmit(r.Context(), req.SessionID, req.PayerAddress, req.Transaction)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		common.JSON(w, http.StatusOK, map[string]string{"signature": signature})
	}
}

// writeServiceError maps domain sentinels onto the wire error taxonomy.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, session.ErrNotFound):
		common.JSONError(w, http.StatusNotFound, "SESSION_NOT_FOUND", "checkout session not found", nil)
	case errors.Is(err, session.ErrExpired):
		common.JSONError(w, http.StatusGone, "SESSION_EXPIRED", "checkout session has expired", nil)
	case errors.Is(err, session.ErrAlreadyFinalized):
		common.JSONError(w, http.StatusConflict, "ALREADY_COMPLETED", "session is already finalized", nil)
	case errors.Is(err, session.ErrAlreadySubmitted):
		common.JSONError(w, http.StatusConflict, "SIGNATURE_CONFLICT", "a different signature is already associated with this session", nil)
	case errors.Is(err, session.ErrNotCancellable):
		common.JSONError(w, http.StatusConflict, "NOT_CANCELLABLE", "session can no longer be cancelled", nil)
	case errors.Is(err, session.ErrInvalidSession):
		common.JSONError(w, http.StatusBadRequest, "INVALID_SESSION", "session parameters are invalid", nil)
	case errors.Is(err, token.ErrInvalidAmount):
		common.JSONError(w, http.StatusBadRequest, "INVALID_AMOUNT", err.Error(), nil)
	case errors.Is(err, token.ErrUnknownToken), errors.Is(err, token.ErrUnsupportedNetwork):
		common.JSONError(w, http.StatusBadRequest, "UNSUPPORTED_TOKEN", err.Error(), nil)
	case errors.Is(err, ErrInvalidAddress):
		common.JSONError(w, http.StatusBadRequest, "INVALID_ADDRESS", err.Error(), nil)
	case errors.Is(err, chain.ErrInsufficientBalance):
		common.JSONError(w, http.StatusBadRequest, "INSUFFICIENT_BALANCE", "payer balance does not cover the transfer", nil)
	case errors.Is(err, chain.ErrAccountNotFound):
		common.JSONError(w, http.StatusBadRequest, "ACCOUNT_NOT_FOUND", "payer token account does not exist", nil)
	case errors.Is(err, ErrPaymentFailed):
		common.JSONError(w, http.StatusBadGateway, "PAYMENT_FAILED", "transaction failed on chain; session reopened", nil)
	case errors.Is(err, chain.ErrConfirmationTimeout):
		common.JSONError(w, http.StatusGatewayTimeout, "CONFIRMATION_TIMEOUT", "transaction was not confirmed in time", nil)
	case errors.Is(err, chain.ErrTransactionBuild):
		common.JSONError(w, http.StatusBadGateway, "BUILD_FAILED", "unable to build transaction", nil)
	case errors.Is(err, relay.ErrRelayRejected):
		common.JSONError(w, http.StatusBadGateway, "RELAY_REJECTED", err.Error(), nil)
	case errors.Is(err, relay.ErrRelayUnavailable):
		common.JSONError(w, http.StatusServiceUnavailable, "RELAY_UNAVAILABLE", "fee delegation is not available", nil)
	default:
		var appErr *common.AppError
		if errors.As(err, &appErr) {
			common.JSONError(w, appErr.HTTPStatus, appErr.Code, appErr.Message, appErr.Details)
			return
		}
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "unexpected error", nil)
	}
}
