package webhook_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	validator "github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/require"

	"github.com/settlrhq/settlr/internal/merchant"
	"github.com/settlrhq/settlr/internal/webhook"
)

func adminRouter(store webhook.EndpointStore) http.Handler {
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			ctx := merchant.WithMerchant(req.Context(), merchant.Merchant{ID: "mer_1", Active: true})
			next.ServeHTTP(w, req.WithContext(ctx))
		})
	})
	webhook.AdminHandlers{Store: store, Validate: validator.New()}.Mount(r)
	return r
}

func TestCreateEndpointReturnsSecretOnce(t *testing.T) {
	store := webhook.NewMemEndpointStore()
	router := adminRouter(store)

	body := `{"url":"https://shop.example.com/hooks","eventTypes":["payment.completed"]}`
	req := httptest.NewRequest(http.MethodPost, "/webhooks", strings.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)

	var created struct {
		ID     string `json:"id"`
		Secret string `json:"secret"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	require.True(t, strings.HasPrefix(created.Secret, "whsec_"))

	// The secret never appears in list responses.
	req = httptest.NewRequest(http.MethodGet, "/webhooks", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotContains(t, rec.Body.String(), created.Secret)
}

func TestCreateEndpointAcceptsFullEventCatalog(t *testing.T) {
	router := adminRouter(webhook.NewMemEndpointStore())

	body := `{"url":"https://shop.example.com/hooks","eventTypes":[
		"payment.created","payment.completed","payment.failed","payment.expired",
		"payment.cancelled","payment.refunded",
		"subscription.created","subscription.renewed","subscription.cancelled","subscription.expired"]}`
	req := httptest.NewRequest(http.MethodPost, "/webhooks", strings.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)
}

func TestCreateEndpointRejectsUnknownEventType(t *testing.T) {
	router := adminRouter(webhook.NewMemEndpointStore())

	body := `{"url":"https://shop.example.com/hooks","eventTypes":["order.shipped"]}`
	req := httptest.NewRequest(http.MethodPost, "/webhooks", strings.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateEndpointRejectsPlainHTTP(t *testing.T) {
	router := adminRouter(webhook.NewMemEndpointStore())

	body := `{"url":"http://shop.example.com/hooks","eventTypes":[]}`
	req := httptest.NewRequest(http.MethodPost, "/webhooks", strings.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDeleteEndpointScopedToMerchant(t *testing.T) {
	store := webhook.NewMemEndpointStore()
	router := adminRouter(store)

	foreign := webhook.Endpoint{ID: "we_x", MerchantID: "mer_2", URL: "https://x.example.com", Active: true}
	require.NoError(t, store.Create(httptest.NewRequest(http.MethodGet, "/", nil).Context(), foreign))

	req := httptest.NewRequest(http.MethodDelete, "/webhooks/we_x", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNotFound, rec.Code)
}
