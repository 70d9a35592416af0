package checkout_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/go-chi/chi/v5"
	validator "github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/settlrhq/settlr/internal/chain"
	"github.com/settlrhq/settlr/internal/checkout"
	"github.com/settlrhq/settlr/internal/events"
	"github.com/settlrhq/settlr/internal/merchant"
	"github.com/settlrhq/settlr/internal/payment"
	"github.com/settlrhq/settlr/internal/session"
	"github.com/settlrhq/settlr/internal/token"
	"github.com/settlrhq/settlr/internal/webhook"
)

type fakeLedger struct {
	hashSeq   byte
	statuses  []chain.ConfirmationState
	statusIdx int
}

func (f *fakeLedger) AccountExists(context.Context, solana.PublicKey) (bool, error) {
	return true, nil
}

func (f *fakeLedger) LatestBlockhash(context.Context) (solana.Hash, error) {
	f.hashSeq++
	var h solana.Hash
	h[0] = f.hashSeq
	return h, nil
}

func (f *fakeLedger) SignatureStatus(context.Context, solana.Signature) (chain.ConfirmationState, error) {
	if f.statusIdx >= len(f.statuses) {
		return chain.StatePending, nil
	}
	state := f.statuses[f.statusIdx]
	f.statusIdx++
	return state, nil
}

func (f *fakeLedger) TokenAccountBalance(context.Context, solana.PublicKey) (uint64, error) {
	// Every account is well funded; balance failures are covered in the
	// builder's own tests.
	return 1_000_000_000_000, nil
}

func (f *fakeLedger) Health(context.Context) error { return nil }

type capturingScheduler struct {
	types []webhook.Type
}

func (c *capturingScheduler) Dispatch(_ context.Context, _ string, ev webhook.Event) error {
	c.types = append(c.types, ev.Type)
	return nil
}

const merchantWallet = "9aE476sH92Vz7DMPyq5WLPkrKWivxeuTKEFKd2sZZcde"

var testMerchant = merchant.Merchant{ID: "mer_1", Name: "Coffee Shop", WalletAddress: merchantWallet, Active: true}

type fixture struct {
	router    http.Handler
	store     *session.MemStore
	scheduler *capturingScheduler
	ledger    *fakeLedger
}

func newFixture(t *testing.T, statuses []chain.ConfirmationState) *fixture {
	t.Helper()
	reg := token.NewRegistry()
	codec := token.Codec{Registry: reg}
	ledger := &fakeLedger{statuses: statuses}
	store := session.NewMemStore()
	scheduler := &capturingScheduler{}

	svc := &checkout.Service{
		Sessions: store,
		Builder: chain.Builder{
			Ledger:   ledger,
			Codec:    codec,
			Registry: reg,
			Network:  token.NetworkDevnet,
		},
		Tracker:   chain.Tracker{Ledger: ledger, Interval: time.Millisecond, Timeout: 50 * time.Millisecond},
		Projector: payment.Projector{Codec: codec, CheckoutBaseURL: "http://localhost:8080/pay"},
		Bus:       &events.Bus{Scheduler: scheduler},
		TTL:       30 * time.Minute,
		Log:       zerolog.Nop(),
	}

	h := checkout.Handlers{Service: svc, Validate: validator.New()}
	r := chi.NewRouter()
	h.MountPublic(r)
	r.Group(func(gr chi.Router) {
		gr.Use(func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
				next.ServeHTTP(w, req.WithContext(merchant.WithMerchant(req.Context(), testMerchant)))
			})
		})
		h.MountMerchant(gr)
	})
	return &fixture{router: r, store: store, scheduler: scheduler, ledger: ledger}
}

func (f *fixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func (f *fixture) createSession(t *testing.T) string {
	t.Helper()
	rec := f.do(t, http.MethodPost, "/checkout/sessions", `{"amount":"25.00","currency":"USDC","orderId":"42"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	var created struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	require.True(t, strings.HasPrefix(created.ID, "cs_"))
	return created.ID
}

func TestCreateSessionReturnsCheckoutURL(t *testing.T) {
	f := newFixture(t, nil)
	rec := f.do(t, http.MethodPost, "/checkout/sessions", `{"amount":"12.50","memo":"order-7"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	var created struct {
		ID          string `json:"id"`
		CheckoutURL string `json:"checkoutUrl"`
		Status      string `json:"status"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	require.Equal(t, "pending", created.Status)
	require.Contains(t, created.CheckoutURL, "paymentId="+created.ID)
	require.Contains(t, created.CheckoutURL, "to="+merchantWallet)
	require.Equal(t, []webhook.Type{webhook.TypePaymentCreated}, f.scheduler.types)
}

func TestCreateSessionRejectsBadAmounts(t *testing.T) {
	f := newFixture(t, nil)
	for _, body := range []string{
		`{"amount":"0"}`,
		`{"amount":"-5"}`,
		`{"amount":"0.0000001"}`,
		`{"amount":"abc"}`,
		`{"currency":"USDC"}`,
	} {
		rec := f.do(t, http.MethodPost, "/checkout/sessions", body)
		require.Equal(t, http.StatusBadRequest, rec.Code, body)
	}
}

func TestCreateSessionRejectsUnknownToken(t *testing.T) {
	f := newFixture(t, nil)
	rec := f.do(t, http.MethodPost, "/checkout/sessions", `{"amount":"5","currency":"DOGE"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "UNSUPPORTED_TOKEN")
}

func TestCompleteExactlyOnce(t *testing.T) {
	f := newFixture(t, []chain.ConfirmationState{chain.StateConfirmed})
	id := f.createSession(t)

	sigA := solana.Signature{1}.String()
	sigB := solana.Signature{2}.String()

	rec := f.do(t, http.MethodPost, "/checkout/complete",
		`{"sessionId":"`+id+`","signature":"`+sigA+`","payerAddress":"`+merchantWallet+`"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var completed struct {
		Status      string `json:"status"`
		TxSignature string `json:"txSignature"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &completed))
	require.Equal(t, "completed", completed.Status)
	require.Equal(t, sigA, completed.TxSignature)

	// A second completion attempt with a different signature must not win.
	rec = f.do(t, http.MethodPost, "/checkout/complete",
		`{"sessionId":"`+id+`","signature":"`+sigB+`"}`)
	require.Equal(t, http.StatusConflict, rec.Code)

	rec = f.do(t, http.MethodGet, "/checkout/sessions?id="+id, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var got struct {
		TxSignature string `json:"txSignature"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Equal(t, sigA, got.TxSignature)

	require.Equal(t, []webhook.Type{webhook.TypePaymentCreated, webhook.TypePaymentCompleted}, f.scheduler.types)
}

func TestFailedConfirmationReopensSession(t *testing.T) {
	f := newFixture(t, []chain.ConfirmationState{chain.StateFailed})
	id := f.createSession(t)

	sig := solana.Signature{3}.String()
	rec := f.do(t, http.MethodPost, "/checkout/complete",
		`{"sessionId":"`+id+`","signature":"`+sig+`"}`)
	require.Equal(t, http.StatusBadGateway, rec.Code)
	require.Contains(t, rec.Body.String(), "PAYMENT_FAILED")

	// The session is payable again with a clean slate.
	got, err := f.store.Get(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, session.StatusPending, got.Status)
	require.Empty(t, got.TxSignature)

	require.Contains(t, f.scheduler.types, webhook.TypePaymentFailed)
}

func TestExpiryOnRead(t *testing.T) {
	f := newFixture(t, nil)
	rec := f.do(t, http.MethodPost, "/checkout/sessions", `{"amount":"5","expiresIn":1}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	var created struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	now := time.Now().Add(2 * time.Second)
	f.store.WithClock(func() time.Time { return now })

	rec = f.do(t, http.MethodGet, "/checkout/sessions?id="+created.ID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var got struct {
		Status string `json:"status"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Equal(t, "expired", got.Status)

	// Completion after expiry is refused.
	sig := solana.Signature{4}.String()
	rec = f.do(t, http.MethodPost, "/checkout/complete",
		`{"sessionId":"`+created.ID+`","signature":"`+sig+`"}`)
	require.Equal(t, http.StatusGone, rec.Code)
}

func TestCancelPendingSession(t *testing.T) {
	f := newFixture(t, nil)
	id := f.createSession(t)

	rec := f.do(t, http.MethodPost, "/checkout/cancel", `{"sessionId":"`+id+`"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodPost, "/checkout/cancel", `{"sessionId":"`+id+`"}`)
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Contains(t, f.scheduler.types, webhook.TypePaymentCancelled)
}

func TestGetUnknownSession(t *testing.T) {
	f := newFixture(t, nil)
	rec := f.do(t, http.MethodGet, "/checkout/sessions?id=cs_missing", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListPaymentsScopedToMerchant(t *testing.T) {
	f := newFixture(t, nil)
	f.createSession(t)
	f.createSession(t)

	rec := f.do(t, http.MethodGet, "/payments", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Data, 2)
}

func TestGaslessQuoteDisabledWithoutRelay(t *testing.T) {
	f := newFixture(t, nil)
	rec := f.do(t, http.MethodGet, "/gasless", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var quote struct {
		Enabled bool `json:"enabled"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &quote))
	require.False(t, quote.Enabled)
}

func TestGaslessBuildFallsBackToStandardTransfer(t *testing.T) {
	f := newFixture(t, nil)
	id := f.createSession(t)

	rec := f.do(t, http.MethodPost, "/gasless",
		`{"action":"build","sessionId":"`+id+`","payerAddress":"`+merchantWallet+`"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Gasless     bool   `json:"gasless"`
		Transaction string `json:"transaction"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.False(t, resp.Gasless)
	require.NotEmpty(t, resp.Transaction)
}
