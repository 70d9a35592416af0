package relay_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/settlrhq/settlr/internal/chain"
	"github.com/settlrhq/settlr/internal/relay"
	"github.com/settlrhq/settlr/internal/token"
)

type openLedger struct{ hashSeq byte }

func (l *openLedger) AccountExists(context.Context, solana.PublicKey) (bool, error) {
	return true, nil
}

func (l *openLedger) LatestBlockhash(context.Context) (solana.Hash, error) {
	l.hashSeq++
	var h solana.Hash
	h[0] = l.hashSeq
	return h, nil
}

func (l *openLedger) SignatureStatus(context.Context, solana.Signature) (chain.ConfirmationState, error) {
	return chain.StatePending, nil
}

func (l *openLedger) TokenAccountBalance(context.Context, solana.PublicKey) (uint64, error) {
	return 0, nil
}

func (l *openLedger) Health(context.Context) error { return nil }

var (
	payer     = solana.MustPublicKeyFromBase58("9aE476sH92Vz7DMPyq5WLPkrKWivxeuTKEFKd2sZZcde")
	merchant  = solana.MustPublicKeyFromBase58("BPFLoaderUpgradeab1e11111111111111111111111")
	relayAddr = solana.MustPublicKeyFromBase58("Vote111111111111111111111111111111111111111")
)

func newClient(baseURL string) *relay.Client {
	reg := token.NewRegistry()
	return &relay.Client{
		BaseURL: baseURL,
		Builder: chain.Builder{
			Ledger:   &openLedger{},
			Codec:    token.Codec{Registry: reg},
			Registry: reg,
			Network:  token.NetworkDevnet,
		},
	}
}

func quoteHandler(t *testing.T, quote relay.FeeQuote) http.HandlerFunc {
	t.Helper()
	return func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodGet, r.Method)
		_ = json.NewEncoder(w).Encode(quote)
	}
}

func usdcQuote() relay.FeeQuote {
	mint, _ := token.NewRegistry().Mint("USDC", token.NetworkDevnet)
	feeATA, _, _ := solana.FindAssociatedTokenAddress(relayAddr, mint)
	return relay.FeeQuote{
		Enabled:  true,
		FeePayer: relayAddr.String(),
		Tokens: []relay.TokenFee{{
			Symbol:   "USDC",
			Mint:     mint.String(),
			Account:  feeATA.String(),
			Decimals: 6,
			Fee:      10_000,
		}},
	}
}

func TestBuildGaslessTransaction(t *testing.T) {
	srv := httptest.NewServer(quoteHandler(t, usdcQuote()))
	t.Cleanup(srv.Close)

	client := newClient(srv.URL)
	result, err := client.Build(context.Background(), payer, merchant, "USDC", decimal.RequireFromString("25"), "")
	require.NoError(t, err)
	require.Equal(t, relay.OutcomeOK, result.Outcome)
	require.Equal(t, uint64(10_000), result.Fee)

	// Relay pays the network fee, so it is the first account key.
	require.Equal(t, relayAddr, result.Tx.Message.AccountKeys[0])

	// Fee transfer first, then the merchant transfer.
	require.Len(t, result.Tx.Message.Instructions, 2)
	for _, in := range result.Tx.Message.Instructions {
		prog, err := result.Tx.Message.Program(in.ProgramIDIndex)
		require.NoError(t, err)
		require.Equal(t, solana.TokenProgramID, prog)
	}
}

func TestBuildUnavailableWhenTokenUnquoted(t *testing.T) {
	srv := httptest.NewServer(quoteHandler(t, usdcQuote()))
	t.Cleanup(srv.Close)

	client := newClient(srv.URL)
	result, err := client.Build(context.Background(), payer, merchant, "USDT", decimal.RequireFromString("5"), "")
	require.NoError(t, err)
	require.Equal(t, relay.OutcomeUnavailable, result.Outcome)
	require.Contains(t, result.Reason, "USDT")
}

func TestBuildUnavailableWhenRelayUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()

	client := newClient(srv.URL)
	result, err := client.Build(context.Background(), payer, merchant, "USDC", decimal.RequireFromString("5"), "")
	require.NoError(t, err)
	require.Equal(t, relay.OutcomeUnavailable, result.Outcome)
}

func TestBuildUnavailableWhenDisabled(t *testing.T) {
	quote := usdcQuote()
	quote.Enabled = false
	srv := httptest.NewServer(quoteHandler(t, quote))
	t.Cleanup(srv.Close)

	client := newClient(srv.URL)
	result, err := client.Build(context.Background(), payer, merchant, "USDC", decimal.RequireFromString("5"), "")
	require.NoError(t, err)
	require.Equal(t, relay.OutcomeUnavailable, result.Outcome)
}

func TestSubmitReturnsSignature(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /", quoteHandler(t, usdcQuote()))
	mux.HandleFunc("POST /sign", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Transaction string `json:"transaction"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.NotEmpty(t, req.Transaction)
		_ = json.NewEncoder(w).Encode(map[string]string{"signature": "SIG123"})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	client := newClient(srv.URL)
	result, err := client.Build(context.Background(), payer, merchant, "USDC", decimal.RequireFromString("1"), "")
	require.NoError(t, err)
	require.Equal(t, relay.OutcomeOK, result.Outcome)

	sig, err := client.Submit(context.Background(), result.Tx)
	require.NoError(t, err)
	require.Equal(t, "SIG123", sig)
}

func TestSubmitRejected(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /", quoteHandler(t, usdcQuote()))
	mux.HandleFunc("POST /sign", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "unexpected instruction"})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	client := newClient(srv.URL)
	result, err := client.Build(context.Background(), payer, merchant, "USDC", decimal.RequireFromString("1"), "")
	require.NoError(t, err)

	_, err = client.Submit(context.Background(), result.Tx)
	require.ErrorIs(t, err, relay.ErrRelayRejected)
	require.Contains(t, err.Error(), "unexpected instruction")
}
