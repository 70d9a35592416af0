package relay

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
	spltoken "github.com/gagliardetto/solana-go/programs/token"
	"github.com/shopspring/decimal"

	"github.com/settlrhq/settlr/internal/chain"
)

var (
	// ErrRelayUnavailable means the relay could not be reached or publishes no
	// fee for the requested token. Callers degrade to the standard
	// customer-pays-gas flow.
	ErrRelayUnavailable = errors.New("relay: unavailable")
	// ErrRelayRejected means the relay refused to co-sign the transaction.
	ErrRelayRejected = errors.New("relay: co-sign rejected")
)

// TokenFee is the relay's published flat fee for one token, in atomic units.
type TokenFee struct {
	Symbol   string `json:"symbol"`
	Mint     string `json:"mint"`
	Account  string `json:"account"`
	Decimals int32  `json:"decimals"`
	Fee      uint64 `json:"fee"`
}

// FeeQuote is the relay's current configuration. It is immutable for the
// lifetime of a single transaction build.
type FeeQuote struct {
	Enabled  bool       `json:"enabled"`
	FeePayer string     `json:"feePayer"`
	Tokens   []TokenFee `json:"tokens"`
}

// Token returns the published fee for symbol, if any.
func (q FeeQuote) Token(symbol string) (TokenFee, bool) {
	for _, t := range q.Tokens {
		if strings.EqualFold(t.Symbol, symbol) {
			return t, true
		}
	}
	return TokenFee{}, false
}

// Outcome tags a gasless build result so callers branch explicitly instead of
// catching error types.
type Outcome int

const (
	// OutcomeOK means the transaction was built and is ready for the customer
	// to sign.
	OutcomeOK Outcome = iota
	// OutcomeUnavailable means gasless is not currently possible for this
	// token; fall back to the standard builder.
	OutcomeUnavailable
	// OutcomeRejected means the relay refused the request.
	OutcomeRejected
)

// BuildResult carries the tagged outcome of a gasless build.
type BuildResult struct {
	Outcome Outcome
	Tx      *solana.Transaction
	Fee     uint64
	Reason  string
}

// Client builds fee-delegated transactions and submits them to the relay for
// co-signing and broadcast.
type Client struct {
	BaseURL string
	HTTP    *http.Client
	Builder chain.Builder
}

func (c *Client) httpClient() *http.Client {
	if c.HTTP != nil {
		return c.HTTP
	}
	return &http.Client{Timeout: 10 * time.Second}
}

// FeeQuote fetches the relay's current fee configuration.
func (c *Client) FeeQuote(ctx context.Context) (FeeQuote, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL, nil)
	if err != nil {
		return FeeQuote{}, fmt.Errorf("%w: %v", ErrRelayUnavailable, err)
	}
	resp, err := c.httpClient().Do(req)
	if err != nil {
		return FeeQuote{}, fmt.Errorf("%w: %v", ErrRelayUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return FeeQuote{}, fmt.Errorf("%w: quote status %d", ErrRelayUnavailable, resp.StatusCode)
	}
	var quote FeeQuote
	if err := json.NewDecoder(resp.Body).Decode(&quote); err != nil {
		return FeeQuote{}, fmt.Errorf("%w: decode quote: %v", ErrRelayUnavailable, err)
	}
	return quote, nil
}

// Build assembles a fee-delegated transfer: the relay fee transfer comes
// first, then the conditional destination-account creation (paid by the relay
// fee payer) and the merchant transfer, with the relay as fee payer. The
// customer signs their transfers; the relay adds the fee-payer signature
// server-side. The relay only co-signs the instruction shape built here.
func (c *Client) Build(ctx context.Context, payer, recipient solana.PublicKey, symbol string, amount decimal.Decimal, memo string) (BuildResult, error) {
	quote, err := c.FeeQuote(ctx)
	if err != nil {
		return BuildResult{Outcome: OutcomeUnavailable, Reason: err.Error()}, nil
	}
	if !quote.Enabled {
		return BuildResult{Outcome: OutcomeUnavailable, Reason: "relay disabled"}, nil
	}
	fee, ok := quote.Token(symbol)
	if !ok {
		return BuildResult{Outcome: OutcomeUnavailable, Reason: fmt.Sprintf("no fee published for %s", symbol)}, nil
	}

	feePayer, err := solana.PublicKeyFromBase58(quote.FeePayer)
	if err != nil {
		return BuildResult{Outcome: OutcomeUnavailable, Reason: "malformed fee payer in quote"}, nil
	}
	feeMint, err := solana.PublicKeyFromBase58(fee.Mint)
	if err != nil {
		return BuildResult{Outcome: OutcomeUnavailable, Reason: "malformed fee mint in quote"}, nil
	}
	feeAccount, err := solana.PublicKeyFromBase58(fee.Account)
	if err != nil {
		return BuildResult{Outcome: OutcomeUnavailable, Reason: "malformed fee account in quote"}, nil
	}

	payerFeeATA, _, err := solana.FindAssociatedTokenAddress(payer, feeMint)
	if err != nil {
		return BuildResult{}, fmt.Errorf("%w: payer fee account: %v", chain.ErrTransactionBuild, err)
	}
	feeInstr := spltoken.NewTransferInstruction(fee.Fee, payerFeeATA, feeAccount, payer, nil).Build()

	tx, err := c.Builder.Build(ctx, chain.BuildParams{
		Payer:     payer,
		Recipient: recipient,
		Symbol:    symbol,
		Amount:    amount,
		Memo:      memo,
		FeePayer:  feePayer,
		Prepend:   []solana.Instruction{feeInstr},
	})
	if err != nil {
		return BuildResult{}, err
	}
	return BuildResult{Outcome: OutcomeOK, Tx: tx, Fee: fee.Fee}, nil
}

type submitRequest struct {
	Transaction string `json:"transaction"`
}

type submitResponse struct {
	Signature string `json:"signature"`
	Error     string `json:"error"`
}

// Submit sends the partially-signed transaction to the relay, which validates
// it, adds the fee-payer signature and broadcasts. Returns the broadcast
// signature.
func (c *Client) Submit(ctx context.Context, tx *solana.Transaction) (string, error) {
	raw, err := tx.MarshalBinary()
	if err != nil {
		return "", fmt.Errorf("%w: serialize: %v", chain.ErrTransactionBuild, err)
	}
	body, err := json.Marshal(submitRequest{Transaction: base64.StdEncoding.EncodeToString(raw)})
	if err != nil {
		return "", fmt.Errorf("%w: encode: %v", chain.ErrTransactionBuild, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(c.BaseURL, "/")+"/sign", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrRelayUnavailable, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrRelayUnavailable, err)
	}
	defer resp.Body.Close()

	var out submitResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("%w: decode response: %v", ErrRelayUnavailable, err)
	}
	if resp.StatusCode != http.StatusOK || out.Signature == "" {
		reason := out.Error
		if reason == "" {
			reason = fmt.Sprintf("status %d", resp.StatusCode)
		}
		return "", fmt.Errorf("%w: %s", ErrRelayRejected, reason)
	}
	return out.Signature, nil
}
