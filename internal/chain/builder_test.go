package chain_test

import (
	"context"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/settlrhq/settlr/internal/chain"
	"github.com/settlrhq/settlr/internal/token"
)

type fakeLedger struct {
	accounts  map[solana.PublicKey]bool
	balances  map[solana.PublicKey]uint64
	hashSeq   byte
	statuses  []chain.ConfirmationState
	statusIdx int
}

func (f *fakeLedger) AccountExists(_ context.Context, account solana.PublicKey) (bool, error) {
	return f.accounts[account], nil
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

func (f *fakeLedger) TokenAccountBalance(_ context.Context, account solana.PublicKey) (uint64, error) {
	return f.balances[account], nil
}

func (f *fakeLedger) Health(context.Context) error { return nil }

var (
	payer     = solana.MustPublicKeyFromBase58("9aE476sH92Vz7DMPyq5WLPkrKWivxeuTKEFKd2sZZcde")
	recipient = solana.MustPublicKeyFromBase58("BPFLoaderUpgradeab1e11111111111111111111111")
)

func newBuilder(ledger chain.Ledger) chain.Builder {
	reg := token.NewRegistry()
	return chain.Builder{
		Ledger:   ledger,
		Codec:    token.Codec{Registry: reg},
		Registry: reg,
		Network:  token.NetworkDevnet,
	}
}

func recipientATA(t *testing.T) solana.PublicKey {
	t.Helper()
	mint, err := token.NewRegistry().Mint("USDC", token.NetworkDevnet)
	require.NoError(t, err)
	addr, _, err := solana.FindAssociatedTokenAddress(recipient, mint)
	require.NoError(t, err)
	return addr
}

func programIDs(t *testing.T, tx *solana.Transaction) []solana.PublicKey {
	t.Helper()
	ids := make([]solana.PublicKey, 0, len(tx.Message.Instructions))
	for _, in := range tx.Message.Instructions {
		prog, err := tx.Message.Program(in.ProgramIDIndex)
		require.NoError(t, err)
		ids = append(ids, prog)
	}
	return ids
}

func TestBuildCreatesMissingRecipientAccount(t *testing.T) {
	ledger := &fakeLedger{accounts: map[solana.PublicKey]bool{}}
	b := newBuilder(ledger)

	tx, err := b.Build(context.Background(), chain.BuildParams{
		Payer:     payer,
		Recipient: recipient,
		Symbol:    "USDC",
		Amount:    decimal.RequireFromString("10.00"),
	})
	require.NoError(t, err)

	ids := programIDs(t, tx)
	require.Len(t, ids, 2)
	require.Equal(t, solana.SPLAssociatedTokenAccountProgramID, ids[0])
	require.Equal(t, solana.TokenProgramID, ids[1])
}

func TestBuildSkipsCreateWhenAccountExists(t *testing.T) {
	ledger := &fakeLedger{accounts: map[solana.PublicKey]bool{recipientATA(t): true}}
	b := newBuilder(ledger)

	tx, err := b.Build(context.Background(), chain.BuildParams{
		Payer:     payer,
		Recipient: recipient,
		Symbol:    "USDC",
		Amount:    decimal.RequireFromString("10.00"),
	})
	require.NoError(t, err)

	ids := programIDs(t, tx)
	require.Len(t, ids, 1)
	require.Equal(t, solana.TokenProgramID, ids[0])
}

func TestBuildAppendsMemoSignedByPayer(t *testing.T) {
	ledger := &fakeLedger{accounts: map[solana.PublicKey]bool{recipientATA(t): true}}
	b := newBuilder(ledger)

	tx, err := b.Build(context.Background(), chain.BuildParams{
		Payer:     payer,
		Recipient: recipient,
		Symbol:    "USDC",
		Amount:    decimal.RequireFromString("1"),
		Memo:      "order-42",
	})
	require.NoError(t, err)

	ids := programIDs(t, tx)
	require.Equal(t, solana.MemoProgramID, ids[len(ids)-1])
	last := tx.Message.Instructions[len(tx.Message.Instructions)-1]
	require.Equal(t, []byte("order-42"), []byte(last.Data))
}

func TestBuildDefaultsFeePayerToPayer(t *testing.T) {
	ledger := &fakeLedger{accounts: map[solana.PublicKey]bool{recipientATA(t): true}}
	b := newBuilder(ledger)

	tx, err := b.Build(context.Background(), chain.BuildParams{
		Payer:     payer,
		Recipient: recipient,
		Symbol:    "USDC",
		Amount:    decimal.RequireFromString("5"),
	})
	require.NoError(t, err)
	require.Equal(t, payer, tx.Message.AccountKeys[0])
}

func TestBuildFetchesFreshBlockhashPerBuild(t *testing.T) {
	ledger := &fakeLedger{accounts: map[solana.PublicKey]bool{recipientATA(t): true}}
	b := newBuilder(ledger)
	params := chain.BuildParams{
		Payer:     payer,
		Recipient: recipient,
		Symbol:    "USDC",
		Amount:    decimal.RequireFromString("5"),
	}

	tx1, err := b.Build(context.Background(), params)
	require.NoError(t, err)
	tx2, err := b.Build(context.Background(), params)
	require.NoError(t, err)
	require.NotEqual(t, tx1.Message.RecentBlockhash, tx2.Message.RecentBlockhash)
}

func TestBuildRejectsInvalidAmount(t *testing.T) {
	b := newBuilder(&fakeLedger{accounts: map[solana.PublicKey]bool{}})
	_, err := b.Build(context.Background(), chain.BuildParams{
		Payer:     payer,
		Recipient: recipient,
		Symbol:    "USDC",
		Amount:    decimal.Zero,
	})
	require.ErrorIs(t, err, token.ErrInvalidAmount)
}

func TestCheckBalance(t *testing.T) {
	mint, err := token.NewRegistry().Mint("USDC", token.NetworkDevnet)
	require.NoError(t, err)
	payerATA, _, err := solana.FindAssociatedTokenAddress(payer, mint)
	require.NoError(t, err)

	ledger := &fakeLedger{
		accounts: map[solana.PublicKey]bool{payerATA: true},
		balances: map[solana.PublicKey]uint64{payerATA: 5_000_000},
	}
	b := newBuilder(ledger)

	require.NoError(t, b.CheckBalance(context.Background(), payer, "USDC", decimal.RequireFromString("5")))

	err = b.CheckBalance(context.Background(), payer, "USDC", decimal.RequireFromString("5.000001"))
	require.ErrorIs(t, err, chain.ErrInsufficientBalance)

	err = b.CheckBalance(context.Background(), recipient, "USDC", decimal.RequireFromString("1"))
	require.ErrorIs(t, err, chain.ErrAccountNotFound)
}

func TestTrackerConfirms(t *testing.T) {
	ledger := &fakeLedger{statuses: []chain.ConfirmationState{chain.StatePending, chain.StateConfirmed}}
	tracker := chain.Tracker{Ledger: ledger, Interval: time.Millisecond, Timeout: time.Second}

	outcome, err := tracker.Track(context.Background(), solana.Signature{})
	require.NoError(t, err)
	require.Equal(t, chain.TrackConfirmed, outcome)
}

func TestTrackerReportsOnChainFailure(t *testing.T) {
	ledger := &fakeLedger{statuses: []chain.ConfirmationState{chain.StateFailed}}
	tracker := chain.Tracker{Ledger: ledger, Interval: time.Millisecond, Timeout: time.Second}

	outcome, err := tracker.Track(context.Background(), solana.Signature{})
	require.NoError(t, err)
	require.Equal(t, chain.TrackFailed, outcome)
}

func TestTrackerTimesOut(t *testing.T) {
	ledger := &fakeLedger{}
	tracker := chain.Tracker{Ledger: ledger, Interval: 5 * time.Millisecond, Timeout: 30 * time.Millisecond}

	outcome, err := tracker.Track(context.Background(), solana.Signature{})
	require.ErrorIs(t, err, chain.ErrConfirmationTimeout)
	require.Equal(t, chain.TrackFailed, outcome)
}
