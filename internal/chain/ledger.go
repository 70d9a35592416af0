package chain

import (
	"context"
	"errors"
	"strconv"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

// ConfirmationState summarises the ledger's view of a submitted signature.
type ConfirmationState int

const (
	// StatePending means the signature has no confirmation yet.
	StatePending ConfirmationState = iota
	// StateConfirmed means the cluster confirmed or finalized the transaction.
	StateConfirmed
	// StateFailed means an on-chain error is attached to the signature.
	StateFailed
)

// Ledger abstracts the cluster operations the payment core needs. The RPC
// implementation talks to a real node; tests substitute a fake.
type Ledger interface {
	AccountExists(ctx context.Context, account solana.PublicKey) (bool, error)
	LatestBlockhash(ctx context.Context) (solana.Hash, error)
	SignatureStatus(ctx context.Context, sig solana.Signature) (ConfirmationState, error)
	TokenAccountBalance(ctx context.Context, account solana.PublicKey) (uint64, error)
	Health(ctx context.Context) error
}

// RPCLedger implements Ledger over a Solana JSON-RPC endpoint.
type RPCLedger struct {
	client *rpc.Client
}

// NewRPCLedger connects a ledger to the given RPC endpoint.
func NewRPCLedger(endpoint string) *RPCLedger {
	return &RPCLedger{client: rpc.New(endpoint)}
}

// AccountExists reports whether the account has been created on chain.
func (l *RPCLedger) AccountExists(ctx context.Context, account solana.PublicKey) (bool, error) {
	out, err := l.client.GetAccountInfo(ctx, account)
	if err != nil {
		if errors.Is(err, rpc.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return out != nil && out.Value != nil, nil
}

// LatestBlockhash fetches a fresh finality checkpoint. Callers must not reuse
// a blockhash across rebuilds.
func (l *RPCLedger) LatestBlockhash(ctx context.Context) (solana.Hash, error) {
	out, err := l.client.GetLatestBlockhash(ctx, rpc.CommitmentFinalized)
	if err != nil {
		return solana.Hash{}, err
	}
	return out.Value.Blockhash, nil
}

// SignatureStatus maps the cluster status of sig onto a ConfirmationState.
func (l *RPCLedger) SignatureStatus(ctx context.Context, sig solana.Signature) (ConfirmationState, error) {
	out, err := l.client.GetSignatureStatuses(ctx, false, sig)
	if err != nil {
		return StatePending, err
	}
	if out == nil || len(out.Value) == 0 || out.Value[0] == nil {
		return StatePending, nil
	}
	status := out.Value[0]
	if status.Err != nil {
		return StateFailed, nil
	}
	switch status.ConfirmationStatus {
	case rpc.ConfirmationStatusConfirmed, rpc.ConfirmationStatusFinalized:
		return StateConfirmed, nil
	default:
		return StatePending, nil
	}
}

// TokenAccountBalance returns the atomic balance held by a token account.
func (l *RPCLedger) TokenAccountBalance(ctx context.Context, account solana.PublicKey) (uint64, error) {
	out, err := l.client.GetTokenAccountBalance(ctx, account, rpc.CommitmentConfirmed)
	if err != nil {
		if errors.Is(err, rpc.ErrNotFound) {
			return 0, nil
		}
		return 0, err
	}
	if out == nil || out.Value == nil {
		return 0, nil
	}
	amount, err := strconv.ParseUint(out.Value.Amount, 10, 64)
	if err != nil {
		return 0, err
	}
	return amount, nil
}

// Health probes the RPC node.
func (l *RPCLedger) Health(ctx context.Context) error {
	_, err := l.client.GetHealth(ctx)
	return err
}
