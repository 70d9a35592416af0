package chain

import (
	"context"
	"fmt"

	"github.com/gagliardetto/solana-go"
	ata "github.com/gagliardetto/solana-go/programs/associated-token-account"
	spltoken "github.com/gagliardetto/solana-go/programs/token"
	"github.com/shopspring/decimal"

	"github.com/settlrhq/settlr/internal/token"
)

// BuildParams describes one transfer transaction.
type BuildParams struct {
	Payer     solana.PublicKey
	Recipient solana.PublicKey
	Symbol    string
	Amount    decimal.Decimal
	Memo      string

	// FeePayer overrides the fee payer (gasless path). Zero value means the
	// payer funds the transaction itself.
	FeePayer solana.PublicKey

	// Prepend is inserted before the account-creation and transfer
	// instructions; the gasless path uses it for the relay fee transfer.
	Prepend []solana.Instruction
}

func (p BuildParams) feePayer() solana.PublicKey {
	if p.FeePayer.IsZero() {
		return p.Payer
	}
	return p.FeePayer
}

// Builder assembles unsigned token transfer transactions.
type Builder struct {
	Ledger   Ledger
	Codec    token.Codec
	Registry *token.Registry
	Network  token.Network
}

// Build produces an unsigned transfer transaction per the checkout contract:
// amount conversion, deterministic token-account resolution, conditional
// destination-account creation before the transfer, optional memo, and a
// freshly fetched blockhash. The blockhash is fetched on every call; rebuilds
// never reuse one.
func (b Builder) Build(ctx context.Context, p BuildParams) (*solana.Transaction, error) {
	atomic, err := b.Codec.ToAtomic(p.Amount, p.Symbol)
	if err != nil {
		return nil, err
	}
	mint, err := b.Registry.Mint(p.Symbol, b.Network)
	if err != nil {
		return nil, err
	}

	payerATA, _, err := solana.FindAssociatedTokenAddress(p.Payer, mint)
	if err != nil {
		return nil, fmt.Errorf("%w: payer token account: %v", ErrTransactionBuild, err)
	}
	recipientATA, _, err := solana.FindAssociatedTokenAddress(p.Recipient, mint)
	if err != nil {
		return nil, fmt.Errorf("%w: recipient token account: %v", ErrTransactionBuild, err)
	}

	instrs := make([]solana.Instruction, 0, len(p.Prepend)+3)
	instrs = append(instrs, p.Prepend...)

	// The create step must precede the transfer; a transfer into a
	// nonexistent account fails on chain.
	exists, err := b.Ledger.AccountExists(ctx, recipientATA)
	if err != nil {
		return nil, fmt.Errorf("%w: account lookup: %v", ErrTransactionBuild, err)
	}
	if !exists {
		instrs = append(instrs, ata.NewCreateInstruction(p.feePayer(), p.Recipient, mint).Build())
	}

	instrs = append(instrs, spltoken.NewTransferInstruction(atomic, payerATA, recipientATA, p.Payer, nil).Build())

	if p.Memo != "" {
		instrs = append(instrs, solana.NewInstruction(
			solana.MemoProgramID,
			solana.AccountMetaSlice{solana.NewAccountMeta(p.Payer, false, true)},
			[]byte(p.Memo),
		))
	}

	blockhash, err := b.Ledger.LatestBlockhash(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: blockhash: %v", ErrTransactionBuild, err)
	}
	tx, err := solana.NewTransaction(instrs, blockhash, solana.TransactionPayer(p.feePayer()))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransactionBuild, err)
	}
	return tx, nil
}

// CheckBalance verifies the owner holds at least amount of the token. Build
// itself does not enforce this; direct-payment callers run the pre-check to
// avoid broadcasting a transfer that will fail on chain.
func (b Builder) CheckBalance(ctx context.Context, owner solana.PublicKey, symbol string, amount decimal.Decimal) error {
	atomic, err := b.Codec.ToAtomic(amount, symbol)
	if err != nil {
		return err
	}
	mint, err := b.Registry.Mint(symbol, b.Network)
	if err != nil {
		return err
	}
	ownerATA, _, err := solana.FindAssociatedTokenAddress(owner, mint)
	if err != nil {
		return fmt.Errorf("%w: owner token account: %v", ErrTransactionBuild, err)
	}
	exists, err := b.Ledger.AccountExists(ctx, ownerATA)
	if err != nil {
		return fmt.Errorf("%w: account lookup: %v", ErrTransactionBuild, err)
	}
	if !exists {
		return fmt.Errorf("%w: %s", ErrAccountNotFound, ownerATA)
	}
	balance, err := b.Ledger.TokenAccountBalance(ctx, ownerATA)
	if err != nil {
		return fmt.Errorf("%w: balance lookup: %v", ErrTransactionBuild, err)
	}
	if balance < atomic {
		return fmt.Errorf("%w: have %d, need %d", ErrInsufficientBalance, balance, atomic)
	}
	return nil
}
