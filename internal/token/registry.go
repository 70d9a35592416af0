package token

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/gagliardetto/solana-go"
)

// Network identifies a Solana cluster.
type Network string

const (
	NetworkDevnet  Network = "devnet"
	NetworkMainnet Network = "mainnet-beta"
)

var (
	// ErrUnknownToken is returned when a symbol is not registered.
	ErrUnknownToken = errors.New("token: unknown symbol")
	// ErrUnsupportedNetwork is returned when a token has no mint on the requested network.
	ErrUnsupportedNetwork = errors.New("token: no mint on network")
)

// Token describes a supported stablecoin: its mint per network and decimal precision.
type Token struct {
	Symbol   string
	Decimals int32
	Mints    map[Network]solana.PublicKey
}

// Registry maps token symbols to mint addresses and decimals.
type Registry struct {
	tokens map[string]Token
}

// NewRegistry returns a registry seeded with the default supported tokens.
func NewRegistry() *Registry {
	return &Registry{tokens: map[string]Token{
		"USDC": {
			Symbol:   "USDC",
			Decimals: 6,
			Mints: map[Network]solana.PublicKey{
				NetworkDevnet:  solana.MustPublicKeyFromBase58("4zMMC9srt5Ri5X14GAgXhaHii3GnPAEERYPJgZJDncDU"),
				NetworkMainnet: solana.MustPublicKeyFromBase58("EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"),
			},
		},
		"USDT": {
			Symbol:   "USDT",
			Decimals: 6,
			Mints: map[Network]solana.PublicKey{
				NetworkMainnet: solana.MustPublicKeyFromBase58("Es9vMFrzaCERmJfrF4H2FYD4KCoNkY11McCe8BenwNYB"),
			},
		},
		"PYUSD": {
			Symbol:   "PYUSD",
			Decimals: 6,
			Mints: map[Network]solana.PublicKey{
				NetworkMainnet: solana.MustPublicKeyFromBase58("2b1kV6DkPAnxd5ixfnxCpjxmKwqjjaYmCZfHsFu24GXo"),
			},
		},
	}}
}

// Lookup returns the token registered under symbol.
func (r *Registry) Lookup(symbol string) (Token, error) {
	tok, ok := r.tokens[strings.ToUpper(strings.TrimSpace(symbol))]
	if !ok {
		return Token{}, fmt.Errorf("%w: %s", ErrUnknownToken, symbol)
	}
	return tok, nil
}

// Mint resolves the mint address for symbol on the given network.
func (r *Registry) Mint(symbol string, network Network) (solana.PublicKey, error) {
	tok, err := r.Lookup(symbol)
	if err != nil {
		return solana.PublicKey{}, err
	}
	mint, ok := tok.Mints[network]
	if !ok {
		return solana.PublicKey{}, fmt.Errorf("%w: %s on %s", ErrUnsupportedNetwork, tok.Symbol, network)
	}
	return mint, nil
}

// Symbols lists registered token symbols in stable order.
func (r *Registry) Symbols() []string {
	out := make([]string, 0, len(r.tokens))
	for sym := range r.tokens {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}
