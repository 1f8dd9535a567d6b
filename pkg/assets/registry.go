package assets

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"

	"swapctl/pkg/parser"
	"swapctl/pkg/types"
)

// Well-known Solana mints
const (
	SOLMint  = "So11111111111111111111111111111111111111112"
	USDCMint = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"
	USDTMint = "Es9vMFrzaCERmJfrF4H2FYD4KCoNkY11McCe8BenwNYB"
)

// Builtin returns the assets known without configuration
func Builtin() []types.Asset {
	return []types.Asset{
		{Symbol: "SOL", Mint: SOLMint, Decimals: 9},
		{Symbol: "USDC", Mint: USDCMint, Decimals: 6},
		{Symbol: "USDT", Mint: USDTMint, Decimals: 6},
	}
}

// DecimalsLookup resolves the decimals of a mint that is not registered
type DecimalsLookup interface {
	MintDecimals(ctx context.Context, mint string) (uint8, error)
}

// Registry maps symbols and mints to assets
type Registry struct {
	mu       sync.RWMutex
	bySymbol map[string]types.Asset
	byMint   map[string]types.Asset
	lookup   DecimalsLookup
}

// NewRegistry creates a registry with the builtin assets plus extra. Extra
// assets replace builtin ones with the same symbol. lookup may be nil.
func NewRegistry(extra []types.Asset, lookup DecimalsLookup) (*Registry, error) {
	r := &Registry{
		bySymbol: make(map[string]types.Asset),
		byMint:   make(map[string]types.Asset),
		lookup:   lookup,
	}
	for _, a := range Builtin() {
		r.add(a)
	}
	for _, a := range extra {
		if err := validate(a); err != nil {
			return nil, err
		}
		r.remove(a)
		r.add(a)
	}
	return r, nil
}

func validate(a types.Asset) error {
	if strings.TrimSpace(a.Symbol) == "" {
		return fmt.Errorf("asset %s: symbol is required", a.Mint)
	}
	if _, err := solana.PublicKeyFromBase58(a.Mint); err != nil {
		return fmt.Errorf("asset %s: invalid mint %q: %w", a.Symbol, a.Mint, err)
	}
	return nil
}

// remove drops every asset sharing a's symbol or mint, so that both
// lookups resolve to the replacement
func (r *Registry) remove(a types.Asset) {
	symbol := parser.NormalizeTokenSymbol(a.Symbol)
	if prev, ok := r.bySymbol[symbol]; ok {
		delete(r.byMint, prev.Mint)
		delete(r.bySymbol, symbol)
	}
	if prev, ok := r.byMint[a.Mint]; ok {
		delete(r.bySymbol, prev.Symbol)
		delete(r.byMint, a.Mint)
	}
}

func (r *Registry) add(a types.Asset) {
	a.Symbol = parser.NormalizeTokenSymbol(a.Symbol)
	if a.Symbol != "" {
		r.bySymbol[a.Symbol] = a
	}
	r.byMint[a.Mint] = a
}

// Resolve finds an asset by symbol (case-insensitive) or by mint. Unknown
// mints are resolved through the decimals lookup and cached.
func (r *Registry) Resolve(ctx context.Context, ref string) (types.Asset, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return types.Asset{}, fmt.Errorf("asset is required")
	}

	r.mu.RLock()
	if a, ok := r.byMint[ref]; ok {
		r.mu.RUnlock()
		return a, nil
	}
	if a, ok := r.bySymbol[parser.NormalizeTokenSymbol(ref)]; ok {
		r.mu.RUnlock()
		return a, nil
	}
	r.mu.RUnlock()

	if _, err := solana.PublicKeyFromBase58(ref); err != nil {
		return types.Asset{}, fmt.Errorf("unknown asset %q", ref)
	}
	if r.lookup == nil {
		return types.Asset{}, fmt.Errorf("unknown mint %s and no ledger to look it up", ref)
	}

	decimals, err := r.lookup.MintDecimals(ctx, ref)
	if err != nil {
		return types.Asset{}, fmt.Errorf("failed to resolve mint %s: %w", ref, err)
	}

	a := types.Asset{Mint: ref, Decimals: decimals}
	r.mu.Lock()
	r.byMint[ref] = a
	r.mu.Unlock()
	return a, nil
}

// List returns the registered assets that have a symbol, sorted by symbol
func (r *Registry) List() []types.Asset {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]types.Asset, 0, len(r.bySymbol))
	for _, a := range r.bySymbol {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// ToSmallestUnit converts a reference amount (e.g. 1.5 SOL) into smallest
// units (1500000000 lamports)
func ToSmallestUnit(amount decimal.Decimal, decimals uint8) (uint64, error) {
	if !amount.IsPositive() {
		return 0, fmt.Errorf("amount must be greater than 0")
	}
	shifted := amount.Shift(int32(decimals))
	if !shifted.Equal(shifted.Truncate(0)) {
		return 0, fmt.Errorf("amount %s has more than %d decimal places", amount, decimals)
	}
	n := shifted.BigInt()
	if !n.IsUint64() {
		return 0, fmt.Errorf("amount %s is too large", amount)
	}
	return n.Uint64(), nil
}
