package ledger

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/gagliardetto/solana-go/rpc/jsonrpc"
	"go.uber.org/zap"

	"swapctl/pkg/types"
)

const (
	defaultPollInterval   = 2 * time.Second
	defaultRequestTimeout = 10 * time.Second
)

// JSON-RPC error codes that mean the node refused the transaction itself.
// Anything else (node behind, internal error, provider rate limits) is transient.
var rejectionCodes = map[int]bool{
	-32002: true, // preflight simulation failed
	-32003: true, // signature verification failed
	-32013: true, // signature count mismatch
	-32015: true, // unsupported transaction version
	-32602: true, // invalid params
}

// Config holds the Solana RPC settings
type Config struct {
	RPCURL        string
	Commitment    string
	SkipPreflight bool
	PollInterval  time.Duration

	// RequestTimeout bounds every single RPC call
	RequestTimeout time.Duration
}

// Solana submits signed transactions to a Solana RPC node and observes them
type Solana struct {
	logger         *zap.Logger
	client         *rpc.Client
	commitment     rpc.CommitmentType
	skipPreflight  bool
	pollInterval   time.Duration
	requestTimeout time.Duration
}

// NewSolana connects to the configured RPC node
func NewSolana(logger *zap.Logger, cfg Config) (*Solana, error) {
	if cfg.RPCURL == "" {
		return nil, fmt.Errorf("RPC URL not configured for Solana")
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}

	return &Solana{
		logger:         logger,
		client:         rpc.New(cfg.RPCURL),
		commitment:     commitment(cfg.Commitment),
		skipPreflight:  cfg.SkipPreflight,
		pollInterval:   cfg.PollInterval,
		requestTimeout: cfg.RequestTimeout,
	}, nil
}

// call derives the context for one RPC call
func (s *Solana) call(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.requestTimeout)
}

// rejection reports whether err is the node refusing the transaction
func rejection(err error) (*jsonrpc.RPCError, bool) {
	var rpcErr *jsonrpc.RPCError
	if errors.As(err, &rpcErr) && rejectionCodes[rpcErr.Code] {
		return rpcErr, true
	}
	return nil, false
}

// Submit sends a signed wire transaction. Errors wrapping types.ErrRejected
// mean the node refused the transaction; anything else may be retried.
func (s *Solana) Submit(ctx context.Context, signed []byte) (string, error) {
	tx, err := solana.TransactionFromDecoder(bin.NewBinDecoder(signed))
	if err != nil {
		return "", fmt.Errorf("%w: decode signed transaction: %v", types.ErrRejected, err)
	}

	cctx, cancel := s.call(ctx)
	defer cancel()
	sig, err := s.client.SendTransactionWithOpts(cctx, tx, rpc.TransactionOpts{
		SkipPreflight:       s.skipPreflight,
		PreflightCommitment: s.commitment,
	})
	if err != nil {
		if rpcErr, ok := rejection(err); ok {
			return "", fmt.Errorf("%w: %s (code %d)", types.ErrRejected, rpcErr.Message, rpcErr.Code)
		}
		return "", fmt.Errorf("failed to send transaction: %w", err)
	}

	s.logger.Info("ledger.submitted", zap.String("signature", sig.String()))
	return sig.String(), nil
}

// Status looks up a transaction once
func (s *Solana) Status(ctx context.Context, reference string) (types.Confirmation, error) {
	out := types.Confirmation{Reference: reference, Status: types.ConfirmationUnknown}

	sig, err := solana.SignatureFromBase58(reference)
	if err != nil {
		return out, fmt.Errorf("invalid transaction signature: %w", err)
	}

	cctx, cancel := s.call(ctx)
	defer cancel()
	res, err := s.client.GetSignatureStatuses(cctx, true, sig)
	if err != nil {
		if errors.Is(err, rpc.ErrNotFound) {
			return out, nil
		}
		return out, fmt.Errorf("failed to get signature status: %w", err)
	}
	if len(res.Value) == 0 || res.Value[0] == nil {
		return out, nil
	}

	st := res.Value[0]
	out.Slot = st.Slot
	switch {
	case st.Err != nil:
		out.Status = types.ConfirmationFailed
		out.Error = fmt.Sprint(st.Err)
	case st.ConfirmationStatus == rpc.ConfirmationStatusFinalized:
		out.Status = types.ConfirmationFinalized
	case st.ConfirmationStatus == rpc.ConfirmationStatusConfirmed:
		out.Status = types.ConfirmationConfirmed
	}
	return out, nil
}

// settled reports whether polling can stop at c
func (s *Solana) settled(c types.Confirmation) bool {
	switch c.Status {
	case types.ConfirmationFailed, types.ConfirmationFinalized:
		return true
	case types.ConfirmationConfirmed:
		return s.commitment != rpc.CommitmentFinalized
	}
	return false
}

// PollConfirmation polls the transaction status until it settles or timeout
// elapses, in-flight calls included. Running out of time is not an error: the
// last observation is returned with a nil error. Cancellation of ctx returns
// ctx.Err().
func (s *Solana) PollConfirmation(ctx context.Context, reference string, timeout time.Duration) (types.Confirmation, error) {
	last := types.Confirmation{Reference: reference, Status: types.ConfirmationUnknown}
	if _, err := solana.SignatureFromBase58(reference); err != nil {
		return last, fmt.Errorf("invalid transaction signature: %w", err)
	}

	wctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		c, err := s.Status(wctx, reference)
		switch {
		case err == nil:
			last = c
			if s.settled(c) {
				return c, nil
			}
		case ctx.Err() != nil:
			return last, ctx.Err()
		case wctx.Err() != nil:
			return last, nil
		default:
			s.logger.Debug("ledger.status_failed", zap.String("signature", reference), zap.Error(err))
		}

		select {
		case <-wctx.Done():
			if err := ctx.Err(); err != nil {
				return last, err
			}
			return last, nil
		case <-ticker.C:
		}
	}
}

// ObserveOutput returns how much of mint the owner received in the transaction
func (s *Solana) ObserveOutput(ctx context.Context, reference, owner, mint string) (uint64, error) {
	sig, err := solana.SignatureFromBase58(reference)
	if err != nil {
		return 0, fmt.Errorf("invalid transaction signature: %w", err)
	}
	ownerKey, err := solana.PublicKeyFromBase58(owner)
	if err != nil {
		return 0, fmt.Errorf("invalid owner address: %w", err)
	}
	mintKey, err := solana.PublicKeyFromBase58(mint)
	if err != nil {
		return 0, fmt.Errorf("invalid mint address: %w", err)
	}

	cctx, cancel := s.call(ctx)
	defer cancel()
	maxVersion := uint64(0)
	res, err := s.client.GetTransaction(cctx, sig, &rpc.GetTransactionOpts{
		Encoding:                       solana.EncodingBase64,
		Commitment:                     rpc.CommitmentConfirmed,
		MaxSupportedTransactionVersion: &maxVersion,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to get transaction: %w", err)
	}
	if res.Meta == nil || res.Transaction == nil {
		return 0, fmt.Errorf("transaction %s has no metadata", reference)
	}

	tx, err := res.Transaction.GetTransaction()
	if err != nil {
		return 0, fmt.Errorf("failed to decode transaction: %w", err)
	}
	return outputDelta(res.Meta, tx.Message.AccountKeys, ownerKey, mintKey)
}

// outputDelta computes the owner's balance increase of mint from transaction
// metadata. Native SOL that was unwrapped lands as lamports, so for the SOL
// mint the lamport delta of the owner (fee added back for the payer) is used
// when no wrapped balance changed.
func outputDelta(meta *rpc.TransactionMeta, accountKeys solana.PublicKeySlice, owner, mint solana.PublicKey) (uint64, error) {
	pre, preFound, err := sumTokenBalances(meta.PreTokenBalances, owner, mint)
	if err != nil {
		return 0, err
	}
	post, postFound, err := sumTokenBalances(meta.PostTokenBalances, owner, mint)
	if err != nil {
		return 0, err
	}
	if (preFound || postFound) && post > pre {
		return post - pre, nil
	}

	if !mint.Equals(solana.SolMint) {
		if !preFound && !postFound {
			return 0, fmt.Errorf("no %s balance for %s in transaction", mint, owner)
		}
		return 0, fmt.Errorf("balance of %s did not increase", mint)
	}

	idx := -1
	for i, key := range accountKeys {
		if key.Equals(owner) {
			idx = i
			break
		}
	}
	if idx < 0 || idx >= len(meta.PreBalances) || idx >= len(meta.PostBalances) {
		return 0, fmt.Errorf("owner %s not found in transaction accounts", owner)
	}

	gained := int64(meta.PostBalances[idx]) - int64(meta.PreBalances[idx])
	if idx == 0 {
		gained += int64(meta.Fee)
	}
	if gained <= 0 {
		return 0, fmt.Errorf("lamport balance of %s did not increase", owner)
	}
	return uint64(gained), nil
}

func sumTokenBalances(balances []rpc.TokenBalance, owner, mint solana.PublicKey) (uint64, bool, error) {
	var total uint64
	found := false
	for _, b := range balances {
		if b.Owner == nil || !b.Owner.Equals(owner) || !b.Mint.Equals(mint) || b.UiTokenAmount == nil {
			continue
		}
		amount, err := strconv.ParseUint(b.UiTokenAmount.Amount, 10, 64)
		if err != nil {
			return 0, false, fmt.Errorf("failed to parse token balance: %w", err)
		}
		total += amount
		found = true
	}
	return total, found, nil
}

// Balance returns the owner's balance of mint in smallest units. The SOL
// mint reads the native lamport balance.
func (s *Solana) Balance(ctx context.Context, owner, mint string) (uint64, error) {
	ownerKey, err := solana.PublicKeyFromBase58(owner)
	if err != nil {
		return 0, fmt.Errorf("invalid owner address: %w", err)
	}
	mintKey, err := solana.PublicKeyFromBase58(mint)
	if err != nil {
		return 0, fmt.Errorf("invalid mint address: %w", err)
	}

	cctx, cancel := s.call(ctx)
	defer cancel()
	if mintKey.Equals(solana.SolMint) {
		balance, err := s.client.GetBalance(cctx, ownerKey, s.commitment)
		if err != nil {
			return 0, fmt.Errorf("failed to get balance: %w", err)
		}
		return balance.Value, nil
	}

	account, _, err := solana.FindAssociatedTokenAddress(ownerKey, mintKey)
	if err != nil {
		return 0, fmt.Errorf("failed to derive associated token address: %w", err)
	}
	accountInfo, err := s.client.GetTokenAccountBalance(cctx, account, s.commitment)
	if err != nil {
		if strings.Contains(err.Error(), "could not find account") {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to get token balance: %w", err)
	}
	amount, err := strconv.ParseUint(accountInfo.Value.Amount, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse token balance: %w", err)
	}
	return amount, nil
}

// MintDecimals reads the decimals field of an SPL mint account
func (s *Solana) MintDecimals(ctx context.Context, mint string) (uint8, error) {
	mintKey, err := solana.PublicKeyFromBase58(mint)
	if err != nil {
		return 0, fmt.Errorf("invalid mint address: %w", err)
	}

	cctx, cancel := s.call(ctx)
	defer cancel()
	accountInfo, err := s.client.GetAccountInfo(cctx, mintKey)
	if err != nil {
		return 0, fmt.Errorf("failed to get mint account info: %w", err)
	}
	if accountInfo.Value == nil {
		return 0, fmt.Errorf("mint account not found")
	}

	return mintDecimals(accountInfo.Value.Data.GetBinary())
}

// mintDecimals extracts decimals from raw SPL mint data (byte offset 44)
func mintDecimals(data []byte) (uint8, error) {
	if len(data) < 45 {
		return 0, fmt.Errorf("invalid mint account data")
	}
	return data[44], nil
}

// TransactionInfo summarizes a landed transaction
type TransactionInfo struct {
	Signature string     `json:"signature"`
	Slot      uint64     `json:"slot"`
	Fee       uint64     `json:"fee"`
	Error     string     `json:"error,omitempty"`
	BlockTime *time.Time `json:"block_time,omitempty"`
}

// TransactionInfo fetches slot, fee and block time of a transaction
func (s *Solana) TransactionInfo(ctx context.Context, reference string) (*TransactionInfo, error) {
	sig, err := solana.SignatureFromBase58(reference)
	if err != nil {
		return nil, fmt.Errorf("invalid transaction signature: %w", err)
	}

	cctx, cancel := s.call(ctx)
	defer cancel()
	maxVersion := uint64(0)
	txInfo, err := s.client.GetTransaction(cctx, sig, &rpc.GetTransactionOpts{
		Encoding:                       solana.EncodingBase64,
		Commitment:                     rpc.CommitmentConfirmed,
		MaxSupportedTransactionVersion: &maxVersion,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}

	info := &TransactionInfo{Signature: reference, Slot: txInfo.Slot}
	if txInfo.Meta != nil {
		info.Fee = txInfo.Meta.Fee
		if txInfo.Meta.Err != nil {
			info.Error = fmt.Sprint(txInfo.Meta.Err)
		}
	}
	if txInfo.BlockTime != nil {
		t := txInfo.BlockTime.Time()
		info.BlockTime = &t
	}
	return info, nil
}

// Close releases the RPC client
func (s *Solana) Close() error {
	return s.client.Close()
}

// commitment maps a configured commitment name to the RPC type
func commitment(name string) rpc.CommitmentType {
	switch strings.ToLower(name) {
	case "finalized":
		return rpc.CommitmentFinalized
	case "confirmed":
		return rpc.CommitmentConfirmed
	case "processed":
		return rpc.CommitmentProcessed
	default:
		return rpc.CommitmentConfirmed
	}
}
