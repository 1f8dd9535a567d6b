package ledger

import (
	"context"
	"fmt"
	"strings"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
)

// LocalSigner signs swap transactions with a key held in memory
type LocalSigner struct {
	privateKey solana.PrivateKey
	publicKey  solana.PublicKey
}

// NewLocalSigner parses a base58 encoded private key
func NewLocalSigner(privateKey string) (*LocalSigner, error) {
	privateKey = strings.TrimSpace(privateKey)
	if privateKey == "" {
		return nil, fmt.Errorf("private key not configured")
	}

	key, err := solana.PrivateKeyFromBase58(privateKey)
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}

	return &LocalSigner{
		privateKey: key,
		publicKey:  key.PublicKey(),
	}, nil
}

// Identity returns the wallet address the signer signs for
func (s *LocalSigner) Identity() string {
	return s.publicKey.String()
}

// PublicKey returns the wallet public key
func (s *LocalSigner) PublicKey() solana.PublicKey {
	return s.publicKey
}

// Sign decodes an unsigned wire transaction, signs it and re-encodes it
func (s *LocalSigner) Sign(ctx context.Context, payload []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	tx, err := solana.TransactionFromDecoder(bin.NewBinDecoder(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to decode transaction: %w", err)
	}
	if !tx.IsSigner(s.publicKey) {
		return nil, fmt.Errorf("transaction does not require a signature from %s", s.publicKey)
	}

	_, err = tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(s.publicKey) {
			return &s.privateKey
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to sign transaction: %w", err)
	}

	signed, err := tx.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("failed to encode signed transaction: %w", err)
	}
	return signed, nil
}
