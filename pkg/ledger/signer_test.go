package ledger

import (
	"context"
	"testing"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// unsignedTransfer builds an unsigned wire transaction paid by payer
func unsignedTransfer(t *testing.T, payer solana.PublicKey) []byte {
	t.Helper()
	to := solana.NewWallet().PublicKey()
	tx, err := solana.NewTransaction(
		[]solana.Instruction{system.NewTransferInstruction(1000, payer, to).Build()},
		solana.Hash{1, 2, 3},
		solana.TransactionPayer(payer),
	)
	require.NoError(t, err)
	raw, err := tx.MarshalBinary()
	require.NoError(t, err)
	return raw
}

func newTestSigner(t *testing.T) *LocalSigner {
	t.Helper()
	key, err := solana.NewRandomPrivateKey()
	require.NoError(t, err)
	s, err := NewLocalSigner(key.String())
	require.NoError(t, err)
	return s
}

func TestNewLocalSigner(t *testing.T) {
	_, err := NewLocalSigner("")
	require.Error(t, err)

	_, err = NewLocalSigner("not-a-key")
	require.Error(t, err)

	key, err := solana.NewRandomPrivateKey()
	require.NoError(t, err)
	s, err := NewLocalSigner("  " + key.String() + "\n")
	require.NoError(t, err)
	assert.Equal(t, key.PublicKey().String(), s.Identity())
	assert.Equal(t, key.PublicKey(), s.PublicKey())
}

func TestLocalSigner_Sign(t *testing.T) {
	s := newTestSigner(t)

	signed, err := s.Sign(context.Background(), unsignedTransfer(t, s.PublicKey()))
	require.NoError(t, err)

	tx, err := solana.TransactionFromDecoder(bin.NewBinDecoder(signed))
	require.NoError(t, err)
	require.Len(t, tx.Signatures, 1)
	assert.False(t, tx.Signatures[0].IsZero())
	require.NoError(t, tx.VerifySignatures())
}

func TestLocalSigner_WrongWallet(t *testing.T) {
	s := newTestSigner(t)
	other := solana.NewWallet().PublicKey()

	_, err := s.Sign(context.Background(), unsignedTransfer(t, other))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not require a signature")
}

func TestLocalSigner_Garbage(t *testing.T) {
	s := newTestSigner(t)
	_, err := s.Sign(context.Background(), []byte{0xff})
	require.Error(t, err)
}

func TestLocalSigner_Canceled(t *testing.T) {
	s := newTestSigner(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Sign(ctx, unsignedTransfer(t, s.PublicKey()))
	assert.ErrorIs(t, err, context.Canceled)
}
