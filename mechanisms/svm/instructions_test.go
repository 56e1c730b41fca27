package svm

import (
	"testing"

	solana "github.com/gagliardetto/solana-go"
	computebudget "github.com/gagliardetto/solana-go/programs/compute-budget"
	"github.com/gagliardetto/solana-go/programs/token"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildTransferTx(t *testing.T, memo string) (*solana.Transaction, solana.PublicKey, solana.PublicKey, solana.PublicKey) {
	t.Helper()

	owner := solana.NewWallet().PublicKey()
	recipient := solana.NewWallet().PublicKey()
	mint := solana.MustPublicKeyFromBase58(USDCDevnetAddress)

	source, _, err := solana.FindAssociatedTokenAddress(owner, mint)
	require.NoError(t, err)
	destination, _, err := solana.FindAssociatedTokenAddress(recipient, mint)
	require.NoError(t, err)

	cuLimit, err := computebudget.NewSetComputeUnitLimitInstructionBuilder().SetUnits(DefaultComputeUnitLimit).ValidateAndBuild()
	require.NoError(t, err)

	transferIx, err := token.NewTransferCheckedInstructionBuilder().
		SetAmount(50000).
		SetDecimals(6).
		SetSourceAccount(source).
		SetMintAccount(mint).
		SetDestinationAccount(destination).
		SetOwnerAccount(owner).
		ValidateAndBuild()
	require.NoError(t, err)

	builder := solana.NewTransactionBuilder().AddInstruction(cuLimit)
	if memo != "" {
		builder = builder.AddInstruction(NewMemoInstruction(memo, owner))
	}
	tx, err := builder.
		AddInstruction(transferIx).
		SetRecentBlockHash(solana.Hash{1}).
		SetFeePayer(owner).
		Build()
	require.NoError(t, err)

	return tx, owner, destination, mint
}

func TestFindTransferChecked(t *testing.T) {
	tx, owner, destination, mint := buildTransferTx(t, "nodo:abc")

	transfer, err := FindTransferChecked(tx)
	require.NoError(t, err)

	assert.Equal(t, uint64(50000), transfer.Amount)
	assert.Equal(t, uint8(6), transfer.Decimals)
	assert.True(t, transfer.Owner.Equals(owner))
	assert.True(t, transfer.Mint.Equals(mint))
	assert.True(t, transfer.Destination.Equals(destination))
	assert.True(t, tx.Message.AccountKeys[transfer.DestinationIndex].Equals(destination))
}

func TestFindTransferCheckedMissing(t *testing.T) {
	owner := solana.NewWallet().PublicKey()
	tx, err := solana.NewTransactionBuilder().
		AddInstruction(NewMemoInstruction("hello", owner)).
		SetRecentBlockHash(solana.Hash{1}).
		SetFeePayer(owner).
		Build()
	require.NoError(t, err)

	_, err = FindTransferChecked(tx)
	assert.ErrorIs(t, err, ErrNoTransferInstruction)
}

func TestFindMemo(t *testing.T) {
	tx, _, _, _ := buildTransferTx(t, "nodo:abc")
	memo, ok := FindMemo(tx)
	assert.True(t, ok)
	assert.Equal(t, "nodo:abc", memo)

	tx, _, _, _ = buildTransferTx(t, "")
	_, ok = FindMemo(tx)
	assert.False(t, ok)
}

func TestDecodeTransferCheckedData(t *testing.T) {
	amount, decimals, err := DecodeTransferCheckedData([]byte{12, 0x50, 0xc3, 0, 0, 0, 0, 0, 0, 6})
	require.NoError(t, err)
	assert.Equal(t, uint64(50000), amount)
	assert.Equal(t, uint8(6), decimals)

	_, _, err = DecodeTransferCheckedData([]byte{12, 1, 2})
	assert.Error(t, err)

	_, _, err = DecodeTransferCheckedData([]byte{3, 0x50, 0xc3, 0, 0, 0, 0, 0, 0, 6})
	assert.Error(t, err)
}
