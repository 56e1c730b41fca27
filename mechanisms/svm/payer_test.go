package svm_test

import (
	"context"
	"errors"
	"testing"
	"time"

	solana "github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	x402 "github.com/402nodo/nodo-x402-Solana"
	"github.com/402nodo/nodo-x402-Solana/mechanisms/svm"
	signersvm "github.com/402nodo/nodo-x402-Solana/signers/svm"
	"github.com/402nodo/nodo-x402-Solana/test/mocks/ledger"
)

type fixture struct {
	ledger    *ledger.Ledger
	payer     *svm.TransferPayer
	owner     solana.PublicKey
	recipient solana.PublicKey
	mint      solana.PublicKey
}

func newFixture(t *testing.T, funded uint64) *fixture {
	t.Helper()

	privateKey, err := solana.NewRandomPrivateKey()
	require.NoError(t, err)
	signer, err := signersvm.NewClientSignerFromPrivateKey(privateKey)
	require.NoError(t, err)

	mint := solana.MustPublicKeyFromBase58(svm.USDCDevnetAddress)
	recipient := solana.NewWallet().PublicKey()

	l := ledger.New()
	l.AddMint(mint, svm.USDCDecimals)
	l.Fund(signer.Address(), mint, funded)
	l.Fund(recipient, mint, 0)

	payer, err := svm.NewTransferPayer(svm.PayerConfig{
		Signer:              signer,
		Ledger:              l,
		Network:             svm.SolanaDevnetCAIP2,
		ConfirmationTimeout: time.Second,
		PollInterval:        time.Millisecond,
	})
	require.NoError(t, err)

	return &fixture{
		ledger:    l,
		payer:     payer,
		owner:     signer.Address(),
		recipient: recipient,
		mint:      mint,
	}
}

func (f *fixture) requirement(amount string) x402.PaymentRequirement {
	return x402.PaymentRequirement{
		Amount:    decimal.RequireFromString(amount),
		Recipient: f.recipient.String(),
		Memo:      "nodo:quote-1",
		Asset:     f.mint.String(),
		Network:   svm.SolanaDevnetCAIP2,
		Decimals:  svm.USDCDecimals,
	}
}

func TestNewTransferPayer(t *testing.T) {
	_, err := svm.NewTransferPayer(svm.PayerConfig{})
	assert.Error(t, err)

	f := newFixture(t, 0)
	assert.Equal(t, x402.Network(svm.SolanaDevnetCAIP2), f.payer.Network())
	assert.Equal(t, svm.USDCDevnetAddress, f.payer.Mint().String())
	assert.Equal(t, f.owner, f.payer.Address())
}

func TestTransferPayerPay(t *testing.T) {
	f := newFixture(t, 1_000_000)
	f.ledger.ConfirmAfter = 2

	proof, err := f.payer.Pay(context.Background(), f.requirement("0.05"))
	require.NoError(t, err)
	assert.NotEmpty(t, proof.Signature)

	assert.Equal(t, uint64(950_000), f.ledger.BalanceOf(f.owner, f.mint))
	assert.Equal(t, uint64(50_000), f.ledger.BalanceOf(f.recipient, f.mint))

	submitted := f.ledger.Submitted()
	require.Len(t, submitted, 1)
	tx := submitted[0]
	assert.Equal(t, proof.Signature, tx.Signatures[0].String())

	memo, ok := svm.FindMemo(tx)
	assert.True(t, ok)
	assert.Equal(t, "nodo:quote-1", memo)

	transfer, err := svm.FindTransferChecked(tx)
	require.NoError(t, err)
	assert.Equal(t, uint64(50_000), transfer.Amount)
	assert.Equal(t, svm.USDCDecimals, transfer.Decimals)
	assert.True(t, transfer.Owner.Equals(f.owner))
}

func TestTransferPayerWithoutMemo(t *testing.T) {
	f := newFixture(t, 1_000_000)

	req := f.requirement("0.01")
	req.Memo = ""
	_, err := f.payer.Pay(context.Background(), req)
	require.NoError(t, err)

	_, ok := svm.FindMemo(f.ledger.Submitted()[0])
	assert.False(t, ok)
}

func TestTransferPayerInsufficientFunds(t *testing.T) {
	f := newFixture(t, 10_000)

	_, err := f.payer.Pay(context.Background(), f.requirement("0.05"))
	assert.ErrorIs(t, err, x402.ErrInsufficientFunds)
	assert.Empty(t, f.ledger.Submitted())
}

func TestTransferPayerNoSourceAccount(t *testing.T) {
	f := newFixture(t, 0)
	other, err := svm.NewTransferPayer(svm.PayerConfig{
		Signer:  mustSigner(t),
		Ledger:  f.ledger,
		Network: svm.SolanaDevnetCAIP2,
	})
	require.NoError(t, err)

	_, err = other.Pay(context.Background(), f.requirement("0.05"))
	assert.ErrorIs(t, err, x402.ErrInsufficientFunds)
}

func TestTransferPayerRejectsRequirement(t *testing.T) {
	f := newFixture(t, 1_000_000)

	tests := []struct {
		name   string
		mutate func(*x402.PaymentRequirement)
		want   error
	}{
		{"zero amount", func(r *x402.PaymentRequirement) { r.Amount = decimal.Zero }, x402.ErrInvalidRequirement},
		{"negative amount", func(r *x402.PaymentRequirement) { r.Amount = decimal.RequireFromString("-1") }, x402.ErrInvalidRequirement},
		{"dust amount", func(r *x402.PaymentRequirement) { r.Amount = decimal.RequireFromString("0.0000001") }, x402.ErrInvalidRequirement},
		{"other mint", func(r *x402.PaymentRequirement) { r.Asset = svm.USDCMainnetAddress }, x402.ErrInvalidRequirement},
		{"bad recipient", func(r *x402.PaymentRequirement) { r.Recipient = "not-a-key" }, x402.ErrInvalidRequirement},
		{"recipient without token account", func(r *x402.PaymentRequirement) { r.Recipient = solana.NewWallet().PublicKey().String() }, x402.ErrInvalidRequirement},
		{"other network", func(r *x402.PaymentRequirement) { r.Network = "eip155:8453" }, x402.ErrUnsupportedNetwork},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := f.requirement("0.05")
			tt.mutate(&req)
			_, err := f.payer.Pay(context.Background(), req)
			assert.ErrorIs(t, err, tt.want)
		})
	}
	assert.Empty(t, f.ledger.Submitted())
}

func TestTransferPayerSubmissionFailed(t *testing.T) {
	f := newFixture(t, 1_000_000)
	f.ledger.SubmitError = errors.New("connection refused")

	_, err := f.payer.Pay(context.Background(), f.requirement("0.05"))
	assert.ErrorIs(t, err, x402.ErrSubmissionFailed)
	assert.Equal(t, uint64(1_000_000), f.ledger.BalanceOf(f.owner, f.mint))
}

func TestTransferPayerConfirmationTimeout(t *testing.T) {
	f := newFixture(t, 1_000_000)
	f.ledger.NeverConfirm = true

	payer, err := svm.NewTransferPayer(svm.PayerConfig{
		Signer:              mustSignerFor(t, f),
		Ledger:              f.ledger,
		Network:             svm.SolanaDevnetCAIP2,
		ConfirmationTimeout: 50 * time.Millisecond,
		PollInterval:        5 * time.Millisecond,
	})
	require.NoError(t, err)

	start := time.Now()
	_, err = payer.Pay(context.Background(), f.requirement("0.05"))
	assert.ErrorIs(t, err, x402.ErrConfirmationTimeout)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestTransferPayerTransactionFailed(t *testing.T) {
	f := newFixture(t, 1_000_000)
	f.ledger.OnChainError = map[string]interface{}{"InstructionError": []interface{}{2, "Custom"}}

	_, err := f.payer.Pay(context.Background(), f.requirement("0.05"))
	assert.ErrorIs(t, err, x402.ErrTransactionFailed)
	assert.Equal(t, uint64(0), f.ledger.BalanceOf(f.recipient, f.mint))
}

func TestTransferPayerHonoursContext(t *testing.T) {
	f := newFixture(t, 1_000_000)
	f.ledger.NeverConfirm = true

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := f.payer.Pay(ctx, f.requirement("0.05"))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestTransferPayerThroughRegistry(t *testing.T) {
	f := newFixture(t, 1_000_000)

	registry := x402.NewPayerRegistry().Register("solana:*", f.payer)
	_, err := registry.Pay(context.Background(), f.requirement("0.05"))
	require.NoError(t, err)

	req := f.requirement("0.05")
	req.Network = "eip155:8453"
	_, err = registry.Pay(context.Background(), req)
	assert.ErrorIs(t, err, x402.ErrUnsupportedNetwork)
}

func mustSigner(t *testing.T) svm.ClientSvmSigner {
	t.Helper()
	privateKey, err := solana.NewRandomPrivateKey()
	require.NoError(t, err)
	signer, err := signersvm.NewClientSignerFromPrivateKey(privateKey)
	require.NoError(t, err)
	return signer
}

// mustSignerFor funds a fresh signer on the fixture ledger
func mustSignerFor(t *testing.T, f *fixture) svm.ClientSvmSigner {
	t.Helper()
	signer := mustSigner(t)
	f.ledger.Fund(signer.Address(), f.mint, 1_000_000)
	return signer
}
