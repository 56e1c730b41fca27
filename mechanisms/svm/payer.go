package svm

import (
	"context"
	"errors"
	"fmt"
	"time"

	solana "github.com/gagliardetto/solana-go"
	computebudget "github.com/gagliardetto/solana-go/programs/compute-budget"
	"github.com/gagliardetto/solana-go/programs/token"
	"go.uber.org/zap"

	x402 "github.com/402nodo/nodo-x402-Solana"
)

// PayerConfig configures a TransferPayer
type PayerConfig struct {
	// Signer owns the source token account and pays fees (required)
	Signer ClientSvmSigner
	// Ledger submits and confirms transactions (required)
	Ledger Ledger
	// Network the payer settles on (optional, defaults to mainnet)
	Network x402.Network
	// Mint is the settlement asset (optional, defaults to the network's USDC)
	Mint string

	ComputeUnitLimit    uint32
	ComputeUnitPrice    uint64
	ConfirmationTimeout time.Duration
	PollInterval        time.Duration

	Logger *zap.Logger
}

// TransferPayer settles payment requirements with an SPL TransferChecked
// carrying the requirement memo, and waits for confirmation
type TransferPayer struct {
	signer  ClientSvmSigner
	ledger  Ledger
	network x402.Network
	mint    solana.PublicKey

	computeUnitLimit    uint32
	computeUnitPrice    uint64
	confirmationTimeout time.Duration
	pollInterval        time.Duration

	logger *zap.Logger
}

var _ x402.Payer = (*TransferPayer)(nil)

// NewTransferPayer creates a payer from config
func NewTransferPayer(config PayerConfig) (*TransferPayer, error) {
	if config.Signer == nil {
		return nil, fmt.Errorf("signer is required")
	}
	if config.Ledger == nil {
		return nil, fmt.Errorf("ledger is required")
	}

	network := config.Network
	if network == "" {
		network = SolanaMainnetCAIP2
	}
	networkConfig, err := GetNetworkConfig(string(network))
	if err != nil {
		return nil, err
	}

	mintAddress := config.Mint
	if mintAddress == "" {
		mintAddress = networkConfig.DefaultAsset.Address
	}
	mint, err := solana.PublicKeyFromBase58(mintAddress)
	if err != nil {
		return nil, fmt.Errorf("invalid mint address: %w", err)
	}

	p := &TransferPayer{
		signer:              config.Signer,
		ledger:              config.Ledger,
		network:             x402.Network(networkConfig.CAIP2),
		mint:                mint,
		computeUnitLimit:    config.ComputeUnitLimit,
		computeUnitPrice:    config.ComputeUnitPrice,
		confirmationTimeout: config.ConfirmationTimeout,
		pollInterval:        config.PollInterval,
		logger:              config.Logger,
	}
	if p.computeUnitLimit == 0 {
		p.computeUnitLimit = DefaultComputeUnitLimit
	}
	if p.computeUnitPrice == 0 {
		p.computeUnitPrice = DefaultComputeUnitPrice
	}
	if p.confirmationTimeout == 0 {
		p.confirmationTimeout = DefaultConfirmationTimeout
	}
	if p.pollInterval == 0 {
		p.pollInterval = DefaultPollInterval
	}
	if p.logger == nil {
		p.logger = zap.NewNop()
	}
	return p, nil
}

// Network returns the CAIP-2 network the payer settles on
func (p *TransferPayer) Network() x402.Network {
	return p.network
}

// Mint returns the settlement asset
func (p *TransferPayer) Mint() solana.PublicKey {
	return p.mint
}

// Address returns the paying wallet
func (p *TransferPayer) Address() solana.PublicKey {
	return p.signer.Address()
}

// Pay implements x402.Payer
func (p *TransferPayer) Pay(ctx context.Context, requirement x402.PaymentRequirement) (x402.PaymentProof, error) {
	if err := requirement.Validate(); err != nil {
		return x402.PaymentProof{}, err
	}
	if requirement.Network != "" && !requirement.Network.Match(p.network) {
		return x402.PaymentProof{}, fmt.Errorf("%w: payer settles on %s, requirement is for %s",
			x402.ErrUnsupportedNetwork, p.network, requirement.Network)
	}
	if requirement.Asset != p.mint.String() {
		return x402.PaymentProof{}, fmt.Errorf("%w: asset %s is not the settlement mint %s",
			x402.ErrInvalidRequirement, requirement.Asset, p.mint)
	}

	recipient, err := solana.PublicKeyFromBase58(requirement.Recipient)
	if err != nil {
		return x402.PaymentProof{}, fmt.Errorf("%w: invalid recipient: %s", x402.ErrInvalidRequirement, err.Error())
	}

	owner := p.signer.Address()

	// Find source ATA (payer's token account)
	sourceATA, _, err := solana.FindAssociatedTokenAddress(owner, p.mint)
	if err != nil {
		return x402.PaymentProof{}, fmt.Errorf("failed to derive source ATA: %w", err)
	}

	// Find destination ATA (recipient's token account)
	destinationATA, _, err := solana.FindAssociatedTokenAddress(recipient, p.mint)
	if err != nil {
		return x402.PaymentProof{}, fmt.Errorf("failed to derive destination ATA: %w", err)
	}

	decimals, err := p.ledger.MintDecimals(ctx, p.mint)
	if err != nil {
		return x402.PaymentProof{}, fmt.Errorf("failed to read mint decimals: %w", err)
	}

	amount, err := ToAtomicUnits(requirement.Amount, decimals)
	if err != nil {
		return x402.PaymentProof{}, fmt.Errorf("%w: %s", x402.ErrInvalidRequirement, err.Error())
	}
	if amount == 0 {
		return x402.PaymentProof{}, fmt.Errorf("%w: %s rounds to zero at %d decimals",
			x402.ErrInvalidRequirement, requirement.Amount, decimals)
	}

	balance, err := p.ledger.TokenBalance(ctx, sourceATA)
	if err != nil && !errors.Is(err, ErrAccountNotFound) {
		return x402.PaymentProof{}, fmt.Errorf("failed to read token balance: %w", err)
	}
	if balance < amount {
		return x402.PaymentProof{}, fmt.Errorf("%w: balance %s, need %s",
			x402.ErrInsufficientFunds, FormatAmount(balance, decimals), FormatAmount(amount, decimals))
	}

	// Check that destination ATA exists
	if _, err := p.ledger.TokenBalance(ctx, destinationATA); err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return x402.PaymentProof{}, fmt.Errorf("%w: recipient %s has no token account for %s",
				x402.ErrInvalidRequirement, requirement.Recipient, p.mint)
		}
		return x402.PaymentProof{}, fmt.Errorf("failed to read recipient token account: %w", err)
	}

	tx, err := p.buildTransaction(ctx, requirement.Memo, sourceATA, destinationATA, amount, decimals)
	if err != nil {
		return x402.PaymentProof{}, err
	}

	if err := p.signer.SignTransaction(ctx, tx); err != nil {
		return x402.PaymentProof{}, fmt.Errorf("failed to sign transaction: %w", err)
	}

	p.logger.Info("sending payment",
		zap.String("amount", FormatAmount(amount, decimals)),
		zap.String("recipient", requirement.Recipient),
		zap.String("memo", requirement.Memo))

	sig, err := p.ledger.SendTransaction(ctx, tx)
	if err != nil {
		return x402.PaymentProof{}, fmt.Errorf("%w: %s", x402.ErrSubmissionFailed, err.Error())
	}

	p.logger.Info("transaction sent, waiting for confirmation", zap.String("signature", sig.String()))

	if err := WaitForConfirmation(ctx, p.ledger, sig, p.confirmationTimeout, p.pollInterval, p.logger); err != nil {
		return x402.PaymentProof{}, err
	}

	return x402.PaymentProof{Signature: sig.String()}, nil
}

func (p *TransferPayer) buildTransaction(
	ctx context.Context,
	memo string,
	sourceATA, destinationATA solana.PublicKey,
	amount uint64,
	decimals uint8,
) (*solana.Transaction, error) {
	owner := p.signer.Address()

	// Build compute budget instructions
	cuLimit, err := computebudget.NewSetComputeUnitLimitInstructionBuilder().
		SetUnits(p.computeUnitLimit).
		ValidateAndBuild()
	if err != nil {
		return nil, fmt.Errorf("failed to build compute limit instruction: %w", err)
	}

	cuPrice, err := computebudget.NewSetComputeUnitPriceInstructionBuilder().
		SetMicroLamports(p.computeUnitPrice).
		ValidateAndBuild()
	if err != nil {
		return nil, fmt.Errorf("failed to build compute price instruction: %w", err)
	}

	// Build final transfer instruction
	transferIx, err := token.NewTransferCheckedInstructionBuilder().
		SetAmount(amount).
		SetDecimals(decimals).
		SetSourceAccount(sourceATA).
		SetMintAccount(p.mint).
		SetDestinationAccount(destinationATA).
		SetOwnerAccount(owner).
		ValidateAndBuild()
	if err != nil {
		return nil, fmt.Errorf("failed to build transfer instruction: %w", err)
	}

	blockhash, err := p.ledger.LatestBlockhash(ctx)
	if err != nil {
		return nil, err
	}

	builder := solana.NewTransactionBuilder().
		AddInstruction(cuLimit).
		AddInstruction(cuPrice)
	if memo != "" {
		builder = builder.AddInstruction(NewMemoInstruction(memo, owner))
	}

	tx, err := builder.
		AddInstruction(transferIx).
		SetRecentBlockHash(blockhash).
		SetFeePayer(owner).
		Build()
	if err != nil {
		return nil, fmt.Errorf("failed to create transaction: %w", err)
	}
	return tx, nil
}
