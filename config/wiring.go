package config

import (
	"fmt"

	"github.com/gagliardetto/solana-go/rpc"
	"go.uber.org/zap"

	x402 "github.com/402nodo/nodo-x402-Solana"
	x402http "github.com/402nodo/nodo-x402-Solana/http"
	"github.com/402nodo/nodo-x402-Solana/mechanisms/svm"
	"github.com/402nodo/nodo-x402-Solana/pkg/paywall"
	signersvm "github.com/402nodo/nodo-x402-Solana/signers/svm"
)

// NewLedger opens the JSON-RPC ledger described by the solana section
func (c *Config) NewLedger(logger *zap.Logger) *svm.RPCLedger {
	burst := int(c.Solana.RateLimit)
	return svm.NewRPCLedger(c.Solana.RPCURL,
		svm.WithRateLimit(c.Solana.RateLimit, burst),
		svm.WithCommitment(rpc.CommitmentType(c.Solana.Commitment)),
		svm.WithLedgerLogger(logger))
}

// NewPayer loads the keypair and builds a transfer payer over ledger
func (c *Config) NewPayer(ledger svm.Ledger, logger *zap.Logger) (*svm.TransferPayer, error) {
	signer, err := signersvm.NewClientSignerFromKeypairFile(c.Solana.KeypairPath)
	if err != nil {
		return nil, err
	}

	return svm.NewTransferPayer(svm.PayerConfig{
		Signer:              signer,
		Ledger:              ledger,
		Network:             x402.Network(c.Solana.Network),
		Mint:                c.Solana.Mint,
		ComputeUnitPrice:    c.Solana.ComputeUnitPrice,
		ConfirmationTimeout: c.Timeouts.Confirmation,
		PollInterval:        c.Timeouts.Poll,
		Logger:              logger,
	})
}

// NewClient builds the analysis API client. payer may be nil unless
// api.auto_pay is set.
func (c *Config) NewClient(payer x402.Payer, logger *zap.Logger) (*x402http.Client, error) {
	maxAmount, err := c.MaxAmount()
	if err != nil {
		return nil, err
	}

	return x402http.NewClient(&x402http.ClientConfig{
		BaseURL:   c.API.BaseURL,
		Timeout:   c.Timeouts.Request,
		AutoPay:   c.API.AutoPay,
		Payer:     payer,
		MaxAmount: maxAmount,
		Logger:    logger,
	})
}

// PaywallConfig describes the gated endpoint of the development server
func (c *Config) PaywallConfig() (paywall.Config, error) {
	if err := c.RequirePayTo(); err != nil {
		return paywall.Config{}, err
	}
	prices, err := c.TierPrices()
	if err != nil {
		return paywall.Config{}, err
	}
	asset, err := svm.GetAssetInfo(c.Solana.Network, c.Solana.Mint)
	if err != nil {
		return paywall.Config{}, fmt.Errorf("unsupported settlement mint: %w", err)
	}

	return paywall.Config{
		PayTo:    c.Server.PayTo,
		Network:  x402.Network(c.Solana.Network),
		Asset:    asset.Address,
		Decimals: asset.Decimals,
		Prices:   prices,
		Resource: &x402.ResourceInfo{
			URL:         x402http.AnalyzePath,
			Description: "Multi-model consensus analysis of a prediction market",
			MimeType:    "application/json",
		},
	}, nil
}
