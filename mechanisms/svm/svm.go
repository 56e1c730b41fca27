// Package svm settles x402 payment requirements on Solana.
// A payment is a single SPL Token TransferChecked, preceded by compute budget
// instructions and an optional memo instruction carrying the correlation memo.
package svm

import (
	"fmt"
	"strings"
	"time"

	solana "github.com/gagliardetto/solana-go"

	x402 "github.com/402nodo/nodo-x402-Solana"
)

// Network identifiers (CAIP-2)
const (
	SolanaMainnetCAIP2 = "solana:5eykt4UsFv8P8NJdTREpY1vzqKqZKvdp"
	SolanaDevnetCAIP2  = "solana:EtWTRABZaYq6iMfeYKouRu166VU2xqa1"
	SolanaTestnetCAIP2 = "solana:4uhcVJyU9pJkvQyS88uRDiswHXSCkY3z"
)

// Default RPC endpoints
const (
	MainnetRPCURL = "https://api.mainnet-beta.solana.com"
	DevnetRPCURL  = "https://api.devnet.solana.com"
	TestnetRPCURL = "https://api.testnet.solana.com"
)

// USDC mints
const (
	USDCMainnetAddress = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"
	USDCDevnetAddress  = "4zMMC9srt5Ri5X14GAgXhaHii3GnPAEERYPJgZJDncDU"
)

// USDCDecimals is the number of decimals of every USDC mint
const USDCDecimals uint8 = 6

// MemoProgramAddress is the SPL Memo program (v2)
const MemoProgramAddress = "MemoSq4gqABAXKb96qnH8TysNcWxMyWCqXgDLGmfcHr"

// MemoProgramID is MemoProgramAddress as a public key
var MemoProgramID = solana.MemoProgramID

// Transaction defaults
const (
	// DefaultComputeUnitLimit covers compute budget + memo + TransferChecked
	DefaultComputeUnitLimit uint32 = 40000
	// DefaultComputeUnitPrice is the priority fee in micro-lamports per compute unit
	DefaultComputeUnitPrice uint64 = 1
	// DefaultConfirmationTimeout bounds the wait for confirmation
	DefaultConfirmationTimeout = 60 * time.Second
	// DefaultPollInterval is the delay between signature status polls
	DefaultPollInterval = 1 * time.Second
)

// AssetInfo describes a token mint
type AssetInfo struct {
	Address  string
	Symbol   string
	Decimals uint8
}

// NetworkConfig holds the defaults of one Solana cluster
type NetworkConfig struct {
	CAIP2        string
	RPCURL       string
	DefaultAsset AssetInfo
}

var networkConfigs = map[string]NetworkConfig{
	SolanaMainnetCAIP2: {
		CAIP2:        SolanaMainnetCAIP2,
		RPCURL:       MainnetRPCURL,
		DefaultAsset: AssetInfo{Address: USDCMainnetAddress, Symbol: "USDC", Decimals: USDCDecimals},
	},
	SolanaDevnetCAIP2: {
		CAIP2:        SolanaDevnetCAIP2,
		RPCURL:       DevnetRPCURL,
		DefaultAsset: AssetInfo{Address: USDCDevnetAddress, Symbol: "USDC", Decimals: USDCDecimals},
	},
	SolanaTestnetCAIP2: {
		CAIP2:        SolanaTestnetCAIP2,
		RPCURL:       TestnetRPCURL,
		DefaultAsset: AssetInfo{Address: USDCDevnetAddress, Symbol: "USDC", Decimals: USDCDecimals},
	},
}

// networkAliases maps cluster names to CAIP-2 identifiers
var networkAliases = map[string]string{
	"mainnet":        SolanaMainnetCAIP2,
	"mainnet-beta":   SolanaMainnetCAIP2,
	"solana":         SolanaMainnetCAIP2,
	"devnet":         SolanaDevnetCAIP2,
	"solana-devnet":  SolanaDevnetCAIP2,
	"testnet":        SolanaTestnetCAIP2,
	"solana-testnet": SolanaTestnetCAIP2,
}

// NormalizeNetwork converts a cluster name or CAIP-2 identifier to CAIP-2
func NormalizeNetwork(network string) (x402.Network, error) {
	n := strings.ToLower(strings.TrimSpace(network))
	if caip2, ok := networkAliases[n]; ok {
		return x402.Network(caip2), nil
	}
	if _, ok := networkConfigs[network]; ok {
		return x402.Network(network), nil
	}
	return "", fmt.Errorf("%w: %s", x402.ErrUnsupportedNetwork, network)
}

// IsValidNetwork reports whether network is a known Solana cluster
func IsValidNetwork(network string) bool {
	_, err := NormalizeNetwork(network)
	return err == nil
}

// GetNetworkConfig returns the defaults of a Solana cluster
func GetNetworkConfig(network string) (*NetworkConfig, error) {
	caip2, err := NormalizeNetwork(network)
	if err != nil {
		return nil, err
	}
	config := networkConfigs[string(caip2)]
	return &config, nil
}

// GetAssetInfo resolves a symbol or mint address on a network
func GetAssetInfo(network string, asset string) (*AssetInfo, error) {
	config, err := GetNetworkConfig(network)
	if err != nil {
		return nil, err
	}
	if asset == config.DefaultAsset.Address || strings.EqualFold(asset, config.DefaultAsset.Symbol) {
		info := config.DefaultAsset
		return &info, nil
	}
	return nil, fmt.Errorf("unsupported asset: %s on network %s", asset, config.CAIP2)
}
