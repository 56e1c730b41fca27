// Package config defines the runtime configuration of the nodo x402 client,
// the gated development server and the Solana settlement path. Values are
// read from YAML, overridden by NODO_* environment variables and completed
// with defaults by Validate.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	x402 "github.com/402nodo/nodo-x402-Solana"
	x402http "github.com/402nodo/nodo-x402-Solana/http"
	"github.com/402nodo/nodo-x402-Solana/mechanisms/svm"
	signersvm "github.com/402nodo/nodo-x402-Solana/signers/svm"
)

// Environment variables read by ApplyEnvOverrides
const (
	EnvConfigPath  = "NODO_CONFIG"
	EnvBaseURL     = "NODO_API_URL"
	EnvAutoPay     = "NODO_AUTO_PAY"
	EnvMaxAmount   = "NODO_MAX_AMOUNT"
	EnvNetwork     = "NODO_NETWORK"
	EnvRPCURL      = "NODO_RPC_URL"
	EnvKeypairPath = "NODO_KEYPAIR"
	EnvRateLimit   = "NODO_RPC_RATE_LIMIT"
	EnvListenAddr  = "NODO_LISTEN_ADDR"
	EnvPayTo       = "NODO_PAY_TO"
	EnvLogLevel    = "NODO_LOG_LEVEL"
)

// Config holds every setting of the client and the development server.
// Use Validate to fill implicit defaults and check required fields.
type Config struct {
	API      API      `yaml:"api"`
	Solana   Solana   `yaml:"solana"`
	Timeouts Timeouts `yaml:"timeouts"`
	Server   Server   `yaml:"server"`
	Log      Log      `yaml:"log"`
}

// API configures the analysis API client
type API struct {
	// BaseURL of the analysis API. Default: x402http.DefaultBaseURL
	BaseURL string `yaml:"base_url"`
	// AutoPay settles payment requirements transparently
	AutoPay bool `yaml:"auto_pay"`
	// MaxAmount caps a single payment in USDC; empty means no cap
	MaxAmount string `yaml:"max_amount"`
}

// Solana configures settlement
type Solana struct {
	// Network is a cluster name (devnet, mainnet) or CAIP-2 identifier. Default: devnet
	Network string `yaml:"network"`
	// RPCURL defaults to the public endpoint of Network
	RPCURL string `yaml:"rpc_url"`
	// KeypairPath is a solana-keygen JSON file. Default: ~/.config/solana/id.json
	KeypairPath string `yaml:"keypair_path"`
	// Mint defaults to the USDC mint of Network
	Mint string `yaml:"mint"`
	// RateLimit caps JSON-RPC requests per second; zero disables throttling
	RateLimit float64 `yaml:"rate_limit"`
	// Commitment used for reads. Default: confirmed
	Commitment string `yaml:"commitment"`
	// ComputeUnitPrice is the priority fee in micro-lamports
	ComputeUnitPrice uint64 `yaml:"compute_unit_price"`
}

// Timeouts controls operation deadlines.
// Zero values are replaced by defaults in WithDefaults.
type Timeouts struct {
	Request      time.Duration `yaml:"request"`      // one HTTP round trip
	Confirmation time.Duration `yaml:"confirmation"` // wait for a payment to confirm
	Poll         time.Duration `yaml:"poll"`         // signature status poll interval
	QuoteTTL     time.Duration `yaml:"quote_ttl"`    // lifetime of a server quote
}

// Server configures the gated development server
type Server struct {
	ListenAddr string `yaml:"listen_addr"`
	// PayTo is the wallet credited by payments; required to run the server
	PayTo string `yaml:"pay_to"`
	// Prices overrides the tier prices in USDC
	Prices map[string]string `yaml:"prices"`
}

// Log configures the zap logger built by NewLogger
type Log struct {
	// Level is debug, info, warn or error. Default: info
	Level string `yaml:"level"`
	// Development selects the human readable console encoder
	Development bool `yaml:"development"`
}

// Default returns a configuration with every default applied
func Default() *Config {
	c := &Config{}
	c.applyDefaults()
	return c
}

// Load reads a YAML file, applies environment overrides and validates the result.
// An empty path falls back to $NODO_CONFIG, then to defaults only.
func Load(path string) (*Config, error) {
	if path == "" {
		path = strings.TrimSpace(os.Getenv(EnvConfigPath))
	}

	c := &Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal(data, c); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	if err := ApplyEnvOverrides(c); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// ApplyEnvOverrides replaces values with the NODO_* variables that are set
func ApplyEnvOverrides(c *Config) error {
	if v := env(EnvBaseURL); v != "" {
		c.API.BaseURL = v
	}
	if v := env(EnvAutoPay); v != "" {
		autoPay, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvAutoPay, err)
		}
		c.API.AutoPay = autoPay
	}
	if v := env(EnvMaxAmount); v != "" {
		c.API.MaxAmount = v
	}
	if v := env(EnvNetwork); v != "" {
		c.Solana.Network = v
	}
	if v := env(EnvRPCURL); v != "" {
		c.Solana.RPCURL = v
	}
	if v := env(EnvKeypairPath); v != "" {
		c.Solana.KeypairPath = v
	}
	if v := env(EnvRateLimit); v != "" {
		rps, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvRateLimit, err)
		}
		c.Solana.RateLimit = rps
	}
	if v := env(EnvListenAddr); v != "" {
		c.Server.ListenAddr = v
	}
	if v := env(EnvPayTo); v != "" {
		c.Server.PayTo = v
	}
	if v := env(EnvLogLevel); v != "" {
		c.Log.Level = v
	}
	return nil
}

func env(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func (c *Config) applyDefaults() {
	if c.API.BaseURL == "" {
		c.API.BaseURL = x402http.DefaultBaseURL
	}
	if c.Solana.Network == "" {
		c.Solana.Network = "devnet"
	}
	if c.Solana.KeypairPath == "" {
		c.Solana.KeypairPath = signersvm.DefaultKeypairPath
	}
	if c.Solana.Commitment == "" {
		c.Solana.Commitment = string(svm.CommitmentConfirmed)
	}
	if c.Server.ListenAddr == "" {
		c.Server.ListenAddr = ":4021"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	c.Timeouts = c.Timeouts.WithDefaults()
}

// Validate applies implicit defaults, normalizes the network to CAIP-2 and
// resolves network-dependent defaults (RPC URL, mint).
func (c *Config) Validate() error {
	c.applyDefaults()

	networkConfig, err := svm.GetNetworkConfig(c.Solana.Network)
	if err != nil {
		return err
	}
	c.Solana.Network = networkConfig.CAIP2
	if c.Solana.RPCURL == "" {
		c.Solana.RPCURL = networkConfig.RPCURL
	}
	if c.Solana.Mint == "" {
		c.Solana.Mint = networkConfig.DefaultAsset.Address
	}

	if c.Solana.RateLimit < 0 {
		return errors.New("solana.rate_limit must not be negative")
	}
	switch svm.Commitment(c.Solana.Commitment) {
	case svm.CommitmentProcessed, svm.CommitmentConfirmed, svm.CommitmentFinalized:
	default:
		return fmt.Errorf("unknown commitment %q", c.Solana.Commitment)
	}

	if _, err := c.MaxAmount(); err != nil {
		return err
	}
	if _, err := c.TierPrices(); err != nil {
		return err
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		return err
	}
	return nil
}

// MaxAmount parses API.MaxAmount; nil means no cap
func (c *Config) MaxAmount() (*decimal.Decimal, error) {
	if strings.TrimSpace(c.API.MaxAmount) == "" {
		return nil, nil
	}
	limit, err := svm.ParsePrice(c.API.MaxAmount)
	if err != nil {
		return nil, fmt.Errorf("invalid api.max_amount: %w", err)
	}
	return &limit, nil
}

// TierPrices returns the price of every tier with Server.Prices applied
func (c *Config) TierPrices() (map[x402.Tier]decimal.Decimal, error) {
	prices := make(map[x402.Tier]decimal.Decimal, len(x402.Tiers()))
	for _, tier := range x402.Tiers() {
		price, _ := tier.Price()
		prices[tier] = price
	}

	for name, raw := range c.Server.Prices {
		tier, err := x402.ParseTier(name)
		if err != nil {
			return nil, fmt.Errorf("invalid server.prices: %w", err)
		}
		price, err := svm.ParsePrice(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid server.prices.%s: %w", name, err)
		}
		prices[tier] = price
	}
	return prices, nil
}

// RequirePayTo checks that the server has a wallet to be paid to
func (c *Config) RequirePayTo() error {
	if strings.TrimSpace(c.Server.PayTo) == "" {
		return errors.New("server.pay_to is required")
	}
	return nil
}

// WithDefaults returns a copy of t with zero values replaced by defaults:
//
//	Request:      30s
//	Confirmation: 60s
//	Poll:         1s
//	QuoteTTL:     5m
func (t Timeouts) WithDefaults() Timeouts {
	tt := t
	if tt.Request == 0 {
		tt.Request = x402http.DefaultTimeout
	}
	if tt.Confirmation == 0 {
		tt.Confirmation = svm.DefaultConfirmationTimeout
	}
	if tt.Poll == 0 {
		tt.Poll = svm.DefaultPollInterval
	}
	if tt.QuoteTTL == 0 {
		tt.QuoteTTL = 5 * time.Minute
	}
	return tt
}
