package x402

import (
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// ProtocolVersion is the x402 protocol version spoken by the analysis API
const ProtocolVersion = 2

// SchemeExact is the only payment scheme the analysis API quotes
const SchemeExact = "exact"

// DefaultAssetDecimals is assumed when a quote does not carry extra.decimals (USDC)
const DefaultAssetDecimals uint8 = 6

// Network represents a blockchain network identifier in CAIP-2 format
// Format: namespace:reference (e.g., "solana:5eykt4UsFv8P8NJdTREpY1vzqKqZKvdp")
type Network string

// Parse splits the network into namespace and reference components
func (n Network) Parse() (namespace, reference string, err error) {
	parts := strings.Split(string(n), ":")
	if len(parts) != 2 {
		return "", "", fmt.Errorf("invalid network format: %s", n)
	}
	return parts[0], parts[1], nil
}

// Match checks if this network matches a pattern (supports wildcards)
// e.g., "solana:devnet" matches "solana:*" and "solana:*" matches "solana:devnet"
func (n Network) Match(pattern Network) bool {
	if n == pattern {
		return true
	}

	nStr := string(n)
	patternStr := string(pattern)

	if strings.HasSuffix(patternStr, ":*") {
		prefix := strings.TrimSuffix(patternStr, "*")
		return strings.HasPrefix(nStr, prefix)
	}

	if strings.HasSuffix(nStr, ":*") {
		prefix := strings.TrimSuffix(nStr, "*")
		return strings.HasPrefix(patternStr, prefix)
	}

	return false
}

// ============================================================================
// Domain types
// ============================================================================

// Tier is a predefined price tier of the analysis API
type Tier string

const (
	TierQuick    Tier = "quick"
	TierStandard Tier = "standard"
	TierDeep     Tier = "deep"
)

var tierPrices = map[Tier]decimal.Decimal{
	TierQuick:    decimal.RequireFromString("0.01"),
	TierStandard: decimal.RequireFromString("0.05"),
	TierDeep:     decimal.RequireFromString("0.25"),
}

// Tiers lists every known tier, cheapest first
func Tiers() []Tier {
	return []Tier{TierQuick, TierStandard, TierDeep}
}

// Valid reports whether t is one of the predefined tiers
func (t Tier) Valid() bool {
	_, ok := tierPrices[t]
	return ok
}

// Price returns the tier price in settlement asset units (USDC)
func (t Tier) Price() (decimal.Decimal, error) {
	price, ok := tierPrices[t]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: unknown tier %q", ErrInvalidRequest, t)
	}
	return price, nil
}

// ParseTier parses a tier name, case-insensitively
func ParseTier(s string) (Tier, error) {
	t := Tier(strings.ToLower(strings.TrimSpace(s)))
	if !t.Valid() {
		return "", fmt.Errorf("%w: unknown tier %q", ErrInvalidRequest, s)
	}
	return t, nil
}

// AnalysisRequest identifies a market and the tier of analysis wanted
type AnalysisRequest struct {
	Market string `json:"market"`
	Tier   Tier   `json:"tier"`
}

// Validate checks that the request can be sent
func (r AnalysisRequest) Validate() error {
	if strings.TrimSpace(r.Market) == "" {
		return fmt.Errorf("%w: market is required", ErrInvalidRequest)
	}
	if !r.Tier.Valid() {
		return fmt.Errorf("%w: unknown tier %q", ErrInvalidRequest, r.Tier)
	}
	return nil
}

// AnalysisResult is the outcome of a successful (paid) analysis request
type AnalysisResult struct {
	Consensus  string  `json:"consensus"`
	Confidence float64 `json:"confidence"`
	Agreement  string  `json:"agreement"`
	Cost       string  `json:"cost"`
	RequestID  string  `json:"requestId"`
}

// PaymentRequirement is what must be paid before a gated request is served
type PaymentRequirement struct {
	Amount    decimal.Decimal `json:"amount"`
	Recipient string          `json:"recipient"`
	Memo      string          `json:"memo"`
	Asset     string          `json:"asset"`
	Network   Network         `json:"network"`
	Decimals  uint8           `json:"decimals"`
}

// Validate checks that a requirement is payable
func (r PaymentRequirement) Validate() error {
	if !r.Amount.IsPositive() {
		return fmt.Errorf("%w: amount must be positive, got %s", ErrInvalidRequirement, r.Amount)
	}
	if r.Recipient == "" {
		return fmt.Errorf("%w: recipient is required", ErrInvalidRequirement)
	}
	if r.Asset == "" {
		return fmt.Errorf("%w: asset is required", ErrInvalidRequirement)
	}
	return nil
}

// PaymentProof references a confirmed settlement transaction
type PaymentProof struct {
	Signature string `json:"signature"`
}

// SettlementRecord is what a verifier read back from the ledger for a proof
type SettlementRecord struct {
	Signature string `json:"signature"`
	Memo      string `json:"memo"`
	Recipient string `json:"recipient"`
	Mint      string `json:"mint"`
	Amount    uint64 `json:"amount"`
}

// ============================================================================
// Wire types (402 response)
// ============================================================================

// ResourceInfo describes the resource being accessed
type ResourceInfo struct {
	URL         string `json:"url"`
	Description string `json:"description"`
	MimeType    string `json:"mimeType"`
}

// PaymentRequirements is one entry of the accepts list of a 402 response.
// Amount is in the asset's smallest unit.
type PaymentRequirements struct {
	Scheme            string                 `json:"scheme"`
	Network           Network                `json:"network"`
	Asset             string                 `json:"asset"`
	Amount            string                 `json:"amount"`
	PayTo             string                 `json:"payTo"`
	MaxTimeoutSeconds int                    `json:"maxTimeoutSeconds"`
	Extra             map[string]interface{} `json:"extra,omitempty"`
}

// PaymentRequired is the 402 response sent to clients
type PaymentRequired struct {
	X402Version int                   `json:"x402Version"`
	Error       string                `json:"error,omitempty"`
	Resource    *ResourceInfo         `json:"resource,omitempty"`
	Accepts     []PaymentRequirements `json:"accepts"`
}

// Memo returns the correlation memo carried in extra, if any
func (r PaymentRequirements) Memo() string {
	if r.Extra == nil {
		return ""
	}
	memo, _ := r.Extra["memo"].(string)
	return memo
}

// Decimals returns extra.decimals, defaulting to DefaultAssetDecimals
func (r PaymentRequirements) Decimals() uint8 {
	if r.Extra == nil {
		return DefaultAssetDecimals
	}
	switch v := r.Extra["decimals"].(type) {
	case float64:
		return uint8(v)
	case int:
		return uint8(v)
	case uint8:
		return v
	case string:
		n, err := strconv.ParseUint(v, 10, 8)
		if err == nil {
			return uint8(n)
		}
	}
	return DefaultAssetDecimals
}

// ToRequirement converts an accepts entry into a PaymentRequirement,
// scaling the atomic amount down by the asset decimals
func (r PaymentRequirements) ToRequirement() (PaymentRequirement, error) {
	if err := ValidatePaymentRequirements(r); err != nil {
		return PaymentRequirement{}, err
	}

	atomic, ok := new(big.Int).SetString(r.Amount, 10)
	if !ok {
		return PaymentRequirement{}, fmt.Errorf("%w: invalid amount %q", ErrInvalidRequirement, r.Amount)
	}

	decimals := r.Decimals()
	req := PaymentRequirement{
		Amount:    decimal.NewFromBigInt(atomic, -int32(decimals)),
		Recipient: r.PayTo,
		Memo:      r.Memo(),
		Asset:     r.Asset,
		Network:   r.Network,
		Decimals:  decimals,
	}
	return req, req.Validate()
}

// NewPaymentRequirements builds an accepts entry from a requirement
func NewPaymentRequirements(req PaymentRequirement, maxTimeoutSeconds int) PaymentRequirements {
	decimals := req.Decimals
	if decimals == 0 {
		decimals = DefaultAssetDecimals
	}
	atomic := req.Amount.Shift(int32(decimals)).Round(0)

	extra := map[string]interface{}{
		"decimals": decimals,
	}
	if req.Memo != "" {
		extra["memo"] = req.Memo
	}

	return PaymentRequirements{
		Scheme:            SchemeExact,
		Network:           req.Network,
		Asset:             req.Asset,
		Amount:            atomic.BigInt().String(),
		PayTo:             req.Recipient,
		MaxTimeoutSeconds: maxTimeoutSeconds,
		Extra:             extra,
	}
}
