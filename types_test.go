package x402

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

func TestTierPrices(t *testing.T) {
	tests := []struct {
		tier Tier
		want string
	}{
		{TierQuick, "0.01"},
		{TierStandard, "0.05"},
		{TierDeep, "0.25"},
	}
	for _, tt := range tests {
		price, err := tt.tier.Price()
		if err != nil {
			t.Fatalf("Unexpected error for %s: %v", tt.tier, err)
		}
		if !price.Equal(decimal.RequireFromString(tt.want)) {
			t.Errorf("Expected %s for %s, got %s", tt.want, tt.tier, price)
		}
	}

	if _, err := Tier("premium").Price(); !errors.Is(err, ErrInvalidRequest) {
		t.Errorf("Expected ErrInvalidRequest, got %v", err)
	}

	tier, err := ParseTier(" Deep ")
	if err != nil || tier != TierDeep {
		t.Errorf("Expected deep, got %s (%v)", tier, err)
	}
}

func TestAnalysisRequestValidate(t *testing.T) {
	if err := (AnalysisRequest{Market: "ETH > 5k", Tier: TierQuick}).Validate(); err != nil {
		t.Errorf("Unexpected error: %v", err)
	}
	if err := (AnalysisRequest{Market: "  ", Tier: TierQuick}).Validate(); !errors.Is(err, ErrInvalidRequest) {
		t.Errorf("Expected ErrInvalidRequest for blank market, got %v", err)
	}
	if err := (AnalysisRequest{Market: "ETH > 5k", Tier: "ultra"}).Validate(); !errors.Is(err, ErrInvalidRequest) {
		t.Errorf("Expected ErrInvalidRequest for unknown tier, got %v", err)
	}
}

func TestPaymentRequirementsConversion(t *testing.T) {
	req := testRequirement()
	accepts := NewPaymentRequirements(req, 60)

	if accepts.Amount != "50000" {
		t.Errorf("Expected atomic amount 50000, got %s", accepts.Amount)
	}
	if accepts.Scheme != SchemeExact || accepts.PayTo != req.Recipient {
		t.Errorf("Unexpected accepts entry: %+v", accepts)
	}
	if accepts.Memo() != "nodo:q-1" {
		t.Errorf("Expected memo in extra, got %q", accepts.Memo())
	}

	back, err := accepts.ToRequirement()
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if !back.Amount.Equal(req.Amount) || back.Memo != req.Memo || back.Decimals != 6 {
		t.Errorf("Expected %+v, got %+v", req, back)
	}
}

func TestPaymentRequirementsDecimals(t *testing.T) {
	tests := []struct {
		extra map[string]interface{}
		want  uint8
	}{
		{nil, DefaultAssetDecimals},
		{map[string]interface{}{"decimals": float64(9)}, 9},
		{map[string]interface{}{"decimals": "2"}, 2},
		{map[string]interface{}{"decimals": "x"}, DefaultAssetDecimals},
	}
	for _, tt := range tests {
		r := PaymentRequirements{Extra: tt.extra}
		if got := r.Decimals(); got != tt.want {
			t.Errorf("Expected %d for %v, got %d", tt.want, tt.extra, got)
		}
	}
}

func TestSelectRequirement(t *testing.T) {
	exact := NewPaymentRequirements(testRequirement(), 60)
	other := exact
	other.Scheme = "upto"

	req, err := SelectRequirement(PaymentRequired{X402Version: ProtocolVersion, Accepts: []PaymentRequirements{other, exact}})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if req.Recipient != exact.PayTo {
		t.Errorf("Expected exact entry to be selected, got %+v", req)
	}

	_, err = SelectRequirement(PaymentRequired{X402Version: ProtocolVersion, Accepts: []PaymentRequirements{other}})
	if !errors.Is(err, ErrInvalidRequirement) {
		t.Errorf("Expected ErrInvalidRequirement without exact entry, got %v", err)
	}

	_, err = SelectRequirement(PaymentRequired{X402Version: 9, Accepts: []PaymentRequirements{exact}})
	if !errors.Is(err, ErrInvalidRequirement) {
		t.Errorf("Expected ErrInvalidRequirement for unknown version, got %v", err)
	}

	_, err = SelectRequirement(PaymentRequired{X402Version: ProtocolVersion})
	if !errors.Is(err, ErrInvalidRequirement) {
		t.Errorf("Expected ErrInvalidRequirement for empty accepts, got %v", err)
	}

	zero := exact
	zero.Amount = "0"
	_, err = SelectRequirement(PaymentRequired{X402Version: ProtocolVersion, Accepts: []PaymentRequirements{zero}})
	if !errors.Is(err, ErrInvalidRequirement) {
		t.Errorf("Expected ErrInvalidRequirement for zero amount, got %v", err)
	}
}

func TestNetworkMatch(t *testing.T) {
	n := Network("solana:EtWTRABZaYq6iMfeYKouRu166VU2xqa1")
	if !n.Match("solana:*") || !Network("solana:*").Match(n) {
		t.Error("Expected wildcard match")
	}
	if n.Match("eip155:*") {
		t.Error("Expected no match across namespaces")
	}
	ns, ref, err := n.Parse()
	if err != nil || ns != "solana" || ref != "EtWTRABZaYq6iMfeYKouRu166VU2xqa1" {
		t.Errorf("Unexpected parse result %s %s %v", ns, ref, err)
	}
}

func TestPayerRegistry(t *testing.T) {
	var solanaCalls, exactCalls int
	registry := NewPayerRegistry().
		Register("solana:*", PayerFunc(func(ctx context.Context, r PaymentRequirement) (PaymentProof, error) {
			solanaCalls++
			return PaymentProof{Signature: "wildcard"}, nil
		})).
		Register("solana:EtWTRABZaYq6iMfeYKouRu166VU2xqa1", PayerFunc(func(ctx context.Context, r PaymentRequirement) (PaymentProof, error) {
			exactCalls++
			return PaymentProof{Signature: "devnet"}, nil
		}))

	proof, err := registry.Pay(context.Background(), testRequirement())
	if err != nil || proof.Signature != "devnet" {
		t.Errorf("Expected exact network payer, got %+v (%v)", proof, err)
	}

	mainnet := testRequirement()
	mainnet.Network = "solana:5eykt4UsFv8P8NJdTREpY1vzqKqZKvdp"
	proof, err = registry.Pay(context.Background(), mainnet)
	if err != nil || proof.Signature != "wildcard" {
		t.Errorf("Expected wildcard payer, got %+v (%v)", proof, err)
	}

	evm := testRequirement()
	evm.Network = "eip155:8453"
	if registry.CanPay(evm) {
		t.Error("Expected no payer for eip155")
	}
	if _, err := registry.Pay(context.Background(), evm); !errors.Is(err, ErrUnsupportedNetwork) {
		t.Errorf("Expected ErrUnsupportedNetwork, got %v", err)
	}
	if solanaCalls != 1 || exactCalls != 1 {
		t.Errorf("Unexpected call counts %d %d", solanaCalls, exactCalls)
	}
	if len(registry.Networks()) != 2 {
		t.Errorf("Expected 2 networks, got %d", len(registry.Networks()))
	}
}

func TestErrors(t *testing.T) {
	required := &PaymentRequiredError{Requirement: testRequirement()}
	if !errors.Is(required, ErrPaymentRequired) {
		t.Error("Expected PaymentRequiredError to match ErrPaymentRequired")
	}

	rejected := &ProofRejectedError{Proof: PaymentProof{Signature: "abc"}, Reason: "memo mismatch"}
	if !errors.Is(rejected, ErrProofRejected) {
		t.Error("Expected ProofRejectedError to match ErrProofRejected")
	}
	if rejected.Error() != "x402: payment proof rejected: abc: memo mismatch" {
		t.Errorf("Unexpected message %q", rejected.Error())
	}

	apiErr := &APIError{StatusCode: 503, Body: "down"}
	if !errors.Is(apiErr, ErrUnexpectedResponse) {
		t.Error("Expected APIError to match ErrUnexpectedResponse")
	}

	paymentErr := NewPaymentError(ErrCodeProofReplayed, "proof already used", nil)
	if paymentErr.Error() != "proof_replayed: proof already used" {
		t.Errorf("Unexpected message %q", paymentErr.Error())
	}
}
