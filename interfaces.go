package x402

import (
	"context"
)

// AnalysisClient is the payment-gated analysis API.
// Implementations return *PaymentRequiredError when the request must be paid first.
type AnalysisClient interface {
	Analyze(ctx context.Context, req AnalysisRequest, opts ...RequestOption) (*AnalysisResult, error)
	Close() error
}

// Payer settles a payment requirement and returns proof of the settlement.
//
// Implementations must surface distinct errors for the failure modes a caller can
// act on: ErrInsufficientFunds, ErrSubmissionFailed, ErrConfirmationTimeout and
// ErrTransactionFailed.
type Payer interface {
	Pay(ctx context.Context, requirement PaymentRequirement) (PaymentProof, error)
}

// PayerFunc adapts a function to the Payer interface
type PayerFunc func(ctx context.Context, requirement PaymentRequirement) (PaymentProof, error)

// Pay calls f
func (f PayerFunc) Pay(ctx context.Context, requirement PaymentRequirement) (PaymentProof, error) {
	return f(ctx, requirement)
}

// ProofVerifier reads a settlement back from the ledger.
// Used by gated servers; the client side only forwards proofs.
type ProofVerifier interface {
	Verify(ctx context.Context, signature string) (*SettlementRecord, error)
}

// RequestOptions holds per-request settings for AnalysisClient.Analyze
type RequestOptions struct {
	Proof   *PaymentProof
	Headers map[string]string
}

// RequestOption configures a single Analyze call
type RequestOption func(*RequestOptions)

// WithProof attaches a payment proof to the request
func WithProof(proof PaymentProof) RequestOption {
	return func(o *RequestOptions) {
		o.Proof = &proof
	}
}

// WithHeader adds an extra header to the request
func WithHeader(key, value string) RequestOption {
	return func(o *RequestOptions) {
		if o.Headers == nil {
			o.Headers = make(map[string]string)
		}
		o.Headers[key] = value
	}
}

// NewRequestOptions applies opts in order
func NewRequestOptions(opts ...RequestOption) RequestOptions {
	var o RequestOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
