package http

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	x402 "github.com/402nodo/nodo-x402-Solana"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// paidProofKey carries a *paidProof through the request context so the
// client can reuse a settlement across its own rate-limit retries
type paidProofKey struct{}

type paidProof struct {
	mu    sync.Mutex
	proof *x402.PaymentProof
}

func (p *paidProof) get() *x402.PaymentProof {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.proof
}

func (p *paidProof) set(proof x402.PaymentProof) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.proof = &proof
}

func withPaidProof(ctx context.Context, holder *paidProof) context.Context {
	return context.WithValue(ctx, paidProofKey{}, holder)
}

func paidProofFrom(ctx context.Context) *paidProof {
	holder, _ := ctx.Value(paidProofKey{}).(*paidProof)
	return holder
}

// WrapHTTPClientWithPayment wraps an HTTP client so that 402 answers are paid
// with payer and the request is retried once with the proof attached.
// client.Timeout becomes the deadline of each HTTP exchange: the payment
// between them is bounded by the payer's own confirmation timeout.
func WrapHTTPClientWithPayment(client *http.Client, payer x402.Payer, opts ...RoundTripperOption) *http.Client {
	if client == nil {
		client = &http.Client{}
	}

	originalTransport := client.Transport
	if originalTransport == nil {
		originalTransport = http.DefaultTransport
	}

	opts = append([]RoundTripperOption{WithAttemptTimeout(client.Timeout)}, opts...)

	wrapped := *client
	wrapped.Timeout = 0
	wrapped.Transport = NewPaymentRoundTripper(originalTransport, payer, opts...)
	return &wrapped
}

// RoundTripperOption configures a PaymentRoundTripper
type RoundTripperOption func(*PaymentRoundTripper)

// WithRoundTripperLogger sets the logger
func WithRoundTripperLogger(logger *zap.Logger) RoundTripperOption {
	return func(t *PaymentRoundTripper) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// WithPaymentLimit refuses to settle requirements above limit
func WithPaymentLimit(limit decimal.Decimal) RoundTripperOption {
	return func(t *PaymentRoundTripper) {
		t.maxAmount = &limit
	}
}

// WithAttemptTimeout bounds each HTTP exchange, response body included.
// Zero leaves exchanges bounded by the request context only.
func WithAttemptTimeout(timeout time.Duration) RoundTripperOption {
	return func(t *PaymentRoundTripper) {
		t.attemptTimeout = timeout
	}
}

// PaymentRoundTripper implements http.RoundTripper with x402 payment handling
type PaymentRoundTripper struct {
	Transport      http.RoundTripper
	payer          x402.Payer
	maxAmount      *decimal.Decimal
	attemptTimeout time.Duration
	logger         *zap.Logger
}

// NewPaymentRoundTripper wraps transport with auto-pay through payer
func NewPaymentRoundTripper(transport http.RoundTripper, payer x402.Payer, opts ...RoundTripperOption) *PaymentRoundTripper {
	if transport == nil {
		transport = http.DefaultTransport
	}
	t := &PaymentRoundTripper{
		Transport: transport,
		payer:     payer,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// RoundTrip implements http.RoundTripper.
// A request that already carries a proof is never paid again.
func (t *PaymentRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.exchange(req)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusPaymentRequired || req.Header.Get(PaymentTxHeader) != "" {
		return resp, nil
	}

	paymentRequired, err := GetPaymentRequired(resp)
	if err != nil {
		return nil, fmt.Errorf("failed to parse payment requirements: %w", err)
	}

	requirement, err := x402.SelectRequirement(paymentRequired)
	if err != nil {
		return nil, fmt.Errorf("cannot fulfill payment requirements: %w", err)
	}

	if t.maxAmount != nil && requirement.Amount.GreaterThan(*t.maxAmount) {
		return nil, fmt.Errorf("%w: %s > %s", x402.ErrAmountExceedsLimit, requirement.Amount, t.maxAmount)
	}

	if t.payer == nil {
		return nil, &x402.PaymentRequiredError{Requirement: requirement, Required: paymentRequired}
	}

	ctx := req.Context()
	t.logger.Info("auto-paying requirement",
		zap.Stringer("amount", requirement.Amount),
		zap.String("recipient", requirement.Recipient),
		zap.String("memo", requirement.Memo))

	proof, err := t.payer.Pay(ctx, requirement)
	if err != nil {
		return nil, fmt.Errorf("failed to create payment: %w", err)
	}
	if holder := paidProofFrom(ctx); holder != nil {
		holder.set(proof)
	}

	paymentReq, err := cloneWithBody(req)
	if err != nil {
		return nil, err
	}
	paymentReq.Header.Set(PaymentTxHeader, proof.Signature)

	t.logger.Debug("retrying with payment proof", zap.String("signature", proof.Signature))

	newResp, err := t.exchange(paymentReq)
	if err != nil {
		return nil, err
	}
	newResp.Request = paymentReq
	return newResp, nil
}

// exchange runs one round trip under the attempt timeout. The deadline
// stays armed until the response body is closed.
func (t *PaymentRoundTripper) exchange(req *http.Request) (*http.Response, error) {
	if t.attemptTimeout <= 0 {
		return t.Transport.RoundTrip(req)
	}

	ctx, cancel := context.WithTimeout(req.Context(), t.attemptTimeout)
	resp, err := t.Transport.RoundTrip(req.WithContext(ctx))
	if err != nil {
		cancel()
		return nil, err
	}
	resp.Body = &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}
	return resp, nil
}

type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (b *cancelOnClose) Close() error {
	err := b.ReadCloser.Close()
	b.cancel()
	return err
}

// cloneWithBody clones req with a fresh copy of its body
func cloneWithBody(req *http.Request) (*http.Request, error) {
	clone := req.Clone(req.Context())
	if req.Body == nil || req.Body == http.NoBody {
		return clone, nil
	}
	if req.GetBody == nil {
		return nil, errors.New("cannot retry request: body is not replayable")
	}
	body, err := req.GetBody()
	if err != nil {
		return nil, fmt.Errorf("failed to reset request body: %w", err)
	}
	clone.Body = body
	return clone, nil
}
