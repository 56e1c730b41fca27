package x402

import (
	"context"
	"time"
)

// ============================================================================
// Flow Hook Context Types
// ============================================================================

// PaymentContext contains information passed to payment hooks
type PaymentContext struct {
	Ctx         context.Context
	Request     AnalysisRequest
	Requirement PaymentRequirement
	Timestamp   time.Time
}

// PaymentResultContext contains a successful payment and its context
type PaymentResultContext struct {
	PaymentContext
	Proof    PaymentProof
	Duration time.Duration
}

// PaymentFailureContext contains a failed payment and its context
type PaymentFailureContext struct {
	PaymentContext
	Error    error
	Duration time.Duration
}

// ============================================================================
// Flow Hook Result Types
// ============================================================================

// BeforePaymentResult represents the result of a "before payment" hook
// If Abort is true, the flow fails with ErrPaymentAborted and the given Reason
type BeforePaymentResult struct {
	Abort  bool
	Reason string
}

// ============================================================================
// Flow Hook Function Types
// ============================================================================

// BeforePaymentHook is called before the payer is invoked
type BeforePaymentHook func(PaymentContext) (*BeforePaymentResult, error)

// AfterPaymentHook is called after a confirmed payment.
// Any error returned is logged but does not affect the flow
type AfterPaymentHook func(PaymentResultContext) error

// PaymentFailureHook is called when the payer fails. The flow still fails;
// there is no automatic re-payment
type PaymentFailureHook func(PaymentFailureContext)

// StateChangeHook is called on every state transition
type StateChangeHook func(Transition)
