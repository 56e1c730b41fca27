package x402

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// FlowState is a state of the manual payment flow
type FlowState int

const (
	StateIdle FlowState = iota
	StateRequested
	StatePaymentRequired
	StatePaying
	StateRetrying
	StateCompleted
	StateFailed
)

func (s FlowState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRequested:
		return "requested"
	case StatePaymentRequired:
		return "payment_required"
	case StatePaying:
		return "paying"
	case StateRetrying:
		return "retrying"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("FlowState(%d)", int(s))
	}
}

// Terminal reports whether no further transition can happen from s
func (s FlowState) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// allowed transitions; Failed is also reachable from Requested on a
// non-payment error of the first request
var flowTransitions = map[FlowState][]FlowState{
	StateIdle:            {StateRequested},
	StateRequested:       {StatePaymentRequired, StateCompleted, StateFailed},
	StatePaymentRequired: {StatePaying, StateFailed},
	StatePaying:          {StateRetrying, StateFailed},
	StateRetrying:        {StateCompleted, StateFailed},
}

func canTransition(from, to FlowState) bool {
	for _, next := range flowTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Transition records one state change of a flow
type Transition struct {
	From FlowState
	To   FlowState
	At   time.Time
	Err  error
}

// FlowResult is the outcome of a completed flow
type FlowResult struct {
	Result *AnalysisResult
	// Requirement and Proof are nil when no payment was needed
	Requirement *PaymentRequirement
	Proof       *PaymentProof
}

// Paid reports whether the flow had to settle a payment
func (r *FlowResult) Paid() bool {
	return r.Proof != nil
}

// Flow drives one gated request through the manual payment state machine:
// request, catch the payment requirement, pay it, retry with the proof.
// A Flow is single use.
type Flow struct {
	client AnalysisClient
	payer  Payer
	logger *zap.Logger

	maxAmount *decimal.Decimal

	beforePaymentHooks  []BeforePaymentHook
	afterPaymentHooks   []AfterPaymentHook
	paymentFailureHooks []PaymentFailureHook
	stateChangeHooks    []StateChangeHook

	mu          sync.Mutex
	state       FlowState
	transitions []Transition
}

// FlowOption configures a Flow
type FlowOption func(*Flow)

// WithFlowLogger sets the logger
func WithFlowLogger(logger *zap.Logger) FlowOption {
	return func(f *Flow) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// WithMaxAmount refuses to pay requirements above limit (ErrAmountExceedsLimit)
func WithMaxAmount(limit decimal.Decimal) FlowOption {
	return func(f *Flow) {
		f.maxAmount = &limit
	}
}

// WithBeforePaymentHook registers a before-payment hook at construction
func WithBeforePaymentHook(hook BeforePaymentHook) FlowOption {
	return func(f *Flow) {
		f.OnBeforePayment(hook)
	}
}

// WithAfterPaymentHook registers an after-payment hook at construction
func WithAfterPaymentHook(hook AfterPaymentHook) FlowOption {
	return func(f *Flow) {
		f.OnAfterPayment(hook)
	}
}

// WithStateChangeHook registers a state-change hook at construction
func WithStateChangeHook(hook StateChangeHook) FlowOption {
	return func(f *Flow) {
		f.OnStateChange(hook)
	}
}

// NewFlow creates a manual payment flow over client, settling with payer
func NewFlow(client AnalysisClient, payer Payer, opts ...FlowOption) *Flow {
	f := &Flow{
		client: client,
		payer:  payer,
		logger: zap.NewNop(),
		state:  StateIdle,
	}

	for _, opt := range opts {
		opt(f)
	}

	return f
}

// OnBeforePayment registers a hook run before the payer is invoked
func (f *Flow) OnBeforePayment(hook BeforePaymentHook) *Flow {
	f.beforePaymentHooks = append(f.beforePaymentHooks, hook)
	return f
}

// OnAfterPayment registers a hook run after a confirmed payment
func (f *Flow) OnAfterPayment(hook AfterPaymentHook) *Flow {
	f.afterPaymentHooks = append(f.afterPaymentHooks, hook)
	return f
}

// OnPaymentFailure registers a hook run when the payer fails
func (f *Flow) OnPaymentFailure(hook PaymentFailureHook) *Flow {
	f.paymentFailureHooks = append(f.paymentFailureHooks, hook)
	return f
}

// OnStateChange registers a hook run on every transition
func (f *Flow) OnStateChange(hook StateChangeHook) *Flow {
	f.stateChangeHooks = append(f.stateChangeHooks, hook)
	return f
}

// State returns the current state
func (f *Flow) State() FlowState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Transitions returns the ordered transition log
func (f *Flow) Transitions() []Transition {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]Transition, len(f.transitions))
	copy(out, f.transitions)
	return out
}

func (f *Flow) transition(to FlowState, cause error) {
	f.mu.Lock()
	from := f.state
	if !canTransition(from, to) {
		f.mu.Unlock()
		panic(fmt.Sprintf("x402: invalid flow transition %s -> %s", from, to))
	}
	t := Transition{From: from, To: to, At: time.Now(), Err: cause}
	f.state = to
	f.transitions = append(f.transitions, t)
	f.mu.Unlock()

	f.logger.Debug("flow transition",
		zap.Stringer("from", from),
		zap.Stringer("to", to),
		zap.Error(cause))

	for _, hook := range f.stateChangeHooks {
		hook(t)
	}
}

// begin moves an idle flow to Requested
func (f *Flow) begin() error {
	f.mu.Lock()
	if f.state != StateIdle {
		f.mu.Unlock()
		return ErrFlowAlreadyStarted
	}
	t := Transition{From: StateIdle, To: StateRequested, At: time.Now()}
	f.state = StateRequested
	f.transitions = append(f.transitions, t)
	f.mu.Unlock()

	for _, hook := range f.stateChangeHooks {
		hook(t)
	}
	return nil
}

func (f *Flow) fail(err error) (*FlowResult, error) {
	f.transition(StateFailed, err)
	return nil, err
}

// Run issues req. If the client signals payment required, Run pays the
// requirement with the payer and retries req with the resulting proof.
func (f *Flow) Run(ctx context.Context, req AnalysisRequest) (*FlowResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if err := f.begin(); err != nil {
		return nil, err
	}
	f.logger.Info("requesting analysis",
		zap.String("market", req.Market),
		zap.String("tier", string(req.Tier)))

	result, err := f.client.Analyze(ctx, req)
	if err == nil {
		f.transition(StateCompleted, nil)
		return &FlowResult{Result: result}, nil
	}

	var required *PaymentRequiredError
	if !errors.As(err, &required) {
		return f.fail(fmt.Errorf("analysis request failed: %w", err))
	}

	requirement := required.Requirement
	f.transition(StatePaymentRequired, nil)
	f.logger.Info("payment required",
		zap.Stringer("amount", requirement.Amount),
		zap.String("recipient", requirement.Recipient),
		zap.String("memo", requirement.Memo))

	if err := f.checkPayment(ctx, req, requirement); err != nil {
		return f.fail(err)
	}

	f.transition(StatePaying, nil)
	proof, err := f.pay(ctx, req, requirement)
	if err != nil {
		return f.fail(err)
	}

	f.transition(StateRetrying, nil)
	f.logger.Info("retrying with payment proof", zap.String("signature", proof.Signature))

	result, err = f.client.Analyze(ctx, req, WithProof(proof))
	if err != nil {
		if required, ok := asPaymentRequired(err); ok {
			rejected := &ProofRejectedError{
				Proof:       proof,
				Reason:      required.Required.Error,
				Requirement: &required.Requirement,
			}
			return f.fail(rejected)
		}
		return f.fail(fmt.Errorf("retry with proof failed: %w", err))
	}

	f.transition(StateCompleted, nil)
	return &FlowResult{
		Result:      result,
		Requirement: &requirement,
		Proof:       &proof,
	}, nil
}

func asPaymentRequired(err error) (*PaymentRequiredError, bool) {
	var required *PaymentRequiredError
	if errors.As(err, &required) {
		return required, true
	}
	return nil, false
}

// checkPayment validates the requirement and runs the before-payment hooks
func (f *Flow) checkPayment(ctx context.Context, req AnalysisRequest, requirement PaymentRequirement) error {
	if err := requirement.Validate(); err != nil {
		return err
	}

	if f.maxAmount != nil && requirement.Amount.GreaterThan(*f.maxAmount) {
		return fmt.Errorf("%w: %s > %s", ErrAmountExceedsLimit, requirement.Amount, f.maxAmount)
	}

	pc := PaymentContext{
		Ctx:         ctx,
		Request:     req,
		Requirement: requirement,
		Timestamp:   time.Now(),
	}
	for _, hook := range f.beforePaymentHooks {
		result, err := hook(pc)
		if err != nil {
			return fmt.Errorf("before payment hook: %w", err)
		}
		if result != nil && result.Abort {
			return fmt.Errorf("%w: %s", ErrPaymentAborted, result.Reason)
		}
	}
	return nil
}

func (f *Flow) pay(ctx context.Context, req AnalysisRequest, requirement PaymentRequirement) (PaymentProof, error) {
	pc := PaymentContext{
		Ctx:         ctx,
		Request:     req,
		Requirement: requirement,
		Timestamp:   time.Now(),
	}

	start := time.Now()
	proof, err := f.payer.Pay(ctx, requirement)
	duration := time.Since(start)

	if err != nil {
		f.logger.Warn("payment failed", zap.Error(err), zap.Duration("duration", duration))
		for _, hook := range f.paymentFailureHooks {
			hook(PaymentFailureContext{PaymentContext: pc, Error: err, Duration: duration})
		}
		return PaymentProof{}, fmt.Errorf("payment failed: %w", err)
	}

	f.logger.Info("payment confirmed",
		zap.String("signature", proof.Signature),
		zap.Duration("duration", duration))

	for _, hook := range f.afterPaymentHooks {
		if err := hook(PaymentResultContext{PaymentContext: pc, Proof: proof, Duration: duration}); err != nil {
			f.logger.Warn("after payment hook failed", zap.Error(err))
		}
	}
	return proof, nil
}
