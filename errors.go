package x402

import (
	"errors"
	"fmt"
)

// Request and flow errors
var (
	ErrPaymentRequired    = errors.New("x402: payment required")
	ErrProofRejected      = errors.New("x402: payment proof rejected")
	ErrInvalidRequest     = errors.New("x402: invalid analysis request")
	ErrInvalidRequirement = errors.New("x402: invalid payment requirement")
	ErrUnexpectedResponse = errors.New("x402: unexpected response")
	ErrClientClosed       = errors.New("x402: client closed")
	ErrFlowAlreadyStarted = errors.New("x402: flow already started")
	ErrPaymentAborted     = errors.New("x402: payment aborted")
	ErrAmountExceedsLimit = errors.New("x402: amount exceeds limit")
	ErrUnsupportedNetwork = errors.New("x402: unsupported network")
	ErrPaidRequestFailed  = errors.New("x402: request failed after payment")
)

// Settlement errors
var (
	ErrSubmissionFailed    = errors.New("x402: transaction submission failed")
	ErrConfirmationTimeout = errors.New("x402: confirmation timeout")
	ErrTransactionFailed   = errors.New("x402: transaction failed")
	ErrInsufficientFunds   = errors.New("x402: insufficient funds")
	ErrInvalidKeypair      = errors.New("x402: invalid keypair")
)

// PaymentRequiredError is returned when a gated request needs payment.
// It is the only recoverable error: pay the requirement and retry with the proof.
type PaymentRequiredError struct {
	Requirement PaymentRequirement
	// Required is the raw 402 body the requirement was taken from
	Required PaymentRequired
}

func (e *PaymentRequiredError) Error() string {
	return fmt.Sprintf("%s: %s to %s (memo %q)", ErrPaymentRequired, e.Requirement.Amount, e.Requirement.Recipient, e.Requirement.Memo)
}

func (e *PaymentRequiredError) Unwrap() error {
	return ErrPaymentRequired
}

// ProofRejectedError is returned when a request carrying a proof is answered
// with another payment requirement
type ProofRejectedError struct {
	Proof  PaymentProof
	Reason string
	// Requirement is the fresh requirement the server answered with, if any
	Requirement *PaymentRequirement
}

func (e *ProofRejectedError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("%s: %s", ErrProofRejected, e.Proof.Signature)
	}
	return fmt.Sprintf("%s: %s: %s", ErrProofRejected, e.Proof.Signature, e.Reason)
}

func (e *ProofRejectedError) Unwrap() error {
	return ErrProofRejected
}

// PaidRequestError is returned when a request failed after auto-pay settled
// its requirement. The transfer is final: retry with WithProof(Proof)
// instead of paying again.
type PaidRequestError struct {
	Proof PaymentProof
	Err   error
}

func (e *PaidRequestError) Error() string {
	return fmt.Sprintf("%s: paid with %s: %v", ErrPaidRequestFailed, e.Proof.Signature, e.Err)
}

func (e *PaidRequestError) Is(target error) bool {
	return target == ErrPaidRequestFailed
}

func (e *PaidRequestError) Unwrap() error {
	return e.Err
}

// APIError is returned for a non-2xx, non-402 API response
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: status %d: %s", ErrUnexpectedResponse, e.StatusCode, e.Body)
}

func (e *APIError) Unwrap() error {
	return ErrUnexpectedResponse
}

// PaymentError is the coded error body a gated server answers with
type PaymentError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func (e *PaymentError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Server rejection codes
const (
	ErrCodePaymentRequired   = "payment_required"
	ErrCodeInvalidRequest    = "invalid_request"
	ErrCodeProofNotFound     = "proof_not_found"
	ErrCodeProofUnconfirmed  = "proof_unconfirmed"
	ErrCodeProofInvalid      = "proof_invalid"
	ErrCodeQuoteNotFound     = "quote_not_found"
	ErrCodeQuoteExpired      = "quote_expired"
	ErrCodeRequestMismatch   = "request_mismatch"
	ErrCodeRecipientMismatch = "recipient_mismatch"
	ErrCodeAssetMismatch     = "asset_mismatch"
	ErrCodeAmountMismatch    = "amount_mismatch"
	ErrCodeProofReplayed     = "proof_replayed"
)

// NewPaymentError creates a new payment error
func NewPaymentError(code, message string, details map[string]interface{}) *PaymentError {
	return &PaymentError{
		Code:    code,
		Message: message,
		Details: details,
	}
}
