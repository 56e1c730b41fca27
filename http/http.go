// Package http provides the HTTP client of the payment-gated analysis API.
// It speaks the x402 wire format: a 402 answer carries the PAYMENT-REQUIRED
// header and a paid retry carries the settlement signature in X-Payment-Tx.
package http

import (
	"net/http"
	"time"

	x402 "github.com/402nodo/nodo-x402-Solana"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// DefaultBaseURL is the public analysis API
const DefaultBaseURL = "https://api.nodo.ai"

// AnalyzePath is the gated analysis endpoint, relative to the base URL
const AnalyzePath = "/analyze"

// DefaultTimeout bounds a single HTTP exchange
const DefaultTimeout = 30 * time.Second

// rateLimitRetries is the number of attempts made on 429 rate limit answers
const rateLimitRetries = 3

// rateLimitRetryBaseDelay is the base delay for exponential backoff on 429
const rateLimitRetryBaseDelay = 1 * time.Second

// ClientConfig configures the analysis API client
type ClientConfig struct {
	// BaseURL of the API (optional, defaults to DefaultBaseURL)
	BaseURL string

	// HTTPClient is the HTTP client to use (optional). Its transport is wrapped
	// when AutoPay is set.
	HTTPClient *http.Client

	// Timeout for requests (optional, defaults to 30s). Ignored when HTTPClient is set.
	Timeout time.Duration

	// AutoPay settles 402 answers with Payer and retries transparently
	AutoPay bool

	// Payer settles requirements when AutoPay is set
	Payer x402.Payer

	// MaxAmount caps what auto-pay will settle for one request (optional)
	MaxAmount *decimal.Decimal

	// Logger (optional, defaults to a no-op logger)
	Logger *zap.Logger

	// RetryBaseDelay overrides the 429 backoff base (optional)
	RetryBaseDelay time.Duration
}

// AnalysisBody is the analysis part of a successful response
type AnalysisBody struct {
	Consensus  string  `json:"consensus"`
	Confidence float64 `json:"confidence"`
	Agreement  string  `json:"agreement"`
}

// MetaBody is the billing part of a successful response
type MetaBody struct {
	Cost      string `json:"cost"`
	RequestID string `json:"requestId"`
}

// AnalyzeResponse is the 200 body of the analysis endpoint
type AnalyzeResponse struct {
	Analysis AnalysisBody `json:"analysis"`
	Meta     MetaBody     `json:"meta"`
}

// NewAnalyzeResponse builds the wire body for a result
func NewAnalyzeResponse(result x402.AnalysisResult) AnalyzeResponse {
	return AnalyzeResponse{
		Analysis: AnalysisBody{
			Consensus:  result.Consensus,
			Confidence: result.Confidence,
			Agreement:  result.Agreement,
		},
		Meta: MetaBody{
			Cost:      result.Cost,
			RequestID: result.RequestID,
		},
	}
}

// Result flattens the wire body into an AnalysisResult
func (r AnalyzeResponse) Result() *x402.AnalysisResult {
	return &x402.AnalysisResult{
		Consensus:  r.Analysis.Consensus,
		Confidence: r.Analysis.Confidence,
		Agreement:  r.Analysis.Agreement,
		Cost:       r.Meta.Cost,
		RequestID:  r.Meta.RequestID,
	}
}
