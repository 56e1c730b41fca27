package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	x402 "github.com/402nodo/nodo-x402-Solana"
	"go.uber.org/zap"
)

// ============================================================================
// Client - analysis API client
// ============================================================================

// Client calls the payment-gated analysis API.
// Without auto-pay a 402 answer surfaces as *x402.PaymentRequiredError.
type Client struct {
	baseURL        string
	httpClient     *http.Client
	autoPay        bool
	logger         *zap.Logger
	retryBaseDelay time.Duration
	closed         atomic.Bool
}

var _ x402.AnalysisClient = (*Client)(nil)

// NewClient creates an analysis API client
func NewClient(config *ClientConfig) (*Client, error) {
	if config == nil {
		config = &ClientConfig{}
	}

	baseURL := strings.TrimRight(config.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		timeout := config.Timeout
		if timeout == 0 {
			timeout = DefaultTimeout
		}
		httpClient = &http.Client{
			Timeout: timeout,
		}
	}

	if config.AutoPay {
		if config.Payer == nil {
			return nil, fmt.Errorf("auto-pay requires a payer")
		}
		opts := []RoundTripperOption{WithRoundTripperLogger(logger)}
		if config.MaxAmount != nil {
			opts = append(opts, WithPaymentLimit(*config.MaxAmount))
		}
		httpClient = WrapHTTPClientWithPayment(httpClient, config.Payer, opts...)
	}

	retryBaseDelay := config.RetryBaseDelay
	if retryBaseDelay == 0 {
		retryBaseDelay = rateLimitRetryBaseDelay
	}

	return &Client{
		baseURL:        baseURL,
		httpClient:     httpClient,
		autoPay:        config.AutoPay,
		logger:         logger,
		retryBaseDelay: retryBaseDelay,
	}, nil
}

// BaseURL returns the API base URL
func (c *Client) BaseURL() string {
	return c.baseURL
}

// AutoPay reports whether 402 answers are settled transparently
func (c *Client) AutoPay() bool {
	return c.autoPay
}

// Analyze requests an analysis of req.Market at req.Tier.
// Makes at most 3 attempts, with exponential backoff, on 429 rate limit errors.
// When auto-pay settled the requirement and the request still failed, the
// error is a *x402.PaidRequestError carrying the proof.
func (c *Client) Analyze(ctx context.Context, req x402.AnalysisRequest, opts ...x402.RequestOption) (*x402.AnalysisResult, error) {
	if c.closed.Load() {
		return nil, x402.ErrClientClosed
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	options := x402.NewRequestOptions(opts...)

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal analysis request: %w", err)
	}

	holder := &paidProof{}
	result, err := c.send(withPaidProof(ctx, holder), req, body, options)
	if err == nil {
		return result, nil
	}

	// Auto-pay settled but the paid request did not go through
	paid := holder.get()
	var rejected *x402.ProofRejectedError
	if paid != nil && options.Proof == nil && !errors.As(err, &rejected) {
		c.logger.Warn("request failed after payment",
			zap.String("signature", paid.Signature),
			zap.Error(err))
		return nil, &x402.PaidRequestError{Proof: *paid, Err: err}
	}
	return nil, err
}

// send posts body, retrying 429 answers with exponential backoff
func (c *Client) send(ctx context.Context, req x402.AnalysisRequest, body []byte, options x402.RequestOptions) (*x402.AnalysisResult, error) {
	holder := paidProofFrom(ctx)

	var lastErr error
	for attempt := range rateLimitRetries {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+AnalyzePath, bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("failed to create analysis request: %w", err)
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("Accept", "application/json")
		for k, v := range options.Headers {
			httpReq.Header.Set(k, v)
		}

		proof := options.Proof
		if proof == nil && holder != nil {
			proof = holder.get()
		}
		if proof != nil {
			httpReq.Header.Set(PaymentTxHeader, proof.Signature)
		}

		c.logger.Debug("sending analysis request",
			zap.String("market", req.Market),
			zap.String("tier", string(req.Tier)),
			zap.Bool("withProof", proof != nil),
			zap.Int("attempt", attempt+1))

		resp, err := c.httpClient.Do(httpReq)
		if err != nil {
			return nil, fmt.Errorf("analysis request failed: %w", err)
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			responseBody, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			lastErr = &x402.APIError{StatusCode: resp.StatusCode, Body: string(responseBody)}

			// Retry on 429 with exponential backoff, except on the last attempt
			if attempt < rateLimitRetries-1 {
				delay := c.retryBaseDelay * time.Duration(1<<uint(attempt))
				c.logger.Warn("rate limited, backing off", zap.Duration("delay", delay))
				select {
				case <-time.After(delay):
					continue
				case <-ctx.Done():
					return nil, ctx.Err()
				}
			}
			return nil, lastErr
		}

		return c.handleResponse(resp)
	}

	return nil, lastErr
}

func (c *Client) handleResponse(resp *http.Response) (*x402.AnalysisResult, error) {
	if resp.StatusCode == http.StatusPaymentRequired {
		return nil, c.paymentRequired(resp)
	}

	defer resp.Body.Close()
	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &x402.APIError{StatusCode: resp.StatusCode, Body: string(responseBody)}
	}

	var analyzeResponse AnalyzeResponse
	if err := json.Unmarshal(responseBody, &analyzeResponse); err != nil {
		return nil, fmt.Errorf("%w: failed to decode analysis response: %s", x402.ErrUnexpectedResponse, err.Error())
	}

	return analyzeResponse.Result(), nil
}

// paymentRequired turns a 402 answer into the matching typed error
func (c *Client) paymentRequired(resp *http.Response) error {
	paymentRequired, err := GetPaymentRequired(resp)
	if err != nil {
		return err
	}

	var signature string
	if resp.Request != nil {
		signature = resp.Request.Header.Get(PaymentTxHeader)
	}

	requirement, selectErr := x402.SelectRequirement(paymentRequired)

	if signature != "" {
		rejected := &x402.ProofRejectedError{
			Proof:  x402.PaymentProof{Signature: signature},
			Reason: paymentRequired.Error,
		}
		if selectErr == nil {
			rejected.Requirement = &requirement
		}
		c.logger.Warn("payment proof rejected",
			zap.String("signature", signature),
			zap.String("reason", paymentRequired.Error))
		return rejected
	}

	if selectErr != nil {
		return selectErr
	}
	return &x402.PaymentRequiredError{
		Requirement: requirement,
		Required:    paymentRequired,
	}
}

// Close releases idle connections. Later calls fail with x402.ErrClientClosed.
func (c *Client) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	c.httpClient.CloseIdleConnections()
	return nil
}
