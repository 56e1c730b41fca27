// Package paywall gates gin handlers behind x402 payments settled on Solana.
//
// A request without proof is answered 402 with a fresh quote whose memo must
// be carried by the payment. A request with an X-Payment-Tx header is served
// once the referenced transaction is confirmed, pays the quote's recipient in
// the quote's asset, and carries the memo of an outstanding quote for the same
// request.
package paywall

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	x402 "github.com/402nodo/nodo-x402-Solana"
	x402http "github.com/402nodo/nodo-x402-Solana/http"
	"github.com/402nodo/nodo-x402-Solana/mechanisms/svm"
)

// Context keys set on a paid request
const (
	quoteContextKey      = "x402_quote"
	requestContextKey    = "x402_request"
	settlementContextKey = "x402_settlement"
)

// Config describes what the gated endpoint charges and who is paid
type Config struct {
	// PayTo is the wallet credited by payments (required)
	PayTo string
	// Network is the CAIP-2 network payments settle on (required)
	Network x402.Network
	// Asset is the settlement mint (required)
	Asset string
	// Decimals of Asset. Default: 6
	Decimals uint8
	// Prices per tier. Default: the predefined tier prices
	Prices map[x402.Tier]decimal.Decimal
	// MaxTimeoutSeconds advertised in the accepts entry. Default: 60
	MaxTimeoutSeconds int
	// Resource advertised in 402 answers (optional)
	Resource *x402.ResourceInfo
}

func (c *Config) validate() error {
	if c.PayTo == "" {
		return errors.New("paywall: pay-to address is required")
	}
	if c.Network == "" {
		return errors.New("paywall: network is required")
	}
	if c.Asset == "" {
		return errors.New("paywall: asset is required")
	}
	if c.Decimals == 0 {
		c.Decimals = x402.DefaultAssetDecimals
	}
	if c.MaxTimeoutSeconds == 0 {
		c.MaxTimeoutSeconds = 60
	}
	if c.Prices == nil {
		c.Prices = make(map[x402.Tier]decimal.Decimal)
	}
	for _, tier := range x402.Tiers() {
		if _, ok := c.Prices[tier]; !ok {
			price, _ := tier.Price()
			c.Prices[tier] = price
		}
	}
	return nil
}

type options struct {
	logger  *zap.Logger
	metrics *Metrics
}

// Option configures PaymentMiddleware
type Option func(*options)

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMetrics records quote and proof counters
func WithMetrics(metrics *Metrics) Option {
	return func(o *options) {
		o.metrics = metrics
	}
}

// PaymentMiddleware is the gin middleware of a payment-gated analysis endpoint
func PaymentMiddleware(config Config, verifier x402.ProofVerifier, quotes *QuoteStore, opts ...Option) (gin.HandlerFunc, error) {
	if err := config.validate(); err != nil {
		return nil, err
	}
	if verifier == nil {
		return nil, errors.New("paywall: verifier is required")
	}
	if quotes == nil {
		return nil, errors.New("paywall: quote store is required")
	}

	o := &options{logger: zap.NewNop(), metrics: NewMetrics(nil)}
	for _, opt := range opts {
		opt(o)
	}

	g := &gate{config: config, verifier: verifier, quotes: quotes, logger: o.logger, metrics: o.metrics}
	return g.handle, nil
}

type gate struct {
	config   Config
	verifier x402.ProofVerifier
	quotes   *QuoteStore
	logger   *zap.Logger
	metrics  *Metrics
}

func (g *gate) handle(c *gin.Context) {
	req, ok := g.readRequest(c)
	if !ok {
		return
	}

	header := c.GetHeader(x402http.PaymentTxHeader)
	if header == "" {
		g.requirePayment(c, req, "payment required")
		return
	}

	proof, err := x402http.ValidatePaymentTxHeader(header)
	if err != nil {
		g.reject(c, req, x402.NewPaymentError(x402.ErrCodeInvalidRequest, err.Error(), nil))
		return
	}

	record, perr := g.verify(c.Request.Context(), proof)
	if perr != nil {
		g.reject(c, req, perr)
		return
	}

	quote, err := g.quotes.CheckAndMark(record.Memo, record.Signature)
	if err != nil {
		g.reject(c, req, quoteError(err, record))
		return
	}

	if perr := g.checkSettlement(quote, req, record); perr != nil {
		g.quotes.Fail(quote.Memo)
		g.reject(c, req, perr)
		return
	}

	responseHeader, err := x402http.EncodePaymentResponseHeader(*record)
	if err != nil {
		g.quotes.Fail(quote.Memo)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	g.logger.Info("payment accepted",
		zap.String("quote", quote.ID),
		zap.String("signature", record.Signature),
		zap.Uint64("amount", record.Amount))

	c.Set(quoteContextKey, quote)
	c.Set(requestContextKey, req)
	c.Set(settlementContextKey, record)
	c.Header(x402http.PaymentResponseHeader, responseHeader)

	c.Next()

	if c.IsAborted() || c.Writer.Status() >= http.StatusBadRequest {
		g.logger.Warn("handler failed, quote released", zap.String("quote", quote.ID), zap.Int("status", c.Writer.Status()))
		g.quotes.Fail(quote.Memo)
		return
	}
	g.quotes.Complete(quote.Memo)
	g.metrics.ProofsAccepted.WithLabelValues(string(req.Tier)).Inc()
}

// readRequest validates and decodes the body, leaving it readable for the handler
func (g *gate) readRequest(c *gin.Context) (x402.AnalysisRequest, bool) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		g.badRequest(c, fmt.Sprintf("failed to read body: %v", err))
		return x402.AnalysisRequest{}, false
	}
	c.Request.Body = io.NopCloser(bytes.NewReader(body))

	if err := ValidateRequestBody(body); err != nil {
		g.badRequest(c, err.Error())
		return x402.AnalysisRequest{}, false
	}

	var req x402.AnalysisRequest
	if err := json.Unmarshal(body, &req); err != nil {
		g.badRequest(c, fmt.Sprintf("invalid request body: %v", err))
		return x402.AnalysisRequest{}, false
	}
	if err := req.Validate(); err != nil {
		g.badRequest(c, err.Error())
		return x402.AnalysisRequest{}, false
	}
	return req, true
}

func (g *gate) badRequest(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, x402.NewPaymentError(x402.ErrCodeInvalidRequest, message, nil))
}

// requirePayment issues a quote for req and answers 402
func (g *gate) requirePayment(c *gin.Context, req x402.AnalysisRequest, reason string) {
	quote := g.quotes.Issue(req, g.config.Prices[req.Tier])
	g.metrics.QuotesIssued.WithLabelValues(string(req.Tier)).Inc()

	requirement := x402.PaymentRequirement{
		Amount:    quote.Amount,
		Recipient: g.config.PayTo,
		Memo:      quote.Memo,
		Asset:     g.config.Asset,
		Network:   g.config.Network,
		Decimals:  g.config.Decimals,
	}
	required := x402.PaymentRequired{
		X402Version: x402.ProtocolVersion,
		Error:       reason,
		Resource:    g.config.Resource,
		Accepts:     []x402.PaymentRequirements{x402.NewPaymentRequirements(requirement, g.config.MaxTimeoutSeconds)},
	}

	header, err := x402http.EncodePaymentRequiredHeader(required)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	g.logger.Debug("quote issued",
		zap.String("quote", quote.ID),
		zap.String("market", req.Market),
		zap.String("tier", string(req.Tier)),
		zap.Stringer("amount", quote.Amount))

	c.Header(x402http.PaymentRequiredHeader, header)
	c.AbortWithStatusJSON(http.StatusPaymentRequired, required)
}

// reject answers a refused proof with 402 and a fresh quote
func (g *gate) reject(c *gin.Context, req x402.AnalysisRequest, perr *x402.PaymentError) {
	g.metrics.ProofsRejected.WithLabelValues(perr.Code).Inc()
	g.logger.Info("payment proof rejected",
		zap.String("code", perr.Code),
		zap.String("reason", perr.Message))
	g.requirePayment(c, req, perr.Error())
}

func (g *gate) verify(ctx context.Context, proof x402.PaymentProof) (*x402.SettlementRecord, *x402.PaymentError) {
	record, err := g.verifier.Verify(ctx, proof.Signature)
	if err == nil {
		return record, nil
	}

	switch {
	case errors.Is(err, svm.ErrProofNotFound):
		return nil, x402.NewPaymentError(x402.ErrCodeProofNotFound, err.Error(), nil)
	case errors.Is(err, svm.ErrProofUnconfirmed):
		return nil, x402.NewPaymentError(x402.ErrCodeProofUnconfirmed, err.Error(), nil)
	case errors.Is(err, svm.ErrNoCredit):
		return nil, x402.NewPaymentError(x402.ErrCodeAmountMismatch, err.Error(), nil)
	default:
		return nil, x402.NewPaymentError(x402.ErrCodeProofInvalid, err.Error(), nil)
	}
}

func quoteError(err error, record *x402.SettlementRecord) *x402.PaymentError {
	details := map[string]interface{}{"memo": record.Memo}
	switch {
	case errors.Is(err, ErrProofReplayed):
		return x402.NewPaymentError(x402.ErrCodeProofReplayed, err.Error(), details)
	case errors.Is(err, ErrQuoteExpired):
		return x402.NewPaymentError(x402.ErrCodeQuoteExpired, err.Error(), details)
	default:
		return x402.NewPaymentError(x402.ErrCodeQuoteNotFound, err.Error(), details)
	}
}

// checkSettlement matches a verified settlement against its quote
func (g *gate) checkSettlement(quote *Quote, req x402.AnalysisRequest, record *x402.SettlementRecord) *x402.PaymentError {
	if !quote.Matches(req) {
		return x402.NewPaymentError(x402.ErrCodeRequestMismatch,
			"quote was issued for another request",
			map[string]interface{}{"market": quote.Market, "tier": string(quote.Tier)})
	}
	if record.Recipient != g.config.PayTo {
		return x402.NewPaymentError(x402.ErrCodeRecipientMismatch,
			fmt.Sprintf("payment credited %s, expected %s", record.Recipient, g.config.PayTo), nil)
	}
	if record.Mint != g.config.Asset {
		return x402.NewPaymentError(x402.ErrCodeAssetMismatch,
			fmt.Sprintf("payment in %s, expected %s", record.Mint, g.config.Asset), nil)
	}

	want, err := svm.ToAtomicUnits(quote.Amount, g.config.Decimals)
	if err != nil {
		return x402.NewPaymentError(x402.ErrCodeAmountMismatch, err.Error(), nil)
	}
	if record.Amount < want {
		return x402.NewPaymentError(x402.ErrCodeAmountMismatch,
			fmt.Sprintf("paid %s, quoted %s",
				svm.FormatAmount(record.Amount, g.config.Decimals),
				svm.FormatAmount(want, g.config.Decimals)), nil)
	}
	return nil
}

// QuoteFromContext returns the quote redeemed by a paid request
func QuoteFromContext(c *gin.Context) (*Quote, bool) {
	v, ok := c.Get(quoteContextKey)
	if !ok {
		return nil, false
	}
	q, ok := v.(*Quote)
	return q, ok
}

// RequestFromContext returns the decoded analysis request of a paid request
func RequestFromContext(c *gin.Context) (x402.AnalysisRequest, bool) {
	v, ok := c.Get(requestContextKey)
	if !ok {
		return x402.AnalysisRequest{}, false
	}
	req, ok := v.(x402.AnalysisRequest)
	return req, ok
}

// SettlementFromContext returns the verified settlement of a paid request
func SettlementFromContext(c *gin.Context) (*x402.SettlementRecord, bool) {
	v, ok := c.Get(settlementContextKey)
	if !ok {
		return nil, false
	}
	record, ok := v.(*x402.SettlementRecord)
	return record, ok
}
