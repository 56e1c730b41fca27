package paywall

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	x402 "github.com/402nodo/nodo-x402-Solana"
	x402http "github.com/402nodo/nodo-x402-Solana/http"
)

// Analyzer produces the analysis served for a paid request
type Analyzer interface {
	Analyze(ctx context.Context, req x402.AnalysisRequest) (*x402.AnalysisResult, error)
}

// AnalyzerFunc adapts a function to the Analyzer interface
type AnalyzerFunc func(ctx context.Context, req x402.AnalysisRequest) (*x402.AnalysisResult, error)

// Analyze calls f
func (f AnalyzerFunc) Analyze(ctx context.Context, req x402.AnalysisRequest) (*x402.AnalysisResult, error) {
	return f(ctx, req)
}

// AnalyzeHandler serves the analysis of a request that passed PaymentMiddleware.
// Cost and RequestID are taken from the redeemed quote.
func AnalyzeHandler(analyzer Analyzer) gin.HandlerFunc {
	return func(c *gin.Context) {
		quote, ok := QuoteFromContext(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "no redeemed quote on request"})
			return
		}
		req, ok := RequestFromContext(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "no analysis request on context"})
			return
		}

		result, err := analyzer.Analyze(c.Request.Context(), req)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadGateway, gin.H{"error": err.Error()})
			return
		}

		result.Cost = quote.Amount.String()
		result.RequestID = quote.ID
		c.JSON(http.StatusOK, x402http.NewAnalyzeResponse(*result))
	}
}

var consensusLabels = []string{"bullish", "bearish", "neutral"}

// modelsPerTier is the number of models polled by each tier
var modelsPerTier = map[x402.Tier]int{
	x402.TierQuick:    3,
	x402.TierStandard: 5,
	x402.TierDeep:     9,
}

// StaticAnalyzer derives a deterministic consensus from the market text.
// It stands in for the model ensemble in development and tests.
type StaticAnalyzer struct{}

// Analyze implements Analyzer
func (StaticAnalyzer) Analyze(_ context.Context, req x402.AnalysisRequest) (*x402.AnalysisResult, error) {
	sum := sha256.Sum256([]byte(req.Market))
	n := binary.BigEndian.Uint64(sum[:8])

	models := modelsPerTier[req.Tier]
	if models == 0 {
		models = 3
	}
	// a strict majority, up to every model
	agreeing := models/2 + 1 + int(n%uint64(models-models/2))

	return &x402.AnalysisResult{
		Consensus:  consensusLabels[n%uint64(len(consensusLabels))],
		Confidence: decimal.NewFromInt(int64(agreeing*100)).Div(decimal.NewFromInt(int64(models))).Round(1).InexactFloat64(),
		Agreement:  fmt.Sprintf("%d/%d", agreeing, models),
	}, nil
}
