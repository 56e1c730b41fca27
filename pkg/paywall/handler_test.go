package paywall

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	x402 "github.com/402nodo/nodo-x402-Solana"
)

func TestStaticAnalyzer(t *testing.T) {
	req := x402.AnalysisRequest{Market: "Will BTC close above 100k?", Tier: x402.TierDeep}

	first, err := StaticAnalyzer{}.Analyze(context.Background(), req)
	require.NoError(t, err)
	second, err := StaticAnalyzer{}.Analyze(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Contains(t, consensusLabels, first.Consensus)
	assert.Greater(t, first.Confidence, 50.0)
	assert.LessOrEqual(t, first.Confidence, 100.0)

	for _, tier := range x402.Tiers() {
		result, err := StaticAnalyzer{}.Analyze(context.Background(), x402.AnalysisRequest{Market: "m", Tier: tier})
		require.NoError(t, err)
		assert.Greater(t, result.Confidence, 50.0, tier)
	}
}

func TestAnalyzeHandlerWithoutQuote(t *testing.T) {
	router := gin.New()
	router.POST("/analyze", AnalyzeHandler(StaticAnalyzer{}))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/analyze", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}
