package paywall

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	x402 "github.com/402nodo/nodo-x402-Solana"
	x402http "github.com/402nodo/nodo-x402-Solana/http"
	"github.com/402nodo/nodo-x402-Solana/mechanisms/svm"
)

const (
	testPayTo = "4Nd1mYJ6qYzJbpNf3U5VtGZ8vZsD4w6ptYDzN2fJx3aT"
	// base58 strings of valid signature length
	sigA = "5VERv8NMvzbJMEkV8xnrLkEaWRtSz9CosKDYjCJjBRnbJLgp8uirBgmQpjKhoR4tjF3ZpRzrFmBV6UjKdiSZkQUW"
	sigB = "4cZ1ZqA9e5Xc2kM3cU4pWrQGqRoLjDcBp7wvS5hT8yZfNn3VqJHkLxRrA2tYbE9mU6dGsP1oKiWzXeCfQaVhT7uJ"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// fakeVerifier returns canned settlements by signature
type fakeVerifier struct {
	mu      sync.Mutex
	records map[string]*x402.SettlementRecord
	errs    map[string]error
}

func newFakeVerifier() *fakeVerifier {
	return &fakeVerifier{
		records: make(map[string]*x402.SettlementRecord),
		errs:    make(map[string]error),
	}
}

func (v *fakeVerifier) settle(signature, memo string, amount uint64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.records[signature] = &x402.SettlementRecord{
		Signature: signature,
		Memo:      memo,
		Recipient: testPayTo,
		Mint:      svm.USDCDevnetAddress,
		Amount:    amount,
	}
}

func (v *fakeVerifier) Verify(ctx context.Context, signature string) (*x402.SettlementRecord, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err, ok := v.errs[signature]; ok {
		return nil, err
	}
	record, ok := v.records[signature]
	if !ok {
		return nil, fmt.Errorf("%w: %s", svm.ErrProofNotFound, signature)
	}
	copied := *record
	return &copied, nil
}

type testServer struct {
	router   *gin.Engine
	verifier *fakeVerifier
	quotes   *QuoteStore
	metrics  *Metrics
	handled  int
}

func newTestServer(t *testing.T, handler gin.HandlerFunc) *testServer {
	t.Helper()

	s := &testServer{
		verifier: newFakeVerifier(),
		quotes:   NewQuoteStore(time.Minute),
		metrics:  NewMetrics(prometheus.NewRegistry()),
	}
	middleware, err := PaymentMiddleware(Config{
		PayTo:   testPayTo,
		Network: svm.SolanaDevnetCAIP2,
		Asset:   svm.USDCDevnetAddress,
	}, s.verifier, s.quotes, WithMetrics(s.metrics))
	require.NoError(t, err)

	if handler == nil {
		handler = AnalyzeHandler(StaticAnalyzer{})
	}
	s.router = gin.New()
	s.router.POST("/analyze", middleware, func(c *gin.Context) {
		s.handled++
		handler(c)
	})
	return s
}

func (s *testServer) post(body, proof string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/analyze", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if proof != "" {
		req.Header.Set(x402http.PaymentTxHeader, proof)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

const standardBody = `{"market":"Will SOL flip ETH?","tier":"standard"}`

func requirementFrom(t *testing.T, w *httptest.ResponseRecorder) (x402.PaymentRequired, x402.PaymentRequirement) {
	t.Helper()
	require.Equal(t, http.StatusPaymentRequired, w.Code)

	required, err := x402http.DecodePaymentRequiredHeader(w.Header().Get(x402http.PaymentRequiredHeader))
	require.NoError(t, err)
	requirement, err := x402.SelectRequirement(required)
	require.NoError(t, err)
	return required, requirement
}

func TestPaymentMiddlewareQuotes(t *testing.T) {
	s := newTestServer(t, nil)

	w := s.post(standardBody, "")
	_, requirement := requirementFrom(t, w)

	assert.True(t, requirement.Amount.Equal(decimal.RequireFromString("0.05")))
	assert.Equal(t, testPayTo, requirement.Recipient)
	assert.Equal(t, svm.USDCDevnetAddress, requirement.Asset)
	assert.Equal(t, x402.Network(svm.SolanaDevnetCAIP2), requirement.Network)
	assert.True(t, strings.HasPrefix(requirement.Memo, MemoPrefix))
	assert.Contains(t, w.Body.String(), `"accepts"`)
	assert.Equal(t, 0, s.handled)
	assert.Equal(t, 1, s.quotes.Len())
	assert.Equal(t, 1.0, testutil.ToFloat64(s.metrics.QuotesIssued.WithLabelValues("standard")))

	// every unpaid request gets its own memo
	_, other := requirementFrom(t, s.post(standardBody, ""))
	assert.NotEqual(t, requirement.Memo, other.Memo)
}

func TestPaymentMiddlewareAcceptsPaidProof(t *testing.T) {
	s := newTestServer(t, nil)

	_, requirement := requirementFrom(t, s.post(standardBody, ""))
	s.verifier.settle(sigA, requirement.Memo, 50_000)

	w := s.post(standardBody, sigA)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, 1, s.handled)

	record, err := x402http.DecodePaymentResponseHeader(w.Header().Get(x402http.PaymentResponseHeader))
	require.NoError(t, err)
	assert.Equal(t, sigA, record.Signature)
	assert.Equal(t, requirement.Memo, record.Memo)

	assert.Contains(t, w.Body.String(), `"cost":"0.05"`)
	quoteID := strings.TrimPrefix(requirement.Memo, MemoPrefix)
	assert.Contains(t, w.Body.String(), quoteID)

	assert.Equal(t, 0, s.quotes.Len())
	assert.Equal(t, 1.0, testutil.ToFloat64(s.metrics.ProofsAccepted.WithLabelValues("standard")))
}

func TestPaymentMiddlewareRejects(t *testing.T) {
	tests := []struct {
		name    string
		prepare func(s *testServer, memo string) string
		body    string
		code    string
	}{
		{
			name:    "malformed header",
			prepare: func(s *testServer, memo string) string { return "not base58 !" },
			code:    x402.ErrCodeInvalidRequest,
		},
		{
			name:    "unknown transaction",
			prepare: func(s *testServer, memo string) string { return sigB },
			code:    x402.ErrCodeProofNotFound,
		},
		{
			name: "unconfirmed transaction",
			prepare: func(s *testServer, memo string) string {
				s.verifier.errs[sigA] = svm.ErrProofUnconfirmed
				return sigA
			},
			code: x402.ErrCodeProofUnconfirmed,
		},
		{
			name: "failed transaction",
			prepare: func(s *testServer, memo string) string {
				s.verifier.errs[sigA] = x402.ErrTransactionFailed
				return sigA
			},
			code: x402.ErrCodeProofInvalid,
		},
		{
			name: "unrelated memo",
			prepare: func(s *testServer, memo string) string {
				s.verifier.settle(sigA, "nodo:someone-else", 50_000)
				return sigA
			},
			code: x402.ErrCodeQuoteNotFound,
		},
		{
			name: "underpaid",
			prepare: func(s *testServer, memo string) string {
				s.verifier.settle(sigA, memo, 49_999)
				return sigA
			},
			code: x402.ErrCodeAmountMismatch,
		},
		{
			name: "other recipient",
			prepare: func(s *testServer, memo string) string {
				s.verifier.settle(sigA, memo, 50_000)
				s.verifier.records[sigA].Recipient = "9xQeWvG816bUx9EPjHmaT23yvVM2ZWbrrpZb9PusVFin"
				return sigA
			},
			code: x402.ErrCodeRecipientMismatch,
		},
		{
			name: "other asset",
			prepare: func(s *testServer, memo string) string {
				s.verifier.settle(sigA, memo, 50_000)
				s.verifier.records[sigA].Mint = svm.USDCMainnetAddress
				return sigA
			},
			code: x402.ErrCodeAssetMismatch,
		},
		{
			name: "other request",
			prepare: func(s *testServer, memo string) string {
				s.verifier.settle(sigA, memo, 50_000)
				return sigA
			},
			body: `{"market":"Will SOL flip ETH?","tier":"deep"}`,
			code: x402.ErrCodeRequestMismatch,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t, nil)
			_, requirement := requirementFrom(t, s.post(standardBody, ""))

			proof := tt.prepare(s, requirement.Memo)
			body := tt.body
			if body == "" {
				body = standardBody
			}

			w := s.post(body, proof)
			required, fresh := requirementFrom(t, w)
			assert.True(t, strings.HasPrefix(required.Error, tt.code), "got %q", required.Error)
			assert.NotEqual(t, requirement.Memo, fresh.Memo)
			assert.Equal(t, 0, s.handled)
			assert.Equal(t, 1.0, testutil.ToFloat64(s.metrics.ProofsRejected.WithLabelValues(tt.code)))
		})
	}
}

func TestPaymentMiddlewareRejectsReplay(t *testing.T) {
	s := newTestServer(t, nil)

	_, requirement := requirementFrom(t, s.post(standardBody, ""))
	s.verifier.settle(sigA, requirement.Memo, 50_000)
	require.Equal(t, http.StatusOK, s.post(standardBody, sigA).Code)

	w := s.post(standardBody, sigA)
	required, _ := requirementFrom(t, w)
	assert.True(t, strings.HasPrefix(required.Error, x402.ErrCodeProofReplayed), "got %q", required.Error)
	assert.Equal(t, 1, s.handled)
}

func TestPaymentMiddlewareReleasesQuoteOnHandlerFailure(t *testing.T) {
	fail := true
	s := newTestServer(t, AnalyzeHandler(AnalyzerFunc(func(ctx context.Context, req x402.AnalysisRequest) (*x402.AnalysisResult, error) {
		if fail {
			return nil, fmt.Errorf("models unavailable")
		}
		return StaticAnalyzer{}.Analyze(ctx, req)
	})))

	_, requirement := requirementFrom(t, s.post(standardBody, ""))
	s.verifier.settle(sigA, requirement.Memo, 50_000)

	assert.Equal(t, http.StatusBadGateway, s.post(standardBody, sigA).Code)

	fail = false
	assert.Equal(t, http.StatusOK, s.post(standardBody, sigA).Code)
}

func TestPaymentMiddlewareBadRequest(t *testing.T) {
	s := newTestServer(t, nil)

	for _, body := range []string{
		`not json`,
		`{"market":"x"}`,
		`{"market":"","tier":"quick"}`,
		`{"market":"x","tier":"premium"}`,
		`{"market":"x","tier":"quick","extra":1}`,
	} {
		w := s.post(body, "")
		assert.Equal(t, http.StatusBadRequest, w.Code, body)
		assert.Contains(t, w.Body.String(), x402.ErrCodeInvalidRequest, body)
	}
	assert.Equal(t, 0, s.quotes.Len())
}

func TestPaymentMiddlewareConfig(t *testing.T) {
	quotes := NewQuoteStore(time.Minute)
	verifier := newFakeVerifier()

	_, err := PaymentMiddleware(Config{Network: svm.SolanaDevnetCAIP2, Asset: svm.USDCDevnetAddress}, verifier, quotes)
	assert.Error(t, err)
	_, err = PaymentMiddleware(Config{PayTo: testPayTo, Asset: svm.USDCDevnetAddress}, verifier, quotes)
	assert.Error(t, err)
	_, err = PaymentMiddleware(Config{PayTo: testPayTo, Network: svm.SolanaDevnetCAIP2}, verifier, quotes)
	assert.Error(t, err)
	_, err = PaymentMiddleware(Config{PayTo: testPayTo, Network: svm.SolanaDevnetCAIP2, Asset: svm.USDCDevnetAddress}, nil, quotes)
	assert.Error(t, err)
	_, err = PaymentMiddleware(Config{PayTo: testPayTo, Network: svm.SolanaDevnetCAIP2, Asset: svm.USDCDevnetAddress}, verifier, nil)
	assert.Error(t, err)
}

func TestPaymentMiddlewareCustomPrices(t *testing.T) {
	middleware, err := PaymentMiddleware(Config{
		PayTo:   testPayTo,
		Network: svm.SolanaDevnetCAIP2,
		Asset:   svm.USDCDevnetAddress,
		Prices:  map[x402.Tier]decimal.Decimal{x402.TierDeep: decimal.RequireFromString("1.5")},
	}, newFakeVerifier(), NewQuoteStore(time.Minute))
	require.NoError(t, err)

	router := gin.New()
	router.POST("/analyze", middleware, AnalyzeHandler(StaticAnalyzer{}))

	for tier, want := range map[string]string{"deep": "1.5", "quick": "0.01"} {
		req := httptest.NewRequest(http.MethodPost, "/analyze", strings.NewReader(`{"market":"m","tier":"`+tier+`"}`))
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		_, requirement := requirementFrom(t, w)
		assert.True(t, requirement.Amount.Equal(decimal.RequireFromString(want)), "%s: got %s", tier, requirement.Amount)
	}
}
