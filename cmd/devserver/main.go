package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/402nodo/nodo-x402-Solana/config"
	x402http "github.com/402nodo/nodo-x402-Solana/http"
	"github.com/402nodo/nodo-x402-Solana/mechanisms/svm"
	"github.com/402nodo/nodo-x402-Solana/pkg/paywall"
)

// Serves a payment-gated /analyze endpoint backed by the deterministic
// analyzer, for exercising the clients against devnet.
func main() {
	configPath := flag.String("config", "", "path to a YAML config file (defaults to $NODO_CONFIG)")
	flag.Parse()

	if err := run(*configPath); err != nil {
		log.Fatalf("devserver: %v", err)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger, err := config.NewLogger(cfg.Log)
	if err != nil {
		return err
	}
	defer logger.Sync()

	paywallConfig, err := cfg.PaywallConfig()
	if err != nil {
		return err
	}

	ledger := cfg.NewLedger(logger)
	defer ledger.Close()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	quotes := paywall.NewQuoteStore(cfg.Timeouts.QuoteTTL)
	middleware, err := paywall.PaymentMiddleware(paywallConfig,
		svm.NewLedgerVerifier(ledger, logger),
		quotes,
		paywall.WithLogger(logger),
		paywall.WithMetrics(paywall.NewMetrics(registry)))
	if err != nil {
		return err
	}

	if !cfg.Log.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(logger))

	router.POST(x402http.AnalyzePath, middleware, paywall.AnalyzeHandler(paywall.StaticAnalyzer{}))
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"network": paywallConfig.Network,
			"payTo":   paywallConfig.PayTo,
			"quotes":  quotes.Len(),
		})
	})

	server := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("listening",
			zap.String("addr", server.Addr),
			zap.String("network", string(paywallConfig.Network)),
			zap.String("pay_to", paywallConfig.PayTo))
		serverErrors <- server.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case sig := <-shutdown:
		logger.Info("shutting down", zap.Stringer("signal", sig))
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return server.Shutdown(ctx)
	}
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("remote_addr", c.ClientIP()))
	}
}
