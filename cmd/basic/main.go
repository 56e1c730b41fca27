package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"strings"

	x402 "github.com/402nodo/nodo-x402-Solana"
	"github.com/402nodo/nodo-x402-Solana/config"
	x402http "github.com/402nodo/nodo-x402-Solana/http"
)

// Requests one analysis with auto-pay: the 402 answer is settled on Solana
// and the request retried without any caller involvement.
func main() {
	configPath := flag.String("config", "", "path to a YAML config file (defaults to $NODO_CONFIG)")
	market := flag.String("market", "polymarket.com/event/btc-150k-2025", "market to analyze")
	tierName := flag.String("tier", string(x402.TierQuick), "analysis tier: quick, standard or deep")
	flag.Parse()

	if err := run(*configPath, *market, *tierName); err != nil {
		log.Fatalf("basic: %v", err)
	}
}

func run(configPath, market, tierName string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	cfg.API.AutoPay = true

	logger, err := config.NewLogger(cfg.Log)
	if err != nil {
		return err
	}
	defer logger.Sync()

	tier, err := x402.ParseTier(tierName)
	if err != nil {
		return err
	}
	price, _ := tier.Price()

	ledger := cfg.NewLedger(logger)
	defer ledger.Close()

	payer, err := cfg.NewPayer(ledger, logger)
	if err != nil {
		return err
	}

	client, err := cfg.NewClient(payer, logger)
	if err != nil {
		return err
	}
	defer client.Close()

	banner("x402 Protocol - Basic Example")
	fmt.Println("Making API request...")
	fmt.Printf("-> POST %s%s\n", client.BaseURL(), x402http.AnalyzePath)
	fmt.Printf("  market: %s\n", market)
	fmt.Printf("  tier: %s ($%s)\n", tier, price)
	fmt.Println()

	result, err := client.Analyze(context.Background(), x402.AnalysisRequest{Market: market, Tier: tier})
	if err != nil {
		return err
	}

	fmt.Println("Request successful!")
	fmt.Println()
	fmt.Printf("Consensus: %s\n", result.Consensus)
	fmt.Printf("Confidence: %.0f%%\n", result.Confidence)
	fmt.Printf("Agreement: %s\n", result.Agreement)
	fmt.Println()
	fmt.Printf("Payment: %s USDC\n", result.Cost)
	fmt.Printf("Request ID: %s\n", result.RequestID)
	fmt.Println()

	banner("Payment flow completed automatically!",
		"  * Detected 402 response",
		fmt.Sprintf("  * Sent %s USDC on Solana", result.Cost),
		"  * Retried with payment proof",
		"  * Got analysis result")
	return nil
}

func banner(lines ...string) {
	rule := strings.Repeat("=", 60)
	fmt.Println(rule)
	for _, line := range lines {
		fmt.Println("  " + line)
	}
	fmt.Println(rule)
	fmt.Println()
}
