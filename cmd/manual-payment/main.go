package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"strings"
	"time"

	x402 "github.com/402nodo/nodo-x402-Solana"
	"github.com/402nodo/nodo-x402-Solana/config"
)

// Walks the manual payment flow step by step: request, 402, transfer, retry
// with the proof. Each step is printed from the flow's hooks.
func main() {
	configPath := flag.String("config", "", "path to a YAML config file (defaults to $NODO_CONFIG)")
	market := flag.String("market", "polymarket.com/event/btc-150k-2025", "market to analyze")
	tierName := flag.String("tier", string(x402.TierQuick), "analysis tier: quick, standard or deep")
	flag.Parse()

	if err := run(*configPath, *market, *tierName); err != nil {
		log.Fatalf("manual-payment: %v", err)
	}
}

func run(configPath, market, tierName string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	cfg.API.AutoPay = false

	logger, err := config.NewLogger(cfg.Log)
	if err != nil {
		return err
	}
	defer logger.Sync()

	tier, err := x402.ParseTier(tierName)
	if err != nil {
		return err
	}
	req := x402.AnalysisRequest{Market: market, Tier: tier}

	ledger := cfg.NewLedger(logger)
	defer ledger.Close()

	payer, err := cfg.NewPayer(ledger, logger)
	if err != nil {
		return err
	}

	client, err := cfg.NewClient(nil, logger)
	if err != nil {
		return err
	}
	defer client.Close()

	sender := short(payer.Address().String(), 8)
	flow := x402.NewFlow(client, payer, x402.WithFlowLogger(logger)).
		OnStateChange(narrate).
		OnBeforePayment(func(pc x402.PaymentContext) (*x402.BeforePaymentResult, error) {
			fmt.Println("2. Got 402 Payment Required")
			fmt.Printf("   Amount: $%s\n", pc.Requirement.Amount)
			fmt.Printf("   Recipient: %s...\n", short(pc.Requirement.Recipient, 8))
			fmt.Printf("   Memo: %s\n", pc.Requirement.Memo)
			fmt.Println()
			fmt.Println("3. Sending payment manually...")
			fmt.Printf("   Sending $%s USDC from %s...\n", pc.Requirement.Amount, sender)
			return nil, nil
		}).
		OnAfterPayment(func(rc x402.PaymentResultContext) error {
			fmt.Printf("   Transaction confirmed: %s... (%v)\n", short(rc.Proof.Signature, 16), rc.Duration.Round(time.Millisecond))
			fmt.Println()
			return nil
		}).
		OnPaymentFailure(func(fc x402.PaymentFailureContext) {
			fmt.Printf("   Payment failed after %v: %v\n", fc.Duration.Round(time.Millisecond), fc.Error)
		})

	banner("x402 Manual Payment Example")
	result, err := flow.Run(context.Background(), req)
	if err != nil {
		return fmt.Errorf("flow failed in state %s: %w", flow.State(), err)
	}

	if !result.Paid() {
		printResult("2. Served without payment", result.Result)
		return nil
	}
	printResult("5. Success!", result.Result)
	banner("Manual payment flow completed!")
	return nil
}

// narrate prints the request steps; the payment steps come from the payment hooks
func narrate(t x402.Transition) {
	switch t.To {
	case x402.StateRequested:
		fmt.Println("1. Making request without payment...")
	case x402.StateRetrying:
		fmt.Println("4. Retrying request with payment proof...")
	}
}

func printResult(title string, result *x402.AnalysisResult) {
	fmt.Println(title)
	fmt.Printf("   Consensus: %s\n", result.Consensus)
	fmt.Printf("   Confidence: %.0f%%\n", result.Confidence)
	fmt.Printf("   Request ID: %s\n", result.RequestID)
	fmt.Println()
}

func short(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
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
