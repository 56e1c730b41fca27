package svm

import (
	"context"
	"fmt"
	"time"

	solana "github.com/gagliardetto/solana-go"
	"go.uber.org/zap"

	x402 "github.com/402nodo/nodo-x402-Solana"
)

// WaitForConfirmation polls the ledger until sig reaches confirmed or finalized.
// It fails with x402.ErrConfirmationTimeout once timeout elapses and with
// x402.ErrTransactionFailed when the transaction landed with an error.
// Transient status lookup errors are retried until the deadline.
func WaitForConfirmation(ctx context.Context, ledger Ledger, sig solana.Signature, timeout, interval time.Duration, logger *zap.Logger) error {
	if timeout <= 0 {
		timeout = DefaultConfirmationTimeout
	}
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		status, err := ledger.SignatureStatus(ctx, sig)
		switch {
		case err != nil:
			logger.Debug("signature status lookup failed", zap.String("signature", sig.String()), zap.Error(err))
		case status == nil:
			// not yet seen by the cluster
		case status.Err != nil:
			return fmt.Errorf("%w: %s: %v", x402.ErrTransactionFailed, sig, status.Err)
		case status.Confirmed():
			logger.Debug("transaction confirmed",
				zap.String("signature", sig.String()),
				zap.String("commitment", string(status.Commitment)),
				zap.Uint64("slot", status.Slot))
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return fmt.Errorf("%w: %s not confirmed after %s", x402.ErrConfirmationTimeout, sig, timeout)
		case <-ticker.C:
		}
	}
}
