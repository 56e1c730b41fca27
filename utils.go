package x402

import "fmt"

// ValidatePaymentRequired performs basic validation on a 402 response
func ValidatePaymentRequired(p PaymentRequired) error {
	if p.X402Version < 1 || p.X402Version > ProtocolVersion {
		return fmt.Errorf("%w: unsupported x402 version: %d", ErrInvalidRequirement, p.X402Version)
	}
	if len(p.Accepts) == 0 {
		return fmt.Errorf("%w: no payment options offered", ErrInvalidRequirement)
	}
	return nil
}

// ValidatePaymentRequirements performs basic validation on an accepts entry
func ValidatePaymentRequirements(r PaymentRequirements) error {
	if r.Scheme == "" {
		return fmt.Errorf("%w: payment scheme is required", ErrInvalidRequirement)
	}
	if r.Network == "" {
		return fmt.Errorf("%w: payment network is required", ErrInvalidRequirement)
	}
	if r.Asset == "" {
		return fmt.Errorf("%w: payment asset is required", ErrInvalidRequirement)
	}
	if r.Amount == "" {
		return fmt.Errorf("%w: payment amount is required", ErrInvalidRequirement)
	}
	if r.PayTo == "" {
		return fmt.Errorf("%w: payment recipient is required", ErrInvalidRequirement)
	}
	return nil
}

// SelectRequirement picks the first exact-scheme entry of a 402 response and
// converts it into a PaymentRequirement
func SelectRequirement(p PaymentRequired) (PaymentRequirement, error) {
	if err := ValidatePaymentRequired(p); err != nil {
		return PaymentRequirement{}, err
	}
	for _, accepted := range p.Accepts {
		if accepted.Scheme != SchemeExact {
			continue
		}
		return accepted.ToRequirement()
	}
	return PaymentRequirement{}, fmt.Errorf("%w: no %s payment option offered", ErrInvalidRequirement, SchemeExact)
}

// findByNetwork finds the entry registered for a network.
// This supports pattern matching for networks (e.g., "solana:*")
func findByNetwork[T any](networkMap map[Network]T, network Network) (T, bool) {
	if impl, exists := networkMap[network]; exists {
		return impl, true
	}

	for registered, impl := range networkMap {
		if network.Match(registered) || registered.Match(network) {
			return impl, true
		}
	}

	var zero T
	return zero, false
}
