package x402

import (
	"context"
	"fmt"
	"sync"
)

// PayerRegistry routes a payment requirement to the payer registered for its network.
// It is itself a Payer, so it can be handed to an auto-paying client or a Flow.
type PayerRegistry struct {
	mu     sync.RWMutex
	payers map[Network]Payer
}

// NewPayerRegistry creates an empty registry
func NewPayerRegistry() *PayerRegistry {
	return &PayerRegistry{
		payers: make(map[Network]Payer),
	}
}

// Register registers a payer for a network or network pattern ("solana:*")
func (r *PayerRegistry) Register(network Network, payer Payer) *PayerRegistry {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.payers[network] = payer
	return r
}

// Networks returns the registered network patterns
func (r *PayerRegistry) Networks() []Network {
	r.mu.RLock()
	defer r.mu.RUnlock()

	networks := make([]Network, 0, len(r.payers))
	for network := range r.payers {
		networks = append(networks, network)
	}
	return networks
}

// CanPay reports whether a payer is registered for the requirement's network
func (r *PayerRegistry) CanPay(requirement PaymentRequirement) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := findByNetwork(r.payers, requirement.Network)
	return ok
}

// Pay settles the requirement with the payer registered for its network
func (r *PayerRegistry) Pay(ctx context.Context, requirement PaymentRequirement) (PaymentProof, error) {
	r.mu.RLock()
	payer, ok := findByNetwork(r.payers, requirement.Network)
	r.mu.RUnlock()

	if !ok {
		return PaymentProof{}, fmt.Errorf("%w: no payer registered for %s", ErrUnsupportedNetwork, requirement.Network)
	}
	return payer.Pay(ctx, requirement)
}
