package paywall

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	x402 "github.com/402nodo/nodo-x402-Solana"
)

// MemoPrefix prefixes the memo of every quote
const MemoPrefix = "nodo:"

// Quote errors
var (
	ErrQuoteNotFound = errors.New("paywall: no quote for memo")
	ErrQuoteExpired  = errors.New("paywall: quote expired")
	ErrProofReplayed = errors.New("paywall: proof already redeemed")
)

// Quote is a price offered for one analysis request. Its memo correlates
// the on-chain payment with the request.
type Quote struct {
	ID        string
	Memo      string
	Market    string
	Tier      x402.Tier
	Amount    decimal.Decimal
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Matches reports whether req is the request the quote was issued for
func (q *Quote) Matches(req x402.AnalysisRequest) bool {
	return q.Market == req.Market && q.Tier == req.Tier
}

// QuoteStore keeps outstanding quotes keyed by memo and the signatures that
// already redeemed one. A quote is redeemed at most once, and a signature
// redeems at most one quote.
type QuoteStore struct {
	mu       sync.Mutex
	quotes   map[string]*Quote
	inFlight map[string]string
	redeemed map[string]time.Time
	ttl      time.Duration
	now      func() time.Time
}

// NewQuoteStore creates a store whose quotes live for ttl
func NewQuoteStore(ttl time.Duration) *QuoteStore {
	return &QuoteStore{
		quotes:   make(map[string]*Quote),
		inFlight: make(map[string]string),
		redeemed: make(map[string]time.Time),
		ttl:      ttl,
		now:      time.Now,
	}
}

// Issue creates and stores a quote for req
func (s *QuoteStore) Issue(req x402.AnalysisRequest, amount decimal.Decimal) *Quote {
	id := uuid.NewString()
	now := s.now()
	q := &Quote{
		ID:        id,
		Memo:      MemoPrefix + id,
		Market:    req.Market,
		Tier:      req.Tier,
		Amount:    amount,
		IssuedAt:  now,
		ExpiresAt: now.Add(s.ttl),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.cleanupExpiredLocked(now)
	s.quotes[q.Memo] = q
	return q
}

// CheckAndMark atomically looks up the quote for memo and marks it in-flight
// for signature. Only one redemption of a quote can be in flight.
func (s *QuoteStore) CheckAndMark(memo, signature string) (*Quote, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, used := s.redeemed[signature]; used {
		return nil, ErrProofReplayed
	}

	q, ok := s.quotes[memo]
	if !ok {
		return nil, ErrQuoteNotFound
	}
	if s.now().After(q.ExpiresAt) {
		delete(s.quotes, memo)
		return nil, ErrQuoteExpired
	}
	if _, busy := s.inFlight[memo]; busy {
		return nil, ErrProofReplayed
	}

	s.inFlight[memo] = signature
	return q, nil
}

// Complete consumes the quote and records signature as redeemed
func (s *QuoteStore) Complete(memo string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	q, ok := s.quotes[memo]
	signature, marked := s.inFlight[memo]
	delete(s.inFlight, memo)
	delete(s.quotes, memo)
	if !ok || !marked {
		return
	}

	// remember the signature past the quote's own lifetime
	s.redeemed[signature] = q.ExpiresAt.Add(s.ttl)
}

// Fail releases the in-flight marker so the quote can be redeemed again
func (s *QuoteStore) Fail(memo string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inFlight, memo)
}

// Get returns the outstanding quote for memo
func (s *QuoteStore) Get(memo string) (*Quote, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := s.quotes[memo]
	return q, ok
}

// Len returns the number of outstanding quotes
func (s *QuoteStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.quotes)
}

// cleanupExpiredLocked removes expired entries. Must be called with lock held.
func (s *QuoteStore) cleanupExpiredLocked(now time.Time) {
	for memo, q := range s.quotes {
		if _, busy := s.inFlight[memo]; !busy && now.After(q.ExpiresAt) {
			delete(s.quotes, memo)
		}
	}
	for signature, expiry := range s.redeemed {
		if now.After(expiry) {
			delete(s.redeemed, signature)
		}
	}
}
