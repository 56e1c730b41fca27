package http

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	x402 "github.com/402nodo/nodo-x402-Solana"
)

// Header names used by the analysis API
const (
	// PaymentRequiredHeader carries the base64 JSON 402 body
	PaymentRequiredHeader = "PAYMENT-REQUIRED"
	// PaymentTxHeader carries the settlement transaction signature on retry
	PaymentTxHeader = "X-Payment-Tx"
	// PaymentResponseHeader echoes the accepted settlement on success
	PaymentResponseHeader = "PAYMENT-RESPONSE"
)

// EncodePaymentRequiredHeader encodes a 402 body as base64 JSON
func EncodePaymentRequiredHeader(required x402.PaymentRequired) (string, error) {
	data, err := json.Marshal(required)
	if err != nil {
		return "", fmt.Errorf("failed to marshal payment required: %w", err)
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// DecodePaymentRequiredHeader decodes a base64 PAYMENT-REQUIRED header
func DecodePaymentRequiredHeader(header string) (x402.PaymentRequired, error) {
	data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(header))
	if err != nil {
		return x402.PaymentRequired{}, fmt.Errorf("invalid base64 encoding: %w", err)
	}

	var required x402.PaymentRequired
	if err := json.Unmarshal(data, &required); err != nil {
		return x402.PaymentRequired{}, fmt.Errorf("invalid payment required JSON: %w", err)
	}

	return required, nil
}

// EncodePaymentResponseHeader encodes a settlement record as base64 JSON
func EncodePaymentResponseHeader(record x402.SettlementRecord) (string, error) {
	data, err := json.Marshal(record)
	if err != nil {
		return "", fmt.Errorf("failed to marshal settlement: %w", err)
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// DecodePaymentResponseHeader decodes a base64 PAYMENT-RESPONSE header
func DecodePaymentResponseHeader(header string) (x402.SettlementRecord, error) {
	data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(header))
	if err != nil {
		return x402.SettlementRecord{}, fmt.Errorf("invalid base64 encoding: %w", err)
	}

	var record x402.SettlementRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return x402.SettlementRecord{}, fmt.Errorf("invalid settlement JSON: %w", err)
	}

	return record, nil
}

// GetPaymentRequired extracts the 402 body from a response.
// The PAYMENT-REQUIRED header wins; the JSON body is the fallback.
// The response body is consumed.
func GetPaymentRequired(resp *http.Response) (x402.PaymentRequired, error) {
	var body []byte
	if resp.Body != nil {
		var err error
		body, err = io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return x402.PaymentRequired{}, fmt.Errorf("failed to read 402 response body: %w", err)
		}
	}

	if header := resp.Header.Get(PaymentRequiredHeader); header != "" {
		return DecodePaymentRequiredHeader(header)
	}

	if len(body) > 0 {
		var required x402.PaymentRequired
		if err := json.Unmarshal(body, &required); err == nil && len(required.Accepts) > 0 {
			return required, nil
		}
	}

	return x402.PaymentRequired{}, fmt.Errorf("%w: no payment required information found in response", x402.ErrUnexpectedResponse)
}
