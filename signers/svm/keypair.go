package svm

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	solana "github.com/gagliardetto/solana-go"

	x402 "github.com/402nodo/nodo-x402-Solana"
)

// DefaultKeypairPath is where solana-keygen writes the default wallet
const DefaultKeypairPath = "~/.config/solana/id.json"

// ExpandPath resolves a leading ~ to the user's home directory
func ExpandPath(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to resolve home directory: %w", err)
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}

// LoadKeypair reads a solana-keygen JSON file (a 64 byte array).
// Every failure wraps x402.ErrInvalidKeypair.
func LoadKeypair(path string) (solana.PrivateKey, error) {
	if path == "" {
		path = DefaultKeypairPath
	}
	resolved, err := ExpandPath(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", x402.ErrInvalidKeypair, err.Error())
	}

	data, err := os.ReadFile(resolved)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", x402.ErrInvalidKeypair, err.Error())
	}
	return ParseKeypairJSON(data)
}

// ParseKeypairJSON parses the solana-keygen JSON format
func ParseKeypairJSON(data []byte) (solana.PrivateKey, error) {
	privateKey, err := solana.PrivateKeyFromSolanaKeygenFileBytes(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", x402.ErrInvalidKeypair, err.Error())
	}
	return privateKey, nil
}

// ParsePrivateKey parses a base58 encoded private key
func ParsePrivateKey(privateKeyBase58 string) (solana.PrivateKey, error) {
	privateKey, err := solana.PrivateKeyFromBase58(strings.TrimSpace(privateKeyBase58))
	if err != nil {
		return nil, fmt.Errorf("%w: %s", x402.ErrInvalidKeypair, err.Error())
	}
	if !privateKey.IsValid() {
		return nil, fmt.Errorf("%w: private key is not a valid ed25519 key", x402.ErrInvalidKeypair)
	}
	return privateKey, nil
}

// WriteKeypair writes privateKey in the solana-keygen JSON format
func WriteKeypair(path string, privateKey solana.PrivateKey) error {
	resolved, err := ExpandPath(path)
	if err != nil {
		return err
	}

	ints := make([]int, len(privateKey))
	for i, b := range privateKey {
		ints[i] = int(b)
	}
	data, err := json.Marshal(ints)
	if err != nil {
		return fmt.Errorf("failed to marshal keypair: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(resolved), 0o700); err != nil {
		return fmt.Errorf("failed to create keypair directory: %w", err)
	}
	return os.WriteFile(resolved, data, 0o600)
}
