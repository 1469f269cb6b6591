// Package apikey generates and hashes agent API keys.
//
// Keys are hashed with FNV-1a 64 before storage. The hash is not
// cryptographic; it is a lookup key into a unique column, and existing
// deployments depend on its exact values. Any change to the derivation is
// a breaking migration of the agents table.
package apikey

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"hash/fnv"
)

// Prefix identifies OpenGate API keys in logs and configs.
const Prefix = "og_"

// New returns a fresh random API key: the og_ prefix plus 32 hex characters.
func New() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate api key: %w", err)
	}
	return Prefix + hex.EncodeToString(buf), nil
}

// Hash returns the stored form of a raw API key: FNV-1a 64, hex-encoded.
func Hash(raw string) string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(raw))
	return fmt.Sprintf("%016x", h.Sum64())
}
