// Package auth provides the two authentication mechanisms Custard needs:
// bcrypt-hashed agent keys for the Agent Session Endpoint handshake, and
// OIDC/JWT verification for UI-facing sessions. Agents are long-running
// services, not interactive users, so they authenticate with a
// high-entropy key compared against a bcrypt hash rather than a password
// flow.
package auth

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

const (
	// AgentKeyBytes is the amount of randomness in a generated agent_key,
	// rendered as AgentKeyBytes*2 hex characters.
	AgentKeyBytes = 32

	// BcryptCost is the cost factor used for service-to-service credential
	// hashing.
	BcryptCost = 12
)

// GenerateAgentKey returns a new random agent_key, to be shown to the
// operator exactly once at Connection creation time: it is returned only
// in the create response body, never again.
func GenerateAgentKey() (string, error) {
	buf := make([]byte, AgentKeyBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate agent key: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// HashAgentKey bcrypt-hashes an agent_key for storage on the Connection
// record. The plaintext is never persisted.
func HashAgentKey(key string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(key), BcryptCost)
	if err != nil {
		return "", fmt.Errorf("hash agent key: %w", err)
	}
	return string(hash), nil
}

// CompareAgentKey reports whether key matches hash.
func CompareAgentKey(key, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(key)) == nil
}
