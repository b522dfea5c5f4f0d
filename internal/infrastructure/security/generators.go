// Package security provides identity token generation and collector
// authentication.
package security

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// Token prefixes.
const (
	UserTokenPrefix    = "user_"
	SessionTokenPrefix = "session_"
)

// GenerateULID generates a new ULID string.
func GenerateULID() string {
	return ulid.Make().String()
}

// GenerateUserID returns a time-ordered random user token.
func GenerateUserID() string {
	return UserTokenPrefix + GenerateULID()
}

// GenerateSessionID returns a time-ordered random session token.
func GenerateSessionID() string {
	return SessionTokenPrefix + GenerateULID()
}

// GenerateBatchID returns the idempotency id sent with each collector batch.
func GenerateBatchID() string {
	return uuid.NewString()
}

// GenerateSecureKey creates a cryptographically secure random key and returns it as a hex string.
// Used to provision collector signing secrets.
func GenerateSecureKey(length int) (string, error) {
	bytes := make([]byte, length/2) // Each byte becomes two hex characters
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("failed to generate secure key: %w", err)
	}
	return hex.EncodeToString(bytes), nil
}
