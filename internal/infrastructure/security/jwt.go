package security

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

// CollectorTokenTTL bounds how long a signed batch token is accepted.
const CollectorTokenTTL = 5 * time.Minute

// CollectorClaims identify the sender of a batch.
type CollectorClaims struct {
	SessionID string `json:"sid,omitempty"`
	jwt.RegisteredClaims
}

// GenerateCollectorToken signs an HS256 token for userID and sessionID.
func GenerateCollectorToken(userID, sessionID, secret string, now time.Time) (string, error) {
	if secret == "" {
		return "", errors.New("empty collector secret")
	}
	claims := CollectorClaims{
		SessionID: sessionID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(CollectorTokenTTL)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("failed to sign collector token: %w", err)
	}
	return signed, nil
}

// ValidateCollectorToken parses tokenString and returns its claims.
func ValidateCollectorToken(tokenString, secret string) (*CollectorClaims, error) {
	claims := &CollectorClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}
