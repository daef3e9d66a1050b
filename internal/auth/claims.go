package auth

import (
	"fmt"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Issuer is stamped into every token and required on parse.
const Issuer = "graylogic-humidifier"

// DefaultTTL applies when GenerateToken is given a non-positive lifetime.
const DefaultTTL = 24 * time.Hour

// Claims is the token payload.
type Claims struct {
	jwt.RegisteredClaims
	Role Role `json:"role"`

	// Devices restricts the token to these bridge device IDs. Empty means any.
	Devices []string `json:"devices,omitempty"`
}

// AllowsDevice reports whether the token may act on deviceID.
func (c *Claims) AllowsDevice(deviceID string) bool {
	return len(c.Devices) == 0 || slices.Contains(c.Devices, deviceID)
}

// GenerateToken signs a token for subject. devices may be nil.
func GenerateToken(secret, subject string, role Role, devices []string, ttl time.Duration) (string, error) {
	if secret == "" {
		return "", ErrNoSecret
	}
	if !IsValidRole(role) {
		return "", fmt.Errorf("%w: %q", ErrUnknownRole, role)
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    Issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
		Role:    role,
		Devices: devices,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}
	return signed, nil
}

var parser = jwt.NewParser(
	jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	jwt.WithIssuer(Issuer),
	jwt.WithExpirationRequired(),
	jwt.WithLeeway(30*time.Second),
)

// ParseToken verifies signature, issuer and expiry, and requires a subject
// and a known role. Every failure wraps ErrTokenInvalid.
func ParseToken(token, secret string) (*Claims, error) {
	claims := &Claims{}
	_, err := parser.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return []byte(secret), nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTokenInvalid, err)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrTokenInvalid)
	}
	if !IsValidRole(claims.Role) {
		return nil, fmt.Errorf("%w: role %q", ErrTokenInvalid, claims.Role)
	}
	return claims, nil
}
