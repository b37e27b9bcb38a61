package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Common errors
var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token has expired")
)

// TokenProvider defines the contract for generating and validating
// admin session tokens.
type TokenProvider interface {
	GenerateToken(adminID int64, username, role string) (string, error)
	ValidateToken(tokenString string) (*Claims, error)
}

// Claims defines the custom JWT claims for an admin session.
type Claims struct {
	Username string `json:"username"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

// AdminID parses the subject claim back into the admin id.
func (c *Claims) AdminID() (int64, error) {
	var id int64
	if _, err := fmt.Sscanf(c.Subject, "%d", &id); err != nil {
		return 0, ErrInvalidToken
	}
	return id, nil
}

// JWTProvider implements TokenProvider using HMAC-SHA256 (HS256).
type JWTProvider struct {
	secret        []byte
	tokenDuration time.Duration
}

// NewJWTProvider creates a new token provider. The secret must be at least
// 32 bytes; the config loader enforces this before we get here.
func NewJWTProvider(secret string, tokenDuration time.Duration) *JWTProvider {
	if tokenDuration <= 0 {
		tokenDuration = 2 * time.Hour
	}
	return &JWTProvider{
		secret:        []byte(secret),
		tokenDuration: tokenDuration,
	}
}

// GenerateToken creates a signed JWT for the admin.
func (p *JWTProvider) GenerateToken(adminID int64, username, role string) (string, error) {
	now := time.Now()
	claims := Claims{
		Username: username,
		Role:     role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   fmt.Sprintf("%d", adminID),
			ExpiresAt: jwt.NewNumericDate(now.Add(p.tokenDuration)),
			IssuedAt:  jwt.NewNumericDate(now),
			ID:        uuid.NewString(),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(p.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// ValidateToken parses and verifies the JWT.
func (p *JWTProvider) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return p.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		return claims, nil
	}
	return nil, ErrInvalidToken
}
