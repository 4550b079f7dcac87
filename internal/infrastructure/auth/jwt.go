package auth

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/GoogleCloudPlatform/bank-of-anthos-sub000/internal/domain"
)

// Claims represents the JWT claims issued to a bank customer.
type Claims struct {
	Account string `json:"acct"`
	User    string `json:"user,omitempty"`
	Name    string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// JWTManager signs and verifies bearer tokens. It works either with a shared
// HMAC secret or, verify-only, with the RSA public key of the token issuer.
type JWTManager struct {
	secretKey     []byte
	publicKey     *rsa.PublicKey
	tokenDuration time.Duration
}

// NewJWTManager creates a new HS256 JWT manager
func NewJWTManager(secretKey string, tokenDuration time.Duration) *JWTManager {
	return &JWTManager{
		secretKey:     []byte(secretKey),
		tokenDuration: tokenDuration,
	}
}

// NewRSAVerifier creates a manager that verifies RS256 tokens signed by another service.
func NewRSAVerifier(publicKeyPEM []byte) (*JWTManager, error) {
	key, err := jwt.ParseRSAPublicKeyFromPEM(publicKeyPEM)
	if err != nil {
		return nil, fmt.Errorf("parse public key: %w", err)
	}
	return &JWTManager{publicKey: key}, nil
}

// NewVerifier returns an RS256 verifier when publicKeyPath is set, otherwise an HS256 manager.
func NewVerifier(secret, publicKeyPath string, tokenDuration time.Duration) (*JWTManager, error) {
	if publicKeyPath == "" {
		if secret == "" {
			return nil, errors.New("either a shared secret or a public key is required")
		}
		return NewJWTManager(secret, tokenDuration), nil
	}

	pemBytes, err := os.ReadFile(publicKeyPath)
	if err != nil {
		return nil, fmt.Errorf("read public key: %w", err)
	}
	return NewRSAVerifier(pemBytes)
}

// Generate issues a token for an account
func (m *JWTManager) Generate(account, user string) (string, error) {
	if m.secretKey == nil {
		return "", errors.New("token signing requires a shared secret")
	}

	now := time.Now()
	claims := Claims{
		Account: account,
		User:    user,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   account,
			ExpiresAt: jwt.NewNumericDate(now.Add(m.tokenDuration)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(m.secretKey)
}

// Verify verifies a JWT token and returns the claims
func (m *JWTManager) Verify(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, m.key)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, domain.ErrExpiredToken
		}
		return nil, domain.ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.Account == "" {
		return nil, domain.ErrInvalidToken
	}

	return claims, nil
}

func (m *JWTManager) key(token *jwt.Token) (interface{}, error) {
	if m.publicKey != nil {
		if _, ok := token.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return m.publicKey, nil
	}

	if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
		return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
	}
	return m.secretKey, nil
}
