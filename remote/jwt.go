// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package remote

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenSource supplies the bearer token for each request.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// TokenFunc adapts a function to TokenSource.
type TokenFunc func(ctx context.Context) (string, error)

func (f TokenFunc) Token(ctx context.Context) (string, error) { return f(ctx) }

// JWTAuth signs and validates HS256 tokens shared by a seller's devices
type JWTAuth struct {
	secret []byte
	issuer string
}

// NewJWTAuth creates a new JWT authenticator
func NewJWTAuth(secret string) *JWTAuth {
	return &JWTAuth{
		secret: []byte(secret),
		issuer: "bizsync",
	}
}

// Claims carries the seller in 'sub' and the device in 'did'
type Claims struct {
	DeviceID string `json:"did"`
	jwt.RegisteredClaims
}

// GenerateToken issues a token for sellerID on deviceID.
func (j *JWTAuth) GenerateToken(sellerID, deviceID string, expiration time.Duration) (string, time.Time, error) {
	now := time.Now()
	expiresAt := now.Add(expiration)
	claims := &Claims{
		DeviceID: deviceID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    j.issuer,
			Subject:   sellerID,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(j.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, expiresAt, nil
}

// ValidateToken validates a token and returns its claims
func (j *JWTAuth) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return j.secret, nil
	})
	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		if claims.DeviceID == "" {
			return nil, fmt.Errorf("missing did (device ID) in token")
		}
		if claims.Subject == "" {
			return nil, fmt.Errorf("missing sub (seller ID) in token")
		}
		return claims, nil
	}
	return nil, fmt.Errorf("invalid token")
}

// ClaimsFromRequest validates the bearer token of r.
func (j *JWTAuth) ClaimsFromRequest(r *http.Request) (*Claims, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return nil, fmt.Errorf("authorization header required")
	}
	tokenString := strings.TrimPrefix(authHeader, "Bearer ")
	if tokenString == authHeader {
		return nil, fmt.Errorf("bearer token required")
	}
	claims, err := j.ValidateToken(tokenString)
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}
	return claims, nil
}

// JWTTokens is a TokenSource that signs its own tokens and reuses each one until
// it is within a minute of expiring.
type JWTTokens struct {
	auth     *JWTAuth
	sellerID string
	deviceID string
	ttl      time.Duration

	mu        sync.Mutex
	token     string
	expiresAt time.Time
}

// NewJWTTokens creates a self-signing token source.
func NewJWTTokens(auth *JWTAuth, sellerID, deviceID string, ttl time.Duration) *JWTTokens {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &JWTTokens{auth: auth, sellerID: sellerID, deviceID: deviceID, ttl: ttl}
}

// Token returns a valid bearer token.
func (t *JWTTokens) Token(context.Context) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.token != "" && time.Until(t.expiresAt) > time.Minute {
		return t.token, nil
	}
	tok, exp, err := t.auth.GenerateToken(t.sellerID, t.deviceID, t.ttl)
	if err != nil {
		return "", err
	}
	t.token, t.expiresAt = tok, exp
	return tok, nil
}
