// Copyright 2026 The didactic-barnacle Authors
// SPDX-License-Identifier: Apache-2.0

package auth

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims are the JWT claims attached to every sync request: the user in
// the standard sub claim and the device (source) ID in did.
type Claims struct {
	DeviceID string `json:"did"`
	jwt.RegisteredClaims
}

// TokenSource mints and validates HS256 bearer tokens for the sync
// transport.
type TokenSource struct {
	secret []byte
	issuer string
}

// NewTokenSource creates a token source for the shared secret.
func NewTokenSource(secret string) *TokenSource {
	return &TokenSource{secret: []byte(secret), issuer: "didactic-barnacle"}
}

// Mint generates a token for the user/device pair valid for ttl.
func (t *TokenSource) Mint(userID, deviceID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{
		DeviceID: deviceID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    t.issuer,
			Subject:   userID,
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(t.secret)
}

// Parse validates a token and returns its claims.
func (t *TokenSource) Parse(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return t.secret, nil
	})
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	if claims.DeviceID == "" {
		return nil, fmt.Errorf("missing did (device ID) in token")
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("missing sub (user ID) in token")
	}
	return claims, nil
}

// TokenFunc returns a caching token supplier for the sync transport: the
// same token is reused until it nears expiry, then re-minted.
func (t *TokenSource) TokenFunc(userID, deviceID string, ttl time.Duration) func(ctx context.Context) (string, error) {
	var mu sync.Mutex
	var token string
	var expiresAt time.Time

	return func(_ context.Context) (string, error) {
		mu.Lock()
		defer mu.Unlock()
		if token != "" && time.Until(expiresAt) > ttl/10 {
			return token, nil
		}
		minted, err := t.Mint(userID, deviceID, ttl)
		if err != nil {
			return "", fmt.Errorf("failed to mint token: %w", err)
		}
		token = minted
		expiresAt = time.Now().Add(ttl)
		return token, nil
	}
}
