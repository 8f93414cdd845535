// Package sharelink mints and verifies the signed shareable-link tokens
// used by the link-based proposal lookup path.
package sharelink

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

type Claims struct {
	ProposalID string `json:"pid"`
	Exp        int64  `json:"exp"`
}

var (
	ErrInvalidLink = errors.New("invalid share link")
	ErrExpiredLink = errors.New("expired share link")
)

// Issue signs a link token granting access to one proposal until the TTL
// runs out.
func Issue(secret []byte, proposalID string, ttl time.Duration) (string, error) {
	claims := Claims{
		ProposalID: proposalID,
		Exp:        time.Now().Add(ttl).Unix(),
	}
	payloadBytes, err := json.Marshal(claims)
	if err != nil {
		return "", fmt.Errorf("marshal link claims: %w", err)
	}
	payload := base64.RawURLEncoding.EncodeToString(payloadBytes)
	return payload + "." + sign(secret, payload), nil
}

// Parse verifies the signature and expiry and returns the claims.
func Parse(secret []byte, token string) (Claims, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 2 {
		return Claims{}, ErrInvalidLink
	}
	payload := parts[0]
	signature := parts[1]

	expected := sign(secret, payload)
	if !hmac.Equal([]byte(signature), []byte(expected)) {
		return Claims{}, ErrInvalidLink
	}

	decoded, err := base64.RawURLEncoding.DecodeString(payload)
	if err != nil {
		return Claims{}, ErrInvalidLink
	}

	var claims Claims
	if err := json.Unmarshal(decoded, &claims); err != nil {
		return Claims{}, ErrInvalidLink
	}
	if claims.ProposalID == "" || claims.Exp == 0 {
		return Claims{}, ErrInvalidLink
	}
	if time.Now().Unix() >= claims.Exp {
		return Claims{}, ErrExpiredLink
	}
	return claims, nil
}

func sign(secret []byte, payload string) string {
	sum := hmac.New(sha256.New, secret)
	_, _ = sum.Write([]byte(payload))
	return base64.RawURLEncoding.EncodeToString(sum.Sum(nil))
}
