// Package signer turns access-token records into signed JWTs and back.
//
// The signed form carries jti (the record identifier), sub (the user, absent
// for client-credentials tokens), aud (the client ID), scope, iat, exp and,
// when configured, iss. Verification checks the signature before any claim,
// so a forged token is always reported as invalid, never as expired.
package signer

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/giantswarm/oauth-engine/scope"
	"github.com/giantswarm/oauth-engine/security"
	"github.com/giantswarm/oauth-engine/storage"
)

// Supported signing algorithms
const (
	AlgorithmHS256 = "HS256"
	AlgorithmEdDSA = "EdDSA"

	// MinHMACKeyLength is the minimum HS256 key length in bytes
	MinHMACKeyLength = 32
)

var (
	// ErrInvalidToken is returned for any token that is malformed, forged,
	// signed with another key or algorithm, or missing required claims.
	ErrInvalidToken = errors.New("invalid token")

	// ErrExpiredToken is returned for an authentic token whose exp has passed.
	ErrExpiredToken = errors.New("token expired")
)

// Claims is the claim set of a signed access token.
type Claims struct {
	Scope string `json:"scope,omitempty"`
	jwt.RegisteredClaims
}

// Scopes parses the scope claim.
func (c *Claims) Scopes() scope.Set {
	return scope.Parse(c.Scope)
}

// ClientID returns the single audience, which is the client the token was
// issued to.
func (c *Claims) ClientID() string {
	if len(c.Audience) == 0 {
		return ""
	}
	return c.Audience[0]
}

// Config configures a Signer.
type Config struct {
	// Algorithm is AlgorithmHS256 (default) or AlgorithmEdDSA
	Algorithm string

	// Key is the HS256 secret (at least MinHMACKeyLength bytes) or the
	// Ed25519 private key (seed or full 64-byte form).
	Key []byte

	// KeyID is written to the kid header when set
	KeyID string

	// Issuer is written to iss and required on verification when set
	Issuer string

	// Clock supplies the current time (default security.SystemClock)
	Clock security.Clock
}

// Signer signs and verifies access tokens.
type Signer struct {
	method    jwt.SigningMethod
	signKey   any
	verifyKey any
	keyID     string
	issuer    string
	clock     security.Clock
}

// New creates a signer from cfg.
func New(cfg Config) (*Signer, error) {
	s := &Signer{
		keyID:  cfg.KeyID,
		issuer: cfg.Issuer,
		clock:  security.ClockOrDefault(cfg.Clock),
	}

	switch cfg.Algorithm {
	case "", AlgorithmHS256:
		if len(cfg.Key) < MinHMACKeyLength {
			return nil, fmt.Errorf("HS256 key must be at least %d bytes, got %d", MinHMACKeyLength, len(cfg.Key))
		}
		s.method = jwt.SigningMethodHS256
		s.signKey = cfg.Key
		s.verifyKey = cfg.Key
	case AlgorithmEdDSA:
		var priv ed25519.PrivateKey
		switch len(cfg.Key) {
		case ed25519.SeedSize:
			priv = ed25519.NewKeyFromSeed(cfg.Key)
		case ed25519.PrivateKeySize:
			priv = ed25519.PrivateKey(cfg.Key)
		default:
			return nil, fmt.Errorf("EdDSA key must be %d or %d bytes, got %d",
				ed25519.SeedSize, ed25519.PrivateKeySize, len(cfg.Key))
		}
		s.method = jwt.SigningMethodEdDSA
		s.signKey = priv
		s.verifyKey = priv.Public()
	default:
		return nil, fmt.Errorf("unsupported signing algorithm %q", cfg.Algorithm)
	}

	return s, nil
}

// NewFromBase64 creates a signer from base64 (standard or URL-safe) key material.
func NewFromBase64(algorithm, key, issuer string, clock security.Clock) (*Signer, error) {
	raw, err := decodeBase64(key)
	if err != nil {
		return nil, fmt.Errorf("decode signing key: %w", err)
	}
	return New(Config{Algorithm: algorithm, Key: raw, Issuer: issuer, Clock: clock})
}

// Algorithm returns the JWT alg this signer produces.
func (s *Signer) Algorithm() string {
	return s.method.Alg()
}

// Sign returns the compact JWT for an access token record.
func (s *Signer) Sign(token *storage.AccessToken) (string, error) {
	if token == nil || token.Identifier == "" {
		return "", errors.New("access token identifier is required")
	}

	claims := Claims{
		Scope: token.Scopes.String(),
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        token.Identifier,
			Subject:   token.UserID,
			Audience:  jwt.ClaimStrings{token.ClientID},
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(token.CreatedAt),
			ExpiresAt: jwt.NewNumericDate(token.ExpiryDate),
		},
	}
	if token.CreatedAt.IsZero() {
		claims.IssuedAt = jwt.NewNumericDate(s.clock.Now())
	}

	jwtToken := jwt.NewWithClaims(s.method, claims)
	if s.keyID != "" {
		jwtToken.Header["kid"] = s.keyID
	}

	signed, err := jwtToken.SignedString(s.signKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign access token: %w", err)
	}
	return signed, nil
}

// Verify checks the signature and then the expiry of a bearer token.
// Returns ErrExpiredToken for authentic expired tokens and ErrInvalidToken
// for everything else.
func (s *Signer) Verify(bearer string) (*Claims, error) {
	bearer = strings.TrimSpace(bearer)
	if bearer == "" {
		return nil, fmt.Errorf("%w: empty token", ErrInvalidToken)
	}

	var claims Claims
	_, err := jwt.ParseWithClaims(bearer, &claims,
		func(*jwt.Token) (any, error) { return s.verifyKey, nil },
		jwt.WithValidMethods([]string{s.method.Alg()}),
		jwt.WithoutClaimsValidation(),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	if claims.ID == "" {
		return nil, fmt.Errorf("%w: missing jti", ErrInvalidToken)
	}
	if claims.ExpiresAt == nil {
		return nil, fmt.Errorf("%w: missing exp", ErrInvalidToken)
	}
	if s.issuer != "" && claims.Issuer != s.issuer {
		return nil, fmt.Errorf("%w: issuer mismatch", ErrInvalidToken)
	}
	if len(claims.Audience) != 1 || claims.Audience[0] == "" {
		return nil, fmt.Errorf("%w: audience must name one client", ErrInvalidToken)
	}

	if security.IsExpired(claims.ExpiresAt.Time, s.clock.Now(), 0) {
		return nil, ErrExpiredToken
	}

	return &claims, nil
}

// GenerateKey returns fresh base64 key material for the given algorithm.
func GenerateKey(algorithm string) (string, error) {
	switch algorithm {
	case "", AlgorithmHS256:
		key := make([]byte, 64)
		if _, err := rand.Read(key); err != nil {
			return "", fmt.Errorf("generate HS256 key: %w", err)
		}
		return base64.StdEncoding.EncodeToString(key), nil
	case AlgorithmEdDSA:
		_, priv, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return "", fmt.Errorf("generate EdDSA key: %w", err)
		}
		return base64.StdEncoding.EncodeToString(priv.Seed()), nil
	default:
		return "", fmt.Errorf("unsupported signing algorithm %q", algorithm)
	}
}

func decodeBase64(value string) ([]byte, error) {
	value = strings.TrimSpace(value)
	for _, enc := range []*base64.Encoding{
		base64.StdEncoding, base64.RawStdEncoding,
		base64.URLEncoding, base64.RawURLEncoding,
	} {
		if out, err := enc.DecodeString(value); err == nil {
			return out, nil
		}
	}
	return nil, errors.New("key is not valid base64")
}
