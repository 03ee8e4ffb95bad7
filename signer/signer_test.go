package signer

import (
	"crypto/ed25519"
	"encoding/base64"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/giantswarm/oauth-engine/internal/testutil"
	"github.com/giantswarm/oauth-engine/scope"
	"github.com/giantswarm/oauth-engine/storage"
)

var testHMACKey = []byte("0123456789abcdef0123456789abcdef")

func newTestToken(now time.Time) *storage.AccessToken {
	return &storage.AccessToken{
		ID:         "record-1",
		ClientID:   "client-1",
		UserID:     "user-1",
		Identifier: "jti-abc",
		Scopes:     scope.NewSet(scope.ExistingPlugins),
		CreatedAt:  now,
		ExpiryDate: now.Add(time.Hour),
	}
}

func TestSignAndVerify_RoundTrip(t *testing.T) {
	clock := testutil.NewMockTime(time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC))

	for _, alg := range []string{AlgorithmHS256, AlgorithmEdDSA} {
		t.Run(alg, func(t *testing.T) {
			key := testHMACKey
			if alg == AlgorithmEdDSA {
				key = make([]byte, ed25519.SeedSize)
			}
			s, err := New(Config{Algorithm: alg, Key: key, Issuer: "https://auth.example.com", KeyID: "k1", Clock: clock})
			require.NoError(t, err)
			assert.Equal(t, alg, s.Algorithm())

			signed, err := s.Sign(newTestToken(clock.Now()))
			require.NoError(t, err)

			claims, err := s.Verify(signed)
			require.NoError(t, err)

			assert.Equal(t, "jti-abc", claims.ID)
			assert.Equal(t, "user-1", claims.Subject)
			assert.Equal(t, "client-1", claims.ClientID())
			assert.Equal(t, "existingPlugins", claims.Scope)
			assert.True(t, claims.Scopes().Contains(scope.ExistingPlugins))
			assert.Equal(t, "https://auth.example.com", claims.Issuer)
			assert.Equal(t, clock.Now().Add(time.Hour).Unix(), claims.ExpiresAt.Unix())
		})
	}
}

func TestSign_OmitsSubjectForClientCredentials(t *testing.T) {
	s, err := New(Config{Key: testHMACKey})
	require.NoError(t, err)

	tok := newTestToken(time.Now().UTC())
	tok.UserID = ""
	signed, err := s.Sign(tok)
	require.NoError(t, err)

	payload, err := base64.RawURLEncoding.DecodeString(strings.Split(signed, ".")[1])
	require.NoError(t, err)
	assert.NotContains(t, string(payload), `"sub"`)
	assert.Contains(t, string(payload), `"jti":"jti-abc"`)
	assert.Contains(t, string(payload), `"aud":["client-1"]`)
}

func TestVerify_Expired(t *testing.T) {
	clock := testutil.NewMockTime(time.Now())
	s, err := New(Config{Key: testHMACKey, Clock: clock})
	require.NoError(t, err)

	signed, err := s.Sign(newTestToken(clock.Now()))
	require.NoError(t, err)

	clock.Advance(time.Hour)

	_, err = s.Verify(signed)
	assert.ErrorIs(t, err, ErrExpiredToken)
	assert.NotErrorIs(t, err, ErrInvalidToken)
}

func TestVerify_SignatureCheckedBeforeExpiry(t *testing.T) {
	clock := testutil.NewMockTime(time.Now())
	other, err := New(Config{Key: []byte("ffffffffffffffffffffffffffffffff"), Clock: clock})
	require.NoError(t, err)
	s, err := New(Config{Key: testHMACKey, Clock: clock})
	require.NoError(t, err)

	signed, err := other.Sign(newTestToken(clock.Now()))
	require.NoError(t, err)
	clock.Advance(2 * time.Hour)

	// expired AND forged: forged wins
	_, err = s.Verify(signed)
	assert.ErrorIs(t, err, ErrInvalidToken)
	assert.NotErrorIs(t, err, ErrExpiredToken)
}

func TestVerify_Invalid(t *testing.T) {
	s, err := New(Config{Key: testHMACKey, Issuer: "https://auth.example.com"})
	require.NoError(t, err)
	now := time.Now().UTC()

	signWith := func(method jwt.SigningMethod, key any, claims jwt.Claims) string {
		t.Helper()
		out, err := jwt.NewWithClaims(method, claims).SignedString(key)
		require.NoError(t, err)
		return out
	}
	valid := func() Claims {
		return Claims{RegisteredClaims: jwt.RegisteredClaims{
			ID:        "jti",
			Audience:  jwt.ClaimStrings{"client"},
			Issuer:    "https://auth.example.com",
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		}}
	}

	good, err := s.Sign(newTestToken(now))
	require.NoError(t, err)
	parts := strings.Split(good, ".")

	noJTI := valid()
	noJTI.ID = ""
	noExp := valid()
	noExp.ExpiresAt = nil
	wrongIss := valid()
	wrongIss.Issuer = "https://evil.example.com"
	twoAud := valid()
	twoAud.Audience = jwt.ClaimStrings{"a", "b"}
	_, edKey, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	tests := []struct {
		name   string
		bearer string
	}{
		{name: "empty", bearer: ""},
		{name: "garbage", bearer: "not-a-jwt"},
		{name: "tampered payload", bearer: parts[0] + "." + base64.RawURLEncoding.EncodeToString([]byte(`{"jti":"x"}`)) + "." + parts[2]},
		{name: "alg none", bearer: signWith(jwt.SigningMethodNone, jwt.UnsafeAllowNoneSignatureType, valid())},
		{name: "wrong algorithm", bearer: signWith(jwt.SigningMethodEdDSA, edKey, valid())},
		{name: "missing jti", bearer: signWith(jwt.SigningMethodHS256, testHMACKey, noJTI)},
		{name: "missing exp", bearer: signWith(jwt.SigningMethodHS256, testHMACKey, noExp)},
		{name: "issuer mismatch", bearer: signWith(jwt.SigningMethodHS256, testHMACKey, wrongIss)},
		{name: "multiple audiences", bearer: signWith(jwt.SigningMethodHS256, testHMACKey, twoAud)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.Verify(tt.bearer)
			assert.ErrorIs(t, err, ErrInvalidToken)
		})
	}
}

func TestNew_KeyValidation(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{name: "HS256 default", cfg: Config{Key: testHMACKey}},
		{name: "HS256 short key", cfg: Config{Algorithm: AlgorithmHS256, Key: []byte("short")}, wantErr: true},
		{name: "EdDSA seed", cfg: Config{Algorithm: AlgorithmEdDSA, Key: make([]byte, ed25519.SeedSize)}},
		{name: "EdDSA full key", cfg: Config{Algorithm: AlgorithmEdDSA, Key: make([]byte, ed25519.PrivateKeySize)}},
		{name: "EdDSA bad length", cfg: Config{Algorithm: AlgorithmEdDSA, Key: make([]byte, 10)}, wantErr: true},
		{name: "unknown algorithm", cfg: Config{Algorithm: "RS256", Key: testHMACKey}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.cfg)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestGenerateKey_UsableByNewFromBase64(t *testing.T) {
	for _, alg := range []string{AlgorithmHS256, AlgorithmEdDSA} {
		t.Run(alg, func(t *testing.T) {
			key, err := GenerateKey(alg)
			require.NoError(t, err)

			s, err := NewFromBase64(alg, key, "", nil)
			require.NoError(t, err)

			signed, err := s.Sign(newTestToken(time.Now().UTC()))
			require.NoError(t, err)
			_, err = s.Verify(signed)
			assert.NoError(t, err)
		})
	}

	_, err := GenerateKey("RS256")
	assert.Error(t, err)
}

func TestNewFromBase64_InvalidEncoding(t *testing.T) {
	_, err := NewFromBase64(AlgorithmHS256, "!!!not base64!!!", "", nil)
	assert.Error(t, err)
}
