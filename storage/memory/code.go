package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/giantswarm/oauth-engine/internal/util"
	"github.com/giantswarm/oauth-engine/security"
	"github.com/giantswarm/oauth-engine/storage"
)

// IssueAuthCode creates a new authorization code
func (s *Store) IssueAuthCode(ctx context.Context, params storage.AuthCodeParams, ttl time.Duration) (*storage.AuthCode, error) {
	_, op := s.startOp(ctx, "issue_auth_code")

	if params.ClientID == "" {
		return nil, op.End(&storage.ValidationError{Field: "client_id", Message: "must not be empty"})
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	identifier := ""
	for attempt := 0; attempt < storage.MaxIdentifierAttempts; attempt++ {
		candidate := security.GenerateIdentifier()
		if _, taken := s.authCodes[candidate]; !taken {
			identifier = candidate
			break
		}
	}
	if identifier == "" {
		return nil, op.End(storage.ErrIdentifierExhausted)
	}

	now := s.now()
	code := &storage.AuthCode{
		ID:                  newID(),
		ClientID:            params.ClientID,
		UserID:              params.UserID,
		Identifier:          identifier,
		RedirectURI:         params.RedirectURI,
		Scopes:              append(params.Scopes[:0:0], params.Scopes...),
		CodeChallenge:       params.CodeChallenge,
		CodeChallengeMethod: params.CodeChallengeMethod,
		ExpiryDate:          now.Add(ttl),
		CreatedAt:           now,
	}
	s.authCodes[identifier] = code
	s.syncCounters()

	cp := *code
	return &cp, op.End(nil)
}

// RedeemAuthCode atomically consumes an authorization code.
// SECURITY: the lookup and the delete happen under one write lock, so only
// one concurrent caller can ever receive the code.
func (s *Store) RedeemAuthCode(ctx context.Context, identifier string) (*storage.AuthCode, error) {
	_, op := s.startOp(ctx, "redeem_auth_code")

	s.mu.Lock()
	defer s.mu.Unlock()

	code, ok := s.authCodes[identifier]
	if !ok {
		return nil, op.End(fmt.Errorf("%w: authorization code not found", storage.ErrInvalidGrant))
	}

	// Consumed even when expired: an expired code is dead either way.
	delete(s.authCodes, identifier)
	s.syncCounters()

	if code.IsExpired(s.now()) {
		s.logger.Debug("Rejected expired authorization code", "code_prefix", util.LogPrefix(identifier))
		return nil, op.End(fmt.Errorf("%w: authorization code expired", storage.ErrInvalidGrant))
	}

	return code, op.End(nil)
}

// DeleteExpiredAuthCodes removes expired authorization codes
func (s *Store) DeleteExpiredAuthCodes(ctx context.Context) (int, error) {
	_, op := s.startOp(ctx, "delete_expired_auth_codes")

	s.mu.Lock()
	defer s.mu.Unlock()

	n := s.deleteExpiredAuthCodesLocked(s.now())
	s.syncCounters()
	return n, op.End(nil)
}

func (s *Store) deleteExpiredAuthCodesLocked(now time.Time) int {
	removed := 0
	for identifier, code := range s.authCodes {
		if code.IsExpired(now) {
			delete(s.authCodes, identifier)
			removed++
		}
	}
	return removed
}
