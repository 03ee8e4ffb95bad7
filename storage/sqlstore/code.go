package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/giantswarm/oauth-engine/internal/util"
	"github.com/giantswarm/oauth-engine/scope"
	"github.com/giantswarm/oauth-engine/security"
	"github.com/giantswarm/oauth-engine/storage"
)

const authCodeColumns = `id, identifier, client_id, user_id, redirect_uri, scopes,
	code_challenge, code_challenge_method, expires_at, created_at`

// IssueAuthCode creates a new authorization code
func (s *Store) IssueAuthCode(ctx context.Context, params storage.AuthCodeParams, ttl time.Duration) (*storage.AuthCode, error) {
	ctx, op := s.startOp(ctx, "issue_auth_code")

	if params.ClientID == "" {
		return nil, op.End(&storage.ValidationError{Field: "client_id", Message: "must not be empty"})
	}

	now := s.now()
	code := &storage.AuthCode{
		ID:                  newID(),
		ClientID:            params.ClientID,
		UserID:              params.UserID,
		RedirectURI:         params.RedirectURI,
		Scopes:              params.Scopes,
		CodeChallenge:       params.CodeChallenge,
		CodeChallengeMethod: params.CodeChallengeMethod,
		ExpiryDate:          fromMillis(toMillis(now.Add(ttl))),
		CreatedAt:           fromMillis(toMillis(now)),
	}

	for attempt := 0; attempt < storage.MaxIdentifierAttempts; attempt++ {
		code.Identifier = security.GenerateIdentifier()
		_, err := s.db.ExecContext(ctx, s.rebind(`INSERT INTO auth_codes (`+authCodeColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
			code.ID, code.Identifier, code.ClientID, code.UserID, code.RedirectURI, code.Scopes.String(),
			code.CodeChallenge, code.CodeChallengeMethod, toMillis(code.ExpiryDate), toMillis(code.CreatedAt))
		if isUniqueViolation(err) {
			continue
		}
		if err != nil {
			return nil, op.End(fmt.Errorf("failed to issue auth code: %w", err))
		}
		return code, op.End(nil)
	}
	return nil, op.End(storage.ErrIdentifierExhausted)
}

// RedeemAuthCode atomically consumes an authorization code.
// SECURITY: DELETE ... RETURNING lets exactly one caller observe the row.
func (s *Store) RedeemAuthCode(ctx context.Context, identifier string) (*storage.AuthCode, error) {
	ctx, op := s.startOp(ctx, "redeem_auth_code")

	var (
		code      storage.AuthCode
		scopes    string
		expiresAt int64
		createdAt int64
	)
	err := s.db.QueryRowContext(ctx,
		s.rebind("DELETE FROM auth_codes WHERE identifier = ? RETURNING "+authCodeColumns), identifier,
	).Scan(&code.ID, &code.Identifier, &code.ClientID, &code.UserID, &code.RedirectURI, &scopes,
		&code.CodeChallenge, &code.CodeChallengeMethod, &expiresAt, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, op.End(fmt.Errorf("%w: authorization code not found", storage.ErrInvalidGrant))
	}
	if err != nil {
		return nil, op.End(fmt.Errorf("failed to redeem auth code: %w", err))
	}

	code.Scopes = scope.Parse(scopes)
	code.ExpiryDate = fromMillis(expiresAt)
	code.CreatedAt = fromMillis(createdAt)

	if code.IsExpired(s.now()) {
		s.log().Debug("Rejected expired authorization code", "code_prefix", util.LogPrefix(identifier))
		return nil, op.End(fmt.Errorf("%w: authorization code expired", storage.ErrInvalidGrant))
	}
	return &code, op.End(nil)
}

// DeleteExpiredAuthCodes removes expired authorization codes
func (s *Store) DeleteExpiredAuthCodes(ctx context.Context) (int, error) {
	ctx, op := s.startOp(ctx, "delete_expired_auth_codes")

	res, err := s.db.ExecContext(ctx, s.rebind("DELETE FROM auth_codes WHERE expires_at <= ?"), toMillis(s.now()))
	if err != nil {
		return 0, op.End(fmt.Errorf("failed to delete expired auth codes: %w", err))
	}
	n, err := res.RowsAffected()
	return int(n), op.End(err)
}
