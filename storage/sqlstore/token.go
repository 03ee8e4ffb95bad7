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

const accessTokenColumns = `id, identifier, client_id, user_id, scopes, expires_at,
	is_revoked, revoked_at, created_at`

const refreshTokenColumns = `id, identifier, access_token_id, expires_at, created_at`

func scanAccessToken(row rowScanner) (*storage.AccessToken, error) {
	var (
		tok       storage.AccessToken
		scopes    string
		expiresAt int64
		revokedAt sql.NullInt64
		createdAt int64
	)
	if err := row.Scan(&tok.ID, &tok.Identifier, &tok.ClientID, &tok.UserID, &scopes, &expiresAt,
		&tok.IsRevoked, &revokedAt, &createdAt); err != nil {
		return nil, err
	}
	tok.Scopes = scope.Parse(scopes)
	tok.ExpiryDate = fromMillis(expiresAt)
	if revokedAt.Valid {
		tok.RevokedAt = fromMillis(revokedAt.Int64)
	}
	tok.CreatedAt = fromMillis(createdAt)
	return &tok, nil
}

func scanRefreshToken(row rowScanner) (*storage.RefreshToken, error) {
	var (
		rt        storage.RefreshToken
		expiresAt int64
		createdAt int64
	)
	if err := row.Scan(&rt.ID, &rt.Identifier, &rt.AccessTokenID, &expiresAt, &createdAt); err != nil {
		return nil, err
	}
	rt.ExpiryDate = fromMillis(expiresAt)
	rt.CreatedAt = fromMillis(createdAt)
	return &rt, nil
}

// reserveIdentifier records a fresh identifier in retired_identifiers. The
// primary key makes the reservation fail for any identifier ever used before.
func (s *Store) reserveIdentifier(ctx context.Context, now time.Time) (string, error) {
	for attempt := 0; attempt < storage.MaxIdentifierAttempts; attempt++ {
		identifier := security.GenerateIdentifier()
		_, err := s.db.ExecContext(ctx,
			s.rebind("INSERT INTO retired_identifiers (identifier, retired_at) VALUES (?, ?)"),
			identifier, toMillis(now))
		if isUniqueViolation(err) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("failed to reserve identifier: %w", err)
		}
		return identifier, nil
	}
	return "", storage.ErrIdentifierExhausted
}

// IssueAccessToken creates an access token with a never-before-used identifier
func (s *Store) IssueAccessToken(ctx context.Context, params storage.AccessTokenParams, ttl time.Duration) (*storage.AccessToken, error) {
	ctx, op := s.startOp(ctx, "issue_access_token")

	if params.ClientID == "" {
		return nil, op.End(&storage.ValidationError{Field: "client_id", Message: "must not be empty"})
	}

	now := s.now()
	identifier, err := s.reserveIdentifier(ctx, now)
	if err != nil {
		return nil, op.End(err)
	}

	tok := &storage.AccessToken{
		ID:         newID(),
		ClientID:   params.ClientID,
		UserID:     params.UserID,
		Identifier: identifier,
		Scopes:     params.Scopes,
		ExpiryDate: fromMillis(toMillis(now.Add(ttl))),
		CreatedAt:  fromMillis(toMillis(now)),
	}
	_, err = s.db.ExecContext(ctx, s.rebind(`INSERT INTO access_tokens (`+accessTokenColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		tok.ID, tok.Identifier, tok.ClientID, tok.UserID, tok.Scopes.String(), toMillis(tok.ExpiryDate),
		false, nil, toMillis(tok.CreatedAt))
	if err != nil {
		return nil, op.End(fmt.Errorf("failed to issue access token: %w", err))
	}
	return tok.Clone(), op.End(nil)
}

// GetAccessTokenByIdentifier looks up an access token by its identifier
func (s *Store) GetAccessTokenByIdentifier(ctx context.Context, identifier string, includeRevoked bool) (*storage.AccessToken, error) {
	ctx, op := s.startOp(ctx, "get_access_token_by_identifier")

	tok, err := scanAccessToken(s.db.QueryRowContext(ctx,
		s.rebind("SELECT "+accessTokenColumns+" FROM access_tokens WHERE identifier = ?"), identifier))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, op.End(storage.ErrAccessTokenNotFound)
	}
	if err != nil {
		return nil, op.End(fmt.Errorf("failed to get access token: %w", err))
	}
	if tok.IsRevoked && !includeRevoked {
		return nil, op.End(storage.ErrAccessTokenNotFound)
	}
	return tok, op.End(nil)
}

// GetAccessTokenByID looks up an access token by its record ID
func (s *Store) GetAccessTokenByID(ctx context.Context, id string) (*storage.AccessToken, error) {
	ctx, op := s.startOp(ctx, "get_access_token_by_id")

	tok, err := scanAccessToken(s.db.QueryRowContext(ctx,
		s.rebind("SELECT "+accessTokenColumns+" FROM access_tokens WHERE id = ?"), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, op.End(storage.ErrAccessTokenNotFound)
	}
	if err != nil {
		return nil, op.End(fmt.Errorf("failed to get access token: %w", err))
	}
	return tok, op.End(nil)
}

// RevokeAccessTokenByID revokes an access token and deletes its refresh
// token. The first revocation time is kept.
func (s *Store) RevokeAccessTokenByID(ctx context.Context, id string) (bool, error) {
	ctx, op := s.startOp(ctx, "revoke_access_token")

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, op.End(fmt.Errorf("failed to begin transaction: %w", err))
	}

	res, err := tx.ExecContext(ctx, s.rebind(`UPDATE access_tokens
		SET is_revoked = ?, revoked_at = COALESCE(revoked_at, ?) WHERE id = ?`),
		true, toMillis(s.now()), id)
	if err != nil {
		return false, op.End(rollback(tx, fmt.Errorf("failed to revoke access token: %w", err)))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, op.End(rollback(tx, fmt.Errorf("failed to revoke access token: %w", err)))
	}
	if n == 0 {
		return false, op.End(rollback(tx, nil))
	}

	if _, err := tx.ExecContext(ctx, s.rebind("DELETE FROM refresh_tokens WHERE access_token_id = ?"), id); err != nil {
		return false, op.End(rollback(tx, fmt.Errorf("failed to delete refresh token: %w", err)))
	}
	if err := tx.Commit(); err != nil {
		return false, op.End(fmt.Errorf("failed to commit revocation: %w", err))
	}
	return true, op.End(nil)
}

// DeleteAccessTokenByID removes an access token and its refresh token. The
// identifier stays in retired_identifiers.
func (s *Store) DeleteAccessTokenByID(ctx context.Context, id string) (bool, error) {
	ctx, op := s.startOp(ctx, "delete_access_token")

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, op.End(fmt.Errorf("failed to begin transaction: %w", err))
	}
	if _, err := tx.ExecContext(ctx, s.rebind("DELETE FROM refresh_tokens WHERE access_token_id = ?"), id); err != nil {
		return false, op.End(rollback(tx, fmt.Errorf("failed to delete refresh token: %w", err)))
	}
	res, err := tx.ExecContext(ctx, s.rebind("DELETE FROM access_tokens WHERE id = ?"), id)
	if err != nil {
		return false, op.End(rollback(tx, fmt.Errorf("failed to delete access token: %w", err)))
	}
	if err := tx.Commit(); err != nil {
		return false, op.End(fmt.Errorf("failed to commit delete: %w", err))
	}
	n, err := res.RowsAffected()
	return n > 0, op.End(err)
}

// IssueRefreshToken creates the refresh token for an access token,
// replacing any previous one. Revoked or unknown access tokens are refused.
func (s *Store) IssueRefreshToken(ctx context.Context, accessTokenID string, ttl time.Duration) (*storage.RefreshToken, error) {
	ctx, op := s.startOp(ctx, "issue_refresh_token")

	now := s.now()
	rt := &storage.RefreshToken{
		ID:            newID(),
		AccessTokenID: accessTokenID,
		ExpiryDate:    fromMillis(toMillis(now.Add(ttl))),
		CreatedAt:     fromMillis(toMillis(now)),
	}

	for attempt := 0; attempt < storage.MaxIdentifierAttempts; attempt++ {
		rt.Identifier = security.GenerateIdentifier()

		inserted, err := s.replaceRefreshToken(ctx, rt)
		if isUniqueViolation(err) {
			continue
		}
		if err != nil {
			return nil, op.End(err)
		}
		if !inserted {
			return nil, op.End(fmt.Errorf("%w: unknown or revoked access token", storage.ErrAccessTokenNotFound))
		}
		return rt, op.End(nil)
	}
	return nil, op.End(storage.ErrIdentifierExhausted)
}

// replaceRefreshToken swaps the access token's refresh token for rt in one
// transaction. The insert only happens for a live access token.
func (s *Store) replaceRefreshToken(ctx context.Context, rt *storage.RefreshToken) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	if _, err := tx.ExecContext(ctx, s.rebind("DELETE FROM refresh_tokens WHERE access_token_id = ?"), rt.AccessTokenID); err != nil {
		return false, rollback(tx, fmt.Errorf("failed to replace refresh token: %w", err))
	}
	res, err := tx.ExecContext(ctx, s.rebind(`INSERT INTO refresh_tokens (`+refreshTokenColumns+`)
		SELECT CAST(? AS TEXT), CAST(? AS TEXT), id, CAST(? AS BIGINT), CAST(? AS BIGINT)
		FROM access_tokens WHERE id = ? AND is_revoked = ?`),
		rt.ID, rt.Identifier, toMillis(rt.ExpiryDate), toMillis(rt.CreatedAt), rt.AccessTokenID, false)
	if err != nil {
		return false, rollback(tx, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, rollback(tx, err)
	}
	if n == 0 {
		return false, rollback(tx, nil)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit refresh token: %w", err)
	}
	return true, nil
}

// GetRefreshTokenByIdentifier looks up a refresh token by identifier
func (s *Store) GetRefreshTokenByIdentifier(ctx context.Context, identifier string) (*storage.RefreshToken, error) {
	ctx, op := s.startOp(ctx, "get_refresh_token_by_identifier")
	rt, err := s.getRefreshToken(ctx, "identifier", identifier)
	return rt, op.End(err)
}

// GetRefreshTokenByAccessTokenID returns the refresh token paired with an access token
func (s *Store) GetRefreshTokenByAccessTokenID(ctx context.Context, accessTokenID string) (*storage.RefreshToken, error) {
	ctx, op := s.startOp(ctx, "get_refresh_token_by_access_token")
	rt, err := s.getRefreshToken(ctx, "access_token_id", accessTokenID)
	return rt, op.End(err)
}

func (s *Store) getRefreshToken(ctx context.Context, column, value string) (*storage.RefreshToken, error) {
	rt, err := scanRefreshToken(s.db.QueryRowContext(ctx,
		s.rebind("SELECT "+refreshTokenColumns+" FROM refresh_tokens WHERE "+column+" = ?"), value))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrRefreshTokenNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get refresh token: %w", err)
	}
	return rt, nil
}

// RedeemRefreshToken atomically consumes a refresh token
func (s *Store) RedeemRefreshToken(ctx context.Context, identifier string) (*storage.RefreshToken, error) {
	ctx, op := s.startOp(ctx, "redeem_refresh_token")

	rt, err := scanRefreshToken(s.db.QueryRowContext(ctx,
		s.rebind("DELETE FROM refresh_tokens WHERE identifier = ? RETURNING "+refreshTokenColumns), identifier))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, op.End(fmt.Errorf("%w: refresh token not found", storage.ErrInvalidGrant))
	}
	if err != nil {
		return nil, op.End(fmt.Errorf("failed to redeem refresh token: %w", err))
	}

	if rt.IsExpired(s.now()) {
		s.log().Debug("Rejected expired refresh token", "token_prefix", util.LogPrefix(identifier))
		return nil, op.End(fmt.Errorf("%w: refresh token expired", storage.ErrInvalidGrant))
	}
	return rt, op.End(nil)
}

// DeleteExpiredRefreshTokens removes expired refresh tokens
func (s *Store) DeleteExpiredRefreshTokens(ctx context.Context) (int, error) {
	ctx, op := s.startOp(ctx, "delete_expired_refresh_tokens")

	res, err := s.db.ExecContext(ctx, s.rebind("DELETE FROM refresh_tokens WHERE expires_at <= ?"), toMillis(s.now()))
	if err != nil {
		return 0, op.End(fmt.Errorf("failed to delete expired refresh tokens: %w", err))
	}
	n, err := res.RowsAffected()
	return int(n), op.End(err)
}
