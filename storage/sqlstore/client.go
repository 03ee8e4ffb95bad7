package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/giantswarm/oauth-engine/scope"
	"github.com/giantswarm/oauth-engine/storage"
)

const clientColumns = `id, name, public_identifier, secret_hash, redirect_uri,
	redirect_uri_locked, scopes, grant_types, created_at`

func scanClient(row rowScanner) (*storage.Client, error) {
	var (
		c          storage.Client
		scopes     string
		grantTypes string
		createdAt  int64
	)
	if err := row.Scan(&c.ID, &c.Name, &c.PublicIdentifier, &c.SecretHash, &c.RedirectURI,
		&c.RedirectURILocked, &scopes, &grantTypes, &createdAt); err != nil {
		return nil, err
	}
	c.Scopes = scope.Parse(scopes)
	c.GrantTypes = strings.Fields(grantTypes)
	c.CreatedAt = fromMillis(createdAt)
	return &c, nil
}

func (s *Store) getClient(ctx context.Context, column, value string) (*storage.Client, error) {
	row := s.db.QueryRowContext(ctx,
		s.rebind("SELECT "+clientColumns+" FROM clients WHERE "+column+" = ?"), value)
	c, err := scanClient(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrClientNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get client: %w", err)
	}
	return c, nil
}

// GetClientByID retrieves a client by its internal ID
func (s *Store) GetClientByID(ctx context.Context, id string) (*storage.Client, error) {
	ctx, op := s.startOp(ctx, "get_client_by_id")
	c, err := s.getClient(ctx, "id", id)
	return c, op.End(err)
}

// GetClientByPublicIdentifier retrieves a client by its public identifier
func (s *Store) GetClientByPublicIdentifier(ctx context.Context, publicIdentifier string) (*storage.Client, error) {
	ctx, op := s.startOp(ctx, "get_client_by_public_identifier")
	c, err := s.getClient(ctx, "public_identifier", publicIdentifier)
	return c, op.End(err)
}

// SaveClient validates and persists a client
func (s *Store) SaveClient(ctx context.Context, client *storage.Client) (*storage.Client, error) {
	ctx, op := s.startOp(ctx, "save_client")

	if client == nil {
		return nil, op.End(&storage.ValidationError{Field: "client", Message: "must not be nil"})
	}
	if err := client.Validate(); err != nil {
		return nil, op.End(err)
	}

	saved := client.Clone()
	var err error
	if saved.ID == "" {
		saved.ID = newID()
		saved.CreatedAt = s.now()
		_, err = s.db.ExecContext(ctx, s.rebind(`INSERT INTO clients (`+clientColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`),
			saved.ID, saved.Name, saved.PublicIdentifier, saved.SecretHash, saved.RedirectURI,
			saved.RedirectURILocked, saved.Scopes.String(), strings.Join(saved.GrantTypes, " "),
			toMillis(saved.CreatedAt))
	} else {
		var res sql.Result
		res, err = s.db.ExecContext(ctx, s.rebind(`UPDATE clients SET name = ?, public_identifier = ?,
			secret_hash = ?, redirect_uri = ?, redirect_uri_locked = ?, scopes = ?, grant_types = ?
			WHERE id = ?`),
			saved.Name, saved.PublicIdentifier, saved.SecretHash, saved.RedirectURI,
			saved.RedirectURILocked, saved.Scopes.String(), strings.Join(saved.GrantTypes, " "),
			saved.ID)
		if err == nil {
			var n int64
			if n, err = res.RowsAffected(); err == nil && n == 0 {
				return nil, op.End(fmt.Errorf("%w: %s", storage.ErrClientNotFound, saved.ID))
			}
		}
	}
	if isUniqueViolation(err) {
		return nil, op.End(storage.ErrDuplicatePublicIdentifier)
	}
	if err != nil {
		return nil, op.End(fmt.Errorf("failed to save client: %w", err))
	}

	stored, err := s.getClient(ctx, "id", saved.ID)
	if err != nil {
		return nil, op.End(err)
	}
	s.log().Debug("Saved client", "client_id", stored.ID, "public_identifier", stored.PublicIdentifier)
	return stored, op.End(nil)
}

// DeleteClientByID removes a client and revokes everything issued to it
func (s *Store) DeleteClientByID(ctx context.Context, id string) (bool, error) {
	ctx, op := s.startOp(ctx, "delete_client")

	res, err := s.db.ExecContext(ctx, s.rebind("DELETE FROM clients WHERE id = ?"), id)
	if err != nil {
		return false, op.End(fmt.Errorf("failed to delete client: %w", err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, op.End(fmt.Errorf("failed to delete client: %w", err))
	}
	if n == 0 {
		return false, op.End(nil)
	}

	count, err := s.currentRevoker().RevokeAllForClient(ctx, id)
	if err != nil {
		return true, op.End(fmt.Errorf("client deleted but revocation failed: %w", err))
	}

	s.log().Info("Deleted client", "client_id", id, "revoked_records", count)
	return true, op.End(nil)
}

// ListClients lists all registered clients ordered by creation time
func (s *Store) ListClients(ctx context.Context) ([]*storage.Client, error) {
	ctx, op := s.startOp(ctx, "list_clients")

	rows, err := s.db.QueryContext(ctx, "SELECT "+clientColumns+" FROM clients ORDER BY created_at, id")
	if err != nil {
		return nil, op.End(fmt.Errorf("failed to list clients: %w", err))
	}
	defer rows.Close()

	out := make([]*storage.Client, 0)
	for rows.Next() {
		c, err := scanClient(rows)
		if err != nil {
			return nil, op.End(fmt.Errorf("failed to scan client: %w", err))
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, op.End(fmt.Errorf("failed to list clients: %w", err))
	}
	return out, op.End(nil)
}

// RevokeAllForClient deletes the client's codes and revokes its access
// tokens together with their refresh tokens, in one transaction
func (s *Store) RevokeAllForClient(ctx context.Context, clientID string) (int, error) {
	ctx, op := s.startOp(ctx, "revoke_all_for_client")

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, op.End(fmt.Errorf("failed to begin transaction: %w", err))
	}

	codes, err := tx.ExecContext(ctx, s.rebind("DELETE FROM auth_codes WHERE client_id = ?"), clientID)
	if err != nil {
		return 0, op.End(rollback(tx, fmt.Errorf("failed to delete auth codes: %w", err)))
	}
	if _, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM refresh_tokens
		WHERE access_token_id IN (SELECT id FROM access_tokens WHERE client_id = ?)`), clientID); err != nil {
		return 0, op.End(rollback(tx, fmt.Errorf("failed to delete refresh tokens: %w", err)))
	}
	tokens, err := tx.ExecContext(ctx, s.rebind(`UPDATE access_tokens SET is_revoked = ?, revoked_at = ?
		WHERE client_id = ? AND is_revoked = ?`), true, toMillis(s.now()), clientID, false)
	if err != nil {
		return 0, op.End(rollback(tx, fmt.Errorf("failed to revoke access tokens: %w", err)))
	}
	if err := tx.Commit(); err != nil {
		return 0, op.End(fmt.Errorf("failed to commit revocation: %w", err))
	}

	nCodes, _ := codes.RowsAffected()
	nTokens, _ := tokens.RowsAffected()
	return int(nCodes + nTokens), op.End(nil)
}
