// Package credentials owns the OAuth credential lifecycle: persistence of
// refresh/access token pairs per owner and the manager that keeps access
// tokens fresh.
package credentials

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fisioflow/calsync/internal/calendar"
)

// Credential is one owner's stored OAuth grant.
type Credential struct {
	OwnerID      string
	AccessToken  string
	RefreshToken string
	TokenType    string
	Scope        string
	Expiry       time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Store persists credentials. Get returns calendar.ErrCredentialMissing when
// the owner has no stored grant; Delete is idempotent.
type Store interface {
	Get(ctx context.Context, ownerID string) (*Credential, error)
	Save(ctx context.Context, cred *Credential) error
	Delete(ctx context.Context, ownerID string) error
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PGStore keeps credentials in the calendar_credentials table.
type PGStore struct {
	pool querier
}

func NewPGStore(pool *pgxpool.Pool) *PGStore {
	if pool == nil {
		panic("credentials: pgx pool required")
	}
	return &PGStore{pool: pool}
}

func newPGStoreWithQuerier(q querier) *PGStore {
	if q == nil {
		panic("credentials: querier required")
	}
	return &PGStore{pool: q}
}

// Get fetches the credential for an owner.
func (s *PGStore) Get(ctx context.Context, ownerID string) (*Credential, error) {
	query := `
		SELECT owner_id, access_token, refresh_token, token_type, scope, expiry, created_at, updated_at
		FROM calendar_credentials
		WHERE owner_id = $1
	`
	var cred Credential
	if err := s.pool.QueryRow(ctx, query, ownerID).Scan(
		&cred.OwnerID,
		&cred.AccessToken,
		&cred.RefreshToken,
		&cred.TokenType,
		&cred.Scope,
		&cred.Expiry,
		&cred.CreatedAt,
		&cred.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, calendar.ErrCredentialMissing
		}
		return nil, fmt.Errorf("credentials: select failed: %w", err)
	}
	return &cred, nil
}

// Save upserts the credential. A rotated refresh token and the new access
// token land in the same statement so a crash cannot split them.
func (s *PGStore) Save(ctx context.Context, cred *Credential) error {
	query := `
		INSERT INTO calendar_credentials (owner_id, access_token, refresh_token, token_type, scope, expiry)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (owner_id) DO UPDATE SET
			access_token = EXCLUDED.access_token,
			refresh_token = EXCLUDED.refresh_token,
			token_type = EXCLUDED.token_type,
			scope = EXCLUDED.scope,
			expiry = EXCLUDED.expiry,
			updated_at = now()
	`
	if _, err := s.pool.Exec(ctx, query,
		cred.OwnerID,
		cred.AccessToken,
		cred.RefreshToken,
		cred.TokenType,
		cred.Scope,
		cred.Expiry,
	); err != nil {
		return fmt.Errorf("credentials: upsert failed: %w", err)
	}
	return nil
}

// Delete removes the credential. Deleting an absent row is not an error.
func (s *PGStore) Delete(ctx context.Context, ownerID string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM calendar_credentials WHERE owner_id = $1`, ownerID); err != nil {
		return fmt.Errorf("credentials: delete failed: %w", err)
	}
	return nil
}
