// Copyright 2026 The OpenTrusty Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/opentrusty/authgateway/internal/identity"
)

const uniqueViolation = "23505"

const accountColumns = `
	id, COALESCE(email, ''), COALESCE(username, ''), first_name, last_name,
	is_active, COALESCE(company_id, ''), COALESCE(tenant_id, ''),
	password_hash, failed_attempts, locked_until`

// AccountRepository implements identity.CredentialStore and identity.AccountSource
type AccountRepository struct {
	db *DB
}

// NewAccountRepository creates a new account repository
func NewAccountRepository(db *DB) *AccountRepository {
	return &AccountRepository{db: db}
}

func scanAccount(row pgx.Row) (*identity.Account, error) {
	var acc identity.Account
	err := row.Scan(
		&acc.ID, &acc.Email, &acc.Username, &acc.FirstName, &acc.LastName,
		&acc.IsActive, &acc.CompanyID, &acc.TenantID,
		&acc.PasswordHash, &acc.FailedAttempts, &acc.LockedUntil,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, identity.ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to scan account: %w", err)
	}
	return &acc, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// CreateAccount inserts a new account
func (r *AccountRepository) CreateAccount(ctx context.Context, acc *identity.Account) error {
	_, err := r.db.pool.Exec(ctx, `
		INSERT INTO accounts (
			id, email, username, first_name, last_name, is_active,
			company_id, tenant_id, password_hash, failed_attempts, locked_until
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`,
		acc.ID, nullable(acc.Email), nullable(acc.Username), acc.FirstName, acc.LastName, acc.IsActive,
		nullable(acc.CompanyID), nullable(acc.TenantID), acc.PasswordHash, acc.FailedAttempts, acc.LockedUntil,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return fmt.Errorf("%w: %s", identity.ErrUserAlreadyExists, pgErr.ConstraintName)
		}
		return fmt.Errorf("failed to insert account: %w", err)
	}
	return nil
}

// SetActive toggles an account's active flag
func (r *AccountRepository) SetActive(ctx context.Context, id string, active bool) error {
	tag, err := r.db.pool.Exec(ctx, `
		UPDATE accounts SET is_active = $2, updated_at = NOW() WHERE id = $1
	`, id, active)
	if err != nil {
		return fmt.Errorf("failed to update account: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return identity.ErrUserNotFound
	}
	return nil
}

// An email match wins over a username match when both exist.
const byIdentifier = `
	FROM accounts
	WHERE LOWER(email) = LOWER($1) OR LOWER(username) = LOWER($1)
	ORDER BY (LOWER(email) = LOWER($1)) DESC NULLS LAST
	LIMIT 1`

// FindByIdentifier implements identity.AccountSource
func (r *AccountRepository) FindByIdentifier(ctx context.Context, identifier string) (*identity.Account, error) {
	return scanAccount(r.db.pool.QueryRow(ctx, `SELECT `+accountColumns+byIdentifier, identifier))
}

// FindByID implements identity.CredentialStore
func (r *AccountRepository) FindByID(ctx context.Context, id string) (*identity.Account, error) {
	return scanAccount(r.db.pool.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id))
}

// WithCredential implements identity.CredentialStore. The account row is
// locked with SELECT ... FOR UPDATE for the duration of fn.
func (r *AccountRepository) WithCredential(ctx context.Context, identifier string, fn func(*identity.Account) error) error {
	tx, err := r.db.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	acc, err := scanAccount(tx.QueryRow(ctx, `SELECT `+accountColumns+byIdentifier+` FOR UPDATE`, identifier))
	if err != nil {
		return err
	}

	fnErr := fn(acc)

	if _, err := tx.Exec(ctx, `
		UPDATE accounts
		SET failed_attempts = $2, locked_until = $3, updated_at = $4
		WHERE id = $1
	`, acc.ID, acc.FailedAttempts, acc.LockedUntil, time.Now()); err != nil {
		return fmt.Errorf("failed to update lockout state: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit lockout state: %w", err)
	}

	return fnErr
}
