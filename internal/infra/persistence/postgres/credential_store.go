package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/coachpo/ledgersync/errs"
	"github.com/coachpo/ledgersync/internal/ledger"
)

// CredentialStore reads API credentials and records their usage. It implements
// ledger.CredentialStore.
type CredentialStore struct {
	pool *pgxpool.Pool
}

// NewCredentialStore constructs a CredentialStore backed by the provided pool.
func NewCredentialStore(pool *pgxpool.Pool) *CredentialStore {
	return &CredentialStore{pool: pool}
}

const (
	credentialSelectSQL = `
SELECT
    user_id,
    exchange,
    api_key,
    secret_key,
    passphrase,
    is_testnet,
    is_active,
    last_used_at,
    last_error
FROM exchange_credentials
WHERE user_id = $1 AND exchange = $2 AND is_active
ORDER BY created_at;
`

	activeUsersSQL = `
SELECT DISTINCT user_id
FROM exchange_credentials
WHERE exchange = $1 AND is_active
ORDER BY user_id;
`

	credentialUsageSQL = `
UPDATE exchange_credentials
SET last_used_at = @used_at,
    last_error = @last_error,
    updated_at = NOW()
WHERE user_id = @user_id AND exchange = @exchange AND api_key = @api_key;
`
)

func (s *CredentialStore) ensurePool() (*pgxpool.Pool, error) {
	if s.pool == nil {
		return nil, fmt.Errorf("credential store: nil pool")
	}
	return s.pool, nil
}

// ActiveCredentials implements ledger.CredentialStore.
func (s *CredentialStore) ActiveCredentials(ctx context.Context, userID string, ex ledger.Exchange) ([]ledger.CredentialRecord, error) {
	pool, err := s.ensurePool()
	if err != nil {
		return nil, err
	}
	rows, err := pool.Query(ctx, credentialSelectSQL, userID, string(ex))
	if err != nil {
		return nil, fmt.Errorf("credential store: select: %w", err)
	}
	defer rows.Close()

	var records []ledger.CredentialRecord
	for rows.Next() {
		var (
			record     ledger.CredentialRecord
			lastUsedAt pgtype.Timestamptz
		)
		if err := rows.Scan(
			&record.UserID,
			&record.Exchange,
			&record.APIKey,
			&record.SecretKey,
			&record.Passphrase,
			&record.IsTestnet,
			&record.IsActive,
			&lastUsedAt,
			&record.LastError,
		); err != nil {
			return nil, fmt.Errorf("credential store: scan: %w", err)
		}
		if lastUsedAt.Valid {
			record.LastUsedAt = lastUsedAt.Time
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("credential store: iterate: %w", err)
	}
	return records, nil
}

// ActiveUsers implements ledger.CredentialStore.
func (s *CredentialStore) ActiveUsers(ctx context.Context, ex ledger.Exchange) ([]string, error) {
	pool, err := s.ensurePool()
	if err != nil {
		return nil, err
	}
	rows, err := pool.Query(ctx, activeUsersSQL, string(ex))
	if err != nil {
		return nil, fmt.Errorf("credential store: active users: %w", err)
	}
	defer rows.Close()

	var users []string
	for rows.Next() {
		var userID string
		if err := rows.Scan(&userID); err != nil {
			return nil, fmt.Errorf("credential store: scan user: %w", err)
		}
		users = append(users, userID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("credential store: iterate users: %w", err)
	}
	return users, nil
}

// RecordUsage implements ledger.CredentialStore.
func (s *CredentialStore) RecordUsage(ctx context.Context, userID string, ex ledger.Exchange, apiKey string, usedAt time.Time, lastErr string) error {
	pool, err := s.ensurePool()
	if err != nil {
		return err
	}
	args := pgx.NamedArgs{
		"user_id":    userID,
		"exchange":   string(ex),
		"api_key":    apiKey,
		"used_at":    usedAt,
		"last_error": lastErr,
	}
	tag, err := pool.Exec(ctx, credentialUsageSQL, args)
	if err != nil {
		return fmt.Errorf("credential store: record usage: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return errs.New("postgres", errs.KindNotFound, errs.WithMessage("credential not found"))
	}
	return nil
}
