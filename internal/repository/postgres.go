package repository

import (
	"context"
	_ "embed"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/smallbiznis/httpauth/internal/domain"
)

// Compile-time interface assertions.
var (
	_ AccountRepository = (*PostgresAccountRepo)(nil)
	_ OptionsRepository = (*PostgresOptionsRepo)(nil)
)

//go:embed schema.sql
var schemaSQL string

// EnsureSchema creates the tables this service needs. It is safe to call on every start.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// PostgresAccountRepo implements AccountRepository.
type PostgresAccountRepo struct {
	db *pgxpool.Pool
}

func NewPostgresAccountRepo(pool *pgxpool.Pool) *PostgresAccountRepo {
	return &PostgresAccountRepo{db: pool}
}

const accountColumns = `id, login, email, password_hash, display_name, role, status, created_at, updated_at`

func (r *PostgresAccountRepo) FindByLogin(ctx context.Context, login string) (domain.Account, error) {
	row := r.db.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE login = $1 LIMIT 1`, login)
	account, err := scanAccount(row)
	if err != nil {
		return domain.Account{}, mapAccountError("find account", err)
	}
	return account, nil
}

func (r *PostgresAccountRepo) GetByID(ctx context.Context, id int64) (domain.Account, error) {
	row := r.db.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id)
	account, err := scanAccount(row)
	if err != nil {
		return domain.Account{}, mapAccountError("get account", err)
	}
	return account, nil
}

const insertAccountSQL = `INSERT INTO accounts (id, login, email, password_hash, display_name, role, status)
VALUES ($1, $2, $3, $4, $5, $6, $7)
RETURNING ` + accountColumns

func (r *PostgresAccountRepo) Create(ctx context.Context, account domain.Account) (domain.Account, error) {
	row := r.db.QueryRow(ctx, insertAccountSQL,
		account.ID,
		account.Login,
		account.Email,
		account.PasswordHash,
		account.DisplayName,
		account.Role,
		account.Status,
	)
	created, err := scanAccount(row)
	if err != nil {
		return domain.Account{}, mapAccountError("create account", err)
	}
	return created, nil
}

func (r *PostgresAccountRepo) UpdatePassword(ctx context.Context, id int64, passwordHash string) error {
	tag, err := r.db.Exec(ctx, `UPDATE accounts SET password_hash = $2, updated_at = now() WHERE id = $1`, id, passwordHash)
	if err != nil {
		return mapAccountError("update password", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update password: %w", domain.ErrAccountNotFound)
	}
	return nil
}

func scanAccount(row pgx.Row) (domain.Account, error) {
	var a domain.Account
	err := row.Scan(
		&a.ID,
		&a.Login,
		&a.Email,
		&a.PasswordHash,
		&a.DisplayName,
		&a.Role,
		&a.Status,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	return a, err
}

// PostgresOptionsRepo stores the options record as one JSONB row.
type PostgresOptionsRepo struct {
	db   *pgxpool.Pool
	name string
}

func NewPostgresOptionsRepo(pool *pgxpool.Pool, name string) *PostgresOptionsRepo {
	return &PostgresOptionsRepo{db: pool, name: name}
}

const upsertOptionsSQL = `INSERT INTO site_options (name, value) VALUES ($1, $2::jsonb)
ON CONFLICT (name) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`

func (r *PostgresOptionsRepo) Read(ctx context.Context) ([]byte, error) {
	var raw []byte
	err := r.db.QueryRow(ctx, `SELECT value::text FROM site_options WHERE name = $1`, r.name).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read options: %w", err)
	}
	return raw, nil
}

func (r *PostgresOptionsRepo) Write(ctx context.Context, record []byte) error {
	if _, err := r.db.Exec(ctx, upsertOptionsSQL, r.name, string(record)); err != nil {
		return fmt.Errorf("write options: %w", err)
	}
	return nil
}

// Update locks the row for the duration of fn. An absent row is locked through
// a transaction-scoped advisory lock keyed on the option name instead.
func (r *PostgresOptionsRepo) Update(ctx context.Context, fn func(current []byte) ([]byte, error)) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin options update: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, r.name); err != nil {
		return fmt.Errorf("lock options: %w", err)
	}

	var current []byte
	err = tx.QueryRow(ctx, `SELECT value::text FROM site_options WHERE name = $1 FOR UPDATE`, r.name).Scan(&current)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("read options: %w", err)
	}

	next, err := fn(current)
	if err != nil {
		return err
	}
	if next == nil {
		return nil
	}

	if _, err := tx.Exec(ctx, upsertOptionsSQL, r.name, string(next)); err != nil {
		return fmt.Errorf("write options: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit options update: %w", err)
	}
	return nil
}
