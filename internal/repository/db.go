package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	customError "github.com/segyhp/loan-servicing-engine/pkg/errors"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite3"
)

// PoolConfig sizes the connection pool.
type PoolConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// Open connects to the database and pings it.
func Open(driver, url string, pool PoolConfig) (*sqlx.DB, error) {
	switch driver {
	case DriverPostgres, DriverSQLite:
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := sqlx.Connect(driver, url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if driver == DriverSQLite {
		if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
		}
		// a single connection keeps in-memory databases shared and writes serialized
		db.SetMaxOpenConns(1)
	} else if pool.MaxOpenConns > 0 {
		db.SetMaxOpenConns(pool.MaxOpenConns)
	}
	if pool.MaxIdleConns > 0 {
		db.SetMaxIdleConns(pool.MaxIdleConns)
	}
	if pool.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(pool.ConnMaxLifetime)
	}

	return db, nil
}

// Migrate creates the tables when they do not exist yet.
func Migrate(ctx context.Context, db *sqlx.DB) error {
	statements := schema(db.DriverName())
	for _, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}

func schema(driver string) []string {
	serial := "BIGSERIAL PRIMARY KEY"
	amount := "NUMERIC(19,6)"
	ts := "TIMESTAMPTZ"
	if driver == DriverSQLite {
		serial = "INTEGER PRIMARY KEY AUTOINCREMENT"
		amount = "TEXT"
		ts = "TIMESTAMP"
	}

	return []string{
		`CREATE TABLE IF NOT EXISTS loans (
			id ` + serial + `,
			external_id TEXT,
			client_id BIGINT NOT NULL DEFAULT 0,
			group_id BIGINT NOT NULL DEFAULT 0,
			office_id BIGINT NOT NULL DEFAULT 0,
			product_id BIGINT NOT NULL DEFAULT 0,
			status TEXT NOT NULL,
			version BIGINT NOT NULL,
			state TEXT NOT NULL,
			created_at ` + ts + ` NOT NULL,
			updated_at ` + ts + ` NOT NULL
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS ux_loans_external_id ON loans (external_id) WHERE external_id IS NOT NULL`,
		`CREATE INDEX IF NOT EXISTS ix_loans_status ON loans (status)`,
		`CREATE TABLE IF NOT EXISTS loan_transactions (
			loan_id BIGINT NOT NULL REFERENCES loans (id),
			transaction_id BIGINT NOT NULL,
			seq BIGINT NOT NULL,
			type TEXT NOT NULL,
			transaction_date DATE NOT NULL,
			amount ` + amount + ` NOT NULL,
			principal_portion ` + amount + ` NOT NULL,
			interest_portion ` + amount + ` NOT NULL,
			fee_portion ` + amount + ` NOT NULL,
			penalty_portion ` + amount + ` NOT NULL,
			overpayment_portion ` + amount + ` NOT NULL,
			reversed BOOLEAN NOT NULL,
			external_id TEXT,
			PRIMARY KEY (loan_id, transaction_id)
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS ux_loan_transactions_external_id
			ON loan_transactions (external_id) WHERE external_id IS NOT NULL AND NOT reversed`,
		`CREATE TABLE IF NOT EXISTS loan_schedule_history (
			id ` + serial + `,
			loan_id BIGINT NOT NULL REFERENCES loans (id),
			version INTEGER NOT NULL,
			installment_number INTEGER NOT NULL,
			from_date DATE NOT NULL,
			due_date DATE NOT NULL,
			principal ` + amount + ` NOT NULL,
			interest ` + amount + ` NOT NULL,
			fee ` + amount + ` NOT NULL,
			penalty ` + amount + ` NOT NULL,
			reschedule_request_id BIGINT,
			created_at ` + ts + ` NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS journal_outbox (
			id TEXT PRIMARY KEY,
			loan_id BIGINT NOT NULL,
			payload TEXT NOT NULL,
			status TEXT NOT NULL,
			attempts INTEGER NOT NULL DEFAULT 0,
			last_error TEXT,
			created_at ` + ts + ` NOT NULL,
			sent_at ` + ts + `
		)`,
		`CREATE INDEX IF NOT EXISTS ix_journal_outbox_status ON journal_outbox (status, created_at)`,
		`CREATE TABLE IF NOT EXISTS account_transfers (
			id TEXT PRIMARY KEY,
			from_type TEXT NOT NULL,
			from_id BIGINT NOT NULL,
			to_type TEXT NOT NULL,
			to_id BIGINT NOT NULL,
			amount ` + amount + ` NOT NULL,
			currency TEXT NOT NULL,
			transfer_date DATE NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			loan_transaction_id BIGINT NOT NULL DEFAULT 0,
			created_at ` + ts + ` NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS borrower_cycle (
			loan_id BIGINT PRIMARY KEY,
			client_id BIGINT NOT NULL DEFAULT 0,
			group_id BIGINT NOT NULL DEFAULT 0,
			product_id BIGINT NOT NULL,
			disbursed_on DATE NOT NULL,
			loan_counter INTEGER NOT NULL,
			product_counter INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS client_collateral (
			id ` + serial + `,
			client_id BIGINT NOT NULL,
			name TEXT NOT NULL,
			quantity ` + amount + ` NOT NULL,
			base_price ` + amount + ` NOT NULL,
			pct_to_base ` + amount + ` NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS holidays (
			id ` + serial + `,
			office_id BIGINT NOT NULL,
			holiday_date DATE NOT NULL,
			name TEXT NOT NULL DEFAULT ''
		)`,
	}
}

// txKey is the key type for storing the transaction in the context.
type txKey struct{}

// TxManager runs functions inside one database transaction. Repositories pick
// the transaction up from the context.
type TxManager struct {
	db *sqlx.DB
}

func NewTxManager(db *sqlx.DB) *TxManager {
	return &TxManager{db: db}
}

// WithTransaction commits when fn succeeds and rolls back otherwise. Nested
// calls join the outer transaction.
func (tm *TxManager) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if txFrom(ctx) != nil {
		return fn(ctx)
	}

	tx, err := tm.db.BeginTxx(ctx, nil)
	if err != nil {
		return customError.WrapDatabaseError(fmt.Errorf("failed to begin transaction: %w", err))
	}
	defer tx.Rollback()

	if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return customError.WrapDatabaseError(fmt.Errorf("failed to commit transaction: %w", err))
	}
	return nil
}

func txFrom(ctx context.Context) *sqlx.Tx {
	if tx, ok := ctx.Value(txKey{}).(*sqlx.Tx); ok {
		return tx
	}
	return nil
}

// conn returns the transaction in ctx, or db when there is none.
func conn(ctx context.Context, db *sqlx.DB) sqlx.ExtContext {
	if tx := txFrom(ctx); tx != nil {
		return tx
	}
	return db
}

// isUniqueViolation recognizes unique constraint failures of both drivers.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			liteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

// dbError maps driver failures onto business errors.
func dbError(err error, conflict string) error {
	if err == nil {
		return nil
	}
	if isUniqueViolation(err) {
		return customError.WrapDataIntegrityConflict(conflict, err)
	}
	return customError.WrapDatabaseError(err)
}
