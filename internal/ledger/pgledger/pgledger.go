// Package pgledger implements ledger.Store on PostgreSQL.
//
// Credits are a single upsert, debits a guarded UPDATE, and Take locks the
// row with SELECT ... FOR UPDATE inside a transaction, so every operation is
// atomic per account across any number of bot processes sharing the
// database.
package pgledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/lib/pq"

	"github.com/roach88/tokenbot/internal/ir"
	"github.com/roach88/tokenbot/internal/ledger"
)

const (
	createTableSQL = `CREATE TABLE IF NOT EXISTS token_accounts (user_id TEXT PRIMARY KEY, balance BIGINT NOT NULL CHECK (balance >= 0), updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW())`
	balanceSQL     = `SELECT balance FROM token_accounts WHERE user_id = $1`
	creditSQL      = `INSERT INTO token_accounts (user_id, balance) VALUES ($1, $2) ON CONFLICT (user_id) DO UPDATE SET balance = token_accounts.balance + EXCLUDED.balance, updated_at = NOW() RETURNING balance`
	debitSQL       = `UPDATE token_accounts SET balance = balance - $2, updated_at = NOW() WHERE user_id = $1 AND balance >= $2 RETURNING balance`
	setSQL         = `INSERT INTO token_accounts (user_id, balance) VALUES ($1, $2) ON CONFLICT (user_id) DO UPDATE SET balance = EXCLUDED.balance, updated_at = NOW()`
	lockSQL        = `SELECT balance FROM token_accounts WHERE user_id = $1 FOR UPDATE`
	takeSQL        = `UPDATE token_accounts SET balance = balance - $2, updated_at = NOW() WHERE user_id = $1`
	listSQL        = `SELECT user_id, balance FROM token_accounts ORDER BY user_id`
)

var (
	_ ledger.Store  = (*Ledger)(nil)
	_ ledger.Lister = (*Ledger)(nil)
)

// Ledger is a PostgreSQL-backed ledger.Store.
type Ledger struct {
	db *sql.DB
}

// New wraps an existing connection pool. The table must already exist;
// see Migrate.
func New(db *sql.DB) *Ledger {
	return &Ledger{db: db}
}

// Open connects to dsn, verifies the connection and creates the table.
func Open(ctx context.Context, dsn string) (*Ledger, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	l := New(db)
	if err := l.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return l, nil
}

// Migrate creates the accounts table if it does not exist.
func (l *Ledger) Migrate(ctx context.Context) error {
	if _, err := l.db.ExecContext(ctx, createTableSQL); err != nil {
		return fmt.Errorf("migrate token_accounts: %w", err)
	}
	return nil
}

// Close closes the connection pool.
func (l *Ledger) Close() error {
	return l.db.Close()
}

// Balance implements ledger.Store.
func (l *Ledger) Balance(ctx context.Context, userID string) (ir.Amount, error) {
	var tenths int64
	err := l.db.QueryRowContext(ctx, balanceSQL, userID).Scan(&tenths)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, ledger.Unavailable("balance", err)
	}
	return ir.Amount(tenths), nil
}

// Adjust implements ledger.Store.
func (l *Ledger) Adjust(ctx context.Context, userID string, delta ir.Amount) (ir.Amount, error) {
	if delta.IsNegative() {
		return l.debit(ctx, "adjust", userID, -delta)
	}
	var tenths int64
	if err := l.db.QueryRowContext(ctx, creditSQL, userID, delta.Tenths()).Scan(&tenths); err != nil {
		return 0, ledger.Unavailable("adjust", err)
	}
	return ir.Amount(tenths), nil
}

// Set implements ledger.Store.
func (l *Ledger) Set(ctx context.Context, userID string, amount ir.Amount) error {
	if amount.IsNegative() {
		return ledger.ErrNegativeAmount
	}
	if _, err := l.db.ExecContext(ctx, setSQL, userID, amount.Tenths()); err != nil {
		return ledger.Unavailable("set", err)
	}
	return nil
}

// Debit implements ledger.Store.
func (l *Ledger) Debit(ctx context.Context, userID string, amount ir.Amount) (ir.Amount, error) {
	if amount.IsNegative() {
		return 0, ledger.ErrNegativeAmount
	}
	if amount == 0 {
		return l.Balance(ctx, userID)
	}
	return l.debit(ctx, "debit", userID, amount)
}

func (l *Ledger) debit(ctx context.Context, op, userID string, amount ir.Amount) (ir.Amount, error) {
	var tenths int64
	err := l.db.QueryRowContext(ctx, debitSQL, userID, amount.Tenths()).Scan(&tenths)
	if errors.Is(err, sql.ErrNoRows) {
		cur, balErr := l.Balance(ctx, userID)
		if balErr != nil {
			return 0, balErr
		}
		return cur, ledger.ErrInsufficientFunds
	}
	if err != nil {
		return 0, ledger.Unavailable(op, err)
	}
	return ir.Amount(tenths), nil
}

// Take implements ledger.Store.
func (l *Ledger) Take(ctx context.Context, userID string, max ir.Amount) (ir.Amount, ir.Amount, error) {
	if max.IsNegative() {
		return 0, 0, ledger.ErrNegativeAmount
	}

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, 0, ledger.Unavailable("take: begin tx", err)
	}
	defer tx.Rollback() // No-op if committed

	var tenths int64
	err = tx.QueryRowContext(ctx, lockSQL, userID).Scan(&tenths)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, 0, nil
	}
	if err != nil {
		return 0, 0, ledger.Unavailable("take: lock", err)
	}

	current := ir.Amount(tenths)
	taken := max.Min(current)
	if taken > 0 {
		if _, err := tx.ExecContext(ctx, takeSQL, userID, taken.Tenths()); err != nil {
			return 0, 0, ledger.Unavailable("take: write", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, 0, ledger.Unavailable("take: commit", err)
	}
	return taken, current - taken, nil
}

// Accounts implements ledger.Lister.
func (l *Ledger) Accounts(ctx context.Context) ([]ir.Account, error) {
	rows, err := l.db.QueryContext(ctx, listSQL)
	if err != nil {
		return nil, ledger.Unavailable("accounts", err)
	}
	defer rows.Close()

	accounts := []ir.Account{}
	for rows.Next() {
		var a ir.Account
		var tenths int64
		if err := rows.Scan(&a.UserID, &tenths); err != nil {
			return nil, ledger.Unavailable("accounts: scan", err)
		}
		a.Balance = ir.Amount(tenths)
		accounts = append(accounts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, ledger.Unavailable("accounts: iterate", err)
	}
	return accounts, nil
}
