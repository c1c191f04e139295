package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/roach88/tokenbot/internal/ir"
	"github.com/roach88/tokenbot/internal/ledger"
)

var (
	_ ledger.Store  = (*Store)(nil)
	_ ledger.Lister = (*Store)(nil)
)

// Balance returns the stored balance, 0 for unknown users.
func (s *Store) Balance(ctx context.Context, userID string) (ir.Amount, error) {
	var tenths int64
	err := s.db.QueryRowContext(ctx,
		`SELECT balance FROM accounts WHERE user_id = ?`, userID,
	).Scan(&tenths)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, ledger.Unavailable("balance", err)
	}
	return ir.Amount(tenths), nil
}

// Adjust applies delta relative to the stored balance.
//
// Credits upsert with ON CONFLICT DO UPDATE so the first credit creates the
// account. Debits are a guarded UPDATE; no matching row means the balance
// would go negative (or the account does not exist).
func (s *Store) Adjust(ctx context.Context, userID string, delta ir.Amount) (ir.Amount, error) {
	now := s.now().UnixMilli()

	if !delta.IsNegative() {
		var tenths int64
		err := s.db.QueryRowContext(ctx, `
			INSERT INTO accounts (user_id, balance, updated_at)
			VALUES (?, ?, ?)
			ON CONFLICT(user_id) DO UPDATE
			SET balance = balance + excluded.balance, updated_at = excluded.updated_at
			RETURNING balance
		`, userID, delta.Tenths(), now).Scan(&tenths)
		if err != nil {
			return 0, ledger.Unavailable("adjust", err)
		}
		return ir.Amount(tenths), nil
	}

	var tenths int64
	err := s.db.QueryRowContext(ctx, `
		UPDATE accounts
		SET balance = balance + ?, updated_at = ?
		WHERE user_id = ? AND balance + ? >= 0
		RETURNING balance
	`, delta.Tenths(), now, userID, delta.Tenths()).Scan(&tenths)
	if errors.Is(err, sql.ErrNoRows) {
		cur, balErr := s.Balance(ctx, userID)
		if balErr != nil {
			return 0, balErr
		}
		return cur, ledger.ErrInsufficientFunds
	}
	if err != nil {
		return 0, ledger.Unavailable("adjust", err)
	}
	return ir.Amount(tenths), nil
}

// Set overwrites the balance.
func (s *Store) Set(ctx context.Context, userID string, amount ir.Amount) error {
	if amount.IsNegative() {
		return ledger.ErrNegativeAmount
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO accounts (user_id, balance, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE
		SET balance = excluded.balance, updated_at = excluded.updated_at
	`, userID, amount.Tenths(), s.now().UnixMilli())
	if err != nil {
		return ledger.Unavailable("set", err)
	}
	return nil
}

// Debit subtracts amount iff the balance covers it.
func (s *Store) Debit(ctx context.Context, userID string, amount ir.Amount) (ir.Amount, error) {
	if amount.IsNegative() {
		return 0, ledger.ErrNegativeAmount
	}
	if amount == 0 {
		return s.Balance(ctx, userID)
	}

	var tenths int64
	err := s.db.QueryRowContext(ctx, `
		UPDATE accounts
		SET balance = balance - ?, updated_at = ?
		WHERE user_id = ? AND balance >= ?
		RETURNING balance
	`, amount.Tenths(), s.now().UnixMilli(), userID, amount.Tenths()).Scan(&tenths)
	if errors.Is(err, sql.ErrNoRows) {
		cur, balErr := s.Balance(ctx, userID)
		if balErr != nil {
			return 0, balErr
		}
		return cur, ledger.ErrInsufficientFunds
	}
	if err != nil {
		return 0, ledger.Unavailable("debit", err)
	}
	return ir.Amount(tenths), nil
}

// Take removes min(max, balance) inside one transaction.
func (s *Store) Take(ctx context.Context, userID string, max ir.Amount) (ir.Amount, ir.Amount, error) {
	if max.IsNegative() {
		return 0, 0, ledger.ErrNegativeAmount
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, 0, ledger.Unavailable("take: begin tx", err)
	}
	defer tx.Rollback() // No-op if committed

	var tenths int64
	err = tx.QueryRowContext(ctx,
		`SELECT balance FROM accounts WHERE user_id = ?`, userID,
	).Scan(&tenths)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, 0, nil
	}
	if err != nil {
		return 0, 0, ledger.Unavailable("take: read", err)
	}

	current := ir.Amount(tenths)
	taken := max.Min(current)
	if taken > 0 {
		if _, err := tx.ExecContext(ctx, `
			UPDATE accounts SET balance = balance - ?, updated_at = ? WHERE user_id = ?
		`, taken.Tenths(), s.now().UnixMilli(), userID); err != nil {
			return 0, 0, ledger.Unavailable("take: write", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, 0, ledger.Unavailable("take: commit", err)
	}
	return taken, current - taken, nil
}

// Accounts lists every account ordered by user id.
func (s *Store) Accounts(ctx context.Context) ([]ir.Account, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id, balance FROM accounts ORDER BY user_id COLLATE BINARY ASC
	`)
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
