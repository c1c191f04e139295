// Package ledger defines the token ledger contract and an in-memory
// implementation.
//
// A ledger maps opaque user ids to non-negative balances. Every mutating
// operation is atomic per account: concurrent adjustments to the same user
// never lose updates, and operations on different users never contend on a
// shared lock.
//
// Backends:
//   - Memory (this package): per-account mutexes, for tests and dry runs
//   - store.Store: SQLite, the default durable backend
//   - pgledger.Ledger: PostgreSQL
//   - redisledger.Ledger: Redis
//
// Any backend I/O failure is reported wrapped in ErrStoreUnavailable. A write
// that returns nil is durable in the backend's sense; writes are never
// silently dropped.
package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/roach88/tokenbot/internal/ir"
)

var (
	// ErrStoreUnavailable wraps every backend I/O failure.
	ErrStoreUnavailable = errors.New("ledger store unavailable")

	// ErrInsufficientFunds is returned when a debit would take a balance
	// below zero. The balance is unchanged.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrNegativeAmount is returned when Set, Debit or Take receive a
	// negative amount.
	ErrNegativeAmount = errors.New("amount must not be negative")
)

// Store is the ledger contract.
type Store interface {
	// Balance returns the user's balance, 0 for users never credited.
	// It never creates an account.
	Balance(ctx context.Context, userID string) (ir.Amount, error)

	// Adjust adds delta (which may be negative) relative to the current
	// stored balance and returns the new balance. Accounts are created on
	// first credit. A delta that would leave the balance negative fails with
	// ErrInsufficientFunds and changes nothing.
	Adjust(ctx context.Context, userID string, delta ir.Amount) (ir.Amount, error)

	// Set overwrites the balance unconditionally. Administrative only.
	Set(ctx context.Context, userID string, amount ir.Amount) error

	// Debit subtracts amount iff the balance covers it and returns the new
	// balance. On ErrInsufficientFunds it returns the current balance.
	Debit(ctx context.Context, userID string, amount ir.Amount) (ir.Amount, error)

	// Take removes min(max, balance) in one step and reports how much was
	// taken and what remains.
	Take(ctx context.Context, userID string, max ir.Amount) (taken, remaining ir.Amount, err error)
}

// Lister is implemented by backends that can enumerate accounts.
// Accounts are returned sorted by user id.
type Lister interface {
	Accounts(ctx context.Context) ([]ir.Account, error)
}

// Unavailable wraps a backend error so that errors.Is(err,
// ErrStoreUnavailable) holds while the cause stays inspectable.
func Unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrStoreUnavailable, err)
}

// IsUnavailable reports whether err came from a backend failure.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrStoreUnavailable)
}
