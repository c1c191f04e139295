package ledger

import (
	"context"
	"slices"
	"strings"
	"sync"

	"github.com/roach88/tokenbot/internal/ir"
)

// account holds one balance behind its own lock.
type account struct {
	mu      sync.Mutex
	balance ir.Amount
}

// Memory is an in-process Store. Each account has its own mutex; the
// account index is a sync.Map so lookups of different users never block
// each other.
//
// Thread-safety: Memory is safe for concurrent use.
type Memory struct {
	accounts sync.Map // map[string]*account
}

// NewMemory creates an empty in-memory ledger.
func NewMemory() *Memory {
	return &Memory{}
}

// lookup returns the account for userID, creating it if create is set.
func (m *Memory) lookup(userID string, create bool) *account {
	if v, ok := m.accounts.Load(userID); ok {
		return v.(*account)
	}
	if !create {
		return nil
	}
	v, _ := m.accounts.LoadOrStore(userID, &account{})
	return v.(*account)
}

// Balance implements Store.
func (m *Memory) Balance(ctx context.Context, userID string) (ir.Amount, error) {
	if err := ctx.Err(); err != nil {
		return 0, Unavailable("balance", err)
	}
	a := m.lookup(userID, false)
	if a == nil {
		return 0, nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.balance, nil
}

// Adjust implements Store.
func (m *Memory) Adjust(ctx context.Context, userID string, delta ir.Amount) (ir.Amount, error) {
	if err := ctx.Err(); err != nil {
		return 0, Unavailable("adjust", err)
	}
	a := m.lookup(userID, true)
	a.mu.Lock()
	defer a.mu.Unlock()

	next := a.balance + delta
	if next.IsNegative() {
		return a.balance, ErrInsufficientFunds
	}
	a.balance = next
	return next, nil
}

// Set implements Store.
func (m *Memory) Set(ctx context.Context, userID string, amount ir.Amount) error {
	if amount.IsNegative() {
		return ErrNegativeAmount
	}
	if err := ctx.Err(); err != nil {
		return Unavailable("set", err)
	}
	a := m.lookup(userID, true)
	a.mu.Lock()
	defer a.mu.Unlock()
	a.balance = amount
	return nil
}

// Debit implements Store.
func (m *Memory) Debit(ctx context.Context, userID string, amount ir.Amount) (ir.Amount, error) {
	if amount.IsNegative() {
		return 0, ErrNegativeAmount
	}
	if err := ctx.Err(); err != nil {
		return 0, Unavailable("debit", err)
	}
	a := m.lookup(userID, false)
	if a == nil {
		if amount == 0 {
			return 0, nil
		}
		return 0, ErrInsufficientFunds
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.balance < amount {
		return a.balance, ErrInsufficientFunds
	}
	a.balance -= amount
	return a.balance, nil
}

// Take implements Store.
func (m *Memory) Take(ctx context.Context, userID string, max ir.Amount) (ir.Amount, ir.Amount, error) {
	if max.IsNegative() {
		return 0, 0, ErrNegativeAmount
	}
	if err := ctx.Err(); err != nil {
		return 0, 0, Unavailable("take", err)
	}
	a := m.lookup(userID, false)
	if a == nil {
		return 0, 0, nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	taken := max.Min(a.balance)
	a.balance -= taken
	return taken, a.balance, nil
}

// Accounts implements Lister.
func (m *Memory) Accounts(ctx context.Context) ([]ir.Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, Unavailable("accounts", err)
	}
	var out []ir.Account
	m.accounts.Range(func(key, value any) bool {
		a := value.(*account)
		a.mu.Lock()
		out = append(out, ir.Account{UserID: key.(string), Balance: a.balance})
		a.mu.Unlock()
		return true
	})
	slices.SortFunc(out, func(x, y ir.Account) int {
		return strings.Compare(x.UserID, y.UserID)
	})
	return out, nil
}
