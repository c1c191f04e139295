// Package ledgertest holds the conformance suite every ledger.Store backend
// must pass.
package ledgertest

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tokenbot/internal/ir"
	"github.com/roach88/tokenbot/internal/ledger"
)

// Factory returns a fresh, empty store for one subtest.
type Factory func(t *testing.T) ledger.Store

// Run executes the conformance suite against stores built by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Run("BalanceOfUnknownUserIsZero", func(t *testing.T) {
		s := newStore(t)
		bal, err := s.Balance(context.Background(), "nobody")
		require.NoError(t, err)
		assert.Equal(t, ir.Amount(0), bal)
	})

	t.Run("AdjustCreatesAndAccumulates", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		bal, err := s.Adjust(ctx, "alice", ir.Tokens(1))
		require.NoError(t, err)
		assert.Equal(t, ir.Tokens(1), bal)

		bal, err = s.Adjust(ctx, "alice", ir.Amount(5))
		require.NoError(t, err)
		assert.Equal(t, ir.MustParseAmount("1.5"), bal)

		bal, err = s.Adjust(ctx, "alice", ir.Amount(-5))
		require.NoError(t, err)
		assert.Equal(t, ir.Tokens(1), bal)
	})

	t.Run("AdjustRejectsOverdraw", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		require.NoError(t, s.Set(ctx, "alice", ir.Tokens(2)))

		_, err := s.Adjust(ctx, "alice", ir.Tokens(-3))
		assert.True(t, errors.Is(err, ledger.ErrInsufficientFunds))

		bal, err := s.Balance(ctx, "alice")
		require.NoError(t, err)
		assert.Equal(t, ir.Tokens(2), bal, "failed adjust must not change balance")
	})

	t.Run("SetOverwrites", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		_, err := s.Adjust(ctx, "alice", ir.Tokens(9))
		require.NoError(t, err)

		require.NoError(t, s.Set(ctx, "alice", ir.Amount(5)))
		bal, err := s.Balance(ctx, "alice")
		require.NoError(t, err)
		assert.Equal(t, ir.Amount(5), bal)

		err = s.Set(ctx, "alice", ir.Amount(-1))
		assert.True(t, errors.Is(err, ledger.ErrNegativeAmount))
	})

	t.Run("DebitIsConditional", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		require.NoError(t, s.Set(ctx, "alice", ir.Amount(5)))

		// 0.5 tokens cannot pay for a 10 second mute (1.0).
		bal, err := s.Debit(ctx, "alice", ir.Tokens(1))
		assert.True(t, errors.Is(err, ledger.ErrInsufficientFunds))
		assert.Equal(t, ir.Amount(5), bal)

		bal, err = s.Debit(ctx, "alice", ir.Amount(5))
		require.NoError(t, err)
		assert.Equal(t, ir.Amount(0), bal)

		_, err = s.Debit(ctx, "ghost", ir.Tokens(1))
		assert.True(t, errors.Is(err, ledger.ErrInsufficientFunds))
	})

	t.Run("TakeCapsAtBalance", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		require.NoError(t, s.Set(ctx, "bob", ir.Tokens(3)))

		taken, remaining, err := s.Take(ctx, "bob", ir.Tokens(4))
		require.NoError(t, err)
		assert.Equal(t, ir.Tokens(3), taken)
		assert.Equal(t, ir.Amount(0), remaining)

		taken, _, err = s.Take(ctx, "ghost", ir.Tokens(4))
		require.NoError(t, err)
		assert.Equal(t, ir.Amount(0), taken)
	})

	t.Run("TakePartial", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		require.NoError(t, s.Set(ctx, "bob", ir.Tokens(10)))

		taken, remaining, err := s.Take(ctx, "bob", ir.Tokens(4))
		require.NoError(t, err)
		assert.Equal(t, ir.Tokens(4), taken)
		assert.Equal(t, ir.Tokens(6), remaining)
	})

	t.Run("ConcurrentAdjustsAreNeverLost", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		const workers, perWorker = 20, 25
		var wg sync.WaitGroup
		for w := 0; w < workers; w++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for i := 0; i < perWorker; i++ {
					_, err := s.Adjust(ctx, "alice", ir.Tokens(1))
					assert.NoError(t, err)
				}
			}()
		}
		wg.Wait()

		bal, err := s.Balance(ctx, "alice")
		require.NoError(t, err)
		assert.Equal(t, ir.Tokens(workers*perWorker), bal)
	})

	t.Run("ConcurrentDebitsNeverOverdraw", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		require.NoError(t, s.Set(ctx, "alice", ir.Tokens(10)))

		var ok atomic.Int64
		var wg sync.WaitGroup
		for i := 0; i < 30; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := s.Debit(ctx, "alice", ir.Tokens(1))
				if err == nil {
					ok.Add(1)
					return
				}
				assert.True(t, errors.Is(err, ledger.ErrInsufficientFunds))
			}()
		}
		wg.Wait()

		assert.Equal(t, int64(10), ok.Load())
		bal, err := s.Balance(ctx, "alice")
		require.NoError(t, err)
		assert.Equal(t, ir.Amount(0), bal)
	})

	t.Run("ConcurrentTakesConserveTokens", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		require.NoError(t, s.Set(ctx, "bob", ir.Tokens(7)))

		var total atomic.Int64
		var wg sync.WaitGroup
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				taken, _, err := s.Take(ctx, "bob", ir.Tokens(2))
				assert.NoError(t, err)
				total.Add(taken.Tenths())
			}()
		}
		wg.Wait()

		bal, err := s.Balance(ctx, "bob")
		require.NoError(t, err)
		assert.Equal(t, ir.Amount(0), bal)
		assert.Equal(t, ir.Tokens(7).Tenths(), total.Load())
	})

	t.Run("AccountsAreListedInOrder", func(t *testing.T) {
		s := newStore(t)
		lister, ok := s.(ledger.Lister)
		if !ok {
			t.Skip("backend does not list accounts")
		}
		ctx := context.Background()
		require.NoError(t, s.Set(ctx, "carol", ir.Tokens(3)))
		require.NoError(t, s.Set(ctx, "alice", ir.Tokens(1)))
		require.NoError(t, s.Set(ctx, "bob", ir.Amount(5)))

		accounts, err := lister.Accounts(ctx)
		require.NoError(t, err)
		assert.Equal(t, []ir.Account{
			{UserID: "alice", Balance: ir.Tokens(1)},
			{UserID: "bob", Balance: ir.Amount(5)},
			{UserID: "carol", Balance: ir.Tokens(3)},
		}, accounts)
	})
}
