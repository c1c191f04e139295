// Package redisledger implements ledger.Store on Redis.
//
// Each balance is an integer key holding tenths of a token. Credits use
// INCRBY; conditional debits and Take run as Lua scripts so the
// read-compare-write happens inside Redis in one step.
package redisledger

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/roach88/tokenbot/internal/ir"
	"github.com/roach88/tokenbot/internal/ledger"
)

// DefaultPrefix namespaces balance keys.
const DefaultPrefix = "tokenbot:balance:"

// debitScript subtracts ARGV[1] from KEYS[1] iff the balance covers it.
// Returns {1, new_balance} on success and {0, current_balance} otherwise.
var debitScript = redis.NewScript(`
local bal = tonumber(redis.call("GET", KEYS[1]) or "0")
local amount = tonumber(ARGV[1])
if bal < amount then
    return {0, bal}
end
local nextBal = redis.call("DECRBY", KEYS[1], amount)
return {1, nextBal}
`)

// takeScript removes min(ARGV[1], balance) from KEYS[1].
// Returns {taken, remaining}. Missing keys are left missing.
var takeScript = redis.NewScript(`
local raw = redis.call("GET", KEYS[1])
if not raw then
    return {0, 0}
end
local bal = tonumber(raw)
local want = tonumber(ARGV[1])
local taken = want
if bal < taken then
    taken = bal
end
if taken > 0 then
    bal = redis.call("DECRBY", KEYS[1], taken)
end
return {taken, bal}
`)

var _ ledger.Store = (*Ledger)(nil)

// Ledger is a Redis-backed ledger.Store.
type Ledger struct {
	client *redis.Client
	prefix string
}

// Options configures the Redis connection.
type Options struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

// New creates a ledger with its own client.
func New(opts Options) *Ledger {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	return NewWithClient(client, opts.Prefix)
}

// NewWithClient wraps an existing client. An empty prefix uses DefaultPrefix.
func NewWithClient(client *redis.Client, prefix string) *Ledger {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Ledger{client: client, prefix: prefix}
}

// Ping verifies connectivity.
func (l *Ledger) Ping(ctx context.Context) error {
	if err := l.client.Ping(ctx).Err(); err != nil {
		return ledger.Unavailable("ping", err)
	}
	return nil
}

// Close closes the client.
func (l *Ledger) Close() error {
	return l.client.Close()
}

func (l *Ledger) key(userID string) string {
	return l.prefix + userID
}

// Balance implements ledger.Store.
func (l *Ledger) Balance(ctx context.Context, userID string) (ir.Amount, error) {
	v, err := l.client.Get(ctx, l.key(userID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, ledger.Unavailable("balance", err)
	}
	return ir.Amount(v), nil
}

// Adjust implements ledger.Store.
func (l *Ledger) Adjust(ctx context.Context, userID string, delta ir.Amount) (ir.Amount, error) {
	if delta.IsNegative() {
		return l.debit(ctx, "adjust", userID, -delta)
	}
	v, err := l.client.IncrBy(ctx, l.key(userID), delta.Tenths()).Result()
	if err != nil {
		return 0, ledger.Unavailable("adjust", err)
	}
	return ir.Amount(v), nil
}

// Set implements ledger.Store.
func (l *Ledger) Set(ctx context.Context, userID string, amount ir.Amount) error {
	if amount.IsNegative() {
		return ledger.ErrNegativeAmount
	}
	if err := l.client.Set(ctx, l.key(userID), amount.Tenths(), 0).Err(); err != nil {
		return ledger.Unavailable("set", err)
	}
	return nil
}

// Debit implements ledger.Store.
func (l *Ledger) Debit(ctx context.Context, userID string, amount ir.Amount) (ir.Amount, error) {
	if amount.IsNegative() {
		return 0, ledger.ErrNegativeAmount
	}
	return l.debit(ctx, "debit", userID, amount)
}

func (l *Ledger) debit(ctx context.Context, op, userID string, amount ir.Amount) (ir.Amount, error) {
	res, err := debitScript.Run(ctx, l.client, []string{l.key(userID)}, amount.Tenths()).Int64Slice()
	if err != nil {
		return 0, ledger.Unavailable(op, err)
	}
	if len(res) != 2 {
		return 0, ledger.Unavailable(op, fmt.Errorf("unexpected script reply %v", res))
	}
	if res[0] == 0 {
		return ir.Amount(res[1]), ledger.ErrInsufficientFunds
	}
	return ir.Amount(res[1]), nil
}

// Take implements ledger.Store.
func (l *Ledger) Take(ctx context.Context, userID string, max ir.Amount) (ir.Amount, ir.Amount, error) {
	if max.IsNegative() {
		return 0, 0, ledger.ErrNegativeAmount
	}
	res, err := takeScript.Run(ctx, l.client, []string{l.key(userID)}, max.Tenths()).Int64Slice()
	if err != nil {
		return 0, 0, ledger.Unavailable("take", err)
	}
	if len(res) != 2 {
		return 0, 0, ledger.Unavailable("take", fmt.Errorf("unexpected script reply %v", res))
	}
	return ir.Amount(res[0]), ir.Amount(res[1]), nil
}

// Accounts implements ledger.Lister by scanning the key prefix.
func (l *Ledger) Accounts(ctx context.Context) ([]ir.Account, error) {
	accounts := []ir.Account{}
	iter := l.client.Scan(ctx, 0, l.prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		v, err := l.client.Get(ctx, key).Int64()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, ledger.Unavailable("accounts", err)
		}
		accounts = append(accounts, ir.Account{
			UserID:  strings.TrimPrefix(key, l.prefix),
			Balance: ir.Amount(v),
		})
	}
	if err := iter.Err(); err != nil {
		return nil, ledger.Unavailable("accounts: scan", err)
	}
	slices.SortFunc(accounts, func(a, b ir.Account) int {
		return strings.Compare(a.UserID, b.UserID)
	})
	return accounts, nil
}
