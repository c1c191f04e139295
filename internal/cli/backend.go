package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/roach88/tokenbot/internal/config"
	"github.com/roach88/tokenbot/internal/ir"
	"github.com/roach88/tokenbot/internal/ledger"
	"github.com/roach88/tokenbot/internal/ledger/pgledger"
	"github.com/roach88/tokenbot/internal/ledger/redisledger"
	"github.com/roach88/tokenbot/internal/notify"
	"github.com/roach88/tokenbot/internal/session"
	"github.com/roach88/tokenbot/internal/store"
)

// ledgerStore is a ledger that can also list its accounts.
type ledgerStore interface {
	ledger.Store
	ledger.Lister
}

// backend is an opened storage backend.
type backend struct {
	ledger      ledgerStore
	resolutions session.ResolutionLog
	audit       notify.Sink // nil unless the backend keeps an audit table
	auditSeq    int64       // highest persisted audit seq
	close       func() error
}

// Close releases the backend.
func (b *backend) Close() error {
	if b.close == nil {
		return nil
	}
	return b.close()
}

// openBackend opens the ledger selected by cfg.Backend.
//
// Only SQLite persists resolved tokens and audit records; the other
// backends track resolutions in memory.
func openBackend(ctx context.Context, cfg config.Storage) (*backend, error) {
	switch cfg.Backend {
	case config.BackendMemory:
		slog.Warn("using in-memory ledger; balances are lost on exit")
		return &backend{
			ledger:      ledger.NewMemory(),
			resolutions: session.NewMemoryResolutions(),
		}, nil

	case config.BackendSQLite:
		st, err := store.Open(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("open sqlite %s: %w", cfg.Path, err)
		}
		seq, err := st.MaxAuditSeq(ctx)
		if err != nil {
			return nil, errors.Join(fmt.Errorf("read audit seq: %w", err), st.Close())
		}
		slog.Debug("ledger opened", "backend", cfg.Backend, "path", cfg.Path, "audit_seq", seq)
		return &backend{
			ledger:      st,
			resolutions: st,
			audit:       st,
			auditSeq:    seq,
			close:       st.Close,
		}, nil

	case config.BackendPostgres:
		pg, err := pgledger.Open(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		slog.Debug("ledger opened", "backend", cfg.Backend)
		return &backend{
			ledger:      pg,
			resolutions: session.NewMemoryResolutions(),
			close:       pg.Close,
		}, nil

	case config.BackendRedis:
		rl := redisledger.New(redisledger.Options{Addr: cfg.RedisAddr, Prefix: cfg.RedisPrefix})
		if err := rl.Ping(ctx); err != nil {
			return nil, errors.Join(fmt.Errorf("connect redis %s: %w", cfg.RedisAddr, err), rl.Close())
		}
		slog.Debug("ledger opened", "backend", cfg.Backend, "addr", cfg.RedisAddr)
		return &backend{
			ledger:      rl,
			resolutions: session.NewMemoryResolutions(),
			close:       rl.Close,
		}, nil
	}
	return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
}

// openLedger loads the config and opens its backend, mapping failures to
// ExitCommandError.
func openLedger(ctx context.Context, opts *RootOptions) (*config.Config, *backend, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, nil, err
	}
	b, err := openBackend(ctx, cfg.Storage)
	if err != nil {
		return nil, nil, WrapExitError(ExitCommandError, "failed to open ledger", err)
	}
	return cfg, b, nil
}

// parseUserAmount parses the user id and amount arguments shared by the
// ledger commands.
func parseUserAmount(args []string) (string, ir.Amount, error) {
	if args[0] == "" {
		return "", 0, NewExitError(ExitCommandError, "user id must not be empty")
	}
	amount, err := ir.ParseAmount(args[1])
	if err != nil {
		return "", 0, WrapExitError(ExitCommandError, "invalid amount", err)
	}
	return args[0], amount, nil
}
