package cli

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/spf13/cobra"

	"github.com/roach88/tokenbot/internal/ir"
)

// SnapshotData is the JSON payload of export and import.
type SnapshotData struct {
	Path     string `json:"path"`
	Accounts int    `json:"accounts"`
	Digest   string `json:"digest"`
}

// NewExportCommand creates the export command.
func NewExportCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "export <file>",
		Short: "Write every account to a snapshot file",
		Long: `Write every account to a zstd-compressed JSON lines file, one
{"user_id","balance"} object per line, sorted by user id.

The printed digest identifies the snapshot's content and matches the
digest printed when the same file is imported.

Example:
  tokenbot export balances.jsonl.zst`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := commandContext(cmd)
			_, b, err := openLedger(ctx, opts)
			if err != nil {
				return err
			}
			defer closeBackend(b)

			f := opts.formatter(cmd)
			accounts, err := b.ledger.Accounts(ctx)
			if err != nil {
				return f.Fail(ExitCommandError, CodeStorage, "failed to list accounts", err)
			}
			f.VerboseLog("writing %d accounts to %s", len(accounts), args[0])
			if err := writeSnapshot(args[0], accounts); err != nil {
				return f.Fail(ExitCommandError, CodeInput, "failed to write snapshot", err)
			}
			return snapshotResult(f, args[0], accounts, "exported")
		},
	}
}

// NewImportCommand creates the import command.
func NewImportCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "import <file>",
		Short: "Load balances from a snapshot file",
		Long: `Set the balance of every account in a snapshot written by export.
Accounts not in the snapshot are left alone.

The whole file is validated before anything is written.

Example:
  tokenbot import balances.jsonl.zst --config prod.yaml`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := opts.formatter(cmd)
			accounts, err := readSnapshot(args[0])
			if err != nil {
				return f.Fail(ExitCommandError, CodeInput, "failed to read snapshot", err)
			}
			f.VerboseLog("read %d accounts from %s", len(accounts), args[0])

			ctx := commandContext(cmd)
			_, b, err := openLedger(ctx, opts)
			if err != nil {
				return err
			}
			defer closeBackend(b)

			for _, a := range accounts {
				if err := b.ledger.Set(ctx, a.UserID, a.Balance); err != nil {
					return f.Fail(ExitCommandError, CodeStorage, fmt.Sprintf("failed to set %s", a.UserID), err)
				}
			}
			slog.Info("snapshot imported", "path", args[0], "accounts", len(accounts))
			return snapshotResult(f, args[0], accounts, "imported")
		},
	}
}

func snapshotResult(f *OutputFormatter, path string, accounts []ir.Account, verb string) error {
	digest, err := ir.SnapshotDigest(accounts)
	if err != nil {
		return f.Fail(ExitFailure, CodeInput, "failed to digest snapshot", err)
	}
	return f.Success(
		SnapshotData{Path: path, Accounts: len(accounts), Digest: digest},
		fmt.Sprintf("%s %d accounts (%s)", verb, len(accounts), digest),
	)
}

// writeSnapshot writes accounts sorted by user id.
func writeSnapshot(path string, accounts []ir.Account) (err error) {
	slices.SortFunc(accounts, func(a, b ir.Account) int { return strings.Compare(a.UserID, b.UserID) })

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := file.Close(); err == nil {
			err = cerr
		}
	}()

	enc, err := zstd.NewWriter(file)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(enc)
	je := json.NewEncoder(w)
	for _, a := range accounts {
		if err := je.Encode(a); err != nil {
			_ = enc.Close()
			return err
		}
	}
	if err := w.Flush(); err != nil {
		_ = enc.Close()
		return err
	}
	return enc.Close()
}

// readSnapshot decodes and validates a snapshot. Accounts are returned
// sorted by user id.
func readSnapshot(path string) ([]ir.Account, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	dec, err := zstd.NewReader(file)
	if err != nil {
		return nil, err
	}
	defer dec.Close()

	var accounts []ir.Account
	seen := make(map[string]bool)
	jd := json.NewDecoder(dec)
	for line := 1; ; line++ {
		var a ir.Account
		if err := jd.Decode(&a); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("record %d: %w", line, err)
		}
		switch {
		case a.UserID == "":
			return nil, fmt.Errorf("record %d: user_id is required", line)
		case a.Balance.IsNegative():
			return nil, fmt.Errorf("record %d: negative balance %s for %s", line, a.Balance, a.UserID)
		case seen[a.UserID]:
			return nil, fmt.Errorf("record %d: duplicate user %s", line, a.UserID)
		}
		seen[a.UserID] = true
		accounts = append(accounts, a)
	}

	slices.SortFunc(accounts, func(a, b ir.Account) int { return strings.Compare(a.UserID, b.UserID) })
	return accounts, nil
}
