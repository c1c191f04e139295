package cli

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/roach88/tokenbot/internal/ir"
	"github.com/roach88/tokenbot/internal/ledger"
)

// BalanceData is the JSON payload of balance, set-balance and adjust.
type BalanceData struct {
	UserID  string    `json:"user_id"`
	Balance ir.Amount `json:"balance"`
}

// NewBalanceCommand creates the balance command.
func NewBalanceCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "balance <user-id>",
		Short: "Show a user's balance",
		Long: `Show the token balance of a user. Users never credited have 0.0.

Example:
  tokenbot balance 123456789012345678
  tokenbot balance 123456789012345678 --format json`,
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

			balance, err := b.ledger.Balance(ctx, args[0])
			if err != nil {
				return opts.formatter(cmd).Fail(ExitCommandError, CodeStorage, "failed to read balance", err)
			}
			return opts.formatter(cmd).Success(
				BalanceData{UserID: args[0], Balance: balance},
				fmt.Sprintf("%s: %s tokens", args[0], balance),
			)
		},
	}
}

// NewSetBalanceCommand creates the set-balance command.
func NewSetBalanceCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "set-balance <user-id> <amount>",
		Short: "Overwrite a user's balance",
		Long: `Overwrite a user's balance. This bypasses the economy entirely and is
meant for repairs.

Example:
  tokenbot set-balance 123456789012345678 10
  tokenbot set-balance 123456789012345678 2.5`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, amount, err := parseUserAmount(args)
			if err != nil {
				return err
			}
			if amount.IsNegative() {
				return NewExitError(ExitCommandError, "balance must not be negative")
			}

			ctx := commandContext(cmd)
			_, b, err := openLedger(ctx, opts)
			if err != nil {
				return err
			}
			defer closeBackend(b)

			if err := b.ledger.Set(ctx, userID, amount); err != nil {
				return opts.formatter(cmd).Fail(ExitCommandError, CodeStorage, "failed to set balance", err)
			}
			slog.Info("balance set", "user", userID, "balance", amount)
			return opts.formatter(cmd).Success(
				BalanceData{UserID: userID, Balance: amount},
				fmt.Sprintf("%s: %s tokens", userID, amount),
			)
		},
	}
}

// NewAdjustCommand creates the adjust command.
func NewAdjustCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "adjust <user-id> <delta>",
		Short: "Add to or subtract from a user's balance",
		Long: `Add delta to a user's balance. A negative delta that would take the
balance below zero fails and changes nothing.

Negative deltas must follow "--" so they are not read as flags.

Example:
  tokenbot adjust 123456789012345678 5
  tokenbot adjust 123456789012345678 -- -1.5`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, delta, err := parseUserAmount(args)
			if err != nil {
				return err
			}

			ctx := commandContext(cmd)
			_, b, err := openLedger(ctx, opts)
			if err != nil {
				return err
			}
			defer closeBackend(b)

			f := opts.formatter(cmd)
			balance, err := b.ledger.Adjust(ctx, userID, delta)
			switch {
			case errors.Is(err, ledger.ErrInsufficientFunds):
				current, _ := b.ledger.Balance(ctx, userID)
				return f.Fail(ExitFailure, CodeFunds,
					fmt.Sprintf("%s has %s tokens, cannot apply %s", userID, current, delta), err)
			case err != nil:
				return f.Fail(ExitCommandError, CodeStorage, "failed to adjust balance", err)
			}
			slog.Info("balance adjusted", "user", userID, "delta", delta, "balance", balance)
			return f.Success(
				BalanceData{UserID: userID, Balance: balance},
				fmt.Sprintf("%s: %s tokens", userID, balance),
			)
		},
	}
}

func closeBackend(b *backend) {
	if err := b.Close(); err != nil {
		slog.Error("error closing ledger", "error", err)
	}
}
