package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/roach88/tokenbot/internal/bot"
	"github.com/roach88/tokenbot/internal/ir"
	"github.com/roach88/tokenbot/internal/pricing"
)

// InfoData is the JSON payload of the info command.
type InfoData struct {
	Reward             ir.Amount      `json:"reward"`
	MaxDurationSeconds int            `json:"max_duration_seconds"`
	Prices             []pricing.Rule `json:"prices"`
}

// NewQuoteCommand creates the quote command.
func NewQuoteCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "quote <action> [seconds|amount]",
		Short: "Price an action",
		Long: `Price an action without performing it.

Mute and deafen take a duration in seconds, steal takes the number of
tokens to steal, disconnect takes nothing.

Example:
  tokenbot quote mute 30
  tokenbot quote steal 5 --format json
  tokenbot quote disconnect`,
		Args:          cobra.RangeArgs(1, 2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			f := opts.formatter(cmd)

			kind, err := ir.ParseActionKind(args[0])
			if err != nil {
				return f.Fail(ExitCommandError, CodeInput, "invalid action", err)
			}
			var n int64
			if len(args) == 2 {
				n, err = strconv.ParseInt(args[1], 10, 64)
				if err != nil {
					return f.Fail(ExitCommandError, CodeInput, fmt.Sprintf("invalid number %q", args[1]), err)
				}
			}

			quote, err := cfg.Limits().Price(kind, int(n), n)
			if err != nil {
				return f.Fail(ExitCommandError, CodeInput, "cannot price action", err)
			}
			return f.Success(quote, quoteText(quote, n))
		},
	}
}

func quoteText(q pricing.Quote, n int64) string {
	switch q.Kind {
	case ir.ActionMute, ir.ActionDeafen:
		return fmt.Sprintf("%s for %ds: %s tokens", q.Kind, n, q.Cost)
	case ir.ActionSteal:
		return fmt.Sprintf("steal %d: %s tokens, %d%% chance", n, q.Cost, q.Probability)
	}
	return fmt.Sprintf("%s: %s tokens", q.Kind, q.Cost)
}

// NewInfoCommand creates the info command.
func NewInfoCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "info",
		Short:         "Show the message members see for /info",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			data := InfoData{
				Reward:             cfg.Economy.Reward,
				MaxDurationSeconds: cfg.Economy.MaxDurationSeconds,
				Prices:             pricing.Table(),
			}
			return opts.formatter(cmd).Success(data, bot.InfoText(cfg.Economy.Reward, cfg.Limits()))
		},
	}
}
