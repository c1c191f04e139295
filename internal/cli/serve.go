package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/bwmarrin/discordgo"
	"github.com/spf13/cobra"

	"github.com/roach88/tokenbot/internal/bot"
	"github.com/roach88/tokenbot/internal/effects"
	"github.com/roach88/tokenbot/internal/engine"
	"github.com/roach88/tokenbot/internal/gateway"
	"github.com/roach88/tokenbot/internal/notify"
	"github.com/roach88/tokenbot/internal/session"
	"github.com/roach88/tokenbot/internal/telemetry"
)

// Version is reported to the metrics backend. Set with -ldflags.
var Version = "dev"

// NewServeCommand creates the serve command.
func NewServeCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Connect to Discord and run the bot",
		Long: `Connect to Discord and run the token economy until interrupted.

Credentials come from the environment:
  DISCORD_TOKEN        bot token (required)
  CLIENT_ID            application id (required)
  GUILD_ID             guild served (required)
  LOG_CHANNEL_ID       channel for audit embeds and alerts (optional)
  ANNOUNCE_CHANNEL_ID  channel for public announcements (optional)

Example:
  tokenbot serve --config tokenbot.yaml
  tokenbot serve -v`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts, cmd)
		},
	}
}

func runServe(opts *RootOptions, cmd *cobra.Command) (err error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}
	if err := cfg.Discord.RequireDiscord(); err != nil {
		return WrapExitError(ExitCommandError, "discord is not configured", err)
	}

	// Setup signal handling for graceful shutdown
	ctx, cancel := context.WithCancel(commandContext(cmd))
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			slog.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	// Metrics must be installed before the engine creates its instruments.
	shutdownTelemetry, err := telemetry.Setup(ctx, cfg.Telemetry, "tokenbot", Version)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to set up telemetry", err)
	}
	defer func() {
		if terr := shutdownTelemetry(context.Background()); terr != nil {
			slog.Warn("telemetry shutdown failed", "error", terr)
		}
	}()

	b, err := openBackend(ctx, cfg.Storage)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open ledger", err)
	}
	defer closeBackend(b)

	s, err := discordgo.New("Bot " + cfg.Discord.Token)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to create discord session", err)
	}

	roster := gateway.NewRoster(cfg.Discord.GuildID)
	scheduler := effects.NewScheduler()
	defer scheduler.Stop()
	applier := effects.NewDiscord(s, roster, cfg.Discord.GuildID, scheduler)

	auditLog := notify.NewAuditLog(cfg.Notify.AuditDir)
	defer func() {
		if cerr := auditLog.Close(); cerr != nil {
			slog.Error("error closing audit log", "error", cerr)
		}
	}()
	sinks := notify.Fanout{auditLog}
	if b.audit != nil {
		sinks = append(sinks, b.audit)
	}
	sinks = append(sinks, notify.NewDiscord(s, cfg.Discord.LogChannelID, cfg.Discord.AnnounceChannelID))

	coord := engine.New(b.ledger, applier, sinks,
		engine.WithClock(engine.NewClockAt(b.auditSeq)),
		engine.WithLimits(cfg.Limits()),
		engine.WithEffectTimeout(cfg.Effects.Timeout),
		engine.WithRefundPolicy(cfg.Effects.RefundAttempts, cfg.Effects.RefundBackoff),
	)
	sessions := session.NewManager(coord, b.ledger, roster,
		session.WithResolutionLog(b.resolutions),
		session.WithTTL(cfg.Sessions.TTL),
		session.WithRetention(cfg.Sessions.Retention),
	)
	dispatcher := bot.New(b.ledger, sessions,
		bot.WithReward(cfg.Economy.Reward),
		bot.WithEarnLimit(cfg.Economy.EarnInterval, cfg.Economy.EarnBurst),
		bot.WithLimits(cfg.Limits()),
	)

	var wg sync.WaitGroup
	runErr := make(chan error, 2)
	wg.Add(2)
	go func() {
		defer wg.Done()
		runErr <- sessions.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		runErr <- dispatcher.Run(ctx)
	}()
	defer func() {
		cancel()
		wg.Wait()
	}()

	gw := gateway.New(s, dispatcher, roster, scheduler, gateway.Config{
		AppID:          cfg.Discord.ClientID,
		GuildID:        cfg.Discord.GuildID,
		MaxStealAmount: cfg.Limits().StealCap(),
	})
	if err := gw.Open(ctx); err != nil {
		return WrapExitError(ExitFailure, "failed to connect to discord", err)
	}

	slog.Info("bot started", "guild", cfg.Discord.GuildID, "backend", cfg.Storage.Backend)
	fmt.Fprintln(cmd.OutOrStdout(), "Bot connected. Press Ctrl-C to stop.")

	select {
	case <-ctx.Done():
	case err = <-runErr:
		if err != nil && !errors.Is(err, context.Canceled) {
			err = WrapExitError(ExitFailure, "bot stopped unexpectedly", err)
		}
	}

	// Stop taking new events before draining the ones in flight.
	if cerr := gw.Close(); cerr != nil {
		slog.Warn("error closing discord session", "error", cerr)
	}
	dispatcher.Stop()

	slog.Info("bot stopped gracefully")
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
