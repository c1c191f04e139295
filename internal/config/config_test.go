package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tokenbot/internal/ir"
	"github.com/roach88/tokenbot/internal/pricing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tokenbot.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, BackendSQLite, cfg.Storage.Backend)
	assert.Equal(t, ir.Tokens(1), cfg.Economy.Reward)
	assert.Equal(t, pricing.DefaultLimits(), cfg.Limits())
	assert.Equal(t, 5*time.Minute, cfg.Sessions.TTL)
	assert.Equal(t, "", cfg.Telemetry.OTLPEndpoint)
}

func TestLoad_File(t *testing.T) {
	cfg, err := Load(filepath.Join("testdata", "tokenbot.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/tokenbot/tokenbot.db", cfg.Storage.Path)
	assert.Equal(t, ir.MustParseAmount("0.5"), cfg.Economy.Reward)
	assert.Equal(t, 30*time.Second, cfg.Economy.EarnInterval)
	assert.Equal(t, 3, cfg.Economy.EarnBurst)
	assert.Equal(t, 600, cfg.Limits().MaxDurationSeconds)
	assert.Equal(t, int64(500), cfg.Limits().StealCap())
	assert.Equal(t, 2*time.Minute, cfg.Sessions.TTL)
	assert.Equal(t, 100*time.Millisecond, cfg.Effects.RefundBackoff)
	assert.Equal(t, 5, cfg.Effects.RefundAttempts)
	assert.Equal(t, "localhost:4317", cfg.Telemetry.OTLPEndpoint)
	assert.True(t, cfg.Telemetry.Insecure)
}

func TestLoad_PartialFileKeepsDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "sessions:\n  ttl: 1m\n"))
	require.NoError(t, err)

	assert.Equal(t, time.Minute, cfg.Sessions.TTL)
	assert.Equal(t, 15*time.Minute, cfg.Sessions.Retention)
	assert.Equal(t, ir.Tokens(1), cfg.Economy.Reward)
}

func TestLoad_EmptyFile(t *testing.T) {
	cfg, err := Load(writeConfig(t, "\n"))
	require.NoError(t, err)
	assert.Equal(t, Default().Storage, cfg.Storage)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("TOKENBOT_STORAGE", "postgres")
	t.Setenv("TOKENBOT_POSTGRES_DSN", "postgres://localhost/tokens")
	t.Setenv("DISCORD_TOKEN", "secret")
	t.Setenv("GUILD_ID", "g1")

	cfg, err := Load(filepath.Join("testdata", "tokenbot.yaml"))
	require.NoError(t, err)

	assert.Equal(t, BackendPostgres, cfg.Storage.Backend)
	assert.Equal(t, "postgres://localhost/tokens", cfg.Storage.PostgresDSN)
	assert.Equal(t, "secret", cfg.Discord.Token)
	assert.Equal(t, "g1", cfg.Discord.GuildID)
	assert.EqualError(t, cfg.Discord.RequireDiscord(), "missing environment: CLIENT_ID")
}

func TestLoad_SchemaViolations(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"unknown section", "dashboard:\n  port: 80\n"},
		{"unknown key", "economy:\n  bonus: 2\n"},
		{"bad backend", "storage:\n  backend: mongo\n"},
		{"bad duration", "sessions:\n  ttl: soon\n"},
		{"negative reward", "economy:\n  reward: -1\n"},
		{"two decimals", "economy:\n  reward: \"0.25\"\n"},
		{"zero burst", "economy:\n  earn_burst: 0\n"},
		{"duration cap", "economy:\n  max_duration_seconds: 100000\n"},
		{"zero steal cap", "economy:\n  max_steal_amount: 0\n"},
		{"steal cap past ceiling", "economy:\n  max_steal_amount: 9223372036854775807\n"},
		{"wrong type", "telemetry:\n  insecure: maybe\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), "invalid config")
		})
	}
}

func TestLoad_CrossFieldValidation(t *testing.T) {
	_, err := Load(writeConfig(t, "storage:\n  backend: redis\n"))
	assert.ErrorContains(t, err, "redis_addr")

	_, err = Load(writeConfig(t, "storage:\n  backend: memory\n"))
	assert.NoError(t, err)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.ErrorContains(t, err, "read config")
}

func TestRequireDiscord(t *testing.T) {
	assert.EqualError(t, Discord{}.RequireDiscord(), "missing environment: DISCORD_TOKEN, CLIENT_ID, GUILD_ID")
	assert.NoError(t, Discord{Token: "t", ClientID: "c", GuildID: "g"}.RequireDiscord())
}
