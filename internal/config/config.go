// Package config loads tokenbot's configuration.
//
// Settings come from three layers, later ones winning: built-in defaults,
// an optional YAML file validated against the embedded CUE schema, and
// environment variables. Discord credentials are read from the
// environment only.
package config

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	cueyaml "cuelang.org/go/encoding/yaml"
	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/roach88/tokenbot/internal/engine"
	"github.com/roach88/tokenbot/internal/ir"
	"github.com/roach88/tokenbot/internal/pricing"
	"github.com/roach88/tokenbot/internal/session"
)

//go:embed schema.cue
var schemaCUE string

// Storage backends.
const (
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

// Config is the complete runtime configuration.
type Config struct {
	Storage   Storage   `yaml:"storage"`
	Economy   Economy   `yaml:"economy"`
	Sessions  Sessions  `yaml:"sessions"`
	Effects   Effects   `yaml:"effects"`
	Notify    Notify    `yaml:"notify"`
	Telemetry Telemetry `yaml:"telemetry"`
	Discord   Discord   `yaml:"-"`
}

// Storage selects the ledger backend.
type Storage struct {
	Backend     string `yaml:"backend" env:"TOKENBOT_STORAGE"`
	Path        string `yaml:"path" env:"TOKENBOT_DB_PATH"`
	PostgresDSN string `yaml:"postgres_dsn" env:"TOKENBOT_POSTGRES_DSN"`
	RedisAddr   string `yaml:"redis_addr" env:"TOKENBOT_REDIS_ADDR"`
	RedisPrefix string `yaml:"redis_prefix"`
}

// Economy holds earning and pricing limits.
type Economy struct {
	Reward             ir.Amount     `yaml:"reward"`
	EarnInterval       time.Duration `yaml:"earn_interval"`
	EarnBurst          int           `yaml:"earn_burst"`
	MaxDurationSeconds int           `yaml:"max_duration_seconds"`
	MaxStealAmount     int64         `yaml:"max_steal_amount"`
}

// Sessions holds action session timeouts.
type Sessions struct {
	TTL       time.Duration `yaml:"ttl"`
	Retention time.Duration `yaml:"retention"`
}

// Effects holds effect application and compensation settings.
type Effects struct {
	Timeout        time.Duration `yaml:"timeout"`
	RefundAttempts int           `yaml:"refund_attempts"`
	RefundBackoff  time.Duration `yaml:"refund_backoff"`
}

// Notify configures audit output.
type Notify struct {
	AuditDir string `yaml:"audit_dir" env:"TOKENBOT_AUDIT_DIR"`
}

// Telemetry configures metric export. An empty endpoint disables export.
type Telemetry struct {
	OTLPEndpoint string        `yaml:"otlp_endpoint" env:"TOKENBOT_OTLP_ENDPOINT"`
	Insecure     bool          `yaml:"insecure"`
	Interval     time.Duration `yaml:"interval"`
}

// Discord holds credentials and ids. Environment only.
type Discord struct {
	Token             string `env:"DISCORD_TOKEN"`
	ClientID          string `env:"CLIENT_ID"`
	GuildID           string `env:"GUILD_ID"`
	LogChannelID      string `env:"LOG_CHANNEL_ID"`
	AnnounceChannelID string `env:"ANNOUNCE_CHANNEL_ID"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Storage: Storage{Backend: BackendSQLite, Path: "tokenbot.db"},
		Economy: Economy{
			Reward:             ir.Tokens(1),
			EarnBurst:          1,
			MaxDurationSeconds: pricing.DefaultMaxDurationSeconds,
			MaxStealAmount:     pricing.DefaultMaxStealAmount,
		},
		Sessions: Sessions{TTL: session.DefaultTTL, Retention: session.DefaultRetention},
		Effects: Effects{
			Timeout:        engine.DefaultEffectTimeout,
			RefundAttempts: engine.DefaultRefundAttempts,
			RefundBackoff:  engine.DefaultRefundBackoff,
		},
		Notify:    Notify{AuditDir: "audit"},
		Telemetry: Telemetry{Interval: 30 * time.Second},
	}
}

// Load builds the configuration from path (optional) and the environment.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := Decode(path, data, &cfg); err != nil {
			return nil, err
		}
	}
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Decode validates YAML data against the schema and decodes it over cfg.
// filename is used in error positions only.
func Decode(filename string, data []byte, cfg *Config) error {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := ValidateYAML(filename, data); err != nil {
		return err
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("decode %s: %w", filename, err)
	}
	return nil
}

// ValidateYAML checks data against the embedded CUE schema.
func ValidateYAML(filename string, data []byte) error {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaCUE, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile config schema: %w", err)
	}
	def := schema.LookupPath(cue.ParsePath("#Config"))

	f, err := cueyaml.Extract(filename, data)
	if err != nil {
		return fmt.Errorf("parse %s: %w", filename, err)
	}
	doc := ctx.BuildFile(f)
	if err := doc.Err(); err != nil {
		return fmt.Errorf("parse %s: %w", filename, err)
	}
	if doc.IncompleteKind() == cue.NullKind {
		// comments only
		return nil
	}

	if err := def.Unify(doc).Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("invalid config %s:\n%s", filename, strings.TrimSpace(cueerrors.Details(err, nil)))
	}
	return nil
}

// Validate checks cross-field constraints the schema cannot express.
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case BackendMemory:
	case BackendSQLite:
		if c.Storage.Path == "" {
			return fmt.Errorf("storage.path is required for sqlite")
		}
	case BackendPostgres:
		if c.Storage.PostgresDSN == "" {
			return fmt.Errorf("storage.postgres_dsn (or TOKENBOT_POSTGRES_DSN) is required for postgres")
		}
	case BackendRedis:
		if c.Storage.RedisAddr == "" {
			return fmt.Errorf("storage.redis_addr (or TOKENBOT_REDIS_ADDR) is required for redis")
		}
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}
	if c.Economy.Reward.IsNegative() {
		return fmt.Errorf("economy.reward must not be negative")
	}
	if c.Economy.MaxDurationSeconds < 1 {
		return fmt.Errorf("economy.max_duration_seconds must be at least 1")
	}
	if c.Economy.MaxStealAmount < 1 || c.Economy.MaxStealAmount > pricing.StealAmountCeiling {
		return fmt.Errorf("economy.max_steal_amount must be between 1 and %d", int64(pricing.StealAmountCeiling))
	}
	if c.Sessions.TTL <= 0 {
		return fmt.Errorf("sessions.ttl must be positive")
	}
	return nil
}

// Limits returns the pricing limits.
func (c *Config) Limits() pricing.Limits {
	return pricing.Limits{
		MaxDurationSeconds: c.Economy.MaxDurationSeconds,
		MaxStealAmount:     c.Economy.MaxStealAmount,
	}
}

// RequireDiscord reports the missing Discord settings, if any.
func (d Discord) RequireDiscord() error {
	var missing []string
	if d.Token == "" {
		missing = append(missing, "DISCORD_TOKEN")
	}
	if d.ClientID == "" {
		missing = append(missing, "CLIENT_ID")
	}
	if d.GuildID == "" {
		missing = append(missing, "GUILD_ID")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing environment: %s", strings.Join(missing, ", "))
	}
	return nil
}
