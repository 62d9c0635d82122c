/*
Package config loads the service configuration.

SOURCES (later wins):
  1. defaults
  2. YAML file (config.yaml)
  3. environment, optionally seeded from a .env file

  Secrets are expected from the environment only:
    UPSTREAM_ACCESS_TOKEN, REDIS_PASSWORD, GCS_CREDENTIALS_JSON

VALIDATION:
  Struct tags checked with go-playground/validator, plus unit costs that
  must parse as decimals.

HOT RELOAD:
  Loader.Watch re-reads the file on change. Only unit costs, retention and
  the sweep schedule are applied live; connection settings need a restart.

SEE ALSO:
  - loader.go: Loader with fsnotify watch
*/
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Config is the full service configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Upstream  UpstreamConfig  `yaml:"upstream"`
	Sync      SyncConfig      `yaml:"sync"`
	Retention RetentionConfig `yaml:"retention"`
	Costs     CostsConfig     `yaml:"costs"`
	Redis     RedisConfig     `yaml:"redis"`
	Archive   ArchiveConfig   `yaml:"archive"`
	Notify    NotifyConfig    `yaml:"notify"`
	Log       LogConfig       `yaml:"log"`
}

type ServerConfig struct {
	Addr           string   `yaml:"addr" validate:"required"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

type DatabaseConfig struct {
	Path string `yaml:"path" validate:"required"`
}

type UpstreamConfig struct {
	BaseURL       string        `yaml:"base_url" validate:"required,url"`
	AccessToken   string        `yaml:"-" validate:"required"`
	MarketplaceID string        `yaml:"marketplace_id" validate:"required"`
	Timeout       time.Duration `yaml:"timeout" validate:"gte=0"`
}

type SyncConfig struct {
	Kind          string        `yaml:"kind" validate:"required"`
	MaxWait       time.Duration `yaml:"max_wait" validate:"gte=0"`
	PollInterval  time.Duration `yaml:"poll_interval" validate:"gte=0"`
	LockTTL       time.Duration `yaml:"lock_ttl" validate:"gtfield=MaxWait"`
	Schedule      bool          `yaml:"schedule"`
	CheckInterval time.Duration `yaml:"check_interval" validate:"gte=0"`
}

type RetentionConfig struct {
	Days int `yaml:"days" validate:"gte=0"`
}

// CostsConfig holds unit costs as decimal strings.
type CostsConfig struct {
	Default string            `yaml:"default"`
	SKUs    map[string]string `yaml:"skus"`
}

type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"-"`
	DB       int    `yaml:"db" validate:"gte=0"`
}

type ArchiveConfig struct {
	Backend         string `yaml:"backend" validate:"omitempty,oneof=dir gcs"`
	Dir             string `yaml:"dir" validate:"required_if=Backend dir"`
	Bucket          string `yaml:"bucket" validate:"required_if=Backend gcs"`
	Prefix          string `yaml:"prefix"`
	CredentialsJSON string `yaml:"-"`
}

type NotifyConfig struct {
	QueueURL string `yaml:"queue_url" validate:"omitempty,url"`
	Region   string `yaml:"region" validate:"required_with=QueueURL"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format" validate:"omitempty,oneof=json text"`
}

// =============================================================================
// LOADING
// =============================================================================

// LoadEnv seeds the environment from .env files. Missing files are ignored.
func LoadEnv(files ...string) {
	for _, f := range files {
		if _, err := os.Stat(f); err == nil {
			_ = godotenv.Load(f)
		}
	}
}

// Load reads, overrides, defaults and validates the file at path.
// An empty path loads from defaults and the environment only.
func Load(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnv(&cfg)
	applyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyEnv(cfg *Config) {
	str := func(dst *string, key string) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			*dst = v
		}
	}
	str(&cfg.Server.Addr, "SERVER_ADDR")
	str(&cfg.Database.Path, "DATABASE_PATH")
	str(&cfg.Upstream.BaseURL, "UPSTREAM_BASE_URL")
	str(&cfg.Upstream.AccessToken, "UPSTREAM_ACCESS_TOKEN")
	str(&cfg.Upstream.MarketplaceID, "MARKETPLACE_ID")
	str(&cfg.Redis.Address, "REDIS_ADDRESS")
	str(&cfg.Redis.Password, "REDIS_PASSWORD")
	str(&cfg.Archive.Bucket, "GCS_BUCKET")
	str(&cfg.Archive.CredentialsJSON, "GCS_CREDENTIALS_JSON")
	str(&cfg.Notify.QueueURL, "SQS_QUEUE_URL")
	str(&cfg.Notify.Region, "AWS_REGION")
	str(&cfg.Log.Level, "LOG_LEVEL")

	if v := os.Getenv("REDIS_DB"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Redis.DB = n
		}
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8080"
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "./data/ledger.db"
	}
	if cfg.Upstream.BaseURL == "" {
		cfg.Upstream.BaseURL = "https://sellingpartnerapi-na.amazon.com"
	}
	if cfg.Upstream.Timeout == 0 {
		cfg.Upstream.Timeout = 30 * time.Second
	}
	if cfg.Sync.Kind == "" {
		cfg.Sync.Kind = "GET_LEDGER_DETAIL_VIEW_DATA"
	}
	if cfg.Sync.MaxWait == 0 {
		cfg.Sync.MaxWait = 300 * time.Second
	}
	if cfg.Sync.PollInterval == 0 {
		cfg.Sync.PollInterval = 10 * time.Second
	}
	if cfg.Sync.LockTTL == 0 {
		cfg.Sync.LockTTL = 15 * time.Minute
		if cfg.Sync.LockTTL <= cfg.Sync.MaxWait {
			cfg.Sync.LockTTL = cfg.Sync.MaxWait + 15*time.Minute
		}
	}
	if cfg.Sync.CheckInterval == 0 {
		cfg.Sync.CheckInterval = time.Hour
	}
	if cfg.Retention.Days == 0 {
		cfg.Retention.Days = 90
	}
	if cfg.Costs.Default == "" {
		cfg.Costs.Default = "0"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
}

// =============================================================================
// VALIDATION
// =============================================================================

var validate = validator.New()

// Validate checks struct tags and unit costs.
func Validate(cfg *Config) error {
	var errs []string
	if err := validate.Struct(cfg); err != nil {
		if verrs, ok := err.(validator.ValidationErrors); ok {
			for _, fe := range verrs {
				errs = append(errs, fmt.Sprintf("%s: failed %q", fe.Namespace(), fe.Tag()))
			}
		} else {
			errs = append(errs, err.Error())
		}
	}
	if _, _, err := cfg.Costs.Parse(); err != nil {
		errs = append(errs, err.Error())
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// Parse converts the cost strings to decimals.
func (c CostsConfig) Parse() (decimal.Decimal, map[string]decimal.Decimal, error) {
	def := decimal.Zero
	if c.Default != "" {
		d, err := decimal.NewFromString(c.Default)
		if err != nil {
			return decimal.Zero, nil, fmt.Errorf("costs.default: %w", err)
		}
		def = d
	}

	bySKU := make(map[string]decimal.Decimal, len(c.SKUs))
	for sku, raw := range c.SKUs {
		d, err := decimal.NewFromString(raw)
		if err != nil {
			return decimal.Zero, nil, fmt.Errorf("costs.skus[%s]: %w", sku, err)
		}
		if d.IsNegative() {
			return decimal.Zero, nil, fmt.Errorf("costs.skus[%s]: must not be negative", sku)
		}
		bySKU[sku] = d
	}
	return def, bySKU, nil
}
