/*
Package config loads server and CLI configuration.

SOURCES (later wins):
 1. built-in defaults
 2. config.toml in the working directory or ./config
 3. .env file (loaded into the process environment, never overriding it)
 4. RECON_* environment variables, e.g. RECON_HTTP_PORT, RECON_LOG_LEVEL,
    RECON_RECONCILE_DEFAULT_TAX_PERCENT, RECON_AUDIT_INTERVAL
 5. command-line flags (bound by cmd/server)
*/
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"
	"unicode"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"github.com/warp/reconciliation-engine/logger"
	"github.com/warp/reconciliation-engine/reconcile"
)

const EnvPrefix = "RECON"

type Config struct {
	App       AppConfig
	HTTP      HTTPConfig
	Database  DatabaseConfig
	Log       LogConfig
	Reconcile ReconcileConfig
	Audit     AuditConfig
}

type AppConfig struct {
	Name string
	Env  string
}

type HTTPConfig struct {
	Port             string
	ReadTimeout      time.Duration
	WriteTimeout     time.Duration
	IdleTimeout      time.Duration
	ShutdownTimeout  time.Duration
	MaxBodySize      int64
	CORSAllowOrigins []string
}

type DatabaseConfig struct {
	Path string // SQLite file, or ":memory:"
}

type LogConfig struct {
	Level  string
	Format string
	Output string
}

type ReconcileConfig struct {
	// DefaultTaxPercent applies to invoices without a valid rate.
	DefaultTaxPercent string
}

type AuditConfig struct {
	// Interval between background audits of every party. Zero disables them.
	Interval time.Duration
}

// Load reads configuration from the default locations.
func Load() (*Config, error) {
	return LoadFrom(".", "./config")
}

// LoadFrom reads config.toml from the given directories.
func LoadFrom(paths ...string) (*Config, error) {
	return load(New(paths...))
}

// New returns a viper instance with defaults, search paths and the RECON_
// environment binding set up. cmd/server binds its flags onto it.
func New(paths ...string) *viper.Viper {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("toml")
	for _, p := range paths {
		v.AddConfigPath(p)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	return v
}

// Read loads the config file into v (a missing file is fine) and decodes it.
func Read(v *viper.Viper) (*Config, error) {
	return load(v)
}

func load(v *viper.Viper) (*Config, error) {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	cfg := &Config{
		App: AppConfig{
			Name: v.GetString("app.name"),
			Env:  v.GetString("app.env"),
		},
		HTTP: HTTPConfig{
			Port:             v.GetString("http.port"),
			ReadTimeout:      v.GetDuration("http.read_timeout"),
			WriteTimeout:     v.GetDuration("http.write_timeout"),
			IdleTimeout:      v.GetDuration("http.idle_timeout"),
			ShutdownTimeout:  v.GetDuration("http.shutdown_timeout"),
			MaxBodySize:      v.GetInt64("http.max_body_size"),
			CORSAllowOrigins: stringList(v, "http.cors_allow_origins"),
		},
		Database: DatabaseConfig{
			Path: v.GetString("database.path"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
			Output: v.GetString("log.output"),
		},
		Reconcile: ReconcileConfig{
			DefaultTaxPercent: v.GetString("reconcile.default_tax_percent"),
		},
		Audit: AuditConfig{
			Interval: v.GetDuration("audit.interval"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// stringList reads a list key. A plain string, as set through the
// environment, is split on commas and whitespace.
func stringList(v *viper.Viper, key string) []string {
	raw := v.GetStringSlice(key)
	if s, ok := v.Get(key).(string); ok {
		raw = strings.FieldsFunc(s, func(r rune) bool { return r == ',' || unicode.IsSpace(r) })
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "reconciliation-engine")
	v.SetDefault("app.env", "development")
	v.SetDefault("http.port", "8080")
	v.SetDefault("http.read_timeout", 15*time.Second)
	v.SetDefault("http.write_timeout", 15*time.Second)
	v.SetDefault("http.idle_timeout", 60*time.Second)
	v.SetDefault("http.shutdown_timeout", 30*time.Second)
	v.SetDefault("http.max_body_size", 10<<20)
	v.SetDefault("http.cors_allow_origins", []string{"*"})
	v.SetDefault("database.path", "./data/recon.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("log.output", "stdout")
	v.SetDefault("reconcile.default_tax_percent", reconcile.DefaultTaxPercent().String())
	v.SetDefault("audit.interval", time.Hour)
}

func (c *Config) validate() error {
	if c.HTTP.Port == "" {
		return fmt.Errorf("http.port is required")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.HTTP.MaxBodySize <= 0 {
		return fmt.Errorf("http.max_body_size must be positive")
	}
	if c.Audit.Interval < 0 {
		return fmt.Errorf("audit.interval cannot be negative")
	}
	if _, err := c.EngineOptions(); err != nil {
		return err
	}
	if c.App.Env == "production" {
		for _, origin := range c.HTTP.CORSAllowOrigins {
			if origin == "*" {
				return fmt.Errorf("http.cors_allow_origins cannot be '*' in production")
			}
		}
	}
	return nil
}

// EngineOptions converts the reconcile section into engine options.
func (c *Config) EngineOptions() (reconcile.Options, error) {
	raw := strings.TrimSpace(c.Reconcile.DefaultTaxPercent)
	if raw == "" {
		return reconcile.Options{}, nil
	}
	pct, err := decimal.NewFromString(raw)
	if err != nil {
		return reconcile.Options{}, fmt.Errorf("reconcile.default_tax_percent: %q is not a number", raw)
	}
	if !reconcile.ValidTaxPercent(pct) {
		return reconcile.Options{}, fmt.Errorf("reconcile.default_tax_percent: %s must be in [0, 100)", raw)
	}
	return reconcile.Options{DefaultTaxPercent: decimal.NewNullDecimal(pct)}, nil
}

// Logger returns the logger configuration.
func (c *Config) Logger() *logger.Config {
	cfg := logger.DefaultConfig()
	if c.App.Env == "production" {
		cfg = logger.ProductionConfig()
	}
	cfg.Level = c.Log.Level
	if c.Log.Format != "" {
		cfg.Format = c.Log.Format
	}
	if c.Log.Output != "" {
		cfg.Output = c.Log.Output
	}
	return cfg
}

// LoadEnv loads .env files into the environment without overriding
// variables already set. Missing files are skipped.
func LoadEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}
