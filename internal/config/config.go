// Package config loads the mcf configuration: a YAML file overlaid on the
// package defaults, then .env and environment overrides.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/muskokacottagefinder/mcf/internal/alert"
	"github.com/muskokacottagefinder/mcf/internal/extract"
	"github.com/muskokacottagefinder/mcf/internal/fetch"
	"github.com/muskokacottagefinder/mcf/internal/ledger"
	"github.com/muskokacottagefinder/mcf/internal/match"
	"github.com/muskokacottagefinder/mcf/internal/normalize"
	"github.com/muskokacottagefinder/mcf/internal/pipeline"
	"github.com/muskokacottagefinder/mcf/internal/scheduler"
	"github.com/muskokacottagefinder/mcf/internal/storage"
	"github.com/muskokacottagefinder/mcf/internal/web"
)

// DefaultPath is the config file used when neither --config nor MCF_CONFIG is set.
const DefaultPath = "mcf.yaml"

// Config is the full application configuration.
type Config struct {
	Database  storage.Config   `yaml:"database"`
	Normalize normalize.Config `yaml:"normalize"`
	Match     match.Config     `yaml:"match"`
	Ledger    ledger.Config    `yaml:"ledger"`
	Fetch     fetch.Config     `yaml:"fetch"`
	Extract   extract.Config   `yaml:"extract"`
	Pipeline  pipeline.Config  `yaml:"pipeline"`
	Alert     alert.Config     `yaml:"alert"`
	Schedule  scheduler.Config `yaml:"schedule"`
	Web       web.Config       `yaml:"web"`

	// OutputDir receives the .xlsx reports
	// Default: "output"
	OutputDir string `yaml:"output_dir"`
}

// Defaults returns every package's default configuration.
func Defaults() *Config {
	return &Config{
		Database:  storage.DefaultConfig(),
		Normalize: normalize.DefaultConfig(),
		Match:     match.DefaultConfig(),
		Ledger:    ledger.DefaultConfig(),
		Fetch:     fetch.DefaultConfig(),
		Extract:   extract.DefaultConfig(),
		Pipeline:  pipeline.DefaultConfig(),
		Alert:     alert.DefaultConfig(),
		Schedule:  scheduler.DefaultConfig(),
		Web:       web.DefaultConfig(),
		OutputDir: "output",
	}
}

// ResolvePath picks the config file: the explicit flag value, then
// MCF_CONFIG, then DefaultPath if it exists. Empty means defaults only.
func ResolvePath(flag string) string {
	if flag != "" {
		return flag
	}
	if env := os.Getenv("MCF_CONFIG"); env != "" {
		return env
	}
	if _, err := os.Stat(DefaultPath); err == nil {
		return DefaultPath
	}
	return ""
}

// Load reads path over the defaults, applies environment overrides and
// validates the result. An empty path skips the file; a named file that
// does not exist is an error.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LoadDotEnv loads .env files into the process environment without
// overriding variables that are already set. A missing file is not an error.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

// ApplyEnv overrides cfg from environment variables:
//   - MCF_DB: SQLite path, or a postgres:// DSN which selects the postgres driver
//   - ANTHROPIC_API_KEY, MCF_EXTRACT_MODEL: extraction model access
//   - MCF_TELEGRAM_TOKEN, MCF_TELEGRAM_CHAT_ID: digest delivery
//   - MCF_WEB_PASSWORD_HASH: dashboard password
//   - MCF_OUTPUT_DIR: report directory
//   - MCF_MATCH_*, MCF_LEDGER_GRACE_RUNS, MCF_CONCURRENCY: see those packages
func (c *Config) ApplyEnv() error {
	if db := os.Getenv("MCF_DB"); db != "" {
		if strings.HasPrefix(db, "postgres://") || strings.HasPrefix(db, "postgresql://") {
			c.Database.Driver = storage.DriverPostgres
			c.Database.DSN = db
		} else {
			c.Database.Driver = storage.DriverSQLite
			c.Database.Path = db
		}
	}
	setString("ANTHROPIC_API_KEY", &c.Extract.APIKey)
	setString("MCF_EXTRACT_MODEL", &c.Extract.Model)
	setString("MCF_TELEGRAM_TOKEN", &c.Alert.Token)
	setString("MCF_WEB_PASSWORD_HASH", &c.Web.PasswordHash)
	setString("MCF_OUTPUT_DIR", &c.OutputDir)
	if val := os.Getenv("MCF_TELEGRAM_CHAT_ID"); val != "" {
		id, err := strconv.ParseInt(val, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid MCF_TELEGRAM_CHAT_ID: %w", err)
		}
		c.Alert.ChatID = id
	}

	var err error
	if c.Match, err = match.ApplyEnv(c.Match); err != nil {
		return err
	}
	if c.Ledger, err = ledger.ApplyEnv(c.Ledger); err != nil {
		return err
	}
	if c.Pipeline, err = pipeline.ApplyEnv(c.Pipeline); err != nil {
		return err
	}
	return nil
}

func setString(key string, dest *string) {
	if val := os.Getenv(key); val != "" {
		*dest = val
	}
}

// Validate checks every section needed for a run. The web section is only
// checked by ValidateWeb since a password hash is needed only to serve.
func (c *Config) Validate() error {
	checks := []struct {
		name string
		fn   func() error
	}{
		{"database", c.Database.Validate},
		{"normalize", c.Normalize.Validate},
		{"match", c.Match.Validate},
		{"ledger", c.Ledger.Validate},
		{"fetch", c.Fetch.Validate},
		{"extract", c.Extract.Validate},
		{"pipeline", c.Pipeline.Validate},
		{"alert", c.Alert.Validate},
		{"schedule", c.Schedule.Validate},
	}
	for _, check := range checks {
		if err := check.fn(); err != nil {
			return fmt.Errorf("%s: %w", check.name, err)
		}
	}
	if strings.TrimSpace(c.OutputDir) == "" {
		return fmt.Errorf("output_dir is required")
	}
	return nil
}

// ValidateWeb checks the dashboard section.
func (c *Config) ValidateWeb() error {
	if err := c.Web.Validate(); err != nil {
		return fmt.Errorf("web: %w", err)
	}
	return nil
}
