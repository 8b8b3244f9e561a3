// Package config loads the settings of the wikiapi command from a YAML
// file and WIKIAPI_* environment variables.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"cgt.name/pkg/go-wikiapi/tracing"
)

// Config holds all configuration
type Config struct {
	Site    SiteConfig    `mapstructure:"site"`
	OAuth   OAuthConfig   `mapstructure:"oauth"`
	SQL     SQLConfig     `mapstructure:"sql"`
	Tracing TracingConfig `mapstructure:"tracing"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// SiteConfig selects the wiki and how to talk to it
type SiteConfig struct {
	// API is an API URL, a language code ("en") or a site name such as
	// "commons" or "zhwiktionary".
	API       string        `mapstructure:"api"`
	DataAPI   string        `mapstructure:"data_api"`
	SPARQL    string        `mapstructure:"sparql"`
	UserAgent string        `mapstructure:"user_agent"`
	User      string        `mapstructure:"user"`
	Password  string        `mapstructure:"password"`
	Maxlag    int           `mapstructure:"maxlag"`
	Assert    string        `mapstructure:"assert"` // "", "user" or "bot"
	RateLimit float64       `mapstructure:"rate_limit"`
	Burst     int           `mapstructure:"burst"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

// OAuthConfig holds owner-only OAuth 1.0a consumer credentials
type OAuthConfig struct {
	ConsumerToken  string `mapstructure:"consumer_token"`
	ConsumerSecret string `mapstructure:"consumer_secret"`
	AccessToken    string `mapstructure:"access_token"`
	AccessSecret   string `mapstructure:"access_secret"`
}

// Enabled reports whether all four credentials are set.
func (o OAuthConfig) Enabled() bool {
	return o.ConsumerToken != "" && o.ConsumerSecret != "" && o.AccessToken != "" && o.AccessSecret != ""
}

// SQLConfig points at a database replica
type SQLConfig struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

// TracingConfig holds OpenTelemetry settings
type TracingConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// Endpoint is an OTLP/HTTP collector; spans go to stdout when empty.
	Endpoint    string  `mapstructure:"endpoint"`
	ServiceName string  `mapstructure:"service_name"`
	SampleRate  float64 `mapstructure:"sample_rate"`
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // "json" or "text"
}

// Load reads configuration from configPath, or from config.yaml in the
// working directory or $HOME/.wikiapi when configPath is empty. A
// missing file is not an error.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.wikiapi")
	}

	setDefaults(v)
	bindEnvVars(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("site.api", "en")
	v.SetDefault("site.user_agent", "")
	v.SetDefault("site.maxlag", 5)
	v.SetDefault("site.assert", "")
	v.SetDefault("site.rate_limit", 0)
	v.SetDefault("site.burst", 1)
	v.SetDefault("site.timeout", "60s")

	v.SetDefault("sql.driver", "sqlite")

	def := tracing.DefaultConfig()
	v.SetDefault("tracing.enabled", def.Enabled)
	v.SetDefault("tracing.endpoint", def.OTLPEndpoint)
	v.SetDefault("tracing.service_name", def.ServiceName)
	v.SetDefault("tracing.sample_rate", def.SampleRate)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
}

func bindEnvVars(v *viper.Viper) {
	v.SetEnvPrefix("WIKIAPI")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// AutomaticEnv only applies to keys viper already knows about.
	for _, key := range []string{
		"site.data_api", "site.sparql", "site.user", "site.password",
		"oauth.consumer_token", "oauth.consumer_secret",
		"oauth.access_token", "oauth.access_secret",
		"sql.dsn",
	} {
		_ = v.BindEnv(key)
	}
}

// Validate checks the configuration for values the session cannot use.
func (c *Config) Validate() error {
	switch c.Site.Assert {
	case "", "user", "bot":
	default:
		return fmt.Errorf("site.assert must be empty, user or bot, not %q", c.Site.Assert)
	}
	if c.Site.Maxlag < 0 {
		return fmt.Errorf("site.maxlag must not be negative")
	}
	if c.Site.RateLimit < 0 {
		return fmt.Errorf("site.rate_limit must not be negative")
	}
	if c.Site.User != "" && c.OAuth.Enabled() {
		return fmt.Errorf("site.user and oauth credentials are mutually exclusive")
	}
	switch c.Logging.Format {
	case "json", "text":
	default:
		return fmt.Errorf("logging.format must be json or text, not %q", c.Logging.Format)
	}
	if _, err := parseLevel(c.Logging.Level); err != nil {
		return err
	}
	return nil
}

// TracingSetup converts the tracing section for tracing.Setup.
func (c *Config) TracingSetup() tracing.Config {
	t := tracing.DefaultConfig()
	t.Enabled = c.Tracing.Enabled
	t.OTLPEndpoint = c.Tracing.Endpoint
	t.ServiceName = c.Tracing.ServiceName
	t.SampleRate = c.Tracing.SampleRate
	return t
}

// Logger builds the logger described by the logging section, writing
// to w (stderr when nil).
func (c *Config) Logger(w io.Writer) *slog.Logger {
	if w == nil {
		w = os.Stderr
	}
	level, _ := parseLevel(c.Logging.Level)
	opts := &slog.HandlerOptions{Level: level}
	if c.Logging.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("logging.level: %w", err)
	}
	return level, nil
}
