// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package config loads the botcmd configuration: a YAML file, overridden by
// command-line flags, plus secrets taken from the environment.
package config

import (
	"slices"
	"strings"
	"time"
	"unicode"

	"github.com/invopop/jsonschema"
	"github.com/samber/oops"

	"github.com/holomush/botcmd/internal/command"
	"github.com/holomush/botcmd/internal/store"
	"github.com/holomush/botcmd/internal/transport"
	"github.com/holomush/botcmd/internal/xdg"
)

// CodeInvalidConfig marks configuration that fails validation.
const CodeInvalidConfig = "INVALID_CONFIG"

// Log formats.
const (
	LogFormatJSON = "json"
	LogFormatText = "text"
)

// Duration is a time.Duration written as a Go duration string ("10s") in
// YAML.
type Duration time.Duration

// UnmarshalText parses a Go duration string.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return oops.Code(CodeInvalidConfig).With("value", string(text)).Wrapf(err, "parse duration")
	}
	*d = Duration(v)
	return nil
}

// MarshalYAML writes the duration as a string.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// JSONSchema describes Duration as a duration string.
func (Duration) JSONSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		Type:        "string",
		Pattern:     `^([0-9]+(\.[0-9]+)?(ns|us|µs|ms|s|m|h))+$`,
		Description: "Go duration string, e.g. 10s or 1h30m",
	}
}

// Config is the botcmd configuration file.
type Config struct {
	Prefix         string          `yaml:"prefix" jsonschema:"minLength=1,description=Text that marks a message as a command"`
	ReleaseTimeout Duration        `yaml:"release_timeout" jsonschema:"description=Forced release of an exclusive command's lock"`
	Verbose        bool            `yaml:"verbose" jsonschema:"description=Log registrations and command timings"`
	UserErrors     bool            `yaml:"user_error_replies" jsonschema:"description=Reply with user-facing handler errors"`
	LogFormat      string          `yaml:"log_format" jsonschema:"enum=json,enum=text"`
	MetricsAddr    string          `yaml:"metrics_addr" jsonschema:"description=Metrics and health listen address; empty disables it"`
	Transport      string          `yaml:"transport" jsonschema:"enum=discord,enum=telegram,enum=console"`
	ScriptsDir     string          `yaml:"scripts_dir,omitempty" jsonschema:"description=Directory of Lua command scripts"`
	Store          StoreConfig     `yaml:"store"`
	RateLimit      RateLimitConfig `yaml:"rate_limit"`
	Commands       []CommandConfig `yaml:"commands,omitempty" jsonschema:"description=Commands that reply with a fixed template"`

	// Secrets come from the environment only.
	Secrets Secrets `yaml:"-" json:"-"`
}

// StoreConfig selects the cooldown store.
type StoreConfig struct {
	Driver string `yaml:"driver" jsonschema:"enum=memory,enum=sqlite,enum=postgres"`
	// DSN is the PostgreSQL connection string. BOTCMD_DATABASE_URL takes
	// precedence.
	DSN  string `yaml:"dsn,omitempty"`
	Path string `yaml:"path,omitempty" jsonschema:"description=SQLite database file"`
}

// RateLimitConfig configures the per-user flood limiter. A zero burst
// disables it.
type RateLimitConfig struct {
	Burst int     `yaml:"burst" jsonschema:"minimum=0"`
	Rate  float64 `yaml:"rate" jsonschema:"minimum=0,description=Commands per second after the burst"`
}

// CommandConfig declares a reply command. In Reply, "{args}" expands to the
// arguments and "{user}" to the author's name.
type CommandConfig struct {
	Name           string   `yaml:"name" jsonschema:"required,minLength=1"`
	Aliases        []string `yaml:"aliases,omitempty"`
	Description    string   `yaml:"description,omitempty"`
	Reply          string   `yaml:"reply" jsonschema:"required"`
	Cooldown       Duration `yaml:"cooldown,omitempty"`
	UsageThreshold int      `yaml:"usage_threshold,omitempty" jsonschema:"minimum=0"`
	Permissions    []string `yaml:"permissions,omitempty"`
	Exclusive      bool     `yaml:"exclusive,omitempty"`
	Disabled       bool     `yaml:"disabled,omitempty"`
}

// Secrets are read from BOTCMD_* environment variables, optionally seeded
// from a .env file.
type Secrets struct {
	DiscordToken  string `env:"DISCORD_TOKEN"`
	TelegramToken string `env:"TELEGRAM_TOKEN"`
	DatabaseURL   string `env:"DATABASE_URL"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Prefix:         command.DefaultPrefix,
		ReleaseTimeout: Duration(command.DefaultReleaseTimeout),
		LogFormat:      LogFormatJSON,
		MetricsAddr:    "127.0.0.1:9100",
		Transport:      transport.Console,
		Store: StoreConfig{
			Driver: store.DriverSQLite,
			Path:   xdg.SQLitePath(),
		},
		// The flood limiter is opt-in; rate only applies once burst is set.
		RateLimit: RateLimitConfig{
			Rate: command.DefaultSustainedRate,
		},
	}
}

// Validate checks the configuration for values the bot cannot run with.
func (c *Config) Validate() error {
	fail := func(field, format string, args ...any) error {
		return oops.Code(CodeInvalidConfig).With("field", field).Errorf(format, args...)
	}

	if strings.TrimSpace(c.Prefix) == "" {
		return fail("prefix", "prefix cannot be empty")
	}
	// Messages are split on whitespace before the prefix is matched.
	if strings.ContainsFunc(c.Prefix, unicode.IsSpace) {
		return fail("prefix", "prefix cannot contain whitespace, got %q", c.Prefix)
	}
	if c.ReleaseTimeout <= 0 {
		return fail("release_timeout", "release_timeout must be positive, got %s", time.Duration(c.ReleaseTimeout))
	}
	if c.LogFormat != LogFormatJSON && c.LogFormat != LogFormatText {
		return fail("log_format", "log_format must be 'json' or 'text', got %q", c.LogFormat)
	}
	if !slices.Contains([]string{transport.Discord, transport.Telegram, transport.Console}, c.Transport) {
		return fail("transport", "unknown transport %q", c.Transport)
	}

	switch c.Store.Driver {
	case store.DriverMemory:
	case store.DriverSQLite:
		if c.Store.Path == "" {
			return fail("store.path", "store.path is required for the sqlite driver")
		}
	case store.DriverPostgres:
		if c.DatabaseURL() == "" {
			return oops.Code(CodeInvalidConfig).
				With("field", "store.dsn").
				Hint("set store.dsn or BOTCMD_DATABASE_URL").
				Errorf("a database URL is required for the postgres driver")
		}
	default:
		return fail("store.driver", "unknown store driver %q", c.Store.Driver)
	}

	if c.RateLimit.Burst < 0 || c.RateLimit.Rate < 0 {
		return fail("rate_limit", "rate_limit values cannot be negative")
	}

	for i, cc := range c.Commands {
		if err := cc.validate(); err != nil {
			return oops.Code(CodeInvalidConfig).With("index", i).Wrapf(err, "commands[%d]", i)
		}
	}
	return nil
}

func (cc CommandConfig) validate() error {
	for _, name := range append([]string{cc.Name}, cc.Aliases...) {
		if err := command.ValidateName(name); err != nil {
			return oops.With("command", cc.Name).Wrap(err)
		}
	}
	if cc.Reply == "" {
		return oops.Errorf("command %s has an empty reply", cc.Name)
	}
	if cc.Cooldown < 0 {
		return oops.Errorf("command %s has a negative cooldown", cc.Name)
	}
	return nil
}

// DatabaseURL returns the PostgreSQL connection string, preferring the
// environment over the file.
func (c *Config) DatabaseURL() string {
	if c.Secrets.DatabaseURL != "" {
		return c.Secrets.DatabaseURL
	}
	return c.Store.DSN
}

// StoreOptions converts the store section for store.Open.
func (c *Config) StoreOptions() store.Options {
	return store.Options{
		Driver: c.Store.Driver,
		DSN:    c.DatabaseURL(),
		Path:   c.Store.Path,
	}
}

// ReplyCommands builds the configured reply commands.
func (c *Config) ReplyCommands() []command.Command {
	cmds := make([]command.Command, 0, len(c.Commands))
	for _, cc := range c.Commands {
		perms := make([]command.Permission, len(cc.Permissions))
		for i, p := range cc.Permissions {
			perms[i] = command.Permission(p)
		}
		cmds = append(cmds, command.NewReply(command.Spec{
			Name:           cc.Name,
			Aliases:        cc.Aliases,
			Description:    cc.Description,
			Disabled:       cc.Disabled,
			Exclusive:      cc.Exclusive,
			Cooldown:       time.Duration(cc.Cooldown),
			UsageThreshold: cc.UsageThreshold,
			Permissions:    perms,
		}, cc.Reply))
	}
	return cmds
}
