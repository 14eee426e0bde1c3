// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package config

import (
	"errors"
	"io/fs"
	"os"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"

	"github.com/holomush/botcmd/internal/xdg"
)

// EnvPrefix prefixes every environment variable read into Secrets.
const EnvPrefix = "BOTCMD_"

// flagKeys maps command-line flags to config keys.
var flagKeys = map[string]string{
	"prefix":          "prefix",
	"release-timeout": "release_timeout",
	"verbose":         "verbose",
	"log-format":      "log_format",
	"metrics-addr":    "metrics_addr",
	"transport":       "transport",
	"scripts-dir":     "scripts_dir",
	"store-driver":    "store.driver",
	"store-path":      "store.path",
}

// BindFlags registers the flags that override config values. Flag defaults
// are informational; only flags set on the command line are applied.
func BindFlags(flags *pflag.FlagSet) {
	def := Default()
	flags.String("prefix", def.Prefix, "command prefix")
	flags.Duration("release-timeout", 0, "forced release timeout for exclusive commands")
	flags.Bool("verbose", false, "log registrations and command timings")
	flags.String("log-format", def.LogFormat, "log format (json or text)")
	flags.String("metrics-addr", def.MetricsAddr, "metrics/health HTTP address (empty = disabled)")
	flags.String("transport", def.Transport, "chat transport (discord, telegram or console)")
	flags.String("scripts-dir", "", "directory of Lua command scripts")
	flags.String("store-driver", def.Store.Driver, "cooldown store (memory, sqlite or postgres)")
	flags.String("store-path", "", "SQLite database file")
}

// LoadOptions controls where Load reads from.
type LoadOptions struct {
	// Path is the config file. When empty the XDG config file is used if it
	// exists.
	Path string
	// Flags are applied over the file. Only changed flags count.
	Flags *pflag.FlagSet
	// EnvFile seeds the environment before secrets are read. Defaults to
	// ".env"; a missing file is ignored.
	EnvFile string
}

// Load builds the configuration from defaults, the config file, flags and
// the environment, in increasing precedence, and validates it.
func Load(opts LoadOptions) (*Config, error) {
	cfg, err := load(opts)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func load(opts LoadOptions) (*Config, error) {
	k := koanf.New(".")

	path, required := opts.Path, true
	if path == "" {
		path, required = xdg.ConfigFile(), false
	}
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		if required || !errors.Is(err, fs.ErrNotExist) {
			return nil, oops.Code(CodeInvalidConfig).
				With("path", path).
				Hint("run 'botcmd config schema' for the expected format").
				Wrapf(err, "load config file")
		}
	}

	if opts.Flags != nil {
		provider := posflag.ProviderWithFlag(opts.Flags, ".", k, func(f *pflag.Flag) (string, any) {
			key, ok := flagKeys[f.Name]
			if !ok || !f.Changed {
				return "", nil
			}
			return key, posflag.FlagVal(opts.Flags, f)
		})
		if err := k.Load(provider, nil); err != nil {
			return nil, oops.Code(CodeInvalidConfig).Wrapf(err, "load flags")
		}
	}

	cfg := Default()
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "yaml"}); err != nil {
		return nil, oops.Code(CodeInvalidConfig).With("path", path).Wrapf(err, "decode config")
	}

	secrets, err := loadSecrets(opts.EnvFile)
	if err != nil {
		return nil, err
	}
	cfg.Secrets = secrets
	return &cfg, nil
}

func loadSecrets(envFile string) (Secrets, error) {
	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Secrets{}, oops.Code(CodeInvalidConfig).With("path", envFile).Wrapf(err, "load env file")
	}

	var s Secrets
	if err := env.ParseWithOptions(&s, env.Options{Prefix: EnvPrefix}); err != nil {
		return Secrets{}, oops.Code(CodeInvalidConfig).Wrapf(err, "parse environment")
	}
	return s, nil
}
