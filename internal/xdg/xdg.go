// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package xdg provides XDG Base Directory paths for botcmd.
package xdg

import (
	"os"
	"path/filepath"

	"github.com/samber/oops"
)

const appName = "botcmd"

// File names used under the XDG directories.
const (
	ConfigFileName = "config.yaml"
	SQLiteFileName = "cooldowns.db"
)

func dir(env string, fallback ...string) string {
	base := os.Getenv(env)
	if base == "" {
		base = filepath.Join(append([]string{os.Getenv("HOME")}, fallback...)...)
	}
	return filepath.Join(base, appName)
}

// ConfigDir returns the config directory.
// Checks XDG_CONFIG_HOME first, falls back to ~/.config.
func ConfigDir() string {
	return dir("XDG_CONFIG_HOME", ".config")
}

// DataDir returns the data directory.
// Checks XDG_DATA_HOME first, falls back to ~/.local/share.
func DataDir() string {
	return dir("XDG_DATA_HOME", ".local", "share")
}

// StateDir returns the state directory.
// Checks XDG_STATE_HOME first, falls back to ~/.local/state.
func StateDir() string {
	return dir("XDG_STATE_HOME", ".local", "state")
}

// ConfigFile is the config file read when --config is not given.
func ConfigFile() string {
	return filepath.Join(ConfigDir(), ConfigFileName)
}

// SQLitePath is the default location of the SQLite cooldown database.
func SQLitePath() string {
	return filepath.Join(DataDir(), SQLiteFileName)
}

// ScriptsDir is the default directory scanned for Lua commands.
func ScriptsDir() string {
	return filepath.Join(ConfigDir(), "scripts")
}

// EnsureDir creates a directory and all parent directories if they don't exist.
// Directories are created with 0700 permissions.
func EnsureDir(path string) error {
	if err := os.MkdirAll(path, 0o700); err != nil {
		return oops.In("xdg").With("path", path).Wrapf(err, "create directory")
	}
	return nil
}
