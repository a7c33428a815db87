// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keystride Contributors

// Package xdg resolves XDG Base Directory paths for Keystride.
package xdg

import (
	"os"
	"path/filepath"

	"github.com/samber/oops"
)

const appName = "keystride"

// ConfigFileName is the file looked up inside ConfigDir.
const ConfigFileName = "config.yaml"

// ConfigDir returns the keystride config directory.
// Checks XDG_CONFIG_HOME first, falls back to $HOME/.config.
func ConfigDir() (string, error) {
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home := os.Getenv("HOME")
		if home == "" {
			return "", oops.Code("XDG_NO_HOME").Errorf("neither XDG_CONFIG_HOME nor HOME is set")
		}
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, appName), nil
}

// ConfigFile returns the default config file path. The file may not exist.
func ConfigFile() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, ConfigFileName), nil
}
