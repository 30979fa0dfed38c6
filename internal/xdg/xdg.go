// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Servidor Contributors

// Package xdg provides XDG Base Directory paths for servidor.
package xdg

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/samber/oops"
)

const appName = "servidor"

// ConfigFileName is the name of the default configuration file.
const ConfigFileName = "config.yaml"

// ConfigDir returns the XDG config directory for servidor.
// Checks XDG_CONFIG_HOME first, falls back to ~/.config.
func ConfigDir() string {
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		base = filepath.Join(os.Getenv("HOME"), ".config")
	}
	return filepath.Join(base, appName)
}

// ConfigFile returns the default configuration file path.
func ConfigFile() string {
	return filepath.Join(ConfigDir(), ConfigFileName)
}

// ResolveConfigFile returns explicit when set. Otherwise it returns the
// default configuration file if one exists, or "" when there is none.
func ResolveConfigFile(explicit string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	path := ConfigFile()
	_, err := os.Stat(path)
	switch {
	case err == nil:
		return path, nil
	case errors.Is(err, fs.ErrNotExist):
		return "", nil
	default:
		return "", oops.Code("CONFIG_STAT_FAILED").With("path", path).Wrap(err)
	}
}
