// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// =============================================================================
// CONFIG LOCATION
// =============================================================================

// LocationKind says how a config reference resolves to a file path.
type LocationKind int

const (
	// LocationAuto resolves to the default config file.
	LocationAuto LocationKind = iota

	// LocationPath is a literal file path, used as given.
	LocationPath

	// LocationNamed is a profile name resolved inside the config dir,
	// e.g. "work" -> <dir>/work.toml.
	LocationNamed
)

// Location is a parsed config file reference, typically from the
// -c/--config flag.
type Location struct {
	Kind  LocationKind
	Value string
}

// ParseLocation classifies a config flag value. Empty means Auto; a value
// containing a path separator or a dot is a literal path; anything else
// is a profile name.
func ParseLocation(value string) Location {
	value = strings.TrimSpace(value)
	if value == "" {
		return Location{Kind: LocationAuto}
	}
	if strings.ContainsRune(value, '/') ||
		strings.ContainsRune(value, os.PathSeparator) ||
		strings.ContainsRune(value, '.') {
		return Location{Kind: LocationPath, Value: value}
	}
	return Location{Kind: LocationNamed, Value: value}
}

// Path resolves the location to a concrete file path.
func (l Location) Path() (string, error) {
	switch l.Kind {
	case LocationPath:
		return l.Value, nil
	case LocationNamed:
		dir, err := Dir()
		if err != nil {
			return "", err
		}
		return filepath.Join(dir, l.Value+".toml"), nil
	default:
		return DefaultPath()
	}
}

// String renders the location for display.
func (l Location) String() string {
	switch l.Kind {
	case LocationPath:
		return l.Value
	case LocationNamed:
		return l.Value + " (named)"
	default:
		return "auto"
	}
}

// Dir returns the chatline configuration directory.
func Dir() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("could not determine config directory: %w", err)
	}
	return filepath.Join(base, "chatline"), nil
}

// DefaultPath returns the default config file path.
func DefaultPath() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "chatline.toml"), nil
}

// DefaultHistoryPath returns the default prompt history file path.
func DefaultHistoryPath() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "history"), nil
}

// DefaultUsagePath returns the default usage ledger path.
func DefaultUsagePath() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "usage.db"), nil
}

// HistoryPath resolves the history file for this config.
func (c *Config) HistoryPath() (string, error) {
	if c.UI.HistoryFile != "" {
		return c.UI.HistoryFile, nil
	}
	return DefaultHistoryPath()
}

// UsagePath resolves the usage ledger file for this config.
func (c *Config) UsagePath() (string, error) {
	if c.Usage.Database != "" {
		return c.Usage.Database, nil
	}
	return DefaultUsagePath()
}
