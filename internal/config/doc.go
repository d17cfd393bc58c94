// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config loads and validates the chatline TOML configuration.
//
// A config file is resolved through a Location (default path, explicit
// path, or named profile), decoded over built-in defaults, migrated from
// the legacy flat layout when needed, overridden from the environment,
// and validated as a whole. The loaded value is read-only for the life of
// the process; an optional watcher reports on-disk changes so the UI can
// suggest a restart.
//
// # Key Types
//
//   - Config: the full configuration (chat, ui, usage sections)
//   - Location: how a config file reference resolves to a path
//   - ValidateErrors: all validation problems of a file, collected
//   - Watcher: change notification for the loaded file
//
// # Configuration Precedence
//
// Values are resolved from (later wins):
//   - Built-in defaults
//   - The config file
//   - Environment variables (CHATLINE_API_KEY, CHATLINE_MODEL,
//     CHATLINE_BASE_URL)
//
// # Usage
//
//	loc := config.ParseLocation(flagValue)
//	cfg, err := config.Load(loc)
//	if err != nil {
//	    // a *config.ValidateErrors lists every problem at once
//	}
package config
