// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"github.com/BurntSushi/toml"
)

// =============================================================================
// LEGACY MIGRATION
// =============================================================================

// legacyConfig is the version-1 layout: one flat table, no sections.
type legacyConfig struct {
	Version          string             `toml:"version"`
	APIKey           string             `toml:"api_key"`
	Model            string             `toml:"model"`
	MaxTokens        int                `toml:"max_tokens"`
	Temperature      float64            `toml:"temperature"`
	TopP             *float64           `toml:"top_p"`
	N                *int               `toml:"n"`
	Stop             []string           `toml:"stop"`
	PresencePenalty  *float64           `toml:"presence_penalty"`
	FrequencyPenalty *float64           `toml:"frequency_penalty"`
	LogitBias        map[string]float64 `toml:"logit_bias"`

	HideConfig          bool  `toml:"hide_config"`
	DoubleCtrlC         bool  `toml:"double_ctrlc"`
	MultilineInsertions bool  `toml:"multiline_insertions"`
	FixNewlines         *bool `toml:"fix_newlines"`
}

// isLegacy reports whether a decoded file used the flat version-1 layout.
// A v1 file has chat keys at the top level and no [chat] table.
func isLegacy(md toml.MetaData, version string) bool {
	if md.IsDefined("chat") {
		return false
	}
	if version == "1" {
		return true
	}
	for _, key := range []string{"api_key", "model", "max_tokens", "temperature"} {
		if md.IsDefined(key) {
			return true
		}
	}
	return false
}

// decodeLegacy parses a version-1 file.
func decodeLegacy(data string) (*legacyConfig, error) {
	legacy := &legacyConfig{}
	if _, err := toml.Decode(data, legacy); err != nil {
		return nil, err
	}
	return legacy, nil
}

// migrate lifts a version-1 config into the current sectioned layout, in
// memory only. The file is rewritten in the new layout on the next save.
func migrate(legacy *legacyConfig) *Config {
	cfg := Default()

	if legacy.APIKey != "" {
		cfg.Chat.APIKey = legacy.APIKey
	}
	if legacy.Model != "" {
		cfg.Chat.Model = legacy.Model
	}
	if legacy.MaxTokens != 0 {
		cfg.Chat.MaxTokens = legacy.MaxTokens
	}
	if legacy.Temperature != 0 {
		cfg.Chat.Temperature = legacy.Temperature
	}
	cfg.Chat.TopP = legacy.TopP
	cfg.Chat.N = legacy.N
	cfg.Chat.Stop = legacy.Stop
	cfg.Chat.PresencePenalty = legacy.PresencePenalty
	cfg.Chat.FrequencyPenalty = legacy.FrequencyPenalty
	cfg.Chat.LogitBias = legacy.LogitBias

	cfg.UI.HideConfig = legacy.HideConfig
	cfg.UI.DoubleCtrlC = legacy.DoubleCtrlC
	cfg.UI.MultilineInsertions = legacy.MultilineInsertions
	if legacy.FixNewlines != nil {
		cfg.UI.FixNewlines = *legacy.FixNewlines
	}

	cfg.Version = CurrentVersion
	return cfg
}
