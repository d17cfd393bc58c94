// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"github.com/charmbracelet/lipgloss"
)

// init pins the lipgloss color profile to the detected one, so every
// style below degrades to plain text on pipes and under NO_COLOR.
func init() {
	lipgloss.SetColorProfile(ColorProfile())
}

// =============================================================================
// STYLES
// =============================================================================

var (
	// Prompt marker shown by the line editor
	promptStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("39")). // Cyan
			Bold(true)

	// Bold header preceding the streamed response
	responseStyle = lipgloss.NewStyle().
			Bold(true)

	// Welcome banner title
	bannerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("105")). // Purple
			Bold(true)

	// Field labels in the banner
	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")) // Light gray

	// Values next to labels
	valueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("252")) // Off-white

	// Secondary information: stats lines, hints, markers
	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("242")) // Dim gray

	// Error messages
	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")). // Red
			Bold(true)

	// Warnings: retry notices, rate-limit hints, config-change notice
	warnStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214")) // Yellow/Orange

	// Informational one-liners
	infoStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("75")) // Blue
)
