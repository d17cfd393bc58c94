// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package usage

import (
	"fmt"
	"strings"
	"time"
)

// =============================================================================
// SUMMARY
// =============================================================================

// Line is one aggregate row of the summary, grouped by model and outcome.
type Line struct {
	Model     string
	Outcome   string
	Exchanges int
	Fragments int
	Chars     int
	Duration  time.Duration
}

// Summary aggregates the whole ledger.
type Summary struct {
	Lines     []Line
	Exchanges int
	Chars     int
}

// Summary aggregates every recorded exchange per model and outcome.
func (s *Store) Summary() (*Summary, error) {
	rows, err := s.db.Query(`
		SELECT model, outcome, COUNT(*), SUM(fragments), SUM(chars), SUM(duration_ms)
		FROM exchanges
		GROUP BY model, outcome
		ORDER BY model, outcome`)
	if err != nil {
		return nil, fmt.Errorf("querying ledger: %w", err)
	}
	defer rows.Close()

	sum := &Summary{}
	for rows.Next() {
		var line Line
		var durationMS int64
		if err := rows.Scan(
			&line.Model,
			&line.Outcome,
			&line.Exchanges,
			&line.Fragments,
			&line.Chars,
			&durationMS,
		); err != nil {
			return nil, fmt.Errorf("scanning ledger row: %w", err)
		}
		line.Duration = time.Duration(durationMS) * time.Millisecond

		sum.Lines = append(sum.Lines, line)
		sum.Exchanges += line.Exchanges
		sum.Chars += line.Chars
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading ledger rows: %w", err)
	}
	return sum, nil
}

// Format renders the summary as plain text for display.
func (sum *Summary) Format() string {
	if sum.Exchanges == 0 {
		return "usage ledger is empty"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "usage: %d exchanges, %d chars\n\n", sum.Exchanges, sum.Chars)
	fmt.Fprintf(&b, "  %-24s %-10s %9s %10s %10s %8s\n",
		"MODEL", "OUTCOME", "COUNT", "FRAGMENTS", "CHARS", "TIME")
	for _, line := range sum.Lines {
		fmt.Fprintf(&b, "  %-24s %-10s %9d %10d %10d %8s\n",
			line.Model,
			line.Outcome,
			line.Exchanges,
			line.Fragments,
			line.Chars,
			formatDuration(line.Duration),
		)
	}
	return strings.TrimRight(b.String(), "\n")
}

// formatDuration renders a duration compactly, seconds at most.
func formatDuration(d time.Duration) string {
	if d >= time.Minute {
		return d.Truncate(time.Second).String()
	}
	return d.Truncate(100 * time.Millisecond).String()
}
