// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"fmt"
	"time"
)

// Stats holds timing and volume figures for one exchange.
type Stats struct {
	// Timing
	StartedAt       time.Time
	FirstFragmentAt time.Time
	EndedAt         time.Time

	// Volume
	Fragments int
	Chars     int

	// Computed
	TTFF  time.Duration // time to first fragment, zero if none arrived
	Total time.Duration
}

// recordFragment counts one fragment and stamps the first arrival.
func (s *Stats) recordFragment(content string) {
	if s.FirstFragmentAt.IsZero() {
		s.FirstFragmentAt = time.Now()
		s.TTFF = s.FirstFragmentAt.Sub(s.StartedAt)
	}
	s.Fragments++
	s.Chars += len(content)
}

// finalize stamps the end of the exchange.
func (s *Stats) finalize() {
	s.EndedAt = time.Now()
	s.Total = s.EndedAt.Sub(s.StartedAt)
}

// Format returns a one-line summary for display after an exchange.
func (s Stats) Format() string {
	if s.Fragments == 0 {
		return fmt.Sprintf("%s | no output", formatSeconds(s.Total))
	}
	return fmt.Sprintf("%s | %d fragments | %d chars | first in %s",
		formatSeconds(s.Total), s.Fragments, s.Chars, formatSeconds(s.TTFF))
}

// formatSeconds renders short durations as ms and longer ones with one
// decimal of seconds.
func formatSeconds(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	return fmt.Sprintf("%.1fs", d.Seconds())
}
