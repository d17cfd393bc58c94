// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package usage

import (
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// openTemp opens a ledger in a temp dir and closes it with the test.
func openTemp(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "usage.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

// =============================================================================
// RECORDING
// =============================================================================

func TestOpenCreatesParentDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "usage.db")
	store, err := Open(path)
	require.NoError(t, err, "Open should create missing parent directories")
	defer store.Close()

	require.NoError(t, store.Record(Exchange{
		ID:        "x1",
		StartedAt: time.Now(),
		Model:     "gpt-4o-mini",
		Outcome:   "completed",
	}))
}

func TestRecordAndSummarize(t *testing.T) {
	store := openTemp(t)

	exchanges := []Exchange{
		{
			ID:            "a1",
			StartedAt:     time.Now().Add(-3 * time.Minute),
			Model:         "gpt-4o",
			Outcome:       "completed",
			Fragments:     10,
			Chars:         400,
			Duration:      2 * time.Second,
			FirstFragment: 300 * time.Millisecond,
		},
		{
			ID:            "a2",
			StartedAt:     time.Now().Add(-2 * time.Minute),
			Model:         "gpt-4o",
			Outcome:       "completed",
			Fragments:     6,
			Chars:         200,
			Duration:      1 * time.Second,
			FirstFragment: 250 * time.Millisecond,
		},
		{
			ID:        "a3",
			StartedAt: time.Now().Add(-1 * time.Minute),
			Model:     "gpt-4o",
			Outcome:   "cancelled",
			Fragments: 2,
			Chars:     50,
			Duration:  500 * time.Millisecond,
		},
		{
			ID:        "b1",
			StartedAt: time.Now(),
			Model:     "gpt-4o-mini",
			Outcome:   "failed",
			Duration:  100 * time.Millisecond,
		},
	}
	for _, ex := range exchanges {
		require.NoError(t, store.Record(ex))
	}

	sum, err := store.Summary()
	require.NoError(t, err)

	require.Equal(t, 4, sum.Exchanges)
	require.Equal(t, 650, sum.Chars)
	require.Len(t, sum.Lines, 3, "expected one line per model and outcome pair")

	// Lines come back ordered by model then outcome.
	require.Equal(t, "gpt-4o", sum.Lines[0].Model)
	require.Equal(t, "cancelled", sum.Lines[0].Outcome)
	require.Equal(t, 1, sum.Lines[0].Exchanges)

	completed := sum.Lines[1]
	require.Equal(t, "completed", completed.Outcome)
	require.Equal(t, 2, completed.Exchanges)
	require.Equal(t, 16, completed.Fragments)
	require.Equal(t, 600, completed.Chars)
	require.Equal(t, 3*time.Second, completed.Duration)

	require.Equal(t, "gpt-4o-mini", sum.Lines[2].Model)
	require.Equal(t, "failed", sum.Lines[2].Outcome)
}

func TestRecordDuplicateID(t *testing.T) {
	store := openTemp(t)

	ex := Exchange{ID: "dup", StartedAt: time.Now(), Model: "m", Outcome: "completed"}
	require.NoError(t, store.Record(ex))
	require.Error(t, store.Record(ex), "a duplicate exchange id should be rejected")
}

// TestLedgerPersists verifies rows survive a close and reopen.
func TestLedgerPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "usage.db")

	store, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, store.Record(Exchange{
		ID:        "p1",
		StartedAt: time.Now(),
		Model:     "gpt-4o",
		Outcome:   "completed",
		Chars:     42,
		Duration:  time.Second,
	}))
	require.NoError(t, store.Close())

	reopened, err := Open(path)
	require.NoError(t, err)
	defer reopened.Close()

	sum, err := reopened.Summary()
	require.NoError(t, err)
	require.Equal(t, 1, sum.Exchanges)
	require.Equal(t, 42, sum.Chars)
}

// =============================================================================
// FORMATTING
// =============================================================================

func TestSummaryFormat(t *testing.T) {
	store := openTemp(t)
	require.NoError(t, store.Record(Exchange{
		ID:            "f1",
		StartedAt:     time.Now(),
		Model:         "gpt-4o-mini",
		Outcome:       "completed",
		Fragments:     8,
		Chars:         320,
		Duration:      90 * time.Second,
		FirstFragment: 200 * time.Millisecond,
	}))

	sum, err := store.Summary()
	require.NoError(t, err)

	text := sum.Format()
	require.Contains(t, text, "1 exchanges")
	require.Contains(t, text, "gpt-4o-mini")
	require.Contains(t, text, "completed")
	require.Contains(t, text, "1m30s")
	require.True(t, strings.Contains(text, "MODEL") && strings.Contains(text, "OUTCOME"))
}

func TestSummaryFormatEmpty(t *testing.T) {
	store := openTemp(t)
	sum, err := store.Summary()
	require.NoError(t, err)
	require.Equal(t, 0, sum.Exchanges)
	require.Equal(t, "usage ledger is empty", sum.Format())
}
