// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// EXCHANGE STATE
// =============================================================================

// State is the lifecycle position of an exchange. It only moves forward:
// Idle -> Sending -> Streaming -> one of the terminal states. Terminal
// states never change again.
type State int32

const (
	// StateIdle is the state before Start launches the exchange.
	StateIdle State = iota

	// StateSending covers request construction and transmission, up to
	// the first fragment.
	StateSending

	// StateStreaming means at least one fragment has been received.
	StateStreaming

	// StateCompleted means the stream finished normally.
	StateCompleted

	// StateFailed means the stream ended with an error.
	StateFailed

	// StateCancelled means the caller stopped the exchange.
	StateCancelled
)

// String returns the lowercase name of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSending:
		return "sending"
	case StateStreaming:
		return "streaming"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Terminal reports whether the state is final.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

// =============================================================================
// EXCHANGE HANDLE
// =============================================================================

// Handle is one prompt/response exchange. The producer goroutine owned by
// the Runner writes fragments and the terminal result; any goroutine may
// observe state, cancel, or wait.
type Handle struct {
	id        string
	prompt    string
	model     string
	startedAt time.Time

	state  atomic.Int32
	cancel context.CancelFunc

	// frags is unbuffered so a delivered fragment is one the consumer
	// actually received; closed by the producer after the terminal
	// state is set.
	frags chan string

	// done closes after the terminal state, error, and stats are all
	// visible.
	done chan struct{}

	mu    sync.Mutex
	buf   strings.Builder
	err   error
	stats Stats
}

func newHandle(prompt, model string, cancel context.CancelFunc) *Handle {
	now := time.Now()
	h := &Handle{
		id:        uuid.NewString(),
		prompt:    prompt,
		model:     model,
		startedAt: now,
		cancel:    cancel,
		frags:     make(chan string),
		done:      make(chan struct{}),
	}
	h.stats.StartedAt = now
	return h
}

// ID returns the unique exchange identifier.
func (h *Handle) ID() string {
	return h.id
}

// Prompt returns the submitted prompt text, exactly as given to Start.
// Resubmitting it is how a caller replays an exchange.
func (h *Handle) Prompt() string {
	return h.prompt
}

// Model returns the model the exchange was started with.
func (h *Handle) Model() string {
	return h.model
}

// Fragments returns the channel of response fragments in receipt order.
// The channel closes when the exchange reaches a terminal state.
func (h *Handle) Fragments() <-chan string {
	return h.frags
}

// State returns the current lifecycle state.
func (h *Handle) State() State {
	return State(h.state.Load())
}

// Cancel requests cooperative cancellation. It is safe to call from any
// goroutine, safe to call repeatedly, and a no-op once the exchange is
// terminal.
func (h *Handle) Cancel() {
	if h.State().Terminal() {
		return
	}
	h.cancel()
}

// Wait blocks until the exchange is terminal and returns the final state.
func (h *Handle) Wait() State {
	<-h.done
	return h.State()
}

// Err returns the terminal error: a *StreamError for failed or cancelled
// exchanges, nil for completed ones or while the exchange is running.
func (h *Handle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

// Text returns the response text accumulated so far. After a terminal
// state it is the full output, including partial output of a cancelled
// or failed exchange.
func (h *Handle) Text() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.buf.String()
}

// Stats returns the exchange statistics. Totals are final once the
// exchange is terminal.
func (h *Handle) Stats() Stats {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stats
}

// transition moves from one specific state to another. Returns false if
// the handle was not in the expected state.
func (h *Handle) transition(from, to State) bool {
	return h.state.CompareAndSwap(int32(from), int32(to))
}

// record accumulates one fragment before it is offered to the consumer.
func (h *Handle) record(content string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.buf.WriteString(content)
	h.stats.recordFragment(content)
}

// finish stores the terminal result and closes the fragment channel. The
// terminal state is visible before the channel closes, so a consumer that
// sees the close can immediately read State, Err, and Stats.
func (h *Handle) finish(state State, err error) {
	h.mu.Lock()
	h.err = err
	h.stats.finalize()
	h.mu.Unlock()

	// Start never hands out a handle in a terminal state, so one of
	// these transitions applies.
	if !h.transition(StateSending, state) {
		h.transition(StateStreaming, state)
	}
	close(h.frags)
}
