// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jeranaias/chatline/internal/api"
)

// testConfig returns a config pointing at the given test server.
func testConfig(baseURL string) Config {
	return Config{
		APIKey:  "sk-test-key",
		BaseURL: baseURL,
		Model:   "test-model",
	}
}

// deltaJSON builds a minimal content chunk payload.
func deltaJSON(content string) string {
	b, _ := json.Marshal(map[string]any{
		"choices": []map[string]any{
			{"delta": map[string]string{"content": content}},
		},
	})
	return string(b)
}

// streamServer streams each payload as one SSE event and closes.
func streamServer(t *testing.T, payloads ...string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for _, p := range payloads {
			fmt.Fprintf(w, "data: %s\n\n", p)
			flusher.Flush()
		}
	}))
}

// collect drains the fragment channel into a slice.
func collect(h *Handle) []string {
	var got []string
	for frag := range h.Fragments() {
		got = append(got, frag)
	}
	return got
}

// =============================================================================
// VALIDATION TESTS
// =============================================================================

// TestStartRejectsEmptyPrompt verifies empty and whitespace-only prompts
// fail with a ConfigError before anything touches the network.
func TestStartRejectsEmptyPrompt(t *testing.T) {
	var requests atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
	}))
	defer server.Close()

	for _, prompt := range []string{"", "   ", "\n\t "} {
		t.Run(fmt.Sprintf("prompt %q", prompt), func(t *testing.T) {
			runner := NewRunner()
			h, err := runner.Start(testConfig(server.URL), prompt)
			if h != nil {
				t.Error("Start should not return a handle on invalid input")
			}

			var cerr *ConfigError
			if !errors.As(err, &cerr) {
				t.Fatalf("Start error = %v, expected *ConfigError", err)
			}
			if cerr.Field != "prompt" {
				t.Errorf("Field = %q, expected prompt", cerr.Field)
			}
		})
	}

	if n := requests.Load(); n != 0 {
		t.Errorf("server saw %d requests, expected 0", n)
	}
}

func TestStartRejectsMissingAPIKey(t *testing.T) {
	var requests atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
	}))
	defer server.Close()

	cfg := testConfig(server.URL)
	cfg.APIKey = "  "

	runner := NewRunner()
	_, err := runner.Start(cfg, "hello")

	var cerr *ConfigError
	if !errors.As(err, &cerr) {
		t.Fatalf("Start error = %v, expected *ConfigError", err)
	}
	if cerr.Field != "api_key" {
		t.Errorf("Field = %q, expected api_key", cerr.Field)
	}
	if n := requests.Load(); n != 0 {
		t.Errorf("server saw %d requests, expected 0", n)
	}
}

// =============================================================================
// HAPPY PATH TESTS
// =============================================================================

// TestSingleExchangeCompletes runs the canonical exchange: one prompt in,
// one streamed fragment out, a clean terminal state.
func TestSingleExchangeCompletes(t *testing.T) {
	server := streamServer(t, deltaJSON("4"), "[DONE]")
	defer server.Close()

	runner := NewRunner()
	h, err := runner.Start(testConfig(server.URL), "What is 2+2?")
	if err != nil {
		t.Fatalf("Start error: %v", err)
	}

	got := collect(h)
	if len(got) != 1 || got[0] != "4" {
		t.Errorf("fragments = %v, expected [4]", got)
	}
	if state := h.Wait(); state != StateCompleted {
		t.Errorf("final state = %v, expected completed", state)
	}
	if h.Err() != nil {
		t.Errorf("Err() = %v, expected nil", h.Err())
	}
	if h.Text() != "4" {
		t.Errorf("Text() = %q, expected %q", h.Text(), "4")
	}
	if h.Prompt() != "What is 2+2?" {
		t.Errorf("Prompt() = %q, expected the submitted text unchanged", h.Prompt())
	}

	stats := h.Stats()
	if stats.Fragments != 1 || stats.Chars != 1 {
		t.Errorf("stats = %+v, expected 1 fragment of 1 char", stats)
	}
	if stats.TTFF <= 0 || stats.Total <= 0 {
		t.Errorf("stats timings not recorded: %+v", stats)
	}
}

// TestFragmentOrderPreserved verifies fragments reach the consumer in the
// exact order the endpoint sent them.
func TestFragmentOrderPreserved(t *testing.T) {
	var payloads []string
	var want []string
	for i := 0; i < 40; i++ {
		frag := fmt.Sprintf("frag-%02d ", i)
		payloads = append(payloads, deltaJSON(frag))
		want = append(want, frag)
	}
	payloads = append(payloads, "[DONE]")

	server := streamServer(t, payloads...)
	defer server.Close()

	runner := NewRunner()
	h, err := runner.Start(testConfig(server.URL), "count")
	if err != nil {
		t.Fatalf("Start error: %v", err)
	}

	got := collect(h)
	if len(got) != len(want) {
		t.Fatalf("received %d fragments, expected %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("fragment %d = %q, expected %q", i, got[i], want[i])
		}
	}
	if h.Wait() != StateCompleted {
		t.Errorf("final state = %v, expected completed", h.Wait())
	}
	if h.Text() != strings.Join(want, "") {
		t.Error("accumulated text should equal the concatenation of all fragments")
	}
}

// TestStateProgression walks one exchange through sending, streaming, and
// completed, checking the observable state at each step.
func TestStateProgression(t *testing.T) {
	send := make(chan string)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for frag := range send {
			fmt.Fprintf(w, "data: %s\n\n", deltaJSON(frag))
			flusher.Flush()
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer server.Close()

	runner := NewRunner()
	h, err := runner.Start(testConfig(server.URL), "state walk")
	if err != nil {
		t.Fatalf("Start error: %v", err)
	}
	if state := h.State(); state != StateSending {
		t.Errorf("state after Start = %v, expected sending", state)
	}

	send <- "hi"
	if frag := <-h.Fragments(); frag != "hi" {
		t.Fatalf("fragment = %q, expected hi", frag)
	}
	if state := h.State(); state != StateStreaming {
		t.Errorf("state after first fragment = %v, expected streaming", state)
	}

	close(send)
	collect(h)
	if state := h.Wait(); state != StateCompleted {
		t.Errorf("final state = %v, expected completed", state)
	}
}

// =============================================================================
// CANCELLATION TESTS
// =============================================================================

// TestCancelBeforeFirstFragment cancels while the request is in flight.
// The consumer must see an empty fragment stream and a cancelled state.
func TestCancelBeforeFirstFragment(t *testing.T) {
	arrived := make(chan struct{})
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(arrived)
		<-release
	}))
	defer server.Close()
	defer close(release)

	runner := NewRunner()
	h, err := runner.Start(testConfig(server.URL), "never answered")
	if err != nil {
		t.Fatalf("Start error: %v", err)
	}

	<-arrived
	h.Cancel()

	got := collect(h)
	if len(got) != 0 {
		t.Errorf("fragments = %v, expected none", got)
	}
	if state := h.Wait(); state != StateCancelled {
		t.Errorf("final state = %v, expected cancelled", state)
	}

	var serr *StreamError
	if !errors.As(h.Err(), &serr) {
		t.Fatalf("Err() = %v, expected *StreamError", h.Err())
	}
	if serr.Kind != KindCancelled {
		t.Errorf("Kind = %v, expected cancelled", serr.Kind)
	}
	if serr.Partial != "" {
		t.Errorf("Partial = %q, expected empty", serr.Partial)
	}
}

// TestCancelMidStream verifies that fragments delivered before the cancel
// stay delivered and none arrive after.
func TestCancelMidStream(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		fmt.Fprintf(w, "data: %s\n\n", deltaJSON("partial "))
		fmt.Fprintf(w, "data: %s\n\n", deltaJSON("answer"))
		flusher.Flush()
		<-release
	}))
	defer server.Close()
	defer close(release)

	runner := NewRunner()
	h, err := runner.Start(testConfig(server.URL), "cut me off")
	if err != nil {
		t.Fatalf("Start error: %v", err)
	}

	var got []string
	for frag := range h.Fragments() {
		got = append(got, frag)
		if len(got) == 2 {
			h.Cancel()
		}
	}

	if len(got) != 2 {
		t.Fatalf("fragments = %v, expected exactly the two pre-cancel fragments", got)
	}
	if state := h.Wait(); state != StateCancelled {
		t.Errorf("final state = %v, expected cancelled", state)
	}
	if h.Text() != "partial answer" {
		t.Errorf("Text() = %q, partial output must be preserved", h.Text())
	}

	var serr *StreamError
	if !errors.As(h.Err(), &serr) {
		t.Fatalf("Err() = %v, expected *StreamError", h.Err())
	}
	if serr.Kind != KindCancelled {
		t.Errorf("Kind = %v, expected cancelled", serr.Kind)
	}
	if serr.Partial != "partial answer" {
		t.Errorf("Partial = %q, expected the delivered text", serr.Partial)
	}
}

// TestCancelAfterTerminalIsNoOp cancels a completed exchange, twice, and
// expects the outcome to stay completed.
func TestCancelAfterTerminalIsNoOp(t *testing.T) {
	server := streamServer(t, deltaJSON("done"), "[DONE]")
	defer server.Close()

	runner := NewRunner()
	h, err := runner.Start(testConfig(server.URL), "finish first")
	if err != nil {
		t.Fatalf("Start error: %v", err)
	}
	collect(h)
	if h.Wait() != StateCompleted {
		t.Fatalf("exchange did not complete: %v", h.Wait())
	}

	h.Cancel()
	h.Cancel()

	if state := h.State(); state != StateCompleted {
		t.Errorf("state after post-terminal cancel = %v, expected completed", state)
	}
	if h.Err() != nil {
		t.Errorf("Err() after post-terminal cancel = %v, expected nil", h.Err())
	}
}

// =============================================================================
// FAILURE TESTS
// =============================================================================

func TestRateLimitedFails(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "15")
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error": {"message": "Rate limit reached"}}`))
	}))
	defer server.Close()

	runner := NewRunner()
	h, err := runner.Start(testConfig(server.URL), "too eager")
	if err != nil {
		t.Fatalf("Start error: %v", err)
	}

	got := collect(h)
	if len(got) != 0 {
		t.Errorf("fragments = %v, expected none", got)
	}
	if state := h.Wait(); state != StateFailed {
		t.Errorf("final state = %v, expected failed", state)
	}

	var serr *StreamError
	if !errors.As(h.Err(), &serr) {
		t.Fatalf("Err() = %v, expected *StreamError", h.Err())
	}
	if serr.Kind != KindRateLimited {
		t.Errorf("Kind = %v, expected rate_limited", serr.Kind)
	}
	if !errors.Is(h.Err(), api.ErrRateLimited) {
		t.Error("Err() should unwrap to the rate limit sentinel")
	}

	var rl *api.RateLimitError
	if !errors.As(h.Err(), &rl) || rl.RetryAfter != 15*time.Second {
		t.Errorf("RetryAfter not carried through, got %v", h.Err())
	}
}

func TestAuthFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error": {"message": "Incorrect API key provided"}}`))
	}))
	defer server.Close()

	runner := NewRunner()
	h, err := runner.Start(testConfig(server.URL), "who am I")
	if err != nil {
		t.Fatalf("Start error: %v", err)
	}

	collect(h)
	if state := h.Wait(); state != StateFailed {
		t.Errorf("final state = %v, expected failed", state)
	}

	var serr *StreamError
	if !errors.As(h.Err(), &serr) || serr.Kind != KindAuth {
		t.Errorf("Err() = %v, expected auth StreamError", h.Err())
	}
}

// TestMalformedStreamFails verifies an undecodable payload ends the
// exchange as failed while keeping the fragments that made it through.
func TestMalformedStreamFails(t *testing.T) {
	server := streamServer(t, deltaJSON("good "), `{broken`)
	defer server.Close()

	runner := NewRunner()
	h, err := runner.Start(testConfig(server.URL), "garble")
	if err != nil {
		t.Fatalf("Start error: %v", err)
	}

	got := collect(h)
	if len(got) != 1 || got[0] != "good " {
		t.Errorf("fragments = %v, expected [good ]", got)
	}
	if state := h.Wait(); state != StateFailed {
		t.Errorf("final state = %v, expected failed", state)
	}

	var serr *StreamError
	if !errors.As(h.Err(), &serr) {
		t.Fatalf("Err() = %v, expected *StreamError", h.Err())
	}
	if serr.Kind != KindMalformed {
		t.Errorf("Kind = %v, expected malformed", serr.Kind)
	}
	if serr.Partial != "good " {
		t.Errorf("Partial = %q, expected the delivered text", serr.Partial)
	}
}

// =============================================================================
// SINGLE-ACTIVE-SESSION TESTS
// =============================================================================

// TestSecondStartWhileActive verifies the runner refuses to overlap
// exchanges and accepts a new one after the first finishes.
func TestSecondStartWhileActive(t *testing.T) {
	arrived := make(chan struct{})
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-arrived:
		default:
			close(arrived)
		}
		<-release
	}))
	defer server.Close()
	defer close(release)

	runner := NewRunner()
	first, err := runner.Start(testConfig(server.URL), "hold the line")
	if err != nil {
		t.Fatalf("Start error: %v", err)
	}
	<-arrived

	if _, err := runner.Start(testConfig(server.URL), "second"); !errors.Is(err, ErrSessionActive) {
		t.Errorf("second Start error = %v, expected ErrSessionActive", err)
	}
	if active := runner.Active(); active != first {
		t.Error("Active() should return the running exchange")
	}

	first.Cancel()
	collect(first)
	if first.Wait() != StateCancelled {
		t.Fatalf("first exchange state = %v, expected cancelled", first.Wait())
	}

	second, err := runner.Start(testConfig(server.URL), "after the first")
	if err != nil {
		t.Fatalf("Start after terminal exchange failed: %v", err)
	}
	second.Cancel()
	collect(second)
	second.Wait()
}

// TestResubmitCreatesIndependentExchange runs the same runner twice and
// checks nothing leaks from one exchange into the next.
func TestResubmitCreatesIndependentExchange(t *testing.T) {
	var count atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		answer := "first"
		if count.Add(1) > 1 {
			answer = "second"
		}
		fmt.Fprintf(w, "data: %s\n\n", deltaJSON(answer))
		fmt.Fprint(w, "data: [DONE]\n\n")
		flusher.Flush()
	}))
	defer server.Close()

	runner := NewRunner()

	h1, err := runner.Start(testConfig(server.URL), "same prompt")
	if err != nil {
		t.Fatalf("first Start error: %v", err)
	}
	collect(h1)
	h1.Wait()

	h2, err := runner.Start(testConfig(server.URL), "same prompt")
	if err != nil {
		t.Fatalf("second Start error: %v", err)
	}
	collect(h2)
	h2.Wait()

	if h1.ID() == h2.ID() {
		t.Error("exchanges should have distinct IDs")
	}
	if h1.Text() != "first" || h2.Text() != "second" {
		t.Errorf("texts = %q, %q; first exchange must be untouched by the second",
			h1.Text(), h2.Text())
	}
	if h1.Prompt() != "same prompt" || h2.Prompt() != "same prompt" {
		t.Error("prompts must be preserved verbatim on both handles")
	}
}

// =============================================================================
// FORMATTING TESTS
// =============================================================================

func TestConfigErrorFormat(t *testing.T) {
	err := &ConfigError{Field: "prompt", Reason: "must not be empty"}
	expected := "invalid config: prompt: must not be empty"
	if err.Error() != expected {
		t.Errorf("Error() = %q, expected %q", err.Error(), expected)
	}
}

func TestStreamErrorFormat(t *testing.T) {
	err := &StreamError{Kind: KindAuth, Err: errors.New("bad key")}
	expected := "stream auth: bad key"
	if err.Error() != expected {
		t.Errorf("Error() = %q, expected %q", err.Error(), expected)
	}

	bare := &StreamError{Kind: KindCancelled}
	if bare.Error() != "stream cancelled" {
		t.Errorf("Error() = %q, expected %q", bare.Error(), "stream cancelled")
	}
}

func TestKindAndStateStrings(t *testing.T) {
	kinds := map[Kind]string{
		KindNetwork:     "network",
		KindAuth:        "auth",
		KindRateLimited: "rate_limited",
		KindMalformed:   "malformed",
		KindCancelled:   "cancelled",
	}
	for kind, want := range kinds {
		if kind.String() != want {
			t.Errorf("Kind(%d).String() = %q, expected %q", kind, kind.String(), want)
		}
	}

	states := map[State]string{
		StateIdle:      "idle",
		StateSending:   "sending",
		StateStreaming: "streaming",
		StateCompleted: "completed",
		StateFailed:    "failed",
		StateCancelled: "cancelled",
	}
	for state, want := range states {
		if state.String() != want {
			t.Errorf("State(%d).String() = %q, expected %q", state, state.String(), want)
		}
	}
	for _, state := range []State{StateCompleted, StateFailed, StateCancelled} {
		if !state.Terminal() {
			t.Errorf("%v should be terminal", state)
		}
	}
	for _, state := range []State{StateIdle, StateSending, StateStreaming} {
		if state.Terminal() {
			t.Errorf("%v should not be terminal", state)
		}
	}
}

func TestStatsFormat(t *testing.T) {
	stats := Stats{
		Fragments: 12,
		Chars:     340,
		TTFF:      150 * time.Millisecond,
		Total:     2300 * time.Millisecond,
	}
	got := stats.Format()
	for _, want := range []string{"2.3s", "12 fragments", "340 chars", "150ms"} {
		if !strings.Contains(got, want) {
			t.Errorf("Format() = %q, expected it to contain %q", got, want)
		}
	}

	empty := Stats{Total: 90 * time.Millisecond}
	if !strings.Contains(empty.Format(), "no output") {
		t.Errorf("Format() = %q, expected a no-output marker", empty.Format())
	}
}
