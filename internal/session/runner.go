// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/jeranaias/chatline/internal/api"
)

// =============================================================================
// EXCHANGE CONFIG
// =============================================================================

// Config carries the resolved endpoint and generation parameters for one
// exchange. Optional generation parameters are pointers so an explicit
// zero is still sent to the endpoint.
type Config struct {
	// Endpoint
	APIKey  string
	BaseURL string // empty means the default endpoint
	Model   string

	// Generation
	MaxTokens        int
	Temperature      *float64
	TopP             *float64
	N                *int
	Stop             []string
	PresencePenalty  *float64
	FrequencyPenalty *float64
	LogitBias        map[string]float64

	// Pacing. Zero disables client-side rate limiting.
	RequestsPerMinute int
}

// validate rejects input that must never reach the network.
func validate(cfg Config, prompt string) *ConfigError {
	if strings.TrimSpace(prompt) == "" {
		return &ConfigError{Field: "prompt", Reason: "must not be empty"}
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return &ConfigError{Field: "api_key", Reason: "must not be empty"}
	}
	return nil
}

// request maps the config and prompt onto the wire request.
func request(cfg Config, prompt string) api.ChatRequest {
	return api.ChatRequest{
		Model:            cfg.Model,
		Messages:         []api.ChatMessage{api.NewUserMessage(prompt)},
		MaxTokens:        cfg.MaxTokens,
		Temperature:      cfg.Temperature,
		TopP:             cfg.TopP,
		N:                cfg.N,
		Stop:             cfg.Stop,
		PresencePenalty:  cfg.PresencePenalty,
		FrequencyPenalty: cfg.FrequencyPenalty,
		LogitBias:        cfg.LogitBias,
	}
}

// =============================================================================
// RUNNER
// =============================================================================

// Runner starts exchanges and enforces that at most one is active. The
// underlying HTTP client and its rate limiter are reused across exchanges
// for as long as the endpoint part of the config stays the same.
type Runner struct {
	mu        sync.Mutex
	active    *Handle
	client    *api.Client
	clientSig string
}

// NewRunner creates a runner with no active exchange.
func NewRunner() *Runner {
	return &Runner{}
}

// Start validates cfg and prompt, and on success launches the exchange in
// a background goroutine, returning its handle already in StateSending.
// On validation failure it returns a *ConfigError and nothing is sent.
// While a previous exchange is still running it returns ErrSessionActive.
func (r *Runner) Start(cfg Config, prompt string) (*Handle, error) {
	if cerr := validate(cfg, prompt); cerr != nil {
		return nil, cerr
	}

	r.mu.Lock()
	if r.active != nil && !r.active.State().Terminal() {
		r.mu.Unlock()
		return nil, ErrSessionActive
	}
	client := r.clientFor(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	h := newHandle(prompt, cfg.Model, cancel)
	h.transition(StateIdle, StateSending)
	r.active = h
	r.mu.Unlock()

	go r.run(ctx, client, cfg, h)
	return h, nil
}

// Active returns the running exchange, or nil when none is active. A
// handle that has just finished may still be returned briefly.
func (r *Runner) Active() *Handle {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active != nil && r.active.State().Terminal() {
		return nil
	}
	return r.active
}

// clientFor returns the cached client, rebuilding it when the endpoint
// config changed. Called with r.mu held.
func (r *Runner) clientFor(cfg Config) *api.Client {
	sig := fmt.Sprintf("%s\x00%s\x00%d", cfg.APIKey, cfg.BaseURL, cfg.RequestsPerMinute)
	if r.client == nil || r.clientSig != sig {
		r.client = api.NewClient(cfg.APIKey).
			WithBaseURL(cfg.BaseURL).
			WithRequestsPerMinute(cfg.RequestsPerMinute)
		r.clientSig = sig
	}
	return r.client
}

// release clears the active slot if h still occupies it. Called from the
// producer goroutine after the handle is terminal.
func (r *Runner) release(h *Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active == h {
		r.active = nil
	}
}

// run is the producer goroutine: it drives the stream, forwards fragments,
// and publishes the terminal result.
func (r *Runner) run(ctx context.Context, client *api.Client, cfg Config, h *Handle) {
	defer close(h.done)
	defer r.release(h)
	defer h.cancel()

	err := client.Stream(ctx, request(cfg, h.prompt), func(chunk api.StreamChunk) {
		content := chunk.Content()
		if content == "" {
			return
		}

		// Once cancellation is observed, no fragment may be delivered.
		select {
		case <-ctx.Done():
			return
		default:
		}

		h.transition(StateSending, StateStreaming)
		h.record(content)

		select {
		case h.frags <- content:
		case <-ctx.Done():
		}
	})

	state, serr := classify(err, h.Text())
	h.finish(state, serr)
}

// classify maps a stream result onto a terminal state and error. Partial
// output is attached to every failure so it is never lost.
func classify(err error, partial string) (State, error) {
	if err == nil {
		return StateCompleted, nil
	}

	kind := KindNetwork
	switch {
	case errors.Is(err, context.Canceled):
		return StateCancelled, &StreamError{Kind: KindCancelled, Partial: partial, Err: err}
	case errors.Is(err, api.ErrAuthFailed), errors.Is(err, api.ErrNotConfigured):
		kind = KindAuth
	case errors.Is(err, api.ErrRateLimited):
		kind = KindRateLimited
	case errors.Is(err, api.ErrMalformedStream):
		kind = KindMalformed
	}
	return StateFailed, &StreamError{Kind: kind, Partial: partial, Err: err}
}
