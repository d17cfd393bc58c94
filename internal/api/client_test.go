// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

// =============================================================================
// CLIENT CONFIGURATION TESTS
// =============================================================================

func TestNewClient(t *testing.T) {
	client := NewClient("sk-test-abcdefghijklmnopqrstuvwxyz")
	if !client.IsConfigured() {
		t.Error("Client should be configured with a non-empty API key")
	}
	if client.BaseURL() != DefaultBaseURL {
		t.Errorf("Default base URL = %q, expected %q", client.BaseURL(), DefaultBaseURL)
	}

	empty := NewClient("   ")
	if empty.IsConfigured() {
		t.Error("Client with blank API key should not be configured")
	}
}

func TestWithBaseURL(t *testing.T) {
	client := NewClient("sk-test").WithBaseURL("https://example.com/v1/")
	if client.BaseURL() != "https://example.com/v1" {
		t.Errorf("Trailing slash should be trimmed, got %q", client.BaseURL())
	}

	client.WithBaseURL("")
	if client.BaseURL() != "https://example.com/v1" {
		t.Error("Empty base URL should leave the previous value in place")
	}
}

func TestMaskKey(t *testing.T) {
	tests := []struct {
		name   string
		key    string
		prefix string
	}{
		{name: "empty", key: "", prefix: "[not set]"},
		{name: "blank", key: "  ", prefix: "[not set]"},
		{name: "short", key: "abc", prefix: "[REDACTED, length=3, fingerprint="},
		{name: "normal", key: "sk-test-abc123", prefix: "[REDACTED, length=14, fingerprint="},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			masked := MaskKey(tc.key)
			if !strings.HasPrefix(masked, tc.prefix) {
				t.Errorf("MaskKey(%q) = %q, expected prefix %q", tc.key, masked, tc.prefix)
			}
			if tc.key != "" && len(tc.key) > 3 && strings.Contains(masked, tc.key) {
				t.Errorf("Masked key must not contain the original key, got %q", masked)
			}
		})
	}
}

// =============================================================================
// ERROR MAPPING TESTS
// =============================================================================

// TestStatusMapping drives Stream against servers returning each error
// status and checks the typed error that comes back. The callback must not
// fire for any of them.
func TestStatusMapping(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		sentinel error
	}{
		{
			name:     "401 unauthorized",
			status:   http.StatusUnauthorized,
			body:     `{"error": {"message": "Incorrect API key provided", "code": "invalid_api_key"}}`,
			sentinel: ErrAuthFailed,
		},
		{
			name:     "403 forbidden",
			status:   http.StatusForbidden,
			body:     `{"error": {"message": "forbidden"}}`,
			sentinel: ErrAuthFailed,
		},
		{
			name:     "404 model not found",
			status:   http.StatusNotFound,
			body:     `{"error": {"message": "The model does not exist", "code": "model_not_found"}}`,
			sentinel: ErrModelNotFound,
		},
		{
			name:     "429 rate limited",
			status:   http.StatusTooManyRequests,
			body:     `{"error": {"message": "Rate limit reached"}}`,
			sentinel: ErrRateLimited,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tc.status)
				w.Write([]byte(tc.body))
			}))
			defer server.Close()

			client := NewClient("sk-test-key").WithBaseURL(server.URL)
			calls := 0
			err := client.Stream(context.Background(), ChatRequest{
				Model:    "test-model",
				Messages: []ChatMessage{NewUserMessage("hi")},
			}, func(StreamChunk) { calls++ })

			if !errors.Is(err, tc.sentinel) {
				t.Errorf("Stream error = %v, expected errors.Is(%v)", err, tc.sentinel)
			}
			if calls != 0 {
				t.Errorf("Callback fired %d times on error status, expected 0", calls)
			}
		})
	}
}

func TestStatusMappingServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error": {"message": "The server had an error", "type": "server_error"}}`))
	}))
	defer server.Close()

	client := NewClient("sk-test-key").WithBaseURL(server.URL)
	err := client.Stream(context.Background(), ChatRequest{Model: "m"}, func(StreamChunk) {})

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("Stream error = %v, expected *APIError", err)
	}
	if apiErr.Status != 500 {
		t.Errorf("Status = %d, expected 500", apiErr.Status)
	}
	if !apiErr.Retryable() {
		t.Error("HTTP 500 should be retryable")
	}
}

func TestRateLimitRetryAfter(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "30")
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error": {"message": "slow down"}}`))
	}))
	defer server.Close()

	client := NewClient("sk-test-key").WithBaseURL(server.URL)
	err := client.Stream(context.Background(), ChatRequest{Model: "m"}, func(StreamChunk) {})

	var rl *RateLimitError
	if !errors.As(err, &rl) {
		t.Fatalf("Stream error = %v, expected *RateLimitError", err)
	}
	if rl.RetryAfter != 30*time.Second {
		t.Errorf("RetryAfter = %v, expected 30s", rl.RetryAfter)
	}
	if !errors.Is(err, ErrRateLimited) {
		t.Error("RateLimitError should match ErrRateLimited via errors.Is")
	}
}

func TestParseRetryAfter(t *testing.T) {
	tests := []struct {
		name  string
		value string
		check func(time.Duration) bool
	}{
		{
			name:  "integer seconds",
			value: "45",
			check: func(d time.Duration) bool { return d == 45*time.Second },
		},
		{
			name:  "zero seconds",
			value: "0",
			check: func(d time.Duration) bool { return d == 0 },
		},
		{
			name:  "http date in future",
			value: time.Now().Add(2 * time.Minute).UTC().Format(http.TimeFormat),
			check: func(d time.Duration) bool { return d > time.Minute && d <= 2*time.Minute },
		},
		{
			name:  "http date in past",
			value: time.Now().Add(-time.Hour).UTC().Format(http.TimeFormat),
			check: func(d time.Duration) bool { return d == 0 },
		},
		{
			name:  "garbage",
			value: "soon",
			check: func(d time.Duration) bool { return d == 0 },
		},
		{
			name:  "empty",
			value: "",
			check: func(d time.Duration) bool { return d == 0 },
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := parseRetryAfter(tc.value)
			if !tc.check(got) {
				t.Errorf("parseRetryAfter(%q) = %v, outside expected range", tc.value, got)
			}
		})
	}
}

func TestAPIErrorFormat(t *testing.T) {
	withCode := &APIError{Code: "invalid_request", Message: "bad field", Status: 400}
	expected := "api error [invalid_request] (HTTP 400): bad field"
	if withCode.Error() != expected {
		t.Errorf("Error() = %q, expected %q", withCode.Error(), expected)
	}

	noCode := &APIError{Message: "boom", Status: 500}
	expected = "api error (HTTP 500): boom"
	if noCode.Error() != expected {
		t.Errorf("Error() = %q, expected %q", noCode.Error(), expected)
	}

	inStream := &APIError{Type: "server_error", Message: "overloaded"}
	expected = "api error [server_error]: overloaded"
	if inStream.Error() != expected {
		t.Errorf("Error() = %q, expected %q", inStream.Error(), expected)
	}
}

func TestAPIErrorRetryable(t *testing.T) {
	tests := []struct {
		name      string
		err       *APIError
		retryable bool
	}{
		{name: "500", err: &APIError{Status: 500}, retryable: true},
		{name: "503", err: &APIError{Status: 503}, retryable: true},
		{name: "400", err: &APIError{Status: 400}, retryable: false},
		{name: "in-stream server_error", err: &APIError{Type: "server_error"}, retryable: true},
		{name: "in-stream other", err: &APIError{Type: "invalid_request_error"}, retryable: false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.err.Retryable(); got != tc.retryable {
				t.Errorf("Retryable() = %v, expected %v", got, tc.retryable)
			}
		})
	}
}

func TestStreamNotConfigured(t *testing.T) {
	client := NewClient("")
	err := client.Stream(context.Background(), ChatRequest{Model: "m"}, func(StreamChunk) {})
	if !errors.Is(err, ErrNotConfigured) {
		t.Errorf("Stream without key = %v, expected ErrNotConfigured", err)
	}
}
