// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package api implements the chat-completion HTTP client.
//
// The client speaks the OpenAI-style /chat/completions protocol: one POST
// per exchange with "stream": true, the response consumed as Server-Sent
// Events until the [DONE] sentinel. The package is transport only; session
// lifecycle, cancellation policy, and retry policy live with the callers.
package api

import (
	"crypto/sha256"
	"crypto/tls"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const (
	// DefaultBaseURL is the endpoint used when the config names none.
	DefaultBaseURL = "https://api.openai.com/v1"

	// connectTimeout bounds dial and TLS handshake; streaming responses
	// themselves have no overall deadline and are torn down via context.
	connectTimeout = 10 * time.Second

	// MaxErrorBodySize caps how much of an error response body is read.
	MaxErrorBodySize = 1 * 1024 * 1024

	userAgent = "chatline/0.3.0"
)

// sharedStreamClient is used for all streaming requests. No overall timeout;
// the caller's context controls the stream lifetime.
var sharedStreamClient = &http.Client{
	Transport: &http.Transport{
		MaxIdleConns:        10,
		MaxIdleConnsPerHost: 4,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: connectTimeout,
		TLSClientConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
		},
	},
}

// Sentinel errors for endpoint failures.
var (
	// ErrNotConfigured indicates the API key is not set.
	ErrNotConfigured = errors.New("API key not configured")

	// ErrAuthFailed indicates the endpoint rejected the API key.
	ErrAuthFailed = errors.New("authentication failed")

	// ErrRateLimited indicates too many requests were made.
	ErrRateLimited = errors.New("rate limited")

	// ErrModelNotFound indicates the requested model does not exist.
	ErrModelNotFound = errors.New("model not found")
)

// APIError is an error reported by the endpoint, either as a non-2xx
// response or as an error object delivered inside the stream.
type APIError struct {
	Code    string
	Type    string
	Message string
	Status  int // 0 for in-stream errors
}

func (e *APIError) Error() string {
	switch {
	case e.Code != "" && e.Status != 0:
		return fmt.Sprintf("api error [%s] (HTTP %d): %s", e.Code, e.Status, e.Message)
	case e.Status != 0:
		return fmt.Sprintf("api error (HTTP %d): %s", e.Status, e.Message)
	case e.Type != "":
		return fmt.Sprintf("api error [%s]: %s", e.Type, e.Message)
	default:
		return fmt.Sprintf("api error: %s", e.Message)
	}
}

// Retryable reports whether the failure is transient on the server side.
// 5xx statuses and in-stream "server_error" objects qualify; everything the
// client caused does not.
func (e *APIError) Retryable() bool {
	if e.Status >= 500 && e.Status < 600 {
		return true
	}
	return e.Status == 0 && e.Type == "server_error"
}

// RateLimitError carries the endpoint's Retry-After hint.
type RateLimitError struct {
	RetryAfter time.Duration
	Message    string
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("rate limited, retry after %v", e.RetryAfter)
	}
	return "rate limited"
}

// Is lets errors.Is(err, ErrRateLimited) match.
func (e *RateLimitError) Is(target error) bool {
	return target == ErrRateLimited
}

// ChatMessage is a single message in a chat request.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// NewUserMessage builds a user-role message.
func NewUserMessage(content string) ChatMessage {
	return ChatMessage{Role: "user", Content: content}
}

// ChatRequest is the body of a chat-completion request. Optional generation
// parameters are pointers so an explicit zero (temperature 0) is still sent.
type ChatRequest struct {
	Model            string             `json:"model"`
	Messages         []ChatMessage      `json:"messages"`
	Stream           bool               `json:"stream"`
	MaxTokens        int                `json:"max_tokens,omitempty"`
	Temperature      *float64           `json:"temperature,omitempty"`
	TopP             *float64           `json:"top_p,omitempty"`
	N                *int               `json:"n,omitempty"`
	Stop             []string           `json:"stop,omitempty"`
	PresencePenalty  *float64           `json:"presence_penalty,omitempty"`
	FrequencyPenalty *float64           `json:"frequency_penalty,omitempty"`
	LogitBias        map[string]float64 `json:"logit_bias,omitempty"`
}

// apiErrorResponse is the error envelope the endpoint returns.
type apiErrorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// Client issues streaming chat-completion requests against one endpoint.
type Client struct {
	apiKey       string
	baseURL      string
	streamClient *http.Client
	limiter      *rate.Limiter
}

// NewClient creates a client for the given API key. An empty key is allowed;
// Stream then fails with ErrNotConfigured.
func NewClient(apiKey string) *Client {
	return &Client{
		apiKey:       strings.TrimSpace(apiKey),
		baseURL:      DefaultBaseURL,
		streamClient: sharedStreamClient,
	}
}

// WithBaseURL sets the endpoint base URL.
func (c *Client) WithBaseURL(url string) *Client {
	if url != "" {
		c.baseURL = strings.TrimSuffix(url, "/")
	}
	return c
}

// WithHTTPClient overrides the HTTP client used for streams.
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	if hc != nil {
		c.streamClient = hc
	}
	return c
}

// WithRequestsPerMinute enables client-side request pacing. Zero disables
// pacing. The limiter carries across exchanges on the same client.
func (c *Client) WithRequestsPerMinute(rpm int) *Client {
	if rpm > 0 {
		c.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(rpm)), 1)
	} else {
		c.limiter = nil
	}
	return c
}

// IsConfigured reports whether an API key is set.
func (c *Client) IsConfigured() bool {
	return c.apiKey != ""
}

// BaseURL returns the configured endpoint base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// MaskKey renders an API key for display without exposing any part of it.
// The fingerprint lets a user tell keys apart; it cannot be reversed.
func MaskKey(key string) string {
	key = strings.TrimSpace(key)
	if key == "" {
		return "[not set]"
	}
	h := sha256.Sum256([]byte(key))
	return fmt.Sprintf("[REDACTED, length=%d, fingerprint=%s]", len(key), hex.EncodeToString(h[:4]))
}

// setHeaders sets the headers every request carries.
func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
}

// handleErrorResponse converts a non-2xx response into a typed error.
// The body, if parseable, supplies the endpoint's own code and message.
func (c *Client) handleErrorResponse(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, MaxErrorBodySize))

	var msg, code, typ string
	var apiErr apiErrorResponse
	if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Error.Message != "" {
		msg = apiErr.Error.Message
		code = apiErr.Error.Code
		typ = apiErr.Error.Type
	}

	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		if msg != "" {
			return fmt.Errorf("%w: %s", ErrAuthFailed, msg)
		}
		return ErrAuthFailed
	case http.StatusNotFound:
		if msg != "" {
			return fmt.Errorf("%w: %s", ErrModelNotFound, msg)
		}
		return ErrModelNotFound
	case http.StatusTooManyRequests:
		return &RateLimitError{
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
			Message:    msg,
		}
	default:
		if msg == "" {
			msg = strings.TrimSpace(string(body))
		}
		return &APIError{Code: code, Type: typ, Message: msg, Status: resp.StatusCode}
	}
}

// parseRetryAfter accepts the integer-seconds and HTTP-date forms.
func parseRetryAfter(value string) time.Duration {
	if value == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(value); err == nil && seconds >= 0 {
		return time.Duration(seconds) * time.Second
	}
	if t, err := http.ParseTime(value); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}
