// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"errors"
	"fmt"
)

// ErrSessionActive is returned by Start while another exchange is running.
var ErrSessionActive = errors.New("a session is already active")

// ConfigError reports invalid input rejected before anything is sent.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid config: %s: %s", e.Field, e.Reason)
}

// Kind is the coarse classification of a stream failure. Callers use it
// to pick an exit code, a message, and whether a retry makes sense.
type Kind int

const (
	// KindNetwork covers transport failures and endpoint rejections not
	// classified more precisely.
	KindNetwork Kind = iota

	// KindAuth means the endpoint rejected the API key.
	KindAuth

	// KindRateLimited means the endpoint asked us to slow down.
	KindRateLimited

	// KindMalformed means the response stream could not be decoded.
	KindMalformed

	// KindCancelled means the exchange was cancelled by the caller.
	KindCancelled
)

// String returns the lowercase name of the kind.
func (k Kind) String() string {
	switch k {
	case KindNetwork:
		return "network"
	case KindAuth:
		return "auth"
	case KindRateLimited:
		return "rate_limited"
	case KindMalformed:
		return "malformed"
	case KindCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// StreamError is the terminal error of a failed or cancelled exchange.
// Partial holds the text delivered before the failure; it is never
// discarded.
type StreamError struct {
	Kind    Kind
	Partial string
	Err     error
}

func (e *StreamError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("stream %s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("stream %s", e.Kind)
}

// Unwrap exposes the underlying cause for errors.Is and errors.As.
func (e *StreamError) Unwrap() error {
	return e.Err
}
