// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"errors"
	"fmt"

	"github.com/jeranaias/chatline/internal/api"
	"github.com/jeranaias/chatline/internal/config"
	"github.com/jeranaias/chatline/internal/session"
)

// =============================================================================
// EXIT CODES
// =============================================================================

const (
	// ExitSuccess indicates successful execution
	ExitSuccess = 0
	// ExitGeneralError indicates a general/unknown error
	ExitGeneralError = 1
	// ExitUsageError indicates invalid flags or arguments
	ExitUsageError = 2
	// ExitConfigError indicates a configuration problem
	ExitConfigError = 3
	// ExitAuthError indicates the endpoint rejected the API key
	ExitAuthError = 4
	// ExitNetworkError indicates a network, server, or protocol failure
	ExitNetworkError = 5
	// ExitCancelled indicates a piped exchange was cancelled mid-stream
	ExitCancelled = 8
)

// GetExitCode maps an error to the process exit code.
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}

	var streamErr *session.StreamError
	if errors.As(err, &streamErr) {
		switch streamErr.Kind {
		case session.KindAuth:
			return ExitAuthError
		case session.KindCancelled:
			return ExitCancelled
		default:
			// Network, rate-limited, and malformed streams are all
			// endpoint-side failures.
			return ExitNetworkError
		}
	}

	var configErr *session.ConfigError
	if errors.As(err, &configErr) {
		return ExitConfigError
	}

	var validateErrs config.ValidateErrors
	if errors.As(err, &validateErrs) {
		return ExitConfigError
	}
	if errors.Is(err, config.ErrNoConfig) {
		return ExitConfigError
	}

	var ttyErr *TTYRequiredError
	if errors.As(err, &ttyErr) {
		return ExitUsageError
	}

	if errors.Is(err, api.ErrAuthFailed) {
		return ExitAuthError
	}

	return ExitGeneralError
}

// =============================================================================
// FAILURE SUGGESTIONS
// =============================================================================

// Suggestion returns a one-line hint for a failed exchange, or "" when
// there is nothing useful to say.
func Suggestion(err error) string {
	if err == nil {
		return ""
	}

	var rateErr *api.RateLimitError
	if errors.As(err, &rateErr) {
		if rateErr.RetryAfter > 0 {
			return fmt.Sprintf("the endpoint asked to retry after %s", rateErr.RetryAfter)
		}
		return "the endpoint is rate limiting; wait a moment and resubmit"
	}

	var streamErr *session.StreamError
	if errors.As(err, &streamErr) {
		switch streamErr.Kind {
		case session.KindAuth:
			return "check chat.api_key in the config or the CHATLINE_API_KEY variable"
		case session.KindRateLimited:
			return "the endpoint is rate limiting; wait a moment and resubmit"
		case session.KindMalformed:
			return "the endpoint sent an unreadable stream; resubmit or check base_url"
		case session.KindNetwork:
			var apiErr *api.APIError
			if errors.As(streamErr.Err, &apiErr) && apiErr.Retryable() {
				return "the endpoint reported a server error; it was retried without success"
			}
			return "check connectivity and chat.base_url"
		}
		return ""
	}

	var configErr *session.ConfigError
	if errors.As(err, &configErr) {
		if configErr.Field == "api_key" {
			return "set chat.api_key in the config or export CHATLINE_API_KEY"
		}
		return ""
	}

	if errors.Is(err, api.ErrModelNotFound) {
		return "check chat.model; the endpoint does not know this model"
	}

	return ""
}
