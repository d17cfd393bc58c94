// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package session runs one prompt/response exchange at a time against a
// chat-completion endpoint.
//
// A Runner owns at most one active exchange. Start validates the config,
// then streams the response in a background goroutine; the caller consumes
// text fragments from Handle.Fragments in receipt order and reads the
// terminal state once the channel closes. Cancel stops an exchange
// cooperatively: output already delivered stays delivered, and nothing
// more arrives after cancellation is observed.
//
// # Key Types
//
//   - Runner: starts exchanges and enforces the single-active-session rule
//   - Handle: one exchange; fragment channel, state, stats, final error
//   - Config: resolved endpoint and generation parameters for one exchange
//   - StreamError: terminal failure with a coarse Kind for display and retry
//
// # Usage
//
//	runner := session.NewRunner()
//	handle, err := runner.Start(cfg, "What is 2+2?")
//	if err != nil {
//	    // *session.ConfigError: nothing was sent
//	}
//	for frag := range handle.Fragments() {
//	    fmt.Print(frag)
//	}
//	if handle.Wait() == session.StateFailed {
//	    // handle.Err() carries the StreamError
//	}
package session
