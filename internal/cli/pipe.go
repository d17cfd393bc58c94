// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jeranaias/chatline/internal/config"
	"github.com/jeranaias/chatline/internal/session"
	"github.com/jeranaias/chatline/internal/usage"
)

// RunPipe handles the non-interactive path: the prompt arrives on
// stdin, the response leaves on stdout, and everything else goes to
// stderr. No banner, no colors, no markdown.
func RunPipe(cfg *config.Config) int {
	input, err := ReadPiped(os.Stdin)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error: reading stdin: "+err.Error())
		return ExitGeneralError
	}
	if strings.TrimSpace(input) == "" {
		fmt.Fprintln(os.Stderr, "usage: echo \"prompt\" | chatline")
		return ExitUsageError
	}

	var ledger *usage.Store
	if cfg.Usage.Track {
		path, perr := cfg.UsagePath()
		if perr == nil {
			ledger, perr = usage.Open(path)
		}
		if perr != nil {
			fmt.Fprintln(os.Stderr, "usage ledger: "+perr.Error())
			ledger = nil
		}
	}
	if ledger != nil {
		defer ledger.Close()
	}

	runner := session.NewRunner()
	render := NewPlainRenderer(os.Stdout, cfg.UI.FixNewlines)

	// An interrupt mid-stream cancels the exchange; whatever already
	// reached stdout stays there.
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigc)
	go func() {
		for range sigc {
			if h := runner.Active(); h != nil {
				h.Cancel()
			}
		}
	}()

	attempt := 0
	for {
		h, err := runner.Start(cfg.SessionConfig(), input)
		if err != nil {
			fmt.Fprintln(os.Stderr, "error: "+err.Error())
			if hint := Suggestion(err); hint != "" {
				fmt.Fprintln(os.Stderr, hint)
			}
			return GetExitCode(err)
		}

		for frag := range h.Fragments() {
			render.Fragment(frag)
		}
		state := h.Wait()
		recordExchange(ledger, h)

		switch state {
		case session.StateCompleted:
			render.FinishCompleted(h.Text())
			return ExitSuccess

		case session.StateCancelled:
			render.FinishCancelled()
			fmt.Fprintln(os.Stderr, "cancelled")
			return ExitCancelled

		default:
			render.FinishFailed()
			ferr := h.Err()
			if attempt < cfg.Chat.ServerRetries && isServerError(ferr) {
				attempt++
				delay := retryDelay(attempt)
				fmt.Fprintf(os.Stderr, "server error; retrying in %s (%d/%d)\n",
					delay, attempt, cfg.Chat.ServerRetries)
				time.Sleep(delay)
				continue
			}
			fmt.Fprintln(os.Stderr, "error: "+ferr.Error())
			if hint := Suggestion(ferr); hint != "" {
				fmt.Fprintln(os.Stderr, hint)
			}
			return GetExitCode(ferr)
		}
	}
}

// recordExchange writes one ledger row for a finished exchange. A nil
// ledger means tracking is off. Ledger failures are reported but never
// change the exit path.
func recordExchange(ledger *usage.Store, h *session.Handle) {
	if ledger == nil {
		return
	}
	stats := h.Stats()
	err := ledger.Record(usage.Exchange{
		ID:            h.ID(),
		StartedAt:     stats.StartedAt,
		Model:         h.Model(),
		Outcome:       h.State().String(),
		Fragments:     stats.Fragments,
		Chars:         stats.Chars,
		Duration:      stats.Total,
		FirstFragment: stats.TTFF,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "usage ledger: "+err.Error())
	}
}
