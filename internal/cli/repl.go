// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/peterh/liner"

	"github.com/jeranaias/chatline/internal/api"
	"github.com/jeranaias/chatline/internal/config"
	"github.com/jeranaias/chatline/internal/session"
	"github.com/jeranaias/chatline/internal/usage"
	"github.com/jeranaias/chatline/internal/util"
)

// doubleCtrlCWindow is how long a first Ctrl-C at the prompt stays armed
// before a second one is needed again.
const doubleCtrlCWindow = 2 * time.Second

// LineReader wraps liner with history persistence and backslash
// continuation handling.
type LineReader struct {
	line        *liner.State
	historyFile string
	save        bool
	multiline   bool
}

// NewLineReader creates a line reader and loads prior history when
// saving is enabled.
func NewLineReader(historyFile string, save, multiline bool) *LineReader {
	line := liner.NewLiner()
	line.SetCtrlCAborts(true)

	r := &LineReader{
		line:        line,
		historyFile: historyFile,
		save:        save,
		multiline:   multiline,
	}
	r.loadHistory()
	return r
}

func (l *LineReader) loadHistory() {
	if !l.save || l.historyFile == "" {
		return
	}
	f, err := os.Open(l.historyFile)
	if err != nil {
		return
	}
	defer f.Close()
	l.line.ReadHistory(f)
}

// ReadPrompt reads one prompt. When multiline input is on, a line ending
// in a lone backslash continues on the next line; the joined result
// keeps a newline at each break.
func (l *LineReader) ReadPrompt() (string, error) {
	input, err := l.line.Prompt(promptStyle.Render("Prompt: "))
	if err != nil {
		return "", err
	}
	if !l.multiline || !EndsWithContinuation(input) {
		l.remember(input)
		return input, nil
	}

	lines := []string{StripContinuation(input)}
	for {
		next, err := l.line.Prompt(promptStyle.Render("... "))
		if err != nil {
			return "", err
		}
		if !EndsWithContinuation(next) {
			lines = append(lines, next)
			break
		}
		lines = append(lines, StripContinuation(next))
	}

	joined := JoinContinuations(lines)
	l.remember(joined)
	return joined, nil
}

// remember appends a non-blank entry to history. History entries are
// single lines, so embedded newlines are collapsed.
func (l *LineReader) remember(entry string) {
	if strings.TrimSpace(entry) == "" {
		return
	}
	l.line.AppendHistory(util.CollapseNewlines(entry))
}

// SaveHistory writes the history file with owner-only permissions.
func (l *LineReader) SaveHistory() error {
	if !l.save || l.historyFile == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(l.historyFile), 0o700); err != nil {
		return err
	}
	f, err := os.OpenFile(l.historyFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = l.line.WriteHistory(f)
	return err
}

// Close saves history and restores the terminal.
func (l *LineReader) Close() {
	if err := l.SaveHistory(); err != nil {
		fmt.Fprintln(os.Stderr, dimStyle.Render("history: "+err.Error()))
	}
	l.line.Close()
}

// REPL is the interactive prompt loop.
type REPL struct {
	cfg     *config.Config
	runner  *session.Runner
	reader  *LineReader
	render  *Renderer
	ledger  *usage.Store
	watcher *config.Watcher

	exchanges int
}

// NewREPL wires the interactive loop from a validated config. The usage
// ledger and config watcher are optional; failures to set them up are
// reported and the loop runs without them.
func NewREPL(cfg *config.Config) *REPL {
	historyFile, err := cfg.HistoryPath()
	if err != nil {
		fmt.Fprintln(os.Stderr, dimStyle.Render("history: "+err.Error()))
		historyFile = ""
	}

	r := &REPL{
		cfg:    cfg,
		runner: session.NewRunner(),
		reader: NewLineReader(historyFile, cfg.UI.SaveHistory, cfg.UI.MultilineInsertions),
		render: NewRenderer(os.Stdout, cfg.UI.FixNewlines, cfg.UI.RenderMarkdown && IsStdoutTTY()),
	}

	if cfg.Usage.Track {
		path, err := cfg.UsagePath()
		if err == nil {
			r.ledger, err = usage.Open(path)
		}
		if err != nil {
			fmt.Fprintln(os.Stderr, dimStyle.Render("usage ledger: "+err.Error()))
			r.ledger = nil
		}
	}

	if cfg.UI.WatchConfig && cfg.Path() != "" {
		w, err := config.Watch(cfg.Path())
		if err != nil {
			fmt.Fprintln(os.Stderr, dimStyle.Render("config watch: "+err.Error()))
		} else {
			r.watcher = w
		}
	}

	return r
}

// Run drives the prompt loop until the user exits. Ctrl-C during a
// response cancels it; Ctrl-C at the prompt exits, or arms exit when
// double_ctrlc is set. Ctrl-D always exits.
func (r *REPL) Run() int {
	defer r.reader.Close()
	if r.watcher != nil {
		defer r.watcher.Close()
	}
	if r.ledger != nil {
		defer r.ledger.Close()
	}

	if !r.cfg.UI.HideConfig {
		r.printBanner()
	}

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigc)
	go func() {
		for range sigc {
			if h := r.runner.Active(); h != nil {
				h.Cancel()
			}
		}
	}()

	var lastAbort time.Time
	for {
		if r.watcher != nil && r.watcher.Changed() {
			fmt.Println(warnStyle.Render("configuration changed on disk; restart to apply"))
		}

		input, err := r.reader.ReadPrompt()
		if err != nil {
			if errors.Is(err, liner.ErrPromptAborted) {
				if r.cfg.UI.DoubleCtrlC && time.Since(lastAbort) >= doubleCtrlCWindow {
					lastAbort = time.Now()
					fmt.Println(warnStyle.Render("Press Ctrl-C again to exit."))
					continue
				}
				fmt.Println()
				r.printGoodbye()
				return ExitSuccess
			}
			// Ctrl-D on an empty line arrives as io.EOF.
			fmt.Println()
			r.printGoodbye()
			return ExitSuccess
		}

		input = Sanitize(input)
		if strings.TrimSpace(input) == "" {
			continue
		}

		r.exchange(input)
		fmt.Println()
	}
}

// exchange runs one prompt to its terminal state. Server-side failures
// are retried up to chat.server_retries times with doubling delays;
// every other failure is reported once.
func (r *REPL) exchange(prompt string) {
	attempt := 0
	for {
		h, err := r.runner.Start(r.cfg.SessionConfig(), prompt)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s %v\n", errorStyle.Render("[error]"), err)
			if hint := Suggestion(err); hint != "" {
				fmt.Fprintln(os.Stderr, dimStyle.Render(hint))
			}
			return
		}

		r.render.Reset()
		for frag := range h.Fragments() {
			r.render.Fragment(frag)
		}
		state := h.Wait()
		r.exchanges++
		r.recordUsage(h)

		switch state {
		case session.StateCompleted:
			r.render.FinishCompleted(h.Text())
			fmt.Println(dimStyle.Render(h.Stats().Format()))
			return

		case session.StateCancelled:
			r.render.FinishCancelled()
			return

		default:
			r.render.FinishFailed()
			err := h.Err()
			if attempt < r.cfg.Chat.ServerRetries && isServerError(err) {
				attempt++
				delay := retryDelay(attempt)
				fmt.Fprintf(os.Stderr, "%s server error; retrying in %s (%d/%d)\n",
					warnStyle.Render("[retry]"), delay, attempt, r.cfg.Chat.ServerRetries)
				time.Sleep(delay)
				continue
			}
			r.displayFailure(err)
			return
		}
	}
}

// displayFailure prints the failure with its kind and a hint when one
// applies.
func (r *REPL) displayFailure(err error) {
	label := "[failed]"
	var streamErr *session.StreamError
	if errors.As(err, &streamErr) {
		label = "[" + streamErr.Kind.String() + "]"
	}
	fmt.Fprintf(os.Stderr, "%s %v\n", errorStyle.Render(label), err)
	if hint := Suggestion(err); hint != "" {
		fmt.Fprintln(os.Stderr, dimStyle.Render(hint))
	}
}

func (r *REPL) recordUsage(h *session.Handle) {
	recordExchange(r.ledger, h)
}

// isServerError reports whether the failure came from the server side
// and is worth submitting again.
func isServerError(err error) bool {
	var apiErr *api.APIError
	return errors.As(err, &apiErr) && apiErr.Retryable()
}

// retryDelay doubles from 500ms per attempt, capped at 10s.
func retryDelay(attempt int) time.Duration {
	d := 500 * time.Millisecond << uint(attempt-1)
	if d > 10*time.Second {
		d = 10 * time.Second
	}
	return d
}

func (r *REPL) printBanner() {
	valueWidth := TerminalWidth() - 18

	fmt.Println()
	fmt.Println(bannerStyle.Render("chatline " + Version))
	fmt.Println(dimStyle.Render(strings.Repeat("─", 30)))

	key := r.cfg.Chat.APIKey
	if r.cfg.UI.RedactAPIKey {
		key = api.MaskKey(key)
	}

	rows := []struct{ label, value string }{
		{"Model:", r.cfg.Chat.Model},
		{"Endpoint:", r.cfg.Chat.BaseURL},
		{"API key:", key},
		{"Max tokens:", strconv.Itoa(r.cfg.Chat.MaxTokens)},
		{"Temperature:", strconv.FormatFloat(r.cfg.Chat.Temperature, 'g', -1, 64)},
	}
	if path := r.cfg.Path(); path != "" {
		rows = append(rows, struct{ label, value string }{"Config:", path})
	}
	for _, row := range rows {
		fmt.Printf("  %s %s\n",
			labelStyle.Render(util.PadRight(row.label, 13)),
			valueStyle.Render(util.TruncateWidth(row.value, valueWidth)))
	}

	fmt.Println()
	tips := "Type a prompt and press Enter. Ctrl-C cancels a response, Ctrl-D exits."
	if r.cfg.UI.MultilineInsertions {
		tips += " End a line with \\ to continue it."
	}
	fmt.Println(infoStyle.Render(tips))
	fmt.Println()
}

func (r *REPL) printGoodbye() {
	if r.exchanges > 0 {
		fmt.Println(dimStyle.Render(fmt.Sprintf("%d exchanges this session. Goodbye!", r.exchanges)))
		return
	}
	fmt.Println(dimStyle.Render("Goodbye!"))
}
