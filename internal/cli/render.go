// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/glamour"
)

// =============================================================================
// MARKDOWN RENDERING
// =============================================================================

// markdownRenderer is the shared glamour renderer for completed responses.
var markdownRenderer *glamour.TermRenderer

func init() {
	var err error
	markdownRenderer, err = glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(80),
	)
	if err != nil {
		// Fall back to plain text when the renderer cannot initialize.
		markdownRenderer = nil
	}
}

// renderMarkdown renders markdown for terminal display. Returns the
// content unchanged if rendering is unavailable or fails.
func renderMarkdown(content string) string {
	if markdownRenderer == nil {
		return content
	}
	rendered, err := markdownRenderer.Render(content)
	if err != nil {
		return content
	}
	return rendered
}

// =============================================================================
// FRAGMENT RENDERER
// =============================================================================

// Renderer writes streamed fragments to the terminal. It is a pure
// display layer: the session's accumulation buffer keeps the raw
// fragments, and every transformation here affects only what is shown.
//
// With newline fixing on, a fragment ending in a lone backslash is held
// back and joined with the next fragment, and literal \n two-character
// sequences in the joined text become real newlines.
type Renderer struct {
	out         io.Writer
	fixNewlines bool
	markdown    bool
	plain       bool

	pending string
	started bool
}

// NewRenderer creates a renderer for the interactive loop. A bold
// response header precedes the first fragment, and a completed response
// is re-rendered as markdown when enabled.
func NewRenderer(out io.Writer, fixNewlines, markdown bool) *Renderer {
	return &Renderer{
		out:         out,
		fixNewlines: fixNewlines,
		markdown:    markdown,
	}
}

// NewPlainRenderer creates a renderer for pipe mode: no header, no
// markers, no markdown. Newline fixing still applies.
func NewPlainRenderer(out io.Writer, fixNewlines bool) *Renderer {
	return &Renderer{
		out:         out,
		fixNewlines: fixNewlines,
		plain:       true,
	}
}

// Reset prepares the renderer for the next exchange.
func (r *Renderer) Reset() {
	r.pending = ""
	r.started = false
}

// Started reports whether any output has been written this exchange.
func (r *Renderer) Started() bool {
	return r.started
}

// Fragment displays one streamed fragment.
func (r *Renderer) Fragment(text string) {
	if text == "" {
		return
	}
	if !r.started {
		if !r.plain {
			fmt.Fprint(r.out, responseStyle.Render("Response:")+" ")
		}
		r.started = true
	}

	if !r.fixNewlines {
		fmt.Fprint(r.out, text)
		return
	}

	text = r.pending + text
	r.pending = ""
	if endsWithLoneBackslash(text) {
		r.pending = text
		return
	}
	fmt.Fprint(r.out, fixLiteralNewlines(text))
}

// flush writes any held-back fragment. At stream end a dangling
// backslash has no continuation and is shown as-is.
func (r *Renderer) flush() {
	if r.pending == "" {
		return
	}
	fmt.Fprint(r.out, fixLiteralNewlines(r.pending))
	r.pending = ""
}

// FinishCompleted closes out a completed exchange. full is the
// accumulated response, used for the markdown re-render.
func (r *Renderer) FinishCompleted(full string) {
	r.flush()
	if r.started {
		fmt.Fprintln(r.out)
	}

	if r.markdown && !r.plain && r.started {
		text := full
		if r.fixNewlines {
			text = fixLiteralNewlines(text)
		}
		fmt.Fprintln(r.out, dimStyle.Render(strings.Repeat("─", 40)))
		fmt.Fprint(r.out, renderMarkdown(text))
	}
}

// FinishCancelled closes out a cancelled exchange, leaving the partial
// output on screen under a dim marker.
func (r *Renderer) FinishCancelled() {
	r.flush()
	if r.started {
		fmt.Fprintln(r.out)
	}
	if !r.plain {
		fmt.Fprintln(r.out, dimStyle.Render("[cancelled]"))
	}
}

// FinishFailed closes out a failed exchange. The caller prints the
// error itself.
func (r *Renderer) FinishFailed() {
	r.flush()
	if r.started {
		fmt.Fprintln(r.out)
	}
}

// endsWithLoneBackslash reports whether s ends in an odd run of
// backslashes, i.e. a dangling escape that may pair with the start of
// the next fragment.
func endsWithLoneBackslash(s string) bool {
	n := 0
	for i := len(s) - 1; i >= 0 && s[i] == '\\'; i-- {
		n++
	}
	return n%2 == 1
}

// fixLiteralNewlines converts literal \n sequences to real newlines.
func fixLiteralNewlines(s string) string {
	return strings.ReplaceAll(s, `\n`, "\n")
}
