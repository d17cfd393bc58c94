// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"io"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// =============================================================================
// INPUT SANITIZING
// =============================================================================

// Sanitize prepares raw input for submission: trailing whitespace and
// newlines are stripped and the text is normalized to NFC so composed
// and decomposed input produce the same prompt. Interior newlines are
// kept; multiline prompts are legitimate.
func Sanitize(input string) string {
	input = strings.TrimRight(input, " \t\r\n")
	return norm.NFC.String(input)
}

// ReadPiped reads stdin to EOF for pipe mode and sanitizes the result.
func ReadPiped(r io.Reader) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("reading stdin: %w", err)
	}
	return Sanitize(string(data)), nil
}

// JoinContinuations joins the lines of a multiline entry. Each line has
// already had its trailing continuation backslash removed by the reader;
// the lines join with real newlines.
func JoinContinuations(lines []string) string {
	return strings.Join(lines, "\n")
}

// EndsWithContinuation reports whether an input line asks for a
// continuation line, i.e. ends in a lone backslash.
func EndsWithContinuation(line string) bool {
	return endsWithLoneBackslash(strings.TrimRight(line, " \t"))
}

// StripContinuation removes the trailing continuation backslash from a
// line.
func StripContinuation(line string) string {
	trimmed := strings.TrimRight(line, " \t")
	if endsWithLoneBackslash(trimmed) {
		return trimmed[:len(trimmed)-1]
	}
	return line
}
