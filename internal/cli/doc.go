// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli provides the chatline command-line front end.
//
// It parses process flags, resolves the configuration, and runs either
// the interactive prompt loop (stdin is a terminal) or a single piped
// exchange (stdin is redirected). The session core never prints; all
// display, retry, and exit-code policy lives here.
//
// # Key Types
//
//   - ArgParser: hand-rolled flag parsing for the small flag surface
//   - REPL: the interactive prompt loop on peterh/liner
//   - Renderer: fragment display with newline fixing and markdown
//
// # Usage
//
// The whole front end is driven from main:
//
//	func main() {
//		os.Exit(cli.Run(os.Args[1:]))
//	}
package cli
