// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/jeranaias/chatline/internal/config"
	"github.com/jeranaias/chatline/internal/usage"
)

// Version is the chatline release version.
const Version = "v0.3.0"

// Run parses the arguments and dispatches to the interactive loop, the
// pipe path, or one of the utility actions. The return value is the
// process exit code.
func Run(argv []string) int {
	p := NewArgParser(argv)

	if p.HasFlag("help") || p.HasFlag("h") {
		printUsage(os.Stdout)
		return ExitSuccess
	}
	if p.HasFlag("version") || p.HasFlag("v") {
		fmt.Println("chatline " + Version)
		return ExitSuccess
	}
	if p.HasFlag("print-shortcuts") {
		printShortcuts(os.Stdout)
		return ExitSuccess
	}
	if p.PositionalCount() > 0 {
		fmt.Fprintf(os.Stderr, "error: unexpected argument %q; the prompt is read interactively or from stdin\n\n", p.Positional(0))
		printUsage(os.Stderr)
		return ExitUsageError
	}

	loc := config.ParseLocation(p.FlagOrDefault("config", p.Flag("c")))

	if p.HasFlag("usage") {
		return runUsageReport(loc)
	}
	if p.HasFlag("encrypt-key") {
		return runEncryptKey(loc)
	}

	cfg, err := config.Load(loc)
	switch {
	case errors.Is(err, config.ErrNoConfig):
		if code, proceed := handleMissingConfig(cfg, loc); !proceed {
			return code
		}
	case err != nil:
		fmt.Fprintln(os.Stderr, "error: "+err.Error())
		if hint := Suggestion(err); hint != "" {
			fmt.Fprintln(os.Stderr, hint)
		}
		return GetExitCode(err)
	}

	if cfg.Chat.APIKey == "" {
		fmt.Fprintln(os.Stderr, "error: no API key configured")
		fmt.Fprintf(os.Stderr, "set chat.api_key in %s or export CHATLINE_API_KEY\n", cfg.Path())
		return ExitConfigError
	}

	if p.HasFlag("hide-config") {
		cfg.UI.HideConfig = true
	}

	if IsTTY() {
		return NewREPL(cfg).Run()
	}
	return RunPipe(cfg)
}

// handleMissingConfig decides what to do when no config file exists.
// With an API key from the environment the defaults are good enough to
// run. Otherwise, on a terminal, offer to write a starter config; the
// second return value reports whether startup should continue.
func handleMissingConfig(cfg *config.Config, loc config.Location) (int, bool) {
	if cfg.Chat.APIKey != "" {
		fmt.Fprintln(os.Stderr, dimStyle.Render("no config file; running on defaults with the environment API key"))
		return ExitSuccess, true
	}

	path, err := loc.Path()
	if err != nil {
		fmt.Fprintln(os.Stderr, "error: "+err.Error())
		return ExitConfigError, false
	}

	if !IsTTY() {
		fmt.Fprintf(os.Stderr, "error: no config file at %s and no CHATLINE_API_KEY set\n", path)
		return ExitConfigError, false
	}

	fmt.Printf("No config file found. Create a starter config at %s? [y/N] ", path)
	answer, _ := bufio.NewReader(os.Stdin).ReadString('\n')
	answer = strings.ToLower(strings.TrimSpace(answer))
	if answer == "y" || answer == "yes" {
		if werr := config.WriteExample(path); werr != nil {
			fmt.Fprintln(os.Stderr, "error: "+werr.Error())
			return ExitGeneralError, false
		}
		fmt.Println("Wrote " + path)
		fmt.Println(dimStyle.Render("Set chat.api_key there (or export CHATLINE_API_KEY), then run chatline again."))
		return ExitSuccess, false
	}

	fmt.Fprintf(os.Stderr, "error: an API key is required; set chat.api_key in %s or export CHATLINE_API_KEY\n", path)
	return ExitConfigError, false
}

// runUsageReport prints the ledger summary. A missing config file is
// fine here; the defaults name the ledger location.
func runUsageReport(loc config.Location) int {
	cfg, err := config.Load(loc)
	if err != nil && !errors.Is(err, config.ErrNoConfig) {
		fmt.Fprintln(os.Stderr, "error: "+err.Error())
		return GetExitCode(err)
	}

	path, err := cfg.UsagePath()
	if err != nil {
		fmt.Fprintln(os.Stderr, "error: "+err.Error())
		return ExitGeneralError
	}
	store, err := usage.Open(path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error: opening usage ledger: "+err.Error())
		return ExitGeneralError
	}
	defer store.Close()

	sum, err := store.Summary()
	if err != nil {
		fmt.Fprintln(os.Stderr, "error: reading usage ledger: "+err.Error())
		return ExitGeneralError
	}
	fmt.Println(sum.Format())
	return ExitSuccess
}

func printUsage(w io.Writer) {
	fmt.Fprint(w, `chatline - terminal chat for OpenAI-compatible endpoints

Usage:
  chatline [flags]              start the interactive prompt loop
  echo "prompt" | chatline      run one exchange over a pipe

Flags:
  -c, --config <loc>    config location: a path, a profile name, or empty
                        for the default file
      --usage           print the usage ledger summary and exit
      --encrypt-key     encrypt the api_key stored in the config file
      --hide-config     skip the startup banner
      --print-shortcuts list the keyboard shortcuts
  -v, --version         print the version
  -h, --help            print this help

Environment:
  CHATLINE_API_KEY      overrides chat.api_key
  CHATLINE_MODEL        overrides chat.model
  CHATLINE_BASE_URL     overrides chat.base_url
  CHATLINE_PASSPHRASE   decrypts an encrypted api_key

Exit codes:
  0 success  1 error  2 usage  3 config  4 auth  5 network  8 cancelled
`)
}

func printShortcuts(w io.Writer) {
	fmt.Fprint(w, `Keyboard shortcuts:
  Ctrl-C      cancel the streaming response; at the prompt, exit
              (with double_ctrlc, a second press within 2s exits)
  Ctrl-D      exit, on an empty line
  Up / Down   walk the prompt history
  Ctrl-R      search the prompt history
  Ctrl-A / E  jump to the start / end of the line
  Ctrl-W      delete the word before the cursor
  \           at the end of a line, continue the prompt on the next one
              (needs multiline_insertions)
`)
}
