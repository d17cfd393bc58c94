// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/term"

	"github.com/jeranaias/chatline/internal/config"
	"github.com/jeranaias/chatline/internal/secret"
)

// runEncryptKey replaces the plaintext api_key in the config file with
// its encrypted form. The passphrase is read from the terminal and
// never stored; decryption at startup reads it from CHATLINE_PASSPHRASE.
func runEncryptKey(loc config.Location) int {
	if err := RequiresTTY("read the passphrase"); err != nil {
		fmt.Fprintln(os.Stderr, "error: "+err.Error())
		return GetExitCode(err)
	}

	cfg, err := config.LoadRaw(loc)
	if errors.Is(err, config.ErrNoConfig) {
		fmt.Fprintln(os.Stderr, "error: no config file to encrypt; create one first")
		return ExitConfigError
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "error: "+err.Error())
		return GetExitCode(err)
	}

	if cfg.Chat.APIKey == "" {
		fmt.Fprintf(os.Stderr, "error: %s has no api_key to encrypt\n", cfg.Path())
		return ExitConfigError
	}
	if secret.IsEncrypted(cfg.Chat.APIKey) {
		fmt.Println("api_key is already encrypted; nothing to do")
		return ExitSuccess
	}

	passphrase, err := promptPassword("Passphrase: ")
	if err != nil {
		fmt.Fprintln(os.Stderr, "error: "+err.Error())
		return ExitGeneralError
	}
	if passphrase == "" {
		fmt.Fprintln(os.Stderr, "error: passphrase must not be empty")
		return ExitUsageError
	}
	confirm, err := promptPassword("Confirm passphrase: ")
	if err != nil {
		fmt.Fprintln(os.Stderr, "error: "+err.Error())
		return ExitGeneralError
	}
	if passphrase != confirm {
		fmt.Fprintln(os.Stderr, "error: passphrases do not match")
		return ExitUsageError
	}

	encrypted, err := secret.Encrypt(cfg.Chat.APIKey, passphrase)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error: "+err.Error())
		return ExitGeneralError
	}
	cfg.Chat.APIKey = encrypted
	if err := cfg.Save(); err != nil {
		fmt.Fprintln(os.Stderr, "error: "+err.Error())
		return ExitGeneralError
	}

	fmt.Println("Encrypted api_key in " + cfg.Path())
	fmt.Printf("Export %s before the next run so the key can be decrypted.\n", config.PassphraseEnv)
	return ExitSuccess
}

// promptPassword reads a line without echoing it.
func promptPassword(prompt string) (string, error) {
	fmt.Print(prompt)
	pw, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		return "", fmt.Errorf("reading passphrase: %w", err)
	}
	return string(pw), nil
}
