// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package secret implements encrypted-at-rest values for the config file.
//
// An encrypted value has the form ENC:base64(salt || nonce || ciphertext),
// where the ciphertext carries the AES-256-GCM authentication tag. The key
// is derived from a passphrase with PBKDF2-SHA-256. Each value gets a fresh
// random salt, so each value is sealed under its own key.
package secret

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

// EncryptedPrefix marks a config value as encrypted.
const EncryptedPrefix = "ENC:"

const (
	// NonceSize is the AES-GCM nonce size (96 bits).
	NonceSize = 12
	// KeySize is the AES-256 key size.
	KeySize = 32
	// SaltSize is the key-derivation salt size.
	SaltSize = 32
	// PBKDF2Iterations follows the OWASP 2023 recommendation for
	// PBKDF2-SHA-256.
	PBKDF2Iterations = 600000
)

var (
	// ErrEmptyPassphrase indicates no passphrase was supplied.
	ErrEmptyPassphrase = errors.New("passphrase must not be empty")
	// ErrInvalidCiphertext indicates the encrypted value is malformed.
	ErrInvalidCiphertext = errors.New("invalid encrypted value format")
	// ErrDecryptFailed indicates a wrong passphrase or tampered data.
	ErrDecryptFailed = errors.New("decryption failed: wrong passphrase or corrupted value")
)

// ZeroBytes zeros key material so it does not linger in memory.
func ZeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// IsEncrypted reports whether value carries the ENC: prefix.
func IsEncrypted(value string) bool {
	return strings.HasPrefix(value, EncryptedPrefix)
}

// Encrypt seals plaintext under a key derived from passphrase and returns
// the ENC:-prefixed encoded value.
func Encrypt(plaintext, passphrase string) (string, error) {
	if passphrase == "" {
		return "", ErrEmptyPassphrase
	}

	salt := make([]byte, SaltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}

	key := deriveKey(passphrase, salt)
	defer ZeroBytes(key)

	gcm, err := newGCM(key)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, NonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	sealed := gcm.Seal(nil, nonce, []byte(plaintext), nil)

	packed := make([]byte, 0, SaltSize+NonceSize+len(sealed))
	packed = append(packed, salt...)
	packed = append(packed, nonce...)
	packed = append(packed, sealed...)

	return EncryptedPrefix + base64.StdEncoding.EncodeToString(packed), nil
}

// Decrypt reverses Encrypt. A value without the ENC: prefix is returned
// unchanged, so callers can pass config values through unconditionally.
func Decrypt(value, passphrase string) (string, error) {
	if !IsEncrypted(value) {
		return value, nil
	}
	if passphrase == "" {
		return "", ErrEmptyPassphrase
	}

	packed, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(value, EncryptedPrefix))
	if err != nil {
		return "", ErrInvalidCiphertext
	}
	if len(packed) < SaltSize+NonceSize {
		return "", ErrInvalidCiphertext
	}

	salt := packed[:SaltSize]
	nonce := packed[SaltSize : SaltSize+NonceSize]
	sealed := packed[SaltSize+NonceSize:]

	key := deriveKey(passphrase, salt)
	defer ZeroBytes(key)

	gcm, err := newGCM(key)
	if err != nil {
		return "", err
	}

	plaintext, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		// Never surface a partial plaintext; the tag check failed.
		return "", ErrDecryptFailed
	}

	return string(plaintext), nil
}

func deriveKey(passphrase string, salt []byte) []byte {
	return pbkdf2.Key([]byte(passphrase), salt, PBKDF2Iterations, KeySize, sha256.New)
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create AES cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM cipher: %w", err)
	}
	return gcm, nil
}
