// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package util provides small shared helpers for chatline.
//
// String helpers are rune- and width-aware so truncation never splits a
// UTF-8 sequence or miscounts double-width (CJK) characters. File helpers
// provide crash-safe writes for the config and history files.
package util
