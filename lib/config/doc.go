// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads the chat client's YAML configuration.
//
// The file is named either by the --config flag ([LoadFile]) or by the
// RETROCHAT_CONFIG environment variable ([Load]). Values in the file are
// merged over [Default], which points at public relays, trackers and a
// public signaling server so the client works with no file at all.
// Environment variables never override individual values; the only
// expansion is ${VAR} and ${VAR:-default} in path fields.
//
// [Config.Validate] reports every problem at once, joined with
// errors.Join, so a user fixes a broken file in one pass.
package config
