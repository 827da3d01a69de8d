// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/davidryuky/Retro-Chat-95/lib/chatui"
)

// newLogHandler combines the status-bar handler with a JSON log file at
// level. An empty path logs to the status bar only.
func newLogHandler(tuiHandler *chatui.TUILogHandler, path string, level slog.Level) (slog.Handler, func(), error) {
	if path == "" {
		return tuiHandler, func() {}, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, nil, fmt.Errorf("creating log directory: %w", err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, nil, fmt.Errorf("opening log file: %w", err)
	}
	fileHandler := slog.NewJSONHandler(file, &slog.HandlerOptions{Level: level})
	return chatui.FanoutHandler{tuiHandler, fileHandler}, func() { file.Close() }, nil
}
