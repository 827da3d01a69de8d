// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// retrochat-signal is a self-hosted signaling server for retrochat's
// signaling backend. It speaks the PeerJS-compatible WebSocket protocol:
// clients register under their room id and the server forwards OFFER,
// ANSWER, CANDIDATE and LEAVE messages between them. It never sees chat
// content.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/davidryuky/Retro-Chat-95/lib/version"
	"github.com/davidryuky/Retro-Chat-95/transport/signalserver"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		listenAddress string
		key           string
		path          string
		aliveTimeout  time.Duration
		logLevel      string
	)

	flagSet := pflag.NewFlagSet("retrochat-signal", pflag.ContinueOnError)
	flagSet.StringVar(&listenAddress, "listen", ":9000", "address to listen on")
	flagSet.StringVar(&key, "key", "", "API key clients must present (default: peerjs)")
	flagSet.StringVar(&path, "path", signalserver.DefaultPath, "WebSocket endpoint path")
	flagSet.DurationVar(&aliveTimeout, "alive-timeout", signalserver.DefaultAliveTimeout, "disconnect clients silent for this long")
	flagSet.StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn or error")
	showVersion := flagSet.Bool("version", false, "print version information and exit")

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		return err
	}
	if *showVersion {
		version.Print("retrochat-signal")
		return nil
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(logLevel)); err != nil {
		return fmt.Errorf("invalid --log-level %q: %w", logLevel, err)
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	server := signalserver.New(signalserver.Options{
		Logger:       logger,
		Key:          key,
		Path:         path,
		AliveTimeout: aliveTimeout,
	})
	if err := server.ListenAndServe(ctx, listenAddress); err != nil {
		return err
	}
	logger.Info("signaling server stopped")
	return nil
}
