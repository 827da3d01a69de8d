// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// retrochat is a terminal client for ephemeral, end-to-end encrypted
// two-party chat.
//
// Without --join it hosts a new room and shows the session code in the
// title bar; the other person runs retrochat --join <code> (or opens the
// share link in a browser client). Messages are encrypted with a key
// derived from the code, so the relay, signaling server or tracker in
// between only ever sees ciphertext.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/pflag"

	"github.com/davidryuky/Retro-Chat-95/lib/chatui"
	"github.com/davidryuky/Retro-Chat-95/lib/config"
	"github.com/davidryuky/Retro-Chat-95/lib/version"
	"github.com/davidryuky/Retro-Chat-95/lib/wire"
	"github.com/davidryuky/Retro-Chat-95/session"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var configPath, joinCode, backend, username string

	flagSet := pflag.NewFlagSet("retrochat", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", "", "path to retrochat.yaml (default: $"+config.EnvironmentVariable+", then built-in defaults)")
	flagSet.StringVar(&joinCode, "join", "", "session code or share link to join; omit to host a new room")
	flagSet.StringVar(&backend, "backend", "", "transport backend: relay, signaling or mesh (overrides config)")
	flagSet.StringVar(&username, "username", "", "name shown to the other person (overrides config)")
	flagSet.BoolP("help", "h", false, "show help")

	if len(os.Args) > 1 && os.Args[1] == "--version" {
		version.Print("retrochat")
		return nil
	}

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			printHelp(flagSet)
			return nil
		}
		return err
	}
	if help, _ := flagSet.GetBool("help"); help {
		printHelp(flagSet)
		return nil
	}
	if args := flagSet.Args(); len(args) > 0 {
		return fmt.Errorf("unexpected argument: %s", args[0])
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if backend != "" {
		cfg.Backend = config.Backend(backend)
	}
	if username != "" {
		cfg.Username = username
	}
	if cfg.Username == "" {
		cfg.Username = os.Getenv("USER")
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration:\n%w", err)
	}

	timing, err := cfg.Timing()
	if err != nil {
		return err
	}
	level, err := cfg.LogLevel()
	if err != nil {
		return err
	}
	codec, err := wire.CodecByName(cfg.Wire.Encoding)
	if err != nil {
		return err
	}

	tuiHandler := chatui.NewTUILogHandler(slog.LevelWarn)
	handler, closeLog, err := newLogHandler(tuiHandler, cfg.Log.File, level)
	if err != nil {
		return err
	}
	defer closeLog()
	logger := slog.New(handler)

	factory, err := newFactory(cfg, timing, logger)
	if err != nil {
		return err
	}
	controller := session.New(session.Options{
		Username:     cfg.Username,
		NewLink:      newLinkFunc(factory, candidates(cfg), timing, logger),
		Logger:       logger,
		Codec:        codec,
		ShareBaseURL: cfg.ShareBaseURL,
	})
	defer controller.Leave()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if joinCode != "" {
		if err := controller.JoinSession(ctx, joinCode); err != nil {
			return err
		}
	} else if _, err := controller.CreateSession(ctx); err != nil {
		return err
	}

	program := tea.NewProgram(chatui.NewModel(controller), tea.WithAltScreen(), tea.WithReportFocus(), tea.WithContext(ctx))
	tuiHandler.SetProgram(program)
	_, err = program.Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}

// loadConfig reads the --config file, then $RETROCHAT_CONFIG, and
// otherwise falls back to the built-in defaults.
func loadConfig(path string) (*config.Config, error) {
	switch {
	case path != "":
		return config.LoadFile(path)
	case os.Getenv(config.EnvironmentVariable) != "":
		return config.Load()
	default:
		cfg := config.Default()
		cfg.ExpandVariables()
		return cfg, nil
	}
}

func printHelp(flagSet *pflag.FlagSet) {
	fmt.Fprintf(os.Stderr, `retrochat - ephemeral encrypted two-party chat in the terminal.

Without --join, hosts a new room and shows its code. Give the code (or
the share link) to the other person; they join with --join.

Usage:
  retrochat [flags]

Examples:
  # Host a room over the default MQTT relays
  retrochat

  # Join a room
  retrochat --join AB3DEF7xK2mQ

  # Join through a self-hosted signaling server
  retrochat --backend signaling --config ~/.config/retrochat.yaml --join AB3DEF7xK2mQ

Flags:
`)
	flagSet.SetOutput(os.Stderr)
	flagSet.PrintDefaults()
}
