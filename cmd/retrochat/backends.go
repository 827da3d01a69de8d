// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"log/slog"

	"github.com/davidryuky/Retro-Chat-95/lib/config"
	"github.com/davidryuky/Retro-Chat-95/session"
	"github.com/davidryuky/Retro-Chat-95/transport"
	"github.com/davidryuky/Retro-Chat-95/transport/manager"
	"github.com/davidryuky/Retro-Chat-95/transport/mesh"
	"github.com/davidryuky/Retro-Chat-95/transport/relay"
	"github.com/davidryuky/Retro-Chat-95/transport/signaling"
)

// newFactory builds the adapter factory for the configured backend.
func newFactory(cfg *config.Config, timing config.Timing, logger *slog.Logger) (transport.Factory, error) {
	switch cfg.Backend {
	case config.BackendRelay:
		return relay.NewFactory(relay.Options{Logger: logger, ConnectTimeout: timing.Connect}), nil
	case config.BackendSignaling:
		return signaling.NewFactory(signaling.Options{Logger: logger, Key: cfg.Signaling.Key}), nil
	case config.BackendMesh:
		return mesh.NewFactory(mesh.Options{Logger: logger, AnnounceInterval: timing.AnnounceInterval}), nil
	}
	return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
}

// candidates turns the backend's endpoint list into transport endpoints
// sharing the configured ICE servers.
func candidates(cfg *config.Config) []transport.Endpoint {
	ice := transport.ICEConfigFromConfig(cfg.ICE)
	var endpoints []transport.Endpoint
	for _, url := range cfg.Endpoints() {
		endpoints = append(endpoints, transport.Endpoint{URL: url, ICE: ice})
	}
	return endpoints
}

// newLinkFunc returns the per-session link constructor.
func newLinkFunc(factory transport.Factory, endpoints []transport.Endpoint, timing config.Timing, logger *slog.Logger) func() session.Link {
	return func() session.Link {
		return manager.New(manager.Options{
			Factory:        factory,
			Candidates:     endpoints,
			Logger:         logger,
			ConnectTimeout: timing.Connect,
			ReconnectDelay: timing.ReconnectDelay,
			MaxBackoff:     timing.MaxBackoff,
		})
	}
}
