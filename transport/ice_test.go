// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"testing"

	"github.com/davidryuky/Retro-Chat-95/lib/config"
)

func TestICEConfigFromConfig_Empty(t *testing.T) {
	ice := ICEConfigFromConfig(config.ICEConfig{})
	if len(ice.Servers) != 0 {
		t.Errorf("expected no ICE servers, got %d", len(ice.Servers))
	}
	if len(ice.Configuration().ICEServers) != 0 {
		t.Errorf("expected empty pion configuration")
	}
}

func TestICEConfigFromConfig_SkipsEntriesWithoutURLs(t *testing.T) {
	ice := ICEConfigFromConfig(config.ICEConfig{Servers: []config.ICEServer{
		{Username: "orphan"},
		{URLs: []string{"stun:stun.example:3478"}},
	}})
	if len(ice.Servers) != 1 {
		t.Fatalf("expected 1 ICE server entry, got %d", len(ice.Servers))
	}
	if ice.Servers[0].URLs[0] != "stun:stun.example:3478" {
		t.Errorf("url = %q", ice.Servers[0].URLs[0])
	}
	if ice.Servers[0].Credential != nil {
		t.Errorf("STUN entry should carry no credential, got %v", ice.Servers[0].Credential)
	}
}

func TestICEConfigFromConfig_WithCredentials(t *testing.T) {
	ice := ICEConfigFromConfig(config.ICEConfig{Servers: []config.ICEServer{{
		URLs:       []string{"turn:turn.example:3478?transport=udp", "turn:turn.example:3478?transport=tcp"},
		Username:   "1234:user",
		Credential: "secret",
	}}})
	if len(ice.Servers) != 1 {
		t.Fatalf("expected 1 ICE server entry, got %d", len(ice.Servers))
	}
	server := ice.Servers[0]
	if len(server.URLs) != 2 {
		t.Errorf("expected 2 URLs, got %d", len(server.URLs))
	}
	if server.Username != "1234:user" {
		t.Errorf("username = %q, want %q", server.Username, "1234:user")
	}
	if server.Credential != "secret" {
		t.Errorf("credential = %v, want %q", server.Credential, "secret")
	}
}
