// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"github.com/pion/webrtc/v4"

	"github.com/davidryuky/Retro-Chat-95/lib/config"
)

// ICEConfig holds ICE server configuration for WebRTC PeerConnections.
type ICEConfig struct {
	// Servers is the list of STUN and TURN servers used during
	// candidate gathering. Empty means host candidates only, which is
	// enough for same-machine and same-LAN peers.
	Servers []webrtc.ICEServer
}

// ICEConfigFromConfig converts the ice section of the client config into
// pion ICE server entries. Entries without URLs are skipped.
func ICEConfigFromConfig(ice config.ICEConfig) ICEConfig {
	var servers []webrtc.ICEServer
	for _, server := range ice.Servers {
		if len(server.URLs) == 0 {
			continue
		}
		entry := webrtc.ICEServer{URLs: server.URLs, Username: server.Username}
		if server.Credential != "" {
			entry.Credential = server.Credential
		}
		servers = append(servers, entry)
	}
	return ICEConfig{Servers: servers}
}

// Configuration returns the pion configuration for a new PeerConnection.
func (c ICEConfig) Configuration() webrtc.Configuration {
	return webrtc.Configuration{ICEServers: c.Servers}
}
