// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package mesh

import (
	"crypto/rand"

	"github.com/pion/webrtc/v4"
)

// actionAnnounce is the only tracker action the client uses.
const actionAnnounce = "announce"

// idLength is the length of peer ids and offer ids.
const idLength = 20

// Message is a WebTorrent tracker message in either direction.
type Message struct {
	Action   string `json:"action,omitempty"`
	InfoHash string `json:"info_hash,omitempty"`
	PeerID   string `json:"peer_id,omitempty"`

	// Announce fields.
	Event   string  `json:"event,omitempty"`
	NumWant int     `json:"numwant,omitempty"`
	Offers  []Offer `json:"offers,omitempty"`

	// Relayed offer or answer.
	Offer    *webrtc.SessionDescription `json:"offer,omitempty"`
	Answer   *webrtc.SessionDescription `json:"answer,omitempty"`
	OfferID  string                     `json:"offer_id,omitempty"`
	ToPeerID string                     `json:"to_peer_id,omitempty"`

	// Tracker responses.
	Interval       int    `json:"interval,omitempty"`
	Complete       int    `json:"complete,omitempty"`
	Incomplete     int    `json:"incomplete,omitempty"`
	FailureReason  string `json:"failure reason,omitempty"`
	WarningMessage string `json:"warning message,omitempty"`
}

// Offer is one entry of an announce's offers list.
type Offer struct {
	Offer   webrtc.SessionDescription `json:"offer"`
	OfferID string                    `json:"offer_id"`
}

// randomID returns an idLength identifier from crypto/rand.
func randomID() string {
	return rand.Text()[:idLength]
}
