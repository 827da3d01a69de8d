// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sessioncode

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/zeebo/blake3"
)

const (
	// IDLength is the length of the ID segment.
	IDLength = 6

	// KeyLength is the length of the KEY segment.
	KeyLength = 6

	// Length is the total code length. The split between the segments
	// is fixed at IDLength.
	Length = IDLength + KeyLength

	// JoinParameter is the query parameter carrying a code in share links.
	JoinParameter = "join"

	// RoomPrefix namespaces room identifiers on public signaling,
	// tracker and relay services.
	RoomPrefix = "retrochat95-"

	relayTopicPrefix = "retrochat95/rooms/"
)

const (
	idAlphabet  = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	keyAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnpqrstuvwxyz23456789"
)

// ErrInvalidFormat is returned for input that does not contain a full code.
var ErrInvalidFormat = errors.New("sessioncode: invalid format")

// CodecError describes a rejected code.
type CodecError struct {
	Input  string
	Reason string
}

func (e *CodecError) Error() string {
	return fmt.Sprintf("sessioncode: invalid code %q: %s", e.Input, e.Reason)
}

func (e *CodecError) Unwrap() error { return ErrInvalidFormat }

// Code is a shareable session code.
type Code string

// String returns the code text.
func (c Code) String() string { return string(c) }

// RoomIdentity is what both peers derive from the same code. It does not
// change once a session starts.
type RoomIdentity struct {
	// Code is the canonical code: upper-cased ID followed by the KEY
	// segment as given.
	Code Code

	// ID is the upper-cased ID segment.
	ID string

	// RoomID is the namespaced room identifier used on shared services.
	RoomID string

	// KeySeed is the KEY segment, the password material for the room key.
	KeySeed string
}

// Generate returns a fresh random code.
func Generate() (Code, error) {
	id, err := randomString(idAlphabet, IDLength)
	if err != nil {
		return "", err
	}
	key, err := randomString(keyAlphabet, KeyLength)
	if err != nil {
		return "", err
	}
	return Code(id + key), nil
}

// Parse extracts the room identity from user input. The input may be a
// bare code or a link carrying it in the join query parameter.
func Parse(input string) (RoomIdentity, error) {
	candidate := strings.TrimSpace(input)
	if fromLink, ok := codeFromLink(candidate); ok {
		candidate = fromLink
	}

	var builder strings.Builder
	for _, character := range candidate {
		if isASCIIAlphanumeric(character) {
			builder.WriteRune(character)
		}
	}
	cleaned := builder.String()

	if len(cleaned) < Length {
		reason := fmt.Sprintf("need %d letters or digits, found %d", Length, len(cleaned))
		return RoomIdentity{}, &CodecError{Input: input, Reason: reason}
	}

	id := strings.ToUpper(cleaned[:IDLength])
	keySeed := cleaned[IDLength:Length]
	if err := checkAlphabet(input, id, idAlphabet); err != nil {
		return RoomIdentity{}, err
	}
	if err := checkAlphabet(input, keySeed, keyAlphabet); err != nil {
		return RoomIdentity{}, err
	}

	return RoomIdentity{
		Code:    Code(id + keySeed),
		ID:      id,
		RoomID:  RoomPrefix + strings.ToLower(id),
		KeySeed: keySeed,
	}, nil
}

// ShareURL returns base with the code set as the join parameter.
func ShareURL(base string, code Code) (string, error) {
	parsed, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parsing share base %q: %w", base, err)
	}
	query := parsed.Query()
	query.Set(JoinParameter, code.String())
	parsed.RawQuery = query.Encode()
	return parsed.String(), nil
}

// RelayTopic is the pub/sub topic for the room. The room identifier is
// hashed so relay subscribers watching wildcards do not learn it.
func (r RoomIdentity) RelayTopic() string {
	return relayTopicPrefix + r.digest()[:32]
}

// InfoHash is the 20-character swarm identifier announced to trackers.
func (r RoomIdentity) InfoHash() string {
	return r.digest()[:20]
}

func (r RoomIdentity) digest() string {
	sum := blake3.Sum256([]byte(r.RoomID))
	return hex.EncodeToString(sum[:])
}

// codeFromLink returns the join parameter of a URL-shaped input.
func codeFromLink(input string) (string, bool) {
	if !strings.Contains(input, JoinParameter+"=") {
		return "", false
	}
	if parsed, err := url.Parse(input); err == nil {
		if value := parsed.Query().Get(JoinParameter); value != "" {
			return value, true
		}
	}
	// Fragments or partial links: take what follows "join=" up to the
	// next separator.
	_, rest, _ := strings.Cut(input, JoinParameter+"=")
	if end := strings.IndexAny(rest, "&#"); end >= 0 {
		rest = rest[:end]
	}
	return rest, rest != ""
}

// checkAlphabet rejects a segment containing characters Generate never
// produces.
func checkAlphabet(input, segment, alphabet string) error {
	for _, character := range segment {
		if !strings.ContainsRune(alphabet, character) {
			return &CodecError{Input: input, Reason: fmt.Sprintf("character %q not in code alphabet", character)}
		}
	}
	return nil
}

func isASCIIAlphanumeric(character rune) bool {
	return (character >= 'a' && character <= 'z') ||
		(character >= 'A' && character <= 'Z') ||
		(character >= '0' && character <= '9')
}

// randomString draws length characters uniformly from alphabet by
// rejection sampling random bytes.
func randomString(alphabet string, length int) (string, error) {
	limit := 256 - 256%len(alphabet)
	result := make([]byte, 0, length)
	buffer := make([]byte, length*2)
	for len(result) < length {
		if _, err := rand.Read(buffer); err != nil {
			return "", fmt.Errorf("sessioncode: reading randomness: %w", err)
		}
		for _, value := range buffer {
			if int(value) >= limit {
				continue
			}
			result = append(result, alphabet[int(value)%len(alphabet)])
			if len(result) == length {
				break
			}
		}
	}
	return string(result), nil
}
