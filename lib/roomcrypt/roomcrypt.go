// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package roomcrypt

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"

	"golang.org/x/crypto/pbkdf2"

	"github.com/davidryuky/Retro-Chat-95/lib/secret"
	"github.com/davidryuky/Retro-Chat-95/lib/wire"
)

const (
	// KeySize is the AES-256 key length in bytes.
	KeySize = 32

	// IVSize is the GCM nonce length in bytes.
	IVSize = 12

	// Iterations is the PBKDF2 work factor.
	Iterations = 100_000
)

// salt is shared by every room. Changing it breaks compatibility with
// every deployed client.
var salt = []byte("retro-chat-95::v1::salt")

// ErrDecrypt is the cause of every DecryptError.
var ErrDecrypt = errors.New("roomcrypt: decryption failed")

// DecryptError reports a payload that could not be authenticated: wrong
// key, corrupted frame, or tampered ciphertext.
type DecryptError struct {
	Reason string
	Err    error
}

func (e *DecryptError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("roomcrypt: cannot decrypt payload: %s: %v", e.Reason, e.Err)
	}
	return "roomcrypt: cannot decrypt payload: " + e.Reason
}

func (e *DecryptError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrDecrypt, e.Err}
	}
	return []error{ErrDecrypt}
}

// Key is a derived room key held in locked memory.
type Key struct {
	buffer *secret.Buffer
	aead   cipher.AEAD
}

// DeriveKey derives the room key for seed.
func DeriveKey(seed string) (*Key, error) {
	if seed == "" {
		return nil, errors.New("roomcrypt: empty key seed")
	}

	material := pbkdf2.Key([]byte(seed), salt, Iterations, KeySize, sha256.New)
	buffer, err := secret.NewFromBytes(material)
	if err != nil {
		return nil, fmt.Errorf("roomcrypt: protecting key: %w", err)
	}

	block, err := aes.NewCipher(buffer.Bytes())
	if err != nil {
		buffer.Close()
		return nil, fmt.Errorf("roomcrypt: creating AES cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		buffer.Close()
		return nil, fmt.Errorf("roomcrypt: creating GCM: %w", err)
	}

	return &Key{buffer: buffer, aead: aead}, nil
}

// Equal reports whether two keys hold the same bytes.
func (k *Key) Equal(other *Key) bool {
	if k == nil || other == nil {
		return k == other
	}
	return subtle.ConstantTimeCompare(k.buffer.Bytes(), other.buffer.Bytes()) == 1
}

// Close wipes the key. Encrypt and Decrypt fail afterwards. Idempotent.
func (k *Key) Close() error {
	return k.buffer.Close()
}

// Encrypt seals plaintext under a fresh IV.
func Encrypt(plaintext []byte, key *Key) (wire.EncryptedPayload, error) {
	if key == nil || key.buffer.Closed() {
		return wire.EncryptedPayload{}, errors.New("roomcrypt: encrypt with closed key")
	}

	iv := make([]byte, IVSize)
	if _, err := rand.Read(iv); err != nil {
		return wire.EncryptedPayload{}, fmt.Errorf("roomcrypt: generating IV: %w", err)
	}

	return wire.EncryptedPayload{
		IV:   iv,
		Data: key.aead.Seal(nil, iv, plaintext, nil),
	}, nil
}

// Decrypt opens a payload produced by Encrypt under the same key.
func Decrypt(payload wire.EncryptedPayload, key *Key) ([]byte, error) {
	if key == nil || key.buffer.Closed() {
		return nil, &DecryptError{Reason: "key closed"}
	}
	if len(payload.IV) != IVSize {
		return nil, &DecryptError{Reason: fmt.Sprintf("IV is %d bytes, want %d", len(payload.IV), IVSize)}
	}
	if len(payload.Data) < key.aead.Overhead() {
		return nil, &DecryptError{Reason: fmt.Sprintf("ciphertext is %d bytes, shorter than the tag", len(payload.Data))}
	}

	plaintext, err := key.aead.Open(nil, payload.IV, payload.Data, nil)
	if err != nil {
		return nil, &DecryptError{Reason: "authentication failed", Err: err}
	}
	return plaintext, nil
}
