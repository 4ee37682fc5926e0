// Copyright (C) 2025 sage-x-project
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.

// SPDX-License-Identifier: LGPL-3.0-or-later

package ratchet

import (
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"
	"sync"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// AEADSessionCipher is a SessionCipher backed directly by ChaCha20-Poly1305
// with HKDF-derived keys, standing in for a full double-ratchet exchange.
// Each established session has a fixed key; a prekey decrypt installs the
// session if its identity key matches what IdentityKey expects.
type AEADSessionCipher struct {
	mu           sync.Mutex
	key          []byte
	closed       bool
	identityKey  []byte
	wantIdentity []byte
}

// NewAEADSessionCipher derives a ChaCha20-Poly1305 key from sharedSecret
// via HKDF-SHA256, for a session already established (ready to decrypt
// CIPHERTEXT envelopes).
func NewAEADSessionCipher(sharedSecret []byte) (*AEADSessionCipher, error) {
	key := make([]byte, chacha20poly1305.KeySize)
	h := hkdf.New(sha256.New, sharedSecret, nil, []byte("relay-receiver session"))
	if _, err := io.ReadFull(h, key); err != nil {
		return nil, fmt.Errorf("derive session key: %w", err)
	}
	return &AEADSessionCipher{key: key}, nil
}

// NewPendingAEADSessionCipher returns a cipher with no established key yet;
// it will only decrypt successfully via DecryptPreKeyWhisperMessage once
// wantIdentity matches the bundle's embedded identity key.
func NewPendingAEADSessionCipher(wantIdentity []byte) *AEADSessionCipher {
	return &AEADSessionCipher{wantIdentity: wantIdentity}
}

// wireFormat for this stand-in cipher: identityKey(32) || nonce(12) || aead-ciphertext.
// A real ratchet would instead carry a ratchet header; this package only
// needs to exercise the SessionCipher contract, not implement the
// algorithm.
const identityKeyLen = 32

func (c *AEADSessionCipher) open(ciphertext []byte, key []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("build aead: %w", err)
	}
	if len(ciphertext) < chacha20poly1305.NonceSize {
		return nil, fmt.Errorf("ciphertext too short")
	}
	nonce := ciphertext[:chacha20poly1305.NonceSize]
	body := ciphertext[chacha20poly1305.NonceSize:]
	plaintext, err := aead.Open(nil, nonce, body, nil)
	if err != nil {
		return nil, fmt.Errorf("decrypt: %w", err)
	}
	return plaintext, nil
}

// DecryptWhisperMessage implements SessionCipher.
func (c *AEADSessionCipher) DecryptWhisperMessage(ciphertext []byte) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, fmt.Errorf("session closed")
	}
	if c.key == nil {
		return nil, fmt.Errorf("no established session")
	}
	return c.open(ciphertext, c.key)
}

// DecryptPreKeyWhisperMessage implements SessionCipher. The wire format
// here is identityKey(32) || nonce(12) || aead-ciphertext; the embedded
// identity key establishes the session on success.
func (c *AEADSessionCipher) DecryptPreKeyWhisperMessage(ciphertext []byte) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, fmt.Errorf("session closed")
	}
	if len(ciphertext) < identityKeyLen {
		return nil, fmt.Errorf("prekey bundle too short")
	}
	identityKey := ciphertext[:identityKeyLen]
	rest := ciphertext[identityKeyLen:]

	if c.wantIdentity != nil && !equalBytes(identityKey, c.wantIdentity) {
		return nil, ErrUnknownIdentityKey
	}

	key := make([]byte, chacha20poly1305.KeySize)
	h := hkdf.New(sha256.New, identityKey, nil, []byte("relay-receiver prekey session"))
	if _, err := io.ReadFull(h, key); err != nil {
		return nil, fmt.Errorf("derive prekey session key: %w", err)
	}

	plaintext, err := c.open(rest, key)
	if err != nil {
		return nil, err
	}

	c.identityKey = identityKey
	c.key = key
	return plaintext, nil
}

// Close implements SessionCipher.
func (c *AEADSessionCipher) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	for i := range c.key {
		c.key[i] = 0
	}
	c.key = nil
	return nil
}

func equalBytes(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// SealWhisperMessage is a test/demo helper producing a ciphertext that
// DecryptWhisperMessage on a cipher built from the same sharedSecret can
// open.
func SealWhisperMessage(sharedSecret, plaintext []byte) ([]byte, error) {
	key := make([]byte, chacha20poly1305.KeySize)
	h := hkdf.New(sha256.New, sharedSecret, nil, []byte("relay-receiver session"))
	if _, err := io.ReadFull(h, key); err != nil {
		return nil, err
	}
	return seal(key, plaintext)
}

// SealPreKeyWhisperMessage is a test/demo helper producing a prekey-bundle
// ciphertext carrying identityKey, openable by DecryptPreKeyWhisperMessage.
func SealPreKeyWhisperMessage(identityKey, plaintext []byte) ([]byte, error) {
	if len(identityKey) != identityKeyLen {
		return nil, fmt.Errorf("identity key must be %d bytes", identityKeyLen)
	}
	key := make([]byte, chacha20poly1305.KeySize)
	h := hkdf.New(sha256.New, identityKey, nil, []byte("relay-receiver prekey session"))
	if _, err := io.ReadFull(h, key); err != nil {
		return nil, err
	}
	sealed, err := seal(key, plaintext)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, identityKeyLen+len(sealed))
	out = append(out, identityKey...)
	out = append(out, sealed...)
	return out, nil
}

func seal(key, plaintext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, chacha20poly1305.NonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	ciphertext := aead.Seal(nil, nonce, plaintext, nil)
	out := make([]byte, 0, len(nonce)+len(ciphertext))
	out = append(out, nonce...)
	out = append(out, ciphertext...)
	return out, nil
}

// MemoryStore is an in-memory, mutex-guarded Store implementation.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[Address]SessionCipher
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[Address]SessionCipher)}
}

// Get implements Store.
func (s *MemoryStore) Get(addr Address) (SessionCipher, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.sessions[addr]
	return c, ok
}

// GetAllDevices implements Store.
func (s *MemoryStore) GetAllDevices(number string) []uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var devices []uint32
	for addr := range s.sessions {
		if addr.Number == number {
			devices = append(devices, addr.DeviceID)
		}
	}
	return devices
}

// Put implements Store.
func (s *MemoryStore) Put(addr Address, cipher SessionCipher) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[addr] = cipher
}

// Delete implements Store.
func (s *MemoryStore) Delete(addr Address) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, addr)
}
