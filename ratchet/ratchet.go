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

// Package ratchet defines the session-cipher boundary the decryptor calls
// through: a double-ratchet-shaped interface (decrypt a whisper message,
// decrypt a prekey-bundle message, close the session) plus the per-address
// store that owns instances of it. The actual ratchet algorithm is an
// external collaborator; this package only fixes its contract and ships an
// AEAD-backed implementation exercising that contract for tests and for a
// standalone demo.
package ratchet

import "errors"

// ErrUnknownIdentityKey is raised by a SessionCipher's prekey decrypt when
// the bundle's identity key doesn't match what the store has on file for
// the address. The decryptor re-raises this as an IncomingIdentityKeyError
// carrying enough context to retry once the identity store is updated.
var ErrUnknownIdentityKey = errors.New("unknown identity key")

// SessionCipher is the ratcheting end-to-end primitive keyed by a single
// (number, deviceId) address. Decrypt methods are called at most once per
// inbound envelope; Close tears the session down and must be idempotent.
type SessionCipher interface {
	// DecryptWhisperMessage decrypts a CIPHERTEXT envelope's ciphertext
	// using the already-established session state.
	DecryptWhisperMessage(ciphertext []byte) ([]byte, error)
	// DecryptPreKeyWhisperMessage decrypts a PREKEY_BUNDLE envelope's
	// ciphertext, establishing session state on success. Returns
	// ErrUnknownIdentityKey if the embedded identity key does not match
	// the one on file.
	DecryptPreKeyWhisperMessage(ciphertext []byte) ([]byte, error)
	// Close tears down the session. Idempotent.
	Close() error
}

// Address is the session key: an account number plus a device id.
type Address struct {
	Number   string
	DeviceID uint32
}

// Store owns SessionCipher instances keyed by Address. The receive
// pipeline assumes the store serializes reads and writes per address; it
// never performs its own locking.
type Store interface {
	// Get returns the cipher for addr, or ok=false if none exists.
	Get(addr Address) (SessionCipher, bool)
	// GetAllDevices returns every device id with a stored session for
	// number, used by end-session to enumerate what to tear down.
	GetAllDevices(number string) []uint32
	// Put installs or replaces the cipher for addr.
	Put(addr Address, cipher SessionCipher)
	// Delete removes any cipher stored for addr. Idempotent.
	Delete(addr Address)
}
