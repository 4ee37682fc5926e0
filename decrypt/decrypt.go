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

// Package decrypt turns a signaling-key-opened Envelope into plaintext
// Content, dispatching on envelope type through the ratchet session store
// and unwinding the ratchet's own padding scheme.
package decrypt

import (
	"fmt"

	"github.com/sagex/relay-receiver/internal/logger"
	"github.com/sagex/relay-receiver/internal/metrics"
	"github.com/sagex/relay-receiver/ratchet"
	"github.com/sagex/relay-receiver/wire"
)

// IncomingIdentityKeyError is raised when a PREKEY_BUNDLE envelope's
// embedded identity key does not match what the store has on file. It
// carries enough of the original envelope for the caller to retry the
// decrypt once the identity store has been reconciled, via TryAgain.
type IncomingIdentityKeyError struct {
	Address    ratchet.Address
	Ciphertext []byte
}

func (e *IncomingIdentityKeyError) Error() string {
	return fmt.Sprintf("decrypt: unknown identity key for %s.%d", e.Address.Number, e.Address.DeviceID)
}

// ErrUnknownMessageType is returned for any EnvelopeType this decryptor
// does not recognize.
type ErrUnknownMessageType struct {
	Type wire.EnvelopeType
}

func (e *ErrUnknownMessageType) Error() string {
	return fmt.Sprintf("decrypt: unknown envelope type %s", e.Type)
}

// ErrInvalidPadding is returned when a decrypted plaintext's padding (a
// 0x80 terminator followed only by zero bytes) cannot be located.
var ErrInvalidPadding = fmt.Errorf("decrypt: invalid message padding")

// Result is the outcome of successfully decrypting and deserializing an
// envelope that was not a bare RECEIPT.
type Result struct {
	Address ratchet.Address
	Content *wire.Content
}

// Decryptor dispatches envelopes to the ratchet session store by address
// and deserializes the resulting plaintext.
type Decryptor struct {
	store ratchet.Store
	log   logger.Logger
}

// New constructs a Decryptor backed by store.
func New(store ratchet.Store, log logger.Logger) *Decryptor {
	return &Decryptor{store: store, log: log}
}

// Decrypt dispatches on env.Type. For EnvelopeReceipt it returns (nil, nil)
// — callers emit a `receipt` event directly from the envelope, no crypto
// involved. For CIPHERTEXT/PREKEY_BUNDLE it decrypts, unpads, and parses
// the plaintext as Content (if env.Content is set) or a legacy DataMessage
// (if env.LegacyBody is set).
func (d *Decryptor) Decrypt(env *wire.Envelope) (*Result, error) {
	addr := ratchet.Address{Number: env.Source, DeviceID: uint32(env.SourceDevice)}

	switch env.Type {
	case wire.EnvelopeReceipt:
		return nil, nil

	case wire.EnvelopeCiphertext:
		cipher, ok := d.store.Get(addr)
		if !ok {
			metrics.RatchetDecryptErrors.WithLabelValues("no_session").Inc()
			return nil, fmt.Errorf("decrypt: no session for %s.%d", addr.Number, addr.DeviceID)
		}
		plaintext, err := d.decryptAndUnpad(cipher.DecryptWhisperMessage, env)
		if err != nil {
			return nil, err
		}
		return d.parsePlaintext(addr, env, plaintext)

	case wire.EnvelopePreKeyBundle:
		cipher, ok := d.store.Get(addr)
		if !ok {
			cipher = ratchet.NewPendingAEADSessionCipher(nil)
			d.store.Put(addr, cipher)
		}
		plaintext, err := d.decryptAndUnpad(cipher.DecryptPreKeyWhisperMessage, env)
		if err != nil {
			if err == ratchet.ErrUnknownIdentityKey {
				metrics.RatchetDecryptErrors.WithLabelValues("unknown_identity_key").Inc()
				return nil, &IncomingIdentityKeyError{
					Address:    addr,
					Ciphertext: ciphertextOf(env),
				}
			}
			return nil, err
		}
		return d.parsePlaintext(addr, env, plaintext)

	default:
		metrics.RatchetDecryptErrors.WithLabelValues("unknown_message_type").Inc()
		return nil, &ErrUnknownMessageType{Type: env.Type}
	}
}

// TryAgain retries a PREKEY_BUNDLE decrypt after the caller has reconciled
// the identity store. It uses the session already stored for addr and
// returns an error if there is none.
func (d *Decryptor) TryAgain(addr ratchet.Address, ciphertext []byte) (*Result, error) {
	cipher, ok := d.store.Get(addr)
	if !ok {
		return nil, fmt.Errorf("decrypt: retry with no session for %s.%d", addr.Number, addr.DeviceID)
	}
	plaintext, err := cipher.DecryptPreKeyWhisperMessage(ciphertext)
	if err != nil {
		return nil, fmt.Errorf("decrypt: session cipher retry: %w", err)
	}
	unpadded, err := Unpad(plaintext)
	if err != nil {
		metrics.RatchetDecryptErrors.WithLabelValues("invalid_padding").Inc()
		return nil, err
	}
	d.log.Debug("unpadded plaintext (retry)",
		logger.Int("padded_len", len(plaintext)), logger.Int("unpadded_len", len(unpadded)))
	content, err := wire.DecodeContent(unpadded)
	if err != nil {
		return nil, fmt.Errorf("decrypt: parse content: %w", err)
	}
	return &Result{Address: addr, Content: content}, nil
}

func (d *Decryptor) decryptAndUnpad(decryptFn func([]byte) ([]byte, error), env *wire.Envelope) ([]byte, error) {
	plaintext, err := decryptFn(ciphertextOf(env))
	if err != nil {
		if err == ratchet.ErrUnknownIdentityKey {
			return nil, err
		}
		metrics.RatchetDecryptErrors.WithLabelValues("other").Inc()
		return nil, fmt.Errorf("decrypt: session cipher: %w", err)
	}
	unpadded, err := Unpad(plaintext)
	if err != nil {
		metrics.RatchetDecryptErrors.WithLabelValues("invalid_padding").Inc()
		return nil, err
	}
	d.log.Debug("unpadded plaintext",
		logger.Int("padded_len", len(plaintext)), logger.Int("unpadded_len", len(unpadded)))
	return unpadded, nil
}

func (d *Decryptor) parsePlaintext(addr ratchet.Address, env *wire.Envelope, plaintext []byte) (*Result, error) {
	if env.Content != nil {
		content, err := wire.DecodeContent(plaintext)
		if err != nil {
			return nil, fmt.Errorf("decrypt: parse content: %w", err)
		}
		return &Result{Address: addr, Content: content}, nil
	}
	dm, err := wire.DecodeDataMessage(plaintext)
	if err != nil {
		return nil, fmt.Errorf("decrypt: parse legacy data message: %w", err)
	}
	return &Result{Address: addr, Content: &wire.Content{DataMessage: dm}}, nil
}

func ciphertextOf(env *wire.Envelope) []byte {
	if env.Content != nil {
		return env.Content
	}
	return env.LegacyBody
}

// Unpad removes the ratchet scheme's padding: scan back from the end past
// any 0x00 bytes to a single 0x80 terminator byte. A message with no 0x80
// sentinel (only zeroes, or a non-0x80/non-0x00 tail byte) fails as
// ErrInvalidPadding.
func Unpad(data []byte) ([]byte, error) {
	for i := len(data) - 1; i >= 0; i-- {
		switch data[i] {
		case 0x00:
			continue
		case 0x80:
			return data[:i], nil
		default:
			return nil, ErrInvalidPadding
		}
	}
	return nil, ErrInvalidPadding
}
