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

// Package attachment fetches and decrypts attachment pointers: the bytes
// come back from the relay's HTTP side channel already AES-CBC
// encrypted and HMAC-authenticated under the pointer's own 64-byte key
// (32 bytes AES || 32 bytes HMAC), independent of both the signaling key
// and the ratchet session.
package attachment

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"fmt"
	"io"

	"github.com/sagex/relay-receiver/wire"
)

const (
	aesKeyLen = 32
	macKeyLen = 32
	keyLen    = aesKeyLen + macKeyLen
	macLen    = 32
	ivLen     = 16
)

// Fetcher retrieves the raw ciphertext bytes for an attachment id; it is
// satisfied by *httpapi.Client.
type Fetcher interface {
	FetchAttachment(ctx context.Context, id uint64) ([]byte, error)
}

// FetchAndDecrypt fetches ptr's ciphertext via fetcher and decrypts it in
// place into ptr.Data, using ptr.Key as the 64-byte AES+HMAC key pair.
// Wire format: iv(16) || aes-cbc-ciphertext || hmac-sha256(32), where the
// mac covers iv||ciphertext.
func FetchAndDecrypt(ctx context.Context, fetcher Fetcher, ptr *wire.AttachmentPointer) error {
	if len(ptr.Key) != keyLen {
		return fmt.Errorf("attachment key must be %d bytes, got %d", keyLen, len(ptr.Key))
	}

	ciphertext, err := fetcher.FetchAttachment(ctx, ptr.ID)
	if err != nil {
		return fmt.Errorf("fetch attachment %d: %w", ptr.ID, err)
	}

	plaintext, err := decrypt(ptr.Key, ciphertext)
	if err != nil {
		return fmt.Errorf("decrypt attachment %d: %w", ptr.ID, err)
	}

	ptr.Data = plaintext
	return nil
}

func decrypt(key, data []byte) ([]byte, error) {
	aesKey, macKey := key[:aesKeyLen], key[aesKeyLen:]

	if len(data) < ivLen+macLen {
		return nil, fmt.Errorf("ciphertext too short")
	}

	macStart := len(data) - macLen
	body, mac := data[:macStart], data[macStart:]

	h := hmac.New(sha256.New, macKey)
	h.Write(body)
	expected := h.Sum(nil)
	if subtle.ConstantTimeCompare(expected, mac) != 1 {
		return nil, fmt.Errorf("mac verification failed")
	}

	iv := body[:ivLen]
	ciphertext := body[ivLen:]
	if len(ciphertext)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("ciphertext is not a multiple of the block size")
	}

	block, err := aes.NewCipher(aesKey)
	if err != nil {
		return nil, fmt.Errorf("build aes cipher: %w", err)
	}

	plaintext := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plaintext, ciphertext)

	return unpad(plaintext)
}

// Encrypt produces ciphertext bytes FetchAndDecrypt's decrypt step can
// open, given the same 64-byte key. Used by tests and the demo command
// to construct attachments a receiver can fetch and decrypt.
func Encrypt(key, plaintext []byte) ([]byte, error) {
	if len(key) != keyLen {
		return nil, fmt.Errorf("attachment key must be %d bytes, got %d", keyLen, len(key))
	}
	aesKey, macKey := key[:aesKeyLen], key[aesKeyLen:]

	block, err := aes.NewCipher(aesKey)
	if err != nil {
		return nil, fmt.Errorf("build aes cipher: %w", err)
	}

	iv := make([]byte, ivLen)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return nil, fmt.Errorf("generate iv: %w", err)
	}

	padded := pad(plaintext, aes.BlockSize)
	ciphertext := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ciphertext, padded)

	body := make([]byte, 0, ivLen+len(ciphertext))
	body = append(body, iv...)
	body = append(body, ciphertext...)

	h := hmac.New(sha256.New, macKey)
	h.Write(body)
	mac := h.Sum(nil)

	out := make([]byte, 0, len(body)+len(mac))
	out = append(out, body...)
	out = append(out, mac...)
	return out, nil
}

func pad(data []byte, blockSize int) []byte {
	padLen := blockSize - (len(data) % blockSize)
	padded := make([]byte, len(data)+padLen)
	copy(padded, data)
	for i := len(data); i < len(padded); i++ {
		padded[i] = byte(padLen)
	}
	return padded
}

func unpad(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty plaintext")
	}
	padLen := int(data[len(data)-1])
	if padLen == 0 || padLen > len(data) || padLen > aes.BlockSize {
		return nil, fmt.Errorf("invalid pkcs7 padding")
	}
	for _, b := range data[len(data)-padLen:] {
		if int(b) != padLen {
			return nil, fmt.Errorf("invalid pkcs7 padding")
		}
	}
	return data[:len(data)-padLen], nil
}
