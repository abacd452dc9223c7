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

package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"io"
	"time"

	"github.com/olaf-mesh/neighbourhood/internal/errs"
	"github.com/olaf-mesh/neighbourhood/internal/metrics"
)

const (
	// AESKeySize is the AES-256 key length in bytes.
	AESKeySize = 32
	// GCMNonceSize is the fixed nonce length used on the wire; the tag is
	// appended to the ciphertext rather than carried separately.
	GCMNonceSize = 16
)

// GenerateAESKey returns a fresh random AES-256 key.
func GenerateAESKey() ([]byte, error) {
	key := make([]byte, AESKeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, errs.Crypto("failed to generate AES key", err)
	}
	return key, nil
}

// GenerateNonce returns a fresh random 16-byte GCM nonce.
func GenerateNonce() ([]byte, error) {
	nonce := make([]byte, GCMNonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, errs.Crypto("failed to generate nonce", err)
	}
	return nonce, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, errs.Crypto("invalid AES key", err)
	}
	return cipher.NewGCMWithNonceSize(block, GCMNonceSize)
}

// SealGCM encrypts plaintext with AES-256-GCM under key and nonce, returning
// ciphertext with the authentication tag appended.
func SealGCM(key, nonce, plaintext []byte) ([]byte, error) {
	start := time.Now()
	aead, err := newGCM(key)
	if err != nil {
		metrics.CryptoErrors.WithLabelValues("seal").Inc()
		return nil, errs.Crypto("failed to initialize GCM", err)
	}
	out := aead.Seal(nil, nonce, plaintext, nil)
	metrics.CryptoOperationDuration.WithLabelValues("seal", "gcm").Observe(time.Since(start).Seconds())
	metrics.CryptoOperations.WithLabelValues("seal", "gcm").Inc()
	return out, nil
}

// OpenGCM decrypts and authenticates data produced by SealGCM.
func OpenGCM(key, nonce, data []byte) ([]byte, error) {
	start := time.Now()
	aead, err := newGCM(key)
	if err != nil {
		metrics.CryptoErrors.WithLabelValues("open").Inc()
		return nil, errs.Crypto("failed to initialize GCM", err)
	}
	plaintext, err := aead.Open(nil, nonce, data, nil)
	metrics.CryptoOperationDuration.WithLabelValues("open", "gcm").Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.CryptoErrors.WithLabelValues("open").Inc()
		return nil, errs.Crypto("GCM authentication failed", err)
	}
	metrics.CryptoOperations.WithLabelValues("open", "gcm").Inc()
	return plaintext, nil
}
