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
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"time"

	"github.com/olaf-mesh/neighbourhood/internal/errs"
	"github.com/olaf-mesh/neighbourhood/internal/metrics"
)

const rsaKeyBits = 2048

// pssOptions is the fixed PSS parameter set: SHA-256, salt length 32.
var pssOptions = &rsa.PSSOptions{
	SaltLength: 32,
	Hash:       crypto.SHA256,
}

// GenerateKeyPair creates a new RSA-2048 key pair with public exponent 65537.
func GenerateKeyPair() (*KeyPair, error) {
	start := time.Now()
	priv, err := rsa.GenerateKey(rand.Reader, rsaKeyBits)
	metrics.CryptoOperationDuration.WithLabelValues("generate", "rsa2048").Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.CryptoErrors.WithLabelValues("generate").Inc()
		return nil, errs.Crypto("failed to generate RSA key pair", err)
	}
	metrics.CryptoOperations.WithLabelValues("generate", "rsa2048").Inc()
	return &KeyPair{Private: priv, Public: &priv.PublicKey}, nil
}

// Sign produces an RSA-PSS (SHA-256, salt=32) signature over message.
func Sign(priv *rsa.PrivateKey, message []byte) ([]byte, error) {
	start := time.Now()
	hash := sha256.Sum256(message)
	sig, err := rsa.SignPSS(rand.Reader, priv, crypto.SHA256, hash[:], pssOptions)
	metrics.CryptoOperationDuration.WithLabelValues("sign", "pss").Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.CryptoErrors.WithLabelValues("sign").Inc()
		return nil, errs.Crypto("PSS signing failed", err)
	}
	metrics.CryptoOperations.WithLabelValues("sign", "pss").Inc()
	return sig, nil
}

// Verify checks an RSA-PSS (SHA-256, salt=32) signature over message.
func Verify(pub *rsa.PublicKey, message, signature []byte) error {
	start := time.Now()
	hash := sha256.Sum256(message)
	err := rsa.VerifyPSS(pub, crypto.SHA256, hash[:], signature, pssOptions)
	metrics.CryptoOperationDuration.WithLabelValues("verify", "pss").Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.CryptoErrors.WithLabelValues("verify").Inc()
		return errs.Crypto("PSS signature verification failed", err)
	}
	metrics.CryptoOperations.WithLabelValues("verify", "pss").Inc()
	return nil
}

// WrapKey RSA-OAEP-encrypts (SHA-256/MGF1-SHA-256, empty label) a symmetric
// key under the recipient's public key.
func WrapKey(pub *rsa.PublicKey, key []byte) ([]byte, error) {
	start := time.Now()
	out, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, pub, key, nil)
	metrics.CryptoOperationDuration.WithLabelValues("wrap", "oaep").Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.CryptoErrors.WithLabelValues("wrap").Inc()
		return nil, errs.Crypto("OAEP encryption failed", err)
	}
	metrics.CryptoOperations.WithLabelValues("wrap", "oaep").Inc()
	return out, nil
}

// UnwrapKey RSA-OAEP-decrypts a symmetric key previously produced by WrapKey.
func UnwrapKey(priv *rsa.PrivateKey, wrapped []byte) ([]byte, error) {
	start := time.Now()
	out, err := rsa.DecryptOAEP(sha256.New(), rand.Reader, priv, wrapped, nil)
	metrics.CryptoOperationDuration.WithLabelValues("unwrap", "oaep").Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.CryptoErrors.WithLabelValues("unwrap").Inc()
		return nil, errs.Crypto("OAEP decryption failed", err)
	}
	metrics.CryptoOperations.WithLabelValues("unwrap", "oaep").Inc()
	return out, nil
}
