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
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
)

// Fingerprint returns base64(sha256(pemBytes)), the canonical identity of a
// public key's PEM (SubjectPublicKeyInfo) serialization.
func Fingerprint(pemBytes []byte) string {
	sum := sha256.Sum256(pemBytes)
	return base64.StdEncoding.EncodeToString(sum[:])
}

// FingerprintPublicKey is a convenience wrapper that PEM-encodes pub before
// fingerprinting it.
func FingerprintPublicKey(pub *rsa.PublicKey) (string, error) {
	pemBytes, err := EncodePublicKeyPEM(pub)
	if err != nil {
		return "", err
	}
	return Fingerprint(pemBytes), nil
}
