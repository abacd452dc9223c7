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

// Package crypto implements the fixed RSA-2048 / AES-256-GCM primitive set:
// key generation, PEM encode/decode, OAEP wrap/unwrap, PSS sign/verify, GCM
// seal/open, and SHA-256 fingerprinting. There is no algorithm negotiation —
// every identity in the mesh uses the same parameter set.
package crypto

import "crypto/rsa"

// KeyPair is an RSA-2048 key pair identified by the fingerprint of its
// public key.
type KeyPair struct {
	Private *rsa.PrivateKey
	Public  *rsa.PublicKey
}

// Fingerprint returns the canonical identity of this key pair.
func (kp *KeyPair) Fingerprint() (string, error) {
	pemBytes, err := EncodePublicKeyPEM(kp.Public)
	if err != nil {
		return "", err
	}
	return Fingerprint(pemBytes), nil
}

// KeyStorage persists RSA key pairs under an identifier (typically a
// fingerprint or a role name like "server" or "self").
type KeyStorage interface {
	Store(id string, kp *KeyPair) error
	Load(id string) (*KeyPair, error)
	Delete(id string) error
	List() ([]string, error)
	Exists(id string) bool
}

// PublicKeyStorage persists bare public keys. filestore.PublicKeyDir, which
// backs the client and neighbour directories, takes and returns *KeyPair
// instead and so does not satisfy this interface.
type PublicKeyStorage interface {
	StorePublic(id string, pub *rsa.PublicKey) error
	LoadPublic(id string) (*rsa.PublicKey, error)
	ListPublic() ([]string, error)
}
