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
	"crypto/x509"
	"encoding/pem"

	"github.com/olaf-mesh/neighbourhood/internal/errs"
)

// EncodePublicKeyPEM serializes pub as a SubjectPublicKeyInfo PEM block.
func EncodePublicKeyPEM(pub *rsa.PublicKey) ([]byte, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return nil, errs.Crypto("failed to marshal public key", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}), nil
}

// DecodePublicKeyPEM parses a SubjectPublicKeyInfo PEM block into an RSA
// public key.
func DecodePublicKeyPEM(data []byte) (*rsa.PublicKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, errs.Crypto("malformed PEM: no block found", nil)
	}
	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, errs.Crypto("failed to parse public key", err)
	}
	rsaPub, ok := pub.(*rsa.PublicKey)
	if !ok {
		return nil, errs.Crypto("public key is not RSA", nil)
	}
	return rsaPub, nil
}

// EncodePrivateKeyPEM serializes priv as a PKCS#8 PEM block.
func EncodePrivateKeyPEM(priv *rsa.PrivateKey) ([]byte, error) {
	der, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return nil, errs.Crypto("failed to marshal private key", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}), nil
}

// DecodePrivateKeyPEM parses a PKCS#8 PEM block into an RSA private key.
func DecodePrivateKeyPEM(data []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, errs.Crypto("malformed PEM: no block found", nil)
	}
	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, errs.Crypto("failed to parse private key", err)
	}
	rsaPriv, ok := key.(*rsa.PrivateKey)
	if !ok {
		return nil, errs.Crypto("private key is not RSA", nil)
	}
	return rsaPriv, nil
}

// EncodeKeyPairPEM returns the (private, public) PEM encodings of kp.
func EncodeKeyPairPEM(kp *KeyPair) (privatePEM, publicPEM []byte, err error) {
	privatePEM, err = EncodePrivateKeyPEM(kp.Private)
	if err != nil {
		return nil, nil, err
	}
	publicPEM, err = EncodePublicKeyPEM(kp.Public)
	if err != nil {
		return nil, nil, err
	}
	return privatePEM, publicPEM, nil
}
