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

// Package filestore persists RSA key pairs and bare public keys as PEM
// files on disk: <dir>/<id>_private_key.pem and <dir>/<id>_public_key.pem
// for full key pairs, <neighbours>/<host>_<port>_public_key.pem, and
// <clients>/<fingerprint>.pem. olaf-server and olaf-client keep their key
// pairs in <config>/keys under the ids "server" and "client", not directly
// in <config>.
package filestore

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	olafcrypto "github.com/olaf-mesh/neighbourhood/crypto"
	"github.com/olaf-mesh/neighbourhood/internal/errs"
)

// DiskKeyStorage persists full key pairs (private + public PEM) one
// directory entry per id: "<dir>/<id>_private_key.pem" and
// "<dir>/<id>_public_key.pem".
type DiskKeyStorage struct {
	dir string
}

// NewDiskKeyStorage returns a DiskKeyStorage rooted at dir, creating dir if
// it does not exist.
func NewDiskKeyStorage(dir string) (*DiskKeyStorage, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, errs.Storage("failed to create key directory", err)
	}
	return &DiskKeyStorage{dir: dir}, nil
}

func (s *DiskKeyStorage) privatePath(id string) string {
	return filepath.Join(s.dir, id+"_private_key.pem")
}

func (s *DiskKeyStorage) publicPath(id string) string {
	return filepath.Join(s.dir, id+"_public_key.pem")
}

// Store writes kp's private and public PEM files, overwriting any existing
// entry for id.
func (s *DiskKeyStorage) Store(id string, kp *olafcrypto.KeyPair) error {
	privPEM, pubPEM, err := olafcrypto.EncodeKeyPairPEM(kp)
	if err != nil {
		return err
	}
	if err := os.WriteFile(s.privatePath(id), privPEM, 0o600); err != nil {
		return errs.Storage("failed to write private key", err)
	}
	if err := os.WriteFile(s.publicPath(id), pubPEM, 0o644); err != nil {
		return errs.Storage("failed to write public key", err)
	}
	return nil
}

// Load reads and decodes the key pair for id.
func (s *DiskKeyStorage) Load(id string) (*olafcrypto.KeyPair, error) {
	privPEM, err := os.ReadFile(s.privatePath(id))
	if err != nil {
		return nil, errs.Storage("failed to read private key", err)
	}
	priv, err := olafcrypto.DecodePrivateKeyPEM(privPEM)
	if err != nil {
		return nil, err
	}
	return &olafcrypto.KeyPair{Private: priv, Public: &priv.PublicKey}, nil
}

// Delete removes both PEM files for id.
func (s *DiskKeyStorage) Delete(id string) error {
	if err := os.Remove(s.privatePath(id)); err != nil && !os.IsNotExist(err) {
		return errs.Storage("failed to remove private key", err)
	}
	if err := os.Remove(s.publicPath(id)); err != nil && !os.IsNotExist(err) {
		return errs.Storage("failed to remove public key", err)
	}
	return nil
}

// List returns every id with a stored private key, sorted.
func (s *DiskKeyStorage) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, errs.Storage("failed to read key directory", err)
	}
	var ids []string
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), "_private_key.pem") {
			ids = append(ids, strings.TrimSuffix(e.Name(), "_private_key.pem"))
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// Exists reports whether a private key PEM exists for id.
func (s *DiskKeyStorage) Exists(id string) bool {
	_, err := os.Stat(s.privatePath(id))
	return err == nil
}

// LoadOrGenerate loads the key pair stored under id, generating and
// persisting a fresh one on first run.
func (s *DiskKeyStorage) LoadOrGenerate(id string) (*olafcrypto.KeyPair, error) {
	if s.Exists(id) {
		return s.Load(id)
	}
	kp, err := olafcrypto.GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	if err := s.Store(id, kp); err != nil {
		return nil, err
	}
	return kp, nil
}

// PublicKeyDir persists bare public keys named "<id><suffix>" — used for
// the neighbours directory (`<host>_<port>_public_key.pem`) and the known
// clients directory (`<fingerprint>.pem`).
type PublicKeyDir struct {
	dir    string
	suffix string
}

// NewPublicKeyDir returns a PublicKeyDir rooted at dir. Files are named
// "<id><suffix>", e.g. suffix "_public_key.pem" for neighbours or ".pem"
// for known clients.
func NewPublicKeyDir(dir, suffix string) (*PublicKeyDir, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, errs.Storage("failed to create public key directory", err)
	}
	return &PublicKeyDir{dir: dir, suffix: suffix}, nil
}

func (d *PublicKeyDir) path(id string) string {
	return filepath.Join(d.dir, id+d.suffix)
}

// StorePublic writes pub's PEM encoding under id, replacing any existing file.
func (d *PublicKeyDir) StorePublic(id string, pub *olafcrypto.KeyPair) error {
	pemBytes, err := olafcrypto.EncodePublicKeyPEM(pub.Public)
	if err != nil {
		return err
	}
	return d.writePEM(id, pemBytes)
}

// StorePublicPEM writes a raw PEM blob under id, used when accepting an
// uploaded neighbour key verbatim (POST /upload_key).
func (d *PublicKeyDir) StorePublicPEM(id string, pemBytes []byte) error {
	if _, err := olafcrypto.DecodePublicKeyPEM(pemBytes); err != nil {
		return err
	}
	return d.writePEM(id, pemBytes)
}

func (d *PublicKeyDir) writePEM(id string, pemBytes []byte) error {
	tmp := d.path(id) + ".tmp"
	if err := os.WriteFile(tmp, pemBytes, 0o644); err != nil {
		return errs.Storage("failed to write public key", err)
	}
	if err := os.Rename(tmp, d.path(id)); err != nil {
		return errs.Storage("failed to finalize public key write", err)
	}
	return nil
}

// LoadPublic reads and decodes the public key stored under id.
func (d *PublicKeyDir) LoadPublic(id string) (*olafcrypto.KeyPair, error) {
	pemBytes, err := os.ReadFile(d.path(id))
	if err != nil {
		return nil, errs.Storage("failed to read public key", err)
	}
	pub, err := olafcrypto.DecodePublicKeyPEM(pemBytes)
	if err != nil {
		return nil, err
	}
	return &olafcrypto.KeyPair{Public: pub}, nil
}

// ListPublic returns every id with a stored public key, sorted.
func (d *PublicKeyDir) ListPublic() ([]string, error) {
	entries, err := os.ReadDir(d.dir)
	if err != nil {
		return nil, errs.Storage("failed to read public key directory", err)
	}
	var ids []string
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), d.suffix) {
			ids = append(ids, strings.TrimSuffix(e.Name(), d.suffix))
		}
	}
	sort.Strings(ids)
	return ids, nil
}
