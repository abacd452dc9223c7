package client

import (
	"crypto/rsa"
	"encoding/json"
	"os"
	"sort"
	"sync"

	"github.com/olaf-mesh/neighbourhood/crypto/filestore"
	"github.com/olaf-mesh/neighbourhood/internal/errs"
	"github.com/olaf-mesh/neighbourhood/wire"
)

// Directory is the client's view of the mesh: which fingerprints are
// currently reachable and through which home server, plus the public keys
// needed to address them.
//
// client_list only ever carries fingerprints ("clients: [fp...]"),
// never PEM material, so reachability and key material come from two
// different places: reachability from the server's client_list replies,
// keys from a locally-provisioned key book (the same PublicKeyDir
// convention used for the neighbours and clients directories elsewhere in
// this system). A fingerprint can be reachable without a known key (freshly
// seen, never exchanged keys with) and a key can be known for someone
// currently unreachable (offline).
type Directory struct {
	cachePath string
	keyBook   *filestore.PublicKeyDir

	mu        sync.RWMutex
	reachable map[string]string // fingerprint -> home server address
	updated   chan struct{}
}

// cacheEntry is the persisted shape of one reachable fingerprint.
type cacheEntry struct {
	Fingerprint string `json:"fingerprint"`
	HomeServer  string `json:"home_server"`
}

// NewDirectory constructs a Directory backed by keyBook for key material.
// cachePath, if non-empty, is where the reachability cache is persisted
// between client_list_request refreshes.
func NewDirectory(keyBook *filestore.PublicKeyDir, cachePath string) *Directory {
	return &Directory{
		cachePath: cachePath,
		keyBook:   keyBook,
		reachable: make(map[string]string),
		updated:   make(chan struct{}),
	}
}

// LoadCache reads a previously persisted reachability snapshot, if any. A
// missing file is not an error: the directory just starts empty until the
// first client_list_request completes.
func (d *Directory) LoadCache() error {
	if d.cachePath == "" {
		return nil
	}
	data, err := os.ReadFile(d.cachePath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return errs.Storage("failed to read directory cache", err)
	}
	var entries []cacheEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return errs.Storage("failed to parse directory cache", err)
	}
	d.mu.Lock()
	for _, e := range entries {
		d.reachable[e.Fingerprint] = e.HomeServer
	}
	d.mu.Unlock()
	return nil
}

// Update replaces the reachability map from a client_list reply and
// persists the snapshot, then wakes anyone waiting in WaitForUpdate.
func (d *Directory) Update(servers []wire.ClientListEntry) {
	next := make(map[string]string)
	for _, s := range servers {
		for _, fp := range s.Clients {
			next[fp] = s.Address
		}
	}

	d.mu.Lock()
	d.reachable = next
	closed := d.updated
	d.updated = make(chan struct{})
	d.mu.Unlock()
	close(closed)

	d.persist(next)
}

func (d *Directory) persist(reachable map[string]string) {
	if d.cachePath == "" {
		return
	}
	entries := make([]cacheEntry, 0, len(reachable))
	for fp, addr := range reachable {
		entries = append(entries, cacheEntry{Fingerprint: fp, HomeServer: addr})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Fingerprint < entries[j].Fingerprint })
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return
	}
	_ = os.WriteFile(d.cachePath, data, 0o644)
}

// WaitForUpdate blocks until the next Update call or timeout elapses,
// returning whether an update was observed.
func (d *Directory) WaitForUpdate(timeout <-chan struct{}) bool {
	d.mu.RLock()
	ch := d.updated
	d.mu.RUnlock()
	select {
	case <-ch:
		return true
	case <-timeout:
		return false
	}
}

// Fingerprints returns every currently-reachable fingerprint, sorted.
func (d *Directory) Fingerprints() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]string, 0, len(d.reachable))
	for fp := range d.reachable {
		out = append(out, fp)
	}
	sort.Strings(out)
	return out
}

// HomeServer returns the home server address last gossipped for fp.
func (d *Directory) HomeServer(fp string) (string, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	addr, ok := d.reachable[fp]
	return addr, ok
}

// PublicKey resolves fp's key from the local key book, independent of
// reachability.
func (d *Directory) PublicKey(fp string) (*rsa.PublicKey, bool) {
	if d.keyBook == nil {
		return nil, false
	}
	kp, err := d.keyBook.LoadPublic(fp)
	if err != nil {
		return nil, false
	}
	return kp.Public, true
}

// Recipients resolves a set of recipient fingerprints into wire.Recipient
// values, failing if any fingerprint is unreachable or has no known key.
func (d *Directory) Recipients(fingerprints []string) ([]wire.Recipient, error) {
	out := make([]wire.Recipient, 0, len(fingerprints))
	for _, fp := range fingerprints {
		home, ok := d.HomeServer(fp)
		if !ok {
			return nil, errs.Route("recipient not reachable in current directory", nil).WithDetail("fingerprint", fp)
		}
		pub, ok := d.PublicKey(fp)
		if !ok {
			return nil, errs.Crypto("no public key provisioned for recipient", nil).WithDetail("fingerprint", fp)
		}
		out = append(out, wire.Recipient{Fingerprint: fp, HomeServer: home, PublicKey: pub})
	}
	return out, nil
}
