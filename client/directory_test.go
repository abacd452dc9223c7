package client

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	olafcrypto "github.com/olaf-mesh/neighbourhood/crypto"
	"github.com/olaf-mesh/neighbourhood/crypto/filestore"
	"github.com/olaf-mesh/neighbourhood/wire"
)

func newTestKeyBook(t *testing.T) *filestore.PublicKeyDir {
	t.Helper()
	dir, err := os.MkdirTemp("", "known-keys-")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })
	keyBook, err := filestore.NewPublicKeyDir(dir, ".pem")
	require.NoError(t, err)
	return keyBook
}

func TestDirectoryUpdateAndPersistRoundTrip(t *testing.T) {
	keyBook := newTestKeyBook(t)
	cacheDir, err := os.MkdirTemp("", "directory-cache-")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(cacheDir) })
	cachePath := filepath.Join(cacheDir, "directory.json")

	dir := NewDirectory(keyBook, cachePath)
	dir.Update([]wire.ClientListEntry{
		{Address: "relay-a:8001", Clients: []string{"fp-1", "fp-2"}},
		{Address: "relay-b:8001", Clients: []string{"fp-3"}},
	})

	require.Equal(t, []string{"fp-1", "fp-2", "fp-3"}, dir.Fingerprints())
	home, ok := dir.HomeServer("fp-2")
	require.True(t, ok)
	require.Equal(t, "relay-a:8001", home)

	reloaded := NewDirectory(keyBook, cachePath)
	require.NoError(t, reloaded.LoadCache())
	require.Equal(t, []string{"fp-1", "fp-2", "fp-3"}, reloaded.Fingerprints())
}

func TestDirectoryRecipientsRequiresHomeServerAndKey(t *testing.T) {
	keyBook := newTestKeyBook(t)
	dir := NewDirectory(keyBook, "")
	dir.Update([]wire.ClientListEntry{{Address: "relay-a:8001", Clients: []string{"fp-1"}}})

	_, err := dir.Recipients([]string{"fp-1"})
	require.Error(t, err) // reachable, but no key provisioned

	kp, err := olafcrypto.GenerateKeyPair()
	require.NoError(t, err)
	require.NoError(t, keyBook.StorePublic("fp-1", kp))

	recipients, err := dir.Recipients([]string{"fp-1"})
	require.NoError(t, err)
	require.Len(t, recipients, 1)
	require.Equal(t, "relay-a:8001", recipients[0].HomeServer)

	_, err = dir.Recipients([]string{"unknown-fp"})
	require.Error(t, err) // not reachable at all
}

func TestDirectoryWaitForUpdateWakesOnUpdate(t *testing.T) {
	dir := NewDirectory(newTestKeyBook(t), "")
	woke := make(chan bool, 1)
	go func() {
		timeout := make(chan struct{})
		go func() { time.Sleep(2 * time.Second); close(timeout) }()
		woke <- dir.WaitForUpdate(timeout)
	}()

	time.Sleep(50 * time.Millisecond)
	dir.Update(nil)

	select {
	case got := <-woke:
		require.True(t, got)
	case <-time.After(3 * time.Second):
		t.Fatal("WaitForUpdate did not observe the update")
	}
}
