package filestore

import (
	"path/filepath"
	"testing"

	olafcrypto "github.com/olaf-mesh/neighbourhood/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiskKeyStorageRoundTrip(t *testing.T) {
	dir := t.TempDir()
	store, err := NewDiskKeyStorage(dir)
	require.NoError(t, err)

	assert.False(t, store.Exists("server"))

	kp, err := store.LoadOrGenerate("server")
	require.NoError(t, err)
	assert.True(t, store.Exists("server"))

	reloaded, err := store.Load("server")
	require.NoError(t, err)
	assert.Equal(t, kp.Private.N, reloaded.Private.N)

	again, err := store.LoadOrGenerate("server")
	require.NoError(t, err)
	assert.Equal(t, kp.Private.N, again.Private.N)

	ids, err := store.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"server"}, ids)
}

func TestPublicKeyDirAtomicWrite(t *testing.T) {
	dir := t.TempDir()
	pkd, err := NewPublicKeyDir(dir, "_public_key.pem")
	require.NoError(t, err)

	kp, err := olafcrypto.GenerateKeyPair()
	require.NoError(t, err)
	pubPEM, err := olafcrypto.EncodePublicKeyPEM(kp.Public)
	require.NoError(t, err)

	require.NoError(t, pkd.StorePublicPEM("relay.example.com_9001", pubPEM))

	loaded, err := pkd.LoadPublic("relay.example.com_9001")
	require.NoError(t, err)
	assert.Equal(t, kp.Public.N, loaded.Public.N)

	ids, err := pkd.ListPublic()
	require.NoError(t, err)
	assert.Equal(t, []string{"relay.example.com_9001"}, ids)

	// no stray .tmp file survives
	stray, err := filepath.Glob(filepath.Join(dir, "*.tmp"))
	require.NoError(t, err)
	assert.Empty(t, stray)
}

func TestPublicKeyDirRejectsMalformedPEM(t *testing.T) {
	dir := t.TempDir()
	pkd, err := NewPublicKeyDir(dir, "_public_key.pem")
	require.NoError(t, err)

	err = pkd.StorePublicPEM("bad", []byte("not a key"))
	assert.Error(t, err)
}
