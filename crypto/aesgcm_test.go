package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSealOpenGCMRoundTrip(t *testing.T) {
	key, err := GenerateAESKey()
	require.NoError(t, err)
	nonce, err := GenerateNonce()
	require.NoError(t, err)

	plaintext := []byte(`{"participants":["fp-a","fp-b"],"message":"hi"}`)

	ciphertext, err := SealGCM(key, nonce, plaintext)
	require.NoError(t, err)
	assert.NotEqual(t, plaintext, ciphertext)

	decrypted, err := OpenGCM(key, nonce, ciphertext)
	require.NoError(t, err)
	assert.Equal(t, plaintext, decrypted)
}

func TestOpenGCMTamperedCiphertextFails(t *testing.T) {
	key, err := GenerateAESKey()
	require.NoError(t, err)
	nonce, err := GenerateNonce()
	require.NoError(t, err)

	ciphertext, err := SealGCM(key, nonce, []byte("payload"))
	require.NoError(t, err)

	tampered := make([]byte, len(ciphertext))
	copy(tampered, ciphertext)
	tampered[0] ^= 0xFF

	_, err = OpenGCM(key, nonce, tampered)
	assert.Error(t, err)
}

func TestOpenGCMWrongKeyFails(t *testing.T) {
	key, err := GenerateAESKey()
	require.NoError(t, err)
	otherKey, err := GenerateAESKey()
	require.NoError(t, err)
	nonce, err := GenerateNonce()
	require.NoError(t, err)

	ciphertext, err := SealGCM(key, nonce, []byte("payload"))
	require.NoError(t, err)

	_, err = OpenGCM(otherKey, nonce, ciphertext)
	assert.Error(t, err)
}

func TestGenerateNonceSize(t *testing.T) {
	nonce, err := GenerateNonce()
	require.NoError(t, err)
	assert.Len(t, nonce, GCMNonceSize)
}

func TestGenerateAESKeySize(t *testing.T) {
	key, err := GenerateAESKey()
	require.NoError(t, err)
	assert.Len(t, key, AESKeySize)
}
