package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFingerprintIdempotence(t *testing.T) {
	kp, err := GenerateKeyPair()
	require.NoError(t, err)

	pemBytes, err := EncodePublicKeyPEM(kp.Public)
	require.NoError(t, err)

	fp1 := Fingerprint(pemBytes)

	decoded, err := DecodePublicKeyPEM(pemBytes)
	require.NoError(t, err)
	reencoded, err := EncodePublicKeyPEM(decoded)
	require.NoError(t, err)

	fp2 := Fingerprint(reencoded)
	assert.Equal(t, fp1, fp2)
}

func TestFingerprintDiffersByKey(t *testing.T) {
	kp1, err := GenerateKeyPair()
	require.NoError(t, err)
	kp2, err := GenerateKeyPair()
	require.NoError(t, err)

	fp1, err := FingerprintPublicKey(kp1.Public)
	require.NoError(t, err)
	fp2, err := FingerprintPublicKey(kp2.Public)
	require.NoError(t, err)

	assert.NotEqual(t, fp1, fp2)
}

func TestPrivateKeyPEMRoundTrip(t *testing.T) {
	kp, err := GenerateKeyPair()
	require.NoError(t, err)

	privPEM, err := EncodePrivateKeyPEM(kp.Private)
	require.NoError(t, err)

	decoded, err := DecodePrivateKeyPEM(privPEM)
	require.NoError(t, err)

	assert.Equal(t, kp.Private.N, decoded.N)
}

func TestDecodePublicKeyPEMMalformed(t *testing.T) {
	_, err := DecodePublicKeyPEM([]byte("not pem data"))
	assert.Error(t, err)
}
