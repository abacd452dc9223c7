package wire

import (
	"testing"

	olafcrypto "github.com/olaf-mesh/neighbourhood/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildOpenChatSingleServer(t *testing.T) {
	senderFP := "sender-fp"
	kpB, err := olafcrypto.GenerateKeyPair()
	require.NoError(t, err)

	recipients := []Recipient{
		{Fingerprint: "fp-b", HomeServer: "s2.example.com:8443", PublicKey: kpB.Public},
	}

	payload, err := BuildChat(senderFP, recipients, "hello there")
	require.NoError(t, err)
	assert.Equal(t, []string{"s2.example.com:8443"}, payload.DestinationServers)
	assert.Len(t, payload.SymmKeys, 1)

	inner, err := OpenChat(payload, kpB.Private, "fp-b")
	require.NoError(t, err)
	assert.Equal(t, "hello there", inner.Message)
	assert.Contains(t, inner.Participants, senderFP)
	assert.Contains(t, inner.Participants, "fp-b")
}

func TestBuildChatGroupsByHomeServerSortedUnique(t *testing.T) {
	kpA, err := olafcrypto.GenerateKeyPair()
	require.NoError(t, err)
	kpB, err := olafcrypto.GenerateKeyPair()
	require.NoError(t, err)

	recipients := []Recipient{
		{Fingerprint: "fp-b", HomeServer: "z.example.com:8443", PublicKey: kpB.Public},
		{Fingerprint: "fp-a", HomeServer: "a.example.com:8443", PublicKey: kpA.Public},
	}

	payload, err := BuildChat("sender", recipients, "hi")
	require.NoError(t, err)
	assert.Equal(t, []string{"a.example.com:8443", "z.example.com:8443"}, payload.DestinationServers)
	assert.Len(t, payload.SymmKeys, 2)
}

func TestOpenChatWrongRecipientFindsNoSlot(t *testing.T) {
	kpB, err := olafcrypto.GenerateKeyPair()
	require.NoError(t, err)
	kpC, err := olafcrypto.GenerateKeyPair()
	require.NoError(t, err)

	recipients := []Recipient{
		{Fingerprint: "fp-b", HomeServer: "s.example.com:8443", PublicKey: kpB.Public},
	}
	payload, err := BuildChat("sender", recipients, "hi")
	require.NoError(t, err)

	_, err = OpenChat(payload, kpC.Private, "fp-c")
	assert.Error(t, err)
}

func TestOpenChatTamperedCiphertextFails(t *testing.T) {
	kpB, err := olafcrypto.GenerateKeyPair()
	require.NoError(t, err)

	recipients := []Recipient{
		{Fingerprint: "fp-b", HomeServer: "s.example.com:8443", PublicKey: kpB.Public},
	}
	payload, err := BuildChat("sender", recipients, "hi")
	require.NoError(t, err)

	payload.Chat = payload.Chat[:len(payload.Chat)-4] + "AAAA"

	_, err = OpenChat(payload, kpB.Private, "fp-b")
	assert.Error(t, err)
}
