package relay

import (
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	olafcrypto "github.com/olaf-mesh/neighbourhood/crypto"
	"github.com/olaf-mesh/neighbourhood/crypto/filestore"
	"github.com/olaf-mesh/neighbourhood/neighbourhood"
	"github.com/olaf-mesh/neighbourhood/wire"
)

func dialPeerConn(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(url, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	return conn
}

func TestPeerHandlerRejectsUnregisteredNeighbour(t *testing.T) {
	s, _ := newTestServer(t, nil)
	srv := httptest.NewServer(s.PeerHandler())
	t.Cleanup(srv.Close)

	unregistered, err := olafcrypto.GenerateKeyPair()
	require.NoError(t, err)

	conn := dialPeerConn(t, srv.URL)
	t.Cleanup(func() { conn.Close() })

	pub, err := olafcrypto.EncodePublicKeyPEM(unregistered.Public)
	require.NoError(t, err)
	env, err := wire.Build(wire.ServerHelloPayload{Type: wire.TypeServerHello, PublicKey: string(pub), Address: "stranger:9000"}, 1, unregistered.Private)
	require.NoError(t, err)
	frame, err := env.Marshal()
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, frame))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = conn.ReadMessage()
	require.Error(t, err)
}

func TestPeerHandlerAcceptsRegisteredNeighbourAndForwardsChat(t *testing.T) {
	dir, err := os.MkdirTemp("", "relay-peer-keys-")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })
	peerKeys, err := filestore.NewPublicKeyDir(dir, "_public_key.pem")
	require.NoError(t, err)

	local, err := olafcrypto.GenerateKeyPair()
	require.NoError(t, err)

	clientDir, err := os.MkdirTemp("", "relay-client-keys-")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(clientDir) })
	clientKeys, err := filestore.NewPublicKeyDir(clientDir, ".pem")
	require.NoError(t, err)

	neighbours := neighbourhood.New(nil, peerKeys, "self:9000", local, nil, nil, nil)
	s, err := NewServer("self:9000", local, neighbours, peerKeys, clientKeys, nil)
	require.NoError(t, err)

	neighbourKP, err := olafcrypto.GenerateKeyPair()
	require.NoError(t, err)
	require.NoError(t, peerKeys.StorePublic("remote_8443", neighbourKP))

	srv := httptest.NewServer(s.PeerHandler())
	t.Cleanup(srv.Close)

	conn := dialPeerConn(t, srv.URL)
	t.Cleanup(func() { conn.Close() })

	pub, err := olafcrypto.EncodePublicKeyPEM(neighbourKP.Public)
	require.NoError(t, err)
	env, err := wire.Build(wire.ServerHelloPayload{Type: wire.TypeServerHello, PublicKey: string(pub), Address: "remote:8443"}, 1, neighbourKP.Private)
	require.NoError(t, err)
	frame, err := env.Marshal()
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, frame))

	// The server greets back with a client_update_request.
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)
	greet, err := wire.ParseEnvelope(raw)
	require.NoError(t, err)
	innerType, err := wire.InnerType(greet)
	require.NoError(t, err)
	require.Equal(t, wire.TypeClientUpdateRequest, innerType)

	// A forwarded public_chat frame retains the originating client's own
	// signature, not the neighbour's — sign it with a distinct key to prove
	// the peer link does not try (and fail) to re-verify it against the
	// neighbour's registered key. It should be routed into RouteFromPeer,
	// which fans it out to the local clients (none here) without crashing
	// the connection.
	originatingClient, err := olafcrypto.GenerateKeyPair()
	require.NoError(t, err)
	chatEnv, err := wire.Build(wire.PublicChatPayload{Type: wire.TypePublicChat, Message: "mesh broadcast"}, 1, originatingClient.Private)
	require.NoError(t, err)
	chatFrame, err := chatEnv.Marshal()
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, chatFrame))

	// Connection should remain open; a further client_update_request from us
	// gets answered.
	reqEnv, err := wire.Build(wire.ClientUpdateRequestPayload{Type: wire.TypeClientUpdateRequest}, 3, neighbourKP.Private)
	require.NoError(t, err)
	reqFrame, err := reqEnv.Marshal()
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, reqFrame))

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, raw2, err := conn.ReadMessage()
	require.NoError(t, err)
	reply, err := wire.ParseEnvelope(raw2)
	require.NoError(t, err)
	replyType, err := wire.InnerType(reply)
	require.NoError(t, err)
	require.Equal(t, wire.TypeClientUpdate, replyType)
}
