package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	olafcrypto "github.com/olaf-mesh/neighbourhood/crypto"
	"github.com/olaf-mesh/neighbourhood/wire"
)

func startFakeHomeServer(t *testing.T) (wsURL string, connCh <-chan *websocket.Conn) {
	t.Helper()
	ch := make(chan *websocket.Conn, 1)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		ch <- conn
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http"), ch
}

func readServerFrame(t *testing.T, conn *websocket.Conn) *wire.Envelope {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	env, err := wire.ParseEnvelope(data)
	require.NoError(t, err)
	return env
}

func TestEngineRegistersAndReachesReady(t *testing.T) {
	url, connCh := startFakeHomeServer(t)
	keys, err := olafcrypto.GenerateKeyPair()
	require.NoError(t, err)
	dir := NewDirectory(newTestKeyBook(t), "")

	engine, err := New(url, keys, dir, nil, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go engine.Run(ctx)

	conn := <-connCh
	t.Cleanup(func() { conn.Close() })

	env := readServerFrame(t, conn)
	innerType, err := wire.InnerType(env)
	require.NoError(t, err)
	require.Equal(t, wire.TypeHello, innerType)

	require.Eventually(t, func() bool { return engine.State() == Ready }, 2*time.Second, 10*time.Millisecond)
}

func TestSendChatFailsWithoutDirectoryEntry(t *testing.T) {
	url, connCh := startFakeHomeServer(t)
	keys, err := olafcrypto.GenerateKeyPair()
	require.NoError(t, err)
	dir := NewDirectory(newTestKeyBook(t), "")

	engine, err := New(url, keys, dir, nil, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go engine.Run(ctx)
	conn := <-connCh
	t.Cleanup(func() { conn.Close() })
	_ = readServerFrame(t, conn) // hello

	require.Error(t, engine.SendChat([]string{"unknown-fp"}, "hi"))
}

func TestSendChatEncryptsForKnownRecipient(t *testing.T) {
	url, connCh := startFakeHomeServer(t)
	senderKeys, err := olafcrypto.GenerateKeyPair()
	require.NoError(t, err)
	recipientKeys, err := olafcrypto.GenerateKeyPair()
	require.NoError(t, err)
	recipientFP, err := recipientKeys.Fingerprint()
	require.NoError(t, err)

	keyBook := newTestKeyBook(t)
	require.NoError(t, keyBook.StorePublic(recipientFP, recipientKeys))
	dir := NewDirectory(keyBook, "")
	dir.Update([]wire.ClientListEntry{{Address: "self:9000", Clients: []string{recipientFP}}})

	engine, err := New(url, senderKeys, dir, nil, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go engine.Run(ctx)
	conn := <-connCh
	t.Cleanup(func() { conn.Close() })
	_ = readServerFrame(t, conn) // hello

	require.NoError(t, engine.SendChat([]string{recipientFP}, "top secret"))

	env := readServerFrame(t, conn)
	innerType, err := wire.InnerType(env)
	require.NoError(t, err)
	require.Equal(t, wire.TypeChat, innerType)

	var payload wire.ChatPayload
	require.NoError(t, json.Unmarshal(env.Data, &payload))
	inner, err := wire.OpenChat(&payload, recipientKeys.Private, recipientFP)
	require.NoError(t, err)
	require.Equal(t, "top secret", inner.Message)
}

func TestHandleChatFrameInvokesMessageHandler(t *testing.T) {
	url, connCh := startFakeHomeServer(t)
	myKeys, err := olafcrypto.GenerateKeyPair()
	require.NoError(t, err)
	myFP, err := myKeys.Fingerprint()
	require.NoError(t, err)

	senderKeys, err := olafcrypto.GenerateKeyPair()
	require.NoError(t, err)
	senderFP, err := senderKeys.Fingerprint()
	require.NoError(t, err)

	keyBook := newTestKeyBook(t)
	require.NoError(t, keyBook.StorePublic(senderFP, senderKeys))
	dir := NewDirectory(keyBook, "")

	var mu sync.Mutex
	var got IncomingMessage
	done := make(chan struct{})
	onMessage := func(msg IncomingMessage) {
		mu.Lock()
		got = msg
		mu.Unlock()
		close(done)
	}

	engine, err := New(url, myKeys, dir, onMessage, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go engine.Run(ctx)
	conn := <-connCh
	t.Cleanup(func() { conn.Close() })
	_ = readServerFrame(t, conn) // hello

	chat, err := wire.BuildChat(senderFP, []wire.Recipient{{Fingerprint: myFP, HomeServer: "self:9000", PublicKey: myKeys.Public}}, "hello there")
	require.NoError(t, err)
	env, err := wire.Build(chat, 1, senderKeys.Private)
	require.NoError(t, err)
	frame, err := env.Marshal()
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, frame))

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("onMessage was not invoked")
	}

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, senderFP, got.SenderFingerprint)
	require.Equal(t, "hello there", got.Message)
	require.False(t, got.Public)
}

func TestHandlePublicChatFrameIdentifiesKnownSigner(t *testing.T) {
	url, connCh := startFakeHomeServer(t)
	myKeys, err := olafcrypto.GenerateKeyPair()
	require.NoError(t, err)

	senderKeys, err := olafcrypto.GenerateKeyPair()
	require.NoError(t, err)
	senderFP, err := senderKeys.Fingerprint()
	require.NoError(t, err)

	keyBook := newTestKeyBook(t)
	require.NoError(t, keyBook.StorePublic(senderFP, senderKeys))
	dir := NewDirectory(keyBook, "")
	dir.Update([]wire.ClientListEntry{{Address: "self:9000", Clients: []string{senderFP}}})

	var mu sync.Mutex
	var got IncomingMessage
	done := make(chan struct{})
	onMessage := func(msg IncomingMessage) {
		mu.Lock()
		got = msg
		mu.Unlock()
		close(done)
	}

	engine, err := New(url, myKeys, dir, onMessage, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go engine.Run(ctx)
	conn := <-connCh
	t.Cleanup(func() { conn.Close() })
	_ = readServerFrame(t, conn) // hello

	env, err := wire.Build(wire.PublicChatPayload{Type: wire.TypePublicChat, Message: "mesh broadcast"}, 1, senderKeys.Private)
	require.NoError(t, err)
	frame, err := env.Marshal()
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, frame))

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("onMessage was not invoked")
	}

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, senderFP, got.SenderFingerprint)
	require.Equal(t, "mesh broadcast", got.Message)
	require.True(t, got.Public)
}
