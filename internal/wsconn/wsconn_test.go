package wsconn

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

func dialPair(t *testing.T) (*websocket.Conn, *websocket.Conn) {
	t.Helper()
	upgrader := websocket.Upgrader{}
	serverConnCh := make(chan *websocket.Conn, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		serverConnCh <- conn
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	client, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	server := <-serverConnCh
	return client, server
}

func TestConnSendAndReceive(t *testing.T) {
	clientWS, serverWS := dialPair(t)
	defer clientWS.Close()

	c := New(serverWS, DefaultQueueSize, time.Second)
	defer c.Close()

	require.True(t, c.Send([]byte("hello")))

	_, data, err := clientWS.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, "hello", string(data))
}

// A burst of twice the queue depth must return without blocking; whether any
// frame is dropped depends on how fast the writer drains, so only the upper
// bound on accepted frames is checked.
func TestConnSendDoesNotBlockUnderBurst(t *testing.T) {
	_, serverWS := dialPair(t)

	c := New(serverWS, DefaultQueueSize, time.Second)
	defer c.Close()

	accepted := 0
	for i := 0; i < DefaultQueueSize*2; i++ {
		if c.Send([]byte("x")) {
			accepted++
		}
	}
	require.LessOrEqual(t, accepted, DefaultQueueSize*2)
}

func TestConnCloseStopsWriter(t *testing.T) {
	clientWS, serverWS := dialPair(t)
	defer clientWS.Close()

	c := New(serverWS, DefaultQueueSize, time.Second)
	require.NoError(t, c.Close())

	select {
	case <-c.Closed():
	case <-time.After(time.Second):
		t.Fatal("connection did not report closed")
	}
	require.False(t, c.Send([]byte("after close")))
}
