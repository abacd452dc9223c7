// Package wsconn wraps a gorilla WebSocket connection with a bounded
// outbound queue and a single writer goroutine, generalizing the
// connection-tracking pattern used for transport connections: one queue and
// one writer per connection, drop the frame and close the connection on
// overflow instead of letting a slow peer block every sender.
package wsconn

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// DefaultQueueSize is the minimum outbound queue depth required of every
// relay connection.
const DefaultQueueSize = 64

// Conn pairs a WebSocket connection with a bounded outbound frame queue.
// Reads are left to the caller (ReadMessage passes through); writes always
// go through Send so they serialize on the single writer goroutine gorilla
// requires.
type Conn struct {
	ws           *websocket.Conn
	out          chan []byte
	writeTimeout time.Duration

	closeOnce sync.Once
	closed    chan struct{}
	closeErr  error
	mu        sync.Mutex
}

// New wraps ws with an outbound queue of the given size (at least
// DefaultQueueSize) and starts its writer goroutine.
func New(ws *websocket.Conn, queueSize int, writeTimeout time.Duration) *Conn {
	if queueSize < DefaultQueueSize {
		queueSize = DefaultQueueSize
	}
	c := &Conn{
		ws:           ws,
		out:          make(chan []byte, queueSize),
		writeTimeout: writeTimeout,
		closed:       make(chan struct{}),
	}
	go c.runWriter()
	return c
}

// Send enqueues frame for the writer goroutine. It returns false without
// blocking if the queue is full or the connection is already closed. A full
// queue also closes the connection (in the background, so Send never waits
// on a stalled write); the caller is responsible for counting and logging
// the drop.
func (c *Conn) Send(frame []byte) bool {
	select {
	case <-c.closed:
		return false
	default:
	}
	select {
	case c.out <- frame:
		return true
	default:
		go c.Close()
		return false
	}
}

// ReadMessage reads the next text frame, blocking until one arrives or the
// connection fails.
func (c *Conn) ReadMessage() ([]byte, error) {
	_, data, err := c.ws.ReadMessage()
	return data, err
}

// Close stops the writer goroutine and closes the underlying connection.
// Safe to call multiple times and from multiple goroutines.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.mu.Lock()
		_ = c.ws.Close()
		c.mu.Unlock()
	})
	return nil
}

// Closed returns a channel closed once the connection has been torn down.
func (c *Conn) Closed() <-chan struct{} {
	return c.closed
}

func (c *Conn) runWriter() {
	for {
		select {
		case <-c.closed:
			return
		case frame := <-c.out:
			c.mu.Lock()
			if c.writeTimeout > 0 {
				_ = c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
			}
			err := c.ws.WriteMessage(websocket.TextMessage, frame)
			c.mu.Unlock()
			if err != nil {
				_ = c.Close()
				return
			}
		}
	}
}
