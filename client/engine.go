// Package client implements the client protocol engine (C6): the state
// machine that registers with a home server, maintains the reachability
// directory, and encrypts/signs outbound chat while verifying/decrypting
// inbound chat.
package client

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	olafcrypto "github.com/olaf-mesh/neighbourhood/crypto"
	"github.com/olaf-mesh/neighbourhood/internal/errs"
	"github.com/olaf-mesh/neighbourhood/internal/logger"
	"github.com/olaf-mesh/neighbourhood/internal/metrics"
	"github.com/olaf-mesh/neighbourhood/internal/wsconn"
	"github.com/olaf-mesh/neighbourhood/wire"
)

// State is a position in the client protocol engine's state machine.
type State string

const (
	Idle        State = "idle"
	Connecting  State = "connecting"
	HelloSent   State = "hello_sent"
	Ready       State = "ready"
	ClosedState State = "closed"
)

// clientListWait bounds how long RequestClientList's callers wait for a
// reply before giving up on the retry.
const clientListWait = 5 * time.Second

// IncomingMessage is delivered to the engine's message handler for every
// authenticated chat or public_chat frame.
type IncomingMessage struct {
	SenderFingerprint string
	Message           string
	Public            bool
	Timestamp         time.Time
}

// MessageHandler receives every authenticated inbound message, in delivery
// order, for the facade to append to its local store.
type MessageHandler func(IncomingMessage)

// Engine owns one client's connection to its home server.
type Engine struct {
	serverURL   string
	keys        *olafcrypto.KeyPair
	fingerprint string
	directory   *Directory
	onMessage   MessageHandler
	log         logger.Logger

	mu      sync.Mutex
	state   State
	conn    *wsconn.Conn
	counter uint64

	counters *wire.CounterTracker
}

// New constructs an Engine. serverURL is the ws:// URL of the client
// listener (e.g. "ws://relay.example:8001/ws/client").
func New(serverURL string, keys *olafcrypto.KeyPair, directory *Directory, onMessage MessageHandler, log logger.Logger) (*Engine, error) {
	if log == nil {
		log = logger.NewDefaultLogger()
	}
	fp, err := keys.Fingerprint()
	if err != nil {
		return nil, err
	}
	return &Engine{
		serverURL:   serverURL,
		keys:        keys,
		fingerprint: fp,
		directory:   directory,
		onMessage:   onMessage,
		log:         log,
		state:       Idle,
		counters:    wire.NewCounterTracker(),
	}, nil
}

// Fingerprint returns this client's identity.
func (e *Engine) Fingerprint() string { return e.fingerprint }

// SetMessageHandler wires the message handler after construction, for
// callers (like a facade) that need the engine to build their own handler.
func (e *Engine) SetMessageHandler(h MessageHandler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onMessage = h
}

// State returns the engine's current state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *Engine) setState(s State) {
	e.mu.Lock()
	from := e.state
	e.state = s
	e.mu.Unlock()
	metrics.ClientStateTransitions.WithLabelValues(string(from), string(s)).Inc()
}

// Run dials the home server, registers, and serves the read loop until the
// connection fails or ctx is canceled. It does not reconnect; callers that
// want persistence wrap Run in their own retry loop.
func (e *Engine) Run(ctx context.Context) error {
	e.setState(Connecting)
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	ws, _, err := dialer.DialContext(ctx, e.serverURL, nil)
	if err != nil {
		e.setState(ClosedState)
		return errs.Transport("failed to dial home server", err)
	}
	conn := wsconn.New(ws, wsconn.DefaultQueueSize, 10*time.Second)

	e.mu.Lock()
	e.conn = conn
	e.mu.Unlock()

	e.setState(HelloSent)
	pub, err := olafcrypto.EncodePublicKeyPEM(e.keys.Public)
	if err != nil {
		conn.Close()
		e.setState(ClosedState)
		return err
	}
	if err := e.send(wire.HelloPayload{Type: wire.TypeHello, PublicKey: string(pub)}); err != nil {
		conn.Close()
		e.setState(ClosedState)
		return err
	}
	e.setState(Ready)

	for {
		frame, err := conn.ReadMessage()
		if err != nil {
			e.setState(ClosedState)
			return errs.Transport("home server connection closed", err)
		}
		e.handleFrame(frame)
		if ctx.Err() != nil {
			conn.Close()
			e.setState(ClosedState)
			return ctx.Err()
		}
	}
}

// Close tears down the connection, if any.
func (e *Engine) Close() error {
	e.mu.Lock()
	conn := e.conn
	e.mu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.Close()
}

func (e *Engine) nextCounter() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.counter++
	return e.counter
}

func (e *Engine) send(payload interface{}) error {
	e.mu.Lock()
	conn := e.conn
	e.mu.Unlock()
	if conn == nil {
		return errs.Transport("not connected to home server", nil)
	}
	env, err := wire.Build(payload, e.nextCounter(), e.keys.Private)
	if err != nil {
		return err
	}
	frame, err := env.Marshal()
	if err != nil {
		return err
	}
	if !conn.Send(frame) {
		return errs.Transport("outbound queue full", nil)
	}
	return nil
}

// RequestClientList asks the home server to resend the mesh directory. The
// reply arrives asynchronously through the read loop and updates e.directory.
func (e *Engine) RequestClientList() error {
	return e.send(wire.ClientListRequestPayload{Type: wire.TypeClientListRequest})
}

// SendChat encrypts and signs message for recipients, routed through
// whichever home servers the directory currently has them reachable on.
func (e *Engine) SendChat(recipients []string, message string) error {
	resolved, err := e.directory.Recipients(recipients)
	if err != nil {
		return err
	}
	chat, err := wire.BuildChat(e.fingerprint, resolved, message)
	if err != nil {
		return err
	}
	if err := e.send(chat); err != nil {
		return err
	}
	metrics.MessagesSent.WithLabelValues(wire.TypeChat).Inc()
	return nil
}

// SendPublicChat broadcasts an unencrypted message to the whole mesh.
func (e *Engine) SendPublicChat(message string) error {
	if err := e.send(wire.PublicChatPayload{Type: wire.TypePublicChat, Message: message}); err != nil {
		return err
	}
	metrics.MessagesSent.WithLabelValues(wire.TypePublicChat).Inc()
	return nil
}

// handleFrame dispatches one inbound wire frame: either a signed envelope
// (chat, public_chat) or the unsigned top-level client_list reply.
func (e *Engine) handleFrame(frame []byte) {
	if env, err := wire.ParseEnvelope(frame); err == nil {
		e.handleEnvelope(env, frame)
		return
	}
	var listFrame wire.ClientListFrame
	if err := json.Unmarshal(frame, &listFrame); err == nil && listFrame.Type == wire.TypeClientList {
		e.directory.Update(listFrame.Servers)
		return
	}
	e.log.Debug("dropping unrecognized frame from home server")
}

func (e *Engine) handleEnvelope(env *wire.Envelope, frame []byte) {
	innerType, err := wire.InnerType(env)
	if err != nil {
		e.log.Debug("malformed inner type from home server", logger.Error(err))
		return
	}
	switch innerType {
	case wire.TypeChat:
		e.handleChat(env)
	case wire.TypePublicChat:
		e.handlePublicChat(env)
	default:
		e.log.Debug("dropping unexpected inner type from home server", logger.String("type", innerType))
	}
}

func (e *Engine) handleChat(env *wire.Envelope) {
	var payload wire.ChatPayload
	if err := json.Unmarshal(env.Data, &payload); err != nil {
		e.log.Debug("malformed chat payload", logger.Error(err))
		return
	}
	inner, err := wire.OpenChat(&payload, e.keys.Private, e.fingerprint)
	if err != nil {
		e.log.Debug("failed to open chat for this recipient", logger.Error(err))
		return
	}
	if len(inner.Participants) == 0 {
		return
	}
	senderFP := inner.Participants[0]
	if !e.authenticate(env, senderFP, true) {
		return
	}
	metrics.MessagesReceived.WithLabelValues(wire.TypeChat).Inc()
	if e.onMessage != nil {
		e.onMessage(IncomingMessage{SenderFingerprint: senderFP, Message: inner.Message, Timestamp: time.Now()})
	}
}

func (e *Engine) handlePublicChat(env *wire.Envelope) {
	var payload wire.PublicChatPayload
	if err := json.Unmarshal(env.Data, &payload); err != nil {
		e.log.Debug("malformed public_chat payload", logger.Error(err))
		return
	}
	// A public_chat's signer is its sender, but nothing in the payload
	// names them; peers only relay the envelope, so the only fingerprint
	// available is whichever one owns a key that verifies this signature.
	// Only fingerprints the directory currently lists are tried.
	senderFP, ok := e.identifySigner(env)
	if !ok {
		e.log.Debug("dropping public_chat from unrecognized signer")
		return
	}
	metrics.MessagesReceived.WithLabelValues(wire.TypePublicChat).Inc()
	if e.onMessage != nil {
		e.onMessage(IncomingMessage{SenderFingerprint: senderFP, Message: payload.Message, Public: true, Timestamp: time.Now()})
	}
}

// authenticate verifies env against senderFP's known key, requesting a
// directory refresh and retrying once if the key is not yet known.
func (e *Engine) authenticate(env *wire.Envelope, senderFP string, retry bool) bool {
	pub, ok := e.directory.PublicKey(senderFP)
	if !ok {
		if retry {
			done := make(chan struct{})
			go func() { time.Sleep(clientListWait); close(done) }()
			_ = e.RequestClientList()
			e.directory.WaitForUpdate(done)
			return e.authenticate(env, senderFP, false)
		}
		return false
	}
	if err := wire.Verify(env, pub, e.counters.Last(senderFP)); err != nil {
		e.log.Debug("signature verification failed for inbound chat", logger.String("sender", senderFP), logger.Error(err))
		return false
	}
	e.counters.Accept(senderFP, env.Counter)
	return true
}

// identifySigner tries the key of every fingerprint in directory.Fingerprints()
// until one verifies env, since a public_chat payload carries no sender
// identity of its own. Fingerprints without a known key are skipped.
func (e *Engine) identifySigner(env *wire.Envelope) (string, bool) {
	for _, fp := range e.directory.Fingerprints() {
		pub, ok := e.directory.PublicKey(fp)
		if !ok {
			continue
		}
		if err := wire.Verify(env, pub, e.counters.Last(fp)); err == nil {
			e.counters.Accept(fp, env.Counter)
			return fp, true
		}
	}
	return "", false
}
