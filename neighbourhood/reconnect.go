package neighbourhood

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"

	olafcrypto "github.com/olaf-mesh/neighbourhood/crypto"
	"github.com/olaf-mesh/neighbourhood/internal/errs"
	"github.com/olaf-mesh/neighbourhood/internal/logger"
	"github.com/olaf-mesh/neighbourhood/internal/metrics"
	"github.com/olaf-mesh/neighbourhood/internal/wsconn"
	"github.com/olaf-mesh/neighbourhood/wire"
)

// runReconnect drives one peer through Disconnected -> Connecting ->
// Handshaking -> Connected -> Disconnected forever. It never permanently
// gives up: after consecutiveFailureLogThreshold back-to-back failures it
// keeps retrying at the same interval, only escalating what gets logged.
func (r *Registry) runReconnect(ctx context.Context, p *Peer) {
	failures := 0
	for {
		if ctx.Err() != nil {
			return
		}

		if !p.hasKey() {
			kp, err := r.keyDir.LoadPublic(PeerKeyID(p.Address))
			if err != nil {
				if failures > consecutiveFailureLogThreshold {
					r.log.Warn("neighbour still has no provisioned key", logger.String("address", p.Address))
				}
				failures++
				if !sleepOrDone(ctx, backoffInterval) {
					return
				}
				continue
			}
			p.setPublicKey(kp.Public)
			failures = 0
		}

		p.setState(Connecting)
		metrics.PeerReconnectAttempts.WithLabelValues(p.Address).Inc()

		conn, err := dialPeer(ctx, p.Address)
		if err != nil {
			failures++
			p.setState(Disconnected)
			if failures > consecutiveFailureLogThreshold {
				r.log.Warn("neighbour still unreachable after repeated attempts",
					logger.String("address", p.Address), logger.Int("failures", failures), logger.Error(err))
			} else {
				r.log.Debug("neighbour dial failed", logger.String("address", p.Address), logger.Error(err))
			}
			if !sleepOrDone(ctx, backoffInterval) {
				return
			}
			continue
		}

		failures = 0
		if r.runSession(ctx, p, conn) {
			return
		}
	}
}

// runSession handles one established connection end to end: handshake,
// the read loop, and the transition back to Disconnected on any failure.
// It returns true if ctx was canceled and the caller should stop entirely.
func (r *Registry) runSession(ctx context.Context, p *Peer, ws *websocket.Conn) bool {
	conn := wsconn.New(ws, wsconn.DefaultQueueSize, 10*time.Second)
	p.setConn(conn)
	p.setState(Handshaking)

	localPub, err := olafcrypto.EncodePublicKeyPEM(r.localKeys.Public)
	if err != nil {
		conn.Close()
		p.setState(Disconnected)
		return false
	}
	hello := wire.ServerHelloPayload{Type: wire.TypeServerHello, PublicKey: string(localPub), Address: r.localAddress}
	if err := p.send(hello, r.localKeys.Private); err != nil {
		r.log.Warn("failed to send server_hello", logger.String("address", p.Address), logger.Error(err))
		conn.Close()
		p.setState(Disconnected)
		return false
	}

	firstFrame := make(chan []byte, 1)
	readErrs := make(chan error, 1)
	go func() {
		frame, err := conn.ReadMessage()
		if err != nil {
			readErrs <- err
			return
		}
		firstFrame <- frame
	}()

	var pending []byte
	select {
	case frame := <-firstFrame:
		pending = frame
	case err := <-readErrs:
		r.log.Debug("neighbour closed during handshake", logger.String("address", p.Address), logger.Error(err))
		conn.Close()
		p.setState(Disconnected)
		return false
	case <-time.After(handshakeTimeout):
	case <-ctx.Done():
		conn.Close()
		return true
	}

	p.setState(Connected)
	if err := p.send(wire.ClientUpdateRequestPayload{Type: wire.TypeClientUpdateRequest}, r.localKeys.Private); err != nil {
		r.log.Debug("failed to send client_update_request", logger.String("address", p.Address), logger.Error(err))
	}

	if pending != nil {
		if !r.handleInbound(p, conn, pending) {
			p.setState(Disconnected)
			conn.Close()
			return false
		}
	}

	for {
		frame, err := conn.ReadMessage()
		if err != nil {
			r.log.Debug("neighbour link read failed", logger.String("address", p.Address), logger.Error(err))
			conn.Close()
			p.setState(Disconnected)
			return false
		}
		if !r.handleInbound(p, conn, frame) {
			conn.Close()
			p.setState(Disconnected)
			return false
		}
		if ctx.Err() != nil {
			conn.Close()
			return true
		}
	}
}

// handleInbound dispatches one frame from a neighbour. Only frames the
// neighbour itself originates and signs (client_update_request,
// client_update) are verified against the peer's registered key and
// counter. A forwarded chat or public_chat still carries the
// originating client's own signature unchanged; re-verifying it
// against the peer's key would always fail, since the peer never
// signed it. Those frames are forwarded to the relay's FrameHandler
// without touching the peer's counter. It returns false on any
// framing or signature failure, which the caller treats as a link
// failure.
func (r *Registry) handleInbound(p *Peer, conn *wsconn.Conn, frame []byte) bool {
	env, err := wire.ParseEnvelope(frame)
	if err != nil {
		r.log.Warn("malformed frame from neighbour", logger.String("address", p.Address), logger.Error(err))
		return false
	}
	innerType, err := wire.InnerType(env)
	if err != nil {
		r.log.Warn("frame from neighbour has no inner type", logger.String("address", p.Address), logger.Error(err))
		return false
	}

	switch innerType {
	case wire.TypeChat, wire.TypePublicChat:
		if r.onFrame != nil {
			r.onFrame(p.Address, innerType, frame)
		} else {
			metrics.FramesDropped.WithLabelValues("unknown_destination").Inc()
		}
		return true
	}

	p.mu.RLock()
	pub := p.publicKey
	p.mu.RUnlock()
	if err := wire.Verify(env, pub, p.counters.Last(PeerKeyID(p.Address))); err != nil {
		r.log.Warn("signature verification failed for neighbour frame",
			logger.String("address", p.Address), logger.Error(err))
		return false
	}
	p.counters.Accept(PeerKeyID(p.Address), env.Counter)

	switch innerType {
	case wire.TypeClientUpdateRequest:
		var clients []string
		if r.localClients != nil {
			clients = r.localClients()
		}
		if err := p.send(wire.ClientUpdatePayload{Type: wire.TypeClientUpdate, Clients: clients}, r.localKeys.Private); err != nil {
			r.log.Debug("failed to answer client_update_request", logger.String("address", p.Address), logger.Error(err))
		}
	case wire.TypeClientUpdate:
		var payload wire.ClientUpdatePayload
		if jsonErr := unmarshalInner(env, &payload); jsonErr != nil {
			r.log.Warn("malformed client_update from neighbour", logger.String("address", p.Address), logger.Error(jsonErr))
			return true
		}
		p.setClients(payload.Clients)
	default:
		if r.onFrame != nil {
			r.onFrame(p.Address, innerType, frame)
		} else {
			metrics.FramesDropped.WithLabelValues("unknown_destination").Inc()
		}
	}
	return true
}

func dialPeer(ctx context.Context, address string) (*websocket.Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: backoffInterval}
	conn, _, err := dialer.DialContext(ctx, "ws://"+address+"/ws/peer", nil)
	if err != nil {
		return nil, errs.Peer("dial failed", err)
	}
	return conn, nil
}

func sleepOrDone(ctx context.Context, d time.Duration) bool {
	select {
	case <-time.After(d):
		return true
	case <-ctx.Done():
		return false
	}
}

func unmarshalInner(env *wire.Envelope, v interface{}) error {
	return json.Unmarshal(env.Data, v)
}
