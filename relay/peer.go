package relay

import (
	"crypto/rsa"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	olafcrypto "github.com/olaf-mesh/neighbourhood/crypto"
	"github.com/olaf-mesh/neighbourhood/crypto/filestore"
	"github.com/olaf-mesh/neighbourhood/internal/logger"
	"github.com/olaf-mesh/neighbourhood/internal/metrics"
	"github.com/olaf-mesh/neighbourhood/internal/wsconn"
	"github.com/olaf-mesh/neighbourhood/wire"
)

// inboundPeer is one neighbour-initiated connection accepted by the
// peer-facing listener. It is tracked independently of
// neighbourhood.Registry's outbound reconnect tasks — its state
// machine governs the dial side only; the accept side is a second,
// symmetric channel validated the same way ("on peer connect").
type inboundPeer struct {
	address   string
	publicKey *rsa.PublicKey
	mu        sync.Mutex
	conn      *wsconn.Conn
	counter   uint64 // last counter accepted from the peer
	outbound  uint64 // last counter this server signed towards the peer
	clients   []string
}

type inboundPeerTable struct {
	keys *filestore.PublicKeyDir

	mu    sync.Mutex
	peers map[string]*inboundPeer
}

func newInboundPeerTable(keys *filestore.PublicKeyDir) inboundPeerTable {
	return inboundPeerTable{keys: keys, peers: make(map[string]*inboundPeer)}
}

// PeerHandler upgrades and serves the peer-facing listener.
func (s *Server) PeerHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := s.upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		s.handlePeerConn(ws)
	})
}

func (s *Server) handlePeerConn(ws *websocket.Conn) {
	ws.SetReadDeadline(time.Now().Add(handshakeTimeout))
	_, raw, err := ws.ReadMessage()
	if err != nil {
		ws.Close()
		return
	}
	env, err := wire.ParseEnvelope(raw)
	if err != nil {
		s.log.Debug("bad handshake frame from peer", logger.Error(err))
		ws.Close()
		return
	}
	if innerType, _ := wire.InnerType(env); innerType != wire.TypeServerHello {
		ws.Close()
		return
	}
	var hello wire.ServerHelloPayload
	if err := unmarshalEnvelope(env, &hello); err != nil || hello.Address == "" || hello.PublicKey == "" {
		ws.Close()
		return
	}

	registered, err := s.inbound.keys.LoadPublic(PeerKeyID(hello.Address))
	if err != nil {
		s.log.Warn("rejecting server_hello from unregistered neighbour", logger.String("address", hello.Address))
		ws.Close()
		return
	}
	if err := wire.Verify(env, registered.Public, 0); err != nil {
		s.log.Warn("server_hello signature invalid", logger.String("address", hello.Address), logger.Error(err))
		ws.Close()
		return
	}

	peer := &inboundPeer{address: hello.Address, publicKey: registered.Public, counter: env.Counter}
	peer.conn = wsconn.New(ws, wsconn.DefaultQueueSize, 10*time.Second)

	s.inbound.mu.Lock()
	s.inbound.peers[hello.Address] = peer
	s.inbound.mu.Unlock()

	defer func() {
		s.inbound.mu.Lock()
		delete(s.inbound.peers, hello.Address)
		s.inbound.mu.Unlock()
		peer.conn.Close()
	}()

	s.sendToInboundPeer(peer, wire.ClientUpdateRequestPayload{Type: wire.TypeClientUpdateRequest})

	for {
		frame, err := peer.conn.ReadMessage()
		if err != nil {
			return
		}
		if !s.handleInboundPeerFrame(peer, registered.Public, frame) {
			return
		}
	}
}

func (s *Server) sendToInboundPeer(peer *inboundPeer, payload interface{}) {
	peer.mu.Lock()
	peer.outbound++
	counter := peer.outbound
	peer.mu.Unlock()
	env, err := wire.Build(payload, counter, s.localKeys.Private)
	if err != nil {
		return
	}
	frame, err := env.Marshal()
	if err != nil {
		return
	}
	if !peer.conn.Send(frame) {
		metrics.FramesDropped.WithLabelValues("queue_full").Inc()
	}
}

// handleInboundPeerFrame dispatches one frame from an inbound peer
// connection. Only frames the peer itself originates and signs
// (server_hello, client_update_request, client_update) are verified
// against the peer's registered key and counter. A forwarded chat or
// public_chat still carries the originating client's own signature
// unchanged; re-verifying it against the peer's key would always fail,
// since the peer never signed it. Those frames are relayed on without
// touching the peer's counter, matching how client/engine.go leaves
// the true end-to-end verification to the eventual recipient.
func (s *Server) handleInboundPeerFrame(peer *inboundPeer, pub *rsa.PublicKey, frame []byte) bool {
	env, err := wire.ParseEnvelope(frame)
	if err != nil {
		s.log.Debug("malformed frame from inbound peer", logger.String("address", peer.address), logger.Error(err))
		return false
	}
	innerType, err := wire.InnerType(env)
	if err != nil {
		s.log.Debug("malformed inner type from inbound peer", logger.String("address", peer.address), logger.Error(err))
		return true
	}

	switch innerType {
	case wire.TypeChat, wire.TypePublicChat:
		s.RouteFromPeer(peer.address, innerType, frame)
		return true
	}

	peer.mu.Lock()
	last := peer.counter
	peer.mu.Unlock()
	if err := wire.Verify(env, pub, last); err != nil {
		s.log.Warn("signature verification failed for inbound peer frame", logger.String("address", peer.address), logger.Error(err))
		return false
	}
	peer.mu.Lock()
	peer.counter = env.Counter
	peer.mu.Unlock()

	switch innerType {
	case wire.TypeClientUpdateRequest:
		s.sendToInboundPeer(peer, wire.ClientUpdatePayload{Type: wire.TypeClientUpdate, Clients: s.LocalClientKeys()})
	case wire.TypeClientUpdate:
		var payload wire.ClientUpdatePayload
		if err := unmarshalEnvelope(env, &payload); err == nil {
			peer.mu.Lock()
			peer.clients = payload.Clients
			peer.mu.Unlock()
		}
	default:
		s.RouteFromPeer(peer.address, innerType, frame)
	}
	return true
}

// inboundPeerSnapshots returns a snapshot of every distinct inbound peer
// address with its last-gossipped client list, for merging into client_list
// replies alongside the registry's outbound view.
func (s *Server) inboundPeerSnapshots() []wire.ClientListEntry {
	s.inbound.mu.Lock()
	defer s.inbound.mu.Unlock()
	out := make([]wire.ClientListEntry, 0, len(s.inbound.peers))
	for _, p := range s.inbound.peers {
		p.mu.Lock()
		clients := append([]string(nil), p.clients...)
		p.mu.Unlock()
		fp, err := olafcrypto.FingerprintPublicKey(p.publicKey)
		if err != nil {
			fp = ""
		}
		out = append(out, wire.ClientListEntry{Address: p.address, ServerFingerprint: fp, Clients: clients})
	}
	return out
}
