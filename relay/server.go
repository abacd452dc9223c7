// Package relay implements the server relay core (C4): the client-facing
// and peer-facing WebSocket listeners that share one in-memory client
// table, and the routing rules for chat, public_chat, and client_list.
package relay

import (
	"crypto/rsa"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	olafcrypto "github.com/olaf-mesh/neighbourhood/crypto"
	"github.com/olaf-mesh/neighbourhood/crypto/filestore"
	"github.com/olaf-mesh/neighbourhood/internal/errs"
	"github.com/olaf-mesh/neighbourhood/internal/logger"
	"github.com/olaf-mesh/neighbourhood/internal/metrics"
	"github.com/olaf-mesh/neighbourhood/internal/wsconn"
	"github.com/olaf-mesh/neighbourhood/neighbourhood"
	"github.com/olaf-mesh/neighbourhood/wire"
)

// handshakeTimeout bounds how long a freshly-accepted connection has to
// produce its first valid message.
const handshakeTimeout = 10 * time.Second

// maxSignatureFailures is the number of consecutive signature failures at
// which a client connection is disconnected ("on signature
// failure repeat >= N times, disconnect" — N chosen here, not specified by
// the wire contract).
const maxSignatureFailures = 5

type clientRecord struct {
	fingerprint string
	publicKey   *rsa.PublicKey
	publicPEM   string
	conn        *wsconn.Conn
	mu          sync.Mutex
	lastCounter uint64
	sigFailures int
}

// Server owns the local client table and coordinates with a
// neighbourhood.Registry for peer routing.
type Server struct {
	localAddress string
	serverFP     string
	localKeys    *olafcrypto.KeyPair
	neighbours   *neighbourhood.Registry
	clientKeys   *filestore.PublicKeyDir
	upgrader     websocket.Upgrader
	log          logger.Logger

	mu      sync.Mutex
	clients map[string]*clientRecord

	inbound inboundPeerTable
}

// NewServer constructs a relay server. clientKeys persists known client
// public keys (<clients>/<fingerprint>.pem) across restarts; it may be nil
// to disable persistence.
func NewServer(localAddress string, localKeys *olafcrypto.KeyPair, neighbours *neighbourhood.Registry, peerKeys *filestore.PublicKeyDir, clientKeys *filestore.PublicKeyDir, log logger.Logger) (*Server, error) {
	if log == nil {
		log = logger.NewDefaultLogger()
	}
	fp, err := olafcrypto.FingerprintPublicKey(localKeys.Public)
	if err != nil {
		return nil, errs.Crypto("failed to fingerprint local server key", err)
	}
	return &Server{
		localAddress: localAddress,
		serverFP:     fp,
		localKeys:    localKeys,
		neighbours:   neighbours,
		clientKeys:   clientKeys,
		upgrader:     websocket.Upgrader{ReadBufferSize: 4096, WriteBufferSize: 4096, CheckOrigin: func(r *http.Request) bool { return true }},
		log:          log,
		clients:      make(map[string]*clientRecord),
		inbound:      newInboundPeerTable(peerKeys),
	}, nil
}

// SetNeighbours wires the neighbourhood registry after construction,
// breaking the cycle between Server (whose methods the registry needs as
// callbacks) and the registry itself (which Server needs to route through).
func (s *Server) SetNeighbours(n *neighbourhood.Registry) {
	s.neighbours = n
}

// LocalFingerprint returns this server's own identity fingerprint, as
// gossipped in client_list entries.
func (s *Server) LocalFingerprint() string { return s.serverFP }

// ClientHandler upgrades and serves the client-facing listener.
func (s *Server) ClientHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := s.upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		s.handleClientConn(ws)
	})
}

// LocalClientKeys implements neighbourhood.LocalClientKeys: the PEM
// encoding of every locally-connected client, used to answer peers'
// client_update_request.
func (s *Server) LocalClientKeys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.clients))
	for _, c := range s.clients {
		out = append(out, c.publicPEM)
	}
	return out
}

// RouteFromPeer implements neighbourhood.FrameHandler: it is invoked for
// every peer-originated inner type the registry does not handle itself
// (chat, public_chat).
func (s *Server) RouteFromPeer(address string, innerType string, frame []byte) {
	switch innerType {
	case wire.TypeChat:
		s.fanOutLocal(frame, "")
		metrics.FramesRelayed.WithLabelValues(innerType, "peer").Inc()
	case wire.TypePublicChat:
		s.fanOutLocal(frame, "")
		metrics.FramesRelayed.WithLabelValues(innerType, "peer").Inc()
	default:
		metrics.FramesDropped.WithLabelValues("unknown_destination").Inc()
		s.log.Debug("dropping unrecognized peer inner type", logger.String("address", address), logger.String("type", innerType))
	}
}

func (s *Server) handleClientConn(ws *websocket.Conn) {
	ws.SetReadDeadline(time.Now().Add(handshakeTimeout))
	_, raw, err := ws.ReadMessage()
	if err != nil {
		ws.Close()
		return
	}
	env, err := wire.ParseEnvelope(raw)
	if err != nil {
		s.log.Debug("bad handshake frame from client", logger.Error(err))
		ws.Close()
		return
	}
	var hello wire.HelloPayload
	if innerType, _ := wire.InnerType(env); innerType != wire.TypeHello {
		s.log.Debug("expected hello as first client frame", logger.String("got", innerType))
		ws.Close()
		return
	}
	if err := unmarshalEnvelope(env, &hello); err != nil || hello.PublicKey == "" {
		ws.Close()
		return
	}
	pub, err := olafcrypto.DecodePublicKeyPEM([]byte(hello.PublicKey))
	if err != nil {
		s.log.Debug("bad public key in client hello", logger.Error(err))
		ws.Close()
		return
	}
	if err := wire.Verify(env, pub, 0); err != nil {
		s.log.Debug("client hello signature invalid", logger.Error(err))
		ws.Close()
		return
	}
	fp := olafcrypto.Fingerprint([]byte(hello.PublicKey))

	s.mu.Lock()
	if _, exists := s.clients[fp]; exists {
		s.mu.Unlock()
		s.log.Warn("rejecting duplicate client connection", logger.String("fingerprint", fp))
		ws.Close()
		return
	}
	rec := &clientRecord{fingerprint: fp, publicKey: pub, publicPEM: hello.PublicKey, lastCounter: env.Counter}
	rec.conn = wsconn.New(ws, wsconn.DefaultQueueSize, 10*time.Second)
	s.clients[fp] = rec
	s.mu.Unlock()

	if s.clientKeys != nil {
		if err := s.clientKeys.StorePublicPEM(fp, []byte(hello.PublicKey)); err != nil {
			s.log.Debug("failed to persist client key", logger.String("fingerprint", fp), logger.Error(err))
		}
	}

	metrics.ConnectedClients.Inc()
	metrics.ClientStateTransitions.WithLabelValues("idle", "ready").Inc()
	s.broadcastClientUpdate()

	defer s.disconnectClient(fp)
	for {
		frame, err := rec.conn.ReadMessage()
		if err != nil {
			return
		}
		if !s.handleClientFrame(rec, frame) {
			return
		}
	}
}

func (s *Server) disconnectClient(fp string) {
	s.mu.Lock()
	rec, ok := s.clients[fp]
	if ok {
		delete(s.clients, fp)
	}
	s.mu.Unlock()
	if !ok {
		return
	}
	rec.conn.Close()
	metrics.ConnectedClients.Dec()
	s.broadcastClientUpdate()
}

// handleClientFrame authenticates and routes one inbound frame from an
// already-registered client. It returns false when the connection should
// be torn down (repeated signature or counter failure); a malformed
// envelope is dropped and the connection kept.
func (s *Server) handleClientFrame(rec *clientRecord, frame []byte) bool {
	env, err := wire.ParseEnvelope(frame)
	if err != nil {
		s.log.Debug("malformed client frame", logger.String("fingerprint", rec.fingerprint), logger.Error(err))
		return true
	}

	rec.mu.Lock()
	lastCounter := rec.lastCounter
	rec.mu.Unlock()

	if err := wire.Verify(env, rec.publicKey, lastCounter); err != nil {
		rec.mu.Lock()
		rec.sigFailures++
		fails := rec.sigFailures
		rec.mu.Unlock()
		s.log.Warn("client frame failed verification", logger.String("fingerprint", rec.fingerprint), logger.Error(err))
		if fails >= maxSignatureFailures {
			s.log.Warn("disconnecting client after repeated signature failures", logger.String("fingerprint", rec.fingerprint))
			return false
		}
		return true
	}
	rec.mu.Lock()
	rec.lastCounter = env.Counter
	rec.sigFailures = 0
	rec.mu.Unlock()

	innerType, err := wire.InnerType(env)
	if err != nil {
		return true
	}

	switch innerType {
	case wire.TypeClientListRequest:
		s.replyClientList(rec)
	case wire.TypeChat:
		s.routeClientChat(rec, env, frame)
	case wire.TypePublicChat:
		s.fanOutLocal(frame, rec.fingerprint)
		s.neighbours.Broadcast(frame)
		metrics.FramesRelayed.WithLabelValues(innerType, "client").Inc()
	default:
		metrics.FramesDropped.WithLabelValues("unknown_destination").Inc()
	}
	metrics.MessagesReceived.WithLabelValues(innerType).Inc()
	return true
}

func (s *Server) routeClientChat(rec *clientRecord, env *wire.Envelope, frame []byte) {
	var chat wire.ChatPayload
	if err := unmarshalEnvelope(env, &chat); err != nil {
		metrics.FramesDropped.WithLabelValues("unknown_destination").Inc()
		return
	}
	for _, dest := range chat.DestinationServers {
		if dest == s.localAddress {
			s.fanOutLocal(frame, rec.fingerprint)
			metrics.FramesRelayed.WithLabelValues(wire.TypeChat, "client").Inc()
			continue
		}
		if err := s.neighbours.Send(dest, frame); err != nil {
			metrics.FramesDropped.WithLabelValues("unknown_destination").Inc()
			s.log.Debug("dropping chat frame for unreachable destination", logger.String("destination", dest), logger.Error(err))
		} else {
			metrics.FramesRelayed.WithLabelValues(wire.TypeChat, "peer").Inc()
		}
	}
}

// fanOutLocal delivers frame unchanged to every locally-connected client
// except exceptFingerprint (pass "" to exclude none).
func (s *Server) fanOutLocal(frame []byte, exceptFingerprint string) {
	s.mu.Lock()
	recs := make([]*clientRecord, 0, len(s.clients))
	for fp, c := range s.clients {
		if fp == exceptFingerprint {
			continue
		}
		recs = append(recs, c)
	}
	s.mu.Unlock()
	for _, c := range recs {
		if !c.conn.Send(frame) {
			metrics.FramesDropped.WithLabelValues("queue_full").Inc()
		}
	}
}

func (s *Server) replyClientList(rec *clientRecord) {
	frame, err := s.buildClientListFrame()
	if err != nil {
		return
	}
	if !rec.conn.Send(frame) {
		metrics.FramesDropped.WithLabelValues("queue_full").Inc()
	}
}

func (s *Server) buildClientListFrame() ([]byte, error) {
	entries := []wire.ClientListEntry{
		{Address: s.localAddress, ServerFingerprint: s.serverFP, Clients: s.localFingerprints()},
	}
	seen := map[string]bool{s.localAddress: true}
	for _, p := range s.neighbours.List() {
		entries = append(entries, wire.ClientListEntry{Address: p.Address, ServerFingerprint: p.Fingerprint, Clients: pemsToFingerprints(p.Clients)})
		seen[p.Address] = true
	}
	for _, p := range s.inboundPeerSnapshots() {
		if seen[p.Address] {
			continue
		}
		entries = append(entries, wire.ClientListEntry{Address: p.Address, ServerFingerprint: p.ServerFingerprint, Clients: pemsToFingerprints(p.Clients)})
	}
	listFrame := wire.ClientListFrame{Type: wire.TypeClientList, Servers: entries}
	return marshalUnsigned(listFrame)
}

func pemsToFingerprints(pems []string) []string {
	out := make([]string, 0, len(pems))
	for _, pem := range pems {
		out = append(out, olafcrypto.Fingerprint([]byte(pem)))
	}
	return out
}

func (s *Server) localFingerprints() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.clients))
	for fp := range s.clients {
		out = append(out, fp)
	}
	return out
}

func (s *Server) broadcastClientUpdate() {
	payload := wire.ClientUpdatePayload{Type: wire.TypeClientUpdate, Clients: s.LocalClientKeys()}
	s.neighbours.BroadcastSigned(payload, s.localKeys.Private)
}
