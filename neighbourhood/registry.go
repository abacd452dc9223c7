// Package neighbourhood implements the relay-to-relay mesh: a registry of
// configured neighbour servers, each driven by an independent reconnect
// state machine, and the client directory gossip exchanged once a
// neighbour link comes up.
package neighbourhood

import (
	"context"
	"crypto/rsa"
	"sync"
	"time"

	olafcrypto "github.com/olaf-mesh/neighbourhood/crypto"
	"github.com/olaf-mesh/neighbourhood/crypto/filestore"
	"github.com/olaf-mesh/neighbourhood/internal/errs"
	"github.com/olaf-mesh/neighbourhood/internal/logger"
	"github.com/olaf-mesh/neighbourhood/internal/metrics"
	"github.com/olaf-mesh/neighbourhood/internal/wsconn"
	"github.com/olaf-mesh/neighbourhood/wire"
)

// State is a position in the per-peer reconnect state machine.
type State string

const (
	Disconnected State = "disconnected"
	Connecting   State = "connecting"
	Handshaking  State = "handshaking"
	Connected    State = "connected"
)

var allStates = []State{Disconnected, Connecting, Handshaking, Connected}

// backoffInterval is the fixed retry interval between connection attempts;
// unlike a client's home-server link, a neighbour link never gives up.
const backoffInterval = 2 * time.Second

// consecutiveFailureLogThreshold is how many back-to-back dial failures are
// tolerated silently before each subsequent failure is logged.
const consecutiveFailureLogThreshold = 5

// handshakeTimeout bounds how long a peer waits in Handshaking for the
// first inbound frame before assuming the link is up anyway (no
// explicit ack).
const handshakeTimeout = 3 * time.Second

// FrameHandler processes a chat or public_chat frame relayed from a
// connected peer. Such frames carry the originating client's signature and
// are not verified against the peer's key; client_update and
// client_update_request are handled by the registry itself.
// rawFrame is the exact bytes received, ready to re-forward unchanged.
type FrameHandler func(address string, innerType string, rawFrame []byte)

// LocalClientKeys returns the PEM-encoded public keys of every
// locally-connected client, used to answer a peer's client_update_request.
type LocalClientKeys func() []string

// Peer tracks one configured neighbour's connection state and last-known
// client directory.
type Peer struct {
	Address string

	mu          sync.RWMutex
	state       State
	publicKey   *rsa.PublicKey
	conn        *wsconn.Conn
	lastClients []string
	counters    *wire.CounterTracker
	outbound    uint64
}

func newPeer(address string, publicKey *rsa.PublicKey) *Peer {
	return &Peer{
		Address:   address,
		state:     Disconnected,
		publicKey: publicKey,
		counters:  wire.NewCounterTracker(),
	}
}

// State returns the peer's current reconnect state.
func (p *Peer) State() State {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state
}

// Clients returns the last client_update snapshot gossipped by this peer.
func (p *Peer) Clients() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]string, len(p.lastClients))
	copy(out, p.lastClients)
	return out
}

func (p *Peer) setState(s State) {
	p.mu.Lock()
	p.state = s
	p.mu.Unlock()
	for _, st := range allStates {
		v := 0.0
		if st == s {
			v = 1.0
		}
		metrics.PeerState.WithLabelValues(p.Address, string(st)).Set(v)
	}
}

func (p *Peer) setClients(clients []string) {
	p.mu.Lock()
	p.lastClients = clients
	p.mu.Unlock()
}

// hasKey reports whether this peer's public key has been provisioned yet.
func (p *Peer) hasKey() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.publicKey != nil
}

func (p *Peer) setPublicKey(pub *rsa.PublicKey) {
	p.mu.Lock()
	p.publicKey = pub
	p.mu.Unlock()
}

func (p *Peer) setConn(c *wsconn.Conn) {
	p.mu.Lock()
	p.conn = c
	p.counters = wire.NewCounterTracker()
	p.outbound = 0
	p.mu.Unlock()
}

func (p *Peer) nextCounter() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.outbound++
	return p.outbound
}

// send signs and enqueues an outbound payload on this peer's connection.
// Returns a peer error if no connection is currently established.
func (p *Peer) send(payload interface{}, priv *rsa.PrivateKey) error {
	p.mu.RLock()
	conn := p.conn
	p.mu.RUnlock()
	if conn == nil {
		return errs.Peer("peer not connected", nil)
	}
	counter := p.nextCounter()
	env, err := wire.Build(payload, counter, priv)
	if err != nil {
		return err
	}
	frame, err := env.Marshal()
	if err != nil {
		return err
	}
	if !conn.Send(frame) {
		metrics.FramesDropped.WithLabelValues("queue_full").Inc()
		return errs.Transport("outbound queue full for peer", nil)
	}
	return nil
}

// Snapshot is a point-in-time view of one peer for directory responses.
type Snapshot struct {
	Address     string
	State       State
	Clients     []string
	Fingerprint string
}

// fingerprint returns this peer's server fingerprint, or "" if its public
// key has not been provisioned yet.
func (p *Peer) fingerprint() string {
	p.mu.RLock()
	pub := p.publicKey
	p.mu.RUnlock()
	if pub == nil {
		return ""
	}
	fp, err := olafcrypto.FingerprintPublicKey(pub)
	if err != nil {
		return ""
	}
	return fp
}

// Registry owns every configured neighbour and its reconnect task.
type Registry struct {
	localAddress string
	localKeys    *olafcrypto.KeyPair
	keyDir       *filestore.PublicKeyDir
	onFrame      FrameHandler
	localClients LocalClientKeys
	log          logger.Logger

	mu    sync.RWMutex
	peers map[string]*Peer
}

// New constructs a Registry for the given neighbour addresses. A Peer
// record is created for every address regardless of whether its key is
// on disk yet. Each address's public key is loaded from keyDir (named
// "<host>_<port>_public_key.pem"); an address with no key on disk yet
// starts with a nil key and is picked up by runReconnect as soon as
// one is provisioned (e.g. via the POST /upload_key bootstrap flow),
// without requiring a restart.
func New(addresses []string, keyDir *filestore.PublicKeyDir, localAddress string, localKeys *olafcrypto.KeyPair, onFrame FrameHandler, localClients LocalClientKeys, log logger.Logger) *Registry {
	if log == nil {
		log = logger.NewDefaultLogger()
	}
	r := &Registry{
		localAddress: localAddress,
		localKeys:    localKeys,
		keyDir:       keyDir,
		onFrame:      onFrame,
		localClients: localClients,
		log:          log,
		peers:        make(map[string]*Peer),
	}
	for _, addr := range addresses {
		id := PeerKeyID(addr)
		var pub *rsa.PublicKey
		if kp, err := keyDir.LoadPublic(id); err == nil {
			pub = kp.Public
		} else {
			log.Debug("no public key on disk yet for configured neighbour, will retry until provisioned",
				logger.String("address", addr))
		}
		r.peers[addr] = newPeer(addr, pub)
	}
	return r
}

// Start launches every peer's reconnect task; it returns once all tasks
// have been spawned, not once they connect.
func (r *Registry) Start(ctx context.Context) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.peers {
		go r.runReconnect(ctx, p)
	}
}

// Send relays frame unchanged to the named peer if it is currently
// Connected, returning an error otherwise so the caller can drop and log.
func (r *Registry) Send(address string, frame []byte) error {
	r.mu.RLock()
	p, ok := r.peers[address]
	r.mu.RUnlock()
	if !ok {
		return errs.Route("unknown neighbour address", nil)
	}
	if p.State() != Connected {
		return errs.Peer("neighbour is not connected", nil)
	}
	p.mu.RLock()
	conn := p.conn
	p.mu.RUnlock()
	if conn == nil || !conn.Send(frame) {
		metrics.FramesDropped.WithLabelValues("queue_full").Inc()
		return errs.Transport("outbound queue full for peer", nil)
	}
	return nil
}

// BroadcastSigned signs payload once per connected peer (each peer
// connection has its own outbound counter) and sends it, skipping peers
// that are not currently Connected.
func (r *Registry) BroadcastSigned(payload interface{}, priv *rsa.PrivateKey) {
	r.mu.RLock()
	peers := make([]*Peer, 0, len(r.peers))
	for _, p := range r.peers {
		if p.State() == Connected {
			peers = append(peers, p)
		}
	}
	r.mu.RUnlock()
	for _, p := range peers {
		if err := p.send(payload, priv); err != nil {
			r.log.Debug("failed to broadcast frame to peer", logger.String("address", p.Address), logger.Error(err))
		}
	}
}

// Broadcast relays frame to every currently Connected peer.
func (r *Registry) Broadcast(frame []byte) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.peers {
		if p.State() != Connected {
			continue
		}
		p.mu.RLock()
		conn := p.conn
		p.mu.RUnlock()
		if conn == nil || !conn.Send(frame) {
			metrics.FramesDropped.WithLabelValues("queue_full").Inc()
		}
	}
}

// List returns a snapshot of every configured peer, in map iteration order.
func (r *Registry) List() []Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Snapshot, 0, len(r.peers))
	for _, p := range r.peers {
		out = append(out, Snapshot{Address: p.Address, State: p.State(), Clients: p.Clients(), Fingerprint: p.fingerprint()})
	}
	return out
}

func PeerKeyID(address string) string {
	out := make([]byte, 0, len(address))
	for i := 0; i < len(address); i++ {
		if address[i] == ':' {
			out = append(out, '_')
		} else {
			out = append(out, address[i])
		}
	}
	return string(out)
}
