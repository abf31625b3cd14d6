package gossip

import (
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/ryandielhenn/zephyrgossip/internal/telemetry"
)

// Transport moves opaque payloads between nodes. Delivery is at-most-once and
// unordered; a nil error from Send promises nothing about arrival.
type Transport interface {
	Send(to NodeID, payload []byte) error
	// Receive returns the next queued payload without blocking.
	Receive() ([]byte, bool)
	Close() error
}

var (
	ErrUnknownPeer     = errors.New("gossip: unknown peer")
	ErrTransportClosed = errors.New("gossip: transport closed")
	ErrEndpointInUse   = errors.New("gossip: endpoint already attached")
)

// DefaultQueueSize bounds each endpoint's inbound queue.
const DefaultQueueSize = 1024

// NetworkStats counts traffic across an emulated Network.
type NetworkStats struct {
	Sent      uint64
	Delivered uint64
	Dropped   uint64
}

// Network is an in-process emulated network. It loses a configurable share
// of messages and never reorders within one endpoint's queue.
type Network struct {
	mu        sync.Mutex
	endpoints map[NodeID]*ChannelTransport
	dropRate  float64
	queueSize int
	rng       *rand.Rand
	stats     NetworkStats
}

// NewNetwork builds an emulated network. dropRate is the probability in
// [0,1] that any single send is lost.
func NewNetwork(dropRate float64, queueSize int, rng *rand.Rand) *Network {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Network{
		endpoints: make(map[NodeID]*ChannelTransport),
		dropRate:  clampRate(dropRate),
		queueSize: queueSize,
		rng:       rng,
	}
}

func clampRate(p float64) float64 {
	switch {
	case p < 0:
		return 0
	case p > 1:
		return 1
	}
	return p
}

// SetDropRate changes the loss probability for subsequent sends.
func (n *Network) SetDropRate(p float64) {
	n.mu.Lock()
	n.dropRate = clampRate(p)
	n.mu.Unlock()
}

// Stats returns a copy of the traffic counters.
func (n *Network) Stats() NetworkStats {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.stats
}

// Attach creates the endpoint for id.
func (n *Network) Attach(id NodeID) (*ChannelTransport, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, ok := n.endpoints[id]; ok {
		return nil, ErrEndpointInUse
	}
	t := &ChannelTransport{
		net:   n,
		self:  id,
		inbox: make(chan []byte, n.queueSize),
	}
	n.endpoints[id] = t
	return t, nil
}

func (n *Network) deliver(from, to NodeID, payload []byte) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if src := n.endpoints[from]; src == nil || src.closed {
		return ErrTransportClosed
	}
	dst, ok := n.endpoints[to]
	if !ok {
		return ErrUnknownPeer
	}
	n.stats.Sent++
	if dst.closed || (n.dropRate > 0 && n.rng.Float64() < n.dropRate) {
		n.stats.Dropped++
		return nil
	}
	select {
	case dst.inbox <- append([]byte(nil), payload...):
		n.stats.Delivered++
	default:
		n.stats.Dropped++
		telemetry.QueueDrops.WithLabelValues(to.String()).Inc()
	}
	return nil
}

// ChannelTransport is one endpoint of a Network.
type ChannelTransport struct {
	net    *Network
	self   NodeID
	inbox  chan []byte
	closed bool // guarded by net.mu
}

func (t *ChannelTransport) Send(to NodeID, payload []byte) error {
	return t.net.deliver(t.self, to, payload)
}

func (t *ChannelTransport) Receive() ([]byte, bool) {
	select {
	case b := <-t.inbox:
		return b, true
	default:
		return nil, false
	}
}

// Close detaches the endpoint; later sends to it are silently lost.
func (t *ChannelTransport) Close() error {
	t.net.mu.Lock()
	t.closed = true
	t.net.mu.Unlock()
	return nil
}
