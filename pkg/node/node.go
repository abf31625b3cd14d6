package node

import (
	"net/http"
	"time"

	"github.com/ryandielhenn/zephyrgossip/internal/telemetry"
	"github.com/ryandielhenn/zephyrgossip/pkg/gossip"
)

// Membership is the read side of a gossip engine.
type Membership interface {
	Self() gossip.NodeID
	State() gossip.State
	Heartbeat() int64
	Members() []gossip.MemberRecord
}

// Node serves the admin HTTP surface of one gossip node.
type Node struct {
	gsp     Membership
	started time.Time
}

func NewNode(gsp Membership) *Node {
	return &Node{gsp: gsp, started: time.Now()}
}

// Handler mounts every admin endpoint, each instrumented under its own op.
func (n *Node) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/healthz", telemetry.Instrument("healthz", http.HandlerFunc(n.Healthz)))
	mux.Handle("/info", telemetry.Instrument("info", http.HandlerFunc(n.Info)))
	mux.Handle("/members", telemetry.Instrument("members", http.HandlerFunc(n.Members)))
	mux.Handle("/metrics", telemetry.MetricsHandler())
	return mux
}
