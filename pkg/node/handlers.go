package node

import (
	"encoding/json"
	"net/http"
	"os"
	"time"

	"github.com/ryandielhenn/zephyrgossip/pkg/gossip"
)

// Healthz returns 200 once the node is in the group and 503 before that, so
// a node whose join was never answered shows up as unhealthy.
func (n *Node) Healthz(w http.ResponseWriter, _ *http.Request) {
	if st := n.gsp.State(); st != gossip.InGroup {
		http.Error(w, st.String(), http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// Info writes a JSON summary of the local node.
func (n *Node) Info(w http.ResponseWriter, _ *http.Request) {
	type resp struct {
		PID       int       `json:"pid"`
		Now       time.Time `json:"now"`
		Uptime    string    `json:"uptime"`
		Self      string    `json:"self"`
		State     string    `json:"state"`
		Heartbeat int64     `json:"heartbeat"`
		Live      int       `json:"live"`
	}
	live := 0
	for _, m := range n.gsp.Members() {
		if m.Alive {
			live++
		}
	}
	writeJSON(w, resp{
		PID:       os.Getpid(),
		Now:       time.Now(),
		Uptime:    time.Since(n.started).Round(time.Second).String(),
		Self:      n.gsp.Self().String(),
		State:     n.gsp.State().String(),
		Heartbeat: n.gsp.Heartbeat(),
		Live:      live,
	})
}

type memberJSON struct {
	ID            string `json:"id"`
	Addr          string `json:"addr"`
	Heartbeat     int64  `json:"heartbeat"`
	LastRefreshed string `json:"last_refreshed"`
	Alive         bool   `json:"alive"`
}

// Members writes the full local table, tombstones included.
func (n *Node) Members(w http.ResponseWriter, _ *http.Request) {
	recs := n.gsp.Members()
	out := make([]memberJSON, 0, len(recs))
	for _, r := range recs {
		out = append(out, memberJSON{
			ID:            r.ID.String(),
			Addr:          r.ID.AddrPort().String(),
			Heartbeat:     r.Heartbeat,
			LastRefreshed: r.LastRefreshed.String(),
			Alive:         r.Alive,
		})
	}
	writeJSON(w, out)
}

func writeJSON(w http.ResponseWriter, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}
