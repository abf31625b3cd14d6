package main

import (
	"flag"
	"fmt"
	"math/rand"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/ryandielhenn/zephyrgossip/pkg/gossip"
)

// bench runs a whole group in one process over the emulated network and
// reports how many ticks the views need to converge, before and after a
// batch of crashes.
func main() {
	n := flag.Int("n", 10, "nodes")
	drop := flag.Float64("drop", 0.1, "message drop probability")
	fanout := flag.Int("fanout", gossip.DefaultGossipFanout, "gossip fanout")
	fail := flag.Int("fail", 1, "nodes to crash after convergence")
	tFail := flag.Int("tfail", 5, "T_FAIL in ticks")
	tRemove := flag.Int("tremove", 20, "T_REMOVE in ticks")
	maxTicks := flag.Int("max", 500, "give up after this many ticks")
	seed := flag.Int64("seed", time.Now().UnixNano(), "random seed")
	verbose := flag.Bool("v", false, "log membership events")
	flag.Parse()

	logger := zap.NewNop()
	if *verbose {
		logger, _ = zap.NewDevelopment()
	}
	defer logger.Sync()

	const tick = time.Second
	rng := rand.New(rand.NewSource(*seed))
	net := gossip.NewNetwork(*drop, 0, rand.New(rand.NewSource(rng.Int63())))
	clock := &gossip.ManualClock{}
	intro := gossip.NodeID{ID: 1}

	nodes := make([]*gossip.Engine, 0, *n)
	for i := 1; i <= *n; i++ {
		self := gossip.NodeID{ID: uint32(i)}
		tr, err := net.Attach(self)
		if err != nil {
			fatal(err)
		}
		e, err := gossip.New(gossip.Config{
			Self:          self,
			Introducer:    intro,
			TickInterval:  tick,
			FailTimeout:   time.Duration(*tFail) * tick,
			RemoveTimeout: time.Duration(*tRemove) * tick,
			GossipFanout:  *fanout,
			JoinRetry:     &gossip.JoinRetry{MaxWait: 4 * tick},
			Logger:        logger,
			Rand:          rand.New(rand.NewSource(rng.Int63())),
		}, tr, clock)
		if err != nil {
			fatal(err)
		}
		if err := e.Start(); err != nil {
			fatal(err)
		}
		nodes = append(nodes, e)
	}

	start := time.Now()
	ticks, ok := runUntil(clock, nodes, *maxTicks, len(nodes))
	report("join", ticks, ok, net)

	if *fail > 0 && *fail < len(nodes) {
		for _, i := range rng.Perm(len(nodes) - 1)[:*fail] {
			nodes[i+1].Fail() // never the introducer
		}
		ticks, ok = runUntil(clock, nodes, *maxTicks, len(nodes)-*fail)
		report("removal", ticks, ok, net)
	}
	fmt.Printf("wall time %s (seed %d)\n", time.Since(start), *seed)
}

// runUntil steps every node until all live nodes see exactly want members.
func runUntil(clock *gossip.ManualClock, nodes []*gossip.Engine, limit, want int) (int, bool) {
	for t := 1; t <= limit; t++ {
		clock.Advance(time.Second)
		for _, e := range nodes {
			e.Step()
		}
		if converged(nodes, want) {
			return t, true
		}
	}
	return limit, false
}

func converged(nodes []*gossip.Engine, want int) bool {
	for _, e := range nodes {
		if e.Failed() {
			continue
		}
		if e.State() != gossip.InGroup || len(e.LiveMembers()) != want {
			return false
		}
	}
	return true
}

func report(phase string, ticks int, ok bool, net *gossip.Network) {
	s := net.Stats()
	status := "converged"
	if !ok {
		status = "did NOT converge"
	}
	fmt.Printf("%-8s %s after %d ticks (sent %d, delivered %d, dropped %d)\n",
		phase, status, ticks, s.Sent, s.Delivered, s.Dropped)
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
