// Package gossip implements a gossip-based membership and failure detection
// subsystem. Every node keeps a MemberTable of the peers it believes are
// alive, advances its own heartbeat on each tick and pushes a digest of the
// fresh part of its table to a few random peers. Peers that stop advancing
// their heartbeat are first withheld from digests (after FailTimeout) and then
// tombstoned (after a further RemoveTimeout).
//
// Newcomers join by sending a JoinRequest to a well-known introducer, which
// answers with a JoinReply carrying its current view.
//
// Typical usage:
//
//	tr, _ := gossip.ListenUDP(self, 1024, logger)
//	e, _ := gossip.New(gossip.Config{Self: self, Introducer: intro}, tr, gossip.NewSystemClock())
//	go e.Run(ctx)
//
// Tests and simulations can swap the UDP transport for the in-process
// Network, which drops messages at a configurable rate.
package gossip
