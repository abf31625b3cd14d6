package gossip

import (
	"encoding/binary"
	"fmt"
	"net/netip"
	"strconv"
	"strings"
	"time"
)

// NodeID names a peer for the lifetime of a run. For UDP peers ID is the
// IPv4 address in network byte order.
type NodeID struct {
	ID   uint32
	Port uint16
}

func (n NodeID) String() string {
	return fmt.Sprintf("%d:%d", n.ID, n.Port)
}

// AddrPort maps the identity back onto an IPv4 endpoint.
func (n NodeID) AddrPort() netip.AddrPort {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], n.ID)
	return netip.AddrPortFrom(netip.AddrFrom4(b), n.Port)
}

// less orders identities by id, then port.
func (n NodeID) less(o NodeID) bool {
	if n.ID != o.ID {
		return n.ID < o.ID
	}
	return n.Port < o.Port
}

// NodeIDFromAddrPort derives an identity from an IPv4 endpoint.
func NodeIDFromAddrPort(ap netip.AddrPort) (NodeID, error) {
	addr := ap.Addr().Unmap()
	if !addr.Is4() {
		return NodeID{}, fmt.Errorf("gossip: %s is not an IPv4 endpoint", ap)
	}
	b := addr.As4()
	return NodeID{ID: binary.BigEndian.Uint32(b[:]), Port: ap.Port()}, nil
}

// ParseNodeID accepts "<id>:<port>" where id is either a decimal integer or a
// dotted IPv4 address.
func ParseNodeID(s string) (NodeID, error) {
	i := strings.LastIndexByte(s, ':')
	if i < 0 {
		return NodeID{}, fmt.Errorf("gossip: node id %q: missing port", s)
	}
	host, portStr := s[:i], s[i+1:]
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return NodeID{}, fmt.Errorf("gossip: node id %q: bad port: %w", s, err)
	}
	if strings.Contains(host, ".") {
		addr, err := netip.ParseAddr(host)
		if err != nil {
			return NodeID{}, fmt.Errorf("gossip: node id %q: %w", s, err)
		}
		return NodeIDFromAddrPort(netip.AddrPortFrom(addr, uint16(port)))
	}
	id, err := strconv.ParseUint(host, 10, 32)
	if err != nil {
		return NodeID{}, fmt.Errorf("gossip: node id %q: bad id: %w", s, err)
	}
	return NodeID{ID: uint32(id), Port: uint16(port)}, nil
}

// MsgType is the wire discriminant carried in the first byte of every message.
type MsgType uint8

const (
	MsgJoinRequest MsgType = iota
	MsgJoinReply
	MsgGossip
)

func (t MsgType) String() string {
	switch t {
	case MsgJoinRequest:
		return "join_request"
	case MsgJoinReply:
		return "join_reply"
	case MsgGossip:
		return "gossip"
	default:
		return "unknown"
	}
}

// MemberRecord is one row of the membership table as seen by a single node.
// LastRefreshed is the observer's local clock reading, never the sender's.
type MemberRecord struct {
	ID            NodeID
	Heartbeat     int64
	LastRefreshed time.Duration
	Alive         bool
}

// Message is implemented by JoinRequest, JoinReply and GossipDigest.
type Message interface {
	Type() MsgType
}

// JoinRequest is sent by a newcomer to the introducer.
type JoinRequest struct {
	From      NodeID
	Heartbeat int64
}

// JoinReply is the introducer's unicast answer to a JoinRequest.
type JoinReply struct {
	Members []MemberRecord
}

// GossipDigest is the periodic anti-entropy push.
type GossipDigest struct {
	Members []MemberRecord
}

func (JoinRequest) Type() MsgType  { return MsgJoinRequest }
func (JoinReply) Type() MsgType    { return MsgJoinReply }
func (GossipDigest) Type() MsgType { return MsgGossip }
