package gossip

import (
	"bytes"
	"encoding/binary"
	"errors"
	"reflect"
	"testing"
	"time"
)

func TestEncodeJoinRequestLayout(t *testing.T) {
	b, err := Encode(JoinRequest{From: NodeID{ID: 0x01020304, Port: 0x0506}, Heartbeat: 7})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	want := []byte{0, 1, 2, 3, 4, 5, 6, 0, 0, 0, 0, 0, 0, 0, 7}
	if !bytes.Equal(b, want) {
		t.Fatalf("Encode = %v, want %v", b, want)
	}
}

func TestRoundTrip(t *testing.T) {
	recs := []MemberRecord{
		{ID: NodeID{ID: 1, Port: 0}, Heartbeat: 12, LastRefreshed: 3 * time.Second, Alive: true},
		{ID: NodeID{ID: 2, Port: 9000}, Heartbeat: 1 << 40, LastRefreshed: 0, Alive: true},
	}
	msgs := []Message{
		JoinRequest{From: NodeID{ID: 42, Port: 7946}, Heartbeat: 0},
		JoinRequest{From: NodeID{ID: ^uint32(0), Port: ^uint16(0)}, Heartbeat: -1},
		JoinReply{Members: recs},
		GossipDigest{Members: recs},
		GossipDigest{Members: []MemberRecord{}},
	}
	for _, m := range msgs {
		b, err := Encode(m)
		if err != nil {
			t.Fatalf("Encode(%#v): %v", m, err)
		}
		got, err := Decode(b)
		if err != nil {
			t.Fatalf("Decode(%v): %v", b, err)
		}
		if !reflect.DeepEqual(got, m) {
			t.Fatalf("round trip = %#v, want %#v", got, m)
		}
	}
}

func TestEncodeAcceptsPointers(t *testing.T) {
	b1, _ := Encode(&GossipDigest{})
	b2, _ := Encode(GossipDigest{})
	if !bytes.Equal(b1, b2) {
		t.Fatalf("pointer encoding %v differs from value encoding %v", b1, b2)
	}
}

func TestDecodeRejectsMalformed(t *testing.T) {
	oneRecord, _ := Encode(GossipDigest{Members: []MemberRecord{{ID: NodeID{ID: 1}}}})
	lying := append([]byte(nil), oneRecord...)
	binary.BigEndian.PutUint32(lying[1:5], 2)
	huge := []byte{byte(MsgJoinReply), 0xff, 0xff, 0xff, 0xff, 1, 2, 3}

	cases := map[string][]byte{
		"empty":             {},
		"join short":        {byte(MsgJoinRequest), 0, 0, 0, 1},
		"join long":         append(make([]byte, joinRequestSize), 0),
		"list no count":     {byte(MsgGossip), 0, 0},
		"count mismatch":    lying,
		"trailing bytes":    append(append([]byte(nil), oneRecord...), 0),
		"count exceeds len": huge,
	}
	for name, b := range cases {
		if _, err := Decode(b); !errors.Is(err, ErrMalformedMessage) {
			t.Fatalf("%s: Decode err = %v, want ErrMalformedMessage", name, err)
		}
	}
}

func TestDecodeUnknownKind(t *testing.T) {
	_, err := Decode([]byte{3, 0, 0})
	if !errors.Is(err, ErrUnrecognizedMessageKind) {
		t.Fatalf("Decode err = %v, want ErrUnrecognizedMessageKind", err)
	}
}

func TestParseNodeID(t *testing.T) {
	for in, want := range map[string]NodeID{
		"1:0":            {ID: 1, Port: 0},
		"4294967295:80":  {ID: ^uint32(0), Port: 80},
		"127.0.0.1:7946": {ID: 0x7f000001, Port: 7946},
	} {
		got, err := ParseNodeID(in)
		if err != nil || got != want {
			t.Fatalf("ParseNodeID(%q) = (%v, %v), want (%v, nil)", in, got, err, want)
		}
	}
	for _, bad := range []string{"", "12", "x:1", "1:70000", "::1:80", "1.2.3:4"} {
		if _, err := ParseNodeID(bad); err == nil {
			t.Fatalf("ParseNodeID(%q) succeeded, want error", bad)
		}
	}
}

func TestNodeIDAddrPortRoundTrip(t *testing.T) {
	id := NodeID{ID: 0x0a000005, Port: 1234}
	if got := id.AddrPort().String(); got != "10.0.0.5:1234" {
		t.Fatalf("AddrPort = %s, want 10.0.0.5:1234", got)
	}
	back, err := NodeIDFromAddrPort(id.AddrPort())
	if err != nil || back != id {
		t.Fatalf("NodeIDFromAddrPort = (%v, %v), want (%v, nil)", back, err, id)
	}
}
