package gossip

import (
	"bytes"
	"errors"
	"math/rand"
	"testing"
	"time"
)

func TestNetworkDelivers(t *testing.T) {
	net := NewNetwork(0, 4, nil)
	a, _ := net.Attach(nid(1))
	b, _ := net.Attach(nid(2))

	msg := []byte("hello")
	if err := a.Send(nid(2), msg); err != nil {
		t.Fatalf("Send: %v", err)
	}
	msg[0] = 'j' // the network must have copied the payload
	got, ok := b.Receive()
	if !ok || !bytes.Equal(got, []byte("hello")) {
		t.Fatalf("Receive = (%q, %v), want (hello, true)", got, ok)
	}
	if _, ok := b.Receive(); ok {
		t.Fatal("Receive returned a second message")
	}
	if _, err := net.Attach(nid(1)); !errors.Is(err, ErrEndpointInUse) {
		t.Fatalf("duplicate Attach err = %v, want ErrEndpointInUse", err)
	}
}

func TestNetworkErrors(t *testing.T) {
	net := NewNetwork(0, 4, nil)
	a, _ := net.Attach(nid(1))
	b, _ := net.Attach(nid(2))

	if err := a.Send(nid(9), nil); !errors.Is(err, ErrUnknownPeer) {
		t.Fatalf("send to unknown err = %v, want ErrUnknownPeer", err)
	}
	_ = b.Close()
	if err := a.Send(nid(2), []byte("x")); err != nil {
		t.Fatalf("send to closed peer err = %v, want silent loss", err)
	}
	if err := b.Send(nid(1), []byte("x")); !errors.Is(err, ErrTransportClosed) {
		t.Fatalf("send from closed endpoint err = %v, want ErrTransportClosed", err)
	}
	if s := net.Stats(); s.Dropped != 1 || s.Delivered != 0 {
		t.Fatalf("Stats = %+v, want one drop", s)
	}
}

func TestNetworkDropsAndOverflow(t *testing.T) {
	net := NewNetwork(1, 2, rand.New(rand.NewSource(1)))
	a, _ := net.Attach(nid(1))
	b, _ := net.Attach(nid(2))

	for i := 0; i < 10; i++ {
		_ = a.Send(nid(2), []byte{byte(i)})
	}
	if _, ok := b.Receive(); ok {
		t.Fatal("message survived a drop rate of 1")
	}

	net.SetDropRate(0)
	for i := 0; i < 5; i++ {
		_ = a.Send(nid(2), []byte{byte(i)})
	}
	for i := 0; i < 2; i++ {
		got, ok := b.Receive()
		if !ok || got[0] != byte(i) {
			t.Fatalf("Receive #%d = (%v, %v), want ([%d], true)", i, got, ok, i)
		}
	}
	if _, ok := b.Receive(); ok {
		t.Fatal("queue held more than its bound")
	}
	s := net.Stats()
	if s.Sent != 15 || s.Delivered != 2 || s.Dropped != 13 {
		t.Fatalf("Stats = %+v, want sent 15 delivered 2 dropped 13", s)
	}
}

func TestUDPTransportLoopback(t *testing.T) {
	loopback := NodeID{ID: 0x7f000001}
	a, err := ListenUDP(loopback, 8, nil)
	if err != nil {
		t.Skipf("udp unavailable: %v", err)
	}
	defer a.Close()
	b, err := ListenUDP(loopback, 8, nil)
	if err != nil {
		t.Fatalf("ListenUDP: %v", err)
	}
	defer b.Close()

	if b.LocalID().Port == 0 {
		t.Fatal("LocalID kept port 0")
	}
	payload, _ := Encode(JoinRequest{From: a.LocalID()})
	if err := a.Send(b.LocalID(), payload); err != nil {
		t.Fatalf("Send: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if got, ok := b.Receive(); ok {
			if !bytes.Equal(got, payload) {
				t.Fatalf("Receive = %v, want %v", got, payload)
			}
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("datagram not received")
}

func TestUDPTransportClose(t *testing.T) {
	a, err := ListenUDP(NodeID{ID: 0x7f000001}, 0, nil)
	if err != nil {
		t.Skipf("udp unavailable: %v", err)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	_ = a.Close()
	if err := a.Send(a.LocalID(), []byte("x")); !errors.Is(err, ErrTransportClosed) {
		t.Fatalf("Send after Close err = %v, want ErrTransportClosed", err)
	}
}
