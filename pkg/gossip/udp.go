package gossip

import (
	"errors"
	"fmt"
	"net"
	"sync"

	"go.uber.org/zap"

	"github.com/ryandielhenn/zephyrgossip/internal/telemetry"
)

// maxDatagram is the largest UDP payload we read; a digest of ~2900 members.
const maxDatagram = 64 << 10

// UDPTransport sends each message as one datagram. A reader goroutine feeds
// a bounded inbox; overflow is dropped.
type UDPTransport struct {
	self  NodeID
	conn  *net.UDPConn
	inbox chan []byte
	log   *zap.Logger

	closeOnce sync.Once
	done      chan struct{}
	wg        sync.WaitGroup
}

// ListenUDP binds self's endpoint. A zero port binds an ephemeral one; use
// LocalID to learn the identity actually in use.
func ListenUDP(self NodeID, queueSize int, log *zap.Logger) (*UDPTransport, error) {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	if log == nil {
		log = zap.NewNop()
	}
	conn, err := net.ListenUDP("udp4", net.UDPAddrFromAddrPort(self.AddrPort()))
	if err != nil {
		return nil, fmt.Errorf("gossip: listen %s: %w", self.AddrPort(), err)
	}
	if self.Port == 0 {
		self.Port = uint16(conn.LocalAddr().(*net.UDPAddr).Port)
	}
	t := &UDPTransport{
		self:  self,
		conn:  conn,
		inbox: make(chan []byte, queueSize),
		log:   log.Named("udp").With(zap.Stringer("self", self)),
		done:  make(chan struct{}),
	}
	t.wg.Add(1)
	go t.readLoop()
	return t, nil
}

// LocalID is the identity peers should use to reach this transport.
func (t *UDPTransport) LocalID() NodeID { return t.self }

func (t *UDPTransport) readLoop() {
	defer t.wg.Done()
	buf := make([]byte, maxDatagram)
	for {
		n, from, err := t.conn.ReadFromUDPAddrPort(buf)
		if err != nil {
			select {
			case <-t.done:
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			t.log.Debug("read failed", zap.Error(err))
			continue
		}
		select {
		case t.inbox <- append([]byte(nil), buf[:n]...):
		default:
			telemetry.QueueDrops.WithLabelValues(t.self.String()).Inc()
			t.log.Debug("inbox full, dropping datagram", zap.Stringer("from", from))
		}
	}
}

func (t *UDPTransport) Send(to NodeID, payload []byte) error {
	select {
	case <-t.done:
		return ErrTransportClosed
	default:
	}
	_, err := t.conn.WriteToUDPAddrPort(payload, to.AddrPort())
	return err
}

func (t *UDPTransport) Receive() ([]byte, bool) {
	select {
	case b := <-t.inbox:
		return b, true
	default:
		return nil, false
	}
}

func (t *UDPTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.done)
		err = t.conn.Close()
		t.wg.Wait()
	})
	return err
}
