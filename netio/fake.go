package netio

import (
	"net"
	"time"
)

// FakeAddr is a net.Addr identifying one endpoint of a FakeConn pair by
// name, so e2e tests don't need real sockets or ports.
type FakeAddr string

func (a FakeAddr) Network() string { return "fake" }
func (a FakeAddr) String() string  { return string(a) }

// FakeConn is an in-memory, channel-backed PacketConn used by the
// engine tests: two FakeConns wired to each other's inbound channel
// stand in for a loopback UDP pair, letting the sender and receiver
// engines run against each other deterministically in one process.
type FakeConn struct {
	local  FakeAddr
	inbox  chan fakeDatagram
	peerOf func(addr net.Addr) chan fakeDatagram
}

type fakeDatagram struct {
	data []byte
	from net.Addr
}

// NewFakePair returns two connected FakeConns named a and b, each
// other's only possible peer.
func NewFakePair(a, b FakeAddr) (*FakeConn, *FakeConn) {
	inboxA := make(chan fakeDatagram, 64)
	inboxB := make(chan fakeDatagram, 64)

	connA := &FakeConn{local: a, inbox: inboxA}
	connB := &FakeConn{local: b, inbox: inboxB}

	connA.peerOf = func(net.Addr) chan fakeDatagram { return inboxB }
	connB.peerOf = func(net.Addr) chan fakeDatagram { return inboxA }
	return connA, connB
}

func (c *FakeConn) SendTo(b []byte, addr net.Addr) error {
	cp := append([]byte(nil), b...)
	c.peerOf(addr) <- fakeDatagram{data: cp, from: c.local}
	return nil
}

func (c *FakeConn) RecvFrom(buf []byte, deadline time.Time) (int, net.Addr, error) {
	if deadline.IsZero() {
		dg := <-c.inbox
		return copy(buf, dg.data), dg.from, nil
	}
	timeout := time.Until(deadline)
	if timeout <= 0 {
		select {
		case dg := <-c.inbox:
			return copy(buf, dg.data), dg.from, nil
		default:
			return 0, nil, ErrWouldBlock
		}
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case dg := <-c.inbox:
		return copy(buf, dg.data), dg.from, nil
	case <-timer.C:
		return 0, nil, ErrWouldBlock
	}
}

func (c *FakeConn) LocalAddr() net.Addr { return c.local }

func (c *FakeConn) Close() error { return nil }
