// Package netio abstracts the datagram substrate the PLC shim sits on
// top of: a blocking send-to-address and a receive-from-address, with
// an optional non-blocking poll used by the receiver during its
// time-wait teardown.
package netio

import (
	"errors"
	"net"
	"time"
)

// ErrWouldBlock is returned by RecvFrom when its non-zero deadline
// passes (or has already passed) before a datagram is ready.
var ErrWouldBlock = errors.New("netio: would block")

// PacketConn is the minimal datagram interface the PLC shim needs.
// UDPConn adapts a *net.UDPConn to it.
type PacketConn interface {
	// SendTo writes b as a single datagram to addr.
	SendTo(b []byte, addr net.Addr) error

	// RecvFrom blocks until a datagram arrives, or until deadline (if
	// non-zero) passes, in which case it returns ErrWouldBlock. It
	// returns the number of bytes written into buf and the sender's
	// address.
	RecvFrom(buf []byte, deadline time.Time) (n int, addr net.Addr, err error)

	// LocalAddr returns the address this endpoint is bound to.
	LocalAddr() net.Addr

	Close() error
}

// UDPConn adapts *net.UDPConn to PacketConn.
type UDPConn struct {
	conn *net.UDPConn
}

// ListenUDP opens a UDP socket bound to the given local port.
func ListenUDP(port int) (*UDPConn, error) {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{Port: port})
	if err != nil {
		return nil, err
	}
	return &UDPConn{conn: conn}, nil
}

func (u *UDPConn) SendTo(b []byte, addr net.Addr) error {
	_, err := u.conn.WriteTo(b, addr)
	return err
}

func (u *UDPConn) RecvFrom(buf []byte, deadline time.Time) (int, net.Addr, error) {
	if err := u.conn.SetReadDeadline(deadline); err != nil {
		return 0, nil, err
	}
	n, addr, err := u.conn.ReadFrom(buf)
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return 0, nil, ErrWouldBlock
		}
		return 0, nil, err
	}
	return n, addr, nil
}

func (u *UDPConn) LocalAddr() net.Addr { return u.conn.LocalAddr() }

func (u *UDPConn) Close() error { return u.conn.Close() }

// ResolveLoopback builds a loopback UDP address for the given port,
// the only peer topology URP's single-peer-per-endpoint model needs.
func ResolveLoopback(port int) *net.UDPAddr {
	return &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: port}
}
