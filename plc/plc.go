// Package plc implements the packet-loss-and-corruption shim: a thin
// wrapper around a datagram connection that models a lossy channel by
// dropping or bit-flipping datagrams according to four independent
// Bernoulli trials.
package plc

import (
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/urp-project/urp/internal/xorshift"
	"github.com/urp-project/urp/metrics"
	"github.com/urp-project/urp/netio"
	"github.com/urp-project/urp/segment"
	"github.com/urp-project/urp/urplog"
)

// Params holds the four loss/corruption probabilities, each in [0,1].
type Params struct {
	ForwardLoss       float64
	ReverseLoss       float64
	ForwardCorruption float64
	ReverseCorruption float64
}

// Stats counts the shim's own decisions, independent of the protocol
// counters the sender/receiver engines maintain.
type Stats struct {
	mu               sync.Mutex
	ForwardDropped   uint64
	ForwardCorrupted uint64
	ReverseDropped   uint64
	ReverseCorrupted uint64
}

func (s *Stats) incForwardDropped()   { s.mu.Lock(); s.ForwardDropped++; s.mu.Unlock() }
func (s *Stats) incForwardCorrupted() { s.mu.Lock(); s.ForwardCorrupted++; s.mu.Unlock() }
func (s *Stats) incReverseDropped()   { s.mu.Lock(); s.ReverseDropped++; s.mu.Unlock() }
func (s *Stats) incReverseCorrupted() { s.mu.Lock(); s.ReverseCorrupted++; s.mu.Unlock() }

// Snapshot returns a copy of the current counters, safe to read while
// the shim is in use by another goroutine.
func (s *Stats) Snapshot() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		ForwardDropped:   s.ForwardDropped,
		ForwardCorrupted: s.ForwardCorrupted,
		ReverseDropped:   s.ReverseDropped,
		ReverseCorrupted: s.ReverseCorrupted,
	}
}

// Shim wraps a netio.PacketConn, applying Params on both the send and
// receive path. Its send path holds sendMu so that socket writes and
// their log lines stay interleaved atomically when called from more
// than one goroutine.
type Shim struct {
	conn    netio.PacketConn
	peer    net.Addr
	params  Params
	rng     *xorshift.State
	log     *slog.Logger
	elog    *urplog.EventLogger
	stats   Stats
	metrics *metrics.SenderMetrics

	sendMu sync.Mutex
}

// New constructs a Shim. seed drives the shim's own RNG and is owned
// exclusively by it, never a process-global generator. elog may be nil,
// in which case the literal sender_log.txt-style event lines are
// skipped but diagnostic slog output is unaffected.
func New(conn netio.PacketConn, peer net.Addr, params Params, seed uint64, log *slog.Logger, elog *urplog.EventLogger) *Shim {
	return &Shim{
		conn:   conn,
		peer:   peer,
		params: params,
		rng:    xorshift.New(seed),
		log:    log,
		elog:   elog,
	}
}

func (s *Shim) logEvent(dir urplog.Direction, action urplog.Action, seg segment.Segment) {
	if s.elog == nil {
		return
	}
	s.elog.Log(dir, action, seg.Type(), uint16(seg.SeqNum), len(seg.Payload))
}

// Stats returns a live snapshot of the shim's loss/corruption counters.
func (s *Shim) Stats() Stats { return s.stats.Snapshot() }

// SetMetrics attaches a live Prometheus mirror of the shim's own
// loss/corruption counters, distinct from the sender engine's protocol
// counters but exposed through the same SenderMetrics struct.
func (s *Shim) SetMetrics(m *metrics.SenderMetrics) { s.metrics = m }

// Send encodes seg, runs the forward-loss and forward-corruption
// trials, and transmits the (possibly corrupted) datagram.
func (s *Shim) Send(seg segment.Segment) error {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	if s.rng.Bernoulli(s.params.ForwardLoss) {
		s.stats.incForwardDropped()
		if s.metrics != nil {
			s.metrics.ForwardDropped.Inc()
		}
		s.log.Debug("snd drp", "type", seg.Type(), "seq", seg.SeqNum, "len", len(seg.Payload))
		s.logEvent(urplog.DirSend, urplog.ActionDrop, seg)
		return nil
	}

	buf, err := segment.Encode(seg)
	if err != nil {
		return fmt.Errorf("plc: encode: %w", err)
	}

	if len(buf) > segment.HeaderSize && s.rng.Bernoulli(s.params.ForwardCorruption) {
		flipPayloadBit(s.rng, buf)
		s.stats.incForwardCorrupted()
		if s.metrics != nil {
			s.metrics.ForwardCorrupted.Inc()
		}
		s.log.Debug("snd cor", "type", seg.Type(), "seq", seg.SeqNum, "len", len(seg.Payload))
		s.logEvent(urplog.DirSend, urplog.ActionCorrupt, seg)
	} else {
		s.log.Debug("snd ok", "type", seg.Type(), "seq", seg.SeqNum, "len", len(seg.Payload))
		s.logEvent(urplog.DirSend, urplog.ActionOK, seg)
	}

	return s.conn.SendTo(buf, s.peer)
}

// Recv blocks until a usable datagram has been accepted from the
// configured peer: it discards datagrams from any other source (logging
// a warning), retries on a reverse-loss trial outcome, and otherwise
// returns the segment together with whether the reverse-corruption
// trial flipped one of its payload bits.
func (s *Shim) Recv(deadline time.Time) (seg segment.Segment, corrupted bool, err error) {
	buf := make([]byte, 2048)
	for {
		n, from, err := s.conn.RecvFrom(buf, deadline)
		if err != nil {
			return segment.Segment{}, false, err
		}
		if s.peer != nil && from.String() != s.peer.String() {
			s.log.Warn("rcv from unexpected peer", "addr", from)
			continue
		}

		datagram := append([]byte(nil), buf[:n]...)
		seg, intact, err := segment.Decode(datagram)
		if err != nil {
			return segment.Segment{}, false, err
		}
		if !intact {
			// The loopback substrate never corrupts on its own; a
			// corrupt CRC here means the datagram was already
			// tampered with before reaching this shim (e.g. a
			// malicious or buggy peer), which callers treat the
			// same as any other corrupted segment.
			return seg, true, nil
		}

		if s.rng.Bernoulli(s.params.ReverseLoss) {
			s.stats.incReverseDropped()
			if s.metrics != nil {
				s.metrics.ReverseDropped.Inc()
			}
			s.log.Debug("rcv drp", "type", seg.Type(), "seq", seg.SeqNum, "len", len(seg.Payload))
			s.logEvent(urplog.DirRecv, urplog.ActionDrop, seg)
			continue
		}

		if len(datagram) > segment.HeaderSize && s.rng.Bernoulli(s.params.ReverseCorruption) {
			flipPayloadBit(s.rng, datagram)
			corrupted = true
			s.stats.incReverseCorrupted()
			if s.metrics != nil {
				s.metrics.ReverseCorrupted.Inc()
			}
			reDecoded, _, err := segment.Decode(datagram)
			if err != nil {
				return segment.Segment{}, false, err
			}
			seg = reDecoded
			s.log.Debug("rcv cor", "type", seg.Type(), "seq", seg.SeqNum, "len", len(seg.Payload))
			s.logEvent(urplog.DirRecv, urplog.ActionCorrupt, seg)
		} else {
			s.log.Debug("rcv ok", "type", seg.Type(), "seq", seg.SeqNum, "len", len(seg.Payload))
			s.logEvent(urplog.DirRecv, urplog.ActionOK, seg)
		}
		return seg, corrupted, nil
	}
}

// flipPayloadBit XORs one pseudo-randomly chosen bit within buf's
// payload region (offset >= segment.HeaderSize). buf must be longer
// than segment.HeaderSize.
func flipPayloadBit(rng *xorshift.State, buf []byte) {
	payloadLen := len(buf) - segment.HeaderSize
	offset := segment.HeaderSize + rng.IntN(payloadLen)
	bit := rng.IntN(8)
	buf[offset] ^= 1 << uint(bit)
}
