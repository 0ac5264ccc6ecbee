// Package receiver implements the URP receiver engine: connection
// acceptance, the reordering buffer, cumulative-ACK emission, and FIN
// handling with timed-wait termination.
package receiver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/urp-project/urp/metrics"
	"github.com/urp-project/urp/netio"
	"github.com/urp-project/urp/protoerr"
	"github.com/urp-project/urp/segment"
	"github.com/urp-project/urp/seqnum"
	"github.com/urp-project/urp/urplog"
)

// pollInterval bounds how long a single receive waits before the main
// loop re-checks for cancellation or time-wait expiry, matching spec's
// requirement that the time_wait socket read path polls rather than
// blocking indefinitely.
const pollInterval = 50 * time.Millisecond

// State is a receiver connection's lifecycle state.
type State int

const (
	StateClosed State = iota
	StateListen
	StateEstablished
	StateTimeWait
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateListen:
		return "listen"
	case StateEstablished:
		return "est"
	case StateTimeWait:
		return "time_wait"
	default:
		return "unknown"
	}
}

// Config holds the receiver's fixed parameters.
type Config struct {
	MaxWindow int
	MSL       time.Duration
}

// Engine is one receiver connection's state control block plus its I/O.
// Unlike the sender, the receiver talks directly over its netio.PacketConn:
// the PLC shim lives only on the sender side of the wire, per the
// process invocations in spec §6 (only the sender takes loss/corruption
// parameters).
type Engine struct {
	conn    netio.PacketConn
	peer    net.Addr
	sink    io.Writer
	cfg     Config
	log     *slog.Logger
	elog    *urplog.EventLogger
	metrics *metrics.ReceiverMetrics

	mu      sync.Mutex
	started bool
	state   State
	rcvBase seqnum.Value
	buffer  []segment.Segment

	haveLastAck bool
	lastAckSent seqnum.Value

	timerMu       sync.Mutex
	timeWaitTimer *time.Timer

	doneCh    chan struct{}
	closeOnce sync.Once

	stats Stats
}

// New constructs a receiver Engine.
func New(conn netio.PacketConn, peer net.Addr, sink io.Writer, cfg Config, log *slog.Logger, elog *urplog.EventLogger) *Engine {
	return &Engine{
		conn:   conn,
		peer:   peer,
		sink:   sink,
		cfg:    cfg,
		log:    log,
		elog:   elog,
		state:  StateClosed,
		doneCh: make(chan struct{}),
	}
}

// SetMetrics attaches a live Prometheus mirror of the receiver's counters.
func (e *Engine) SetMetrics(m *metrics.ReceiverMetrics) { e.metrics = m }

// Stats returns the current protocol counters.
func (e *Engine) Stats() Snapshot { return e.stats.Snapshot() }

// State returns the engine's current lifecycle state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Run drives the connection end to end: accept a SYN, deliver in-order
// bytes to the sink while buffering and re-ordering what arrives early,
// handle FIN, and wait out 2*MSL before returning. An Engine is single
// use: calling Run a second time (whether concurrently or after the
// first call returned) reports protoerr.ErrClosed rather than
// restarting the state machine from listen.
func (e *Engine) Run(ctx context.Context) error {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return protoerr.ErrClosed
	}
	e.started = true
	e.state = StateListen
	e.mu.Unlock()

	buf := make([]byte, 2048)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-e.doneCh:
			return nil
		default:
		}

		n, from, err := e.conn.RecvFrom(buf, time.Now().Add(pollInterval))
		if err != nil {
			if errors.Is(err, netio.ErrWouldBlock) {
				continue
			}
			return err
		}
		if e.peer != nil && from.String() != e.peer.String() {
			e.log.Warn("rcv from unexpected peer", "addr", from)
			continue
		}

		datagram := append([]byte(nil), buf[:n]...)
		seg, intact, err := segment.Decode(datagram)
		if err != nil {
			e.stats.addCorruptedDiscarded()
			if e.metrics != nil {
				e.metrics.CorruptedDiscarded.Inc()
			}
			e.log.Warn("discarding malformed segment", "err", err)
			continue
		}
		if !intact {
			e.stats.addCorruptedDiscarded()
			if e.metrics != nil {
				e.metrics.CorruptedDiscarded.Inc()
			}
			e.logEvent(urplog.ActionCorrupt, seg)
			continue
		}
		e.logEvent(urplog.ActionOK, seg)

		if err := e.dispatch(seg); err != nil {
			return err
		}
	}
}

func (e *Engine) dispatch(seg segment.Segment) error {
	e.mu.Lock()
	state := e.state
	e.mu.Unlock()

	switch state {
	case StateListen:
		if !seg.Flags.Has(segment.FlagSYN) {
			return protoerr.FatalSegment(fmt.Sprintf("receiver: expected SYN as first segment, got %s", seg.Type()))
		}
		return e.handleSyn(seg)

	case StateEstablished:
		switch {
		case seg.Flags.Has(segment.FlagSYN):
			return e.handleSyn(seg)
		case seg.Flags.Has(segment.FlagFIN):
			return e.handleFin(seg)
		case seg.Flags == 0:
			return e.handleData(seg)
		default:
			return protoerr.FatalSegment(fmt.Sprintf("receiver: unexpected %s segment while established", seg.Type()))
		}

	case StateTimeWait:
		if seg.Flags.Has(segment.FlagFIN) {
			return e.handleFin(seg)
		}
		e.log.Debug("ignoring segment during time_wait", "type", seg.Type())
		return nil

	default:
		return nil
	}
}

// handleSyn accepts the connection on the first SYN and idempotently
// re-acknowledges any further SYNs seen while established, per spec's
// resolved Open Question #2: the listen->est transition fires once.
func (e *Engine) handleSyn(seg segment.Segment) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state == StateListen {
		e.rcvBase = seqnum.Add(seg.SeqNum, 1)
		e.state = StateEstablished
	}
	e.sendAckLocked(e.rcvBase)
	return nil
}

// handleData applies one DATA segment to the reorder buffer and
// delivery state, per spec's duplicate/window/reorder rules, then
// always emits a cumulative ACK.
func (e *Engine) handleData(seg segment.Segment) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(seg.Payload) == 0 {
		e.sendAckLocked(e.rcvBase)
		return nil
	}

	if seqnum.Compare(seg.SeqNum, e.rcvBase) == -1 {
		e.stats.addDuplicateReceived()
		if e.metrics != nil {
			e.metrics.DuplicateReceived.Inc()
		}
		e.sendAckLocked(e.rcvBase)
		return nil
	}

	limit := seqnum.Add(e.rcvBase, e.cfg.MaxWindow)
	if seqnum.Compare(seg.EndSeqNum(), limit) == 1 {
		e.sendAckLocked(e.rcvBase)
		return nil
	}

	if seg.SeqNum == e.rcvBase {
		e.buffer = append([]segment.Segment{seg}, e.buffer...)
		for len(e.buffer) > 0 && e.buffer[0].SeqNum == e.rcvBase {
			front := e.buffer[0]
			e.buffer = e.buffer[1:]
			if _, err := e.sink.Write(front.Payload); err != nil {
				return fmt.Errorf("receiver: writing to sink: %w", err)
			}
			e.stats.addDelivered(len(front.Payload))
			if e.metrics != nil {
				e.metrics.Segments.Inc()
				e.metrics.Bytes.Add(float64(len(front.Payload)))
			}
			e.rcvBase = seqnum.Add(e.rcvBase, len(front.Payload))
		}
		e.sendAckLocked(e.rcvBase)
		return nil
	}

	inserted := false
	for i, b := range e.buffer {
		if b.SeqNum == seg.SeqNum {
			if len(b.Payload) != len(seg.Payload) {
				return protoerr.Fatalf("receiver: duplicate out-of-order segment with mismatched length")
			}
			e.stats.addDuplicateReceived()
			if e.metrics != nil {
				e.metrics.DuplicateReceived.Inc()
			}
			inserted = true
			break
		}
		if seqnum.Compare(b.SeqNum, seg.SeqNum) == 1 {
			if seqnum.Compare(seg.EndSeqNum(), b.SeqNum) == 1 {
				return protoerr.Fatalf("receiver: out-of-order segment overlaps a later buffered segment")
			}
			tail := append([]segment.Segment{seg}, e.buffer[i:]...)
			e.buffer = append(e.buffer[:i:i], tail...)
			inserted = true
			break
		}
	}
	if !inserted {
		e.buffer = append(e.buffer, seg)
	}
	e.sendAckLocked(e.rcvBase)
	return nil
}

// handleFin accepts a FIN only at rcv_base, enters time_wait, and
// resets the 2*MSL timer on every further FIN seen while waiting.
func (e *Engine) handleFin(seg segment.Segment) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch e.state {
	case StateEstablished:
		if seg.SeqNum != e.rcvBase {
			return protoerr.Fatalf("receiver: FIN seq_num does not match rcv_base")
		}
		e.rcvBase = seqnum.Add(seg.SeqNum, 1)
		e.sendAckLocked(e.rcvBase)
		e.state = StateTimeWait
		e.armTimeWaitLocked()
		return nil

	case StateTimeWait:
		expected := seqnum.Sub(e.rcvBase, 1)
		if seg.SeqNum != expected {
			return protoerr.Fatalf("receiver: differing FIN seen during time_wait")
		}
		e.sendAckLocked(e.rcvBase)
		e.armTimeWaitLocked()
		return nil

	default:
		return protoerr.Fatalf(fmt.Sprintf("receiver: FIN received in state %s", e.state))
	}
}

// sendAckLocked sends a cumulative ACK for ackSeq. Caller must hold e.mu.
func (e *Engine) sendAckLocked(ackSeq seqnum.Value) {
	buf, err := segment.Encode(segment.Segment{SeqNum: ackSeq, Flags: segment.FlagACK})
	if err != nil {
		e.log.Error("encoding ack failed", "err", err)
		return
	}
	if err := e.conn.SendTo(buf, e.peer); err != nil {
		e.log.Error("sending ack failed", "err", err)
		return
	}

	duplicate := e.haveLastAck && e.lastAckSent == ackSeq
	e.lastAckSent = ackSeq
	e.haveLastAck = true
	e.stats.addAckSent(duplicate)

	if e.elog != nil {
		e.elog.Log(urplog.DirSend, urplog.ActionOK, "ACK", uint16(ackSeq), 0)
	}
	if e.metrics != nil {
		e.metrics.AcksSent.Inc()
		if duplicate {
			e.metrics.DuplicateAcksSent.Inc()
		}
	}
}

// armTimeWaitLocked arms (or rearms) the 2*MSL time_wait timer. Caller
// must hold e.mu; the timer's own mutex is acquired independently,
// matching the SCB-before-timer-lock order used elsewhere.
func (e *Engine) armTimeWaitLocked() {
	e.timerMu.Lock()
	defer e.timerMu.Unlock()
	if e.timeWaitTimer != nil {
		e.timeWaitTimer.Stop()
	}
	e.timeWaitTimer = time.AfterFunc(2*e.cfg.MSL, e.onTimeWaitExpire)
}

func (e *Engine) onTimeWaitExpire() {
	e.mu.Lock()
	e.state = StateClosed
	e.mu.Unlock()
	e.closeOnce.Do(func() { close(e.doneCh) })
}

func (e *Engine) logEvent(action urplog.Action, seg segment.Segment) {
	if e.elog == nil {
		return
	}
	e.elog.Log(urplog.DirRecv, action, seg.Type(), uint16(seg.SeqNum), len(seg.Payload))
}
