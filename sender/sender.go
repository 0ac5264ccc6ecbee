// Package sender implements the URP sender engine: connection setup,
// the sliding-window pump, ACK handling with fast retransmit, and
// timeout-driven retransmission, all layered over the PLC shim.
package sender

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/urp-project/urp/metrics"
	"github.com/urp-project/urp/netio"
	"github.com/urp-project/urp/plc"
	"github.com/urp-project/urp/protoerr"
	"github.com/urp-project/urp/segment"
	"github.com/urp-project/urp/seqnum"
	"github.com/urp-project/urp/urplog"
)

// DefaultMSS is the fixed maximum segment size, in payload bytes.
const DefaultMSS = 1000

// pollInterval bounds how long a blocking PLC receive waits before the
// main loop re-checks its context, so Run can be cancelled promptly
// without needing the channel's own read to support cancellation.
const pollInterval = 50 * time.Millisecond

// defaultMaxHandshakeRetries bounds how many times stopAndWait will
// retransmit a SYN or FIN before giving up with ErrHandshakeTimeout.
const defaultMaxHandshakeRetries = 10

// State is a sender connection's lifecycle state.
type State int

const (
	StateClosed State = iota
	StateSynSent
	StateEstablished
	StateClosing
	StateFinWait
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateSynSent:
		return "syn_sent"
	case StateEstablished:
		return "est"
	case StateClosing:
		return "closing"
	case StateFinWait:
		return "fin_wait"
	default:
		return "unknown"
	}
}

// Config holds the sender's fixed parameters. MaxHandshakeRetries
// defaults to defaultMaxHandshakeRetries when zero.
type Config struct {
	MaxWindow           int
	RTO                 time.Duration
	MSS                 int
	Seed                uint64
	PLC                 plc.Params
	MaxHandshakeRetries int
}

// Engine is one sender connection's state control block plus its I/O.
type Engine struct {
	source  io.Reader
	cfg     Config
	shim    *plc.Shim
	log     *slog.Logger
	metrics *metrics.SenderMetrics

	mu         sync.Mutex
	started    bool
	state      State
	sndBase    seqnum.Value
	nextSeqNum seqnum.Value
	dupAcks    int
	queue      []segment.Segment

	timerMu sync.Mutex
	timer   *time.Timer

	stats Stats
}

// New constructs a sender Engine. isn is the initial sequence number;
// cfg.Seed seeds the PLC shim's Bernoulli trials, so a run can be
// reproduced by passing the same isn and seed.
func New(conn netio.PacketConn, peer net.Addr, source io.Reader, cfg Config, isn seqnum.Value, log *slog.Logger, elog *urplog.EventLogger) *Engine {
	if cfg.MSS == 0 {
		cfg.MSS = DefaultMSS
	}
	if cfg.MaxHandshakeRetries == 0 {
		cfg.MaxHandshakeRetries = defaultMaxHandshakeRetries
	}
	shim := plc.New(conn, peer, cfg.PLC, cfg.Seed, log, elog)
	return &Engine{
		source:     source,
		cfg:        cfg,
		shim:       shim,
		log:        log,
		state:      StateClosed,
		sndBase:    isn,
		nextSeqNum: isn,
	}
}

// SetMetrics attaches a live Prometheus mirror of the sender's
// counters, including the PLC shim's own loss/corruption counters.
func (e *Engine) SetMetrics(m *metrics.SenderMetrics) {
	e.metrics = m
	e.shim.SetMetrics(m)
}

// Stats returns the current protocol counters.
func (e *Engine) Stats() Snapshot { return e.stats.Snapshot() }

// PLCStats returns the PLC shim's loss/corruption counters.
func (e *Engine) PLCStats() plc.Stats { return e.shim.Stats() }

// State returns the engine's current lifecycle state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Run drives the connection end to end: SYN handshake, window pump and
// ACK processing until the source is exhausted and all data is
// acknowledged, then the FIN handshake. It returns nil on a clean
// close, protoerr.FatalError on a protocol violation, or any I/O error
// encountered along the way. An Engine is single use: calling Run a
// second time reports protoerr.ErrNotConnected, since it will never
// again have a fresh handshake to perform.
func (e *Engine) Run(ctx context.Context) error {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return protoerr.ErrNotConnected
	}
	e.started = true
	e.state = StateSynSent
	synSeq := e.sndBase
	e.mu.Unlock()

	if err := e.stopAndWait(ctx, segment.Segment{SeqNum: synSeq, Flags: segment.FlagSYN}); err != nil {
		return fmt.Errorf("sender: syn handshake: %w", err)
	}

	e.mu.Lock()
	e.sndBase = seqnum.Add(e.sndBase, 1)
	e.nextSeqNum = seqnum.Add(e.nextSeqNum, 1)
	e.state = StateEstablished
	e.mu.Unlock()

	for {
		e.mu.Lock()
		state := e.state
		e.mu.Unlock()
		if state == StateFinWait {
			break
		}

		if state == StateEstablished {
			if err := e.pumpWindow(); err != nil {
				return err
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		seg, corrupted, err := e.shim.Recv(time.Now().Add(pollInterval))
		if err != nil {
			if errors.Is(err, netio.ErrWouldBlock) {
				continue
			}
			return err
		}
		if corrupted {
			e.stats.addCorruptedAck()
			if e.metrics != nil {
				e.metrics.CorruptedAcks.Inc()
			}
			continue
		}
		if err := e.handleAck(seg); err != nil {
			return err
		}
	}

	e.mu.Lock()
	finSeq := e.nextSeqNum
	e.mu.Unlock()

	if err := e.stopAndWait(ctx, segment.Segment{SeqNum: finSeq, Flags: segment.FlagFIN}); err != nil {
		return fmt.Errorf("sender: fin handshake: %w", err)
	}

	e.cancelTimer()
	e.mu.Lock()
	e.state = StateClosed
	e.mu.Unlock()
	return nil
}

// stopAndWait performs the SYN or FIN stop-and-wait exchange: send seg,
// arm the retransmission timer, and wait for an ACK whose seq_num is
// seg.SeqNum+1, resending on every timer fire until one arrives.
// Non-matching ACKs are ignored; a non-ACK reply is fatal. Retries are
// bounded by cfg.MaxHandshakeRetries: once exhausted, the timer stops
// rearming itself and the poll loop reports ErrHandshakeTimeout instead
// of waiting forever for a peer that is never going to answer.
func (e *Engine) stopAndWait(ctx context.Context, seg segment.Segment) error {
	ackTarget := seqnum.Add(seg.SeqNum, 1)

	if err := e.transmit(seg); err != nil {
		return err
	}

	var retries atomic.Int32
	var onFire func()
	onFire = func() {
		if int(retries.Add(1)) > e.cfg.MaxHandshakeRetries {
			return
		}
		if err := e.transmit(seg); err != nil {
			e.log.Error("handshake retransmit failed", "err", err)
			return
		}
		e.armTimer(e.cfg.RTO, onFire)
	}
	e.armTimer(e.cfg.RTO, onFire)
	defer e.cancelTimer()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if int(retries.Load()) > e.cfg.MaxHandshakeRetries {
			return protoerr.ErrHandshakeTimeout
		}

		got, corrupted, err := e.shim.Recv(time.Now().Add(pollInterval))
		if err != nil {
			if errors.Is(err, netio.ErrWouldBlock) {
				continue
			}
			return err
		}
		if corrupted {
			e.stats.addCorruptedAck()
			if e.metrics != nil {
				e.metrics.CorruptedAcks.Inc()
			}
			continue
		}
		if !got.Flags.Has(segment.FlagACK) {
			return protoerr.FatalSegment(fmt.Sprintf("sender: expected ACK during handshake, got %s", got.Type()))
		}
		if got.SeqNum == ackTarget {
			return nil
		}
		// any other ACK number is stale or premature; ignore it.
	}
}

// pumpWindow reads from the source and transmits DATA segments while
// the send window has room. Once the source is exhausted it moves to
// StateClosing, or straight to StateFinWait if no data is outstanding.
func (e *Engine) pumpWindow() error {
	for {
		e.mu.Lock()
		limit := seqnum.Add(e.sndBase, e.cfg.MaxWindow)
		hasRoom := seqnum.Compare(e.nextSeqNum, limit) == -1
		remaining := e.cfg.MaxWindow - seqnum.Distance(e.sndBase, e.nextSeqNum)
		e.mu.Unlock()
		if !hasRoom || remaining <= 0 {
			return nil
		}

		readLen := e.cfg.MSS
		if remaining < readLen {
			readLen = remaining
		}

		buf := make([]byte, readLen)
		n, readErr := e.source.Read(buf)
		if n == 0 {
			if readErr != nil && !errors.Is(readErr, io.EOF) {
				return readErr
			}
			e.mu.Lock()
			if len(e.queue) == 0 {
				e.state = StateFinWait
			} else {
				e.state = StateClosing
			}
			e.mu.Unlock()
			return nil
		}
		payload := buf[:n]

		e.mu.Lock()
		seg := segment.Segment{SeqNum: e.nextSeqNum, Payload: payload}
		e.nextSeqNum = seqnum.Add(e.nextSeqNum, n)
		wasEmpty := len(e.queue) == 0
		e.queue = append(e.queue, seg)
		e.mu.Unlock()

		e.stats.addOriginalSegment(n)

		if wasEmpty {
			e.armTimer(e.cfg.RTO, e.onDataTimeout)
		}

		if err := e.transmit(seg); err != nil {
			return err
		}
	}
}

// handleAck applies one received ACK to the send state per the
// cumulative/duplicate/fast-retransmit rules.
func (e *Engine) handleAck(seg segment.Segment) error {
	if !seg.Flags.Has(segment.FlagACK) {
		return protoerr.FatalSegment(fmt.Sprintf("sender: received non-ACK segment %s while running", seg.Type()))
	}
	a := seg.SeqNum

	e.mu.Lock()
	defer e.mu.Unlock()

	if seqnum.Compare(a, e.sndBase) == -1 || seqnum.Compare(a, e.nextSeqNum) == 1 {
		e.log.Warn("ack out of window", "ack", a, "snd_base", e.sndBase, "next", e.nextSeqNum)
		return nil
	}

	if a == e.sndBase {
		e.dupAcks++
		e.stats.addDuplicateAck()
		if e.metrics != nil {
			e.metrics.DuplicateAcks.Inc()
		}
		if e.dupAcks == 3 {
			e.dupAcks = 0
			if len(e.queue) > 0 {
				head := e.queue[0]
				e.stats.addFastRetransmit()
				if e.metrics != nil {
					e.metrics.FastRetransmits.Inc()
				}
				e.armTimer(e.cfg.RTO, e.onDataTimeout)
				if err := e.transmit(head); err != nil {
					return err
				}
			}
		}
		return nil
	}

	for len(e.queue) > 0 && seqnum.Compare(e.queue[0].EndSeqNum(), a) <= 0 {
		e.queue = e.queue[1:]
	}
	e.sndBase = a
	e.dupAcks = 0

	if len(e.queue) == 0 {
		e.cancelTimer()
		if e.state == StateClosing {
			e.state = StateFinWait
		}
		return nil
	}

	head := &e.queue[0]
	if seqnum.Compare(head.SeqNum, a) == -1 {
		trim := seqnum.Distance(head.SeqNum, a)
		head.Payload = head.Payload[trim:]
		head.SeqNum = a
	}
	e.armTimer(e.cfg.RTO, e.onDataTimeout)
	return nil
}

// onDataTimeout fires on the scheduler goroutine when the
// retransmission timer expires. It re-checks the queue after acquiring
// the state lock, since an ACK may have emptied it between the fire and
// the lock acquisition.
func (e *Engine) onDataTimeout() {
	e.mu.Lock()
	if len(e.queue) == 0 {
		e.mu.Unlock()
		return
	}
	head := e.queue[0]
	e.dupAcks = 0
	e.mu.Unlock()

	e.stats.addTimeout()
	if e.metrics != nil {
		e.metrics.Timeouts.Inc()
	}
	if err := e.transmit(head); err != nil {
		e.log.Error("retransmit failed", "err", err)
	}
	e.armTimer(e.cfg.RTO, e.onDataTimeout)
}

// transmit sends seg through the PLC shim and updates the sender's own
// segment/byte counters. The PLC shim is responsible for the literal
// snd ok/drp/cor event-log line, since it alone decides which of those
// applies.
func (e *Engine) transmit(seg segment.Segment) error {
	if err := e.shim.Send(seg); err != nil {
		return err
	}
	e.stats.addSegmentSent(len(seg.Payload))
	if e.metrics != nil {
		e.metrics.Segments.Inc()
		e.metrics.Bytes.Add(float64(len(seg.Payload)))
	}
	return nil
}

// armTimer replaces any previously armed retransmission timer with one
// that calls fire after d. Arming and cancelling are the only two
// operations on e.timer, both serialized by timerMu. Callers may hold
// the state lock (handleAck does); the order is always state lock
// before timerMu, never the reverse.
func (e *Engine) armTimer(d time.Duration, fire func()) {
	e.timerMu.Lock()
	defer e.timerMu.Unlock()
	if e.timer != nil {
		e.timer.Stop()
	}
	e.timer = time.AfterFunc(d, fire)
}

func (e *Engine) cancelTimer() {
	e.timerMu.Lock()
	defer e.timerMu.Unlock()
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
}
