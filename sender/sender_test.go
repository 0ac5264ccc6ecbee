package sender_test

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/urp-project/urp/netio"
	"github.com/urp-project/urp/protoerr"
	"github.com/urp-project/urp/segment"
	"github.com/urp-project/urp/sender"
	"github.com/urp-project/urp/seqnum"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func sendAck(t *testing.T, conn netio.PacketConn, to netio.FakeAddr, ackSeq seqnum.Value) {
	t.Helper()
	buf, err := segment.Encode(segment.Segment{SeqNum: ackSeq, Flags: segment.FlagACK})
	require.NoError(t, err)
	require.NoError(t, conn.SendTo(buf, to))
}

func recvSegment(t *testing.T, conn netio.PacketConn, deadline time.Time) segment.Segment {
	t.Helper()
	buf := make([]byte, 2048)
	n, _, err := conn.RecvFrom(buf, deadline)
	require.NoError(t, err)
	seg, intact, err := segment.Decode(buf[:n])
	require.NoError(t, err)
	require.True(t, intact)
	return seg
}

func newEngine(t *testing.T, connA *netio.FakeConn, peer netio.FakeAddr, source io.Reader, maxWin int, rto time.Duration) *sender.Engine {
	t.Helper()
	cfg := sender.Config{MaxWindow: maxWin, RTO: rto, MSS: 1000, Seed: 1}
	return sender.New(connA, peer, source, cfg, seqnum.Value(1000), discardLogger(), nil)
}

func TestEmptySourceHandshakeOnly(t *testing.T) {
	connA, connB := netio.NewFakePair("sender", "receiver")
	engine := newEngine(t, connA, "receiver", strings.NewReader(""), 1000, 250*time.Millisecond)

	errCh := make(chan error, 1)
	go func() { errCh <- engine.Run(context.Background()) }()

	syn := recvSegment(t, connB, time.Now().Add(time.Second))
	require.True(t, syn.Flags.Has(segment.FlagSYN))
	sendAck(t, connB, "sender", seqnum.Add(syn.SeqNum, 1))

	fin := recvSegment(t, connB, time.Now().Add(time.Second))
	require.True(t, fin.Flags.Has(segment.FlagFIN))
	sendAck(t, connB, "sender", seqnum.Add(fin.SeqNum, 1))

	require.NoError(t, <-errCh)
	require.Equal(t, uint64(0), engine.Stats().OriginalSegments)
}

func TestDataTransferWithCumulativeAck(t *testing.T) {
	connA, connB := netio.NewFakePair("sender", "receiver")
	engine := newEngine(t, connA, "receiver", strings.NewReader("the big brown fox"), 1000, 250*time.Millisecond)

	errCh := make(chan error, 1)
	go func() { errCh <- engine.Run(context.Background()) }()

	syn := recvSegment(t, connB, time.Now().Add(time.Second))
	sendAck(t, connB, "sender", seqnum.Add(syn.SeqNum, 1))

	data := recvSegment(t, connB, time.Now().Add(time.Second))
	require.Equal(t, "the big brown fox", string(data.Payload))
	sendAck(t, connB, "sender", data.EndSeqNum())

	fin := recvSegment(t, connB, time.Now().Add(time.Second))
	sendAck(t, connB, "sender", seqnum.Add(fin.SeqNum, 1))

	require.NoError(t, <-errCh)
	snap := engine.Stats()
	require.Equal(t, uint64(1), snap.OriginalSegments)
	require.Equal(t, uint64(17), snap.OriginalBytes)
}

func TestFastRetransmitOnThreeDuplicateAcks(t *testing.T) {
	connA, connB := netio.NewFakePair("sender", "receiver")
	engine := newEngine(t, connA, "receiver", strings.NewReader("hello"), 1000, time.Second)

	errCh := make(chan error, 1)
	go func() { errCh <- engine.Run(context.Background()) }()

	syn := recvSegment(t, connB, time.Now().Add(time.Second))
	base := seqnum.Add(syn.SeqNum, 1)
	sendAck(t, connB, "sender", base)

	data := recvSegment(t, connB, time.Now().Add(time.Second))
	require.Equal(t, "hello", string(data.Payload))

	for i := 0; i < 3; i++ {
		sendAck(t, connB, "sender", base)
	}

	retransmit := recvSegment(t, connB, time.Now().Add(time.Second))
	require.Equal(t, data.SeqNum, retransmit.SeqNum)
	require.Equal(t, data.Payload, retransmit.Payload)

	sendAck(t, connB, "sender", data.EndSeqNum())
	fin := recvSegment(t, connB, time.Now().Add(time.Second))
	sendAck(t, connB, "sender", seqnum.Add(fin.SeqNum, 1))

	require.NoError(t, <-errCh)
	require.Equal(t, uint64(1), engine.Stats().FastRetransmits)
}

func TestRunTwiceReportsNotConnected(t *testing.T) {
	connA, connB := netio.NewFakePair("sender", "receiver")
	engine := newEngine(t, connA, "receiver", strings.NewReader(""), 1000, 250*time.Millisecond)

	errCh := make(chan error, 1)
	go func() { errCh <- engine.Run(context.Background()) }()

	require.ErrorIs(t, engine.Run(context.Background()), protoerr.ErrNotConnected)

	syn := recvSegment(t, connB, time.Now().Add(time.Second))
	sendAck(t, connB, "sender", seqnum.Add(syn.SeqNum, 1))
	fin := recvSegment(t, connB, time.Now().Add(time.Second))
	sendAck(t, connB, "sender", seqnum.Add(fin.SeqNum, 1))

	require.NoError(t, <-errCh)
}

func TestHandshakeTimesOutAfterMaxRetries(t *testing.T) {
	connA, _ := netio.NewFakePair("sender", "receiver")
	cfg := sender.Config{MaxWindow: 1000, RTO: 5 * time.Millisecond, MSS: 1000, Seed: 1, MaxHandshakeRetries: 2}
	engine := sender.New(connA, netio.FakeAddr("receiver"), strings.NewReader(""), cfg, seqnum.Value(1), discardLogger(), nil)

	err := engine.Run(context.Background())
	require.ErrorIs(t, err, protoerr.ErrHandshakeTimeout)
}

func TestTimeoutRetransmit(t *testing.T) {
	connA, connB := netio.NewFakePair("sender", "receiver")
	engine := newEngine(t, connA, "receiver", strings.NewReader("hi"), 1000, 20*time.Millisecond)

	errCh := make(chan error, 1)
	go func() { errCh <- engine.Run(context.Background()) }()

	syn := recvSegment(t, connB, time.Now().Add(time.Second))
	sendAck(t, connB, "sender", seqnum.Add(syn.SeqNum, 1))

	first := recvSegment(t, connB, time.Now().Add(time.Second))
	retransmitted := recvSegment(t, connB, time.Now().Add(time.Second))
	require.Equal(t, first.SeqNum, retransmitted.SeqNum)
	require.Equal(t, first.Payload, retransmitted.Payload)

	sendAck(t, connB, "sender", first.EndSeqNum())
	fin := recvSegment(t, connB, time.Now().Add(time.Second))
	sendAck(t, connB, "sender", seqnum.Add(fin.SeqNum, 1))

	require.NoError(t, <-errCh)
	require.GreaterOrEqual(t, engine.Stats().Timeouts, uint64(1))
}
