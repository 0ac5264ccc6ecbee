package plc_test

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/urp-project/urp/netio"
	"github.com/urp-project/urp/plc"
	"github.com/urp-project/urp/segment"
	"github.com/urp-project/urp/seqnum"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSendRecvRoundTripNoLoss(t *testing.T) {
	connA, connB := netio.NewFakePair("a", "b")
	sender := plc.New(connA, netio.FakeAddr("b"), plc.Params{}, 1, discardLogger(), nil)
	receiver := plc.New(connB, netio.FakeAddr("a"), plc.Params{}, 2, discardLogger(), nil)

	seg := segment.Segment{SeqNum: 10, Flags: segment.FlagACK, Payload: nil}
	require.NoError(t, sender.Send(seg))

	got, corrupted, err := receiver.Recv(time.Now().Add(time.Second))
	require.NoError(t, err)
	require.False(t, corrupted)
	require.Equal(t, seg.SeqNum, got.SeqNum)
	require.Equal(t, seg.Flags, got.Flags)
}

func TestForwardLossDropsEverything(t *testing.T) {
	connA, connB := netio.NewFakePair("a", "b")
	sender := plc.New(connA, netio.FakeAddr("b"), plc.Params{ForwardLoss: 1}, 1, discardLogger(), nil)
	receiver := plc.New(connB, netio.FakeAddr("a"), plc.Params{}, 2, discardLogger(), nil)

	require.NoError(t, sender.Send(segment.Segment{SeqNum: 1, Payload: []byte("x")}))

	_, _, err := receiver.Recv(time.Now().Add(50 * time.Millisecond))
	require.ErrorIs(t, err, netio.ErrWouldBlock)
	require.Equal(t, uint64(1), sender.Stats().ForwardDropped)
}

func TestForwardCorruptionFlipsPayloadBit(t *testing.T) {
	connA, connB := netio.NewFakePair("a", "b")
	sender := plc.New(connA, netio.FakeAddr("b"), plc.Params{ForwardCorruption: 1}, 3, discardLogger(), nil)
	receiver := plc.New(connB, netio.FakeAddr("a"), plc.Params{}, 4, discardLogger(), nil)

	payload := []byte("hello world")
	require.NoError(t, sender.Send(segment.Segment{SeqNum: 5, Payload: payload}))

	got, corrupted, err := receiver.Recv(time.Now().Add(time.Second))
	require.NoError(t, err)
	require.True(t, corrupted)
	require.Equal(t, seqnum.Value(5), got.SeqNum)
	require.Equal(t, uint64(1), sender.Stats().ForwardCorrupted)
}
