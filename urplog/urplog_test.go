package urplog_test

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/urp-project/urp/urplog"
)

func TestFirstLineElapsedIsZero(t *testing.T) {
	var buf bytes.Buffer
	l := urplog.NewEventLogger(&buf)
	l.Log(urplog.DirSend, urplog.ActionOK, "SYN", 100, 0)

	require.Contains(t, buf.String(), "snd  ok  0.00  SYN  100  0\n")
}

func TestElapsedAdvancesFromFirstEvent(t *testing.T) {
	var buf bytes.Buffer
	l := urplog.NewEventLogger(&buf)
	l.Log(urplog.DirSend, urplog.ActionOK, "SYN", 100, 0)
	time.Sleep(time.Millisecond)
	l.Log(urplog.DirRecv, urplog.ActionOK, "ACK", 101, 0)

	lines := bytes.Split(bytes.TrimRight(buf.Bytes(), "\n"), []byte("\n"))
	require.Len(t, lines, 2)
	require.Contains(t, string(lines[0]), "0.00")
}

func TestSenderSummaryFieldOrder(t *testing.T) {
	var buf bytes.Buffer
	s := urplog.SenderSummary{OriginalBytes: 17, TotalBytes: 17, OriginalSegments: 1, TotalSegments: 1}
	_, err := s.WriteTo(&buf)
	require.NoError(t, err)

	want := "original_bytes: 17\ntotal_bytes: 17\noriginal_segments: 1\ntotal_segments: 1\ntimeouts: 0\nfast_retransmits: 0\nduplicate_acks_received: 0\ncorrupted_acks_discarded: 0\nplc_forward_dropped: 0\nplc_forward_corrupted: 0\nplc_reverse_dropped: 0\nplc_reverse_corrupted: 0\n"
	require.Equal(t, want, buf.String())
}

func TestReceiverSummaryFieldOrder(t *testing.T) {
	var buf bytes.Buffer
	s := urplog.ReceiverSummary{OriginalBytes: 17, TotalBytes: 17}
	_, err := s.WriteTo(&buf)
	require.NoError(t, err)

	want := "original_bytes: 17\ntotal_bytes: 17\noriginal_segments: 0\ntotal_segments: 0\ncorrupted_segments_discarded: 0\nduplicate_segments_received: 0\ntotal_acks_sent: 0\nduplicate_acks_sent: 0\n"
	require.Equal(t, want, buf.String())
}
