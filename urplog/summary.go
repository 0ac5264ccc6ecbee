package urplog

import (
	"fmt"
	"io"
)

// SenderSummary is the trailing counter block a sender writes at exit,
// in the fixed order spec §6 requires.
type SenderSummary struct {
	OriginalBytes          uint64
	TotalBytes             uint64
	OriginalSegments       uint64
	TotalSegments          uint64
	Timeouts               uint64
	FastRetransmits        uint64
	DuplicateAcksReceived  uint64
	CorruptedAcksDiscarded uint64
	ForwardDropped         uint64
	ForwardCorrupted       uint64
	ReverseDropped         uint64
	ReverseCorrupted       uint64
}

// WriteTo writes the summary block in field order, one "name: value"
// line each.
func (s SenderSummary) WriteTo(w io.Writer) (int64, error) {
	lines := []struct {
		name  string
		value uint64
	}{
		{"original_bytes", s.OriginalBytes},
		{"total_bytes", s.TotalBytes},
		{"original_segments", s.OriginalSegments},
		{"total_segments", s.TotalSegments},
		{"timeouts", s.Timeouts},
		{"fast_retransmits", s.FastRetransmits},
		{"duplicate_acks_received", s.DuplicateAcksReceived},
		{"corrupted_acks_discarded", s.CorruptedAcksDiscarded},
		{"plc_forward_dropped", s.ForwardDropped},
		{"plc_forward_corrupted", s.ForwardCorrupted},
		{"plc_reverse_dropped", s.ReverseDropped},
		{"plc_reverse_corrupted", s.ReverseCorrupted},
	}
	var total int64
	for _, l := range lines {
		n, err := fmt.Fprintf(w, "%s: %d\n", l.name, l.value)
		total += int64(n)
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// ReceiverSummary is the trailing counter block a receiver writes at
// exit, in the fixed order spec §6 requires.
type ReceiverSummary struct {
	OriginalBytes              uint64
	TotalBytes                 uint64
	OriginalSegments           uint64
	TotalSegments              uint64
	CorruptedSegmentsDiscarded uint64
	DuplicateSegmentsReceived  uint64
	TotalAcksSent              uint64
	DuplicateAcksSent          uint64
}

// WriteTo writes the summary block in field order.
func (s ReceiverSummary) WriteTo(w io.Writer) (int64, error) {
	lines := []struct {
		name  string
		value uint64
	}{
		{"original_bytes", s.OriginalBytes},
		{"total_bytes", s.TotalBytes},
		{"original_segments", s.OriginalSegments},
		{"total_segments", s.TotalSegments},
		{"corrupted_segments_discarded", s.CorruptedSegmentsDiscarded},
		{"duplicate_segments_received", s.DuplicateSegmentsReceived},
		{"total_acks_sent", s.TotalAcksSent},
		{"duplicate_acks_sent", s.DuplicateAcksSent},
	}
	var total int64
	for _, l := range lines {
		n, err := fmt.Fprintf(w, "%s: %d\n", l.name, l.value)
		total += int64(n)
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
