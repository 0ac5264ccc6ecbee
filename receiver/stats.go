package receiver

import "sync"

// Stats holds the receiver's counters, named after the trailing
// summary fields spec §6 requires.
type Stats struct {
	mu sync.Mutex

	originalBytes    uint64
	totalBytes       uint64
	originalSegments uint64
	totalSegments    uint64

	corruptedSegmentsDiscarded uint64
	duplicateSegmentsReceived  uint64
	totalAcksSent              uint64
	duplicateAcksSent          uint64
}

func (s *Stats) addDelivered(n int) {
	s.mu.Lock()
	s.originalSegments++
	s.originalBytes += uint64(n)
	s.totalSegments++
	s.totalBytes += uint64(n)
	s.mu.Unlock()
}

func (s *Stats) addCorruptedDiscarded() {
	s.mu.Lock()
	s.corruptedSegmentsDiscarded++
	s.mu.Unlock()
}

func (s *Stats) addDuplicateReceived() {
	s.mu.Lock()
	s.duplicateSegmentsReceived++
	s.mu.Unlock()
}

func (s *Stats) addAckSent(duplicate bool) {
	s.mu.Lock()
	s.totalAcksSent++
	if duplicate {
		s.duplicateAcksSent++
	}
	s.mu.Unlock()
}

// Snapshot is a point-in-time, race-free copy of the counters.
type Snapshot struct {
	OriginalBytes              uint64
	TotalBytes                 uint64
	OriginalSegments           uint64
	TotalSegments              uint64
	CorruptedSegmentsDiscarded uint64
	DuplicateSegmentsReceived  uint64
	TotalAcksSent              uint64
	DuplicateAcksSent          uint64
}

// Snapshot returns the current counters.
func (s *Stats) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		OriginalBytes:              s.originalBytes,
		TotalBytes:                 s.totalBytes,
		OriginalSegments:           s.originalSegments,
		TotalSegments:              s.totalSegments,
		CorruptedSegmentsDiscarded: s.corruptedSegmentsDiscarded,
		DuplicateSegmentsReceived:  s.duplicateSegmentsReceived,
		TotalAcksSent:              s.totalAcksSent,
		DuplicateAcksSent:          s.duplicateAcksSent,
	}
}
