package sender

import "sync"

// Stats holds the sender's counters, named after the trailing summary
// fields spec §6 requires. All fields are accessed through the methods
// below, which serialize access with a single mutex -- timeouts, and
// the total segment/byte counters on a timed-out retransmit, are
// updated from the retransmission-timer callback while everything else
// is touched from the main loop, so a shared lock is simpler than
// trying to split "single-thread-only" fields out.
type Stats struct {
	mu sync.Mutex

	originalBytes    uint64
	totalBytes       uint64
	originalSegments uint64
	totalSegments    uint64

	timeouts               uint64
	fastRetransmits        uint64
	duplicateAcksReceived  uint64
	corruptedAcksDiscarded uint64
}

func (s *Stats) addSegmentSent(payloadLen int) {
	s.mu.Lock()
	s.totalSegments++
	s.totalBytes += uint64(payloadLen)
	s.mu.Unlock()
}

func (s *Stats) addOriginalSegment(payloadLen int) {
	s.mu.Lock()
	s.originalSegments++
	s.originalBytes += uint64(payloadLen)
	s.mu.Unlock()
}

func (s *Stats) addTimeout() {
	s.mu.Lock()
	s.timeouts++
	s.mu.Unlock()
}

func (s *Stats) addFastRetransmit() {
	s.mu.Lock()
	s.fastRetransmits++
	s.mu.Unlock()
}

func (s *Stats) addDuplicateAck() {
	s.mu.Lock()
	s.duplicateAcksReceived++
	s.mu.Unlock()
}

func (s *Stats) addCorruptedAck() {
	s.mu.Lock()
	s.corruptedAcksDiscarded++
	s.mu.Unlock()
}

// Snapshot is a point-in-time, race-free copy of the counters.
type Snapshot struct {
	OriginalBytes          uint64
	TotalBytes             uint64
	OriginalSegments       uint64
	TotalSegments          uint64
	Timeouts               uint64
	FastRetransmits        uint64
	DuplicateAcksReceived  uint64
	CorruptedAcksDiscarded uint64
}

// Snapshot returns the current counters.
func (s *Stats) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		OriginalBytes:          s.originalBytes,
		TotalBytes:             s.totalBytes,
		OriginalSegments:       s.originalSegments,
		TotalSegments:          s.totalSegments,
		Timeouts:               s.timeouts,
		FastRetransmits:        s.fastRetransmits,
		DuplicateAcksReceived:  s.duplicateAcksReceived,
		CorruptedAcksDiscarded: s.corruptedAcksDiscarded,
	}
}
