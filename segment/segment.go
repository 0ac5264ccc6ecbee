// Package segment implements the URP wire codec: a fixed 6-byte header
// (sequence number, flags, CRC-16) plus an optional payload, and the
// CRC-16 integrity check used to detect corruption.
package segment

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math/bits"

	"github.com/urp-project/urp/seqnum"
)

// HeaderSize is the fixed size in bytes of a segment's header, before
// the payload.
const HeaderSize = 6

// ErrInvalidSegment is returned by Decode when the buffer is too short
// to even hold a header, and by Encode when the flags are not a valid
// exclusive subset.
var ErrInvalidSegment = errors.New("segment: invalid segment")

// ErrHeaderCorrupt is returned by Decode when the header itself fails
// structural validation (nonzero padding, reserved flag bits set, or
// more than one of ACK/SYN/FIN set). A segment with a corrupt header
// carries no usable payload and Decode returns the zero Segment
// alongside this error.
var ErrHeaderCorrupt = errors.New("segment: header corrupt")

// Flags identifies the kind of a segment. At most one of FlagACK,
// FlagSYN, FlagFIN is set; none set means a DATA segment.
type Flags uint8

const (
	FlagFIN Flags = 1 << iota
	FlagSYN
	FlagACK
)

const flagMask = FlagFIN | FlagSYN | FlagACK

// Has reports whether f has all bits of mask set.
func (f Flags) Has(mask Flags) bool { return f&mask == mask }

// valid reports whether f has only the three defined bits set, with at
// most one of them on (flags are mutually exclusive).
func (f Flags) valid() bool {
	return f&^flagMask == 0 && bits.OnesCount8(uint8(f&flagMask)) <= 1
}

func (f Flags) String() string {
	switch {
	case f.Has(FlagSYN):
		return "SYN"
	case f.Has(FlagACK):
		return "ACK"
	case f.Has(FlagFIN):
		return "FIN"
	default:
		return "DATA"
	}
}

// Segment is the decoded representation of a URP protocol data unit.
type Segment struct {
	SeqNum  seqnum.Value
	Flags   Flags
	Payload []byte
}

// Type returns the segment's kind as used in log lines: SYN, ACK, FIN
// or DATA.
func (s Segment) Type() string { return s.Flags.String() }

// EndSeqNum returns the sequence number one past the last octet of the
// segment's payload.
func (s Segment) EndSeqNum() seqnum.Value {
	return seqnum.Add(s.SeqNum, len(s.Payload))
}

func (s Segment) String() string {
	return fmt.Sprintf("%s seq=%d len=%d", s.Type(), s.SeqNum, len(s.Payload))
}

// Encode serializes seg into a freshly allocated buffer: a 6-byte
// header followed by the payload, with the CRC-16 computed over the
// header (checksum field zeroed) and payload.
func Encode(seg Segment) ([]byte, error) {
	if !seg.Flags.valid() {
		return nil, fmt.Errorf("%w: flags %#x not a valid exclusive subset", ErrInvalidSegment, seg.Flags)
	}

	buf := make([]byte, HeaderSize+len(seg.Payload))
	binary.BigEndian.PutUint16(buf[0:2], uint16(seg.SeqNum))
	buf[2] = 0
	buf[3] = uint8(seg.Flags)
	binary.BigEndian.PutUint16(buf[4:6], 0)
	copy(buf[HeaderSize:], seg.Payload)

	checksum, err := crc16Compute(buf)
	if err != nil {
		return nil, err
	}
	binary.BigEndian.PutUint16(buf[4:6], checksum)
	return buf, nil
}

// Decode parses buf into a Segment. It returns ErrInvalidSegment if buf
// is too short to hold a header. If the header fails structural
// validation it returns the zero Segment with ErrHeaderCorrupt --
// there is nothing usable to log beyond "a corrupt header arrived".
// Otherwise it returns the decoded segment (payload included even if
// corrupt, so callers can log it) together with payloadIntact, which
// is false when the CRC-16 check fails; callers MUST NOT act on the
// payload of a segment whose payloadIntact is false.
func Decode(buf []byte) (seg Segment, payloadIntact bool, err error) {
	if len(buf) < HeaderSize {
		return Segment{}, false, ErrInvalidSegment
	}

	if buf[2] != 0 {
		return Segment{}, false, ErrHeaderCorrupt
	}
	flagByte := buf[3]
	if flagByte&^uint8(flagMask) != 0 {
		return Segment{}, false, ErrHeaderCorrupt
	}
	flags := Flags(flagByte)
	if !flags.valid() {
		return Segment{}, false, ErrHeaderCorrupt
	}

	checksum := binary.BigEndian.Uint16(buf[4:6])

	zeroed := make([]byte, len(buf))
	copy(zeroed, buf)
	binary.BigEndian.PutUint16(zeroed[4:6], 0)
	ok, err := crc16Verify(zeroed, checksum)
	if err != nil {
		return Segment{}, false, err
	}

	seg = Segment{
		SeqNum:  seqnum.Value(binary.BigEndian.Uint16(buf[0:2])),
		Flags:   flags,
		Payload: buf[HeaderSize:],
	}
	return seg, ok, nil
}
