package segment_test

import (
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/urp-project/urp/segment"
	"github.com/urp-project/urp/seqnum"
)

func genFlags(rt *rapid.T) segment.Flags {
	switch rapid.IntRange(0, 3).Draw(rt, "flagKind") {
	case 0:
		return 0
	case 1:
		return segment.FlagSYN
	case 2:
		return segment.FlagACK
	default:
		return segment.FlagFIN
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		seg := segment.Segment{
			SeqNum:  seqnum.Value(rapid.IntRange(0, seqnum.Modulus-1).Draw(rt, "seq")),
			Flags:   genFlags(rt),
			Payload: rapid.SliceOfN(rapid.Byte(), 0, 128).Draw(rt, "payload"),
		}

		buf, err := segment.Encode(seg)
		require.NoError(t, err)

		got, intact, err := segment.Decode(buf)
		require.NoError(t, err)
		require.True(t, intact)
		require.Equal(t, seg.SeqNum, got.SeqNum)
		require.Equal(t, seg.Flags, got.Flags)
		require.Equal(t, seg.Payload, got.Payload)
	})
}

func TestEncodeRejectsInvalidFlagCombination(t *testing.T) {
	_, err := segment.Encode(segment.Segment{
		Flags: segment.FlagSYN | segment.FlagACK,
	})
	require.ErrorIs(t, err, segment.ErrInvalidSegment)
}

func TestDecodeTooShortIsInvalid(t *testing.T) {
	_, _, err := segment.Decode([]byte{0, 1, 2})
	require.ErrorIs(t, err, segment.ErrInvalidSegment)
}

func TestDecodeNonzeroPaddingIsHeaderCorrupt(t *testing.T) {
	buf, err := segment.Encode(segment.Segment{SeqNum: 7, Payload: []byte("hi")})
	require.NoError(t, err)

	buf[2] = 1 // padding byte must be zero
	_, _, err = segment.Decode(buf)
	require.ErrorIs(t, err, segment.ErrHeaderCorrupt)
}

func TestDecodeMultipleFlagsIsHeaderCorrupt(t *testing.T) {
	buf, err := segment.Encode(segment.Segment{SeqNum: 7, Payload: []byte("hi")})
	require.NoError(t, err)

	buf[3] = uint8(segment.FlagSYN | segment.FlagFIN)
	_, _, err = segment.Decode(buf)
	require.ErrorIs(t, err, segment.ErrHeaderCorrupt)
}

func TestDecodeReservedFlagBitIsHeaderCorrupt(t *testing.T) {
	buf, err := segment.Encode(segment.Segment{SeqNum: 7, Payload: []byte("hi")})
	require.NoError(t, err)

	buf[3] = 0x80
	_, _, err = segment.Decode(buf)
	require.ErrorIs(t, err, segment.ErrHeaderCorrupt)
}

func TestDecodeCorruptPayloadReportsNotIntactButStillParses(t *testing.T) {
	buf, err := segment.Encode(segment.Segment{SeqNum: 42, Flags: segment.FlagACK, Payload: []byte("hello world")})
	require.NoError(t, err)

	buf[segment.HeaderSize] ^= 0x01 // flip a payload bit, header stays valid

	got, intact, err := segment.Decode(buf)
	require.NoError(t, err)
	require.False(t, intact)
	require.Equal(t, seqnum.Value(42), got.SeqNum)
	require.Equal(t, segment.FlagACK, got.Flags)
}

func TestEndSeqNumWrapsAcrossBoundary(t *testing.T) {
	seg := segment.Segment{SeqNum: 65530, Payload: make([]byte, 10)}
	require.Equal(t, seqnum.Value(4), seg.EndSeqNum())
}

func TestFlagsString(t *testing.T) {
	require.Equal(t, "SYN", segment.FlagSYN.String())
	require.Equal(t, "ACK", segment.FlagACK.String())
	require.Equal(t, "FIN", segment.FlagFIN.String())
	require.Equal(t, "DATA", segment.Flags(0).String())
}
