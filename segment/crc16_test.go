package segment

import (
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestCRC16RoundTrip(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		data := rapid.SliceOfN(rapid.Byte(), 1, 256).Draw(rt, "data")
		checksum, err := crc16Compute(data)
		require.NoError(t, err)

		ok, err := crc16Verify(data, checksum)
		require.NoError(t, err)
		require.True(t, ok)
	})
}

func TestCRC16DetectsSingleBitFlip(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		data := rapid.SliceOfN(rapid.Byte(), 1, 256).Draw(rt, "data")
		checksum, err := crc16Compute(data)
		require.NoError(t, err)

		byteIdx := rapid.IntRange(0, len(data)-1).Draw(rt, "byteIdx")
		bitIdx := rapid.IntRange(0, 7).Draw(rt, "bitIdx")
		flipped := append([]byte(nil), data...)
		flipped[byteIdx] ^= 1 << uint(bitIdx)

		ok, err := crc16Verify(flipped, checksum)
		require.NoError(t, err)
		require.False(t, ok)
	})
}

func TestCRC16EmptyInputErrors(t *testing.T) {
	_, err := crc16Compute(nil)
	require.ErrorIs(t, err, ErrEmptyCRCInput)

	_, err = crc16Verify(nil, 0)
	require.ErrorIs(t, err, ErrEmptyCRCInput)
}
