package codec

import (
	"encoding/binary"
	"hash/adler32"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/momentics/rrpc/buffer"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	payload := []byte("hello rpc")
	wire, err := Encode(payload)
	require.NoError(t, err)

	buf := buffer.New()
	buf.Append(wire)

	got, code, ok := TryDecodeOne(buf)
	require.True(t, ok)
	require.Equal(t, NoError, code)
	require.Equal(t, payload, got)
	require.Equal(t, 0, buf.ReadableBytes())
}

func TestEmptyPayloadFrame(t *testing.T) {
	wire, err := Encode(nil)
	require.NoError(t, err)
	buf := buffer.New()
	buf.Append(wire)
	got, code, ok := TryDecodeOne(buf)
	require.True(t, ok)
	require.Equal(t, NoError, code)
	require.Empty(t, got)
}

func TestChecksumMismatch(t *testing.T) {
	wire, err := Encode([]byte("payload"))
	require.NoError(t, err)
	wire[len(wire)-1] ^= 0x01
	buf := buffer.New()
	buf.Append(wire)
	_, code, ok := TryDecodeOne(buf)
	require.False(t, ok)
	require.Equal(t, CheckSumError, code)
}

func TestUnknownTag(t *testing.T) {
	wire, err := Encode([]byte("payload"))
	require.NoError(t, err)
	// Corrupt the tag, then recompute the checksum over the corrupted
	// frame so it still matches: this isolates the tag-mismatch path from
	// the checksum-mismatch path, since checksum is validated first.
	wire[4] = 'X'
	body := wire[HeaderLen : len(wire)-4]
	sum := adler32.Checksum(body)
	binary.BigEndian.PutUint32(wire[len(wire)-4:], sum)

	buf := buffer.New()
	buf.Append(wire)
	_, code, ok := TryDecodeOne(buf)
	require.False(t, ok)
	require.Equal(t, UnknownMessageType, code)
}

func TestCorruptTagWithStaleChecksumReportsCheckSumError(t *testing.T) {
	wire, err := Encode([]byte("payload"))
	require.NoError(t, err)
	// Flip a bit inside the tag span (bytes 4-7) without recomputing the
	// checksum: per spec §8, checksum is validated before the tag, so a
	// single-bit corruption there must surface as CheckSumError, not
	// UnknownMessageType.
	wire[4] ^= 0x01

	buf := buffer.New()
	buf.Append(wire)
	_, code, ok := TryDecodeOne(buf)
	require.False(t, ok)
	require.Equal(t, CheckSumError, code)
}

func TestOversizedTotalLenRejected(t *testing.T) {
	buf := buffer.New()
	buf.AppendUint32(MaxTotalLen + 1)
	buf.Append(make([]byte, MinMessageLen))
	_, code, ok := TryDecodeOne(buf)
	require.False(t, ok)
	require.Equal(t, InvalidLength, code)
}

func TestFragmentedStreamReconstructsFrames(t *testing.T) {
	sizes := []int{100, 0, 1_000_000}
	var all []byte
	for _, n := range sizes {
		wire, err := Encode(make([]byte, n))
		require.NoError(t, err)
		all = append(all, wire...)
	}

	buf := buffer.New()
	chunks := []int{7, 13}
	offset := 0
	var decoded [][]byte
	feed := func(n int) {
		end := offset + n
		if end > len(all) {
			end = len(all)
		}
		buf.Append(all[offset:end])
		offset = end
		for {
			payload, code, ok := TryDecodeOne(buf)
			if !ok {
				require.Equal(t, NoError, code)
				break
			}
			decoded = append(decoded, payload)
		}
	}
	for _, c := range chunks {
		feed(c)
	}
	feed(len(all) - offset)

	require.Len(t, decoded, len(sizes))
	for i, n := range sizes {
		require.Len(t, decoded[i], n)
	}
	require.Equal(t, 0, buf.ReadableBytes())
}
