package codec

import (
	"encoding/binary"
	"errors"
	"hash/adler32"

	"github.com/momentics/rrpc/buffer"
)

// Tag is the fixed 4-byte marker every frame carries between its length
// header and its payload.
var Tag = [4]byte{'R', 'P', 'C', '0'}

const (
	// HeaderLen is the size of the length-prefix field itself.
	HeaderLen = 4
	// MinMessageLen is tag(4) + checksum(4): the minimum a totalLen can
	// be regardless of payload size. Spec §9 corrects the original
	// source's documented-but-inconsistent constant of 4 to this value.
	MinMessageLen = 8
	// MaxTotalLen is the largest totalLen a frame may declare.
	MaxTotalLen = 64 * 1024 * 1024
	// MaxPayloadLen is the largest payload Encode will accept.
	MaxPayloadLen = MaxTotalLen - MinMessageLen
)

// ErrPayloadTooLarge is returned by Encode when payload would produce a
// frame exceeding MaxTotalLen.
var ErrPayloadTooLarge = errors.New("codec: payload exceeds maximum frame size")

// Encode frames payload as totalLen|tag|payload|checksum and returns the
// complete wire bytes, ready to hand to a connection's Send.
func Encode(payload []byte) ([]byte, error) {
	if len(payload) > MaxPayloadLen {
		return nil, ErrPayloadTooLarge
	}
	buf := buffer.New()
	buf.Append(Tag[:])
	buf.Append(payload)
	sum := adler32.Checksum(buf.Peek())
	buf.AppendUint32(sum)
	total := uint32(buf.ReadableBytes())
	buf.PrependUint32(total)
	out := make([]byte, buf.ReadableBytes())
	copy(out, buf.Peek())
	return out, nil
}

// TryDecodeOne attempts to peel one complete frame off the front of buf.
//
//   - (nil, NoError, false): not enough bytes yet; caller should wait
//     for more input and try again later. Nothing is consumed.
//   - (nil, code, false) with code != NoError: the stream is
//     corrupt at the current read position. Per spec §4.5 step 3 this
//     intentionally freezes the stream — nothing is consumed, and it is
//     the caller's policy decision whether to close the connection.
//   - (payload, NoError, true): one frame was successfully parsed
//     and consumed; payload is the opaque bytes between tag and checksum.
func TryDecodeOne(buf *buffer.Buffer) (payload []byte, code ErrorCode, ok bool) {
	if buf.ReadableBytes() < HeaderLen+MinMessageLen {
		return nil, NoError, false
	}
	total, err := buf.PeekUint32()
	if err != nil {
		return nil, NoError, false
	}
	if total < MinMessageLen || total > MaxTotalLen {
		return nil, InvalidLength, false
	}
	if buf.ReadableBytes() < HeaderLen+int(total) {
		return nil, NoError, false
	}

	frame := buf.Peek()[HeaderLen : HeaderLen+int(total)]
	wantSum := binary.BigEndian.Uint32(frame[len(frame)-4:])
	gotSum := adler32.Checksum(frame[:len(frame)-4])
	if wantSum != gotSum {
		return nil, CheckSumError, false
	}
	if string(frame[:4]) != string(Tag[:]) {
		return nil, UnknownMessageType, false
	}
	body := frame[4 : len(frame)-4]

	out := make([]byte, len(body))
	copy(out, body)
	buf.Retrieve(HeaderLen + int(total))
	return out, NoError, true
}
