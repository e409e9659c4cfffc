// Package buffer implements the resizable byte window used by connections
// to stage inbound and outbound bytes.
//
// Layout: [prepend gap | readable | writable]. The invariant
// 0 <= prependSize <= readerIndex <= writerIndex <= cap(buf) holds after
// every operation. The prepend region lets a caller stitch a header (e.g.
// a frame length prefix) onto an already-serialized payload without
// copying the payload itself.
//
// Grounded on the muduo Buffer (original_source/network/{include,src}/Buffer)
// and on the scatter-read sizing used by momentics-hioload-ws's pool
// package for bounding syscalls per readiness event.
package buffer

import (
	"encoding/binary"
	"errors"

	"golang.org/x/sys/unix"
)

// CheapPrepend is the size of the prepend region reserved on every new
// Buffer, big enough to hold the frame codec's 4-byte length header.
const CheapPrepend = 8

// InitialSize is the default writable capacity of a freshly built Buffer.
const InitialSize = 1024

// scratchSize bounds the stack-resident secondary read region used to
// absorb a large readiness event without growing the buffer up front.
const scratchSize = 1 << 20 // 1 MiB

// ErrNotEnoughData is returned by the fixed-width Peek/Read helpers when
// fewer bytes are readable than requested.
var ErrNotEnoughData = errors.New("buffer: not enough readable data")

// Buffer is a growable byte window with reader/writer cursors.
//
// Not safe for concurrent use; per the framework's single-writer
// discipline (spec §5) a Buffer is only ever touched by the reactor
// thread that owns the connection it belongs to.
type Buffer struct {
	buf         []byte
	readerIndex int
	writerIndex int
}

// New returns an empty Buffer with the standard prepend gap and initial
// writable capacity.
func New() *Buffer {
	b := &Buffer{
		buf: make([]byte, CheapPrepend+InitialSize),
	}
	b.readerIndex = CheapPrepend
	b.writerIndex = CheapPrepend
	return b
}

// ReadableBytes reports how many bytes are available to Peek/Retrieve.
func (b *Buffer) ReadableBytes() int { return b.writerIndex - b.readerIndex }

// WritableBytes reports how much room remains for Append before growth.
func (b *Buffer) WritableBytes() int { return len(b.buf) - b.writerIndex }

// PrependableBytes reports how much room remains in the prepend gap.
func (b *Buffer) PrependableBytes() int { return b.readerIndex }

// Capacity reports total underlying storage. Readable + writable +
// prependable == Capacity always holds.
func (b *Buffer) Capacity() int { return len(b.buf) }

// Peek returns the readable region without consuming it. The returned
// slice aliases the buffer and is invalidated by the next mutation.
func (b *Buffer) Peek() []byte {
	return b.buf[b.readerIndex:b.writerIndex]
}

// Retrieve advances the reader cursor by n, discarding n bytes. Retrieving
// the entire readable region resets both cursors to the prepend boundary.
func (b *Buffer) Retrieve(n int) {
	if n < b.ReadableBytes() {
		b.readerIndex += n
		return
	}
	b.RetrieveAll()
}

// RetrieveAll discards all readable bytes and resets cursors.
func (b *Buffer) RetrieveAll() {
	b.readerIndex = CheapPrepend
	b.writerIndex = CheapPrepend
}

// RetrieveAllBytes discards and returns a copy of all readable bytes.
func (b *Buffer) RetrieveAllBytes() []byte {
	out := make([]byte, b.ReadableBytes())
	copy(out, b.Peek())
	b.RetrieveAll()
	return out
}

// Append appends data to the writable region, growing the buffer if
// necessary.
func (b *Buffer) Append(data []byte) {
	b.ensureWritable(len(data))
	copy(b.buf[b.writerIndex:], data)
	b.writerIndex += len(data)
}

// AppendUint32 appends a big-endian uint32.
func (b *Buffer) AppendUint32(v uint32) {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)
	b.Append(tmp[:])
}

// PeekUint32 reads a big-endian uint32 from the front of the readable
// region without consuming it.
func (b *Buffer) PeekUint32() (uint32, error) {
	if b.ReadableBytes() < 4 {
		return 0, ErrNotEnoughData
	}
	return binary.BigEndian.Uint32(b.buf[b.readerIndex:]), nil
}

// Prepend writes data into the prepend gap immediately before the
// readable region, moving the reader cursor backward. Panics if the
// prepend gap is smaller than data — callers must size CheapPrepend for
// their largest header.
func (b *Buffer) Prepend(data []byte) {
	if len(data) > b.PrependableBytes() {
		panic("buffer: prepend larger than prependable region")
	}
	b.readerIndex -= len(data)
	copy(b.buf[b.readerIndex:], data)
}

// PrependUint32 prepends a big-endian uint32 header.
func (b *Buffer) PrependUint32(v uint32) {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)
	b.Prepend(tmp[:])
}

func (b *Buffer) ensureWritable(n int) {
	if b.WritableBytes() >= n {
		return
	}
	b.makeSpace(n)
}

// makeSpace grows or compacts the buffer so that at least n more bytes
// are writable, preserving CheapPrepend bytes of prepend room.
func (b *Buffer) makeSpace(n int) {
	if b.PrependableBytes()+b.WritableBytes() < n+CheapPrepend {
		readable := b.ReadableBytes()
		newBuf := make([]byte, CheapPrepend+readable+n)
		copy(newBuf[CheapPrepend:], b.buf[b.readerIndex:b.writerIndex])
		b.buf = newBuf
		b.readerIndex = CheapPrepend
		b.writerIndex = CheapPrepend + readable
	} else {
		// Compact in place: slide the readable region back to the
		// prepend boundary to reclaim space consumed by past Retrieve
		// calls.
		readable := b.ReadableBytes()
		copy(b.buf[CheapPrepend:], b.buf[b.readerIndex:b.writerIndex])
		b.readerIndex = CheapPrepend
		b.writerIndex = CheapPrepend + readable
	}
}

// ReadFd performs a vectored read from fd: bytes land first in the
// buffer's writable tail, and any overflow spills into a stack-resident
// scratch region sized to bound the number of read syscalls needed to
// drain one readiness event. Overflow bytes are copied into the buffer
// (which grows if needed) before returning.
//
// Return convention, mirroring the three outcomes a connection's read
// path must distinguish (spec §4.4):
//   - (n > 0, nil): n bytes read and appended.
//   - (0, nil): peer performed an orderly shutdown (EOF).
//   - (-1, nil): no data available right now (EAGAIN/EWOULDBLOCK/EINTR);
//     readiness noise the caller should ignore.
//   - (0, err): a hard error occurred.
func (b *Buffer) ReadFd(fd int) (int, error) {
	var extra [scratchSize]byte
	writable := b.WritableBytes()

	iov := make([][]byte, 0, 2)
	iov = append(iov, b.buf[b.writerIndex:len(b.buf)])
	iov = append(iov, extra[:])

	n, err := unix.Readv(fd, iov)
	if err != nil {
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK || err == unix.EINTR {
			return -1, nil
		}
		return 0, err
	}
	if n == 0 {
		return 0, nil
	}
	if n <= writable {
		b.writerIndex += n
		return n, nil
	}
	b.writerIndex += writable
	overflow := n - writable
	b.Append(extra[:overflow])
	return n, nil
}
