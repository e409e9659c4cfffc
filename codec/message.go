// Package codec implements the length-prefixed, tagged, checksummed wire
// frame described by spec §3/§4.5/§6, plus the Message capability
// interface the framework treats the payload's schema runtime through.
//
// Grounded on original_source/proto_rpc/rpc_framework/RpcCodec.{h,cc} for
// the frame shape (length header + fixed tag + payload + checksum) and on
// the teacher's protocol/frame_codec.go for the Go idiom of a stream-safe
// stateless decoder function operating on a byte buffer.
package codec

// Message is the capability set the framework requires from whatever
// external schema runtime produces the bytes carried inside a frame's
// payload (spec §6). The core never depends on a concrete schema
// runtime — this interface is the entire contract.
type Message interface {
	// ParseFrom decodes b into the receiver, replacing its contents.
	ParseFrom(b []byte) error
	// Serialize encodes the receiver to bytes.
	Serialize() ([]byte, error)
}
