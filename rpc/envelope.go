package rpc

import "encoding/json"

// EnvelopeType distinguishes the three shapes an Envelope may take on the
// wire (spec §3).
type EnvelopeType int

const (
	Request EnvelopeType = iota
	Response
	Error
)

func (t EnvelopeType) String() string {
	switch t {
	case Request:
		return "REQUEST"
	case Response:
		return "RESPONSE"
	case Error:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Envelope is the record carried inside a frame's payload: the unit of
// RPC semantics. Request fields are populated only for Type == Request;
// Response/Error fields only for Type ∈ {Response, Error}.
//
// The message-schema runtime that would otherwise own this encoding is
// explicitly out of core scope (spec §1, §6); Envelope supplies its own
// concrete wire form via encoding/json so the channel is testable
// end-to-end without an external dependency, grounded on
// nyan233-littlerpc's own JSON-encoded stack-frame envelope
// (coder.RStackFrame).
type Envelope struct {
	Type EnvelopeType `json:"type"`
	ID   int64        `json:"id"`

	Service string `json:"service,omitempty"`
	Method  string `json:"method,omitempty"`
	Request []byte `json:"request,omitempty"`

	Response []byte    `json:"response,omitempty"`
	ErrCode  ErrorCode `json:"error,omitempty"`
}

// ParseFrom decodes data as JSON into e, satisfying codec.Message.
func (e *Envelope) ParseFrom(data []byte) error {
	return json.Unmarshal(data, e)
}

// Serialize encodes e as JSON, satisfying codec.Message.
func (e *Envelope) Serialize() ([]byte, error) {
	return json.Marshal(e)
}
