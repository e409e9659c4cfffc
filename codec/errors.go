package codec

// ErrorCode enumerates the frame codec's error taxonomy (spec §4.5/§7).
// A codec function reports kNoError on any successful, fully-formed
// operation; anything else means the caller must stop consuming from
// the stream and decide, at a higher policy layer, whether to close the
// connection.
type ErrorCode int

const (
	NoError ErrorCode = iota
	InvalidLength
	CheckSumError
	InvalidNameLen
	UnknownMessageType
	ParseError
)

func (c ErrorCode) String() string {
	switch c {
	case NoError:
		return "kNoError"
	case InvalidLength:
		return "kInvalidLength"
	case CheckSumError:
		return "kCheckSumError"
	case InvalidNameLen:
		return "kInvalidNameLen"
	case UnknownMessageType:
		return "kUnknownMessageType"
	case ParseError:
		return "kParseError"
	default:
		return "kUnknown"
	}
}
