// Package respcore implements the wire codec and adapter layer for a RESP3
// client core: a streaming decoder/encoder plus a pluggable adapter layer
// that binds decoded replies to caller-chosen in-memory shapes. The
// multiplexed connection engine built on top of this codec lives in the
// conn subpackage.
package respcore

// Type identifies the RESP3 frame kind of a decoded or to-be-encoded Node.
// This is a closed enumeration of the 15 frame kinds this client ever
// needs to produce or consume.
type Type byte

const (
	TypeInvalid Type = 0

	// Simple (scalar) types.
	TypeSimpleString Type = '+'
	TypeSimpleError  Type = '-'
	TypeBlobString   Type = '$'
	TypeBlobError    Type = '!'
	TypeNumber       Type = ':'
	TypeDouble       Type = ','
	TypeBoolean      Type = '#'
	TypeBigNumber    Type = '('
	TypeNull         Type = '_'

	// Aggregate types.
	TypeArray     Type = '*'
	TypeMap       Type = '%'
	TypeSet       Type = '~'
	TypePush      Type = '>'
	TypeAttribute Type = '|'

	// TypeBlobChunk is a single part of a streamed (chunked) blob string,
	// introduced on the wire by ';' and terminated by a zero-length part.
	TypeBlobChunk Type = ';'

	// typeStreamEnd is the wire marker ('.') that terminates a streamed
	// (unknown-length) aggregate. It is a control marker the decoder
	// consumes internally and never surfaces as a Node.Type to an
	// Adapter, so it is not part of the 15-member public enumeration.
	typeStreamEnd Type = '.'
)

// IsAggregate reports whether t carries a declared (or streamed) child
// count rather than a single scalar payload.
func (t Type) IsAggregate() bool {
	switch t {
	case TypeArray, TypeMap, TypeSet, TypePush, TypeAttribute:
		return true
	default:
		return false
	}
}

// String returns a short human-readable name, used in log fields and error
// messages.
func (t Type) String() string {
	switch t {
	case TypeSimpleString:
		return "simple_string"
	case TypeSimpleError:
		return "simple_error"
	case TypeBlobString:
		return "blob_string"
	case TypeBlobError:
		return "blob_error"
	case TypeNumber:
		return "number"
	case TypeDouble:
		return "double"
	case TypeBoolean:
		return "boolean"
	case TypeBigNumber:
		return "big_number"
	case TypeNull:
		return "null"
	case TypeArray:
		return "array"
	case TypeMap:
		return "map"
	case TypeSet:
		return "set"
	case TypePush:
		return "push"
	case TypeAttribute:
		return "attribute"
	case TypeBlobChunk:
		return "streamed_string_part"
	default:
		return "invalid"
	}
}

// PushIndex is the index passed to Adapter.Consume for nodes belonging to
// a push frame, rather than to a numbered reply in the current pipeline.
const PushIndex = -1

// UnknownAggregateSize marks an aggregate whose element count is not yet
// known on the wire (a streamed map/array/set header of "?").
const UnknownAggregateSize = -1

const (
	crlf = "\r\n"
)
