package respcore

// Node is a single value on the decoded parse stream, emitted to an Adapter
// in pre-order: an aggregate's parent Node is emitted before any of its
// children.
type Node struct {
	// Type is the RESP3 frame kind this node represents.
	Type Type
	// AggregateSize is 1 for simple (scalar) nodes. For aggregate nodes it
	// is the declared element count (a map or attribute counts each
	// key/value pair as two elements), or UnknownAggregateSize while a
	// streamed aggregate or blob string's length has not yet terminated.
	AggregateSize int
	// Depth is the nesting level of this node; the top-level reply node
	// is at Depth 0.
	Depth int
	// Value holds the raw leaf payload for simple types. It is empty for
	// aggregate parent nodes.
	Value []byte
}

// IsNull reports whether this node represents either the RESP3 null type or
// a legacy null blob/array ($-1, *-1).
func (n Node) IsNull() bool {
	return n.Type == TypeNull
}
