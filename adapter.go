package respcore

import (
	"strconv"
)

// Adapter binds the decoded node stream of one reply (or one push frame) to
// a caller-chosen in-memory destination. Consume is invoked once per Node
// in pre-order; index is the 0-based position of that node within the
// current top-level reply, or PushIndex for a push frame.
type Adapter interface {
	Consume(index int, node Node) error
}

// AdapterFunc adapts a plain function to the Adapter interface.
type AdapterFunc func(index int, node Node) error

func (f AdapterFunc) Consume(index int, node Node) error { return f(index, node) }

// Ignore discards every node it is offered. It is the default adapter for
// fire-and-forget requests.
func Ignore() Adapter {
	return AdapterFunc(func(int, Node) error { return nil })
}

// NodeValue captures the first simple node offered into dst, rejecting any
// aggregate.
func NodeValue(dst *Node) Adapter {
	return AdapterFunc(func(_ int, n Node) error {
		if n.Type.IsAggregate() {
			return ErrIncompatibleNodeType
		}
		*dst = cloneNode(n)
		return nil
	})
}

// NodeSeq collects every node offered, in pre-order, without interpreting
// them. It is the adapter used to preserve streamed-chunk structure and to
// collect attribute pairs.
func NodeSeq(dst *[]Node) Adapter {
	return AdapterFunc(func(_ int, n Node) error {
		*dst = append(*dst, cloneNode(n))
		return nil
	})
}

// cloneNode copies n.Value, which for line-based scalars (simple_string,
// simple_error, number, double, boolean, big_number) is a slice into the
// decoder's shared bufio buffer and does not survive past the current
// DecodeNext call.
func cloneNode(n Node) Node {
	if n.Value != nil {
		n.Value = append([]byte(nil), n.Value...)
	}
	return n
}

func isErrType(t Type) bool { return t == TypeSimpleError || t == TypeBlobError }

func asServerError(n Node) error {
	return &ServerError{Blob: n.Type == TypeBlobError, Message: string(n.Value)}
}

// Int64 binds a scalar destination accepting number or boolean nodes
// (true is 1, false is 0), and big_number nodes whose value fits in an
// int64.
func Int64(dst *int64) Adapter {
	return AdapterFunc(func(_ int, n Node) error {
		switch n.Type {
		case TypeNumber:
			v, err := strconv.ParseInt(string(n.Value), 10, 64)
			if err != nil {
				return ErrBadPayload
			}
			*dst = v
			return nil
		case TypeBoolean:
			if n.Value[0] == 't' {
				*dst = 1
			} else {
				*dst = 0
			}
			return nil
		case TypeBigNumber:
			v, err := strconv.ParseInt(string(n.Value), 10, 64)
			if err != nil {
				return ErrBadPayload
			}
			*dst = v
			return nil
		default:
			if isErrType(n.Type) {
				return asServerError(n)
			}
			return ErrIncompatibleNodeType
		}
	})
}

// Float64 binds a scalar destination accepting double or number nodes.
func Float64(dst *float64) Adapter {
	return AdapterFunc(func(_ int, n Node) error {
		switch n.Type {
		case TypeDouble:
			v, err := strconv.ParseFloat(string(n.Value), 64)
			if err != nil {
				return ErrBadPayload
			}
			*dst = v
			return nil
		case TypeNumber:
			v, err := strconv.ParseInt(string(n.Value), 10, 64)
			if err != nil {
				return ErrBadPayload
			}
			*dst = float64(v)
			return nil
		default:
			if isErrType(n.Type) {
				return asServerError(n)
			}
			return ErrIncompatibleNodeType
		}
	})
}

// Bytes binds a byte-string destination accepting simple_string,
// blob_string (fixed-length or streamed), or big_number nodes. A
// simple_error or blob_error node is returned as a *ServerError instead
// of being stored.
func Bytes(dst *[]byte) Adapter {
	var streaming bool
	var buf []byte
	return AdapterFunc(func(_ int, n Node) error {
		switch n.Type {
		case TypeSimpleString, TypeBigNumber:
			// n.Value here is a slice into the decoder's bufio buffer
			// (readLine uses ReadSlice), which the next DecodeNext call
			// overwrites before a pipelined waiter is scheduled. Copy it.
			*dst = append([]byte(nil), n.Value...)
			return nil
		case TypeSimpleError, TypeBlobError:
			return asServerError(n)
		case TypeBlobString:
			if n.AggregateSize == UnknownAggregateSize {
				streaming = true
				buf = buf[:0]
				return nil
			}
			*dst = n.Value
			return nil
		case TypeBlobChunk:
			if !streaming {
				return ErrIncompatibleNodeType
			}
			if len(n.Value) == 0 {
				*dst = buf
				streaming = false
				return nil
			}
			buf = append(buf, n.Value...)
			return nil
		default:
			return ErrIncompatibleNodeType
		}
	})
}

// String is Bytes with a string-typed destination.
func String(dst *string) Adapter {
	var raw []byte
	inner := Bytes(&raw)
	return AdapterFunc(func(index int, n Node) error {
		if err := inner.Consume(index, n); err != nil {
			return err
		}
		*dst = string(raw)
		return nil
	})
}

// Optional wraps inner to additionally accept a null node, setting *isNull
// accordingly and leaving inner untouched when the node is null.
func Optional(inner Adapter, isNull *bool) Adapter {
	return AdapterFunc(func(index int, n Node) error {
		if n.IsNull() {
			*isNull = true
			return nil
		}
		*isNull = false
		return inner.Consume(index, n)
	})
}

// Slice binds an ordered sequence destination (array, set, or push) of
// homogeneous elements. elem is invoked once per element to obtain the
// Adapter that will receive it; the returned adapter must write into the
// pointer it was given.
func Slice[T any](dst *[]T, elem func(*T) Adapter) Adapter {
	parentSize := -2
	*dst = (*dst)[:0]
	return AdapterFunc(func(index int, n Node) error {
		if parentSize == -2 {
			if n.Type != TypeArray && n.Type != TypeSet && n.Type != TypePush {
				return ErrIncompatibleNodeType
			}
			parentSize = n.AggregateSize
			return nil
		}
		var v T
		if err := elem(&v).Consume(index, n); err != nil {
			return err
		}
		*dst = append(*dst, v)
		return nil
	})
}

// Map binds a key/value mapping destination (RESP3 map type).
func Map[K comparable, V any](dst *map[K]V, key func(*K) Adapter, val func(*V) Adapter) Adapter {
	if *dst == nil {
		*dst = make(map[K]V)
	}
	parentSize := -2
	var pendingKey K
	haveKey := false
	return AdapterFunc(func(index int, n Node) error {
		if parentSize == -2 {
			if n.Type != TypeMap {
				return ErrIncompatibleNodeType
			}
			parentSize = n.AggregateSize
			return nil
		}
		if !haveKey {
			if err := key(&pendingKey).Consume(index, n); err != nil {
				return err
			}
			haveKey = true
			return nil
		}
		var v V
		if err := val(&v).Consume(index, n); err != nil {
			return err
		}
		(*dst)[pendingKey] = v
		haveKey = false
		return nil
	})
}

// Set binds a set destination (RESP3 set type) of comparable elements.
func Set[T comparable](dst *map[T]struct{}, elem func(*T) Adapter) Adapter {
	if *dst == nil {
		*dst = make(map[T]struct{})
	}
	parentSize := -2
	return AdapterFunc(func(index int, n Node) error {
		if parentSize == -2 {
			if n.Type != TypeSet {
				return ErrIncompatibleNodeType
			}
			parentSize = n.AggregateSize
			return nil
		}
		var v T
		if err := elem(&v).Consume(index, n); err != nil {
			return err
		}
		(*dst)[v] = struct{}{}
		return nil
	})
}

// Tuple binds a fixed-arity, heterogeneous array (or, at the top level, a
// fixed number of pipelined replies) to per-position adapters.
func Tuple(adapters ...Adapter) Adapter {
	started := false
	rootDepth := 0
	pos := 0
	return AdapterFunc(func(index int, n Node) error {
		if !started {
			started = true
			if n.Type == TypeArray {
				size := n.AggregateSize
				if size >= 0 && size != len(adapters) {
					return ErrIncompatibleNodeType
				}
				rootDepth = n.Depth + 1
				return nil
			}
			// Only an array may wrap a tuple; any other aggregate shape
			// is a mismatch.
			if n.Type.IsAggregate() {
				return ErrIncompatibleNodeType
			}
			// No wrapping aggregate: this is a top-level sequence of
			// pipelined replies, and n is already the first node of
			// element 0.
			rootDepth = n.Depth
		}
		// Every descendant of the element currently being filled also
		// passes through here (the reader feeds every node of a reply to
		// the head-of-queue adapter, at every depth). Only a node at
		// rootDepth starts a new element; anything deeper belongs to
		// adapters[pos-1] and must not advance pos.
		if n.Depth == rootDepth {
			if pos >= len(adapters) {
				return ErrIncompatibleNodeType
			}
			pos++
		}
		if pos == 0 {
			return ErrIncompatibleNodeType
		}
		return adapters[pos-1].Consume(index, n)
	})
}
