package respcore

import (
	"bufio"
	"errors"
	"io"
	"strconv"
	"sync/atomic"
)

const (
	// DefaultReadBufferSize sizes the buffered reader for typical reply
	// traffic.
	DefaultReadBufferSize = 8 * 1024
	// DefaultMaxReadSize bounds a single blob payload or a single
	// aggregate's element count, guarding against a malicious or corrupt
	// peer.
	DefaultMaxReadSize = 512 * 1024 * 1024
)

// Decoder turns a byte stream into a sequence of Node values delivered to an
// Adapter. A Decoder is not safe for concurrent use; the connection engine
// confines it to its single reader goroutine.
type Decoder struct {
	r           *bufio.Reader
	cr          *countingReader
	maxSize     int
	OnAttribute func(pairs []Node)
	// inPush is set while the current top-level frame is a push; every
	// node of a push frame is delivered with index PushIndex instead of
	// a reply-relative position.
	inPush bool
}

// NewDecoder wraps r in a buffered reader sized for typical reply traffic.
func NewDecoder(r io.Reader) *Decoder {
	cr := &countingReader{r: r}
	return &Decoder{
		r:       bufio.NewReaderSize(cr, DefaultReadBufferSize),
		cr:      cr,
		maxSize: DefaultMaxReadSize,
	}
}

// SetMaxSize overrides the default blob/fan-out size cap.
func (d *Decoder) SetMaxSize(n int) { d.maxSize = n }

// Buffered reports the number of bytes already read into the internal
// buffer but not yet consumed; the idle-check task uses this to avoid
// declaring a connection stalled while a large reply is mid-flight.
func (d *Decoder) Buffered() int { return d.r.Buffered() }

// BytesRead returns the total number of bytes pulled from the underlying
// io.Reader so far, for byte-accounting metrics.
func (d *Decoder) BytesRead() int64 { return d.cr.n.Load() }

// countingReader tallies bytes read from the underlying stream so the
// connection engine can report wire traffic without the decoder exposing
// its internal buffer.
type countingReader struct {
	r io.Reader
	n atomic.Int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n.Add(int64(n))
	return n, err
}

// DecodeNext decodes exactly one top-level reply, feeding every Node in
// pre-order to adapter, and returns the reply's root Type so the caller can
// distinguish an ordinary reply from a push frame. Attribute frames
// preceding a reply are consumed transparently: their key/value pairs are
// reported via d.OnAttribute (if set) and do not themselves occupy a reply
// slot.
func (d *Decoder) DecodeNext(a Adapter) (Type, error) {
	for {
		idx := 0
		d.inPush = false
		t, err := d.decodeValue(a, &idx, 0)
		if err != nil {
			return TypeInvalid, err
		}
		if t == TypeAttribute {
			continue
		}
		return t, nil
	}
}

func (d *Decoder) decodeValue(a Adapter, idx *int, depth int) (Type, error) {
	b, err := d.r.ReadByte()
	if err != nil {
		return TypeInvalid, wrapEOF(err)
	}
	t := Type(b)
	switch t {
	case TypeSimpleString, TypeSimpleError, TypeBigNumber, TypeDouble:
		line, err := d.readLine()
		if err != nil {
			return TypeInvalid, &DecodeError{Type: t, Depth: depth, Err: err}
		}
		return t, d.emit(a, idx, Node{Type: t, AggregateSize: 1, Depth: depth, Value: line})

	case TypeNumber:
		line, err := d.readLine()
		if err != nil {
			return TypeInvalid, &DecodeError{Type: t, Depth: depth, Err: err}
		}
		if _, err := parseInt(line); err != nil {
			return TypeInvalid, &DecodeError{Type: t, Depth: depth, Err: ErrBadPayload}
		}
		return t, d.emit(a, idx, Node{Type: t, AggregateSize: 1, Depth: depth, Value: line})

	case TypeBoolean:
		line, err := d.readLine()
		if err != nil {
			return TypeInvalid, &DecodeError{Type: t, Depth: depth, Err: err}
		}
		if len(line) != 1 || (line[0] != 't' && line[0] != 'f') {
			return TypeInvalid, &DecodeError{Type: t, Depth: depth, Err: ErrBadPayload}
		}
		return t, d.emit(a, idx, Node{Type: t, AggregateSize: 1, Depth: depth, Value: line})

	case TypeNull:
		if _, err := d.readLine(); err != nil {
			return TypeInvalid, &DecodeError{Type: t, Depth: depth, Err: err}
		}
		return t, d.emit(a, idx, Node{Type: TypeNull, AggregateSize: 0, Depth: depth})

	case TypeBlobString, TypeBlobError:
		rt := t
		if p, err := d.r.Peek(1); err == nil && p[0] == '-' {
			rt = TypeNull // legacy null form ($-1)
		}
		return rt, d.decodeBlob(a, idx, depth, t)

	case TypeArray, TypeMap, TypeSet, TypePush:
		if t == TypePush && depth == 0 {
			d.inPush = true
		}
		rt := t
		if p, err := d.r.Peek(1); err == nil && p[0] == '-' {
			rt = TypeNull // legacy null form (*-1)
		}
		return rt, d.decodeAggregate(a, idx, depth, t, false)

	case TypeAttribute:
		return t, d.decodeAggregate(a, idx, depth, t, true)

	default:
		return TypeInvalid, &DecodeError{Type: TypeInvalid, Depth: depth, Err: ErrBadType}
	}
}

// decodeBlob reads a blob_string/blob_error header, which is either a fixed
// length ("$5\r\nhello\r\n") or a streamed marker ("$?\r\n") followed by a
// sequence of length-prefixed parts terminated by a zero-length part
// (";0\r\n").
func (d *Decoder) decodeBlob(a Adapter, idx *int, depth int, t Type) error {
	header, err := d.readLine()
	if err != nil {
		return &DecodeError{Type: t, Depth: depth, Err: err}
	}
	if len(header) == 1 && header[0] == '?' {
		if err := d.emit(a, idx, Node{Type: t, AggregateSize: UnknownAggregateSize, Depth: depth}); err != nil {
			return err
		}
		for {
			marker, err := d.r.ReadByte()
			if err != nil {
				return wrapEOF(err)
			}
			if Type(marker) != TypeBlobChunk {
				return &DecodeError{Type: t, Depth: depth, Err: ErrBadType}
			}
			lenLine, err := d.readLine()
			if err != nil {
				return &DecodeError{Type: t, Depth: depth, Err: err}
			}
			n, err := parseInt(lenLine)
			if err != nil || n < 0 {
				return &DecodeError{Type: t, Depth: depth, Err: ErrBadHeader}
			}
			if n == 0 {
				return d.emit(a, idx, Node{Type: TypeBlobChunk, Depth: depth + 1})
			}
			if err := d.checkSize(int(n)); err != nil {
				return err
			}
			buf := make([]byte, n)
			if _, err := io.ReadFull(d.r, buf); err != nil {
				return wrapEOF(err)
			}
			if err := d.skipCRLF(); err != nil {
				return &DecodeError{Type: t, Depth: depth, Err: err}
			}
			if err := d.emit(a, idx, Node{Type: TypeBlobChunk, Depth: depth + 1, Value: buf}); err != nil {
				return err
			}
		}
	}

	n, err := parseInt(header)
	if err != nil {
		return &DecodeError{Type: t, Depth: depth, Err: ErrBadHeader}
	}
	if n < 0 {
		// legacy null form ($-1).
		return d.emit(a, idx, Node{Type: TypeNull, AggregateSize: 0, Depth: depth})
	}
	if err := d.checkSize(int(n)); err != nil {
		return err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(d.r, buf); err != nil {
		return wrapEOF(err)
	}
	if err := d.skipCRLF(); err != nil {
		return &DecodeError{Type: t, Depth: depth, Err: err}
	}
	return d.emit(a, idx, Node{Type: t, AggregateSize: 1, Depth: depth, Value: buf})
}

// decodeAggregate reads an array/map/set/push/attribute header and recurses
// into its declared (or streamed) children. isAttribute diverts children
// into a private collector instead of the caller's adapter, since an
// attribute's pairs are metadata, not reply content.
func (d *Decoder) decodeAggregate(a Adapter, idx *int, depth int, t Type, isAttribute bool) error {
	header, err := d.readLine()
	if err != nil {
		return &DecodeError{Type: t, Depth: depth, Err: err}
	}
	multiplier := 1
	if t == TypeMap || t == TypeAttribute {
		multiplier = 2
	}

	dest := a
	var collected []Node
	if isAttribute {
		dest = NodeSeq(&collected)
	}

	if len(header) == 1 && header[0] == '?' {
		if !isAttribute {
			if err := d.emit(dest, idx, Node{Type: t, AggregateSize: UnknownAggregateSize, Depth: depth}); err != nil {
				return err
			}
		}
		childIdx := 0
		for {
			marker, err := d.r.ReadByte()
			if err != nil {
				return wrapEOF(err)
			}
			if Type(marker) == typeStreamEnd {
				if err := d.skipCRLF(); err != nil {
					return &DecodeError{Type: t, Depth: depth, Err: err}
				}
				break
			}
			if err := d.r.UnreadByte(); err != nil {
				return err
			}
			if _, err := d.decodeValue(dest, &childIdx, depth+1); err != nil {
				return err
			}
		}
		if isAttribute && d.OnAttribute != nil {
			d.OnAttribute(collected)
		}
		return nil
	}

	n, err := parseInt(header)
	if err != nil {
		return &DecodeError{Type: t, Depth: depth, Err: ErrBadHeader}
	}
	if n < 0 {
		return d.emit(dest, idx, Node{Type: TypeNull, AggregateSize: 0, Depth: depth})
	}
	count := int(n) * multiplier
	if err := d.checkSize(count); err != nil {
		return err
	}
	if !isAttribute {
		if err := d.emit(dest, idx, Node{Type: t, AggregateSize: count, Depth: depth}); err != nil {
			return err
		}
	}
	childIdx := 0
	for i := 0; i < count; i++ {
		if _, err := d.decodeValue(dest, &childIdx, depth+1); err != nil {
			return err
		}
	}
	if isAttribute && d.OnAttribute != nil {
		d.OnAttribute(collected)
	}
	return nil
}

func (d *Decoder) emit(a Adapter, idx *int, n Node) error {
	i := *idx
	*idx++
	if d.inPush {
		i = PushIndex
	}
	if a == nil {
		return nil
	}
	return a.Consume(i, n)
}

func (d *Decoder) checkSize(n int) error {
	if n < 0 || n > d.maxSize {
		return ErrMaxSizeExceeded
	}
	return nil
}

func (d *Decoder) readLine() ([]byte, error) {
	line, err := d.r.ReadSlice('\n')
	if err != nil {
		return nil, wrapEOF(err)
	}
	if len(line) < 2 || line[len(line)-2] != '\r' {
		return nil, ErrBadHeader
	}
	return line[:len(line)-2], nil
}

func (d *Decoder) skipCRLF() error {
	b, err := d.r.ReadByte()
	if err != nil {
		return wrapEOF(err)
	}
	if b != '\r' {
		return ErrBadHeader
	}
	b, err = d.r.ReadByte()
	if err != nil {
		return wrapEOF(err)
	}
	if b != '\n' {
		return ErrBadHeader
	}
	return nil
}

func parseInt(b []byte) (int64, error) {
	if len(b) == 0 {
		return 0, ErrBadHeader
	}
	return strconv.ParseInt(string(b), 10, 64)
}

func wrapEOF(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return ErrUnexpectedEOF
	}
	return err
}
