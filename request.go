package respcore

import (
	"bytes"
	"reflect"
	"strconv"

	"github.com/samber/lo"
)

// Request is an append-only buffer of serialized RESP3 commands together
// with the number of replies the pipeline expects. A Request is built up
// via Push/PushRange on the caller's goroutine, then submitted to a
// connection; it is treated as immutable from that point until its
// completion callback fires.
type Request struct {
	buf      bytes.Buffer
	Commands int

	// Hello marks this request as the HELLO handshake, always sent first
	// on (re)connect and never user-visible.
	Hello bool
	// RetryOnDisconnect allows this request to be replayed on the next
	// connection after a disconnect that occurred before any reply to it
	// was observed.
	RetryOnDisconnect bool
	// NoReply marks a request whose commands never produce a reply the
	// reader loop should wait on.
	NoReply bool
}

// NewRequest returns an empty Request ready to accept commands.
func NewRequest() *Request {
	return &Request{}
}

// Reset clears the Request so it can be reused for a new pipeline.
func (r *Request) Reset() {
	r.buf.Reset()
	r.Commands = 0
	r.Hello = false
	r.RetryOnDisconnect = false
	r.NoReply = false
}

// Bytes returns the serialized command bytes accumulated so far.
func (r *Request) Bytes() []byte { return r.buf.Bytes() }

// Push appends one command with the given arguments, converting each
// argument to bytes via Marshaler, built-in scalar conversions, or
// encoding.TextMarshaler.
func (r *Request) Push(cmd string, args ...any) error {
	argBytes := make([][]byte, 0, len(args))
	for _, a := range args {
		b, err := marshalArg(a)
		if err != nil {
			return err
		}
		argBytes = append(argBytes, b)
	}
	r.writeArray(cmd, argBytes)
	r.Commands++
	return nil
}

// PushRange appends one command whose trailing arguments are drawn from an
// arbitrary iterable: a slice (each element becomes one argument) or a
// map (each key/value pair becomes two consecutive arguments), both
// walked via reflection. key, if non-nil, is
// inserted as a single argument immediately after cmd.
func (r *Request) PushRange(cmd string, key *string, iter any) error {
	args := make([][]byte, 0, 8)
	if key != nil {
		args = append(args, []byte(*key))
	}

	v := reflect.ValueOf(iter)
	switch v.Kind() {
	case reflect.Map:
		keys := v.MapKeys()
		for _, k := range keys {
			kb, err := marshalArg(k.Interface())
			if err != nil {
				return err
			}
			vb, err := marshalArg(v.MapIndex(k).Interface())
			if err != nil {
				return err
			}
			args = append(args, kb, vb)
		}
	case reflect.Slice, reflect.Array:
		n := v.Len()
		for i := 0; i < n; i++ {
			b, err := marshalArg(v.Index(i).Interface())
			if err != nil {
				return err
			}
			args = append(args, b)
		}
	default:
		return &DecodeError{Err: ErrBadPayload}
	}

	r.writeArray(cmd, args)
	r.Commands++
	return nil
}

// PushMap is a typed alternative to PushRange, built on lo.Entries/lo.ForEach,
// for callers that already hold a map[K]V and want to avoid PushRange's
// reflection path.
func PushMap[K comparable, V any](r *Request, cmd string, key *string, m map[K]V) error {
	args := make([][]byte, 0, 2*len(m)+1)
	if key != nil {
		args = append(args, []byte(*key))
	}
	var outerErr error
	lo.ForEach(lo.Entries(m), func(e lo.Entry[K, V], _ int) {
		if outerErr != nil {
			return
		}
		kb, err := marshalArg(e.Key)
		if err != nil {
			outerErr = err
			return
		}
		vb, err := marshalArg(e.Value)
		if err != nil {
			outerErr = err
			return
		}
		args = append(args, kb, vb)
	})
	if outerErr != nil {
		return outerErr
	}
	r.writeArray(cmd, args)
	r.Commands++
	return nil
}

func (r *Request) writeArray(cmd string, args [][]byte) {
	r.buf.WriteByte(byte(TypeArray))
	r.buf.WriteString(strconv.Itoa(1 + len(args)))
	r.buf.WriteString(crlf)
	r.writeBulk([]byte(cmd))
	for _, a := range args {
		r.writeBulk(a)
	}
}

func (r *Request) writeBulk(b []byte) {
	r.buf.WriteByte(byte(TypeBlobString))
	r.buf.WriteString(strconv.Itoa(len(b)))
	r.buf.WriteString(crlf)
	r.buf.Write(b)
	r.buf.WriteString(crlf)
}
