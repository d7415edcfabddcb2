package respcore

import (
	"bytes"
	"math"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeInto(t *testing.T, wire string, a Adapter) Type {
	t.Helper()
	dec := NewDecoder(bytes.NewReader([]byte(wire)))
	typ, err := dec.DecodeNext(a)
	require.NoError(t, err)
	return typ
}

func TestAdapter_Int64FromBoolean(t *testing.T) {
	var n int64
	decodeInto(t, "#t\r\n", Int64(&n))
	assert.Equal(t, int64(1), n)
	decodeInto(t, "#f\r\n", Int64(&n))
	assert.Equal(t, int64(0), n)
}

func TestAdapter_Float64(t *testing.T) {
	tests := []struct {
		wire string
		want float64
	}{
		{",3.14\r\n", 3.14},
		{",inf\r\n", math.Inf(1)},
		{",-inf\r\n", math.Inf(-1)},
		{":42\r\n", 42},
	}
	for _, tt := range tests {
		var f float64
		decodeInto(t, tt.wire, Float64(&f))
		assert.Equal(t, tt.want, f, "wire %q", tt.wire)
	}

	var f float64
	dec := NewDecoder(bytes.NewReader([]byte(",nan\r\n")))
	_, err := dec.DecodeNext(Float64(&f))
	require.NoError(t, err)
	assert.True(t, math.IsNaN(f))
}

func TestAdapter_Optional(t *testing.T) {
	var s string
	var isNull bool
	decodeInto(t, "_\r\n", Optional(String(&s), &isNull))
	assert.True(t, isNull)

	decodeInto(t, "$2\r\nhi\r\n", Optional(String(&s), &isNull))
	assert.False(t, isNull)
	assert.Equal(t, "hi", s)
}

func TestAdapter_Set(t *testing.T) {
	var got map[string]struct{}
	decodeInto(t, "~2\r\n+a\r\n+b\r\n", Set[string](&got, func(v *string) Adapter { return String(v) }))
	assert.Equal(t, map[string]struct{}{"a": {}, "b": {}}, got)

	// A set destination must reject a plain array.
	dec := NewDecoder(bytes.NewReader([]byte("*1\r\n+a\r\n")))
	_, err := dec.DecodeNext(Set[string](&got, func(v *string) Adapter { return String(v) }))
	assert.ErrorIs(t, err, ErrIncompatibleNodeType)
}

func TestAdapter_SliceRejectsMapShape(t *testing.T) {
	var got []string
	dec := NewDecoder(bytes.NewReader([]byte("%1\r\n$1\r\na\r\n$1\r\nb\r\n")))
	_, err := dec.DecodeNext(Slice[string](&got, func(v *string) Adapter { return String(v) }))
	assert.ErrorIs(t, err, ErrIncompatibleNodeType)
	assert.Empty(t, got)
}

func TestAdapter_SliceAcceptsPushShape(t *testing.T) {
	var got []string
	decodeInto(t, ">2\r\n$7\r\nmessage\r\n$2\r\nok\r\n", Slice[string](&got, func(v *string) Adapter { return String(v) }))
	assert.Equal(t, []string{"message", "ok"}, got)
}

func TestAdapter_TupleExactArity(t *testing.T) {
	var a string
	var n int64
	decodeInto(t, "*2\r\n+x\r\n:9\r\n", Tuple(String(&a), Int64(&n)))
	assert.Equal(t, "x", a)
	assert.Equal(t, int64(9), n)

	dec := NewDecoder(bytes.NewReader([]byte("*2\r\n+x\r\n:9\r\n")))
	_, err := dec.DecodeNext(Tuple(String(&a), Int64(&n), Ignore()))
	assert.ErrorIs(t, err, ErrIncompatibleNodeType)
}

func TestAdapter_TupleRejectsNonArrayWrapper(t *testing.T) {
	// A map whose pair count matches the tuple arity is still not an
	// array and must be rejected.
	var a, b string
	dec := NewDecoder(bytes.NewReader([]byte("%1\r\n$1\r\na\r\n$1\r\nb\r\n")))
	_, err := dec.DecodeNext(Tuple(String(&a), String(&b)))
	assert.ErrorIs(t, err, ErrIncompatibleNodeType)
}

func TestAdapter_TupleNestedAggregates(t *testing.T) {
	wire := "*3\r\n$-1\r\n*2\r\n$1\r\na\r\n$1\r\nb\r\n%1\r\n$1\r\nx\r\n$1\r\ny\r\n"
	var (
		s     string
		null1 bool
		lst   []string
		null2 bool
		m     map[string]string
		null3 bool
	)
	decodeInto(t, wire, Tuple(
		Optional(String(&s), &null1),
		Optional(Slice[string](&lst, func(v *string) Adapter { return String(v) }), &null2),
		Optional(Map[string, string](&m,
			func(k *string) Adapter { return String(k) },
			func(v *string) Adapter { return String(v) }), &null3),
	))
	assert.True(t, null1)
	assert.False(t, null2)
	assert.Equal(t, []string{"a", "b"}, lst)
	assert.Equal(t, map[string]string{"x": "y"}, m)
}

func TestAdapter_NodeSeqPreOrder(t *testing.T) {
	var nodes []Node
	decodeInto(t, "*2\r\n:1\r\n*1\r\n+x\r\n", NodeSeq(&nodes))
	require.Len(t, nodes, 4)
	assert.Equal(t, TypeArray, nodes[0].Type)
	assert.Equal(t, 0, nodes[0].Depth)
	assert.Equal(t, TypeNumber, nodes[1].Type)
	assert.Equal(t, 1, nodes[1].Depth)
	assert.Equal(t, TypeArray, nodes[2].Type)
	assert.Equal(t, 1, nodes[2].Depth)
	assert.Equal(t, TypeSimpleString, nodes[3].Type)
	assert.Equal(t, 2, nodes[3].Depth)
	assert.Equal(t, "x", string(nodes[3].Value))
}

func TestDecoder_EmptyAggregates(t *testing.T) {
	var got []string
	decodeInto(t, "*0\r\n", Slice[string](&got, func(v *string) Adapter { return String(v) }))
	assert.Empty(t, got)

	var m map[string]string
	decodeInto(t, "%0\r\n", Map[string, string](&m,
		func(k *string) Adapter { return String(k) },
		func(v *string) Adapter { return String(v) }))
	assert.Empty(t, m)
}

func TestDecoder_ZeroLengthBlob(t *testing.T) {
	var s string
	decodeInto(t, "$0\r\n\r\n", String(&s))
	assert.Equal(t, "", s)
}

func TestDecoder_StreamedBlobZeroParts(t *testing.T) {
	var s string
	decodeInto(t, "$?\r\n;0\r\n", String(&s))
	assert.Equal(t, "", s)
}

func TestDecoder_DeeplyNested(t *testing.T) {
	const depth = 64
	wire := strings.Repeat("*1\r\n", depth) + ":7\r\n"
	var nodes []Node
	decodeInto(t, wire, NodeSeq(&nodes))
	require.Len(t, nodes, depth+1)
	assert.Equal(t, depth, nodes[depth].Depth)
	assert.Equal(t, "7", string(nodes[depth].Value))
}

func TestDecoder_MaxSizeBoundary(t *testing.T) {
	dec := NewDecoder(bytes.NewReader([]byte("$8\r\n01234567\r\n")))
	dec.SetMaxSize(8)
	var b []byte
	_, err := dec.DecodeNext(Bytes(&b))
	require.NoError(t, err)
	assert.Equal(t, "01234567", string(b))

	dec = NewDecoder(bytes.NewReader([]byte("$9\r\n012345678\r\n")))
	dec.SetMaxSize(8)
	_, err = dec.DecodeNext(Bytes(&b))
	assert.ErrorIs(t, err, ErrMaxSizeExceeded)
}

func TestDecoder_BadTypeByte(t *testing.T) {
	dec := NewDecoder(bytes.NewReader([]byte("@oops\r\n")))
	_, err := dec.DecodeNext(Ignore())
	assert.ErrorIs(t, err, ErrBadType)
}

func TestDecoder_EOFMidFrame(t *testing.T) {
	dec := NewDecoder(bytes.NewReader([]byte("$10\r\nhel")))
	var b []byte
	_, err := dec.DecodeNext(Bytes(&b))
	assert.ErrorIs(t, err, ErrUnexpectedEOF)
}

// Decoding must be invariant under arbitrary chunk boundaries: a stream
// delivered one byte at a time yields the same node sequence as the whole
// buffer at once.
func TestDecoder_ChunkBoundaryInvariance(t *testing.T) {
	wire := []byte("*3\r\n$5\r\nhello\r\n%1\r\n+k\r\n:1\r\n~2\r\n#t\r\n_\r\n")

	var whole []Node
	dec := NewDecoder(bytes.NewReader(wire))
	_, err := dec.DecodeNext(NodeSeq(&whole))
	require.NoError(t, err)

	var chunked []Node
	dec = NewDecoder(iotest.OneByteReader(bytes.NewReader(wire)))
	_, err = dec.DecodeNext(NodeSeq(&chunked))
	require.NoError(t, err)

	assert.Equal(t, whole, chunked)
}

func TestDecoder_PushFrameUsesPushIndex(t *testing.T) {
	var indices []int
	sink := AdapterFunc(func(index int, _ Node) error {
		indices = append(indices, index)
		return nil
	})
	dec := NewDecoder(bytes.NewReader([]byte(">2\r\n$7\r\nmessage\r\n$5\r\nhello\r\n+OK\r\n")))
	typ, err := dec.DecodeNext(sink)
	require.NoError(t, err)
	assert.Equal(t, TypePush, typ)
	assert.Equal(t, []int{PushIndex, PushIndex, PushIndex}, indices)

	// The reply after the push frame goes back to reply-relative indices.
	indices = nil
	typ, err = dec.DecodeNext(sink)
	require.NoError(t, err)
	assert.Equal(t, TypeSimpleString, typ)
	assert.Equal(t, []int{0}, indices)
}

func TestDecoder_PipelinedRepliesKeepOrder(t *testing.T) {
	wire := []byte("+OK\r\n$1\r\nv\r\n")
	dec := NewDecoder(bytes.NewReader(wire))
	var s1, s2 string
	_, err := dec.DecodeNext(String(&s1))
	require.NoError(t, err)
	_, err = dec.DecodeNext(String(&s2))
	require.NoError(t, err)
	assert.Equal(t, "OK", s1)
	assert.Equal(t, "v", s2)
}
