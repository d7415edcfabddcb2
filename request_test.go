package respcore

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequest_Push(t *testing.T) {
	req := NewRequest()
	require.NoError(t, req.Push("SET", "foo", "bar"))
	assert.Equal(t, 1, req.Commands)
	assert.Equal(t, "*3\r\n$3\r\nSET\r\n$3\r\nfoo\r\n$3\r\nbar\r\n", string(req.Bytes()))
}

func TestRequest_PushRange_Slice(t *testing.T) {
	req := NewRequest()
	require.NoError(t, req.PushRange("DEL", nil, []string{"a", "b", "c"}))
	assert.Equal(t, "*4\r\n$3\r\nDEL\r\n$1\r\na\r\n$1\r\nb\r\n$1\r\nc\r\n", string(req.Bytes()))
}

func TestRequest_PushRange_MapWithKey(t *testing.T) {
	req := NewRequest()
	key := "myhash"
	require.NoError(t, req.PushRange("HSET", &key, map[string]string{"f1": "v1"}))
	assert.Contains(t, string(req.Bytes()), "$4\r\nHSET\r\n$6\r\nmyhash\r\n$2\r\nf1\r\n$2\r\nv1\r\n")
}

func TestRequest_PushMap(t *testing.T) {
	req := NewRequest()
	key := "myhash"
	require.NoError(t, PushMap(req, "HSET", &key, map[string]string{"f2": "v2"}))
	assert.Contains(t, string(req.Bytes()), "$4\r\nHSET\r\n$6\r\nmyhash\r\n$2\r\nf2\r\n$2\r\nv2\r\n")
}

func TestRequest_RoundTripThroughDecoder(t *testing.T) {
	req := NewRequest()
	require.NoError(t, req.Push("HSET", "myhash", "field1", "Hello"))
	dec := NewDecoder(bytes.NewReader(req.Bytes()))
	var out []string
	_, err := dec.DecodeNext(Slice[string](&out, func(v *string) Adapter { return String(v) }))
	require.NoError(t, err)
	assert.Equal(t, []string{"HSET", "myhash", "field1", "Hello"}, out)
}

func TestRequest_Reset(t *testing.T) {
	req := NewRequest()
	require.NoError(t, req.Push("PING"))
	req.Reset()
	assert.Equal(t, 0, req.Commands)
	assert.Equal(t, 0, len(req.Bytes()))
}
