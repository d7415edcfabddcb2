package respcore

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type upperArg string

func (u upperArg) MarshalRESP3() ([]byte, error) {
	return []byte(strings.ToUpper(string(u))), nil
}

type textArg struct{ v string }

func (a textArg) MarshalText() ([]byte, error) { return []byte("txt:" + a.v), nil }

func TestMarshalArg_Builtins(t *testing.T) {
	tests := []struct {
		name string
		arg  any
		want string
	}{
		{"string", "abc", "abc"},
		{"bytes", []byte{0x01, 0x02}, "\x01\x02"},
		{"int", 42, "42"},
		{"int64", int64(-7), "-7"},
		{"float64", 2.5, "2.5"},
		{"bool_true", true, "1"},
		{"bool_false", false, "0"},
		{"marshaler", upperArg("hey"), "HEY"},
		{"text_marshaler", textArg{v: "x"}, "txt:x"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := marshalArg(tt.arg)
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(got))
		})
	}
}

func TestMarshalArg_Unsupported(t *testing.T) {
	_, err := marshalArg(struct{ x int }{x: 1})
	assert.Error(t, err)
}

func TestRequest_PushCustomMarshaler(t *testing.T) {
	req := NewRequest()
	require.NoError(t, req.Push("SET", "k", upperArg("value")))
	assert.Equal(t, "*3\r\n$3\r\nSET\r\n$1\r\nk\r\n$5\r\nVALUE\r\n", string(req.Bytes()))
}
