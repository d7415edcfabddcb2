package respcore

import (
	"encoding"
	"strconv"
)

// Marshaler is implemented by argument types that know how to render
// themselves as RESP3 bulk string payload bytes. Callers may implement it
// for their own types; Request.Push already handles the common built-ins
// without requiring it.
type Marshaler interface {
	MarshalRESP3() ([]byte, error)
}

// marshalArg converts a single command argument to its wire bytes.
func marshalArg(v any) ([]byte, error) {
	switch t := v.(type) {
	case Marshaler:
		return t.MarshalRESP3()
	case []byte:
		return t, nil
	case string:
		return []byte(t), nil
	case int:
		return strconv.AppendInt(nil, int64(t), 10), nil
	case int64:
		return strconv.AppendInt(nil, t, 10), nil
	case float64:
		return strconv.AppendFloat(nil, t, 'g', -1, 64), nil
	case bool:
		if t {
			return []byte("1"), nil
		}
		return []byte("0"), nil
	case encoding.TextMarshaler:
		return t.MarshalText()
	default:
		return nil, &DecodeError{Err: ErrBadPayload}
	}
}
