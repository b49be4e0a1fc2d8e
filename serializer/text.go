package serializer

import (
	"errors"
	"fmt"
	"unicode/utf8"
)

// TextName selects Text in configuration.
const TextName = "text"

var errInvalidUTF8 = errors.New("payload is not valid UTF-8")

// Text sends strings as their raw UTF-8 bytes with no type information. It
// accepts string, []byte and nil on encode, and decodes into *string, *[]byte
// or *any (which receives a string).
type Text struct{}

// Name implements Serializer.
func (Text) Name() string {
	return TextName
}

// Marshal implements Serializer.
func (Text) Marshal(v any) ([]byte, error) {
	switch t := v.(type) {
	case nil:
		return []byte{}, nil
	case string:
		if !utf8.ValidString(t) {
			return nil, wrap("text marshal", errInvalidUTF8)
		}
		return []byte(t), nil
	case []byte:
		return append([]byte(nil), t...), nil
	default:
		return nil, wrap("text marshal", fmt.Errorf("unsupported type %T", v))
	}
}

// Unmarshal implements Serializer.
func (Text) Unmarshal(data []byte, v any) error {
	switch t := v.(type) {
	case *[]byte:
		*t = append([]byte(nil), data...)
		return nil
	case *string:
		if !utf8.Valid(data) {
			return wrap("text unmarshal", errInvalidUTF8)
		}
		*t = string(data)
		return nil
	case *any:
		if !utf8.Valid(data) {
			return wrap("text unmarshal", errInvalidUTF8)
		}
		*t = string(data)
		return nil
	default:
		return wrap("text unmarshal", fmt.Errorf("unsupported target %T", v))
	}
}
