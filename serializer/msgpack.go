package serializer

import (
	"bytes"
	"encoding/hex"
	"fmt"

	"github.com/vmihailenco/msgpack/v4"
)

// MsgpackName selects Msgpack in configuration.
const MsgpackName = "msgpack"

// Msgpack encodes values as MessagePack. Integers use the compact encoding and
// the keys of map[string]string and map[string]any are sorted, so equal status
// maps produce identical bytes. Records are structs with msgpack tags; fields
// added later must be omitempty so older peers keep decoding them.
type Msgpack struct{}

// Name implements Serializer.
func (Msgpack) Name() string {
	return MsgpackName
}

// Marshal implements Serializer.
func (Msgpack) Marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf).UseCompactEncoding(true).SortMapKeys(true)
	if err := enc.Encode(v); err != nil {
		return nil, wrap("msgpack marshal", fmt.Errorf("%T: %w", v, err))
	}

	return buf.Bytes(), nil
}

// Unmarshal implements Serializer.
func (Msgpack) Unmarshal(data []byte, v any) error {
	if p, ok := v.(*any); ok && p != nil {
		*p = nil
	}

	if err := msgpack.Unmarshal(data, v); err != nil {
		return wrap("msgpack unmarshal", fmt.Errorf("%s: %w", hex.EncodeToString(data), err))
	}

	return nil
}
