// Package serializer converts application values to frame payloads and back.
//
// Two encodings are provided. Msgpack is the default: it is self-describing,
// language neutral and handles nested records. Text carries plain UTF-8
// strings for peers that only exchange status lines.
package serializer

import (
	"errors"
	"fmt"
	"sort"
)

// ErrSerialization wraps every encode or decode failure.
var ErrSerialization = errors.New("serialization error")

// Serializer converts values to bytes and back. Implementations must be safe
// for concurrent use.
type Serializer interface {
	// Name returns the identifier used to select the serializer in configuration.
	Name() string

	// Marshal encodes v.
	//
	// Parameters:
	//   - v: The value to encode
	//
	// Returns:
	//   - The encoded bytes
	//   - An error wrapping ErrSerialization if v cannot be encoded
	Marshal(v any) ([]byte, error)

	// Unmarshal decodes data into v, which must be a non-nil pointer.
	//
	// Parameters:
	//   - data: The encoded bytes
	//   - v: Pointer receiving the decoded value
	//
	// Returns:
	//   - An error wrapping ErrSerialization if data cannot be decoded into v
	Unmarshal(data []byte, v any) error
}

var registry = map[string]Serializer{
	MsgpackName: Msgpack{},
	TextName:    Text{},
}

// Lookup returns the serializer registered under name.
//
// Parameters:
//   - name: A serializer name such as "msgpack" or "text"
//
// Returns:
//   - The serializer, or an error listing the known names
func Lookup(name string) (Serializer, error) {
	s, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("unknown serializer %q, want one of %v", name, Names())
	}

	return s, nil
}

// Names returns the registered serializer names in sorted order.
func Names() []string {
	names := make([]string, 0, len(registry))
	for n := range registry {
		names = append(names, n)
	}

	sort.Strings(names)
	return names
}

// Default returns the serializer used when none is configured.
func Default() Serializer {
	return Msgpack{}
}

func wrap(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrSerialization, op, err)
}
