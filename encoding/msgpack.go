// Package encoding is the single place where ledger values are serialized.
// Every backend that stores StageRecord payloads or detail maps as bytes goes
// through Marshal/Unmarshal so the on-disk format stays the same whichever
// backend wrote it.
//
// Thread Safety: Marshal and Unmarshal are safe for concurrent use.
package encoding

import (
	"bytes"

	"github.com/vmihailenco/msgpack/v5"
)

// Marshal encodes a value to msgpack format.
func Marshal(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	// Sorted map keys keep the bytes for a given details map stable
	enc.SetSortMapKeys(true)

	if err := enc.Encode(v); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// Unmarshal decodes msgpack data. Strings inside interface{} values decode as
// Go strings, not []byte.
func Unmarshal(data []byte, v interface{}) error {
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	dec.UseLooseInterfaceDecoding(true)

	return dec.Decode(v)
}

// MarshalDetails encodes a stage details map. A nil or empty map encodes to
// nil so backends can store NULL.
func MarshalDetails(details map[string]string) ([]byte, error) {
	if len(details) == 0 {
		return nil, nil
	}
	return Marshal(details)
}

// UnmarshalDetails is the inverse of MarshalDetails
func UnmarshalDetails(data []byte) (map[string]string, error) {
	if len(data) == 0 {
		return map[string]string{}, nil
	}
	details := make(map[string]string)
	if err := Unmarshal(data, &details); err != nil {
		return nil, err
	}
	return details, nil
}
