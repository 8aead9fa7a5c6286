// Package codec holds the canonical encodings used for anything that is
// signed or hashed: CBOR Core Deterministic Encoding for token claims and
// ledger envelopes, and sorted-key compact JSON for report content.
package codec

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("codec: building CBOR encoder: " + err.Error())
	}
	decMode, err = cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
		DupMapKey:      cbor.DupMapKeyEnforcedAPF,
	}.DecMode()
	if err != nil {
		panic("codec: building CBOR decoder: " + err.Error())
	}
}

// Marshal encodes v deterministically. Equal values always produce equal bytes.
func Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// Unmarshal decodes CBOR data into v. Duplicate map keys are rejected.
func Unmarshal(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}

// RawMessage is a raw encoded CBOR value, used to defer decoding of a
// variant body until its type tag has been read.
type RawMessage = cbor.RawMessage

// CanonicalJSON encodes v as compact JSON with object keys sorted and no
// HTML escaping, the form used for content hashing. Struct values should be
// converted to maps first since struct field order is declaration order.
func CanonicalJSON(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("encoding canonical JSON: %w", err)
	}
	// Encode appends a newline.
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}
