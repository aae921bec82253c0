// Package codec provides the canonical binary encoding of ledger state.
// Every replica must hash identical bytes for identical state, so encoding
// uses CBOR Core Deterministic Encoding and hashing uses BLAKE2b-256.
package codec

import (
	"encoding/hex"
	"fmt"
	"reflect"

	"github.com/fxamacker/cbor/v2"
	"golang.org/x/crypto/blake2b"
)

// HashSize is the size of a state or block hash in bytes.
const HashSize = blake2b.Size256

// Hash is a BLAKE2b-256 digest.
type Hash [HashSize]byte

// String returns the lowercase hex form.
func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// IsZero reports whether the hash is unset.
func (h Hash) IsZero() bool {
	return h == Hash{}
}

// MarshalText implements encoding.TextMarshaler.
func (h Hash) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (h *Hash) UnmarshalText(text []byte) error {
	b, err := hex.DecodeString(string(text))
	if err != nil {
		return fmt.Errorf("codec: decode hash: %w", err)
	}
	if len(b) != HashSize {
		return fmt.Errorf("codec: hash must be %d bytes, got %d", HashSize, len(b))
	}
	copy(h[:], b)
	return nil
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error

	encOptions := cbor.CoreDetEncOptions()
	encOptions.TextMarshaler = cbor.TextMarshalerTextString
	encMode, err = encOptions.EncMode()
	if err != nil {
		panic("codec: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{
		// Payload maps decode into map[string]any so they stay compatible
		// with encoding/json on the HTTP surface.
		DefaultMapType:  reflect.TypeOf(map[string]any(nil)),
		TextUnmarshaler: cbor.TextUnmarshalerTextString,
	}.DecMode()
	if err != nil {
		panic("codec: CBOR decoder initialization failed: " + err.Error())
	}
}

// Marshal encodes v to CBOR using Core Deterministic Encoding.
func Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// Unmarshal decodes CBOR data into v.
func Unmarshal(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}

// Sum hashes raw bytes.
func Sum(data []byte) Hash {
	return Hash(blake2b.Sum256(data))
}

// Digest encodes v deterministically and returns its hash.
func Digest(v any) (Hash, error) {
	data, err := Marshal(v)
	if err != nil {
		return Hash{}, fmt.Errorf("codec: encode for digest: %w", err)
	}
	return Sum(data), nil
}
