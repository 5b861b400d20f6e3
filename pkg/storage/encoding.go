// ABOUTME: Order-preserving encoding for composite badger keys
// ABOUTME: Namespaced prefixes keep per-document scans contiguous and sorted

package storage

import (
	"encoding/binary"
	"fmt"
)

// Key namespaces
const (
	PREFIX_VERSION     = uint32(6000) // (versionID) -> node
	PREFIX_VERSION_NUM = uint32(6100) // (documentID, versionNumber) -> versionID
	PREFIX_HEAD        = uint32(7000) // (documentID) -> head
)

// Value types for composite keys
const (
	TYPE_BYTES  = 1
	TYPE_UINT64 = 3
)

// Value represents a single value in a composite key
type Value struct {
	Type uint8
	Str  []byte
	U64  uint64
}

// NewBytesValue creates a bytes value
func NewBytesValue(data []byte) Value {
	return Value{Type: TYPE_BYTES, Str: data}
}

// NewStringValue creates a bytes value from a string
func NewStringValue(s string) Value {
	return Value{Type: TYPE_BYTES, Str: []byte(s)}
}

// NewUint64Value creates a uint64 value
func NewUint64Value(u uint64) Value {
	return Value{Type: TYPE_UINT64, U64: u}
}

// EncodeValues encodes values so that byte order matches value order.
// Each value is tagged with its type so no encoded value starts with 0xFF.
func EncodeValues(vals []Value) []byte {
	out := make([]byte, 0, 64)
	for _, v := range vals {
		out = append(out, byte(v.Type))

		switch v.Type {
		case TYPE_UINT64:
			var buf [8]byte
			binary.BigEndian.PutUint64(buf[:], v.U64)
			out = append(out, buf[:]...)

		case TYPE_BYTES:
			out = append(out, escapeString(v.Str)...)
			out = append(out, 0)

		default:
			panic(fmt.Sprintf("unknown type: %d", v.Type))
		}
	}
	return out
}

// escapeString escapes null bytes and 0xFE/0xFF for embedding in keys
func escapeString(s []byte) []byte {
	escapes := 0
	for _, b := range s {
		if b == 0 || b == 0xFE || b == 0xFF {
			escapes++
		}
	}

	if escapes == 0 {
		return s
	}

	out := make([]byte, 0, len(s)+escapes)
	for _, b := range s {
		switch b {
		case 0, 0xFE, 0xFF:
			out = append(out, 0xFE, b)
		default:
			out = append(out, b)
		}
	}
	return out
}

// unescapeString reverses escapeString
func unescapeString(s []byte) []byte {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == 0xFE && i+1 < len(s) {
			out = append(out, s[i+1])
			i++
		} else {
			out = append(out, s[i])
		}
	}
	return out
}

// DecodeValues decodes values from encoded format
func DecodeValues(data []byte) ([]Value, error) {
	vals := make([]Value, 0, 4)
	pos := 0

	for pos < len(data) {
		typ := data[pos]
		pos++

		switch typ {
		case TYPE_UINT64:
			if pos+8 > len(data) {
				return nil, fmt.Errorf("incomplete uint64 at pos %d", pos)
			}
			vals = append(vals, NewUint64Value(binary.BigEndian.Uint64(data[pos:pos+8])))
			pos += 8

		case TYPE_BYTES:
			// Terminator is a 0x00 not preceded by the escape byte
			end := pos
			for end < len(data) && data[end] != 0 {
				if data[end] == 0xFE {
					end++
				}
				end++
			}
			if end >= len(data) {
				return nil, fmt.Errorf("unterminated string at pos %d", pos)
			}
			vals = append(vals, NewBytesValue(unescapeString(data[pos:end])))
			pos = end + 1

		default:
			return nil, fmt.Errorf("unknown type: %d at pos %d", typ, pos-1)
		}
	}

	return vals, nil
}

// EncodeKey encodes a composite key with prefix
func EncodeKey(prefix uint32, vals []Value) []byte {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], prefix)
	out := append([]byte{}, buf[:]...)
	return append(out, EncodeValues(vals)...)
}

// EncodeKeyPartial encodes a partial key for range queries.
// Missing columns are encoded as +/- infinity based on comparison.
func EncodeKeyPartial(prefix uint32, vals []Value, cmp int) []byte {
	out := EncodeKey(prefix, vals)

	// CMP_GT (>) and CMP_LE (<=) need +infinity for missing columns
	if cmp == CMP_GT || cmp == CMP_LE {
		out = append(out, 0xFF)
	}

	return out
}

// Comparison operators
const (
	CMP_GE = 1 // >=
	CMP_GT = 2 // >
	CMP_LT = 3 // <
	CMP_LE = 4 // <=
)

// ExtractPrefix extracts the prefix from an encoded key
func ExtractPrefix(key []byte) uint32 {
	if len(key) < 4 {
		return 0
	}
	return binary.BigEndian.Uint32(key[:4])
}

// ExtractValues extracts and decodes values from an encoded key
func ExtractValues(key []byte) ([]Value, error) {
	if len(key) < 4 {
		return nil, fmt.Errorf("key too short")
	}
	return DecodeValues(key[4:])
}

// VersionKey is the primary key of a version node
func VersionKey(versionID string) []byte {
	return EncodeKey(PREFIX_VERSION, []Value{NewStringValue(versionID)})
}

// VersionNumberKey indexes a version node by (documentID, versionNumber)
func VersionNumberKey(documentID string, number int) []byte {
	return EncodeKey(PREFIX_VERSION_NUM, []Value{
		NewStringValue(documentID),
		NewUint64Value(uint64(number)),
	})
}

// VersionNumberPrefix is the scan prefix covering every version of a document
func VersionNumberPrefix(documentID string) []byte {
	return EncodeKey(PREFIX_VERSION_NUM, []Value{NewStringValue(documentID)})
}

// HeadKey is the key of a document head record
func HeadKey(documentID string) []byte {
	return EncodeKey(PREFIX_HEAD, []Value{NewStringValue(documentID)})
}

// HeadPrefix covers every head record
func HeadPrefix() []byte {
	return EncodeKey(PREFIX_HEAD, nil)
}
