// Package keyformat implements C2: decoding heterogeneous key-material
// representations into bytes, and padding/truncating byte strings to an
// exact chunk size.
package keyformat

import (
	"encoding/base64"
	"encoding/hex"
	"math/big"

	qerrors "github.com/hybridkeyd/hybridkeyd/internal/errors"
)

// ToBytes decodes x into a byte slice.
//
//   - []byte is returned verbatim.
//   - string is tried as base64, then hex, then falls back to its raw UTF-8
//     encoding.
//   - an integer type is encoded as a minimum-width big-endian value; 0
//     becomes a single zero byte.
//   - []int (each element in 0..=255) is packed verbatim.
//
// Any other input fails with ErrUnsupportedKeyType.
func ToBytes(x interface{}) ([]byte, error) {
	switch v := x.(type) {
	case []byte:
		return v, nil
	case string:
		return stringToBytes(v), nil
	case int:
		return intToBytes(int64(v)), nil
	case int32:
		return intToBytes(int64(v)), nil
	case int64:
		return intToBytes(v), nil
	case []int:
		return intSliceToBytes(v)
	default:
		return nil, qerrors.ErrUnsupportedKeyType
	}
}

func stringToBytes(s string) []byte {
	if s == "" {
		return []byte{}
	}
	if decoded, err := base64.StdEncoding.DecodeString(s); err == nil {
		return decoded
	}
	if decoded, err := hex.DecodeString(s); err == nil {
		return decoded
	}
	return []byte(s)
}

func intToBytes(n int64) []byte {
	if n == 0 {
		return []byte{0}
	}
	b := big.NewInt(n).Bytes()
	if len(b) == 0 {
		return []byte{0}
	}
	return b
}

func intSliceToBytes(ints []int) ([]byte, error) {
	out := make([]byte, len(ints))
	for i, v := range ints {
		if v < 0 || v > 255 {
			return nil, qerrors.ErrUnsupportedKeyType
		}
		out[i] = byte(v)
	}
	return out, nil
}

// EnforceSize truncates or right-pads b with 0x00 to produce exactly size
// bytes. size must be positive; callers validate chunk_size before calling.
func EnforceSize(b []byte, size int) []byte {
	if len(b) == size {
		return append([]byte(nil), b...)
	}
	if len(b) > size {
		out := make([]byte, size)
		copy(out, b[:size])
		return out
	}
	out := make([]byte, size)
	copy(out, b)
	return out
}

// ToIntSlice converts bytes to a list of integers in 0..=255, the wire
// representation of GET_KEY's key_buffer field.
func ToIntSlice(b []byte) []int {
	out := make([]int, len(b))
	for i, v := range b {
		out[i] = int(v)
	}
	return out
}
