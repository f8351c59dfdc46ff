// Package hybrid implements C1: the pure, stateless combiners that fold an
// ordered sequence of per-source secrets into one hybrid key, plus the
// deterministic auxiliary-key synthesis used when a session has fewer than
// two surviving sources (§4.7 step 3).
package hybrid

import (
	"crypto/hmac"
	"crypto/sha256"
	"sort"

	qerrors "github.com/hybridkeyd/hybridkeyd/internal/errors"
	"github.com/hybridkeyd/hybridkeyd/pkg/keyformat"
	"github.com/hybridkeyd/hybridkeyd/pkg/model"
)

// HMACOutputSize is the fixed output length of the HMAC combiner.
const HMACOutputSize = sha256.Size

// Combine applies the hybridization method named by m to K with the given
// chunk_size, returning exactly chunk_size bytes.
func Combine(m model.HybridizationMethod, K [][]byte, chunkSize int) ([]byte, error) {
	switch m {
	case model.HybridizationXOR:
		return XOR(K, chunkSize)
	case model.HybridizationHMAC:
		if err := validate(K, chunkSize); err != nil {
			return nil, err
		}
		mac, err := HMAC(K)
		if err != nil {
			return nil, err
		}
		return keyformat.EnforceSize(mac, chunkSize), nil
	case model.HybridizationXORHMAC:
		return XORHMAC(K, chunkSize)
	default:
		return nil, qerrors.ErrUnsupportedKeyType
	}
}

func validate(K [][]byte, chunkSize int) error {
	if len(K) == 0 {
		return qerrors.ErrEmptyInput
	}
	if chunkSize <= 0 {
		return qerrors.ErrInvalidChunkSize
	}
	return nil
}

// XOR normalizes every element of K to exactly chunkSize bytes (truncating
// if longer, zero-padding on the right if shorter) and returns their
// byte-wise XOR. XOR is commutative under any permutation of K.
func XOR(K [][]byte, chunkSize int) ([]byte, error) {
	if err := validate(K, chunkSize); err != nil {
		return nil, err
	}

	out := make([]byte, chunkSize)
	for _, k := range K {
		normalized := keyformat.EnforceSize(k, chunkSize)
		for i := 0; i < chunkSize; i++ {
			out[i] ^= normalized[i]
		}
	}
	return out, nil
}

// HMAC computes HMAC-SHA-256 with K[0] as key and the concatenation of
// K[1:] as message. Inputs are used as-is with no resizing; the output is
// always 32 bytes.
func HMAC(K [][]byte) ([]byte, error) {
	if len(K) == 0 {
		return nil, qerrors.ErrEmptyInput
	}

	mac := hmac.New(sha256.New, K[0])
	for _, k := range K[1:] {
		mac.Write(k)
	}
	return mac.Sum(nil), nil
}

// reverse returns a new slice with K's elements in reverse order.
func reverse(K [][]byte) [][]byte {
	out := make([][]byte, len(K))
	for i, k := range K {
		out[len(K)-1-i] = k
	}
	return out
}

// XORHMAC computes a = HMAC(K), b = HMAC(reverse(K)), and returns
// XOR([a, b], chunkSize).
func XORHMAC(K [][]byte, chunkSize int) ([]byte, error) {
	if err := validate(K, chunkSize); err != nil {
		return nil, err
	}

	a, err := HMAC(K)
	if err != nil {
		return nil, err
	}
	b, err := HMAC(reverse(K))
	if err != nil {
		return nil, err
	}
	return XOR([][]byte{a, b}, chunkSize)
}

// SortLexicographically sorts byte-string values before combination, the
// invariant that guarantees both peers present identical inputs to Combine
// (§3 Invariants).
func SortLexicographically(values [][]byte) [][]byte {
	sorted := make([][]byte, len(values))
	copy(sorted, values)
	sort.Slice(sorted, func(i, j int) bool {
		return compareBytes(sorted[i], sorted[j]) < 0
	})
	return sorted
}

func compareBytes(a, b []byte) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			return int(a[i]) - int(b[i])
		}
	}
	return len(a) - len(b)
}

// DeterministicAux synthesizes a non-secret auxiliary byte string from a
// peer's shared_seed: SHA-256(seed) followed by successive re-hashing of the
// accumulated digest until the output is at least length bytes, truncated to
// exactly length. It is pure: the same (seed, length) always yields the same
// bytes, which is required since both peers must derive it independently.
func DeterministicAux(seed string, length int) []byte {
	out := make([]byte, 0, length+sha256.Size)
	digest := sha256.Sum256([]byte(seed))
	out = append(out, digest[:]...)
	for len(out) < length {
		digest = sha256.Sum256(digest[:])
		out = append(out, digest[:]...)
	}
	return out[:length]
}
