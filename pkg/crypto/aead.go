// aead.go implements an authenticated-encryption wrapper with counter-based
// nonces. No other package in this module uses it; peer-channel sub-session
// traffic is carried over mutual TLS without it.
//
// Two suites are supported, chosen by the caller of NewAEAD:
//   - ChaCha20-Poly1305: no hardware dependency; refused in FIPS mode
//   - AES-256-GCM
//
// Nonces are generated from a monotonic counter rather than randomly, so
// reuse is prevented by construction as long as the counter is never reset
// across a key's lifetime; NeedsRekey signals when the channel should
// renegotiate a fresh envelope key.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/binary"
	"sync"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/hybridkeyd/hybridkeyd/internal/constants"
	qerrors "github.com/hybridkeyd/hybridkeyd/internal/errors"
)

// AEAD wraps a cipher.AEAD with counter-based nonce management.
type AEAD struct {
	cipher cipher.AEAD
	suite  constants.CipherSuite

	mu      sync.Mutex
	counter uint64
	maxSeq  uint64
}

// NewAEAD builds an AEAD cipher for suite using a 32-byte key.
func NewAEAD(suite constants.CipherSuite, key []byte) (*AEAD, error) {
	if len(key) != constants.EnvelopeKeySize {
		return nil, qerrors.ErrInvalidKeySize
	}

	var aeadCipher cipher.AEAD

	switch suite {
	case constants.CipherSuiteAES256GCM:
		block, err := aes.NewCipher(key)
		if err != nil {
			return nil, qerrors.NewCryptoError("NewAEAD", err)
		}
		aeadCipher, err = cipher.NewGCM(block)
		if err != nil {
			return nil, qerrors.NewCryptoError("NewAEAD", err)
		}

	case constants.CipherSuiteChaCha20Poly1305:
		if FIPSMode() {
			return nil, qerrors.ErrUnsupportedCipherSuite
		}
		var err error
		aeadCipher, err = chacha20poly1305.New(key)
		if err != nil {
			return nil, qerrors.NewCryptoError("NewAEAD", err)
		}

	default:
		return nil, qerrors.ErrUnsupportedCipherSuite
	}

	return &AEAD{
		cipher: aeadCipher,
		suite:  suite,
		maxSeq: uint64(constants.MaxPacketsBeforeRekey),
	}, nil
}

// Seal encrypts and authenticates plaintext, returning nonce || ciphertext || tag.
func (a *AEAD) Seal(plaintext, additionalData []byte) ([]byte, error) {
	nonce, err := a.nextNonce()
	if err != nil {
		return nil, err
	}

	out := make([]byte, constants.EnvelopeNonceSize, constants.EnvelopeNonceSize+len(plaintext)+a.cipher.Overhead())
	copy(out, nonce)
	out = a.cipher.Seal(out, nonce, plaintext, additionalData)
	return out, nil
}

// SealWithNonce encrypts using an explicit nonce. The caller is responsible
// for nonce uniqueness; prefer Seal for automatic management.
func (a *AEAD) SealWithNonce(nonce, plaintext, additionalData []byte) ([]byte, error) {
	if len(nonce) != constants.EnvelopeNonceSize {
		return nil, qerrors.ErrInvalidNonce
	}
	return a.cipher.Seal(nil, nonce, plaintext, additionalData), nil
}

// Open decrypts and verifies ciphertext of the form nonce || ciphertext || tag.
func (a *AEAD) Open(ciphertext, additionalData []byte) ([]byte, error) {
	if len(ciphertext) < constants.MinEnvelopePacketSize {
		return nil, qerrors.ErrCiphertextTooShort
	}

	nonce := ciphertext[:constants.EnvelopeNonceSize]
	encrypted := ciphertext[constants.EnvelopeNonceSize:]

	plaintext, err := a.cipher.Open(nil, nonce, encrypted, additionalData)
	if err != nil {
		return nil, qerrors.ErrAuthenticationFailed
	}
	return plaintext, nil
}

// OpenWithNonce decrypts ciphertext||tag using an explicit nonce.
func (a *AEAD) OpenWithNonce(nonce, ciphertext, additionalData []byte) ([]byte, error) {
	if len(nonce) != constants.EnvelopeNonceSize {
		return nil, qerrors.ErrInvalidNonce
	}
	if len(ciphertext) < constants.EnvelopeTagSize {
		return nil, qerrors.ErrCiphertextTooShort
	}

	plaintext, err := a.cipher.Open(nil, nonce, ciphertext, additionalData)
	if err != nil {
		return nil, qerrors.ErrAuthenticationFailed
	}
	return plaintext, nil
}

// nextNonce returns the next counter-derived nonce, failing once the
// envelope's packet budget is exhausted.
func (a *AEAD) nextNonce() ([]byte, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.counter >= a.maxSeq {
		return nil, qerrors.ErrNonceExhausted
	}

	nonce := make([]byte, constants.EnvelopeNonceSize)
	binary.BigEndian.PutUint64(nonce[4:], a.counter)
	a.counter++
	return nonce, nil
}

// Counter returns the number of packets sealed so far.
func (a *AEAD) Counter() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.counter
}

// SetCounter resumes an envelope at a known counter value.
func (a *AEAD) SetCounter(counter uint64) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if counter >= a.maxSeq {
		return qerrors.ErrNonceExhausted
	}
	a.counter = counter
	return nil
}

// NeedsRekey reports whether the envelope is approaching nonce exhaustion
// (90% of its packet budget) and should be renegotiated.
func (a *AEAD) NeedsRekey() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.counter >= (a.maxSeq * 9 / 10)
}

// Suite returns the cipher suite identifier.
func (a *AEAD) Suite() constants.CipherSuite {
	return a.suite
}

// Overhead returns the bytes of overhead added by Seal: nonce plus tag.
func (a *AEAD) Overhead() int {
	return constants.EnvelopeNonceSize + a.cipher.Overhead()
}

// NonceSize returns the cipher's required nonce size.
func (a *AEAD) NonceSize() int {
	return a.cipher.NonceSize()
}
