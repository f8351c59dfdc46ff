// buffer_pool.go provides buffer pooling to reduce allocations when sealing
// with an AEAD. The pool uses three size classes, for payloads of up to
// 1 KiB, 16 KiB and 64 KiB plus nonce and tag.
package crypto

import (
	"sync"

	"github.com/hybridkeyd/hybridkeyd/internal/constants"
)

// BufferPool provides pooled byte slices for envelope operations.
type BufferPool struct {
	nonce  sync.Pool
	small  sync.Pool
	medium sync.Pool
	large  sync.Pool
}

// Buffer size class thresholds for envelope operations.
const (
	nonceBufferSize        = constants.EnvelopeNonceSize
	smallCryptoBufferSize  = 1024 + constants.EnvelopeNonceSize + constants.EnvelopeTagSize
	mediumCryptoBufferSize = 16*1024 + constants.EnvelopeNonceSize + constants.EnvelopeTagSize
	largeCryptoBufferSize  = 64*1024 + constants.EnvelopeNonceSize + constants.EnvelopeTagSize
)

// globalCryptoPool is the default envelope buffer pool instance.
var globalCryptoPool = NewBufferPool()

// NewBufferPool creates a new envelope buffer pool.
func NewBufferPool() *BufferPool {
	return &BufferPool{
		nonce: sync.Pool{
			New: func() any {
				buf := make([]byte, nonceBufferSize)
				return &buf
			},
		},
		small: sync.Pool{
			New: func() any {
				buf := make([]byte, smallCryptoBufferSize)
				return &buf
			},
		},
		medium: sync.Pool{
			New: func() any {
				buf := make([]byte, mediumCryptoBufferSize)
				return &buf
			},
		},
		large: sync.Pool{
			New: func() any {
				buf := make([]byte, largeCryptoBufferSize)
				return &buf
			},
		},
	}
}

// GetNonce returns a zeroed nonce buffer from the pool.
func (p *BufferPool) GetNonce() []byte {
	bufPtr := p.nonce.Get().(*[]byte)
	buf := *bufPtr
	for i := range buf {
		buf[i] = 0
	}
	return buf
}

// PutNonce returns a nonce buffer to the pool.
func (p *BufferPool) PutNonce(buf []byte) {
	if buf == nil || cap(buf) != nonceBufferSize {
		return
	}
	buf = buf[:cap(buf)]
	for i := range buf {
		buf[i] = 0
	}
	p.nonce.Put(&buf)
}

// GetCiphertext returns a ciphertext buffer of at least the requested size.
func (p *BufferPool) GetCiphertext(size int) []byte {
	if size <= 0 {
		return nil
	}

	var bufPtr *[]byte

	switch {
	case size <= smallCryptoBufferSize:
		bufPtr = p.small.Get().(*[]byte)
	case size <= mediumCryptoBufferSize:
		bufPtr = p.medium.Get().(*[]byte)
	case size <= largeCryptoBufferSize:
		bufPtr = p.large.Get().(*[]byte)
	default:
		return make([]byte, size)
	}

	return (*bufPtr)[:size]
}

// PutCiphertext returns a ciphertext buffer to the pool, zeroing it first
// since it may hold decrypted key material.
func (p *BufferPool) PutCiphertext(buf []byte) {
	if buf == nil {
		return
	}

	bufCap := cap(buf)
	if bufCap == 0 {
		return
	}

	buf = buf[:bufCap]
	for i := range buf {
		buf[i] = 0
	}

	bufPtr := &buf

	switch bufCap {
	case smallCryptoBufferSize:
		p.small.Put(bufPtr)
	case mediumCryptoBufferSize:
		p.medium.Put(bufPtr)
	case largeCryptoBufferSize:
		p.large.Put(bufPtr)
	}
}

// GetCryptoBuffer returns a buffer from the global envelope pool.
func GetCryptoBuffer(size int) []byte { return globalCryptoPool.GetCiphertext(size) }

// PutCryptoBuffer returns a buffer to the global envelope pool.
func PutCryptoBuffer(buf []byte) { globalCryptoPool.PutCiphertext(buf) }

// GetNonceBuffer returns a nonce buffer from the global pool.
func GetNonceBuffer() []byte { return globalCryptoPool.GetNonce() }

// PutNonceBuffer returns a nonce buffer to the global pool.
func PutNonceBuffer(buf []byte) { globalCryptoPool.PutNonce(buf) }

// SealPooled encrypts using pooled nonce and ciphertext buffers. The caller
// must call PutCryptoBuffer on the returned ciphertext when done with it.
func (a *AEAD) SealPooled(plaintext, additionalData []byte) ([]byte, error) {
	nonce, err := a.nextNoncePooled()
	if err != nil {
		return nil, err
	}
	defer PutNonceBuffer(nonce)

	ciphertextSize := constants.EnvelopeNonceSize + len(plaintext) + constants.EnvelopeTagSize
	ciphertext := GetCryptoBuffer(ciphertextSize)

	copy(ciphertext[:constants.EnvelopeNonceSize], nonce)
	a.cipher.Seal(ciphertext[constants.EnvelopeNonceSize:constants.EnvelopeNonceSize], nonce, plaintext, additionalData)

	return ciphertext, nil
}

// nextNoncePooled generates the next nonce using a pooled buffer.
func (a *AEAD) nextNoncePooled() ([]byte, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.counter >= a.maxSeq {
		return nil, errNonceExhausted
	}

	nonce := GetNonceBuffer()
	nonce[0] = 0
	nonce[1] = 0
	nonce[2] = 0
	nonce[3] = 0
	nonce[4] = byte(a.counter >> 56)
	nonce[5] = byte(a.counter >> 48)
	nonce[6] = byte(a.counter >> 40)
	nonce[7] = byte(a.counter >> 32)
	nonce[8] = byte(a.counter >> 24)
	nonce[9] = byte(a.counter >> 16)
	nonce[10] = byte(a.counter >> 8)
	nonce[11] = byte(a.counter)
	a.counter++

	return nonce, nil
}

// errNonceExhausted is the package-local error SealPooled returns when the
// nonce counter is used up. It is not qerrors.ErrNonceExhausted; Seal returns
// that sentinel instead.
var errNonceExhausted = &nonceExhaustedError{}

type nonceExhaustedError struct{}

func (e *nonceExhaustedError) Error() string {
	return "aead: nonce space exhausted, rekey required"
}
