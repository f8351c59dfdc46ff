package crypto_test

import (
	"bytes"
	"testing"

	"github.com/hybridkeyd/hybridkeyd/internal/constants"
	"github.com/hybridkeyd/hybridkeyd/pkg/crypto"
)

func newTestKey(t *testing.T) []byte {
	t.Helper()
	key := make([]byte, constants.EnvelopeKeySize)
	if err := crypto.SecureRandom(key); err != nil {
		t.Fatalf("SecureRandom failed: %v", err)
	}
	return key
}

func TestAEADSealOpenRoundTrip(t *testing.T) {
	for _, suite := range []constants.CipherSuite{constants.CipherSuiteChaCha20Poly1305, constants.CipherSuiteAES256GCM} {
		key := newTestKey(t)
		aead, err := crypto.NewAEAD(suite, key)
		if err != nil {
			t.Fatalf("NewAEAD(%s) failed: %v", suite, err)
		}

		plaintext := []byte("hybrid session reference payload")
		aad := []byte("peer-channel")

		ciphertext, err := aead.Seal(plaintext, aad)
		if err != nil {
			t.Fatalf("Seal failed: %v", err)
		}

		decrypted, err := aead.Open(ciphertext, aad)
		if err != nil {
			t.Fatalf("Open failed: %v", err)
		}
		if !bytes.Equal(decrypted, plaintext) {
			t.Errorf("round trip mismatch: got %q, want %q", decrypted, plaintext)
		}
	}
}

func TestAEADWrongKeyFails(t *testing.T) {
	key := newTestKey(t)
	aead, _ := crypto.NewAEAD(constants.CipherSuiteChaCha20Poly1305, key)

	ciphertext, err := aead.Seal([]byte("secret"), nil)
	if err != nil {
		t.Fatalf("Seal failed: %v", err)
	}

	other, _ := crypto.NewAEAD(constants.CipherSuiteChaCha20Poly1305, newTestKey(t))
	if _, err := other.Open(ciphertext, nil); err == nil {
		t.Error("Open with wrong key should fail")
	}
}

func TestAEADWrongAADFails(t *testing.T) {
	key := newTestKey(t)
	aead, _ := crypto.NewAEAD(constants.CipherSuiteChaCha20Poly1305, key)

	ciphertext, _ := aead.Seal([]byte("secret"), []byte("correct-aad"))
	if _, err := aead.Open(ciphertext, []byte("wrong-aad")); err == nil {
		t.Error("Open with mismatched AAD should fail")
	}
}

func TestAEADInvalidKeySize(t *testing.T) {
	if _, err := crypto.NewAEAD(constants.CipherSuiteChaCha20Poly1305, make([]byte, 10)); err == nil {
		t.Error("NewAEAD with undersized key should fail")
	}
}

func TestAEADUnsupportedSuite(t *testing.T) {
	key := newTestKey(t)
	if _, err := crypto.NewAEAD(constants.CipherSuite(0xFFFF), key); err == nil {
		t.Error("NewAEAD with unsupported suite should fail")
	}
}

func TestAEADCiphertextTooShort(t *testing.T) {
	key := newTestKey(t)
	aead, _ := crypto.NewAEAD(constants.CipherSuiteChaCha20Poly1305, key)

	if _, err := aead.Open([]byte{0x01, 0x02}, nil); err == nil {
		t.Error("Open with too-short ciphertext should fail")
	}
}

func TestAEADNonceCounterAdvances(t *testing.T) {
	key := newTestKey(t)
	aead, _ := crypto.NewAEAD(constants.CipherSuiteChaCha20Poly1305, key)

	if aead.Counter() != 0 {
		t.Fatalf("initial counter = %d, want 0", aead.Counter())
	}
	for i := 1; i <= 3; i++ {
		if _, err := aead.Seal([]byte("x"), nil); err != nil {
			t.Fatalf("Seal failed: %v", err)
		}
		if aead.Counter() != uint64(i) {
			t.Errorf("counter after %d seals = %d, want %d", i, aead.Counter(), i)
		}
	}
}

func TestAEADNeedsRekey(t *testing.T) {
	key := newTestKey(t)
	aead, _ := crypto.NewAEAD(constants.CipherSuiteChaCha20Poly1305, key)

	if aead.NeedsRekey() {
		t.Error("fresh envelope should not need rekey")
	}

	if err := aead.SetCounter(constants.MaxPacketsBeforeRekey * 95 / 100); err != nil {
		t.Fatalf("SetCounter failed: %v", err)
	}
	if !aead.NeedsRekey() {
		t.Error("envelope at 95% of budget should need rekey")
	}
}

func TestAEADOverheadAndNonceSize(t *testing.T) {
	key := newTestKey(t)
	aead, _ := crypto.NewAEAD(constants.CipherSuiteChaCha20Poly1305, key)

	if got := aead.NonceSize(); got != constants.EnvelopeNonceSize {
		t.Errorf("NonceSize() = %d, want %d", got, constants.EnvelopeNonceSize)
	}
	if got := aead.Overhead(); got != constants.EnvelopeNonceSize+constants.EnvelopeTagSize {
		t.Errorf("Overhead() = %d, want %d", got, constants.EnvelopeNonceSize+constants.EnvelopeTagSize)
	}
}

func TestAEADSealWithNonceRoundTrip(t *testing.T) {
	key := newTestKey(t)
	aead, _ := crypto.NewAEAD(constants.CipherSuiteChaCha20Poly1305, key)

	nonce := make([]byte, constants.EnvelopeNonceSize)
	ciphertext, err := aead.SealWithNonce(nonce, []byte("fixed-nonce payload"), nil)
	if err != nil {
		t.Fatalf("SealWithNonce failed: %v", err)
	}

	plaintext, err := aead.OpenWithNonce(nonce, ciphertext, nil)
	if err != nil {
		t.Fatalf("OpenWithNonce failed: %v", err)
	}
	if string(plaintext) != "fixed-nonce payload" {
		t.Errorf("OpenWithNonce = %q, want %q", plaintext, "fixed-nonce payload")
	}
}
