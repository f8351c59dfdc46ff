// Package errors defines the error taxonomy shared by every component of the
// hybrid key-derivation daemon. Sentinel values identify the kind of failure;
// the wrapper types attach the operation-specific context callers need to log
// or translate into a wire status code.
package errors

import (
	"errors"
	"fmt"
)

// Sentinel errors for configuration and session bootstrap.
var (
	// ErrConfigError indicates a configuration or trusted-peer file could not
	// be loaded or parsed.
	ErrConfigError = errors.New("hybridkeyd: configuration error")

	// ErrUuidMismatch indicates the local node uuid matches neither the
	// source nor the destination uuid of an OPEN_CONNECT request.
	ErrUuidMismatch = errors.New("hybridkeyd: local uuid matches neither source nor destination")

	// ErrUnknownPeer indicates the peer uuid derived from a request has no
	// entry in the trusted-peers table.
	ErrUnknownPeer = errors.New("hybridkeyd: unknown peer uuid")

	// ErrPeerNotConnected indicates connect_peer timed out waiting for the
	// partner socket to be parked (SERVER role) or failed to dial/handshake
	// (CLIENT role).
	ErrPeerNotConnected = errors.New("hybridkeyd: peer not connected")
)

// Sentinel errors for the hybridization primitives (C1) and key formatting (C2).
var (
	// ErrEmptyInput indicates a hybridization call received zero byte strings.
	ErrEmptyInput = errors.New("hybridkeyd: empty key input")

	// ErrInvalidChunkSize indicates a zero or negative chunk_size.
	ErrInvalidChunkSize = errors.New("hybridkeyd: invalid chunk size")

	// ErrUnsupportedKeyType indicates to_bytes received a value that is
	// neither bytes, string, integer, nor a list of 0..255 integers.
	ErrUnsupportedKeyType = errors.New("hybridkeyd: unsupported key type")
)

// Sentinel errors for cryptographic primitives shared by the PQC source and
// pkg/crypto's AEAD.
var (
	// ErrInvalidKeySize indicates that a key has an incorrect size.
	ErrInvalidKeySize = errors.New("crypto: invalid key size")

	// ErrAuthenticationFailed indicates AEAD authentication/decryption failed.
	ErrAuthenticationFailed = errors.New("crypto: authentication failed")

	// ErrInvalidNonce indicates the nonce size is incorrect.
	ErrInvalidNonce = errors.New("crypto: invalid nonce size")

	// ErrCiphertextTooShort indicates ciphertext is too short to be valid.
	ErrCiphertextTooShort = errors.New("crypto: ciphertext too short")

	// ErrUnsupportedCipherSuite indicates an unsupported AEAD cipher suite.
	ErrUnsupportedCipherSuite = errors.New("crypto: unsupported cipher suite")

	// ErrNonceExhausted indicates an envelope's nonce counter has reached its
	// packet budget and must be rekeyed before sealing further packets.
	ErrNonceExhausted = errors.New("crypto: nonce space exhausted, rekey required")
)

// Sentinel errors for the agent and peer wire protocols.
var (
	// ErrInvalidJSON indicates a request on the agent socket did not decode
	// as a JSON object.
	ErrInvalidJSON = errors.New("hybridkeyd: invalid JSON received")

	// ErrFatalCommand indicates an uncaught failure while executing
	// OPEN_CONNECT, translated to a status-1 response rather than dropping
	// the connection.
	ErrFatalCommand = errors.New("hybridkeyd: fatal error during command")

	// ErrUnknownCommand indicates the dispatcher received a command value it
	// does not recognize.
	ErrUnknownCommand = errors.New("hybridkeyd: unknown command")

	// ErrMessageTooLarge indicates an agent or peer message exceeded the
	// maximum frame size.
	ErrMessageTooLarge = errors.New("hybridkeyd: message too large")
)

// QKD KMS status codes (mirrors the upstream ETSI-004-style response
// schema). Status 0 is success and has no sentinel.
const (
	QkdStatusSuccess                     = 0
	QkdStatusPeerNotConnected            = 1
	QkdStatusInsufficientKey             = 2
	QkdStatusPeerApplicationNotConnected = 3
	QkdStatusNoQKDConnection             = 4
	QkdStatusKSIDInUse                   = 5
	QkdStatusTimeout                     = 6
	QkdStatusQoSSettingsError            = 7
	QkdStatusMetadataSizeError           = 8
)

var qkdStatusNames = map[int]string{
	QkdStatusPeerNotConnected:            "PeerNotConnected",
	QkdStatusInsufficientKey:             "InsufficientKey",
	QkdStatusPeerApplicationNotConnected: "PeerApplicationNotConnected",
	QkdStatusNoQKDConnection:             "NoQKDConnection",
	QkdStatusKSIDInUse:                   "KSIDInUse",
	QkdStatusTimeout:                     "Timeout",
	QkdStatusQoSSettingsError:            "QoSSettingsError",
	QkdStatusMetadataSizeError:           "MetadataSizeError",
}

// QkdStatusName returns the human-readable name for a KMS status code, or
// "UnknownQkdError" for a status outside the mapped table.
func QkdStatusName(status int) string {
	if name, ok := qkdStatusNames[status]; ok {
		return name
	}
	return "UnknownQkdError"
}

// QkdError wraps a non-zero status reported by the upstream QKD KMS.
type QkdError struct {
	Status int
	Err    error
}

func (e *QkdError) Error() string {
	return fmt.Sprintf("qkd: %s (status %d): %v", QkdStatusName(e.Status), e.Status, e.Err)
}

func (e *QkdError) Unwrap() error {
	return e.Err
}

// NewQkdError builds a QkdError from an upstream status code. err may be nil;
// Error() still reports the mapped status name in that case.
func NewQkdError(status int, err error) *QkdError {
	if err == nil {
		err = fmt.Errorf("qkd status %d", status)
	}
	return &QkdError{Status: status, Err: err}
}

// PqcError wraps a failure in the PQC source's secure-socket handshake or its
// underlying KEM operations (keypair generation, encapsulation, decapsulation).
type PqcError struct {
	Op  string
	Err error
}

func (e *PqcError) Error() string {
	return fmt.Sprintf("pqc %s: %v", e.Op, e.Err)
}

func (e *PqcError) Unwrap() error {
	return e.Err
}

// NewPqcError creates a new PqcError.
func NewPqcError(op string, err error) *PqcError {
	return &PqcError{Op: op, Err: err}
}

// CryptoError wraps a low-level cryptographic failure (AEAD setup, KDF input
// validation) with the operation name that produced it.
type CryptoError struct {
	Op  string
	Err error
}

func (e *CryptoError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *CryptoError) Unwrap() error {
	return e.Err
}

// NewCryptoError creates a new CryptoError.
func NewCryptoError(op string, err error) *CryptoError {
	return &CryptoError{Op: op, Err: err}
}

// Is reports whether any error in err's chain matches target.
// This is a convenience wrapper around errors.Is.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
// This is a convenience wrapper around errors.As.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
