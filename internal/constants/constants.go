// Package constants defines protocol and timing parameters for the hybrid
// key-derivation daemon: agent/peer wire frame limits, connect_peer polling
// discipline, worker-pool sizing, and the parameters of pkg/crypto's AEAD
// cipher.
package constants

import "time"

// Agent wire protocol — newline-free JSON framing, one object per message.
const (
	// MaxAgentMessageSize is the maximum size in bytes of a single agent
	// request or response.
	MaxAgentMessageSize = 65057
)

// Peer wire protocol — mutual-TLS socket, session-reference handshake.
const (
	// SessionRefAckSize bounds the acknowledgement the connect_peer CLIENT
	// side reads after sending its session reference.
	SessionRefAckSize = 256

	// SessionRefAck is the literal acknowledgement written by the SERVER
	// role once a parked socket is handed to its waiting CLIENT.
	SessionRefAck = "ok"

	// PeerSocketTimeout is the read/write timeout applied to an established
	// peer TLS socket.
	PeerSocketTimeout = 10 * time.Second

	// UUIDByteLength is the length of the raw bytes exchanged during a
	// SHARE_KSID sub-session.
	UUIDByteLength = 16
)

// connect_peer SERVER-role polling discipline.
const (
	// ConnectPeerPollInterval is how often the SERVER role re-checks the
	// unclaimed socket map for its reference.
	ConnectPeerPollInterval = 200 * time.Millisecond

	// ConnectPeerTimeout is the deadline after which an unmatched SERVER-role
	// connect_peer call fails with PeerNotConnected.
	ConnectPeerTimeout = 10 * time.Second
)

// Worker pool sizing.
const (
	// PeerManagerWorkers bounds the number of goroutines servicing inbound
	// peer connections concurrently.
	PeerManagerWorkers = 5

	// DispatcherWorkers bounds the number of goroutines servicing agent
	// connections concurrently.
	DispatcherWorkers = 10
)

// AEAD parameters used by pkg/crypto.AEAD. No peer-channel code path wraps
// its traffic in that cipher: the KEM and UUID transcripts go on the wire
// unwrapped.
const (
	// EnvelopeKeySize is the key size in bytes for the envelope cipher.
	EnvelopeKeySize = 32

	// EnvelopeNonceSize is the nonce size in bytes for the envelope cipher.
	EnvelopeNonceSize = 12

	// EnvelopeTagSize is the authentication tag size in bytes.
	EnvelopeTagSize = 16

	// DomainSeparatorEnvelope is a domain-separation label for deriving an
	// envelope key; no code in this module derives a key with it.
	DomainSeparatorEnvelope = "hybridkeyd-peer-envelope-v1"

	// DomainSeparatorAux is a domain-separation label for the auxiliary key.
	// pkg/hybrid.DeterministicAux does not use it: it hashes the peer's
	// shared_seed alone.
	DomainSeparatorAux = "hybridkeyd-aux-key-v1"

	// MinEnvelopePacketSize is the minimum plausible length of a sealed
	// envelope packet (nonce + tag, zero-length plaintext).
	MinEnvelopePacketSize = EnvelopeNonceSize + EnvelopeTagSize

	// MaxPacketsBeforeRekey bounds how many packets a single envelope key
	// may seal before the peer channel must rekey, well inside the 2^64
	// nonce space for a 96-bit counter-based nonce.
	MaxPacketsBeforeRekey = 1 << 28
)

// CipherSuite identifies the cipher behind a pkg/crypto.AEAD.
type CipherSuite uint16

const (
	// CipherSuiteChaCha20Poly1305 selects ChaCha20-Poly1305.
	CipherSuiteChaCha20Poly1305 CipherSuite = 0x0001

	// CipherSuiteAES256GCM selects AES-256-GCM.
	CipherSuiteAES256GCM CipherSuite = 0x0002
)

// String returns a human-readable name for the cipher suite.
func (cs CipherSuite) String() string {
	switch cs {
	case CipherSuiteChaCha20Poly1305:
		return "ChaCha20-Poly1305"
	case CipherSuiteAES256GCM:
		return "AES-256-GCM"
	default:
		return "Unknown"
	}
}

// IsSupported returns true if the cipher suite is one this build implements.
func (cs CipherSuite) IsSupported() bool {
	return cs == CipherSuiteChaCha20Poly1305 || cs == CipherSuiteAES256GCM
}
