// Package model defines the data-model value objects shared by every
// component of the hybrid key-derivation daemon: network addresses,
// per-node and per-peer configuration, the hybridization/key-extraction
// enums, connection roles, and peer sub-session references.
//
// Values here are immutable once constructed and carry no behavior beyond
// parsing and stringification; the core never reads configuration from the
// environment itself (cmd/hybridkeyd does that and passes these types in).
package model

import (
	"fmt"
	"net"
	"strconv"
	"strings"

	qerrors "github.com/hybridkeyd/hybridkeyd/internal/errors"
)

// NetworkAddress is an immutable (host, port) pair.
type NetworkAddress struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// String renders the address as "host:port".
func (a NetworkAddress) String() string {
	return net.JoinHostPort(a.Host, strconv.Itoa(a.Port))
}

// ParseNetworkAddress parses a "host:port" string into a NetworkAddress.
func ParseNetworkAddress(s string) (NetworkAddress, error) {
	host, portStr, err := net.SplitHostPort(s)
	if err != nil {
		return NetworkAddress{}, fmt.Errorf("model: invalid network address %q: %w", s, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return NetworkAddress{}, fmt.Errorf("model: invalid port in %q: %w", s, err)
	}
	return NetworkAddress{Host: host, Port: port}, nil
}

// GeneralConfiguration holds the per-node configuration the core operates
// with. It is parsed by pkg/config and never read from the environment by
// the core packages themselves.
type GeneralConfiguration struct {
	UUID          string         `json:"uuid"`
	AgentAddress  NetworkAddress `json:"agent_address"`
	PeerAddress   NetworkAddress `json:"peer_address"`
	QKDAddress    NetworkAddress `json:"qkd_address"`
	CACertPath    string         `json:"ca_cert_path"`
	NodeCertPath  string         `json:"node_cert_path"`
	NodeKeyPath   string         `json:"node_key_path"`
	CertSANIP     string         `json:"cert_san_ip"`
	UseMockQKD    bool           `json:"use_mock_qkd,omitempty"`
}

// PeerInfo describes one remote peer this node is allowed to pair sessions
// with. SharedSeed is not a secret key: it is an agreed, non-secret salt
// used only to synthesize a deterministic auxiliary byte string when fewer
// than two independent key sources succeed (see pkg/hybrid.DeterministicAux).
type PeerInfo struct {
	Address    NetworkAddress `json:"address"`
	SharedSeed string         `json:"shared_seed"`
}

// HybridizationMethod selects the combiner applied to per-source secrets.
type HybridizationMethod int

const (
	HybridizationXOR HybridizationMethod = iota
	HybridizationHMAC
	HybridizationXORHMAC
)

// String returns the canonical uppercase name of the method.
func (m HybridizationMethod) String() string {
	switch m {
	case HybridizationXOR:
		return "XOR"
	case HybridizationHMAC:
		return "HMAC"
	case HybridizationXORHMAC:
		return "XORHMAC"
	default:
		return "UNKNOWN"
	}
}

// ParseHybridizationMethod parses a method name case-insensitively.
func ParseHybridizationMethod(s string) (HybridizationMethod, error) {
	switch strings.ToUpper(s) {
	case "XOR":
		return HybridizationXOR, nil
	case "HMAC":
		return HybridizationHMAC, nil
	case "XORHMAC":
		return HybridizationXORHMAC, nil
	default:
		return 0, fmt.Errorf("model: unknown hybridization method %q", s)
	}
}

// KeyType classifies a KeySource as quantum or post-quantum in origin.
type KeyType int

const (
	KeyTypeQKD KeyType = iota
	KeyTypePQC
)

func (t KeyType) String() string {
	switch t {
	case KeyTypeQKD:
		return "QKD"
	case KeyTypePQC:
		return "PQC"
	default:
		return "UNKNOWN"
	}
}

// KeyExtractionAlgorithm names one key-establishment source requested in an
// OPEN_CONNECT's key_sources query parameter.
type KeyExtractionAlgorithm string

const (
	AlgorithmQKD             KeyExtractionAlgorithm = "QKD"
	AlgorithmKyber           KeyExtractionAlgorithm = "Kyber"
	AlgorithmMLKEM           KeyExtractionAlgorithm = "ML-KEM"
	AlgorithmFrodoKEM        KeyExtractionAlgorithm = "FrodoKEM"
	AlgorithmBIKE            KeyExtractionAlgorithm = "BIKE"
	AlgorithmHQC             KeyExtractionAlgorithm = "HQC"
	AlgorithmClassicMcEliece KeyExtractionAlgorithm = "Classic-McEliece"
	AlgorithmSNTRUP          KeyExtractionAlgorithm = "SNTRUP"
	// AlgorithmClassic names a non-QKD, non-PQC key source (spec.md §4.7:
	// "Other sources (e.g., classical KEM) are permitted by the same
	// interface"). Grounded on original_source's ClassicSource.
	AlgorithmClassic KeyExtractionAlgorithm = "Classic"
)

// KeyType returns the source kind this algorithm belongs to. Classic is
// bucketed under KeyTypePQC: the data model only distinguishes QKD from
// everything else, and Classic is not QKD.
func (a KeyExtractionAlgorithm) KeyType() (KeyType, error) {
	if a == AlgorithmQKD {
		return KeyTypeQKD, nil
	}
	switch a {
	case AlgorithmKyber, AlgorithmMLKEM, AlgorithmFrodoKEM, AlgorithmBIKE,
		AlgorithmHQC, AlgorithmClassicMcEliece, AlgorithmSNTRUP, AlgorithmClassic:
		return KeyTypePQC, nil
	default:
		return 0, qerrors.ErrUnsupportedKeyType
	}
}

// ParseKeyExtractionAlgorithm normalizes an algorithm token from a
// key_sources query parameter.
func ParseKeyExtractionAlgorithm(s string) (KeyExtractionAlgorithm, error) {
	alg := KeyExtractionAlgorithm(strings.TrimSpace(s))
	if _, err := alg.KeyType(); err != nil {
		return "", err
	}
	return alg, nil
}

// ConnectionRole is derived per session by comparing the local uuid to the
// request's source/destination uuids.
type ConnectionRole int

const (
	RoleClient ConnectionRole = iota
	RoleServer
)

func (r ConnectionRole) String() string {
	switch r {
	case RoleClient:
		return "CLIENT"
	case RoleServer:
		return "SERVER"
	default:
		return "UNKNOWN"
	}
}

// PeerSessionType names the kind of sub-session multiplexed over one peer
// TLS channel.
type PeerSessionType int

const (
	SessionTypeBlink PeerSessionType = iota
	SessionTypeShareKSID
	SessionTypePQC
)

func (t PeerSessionType) String() string {
	switch t {
	case SessionTypeBlink:
		return "BLINK"
	case SessionTypeShareKSID:
		return "SHARE_KSID"
	case SessionTypePQC:
		return "PQC"
	default:
		return "UNKNOWN"
	}
}

// PeerSessionReference uniquely names one sub-session over the peer TLS
// channel; it is the map key for the peer-connection manager's unclaimed
// socket pool.
type PeerSessionReference struct {
	Type PeerSessionType `json:"session_type"`
	ID   string          `json:"id"`
}

// Key renders the reference as a map key / log field.
func (r PeerSessionReference) Key() string {
	return fmt.Sprintf("%s:%s", r.Type, r.ID)
}
