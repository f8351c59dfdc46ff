// Package keysource defines C3: the uniform open/get/close contract that
// the session engine drives across heterogeneous key-establishment
// sources (QKD, PQC, and any future variant) without itself knowing their
// transport.
package keysource

import (
	"context"

	"github.com/hybridkeyd/hybridkeyd/pkg/model"
)

// Source is any key-establishment mechanism the session engine can fan a
// request out to. Implementations must be safe to call concurrently with
// other sources (but not with themselves — each method call against one
// Source happens within the session's own lock).
type Source interface {
	// ID returns a stable identifier for the lifetime of the source; used
	// as a map key within a session. The lexicographic ordering of secrets
	// before combining compares values only and does not consult the ID.
	ID() string

	// Type reports whether this source is QKD- or PQC-derived.
	Type() model.KeyType

	// Open prepares the source so Get can run. It may perform I/O (dialing
	// the KMS, obtaining a secure peer socket) and fails with a
	// source-specific error; a source that fails Open is dropped from the
	// session's working set for the remainder of its lifetime.
	Open(ctx context.Context, hybridKSID string, qos model.OpenConnectQos) error

	// Get produces one secret. It may block; exactly one successful Get
	// corresponds to one hybrid key delivered to the agent.
	Get(ctx context.Context) ([]byte, error)

	// Close releases any resources held by the source. It is idempotent
	// and swallows its own errors — callers log them but never propagate.
	Close() error
}
