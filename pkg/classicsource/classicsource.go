// Package classicsource implements a classical (non-quantum, non-PQC) key
// source, the one spec.md §4.7 alludes to in "Other sources (e.g.,
// classical KEM) are permitted by the same interface" — a stand-in for
// whatever conventional key-establishment mechanism a deployment might
// still want alongside its QKD/PQC sources. It performs no I/O and no
// network handshake of its own; Open and Close are no-ops and Get returns
// a fixed local secret, the same mock shape as the upstream module's
// ClassicSource.
package classicsource

import (
	"context"

	"github.com/google/uuid"

	"github.com/hybridkeyd/hybridkeyd/pkg/model"
)

// mockKey is the fixed secret this source hands back from every Get call,
// matching original_source's ClassicSource.fetch_key mock constant.
var mockKey = []byte("classic_mock_key")

// Source is a classical key source: no peer I/O, a fixed local secret.
type Source struct {
	id string
}

// New builds a classical key source with a stable per-instance identifier.
func New() *Source {
	return &Source{id: "Classic-" + uuid.NewString()}
}

// ID returns the stable source identifier used as a session map key.
func (s *Source) ID() string { return s.id }

// Type reports this source under the PQC bucket: the data model only
// distinguishes QKD from everything else, and a classical source is not
// QKD-derived.
func (s *Source) Type() model.KeyType { return model.KeyTypePQC }

// Open is a no-op: a classical source needs no peer handshake or network
// dial to prepare.
func (s *Source) Open(ctx context.Context, hybridKSID string, qos model.OpenConnectQos) error {
	return nil
}

// Get returns the source's fixed secret. Both peers configuring a classical
// source this way agree on the same bytes without any exchange, matching
// the upstream mock's behavior.
func (s *Source) Get(ctx context.Context) ([]byte, error) {
	out := make([]byte, len(mockKey))
	copy(out, mockKey)
	return out, nil
}

// Close is a no-op: there is no resource to release.
func (s *Source) Close() error { return nil }
