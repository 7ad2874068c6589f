package store

import "context"

// Store is the persistence contract of spec §4.5. Implementations must
// give single-writer semantics under the caller's state-machine mutex
// (spec §4.2): a reader observes either the pre- or post-state of a
// PutConnection call (parent and children together), never a torn mix.
type Store interface {
	// PutConnection atomically writes a Connection and the full ordered
	// set of its Sub-Connections (spec §4.5: "atomic write of the whole
	// record (all four state fields together)" extends to parent and
	// children written together).
	PutConnection(ctx context.Context, conn Connection, children []SubConnection) error

	// GetConnection finds a Connection by connection_id together with
	// its Sub-Connections in order_id order.
	GetConnection(ctx context.Context, connectionID string) (Connection, []SubConnection, error)

	// FindSubConnection looks up a single Sub-Connection by the pair
	// (provider_nsa, connection_id) that a downstream confirmation
	// arrives keyed on.
	FindSubConnection(ctx context.Context, providerNSA, connectionID string) (SubConnection, error)

	// ListNonTerminated returns every Connection whose lifecycle state
	// is not yet Terminated, for restart recovery (spec §4.5).
	ListNonTerminated(ctx context.Context) ([]Connection, error)

	// DeleteConnection removes a Connection and its children.
	DeleteConnection(ctx context.Context, connectionID string) error

	Close() error
}

// ErrNotFound is returned by lookups that find no matching record.
var ErrNotFound = &notFoundError{}

type notFoundError struct{}

func (*notFoundError) Error() string { return "store: record not found" }
