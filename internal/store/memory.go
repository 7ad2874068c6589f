package store

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is an in-process Store used by tests and by components that
// need a Store double without a filesystem, mirroring BoltStore's
// single-writer-under-one-mutex semantics with a plain sync.Mutex.
type MemoryStore struct {
	mu          sync.Mutex
	connections map[string]Connection
	children    map[string][]SubConnection // keyed by connection_id, order_id order
}

func NewMemory() *MemoryStore {
	return &MemoryStore{
		connections: make(map[string]Connection),
		children:    make(map[string][]SubConnection),
	}
}

func (m *MemoryStore) PutConnection(ctx context.Context, conn Connection, children []SubConnection) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := append([]SubConnection(nil), children...)
	sort.Slice(cp, func(i, j int) bool { return cp[i].OrderID < cp[j].OrderID })
	m.connections[conn.ConnectionID] = conn
	m.children[conn.ConnectionID] = cp
	return nil
}

func (m *MemoryStore) GetConnection(ctx context.Context, connectionID string) (Connection, []SubConnection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	conn, ok := m.connections[connectionID]
	if !ok {
		return Connection{}, nil, ErrNotFound
	}
	return conn, append([]SubConnection(nil), m.children[connectionID]...), nil
}

// FindSubConnection looks up a sub-connection by the provider NSA it was
// dispatched to and its own connection_id, not the parent's: connectionID
// here is the child's id as the provider knows it, so every connection's
// children must be searched rather than indexing by a single parent key.
func (m *MemoryStore) FindSubConnection(ctx context.Context, providerNSA, connectionID string) (SubConnection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, children := range m.children {
		for _, sc := range children {
			if sc.ChildConnectionID == connectionID && sc.ProviderNSA == providerNSA {
				return sc, nil
			}
		}
	}
	return SubConnection{}, ErrNotFound
}

func (m *MemoryStore) ListNonTerminated(ctx context.Context) ([]Connection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Connection
	for _, conn := range m.connections {
		if conn.NotTerminated() {
			out = append(out, conn)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ConnectionID < out[j].ConnectionID })
	return out, nil
}

func (m *MemoryStore) DeleteConnection(ctx context.Context, connectionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.connections, connectionID)
	delete(m.children, connectionID)
	return nil
}

func (m *MemoryStore) Close() error { return nil }
