package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"
	bolt "go.etcd.io/bbolt"
)

var (
	bucketConnections    = []byte("connections")
	bucketSubConnections = []byte("sub_connections")
	bucketProviderIndex  = []byte("sub_connections_by_provider")
)

// BoltStore is the embedded-KV-backed Store, grounded on tegu's
// chkpt.Chkpt checkpoint file in managers/res_mgr.go but replacing the
// flat JSON file with a real transactional store (go.etcd.io/bbolt) so
// PutConnection can give the atomic, single-writer guarantee spec §4.5
// requires instead of tegu's periodic best-effort checkpoint write.
type BoltStore struct {
	db  *bolt.DB
	log *logrus.Entry
}

// OpenBolt opens (creating if absent) a bbolt database at path and
// ensures the buckets this store needs exist.
func OpenBolt(path string, log *logrus.Entry) (*BoltStore, error) {
	if log == nil {
		log = logrus.WithField("component", "store")
	}
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketConnections, bucketSubConnections, bucketProviderIndex} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("store: init buckets: %w", err)
	}
	return &BoltStore{db: db, log: log}, nil
}

func (s *BoltStore) Close() error { return s.db.Close() }

// subKey orders sub-connection records by connection then order_id so a
// prefix scan over a connection's children returns them in order.
func subKey(connectionID string, orderID int) []byte {
	return []byte(fmt.Sprintf("%s\x00%08d", connectionID, orderID))
}

func subKeyPrefix(connectionID string) []byte {
	return []byte(connectionID + "\x00")
}

// providerKey indexes a sub-connection by the provider NSA it was
// dispatched to and its own connection_id (the id the provider knows it
// by), not the parent's: a confirmation arrives carrying the child's own
// connection_id, and FindSubConnection must resolve that, not the parent.
func providerKey(providerNSA, childConnectionID string) []byte {
	return []byte(providerNSA + "\x00" + childConnectionID)
}

func (s *BoltStore) PutConnection(ctx context.Context, conn Connection, children []SubConnection) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		cb := tx.Bucket(bucketConnections)
		sb := tx.Bucket(bucketSubConnections)
		pb := tx.Bucket(bucketProviderIndex)

		if err := deleteProviderEntriesForChildrenOf(sb, pb, conn.ConnectionID); err != nil {
			return err
		}
		if err := deletePrefix(sb, subKeyPrefix(conn.ConnectionID)); err != nil {
			return err
		}

		connBytes, err := json.Marshal(conn)
		if err != nil {
			return fmt.Errorf("marshal connection %s: %w", conn.ConnectionID, err)
		}
		if err := cb.Put([]byte(conn.ConnectionID), connBytes); err != nil {
			return err
		}

		for _, child := range children {
			childBytes, err := json.Marshal(child)
			if err != nil {
				return fmt.Errorf("marshal sub-connection %s/%d: %w", child.ConnectionID, child.OrderID, err)
			}
			if err := sb.Put(subKey(child.ConnectionID, child.OrderID), childBytes); err != nil {
				return err
			}
			if err := pb.Put(providerKey(child.ProviderNSA, child.ChildConnectionID), childBytes); err != nil {
				return err
			}
		}
		return nil
	})
}

func deletePrefix(b *bolt.Bucket, prefix []byte) error {
	c := b.Cursor()
	var keys [][]byte
	for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
		keys = append(keys, append([]byte(nil), k...))
	}
	for _, k := range keys {
		if err := b.Delete(k); err != nil {
			return err
		}
	}
	return nil
}

// deleteProviderEntriesForChildrenOf removes the provider-index entry for
// every sub-connection currently stored under connectionID's prefix in sb,
// reading each one first to recover the provider_nsa/child_connection_id
// pair its index key was built from (the index bucket is keyed by
// provider_nsa then child connection_id, not by parent, so it cannot be
// scanned by connectionID directly).
func deleteProviderEntriesForChildrenOf(sb, pb *bolt.Bucket, connectionID string) error {
	c := sb.Cursor()
	prefix := subKeyPrefix(connectionID)
	for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
		var sc SubConnection
		if err := json.Unmarshal(v, &sc); err != nil {
			return fmt.Errorf("unmarshal sub-connection %s: %w", k, err)
		}
		if err := pb.Delete(providerKey(sc.ProviderNSA, sc.ChildConnectionID)); err != nil {
			return err
		}
	}
	return nil
}

func (s *BoltStore) GetConnection(ctx context.Context, connectionID string) (Connection, []SubConnection, error) {
	var conn Connection
	var children []SubConnection
	err := s.db.View(func(tx *bolt.Tx) error {
		cb := tx.Bucket(bucketConnections)
		raw := cb.Get([]byte(connectionID))
		if raw == nil {
			return ErrNotFound
		}
		if err := json.Unmarshal(raw, &conn); err != nil {
			return fmt.Errorf("unmarshal connection %s: %w", connectionID, err)
		}

		sb := tx.Bucket(bucketSubConnections)
		c := sb.Cursor()
		prefix := subKeyPrefix(connectionID)
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			var sc SubConnection
			if err := json.Unmarshal(v, &sc); err != nil {
				return fmt.Errorf("unmarshal sub-connection %s: %w", k, err)
			}
			children = append(children, sc)
		}
		return nil
	})
	if err != nil {
		return Connection{}, nil, err
	}
	sort.Slice(children, func(i, j int) bool { return children[i].OrderID < children[j].OrderID })
	return conn, children, nil
}

func (s *BoltStore) FindSubConnection(ctx context.Context, providerNSA, connectionID string) (SubConnection, error) {
	var sc SubConnection
	err := s.db.View(func(tx *bolt.Tx) error {
		pb := tx.Bucket(bucketProviderIndex)
		raw := pb.Get(providerKey(providerNSA, connectionID))
		if raw == nil {
			return ErrNotFound
		}
		return json.Unmarshal(raw, &sc)
	})
	if err != nil {
		return SubConnection{}, err
	}
	return sc, nil
}

func (s *BoltStore) ListNonTerminated(ctx context.Context) ([]Connection, error) {
	var out []Connection
	err := s.db.View(func(tx *bolt.Tx) error {
		cb := tx.Bucket(bucketConnections)
		return cb.ForEach(func(k, v []byte) error {
			var conn Connection
			if err := json.Unmarshal(v, &conn); err != nil {
				return fmt.Errorf("unmarshal connection %s: %w", k, err)
			}
			if conn.NotTerminated() {
				out = append(out, conn)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ConnectionID < out[j].ConnectionID })
	return out, nil
}

func (s *BoltStore) DeleteConnection(ctx context.Context, connectionID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		cb := tx.Bucket(bucketConnections)
		sb := tx.Bucket(bucketSubConnections)
		pb := tx.Bucket(bucketProviderIndex)
		if err := deleteProviderEntriesForChildrenOf(sb, pb, connectionID); err != nil {
			return err
		}
		if err := cb.Delete([]byte(connectionID)); err != nil {
			return err
		}
		return deletePrefix(sb, subKeyPrefix(connectionID))
	})
}
