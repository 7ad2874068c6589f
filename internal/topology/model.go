// Package topology holds the network/port graph (spec §4.1): a
// copy-on-replace map of networks plus demarcation lookup and recursive,
// label- and bandwidth-aware path search.
package topology

import (
	"sync"

	"github.com/BandwidthOnDemand/opennsa-go/internal/label"
	"github.com/BandwidthOnDemand/opennsa-go/internal/nsaerr"
)

// Orientation of a unidirectional port.
type Orientation int

const (
	Ingress Orientation = iota
	Egress
	Bidirectional
)

// Port is a labelled port on a network. RemoteNetworkID/RemotePortID, if
// set, name the peer port at an administrative boundary (spec §3).
type Port struct {
	ID              string
	Name            string
	Orientation     Orientation
	Labels          []label.Label
	Capacity        int64 // bps available in this direction
	RemoteNetworkID string
	RemotePortID    string
}

func (p *Port) hasRemote() bool { return p.RemoteNetworkID != "" && p.RemotePortID != "" }

// BidirectionalPort names an inbound/outbound port pair. It stores no
// labels of its own; its labels are computed by bidirectionalLabels as
// the intersection of the pair's labels (spec §3).
type BidirectionalPort struct {
	ID    string
	Name  string
	InID  string
	OutID string
}

// Network is a graph node: a set of ports plus which label types it can
// swap (the pivot of pathfinding, spec §4.1).
type Network struct {
	ID             string
	Name           string
	ManagingNSA    string
	Ports          map[string]*Port
	Bidirectional  map[string]*BidirectionalPort // keyed by BidirectionalPort.ID
	swappableTypes map[string]bool
}

// NewNetwork constructs an empty Network ready to have ports added.
func NewNetwork(id, name, managingNSA string) *Network {
	return &Network{
		ID:             id,
		Name:           name,
		ManagingNSA:    managingNSA,
		Ports:          make(map[string]*Port),
		Bidirectional:  make(map[string]*BidirectionalPort),
		swappableTypes: make(map[string]bool),
	}
}

// AddPort registers a unidirectional port.
func (n *Network) AddPort(p *Port) { n.Ports[p.ID] = p }

// AddBidirectionalPort registers a bidirectional port pair; both in and
// out ports must already be registered via AddPort.
func (n *Network) AddBidirectionalPort(bp *BidirectionalPort) { n.Bidirectional[bp.ID] = bp }

// SetSwappable declares whether this network can swap labelType between
// its internal links.
func (n *Network) SetSwappable(labelType string, swappable bool) {
	n.swappableTypes[labelType] = swappable
}

// CanSwap reports whether this network can swap labelType.
func (n *Network) CanSwap(labelType string) bool { return n.swappableTypes[labelType] }

// bidirectionalLabels returns the intersection of a BidirectionalPort's
// inbound and outbound port labels (spec §3), one Label per shared type.
func (n *Network) bidirectionalLabels(bp *BidirectionalPort) ([]label.Label, error) {
	in, ok := n.Ports[bp.InID]
	if !ok {
		return nil, nsaerr.New(nsaerr.KindTopology, "network %s: unknown inbound port %s", n.ID, bp.InID)
	}
	out, ok := n.Ports[bp.OutID]
	if !ok {
		return nil, nsaerr.New(nsaerr.KindTopology, "network %s: unknown outbound port %s", n.ID, bp.OutID)
	}
	var out_ []label.Label
	for _, li := range in.Labels {
		for _, lo := range out.Labels {
			if !label.Compatible(li, lo) {
				continue
			}
			inter, err := label.Intersect(li, lo)
			if err != nil {
				continue
			}
			out_ = append(out_, inter)
		}
	}
	if len(out_) == 0 {
		return nil, nsaerr.New(nsaerr.KindTopology, "bidirectional port %s: no compatible labels between in/out", bp.ID)
	}
	return out_, nil
}

// snapshot is the immutable state swapped in atomically by Replace and
// Upsert.
type snapshot struct {
	networks map[string]*Network
	ports    map[string]string // portID -> networkID, covers both Ports and Bidirectional ids
}

// Model is the topology model: a mapping network_id -> Network, updated
// atomically so a failed update never leaves a partially replaced entry
// (spec §4.1).
type Model struct {
	mu   sync.RWMutex
	snap *snapshot
}

func New() *Model {
	return &Model{snap: &snapshot{networks: map[string]*Network{}, ports: map[string]string{}}}
}

// Replace atomically installs networks as the entire topology. Builds the
// new snapshot fully before taking the lock, so a panic or error while
// constructing networks never touches the live snapshot.
func (m *Model) Replace(networks []*Network) {
	snap := &snapshot{networks: make(map[string]*Network, len(networks)), ports: make(map[string]string)}
	for _, n := range networks {
		snap.networks[n.ID] = n
		for pid := range n.Ports {
			snap.ports[pid] = n.ID
		}
		for bid := range n.Bidirectional {
			snap.ports[bid] = n.ID
		}
	}
	m.mu.Lock()
	m.snap = snap
	m.mu.Unlock()
}

// Upsert atomically replaces a single network's entry, leaving all others
// untouched (used by the Fetcher for per-peer updates).
func (m *Model) Upsert(n *Network) {
	m.mu.Lock()
	defer m.mu.Unlock()
	next := &snapshot{networks: make(map[string]*Network, len(m.snap.networks)+1), ports: make(map[string]string, len(m.snap.ports))}
	for id, existing := range m.snap.networks {
		if id == n.ID {
			continue
		}
		next.networks[id] = existing
	}
	for pid, nid := range m.snap.ports {
		if nid == n.ID {
			continue
		}
		next.ports[pid] = nid
	}
	next.networks[n.ID] = n
	for pid := range n.Ports {
		next.ports[pid] = n.ID
	}
	for bid := range n.Bidirectional {
		next.ports[bid] = n.ID
	}
	m.snap = next
}

func (m *Model) current() *snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snap
}

// bidirectionalCapacity returns the lesser of a bidirectional port's
// inbound and outbound capacity, used to prune paths by bandwidth.
func (n *Network) bidirectionalCapacity(bp *BidirectionalPort) int64 {
	in, inOK := n.Ports[bp.InID]
	out, outOK := n.Ports[bp.OutID]
	if !inOK || !outOK {
		return 0
	}
	if in.Capacity < out.Capacity {
		return in.Capacity
	}
	return out.Capacity
}

// GetNetwork returns the network with the given id.
func (m *Model) GetNetwork(id string) (*Network, error) {
	n, ok := m.current().networks[id]
	if !ok {
		return nil, nsaerr.New(nsaerr.KindTopology, "unknown network %s", id)
	}
	return n, nil
}

// GetPort returns the id of the network owning portID (a unidirectional
// or bidirectional port id); callers needing the Port or
// BidirectionalPort look it up in that Network's maps.
func (m *Model) GetPort(portID string) (networkID string, err error) {
	snap := m.current()
	nid, ok := snap.ports[portID]
	if !ok {
		return "", nsaerr.New(nsaerr.KindTopology, "unknown port %s", portID)
	}
	return nid, nil
}

// FindDemarcation returns the (network_id, port_id) of the peer port at
// the administrative boundary for a bidirectional port, or ok=false if
// there is none. Returns an error if the port is unknown, and ok=false
// (no error) if the inbound/outbound sides disagree on remote network —
// spec §4.1 treats that as "topology is considered corrupt" and directs
// the query to return none rather than fail loudly.
func (m *Model) FindDemarcation(networkID, bidirectionalPortID string) (remoteNetworkID, remotePortID string, ok bool, err error) {
	n, err := m.GetNetwork(networkID)
	if err != nil {
		return "", "", false, err
	}
	bp, found := n.Bidirectional[bidirectionalPortID]
	if !found {
		return "", "", false, nsaerr.New(nsaerr.KindTopology, "network %s: unknown bidirectional port %s", networkID, bidirectionalPortID)
	}
	in, inOK := n.Ports[bp.InID]
	out, outOK := n.Ports[bp.OutID]
	if !inOK || !outOK || !in.hasRemote() || !out.hasRemote() {
		return "", "", false, nil
	}
	if in.RemoteNetworkID != out.RemoteNetworkID {
		return "", "", false, nil // corrupt topology per spec §4.1
	}
	return in.RemoteNetworkID, in.RemotePortID, true, nil
}
