package topology

import (
	"sort"

	"github.com/BandwidthOnDemand/opennsa-go/internal/label"
	"github.com/BandwidthOnDemand/opennsa-go/internal/nsaerr"
)

// STP is a Service Termination Point request: a bidirectional port on a
// network plus the label the caller wants on it. Pathfinding is
// bidirectional-only (spec §4.1); unidirectional STPs are rejected.
type STP struct {
	NetworkID string
	PortID    string // a BidirectionalPort id within NetworkID
	Label     label.Label
}

// Link is one intra-network path element (spec §3).
type Link struct {
	NetworkID string
	SrcPort   string
	DstPort   string
	SrcLabel  label.Label
	DstLabel  label.Label
}

// Path is an ordered sequence of Links connecting src to dst, traversing
// each network at most once.
type Path []Link

// resolvedSTP is an STP together with its BidirectionalPort's computed
// label set and capacity, validated once up front.
type resolvedSTP struct {
	stp      STP
	port     *BidirectionalPort
	capacity int64
}

func (m *Model) resolveSTP(stp STP) (resolvedSTP, *Network, error) {
	n, err := m.GetNetwork(stp.NetworkID)
	if err != nil {
		return resolvedSTP{}, nil, err
	}
	bp, ok := n.Bidirectional[stp.PortID]
	if !ok {
		return resolvedSTP{}, nil, nsaerr.New(nsaerr.KindTopology, "network %s: unknown bidirectional port %s (unidirectional ports are rejected by pathfinding)", stp.NetworkID, stp.PortID)
	}
	portLabels, err := n.bidirectionalLabels(bp)
	if err != nil {
		return resolvedSTP{}, nil, err
	}
	matched := false
	for _, pl := range portLabels {
		if label.Compatible(pl, stp.Label) {
			if _, err := label.Intersect(pl, stp.Label); err == nil {
				matched = true
				break
			}
		}
	}
	if !matched {
		return resolvedSTP{}, nil, nsaerr.New(nsaerr.KindTopology, "stp %s:%s cannot satisfy requested label %s", stp.NetworkID, stp.PortID, stp.Label)
	}
	return resolvedSTP{stp: stp, port: bp, capacity: n.bidirectionalCapacity(bp)}, n, nil
}

// FindPaths returns candidate Paths from src to dst honoring bandwidth,
// ordered by hop count ascending. An empty, non-error result means "no
// path found" (spec §4.1); callers decide whether that is an error.
func (m *Model) FindPaths(src, dst STP, bandwidth int64) ([]Path, error) {
	rsrc, srcNet, err := m.resolveSTP(src)
	if err != nil {
		return nil, err
	}
	rdst, dstNet, err := m.resolveSTP(dst)
	if err != nil {
		return nil, err
	}
	if bandwidth > 0 {
		if rsrc.capacity > 0 && rsrc.capacity < bandwidth {
			return nil, nil
		}
		if rdst.capacity > 0 && rdst.capacity < bandwidth {
			return nil, nil
		}
	}

	if src.NetworkID == dst.NetworkID {
		if src.PortID == dst.PortID {
			// same-STP loop: spec §8 boundary behavior, rejected as a
			// pathfinding error rather than silently returning no path.
			return nil, nsaerr.New(nsaerr.KindTopology, "source and destination STP are identical: %s:%s", src.NetworkID, src.PortID)
		}
		link, ok, err := directLink(srcNet, rsrc, rdst, bandwidth)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, nil
		}
		return []Path{{link}}, nil
	}
	_ = dstNet

	paths := m.findMultiHop(rsrc, rdst, src, dst, bandwidth, map[string]bool{src.NetworkID: true})
	sort.SliceStable(paths, func(i, j int) bool { return len(paths[i]) < len(paths[j]) })
	return paths, nil
}

// directLink computes a same-network Link per spec §4.1 step 2.
func directLink(n *Network, rsrc, rdst resolvedSTP, bandwidth int64) (Link, bool, error) {
	if bandwidth > 0 {
		cap := rsrc.capacity
		if rdst.capacity < cap {
			cap = rdst.capacity
		}
		if cap > 0 && cap < bandwidth {
			return Link{}, false, nil
		}
	}

	if n.CanSwap(rsrc.stp.Label.Type) {
		srcPortLabels, err := n.bidirectionalLabels(rsrc.port)
		if err != nil {
			return Link{}, false, nil
		}
		dstPortLabels, err := n.bidirectionalLabels(rdst.port)
		if err != nil {
			return Link{}, false, nil
		}
		srcLabel, ok1 := intersectAny(srcPortLabels, rsrc.stp.Label)
		dstLabel, ok2 := intersectAny(dstPortLabels, rdst.stp.Label)
		if !ok1 || !ok2 {
			return Link{}, false, nil
		}
		return Link{NetworkID: n.ID, SrcPort: rsrc.stp.PortID, DstPort: rdst.stp.PortID, SrcLabel: srcLabel, DstLabel: dstLabel}, true, nil
	}

	srcPortLabels, err := n.bidirectionalLabels(rsrc.port)
	if err != nil {
		return Link{}, false, nil
	}
	dstPortLabels, err := n.bidirectionalLabels(rdst.port)
	if err != nil {
		return Link{}, false, nil
	}
	srcPL, ok := intersectAny(srcPortLabels, rsrc.stp.Label)
	if !ok {
		return Link{}, false, nil
	}
	dstPL, ok := intersectAny(dstPortLabels, rdst.stp.Label)
	if !ok {
		return Link{}, false, nil
	}
	shared, err := label.Intersect(srcPL, dstPL)
	if err != nil {
		return Link{}, false, nil
	}
	return Link{NetworkID: n.ID, SrcPort: rsrc.stp.PortID, DstPort: rdst.stp.PortID, SrcLabel: shared, DstLabel: shared}, true, nil
}

func intersectAny(candidates []label.Label, want label.Label) (label.Label, bool) {
	for _, c := range candidates {
		if !label.Compatible(c, want) {
			continue
		}
		if inter, err := label.Intersect(c, want); err == nil {
			return inter, true
		}
	}
	return label.Label{}, false
}

// findMultiHop implements spec §4.1 steps 3-4: enumerate bidirectional
// ports of the source network (excluding the source port) that carry a
// remote demarcation, recurse into the remote network with the
// excluded-networks set augmented, and prepend the local Link on return.
func (m *Model) findMultiHop(rsrc, rdst resolvedSTP, src, dst STP, bandwidth int64, visited map[string]bool) []Path {
	srcNet, err := m.GetNetwork(src.NetworkID)
	if err != nil {
		return nil
	}

	var results []Path
	for portID, bp := range srcNet.Bidirectional {
		if portID == src.PortID {
			continue
		}
		remoteNet, remotePort, ok, err := m.FindDemarcation(src.NetworkID, portID)
		if err != nil || !ok {
			continue
		}
		if visited[remoteNet] {
			continue
		}

		midCapacity := srcNet.bidirectionalCapacity(bp)
		if bandwidth > 0 && midCapacity > 0 && midCapacity < bandwidth {
			continue
		}

		localLink, midLabel, ok, err := crossNetworkLink(srcNet, rsrc, bp, portID)
		if err != nil || !ok {
			continue
		}

		nextVisited := make(map[string]bool, len(visited)+1)
		for k := range visited {
			nextVisited[k] = true
		}
		nextVisited[remoteNet] = true

		nextSrc := STP{NetworkID: remoteNet, PortID: remotePort, Label: midLabel}
		rNextSrc, _, err := m.resolveSTP(nextSrc)
		if err != nil {
			continue
		}

		var subPaths []Path
		if remoteNet == dst.NetworkID {
			link, ok, err := directLink(mustNetwork(m, remoteNet), rNextSrc, rdst, bandwidth)
			if err == nil && ok {
				subPaths = []Path{{link}}
			}
		} else {
			subPaths = m.findMultiHop(rNextSrc, rdst, nextSrc, dst, bandwidth, nextVisited)
		}

		if len(subPaths) == 0 {
			continue
		}

		for _, sp := range subPaths {
			full := make(Path, 0, len(sp)+1)
			full = append(full, localLink)
			full = append(full, sp...)
			results = append(results, full)
		}
	}
	return results
}

// crossNetworkLink computes the Link for the source network's hop onto a
// demarcation port, applying the same swap rule as directLink (spec §4.1
// step 4: "prepend the local Link with labels composed per the swap rule
// above") and returning the label to carry forward into the remote
// network on the far side of exitPort.
//
// When n can swap the label type, the entry and exit labels are chosen
// independently (spec §4.1 step 2 / scenario 4: "each hop's label is
// chosen independently"): entryLabel only has to satisfy the STP's
// original request, exitLabel only has to be something the exit port
// itself offers. When n cannot swap, a single shared label must satisfy
// both the entry request and the exit port, exactly as for a same-network
// direct link.
func crossNetworkLink(n *Network, rsrc resolvedSTP, exitPort *BidirectionalPort, exitPortID string) (Link, label.Label, bool, error) {
	entryPortLabels, err := n.bidirectionalLabels(rsrc.port)
	if err != nil {
		return Link{}, label.Label{}, false, nil
	}
	entryLabel, ok := intersectAny(entryPortLabels, rsrc.stp.Label)
	if !ok {
		return Link{}, label.Label{}, false, nil
	}

	exitPortLabels, err := n.bidirectionalLabels(exitPort)
	if err != nil {
		return Link{}, label.Label{}, false, nil
	}

	if n.CanSwap(rsrc.stp.Label.Type) {
		exitLabel := exitPortLabels[0]
		link := Link{NetworkID: n.ID, SrcPort: rsrc.stp.PortID, DstPort: exitPortID, SrcLabel: entryLabel, DstLabel: exitLabel}
		return link, exitLabel, true, nil
	}

	shared, ok := intersectAny(exitPortLabels, entryLabel)
	if !ok {
		return Link{}, label.Label{}, false, nil
	}
	link := Link{NetworkID: n.ID, SrcPort: rsrc.stp.PortID, DstPort: exitPortID, SrcLabel: shared, DstLabel: shared}
	return link, shared, true, nil
}

func mustNetwork(m *Model, id string) *Network {
	n, err := m.GetNetwork(id)
	if err != nil {
		return nil
	}
	return n
}
