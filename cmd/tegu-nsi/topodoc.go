package main

import (
	"encoding/json"
	"fmt"

	"github.com/BandwidthOnDemand/opennsa-go/internal/label"
	"github.com/BandwidthOnDemand/opennsa-go/internal/topology"
)

// topologyDocument is the wire shape internal/fetcher.Parse decodes. A
// real deployment would speak GOLE/NML XML the way
// original_source/opennsa/topology/nml.py does; a full NML/RDF parser is
// out of proportion to the rest of this module, so peers here publish the
// same network/port/label facts as plain JSON instead.
type topologyDocument struct {
	Name          string          `json:"name"`
	ManagingNSA   string          `json:"managing_nsa"`
	Ports         []topologyPort  `json:"ports"`
	Bidirectional []topologyBidi  `json:"bidirectional_ports"`
	Swappable     map[string]bool `json:"swappable_label_types"`
}

type topologyPort struct {
	ID              string   `json:"id"`
	Name            string   `json:"name"`
	Orientation     string   `json:"orientation"` // "ingress", "egress", "bidirectional"
	LabelType       string   `json:"label_type"`
	LabelRanges     [][2]int `json:"label_ranges"`
	Capacity        int64    `json:"capacity"`
	RemoteNetworkID string   `json:"remote_network_id,omitempty"`
	RemotePortID    string   `json:"remote_port_id,omitempty"`
}

type topologyBidi struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	InID  string `json:"in_id"`
	OutID string `json:"out_id"`
}

func parseTopologyDocument(networkID string, body []byte) (*topology.Network, error) {
	var doc topologyDocument
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("decode topology document for %s: %w", networkID, err)
	}

	net := topology.NewNetwork(networkID, doc.Name, doc.ManagingNSA)
	for typ, swappable := range doc.Swappable {
		net.SetSwappable(typ, swappable)
	}

	for _, p := range doc.Ports {
		var orient topology.Orientation
		switch p.Orientation {
		case "ingress":
			orient = topology.Ingress
		case "egress":
			orient = topology.Egress
		case "bidirectional":
			orient = topology.Bidirectional
		default:
			return nil, fmt.Errorf("port %s: unknown orientation %q", p.ID, p.Orientation)
		}

		ranges := make([]label.Range, len(p.LabelRanges))
		for i, r := range p.LabelRanges {
			ranges[i] = label.Range{Low: r[0], High: r[1]}
		}
		labels, err := label.New(p.LabelType, ranges...)
		if err != nil {
			return nil, fmt.Errorf("port %s: %w", p.ID, err)
		}

		net.AddPort(&topology.Port{
			ID:              p.ID,
			Name:            p.Name,
			Orientation:     orient,
			Labels:          []label.Label{labels},
			Capacity:        p.Capacity,
			RemoteNetworkID: p.RemoteNetworkID,
			RemotePortID:    p.RemotePortID,
		})
	}

	for _, bp := range doc.Bidirectional {
		net.AddBidirectionalPort(&topology.BidirectionalPort{ID: bp.ID, Name: bp.Name, InID: bp.InID, OutID: bp.OutID})
	}

	return net, nil
}
