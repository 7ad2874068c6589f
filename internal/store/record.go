// Package store implements the persistence contract of spec §4.5: durable
// Service Connection and Sub-Connection records, keyed lookups, and a
// non-terminated scan for restart recovery, grounded on tegu's
// chkpt-backed Inventory in managers/res_mgr.go (Add_res/write_chkpt/
// load_chkpt) but backed by a real embedded KV store instead of a flat
// JSON checkpoint file.
package store

import (
	"time"

	"github.com/BandwidthOnDemand/opennsa-go/internal/fsm"
	"github.com/BandwidthOnDemand/opennsa-go/internal/label"
	"github.com/BandwidthOnDemand/opennsa-go/internal/topology"
)

// DataPlaneRecord is the durable form of fsm.DataPlane.
type DataPlaneRecord struct {
	Active     bool   `json:"active"`
	Version    uint64 `json:"version"`
	Consistent bool   `json:"consistent"`
}

// StateRecord is the durable form of the four parallel axes tracked by an
// fsm.Connection (spec §4.2).
type StateRecord struct {
	Reservation fsm.ReservationState `json:"reservation_state"`
	Provision   fsm.ProvisionState   `json:"provision_state"`
	Lifecycle   fsm.LifecycleState   `json:"lifecycle_state"`
	DataPlane   DataPlaneRecord      `json:"data_plane"`
}

// Connection is the durable Service Connection record (spec §3).
type Connection struct {
	ConnectionID        string      `json:"connection_id"`
	GlobalReservationID string      `json:"global_reservation_id"`
	Description         string      `json:"description"`
	RequesterNSA        string      `json:"requester_nsa"`
	RequesterReplyURL   string      `json:"requester_reply_url,omitempty"`
	SourceSTP           STP         `json:"source_stp"`
	DestSTP             STP         `json:"dest_stp"`
	StartTime           time.Time   `json:"start_time"`
	EndTime             time.Time   `json:"end_time"`
	Bandwidth           int64       `json:"bandwidth"`
	State               StateRecord `json:"state"`
	CreatedAt           time.Time   `json:"created_at"`
	// ChosenSrcLabel/ChosenDstLabel are the label values the Backend's
	// selectLabel picked (spec §4.6 step 2), persisted so restart
	// recovery can rebuild the exact resource keys booked in the
	// Calendar without re-running selection.
	ChosenSrcLabel int `json:"chosen_src_label"`
	ChosenDstLabel int `json:"chosen_dst_label"`
	// ChildOrder preserves sub-connection insertion order; Sub-Connections
	// themselves are stored separately, keyed by (ConnectionID, OrderID).
	ChildOrder []int `json:"child_order"`
}

// SubConnection is the durable record for one downstream provider segment
// of a Connection (spec §3): same shape plus provider/ordering fields.
type SubConnection struct {
	ConnectionID string `json:"connection_id"`
	OrderID      int    `json:"order_id"`
	ProviderNSA  string `json:"provider_nsa"`
	// ChildConnectionID is the connection_id the Aggregator generated for
	// this segment's own Reserve dispatch (spec §4.7) — distinct from the
	// parent's ConnectionID — so restart recovery can resume tracking the
	// segment without redispatching it.
	ChildConnectionID string      `json:"child_connection_id"`
	LocalLink         bool        `json:"local_link"`
	SourceSTP         STP         `json:"source_stp"`
	DestSTP           STP         `json:"dest_stp"`
	StartTime         time.Time   `json:"start_time"`
	EndTime           time.Time   `json:"end_time"`
	Bandwidth         int64       `json:"bandwidth"`
	State             StateRecord `json:"state"`
}

// STP is the durable form of topology.STP; a topology.STP embeds a
// label.Label directly so it round-trips through JSON without a custom
// marshaler.
type STP struct {
	NetworkID string      `json:"network_id"`
	PortID    string      `json:"port_id"`
	Label     label.Label `json:"label"`
}

func fromTopologySTP(s topology.STP) STP {
	return STP{NetworkID: s.NetworkID, PortID: s.PortID, Label: s.Label}
}

func (s STP) toTopology() topology.STP {
	return topology.STP{NetworkID: s.NetworkID, PortID: s.PortID, Label: s.Label}
}

// FromTopologySTP converts a topology.STP into its durable form.
func FromTopologySTP(s topology.STP) STP { return fromTopologySTP(s) }

// ToTopology converts a durable STP back into a topology.STP.
func (s STP) ToTopology() topology.STP { return s.toTopology() }

// NotTerminated reports whether c's lifecycle state is not yet Terminated,
// the predicate backing the "all connections not in lifecycle TERMINATED"
// query required by spec §4.5.
func (c Connection) NotTerminated() bool { return c.State.Lifecycle != fsm.Terminated }
