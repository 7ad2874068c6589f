// Package fsm implements the four parallel per-connection state machines
// of spec §4.2 and the parent/child aggregation rule of spec §3.
package fsm

import (
	"fmt"
	"sync"
)

// ReservationState is the reservation-axis state.
type ReservationState int

const (
	ReserveStart ReservationState = iota
	ReserveChecking
	ReserveHeld
	ReserveCommitting
	ReserveAborting
	ReserveFailed
)

func (s ReservationState) String() string {
	switch s {
	case ReserveStart:
		return "RESERVE_START"
	case ReserveChecking:
		return "RESERVE_CHECKING"
	case ReserveHeld:
		return "RESERVE_HELD"
	case ReserveCommitting:
		return "RESERVE_COMMITTING"
	case ReserveAborting:
		return "RESERVE_ABORTING"
	case ReserveFailed:
		return "RESERVE_FAILED"
	default:
		return "RESERVE_UNKNOWN"
	}
}

// ProvisionState is the provision-axis state.
type ProvisionState int

const (
	Released ProvisionState = iota
	Provisioning
	Scheduled // implicit pre-state of Provisioned: committed, before start_time
	Provisioned
	Releasing
)

func (s ProvisionState) String() string {
	switch s {
	case Released:
		return "RELEASED"
	case Provisioning:
		return "PROVISIONING"
	case Scheduled:
		return "SCHEDULED"
	case Provisioned:
		return "PROVISIONED"
	case Releasing:
		return "RELEASING"
	default:
		return "PROVISION_UNKNOWN"
	}
}

// LifecycleState is the lifecycle-axis state.
type LifecycleState int

const (
	Initial LifecycleState = iota
	Created
	Terminating
	Terminated
)

func (s LifecycleState) String() string {
	switch s {
	case Initial:
		return "INITIAL"
	case Created:
		return "CREATED"
	case Terminating:
		return "TERMINATING"
	case Terminated:
		return "TERMINATED"
	default:
		return "LIFECYCLE_UNKNOWN"
	}
}

// DataPlane is a tuple, not an FSM: active toggles at activation/teardown,
// version increments at activation, consistent reflects aggregation.
type DataPlane struct {
	Active     bool
	Version    uint64
	Consistent bool
}

// TransitionError reports an illegal FSM input (spec §7 StateTransitionError).
type TransitionError struct {
	Axis string
	From fmt.Stringer
	To   fmt.Stringer
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("illegal %s transition: %s -> %s", e.Axis, e.From, e.To)
}

var reservationEdges = map[ReservationState]map[ReservationState]bool{
	ReserveStart:      {ReserveChecking: true},
	ReserveChecking:   {ReserveHeld: true, ReserveFailed: true},
	ReserveHeld:       {ReserveCommitting: true, ReserveAborting: true},
	ReserveCommitting: {ReserveStart: true},
	ReserveAborting:   {ReserveStart: true},
	ReserveFailed:     {},
}

var provisionEdges = map[ProvisionState]map[ProvisionState]bool{
	Released:     {Provisioning: true},
	Provisioning: {Scheduled: true, Provisioned: true, Released: true},
	Scheduled:    {Provisioned: true, Releasing: true},
	Provisioned:  {Releasing: true},
	Releasing:    {Released: true},
}

// lifecycleEdges: any prior state may move to Terminated (e.g. on
// end-time expiry), so that edge is checked specially in LifecycleTo.
var lifecycleEdges = map[LifecycleState]map[LifecycleState]bool{
	Initial:     {Created: true, Terminated: true},
	Created:     {Terminating: true, Terminated: true},
	Terminating: {Terminated: true},
	Terminated:  {},
}

// Connection bundles the four axes of one connection (or sub-connection)
// behind a single mutex, which is the per-connection lock of spec §5: all
// state transitions for a connection_id are totally ordered through it.
type Connection struct {
	mu          sync.Mutex
	Reservation ReservationState
	Provision   ProvisionState
	Lifecycle   LifecycleState
	DataPlane   DataPlane
	// version/consistency bookkeeping, spec §3: "version counter and a
	// consistency flag" on the four-axis state as a whole.
	StateVersion uint64
}

// New returns a Connection in its initial state on all four axes.
func New() *Connection {
	return &Connection{
		Reservation: ReserveStart,
		Provision:   Released,
		Lifecycle:   Initial,
	}
}

// Lock acquires the per-connection lock (spec §5). Callers must Unlock.
// Entering RESERVE_CHECKING happens while holding this lock, which also
// functions as the mutual-exclusion token described in spec §4.2.
func (c *Connection) Lock()   { c.mu.Lock() }
func (c *Connection) Unlock() { c.mu.Unlock() }

// ReserveTo attempts a reservation-axis transition. Caller must hold Lock.
func (c *Connection) ReserveTo(to ReservationState) error {
	if !reservationEdges[c.Reservation][to] {
		return &TransitionError{Axis: "reservation", From: c.Reservation, To: to}
	}
	c.Reservation = to
	c.StateVersion++
	return nil
}

// ProvisionTo attempts a provision-axis transition. Caller must hold Lock.
func (c *Connection) ProvisionTo(to ProvisionState) error {
	if !provisionEdges[c.Provision][to] {
		return &TransitionError{Axis: "provision", From: c.Provision, To: to}
	}
	c.Provision = to
	c.StateVersion++
	return nil
}

// LifecycleTo attempts a lifecycle-axis transition. Caller must hold Lock.
// Terminated is reachable from any state (spec §4.2).
func (c *Connection) LifecycleTo(to LifecycleState) error {
	if to == Terminated {
		c.Lifecycle = Terminated
		c.StateVersion++
		return nil
	}
	if !lifecycleEdges[c.Lifecycle][to] {
		return &TransitionError{Axis: "lifecycle", From: c.Lifecycle, To: to}
	}
	c.Lifecycle = to
	c.StateVersion++
	return nil
}

// SetDataPlane sets the data-plane tuple directly; it is not an FSM.
// Caller must hold Lock.
func (c *Connection) SetDataPlane(dp DataPlane) {
	c.DataPlane = dp
	c.StateVersion++
}

// AggregateReservation implements spec §3's join rule: the parent reaches
// a state only when every child has reached it. With zero children it
// returns ReserveStart and false.
func AggregateReservation(children []ReservationState) (ReservationState, bool) {
	if len(children) == 0 {
		return ReserveStart, false
	}
	first := children[0]
	for _, c := range children[1:] {
		if c != first {
			return first, false
		}
	}
	return first, true
}

// AggregateProvision mirrors AggregateReservation for the provision axis
// (Released and false with zero children).
func AggregateProvision(children []ProvisionState) (ProvisionState, bool) {
	if len(children) == 0 {
		return Released, false
	}
	first := children[0]
	for _, c := range children[1:] {
		if c != first {
			return first, false
		}
	}
	return first, true
}

// AggregateLifecycle mirrors AggregateReservation for the lifecycle axis
// (Initial and false with zero children).
func AggregateLifecycle(children []LifecycleState) (LifecycleState, bool) {
	if len(children) == 0 {
		return Initial, false
	}
	first := children[0]
	for _, c := range children[1:] {
		if c != first {
			return first, false
		}
	}
	return first, true
}

// AggregateDataPlane implements spec §3: "version of a parent is the
// maximum of its children; consistent is the conjunction of children's
// consistency flags and equal versions."
func AggregateDataPlane(children []DataPlane) DataPlane {
	if len(children) == 0 {
		return DataPlane{}
	}
	out := DataPlane{Active: children[0].Active, Version: children[0].Version, Consistent: true}
	sameVersion := true
	allActive := children[0].Active
	anyActive := children[0].Active
	for _, c := range children {
		if c.Version > out.Version {
			out.Version = c.Version
		}
		if c.Version != children[0].Version {
			sameVersion = false
		}
		if !c.Consistent {
			out.Consistent = false
		}
		allActive = allActive && c.Active
		anyActive = anyActive || c.Active
	}
	if !sameVersion {
		out.Consistent = false
	}
	out.Active = allActive && anyActive
	return out
}
