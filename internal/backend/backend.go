// Package backend implements the Local Backend of spec §4.6: the edge
// provider that exposes the same reserve/provision/release/terminate
// interface an Aggregator consumes from a remote peer, backed by a
// topology-aware label selection, a reservation Calendar, and a
// time-driven scheduler.
//
// Grounded on managers/res_mgr.go's Inventory: a map of live records
// guarded by a single mutex (Inventory.cache), with each record's own
// state additionally serialized through its own lock — here
// fsm.Connection's per-connection mutex plays the role tegu's
// gizmos.Pledge methods play by being called only while the Inventory
// goroutine owns the pledge.
package backend

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/BandwidthOnDemand/opennsa-go/internal/calendar"
	"github.com/BandwidthOnDemand/opennsa-go/internal/connmgr"
	"github.com/BandwidthOnDemand/opennsa-go/internal/fsm"
	"github.com/BandwidthOnDemand/opennsa-go/internal/idgen"
	"github.com/BandwidthOnDemand/opennsa-go/internal/label"
	"github.com/BandwidthOnDemand/opennsa-go/internal/metrics"
	"github.com/BandwidthOnDemand/opennsa-go/internal/nsaerr"
	"github.com/BandwidthOnDemand/opennsa-go/internal/scheduler"
	"github.com/BandwidthOnDemand/opennsa-go/internal/store"
)

// EventKind names one of the asynchronous callbacks spec §4.6 lists the
// Local Backend as able to emit.
type EventKind string

const (
	EventReserveConfirmed       EventKind = "reserve_confirmed"
	EventReserveFailed          EventKind = "reserve_failed"
	EventReserveCommitConfirmed EventKind = "reserve_commit_confirmed"
	EventReserveAbortConfirmed  EventKind = "reserve_abort_confirmed"
	EventProvisionConfirmed     EventKind = "provision_confirmed"
	EventReleaseConfirmed       EventKind = "release_confirmed"
	EventTerminateConfirmed     EventKind = "terminate_confirmed"
	EventDataPlaneStateChange   EventKind = "data_plane_state_change"
	EventErrorEvent             EventKind = "error_event"
	EventReserveTimeout         EventKind = "reserve_timeout"
)

// Event is one asynchronous notification from the Backend to its caller
// (normally an Aggregator's local-segment dispatch, per spec §4.7). Src
// and Dst carry the label narrowed to the single value selectLabel chose,
// populated only on EventReserveConfirmed — the aggregator's join (spec
// §4.7) stores these as the segment's endpoints, replacing the labels it
// dispatched; it does not intersect the two.
type Event struct {
	Kind         EventKind
	ConnectionID string
	Src, Dst     STP
	DataPlane    fsm.DataPlane
	Err          error
}

// Notifier receives Backend events. Implementations must not block.
type Notifier func(Event)

// STP identifies a request endpoint in terms the Backend understands:
// a network-local port plus the label candidates the caller will accept.
type STP struct {
	NetworkID string
	PortID    string
	Label     label.Label
}

// ReserveRequest is the input to Reserve.
type ReserveRequest struct {
	ConnectionID string // empty to have one generated
	Src, Dst     STP
	Start, End   time.Time
	Bandwidth    int64
}

// record is everything the Backend keeps about one connection: its FSM,
// the endpoints and chosen labels, and the resource keys booked against
// the Calendar so Release/Terminate can free them without recomputation.
type record struct {
	id            string
	req           ReserveRequest
	srcLabelValue int
	dstLabelValue int
	srcResource   connmgr.ResourceKey
	dstResource   connmgr.ResourceKey
	state         *fsm.Connection
}

// Backend is the Local Backend. Safe for concurrent use.
type Backend struct {
	mgr     connmgr.ConnectionManager
	cal     *calendar.Calendar
	sched   *scheduler.Scheduler
	store   store.Store
	notify  Notifier
	metrics *metrics.Metrics
	log     *logrus.Entry

	tpcTimeout time.Duration

	muRecords sync.Mutex
	records   map[string]*record

	now func() time.Time
}

// New constructs a Backend. tpcTimeout bounds how long a reservation may
// sit in RESERVE_HELD before an EventReserveTimeout fires (spec §4.6).
func New(mgr connmgr.ConnectionManager, cal *calendar.Calendar, sched *scheduler.Scheduler, st store.Store, notify Notifier, m *metrics.Metrics, tpcTimeout time.Duration, log *logrus.Entry) *Backend {
	if log == nil {
		log = logrus.WithField("component", "backend")
	}
	if notify == nil {
		notify = func(Event) {}
	}
	return &Backend{
		mgr:        mgr,
		cal:        cal,
		sched:      sched,
		store:      st,
		notify:     notify,
		metrics:    m,
		log:        log,
		tpcTimeout: tpcTimeout,
		records:    make(map[string]*record),
		now:        time.Now,
	}
}

func (b *Backend) emit(e Event) { b.notify(e) }

func (b *Backend) getRecord(id string) (*record, error) {
	b.muRecords.Lock()
	defer b.muRecords.Unlock()
	r, ok := b.records[id]
	if !ok {
		return nil, nsaerr.New(nsaerr.KindConnectionNonExistent, "no such connection: %s", id)
	}
	return r, nil
}

// Reserve implements spec §4.6's reserve algorithm: validate label types
// match, select a label (independently per side if the manager can swap,
// otherwise from the src∩dst intersection), book the Calendar, persist,
// and schedule termination at End.
func (b *Backend) Reserve(ctx context.Context, req ReserveRequest) (string, error) {
	if req.Src.Label.Type != req.Dst.Label.Type {
		return "", nsaerr.New(nsaerr.KindPayload, "label type mismatch: src=%s dst=%s", req.Src.Label.Type, req.Dst.Label.Type)
	}
	if req.ConnectionID == "" {
		req.ConnectionID = idgen.New()
	}

	st := fsm.New()
	st.Lock()
	if err := st.ReserveTo(fsm.ReserveChecking); err != nil {
		st.Unlock()
		return "", err
	}

	srcVal, dstVal, srcRes, dstRes, err := b.selectLabel(req)
	if err != nil {
		st.ReserveTo(fsm.ReserveFailed)
		st.Unlock()
		if b.metrics != nil {
			b.metrics.ReserveTotal.WithLabelValues("failed").Inc()
		}
		b.emit(Event{Kind: EventReserveFailed, ConnectionID: req.ConnectionID, Err: err})
		return "", err
	}

	if err := st.ReserveTo(fsm.ReserveHeld); err != nil {
		st.Unlock()
		return "", err
	}
	if err := st.ProvisionTo(fsm.Provisioning); err != nil {
		st.Unlock()
		return "", err
	}
	if err := st.ProvisionTo(fsm.Scheduled); err != nil {
		st.Unlock()
		return "", err
	}
	if err := st.LifecycleTo(fsm.Created); err != nil {
		st.Unlock()
		return "", err
	}
	st.Unlock()

	rec := &record{id: req.ConnectionID, req: req, srcLabelValue: srcVal, dstLabelValue: dstVal, srcResource: srcRes, dstResource: dstRes, state: st}
	b.muRecords.Lock()
	b.records[req.ConnectionID] = rec
	b.muRecords.Unlock()

	if err := b.persist(ctx, rec); err != nil {
		b.log.WithError(err).WithField("connection_id", req.ConnectionID).Error("persist after reserve")
	}

	b.sched.Schedule(terminateKey(req.ConnectionID), req.End, func(string) { b.Terminate(context.Background(), req.ConnectionID) })
	b.sched.Schedule(tpcKey(req.ConnectionID), b.now().Add(b.tpcTimeout), func(string) { b.onTPCTimeout(req.ConnectionID) })

	if b.metrics != nil {
		b.metrics.ReserveTotal.WithLabelValues("held").Inc()
	}

	narrowedSrc := STP{NetworkID: req.Src.NetworkID, PortID: req.Src.PortID, Label: singleValue(req.Src.Label.Type, srcVal)}
	narrowedDst := STP{NetworkID: req.Dst.NetworkID, PortID: req.Dst.PortID, Label: singleValue(req.Dst.Label.Type, dstVal)}
	b.emit(Event{Kind: EventReserveConfirmed, ConnectionID: req.ConnectionID, Src: narrowedSrc, Dst: narrowedDst})

	return req.ConnectionID, nil
}

func singleValue(labelType string, value int) label.Label {
	l, _ := label.New(labelType, label.Range{Low: value, High: value})
	return l
}

// selectLabel implements spec §4.6 step 2.
func (b *Backend) selectLabel(req ReserveRequest) (srcVal, dstVal int, srcRes, dstRes connmgr.ResourceKey, err error) {
	start, end := req.Start, req.End
	typ := req.Src.Label.Type

	if b.mgr.CanSwapLabel(typ) {
		sv, sok := b.firstAvailable(req.Src.PortID, typ, req.Src.Label, start, end)
		dv, dok := b.firstAvailable(req.Dst.PortID, typ, req.Dst.Label, start, end)
		if !sok || !dok {
			return 0, 0, "", "", nsaerr.New(nsaerr.KindResourceUnavailable, "no available label for %s/%s in [%s,%s)", req.Src.PortID, req.Dst.PortID, start, end)
		}
		sr := b.mgr.ResourceKey(req.Src.PortID, typ, sv)
		dr := b.mgr.ResourceKey(req.Dst.PortID, typ, dv)
		if e := b.cal.Add(calendar.Resource(sr), start, end, req.ConnectionID); e != nil {
			return 0, 0, "", "", e
		}
		if e := b.cal.Add(calendar.Resource(dr), start, end, req.ConnectionID); e != nil {
			b.cal.Remove(calendar.Resource(sr), start, end)
			return 0, 0, "", "", e
		}
		return sv, dv, sr, dr, nil
	}

	shared, e := label.Intersect(req.Src.Label, req.Dst.Label)
	if e != nil {
		return 0, 0, "", "", nsaerr.Wrap(nsaerr.KindResourceUnavailable, e, "src/dst label ranges disjoint")
	}
	for _, v := range shared.Enumerate() {
		sr := b.mgr.ResourceKey(req.Src.PortID, typ, v)
		dr := b.mgr.ResourceKey(req.Dst.PortID, typ, v)
		if !b.cal.Check(calendar.Resource(sr), start, end) || !b.cal.Check(calendar.Resource(dr), start, end) {
			continue
		}
		if e := b.cal.Add(calendar.Resource(sr), start, end, req.ConnectionID); e != nil {
			continue
		}
		if e := b.cal.Add(calendar.Resource(dr), start, end, req.ConnectionID); e != nil {
			b.cal.Remove(calendar.Resource(sr), start, end)
			continue
		}
		return v, v, sr, dr, nil
	}
	return 0, 0, "", "", nsaerr.New(nsaerr.KindResourceUnavailable, "no shared label value free in [%s,%s)", start, end)
}

func (b *Backend) firstAvailable(portID, labelType string, l label.Label, start, end time.Time) (int, bool) {
	for _, v := range l.Enumerate() {
		rk := b.mgr.ResourceKey(portID, labelType, v)
		if b.cal.Check(calendar.Resource(rk), start, end) {
			return v, true
		}
	}
	return 0, false
}

// ReserveCommit completes the two-phase commit's reservation axis.
func (b *Backend) ReserveCommit(ctx context.Context, id string) error {
	rec, err := b.getRecord(id)
	if err != nil {
		return err
	}
	rec.state.Lock()
	if err := rec.state.ReserveTo(fsm.ReserveCommitting); err != nil {
		rec.state.Unlock()
		return err
	}
	if err := rec.state.ReserveTo(fsm.ReserveStart); err != nil {
		rec.state.Unlock()
		return err
	}
	rec.state.Unlock()

	b.sched.Cancel(tpcKey(id))
	if err := b.persist(ctx, rec); err != nil {
		return err
	}
	b.emit(Event{Kind: EventReserveCommitConfirmed, ConnectionID: id})
	return nil
}

// ReserveAbort rolls back a held-but-uncommitted reservation, freeing its
// booked resources and terminating the connection (it never reached a
// provisioned state, so there is nothing else to release).
func (b *Backend) ReserveAbort(ctx context.Context, id string) error {
	rec, err := b.getRecord(id)
	if err != nil {
		return err
	}
	rec.state.Lock()
	if err := rec.state.ReserveTo(fsm.ReserveAborting); err != nil {
		rec.state.Unlock()
		return err
	}
	if err := rec.state.ReserveTo(fsm.ReserveStart); err != nil {
		rec.state.Unlock()
		return err
	}
	rec.state.LifecycleTo(fsm.Terminated)
	rec.state.Unlock()

	b.cal.RemoveOwner(id)
	b.sched.Cancel(terminateKey(id))
	b.sched.Cancel(tpcKey(id))
	b.sched.Cancel(activateKey(id))
	b.sched.Cancel(teardownKey(id))
	if err := b.persist(ctx, rec); err != nil {
		return err
	}
	b.emit(Event{Kind: EventReserveAbortConfirmed, ConnectionID: id})
	return nil
}

// Provision implements spec §4.6: cancel any pending activation timer,
// then either activate immediately (start_time <= now) or schedule
// activation for start_time plus teardown for end_time.
func (b *Backend) Provision(ctx context.Context, id string) error {
	rec, err := b.getRecord(id)
	if err != nil {
		return err
	}
	rec.state.Lock()
	if err := rec.state.ProvisionTo(fsm.Provisioned); err != nil {
		rec.state.Unlock()
		return err
	}
	rec.state.Unlock()
	b.sched.Cancel(activateKey(id))

	if err := b.persist(ctx, rec); err != nil {
		b.log.WithError(err).Error("persist after provision")
	}
	b.emit(Event{Kind: EventProvisionConfirmed, ConnectionID: id})

	if !rec.req.Start.After(b.now()) {
		b.activate(context.Background(), rec)
	} else {
		b.sched.Schedule(activateKey(id), rec.req.Start, func(string) { b.activate(context.Background(), rec) })
		b.sched.Schedule(teardownKey(id), rec.req.End, func(string) { b.Release(context.Background(), id) })
	}
	return nil
}

func (b *Backend) activate(ctx context.Context, rec *record) {
	start := b.now()
	src := connmgr.Target{PortID: rec.req.Src.PortID, LabelType: rec.req.Src.Label.Type, LabelValue: rec.srcLabelValue}
	dst := connmgr.Target{PortID: rec.req.Dst.PortID, LabelType: rec.req.Dst.Label.Type, LabelValue: rec.dstLabelValue}
	err := b.mgr.SetupLink(ctx, rec.id, src, dst, rec.req.Bandwidth)
	if err != nil {
		b.emit(Event{Kind: EventErrorEvent, ConnectionID: rec.id, Err: err})
		return
	}
	if b.metrics != nil {
		b.metrics.ActivationLatency.Observe(b.now().Sub(start).Seconds())
		b.metrics.ActiveConnections.Inc()
	}

	rec.state.Lock()
	dp := fsm.DataPlane{Active: true, Version: rec.state.DataPlane.Version + 1, Consistent: true}
	rec.state.SetDataPlane(dp)
	rec.state.Unlock()

	b.persist(ctx, rec)
	b.emit(Event{Kind: EventDataPlaneStateChange, ConnectionID: rec.id, DataPlane: dp})
}

// Release tears the dataplane down if active, then (re)schedules
// termination at end_time.
func (b *Backend) Release(ctx context.Context, id string) error {
	rec, err := b.getRecord(id)
	if err != nil {
		return err
	}
	rec.state.Lock()
	active := rec.state.DataPlane.Active
	rec.state.Unlock()

	if active {
		src := connmgr.Target{PortID: rec.req.Src.PortID, LabelType: rec.req.Src.Label.Type, LabelValue: rec.srcLabelValue}
		dst := connmgr.Target{PortID: rec.req.Dst.PortID, LabelType: rec.req.Dst.Label.Type, LabelValue: rec.dstLabelValue}
		if err := b.mgr.TeardownLink(ctx, id, src, dst, rec.req.Bandwidth); err != nil {
			b.emit(Event{Kind: EventErrorEvent, ConnectionID: id, Err: err})
			return err
		}
		if b.metrics != nil {
			b.metrics.ActiveConnections.Dec()
		}
		rec.state.Lock()
		if err := rec.state.ProvisionTo(fsm.Releasing); err == nil {
			rec.state.ProvisionTo(fsm.Released)
		}
		rec.state.SetDataPlane(fsm.DataPlane{Active: false, Version: rec.state.DataPlane.Version + 1, Consistent: true})
		rec.state.Unlock()
		b.emit(Event{Kind: EventDataPlaneStateChange, ConnectionID: id, DataPlane: rec.state.DataPlane})
	}

	b.sched.Schedule(terminateKey(id), rec.req.End, func(string) { b.Terminate(context.Background(), id) })
	if err := b.persist(ctx, rec); err != nil {
		return err
	}
	b.emit(Event{Kind: EventReleaseConfirmed, ConnectionID: id})
	return nil
}

// Terminate is idempotent: already-terminated connections are a no-op. If
// active it tears down first; it always frees calendar resources.
func (b *Backend) Terminate(ctx context.Context, id string) error {
	rec, err := b.getRecord(id)
	if err != nil {
		return nil
	}
	rec.state.Lock()
	if rec.state.Lifecycle == fsm.Terminated {
		rec.state.Unlock()
		return nil
	}
	active := rec.state.DataPlane.Active
	rec.state.Unlock()

	if active {
		src := connmgr.Target{PortID: rec.req.Src.PortID, LabelType: rec.req.Src.Label.Type, LabelValue: rec.srcLabelValue}
		dst := connmgr.Target{PortID: rec.req.Dst.PortID, LabelType: rec.req.Dst.Label.Type, LabelValue: rec.dstLabelValue}
		if err := b.mgr.TeardownLink(ctx, id, src, dst, rec.req.Bandwidth); err != nil {
			b.emit(Event{Kind: EventErrorEvent, ConnectionID: id, Err: err})
		} else if b.metrics != nil {
			b.metrics.ActiveConnections.Dec()
		}
		rec.state.Lock()
		if rec.state.ProvisionTo(fsm.Releasing) == nil {
			rec.state.ProvisionTo(fsm.Released)
		}
		rec.state.Unlock()
	}

	b.cal.RemoveOwner(id)
	b.sched.Cancel(terminateKey(id))
	b.sched.Cancel(tpcKey(id))
	b.sched.Cancel(activateKey(id))
	b.sched.Cancel(teardownKey(id))

	rec.state.Lock()
	rec.state.LifecycleTo(fsm.Terminated)
	rec.state.SetDataPlane(fsm.DataPlane{Active: false, Version: rec.state.DataPlane.Version + 1, Consistent: true})
	rec.state.Unlock()

	if err := b.persist(ctx, rec); err != nil {
		return err
	}
	b.emit(Event{Kind: EventTerminateConfirmed, ConnectionID: id})
	return nil
}

func (b *Backend) onTPCTimeout(id string) {
	rec, err := b.getRecord(id)
	if err != nil {
		return
	}
	rec.state.Lock()
	held := rec.state.Reservation == fsm.ReserveHeld
	rec.state.Unlock()
	if held {
		b.emit(Event{Kind: EventReserveTimeout, ConnectionID: id, Err: nsaerr.New(nsaerr.KindCallbackTimeout, "connection %s: RESERVE_HELD exceeded tpc timeout", id)})
	}
}

// RestartRecovery rebuilds scheduler state for every non-terminated
// connection found in the store (spec §4.6): connections whose end_time
// has already passed are terminated immediately, otherwise the next
// transition (activation or teardown) is rescheduled.
func (b *Backend) RestartRecovery(ctx context.Context) error {
	conns, err := b.store.ListNonTerminated(ctx)
	if err != nil {
		return fmt.Errorf("backend: restart recovery: list non-terminated: %w", err)
	}
	now := b.now()
	for _, c := range conns {
		if len(c.ChildOrder) > 0 {
			// Owned by an Aggregator sharing this store, not a leaf
			// reservation the Backend itself dispatched.
			continue
		}
		id := c.ConnectionID
		if !c.EndTime.After(now) {
			b.rehydrate(c)
			b.Terminate(ctx, id)
			continue
		}
		rec := b.rehydrate(c)

		switch c.State.Provision {
		case fsm.Scheduled:
			// Reserved but never (re-)provisioned: Provision reproduces
			// the activate-now-or-schedule-for-start_time logic a fresh
			// call would have taken.
			b.Provision(ctx, id)
		case fsm.Provisioned:
			// Already provisioned and within [start_time, end_time): the
			// data plane was active before restart and must be re-set-up,
			// not just have its teardown rescheduled.
			b.activate(ctx, rec)
			b.sched.Schedule(teardownKey(id), c.EndTime, func(string) { b.Release(ctx, id) })
		default:
			b.sched.Schedule(terminateKey(id), c.EndTime, func(string) { b.Terminate(ctx, id) })
		}
	}
	return nil
}

func (b *Backend) persist(ctx context.Context, rec *record) error {
	rec.state.Lock()
	s := store.StateRecord{
		Reservation: rec.state.Reservation,
		Provision:   rec.state.Provision,
		Lifecycle:   rec.state.Lifecycle,
		DataPlane: store.DataPlaneRecord{
			Active:     rec.state.DataPlane.Active,
			Version:    rec.state.DataPlane.Version,
			Consistent: rec.state.DataPlane.Consistent,
		},
	}
	rec.state.Unlock()

	conn := store.Connection{
		ConnectionID:   rec.id,
		SourceSTP:      store.STP{NetworkID: rec.req.Src.NetworkID, PortID: rec.req.Src.PortID, Label: rec.req.Src.Label},
		DestSTP:        store.STP{NetworkID: rec.req.Dst.NetworkID, PortID: rec.req.Dst.PortID, Label: rec.req.Dst.Label},
		StartTime:      rec.req.Start,
		EndTime:        rec.req.End,
		Bandwidth:      rec.req.Bandwidth,
		State:          s,
		ChosenSrcLabel: rec.srcLabelValue,
		ChosenDstLabel: rec.dstLabelValue,
	}
	return b.store.PutConnection(ctx, conn, nil)
}

// rehydrate reconstructs an in-memory record from a persisted Connection,
// recomputing its resource keys from the chosen label values, and
// registers it in the records map. Used only by RestartRecovery.
func (b *Backend) rehydrate(c store.Connection) *record {
	req := ReserveRequest{
		ConnectionID: c.ConnectionID,
		Src:          STP{NetworkID: c.SourceSTP.NetworkID, PortID: c.SourceSTP.PortID, Label: c.SourceSTP.Label},
		Dst:          STP{NetworkID: c.DestSTP.NetworkID, PortID: c.DestSTP.PortID, Label: c.DestSTP.Label},
		Start:        c.StartTime,
		End:          c.EndTime,
		Bandwidth:    c.Bandwidth,
	}
	st := fsm.New()
	st.Reservation = c.State.Reservation
	st.Provision = c.State.Provision
	st.Lifecycle = c.State.Lifecycle
	st.DataPlane = fsm.DataPlane{Active: c.State.DataPlane.Active, Version: c.State.DataPlane.Version, Consistent: c.State.DataPlane.Consistent}

	rec := &record{
		id:            c.ConnectionID,
		req:           req,
		srcLabelValue: c.ChosenSrcLabel,
		dstLabelValue: c.ChosenDstLabel,
		srcResource:   b.mgr.ResourceKey(c.SourceSTP.PortID, c.SourceSTP.Label.Type, c.ChosenSrcLabel),
		dstResource:   b.mgr.ResourceKey(c.DestSTP.PortID, c.DestSTP.Label.Type, c.ChosenDstLabel),
		state:         st,
	}
	b.muRecords.Lock()
	b.records[c.ConnectionID] = rec
	b.muRecords.Unlock()
	return rec
}

func terminateKey(id string) string { return id + ":terminate" }
func tpcKey(id string) string       { return id + ":tpc" }
func activateKey(id string) string  { return id + ":activate" }
func teardownKey(id string) string  { return id + ":teardown" }
