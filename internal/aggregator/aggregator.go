// Package aggregator implements the recursive connection service of
// spec §4.7: path computation over internal/topology, fan-out dispatch to
// one Provider per path segment through the internal/registry, the
// two-phase-commit and confirmation join across children, partial-failure
// compensation, and the notification propagation policy of spec §6/§7.
//
// Grounded on managers/res_mgr.go's path reservation push loop (iterate a
// path's hop list, dispatch one reservation per segment, collect the
// per-segment acks asynchronously) generalized from tegu's flat
// switch-to-switch path to a real peer-of-peers dispatch through the
// Provider Registry (spec §4.8); per-child error collection is grounded on
// original_source/opennsa/aggregator.py.
package aggregator

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/BandwidthOnDemand/opennsa-go/internal/fsm"
	"github.com/BandwidthOnDemand/opennsa-go/internal/idgen"
	"github.com/BandwidthOnDemand/opennsa-go/internal/metrics"
	"github.com/BandwidthOnDemand/opennsa-go/internal/nsaerr"
	"github.com/BandwidthOnDemand/opennsa-go/internal/provider"
	"github.com/BandwidthOnDemand/opennsa-go/internal/registry"
	"github.com/BandwidthOnDemand/opennsa-go/internal/store"
	"github.com/BandwidthOnDemand/opennsa-go/internal/topology"
)

// childRecord is everything the Aggregator tracks about one dispatched
// path segment. Its reservation/provision/lifecycle fields mirror the
// remote segment's state as reported by notifications; the Aggregator
// never touches the remote Provider's own fsm.Connection.
type childRecord struct {
	orderID      int
	providerNSA  string
	connectionID string
	localLink    bool
	src, dst     provider.STP
	reservation  fsm.ReservationState
	provision    fsm.ProvisionState
	lifecycle    fsm.LifecycleState
	dataPlane    fsm.DataPlane
	confirmed    bool
	lastErr      error
}

// record is one aggregate (possibly multi-segment) connection.
type record struct {
	mu       sync.Mutex
	id       string
	req      provider.ReserveRequest
	path     topology.Path
	state    *fsm.Connection
	children []*childRecord
}

func (r *record) childByID(childConnectionID string) *childRecord {
	for _, c := range r.children {
		if c.connectionID == childConnectionID {
			return c
		}
	}
	return nil
}

// Aggregator is a recursive NSA core: a Provider that is itself built out
// of other Providers reached through a Registry.
type Aggregator struct {
	localNSA string
	topo     *topology.Model
	reg      *registry.Registry
	store    store.Store
	notify   provider.Notifier
	metrics  *metrics.Metrics
	log      *logrus.Entry

	muRecords  sync.Mutex
	records    map[string]*record
	childIndex map[string]string // child connection id -> parent connection id
}

// New constructs an Aggregator. localNSA is this agent's own NSA URN,
// used to label dispatches made back to its own Local Backend through
// the Registry's static entry.
func New(localNSA string, topo *topology.Model, reg *registry.Registry, st store.Store, notify provider.Notifier, m *metrics.Metrics, log *logrus.Entry) *Aggregator {
	if log == nil {
		log = logrus.WithField("component", "aggregator")
	}
	if notify == nil {
		notify = func(provider.Notification) {}
	}
	return &Aggregator{
		localNSA:   localNSA,
		topo:       topo,
		reg:        reg,
		store:      st,
		notify:     notify,
		metrics:    m,
		log:        log,
		records:    make(map[string]*record),
		childIndex: make(map[string]string),
	}
}

func (a *Aggregator) getRecord(id string) (*record, error) {
	a.muRecords.Lock()
	defer a.muRecords.Unlock()
	r, ok := a.records[id]
	if !ok {
		return nil, nsaerr.New(nsaerr.KindConnectionNonExistent, "no such connection: %s", id)
	}
	return r, nil
}

// Reserve implements spec §4.7 steps 1-8: compute a path, verify every
// segment's managing NSA is reachable through the Registry, persist the
// parent in RESERVE_CHECKING, then dispatch one Reserve per segment in
// parallel. It returns as soon as every segment has acknowledged receipt;
// actual reservation confirmation arrives later via HandleNotification.
func (a *Aggregator) Reserve(ctx context.Context, req provider.ReserveRequest) (string, error) {
	if req.ConnectionID == "" {
		req.ConnectionID = idgen.New()
	}

	paths, err := a.topo.FindPaths(
		topology.STP{NetworkID: req.Src.NetworkID, PortID: req.Src.PortID, Label: req.Src.Label},
		topology.STP{NetworkID: req.Dst.NetworkID, PortID: req.Dst.PortID, Label: req.Dst.Label},
		req.Bandwidth,
	)
	if err != nil {
		return "", err
	}
	if len(paths) == 0 {
		return "", nsaerr.New(nsaerr.KindTopology, "no path found from %s:%s to %s:%s", req.Src.NetworkID, req.Src.PortID, req.Dst.NetworkID, req.Dst.PortID)
	}
	path := paths[0]

	if a.metrics != nil {
		a.metrics.AggregateFanoutSize.Observe(float64(len(path)))
	}

	providers := make([]provider.Provider, len(path))
	childIDs := make([]string, len(path))
	for i, link := range path {
		net, err := a.topo.GetNetwork(link.NetworkID)
		if err != nil {
			return "", err
		}
		p, err := a.reg.Lookup(net.ManagingNSA)
		if err != nil {
			return "", nsaerr.Wrap(nsaerr.KindConnectionCreate, err, "segment %d: network %s managed by %s is not reachable", i, link.NetworkID, net.ManagingNSA)
		}
		providers[i] = p
		childIDs[i] = idgen.New()
	}

	st := fsm.New()
	st.Lock()
	if err := st.ReserveTo(fsm.ReserveChecking); err != nil {
		st.Unlock()
		return "", err
	}
	st.Unlock()

	rec := &record{id: req.ConnectionID, req: req, path: path, state: st}
	for i, link := range path {
		rec.children = append(rec.children, &childRecord{
			orderID:      i,
			providerNSA:  mustManagingNSA(a.topo, link.NetworkID),
			connectionID: childIDs[i],
			localLink:    mustManagingNSA(a.topo, link.NetworkID) == a.localNSA,
			src:          provider.STP{NetworkID: link.NetworkID, PortID: link.SrcPort, Label: link.SrcLabel},
			dst:          provider.STP{NetworkID: link.NetworkID, PortID: link.DstPort, Label: link.DstLabel},
			reservation:  fsm.ReserveChecking,
		})
	}

	a.muRecords.Lock()
	a.records[req.ConnectionID] = rec
	for _, c := range rec.children {
		a.childIndex[c.connectionID] = req.ConnectionID
	}
	a.muRecords.Unlock()

	a.persist(ctx, rec)

	g, gctx := errgroup.WithContext(ctx)
	for i := range path {
		i := i
		link := path[i]
		g.Go(func() error {
			child := rec.children[i]
			childReq := provider.ReserveRequest{
				ConnectionID: child.connectionID,
				RequesterNSA: a.localNSA,
				Src:          child.src,
				Dst:          child.dst,
				Start:        req.Start,
				End:          req.End,
				Bandwidth:    req.Bandwidth,
			}
			_, err := providers[i].Reserve(gctx, childReq)
			if err != nil {
				return nsaerr.Wrap(nsaerr.KindConnectionCreate, err, "segment %d (%s) reserve failed", i, link.NetworkID)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		a.compensateFailedDispatch(ctx, rec, providers)
		rec.state.Lock()
		rec.state.ReserveTo(fsm.ReserveFailed)
		rec.state.LifecycleTo(fsm.Terminated)
		rec.state.Unlock()
		a.persist(ctx, rec)
		a.forget(req.ConnectionID)
		return "", err
	}

	return req.ConnectionID, nil
}

// compensateFailedDispatch terminates every segment that was already
// reserved (i.e. its Reserve call returned no error) when a sibling
// segment's dispatch failed, per spec §4.7's fail-fast compensation.
func (a *Aggregator) compensateFailedDispatch(ctx context.Context, rec *record, providers []provider.Provider) {
	rec.mu.Lock()
	children := append([]*childRecord(nil), rec.children...)
	rec.mu.Unlock()
	for i, c := range children {
		if c.reservation == fsm.ReserveHeld || c.confirmed {
			if err := providers[i].Terminate(ctx, c.connectionID); err != nil {
				a.log.WithError(err).WithField("connection_id", c.connectionID).Warn("compensation terminate failed")
			}
		}
	}
}

func mustManagingNSA(topo *topology.Model, networkID string) string {
	n, err := topo.GetNetwork(networkID)
	if err != nil {
		return ""
	}
	return n.ManagingNSA
}

// fanOut dispatches fn against every child of id in parallel and waits
// for all of them, collecting per-segment errors (used by
// ReserveCommit/ReserveAbort/Provision/Release/Terminate: spec §4.7
// describes identical fan-out/join structure for all five).
func (a *Aggregator) fanOut(ctx context.Context, id string, fn func(p provider.Provider, childConnectionID string) error) error {
	rec, err := a.getRecord(id)
	if err != nil {
		return err
	}

	rec.mu.Lock()
	children := append([]*childRecord(nil), rec.children...)
	rec.mu.Unlock()

	var children2 []childDispatch
	for _, c := range children {
		p, err := a.reg.Lookup(c.providerNSA)
		if err != nil {
			return nsaerr.Wrap(nsaerr.KindConnection, err, "segment %d provider %s unreachable", c.orderID, c.providerNSA)
		}
		children2 = append(children2, childDispatch{provider: p, child: c})
	}

	var mu sync.Mutex
	var childErrs []nsaerr.ChildError
	var wg sync.WaitGroup
	for _, cd := range children2 {
		cd := cd
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(cd.provider, cd.child.connectionID); err != nil {
				mu.Lock()
				childErrs = append(childErrs, nsaerr.ChildError{OrderID: cd.child.orderID, Provider: cd.child.providerNSA, Err: err})
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(childErrs) > 0 {
		return nsaerr.Aggregate(childErrs, false)
	}
	return nil
}

type childDispatch struct {
	provider provider.Provider
	child    *childRecord
}

// ReserveCommit fans ReserveCommit out to every segment. Per spec §4.7
// there is no automatic rollback on a partial commit failure; the caller
// is told which segments failed and decides whether to abort explicitly.
// The parent only advances its own reservation axis once every segment
// has committed (spec.md:283's "parent.state == X iff every child
// child.state == X"), so the transition is skipped on a partial failure.
func (a *Aggregator) ReserveCommit(ctx context.Context, id string) error {
	err := a.fanOut(ctx, id, func(p provider.Provider, childID string) error {
		return p.ReserveCommit(ctx, childID)
	})
	if err == nil {
		rec, gerr := a.getRecord(id)
		if gerr == nil {
			rec.state.Lock()
			rec.state.ReserveTo(fsm.ReserveCommitting)
			rec.state.ReserveTo(fsm.ReserveStart)
			rec.state.Unlock()
			a.persist(ctx, rec)
		}
	}
	return err
}

// ReserveAbort fans ReserveAbort out to every segment.
func (a *Aggregator) ReserveAbort(ctx context.Context, id string) error {
	err := a.fanOut(ctx, id, func(p provider.Provider, childID string) error {
		return p.ReserveAbort(ctx, childID)
	})
	rec, gerr := a.getRecord(id)
	if gerr == nil {
		rec.state.Lock()
		rec.state.LifecycleTo(fsm.Terminated)
		rec.state.Unlock()
		a.persist(ctx, rec)
	}
	return err
}

// Provision fans Provision out to every segment, then advances the
// parent's own provision axis once every segment has provisioned.
func (a *Aggregator) Provision(ctx context.Context, id string) error {
	err := a.fanOut(ctx, id, func(p provider.Provider, childID string) error {
		return p.Provision(ctx, childID)
	})
	if err == nil {
		rec, gerr := a.getRecord(id)
		if gerr == nil {
			rec.state.Lock()
			rec.state.ProvisionTo(fsm.Provisioned)
			rec.state.Unlock()
			a.persist(ctx, rec)
		}
	}
	return err
}

// Release fans Release out to every segment, then advances the parent's
// own provision axis once every segment has released.
func (a *Aggregator) Release(ctx context.Context, id string) error {
	err := a.fanOut(ctx, id, func(p provider.Provider, childID string) error {
		return p.Release(ctx, childID)
	})
	if err == nil {
		rec, gerr := a.getRecord(id)
		if gerr == nil {
			rec.state.Lock()
			rec.state.ProvisionTo(fsm.Releasing)
			rec.state.ProvisionTo(fsm.Released)
			rec.state.Unlock()
			a.persist(ctx, rec)
		}
	}
	return err
}

// Terminate fans Terminate out to every segment. Per spec §4.7 there is
// no auto-retry on partial failure: every segment is attempted exactly
// once and the aggregated error (if any) is returned to the caller.
func (a *Aggregator) Terminate(ctx context.Context, id string) error {
	err := a.fanOut(ctx, id, func(p provider.Provider, childID string) error {
		return p.Terminate(ctx, childID)
	})
	rec, gerr := a.getRecord(id)
	if gerr == nil {
		rec.state.Lock()
		rec.state.LifecycleTo(fsm.Terminated)
		rec.state.Unlock()
		a.persist(ctx, rec)
	}
	return err
}

// HandleNotification is the sink every dispatched Provider's Notifier
// must eventually call (directly, for the Local Backend; via whatever
// wire transport relays a remote peer's callback, for a dynamic peer —
// out of scope here). It implements the confirmation join of spec §4.7:
// a parent only advances once every child has reported the same outcome.
func (a *Aggregator) HandleNotification(n provider.Notification) {
	a.muRecords.Lock()
	parentID, ok := a.childIndex[n.ConnectionID]
	a.muRecords.Unlock()
	if !ok {
		return
	}
	rec, err := a.getRecord(parentID)
	if err != nil {
		return
	}

	switch n.Kind {
	case provider.NotifyReserveConfirmed:
		a.handleReserveConfirmed(rec, n)
	case provider.NotifyReserveFailed:
		a.handleReserveFailed(rec, n)
	case provider.NotifyReserveCommitConfirmed:
		a.handleJoin(rec, n, func(c *childRecord) { c.reservation = fsm.ReserveStart }, provider.NotifyReserveCommitConfirmed, func() bool {
			return allReservation(rec, fsm.ReserveStart)
		})
	case provider.NotifyReserveAbortConfirmed:
		a.handleJoin(rec, n, func(c *childRecord) { c.reservation = fsm.ReserveStart }, provider.NotifyReserveAbortConfirmed, func() bool {
			return allReservation(rec, fsm.ReserveStart)
		})
	case provider.NotifyProvisionConfirmed:
		a.handleJoin(rec, n, func(c *childRecord) { c.provision = fsm.Provisioned }, provider.NotifyProvisionConfirmed, func() bool {
			return allProvision(rec, fsm.Provisioned)
		})
	case provider.NotifyReleaseConfirmed:
		a.handleJoin(rec, n, func(c *childRecord) { c.provision = fsm.Released }, provider.NotifyReleaseConfirmed, func() bool {
			return allProvision(rec, fsm.Released)
		})
	case provider.NotifyTerminateConfirmed:
		a.handleJoin(rec, n, func(c *childRecord) { c.lifecycle = fsm.Terminated }, provider.NotifyTerminateConfirmed, func() bool {
			return allLifecycle(rec, fsm.Terminated)
		})
	case provider.NotifyDataPlaneStateChange:
		a.handleDataPlane(rec, n)
	case provider.NotifyErrorEvent, provider.NotifyReserveTimeout:
		a.propagateSingleChild(rec, n)
	}
}

func (a *Aggregator) handleReserveConfirmed(rec *record, n provider.Notification) {
	rec.mu.Lock()
	c := rec.childByID(n.ConnectionID)
	if c == nil {
		rec.mu.Unlock()
		return
	}
	c.src = n.Src
	c.dst = n.Dst
	c.reservation = fsm.ReserveHeld
	c.confirmed = true
	allHeld := true
	for _, cc := range rec.children {
		if cc.reservation != fsm.ReserveHeld {
			allHeld = false
			break
		}
	}
	var up provider.Notification
	if allHeld {
		first := rec.children[0]
		last := rec.children[len(rec.children)-1]
		up = provider.Notification{
			Kind:         provider.NotifyReserveConfirmed,
			ConnectionID: rec.id,
			Src:          first.src,
			Dst:          last.dst,
		}
	}
	rec.mu.Unlock()

	if allHeld {
		rec.state.Lock()
		rec.state.ReserveTo(fsm.ReserveHeld)
		rec.state.ProvisionTo(fsm.Provisioning)
		rec.state.ProvisionTo(fsm.Scheduled)
		rec.state.Unlock()
		a.persist(context.Background(), rec)
		a.notify(up)
	}
}

func (a *Aggregator) handleReserveFailed(rec *record, n provider.Notification) {
	rec.mu.Lock()
	c := rec.childByID(n.ConnectionID)
	if c != nil {
		c.reservation = fsm.ReserveFailed
		c.lastErr = n.Err
	}
	siblings := append([]*childRecord(nil), rec.children...)
	rec.mu.Unlock()

	for _, sib := range siblings {
		if sib.connectionID == n.ConnectionID {
			continue
		}
		if sib.reservation == fsm.ReserveHeld {
			p, err := a.reg.Lookup(sib.providerNSA)
			if err == nil {
				p.Terminate(context.Background(), sib.connectionID)
			}
		}
	}

	rec.state.Lock()
	rec.state.ReserveTo(fsm.ReserveFailed)
	rec.state.LifecycleTo(fsm.Terminated)
	rec.state.Unlock()
	a.persist(context.Background(), rec)
	a.notify(provider.Notification{Kind: provider.NotifyReserveFailed, ConnectionID: rec.id, Err: n.Err})
}

// handleJoin applies update to the reporting child then, if all children
// now satisfy done, emits kind upstream once.
func (a *Aggregator) handleJoin(rec *record, n provider.Notification, update func(*childRecord), kind provider.NotificationKind, done func() bool) {
	rec.mu.Lock()
	c := rec.childByID(n.ConnectionID)
	if c == nil {
		rec.mu.Unlock()
		return
	}
	update(c)
	ready := done()
	rec.mu.Unlock()

	if ready {
		a.persist(context.Background(), rec)
		a.notify(provider.Notification{Kind: kind, ConnectionID: rec.id})
	}
}

func (a *Aggregator) handleDataPlane(rec *record, n provider.Notification) {
	rec.mu.Lock()
	c := rec.childByID(n.ConnectionID)
	if c == nil {
		rec.mu.Unlock()
		return
	}
	c.dataPlane = n.DataPlane
	dps := make([]fsm.DataPlane, len(rec.children))
	for i, cc := range rec.children {
		dps[i] = cc.dataPlane
	}
	agg := fsm.AggregateDataPlane(dps)
	rec.mu.Unlock()

	rec.state.Lock()
	rec.state.SetDataPlane(agg)
	rec.state.Unlock()
	a.persist(context.Background(), rec)
	a.notify(provider.Notification{Kind: provider.NotifyDataPlaneStateChange, ConnectionID: rec.id, DataPlane: agg})
}

// propagateSingleChild implements spec §6/§9's restricted error/timeout
// propagation: a single-segment connection forwards the notification
// unchanged; a fan-out connection with multiple children currently
// refuses to propagate it (an open design question upstream opennsa
// shares: which child's timeout wins for the parent).
func (a *Aggregator) propagateSingleChild(rec *record, n provider.Notification) {
	rec.mu.Lock()
	count := len(rec.children)
	rec.mu.Unlock()
	if count != 1 {
		a.log.WithField("connection_id", rec.id).WithField("kind", n.Kind).Warn("refusing to propagate child notification to multi-segment parent")
		return
	}
	a.notify(provider.Notification{Kind: n.Kind, ConnectionID: rec.id, Err: n.Err})
}

// allReservation, allProvision and allLifecycle run as handleJoin's done
// check, so the caller already holds rec.mu.
func allReservation(rec *record, want fsm.ReservationState) bool {
	for _, c := range rec.children {
		if c.reservation != want {
			return false
		}
	}
	return true
}

func allProvision(rec *record, want fsm.ProvisionState) bool {
	for _, c := range rec.children {
		if c.provision != want {
			return false
		}
	}
	return true
}

func allLifecycle(rec *record, want fsm.LifecycleState) bool {
	for _, c := range rec.children {
		if c.lifecycle != want {
			return false
		}
	}
	return true
}

func (a *Aggregator) forget(id string) {
	a.muRecords.Lock()
	defer a.muRecords.Unlock()
	if rec, ok := a.records[id]; ok {
		for _, c := range rec.children {
			delete(a.childIndex, c.connectionID)
		}
	}
	delete(a.records, id)
}

// RestartRecovery reloads every non-terminated aggregate connection from
// the store and rebuilds its in-memory record and child index, so a
// notification that arrives for an in-flight segment after a process
// restart still finds its parent (spec §4.5's restart-recovery
// requirement, generalized here the way internal/backend generalizes it
// for leaf connections).
func (a *Aggregator) RestartRecovery(ctx context.Context) error {
	conns, err := a.store.ListNonTerminated(ctx)
	if err != nil {
		return err
	}
	for _, c := range conns {
		if len(c.ChildOrder) == 0 {
			continue // leaf connection, owned by a Local Backend, not us
		}
		_, children, err := a.store.GetConnection(ctx, c.ConnectionID)
		if err != nil {
			a.log.WithError(err).WithField("connection_id", c.ConnectionID).Warn("restart recovery: load sub-connections")
			continue
		}
		a.rehydrate(c, children)
	}
	return nil
}

func (a *Aggregator) rehydrate(c store.Connection, children []store.SubConnection) *record {
	st := fsm.New()
	st.Reservation = c.State.Reservation
	st.Provision = c.State.Provision
	st.Lifecycle = c.State.Lifecycle
	st.DataPlane = fsm.DataPlane{Active: c.State.DataPlane.Active, Version: c.State.DataPlane.Version, Consistent: c.State.DataPlane.Consistent}

	rec := &record{
		id:    c.ConnectionID,
		state: st,
		req: provider.ReserveRequest{
			ConnectionID: c.ConnectionID,
			RequesterNSA: c.RequesterNSA,
			Src:          provider.STP{NetworkID: c.SourceSTP.NetworkID, PortID: c.SourceSTP.PortID, Label: c.SourceSTP.Label},
			Dst:          provider.STP{NetworkID: c.DestSTP.NetworkID, PortID: c.DestSTP.PortID, Label: c.DestSTP.Label},
			Start:        c.StartTime,
			End:          c.EndTime,
			Bandwidth:    c.Bandwidth,
		},
	}
	for _, sc := range children {
		rec.children = append(rec.children, &childRecord{
			orderID:      sc.OrderID,
			providerNSA:  sc.ProviderNSA,
			connectionID: sc.ChildConnectionID,
			localLink:    sc.LocalLink,
			src:          provider.STP{NetworkID: sc.SourceSTP.NetworkID, PortID: sc.SourceSTP.PortID, Label: sc.SourceSTP.Label},
			dst:          provider.STP{NetworkID: sc.DestSTP.NetworkID, PortID: sc.DestSTP.PortID, Label: sc.DestSTP.Label},
			reservation:  sc.State.Reservation,
			provision:    sc.State.Provision,
			lifecycle:    sc.State.Lifecycle,
			dataPlane:    fsm.DataPlane{Active: sc.State.DataPlane.Active, Version: sc.State.DataPlane.Version, Consistent: sc.State.DataPlane.Consistent},
			confirmed:    sc.State.Reservation == fsm.ReserveHeld,
		})
	}

	a.muRecords.Lock()
	a.records[c.ConnectionID] = rec
	for _, cc := range rec.children {
		a.childIndex[cc.connectionID] = c.ConnectionID
	}
	a.muRecords.Unlock()

	return rec
}

func (a *Aggregator) persist(ctx context.Context, rec *record) {
	rec.mu.Lock()
	children := make([]store.SubConnection, len(rec.children))
	childOrder := make([]int, len(rec.children))
	for i, c := range rec.children {
		children[i] = store.SubConnection{
			ConnectionID:      rec.id,
			OrderID:           c.orderID,
			ProviderNSA:       c.providerNSA,
			ChildConnectionID: c.connectionID,
			LocalLink:         c.localLink,
			SourceSTP:         store.STP{NetworkID: c.src.NetworkID, PortID: c.src.PortID, Label: c.src.Label},
			DestSTP:           store.STP{NetworkID: c.dst.NetworkID, PortID: c.dst.PortID, Label: c.dst.Label},
			StartTime:         rec.req.Start,
			EndTime:           rec.req.End,
			Bandwidth:         rec.req.Bandwidth,
			State: store.StateRecord{
				Reservation: c.reservation,
				Provision:   c.provision,
				Lifecycle:   c.lifecycle,
				DataPlane:   store.DataPlaneRecord{Active: c.dataPlane.Active, Version: c.dataPlane.Version, Consistent: c.dataPlane.Consistent},
			},
		}
		childOrder[i] = c.orderID
	}
	req := rec.req
	rec.mu.Unlock()

	rec.state.Lock()
	conn := store.Connection{
		ConnectionID: rec.id,
		RequesterNSA: req.RequesterNSA,
		SourceSTP:    store.STP{NetworkID: req.Src.NetworkID, PortID: req.Src.PortID, Label: req.Src.Label},
		DestSTP:      store.STP{NetworkID: req.Dst.NetworkID, PortID: req.Dst.PortID, Label: req.Dst.Label},
		StartTime:    req.Start,
		EndTime:      req.End,
		Bandwidth:    req.Bandwidth,
		State: store.StateRecord{
			Reservation: rec.state.Reservation,
			Provision:   rec.state.Provision,
			Lifecycle:   rec.state.Lifecycle,
			DataPlane:   store.DataPlaneRecord{Active: rec.state.DataPlane.Active, Version: rec.state.DataPlane.Version, Consistent: rec.state.DataPlane.Consistent},
		},
		CreatedAt:  time.Now(),
		ChildOrder: childOrder,
	}
	rec.state.Unlock()

	if err := a.store.PutConnection(ctx, conn, children); err != nil {
		a.log.WithError(err).WithField("connection_id", rec.id).Error("persist aggregate connection")
	}
}
