package backend

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BandwidthOnDemand/opennsa-go/internal/calendar"
	"github.com/BandwidthOnDemand/opennsa-go/internal/connmgr"
	"github.com/BandwidthOnDemand/opennsa-go/internal/fsm"
	"github.com/BandwidthOnDemand/opennsa-go/internal/label"
	"github.com/BandwidthOnDemand/opennsa-go/internal/scheduler"
	"github.com/BandwidthOnDemand/opennsa-go/internal/store"
)

func vlan(t *testing.T, low, high int) label.Label {
	t.Helper()
	l, err := label.New("vlan", label.Range{Low: low, High: high})
	require.NoError(t, err)
	return l
}

type harness struct {
	backend *Backend
	fake    *connmgr.Fake
	cal     *calendar.Calendar
	sched   *scheduler.Scheduler
	store   store.Store
	events  chan Event
}

func newHarness(t *testing.T, tpcTimeout time.Duration) *harness {
	t.Helper()
	fake := connmgr.NewFake()
	cal := calendar.New()
	sched := scheduler.New(nil)
	st := store.NewMemory()
	events := make(chan Event, 64)
	b := New(fake, cal, sched, st, func(e Event) { events <- e }, nil, tpcTimeout, nil)
	t.Cleanup(sched.Stop)
	return &harness{backend: b, fake: fake, cal: cal, sched: sched, store: st, events: events}
}

func sampleReserve(start, end time.Time) ReserveRequest {
	return ReserveRequest{
		Src:       STP{NetworkID: "aruba", PortID: "p1", Label: mustVLANFor(100, 109)},
		Dst:       STP{NetworkID: "bonaire", PortID: "p2", Label: mustVLANFor(100, 109)},
		Start:     start,
		End:       end,
		Bandwidth: 1000,
	}
}

func mustVLANFor(low, high int) label.Label {
	l, _ := label.New("vlan", label.Range{Low: low, High: high})
	return l
}

func TestReserveNonSwappablePicksSharedValueAndBooksCalendar(t *testing.T) {
	h := newHarness(t, time.Hour)
	start := time.Now().Add(time.Hour)
	end := start.Add(time.Hour)

	id, err := h.backend.Reserve(context.Background(), sampleReserve(start, end))
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	rec, err := h.backend.getRecord(id)
	require.NoError(t, err)
	assert.Equal(t, rec.srcLabelValue, rec.dstLabelValue)
	assert.False(t, h.cal.Check(calendar.Resource(rec.srcResource), start, end))
}

func TestReserveSwappableSelectsIndependently(t *testing.T) {
	h := newHarness(t, time.Hour)
	h.fake.SetSwappable("vlan", true)

	start := time.Now().Add(time.Hour)
	end := start.Add(time.Hour)
	req := ReserveRequest{
		Src:   STP{NetworkID: "aruba", PortID: "p1", Label: mustVLANFor(100, 100)},
		Dst:   STP{NetworkID: "bonaire", PortID: "p2", Label: mustVLANFor(200, 200)},
		Start: start, End: end, Bandwidth: 1000,
	}
	id, err := h.backend.Reserve(context.Background(), req)
	require.NoError(t, err)

	rec, err := h.backend.getRecord(id)
	require.NoError(t, err)
	assert.Equal(t, 100, rec.srcLabelValue)
	assert.Equal(t, 200, rec.dstLabelValue)
}

func TestReserveConflictingCalendarFailsSecondRequest(t *testing.T) {
	h := newHarness(t, time.Hour)
	start := time.Now().Add(time.Hour)
	end := start.Add(time.Hour)

	req := ReserveRequest{
		Src:   STP{NetworkID: "aruba", PortID: "p1", Label: mustVLANFor(100, 100)},
		Dst:   STP{NetworkID: "bonaire", PortID: "p2", Label: mustVLANFor(100, 100)},
		Start: start, End: end, Bandwidth: 1000,
	}
	_, err := h.backend.Reserve(context.Background(), req)
	require.NoError(t, err)

	_, err = h.backend.Reserve(context.Background(), req)
	require.Error(t, err)
}

func TestReserveMismatchedLabelTypesIsPayloadError(t *testing.T) {
	h := newHarness(t, time.Hour)
	req := sampleReserve(time.Now(), time.Now().Add(time.Hour))
	req.Dst.Label, _ = label.New("mpls-label", label.Range{Low: 100, High: 109})
	_, err := h.backend.Reserve(context.Background(), req)
	assert.Error(t, err)
}

func TestReserveCommitReturnsReservationToStart(t *testing.T) {
	h := newHarness(t, time.Hour)
	start := time.Now().Add(time.Hour)
	end := start.Add(time.Hour)
	id, err := h.backend.Reserve(context.Background(), sampleReserve(start, end))
	require.NoError(t, err)

	require.NoError(t, h.backend.ReserveCommit(context.Background(), id))
	rec, _ := h.backend.getRecord(id)
	rec.state.Lock()
	assert.Equal(t, fsm.ReserveStart, rec.state.Reservation)
	rec.state.Unlock()
}

func TestReserveAbortFreesCalendarAndTerminates(t *testing.T) {
	h := newHarness(t, time.Hour)
	start := time.Now().Add(time.Hour)
	end := start.Add(time.Hour)
	id, err := h.backend.Reserve(context.Background(), sampleReserve(start, end))
	require.NoError(t, err)

	require.NoError(t, h.backend.ReserveAbort(context.Background(), id))
	assert.True(t, h.cal.Empty())

	rec, _ := h.backend.getRecord(id)
	rec.state.Lock()
	assert.Equal(t, fsm.Terminated, rec.state.Lifecycle)
	rec.state.Unlock()
}

func TestProvisionImmediateActivatesAndEmitsConfirmation(t *testing.T) {
	h := newHarness(t, time.Hour)
	start := time.Now().Add(-time.Minute)
	end := time.Now().Add(time.Hour)
	id, err := h.backend.Reserve(context.Background(), sampleReserve(start, end))
	require.NoError(t, err)

	require.NoError(t, h.backend.Provision(context.Background(), id))

	var gotConfirmed, gotDataPlane bool
	for i := 0; i < 3; i++ {
		select {
		case e := <-h.events:
			if e.Kind == EventProvisionConfirmed {
				gotConfirmed = true
			}
			if e.Kind == EventDataPlaneStateChange {
				gotDataPlane = true
				assert.True(t, e.DataPlane.Active)
			}
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for activation events")
		}
	}
	assert.True(t, gotConfirmed)
	assert.True(t, gotDataPlane)
	require.Len(t, h.fake.SetupLog, 1)
}

func TestReleaseTearsDownAndReschedulesTermination(t *testing.T) {
	h := newHarness(t, time.Hour)
	start := time.Now().Add(-time.Minute)
	end := time.Now().Add(time.Hour)
	id, err := h.backend.Reserve(context.Background(), sampleReserve(start, end))
	require.NoError(t, err)
	require.NoError(t, h.backend.Provision(context.Background(), id))
	<-h.events
	<-h.events

	require.NoError(t, h.backend.Release(context.Background(), id))
	require.Len(t, h.fake.TeardownLog, 1)
	assert.True(t, h.sched.HasPending(terminateKey(id)))
}

func TestTerminateIsIdempotentAndFreesCalendar(t *testing.T) {
	h := newHarness(t, time.Hour)
	start := time.Now().Add(-time.Minute)
	end := time.Now().Add(time.Hour)
	id, err := h.backend.Reserve(context.Background(), sampleReserve(start, end))
	require.NoError(t, err)
	require.NoError(t, h.backend.Provision(context.Background(), id))
	<-h.events
	<-h.events

	require.NoError(t, h.backend.Terminate(context.Background(), id))
	assert.True(t, h.cal.Empty())
	require.NoError(t, h.backend.Terminate(context.Background(), id))
	require.Len(t, h.fake.TeardownLog, 1)
}

func TestRestartRecoveryTerminatesExpiredConnection(t *testing.T) {
	h := newHarness(t, time.Hour)
	st := h.store

	past := time.Now().Add(-2 * time.Hour)
	ended := time.Now().Add(-time.Hour)
	conn := store.Connection{
		ConnectionID: "expired-1",
		SourceSTP:    store.STP{NetworkID: "aruba", PortID: "p1", Label: vlan(t, 100, 100)},
		DestSTP:      store.STP{NetworkID: "bonaire", PortID: "p2", Label: vlan(t, 100, 100)},
		StartTime:    past,
		EndTime:      ended,
		Bandwidth:    1000,
		State: store.StateRecord{
			Reservation: fsm.ReserveStart,
			Provision:   fsm.Provisioned,
			Lifecycle:   fsm.Created,
			DataPlane:   store.DataPlaneRecord{Active: true, Version: 1, Consistent: true},
		},
		ChosenSrcLabel: 100,
		ChosenDstLabel: 100,
	}
	require.NoError(t, st.PutConnection(context.Background(), conn, nil))

	require.NoError(t, h.backend.RestartRecovery(context.Background()))
	require.Len(t, h.fake.TeardownLog, 1)

	got, _, err := st.GetConnection(context.Background(), "expired-1")
	require.NoError(t, err)
	assert.Equal(t, fsm.Terminated, got.State.Lifecycle)
}

func TestRestartRecoveryReschedulesFutureTeardown(t *testing.T) {
	h := newHarness(t, time.Hour)
	st := h.store

	start := time.Now().Add(-time.Minute)
	end := time.Now().Add(time.Hour)
	conn := store.Connection{
		ConnectionID: "active-1",
		SourceSTP:    store.STP{NetworkID: "aruba", PortID: "p1", Label: vlan(t, 100, 100)},
		DestSTP:      store.STP{NetworkID: "bonaire", PortID: "p2", Label: vlan(t, 100, 100)},
		StartTime:    start,
		EndTime:      end,
		Bandwidth:    1000,
		State: store.StateRecord{
			Reservation: fsm.ReserveStart,
			Provision:   fsm.Provisioned,
			Lifecycle:   fsm.Created,
			DataPlane:   store.DataPlaneRecord{Active: true, Version: 1, Consistent: true},
		},
		ChosenSrcLabel: 100,
		ChosenDstLabel: 100,
	}
	require.NoError(t, st.PutConnection(context.Background(), conn, nil))

	require.NoError(t, h.backend.RestartRecovery(context.Background()))
	assert.True(t, h.sched.HasPending(teardownKey("active-1")))
	require.Len(t, h.fake.SetupLog, 1)
	assert.Equal(t, "active-1", h.fake.SetupLog[0].ConnectionID)
}

func TestRestartRecoverySkipsAggregatorOwnedConnections(t *testing.T) {
	h := newHarness(t, time.Hour)
	st := h.store

	past := time.Now().Add(-2 * time.Hour)
	ended := time.Now().Add(-time.Hour)
	conn := store.Connection{
		ConnectionID: "parent-1",
		SourceSTP:    store.STP{NetworkID: "aruba", PortID: "p1", Label: vlan(t, 100, 100)},
		DestSTP:      store.STP{NetworkID: "zonder", PortID: "p9", Label: vlan(t, 100, 100)},
		StartTime:    past,
		EndTime:      ended,
		Bandwidth:    1000,
		State: store.StateRecord{
			Reservation: fsm.ReserveHeld,
			Provision:   fsm.Scheduled,
			Lifecycle:   fsm.Created,
		},
		ChildOrder: []int{0, 1},
	}
	require.NoError(t, st.PutConnection(context.Background(), conn, nil))

	require.NoError(t, h.backend.RestartRecovery(context.Background()))

	assert.Empty(t, h.fake.TeardownLog)
	got, _, err := st.GetConnection(context.Background(), "parent-1")
	require.NoError(t, err)
	assert.Equal(t, fsm.Created, got.State.Lifecycle)
}
