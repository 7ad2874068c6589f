package aggregator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BandwidthOnDemand/opennsa-go/internal/fsm"
	"github.com/BandwidthOnDemand/opennsa-go/internal/label"
	"github.com/BandwidthOnDemand/opennsa-go/internal/provider"
	"github.com/BandwidthOnDemand/opennsa-go/internal/registry"
	"github.com/BandwidthOnDemand/opennsa-go/internal/store"
	"github.com/BandwidthOnDemand/opennsa-go/internal/topology"
)

func vlan(lo, hi int) label.Label {
	l, _ := label.New("vlan", label.Range{Low: lo, High: hi})
	return l
}

// stubSegment is a Provider test double standing in for a remote peer (or
// the Local Backend): Reserve synchronously narrows the requested label
// and fires a NotifyReserveConfirmed through the shared notifier before
// returning, exactly as internal/backend.Backend does.
type stubSegment struct {
	mu       sync.Mutex
	notify   provider.Notifier
	failNext bool
	confirm  map[string]bool
	terms    []string
}

func newStubSegment(notify provider.Notifier) *stubSegment {
	return &stubSegment{notify: notify, confirm: make(map[string]bool)}
}

func (s *stubSegment) Reserve(ctx context.Context, req provider.ReserveRequest) (string, error) {
	s.mu.Lock()
	fail := s.failNext
	s.failNext = false
	s.mu.Unlock()
	if fail {
		return "", errors.New("segment out of resources")
	}
	narrowed := func(stp provider.STP) provider.STP {
		r := stp.Label.Ranges[0]
		return provider.STP{NetworkID: stp.NetworkID, PortID: stp.PortID, Label: label.Single(stp.Label.Type, r.Low)}
	}
	src, dst := narrowed(req.Src), narrowed(req.Dst)
	s.mu.Lock()
	s.confirm[req.ConnectionID] = true
	s.mu.Unlock()
	s.notify(provider.Notification{Kind: provider.NotifyReserveConfirmed, ConnectionID: req.ConnectionID, Src: src, Dst: dst})
	return req.ConnectionID, nil
}

func (s *stubSegment) ReserveCommit(ctx context.Context, id string) error {
	s.notify(provider.Notification{Kind: provider.NotifyReserveCommitConfirmed, ConnectionID: id})
	return nil
}
func (s *stubSegment) ReserveAbort(ctx context.Context, id string) error {
	s.notify(provider.Notification{Kind: provider.NotifyReserveAbortConfirmed, ConnectionID: id})
	return nil
}
func (s *stubSegment) Provision(ctx context.Context, id string) error {
	s.notify(provider.Notification{Kind: provider.NotifyProvisionConfirmed, ConnectionID: id})
	return nil
}
func (s *stubSegment) Release(ctx context.Context, id string) error {
	s.notify(provider.Notification{Kind: provider.NotifyReleaseConfirmed, ConnectionID: id})
	return nil
}
func (s *stubSegment) Terminate(ctx context.Context, id string) error {
	s.mu.Lock()
	s.terms = append(s.terms, id)
	s.mu.Unlock()
	s.notify(provider.Notification{Kind: provider.NotifyTerminateConfirmed, ConnectionID: id})
	return nil
}

func buildTwoNetwork(t *testing.T) *topology.Model {
	t.Helper()
	m := topology.New()

	aruba := topology.NewNetwork("aruba", "Aruba", "urn:ogf:network:aruba:nsa")
	aruba.AddPort(&topology.Port{ID: "a1-in", Orientation: topology.Ingress, Labels: []label.Label{vlan(1780, 1789)}, Capacity: 1_000_000_000})
	aruba.AddPort(&topology.Port{ID: "a1-out", Orientation: topology.Egress, Labels: []label.Label{vlan(1780, 1789)}, Capacity: 1_000_000_000})
	aruba.AddBidirectionalPort(&topology.BidirectionalPort{ID: "ps", InID: "a1-in", OutID: "a1-out"})
	aruba.AddPort(&topology.Port{ID: "bon-in", Orientation: topology.Ingress, Labels: []label.Label{vlan(1780, 1789)}, Capacity: 1_000_000_000, RemoteNetworkID: "bonaire", RemotePortID: "aru"})
	aruba.AddPort(&topology.Port{ID: "bon-out", Orientation: topology.Egress, Labels: []label.Label{vlan(1780, 1789)}, Capacity: 1_000_000_000, RemoteNetworkID: "bonaire", RemotePortID: "aru"})
	aruba.AddBidirectionalPort(&topology.BidirectionalPort{ID: "bon", InID: "bon-in", OutID: "bon-out"})

	bonaire := topology.NewNetwork("bonaire", "Bonaire", "urn:ogf:network:bonaire:nsa")
	bonaire.AddPort(&topology.Port{ID: "b1-in", Orientation: topology.Ingress, Labels: []label.Label{vlan(1780, 1789)}, Capacity: 1_000_000_000})
	bonaire.AddPort(&topology.Port{ID: "b1-out", Orientation: topology.Egress, Labels: []label.Label{vlan(1780, 1789)}, Capacity: 1_000_000_000})
	bonaire.AddBidirectionalPort(&topology.BidirectionalPort{ID: "ps", InID: "b1-in", OutID: "b1-out"})
	bonaire.AddPort(&topology.Port{ID: "aru-in", Orientation: topology.Ingress, Labels: []label.Label{vlan(1780, 1789)}, Capacity: 1_000_000_000, RemoteNetworkID: "aruba", RemotePortID: "bon"})
	bonaire.AddPort(&topology.Port{ID: "aru-out", Orientation: topology.Egress, Labels: []label.Label{vlan(1780, 1789)}, Capacity: 1_000_000_000, RemoteNetworkID: "aruba", RemotePortID: "bon"})
	bonaire.AddBidirectionalPort(&topology.BidirectionalPort{ID: "aru", InID: "aru-in", OutID: "aru-out"})

	m.Replace([]*topology.Network{aruba, bonaire})
	return m
}

type harness struct {
	agg           *Aggregator
	reg           *registry.Registry
	aruba, bonair *stubSegment
	upstream      chan provider.Notification
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	topo := buildTwoNetwork(t)
	reg := registry.New(nil)
	st := store.NewMemory()
	upstream := make(chan provider.Notification, 16)

	var agg *Aggregator
	notify := func(n provider.Notification) { agg.HandleNotification(n) }
	agg = New("urn:ogf:network:test.org:2013:nsa", topo, reg, st, func(n provider.Notification) { upstream <- n }, nil, nil)

	aruba := newStubSegment(notify)
	bonaire := newStubSegment(notify)
	reg.RegisterStatic("urn:ogf:network:aruba:nsa", aruba)
	reg.RegisterStatic("urn:ogf:network:bonaire:nsa", bonaire)

	return &harness{agg: agg, reg: reg, aruba: aruba, bonair: bonaire, upstream: upstream}
}

func sampleReq() provider.ReserveRequest {
	start := time.Now().Add(time.Hour)
	end := start.Add(time.Hour)
	return provider.ReserveRequest{
		Src:       provider.STP{NetworkID: "aruba", PortID: "ps", Label: vlan(1781, 1781)},
		Dst:       provider.STP{NetworkID: "bonaire", PortID: "ps", Label: vlan(1781, 1781)},
		Start:     start,
		End:       end,
		Bandwidth: 1000,
	}
}

func TestReserveFanOutConfirmsBothSegmentsAndJoinsParent(t *testing.T) {
	h := newHarness(t)
	id, err := h.agg.Reserve(context.Background(), sampleReq())
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	select {
	case n := <-h.upstream:
		assert.Equal(t, provider.NotifyReserveConfirmed, n.Kind)
		assert.Equal(t, id, n.ConnectionID)
		assert.Equal(t, "aruba", n.Src.NetworkID)
		assert.Equal(t, "bonaire", n.Dst.NetworkID)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for aggregate reserve_confirmed")
	}

	rec, err := h.agg.getRecord(id)
	require.NoError(t, err)
	rec.state.Lock()
	assert.Equal(t, fsm.ReserveHeld, rec.state.Reservation)
	rec.state.Unlock()
}

func TestReserveDispatchFailureCompensatesSuccessfulSegment(t *testing.T) {
	h := newHarness(t)
	h.bonair.failNext = true

	_, err := h.agg.Reserve(context.Background(), sampleReq())
	require.Error(t, err)

	// give the aruba segment's synchronous confirm+notify a moment; in
	// this harness it already completed before Reserve returned since
	// stubSegment.Reserve is synchronous.
	h.aruba.mu.Lock()
	terminated := len(h.aruba.terms)
	h.aruba.mu.Unlock()
	assert.Equal(t, 1, terminated)
}

func TestReserveCommitFansOutAndPropagatesNotifications(t *testing.T) {
	h := newHarness(t)
	id, err := h.agg.Reserve(context.Background(), sampleReq())
	require.NoError(t, err)
	<-h.upstream // reserve_confirmed

	require.NoError(t, h.agg.ReserveCommit(context.Background(), id))
	select {
	case n := <-h.upstream:
		assert.Equal(t, provider.NotifyReserveCommitConfirmed, n.Kind)
		assert.Equal(t, id, n.ConnectionID)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for commit join")
	}
}

func TestTerminateFansOutToAllSegments(t *testing.T) {
	h := newHarness(t)
	id, err := h.agg.Reserve(context.Background(), sampleReq())
	require.NoError(t, err)
	<-h.upstream

	require.NoError(t, h.agg.Terminate(context.Background(), id))
	<-h.upstream // terminate_confirmed join

	h.aruba.mu.Lock()
	arubaTerms := len(h.aruba.terms)
	h.aruba.mu.Unlock()
	h.bonair.mu.Lock()
	bonTerms := len(h.bonair.terms)
	h.bonair.mu.Unlock()
	assert.Equal(t, 1, arubaTerms)
	assert.Equal(t, 1, bonTerms)
}

func TestNoPathReturnsTopologyError(t *testing.T) {
	h := newHarness(t)
	req := sampleReq()
	req.Dst.NetworkID = "nowhere"
	req.Dst.PortID = "ps"
	_, err := h.agg.Reserve(context.Background(), req)
	assert.Error(t, err)
}

func TestUnregisteredProviderFailsBeforeDispatch(t *testing.T) {
	topo := buildTwoNetwork(t)
	reg := registry.New(nil) // nothing registered
	st := store.NewMemory()
	agg := New("urn:ogf:network:test.org:2013:nsa", topo, reg, st, nil, nil, nil)

	_, err := agg.Reserve(context.Background(), sampleReq())
	assert.Error(t, err)
}
