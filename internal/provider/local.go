package provider

import (
	"context"

	"github.com/BandwidthOnDemand/opennsa-go/internal/backend"
)

// LocalProvider adapts a *backend.Backend to the Provider interface, so
// the Aggregator can dispatch a path segment to the Local Backend the
// same way it dispatches to a remote peer (spec §4.7/§4.8).
type LocalProvider struct {
	backend *backend.Backend
}

// NewLocal wraps b. The returned Provider's Reserve forwards directly;
// TranslateEvent (called from the Backend's Notifier the caller
// registers) is what turns backend.Event into Notification.
func NewLocal(b *backend.Backend) *LocalProvider {
	return &LocalProvider{backend: b}
}

func (p *LocalProvider) Reserve(ctx context.Context, req ReserveRequest) (string, error) {
	return p.backend.Reserve(ctx, backend.ReserveRequest{
		ConnectionID: req.ConnectionID,
		Src:          toBackendSTP(req.Src),
		Dst:          toBackendSTP(req.Dst),
		Start:        req.Start,
		End:          req.End,
		Bandwidth:    req.Bandwidth,
	})
}

func (p *LocalProvider) ReserveCommit(ctx context.Context, connectionID string) error {
	return p.backend.ReserveCommit(ctx, connectionID)
}

func (p *LocalProvider) ReserveAbort(ctx context.Context, connectionID string) error {
	return p.backend.ReserveAbort(ctx, connectionID)
}

func (p *LocalProvider) Provision(ctx context.Context, connectionID string) error {
	return p.backend.Provision(ctx, connectionID)
}

func (p *LocalProvider) Release(ctx context.Context, connectionID string) error {
	return p.backend.Release(ctx, connectionID)
}

func (p *LocalProvider) Terminate(ctx context.Context, connectionID string) error {
	return p.backend.Terminate(ctx, connectionID)
}

func toBackendSTP(s STP) backend.STP {
	return backend.STP{NetworkID: s.NetworkID, PortID: s.PortID, Label: s.Label}
}

func fromBackendSTP(s backend.STP) STP {
	return STP{NetworkID: s.NetworkID, PortID: s.PortID, Label: s.Label}
}

// TranslateEvent converts a backend.Event into the equivalent
// Notification. Pass `func(e backend.Event) { notifier(TranslateEvent(e)) }`
// as the Backend's Notifier to wire a LocalProvider's notifications
// through to an Aggregator or a requester-facing handler.
func TranslateEvent(e backend.Event) Notification {
	n := Notification{ConnectionID: e.ConnectionID, Err: e.Err, DataPlane: e.DataPlane}
	switch e.Kind {
	case backend.EventReserveConfirmed:
		n.Kind = NotifyReserveConfirmed
		n.Src = fromBackendSTP(e.Src)
		n.Dst = fromBackendSTP(e.Dst)
	case backend.EventReserveFailed:
		n.Kind = NotifyReserveFailed
	case backend.EventReserveCommitConfirmed:
		n.Kind = NotifyReserveCommitConfirmed
	case backend.EventReserveAbortConfirmed:
		n.Kind = NotifyReserveAbortConfirmed
	case backend.EventProvisionConfirmed:
		n.Kind = NotifyProvisionConfirmed
	case backend.EventReleaseConfirmed:
		n.Kind = NotifyReleaseConfirmed
	case backend.EventTerminateConfirmed:
		n.Kind = NotifyTerminateConfirmed
	case backend.EventDataPlaneStateChange:
		n.Kind = NotifyDataPlaneStateChange
	case backend.EventErrorEvent:
		n.Kind = NotifyErrorEvent
	case backend.EventReserveTimeout:
		n.Kind = NotifyReserveTimeout
	default:
		n.Kind = NotificationKind(e.Kind)
	}
	return n
}
