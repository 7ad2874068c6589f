// Package provider defines the request interface every NSA exposes to its
// neighbours (spec §1: "every agent exposes the same request interface
// that it consumes from its neighbours"). Both the Local Backend and the
// Aggregator implement it, which is what lets the Aggregator dispatch a
// path segment to either one uniformly (spec §4.7/§4.8).
package provider

import (
	"context"
	"time"

	"github.com/BandwidthOnDemand/opennsa-go/internal/fsm"
	"github.com/BandwidthOnDemand/opennsa-go/internal/label"
)

// STP names a request endpoint: a network-local port plus the label
// candidates the caller will accept, or — on a Notification — the single
// label value a provider actually chose.
type STP struct {
	NetworkID string
	PortID    string
	Label     label.Label
}

// ReserveRequest is the input to Reserve.
type ReserveRequest struct {
	ConnectionID string // empty to have one generated
	RequesterNSA string
	Src, Dst     STP
	Start, End   time.Time
	Bandwidth    int64
}

// NotificationKind enumerates the provider-to-requester notifications of
// spec §6 that a Provider may emit.
type NotificationKind string

const (
	NotifyReserveConfirmed       NotificationKind = "reserve_confirmed"
	NotifyReserveFailed          NotificationKind = "reserve_failed"
	NotifyReserveCommitConfirmed NotificationKind = "reserve_commit_confirmed"
	NotifyReserveCommitFailed    NotificationKind = "reserve_commit_failed"
	NotifyReserveAbortConfirmed  NotificationKind = "reserve_abort_confirmed"
	NotifyProvisionConfirmed     NotificationKind = "provision_confirmed"
	NotifyReleaseConfirmed       NotificationKind = "release_confirmed"
	NotifyTerminateConfirmed     NotificationKind = "terminate_confirmed"
	NotifyErrorEvent             NotificationKind = "error_event"
	NotifyDataPlaneStateChange   NotificationKind = "data_plane_state_change"
	NotifyReserveTimeout         NotificationKind = "reserve_timeout"
)

// Notification is one asynchronous event a Provider emits. Src/Dst are
// populated on NotifyReserveConfirmed with the label the provider
// actually chose; the Aggregator's join (spec §4.7) stores them as the
// segment's endpoints, replacing the labels it dispatched, without
// intersecting the two.
type Notification struct {
	Kind         NotificationKind
	ConnectionID string
	Src, Dst     STP
	DataPlane    fsm.DataPlane
	Err          error
}

// Notifier receives Provider notifications. Must not block.
type Notifier func(Notification)

// Provider is the symmetric request interface of spec §1/§4.7: Reserve
// only acknowledges receipt (the caller is told a connection_id), actual
// reservation confirmation arrives later as a Notification.
type Provider interface {
	Reserve(ctx context.Context, req ReserveRequest) (connectionID string, err error)
	ReserveCommit(ctx context.Context, connectionID string) error
	ReserveAbort(ctx context.Context, connectionID string) error
	Provision(ctx context.Context, connectionID string) error
	Release(ctx context.Context, connectionID string) error
	Terminate(ctx context.Context, connectionID string) error
}
