// Package connmgr defines the pluggable Connection Manager boundary of
// spec §4.6: the narrow set of primitives a Local Backend needs to turn a
// reservation into an actual dataplane change, without knowing anything
// about the concrete hardware or agent protocol underneath. Grounded on
// tegu's managers/agent.go, which keeps the same separation — tegu's
// fq-manager talks a small JSON command set to an external agent process
// and never embeds device logic itself.
package connmgr

import "context"

// ResourceKey is an opaque handle a ConnectionManager uses to identify a
// bookable resource; spec §4.6 says only that it is "opaque" to the
// Backend and Calendar, which key on it as a comparable value.
type ResourceKey string

// Target names one end of a link to set up or tear down: a port plus the
// label value chosen for it.
type Target struct {
	PortID     string
	LabelType  string
	LabelValue int
}

// ConnectionManager is the four-primitive contract of spec §4.6.
// Implementations perform the actual device/agent dispatch; SetupLink and
// TeardownLink are spec'd as returning a "future<unit>" — callers invoke
// them in their own goroutine and treat the returned error as that
// future's eventual result.
type ConnectionManager interface {
	// ResourceKey returns the opaque calendar key for a given port, label
	// type and label value; distinct (port, type, value) triples yield
	// distinct keys.
	ResourceKey(portID, labelType string, labelValue int) ResourceKey

	// CanSwapLabel reports whether this manager can rewrite labelType
	// between the two ends of a link it sets up (spec §4.6 step 2).
	CanSwapLabel(labelType string) bool

	// SetupLink activates a dataplane link between src and dst for
	// connectionID at the given bandwidth.
	SetupLink(ctx context.Context, connectionID string, src, dst Target, bandwidth int64) error

	// TeardownLink deactivates a previously set-up link. Must be safe to
	// call on a link that was never set up (idempotent teardown, spec
	// §4.6 "Terminate: idempotent on already-terminated connections").
	TeardownLink(ctx context.Context, connectionID string, src, dst Target, bandwidth int64) error
}
