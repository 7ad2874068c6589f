// Package calendar implements the per-resource reservation calendar of
// spec §4.3: an interval store keyed by an opaque resource identifier
// produced by the Connection Manager.
package calendar

import (
	"sync"
	"time"

	"github.com/BandwidthOnDemand/opennsa-go/internal/nsaerr"
)

// Resource is the opaque key produced by a Connection Manager from
// (port, label_type, label_value).
type Resource string

type interval struct {
	start, end time.Time
	owner      string // connection_id that booked this interval, for diagnostics
}

func overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	lo := aStart
	if bStart.After(lo) {
		lo = bStart
	}
	hi := aEnd
	if bEnd.Before(hi) {
		hi = bEnd
	}
	return lo.Before(hi)
}

// Calendar is a concurrency-safe set of per-resource interval lists.
// One mutex serializes every operation across all resources; there is no
// separate per-resource lock, so work on different resources does not
// proceed in parallel.
type Calendar struct {
	mu        sync.Mutex
	intervals map[Resource][]interval
}

func New() *Calendar {
	return &Calendar{intervals: make(map[Resource][]interval)}
}

// Check reports whether [start,end) can be booked on resource without
// overlapping an existing interval. Half-open: two reservations sharing
// an instant do not conflict.
func (c *Calendar) Check(resource Resource, start, end time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.checkLocked(resource, start, end)
}

func (c *Calendar) checkLocked(resource Resource, start, end time.Time) bool {
	for _, iv := range c.intervals[resource] {
		if overlaps(iv.start, iv.end, start, end) {
			return false
		}
	}
	return true
}

// Add books [start,end) on resource, tagging it with owner (typically a
// connection_id, used only for diagnostics/removal bookkeeping). Fails
// with ResourceUnavailableError if Check would fail.
func (c *Calendar) Add(resource Resource, start, end time.Time, owner string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.checkLocked(resource, start, end) {
		return nsaerr.New(nsaerr.KindResourceUnavailable, "resource %s unavailable for [%s,%s)", resource, start, end)
	}
	c.intervals[resource] = append(c.intervals[resource], interval{start: start, end: end, owner: owner})
	return nil
}

// Remove deletes the interval [start,end) from resource if present; a
// no-op if absent.
func (c *Calendar) Remove(resource Resource, start, end time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ivs := c.intervals[resource]
	for i, iv := range ivs {
		if iv.start.Equal(start) && iv.end.Equal(end) {
			c.intervals[resource] = append(ivs[:i], ivs[i+1:]...)
			return
		}
	}
}

// RemoveOwner deletes every interval booked under owner across all
// resources; used by terminate to release everything a connection holds
// without the caller needing to remember each (resource, start, end).
func (c *Calendar) RemoveOwner(owner string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for resource, ivs := range c.intervals {
		kept := ivs[:0]
		for _, iv := range ivs {
			if iv.owner != owner {
				kept = append(kept, iv)
			}
		}
		if len(kept) == 0 {
			delete(c.intervals, resource)
		} else {
			c.intervals[resource] = kept
		}
	}
}

// Empty reports whether the calendar holds no intervals at all (used by
// tests verifying the round-trip invariant of spec §8).
func (c *Calendar) Empty() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ivs := range c.intervals {
		if len(ivs) > 0 {
			return false
		}
	}
	return true
}
