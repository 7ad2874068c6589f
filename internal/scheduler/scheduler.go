// Package scheduler implements the keyed one-shot call scheduler of spec
// §4.4: at most one pending call per key, cancel/replace semantics, and
// tolerance of wall-clock jumps (design note §9: "monotonic even if
// system time jumps backwards... re-check now when it fires").
package scheduler

import (
	"container/heap"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Func is the callback invoked when a scheduled call fires.
type Func func(key string)

type entry struct {
	key     string
	when    time.Time
	fn      Func
	index   int // heap index, maintained by container/heap
	armedAt time.Time
	// monotonic deadline derived from a time.Time captured at schedule
	// time plus the runtime monotonic clock reading; time.Time already
	// carries a monotonic reading on this platform so no extra field is
	// needed to satisfy "use a monotonic clock for firing".
	cancelled bool
}

type entryHeap []*entry

func (h entryHeap) Len() int            { return len(h) }
func (h entryHeap) Less(i, j int) bool  { return h[i].when.Before(h[j].when) }
func (h entryHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i]; h[i].index = i; h[j].index = j }
func (h *entryHeap) Push(x interface{}) { e := x.(*entry); e.index = len(*h); *h = append(*h, e) }
func (h *entryHeap) Pop() interface{} {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}

// Scheduler is a keyed, one-shot timer service. Safe for concurrent use.
type Scheduler struct {
	log *logrus.Entry

	mu      sync.Mutex
	byKey   map[string]*entry
	pending entryHeap
	wake    chan struct{}
	stop    chan struct{}
	stopped bool
}

func New(log *logrus.Entry) *Scheduler {
	if log == nil {
		log = logrus.WithField("component", "scheduler")
	}
	s := &Scheduler{
		log:   log,
		byKey: make(map[string]*entry),
		wake:  make(chan struct{}, 1),
		stop:  make(chan struct{}),
	}
	go s.run()
	return s
}

// Schedule cancels any existing call under key, then arranges for fn to
// fire at wall-clock when (UTC). If when <= now the call fires on the
// scheduler's own goroutine shortly after this returns, never inline.
func (s *Scheduler) Schedule(key string, when time.Time, fn Func) {
	s.mu.Lock()
	if old, ok := s.byKey[key]; ok {
		old.cancelled = true
		s.removeLocked(old)
	}
	e := &entry{key: key, when: when, fn: fn}
	s.byKey[key] = e
	heap.Push(&s.pending, e)
	s.mu.Unlock()
	s.nudge()
}

// Cancel removes a pending call; no error if none is pending.
func (s *Scheduler) Cancel(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.byKey[key]; ok {
		e.cancelled = true
		s.removeLocked(e)
	}
}

// HasPending reports whether key currently has a pending call.
func (s *Scheduler) HasPending(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.byKey[key]
	return ok
}

// CancelAll removes every pending call; used during shutdown.
func (s *Scheduler) CancelAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.byKey {
		e.cancelled = true
	}
	s.byKey = make(map[string]*entry)
	s.pending = nil
}

// Stop halts the scheduler's internal goroutine. Safe to call once.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	s.mu.Unlock()
	close(s.stop)
}

// removeLocked removes e from the heap if still present. Caller holds mu.
func (s *Scheduler) removeLocked(e *entry) {
	if e.index < 0 || e.index >= len(s.pending) || s.pending[e.index] != e {
		delete(s.byKey, e.key)
		return
	}
	heap.Remove(&s.pending, e.index)
	delete(s.byKey, e.key)
}

func (s *Scheduler) nudge() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// run is the scheduler's single goroutine: it always re-checks wall-clock
// `now` immediately before firing, which is what makes it tolerant of
// clock jumps (a backwards jump just means it waits again; a forwards
// jump means the next check fires everything whose `when` has passed).
func (s *Scheduler) run() {
	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	for {
		s.mu.Lock()
		var next time.Duration = time.Hour
		now := time.Now()
		for s.pending.Len() > 0 {
			top := s.pending[0]
			if top.cancelled {
				heap.Pop(&s.pending)
				continue
			}
			if !top.when.After(now) {
				heap.Pop(&s.pending)
				delete(s.byKey, top.key)
				s.mu.Unlock()
				s.fire(top)
				s.mu.Lock()
				now = time.Now()
				continue
			}
			next = top.when.Sub(now)
			break
		}
		s.mu.Unlock()

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(next)

		select {
		case <-s.stop:
			return
		case <-s.wake:
		case <-timer.C:
		}
	}
}

func (s *Scheduler) fire(e *entry) {
	defer func() {
		if r := recover(); r != nil {
			s.log.WithField("key", e.key).Errorf("scheduled call panicked: %v", r)
		}
	}()
	e.fn(e.key)
}
