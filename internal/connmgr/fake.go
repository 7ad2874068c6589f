package connmgr

import (
	"context"
	"fmt"
	"sync"
)

// Fake is an in-memory ConnectionManager used by backend tests: it
// records every setup/teardown call and can be told to fail or to swap a
// given label type, grounded on the same "agent-as-test-double" shape
// tegu's fq_mgr_test-style harnesses use around managers/agent.go (the
// pack ships no direct fq_mgr test file, but agent.go's action/command
// structs are built exactly so a test can substitute a no-op agent).
type Fake struct {
	mu          sync.Mutex
	swappable   map[string]bool
	fail        map[string]error // connectionID -> error to return from SetupLink
	SetupLog    []Call
	TeardownLog []Call
}

// Call records one SetupLink/TeardownLink invocation for assertions.
type Call struct {
	ConnectionID string
	Src, Dst     Target
	Bandwidth    int64
}

func NewFake() *Fake {
	return &Fake{swappable: make(map[string]bool), fail: make(map[string]error)}
}

func (f *Fake) SetSwappable(labelType string, swappable bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.swappable[labelType] = swappable
}

func (f *Fake) FailSetup(connectionID string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail[connectionID] = err
}

func (f *Fake) ResourceKey(portID, labelType string, labelValue int) ResourceKey {
	return ResourceKey(fmt.Sprintf("%s/%s/%d", portID, labelType, labelValue))
}

func (f *Fake) CanSwapLabel(labelType string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.swappable[labelType]
}

func (f *Fake) SetupLink(ctx context.Context, connectionID string, src, dst Target, bandwidth int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.SetupLog = append(f.SetupLog, Call{ConnectionID: connectionID, Src: src, Dst: dst, Bandwidth: bandwidth})
	if err, ok := f.fail[connectionID]; ok {
		return err
	}
	return nil
}

func (f *Fake) TeardownLink(ctx context.Context, connectionID string, src, dst Target, bandwidth int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.TeardownLog = append(f.TeardownLog, Call{ConnectionID: connectionID, Src: src, Dst: dst, Bandwidth: bandwidth})
	return nil
}
