package scheduler

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFiresImmediatelyWhenDue(t *testing.T) {
	s := New(nil)
	defer s.Stop()

	done := make(chan string, 1)
	s.Schedule("c1", time.Now().Add(-time.Second), func(key string) { done <- key })

	select {
	case k := <-done:
		assert.Equal(t, "c1", k)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for immediate fire")
	}
}

func TestReplaceCancelsPriorAndDoesNotDoubleFire(t *testing.T) {
	s := New(nil)
	defer s.Stop()

	var mu sync.Mutex
	fired := map[string]int{}

	s.Schedule("c1", time.Now().Add(50*time.Millisecond), func(key string) {
		mu.Lock()
		fired["first"]++
		mu.Unlock()
	})
	s.Schedule("c1", time.Now().Add(10*time.Millisecond), func(key string) {
		mu.Lock()
		fired["second"]++
		mu.Unlock()
	})

	time.Sleep(200 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 0, fired["first"])
	assert.Equal(t, 1, fired["second"])
}

func TestCancelPreventsFire(t *testing.T) {
	s := New(nil)
	defer s.Stop()

	fired := false
	s.Schedule("c1", time.Now().Add(20*time.Millisecond), func(key string) { fired = true })
	s.Cancel("c1")
	time.Sleep(100 * time.Millisecond)
	assert.False(t, fired)
	assert.False(t, s.HasPending("c1"))
}

func TestHasPending(t *testing.T) {
	s := New(nil)
	defer s.Stop()
	s.Schedule("c1", time.Now().Add(time.Hour), func(string) {})
	assert.True(t, s.HasPending("c1"))
	s.Cancel("c1")
	assert.False(t, s.HasPending("c1"))
}

func TestCancelAll(t *testing.T) {
	s := New(nil)
	defer s.Stop()
	fired := 0
	var mu sync.Mutex
	s.Schedule("c1", time.Now().Add(20*time.Millisecond), func(string) { mu.Lock(); fired++; mu.Unlock() })
	s.Schedule("c2", time.Now().Add(20*time.Millisecond), func(string) { mu.Lock(); fired++; mu.Unlock() })
	s.CancelAll()
	time.Sleep(100 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 0, fired)
}

func TestMultipleKeysFireIndependently(t *testing.T) {
	s := New(nil)
	defer s.Stop()
	done := make(chan string, 2)
	s.Schedule("a", time.Now().Add(10*time.Millisecond), func(key string) { done <- key })
	s.Schedule("b", time.Now().Add(20*time.Millisecond), func(key string) { done <- key })

	seen := map[string]bool{}
	for i := 0; i < 2; i++ {
		select {
		case k := <-done:
			seen[k] = true
		case <-time.After(time.Second):
			t.Fatal("timed out")
		}
	}
	require.True(t, seen["a"])
	require.True(t, seen["b"])
}
