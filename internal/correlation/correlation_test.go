package correlation

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStorePutTakeRoundTrip(t *testing.T) {
	s := NewMemory()
	defer s.Close()

	e := Entry{ConnectionID: "conn-1", OrderID: 2, Operation: "reserve"}
	require.NoError(t, s.Put(context.Background(), "corr-1", e, time.Minute))

	got, ok, err := s.Take(context.Background(), "corr-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, e, got)
}

func TestMemoryStoreTakeConsumesEntry(t *testing.T) {
	s := NewMemory()
	defer s.Close()

	require.NoError(t, s.Put(context.Background(), "corr-1", Entry{ConnectionID: "c"}, time.Minute))
	_, ok, err := s.Take(context.Background(), "corr-1")
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = s.Take(context.Background(), "corr-1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryStoreEntryExpiresAfterTTL(t *testing.T) {
	s := NewMemory()
	defer s.Close()

	require.NoError(t, s.Put(context.Background(), "corr-1", Entry{ConnectionID: "c"}, 20*time.Millisecond))
	require.Eventually(t, func() bool {
		_, ok, _ := s.Take(context.Background(), "corr-1")
		return !ok
	}, time.Second, 5*time.Millisecond)
}

func TestMemoryStoreTakeUnknownReturnsFalse(t *testing.T) {
	s := NewMemory()
	defer s.Close()
	_, ok, err := s.Take(context.Background(), "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}
