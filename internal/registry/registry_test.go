package registry

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BandwidthOnDemand/opennsa-go/internal/provider"
)

type stubProvider struct {
	id string
}

func (s *stubProvider) Reserve(ctx context.Context, req provider.ReserveRequest) (string, error) {
	return "conn-" + s.id, nil
}
func (s *stubProvider) ReserveCommit(ctx context.Context, connectionID string) error { return nil }
func (s *stubProvider) ReserveAbort(ctx context.Context, connectionID string) error  { return nil }
func (s *stubProvider) Provision(ctx context.Context, connectionID string) error     { return nil }
func (s *stubProvider) Release(ctx context.Context, connectionID string) error       { return nil }
func (s *stubProvider) Terminate(ctx context.Context, connectionID string) error     { return nil }

func TestRegistryStaticWinsOverFactory(t *testing.T) {
	local := &stubProvider{id: "local"}
	calls := 0
	r := New(func(nsaID string) (provider.Provider, error) {
		calls++
		return &stubProvider{id: nsaID}, nil
	})
	r.RegisterStatic("urn:ogf:network:example.org:2013:nsa", local)

	p, err := r.Lookup("urn:ogf:network:example.org:2013:nsa")
	require.NoError(t, err)
	id, _ := p.Reserve(context.Background(), provider.ReserveRequest{})
	assert.Equal(t, "conn-local", id)
	assert.Equal(t, 0, calls)
}

func TestRegistryBuildsAndCachesDynamic(t *testing.T) {
	calls := 0
	r := New(func(nsaID string) (provider.Provider, error) {
		calls++
		return &stubProvider{id: nsaID}, nil
	})

	p1, err := r.Lookup("urn:ogf:network:peer.org:2013:nsa")
	require.NoError(t, err)
	p2, err := r.Lookup("urn:ogf:network:peer.org:2013:nsa")
	require.NoError(t, err)
	assert.Same(t, p1, p2)
	assert.Equal(t, 1, calls)
}

func TestRegistryNoFactoryErrorsOnUnknown(t *testing.T) {
	r := New(nil)
	_, err := r.Lookup("urn:ogf:network:unknown.org:2013:nsa")
	assert.Error(t, err)
}

func TestRegistryForgetRebuildsOnNextLookup(t *testing.T) {
	calls := 0
	r := New(func(nsaID string) (provider.Provider, error) {
		calls++
		if calls == 1 {
			return nil, errors.New("dial failed")
		}
		return &stubProvider{id: nsaID}, nil
	})

	_, err := r.Lookup("urn:ogf:network:flaky.org:2013:nsa")
	require.Error(t, err)

	r.Forget("urn:ogf:network:flaky.org:2013:nsa")
	p, err := r.Lookup("urn:ogf:network:flaky.org:2013:nsa")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, 2, calls)
}
