package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BandwidthOnDemand/opennsa-go/internal/config"
	"github.com/BandwidthOnDemand/opennsa-go/internal/connmgr"
)

func TestBuildConnectionManagerDefaultsToFake(t *testing.T) {
	mgr, err := buildConnectionManager(config.BackendConfig{})
	require.NoError(t, err)
	_, ok := mgr.(*connmgr.Fake)
	assert.True(t, ok)
}

func TestBuildConnectionManagerRejectsUnknownType(t *testing.T) {
	_, err := buildConnectionManager(config.BackendConfig{Type: "openflow"})
	assert.Error(t, err)
}

func TestPeersFromConfigTranslatesEachEntry(t *testing.T) {
	cfg := &config.Config{Peers: []config.PeerConfig{
		{NetworkID: "bonaire", NSA: "urn:ogf:network:bonaire:nsa", URL: "http://bonaire.example.org/topology"},
	}}
	peers := peersFromConfig(cfg)
	require.Len(t, peers, 1)
	assert.Equal(t, "bonaire", peers[0].NetworkID)
	assert.Equal(t, "http://bonaire.example.org/topology", peers[0].URL)
}

func TestMetricsAddrJoinsHostAndPort(t *testing.T) {
	cfg := &config.Config{Host: "0.0.0.0", Port: 9080}
	assert.Equal(t, "0.0.0.0:9080", metricsAddr(cfg))
}
