package main

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/BandwidthOnDemand/opennsa-go/internal/aggregator"
	"github.com/BandwidthOnDemand/opennsa-go/internal/backend"
	"github.com/BandwidthOnDemand/opennsa-go/internal/calendar"
	"github.com/BandwidthOnDemand/opennsa-go/internal/config"
	"github.com/BandwidthOnDemand/opennsa-go/internal/connmgr"
	"github.com/BandwidthOnDemand/opennsa-go/internal/fetcher"
	"github.com/BandwidthOnDemand/opennsa-go/internal/metrics"
	"github.com/BandwidthOnDemand/opennsa-go/internal/provider"
	"github.com/BandwidthOnDemand/opennsa-go/internal/registry"
	"github.com/BandwidthOnDemand/opennsa-go/internal/scheduler"
	"github.com/BandwidthOnDemand/opennsa-go/internal/store"
	"github.com/BandwidthOnDemand/opennsa-go/internal/topology"
)

func peersFromConfig(cfg *config.Config) []fetcher.Peer {
	peers := make([]fetcher.Peer, 0, len(cfg.Peers))
	for _, p := range cfg.Peers {
		peers = append(peers, fetcher.Peer{NetworkID: p.NetworkID, URL: p.URL})
	}
	return peers
}

func logFieldsForNetwork(n *topology.Network) logrus.Fields {
	return logrus.Fields{
		"network_id":   n.ID,
		"network_name": n.Name,
		"managing_nsa": n.ManagingNSA,
		"ports":        len(n.Ports),
	}
}

// buildConnectionManager picks a connmgr.ConnectionManager per
// config.BackendConfig.Type. Real hardware/agent dispatch is out of scope
// (DESIGN.md: internal/connmgr), so "fake" is the only wired driver; any
// other value is a configuration error rather than a silent no-op.
func buildConnectionManager(cfg config.BackendConfig) (connmgr.ConnectionManager, error) {
	switch cfg.Type {
	case "", "fake":
		return connmgr.NewFake(), nil
	default:
		return nil, fmt.Errorf("unknown backend type %q (only \"fake\" is wired, see DESIGN.md)", cfg.Type)
	}
}

// coreDeps bundles everything serve and recover both need: a Local
// Backend dispatching through a ConnectionManager, an Aggregator
// dispatching recursively through a Registry whose only static entry is
// the local backend, and the shared topology/store/metrics they're built
// on.
type coreDeps struct {
	model   *topology.Model
	st      store.Store
	reg     *prometheus.Registry
	metrics *metrics.Metrics
	be      *backend.Backend
	agg     *aggregator.Aggregator
}

func buildCore(cfg *config.Config, log *logrus.Entry) (*coreDeps, error) {
	mgr, err := buildConnectionManager(cfg.Backend)
	if err != nil {
		return nil, err
	}

	boltStore, err := store.OpenBolt(cfg.Database.Path, log.WithField("component", "store"))
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	model := topology.New()
	cal := calendar.New()
	sched := scheduler.New(log.WithField("component", "scheduler"))

	nsaReg := registry.New(nil) // no remote transport wired, see DESIGN.md internal/registry

	var agg *aggregator.Aggregator

	be := backend.New(mgr, cal, sched, boltStore, func(e backend.Event) {
		agg.HandleNotification(provider.TranslateEvent(e))
	}, m, time.Duration(cfg.TPCTimeout), log.WithField("component", "backend"))

	agg = aggregator.New(cfg.NetworkName, model, nsaReg, boltStore, func(n provider.Notification) {
		log.WithFields(logrus.Fields{"kind": n.Kind, "connection_id": n.ConnectionID}).Info("upstream notification")
	}, m, log.WithField("component", "aggregator"))

	nsaReg.RegisterStatic(cfg.NetworkName, provider.NewLocal(be))

	return &coreDeps{model: model, st: boltStore, reg: reg, metrics: m, be: be, agg: agg}, nil
}
