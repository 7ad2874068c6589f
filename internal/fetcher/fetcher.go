// Package fetcher implements the periodic topology refresh of spec §4.9:
// for every configured peer, pull its topology document on a fixed
// interval, parse it, and swap it into internal/topology.Model, isolating
// a single peer's fetch or parse failure from the rest of the system.
//
// Grounded on managers/network.go's Network_mgr tickler: a ticker drives
// a rebuild that logs and continues on failure rather than crashing the
// goroutine (tklr.Add_spot(..., REQ_NETUPDATE, ..., ipc.FOREVER)),
// translated here from a single local rebuild to one HTTP pull per
// configured peer network.
package fetcher

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/BandwidthOnDemand/opennsa-go/internal/topology"
)

// Peer names one topology document source: a network this agent does not
// own, reachable at URL, whose document format original_source/opennsa/
// topology/nml.py parses as GOLE/NML XML. This package treats the body
// as opaque bytes and hands it to Parse, keeping the wire format a
// pluggable concern (spec §1 scopes XML/NML parsing as an adapter, not a
// core invariant).
type Peer struct {
	NetworkID string
	URL       string
}

// Parse turns one peer's fetched document body into a topology.Network.
type Parse func(networkID string, body []byte) (*topology.Network, error)

// Fetcher periodically pulls every configured Peer's document and
// upserts the result into a topology.Model.
type Fetcher struct {
	client   *http.Client
	model    *topology.Model
	peers    []Peer
	parse    Parse
	interval time.Duration
	log      *logrus.Entry
}

// New constructs a Fetcher. interval is the refresh period (spec §4.9);
// parse is the document decoder (a fixture decoder in tests; cmd/tegu-nsi
// passes its JSON topology decoder).
func New(model *topology.Model, peers []Peer, parse Parse, interval time.Duration, log *logrus.Entry) *Fetcher {
	if log == nil {
		log = logrus.WithField("component", "fetcher")
	}
	return &Fetcher{
		client:   &http.Client{Timeout: 15 * time.Second},
		model:    model,
		peers:    peers,
		parse:    parse,
		interval: interval,
		log:      log,
	}
}

// Run blocks, refreshing every peer once immediately and then on every
// tick, until ctx is cancelled.
func (f *Fetcher) Run(ctx context.Context) {
	f.refreshAll(ctx)
	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			f.refreshAll(ctx)
		}
	}
}

// RefreshOnce pulls every configured peer a single time, for callers (the
// fetch-topology CLI command) that want one pass without starting Run's
// ticker loop.
func (f *Fetcher) RefreshOnce(ctx context.Context) {
	f.refreshAll(ctx)
}

func (f *Fetcher) refreshAll(ctx context.Context) {
	for _, p := range f.peers {
		if err := f.refreshOne(ctx, p); err != nil {
			f.log.WithError(err).WithField("network_id", p.NetworkID).Warn("topology refresh failed, keeping previous snapshot")
		}
	}
}

func (f *Fetcher) refreshOne(ctx context.Context, p Peer) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.URL, nil)
	if err != nil {
		return fmt.Errorf("build request for %s: %w", p.NetworkID, err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return fmt.Errorf("fetch %s: %w", p.NetworkID, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetch %s: unexpected status %s", p.NetworkID, resp.Status)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read body for %s: %w", p.NetworkID, err)
	}
	net, err := f.parse(p.NetworkID, body)
	if err != nil {
		return fmt.Errorf("parse %s: %w", p.NetworkID, err)
	}
	f.model.Upsert(net)
	f.log.WithField("network_id", p.NetworkID).Debug("topology refreshed")
	return nil
}
