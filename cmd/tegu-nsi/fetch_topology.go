package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/BandwidthOnDemand/opennsa-go/internal/fetcher"
	"github.com/BandwidthOnDemand/opennsa-go/internal/topology"
)

var fetchTopologyCmd = &cobra.Command{
	Use:   "fetch-topology",
	Short: "Pull every configured peer's topology document once and report what was learned",
	RunE: func(cmd *cobra.Command, args []string) error {
		model := topology.New()
		peers := peersFromConfig(a.cfg)

		f := fetcher.New(model, peers, parseTopologyDocument, time.Duration(a.cfg.TopologyRefresh), a.log)
		f.RefreshOnce(context.Background())

		for _, p := range peers {
			net, err := model.GetNetwork(p.NetworkID)
			if err != nil {
				a.log.WithField("network_id", p.NetworkID).Warn("no topology learned")
				continue
			}
			a.log.WithFields(logFieldsForNetwork(net)).Info("topology learned")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(fetchTopologyCmd)
}
