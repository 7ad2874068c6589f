package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/BandwidthOnDemand/opennsa-go/internal/config"
	"github.com/BandwidthOnDemand/opennsa-go/internal/fetcher"
)

func metricsAddr(cfg *config.Config) string {
	return fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the agent: restart recovery, topology fetching, and the metrics endpoint",
	RunE: func(cmd *cobra.Command, args []string) error {
		core, err := buildCore(a.cfg, a.log)
		if err != nil {
			return err
		}
		defer core.st.Close()

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		if err := core.be.RestartRecovery(ctx); err != nil {
			return err
		}
		if err := core.agg.RestartRecovery(ctx); err != nil {
			return err
		}

		peers := peersFromConfig(a.cfg)
		if len(peers) > 0 {
			f := fetcher.New(core.model, peers, parseTopologyDocument, time.Duration(a.cfg.TopologyRefresh), a.log.WithField("component", "fetcher"))
			go f.Run(ctx)
		}

		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(core.reg, promhttp.HandlerOpts{}))
		srv := &http.Server{Addr: metricsAddr(a.cfg), Handler: mux}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				a.log.WithError(err).Error("metrics server stopped")
			}
		}()

		a.log.WithField("addr", metricsAddr(a.cfg)).Info("agent started")
		<-ctx.Done()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		return srv.Shutdown(shutdownCtx)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
