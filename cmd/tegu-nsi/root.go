package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/BandwidthOnDemand/opennsa-go/internal/config"
)

// app holds state shared across subcommands, loaded once in
// PersistentPreRunE, the same pattern cmd/newtron's App/PersistentPreRunE
// uses to load settings ahead of every noun-group command.
type app struct {
	configPath string
	verbose    bool

	cfg *config.Config
	log *logrus.Entry
}

var a = &app{}

var rootCmd = &cobra.Command{
	Use:           "tegu-nsi",
	Short:         "OGF NSI-style network service agent",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(a.configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		a.cfg = cfg

		logger := logrus.New()
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
		if a.verbose {
			logger.SetLevel(logrus.DebugLevel)
		}
		if cfg.LogFile != "" {
			f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
			if err != nil {
				return fmt.Errorf("open log file %s: %w", cfg.LogFile, err)
			}
			logger.SetOutput(f)
		}
		a.log = logger.WithField("component", "cmd")
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&a.configPath, "config", "c", "/etc/tegu-nsi/config.yaml", "path to the agent's YAML config file")
	rootCmd.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "enable debug logging")
}
