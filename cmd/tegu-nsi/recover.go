package main

import (
	"context"

	"github.com/spf13/cobra"
)

var recoverCmd = &cobra.Command{
	Use:   "recover",
	Short: "Run restart recovery against the configured store and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		core, err := buildCore(a.cfg, a.log)
		if err != nil {
			return err
		}
		defer core.st.Close()

		ctx := context.Background()
		if err := core.be.RestartRecovery(ctx); err != nil {
			return err
		}
		if err := core.agg.RestartRecovery(ctx); err != nil {
			return err
		}
		a.log.Info("restart recovery complete")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(recoverCmd)
}
