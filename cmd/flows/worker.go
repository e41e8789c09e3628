package main

import (
	"github.com/aretw0/flows/internal/logging"
	"github.com/spf13/cobra"
)

// workerCmd is started by the offloader for every offloaded branch. Stdout and stderr
// carry the worker protocol, so it never logs.
var workerCmd = &cobra.Command{
	Use:    "worker",
	Short:  "Run one offloaded branch read from stdin",
	Hidden: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, s, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		eng, err := newDemoEngine(cfg, s, logging.NewNop())
		if err != nil {
			return err
		}
		return eng.ServeWorker(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(workerCmd)
}
