package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/aretw0/flows"
	"github.com/aretw0/flows/internal/demo"
	"github.com/aretw0/flows/internal/logging"
	"github.com/aretw0/flows/pkg/adapters/httprelay"
	"github.com/aretw0/flows/pkg/config"
	"github.com/aretw0/flows/pkg/registry"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:          "flows",
	Short:        "Flows runs processes made of tasks and gates",
	Long:         `Flows runs named processes, follows their gates across branches and joins, offloads work to worker processes and waits on external events.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	// Persistent flags (available to all commands)
	rootCmd.PersistentFlags().String("config", "flows.yaml", "Configuration file (yaml or json)")
	rootCmd.PersistentFlags().String("log-level", "", "Log level: debug, info, warn, error (overrides log.level)")
	rootCmd.PersistentFlags().String("log-format", "", "Log format: text or json (overrides log.format)")
}

// loadConfig reads the configuration file and applies the logging flags on top of it.
func loadConfig(cmd *cobra.Command) (*config.Config, config.Settings, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, config.Settings{}, err
	}
	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		if err := cfg.Set("log.level", level); err != nil {
			return nil, config.Settings{}, err
		}
	}
	if format, _ := cmd.Flags().GetString("log-format"); format != "" {
		if err := cfg.Set("log.format", format); err != nil {
			return nil, config.Settings{}, err
		}
	}
	s, err := cfg.Settings()
	return cfg, s, err
}

func newLogger(s config.Settings) (*slog.Logger, error) {
	level, err := logging.ParseLevel(s.Log.Level)
	if err != nil {
		return nil, err
	}
	format, err := logging.ParseFormat(s.Log.Format)
	if err != nil {
		return nil, err
	}
	return logging.New(level, format), nil
}

// newDemoEngine builds an engine over the demo processes.
func newDemoEngine(cfg *config.Config, s config.Settings, logger *slog.Logger, opts ...flows.Option) (*flows.Engine, error) {
	reg := registry.NewRegistry()
	demo.Register(reg, demo.Deps{
		Relay:  httprelay.NewClient(s.HTTP.Server.CommandSocketPath, s.HTTP.Server.PingAddress()),
		Logger: logger,
	})
	base := []flows.Option{flows.WithConfig(cfg), flows.WithLogger(logger)}
	return flows.New(reg, append(base, opts...)...)
}
