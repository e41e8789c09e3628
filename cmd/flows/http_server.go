package main

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aretw0/flows/pkg/adapters/httprelay"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

// httpServerCmd runs the relay helper that HTTP gate events register their paths with.
// The engine starts it on demand.
var httpServerCmd = &cobra.Command{
	Use:   "http-server",
	Short: "Run the HTTP relay server",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, s, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		logger, err := newLogger(s)
		if err != nil {
			return err
		}

		flags := cmd.Flags()
		address := s.HTTP.Server.Address
		if flags.Changed("address") {
			address, _ = flags.GetString("address")
		}
		socket := s.HTTP.Server.CommandSocketPath
		if flags.Changed("command-socket") {
			socket, _ = flags.GetString("command-socket")
		}
		timeout := s.HTTP.Server.ReadTimeout()
		if flags.Changed("timeout-read-external-process") {
			secs, _ := flags.GetFloat64("timeout-read-external-process")
			timeout = time.Duration(secs * float64(time.Second))
		}
		uid, _ := flags.GetString("server-uid")
		if uid == "" {
			uid = uuid.NewString()
		}
		autoShutdown, _ := flags.GetBool("auto-shutdown")

		srv := httprelay.NewServer(
			httprelay.WithAddress(address),
			httprelay.WithCommandSocket(socket),
			httprelay.WithServerUID(uid),
			httprelay.WithReadTimeout(timeout),
			httprelay.WithAutoShutdown(autoShutdown),
			httprelay.WithLogger(logger.With("component", "http-relay", "server_uid", uid)),
		)
		if err := srv.Listen(); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return srv.Serve(ctx)
	},
}

func init() {
	rootCmd.AddCommand(httpServerCmd)

	httpServerCmd.Flags().String("address", "", "TCP address HTTP requests are served on (overrides http.server.address)")
	httpServerCmd.Flags().String("command-socket", "", "Unix socket receiving register and deregister commands")
	httpServerCmd.Flags().String("server-uid", "", "Identifier reported by /ping (default: random)")
	httpServerCmd.Flags().Float64("timeout-read-external-process", 30, "Seconds to wait for a handler reply")
	httpServerCmd.Flags().Bool("auto-shutdown", true, "Exit once every registered path is gone")
}
