package main

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/synthea-ws/genclient/internal/mockserver"
)

func newMockCmd(opts *rootOptions) *cobra.Command {
	var (
		host     string
		port     int
		interval time.Duration
	)
	cmd := &cobra.Command{
		Use:   "mock",
		Short: "Run a local mock of the generation service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := opts.cfg.Mock
			if cmd.Flags().Changed("host") {
				cfg.Host = host
			}
			if cmd.Flags().Changed("port") {
				cfg.Port = port
			}
			if cmd.Flags().Changed("interval") {
				cfg.Interval = interval
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			srv := mockserver.NewServer(cfg, log.Logger.With().Str("component", "mock").Logger())
			defer srv.Close()

			if cfg.Token == "" {
				log.Warn().Msg("no token configured, the mock accepts every client")
			}
			return mockserver.ListenAndServe(ctx, cfg.Host, cfg.Port, srv.Handler(), log.Logger)
		},
	}
	cmd.Flags().StringVar(&host, "host", "127.0.0.1", "listen host")
	cmd.Flags().IntVar(&port, "port", 8080, "listen port")
	cmd.Flags().DurationVar(&interval, "interval", 200*time.Millisecond, "delay between generated patients")
	return cmd
}
