// ABOUTME: serve subcommand: runs the relay web UI until interrupted.
// ABOUTME: SIGINT or SIGTERM cancels in-flight streams and shuts the server down gracefully.
package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/2389-research/overwatch/web"
)

func newServeCmd(a *app) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the dashboard relay web UI",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !cmd.Flags().Changed("addr") {
				addr = a.cfg.Bind
			}
			srv, err := web.NewServer(web.ServerConfig{
				Addr:            addr,
				Backend:         a.client(),
				Renderer:        a.htmlRenderer(),
				MaxSearchEvents: a.cfg.MaxSearchEvents,
				Logger:          a.logger,
			})
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return srv.ListenAndServe(ctx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config)")
	return cmd
}
