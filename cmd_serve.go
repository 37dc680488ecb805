package main

import (
	"context"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"sdstudio/server"
	"sdstudio/shutdown"
)

func newServeCmd(c *cli) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API and progress stream",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := server.DefaultConfig()
			cfg.Addr = c.cfg.Listen
			if addr != "" {
				cfg.Addr = addr
			}
			cfg.DefaultSeed = c.cfg.Defaults.Seed

			m := shutdown.NewManager(cmd.Context(), c.log, shutdown.WithTimeout(cfg.ShutdownTimeout*2))
			m.Start()

			st, err := openStudio(m.Context(), c.cfg, c.log)
			if err != nil {
				m.Shutdown()
				return c.fatal(err)
			}

			opts := []server.Option{
				server.WithCache(st.cache),
				server.WithLogger(c.log),
				server.WithTracker(m.Tracker()),
				server.WithPipelineStats(st.pipelines),
			}
			if st.history != nil {
				opts = append(opts, server.WithHistory(st.history))
			}
			srv := server.New(cfg, st.session, st.styles, opts...)

			m.Register("http", 10, srv.Shutdown)
			m.Register("studio", 30, func(context.Context) error {
				st.Close()
				return nil
			})
			m.Register("log", 90, func(context.Context) error {
				c.log.Sync()
				return nil
			})

			errc := make(chan error, 1)
			go func() { errc <- srv.Start(m.Context()) }()

			var serveErr error
			select {
			case serveErr = <-errc:
			case <-m.Context().Done():
				c.log.Info("shutdown requested", zap.Duration("timeout", cfg.ShutdownTimeout))
			}
			if err := m.Shutdown(); err != nil {
				c.log.Warn("shutdown finished with errors", zap.Error(err))
			}
			return serveErr
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (default: SDSTUDIO_LISTEN)")
	return cmd
}
