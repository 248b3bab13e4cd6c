package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aretw0/labrun/internal/cli"
	httpAdapter "github.com/aretw0/labrun/pkg/adapters/http"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 5 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve <protocol.yaml>",
	Short: "Run a protocol behind the HTTP control API",
	Long: `Starts the run and exposes it over HTTP: snapshots, operator messages,
server-sent events and, when a store is configured, past runs. The server
keeps serving after the run finishes until it is interrupted.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := setup(cmd)
		if err != nil {
			return err
		}
		if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
			cfg.HTTP.Addr = addr
		}
		resume, _ := cmd.Flags().GetString("resume")

		rt, err := cli.Build(cmd.Context(), cfg, logger, cli.RunOptions{
			ProtocolPath: args[0],
			ResumeID:     resume,
			Hooks:        cli.DebugHooks(logger),
		})
		if err != nil {
			return err
		}
		defer rt.Close()

		opts := []httpAdapter.Option{httpAdapter.WithLogger(logger)}
		if rt.Store != nil {
			opts = append(opts, httpAdapter.WithStore(rt.Store))
		}
		if rt.Metrics != nil {
			opts = append(opts, httpAdapter.WithMetricsHandler(rt.Metrics.Handler()))
		}
		api := httpAdapter.NewServer(rt.Master, opts...)
		rt.Master.Subscribe(api.Publish)

		srv := &http.Server{
			Addr:              cfg.HTTP.Addr,
			Handler:           api.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		g, gctx := errgroup.WithContext(ctx)

		g.Go(func() error {
			logger.Info("serving run", "addr", srv.Addr, "run", rt.Master.RunID())
			if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			err := rt.Master.Run(gctx, rt.Point)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			if err != nil {
				return fmt.Errorf("run %s: %w", rt.Master.RunID(), err)
			}
			logger.Info("run finished, still serving", "run", rt.Master.RunID())
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Warn("graceful shutdown did not complete", "timeout", shutdownTimeout, "err", err)
				return srv.Close()
			}
			return nil
		})
		return g.Wait()
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("addr", "", "Listen address; overrides http.addr")
	serveCmd.Flags().String("resume", "", "Continue a stored run from its last snapshot")
}
