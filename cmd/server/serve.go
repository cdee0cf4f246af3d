package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/dj-oyu/traffic-sign-alert/internal/logger"
	"github.com/dj-oyu/traffic-sign-alert/internal/metrics"
	"github.com/dj-oyu/traffic-sign-alert/internal/webmonitor"
)

func newServeCommand(a *app) *cobra.Command {
	var camera bool
	cmd := &cobra.Command{
		Use:   "serve [path]",
		Short: "Run the web monitor; optionally start a session right away",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.serve(cmd.Context(), args, camera)
		},
	}
	cmd.Flags().String("addr", ":8080", "HTTP listen address")
	cmd.Flags().BoolVar(&camera, "camera", false, "Start a camera session on launch")
	if err := a.v.BindPFlag("http.addr", cmd.Flags().Lookup("addr")); err != nil {
		panic(err)
	}
	return cmd
}

func (a *app) serve(parent context.Context, args []string, camera bool) error {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m := metrics.New()
	monCfg := a.cfg.MonitorConfig()
	mon := webmonitor.NewMonitor(monCfg)

	sp, closeSpeaker := newSpeaker(a.cfg, m)
	defer func() {
		if err := closeSpeaker(); err != nil {
			logger.Warn("Main", "Closing speaker: %v", err)
		}
	}()

	ctrl := newController(ctx, a.cfg, m, sp, mon)
	srv := webmonitor.NewServer(monCfg, mon, ctrl, m)
	httpServer := &http.Server{
		Addr:              monCfg.Addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Main", "Web monitor listening on %s", monCfg.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	if spec, ok := specFromArgs(args, camera); ok {
		if err := ctrl.Start(ctx, spec); err != nil {
			logger.Error("Main", "Initial session: %v", err)
		}
	}

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info("Main", "Shutting down...")
	case serveErr = <-errCh:
	}

	ctrl.Stop()
	mon.Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Main", "HTTP shutdown: %v", err)
	}

	if serveErr != nil {
		return errors.Wrap(serveErr, "http server")
	}
	logger.Info("Main", "Server stopped")
	return nil
}
