package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/arkstor/gatewayfs/internal/applog"
	"github.com/arkstor/gatewayfs/internal/cache"
	"github.com/arkstor/gatewayfs/internal/ops"
	"github.com/arkstor/gatewayfs/internal/store/jsonstore"
	"github.com/arkstor/gatewayfs/internal/task"
	"github.com/arkstor/gatewayfs/internal/vfs"
)

var metricsAddr string

// serveCmd assembles the composition root: Mount Manager, Task
// Manager, listing cache, and the Operations Engine, wires in every
// registered driver kind, and loads every enabled mount from the
// store, mirroring the teacher's cmd/rcd startup shape (build
// collaborators, start a listener, block until signaled). Exposing
// the virtual tree over HTTP/WebDAV is out of this gateway's scope
// per SPEC_FULL.md, so this command's listener only serves Prometheus
// metrics; the Engine it builds is the wiring point a future listener
// would call into.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the gateway process: load mounts and serve metrics.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		store, err := jsonstore.New(loadedConfig.MountStorePath)
		if err != nil {
			return fmt.Errorf("opening mount store: %w", err)
		}

		mounts := vfs.NewManager(store)
		if err := mounts.LoadAll(ctx); err != nil {
			return fmt.Errorf("loading mounts: %w", err)
		}

		tasks := task.NewManagerWithLimits(loadedConfig.ConcurrentTaskCap, loadedConfig.PerDriverTaskCap)
		defer tasks.Close()

		lc := cache.New(loadedConfig.ListingCacheTTL, loadedConfig.ListingCacheSweep)

		engine := ops.New(mounts, tasks, lc, loadedConfig)
		_ = engine // the wiring point for a future transport layer

		reg := prometheus.NewRegistry()
		tasks.RegisterMetrics(reg)

		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		srv := &http.Server{Addr: metricsAddr, Handler: mux}

		errCh := make(chan error, 1)
		go func() {
			applog.Noticef(nil, "serving metrics on %s", metricsAddr)
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				errCh <- err
			}
		}()

		select {
		case <-ctx.Done():
			applog.Noticef(nil, "shutting down")
		case err := <-errCh:
			return err
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), loadedConfig.OperationTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	},
}

func init() {
	serveCmd.Flags().StringVar(&metricsAddr, "metrics-addr", ":9469", "address to serve Prometheus metrics on")
	Root.AddCommand(serveCmd)
}
