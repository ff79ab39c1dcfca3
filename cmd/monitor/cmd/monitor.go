// Copyright (c) 2018, Postgres Professional

// Package cmd is the monitor daemon's command tree: a single long-running
// "run" command that serves the monitor RPC contract over HTTP, persists
// catalog snapshots to etcd, runs the periodic health sweep, and exposes
// Prometheus metrics. Grounded on the teacher's cmd/monitor/cmd/monitor.go
// (shmon's signal handling, PersistentPreRun, Execute shape) and
// cmd/common.go's AddCommonFlags/CheckConfig pattern; CLI polish itself is
// out of scope per §1, so this tree only has what's needed to run the core.
package cmd

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"postgrespro.ru/pgautofailover/internal/catalog"
	"postgrespro.ru/pgautofailover/internal/catalogstore"
	"postgrespro.ru/pgautofailover/internal/monitorrpc"
	"postgrespro.ru/pgautofailover/internal/shmnlog"
	"postgrespro.ru/pgautofailover/internal/utils"
)

var (
	listenAddr    string
	metricsAddr   string
	storeEndpoint string
	clusterName   string
	logLevel      string
	healthPeriod  time.Duration
	partitionTO   time.Duration

	bootstrapFormation string
	numberSyncStandbys int
	optSecondary       bool

	hl *shmnlog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "pgautofailover-monitor",
	Short: "Monitor daemon: catalog, rules engine, and event bus for a pgautofailover formation fleet.",
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the monitor daemon until SIGINT/SIGTERM.",
	PersistentPreRun: func(c *cobra.Command, args []string) {
		hl = shmnlog.GetLoggerWithLevel(logLevel)
	},
	Run: runMonitor,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&listenAddr, "listen", ":9000", "address the monitor RPC server listens on")
	rootCmd.PersistentFlags().StringVar(&metricsAddr, "metrics-addr", ":9001", "address the Prometheus /metrics endpoint listens on")
	rootCmd.PersistentFlags().StringVar(&storeEndpoint, "store-endpoints", "", "comma-delimited etcd endpoints for catalog snapshot persistence (empty disables persistence)")
	rootCmd.PersistentFlags().StringVar(&clusterName, "cluster-name", "default", "cluster name, scopes the etcd snapshot key")
	rootCmd.PersistentFlags().DurationVar(&healthPeriod, "health-check-period", 2*time.Second, "how often the monitor independently probes every node")
	rootCmd.PersistentFlags().DurationVar(&partitionTO, "network-partition-timeout", catalog.DefaultNetworkPartitionTimeout, "how long a node may go silent before being declared lost")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "error|warn|info|debug")
	rootCmd.PersistentFlags().StringVar(&bootstrapFormation, "bootstrap-formation", "default", "formation to create on first startup if it doesn't already exist (empty to skip)")
	rootCmd.PersistentFlags().IntVar(&numberSyncStandbys, "number-sync-standbys", 0, "number_sync_standbys for the bootstrap formation")
	rootCmd.PersistentFlags().BoolVar(&optSecondary, "opt-secondary", true, "opt_secondary for the bootstrap formation")
	rootCmd.AddCommand(runCmd)
}

// Execute is the monitor binary's single entry point (§9: "the single main
// entry point converts to process exit").
func Execute() {
	if err := utils.SetFlagsFromEnv(rootCmd.PersistentFlags(), "PGAUTOFAILOVER_MONITOR"); err != nil {
		hl = shmnlog.GetLogger()
		hl.Fatalf("%v", err)
	}
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runMonitor(c *cobra.Command, args []string) {
	cat := catalog.NewCatalog(
		catalog.WithNetworkPartitionTimeout(partitionTO),
		catalog.WithProber(catalog.PgxProber{}),
	)

	var store *catalogstore.Store
	if storeEndpoint != "" {
		var err error
		store, err = catalogstore.NewStoreFromEndpointsString(storeEndpoint, clusterName)
		if err != nil {
			hl.Fatalf("connect to catalog store: %v", err)
		}
		defer store.Close()

		snap, _, err := store.LoadSnapshot(context.Background())
		if err != nil {
			hl.Errorf("load catalog snapshot: %v", err)
		} else if snap != nil {
			cat.Restore(*snap)
			hl.Infof("restored catalog snapshot from etcd")
		}
	}

	if bootstrapFormation != "" {
		err := cat.AddFormation(catalog.Formation{
			FormationID:        bootstrapFormation,
			Kind:               catalog.FormationPlain,
			DBName:             "postgres",
			OptSecondary:       optSecondary,
			NumberSyncStandbys: numberSyncStandbys,
		})
		if err != nil {
			hl.Debugf("bootstrap formation %q: %v", bootstrapFormation, err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		s := <-sigs
		hl.Infof("received signal %v, shutting down", s)
		cancel()
	}()

	srv := &monitorrpc.Server{Catalog: cat}
	httpSrv := &http.Server{Addr: listenAddr, Handler: srv.Mux(), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		hl.Infof("monitor RPC listening on %s", listenAddr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			hl.Fatalf("monitor RPC server: %v", err)
		}
	}()

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsSrv := &http.Server{Addr: metricsAddr, Handler: metricsMux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		hl.Infof("metrics listening on %s", metricsAddr)
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			hl.Errorf("metrics server: %v", err)
		}
	}()

	healthTicker := time.NewTicker(healthPeriod)
	defer healthTicker.Stop()

	snapshotTicker := time.NewTicker(30 * time.Second)
	defer snapshotTicker.Stop()

	hl.Infof("monitor started")
	for {
		select {
		case <-ctx.Done():
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			_ = httpSrv.Shutdown(shutdownCtx)
			_ = metricsSrv.Shutdown(shutdownCtx)
			shutdownCancel()
			hl.Infof("monitor stopped")
			return
		case <-healthTicker.C:
			cat.CheckHealth()
		case <-snapshotTicker.C:
			if store != nil {
				if err := store.SaveSnapshot(ctx, cat.Snapshot()); err != nil {
					hl.Errorf("save catalog snapshot: %v", err)
				}
			}
		}
	}
}
