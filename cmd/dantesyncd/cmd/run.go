/*
Copyright (c) Facebook, Inc. and its affiliates.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package cmd

import (
	"context"
	"net"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/daemon"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/dantesync/dantesyncd/clock"
	"github.com/dantesync/dantesyncd/config"
	"github.com/dantesync/dantesyncd/diag"
	ntpclient "github.com/dantesync/dantesyncd/ntp/client"
	ntpserver "github.com/dantesync/dantesyncd/ntp/server"
	"github.com/dantesync/dantesyncd/ptp/transport"
	"github.com/dantesync/dantesyncd/statusipc"
	"github.com/dantesync/dantesyncd/status"
	"github.com/dantesync/dantesyncd/sync/controller"
)

var runDryRunFlag bool

// statusPublishInterval is how often the Store snapshot is pushed to
// connected status IPC clients, independent of how often the
// controller itself updates the Store.
const statusPublishInterval = time.Second

// metricsScrapeInterval is how often the Prometheus gauges are
// refreshed from the Store and the process's own resource usage.
const metricsScrapeInterval = 5 * time.Second

func init() {
	RootCmd.AddCommand(runCmd)
	runCmd.Flags().BoolVar(&runDryRunFlag, "dry-run", false, "discipline the servo without touching the system clock")
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the clock discipline daemon",
	RunE: func(_ *cobra.Command, _ []string) error {
		ConfigureVerbosity()
		cfg, err := loadConfig(rootConfigFlag)
		if err != nil {
			return err
		}
		configureLogging(cfg.Logging)
		return runDaemon(cfg)
	},
}

func configureLogging(lc config.LoggingConfig) {
	log.SetReportCaller(lc.ReportCaller)
	if lvl, err := log.ParseLevel(lc.Level); err == nil && !rootVerboseFlag {
		log.SetLevel(lvl)
	}
}

func runDaemon(cfg *config.SystemConfig) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer stop()

	tr, err := transport.New(transport.Backend(cfg.Network.Backend), cfg.Network.Interface)
	if err != nil {
		return err
	}
	defer tr.Close()

	plat, err := openPlatformClock(runDryRunFlag)
	if err != nil {
		return err
	}
	defer plat.Close()

	ntp := ntpclient.New(cfg.NTP.Server, cfg.NTP.Timeout)
	store := status.NewStore()
	ctl := controller.New(cfg, tr, plat, ntp, store)

	ipc, err := statusipc.Listen(cfg.StatusIPC.SocketPath)
	if err != nil {
		return err
	}
	defer ipc.Close()
	go publishStatusForever(ctx, store, ipc)

	if cfg.Diag.Enabled {
		diagSrv := diag.New(store)
		go func() {
			if err := diagSrv.Start(ctx, cfg.Diag.Address); err != nil {
				log.Errorf("diag server: %v", err)
			}
		}()
		defer diagSrv.Close()
	}

	if cfg.NTPServer.Enabled {
		ntpSrvCfg := ntpserver.DefaultConfig()
		ntpSrvCfg.Stratum = int(cfg.NTPServer.Stratum)
		ntpSrvCfg.Workers = cfg.NTPServer.Workers
		if host, port, ok := splitHostPort(cfg.NTPServer.Address); ok {
			ntpSrvCfg.IP = host
			ntpSrvCfg.Port = port
		}
		ntpSrv, err := ntpserver.New(ntpSrvCfg)
		if err != nil {
			return err
		}
		go func() {
			if err := ntpSrv.Start(ctx); err != nil {
				log.Errorf("ntp server: %v", err)
			}
		}()
		defer ntpSrv.Close()
	}

	if cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		exporter := status.NewPrometheusExporter(reg)
		sysStats, err := status.NewSysStats(reg)
		if err != nil {
			return err
		}
		go collectMetricsForever(ctx, store, exporter, sysStats)

		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{EnableOpenMetrics: true}))
		metricsSrv := &http.Server{Addr: cfg.Metrics.Address, Handler: mux}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Errorf("metrics server: %v", err)
			}
		}()
		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			metricsSrv.Shutdown(shutdownCtx)
		}()
	}

	log.Infof("dantesyncd: starting on %s (%s backend)", cfg.Network.Interface, cfg.Network.Backend)
	notifySystemdReady()
	err = ctl.Run(ctx)
	if err != nil && ctx.Err() == nil {
		return err
	}
	log.Info("dantesyncd: shutting down")
	return nil
}

// notifySystemdReady tells systemd (if NOTIFY_SOCKET is set) that
// startup is complete. A missing/unsupported notify socket is normal
// when not running under systemd and is only logged, not fatal.
func notifySystemdReady() {
	supported, err := daemon.SdNotify(false, daemon.SdNotifyReady)
	switch {
	case !supported && err != nil:
		log.Warnf("dantesyncd: sd_notify failed: %v", err)
	case !supported:
		log.Debug("dantesyncd: sd_notify not supported, skipping")
	default:
		log.Debug("dantesyncd: sent sd_notify ready")
	}
}

func openPlatformClock(dryRun bool) (clock.Platform, error) {
	if dryRun {
		log.Warn("dantesyncd: --dry-run, servo output will not reach the system clock")
		return clock.NewFreeRunningClock(), nil
	}
	plat, err := clock.NewSystemClock()
	if err != nil {
		return nil, err
	}
	return plat, nil
}

func publishStatusForever(ctx context.Context, store *status.Store, ipc *statusipc.Server) {
	ticker := time.NewTicker(statusPublishInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := ipc.Publish(store.Get()); err != nil {
				log.Debugf("status ipc: publish failed: %v", err)
			}
		}
	}
}

// collectMetricsForever refreshes the Prometheus gauges from the Store
// and the process's own resource usage every metricsScrapeInterval,
// until ctx is canceled.
func collectMetricsForever(ctx context.Context, store *status.Store, exporter *status.PrometheusExporter, sysStats *status.SysStats) {
	ticker := time.NewTicker(metricsScrapeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			exporter.Observe(store.Get())
			sysStats.Collect()
		}
	}
}

// splitHostPort parses a "host:port" address into an IP (net.IPv4zero
// for an empty/unparseable host, matching "listen on all interfaces")
// and a numeric port. ok is false if port doesn't parse.
func splitHostPort(addr string) (ip net.IP, port int, ok bool) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, 0, false
	}
	p, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, 0, false
	}
	parsed := net.ParseIP(host)
	if parsed == nil {
		parsed = net.IPv4zero
	}
	return parsed, p, true
}
