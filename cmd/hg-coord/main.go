package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/cyxwiz-lab/hybridbuild/internal/cache"
	"github.com/cyxwiz-lab/hybridbuild/internal/config"
	"github.com/cyxwiz-lab/hybridbuild/internal/coordinator"
	"github.com/cyxwiz-lab/hybridbuild/internal/discovery/mdns"
	"github.com/cyxwiz-lab/hybridbuild/internal/observability/dashboard"
	"github.com/cyxwiz-lab/hybridbuild/internal/registry"
	"github.com/cyxwiz-lab/hybridbuild/internal/scheduler"
	"github.com/cyxwiz-lab/hybridbuild/internal/transport"
)

var version = "v0.0.0-dev"

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	rootCmd := &cobra.Command{
		Use:   "hg-coord",
		Short: "hybridbuild distributed build coordinator",
		Long: `hg-coord is the coordinator component of the hybridbuild distributed
build system. It manages worker registration, job scheduling, the artifact
cache, and serves the observability dashboard.`,
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Help()
		},
	}

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("hg-coord %s\n", version)
		},
	}

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the coordinator server",
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath, _ := cmd.Flags().GetString("config")
			port, _ := cmd.Flags().GetInt("port")
			httpPort, _ := cmd.Flags().GetInt("http-port")
			token, _ := cmd.Flags().GetString("token")
			noMdns, _ := cmd.Flags().GetBool("no-mdns")

			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if cmd.Flags().Changed("port") {
				cfg.Coordinator.Port = port
			}
			if cmd.Flags().Changed("http-port") {
				cfg.Coordinator.HTTPPort = httpPort
			}
			if token != "" {
				cfg.Coordinator.AuthToken = token
			}
			if cmd.Flags().Changed("no-mdns") {
				cfg.Coordinator.MDNSEnable = !noMdns
			}

			log.Info().
				Int("port", cfg.Coordinator.Port).
				Int("http_port", cfg.Coordinator.HTTPPort).
				Str("version", version).
				Msg("starting hybridbuild coordinator")

			if IsWindowsService() {
				return runAsService(cfg)
			}
			return runCoordinator(cfg)
		},
	}

	serveCmd.Flags().Int("port", 9000, "transport server listen port")
	serveCmd.Flags().Int("http-port", 8080, "dashboard HTTP port")
	serveCmd.Flags().String("config", "", "path to config file")
	serveCmd.Flags().String("token", "", "authentication token")
	serveCmd.Flags().Bool("no-mdns", false, "disable mDNS advertisement")

	serviceCmd := &cobra.Command{
		Use:   "service",
		Short: "Manage the coordinator as a Windows Service (no-op elsewhere)",
	}
	serviceInstallCmd := &cobra.Command{
		Use:   "install",
		Short: "Install the coordinator as a Windows Service",
		RunE: func(cmd *cobra.Command, args []string) error {
			exePath, _ := cmd.Flags().GetString("exe")
			return installService(exePath)
		},
	}
	serviceInstallCmd.Flags().String("exe", "", "path to the hg-coord executable (defaults to the current one)")
	serviceUninstallCmd := &cobra.Command{
		Use:   "uninstall",
		Short: "Remove the coordinator Windows Service",
		RunE: func(cmd *cobra.Command, args []string) error {
			return uninstallService()
		},
	}
	serviceCmd.AddCommand(serviceInstallCmd, serviceUninstallCmd)

	rootCmd.AddCommand(versionCmd, serveCmd, serviceCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// runCoordinator wires the transport server, registry, scheduler, cache,
// and coordinator façade together, mounts the WS handler and HTTP
// submission API on one mux, and starts the dashboard and mDNS announcer
// as separate servers. It blocks until a shutdown signal arrives.
func runCoordinator(cfg *config.Config) error {
	logger := log.Logger

	reg := registry.NewInMemoryRegistry(registry.DefaultConfig())

	schedCfg := scheduler.DefaultConfig()
	if cfg.Coordinator.SchedulerAlgo != "" {
		schedCfg.Algorithm = scheduler.Algorithm(cfg.Coordinator.SchedulerAlgo)
	}
	schedCfg.DefaultTimeout = time.Duration(cfg.Coordinator.DefaultTimeout) * time.Second
	schedCfg.MaxRetries = cfg.Coordinator.MaxRetries
	sched := scheduler.New(schedCfg, reg, logger)

	cacheCfg := cache.Config{Store: cache.DefaultStoreConfig(cfg.Cache.Dir)}
	cacheCfg.Store.MaxSizeBytes = cfg.Cache.MaxSize * 1024 * 1024
	cacheCfg.Store.MaxAge = time.Duration(cfg.Cache.TTLHours) * time.Hour
	if cfg.Cache.RemoteEnable {
		cacheCfg.Remote = &cache.RemoteConfig{
			Bucket:   cfg.Cache.RemoteBucket,
			Prefix:   cfg.Cache.RemotePrefix,
			Region:   cfg.Cache.RemoteRegion,
			Endpoint: cfg.Cache.RemoteEndpoint,
			ReadOnly: cfg.Cache.RemoteReadOnly,
		}
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	artifactCache, err := cache.New(ctx, cacheCfg, logger)
	if err != nil {
		return fmt.Errorf("init artifact cache: %w", err)
	}

	coordCfg := coordinator.DefaultConfig()
	coordCfg.AuthToken = cfg.Coordinator.AuthToken
	coordCfg.HeartbeatTTL = cfg.Coordinator.HeartbeatTTL

	trans := transport.NewServer(transport.ServerConfig{}, logger)
	coord := coordinator.New(coordCfg, trans, reg, sched, artifactCache, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", trans.Handler)
	coordinator.NewHTTPAPI(coord).Register(mux)

	httpSrv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Coordinator.Port),
		Handler: mux,
	}

	errCh := make(chan error, 3)
	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("transport/api server: %w", err)
		}
	}()

	statsProvider := newStatsProvider(coord)

	dashCfg := dashboard.DefaultConfig()
	dashCfg.Port = cfg.Coordinator.HTTPPort
	dashSrv := dashboard.New(dashCfg, statsProvider)

	onStart, onComplete := dashSrv.CreateEventNotifier()
	coord.SetEventNotifier(&eventNotifierWrapper{onStart: onStart, onComplete: onComplete})

	go func() {
		if err := dashSrv.Start(); err != nil {
			errCh <- fmt.Errorf("dashboard server: %w", err)
		}
	}()
	log.Info().Int("port", cfg.Coordinator.HTTPPort).Msg("dashboard server started")

	var mdnsAnnouncer *mdns.CoordAnnouncer
	if cfg.Coordinator.MDNSEnable {
		hostname, _ := os.Hostname()
		mdnsAnnouncer = mdns.NewCoordAnnouncer(mdns.CoordAnnouncerConfig{
			Instance:   fmt.Sprintf("hg-coord-%s", hostname),
			Port:   cfg.Coordinator.Port,
			HTTPPort:   cfg.Coordinator.HTTPPort,
			Version:    version,
			InstanceID: fmt.Sprintf("%s-%d", hostname, os.Getpid()),
		})
		if err := mdnsAnnouncer.Start(); err != nil {
			log.Warn().Err(err).Msg("failed to start mDNS announcer (continuing without)")
			mdnsAnnouncer = nil
		} else {
			log.Info().Str("service", mdns.CoordServiceType).Msg("coordinator discoverable via mDNS")
		}
	}

	timeoutTicker := time.NewTicker(5 * time.Second)
	defer timeoutTicker.Stop()
	go func() {
		for range timeoutTicker.C {
			coord.Timeouts()
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("received shutdown signal")
	case err := <-errCh:
		log.Error().Err(err).Msg("server error, shutting down")
	}

	if mdnsAnnouncer != nil {
		mdnsAnnouncer.Stop()
	}
	dashSrv.Stop()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	return httpSrv.Shutdown(shutdownCtx)
}

// eventNotifierWrapper adapts coordinator job events to the dashboard's
// callback-based notifier shape.
type eventNotifierWrapper struct {
	onStart    func(id, buildType, status, workerID string, startedAt int64)
	onComplete func(id, buildType, status, workerID string, startedAt, completedAt, durationMs int64, exitCode int32, errorMsg string)
}

func (w *eventNotifierWrapper) NotifyJobStarted(job *scheduler.ScheduledJob) {
	if w.onStart != nil {
		w.onStart(job.JobID, string(job.Type), string(job.State), job.AssignedWorkerID, job.StartedAt.Unix())
	}
}

func (w *eventNotifierWrapper) NotifyJobCompleted(job *scheduler.ScheduledJob) {
	if w.onComplete != nil {
		w.onComplete(job.JobID, string(job.Type), string(job.State), job.AssignedWorkerID,
			job.StartedAt.Unix(), job.CompletedAt.Unix(), job.CompletedAt.Sub(job.StartedAt).Milliseconds(), 0, "")
	}
}

func (w *eventNotifierWrapper) NotifyJobFailed(job *scheduler.ScheduledJob) {
	if w.onComplete != nil {
		w.onComplete(job.JobID, string(job.Type), string(job.State), job.AssignedWorkerID,
			job.StartedAt.Unix(), job.CompletedAt.Unix(), job.CompletedAt.Sub(job.StartedAt).Milliseconds(), 1, job.LastError)
	}
}
