package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/cyxwiz-lab/hybridbuild/internal/config"
	"github.com/cyxwiz-lab/hybridbuild/internal/discovery/mdns"
	"github.com/cyxwiz-lab/hybridbuild/internal/worker/agent"
	"github.com/cyxwiz-lab/hybridbuild/internal/worker/executor"
)

var version = "v0.0.0-dev"

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	rootCmd := &cobra.Command{
		Use:   "hg-worker",
		Short: "hybridbuild distributed build worker agent",
		Long: `hg-worker dials a coordinator, completes the HELLO/AUTH handshake, and
executes JOB_REQUEST messages locally using the native toolchain.`,
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Help()
		},
	}

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("hg-worker %s\n", version)
		},
	}

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the worker agent",
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath, _ := cmd.Flags().GetString("config")
			coordAddr, _ := cmd.Flags().GetString("coordinator")
			httpPort, _ := cmd.Flags().GetInt("http-port")
			token, _ := cmd.Flags().GetString("token")
			maxParallel, _ := cmd.Flags().GetInt("max-parallel")
			discoveryTimeout, _ := cmd.Flags().GetDuration("discovery-timeout")

			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if coordAddr == "" {
				coordAddr = cfg.Worker.CoordinatorAddr
			}
			if token == "" {
				token = cfg.Worker.AuthToken
			}
			if cmd.Flags().Changed("max-parallel") {
				cfg.Worker.MaxParallel = maxParallel
			}

			if coordAddr == "" {
				log.Info().Dur("timeout", discoveryTimeout).Msg("no coordinator specified, trying mDNS discovery")

				browser := mdns.NewCoordBrowser(mdns.CoordBrowserConfig{Timeout: discoveryTimeout})
				envCoord := os.Getenv("HG_COORDINATOR")

				discovered, err := browser.DiscoverWithFallback(context.Background(), envCoord)
				if err != nil {
					return fmt.Errorf("coordinator discovery failed: %w\n\nHint: start the coordinator with mDNS enabled, pass --coordinator, or set HG_COORDINATOR", err)
				}
				coordAddr = discovered
			}

			if cfg.Worker.MaxParallel <= 0 {
				cfg.Worker.MaxParallel = runtime.NumCPU()
			}

			hostname, _ := os.Hostname()
			log.Info().
				Str("coordinator", coordAddr).
				Str("hostname", hostname).
				Int("max_parallel", cfg.Worker.MaxParallel).
				Str("version", version).
				Msg("starting hybridbuild worker")

			if IsWindowsService() {
				return runAsService(cfg, coordAddr, token, httpPort)
			}
			return runWorker(cfg, coordAddr, token, httpPort)
		},
	}

	serveCmd.Flags().Int("http-port", 9090, "worker health/metrics HTTP port")
	serveCmd.Flags().String("coordinator", "", "coordinator address (empty for mDNS auto-discovery)")
	serveCmd.Flags().String("config", "", "path to config file")
	serveCmd.Flags().String("token", "", "authentication token")
	serveCmd.Flags().Int("max-parallel", 0, "max parallel jobs (0 = auto)")
	serveCmd.Flags().Duration("discovery-timeout", 10*time.Second, "mDNS discovery timeout")

	serviceCmd := &cobra.Command{
		Use:   "service",
		Short: "Manage the worker as a Windows Service (no-op elsewhere)",
	}
	serviceInstallCmd := &cobra.Command{
		Use:   "install",
		Short: "Install the worker as a Windows Service",
		RunE: func(cmd *cobra.Command, args []string) error {
			exePath, _ := cmd.Flags().GetString("exe")
			coordinator, _ := cmd.Flags().GetString("coordinator")
			return installService(exePath, coordinator)
		},
	}
	serviceInstallCmd.Flags().String("exe", "", "path to the hg-worker executable (defaults to the current one)")
	serviceInstallCmd.Flags().String("coordinator", "", "coordinator address to bake into the service's start args")
	serviceUninstallCmd := &cobra.Command{
		Use:   "uninstall",
		Short: "Remove the worker Windows Service",
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

// runWorker builds the agent, runs it against the coordinator until a
// shutdown signal arrives, and serves a small health/metrics endpoint
// alongside it (the worker never listens for inbound transport connections
// — it only dials out).
func runWorker(cfg *config.Config, coordAddr, token string, httpPort int) error {
	hostname, _ := os.Hostname()

	agentCfg := agent.DefaultConfig(wsURL(coordAddr))
	agentCfg.Name = hostname
	agentCfg.AuthToken = token
	agentCfg.MaxConcurrentJobs = cfg.Worker.MaxParallel
	agentCfg.HeartbeatInterval = cfg.Worker.HeartbeatInterval
	agentCfg.DefaultJobTimeout = cfg.Worker.Timeout

	a := agent.New(agentCfg, executor.NewNativeExecutor(), log.Logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 2)
	go func() {
		if err := a.Run(ctx); err != nil {
			errCh <- fmt.Errorf("worker agent: %w", err)
		}
	}()

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "worker %s active_jobs=%d\n", a.WorkerID(), a.ActiveJobs())
	})
	httpSrv := &http.Server{Addr: fmt.Sprintf(":%d", httpPort), Handler: mux}
	go func() {
		log.Info().Int("port", httpPort).Msg("worker health/metrics server started")
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("metrics server: %w", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("received shutdown signal")
	case err := <-errCh:
		log.Error().Err(err).Msg("worker error, shutting down")
	}

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	return httpSrv.Shutdown(shutdownCtx)
}

// wsURL turns a bare "host:port" coordinator address (as returned by
// mDNS discovery or read from config) into the websocket URL the
// transport client dials. Addresses that already carry a scheme are
// passed through unchanged.
func wsURL(addr string) string {
	if strings.Contains(addr, "://") {
		return addr
	}
	return "ws://" + addr + "/ws"
}
