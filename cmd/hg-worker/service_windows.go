//go:build windows

package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sys/windows/svc"
	"golang.org/x/sys/windows/svc/debug"
	"golang.org/x/sys/windows/svc/eventlog"
	"golang.org/x/sys/windows/svc/mgr"

	"github.com/cyxwiz-lab/hybridbuild/internal/config"
	"github.com/cyxwiz-lab/hybridbuild/internal/worker/agent"
	"github.com/cyxwiz-lab/hybridbuild/internal/worker/executor"
)

const (
	serviceName = "HybridBuildWorker"
	serviceDesc = "hybridbuild distributed build worker service"
)

// workerService implements the Windows service interface.
type workerService struct {
	cfg       *config.Config
	coordAddr string
	token     string
	httpPort  int
	elog      debug.Log
}

// Execute is the main service loop required by the Windows Service Control Manager.
func (s *workerService) Execute(args []string, r <-chan svc.ChangeRequest, changes chan<- svc.Status) (ssec bool, errno uint32) {
	const cmdsAccepted = svc.AcceptStop | svc.AcceptShutdown

	changes <- svc.Status{State: svc.StartPending}

	logFile, err := os.OpenFile(filepath.Join(os.TempDir(), "hg-worker.log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err == nil {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: logFile, NoColor: true})
	}

	hostname, _ := os.Hostname()
	log.Info().
		Str("coordinator", s.coordAddr).
		Str("hostname", hostname).
		Int("max_parallel", s.cfg.Worker.MaxParallel).
		Msg("starting hybridbuild worker as Windows service")

	agentCfg := agent.DefaultConfig(wsURL(s.coordAddr))
	agentCfg.Name = hostname
	agentCfg.AuthToken = s.token
	agentCfg.MaxConcurrentJobs = s.cfg.Worker.MaxParallel
	agentCfg.HeartbeatInterval = s.cfg.Worker.HeartbeatInterval
	agentCfg.DefaultJobTimeout = s.cfg.Worker.Timeout

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
	httpSrv := &http.Server{Addr: fmt.Sprintf(":%d", s.httpPort), Handler: mux}
	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("metrics server: %w", err)
		}
	}()

	changes <- svc.Status{State: svc.Running, Accepts: cmdsAccepted}

loop:
	for {
		select {
		case c := <-r:
			switch c.Cmd {
			case svc.Interrogate:
				changes <- c.CurrentStatus
			case svc.Stop, svc.Shutdown:
				log.Info().Msg("received stop/shutdown command")
				break loop
			default:
				s.elog.Error(1, fmt.Sprintf("unexpected control request #%d", c))
			}
		case err := <-errCh:
			s.elog.Error(1, fmt.Sprintf("server error: %v", err))
			break loop
		}
	}

	changes <- svc.Status{State: svc.StopPending}

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	httpSrv.Shutdown(shutdownCtx)

	return false, 0
}

// runAsService runs the worker as a Windows Service.
func runAsService(cfg *config.Config, coordAddr, token string, httpPort int) error {
	elog, err := eventlog.Open(serviceName)
	if err != nil {
		return err
	}
	defer elog.Close()

	elog.Info(1, fmt.Sprintf("starting %s service", serviceName))

	s := &workerService{cfg: cfg, coordAddr: coordAddr, token: token, httpPort: httpPort, elog: elog}

	err = svc.Run(serviceName, s)
	if err != nil {
		elog.Error(1, fmt.Sprintf("service failed: %v", err))
		return err
	}

	elog.Info(1, fmt.Sprintf("%s service stopped", serviceName))
	return nil
}

// IsWindowsService checks if the process is running as a Windows Service.
func IsWindowsService() bool {
	isService, err := svc.IsWindowsService()
	if err != nil {
		return false
	}
	return isService
}

// installService installs the worker as a Windows Service.
func installService(exePath, coordinator string) error {
	m, err := mgr.Connect()
	if err != nil {
		return err
	}
	defer m.Disconnect()

	s, err := m.OpenService(serviceName)
	if err == nil {
		s.Close()
		return fmt.Errorf("service %s already exists", serviceName)
	}

	if exePath == "" {
		exePath, err = os.Executable()
		if err != nil {
			return err
		}
	}

	args := []string{"serve"}
	if coordinator != "" {
		args = append(args, "--coordinator="+coordinator)
	}

	s, err = m.CreateService(serviceName, exePath, mgr.Config{
		DisplayName: "hybridbuild Worker",
		Description: serviceDesc,
		StartType:   mgr.StartAutomatic,
	}, args...)
	if err != nil {
		return err
	}
	defer s.Close()

	err = s.SetRecoveryActions([]mgr.RecoveryAction{
		{Type: mgr.ServiceRestart, Delay: 5 * time.Second},
		{Type: mgr.ServiceRestart, Delay: 30 * time.Second},
		{Type: mgr.ServiceRestart, Delay: 60 * time.Second},
	}, 86400)

	if err != nil {
		return fmt.Errorf("failed to set recovery actions: %w", err)
	}

	log.Info().Str("service", serviceName).Msg("service installed successfully")
	return nil
}

// uninstallService removes the Windows Service.
func uninstallService() error {
	m, err := mgr.Connect()
	if err != nil {
		return err
	}
	defer m.Disconnect()

	s, err := m.OpenService(serviceName)
	if err != nil {
		return fmt.Errorf("service %s not installed", serviceName)
	}
	defer s.Close()

	err = s.Delete()
	if err != nil {
		return err
	}

	log.Info().Str("service", serviceName).Msg("service uninstalled successfully")
	return nil
}
