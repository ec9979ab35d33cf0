//go:build windows

package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sys/windows/svc"
	"golang.org/x/sys/windows/svc/debug"
	"golang.org/x/sys/windows/svc/eventlog"
	"golang.org/x/sys/windows/svc/mgr"

	"github.com/cyxwiz-lab/hybridbuild/internal/cache"
	"github.com/cyxwiz-lab/hybridbuild/internal/config"
	"github.com/cyxwiz-lab/hybridbuild/internal/coordinator"
	"github.com/cyxwiz-lab/hybridbuild/internal/discovery/mdns"
	"github.com/cyxwiz-lab/hybridbuild/internal/observability/dashboard"
	"github.com/cyxwiz-lab/hybridbuild/internal/registry"
	"github.com/cyxwiz-lab/hybridbuild/internal/scheduler"
	"github.com/cyxwiz-lab/hybridbuild/internal/transport"
)

const (
	serviceName = "HybridBuildCoord"
	serviceDesc = "hybridbuild distributed build coordinator service"
)

// coordService implements the Windows service interface.
type coordService struct {
	cfg  *config.Config
	elog debug.Log
}

// Execute is the main service loop required by the Windows Service Control Manager.
func (s *coordService) Execute(args []string, r <-chan svc.ChangeRequest, changes chan<- svc.Status) (ssec bool, errno uint32) {
	const cmdsAccepted = svc.AcceptStop | svc.AcceptShutdown

	changes <- svc.Status{State: svc.StartPending}

	logFile, err := os.OpenFile(filepath.Join(os.TempDir(), "hg-coord.log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err == nil {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: logFile, NoColor: true})
	}

	log.Info().
		Int("port", s.cfg.Coordinator.Port).
		Int("http_port", s.cfg.Coordinator.HTTPPort).
		Msg("starting hybridbuild coordinator as Windows service")

	reg := registry.NewInMemoryRegistry(registry.DefaultConfig())

	schedCfg := scheduler.DefaultConfig()
	if s.cfg.Coordinator.SchedulerAlgo != "" {
		schedCfg.Algorithm = scheduler.Algorithm(s.cfg.Coordinator.SchedulerAlgo)
	}
	schedCfg.DefaultTimeout = time.Duration(s.cfg.Coordinator.DefaultTimeout) * time.Second
	schedCfg.MaxRetries = s.cfg.Coordinator.MaxRetries
	sched := scheduler.New(schedCfg, reg, log.Logger)

	cacheCfg := cache.Config{Store: cache.DefaultStoreConfig(s.cfg.Cache.Dir)}
	cacheCfg.Store.MaxSizeBytes = s.cfg.Cache.MaxSize * 1024 * 1024
	cacheCfg.Store.MaxAge = time.Duration(s.cfg.Cache.TTLHours) * time.Hour
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	artifactCache, err := cache.New(ctx, cacheCfg, log.Logger)
	if err != nil {
		s.elog.Error(1, fmt.Sprintf("init artifact cache: %v", err))
		return true, 1
	}

	coordCfg := coordinator.DefaultConfig()
	coordCfg.AuthToken = s.cfg.Coordinator.AuthToken
	coordCfg.HeartbeatTTL = s.cfg.Coordinator.HeartbeatTTL

	trans := transport.NewServer(transport.ServerConfig{}, log.Logger)
	coord := coordinator.New(coordCfg, trans, reg, sched, artifactCache, log.Logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", trans.Handler)
	coordinator.NewHTTPAPI(coord).Register(mux)

	httpSrv := &http.Server{Addr: fmt.Sprintf(":%d", s.cfg.Coordinator.Port), Handler: mux}

	errCh := make(chan error, 3)
	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("transport/api server: %w", err)
		}
	}()

	statsProvider := newStatsProvider(coord)
	dashCfg := dashboard.DefaultConfig()
	dashCfg.Port = s.cfg.Coordinator.HTTPPort
	dashSrv := dashboard.New(dashCfg, statsProvider)

	onStart, onComplete := dashSrv.CreateEventNotifier()
	coord.SetEventNotifier(&eventNotifierWrapper{onStart: onStart, onComplete: onComplete})

	go func() {
		if err := dashSrv.Start(); err != nil {
			errCh <- fmt.Errorf("dashboard server: %w", err)
		}
	}()

	var mdnsAnnouncer *mdns.CoordAnnouncer
	if s.cfg.Coordinator.MDNSEnable {
		hostname, _ := os.Hostname()
		mdnsAnnouncer = mdns.NewCoordAnnouncer(mdns.CoordAnnouncerConfig{
			Instance:   fmt.Sprintf("hg-coord-%s", hostname),
			Port:   s.cfg.Coordinator.Port,
			HTTPPort:   s.cfg.Coordinator.HTTPPort,
			Version:    version,
			InstanceID: fmt.Sprintf("%s-%d", hostname, os.Getpid()),
		})
		if err := mdnsAnnouncer.Start(); err != nil {
			log.Warn().Err(err).Msg("failed to start mDNS announcer")
			mdnsAnnouncer = nil
		}
	}

	timeoutTicker := time.NewTicker(5 * time.Second)
	defer timeoutTicker.Stop()
	go func() {
		for range timeoutTicker.C {
			coord.Timeouts()
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

	if mdnsAnnouncer != nil {
		mdnsAnnouncer.Stop()
	}
	dashSrv.Stop()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	httpSrv.Shutdown(shutdownCtx)

	return false, 0
}

// runAsService runs the coordinator as a Windows Service.
func runAsService(cfg *config.Config) error {
	elog, err := eventlog.Open(serviceName)
	if err != nil {
		return err
	}
	defer elog.Close()

	elog.Info(1, fmt.Sprintf("starting %s service", serviceName))

	s := &coordService{cfg: cfg, elog: elog}

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

// installService installs the coordinator as a Windows Service.
func installService(exePath string) error {
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

	s, err = m.CreateService(serviceName, exePath, mgr.Config{
		DisplayName: "hybridbuild Coordinator",
		Description: serviceDesc,
		StartType:   mgr.StartAutomatic,
	}, "serve")
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
