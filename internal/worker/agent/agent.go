// Package agent implements the worker side of the distributed build
// protocol: it dials the coordinator, completes the HELLO/AUTH handshake,
// sends periodic heartbeats, and executes JOB_REQUEST messages locally via
// internal/worker/executor.
package agent

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/cyxwiz-lab/hybridbuild/internal/capability"
	"github.com/cyxwiz-lab/hybridbuild/internal/protocol"
	"github.com/cyxwiz-lab/hybridbuild/internal/security/validation"
	"github.com/cyxwiz-lab/hybridbuild/internal/transport"
	"github.com/cyxwiz-lab/hybridbuild/internal/worker/executor"
)

// Config holds the worker agent's own configuration.
type Config struct {
	Name              string
	CoordinatorURL    string
	AuthToken         string
	MaxConcurrentJobs int
	HeartbeatInterval time.Duration
	DefaultJobTimeout time.Duration
}

// DefaultConfig returns sensible agent defaults.
func DefaultConfig(coordinatorURL string) Config {
	return Config{
		Name:              "worker",
		CoordinatorURL:    coordinatorURL,
		MaxConcurrentJobs: 4,
		HeartbeatInterval: 10 * time.Second,
		DefaultJobTimeout: 120 * time.Second,
	}
}

// Agent owns the connection to the coordinator and the local job slots.
type Agent struct {
	cfg      Config
	log      zerolog.Logger
	client   *transport.Client
	exec     executor.Executor
	detected capability.Detection

	mu       sync.Mutex
	workerID string
	conn     *transport.Connection
	running  map[string]context.CancelFunc

	slots chan struct{}
}

// New builds an Agent that will run req.Compiler/req.BuildCommand jobs via
// exec, the local native toolchain executor.
func New(cfg Config, exec executor.Executor, log zerolog.Logger) *Agent {
	if cfg.MaxConcurrentJobs <= 0 {
		cfg.MaxConcurrentJobs = 1
	}
	clientCfg := transport.DefaultClientConfig(cfg.CoordinatorURL)
	return &Agent{
		cfg:      cfg,
		log:      log,
		client:   transport.NewClient(clientCfg, log),
		exec:     exec,
		detected: capability.Detect(),
		running:  make(map[string]context.CancelFunc),
		slots:    make(chan struct{}, cfg.MaxConcurrentJobs),
	}
}

// Run connects to the coordinator and serves job requests until ctx is
// cancelled or the client's reconnect budget is exhausted.
func (a *Agent) Run(ctx context.Context) error {
	return a.client.Run(ctx, func(conn *transport.Connection) {
		a.mu.Lock()
		a.conn = conn
		a.mu.Unlock()

		conn.OnMessage = a.handleMessage
		go a.sendHello(conn)
	})
}

func (a *Agent) sendHello(conn *transport.Connection) {
	tools := make(map[string]protocol.Tool, len(a.detected.Tools))
	for name, t := range a.detected.Tools {
		tools[name] = protocol.Tool{Path: t.Path, Version: t.Version}
	}

	hello, err := protocol.NewMessage(protocol.TypeHello, a.cfg.Name, protocol.HelloPayload{
		Name: a.cfg.Name,
		SystemInfo: protocol.SystemInfo{
			Arch: a.detected.SystemInfo.Arch, OS: a.detected.SystemInfo.OS,
			OSVersion: a.detected.SystemInfo.OSVersion, CPUCores: a.detected.SystemInfo.CPUCores,
			CPUThreads: a.detected.SystemInfo.CPUThreads, MemoryMB: a.detected.SystemInfo.MemoryMB,
			DiskFreeMB: a.detected.SystemInfo.DiskFreeMB,
		},
		Capabilities: uint64(a.detected.Capabilities),
		Tools:        tools,
	})
	if err != nil {
		a.log.Error().Err(err).Msg("failed to build HELLO")
		return
	}
	if err := conn.Send(hello); err != nil {
		a.log.Error().Err(err).Msg("failed to send HELLO")
	}
}

func (a *Agent) handleMessage(conn *transport.Connection, msg *protocol.Message) {
	switch msg.Type {
	case protocol.TypeAuthChallenge:
		a.handleAuthChallenge(conn, msg)
	case protocol.TypeWelcome:
		a.handleWelcome(msg)
	case protocol.TypeAuthFailed:
		a.log.Error().Msg("coordinator rejected authentication")
		conn.Close()
	case protocol.TypeHeartbeatAck:
		// no-op; heartbeats are fire-and-forget from the worker's view
	case protocol.TypeJobRequest:
		go a.handleJobRequest(conn, msg)
	case protocol.TypeJobCancel:
		a.handleJobCancel(msg)
	case protocol.TypeError:
		a.log.Warn().Str("id", msg.ID).Msg("coordinator sent an error message")
	}
}

func (a *Agent) handleAuthChallenge(conn *transport.Connection, msg *protocol.Message) {
	resp, err := protocol.MakeResponse(msg, protocol.TypeAuthResponse, a.cfg.Name, protocol.AuthResponsePayload{
		Token: a.cfg.AuthToken,
	})
	if err != nil {
		return
	}
	if err := conn.Send(resp); err != nil {
		a.log.Error().Err(err).Msg("failed to send AUTH_RESPONSE")
	}
}

func (a *Agent) handleWelcome(msg *protocol.Message) {
	welcome, err := protocol.DecodePayload[protocol.WelcomePayload](msg)
	if err != nil {
		return
	}
	a.mu.Lock()
	a.workerID = welcome.WorkerID
	a.mu.Unlock()

	a.log.Info().Str("worker_id", welcome.WorkerID).Msg("admitted by coordinator")

	interval := a.cfg.HeartbeatInterval
	if welcome.HeartbeatIntervalSec > 0 {
		interval = time.Duration(welcome.HeartbeatIntervalSec) * time.Second
	}
	go a.heartbeatLoop(interval)
}

func (a *Agent) heartbeatLoop(interval time.Duration) {
	if interval <= 0 {
		interval = a.cfg.HeartbeatInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for range ticker.C {
		a.mu.Lock()
		conn := a.conn
		active := len(a.running)
		a.mu.Unlock()
		if conn == nil {
			return
		}

		hb, err := protocol.NewMessage(protocol.TypeHeartbeat, a.cfg.Name, protocol.HeartbeatPayload{
			ActiveJobs: active,
		})
		if err != nil {
			continue
		}
		if err := conn.Send(hb); err != nil {
			a.log.Warn().Err(err).Msg("heartbeat send failed")
			return
		}
	}
}

func (a *Agent) handleJobRequest(conn *transport.Connection, msg *protocol.Message) {
	spec, err := protocol.DecodePayload[protocol.JobSpecPayload](msg)
	if err != nil {
		return
	}
	if err := validation.ValidateJobSpec(&spec); err != nil {
		a.reject(conn, spec.JobID, "invalid job spec: "+err.Error())
		return
	}
	spec.CompilerArgs, _ = validation.SanitizeCompilerArgs(spec.CompilerArgs)

	select {
	case a.slots <- struct{}{}:
	default:
		a.reject(conn, spec.JobID, "no available job slots")
		return
	}
	defer func() { <-a.slots }()

	timeout := time.Duration(spec.TimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = a.cfg.DefaultJobTimeout
	}
	jobCtx, cancel := context.WithTimeout(context.Background(), timeout)
	a.mu.Lock()
	a.running[spec.JobID] = cancel
	a.mu.Unlock()
	defer func() {
		cancel()
		a.mu.Lock()
		delete(a.running, spec.JobID)
		a.mu.Unlock()
	}()

	req := &executor.Request{
		JobID: spec.JobID, Type: spec.Type, Compiler: spec.Compiler,
		CompilerArgs: spec.CompilerArgs, SourceFile: spec.SourceFile, OutputFile: spec.OutputFile,
		BuildCommand: spec.BuildCommand, WorkingDir: spec.WorkingDir, EnvVars: spec.EnvVars,
		Timeout: timeout,
	}

	result, err := executor.Run(jobCtx, a.exec, req)
	if err != nil {
		a.reportFailure(conn, spec.JobID, err.Error(), "")
		return
	}

	if result.Success {
		a.reportComplete(conn, spec.JobID, result)
		return
	}
	a.reportFailure(conn, spec.JobID, fmt.Sprintf("exit code %d", result.ExitCode), result.Stderr)
}

func (a *Agent) handleJobCancel(msg *protocol.Message) {
	cancel, err := protocol.DecodePayload[protocol.JobCancelPayload](msg)
	if err != nil {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if cancel.JobID != "" {
		if c, ok := a.running[cancel.JobID]; ok {
			c()
		}
		return
	}
	for _, c := range a.running {
		c()
	}
}

func (a *Agent) reject(conn *transport.Connection, jobID, reason string) {
	msg, err := protocol.NewMessage(protocol.TypeJobReject, a.cfg.Name, protocol.JobRejectPayload{
		JobID: jobID, Reason: reason,
	})
	if err != nil {
		return
	}
	_ = conn.Send(msg)
}

func (a *Agent) reportComplete(conn *transport.Connection, jobID string, result *executor.Result) {
	msg, err := protocol.NewMessage(protocol.TypeJobComplete, a.cfg.Name, protocol.JobResultPayload{
		JobID: jobID, Success: true, ExitCode: result.ExitCode,
		DurationSec: result.Duration.Seconds(), Stdout: result.Stdout,
	})
	if err != nil {
		return
	}
	if err := conn.Send(msg); err != nil {
		a.log.Warn().Err(err).Str("job_id", jobID).Msg("failed to report job completion")
	}
}

func (a *Agent) reportFailure(conn *transport.Connection, jobID, reason, stderr string) {
	msg, err := protocol.NewMessage(protocol.TypeJobFailed, a.cfg.Name, protocol.JobFailedPayload{
		JobID: jobID, Error: reason, Stderr: stderr,
	})
	if err != nil {
		return
	}
	if err := conn.Send(msg); err != nil {
		a.log.Warn().Err(err).Str("job_id", jobID).Msg("failed to report job failure")
	}
}

// WorkerID returns the id assigned by the coordinator, or empty before the
// handshake completes.
func (a *Agent) WorkerID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.workerID
}

// ActiveJobs returns the count of jobs currently executing locally.
func (a *Agent) ActiveJobs() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.running)
}
