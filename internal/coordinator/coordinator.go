// Package coordinator wires the wire protocol and transport layer to the
// worker registry, scheduler, and artifact cache: it is the concrete
// coordinator side of the distributed build protocol, translating HELLO/
// AUTH/HEARTBEAT/JOB_* messages into registry and scheduler calls and
// scheduler callbacks back into outbound messages.
package coordinator

import (
	"context"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/cyxwiz-lab/hybridbuild/internal/cache"
	"github.com/cyxwiz-lab/hybridbuild/internal/protocol"
	"github.com/cyxwiz-lab/hybridbuild/internal/registry"
	"github.com/cyxwiz-lab/hybridbuild/internal/resilience"
	"github.com/cyxwiz-lab/hybridbuild/internal/scheduler"
	"github.com/cyxwiz-lab/hybridbuild/internal/security/auth"
	"github.com/cyxwiz-lab/hybridbuild/internal/security/validation"
	"github.com/cyxwiz-lab/hybridbuild/internal/transport"
)

// Config holds the coordinator's own configuration, independent of the
// registry/scheduler/cache configs it's handed.
type Config struct {
	ServerID       string
	AuthToken      string // empty disables token auth entirely
	HeartbeatTTL   time.Duration
	RequestTimeout time.Duration
}

// DefaultConfig returns sensible coordinator defaults.
func DefaultConfig() Config {
	return Config{
		ServerID:       "coordinator",
		HeartbeatTTL:   30 * time.Second,
		RequestTimeout: 120 * time.Second,
	}
}

// EventNotifier is called on job lifecycle transitions, for the dashboard.
type EventNotifier interface {
	NotifyJobStarted(job *scheduler.ScheduledJob)
	NotifyJobCompleted(job *scheduler.ScheduledJob)
	NotifyJobFailed(job *scheduler.ScheduledJob)
}

// Coordinator owns a transport.Server and binds it to a Registry, a
// Scheduler, and an ArtifactCache.
type Coordinator struct {
	cfg   Config
	log   zerolog.Logger
	trans *transport.Server

	Registry registry.Registry
	Sched    *scheduler.Scheduler
	Cache    *cache.ArtifactCache
	Circuit  *resilience.CircuitManager

	notifier EventNotifier

	mu          sync.Mutex
	connByWorker map[string]string // workerID -> connection id
	workerByConn map[string]string // connection id -> workerID

	buildWaiters map[string][]chan *scheduler.BuildSession

	startedAt     time.Time
	totalJobs     atomic.Int64
	successJobs   atomic.Int64
	failedJobs    atomic.Int64
}

// New builds a Coordinator over an already-constructed transport server,
// registry, and scheduler.
func New(cfg Config, trans *transport.Server, reg registry.Registry, sched *scheduler.Scheduler, artifactCache *cache.ArtifactCache, log zerolog.Logger) *Coordinator {
	c := &Coordinator{
		cfg:          cfg,
		log:          log,
		trans:        trans,
		Registry:     reg,
		Sched:        sched,
		Cache:        artifactCache,
		Circuit:      resilience.NewCircuitManager(resilience.DefaultCircuitConfig(), log),
		connByWorker: make(map[string]string),
		workerByConn: make(map[string]string),
		buildWaiters: make(map[string][]chan *scheduler.BuildSession),
		startedAt:    time.Now(),
	}

	trans.OnConnect = c.handleConnect
	trans.OnDisconnect = c.handleDisconnect

	sched.OnJobAssigned = c.onJobAssigned
	sched.OnJobCompleted = c.onJobCompleted
	sched.OnJobFailed = c.onJobFailed
	sched.OnJobCancel = c.onJobCancel
	sched.OnBuildCompleted = c.onBuildCompleted

	return c
}

// SetEventNotifier attaches a dashboard notifier.
func (c *Coordinator) SetEventNotifier(n EventNotifier) { c.notifier = n }

func (c *Coordinator) handleConnect(conn *transport.Connection) {
	conn.OnMessage = c.handleMessage
}

func (c *Coordinator) handleDisconnect(conn *transport.Connection, reason string) {
	c.mu.Lock()
	workerID, ok := c.workerByConn[conn.ID]
	if ok {
		delete(c.workerByConn, conn.ID)
		delete(c.connByWorker, workerID)
	}
	c.mu.Unlock()

	if !ok {
		return
	}
	c.Registry.UpdateState(workerID, registry.StateOffline)
	c.Sched.HandleWorkerDisconnect(workerID)
	c.Sched.ProcessQueue()
	c.log.Info().Str("worker_id", workerID).Str("reason", reason).Msg("worker disconnected")
}

func (c *Coordinator) handleMessage(conn *transport.Connection, msg *protocol.Message) {
	switch msg.Type {
	case protocol.TypeHello:
		c.handleHello(conn, msg)
	case protocol.TypeAuthResponse:
		c.handleAuthResponse(conn, msg)
	case protocol.TypeHeartbeat:
		c.handleHeartbeat(conn, msg)
	case protocol.TypeJobComplete:
		c.handleJobComplete(conn, msg)
	case protocol.TypeJobFailed:
		c.handleJobFailed(conn, msg)
	case protocol.TypeJobCancelled:
		c.handleJobCancelled(conn, msg)
	case protocol.TypeGoodbye:
		conn.Close()
	default:
		c.send(conn, protocol.MakeError(msg, c.cfg.ServerID, fmt.Sprintf("unrecognized message type %q", msg.Type)))
	}
}

func (c *Coordinator) handleHello(conn *transport.Connection, msg *protocol.Message) {
	hello, err := protocol.DecodePayload[protocol.HelloPayload](msg)
	if err != nil {
		c.send(conn, protocol.MakeError(msg, c.cfg.ServerID, "malformed HELLO: "+err.Error()))
		return
	}
	if err := validation.ValidateHello(&hello); err != nil {
		c.send(conn, protocol.MakeError(msg, c.cfg.ServerID, "invalid HELLO: "+err.Error()))
		conn.Close()
		return
	}

	if c.cfg.AuthToken != "" {
		challenge, err := protocol.NewMessage(protocol.TypeAuthChallenge, c.cfg.ServerID, protocol.AuthChallengePayload{
			Nonce: uuid.NewString(), Method: "pre-shared",
		})
		if err != nil {
			return
		}
		challenge.CorrelationID = msg.ID
		c.pendingHello(conn, hello)
		c.send(conn, challenge)
		return
	}

	c.admitWorker(conn, msg, hello)
}

// pendingHello stashes the HelloPayload on the connection's id until the
// AUTH_RESPONSE arrives; a simple map keyed by conn id is sufficient since
// exactly one hello precedes exactly one auth response per connection.
var pendingHellos sync.Map // conn id -> protocol.HelloPayload

func (c *Coordinator) pendingHello(conn *transport.Connection, hello protocol.HelloPayload) {
	pendingHellos.Store(conn.ID, hello)
}

func (c *Coordinator) handleAuthResponse(conn *transport.Connection, msg *protocol.Message) {
	v, ok := pendingHellos.Load(conn.ID)
	if !ok {
		c.send(conn, protocol.MakeError(msg, c.cfg.ServerID, "AUTH_RESPONSE without a preceding HELLO"))
		return
	}
	hello := v.(protocol.HelloPayload)
	pendingHellos.Delete(conn.ID)

	resp, err := protocol.DecodePayload[protocol.AuthResponsePayload](msg)
	if err != nil || !auth.ValidateToken(resp.Token, c.cfg.AuthToken) {
		failed, _ := protocol.NewMessage(protocol.TypeAuthFailed, c.cfg.ServerID, protocol.AuthFailedPayload{Reason: "invalid token"})
		c.send(conn, failed)
		conn.Close()
		return
	}

	c.admitWorker(conn, msg, hello)
}

func (c *Coordinator) admitWorker(conn *transport.Connection, req *protocol.Message, hello protocol.HelloPayload) {
	workerID := fmt.Sprintf("worker-%s", uuid.NewString())

	tools := make(map[string]registry.Tool, len(hello.Tools))
	for name, t := range hello.Tools {
		tools[name] = registry.Tool{Path: t.Path, Version: t.Version}
	}

	w := &registry.Worker{
		ID:           workerID,
		Name:         hello.Name,
		Hostname:     hello.SystemInfo.OS,
		State:        registry.StateOnline,
		ConnectedAt:  time.Now(),
		Capabilities: registry.Capability(hello.Capabilities),
		SystemInfo: registry.SystemInfo{
			Arch: hello.SystemInfo.Arch, OS: hello.SystemInfo.OS,
			OSVersion: hello.SystemInfo.OSVersion, CPUCores: hello.SystemInfo.CPUCores,
			CPUThreads: hello.SystemInfo.CPUThreads, MemoryMB: hello.SystemInfo.MemoryMB,
			DiskFreeMB: hello.SystemInfo.DiskFreeMB,
		},
		Tools:      tools,
		MaxJobs:    hello.SystemInfo.CPUCores,
		ConnectionID: conn.ID,
	}
	if w.MaxJobs <= 0 {
		w.MaxJobs = 1
	}

	c.Registry.Add(w)

	c.mu.Lock()
	c.connByWorker[workerID] = conn.ID
	c.workerByConn[conn.ID] = workerID
	c.mu.Unlock()

	welcome, err := protocol.MakeResponse(req, protocol.TypeWelcome, c.cfg.ServerID, protocol.WelcomePayload{
		WorkerID: workerID, ServerID: c.cfg.ServerID,
		HeartbeatIntervalSec: int(c.cfg.HeartbeatTTL.Seconds() / 2),
	})
	if err == nil {
		c.send(conn, welcome)
	}

	c.log.Info().Str("worker_id", workerID).Str("name", hello.Name).
		Int("cpu_cores", hello.SystemInfo.CPUCores).Msg("worker admitted")
}

func (c *Coordinator) handleHeartbeat(conn *transport.Connection, msg *protocol.Message) {
	workerID := c.workerForConn(conn.ID)
	if workerID == "" {
		return
	}
	hb, err := protocol.DecodePayload[protocol.HeartbeatPayload](msg)
	if err != nil {
		return
	}
	c.Registry.UpdateHeartbeat(workerID, hb.CPUUsage, hb.MemoryUsage)
	ack, err := protocol.MakeResponse(msg, protocol.TypeHeartbeatAck, c.cfg.ServerID, nil)
	if err == nil {
		c.send(conn, ack)
	}
}

func (c *Coordinator) handleJobComplete(conn *transport.Connection, msg *protocol.Message) {
	result, err := protocol.DecodePayload[protocol.JobResultPayload](msg)
	if err != nil {
		return
	}
	c.Sched.ReportJobResult(result.JobID, scheduler.JobResult{
		Success: result.Success, ExitCode: result.ExitCode,
		DurationSec: result.DurationSec, Stdout: result.Stdout,
	})
	c.Sched.ProcessQueue()
}

func (c *Coordinator) handleJobFailed(conn *transport.Connection, msg *protocol.Message) {
	failed, err := protocol.DecodePayload[protocol.JobFailedPayload](msg)
	if err != nil {
		return
	}
	c.Sched.ReportJobFailure(failed.JobID, failed.Error)
	c.Sched.ProcessQueue()
}

// handleJobCancelled settles a RUNNING/ASSIGNED job as soon as its worker
// acknowledges the JOB_CANCEL, rather than leaving it to linger until
// CheckTimeouts notices the worker never responded.
func (c *Coordinator) handleJobCancelled(conn *transport.Connection, msg *protocol.Message) {
	cancelled, err := protocol.DecodePayload[protocol.JobCancelledPayload](msg)
	if err != nil {
		return
	}
	c.Sched.ReportJobCancelled(cancelled.JobID)
	c.Sched.ProcessQueue()
}

func (c *Coordinator) workerForConn(connID string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.workerByConn[connID]
}

func (c *Coordinator) connForWorker(workerID string) (*transport.Connection, bool) {
	c.mu.Lock()
	connID, ok := c.connByWorker[workerID]
	c.mu.Unlock()
	if !ok {
		return nil, false
	}
	return c.trans.Get(connID)
}

func (c *Coordinator) send(conn *transport.Connection, msg *protocol.Message) {
	if msg == nil {
		return
	}
	if err := conn.Send(msg); err != nil {
		c.log.Warn().Err(err).Str("conn_id", conn.ID).Msg("failed to send message")
	}
}

// onJobAssigned sends JOB_REQUEST to the assigned worker, unless the
// compilation's inputs already have an object cached (locally or
// remotely), in which case the job is settled immediately without ever
// reaching a worker.
func (c *Coordinator) onJobAssigned(job *scheduler.ScheduledJob, worker *registry.Worker) {
	if c.tryServeFromCache(job, worker) {
		return
	}

	conn, ok := c.connForWorker(worker.ID)
	if !ok {
		c.Sched.HandleWorkerDisconnect(worker.ID)
		return
	}

	spec := protocol.JobSpecPayload{
		JobID: job.JobID, Type: string(job.Type), Priority: job.Priority,
		SourceFile: job.SourceFile, OutputFile: job.OutputFile, Compiler: job.Compiler,
		CompilerArgs: job.CompilerArgs, IncludePaths: job.IncludePaths,
		ProjectArchiveHash: job.ProjectArchiveHash, BuildCommand: job.BuildCommand,
		WorkingDir: job.WorkingDir, EnvVars: job.EnvVars, TimeoutSec: job.TimeoutSec,
		RequiredCapabilities: uint64(job.RequiredCapabilities),
	}
	req, err := protocol.NewMessage(protocol.TypeJobRequest, c.cfg.ServerID, spec)
	if err != nil {
		return
	}
	c.send(conn, req)

	if c.notifier != nil {
		c.notifier.NotifyJobStarted(job)
	}
}

func (c *Coordinator) onJobCompleted(job *scheduler.ScheduledJob) {
	c.totalJobs.Add(1)
	c.successJobs.Add(1)
	c.storeJobOutput(job)
	if c.notifier != nil {
		c.notifier.NotifyJobCompleted(job)
	}
}

// tryServeFromCache looks up job's compile key in the artifact cache and,
// on a hit, writes the cached object straight to job.OutputFile and
// reports the job complete without ever dispatching JOB_REQUEST — the
// cache-hit short-circuit spec §2 describes for the assignment path.
// Only compile jobs with a cacheable key are eligible; everything else
// (link, cmake, custom, full-build jobs) always goes to a worker.
func (c *Coordinator) tryServeFromCache(job *scheduler.ScheduledJob, worker *registry.Worker) bool {
	if c.Cache == nil || job.Type != scheduler.JobCompile || job.SourceFile == "" || job.OutputFile == "" {
		return false
	}

	key, err := c.cacheKeyForJob(job, worker)
	if err != nil {
		return false
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.RequestTimeout)
	defer cancel()

	if c.Cache.Lookup(ctx, key) == cache.Miss {
		return false
	}
	if err := c.Cache.Retrieve(ctx, key, job.OutputFile); err != nil {
		c.log.Warn().Err(err).Str("job_id", job.JobID).Str("cache_key", key).
			Msg("cache hit reported but retrieve failed, falling back to worker")
		return false
	}

	c.log.Info().Str("job_id", job.JobID).Str("cache_key", key).
		Msg("job served from artifact cache, skipping worker dispatch")
	c.Sched.ReportJobResult(job.JobID, scheduler.JobResult{Success: true, ExitCode: 0})
	c.Sched.ProcessQueue()
	return true
}

// storeJobOutput records a successfully completed compile job's output
// object into the artifact cache, so later identical compiles can be
// served via tryServeFromCache instead of rerunning a worker. Best-effort:
// a cache write failure does not affect the job's already-reported
// success.
func (c *Coordinator) storeJobOutput(job *scheduler.ScheduledJob) {
	if c.Cache == nil || job.Type != scheduler.JobCompile || job.SourceFile == "" || job.OutputFile == "" {
		return
	}

	var worker *registry.Worker
	if job.AssignedWorkerID != "" {
		worker, _ = c.Registry.Get(job.AssignedWorkerID)
	}

	key, err := c.cacheKeyForJob(job, worker)
	if err != nil {
		return
	}

	data, err := os.ReadFile(job.OutputFile)
	if err != nil {
		c.log.Warn().Err(err).Str("job_id", job.JobID).Msg("could not read job output for caching")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.RequestTimeout)
	defer cancel()
	if _, err := c.Cache.Store(ctx, key, "object", data, job.BuildID, job.AssignedWorkerID); err != nil {
		c.log.Warn().Err(err).Str("job_id", job.JobID).Str("cache_key", key).Msg("failed to store job output in artifact cache")
	}
}

// cacheKeyForJob builds the spec's deterministic CacheKey for a compile
// job by hashing its source file's current content. worker, when known,
// supplies the target triple proxy (its architecture); assignment-time
// callers always have one, completion-time callers only when the job's
// worker is still registered.
func (c *Coordinator) cacheKeyForJob(job *scheduler.ScheduledJob, worker *registry.Worker) (string, error) {
	src, err := os.ReadFile(job.SourceFile)
	if err != nil {
		return "", err
	}

	targetTriple := ""
	if worker != nil {
		targetTriple = worker.SystemInfo.Arch
	}

	key := &cache.CacheKey{
		SourceHash:   cache.HashBytes(src),
		Compiler:     job.Compiler,
		Flags:        job.CompilerArgs,
		IncludePaths: job.IncludePaths,
		TargetTriple: targetTriple,
	}
	return key.Build(), nil
}

func (c *Coordinator) onJobFailed(job *scheduler.ScheduledJob) {
	c.totalJobs.Add(1)
	c.failedJobs.Add(1)
	if c.notifier != nil {
		c.notifier.NotifyJobFailed(job)
	}
}

func (c *Coordinator) onJobCancel(job *scheduler.ScheduledJob) {
	conn, ok := c.connForWorker(job.AssignedWorkerID)
	if !ok {
		return
	}
	msg, err := protocol.NewMessage(protocol.TypeJobCancel, c.cfg.ServerID, protocol.JobCancelPayload{
		JobID: job.JobID, BuildID: job.BuildID, Reason: "build cancelled",
	})
	if err != nil {
		return
	}
	c.send(conn, msg)
}

func (c *Coordinator) onBuildCompleted(build *scheduler.BuildSession) {
	c.mu.Lock()
	waiters := c.buildWaiters[build.BuildID]
	delete(c.buildWaiters, build.BuildID)
	c.mu.Unlock()

	for _, ch := range waiters {
		ch <- build
		close(ch)
	}
}

// SubmitBuild is the client-facing entry point: creates a build session,
// submits every job, and starts processing. It returns the build's id for
// use with WaitBuild.
func (c *Coordinator) SubmitBuild(projectName string, strategy scheduler.Strategy, jobs []scheduler.DistributedJob) (string, error) {
	build := c.Sched.CreateBuild(projectName, strategy)
	for i, spec := range jobs {
		if _, err := c.Sched.SubmitJob(build.BuildID, spec, 0); err != nil {
			return "", fmt.Errorf("coordinator: submit job %d: %w", i, err)
		}
	}
	if err := c.Sched.StartBuild(build.BuildID); err != nil {
		return "", err
	}
	c.Sched.ProcessQueue()
	return build.BuildID, nil
}

// WaitBuild blocks until buildID finishes or ctx is done, returning the
// final BuildSession snapshot.
func (c *Coordinator) WaitBuild(ctx context.Context, buildID string) (*scheduler.BuildSession, error) {
	if b, ok := c.Sched.GetBuild(buildID); ok && b.State != scheduler.BuildPending && b.State != scheduler.BuildRunning {
		return b, nil
	}

	ch := make(chan *scheduler.BuildSession, 1)
	c.mu.Lock()
	c.buildWaiters[buildID] = append(c.buildWaiters[buildID], ch)
	c.mu.Unlock()

	select {
	case b := <-ch:
		return b, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// CancelBuild cancels a build and notifies its running workers.
func (c *Coordinator) CancelBuild(buildID, reason string) error {
	return c.Sched.CancelBuild(buildID, reason)
}

// Timeouts runs the scheduler's timeout sweep and reassigns newly freed
// capacity; callers run this on a ticker (see cmd/hg-coord).
func (c *Coordinator) Timeouts() {
	c.Sched.CheckTimeouts()
	c.Sched.ProcessQueue()
}

// Stats is a point-in-time aggregate snapshot for the dashboard and CLI
// status command.
type Stats struct {
	TotalJobs     int64
	SuccessJobs   int64
	FailedJobs    int64
	ActiveJobs    int
	QueuedJobs    int
	TotalWorkers  int
	OnlineWorkers int
	UptimeSeconds int64
}

// StatsSnapshot aggregates scheduler and registry counters for reporting.
func (c *Coordinator) StatsSnapshot() Stats {
	workers := c.Registry.List()
	online := 0
	for _, w := range workers {
		if w.State == registry.StateOnline || w.State == registry.StateBusy {
			online++
		}
	}
	return Stats{
		TotalJobs:     c.totalJobs.Load(),
		SuccessJobs:   c.successJobs.Load(),
		FailedJobs:    c.failedJobs.Load(),
		ActiveJobs:    c.Sched.ActiveJobs(),
		QueuedJobs:    c.Sched.QueueDepth(),
		TotalWorkers:  len(workers),
		OnlineWorkers: online,
		UptimeSeconds: int64(time.Since(c.startedAt).Seconds()),
	}
}
