package scheduler

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/cyxwiz-lab/hybridbuild/internal/errkind"
	"github.com/cyxwiz-lab/hybridbuild/internal/registry"
)

var (
	ErrBuildNotFound = errors.New("scheduler: build not found")
	ErrJobNotFound   = errors.New("scheduler: job not found")
)

// Config tunes a Scheduler's defaults.
type Config struct {
	Algorithm      Algorithm
	DefaultTimeout int // seconds, used when a job spec omits one
	MaxRetries     int // applied to every submitted job
}

// DefaultConfig returns sensible scheduler defaults.
func DefaultConfig() Config {
	return Config{
		Algorithm:      AlgoWeighted,
		DefaultTimeout: 300,
		MaxRetries:     3,
	}
}

// Scheduler owns build sessions, the pending-job queue, and the running-job
// set, and drives assignment, retries, and timeouts.
type Scheduler struct {
	mu sync.Mutex

	cfg Config
	reg registry.Registry
	sel *selector
	log zerolog.Logger

	builds  map[string]*BuildSession
	jobs    map[string]*ScheduledJob // all jobs regardless of state, by JobID
	pending *jobQueue
	running map[string]*ScheduledJob // JobID -> job, RUNNING/ASSIGNED only

	OnJobAssigned    func(job *ScheduledJob, worker *registry.Worker)
	OnJobCompleted   func(job *ScheduledJob)
	OnJobFailed      func(job *ScheduledJob)
	OnJobCancel      func(job *ScheduledJob)
	OnBuildCompleted func(build *BuildSession)
}

// New creates a Scheduler bound to a worker registry.
func New(cfg Config, reg registry.Registry, log zerolog.Logger) *Scheduler {
	if cfg.Algorithm == "" {
		cfg = DefaultConfig()
	}
	return &Scheduler{
		cfg:     cfg,
		reg:     reg,
		sel:     newSelector(cfg.Algorithm, reg),
		log:     log,
		builds:  make(map[string]*BuildSession),
		jobs:    make(map[string]*ScheduledJob),
		pending: newJobQueue(),
		running: make(map[string]*ScheduledJob),
	}
}

// CreateBuild starts a new build session.
func (s *Scheduler) CreateBuild(projectName string, strategy Strategy) *BuildSession {
	s.mu.Lock()
	defer s.mu.Unlock()

	b := &BuildSession{
		BuildID:     uuid.NewString(),
		ProjectName: projectName,
		Strategy:    strategy,
		State:       BuildPending,
		StartedAt:   time.Now(),
	}
	s.builds[b.BuildID] = b
	return cloneBuild(b)
}

// SubmitJob enqueues a new job under an existing build session.
func (s *Scheduler) SubmitJob(buildID string, spec DistributedJob, priority int) (*ScheduledJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.builds[buildID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrBuildNotFound, buildID)
	}

	if spec.TimeoutSec <= 0 {
		spec.TimeoutSec = s.cfg.DefaultTimeout
	}
	spec.Priority = priority
	if spec.JobID == "" {
		spec.JobID = uuid.NewString()
	}

	job := &ScheduledJob{
		DistributedJob: spec,
		BuildID:        buildID,
		Sequence:       b.TotalJobs,
		State:          JobPending,
		QueuedAt:       time.Now(),
		MaxRetries:     s.cfg.MaxRetries,
	}

	s.jobs[job.JobID] = job
	s.pending.push(job)
	b.TotalJobs++
	b.Pending++
	b.jobIDs = append(b.jobIDs, job.JobID)
	b.recomputeProgress()

	return cloneJob(job), nil
}

// StartBuild transitions a build from PENDING to RUNNING; jobs already
// submitted remain queued until ProcessQueue is called.
func (s *Scheduler) StartBuild(buildID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.builds[buildID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrBuildNotFound, buildID)
	}
	if b.State == BuildPending {
		b.State = BuildRunning
	}
	return nil
}

// CancelBuild marks a build CANCELLED, removes its still-PENDING jobs from
// the queue, and signals JOB_CANCEL for each of its RUNNING jobs via
// OnJobCancel (the caller sends the actual wire message and awaits
// JOB_CANCELLED; unresponsive workers lose the job through the timeout
// path).
func (s *Scheduler) CancelBuild(buildID, reason string) error {
	s.mu.Lock()
	b, ok := s.builds[buildID]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrBuildNotFound, buildID)
	}

	var toCancel []*ScheduledJob
	for _, jobID := range b.jobIDs {
		job := s.jobs[jobID]
		if job == nil {
			continue
		}
		switch job.State {
		case JobPending, JobRetry:
			s.pending.remove(job.JobID)
			job.State = JobCancelled
			job.LastError = reason
			b.Pending--
			b.Failed++ // counted as settled, not completed
		case JobAssigned, JobRunning:
			toCancel = append(toCancel, job)
		}
	}
	b.State = BuildCancelled
	b.Success = false
	b.CompletedAt = time.Now()
	b.recomputeProgress()
	s.mu.Unlock()

	if s.OnJobCancel != nil {
		for _, job := range toCancel {
			s.OnJobCancel(cloneJob(job))
		}
	}
	return nil
}

// CancelJob cancels a single job by ID, analogous to CancelBuild but scoped
// to one job.
func (s *Scheduler) CancelJob(jobID, reason string) error {
	s.mu.Lock()
	job, ok := s.jobs[jobID]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}

	var notify *ScheduledJob
	switch job.State {
	case JobPending, JobRetry:
		s.pending.remove(jobID)
		job.State = JobCancelled
		job.LastError = reason
		if b := s.builds[job.BuildID]; b != nil {
			b.Pending--
			b.Failed++
			b.recomputeProgress()
		}
	case JobAssigned, JobRunning:
		notify = job
	}
	s.mu.Unlock()

	if notify != nil && s.OnJobCancel != nil {
		s.OnJobCancel(cloneJob(notify))
	}
	return nil
}

// ReportJobResult handles a successful JOB_COMPLETE.
func (s *Scheduler) ReportJobResult(jobID string, result JobResult) error {
	s.mu.Lock()
	job, ok := s.jobs[jobID]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}

	workerID := job.AssignedWorkerID
	job.State = JobCompleted
	job.CompletedAt = time.Now()
	delete(s.running, jobID)

	b := s.builds[job.BuildID]
	buildDone := false
	var finishedBuild *BuildSession
	if b != nil {
		b.Running--
		b.Completed++
		b.recomputeProgress()
		if b.Completed+b.Failed == b.TotalJobs {
			buildDone = true
			b.State = BuildCompleted
			b.Success = b.Failed == 0
			b.CompletedAt = time.Now()
			finishedBuild = cloneBuild(b)
		}
	}
	jobCopy := cloneJob(job)
	s.mu.Unlock()

	if workerID != "" {
		s.reg.DecrementTasks(workerID, true, result.DurationSec)
	}
	if s.OnJobCompleted != nil {
		s.OnJobCompleted(jobCopy)
	}
	if buildDone && s.OnBuildCompleted != nil {
		s.OnBuildCompleted(finishedBuild)
	}
	return nil
}

// ReportJobFailure handles JOB_FAILED: retries up to max_retries, then
// fails the job and, if this was its build's last outstanding job,
// finalizes the build.
func (s *Scheduler) ReportJobFailure(jobID string, errMsg string) error {
	return s.fail(jobID, errMsg, errkind.JobExecutionFailed)
}

// timeoutFailure is the timeout-specific path: same handling as
// ReportJobFailure but with the fixed message and kind the spec names.
func (s *Scheduler) timeoutFailure(jobID string) {
	s.fail(jobID, "job timed out", errkind.JobTimeout)
}

func (s *Scheduler) fail(jobID, errMsg string, kind errkind.Kind) error {
	s.mu.Lock()
	job, ok := s.jobs[jobID]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}

	workerID := job.AssignedWorkerID
	job.LastError = errMsg
	delete(s.running, jobID)

	retry := job.RetryCount < job.MaxRetries
	if retry {
		job.RetryCount++
		job.State = JobRetry
		job.AssignedWorkerID = ""
		job.QueuedAt = time.Now()
		s.pending.push(job)
	} else {
		if kind == errkind.JobTimeout {
			job.State = JobTimedOut
		} else {
			job.State = JobFailed
		}
	}

	b := s.builds[job.BuildID]
	var finishedBuild *BuildSession
	buildDone := false
	if b != nil {
		b.Running--
		if retry {
			b.Pending++
		} else {
			b.Failed++
			if b.ErrorSummary == nil {
				b.ErrorSummary = []string{}
			}
			b.ErrorSummary = append(b.ErrorSummary, fmt.Sprintf("%s: %s", jobID, errMsg))
		}
		b.recomputeProgress()
		if b.Completed+b.Failed == b.TotalJobs && b.Running == 0 && b.Pending == 0 {
			buildDone = true
			b.State = BuildFailed
			b.Success = b.Failed == 0
			b.CompletedAt = time.Now()
			finishedBuild = cloneBuild(b)
		}
	}
	jobCopy := cloneJob(job)
	s.mu.Unlock()

	if workerID != "" {
		s.reg.DecrementTasks(workerID, false, 0)
	}
	if !retry && s.OnJobFailed != nil {
		s.OnJobFailed(jobCopy)
	}
	if buildDone && s.OnBuildCompleted != nil {
		s.OnBuildCompleted(finishedBuild)
	}
	return nil
}

// ReportJobCancelled settles a job whose worker acknowledged JOB_CANCEL with
// JOB_CANCELLED: removes it from the running set and marks it CANCELLED. A
// job already settled (by CheckTimeouts, or a JOB_CANCELLED for a job that
// was never ASSIGNED/RUNNING) is left untouched.
func (s *Scheduler) ReportJobCancelled(jobID string) error {
	s.mu.Lock()
	job, ok := s.jobs[jobID]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}

	if job.State != JobAssigned && job.State != JobRunning {
		s.mu.Unlock()
		return nil
	}

	workerID := job.AssignedWorkerID
	job.State = JobCancelled
	delete(s.running, jobID)

	b := s.builds[job.BuildID]
	buildDone := false
	var finishedBuild *BuildSession
	if b != nil {
		b.Running--
		b.Failed++ // counted as settled, not completed
		b.recomputeProgress()
		if b.Completed+b.Failed == b.TotalJobs && b.Running == 0 && b.Pending == 0 {
			buildDone = true
			if b.State != BuildCancelled {
				b.State = BuildFailed
			}
			b.Success = false
			b.CompletedAt = time.Now()
			finishedBuild = cloneBuild(b)
		}
	}
	s.mu.Unlock()

	if workerID != "" {
		s.reg.DecrementTasks(workerID, false, 0)
	}
	if buildDone && s.OnBuildCompleted != nil {
		s.OnBuildCompleted(finishedBuild)
	}
	return nil
}

// HandleWorkerDisconnect moves every RUNNING job assigned to worker back to
// PENDING without consuming a retry slot — the job did not itself fail.
func (s *Scheduler) HandleWorkerDisconnect(workerID string) {
	s.mu.Lock()
	var requeued []*ScheduledJob
	for jobID, job := range s.running {
		if job.AssignedWorkerID != workerID {
			continue
		}
		delete(s.running, jobID)
		job.State = JobPending
		job.AssignedWorkerID = ""
		job.QueuedAt = time.Now()
		s.pending.push(job)
		requeued = append(requeued, job)

		if b := s.builds[job.BuildID]; b != nil {
			b.Running--
			b.Pending++
			b.recomputeProgress()
		}
	}
	s.mu.Unlock()

	for _, job := range requeued {
		s.reg.ReleaseTask(workerID)
		s.log.Info().Str("job_id", job.JobID).Str("worker_id", workerID).
			Msg("worker disconnected, job requeued")
	}
}

// ProcessQueue assigns as many pending jobs as currently have both a
// satisfied dependency set and an eligible worker. It stops at the first
// pending job whose dependencies are not all COMPLETED (documented
// head-of-line blocking, not a bug) and, separately, at the first job for
// which no eligible worker can be found.
func (s *Scheduler) ProcessQueue() int {
	assigned := 0
	for {
		job, worker, ok := s.tryAssignNext()
		if !ok {
			break
		}
		assigned++
		if s.OnJobAssigned != nil {
			s.OnJobAssigned(job, worker)
		}
	}
	return assigned
}

func (s *Scheduler) tryAssignNext() (*ScheduledJob, *registry.Worker, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.pending.peek()
	if !ok {
		return nil, nil, false
	}
	if !s.dependenciesSatisfied(job) {
		return nil, nil, false
	}

	criteria := registry.Criteria{RequiredCaps: job.RequiredCapabilities}
	worker, ok := s.sel.pick(criteria)
	if !ok {
		return nil, nil, false
	}

	s.pending.pop()
	now := time.Now()
	job.State = JobAssigned
	job.AssignedWorkerID = worker.ID
	job.AssignedAt = now
	job.Deadline = now.Add(time.Duration(job.TimeoutSec) * time.Second)
	s.running[job.JobID] = job

	s.reg.IncrementTasks(worker.ID)

	if b := s.builds[job.BuildID]; b != nil {
		b.Pending--
		b.Running++
		b.recomputeProgress()
	}

	return cloneJob(job), worker, true
}

func (s *Scheduler) dependenciesSatisfied(job *ScheduledJob) bool {
	for _, depID := range job.DependsOn {
		dep, ok := s.jobs[depID]
		if !ok || dep.State != JobCompleted {
			return false
		}
	}
	return true
}

// CheckTimeouts fails every RUNNING/ASSIGNED job whose deadline has passed
// without a result, returning how many were timed out.
func (s *Scheduler) CheckTimeouts() int {
	now := time.Now()
	s.mu.Lock()
	var expired []string
	for jobID, job := range s.running {
		if !job.Deadline.IsZero() && now.After(job.Deadline) {
			expired = append(expired, jobID)
		}
	}
	s.mu.Unlock()

	for _, jobID := range expired {
		s.timeoutFailure(jobID)
	}
	return len(expired)
}

// GetBuild returns a snapshot of a build session.
func (s *Scheduler) GetBuild(buildID string) (*BuildSession, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.builds[buildID]
	if !ok {
		return nil, false
	}
	return cloneBuild(b), true
}

// GetJob returns a snapshot of a job.
func (s *Scheduler) GetJob(jobID string) (*ScheduledJob, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[jobID]
	if !ok {
		return nil, false
	}
	return cloneJob(j), true
}

// QueueDepth returns the count of jobs still waiting for assignment.
func (s *Scheduler) QueueDepth() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending.len()
}

// ActiveJobs returns the count of jobs currently ASSIGNED or RUNNING.
func (s *Scheduler) ActiveJobs() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.running)
}

func cloneJob(j *ScheduledJob) *ScheduledJob {
	c := *j
	c.CompilerArgs = append([]string(nil), j.CompilerArgs...)
	c.IncludePaths = append([]string(nil), j.IncludePaths...)
	c.EnvVars = append([]string(nil), j.EnvVars...)
	c.DependsOn = append([]string(nil), j.DependsOn...)
	return &c
}

func cloneBuild(b *BuildSession) *BuildSession {
	c := *b
	c.ErrorSummary = append([]string(nil), b.ErrorSummary...)
	c.OutputArtifacts = append([]string(nil), b.OutputArtifacts...)
	c.jobIDs = append([]string(nil), b.jobIDs...)
	return &c
}
