// Package scheduler owns build sessions, the pending-job priority queue,
// and job assignment, retry, and timeout handling.
package scheduler

import (
	"time"

	"github.com/cyxwiz-lab/hybridbuild/internal/registry"
)

// JobType enumerates the kinds of work a DistributedJob can represent.
type JobType string

const (
	JobCompile      JobType = "compile"
	JobLink         JobType = "link"
	JobCMakeConfig  JobType = "cmake_config"
	JobCMakeBuild   JobType = "cmake_build"
	JobFullBuild    JobType = "full_build"
	JobCustom       JobType = "custom"
)

// JobState is a ScheduledJob's position in its lifecycle.
type JobState string

const (
	JobPending   JobState = "PENDING"
	JobAssigned  JobState = "ASSIGNED"
	JobRunning   JobState = "RUNNING"
	JobCompleted JobState = "COMPLETED"
	JobFailed    JobState = "FAILED"
	JobCancelled JobState = "CANCELLED"
	JobTimedOut  JobState = "TIMEOUT"
	JobRetry     JobState = "RETRY"
)

// Strategy is how a build is decomposed into jobs.
type Strategy string

const (
	StrategyCompileUnits Strategy = "COMPILE_UNITS"
	StrategyTargets      Strategy = "TARGETS"
	StrategyWholeProject Strategy = "WHOLE_PROJECT"
	StrategyHybrid       Strategy = "HYBRID"
)

// BuildState mirrors a BuildSession's overall progress.
type BuildState string

const (
	BuildPending   BuildState = "PENDING"
	BuildRunning   BuildState = "RUNNING"
	BuildCompleted BuildState = "COMPLETED"
	BuildFailed    BuildState = "FAILED"
	BuildCancelled BuildState = "CANCELLED"
)

// Algorithm selects among load-balancing policies for assignment.
type Algorithm string

const (
	AlgoRoundRobin    Algorithm = "ROUND_ROBIN"
	AlgoLeastLoaded   Algorithm = "LEAST_LOADED"
	AlgoLeastLatency  Algorithm = "LEAST_LATENCY"
	AlgoWeighted      Algorithm = "WEIGHTED"
	AlgoRandom        Algorithm = "RANDOM"
)

// DistributedJob is the caller-supplied job specification, independent of
// any scheduling state.
type DistributedJob struct {
	JobID                string
	Type                 JobType
	Priority             int
	SourceFile           string
	OutputFile           string
	Compiler             string
	CompilerArgs         []string
	IncludePaths         []string
	ProjectArchiveHash   string
	BuildCommand         string
	WorkingDir           string
	EnvVars              []string
	TimeoutSec           int
	RequiredCapabilities registry.Capability
}

// ScheduledJob extends DistributedJob with the scheduler's own state.
type ScheduledJob struct {
	DistributedJob

	BuildID          string
	Sequence         int
	State            JobState
	AssignedWorkerID string
	QueuedAt         time.Time
	AssignedAt       time.Time
	StartedAt        time.Time
	CompletedAt      time.Time
	RetryCount       int
	MaxRetries       int
	LastError        string
	Deadline         time.Time
	DependsOn        []string
}

// JobResult is what a worker reports on JOB_COMPLETE.
type JobResult struct {
	Success    bool
	ExitCode   int
	DurationSec float64
	Stdout     string
	Stderr     string
}

// BuildSession is a client-submitted unit of work decomposed into one or
// more jobs sharing a build ID.
type BuildSession struct {
	BuildID     string
	ProjectName string
	Strategy    Strategy
	State       BuildState

	TotalJobs int
	Pending   int
	Running   int
	Completed int
	Failed    int

	ProgressPercent float64
	StartedAt       time.Time
	CompletedAt     time.Time
	Success         bool
	ErrorSummary    []string
	OutputArtifacts []string

	jobIDs []string
}

func (b *BuildSession) recomputeProgress() {
	if b.TotalJobs == 0 {
		b.ProgressPercent = 0
		return
	}
	done := b.Completed + b.Failed
	b.ProgressPercent = 100 * float64(done) / float64(b.TotalJobs)
}
