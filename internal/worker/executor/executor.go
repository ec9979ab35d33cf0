// Package executor runs a single scheduled job's build command or compiler
// invocation on the local host and reports its outcome.
package executor

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/cyxwiz-lab/hybridbuild/internal/observability/tracing"
)

// Result is the outcome of running a Request.
type Result struct {
	Success  bool
	Stdout   string
	Stderr   string
	ExitCode int
	Duration time.Duration
}

// Request describes one job handed to a worker by the coordinator's
// JOB_REQUEST message (see protocol.JobSpecPayload).
type Request struct {
	JobID        string
	Type         string
	Compiler     string
	CompilerArgs []string
	SourceFile   string
	OutputFile   string
	BuildCommand string
	WorkingDir   string
	EnvVars      []string
	Timeout      time.Duration
}

// Executor runs a Request to completion.
type Executor interface {
	Execute(ctx context.Context, req *Request) (*Result, error)
	Name() string
}

// Run wraps executor.Execute with a tracing span, the single entry point
// the worker agent calls regardless of which Executor is configured.
func Run(ctx context.Context, e Executor, req *Request) (*Result, error) {
	ctx, span := tracing.StartSpan(ctx, "job.execute",
		trace.WithAttributes(
			tracing.AttrTaskID.String(req.JobID),
			tracing.AttrCompiler.String(req.Compiler),
			tracing.AttrSourceFile.String(req.SourceFile),
			attribute.String("executor", e.Name()),
			attribute.String("job_type", req.Type),
		),
	)
	defer span.End()

	start := time.Now()
	result, err := e.Execute(ctx, req)
	duration := time.Since(start)

	if result != nil {
		span.SetAttributes(
			tracing.AttrExitCode.Int(result.ExitCode),
			tracing.AttrDurationMs.Int64(duration.Milliseconds()),
		)
		if !result.Success {
			span.RecordError(err)
		}
	}
	if err != nil {
		span.RecordError(err)
	}

	return result, err
}
