package executor

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"runtime"
)

// NativeExecutor runs a job's command directly on the host: either an
// arbitrary BuildCommand (cmake/make/ninja invocations, full_build jobs) or
// a single Compiler invocation over CompilerArgs/SourceFile/OutputFile
// (compile jobs). Both run in WorkingDir with EnvVars appended to the
// worker process's own environment.
type NativeExecutor struct{}

// NewNativeExecutor creates a NativeExecutor.
func NewNativeExecutor() *NativeExecutor {
	return &NativeExecutor{}
}

// Name returns the executor name.
func (e *NativeExecutor) Name() string {
	return "native"
}

// Execute runs req.BuildCommand if set, otherwise assembles and runs a
// compiler invocation from req.Compiler/CompilerArgs/SourceFile/OutputFile.
func (e *NativeExecutor) Execute(ctx context.Context, req *Request) (*Result, error) {
	var cmd *exec.Cmd
	if req.BuildCommand != "" {
		cmd = e.shellCommand(ctx, req.BuildCommand)
	} else {
		if req.Compiler == "" {
			return nil, fmt.Errorf("executor: job %s has neither build_command nor compiler", req.JobID)
		}
		args := buildCompileArgs(req.CompilerArgs, req.SourceFile, req.OutputFile)
		cmd = exec.CommandContext(ctx, req.Compiler, args...)
	}

	if req.WorkingDir != "" {
		cmd.Dir = req.WorkingDir
	}
	if len(req.EnvVars) > 0 {
		cmd.Env = append(os.Environ(), req.EnvVars...)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()

	result := &Result{Stdout: stdout.String(), Stderr: stderr.String()}

	if ctx.Err() == context.DeadlineExceeded {
		result.ExitCode = -1
		result.Success = false
		return result, nil
	}

	if err != nil {
		exitErr, ok := err.(*exec.ExitError)
		if !ok {
			return nil, fmt.Errorf("executor: run job %s: %w", req.JobID, err)
		}
		result.ExitCode = exitErr.ExitCode()
		result.Success = false
		return result, nil
	}

	result.ExitCode = 0
	result.Success = true
	return result, nil
}

func (e *NativeExecutor) shellCommand(ctx context.Context, command string) *exec.Cmd {
	if runtime.GOOS == "windows" {
		return exec.CommandContext(ctx, "cmd", "/C", command)
	}
	return exec.CommandContext(ctx, "sh", "-c", command)
}

// buildCompileArgs assembles compiler arguments, ensuring -c and a single
// -o output path while dropping any input file the caller's args happened
// to carry so sourceFile is never compiled twice.
func buildCompileArgs(originalArgs []string, sourceFile, outputFile string) []string {
	args := make([]string, 0, len(originalArgs)+4)

	hasCompileOnly := false
	skipNext := false
	for _, arg := range originalArgs {
		if skipNext {
			skipNext = false
			continue
		}
		switch arg {
		case "-c":
			hasCompileOnly = true
			args = append(args, arg)
		case "-o":
			skipNext = true
		default:
			if !looksLikeSourceFile(arg) {
				args = append(args, arg)
			}
		}
	}

	if !hasCompileOnly {
		args = append(args, "-c")
	}
	if sourceFile != "" {
		args = append(args, sourceFile)
	}
	if outputFile != "" {
		args = append(args, "-o", outputFile)
	}
	return args
}

func looksLikeSourceFile(arg string) bool {
	if arg == "" || arg[0] == '-' {
		return false
	}
	for _, ext := range []string{".c", ".cc", ".cpp", ".cxx", ".i", ".ii", ".s", ".S"} {
		if len(arg) > len(ext) && arg[len(arg)-len(ext):] == ext {
			return true
		}
	}
	return false
}
