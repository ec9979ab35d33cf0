package validation

import (
	"encoding/hex"
	"fmt"
	"regexp"
	"unicode"

	"github.com/cyxwiz-lab/hybridbuild/internal/protocol"
)

const (
	// MaxNameLength is the maximum length of a job or worker name.
	MaxNameLength = 128

	// MaxCompilerArgsCount is the maximum number of compiler arguments.
	MaxCompilerArgsCount = 256

	// MaxTimeoutSeconds is the maximum allowed job timeout.
	MaxTimeoutSeconds = 3600 // 1 hour

	// MaxEnvVarsCount is the maximum number of environment variable overrides.
	MaxEnvVarsCount = 64
)

var (
	// idRegex validates job/worker/build IDs (alphanumeric, dash, underscore).
	idRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
)

// Error represents a validation error.
type Error struct {
	Field   string
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// MultiError collects multiple validation errors.
type MultiError struct {
	Errors []*Error
}

func (m *MultiError) Error() string {
	if len(m.Errors) == 0 {
		return "no errors"
	}
	if len(m.Errors) == 1 {
		return m.Errors[0].Error()
	}
	return fmt.Sprintf("%s (and %d more errors)", m.Errors[0].Error(), len(m.Errors)-1)
}

func (m *MultiError) Add(field, message string) {
	m.Errors = append(m.Errors, &Error{Field: field, Message: message})
}

func (m *MultiError) HasErrors() bool {
	return len(m.Errors) > 0
}

func (m *MultiError) ToError() error {
	if !m.HasErrors() {
		return nil
	}
	return m
}

// ValidateHello validates a worker's HELLO payload.
func ValidateHello(h *protocol.HelloPayload) error {
	errs := &MultiError{}

	if h.Name == "" {
		errs.Add("name", "required")
	} else if len(h.Name) > MaxNameLength {
		errs.Add("name", fmt.Sprintf("must be <= %d characters", MaxNameLength))
	}

	if h.SystemInfo.CPUCores <= 0 {
		errs.Add("system_info.cpu_cores", "must be > 0")
	}
	if h.SystemInfo.MemoryMB <= 0 {
		errs.Add("system_info.memory_mb", "must be > 0")
	}
	if h.SystemInfo.Arch == "" {
		errs.Add("system_info.arch", "required")
	}
	if h.SystemInfo.OS == "" {
		errs.Add("system_info.os", "required")
	}

	for name, tool := range h.Tools {
		if tool.Path == "" {
			errs.Add("tools."+name+".path", "required")
		}
	}

	return errs.ToError()
}

// ValidateJobSpec validates a JOB_REQUEST payload before it is scheduled.
func ValidateJobSpec(job *protocol.JobSpecPayload) error {
	errs := &MultiError{}

	if job.JobID == "" {
		errs.Add("job_id", "required")
	} else {
		if len(job.JobID) > MaxNameLength {
			errs.Add("job_id", fmt.Sprintf("must be <= %d characters", MaxNameLength))
		}
		if !idRegex.MatchString(job.JobID) {
			errs.Add("job_id", "must contain only alphanumeric, dash, or underscore")
		}
	}

	if job.Type == "" {
		errs.Add("type", "required")
	}

	if job.BuildCommand == "" && job.Compiler == "" {
		errs.Add("build_command", "either build_command or compiler must be set")
	}

	if job.Compiler != "" && !isValidCompiler(job.Compiler) {
		errs.Add("compiler", "invalid compiler name")
	}

	if job.ProjectArchiveHash != "" && !isHexString(job.ProjectArchiveHash) {
		errs.Add("project_archive_hash", "must be a hex string")
	}

	if len(job.CompilerArgs) > MaxCompilerArgsCount {
		errs.Add("compiler_args", fmt.Sprintf("must have <= %d arguments", MaxCompilerArgsCount))
	}

	if len(job.EnvVars) > MaxEnvVarsCount {
		errs.Add("env_vars", fmt.Sprintf("must have <= %d entries", MaxEnvVarsCount))
	}

	if job.TimeoutSec < 0 {
		errs.Add("timeout_sec", "must be >= 0")
	}
	if job.TimeoutSec > MaxTimeoutSeconds {
		errs.Add("timeout_sec", fmt.Sprintf("must be <= %d", MaxTimeoutSeconds))
	}

	if job.Priority < 0 || job.Priority > 100 {
		errs.Add("priority", "must be between 0 and 100")
	}

	return errs.ToError()
}

func isHexString(s string) bool {
	if len(s) == 0 || len(s)%2 != 0 {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}

func isValidCompiler(name string) bool {
	valid := map[string]bool{
		"gcc": true, "g++": true, "clang": true, "clang++": true,
		"cc": true, "c++": true,
	}
	if valid[name] {
		return true
	}
	// Also allow paths like /usr/bin/gcc.
	for _, char := range name {
		if !unicode.IsLetter(char) && !unicode.IsDigit(char) && char != '/' && char != '-' && char != '_' && char != '+' && char != '.' {
			return false
		}
	}
	return true
}
