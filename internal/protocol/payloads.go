package protocol

// Payload shapes for the handshake and steady-state message types named in
// the wire protocol. Kept in their own file so message.go stays a pure
// envelope/codec with no domain vocabulary.

// SystemInfo describes the host a worker runs on.
type SystemInfo struct {
	Arch        string `json:"arch"`
	OS          string `json:"os"`
	OSVersion   string `json:"os_version,omitempty"`
	CPUCores    int    `json:"cpu_cores"`
	CPUThreads  int    `json:"cpu_threads"`
	MemoryMB    int64  `json:"memory_mb"`
	DiskFreeMB  int64  `json:"disk_free_mb"`
}

// Tool describes a discovered build tool (compiler, build system, ...).
type Tool struct {
	Path    string `json:"path"`
	Version string `json:"version,omitempty"`
}

// HelloPayload is sent by a worker opening a connection.
type HelloPayload struct {
	Name         string          `json:"name"`
	SystemInfo   SystemInfo      `json:"system_info"`
	Capabilities uint64          `json:"capabilities"`
	Tools        map[string]Tool `json:"tools,omitempty"`
}

// WelcomePayload is the coordinator's reply once a worker is accepted
// (directly, or after a successful AUTH_RESPONSE).
type WelcomePayload struct {
	WorkerID                string `json:"worker_id"`
	ServerID                string `json:"server_id"`
	HeartbeatIntervalSec    int    `json:"heartbeat_interval_sec"`
}

// AuthChallengePayload asks a worker to respond to a challenge before being
// admitted, used when the auth method is "challenge".
type AuthChallengePayload struct {
	Nonce  string `json:"nonce"`
	Method string `json:"method"`
}

// AuthResponsePayload carries the worker's credential, either a bearer
// token (pre-shared method) or an HMAC digest over the nonce (challenge
// method).
type AuthResponsePayload struct {
	Token string `json:"token,omitempty"`
	HMAC  string `json:"hmac,omitempty"`
}

// AuthFailedPayload explains a rejected handshake.
type AuthFailedPayload struct {
	Reason string `json:"reason"`
}

// HeartbeatPayload is sent periodically by a worker while connected.
type HeartbeatPayload struct {
	CPUUsage   float64 `json:"cpu_usage"`
	MemoryUsage float64 `json:"memory_usage"`
	ActiveJobs int     `json:"active_jobs"`
}

// JobSpecPayload is the wire form of DistributedJob, carried in JOB_REQUEST.
type JobSpecPayload struct {
	JobID                string   `json:"job_id"`
	Type                 string   `json:"type"`
	Priority             int      `json:"priority"`
	SourceFile           string   `json:"source_file,omitempty"`
	OutputFile           string   `json:"output_file,omitempty"`
	Compiler             string   `json:"compiler,omitempty"`
	CompilerArgs         []string `json:"compiler_args,omitempty"`
	IncludePaths         []string `json:"include_paths,omitempty"`
	ProjectArchiveHash   string   `json:"project_archive_hash,omitempty"`
	BuildCommand         string   `json:"build_command,omitempty"`
	WorkingDir           string   `json:"working_dir,omitempty"`
	EnvVars              []string `json:"env_vars,omitempty"`
	TimeoutSec           int      `json:"timeout_sec"`
	RequiredCapabilities uint64   `json:"required_capabilities"`
}

// JobRejectPayload explains a JOB_REJECT.
type JobRejectPayload struct {
	JobID  string `json:"job_id"`
	Reason string `json:"reason"`
}

// JobResultPayload is carried by JOB_COMPLETE.
type JobResultPayload struct {
	JobID       string `json:"job_id"`
	Success     bool   `json:"success"`
	ExitCode    int    `json:"exit_code"`
	DurationSec float64 `json:"duration_sec"`
	Stdout      string `json:"stdout,omitempty"`
	OutputHash  string `json:"output_hash,omitempty"`
}

// JobFailedPayload is carried by JOB_FAILED.
type JobFailedPayload struct {
	JobID  string `json:"job_id"`
	Error  string `json:"error"`
	Stderr string `json:"stderr,omitempty"`
}

// JobCancelPayload identifies a job to cancel; an empty JobID cancels every
// job belonging to BuildID.
type JobCancelPayload struct {
	JobID   string `json:"job_id,omitempty"`
	BuildID string `json:"build_id,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

// JobCancelledPayload acknowledges a JOB_CANCEL.
type JobCancelledPayload struct {
	JobID string `json:"job_id"`
}
