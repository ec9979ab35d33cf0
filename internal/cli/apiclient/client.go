// Package apiclient is the hgbuild CLI's HTTP client for the coordinator's
// build submission API. It is the client-side counterpart of
// internal/coordinator/httpapi.go; the two packages share a JSON contract
// but not Go types, the same way a REST client and server normally don't.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Client talks to one coordinator's HTTP API.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// Config configures a Client.
type Config struct {
	Address string // host:port, as used by the coordinator's HTTP listener
	Token   string
	Timeout time.Duration
}

// New creates a Client for the given coordinator address.
func New(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: "http://" + cfg.Address,
		token:   cfg.Token,
		http:    &http.Client{Timeout: timeout},
	}
}

// Job mirrors scheduler.DistributedJob's wire shape for build submission.
type Job struct {
	JobID              string   `json:"job_id"`
	Type               string   `json:"type"`
	Priority           int      `json:"priority"`
	SourceFile         string   `json:"source_file,omitempty"`
	OutputFile         string   `json:"output_file,omitempty"`
	Compiler           string   `json:"compiler,omitempty"`
	CompilerArgs       []string `json:"compiler_args,omitempty"`
	IncludePaths       []string `json:"include_paths,omitempty"`
	ProjectArchiveHash string   `json:"project_archive_hash,omitempty"`
	BuildCommand       string   `json:"build_command,omitempty"`
	WorkingDir         string   `json:"working_dir,omitempty"`
	EnvVars            []string `json:"env_vars,omitempty"`
	TimeoutSec         int      `json:"timeout_sec,omitempty"`
}

// SubmitBuildRequest is the body of POST /api/v1/builds.
type SubmitBuildRequest struct {
	ProjectName string `json:"project_name"`
	Strategy    string `json:"strategy"`
	Jobs        []Job  `json:"jobs"`
}

// JobStatus mirrors scheduler.ScheduledJob's reportable fields.
type JobStatus struct {
	JobID            string `json:"JobID"`
	State            string `json:"State"`
	AssignedWorkerID string `json:"AssignedWorkerID"`
	LastError        string `json:"LastError"`
}

// Build mirrors scheduler.BuildSession.
type Build struct {
	BuildID         string   `json:"BuildID"`
	ProjectName     string   `json:"ProjectName"`
	State           string   `json:"State"`
	TotalJobs       int      `json:"TotalJobs"`
	Pending         int      `json:"Pending"`
	Running         int      `json:"Running"`
	Completed       int      `json:"Completed"`
	Failed          int      `json:"Failed"`
	ProgressPercent float64  `json:"ProgressPercent"`
	Success         bool     `json:"Success"`
	ErrorSummary    []string `json:"ErrorSummary"`
	OutputArtifacts []string `json:"OutputArtifacts"`
}

// Stats mirrors coordinator.Stats.
type Stats struct {
	TotalJobs     int64 `json:"TotalJobs"`
	SuccessJobs   int64 `json:"SuccessJobs"`
	FailedJobs    int64 `json:"FailedJobs"`
	ActiveJobs    int   `json:"ActiveJobs"`
	QueuedJobs    int   `json:"QueuedJobs"`
	TotalWorkers  int   `json:"TotalWorkers"`
	OnlineWorkers int   `json:"OnlineWorkers"`
	UptimeSeconds int64 `json:"UptimeSeconds"`
}

// Worker is the external-facing worker projection returned by GET /api/v1/workers.
type Worker struct {
	ID               string  `json:"id"`
	Name             string  `json:"name"`
	Hostname         string  `json:"hostname"`
	State            string  `json:"state"`
	ActiveJobs       int     `json:"active_jobs"`
	MaxJobs          int     `json:"max_jobs"`
	HealthScore      float64 `json:"health_score"`
	CPUUsage         float64 `json:"cpu_usage"`
	MemoryUsage      float64 `json:"memory_usage"`
	NetworkLatencyMs float64 `json:"network_latency_ms"`
	CircuitState     string  `json:"circuit_state"`
	DiscoverySource  string  `json:"discovery_source"`
}

type workersResponse struct {
	Workers []Worker `json:"workers"`
	Count   int      `json:"count"`
}

// SubmitBuild submits a build and returns its assigned build ID.
func (c *Client) SubmitBuild(ctx context.Context, req SubmitBuildRequest) (string, error) {
	var resp struct {
		BuildID string `json:"build_id"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/v1/builds", req, &resp); err != nil {
		return "", err
	}
	return resp.BuildID, nil
}

// WaitBuild blocks (up to the coordinator's own wait timeout) until the
// named build finishes or the context is cancelled.
func (c *Client) WaitBuild(ctx context.Context, buildID string, timeout time.Duration) (*Build, error) {
	path := fmt.Sprintf("/api/v1/builds/%s/wait?timeout_sec=%d", buildID, int(timeout.Seconds()))
	var build Build
	if err := c.do(ctx, http.MethodGet, path, nil, &build); err != nil {
		return nil, err
	}
	return &build, nil
}

// GetBuild fetches the current state of a build without waiting.
func (c *Client) GetBuild(ctx context.Context, buildID string) (*Build, error) {
	var build Build
	if err := c.do(ctx, http.MethodGet, "/api/v1/builds/"+buildID, nil, &build); err != nil {
		return nil, err
	}
	return &build, nil
}

// CancelBuild cancels a build in progress.
func (c *Client) CancelBuild(ctx context.Context, buildID, reason string) error {
	path := "/api/v1/builds/" + buildID
	if reason != "" {
		path += "?reason=" + reason
	}
	return c.do(ctx, http.MethodDelete, path, nil, nil)
}

// ListWorkers returns every worker known to the coordinator's registry.
func (c *Client) ListWorkers(ctx context.Context) ([]Worker, int, error) {
	var resp workersResponse
	if err := c.do(ctx, http.MethodGet, "/api/v1/workers", nil, &resp); err != nil {
		return nil, 0, err
	}
	return resp.Workers, resp.Count, nil
}

// GetStats fetches the coordinator's point-in-time stats snapshot.
func (c *Client) GetStats(ctx context.Context) (*Stats, error) {
	var stats Stats
	if err := c.do(ctx, http.MethodGet, "/api/v1/stats", nil, &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("apiclient: marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("apiclient: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("apiclient: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("apiclient: %s %s: %s: %s", method, path, resp.Status, bytes.TrimSpace(msg))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("apiclient: decode response: %w", err)
	}
	return nil
}
