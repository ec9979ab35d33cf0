package coordinator

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/cyxwiz-lab/hybridbuild/internal/registry"
	"github.com/cyxwiz-lab/hybridbuild/internal/resilience"
	"github.com/cyxwiz-lab/hybridbuild/internal/scheduler"
	"github.com/cyxwiz-lab/hybridbuild/internal/security/auth"
)

// HTTPAPI exposes the coordinator's build-submission surface over plain
// HTTP/JSON, for cmd/hgbuild and any other external collaborator that
// doesn't want to speak the worker wire protocol. It is mounted on the
// same mux as the transport.Server's websocket handler.
type HTTPAPI struct {
	c *Coordinator
}

// NewHTTPAPI wraps c for HTTP exposure.
func NewHTTPAPI(c *Coordinator) *HTTPAPI {
	return &HTTPAPI{c: c}
}

// Register mounts the API's handlers onto mux under prefix "/api/v1".
func (h *HTTPAPI) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/v1/builds", h.authenticated(h.handleBuilds))
	mux.HandleFunc("/api/v1/builds/", h.authenticated(h.handleBuildByID))
	mux.HandleFunc("/api/v1/workers", h.authenticated(h.handleWorkers))
	mux.HandleFunc("/api/v1/stats", h.authenticated(h.handleStats))
}

// authenticated wraps handler with a bearer-token check when the
// coordinator was started with an auth token; it is a no-op otherwise, to
// match the worker handshake's own "empty token disables auth" rule.
func (h *HTTPAPI) authenticated(handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		expected := h.c.cfg.AuthToken
		if expected == "" {
			handler(w, r)
			return
		}
		provided, ok := auth.ParseBearerToken(r.Header.Get("Authorization"))
		if !ok || !auth.ValidateToken(provided, expected) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		handler(w, r)
	}
}

type submitJobRequest struct {
	JobID              string   `json:"job_id"`
	Type               string   `json:"type"`
	Priority           int      `json:"priority"`
	SourceFile         string   `json:"source_file"`
	OutputFile         string   `json:"output_file"`
	Compiler           string   `json:"compiler"`
	CompilerArgs       []string `json:"compiler_args"`
	IncludePaths       []string `json:"include_paths"`
	ProjectArchiveHash string   `json:"project_archive_hash"`
	BuildCommand       string   `json:"build_command"`
	WorkingDir         string   `json:"working_dir"`
	EnvVars            []string `json:"env_vars"`
	TimeoutSec         int      `json:"timeout_sec"`
}

type submitBuildRequest struct {
	ProjectName string             `json:"project_name"`
	Strategy    string             `json:"strategy"`
	Jobs        []submitJobRequest `json:"jobs"`
}

type submitBuildResponse struct {
	BuildID string `json:"build_id"`
}

// handleBuilds handles POST /api/v1/builds to submit a new build.
func (h *HTTPAPI) handleBuilds(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req submitBuildRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "malformed request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if len(req.Jobs) == 0 {
		http.Error(w, "build must contain at least one job", http.StatusBadRequest)
		return
	}

	jobs := make([]scheduler.DistributedJob, len(req.Jobs))
	for i, j := range req.Jobs {
		jobs[i] = scheduler.DistributedJob{
			JobID:              j.JobID,
			Type:               scheduler.JobType(j.Type),
			Priority:           j.Priority,
			SourceFile:         j.SourceFile,
			OutputFile:         j.OutputFile,
			Compiler:           j.Compiler,
			CompilerArgs:       j.CompilerArgs,
			IncludePaths:       j.IncludePaths,
			ProjectArchiveHash: j.ProjectArchiveHash,
			BuildCommand:       j.BuildCommand,
			WorkingDir:         j.WorkingDir,
			EnvVars:            j.EnvVars,
			TimeoutSec:         j.TimeoutSec,
		}
	}

	strategy := scheduler.Strategy(req.Strategy)
	if strategy == "" {
		strategy = scheduler.StrategyCompileUnits
	}

	buildID, err := h.c.SubmitBuild(req.ProjectName, strategy, jobs)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	writeJSON(w, http.StatusAccepted, submitBuildResponse{BuildID: buildID})
}

// handleBuildByID handles GET and DELETE on /api/v1/builds/{id} and
// GET /api/v1/builds/{id}/wait.
func (h *HTTPAPI) handleBuildByID(w http.ResponseWriter, r *http.Request) {
	id, action := splitBuildPath(r.URL.Path)
	if id == "" {
		http.Error(w, "missing build id", http.StatusBadRequest)
		return
	}

	switch {
	case r.Method == http.MethodDelete:
		reason := r.URL.Query().Get("reason")
		if reason == "" {
			reason = "cancelled via API"
		}
		if err := h.c.CancelBuild(id, reason); err != nil {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusNoContent)

	case r.Method == http.MethodGet && action == "wait":
		timeout := 60 * time.Second
		if q := r.URL.Query().Get("timeout_sec"); q != "" {
			if d, err := time.ParseDuration(q + "s"); err == nil {
				timeout = d
			}
		}
		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()

		build, err := h.c.WaitBuild(ctx, id)
		if err != nil {
			http.Error(w, err.Error(), http.StatusGatewayTimeout)
			return
		}
		writeJSON(w, http.StatusOK, build)

	case r.Method == http.MethodGet:
		build, ok := h.c.Sched.GetBuild(id)
		if !ok {
			http.Error(w, "build not found", http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, build)

	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// splitBuildPath extracts the build id and optional trailing action (e.g.
// "wait") from a /api/v1/builds/{id}[/{action}] path.
func splitBuildPath(path string) (id, action string) {
	const prefix = "/api/v1/builds/"
	if len(path) <= len(prefix) {
		return "", ""
	}
	rest := path[len(prefix):]
	for i := 0; i < len(rest); i++ {
		if rest[i] == '/' {
			return rest[:i], rest[i+1:]
		}
	}
	return rest, ""
}

// workerView is the external-facing projection of a registry.Worker.
type workerView struct {
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
	LastHeartbeat    int64   `json:"last_heartbeat"`
}

// handleWorkers handles GET /api/v1/workers.
func (h *HTTPAPI) handleWorkers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	workers := h.c.Registry.List()
	views := make([]workerView, len(workers))
	for i, wk := range workers {
		views[i] = toWorkerView(wk, h.c.Circuit)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"workers": views,
		"count":   len(views),
	})
}

func toWorkerView(wk *registry.Worker, circuit *resilience.CircuitManager) workerView {
	v := workerView{
		ID:               wk.ID,
		Name:             wk.Name,
		Hostname:         wk.Hostname,
		State:            wk.State.String(),
		ActiveJobs:       wk.ActiveJobs,
		MaxJobs:          wk.MaxJobs,
		HealthScore:      wk.HealthScore,
		CPUUsage:         wk.CPUUsage,
		MemoryUsage:      wk.MemoryUsage,
		NetworkLatencyMs: wk.NetworkLatencyMs,
		DiscoverySource:  wk.DiscoverySource,
		LastHeartbeat:    wk.LastHeartbeat.Unix(),
	}
	if circuit != nil {
		v.CircuitState = string(circuit.GetState(wk.ID))
	}
	return v
}

// handleStats handles GET /api/v1/stats.
func (h *HTTPAPI) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, h.c.StatsSnapshot())
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
