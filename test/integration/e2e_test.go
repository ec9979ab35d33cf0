package integration

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/cyxwiz-lab/hybridbuild/internal/cache"
	"github.com/cyxwiz-lab/hybridbuild/internal/cli/apiclient"
	"github.com/cyxwiz-lab/hybridbuild/internal/coordinator"
	"github.com/cyxwiz-lab/hybridbuild/internal/registry"
	"github.com/cyxwiz-lab/hybridbuild/internal/scheduler"
	"github.com/cyxwiz-lab/hybridbuild/internal/transport"
	"github.com/cyxwiz-lab/hybridbuild/internal/worker/agent"
	"github.com/cyxwiz-lab/hybridbuild/internal/worker/executor"
)

// testCluster wires an in-process coordinator (transport + HTTP submission
// API) and one worker agent together, the same pieces cmd/hg-coord and
// cmd/hg-worker wire up, but pointed at an httptest server instead of a
// bound TCP port so parallel test runs never collide.
type testCluster struct {
	httpSrv *httptest.Server
	coord   *coordinator.Coordinator
	agent   *agent.Agent
	api     *apiclient.Client
	cancel  context.CancelFunc
}

func newTestCluster(t *testing.T) *testCluster {
	t.Helper()
	logger := zerolog.Nop()

	reg := registry.NewInMemoryRegistry(registry.DefaultConfig())
	sched := scheduler.New(scheduler.DefaultConfig(), reg, logger)

	cacheDir := t.TempDir()
	artifactCache, err := cache.New(context.Background(), cache.Config{
		Store: cache.DefaultStoreConfig(cacheDir),
	}, logger)
	if err != nil {
		t.Fatalf("init artifact cache: %v", err)
	}

	trans := transport.NewServer(transport.ServerConfig{}, logger)
	coordCfg := coordinator.DefaultConfig()
	coord := coordinator.New(coordCfg, trans, reg, sched, artifactCache, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", trans.Handler)
	coordinator.NewHTTPAPI(coord).Register(mux)

	httpSrv := httptest.NewServer(mux)

	apiAddr := httpSrv.Listener.Addr().String()
	api := apiclient.New(apiclient.Config{Address: apiAddr, Timeout: 30 * time.Second})

	wsAddr := "ws://" + apiAddr + "/ws"
	agentCfg := agent.DefaultConfig(wsAddr)
	agentCfg.Name = "e2e-test-worker"
	agentCfg.MaxConcurrentJobs = 2

	a := agent.New(agentCfg, executor.NewNativeExecutor(), logger)

	ctx, cancel := context.WithCancel(context.Background())
	go a.Run(ctx)

	c := &testCluster{httpSrv: httpSrv, coord: coord, agent: a, api: api, cancel: cancel}
	c.waitForWorker(t)
	return c
}

func (c *testCluster) waitForWorker(t *testing.T) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		workers, _, err := c.api.ListWorkers(context.Background())
		if err == nil && len(workers) > 0 {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatal("worker never registered with coordinator")
}

func (c *testCluster) close() {
	c.cancel()
	c.httpSrv.Close()
}

func requireGCC(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("gcc"); err != nil {
		t.Skip("gcc not found, skipping E2E test")
	}
}

func TestE2E_CoordinatorWorkerFlow(t *testing.T) {
	requireGCC(t)

	cluster := newTestCluster(t)
	defer cluster.close()

	ctx := context.Background()

	workers, count, err := cluster.api.ListWorkers(ctx)
	if err != nil {
		t.Fatalf("ListWorkers failed: %v", err)
	}
	if count != 1 {
		t.Errorf("expected 1 worker, got %d", count)
	}
	if len(workers) != 1 {
		t.Fatalf("expected 1 worker in list, got %d", len(workers))
	}

	stats, err := cluster.api.GetStats(ctx)
	if err != nil {
		t.Fatalf("GetStats failed: %v", err)
	}
	if stats.TotalWorkers != 1 {
		t.Errorf("expected 1 total worker in stats, got %d", stats.TotalWorkers)
	}

	t.Log("E2E: coordinator and worker communication successful")
}

func TestE2E_CompileThroughCoordinator(t *testing.T) {
	requireGCC(t)

	cluster := newTestCluster(t)
	defer cluster.close()

	tmpDir := t.TempDir()
	srcFile := filepath.Join(tmpDir, "main.c")
	outFile := filepath.Join(tmpDir, "main.o")
	if err := os.WriteFile(srcFile, []byte("int main(void) { return 0; }\n"), 0644); err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	job := apiclient.Job{
		JobID:        "e2e-compile-001",
		Type:         string(scheduler.JobCompile),
		SourceFile:   srcFile,
		OutputFile:   outFile,
		Compiler:     "gcc",
		CompilerArgs: []string{"-c", "-O2"},
		TimeoutSec:   30,
	}

	buildID, err := cluster.api.SubmitBuild(ctx, apiclient.SubmitBuildRequest{
		ProjectName: "e2e-compile",
		Strategy:    string(scheduler.StrategyCompileUnits),
		Jobs:        []apiclient.Job{job},
	})
	if err != nil {
		t.Fatalf("SubmitBuild failed: %v", err)
	}

	build, err := cluster.api.WaitBuild(ctx, buildID, 30*time.Second)
	if err != nil {
		t.Fatalf("WaitBuild failed: %v", err)
	}

	if !build.Success {
		t.Fatalf("expected build to succeed, errors: %v", build.ErrorSummary)
	}

	info, err := os.Stat(outFile)
	if err != nil {
		t.Fatalf("expected output object file to exist: %v", err)
	}
	if info.Size() == 0 {
		t.Error("expected non-empty object file")
	}

	t.Logf("compilation succeeded: %d bytes", info.Size())
}

func TestE2E_CompileError(t *testing.T) {
	requireGCC(t)

	cluster := newTestCluster(t)
	defer cluster.close()

	tmpDir := t.TempDir()
	srcFile := filepath.Join(tmpDir, "bad.c")
	outFile := filepath.Join(tmpDir, "bad.o")
	if err := os.WriteFile(srcFile, []byte("this is not valid C code { syntax error }\n"), 0644); err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	job := apiclient.Job{
		JobID:        "e2e-compile-error-001",
		Type:         string(scheduler.JobCompile),
		SourceFile:   srcFile,
		OutputFile:   outFile,
		Compiler:     "gcc",
		CompilerArgs: []string{"-c"},
		TimeoutSec:   30,
	}

	buildID, err := cluster.api.SubmitBuild(ctx, apiclient.SubmitBuildRequest{
		ProjectName: "e2e-compile-error",
		Strategy:    string(scheduler.StrategyCompileUnits),
		Jobs:        []apiclient.Job{job},
	})
	if err != nil {
		t.Fatalf("SubmitBuild failed: %v", err)
	}

	build, err := cluster.api.WaitBuild(ctx, buildID, 30*time.Second)
	if err != nil {
		t.Fatalf("WaitBuild failed: %v", err)
	}

	if build.Success {
		t.Error("expected build to fail for invalid source")
	}
	if len(build.ErrorSummary) == 0 {
		t.Error("expected a non-empty error summary")
	}

	if _, err := os.Stat(outFile); err == nil {
		t.Error("expected no object file to be produced for a failed compile")
	}

	t.Logf("compile error captured correctly: %v", build.ErrorSummary)
}
