package coordinator

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/cyxwiz-lab/hybridbuild/internal/cache"
	"github.com/cyxwiz-lab/hybridbuild/internal/protocol"
	"github.com/cyxwiz-lab/hybridbuild/internal/registry"
	"github.com/cyxwiz-lab/hybridbuild/internal/scheduler"
	"github.com/cyxwiz-lab/hybridbuild/internal/transport"
)

func newTestCoordinator(t *testing.T, authToken string) (*Coordinator, *httptest.Server) {
	t.Helper()
	log := zerolog.Nop()

	reg := registry.NewInMemoryRegistry(registry.Config{
		MaxMissedHeartbeats:  3,
		OfflineRemovalDelay:  time.Minute,
		HeartbeatSweepPeriod: time.Hour,
	})
	t.Cleanup(reg.Close)

	sched := scheduler.New(scheduler.DefaultConfig(), reg, log)

	artifactCache, err := cache.New(nil, cache.Config{Store: cache.DefaultStoreConfig(t.TempDir())}, log)
	if err != nil {
		t.Fatal(err)
	}

	trans := transport.NewServer(transport.ServerConfig{}, log)

	cfg := DefaultConfig()
	cfg.AuthToken = authToken
	co := New(cfg, trans, reg, sched, artifactCache, log)

	httpSrv := httptest.NewServer(http.HandlerFunc(trans.Handler))
	t.Cleanup(httpSrv.Close)
	return co, httpSrv
}

func dialWorker(t *testing.T, httpSrv *httptest.Server) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(httpSrv.URL, "http")
	dialer := websocket.Dialer{Subprotocols: []string{transport.Subprotocol}}
	conn, _, err := dialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) *protocol.Message {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	msg, err := protocol.Decode(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	return msg
}

func sendMessage(t *testing.T, conn *websocket.Conn, msgType string, payload any) {
	t.Helper()
	msg, err := protocol.NewMessage(msgType, "worker", payload)
	if err != nil {
		t.Fatal(err)
	}
	data, err := protocol.Encode(msg)
	if err != nil {
		t.Fatal(err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		t.Fatal(err)
	}
}

func TestHelloWithoutAuthReceivesWelcome(t *testing.T) {
	co, httpSrv := newTestCoordinator(t, "")
	conn := dialWorker(t, httpSrv)

	sendMessage(t, conn, protocol.TypeHello, protocol.HelloPayload{
		Name:         "worker-a",
		SystemInfo:   protocol.SystemInfo{Arch: "x86_64", OS: "linux", CPUCores: 8, MemoryMB: 16384},
		Capabilities: uint64(registry.CapCompileC),
	})

	welcome := readMessage(t, conn)
	if welcome.Type != protocol.TypeWelcome {
		t.Fatalf("expected WELCOME, got %s", welcome.Type)
	}
	payload, err := protocol.DecodePayload[protocol.WelcomePayload](welcome)
	if err != nil {
		t.Fatal(err)
	}
	if payload.WorkerID == "" {
		t.Error("expected a non-empty assigned worker id")
	}

	if co.Registry.Count() != 1 {
		t.Errorf("expected 1 registered worker, got %d", co.Registry.Count())
	}
}

func TestHelloWithAuthRequiresChallengeResponse(t *testing.T) {
	token := "a-token-that-is-at-least-32-characters-long"
	co, httpSrv := newTestCoordinator(t, token)
	conn := dialWorker(t, httpSrv)

	sendMessage(t, conn, protocol.TypeHello, protocol.HelloPayload{
		Name:       "worker-b",
		SystemInfo: protocol.SystemInfo{Arch: "x86_64", OS: "linux", CPUCores: 4, MemoryMB: 8192},
	})

	challenge := readMessage(t, conn)
	if challenge.Type != protocol.TypeAuthChallenge {
		t.Fatalf("expected AUTH_CHALLENGE, got %s", challenge.Type)
	}

	sendMessage(t, conn, protocol.TypeAuthResponse, protocol.AuthResponsePayload{Token: token})

	welcome := readMessage(t, conn)
	if welcome.Type != protocol.TypeWelcome {
		t.Fatalf("expected WELCOME after valid auth, got %s", welcome.Type)
	}
	if co.Registry.Count() != 1 {
		t.Errorf("expected 1 registered worker, got %d", co.Registry.Count())
	}
}

func TestHelloWithWrongTokenIsRejected(t *testing.T) {
	token := "a-token-that-is-at-least-32-characters-long"
	co, httpSrv := newTestCoordinator(t, token)
	conn := dialWorker(t, httpSrv)

	sendMessage(t, conn, protocol.TypeHello, protocol.HelloPayload{
		Name:       "worker-c",
		SystemInfo: protocol.SystemInfo{Arch: "x86_64", OS: "linux", CPUCores: 4, MemoryMB: 8192},
	})
	readMessage(t, conn) // AUTH_CHALLENGE

	sendMessage(t, conn, protocol.TypeAuthResponse, protocol.AuthResponsePayload{Token: "wrong-token-wrong-token-wrong-token"})

	failed := readMessage(t, conn)
	if failed.Type != protocol.TypeAuthFailed {
		t.Fatalf("expected AUTH_FAILED, got %s", failed.Type)
	}
	if co.Registry.Count() != 0 {
		t.Errorf("expected no registered worker after rejected auth, got %d", co.Registry.Count())
	}
}

func TestJobLifecycleAssignCompleteFinishesBuild(t *testing.T) {
	co, httpSrv := newTestCoordinator(t, "")
	conn := dialWorker(t, httpSrv)

	sendMessage(t, conn, protocol.TypeHello, protocol.HelloPayload{
		Name:       "worker-d",
		SystemInfo: protocol.SystemInfo{Arch: "x86_64", OS: "linux", CPUCores: 4, MemoryMB: 8192},
	})
	welcome := readMessage(t, conn)
	welcomePayload, _ := protocol.DecodePayload[protocol.WelcomePayload](welcome)

	sendMessage(t, conn, protocol.TypeHeartbeat, protocol.HeartbeatPayload{})
	readMessage(t, conn) // HEARTBEAT_ACK

	buildID, err := co.SubmitBuild("demo", scheduler.StrategyCompileUnits, []scheduler.DistributedJob{
		{Type: scheduler.JobCompile, SourceFile: "a.c"},
	})
	if err != nil {
		t.Fatal(err)
	}

	jobReq := readMessage(t, conn)
	if jobReq.Type != protocol.TypeJobRequest {
		t.Fatalf("expected JOB_REQUEST, got %s", jobReq.Type)
	}
	spec, err := protocol.DecodePayload[protocol.JobSpecPayload](jobReq)
	if err != nil {
		t.Fatal(err)
	}

	sendMessage(t, conn, protocol.TypeJobComplete, protocol.JobResultPayload{
		JobID: spec.JobID, Success: true, ExitCode: 0, DurationSec: 0.5,
	})

	waitForBuild(t, co, buildID)

	if welcomePayload.WorkerID == "" {
		t.Fatal("expected a worker id from WELCOME")
	}
}

func TestAssignedJobWithCachedOutputSkipsWorker(t *testing.T) {
	co, httpSrv := newTestCoordinator(t, "")
	conn := dialWorker(t, httpSrv)

	sendMessage(t, conn, protocol.TypeHello, protocol.HelloPayload{
		Name:       "worker-cache",
		SystemInfo: protocol.SystemInfo{Arch: "x86_64", OS: "linux", CPUCores: 4, MemoryMB: 8192},
	})
	readMessage(t, conn) // WELCOME

	tmpDir := t.TempDir()
	srcFile := filepath.Join(tmpDir, "main.c")
	outFile := filepath.Join(tmpDir, "main.o")
	srcContent := []byte("int main(void) { return 0; }\n")
	if err := os.WriteFile(srcFile, srcContent, 0o644); err != nil {
		t.Fatal(err)
	}

	key := &cache.CacheKey{
		SourceHash:   cache.HashBytes(srcContent),
		Compiler:     "cc",
		TargetTriple: "x86_64",
	}
	cachedObject := []byte("cached-object-bytes")
	if _, err := co.Cache.Store(context.Background(), key.Build(), "object", cachedObject, "prior-build", "prior-worker"); err != nil {
		t.Fatal(err)
	}

	buildID, err := co.SubmitBuild("demo", scheduler.StrategyCompileUnits, []scheduler.DistributedJob{
		{Type: scheduler.JobCompile, SourceFile: srcFile, OutputFile: outFile, Compiler: "cc"},
	})
	if err != nil {
		t.Fatal(err)
	}

	b := waitForBuild(t, co, buildID)
	if b.Completed != 1 {
		t.Errorf("expected 1 completed job, got %+v", b)
	}

	data, err := os.ReadFile(outFile)
	if err != nil {
		t.Fatalf("expected cached output written to disk: %v", err)
	}
	if string(data) != string(cachedObject) {
		t.Errorf("output file content = %q, want %q", data, cachedObject)
	}

	conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Error("expected no JOB_REQUEST to reach the worker, job should have been served from cache")
	}
}

func TestJobCompletionStoresOutputInArtifactCache(t *testing.T) {
	co, httpSrv := newTestCoordinator(t, "")
	conn := dialWorker(t, httpSrv)

	sendMessage(t, conn, protocol.TypeHello, protocol.HelloPayload{
		Name:       "worker-store",
		SystemInfo: protocol.SystemInfo{Arch: "x86_64", OS: "linux", CPUCores: 4, MemoryMB: 8192},
	})
	readMessage(t, conn) // WELCOME

	tmpDir := t.TempDir()
	srcFile := filepath.Join(tmpDir, "main.c")
	outFile := filepath.Join(tmpDir, "main.o")
	srcContent := []byte("int main(void) { return 1; }\n")
	if err := os.WriteFile(srcFile, srcContent, 0o644); err != nil {
		t.Fatal(err)
	}

	buildID, err := co.SubmitBuild("demo", scheduler.StrategyCompileUnits, []scheduler.DistributedJob{
		{Type: scheduler.JobCompile, SourceFile: srcFile, OutputFile: outFile, Compiler: "cc"},
	})
	if err != nil {
		t.Fatal(err)
	}

	jobReq := readMessage(t, conn)
	spec, err := protocol.DecodePayload[protocol.JobSpecPayload](jobReq)
	if err != nil {
		t.Fatal(err)
	}

	objectBytes := []byte("freshly-compiled-object")
	if err := os.WriteFile(outFile, objectBytes, 0o644); err != nil {
		t.Fatal(err)
	}

	sendMessage(t, conn, protocol.TypeJobComplete, protocol.JobResultPayload{
		JobID: spec.JobID, Success: true, ExitCode: 0, DurationSec: 0.1,
	})

	waitForBuild(t, co, buildID)

	key := &cache.CacheKey{
		SourceHash:   cache.HashBytes(srcContent),
		Compiler:     "cc",
		TargetTriple: "x86_64",
	}
	if co.Cache.Lookup(context.Background(), key.Build()) == cache.Miss {
		t.Error("expected the completed job's output to be recorded in the artifact cache")
	}
}

func TestJobCancelledAcknowledgementSettlesJobPromptly(t *testing.T) {
	co, httpSrv := newTestCoordinator(t, "")
	conn := dialWorker(t, httpSrv)

	sendMessage(t, conn, protocol.TypeHello, protocol.HelloPayload{
		Name:       "worker-cancel",
		SystemInfo: protocol.SystemInfo{Arch: "x86_64", OS: "linux", CPUCores: 4, MemoryMB: 8192},
	})
	readMessage(t, conn) // WELCOME

	buildID, err := co.SubmitBuild("demo", scheduler.StrategyCompileUnits, []scheduler.DistributedJob{
		{Type: scheduler.JobCompile, SourceFile: "a.c", TimeoutSec: 30},
	})
	if err != nil {
		t.Fatal(err)
	}

	jobReq := readMessage(t, conn)
	spec, err := protocol.DecodePayload[protocol.JobSpecPayload](jobReq)
	if err != nil {
		t.Fatal(err)
	}

	if err := co.Sched.CancelBuild(buildID, "user requested"); err != nil {
		t.Fatal(err)
	}

	cancelMsg := readMessage(t, conn)
	if cancelMsg.Type != protocol.TypeJobCancel {
		t.Fatalf("expected JOB_CANCEL, got %s", cancelMsg.Type)
	}

	sendMessage(t, conn, protocol.TypeJobCancelled, protocol.JobCancelledPayload{JobID: spec.JobID})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if j, ok := co.Sched.GetJob(spec.JobID); ok && j.State == scheduler.JobCancelled {
			if co.Sched.ActiveJobs() != 0 {
				t.Errorf("expected no active jobs after settlement, got %d", co.Sched.ActiveJobs())
			}
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("job was never settled as CANCELLED after a responsive JOB_CANCELLED acknowledgement")
}

func waitForBuild(t *testing.T, co *Coordinator, buildID string) *scheduler.BuildSession {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if b, ok := co.Sched.GetBuild(buildID); ok && b.State != scheduler.BuildPending && b.State != scheduler.BuildRunning {
			if !b.Success {
				t.Fatalf("expected build to succeed, state=%s errors=%v", b.State, b.ErrorSummary)
			}
			return b
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("timed out waiting for build to finish")
	return nil
}
