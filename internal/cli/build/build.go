package build

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/cyxwiz-lab/hybridbuild/internal/cache"
	"github.com/cyxwiz-lab/hybridbuild/internal/cli/apiclient"
	"github.com/cyxwiz-lab/hybridbuild/internal/cli/fallback"
	"github.com/cyxwiz-lab/hybridbuild/internal/compiler"
	"github.com/cyxwiz-lab/hybridbuild/internal/scheduler"
)

// Service handles distributed compilation with preprocessing and caching.
type Service struct {
	cache        *cache.Store
	api          *apiclient.Client
	fallback     *fallback.LocalFallback
	preprocessor *compiler.Preprocessor
	verbose      bool
	buildTimeout time.Duration
}

// Config holds build service configuration.
type Config struct {
	CacheDir        string
	CacheMaxSize    int64
	CacheTTLHours   int
	CoordinatorAddr string
	AuthToken       string
	Timeout         time.Duration
	FallbackEnabled bool
	Verbose         bool
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	home, _ := os.UserHomeDir()
	return Config{
		CacheDir:        filepath.Join(home, ".hybridbuild", "cache"),
		CacheMaxSize:    10 * 1024 * 1024 * 1024, // 10GB
		CacheTTLHours:   168,                     // 1 week
		CoordinatorAddr: "localhost:9000",
		Timeout:         5 * time.Minute,
		FallbackEnabled: true,
		Verbose:         false,
	}
}

// New creates a new build service.
func New(cfg Config) (*Service, error) {
	storeCfg := cache.DefaultStoreConfig(cfg.CacheDir)
	storeCfg.MaxSizeBytes = cfg.CacheMaxSize
	storeCfg.MaxAge = time.Duration(cfg.CacheTTLHours) * time.Hour

	cacheStore, err := cache.NewStore(storeCfg)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to initialize cache, continuing without cache")
		cacheStore = nil
	}

	preprocessor := compiler.NewPreprocessor(compiler.DefaultPreprocessorConfig())

	fb := fallback.New(fallback.Config{
		Enabled:    cfg.FallbackEnabled,
		MaxTimeout: cfg.Timeout,
	})

	return &Service{
		cache:        cacheStore,
		preprocessor: preprocessor,
		fallback:     fb,
		verbose:      cfg.Verbose,
		buildTimeout: cfg.Timeout,
	}, nil
}

// SetCoordinator points the service at a coordinator's HTTP API.
func (s *Service) SetCoordinator(addr, token string, timeout time.Duration) {
	s.api = apiclient.New(apiclient.Config{Address: addr, Token: token, Timeout: timeout})
}

// Close releases the build service's resources.
func (s *Service) Close() error {
	return nil
}

// Request represents a build request.
type Request struct {
	TaskID     string
	SourceFile string
	OutputFile string
	Args       *compiler.ParsedArgs
	TargetArch string
	Timeout    time.Duration
}

// Result represents a build result.
type Result struct {
	ObjectFile     []byte
	ExitCode       int
	Stdout         string
	Stderr         string
	CacheHit       bool
	Fallback       bool
	FallbackReason string
	Duration       time.Duration
	WorkerID       string
}

// Build compiles a source file using the distributed build system: cache
// first, then a remote job submitted to the coordinator, then a local
// fallback compile if neither is available.
func (s *Service) Build(ctx context.Context, req *Request) (*Result, error) {
	startTime := time.Now()
	result := &Result{}

	rawSource, err := os.ReadFile(req.SourceFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read source file: %w", err)
	}

	cacheKey := s.cacheKey(req, rawSource)
	if s.cache != nil {
		if cached, ok := s.cache.GetBytes(cacheKey); ok {
			result.ObjectFile = cached
			result.CacheHit = true
			result.ExitCode = 0
			result.Duration = time.Since(startTime)
			if s.verbose {
				log.Info().Str("file", req.SourceFile).Str("cache_key", cacheKey).Msg("[cache] cache hit")
			}
			return result, nil
		}
	}

	if s.api != nil {
		remoteResult, err := s.compileRemote(ctx, req)
		if err == nil {
			result.ExitCode = remoteResult.ExitCode
			result.Stdout = remoteResult.Stdout
			result.Stderr = remoteResult.Stderr
			result.WorkerID = remoteResult.WorkerID
			result.Duration = time.Since(startTime)

			if remoteResult.ExitCode == 0 {
				objectFile, readErr := os.ReadFile(req.OutputFile)
				if readErr == nil {
					result.ObjectFile = objectFile
					if s.cache != nil {
						if _, err := s.cache.Put(cacheKey, "object", objectFile, req.TaskID, remoteResult.WorkerID); err != nil {
							log.Warn().Err(err).Msg("failed to store in cache")
						}
					}
				}
				if s.verbose {
					log.Info().Str("file", req.SourceFile).Str("worker", result.WorkerID).Msg("[remote] compilation complete")
				}
				return result, nil
			}

			// Non-zero exit from a worker that actually ran the compiler is a
			// real compile error, not a case for local fallback.
			return result, nil
		}

		log.Warn().Err(err).Str("file", req.SourceFile).Msg("remote compilation failed, trying local fallback")
		result.FallbackReason = fmt.Sprintf("remote error: %v", err)
	} else {
		result.FallbackReason = "no coordinator connection"
	}

	if !s.fallback.IsEnabled() {
		return nil, fmt.Errorf("remote compilation failed and local fallback is disabled")
	}

	prepResult, err := s.preprocessor.Preprocess(ctx, req.Args, req.SourceFile)
	if err != nil {
		return nil, fmt.Errorf("preprocessing for fallback failed: %w", err)
	}

	fallbackResult, err := s.compileLocal(ctx, req, prepResult.PreprocessedSource)
	if err != nil {
		return nil, fmt.Errorf("local fallback failed: %w", err)
	}

	result.ObjectFile = fallbackResult.ObjectCode
	result.ExitCode = fallbackResult.ExitCode
	result.Stdout = fallbackResult.Stdout
	result.Stderr = fallbackResult.Stderr
	result.Fallback = true
	result.Duration = time.Since(startTime)

	if s.cache != nil && result.ExitCode == 0 && len(result.ObjectFile) > 0 {
		if _, err := s.cache.Put(cacheKey, "object", result.ObjectFile, req.TaskID, "local"); err != nil {
			log.Warn().Err(err).Msg("failed to store in cache")
		}
	}

	if s.verbose {
		log.Info().Str("file", req.SourceFile).Str("reason", result.FallbackReason).Msg("[local] fallback compilation complete")
	}

	return result, nil
}

type remoteResult struct {
	ExitCode int
	Stdout   string
	Stderr   string
	WorkerID string
}

// compileRemote submits a single-job build for req and waits for it to
// finish. The worker is expected to write its output to req.OutputFile on
// a workspace shared with (or synced to) the CLI's host; this system
// reports compile results, not compiled bytes, over the wire (see
// protocol.JobResultPayload).
func (s *Service) compileRemote(ctx context.Context, req *Request) (*remoteResult, error) {
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = s.buildTimeout
	}

	job := apiclient.Job{
		JobID:        req.TaskID,
		Type:         string(scheduler.JobCompile),
		SourceFile:   req.SourceFile,
		OutputFile:   req.OutputFile,
		Compiler:     req.Args.Compiler,
		CompilerArgs: s.buildRemoteArgs(req.Args),
		TimeoutSec:   int(timeout.Seconds()),
	}

	buildID, err := s.api.SubmitBuild(ctx, apiclient.SubmitBuildRequest{
		ProjectName: filepath.Base(req.SourceFile),
		Strategy:    string(scheduler.StrategyCompileUnits),
		Jobs:        []apiclient.Job{job},
	})
	if err != nil {
		return nil, fmt.Errorf("submit build: %w", err)
	}

	build, err := s.api.WaitBuild(ctx, buildID, timeout)
	if err != nil {
		return nil, fmt.Errorf("wait for build: %w", err)
	}

	if build.Failed > 0 && build.Completed == 0 {
		reason := "compilation failed"
		if len(build.ErrorSummary) > 0 {
			reason = strings.Join(build.ErrorSummary, "; ")
		}
		return &remoteResult{ExitCode: 1, Stderr: reason}, nil
	}

	return &remoteResult{ExitCode: 0}, nil
}

// buildRemoteArgs builds compiler arguments for remote compilation.
func (s *Service) buildRemoteArgs(args *compiler.ParsedArgs) []string {
	remoteArgs := []string{"-c"}
	remoteArgs = append(remoteArgs, args.Flags...)
	if args.Standard != "" {
		remoteArgs = append(remoteArgs, "-std="+args.Standard)
	}
	return remoteArgs
}

// compileLocal compiles using local fallback.
func (s *Service) compileLocal(ctx context.Context, req *Request, preprocessed []byte) (*fallback.CompileResult, error) {
	job := &fallback.CompileJob{
		TaskID:             req.TaskID,
		Compiler:           req.Args.Compiler,
		Args:               s.buildRemoteArgs(req.Args),
		PreprocessedSource: preprocessed,
		Timeout:            req.Timeout,
	}
	return s.fallback.Execute(ctx, job)
}

// cacheKey creates a cache key for the compilation, from the raw source so
// identical inputs hit the cache regardless of which machine preprocessed
// them. Uses the spec's CacheKey (sorted flags, sorted include paths,
// target triple) rather than the narrower CompilationKey, so two compiles
// differing only by -I include paths no longer collide.
func (s *Service) cacheKey(req *Request, rawSource []byte) string {
	flags := make([]string, 0, len(req.Args.Flags)+len(req.Args.Defines))
	flags = append(flags, req.Args.Flags...)
	for _, d := range req.Args.Defines {
		flags = append(flags, "-D"+d)
	}

	key := &cache.CacheKey{
		SourceHash:   cache.HashBytes(rawSource),
		Compiler:     req.Args.Compiler,
		Flags:        flags,
		IncludePaths: req.Args.IncludeDirs,
		TargetTriple: req.TargetArch,
	}
	return key.Build()
}

// IsDistributable checks if the compilation can be distributed.
func IsDistributable(args *compiler.ParsedArgs) bool {
	return args.IsDistributable()
}
