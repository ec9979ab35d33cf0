package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/cyxwiz-lab/hybridbuild/internal/cache"
	"github.com/cyxwiz-lab/hybridbuild/internal/cli/apiclient"
	"github.com/cyxwiz-lab/hybridbuild/internal/cli/build"
	"github.com/cyxwiz-lab/hybridbuild/internal/cli/output"
	"github.com/cyxwiz-lab/hybridbuild/internal/compiler"
	"github.com/cyxwiz-lab/hybridbuild/internal/config"
	"github.com/cyxwiz-lab/hybridbuild/internal/discovery/mdns"
)

var (
	version     = "v0.0.0-dev"
	cfgFile     string
	coordinator string
	authToken   string
	timeout     time.Duration
	verbose     bool
)

func main() {
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	output.AutoDetectColors()

	rootCmd := &cobra.Command{
		Use:   "hgbuild",
		Short: "hybridbuild - distributed multi-platform build system",
		Long: `hgbuild is a CLI client for the hybridbuild distributed build system.
It intercepts compiler commands and distributes them to remote workers.

Quick start:
  hgbuild make -j8            Wrap make with distributed compilation
  hgbuild cc -c main.c        Compile C file (drop-in gcc replacement)
  hgbuild c++ -c main.cpp     Compile C++ file (drop-in g++ replacement)
  hgbuild status              Check coordinator status
  hgbuild workers             List available workers

Environment:
  HG_COORDINATOR    Coordinator address (default: auto-discover via mDNS)
  HG_CC             C compiler to use (default: gcc)
  HG_CXX            C++ compiler to use (default: g++)`,
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default: ~/.hybridbuild/config.yaml)")
	rootCmd.PersistentFlags().StringVarP(&coordinator, "coordinator", "C", "", "coordinator address (auto-discover if empty)")
	rootCmd.PersistentFlags().StringVar(&authToken, "token", "", "authentication token")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 2*time.Minute, "connection timeout")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	rootCmd.AddCommand(
		newVersionCmd(),
		newStatusCmd(),
		newWorkersCmd(),
		newBuildCmd(),
		newConfigCmd(),
		newCacheCmd(),
		newCCCmd(),
		newCXXCmd(),
		newMakeCmd(),
		newNinjaCmd(),
		newWrapCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, output.Error(err.Error()))
		os.Exit(1)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("hgbuild %s\n", version)
		},
	}
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show coordinator and worker status",
		RunE: func(cmd *cobra.Command, args []string) error {
			addr := getCoordinatorAddress()
			if addr == "" {
				return fmt.Errorf("no coordinator address (pass --coordinator, set HG_COORDINATOR, or enable mDNS)")
			}
			c := apiclient.New(apiclient.Config{Address: addr, Token: authToken, Timeout: timeout})

			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()

			stats, err := c.GetStats(ctx)
			if err != nil {
				return fmt.Errorf("status check failed: %w", err)
			}

			output.PrintStatus(output.StatusInfo{
				Address:     addr,
				Healthy:     true,
				ActiveTasks: stats.ActiveJobs,
				QueuedTasks: stats.QueuedJobs,
				Workers:     stats.TotalWorkers,
				Uptime:      time.Duration(stats.UptimeSeconds) * time.Second,
			})
			return nil
		},
	}
}

func newWorkersCmd() *cobra.Command {
	var detailed bool

	cmd := &cobra.Command{
		Use:   "workers",
		Short: "List available workers",
		RunE: func(cmd *cobra.Command, args []string) error {
			addr := getCoordinatorAddress()
			if addr == "" {
				return fmt.Errorf("no coordinator address (pass --coordinator, set HG_COORDINATOR, or enable mDNS)")
			}
			c := apiclient.New(apiclient.Config{Address: addr, Token: authToken, Timeout: timeout})

			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()

			workers, total, err := c.ListWorkers(ctx)
			if err != nil {
				return fmt.Errorf("failed to get workers: %w", err)
			}

			healthy := 0
			view := make([]output.WorkerInfo, len(workers))
			for i, w := range workers {
				if w.State == "ONLINE" || w.State == "BUSY" {
					healthy++
				}
				view[i] = output.WorkerInfo{
					ID:           w.ID,
					Arch:         w.Hostname,
					Cores:        0,
					MemoryGB:     0,
					ActiveTasks:  w.ActiveJobs,
					Status:       w.State,
					CircuitState: w.CircuitState,
				}
			}

			if detailed {
				output.PrintWorkersTable(view, total, healthy)
			} else {
				output.PrintWorkersTableCompact(view, total, healthy)
			}
			return nil
		},
	}

	cmd.Flags().BoolVarP(&detailed, "verbose", "v", false, "show detailed info")
	return cmd
}

func newBuildCmd() *cobra.Command {
	var (
		output_     string
		compilerBin string
		compArgs    []string
		verboseOut  bool
		targetArch  string
	)

	cmd := &cobra.Command{
		Use:   "build [files...]",
		Short: "Submit a build job to the coordinator",
		Long: `Submit source files for distributed compilation.

Examples:
  hgbuild build main.c                    Compile single file
  hgbuild build main.c -o main.o          Compile with output name
  hgbuild build --compiler gcc --args -O2 main.c   Compile with compiler args
  hgbuild build *.c -o myapp              Compile multiple files`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			addr := getCoordinatorAddress()

			cfg := build.DefaultConfig()
			cfg.Verbose = verboseOut || verbose
			cfg.Timeout = 5 * time.Minute

			svc, err := build.New(cfg)
			if err != nil {
				return fmt.Errorf("failed to create build service: %w", err)
			}
			defer svc.Close()
			if addr != "" {
				svc.SetCoordinator(addr, authToken, cfg.Timeout)
			}

			successCount, failCount := 0, 0
			for _, file := range args {
				comp := compilerBin
				if comp == "" {
					comp = detectCompiler(file)
				}

				outFile := output_
				if outFile == "" {
					outFile = strings.TrimSuffix(file, filepath.Ext(file)) + ".o"
				}

				fmt.Printf("Compiling %s...", file)

				req := &build.Request{
					TaskID: generateTaskID(),
					SourceFile: file,
					OutputFile: outFile,
					Args: &compiler.ParsedArgs{
						Compiler:      comp,
						IsCompileOnly: true,
						InputFiles:    []string{file},
						OutputFile:    outFile,
						Flags:         compArgs,
					},
					TargetArch: targetArch,
					Timeout:    5 * time.Minute,
				}

				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
				result, err := svc.Build(ctx, req)
				cancel()

				if err != nil {
					fmt.Printf(" %s (%v)\n", output.StatusLabel("failed"), err)
					failCount++
					continue
				}
				if result.ExitCode != 0 {
					fmt.Printf(" %s (exit %d)\n", output.StatusLabel("failed"), result.ExitCode)
					if result.Stderr != "" {
						fmt.Printf("  stderr: %s\n", result.Stderr)
					}
					failCount++
					continue
				}

				status := "remote"
				if result.CacheHit {
					status = "cache"
				} else if result.Fallback {
					status = "local"
				}
				fmt.Printf(" %s (%.2fs)\n", output.StatusLabel(status), result.Duration.Seconds())
				successCount++
			}

			fmt.Printf("\nResults: %s succeeded, %s failed\n",
				output.Success(fmt.Sprintf("%d", successCount)), output.Error(fmt.Sprintf("%d", failCount)))

			if failCount > 0 {
				return fmt.Errorf("%d files failed to compile", failCount)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&output_, "output", "o", "", "output file (for single file builds)")
	cmd.Flags().StringVar(&compilerBin, "compiler", "", "compiler to use (auto-detect if empty)")
	cmd.Flags().StringSliceVar(&compArgs, "args", nil, "compiler arguments")
	cmd.Flags().BoolVarP(&verboseOut, "verbose", "v", false, "verbose output")
	cmd.Flags().StringVar(&targetArch, "arch", "", "target architecture (x86_64, arm64)")

	return cmd
}

// detectCompiler returns an appropriate compiler based on file extension.
func detectCompiler(file string) string {
	switch strings.ToLower(filepath.Ext(file)) {
	case ".c":
		return "gcc"
	case ".cpp", ".cc", ".cxx":
		return "g++"
	case ".m":
		return "clang"
	case ".mm":
		return "clang++"
	default:
		return "gcc"
	}
}

// generateTaskID creates a unique task identifier.
func generateTaskID() string {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("task-%d", time.Now().UnixNano())
	}
	return fmt.Sprintf("task-%s-%d", hex.EncodeToString(b), time.Now().UnixNano()%10000)
}

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Help()
		},
	}

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				fmt.Println(output.Dim("No config file found, using defaults"))
				fmt.Println()
				cfg = config.DefaultConfig()
			}

			coordAddr := cfg.Client.CoordinatorAddr
			if coordAddr == "" {
				coordAddr = fmt.Sprintf("localhost:%d", cfg.Coordinator.Port)
			}
			fmt.Printf("Coordinator: %s\n", coordAddr)
			fmt.Printf("Cache Dir:   %s\n", cfg.Cache.Dir)
			fmt.Printf("Cache Size:  %d MB\n", cfg.Cache.MaxSize)
			fmt.Printf("Log Level:   %s\n", cfg.Log.Level)

			return nil
		},
	}

	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Create default configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := cfgFile
			if path == "" {
				home, _ := os.UserHomeDir()
				path = filepath.Join(home, ".hybridbuild", "config.yaml")
			}

			if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
				return err
			}
			if err := config.WriteExample(path); err != nil {
				return err
			}

			fmt.Printf("Config file created: %s\n", path)
			return nil
		},
	}

	cmd.AddCommand(showCmd, initCmd)
	return cmd
}

func newCacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage local cache",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Help()
		},
	}

	openStore := func() (*cache.Store, string, error) {
		buildCfg := build.DefaultConfig()
		storeCfg := cache.DefaultStoreConfig(buildCfg.CacheDir)
		storeCfg.MaxSizeBytes = buildCfg.CacheMaxSize
		storeCfg.MaxAge = time.Duration(buildCfg.CacheTTLHours) * time.Hour

		store, err := cache.NewStore(storeCfg)
		return store, buildCfg.CacheDir, err
	}

	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Show cache statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, dir, err := openStore()
			if err != nil {
				return fmt.Errorf("failed to open cache: %w", err)
			}

			s := store.Stats()
			output.PrintCacheStats(output.CacheStats{
				Directory: dir,
				Entries:   s.Entries,
				TotalSize: s.TotalSize,
				MaxSize:   s.MaxSize,
				TotalHits: s.TotalHits,
			})
			return nil
		},
	}

	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Clear the cache",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, _, err := openStore()
			if err != nil {
				return fmt.Errorf("failed to open cache: %w", err)
			}
			if err := store.Clear(); err != nil {
				return fmt.Errorf("failed to clear cache: %w", err)
			}
			fmt.Println(output.Success("Cache cleared"))
			return nil
		},
	}

	cmd.AddCommand(statsCmd, clearCmd)
	return cmd
}

// =============================================================================
// Compiler Wrappers (cc, c++)
// =============================================================================

func newCCCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cc [flags] [files...]",
		Short: "C compiler wrapper (drop-in gcc replacement)",
		Long: `Distributed C compiler wrapper. Use as a drop-in replacement for gcc.

Examples:
  hgbuild cc -c main.c -o main.o
  CC="hgbuild cc" make
  CC="hgbuild cc" cmake --build .`,
		DisableFlagParsing: true,
		SilenceUsage:       true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCompiler("gcc", "HG_CC", args)
		},
	}
}

func newCXXCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "c++ [flags] [files...]",
		Short: "C++ compiler wrapper (drop-in g++ replacement)",
		Long: `Distributed C++ compiler wrapper. Use as a drop-in replacement for g++.

Examples:
  hgbuild c++ -c main.cpp -o main.o
  CXX="hgbuild c++" make
  CXX="hgbuild c++" cmake --build .`,
		DisableFlagParsing: true,
		SilenceUsage:       true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCompiler("g++", "HG_CXX", args)
		},
	}
}

// filterHgbuildFlags removes hgbuild-specific flags from compiler arguments.
func filterHgbuildFlags(args []string) []string {
	var filtered []string
	skipNext := false

	for i, arg := range args {
		if skipNext {
			skipNext = false
			continue
		}

		switch {
		case arg == "--coordinator" || arg == "-C":
			skipNext = true
			continue
		case strings.HasPrefix(arg, "--coordinator="):
			continue
		case arg == "--config" || arg == "-c":
			if i+1 < len(args) && (strings.HasSuffix(args[i+1], ".yaml") || strings.HasSuffix(args[i+1], ".yml")) {
				skipNext = true
				continue
			}
		case strings.HasPrefix(arg, "--config="):
			continue
		case arg == "--timeout":
			skipNext = true
			continue
		case strings.HasPrefix(arg, "--timeout="):
			continue
		case arg == "--token":
			skipNext = true
			continue
		case strings.HasPrefix(arg, "--token="):
			continue
		case arg == "--verbose" || arg == "-v":
			verbose = true
			continue
		}

		filtered = append(filtered, arg)
	}

	return filtered
}

// runCompiler handles distributed compilation for cc/c++ commands.
func runCompiler(defaultCompiler, envVar string, args []string) error {
	if os.Getenv("HG_VERBOSE") == "1" {
		verbose = true
	}

	compilerArgs := filterHgbuildFlags(args)

	comp := os.Getenv(envVar)
	if comp == "" {
		comp = defaultCompiler
	}

	fullArgs := append([]string{comp}, compilerArgs...)
	parsed := compiler.Parse(fullArgs)
	if parsed == nil {
		return fmt.Errorf("failed to parse compiler arguments")
	}

	if !parsed.IsDistributable() {
		if verbose {
			fmt.Fprintf(os.Stderr, "[local] non-distributable: %s\n", strings.Join(fullArgs, " "))
		}
		return runLocalCompiler(comp, compilerArgs)
	}

	coordAddr := getCoordinatorAddress()
	if coordAddr == "" {
		if verbose {
			fmt.Fprintf(os.Stderr, "[local] no coordinator available\n")
		} else {
			fmt.Fprintln(os.Stderr, output.Warning("coordinator not available, compiling locally"))
		}
		return runLocalCompiler(comp, compilerArgs)
	}

	cfg := build.DefaultConfig()
	cfg.Timeout = 5 * time.Minute
	cfg.FallbackEnabled = true
	cfg.Verbose = verbose

	svc, err := build.New(cfg)
	if err != nil {
		return fmt.Errorf("failed to create build service: %w", err)
	}
	defer svc.Close()
	svc.SetCoordinator(coordAddr, authToken, cfg.Timeout)

	outputFile := parsed.OutputFile
	if outputFile == "" && len(parsed.InputFiles) > 0 {
		base := strings.TrimSuffix(parsed.InputFiles[0], filepath.Ext(parsed.InputFiles[0]))
		outputFile = base + ".o"
	}

	req := &build.Request{
		TaskID:     generateTaskID(),
		SourceFile: parsed.InputFiles[0],
		OutputFile: outputFile,
		Args:       parsed,
		TargetArch: parsed.TargetArch,
		Timeout:    5 * time.Minute,
	}

	ctx := context.Background()
	result, err := svc.Build(ctx, req)
	if err != nil {
		return err
	}

	if result.ExitCode != 0 {
		if result.Stderr != "" {
			fmt.Fprint(os.Stderr, result.Stderr)
		}
		os.Exit(result.ExitCode)
	}

	if len(result.ObjectFile) > 0 {
		if err := os.WriteFile(outputFile, result.ObjectFile, 0644); err != nil {
			return fmt.Errorf("failed to write output: %w", err)
		}
	}

	if verbose {
		status := "remote"
		if result.CacheHit {
			status = "cache"
		} else if result.Fallback {
			status = "local"
		}
		fmt.Fprintf(os.Stderr, "%s %s -> %s (%.2fs)\n",
			output.StatusLabel(status), parsed.InputFiles[0], outputFile, result.Duration.Seconds())
	}

	return nil
}

// runLocalCompiler runs the compiler locally (for non-distributable operations).
func runLocalCompiler(compilerBin string, args []string) error {
	cmd := exec.Command(compilerBin, args...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}

// getCoordinatorAddress gets the coordinator address from flags, env, or mDNS.
func getCoordinatorAddress() string {
	if coordinator != "" {
		return coordinator
	}
	if addr := os.Getenv("HG_COORDINATOR"); addr != "" {
		return addr
	}

	browser := mdns.NewCoordBrowser(mdns.CoordBrowserConfig{Timeout: 3 * time.Second})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	coord, err := browser.Discover(ctx)
	if err == nil && coord != nil {
		if verbose {
			fmt.Fprintf(os.Stderr, "[mdns] discovered coordinator at %s\n", coord.Address)
		}
		return coord.Address
	}

	return ""
}

// =============================================================================
// Build Wrappers (make, ninja, wrap)
// =============================================================================

func newMakeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "make [make-args...]",
		Short: "Run make with distributed compilation",
		Long: `Wrap make with distributed compilation by setting CC/CXX automatically.

Examples:
  hgbuild make
  hgbuild make -j8
  hgbuild make clean all`,
		DisableFlagParsing: true,
		SilenceUsage:       true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return wrapBuildCommand("make", args)
		},
	}
}

func newNinjaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ninja [ninja-args...]",
		Short: "Run ninja with distributed compilation",
		Long: `Wrap ninja with distributed compilation by setting CC/CXX automatically.

Examples:
  hgbuild ninja
  hgbuild ninja -j8`,
		DisableFlagParsing: true,
		SilenceUsage:       true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return wrapBuildCommand("ninja", args)
		},
	}
}

func newWrapCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "wrap <command> [args...]",
		Short: "Wrap any build command with distributed compilation",
		Long: `Wrap any build command with distributed compilation.
Sets CC and CXX to use hgbuild for distributed compilation.

Examples:
  hgbuild wrap cmake --build .
  hgbuild wrap ./build.sh`,
		DisableFlagParsing: true,
		SilenceUsage:       true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return fmt.Errorf("no command specified")
			}
			return wrapBuildCommand(args[0], args[1:])
		},
	}
}

// wrapBuildCommand wraps a build command with CC/CXX set to hgbuild.
func wrapBuildCommand(command string, args []string) error {
	self, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to find hgbuild executable: %w", err)
	}

	ccValue := self + " cc"
	cxxValue := self + " c++"

	env := os.Environ()
	env = setEnv(env, "CC", ccValue)
	env = setEnv(env, "CXX", cxxValue)

	if coordinator != "" {
		env = setEnv(env, "HG_COORDINATOR", coordinator)
	}
	if verbose {
		env = setEnv(env, "HG_VERBOSE", "1")
	}

	finalArgs := args
	if command == "make" {
		finalArgs = append([]string{"CC=" + ccValue, "CXX=" + cxxValue}, args...)
	}

	if verbose {
		fmt.Fprintf(os.Stderr, "[wrap] CC=%s\n", ccValue)
		fmt.Fprintf(os.Stderr, "[wrap] CXX=%s\n", cxxValue)
		fmt.Fprintf(os.Stderr, "[wrap] running: %s %s\n", command, strings.Join(finalArgs, " "))
	}

	cmd := exec.Command(command, finalArgs...)
	cmd.Env = env
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	return cmd.Run()
}

// setEnv sets an environment variable in the env slice.
func setEnv(env []string, key, value string) []string {
	prefix := key + "="
	for i, e := range env {
		if strings.HasPrefix(e, prefix) {
			env[i] = prefix + value
			return env
		}
	}
	return append(env, prefix+value)
}
