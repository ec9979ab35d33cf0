package executor

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"
)

func TestNativeExecutorName(t *testing.T) {
	e := NewNativeExecutor()
	if e.Name() != "native" {
		t.Errorf("Name() = %q, want native", e.Name())
	}
}

func TestNativeExecutorCompileSucceeds(t *testing.T) {
	if _, err := exec.LookPath("gcc"); err != nil {
		t.Skip("gcc not found")
	}

	dir := t.TempDir()
	src := filepath.Join(dir, "main.c")
	if err := os.WriteFile(src, []byte("int main(void) { return 0; }"), 0644); err != nil {
		t.Fatal(err)
	}
	out := filepath.Join(dir, "main.o")

	e := NewNativeExecutor()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	result, err := e.Execute(ctx, &Request{
		JobID: "test-1", Compiler: "gcc", CompilerArgs: []string{"-O2"},
		SourceFile: src, OutputFile: out, WorkingDir: dir, Timeout: 30 * time.Second,
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !result.Success {
		t.Fatalf("expected success, stderr=%s", result.Stderr)
	}
	if _, err := os.Stat(out); err != nil {
		t.Errorf("expected output file to exist: %v", err)
	}
}

func TestNativeExecutorCompileErrorReported(t *testing.T) {
	if _, err := exec.LookPath("gcc"); err != nil {
		t.Skip("gcc not found")
	}

	dir := t.TempDir()
	src := filepath.Join(dir, "bad.c")
	if err := os.WriteFile(src, []byte("int main( { syntax error"), 0644); err != nil {
		t.Fatal(err)
	}

	e := NewNativeExecutor()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	result, err := e.Execute(ctx, &Request{
		JobID: "test-2", Compiler: "gcc", SourceFile: src,
		OutputFile: filepath.Join(dir, "bad.o"), WorkingDir: dir, Timeout: 30 * time.Second,
	})
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}
	if result.Success {
		t.Error("expected compilation to fail")
	}
	if result.ExitCode == 0 {
		t.Error("expected non-zero exit code")
	}
	if result.Stderr == "" {
		t.Error("expected stderr output")
	}
}

func TestNativeExecutorBuildCommand(t *testing.T) {
	dir := t.TempDir()
	marker := filepath.Join(dir, "ran")

	e := NewNativeExecutor()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	result, err := e.Execute(ctx, &Request{
		JobID: "test-3", BuildCommand: "touch " + marker, WorkingDir: dir, Timeout: 10 * time.Second,
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !result.Success {
		t.Fatalf("expected success, stderr=%s", result.Stderr)
	}
	if _, err := os.Stat(marker); err != nil {
		t.Errorf("expected marker file created by build command: %v", err)
	}
}

func TestNativeExecutorNeitherCommandNorCompilerErrors(t *testing.T) {
	e := NewNativeExecutor()
	_, err := e.Execute(context.Background(), &Request{JobID: "test-4"})
	if err == nil {
		t.Error("expected an error when neither build_command nor compiler is set")
	}
}

func TestNativeExecutorTimeout(t *testing.T) {
	e := NewNativeExecutor()
	ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	time.Sleep(5 * time.Millisecond)

	result, err := e.Execute(ctx, &Request{
		JobID: "test-5", BuildCommand: "sleep 5", Timeout: time.Nanosecond,
	})
	if err != nil {
		return
	}
	if result.Success {
		t.Log("command completed despite expired context - may be a race")
	}
}

func TestBuildCompileArgs(t *testing.T) {
	tests := []struct {
		name     string
		original []string
		wantHas  []string
	}{
		{"basic", []string{"-O2", "-Wall"}, []string{"-c", "-O2", "-Wall", "/tmp/src.c", "-o", "/tmp/out.o"}},
		{"existing -c", []string{"-c", "-O2"}, []string{"-c", "-O2"}},
		{"drops input file", []string{"-O2", "original.c", "-Wall"}, []string{"-O2", "-Wall", "/tmp/src.c"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := buildCompileArgs(tt.original, "/tmp/src.c", "/tmp/out.o")
			for _, want := range tt.wantHas {
				found := false
				for _, arg := range got {
					if arg == want {
						found = true
						break
					}
				}
				if !found {
					t.Errorf("buildCompileArgs() missing %q in %v", want, got)
				}
			}
		})
	}
}

func TestLooksLikeSourceFile(t *testing.T) {
	tests := map[string]bool{
		"foo.c": true, "foo.cpp": true, "foo.cc": true, "foo.cxx": true,
		"foo.i": true, "foo.ii": true, "foo.s": true,
		"foo.o": false, "-O2": false, "-I/include": false, "": false,
	}
	for arg, want := range tests {
		if got := looksLikeSourceFile(arg); got != want {
			t.Errorf("looksLikeSourceFile(%q) = %v, want %v", arg, got, want)
		}
	}
}
