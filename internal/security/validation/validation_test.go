package validation

import (
	"runtime"
	"strings"
	"testing"

	"github.com/cyxwiz-lab/hybridbuild/internal/protocol"
)

func TestValidateHello_Valid(t *testing.T) {
	h := &protocol.HelloPayload{
		Name: "worker-1",
		SystemInfo: protocol.SystemInfo{
			Arch: "amd64", OS: "linux", CPUCores: 4, MemoryMB: 8192,
		},
	}

	if err := ValidateHello(h); err != nil {
		t.Errorf("ValidateHello failed for valid payload: %v", err)
	}
}

func TestValidateHello_MissingName(t *testing.T) {
	h := &protocol.HelloPayload{
		SystemInfo: protocol.SystemInfo{Arch: "amd64", OS: "linux", CPUCores: 4, MemoryMB: 8192},
	}

	err := ValidateHello(h)
	if err == nil {
		t.Fatal("Expected error for missing name")
	}
	if !strings.Contains(err.Error(), "name") {
		t.Errorf("Error should mention name: %v", err)
	}
}

func TestValidateHello_MissingSystemInfo(t *testing.T) {
	h := &protocol.HelloPayload{Name: "worker-1"}

	err := ValidateHello(h)
	if err == nil {
		t.Fatal("Expected error for missing system info")
	}
}

func TestValidateJobSpec_Valid(t *testing.T) {
	job := &protocol.JobSpecPayload{
		JobID: "job-123", Type: "compile", Compiler: "gcc",
		SourceFile: "main.c", OutputFile: "main.o",
	}

	if err := ValidateJobSpec(job); err != nil {
		t.Errorf("ValidateJobSpec failed for valid payload: %v", err)
	}
}

func TestValidateJobSpec_MissingJobID(t *testing.T) {
	job := &protocol.JobSpecPayload{Type: "compile", Compiler: "gcc"}

	err := ValidateJobSpec(job)
	if err == nil {
		t.Fatal("Expected error for missing job_id")
	}
	if !strings.Contains(err.Error(), "job_id") {
		t.Errorf("Error should mention job_id: %v", err)
	}
}

func TestValidateJobSpec_InvalidJobID(t *testing.T) {
	tests := []struct {
		name  string
		jobID string
	}{
		{"with space", "job 123"},
		{"with special chars", "job@123"},
		{"with semicolon", "job;123"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			job := &protocol.JobSpecPayload{JobID: tt.jobID, Type: "compile", Compiler: "gcc"}
			if err := ValidateJobSpec(job); err == nil {
				t.Errorf("Expected error for job_id %q", tt.jobID)
			}
		})
	}
}

func TestValidateJobSpec_MissingCommandAndCompiler(t *testing.T) {
	job := &protocol.JobSpecPayload{JobID: "job-123", Type: "compile"}

	err := ValidateJobSpec(job)
	if err == nil {
		t.Fatal("Expected error when neither build_command nor compiler is set")
	}
}

func TestValidateJobSpec_InvalidCompiler(t *testing.T) {
	job := &protocol.JobSpecPayload{JobID: "job-123", Type: "compile", Compiler: "rm -rf /"}

	if err := ValidateJobSpec(job); err == nil {
		t.Error("Expected error for invalid compiler")
	}
}

func TestValidateJobSpec_InvalidArchiveHash(t *testing.T) {
	job := &protocol.JobSpecPayload{
		JobID: "job-123", Type: "compile", BuildCommand: "make",
		ProjectArchiveHash: "not-a-hex-string!",
	}

	err := ValidateJobSpec(job)
	if err == nil {
		t.Fatal("Expected error for invalid project_archive_hash")
	}
	if !strings.Contains(err.Error(), "project_archive_hash") {
		t.Errorf("Error should mention project_archive_hash: %v", err)
	}
}

func TestValidateJobSpec_InvalidPriority(t *testing.T) {
	job := &protocol.JobSpecPayload{
		JobID: "job-123", Type: "compile", BuildCommand: "make", Priority: 150,
	}

	if err := ValidateJobSpec(job); err == nil {
		t.Error("Expected error for invalid priority")
	}
}

func TestSanitizeCompilerArgs_RemovesDangerousFlags(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		wantLen int
		wantRem int
	}{
		{
			name:    "removes --plugin",
			args:    []string{"-O2", "--plugin", "malicious.so", "-Wall"},
			wantLen: 2, // -O2 and -Wall
			wantRem: 2, // --plugin and malicious.so
		},
		{
			name:    "removes -fplugin=",
			args:    []string{"-O2", "-fplugin=/path/to/plugin.so"},
			wantLen: 1,
			wantRem: 1,
		},
		{
			name:    "removes -B toolchain",
			args:    []string{"-O2", "-B", "/malicious/toolchain"},
			wantLen: 1,
			wantRem: 2,
		},
		{
			name:    "removes shell metacharacters",
			args:    []string{"-O2", "-DFOO=`id`", "-Wall"},
			wantLen: 2,
			wantRem: 1,
		},
		{
			name:    "removes command injection",
			args:    []string{"-O2", "-DBAR=$(whoami)", "-c"},
			wantLen: 2,
			wantRem: 1,
		},
		{
			name:    "keeps safe args",
			args:    []string{"-O2", "-Wall", "-Werror", "-I/usr/include", "-c", "-o", "output.o"},
			wantLen: 7,
			wantRem: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sanitized, removed := SanitizeCompilerArgs(tt.args)
			if len(sanitized) != tt.wantLen {
				t.Errorf("sanitized len = %d, want %d. sanitized: %v", len(sanitized), tt.wantLen, sanitized)
			}
			if len(removed) != tt.wantRem {
				t.Errorf("removed len = %d, want %d. removed: %v", len(removed), tt.wantRem, removed)
			}
		})
	}
}

func TestSanitizeCompilerArgs_RemovesPathTraversal(t *testing.T) {
	var args []string
	var expectedSanitized, expectedRemoved int

	if runtime.GOOS == "windows" {
		// Windows-style path traversal
		args = []string{"-O2", "-I..\\..\\..\\Windows\\System32", "-IC:\\include"}
		expectedSanitized = 2
		expectedRemoved = 1
	} else {
		// Unix-style path traversal
		args = []string{"-O2", "-I../../../etc/passwd", "-I/usr/include"}
		expectedSanitized = 2
		expectedRemoved = 1
	}

	sanitized, removed := SanitizeCompilerArgs(args)

	if len(removed) != expectedRemoved {
		t.Errorf("Expected %d removed arg, got %d: %v", expectedRemoved, len(removed), removed)
	}
	if len(sanitized) != expectedSanitized {
		t.Errorf("Expected %d sanitized args, got %d: %v", expectedSanitized, len(sanitized), sanitized)
	}
}

func TestSanitizePath(t *testing.T) {
	type testCase struct {
		name     string
		basePath string
		path     string
		want     string
	}

	var tests []testCase

	if runtime.GOOS == "windows" {
		tests = []testCase{
			{
				name:     "valid relative path",
				basePath: "C:\\workspace",
				path:     "src\\main.c",
				want:     "C:\\workspace\\src\\main.c",
			},
			{
				name:     "blocks path traversal",
				basePath: "C:\\workspace",
				path:     "..\\..\\..\\Windows\\System32",
				want:     "",
			},
			{
				name:     "blocks absolute escape",
				basePath: "C:\\workspace",
				path:     "C:\\Windows\\System32",
				want:     "",
			},
			{
				name:     "allows subpath of base",
				basePath: "C:\\workspace",
				path:     "C:\\workspace\\src\\main.c",
				want:     "C:\\workspace\\src\\main.c",
			},
			{
				name:     "blocks reserved names",
				basePath: "C:\\workspace",
				path:     "CON",
				want:     "",
			},
			{
				name:     "blocks reserved names with extension",
				basePath: "C:\\workspace",
				path:     "NUL.txt",
				want:     "",
			},
			{
				name:     "empty path",
				basePath: "C:\\workspace",
				path:     "",
				want:     "",
			},
		}
	} else {
		tests = []testCase{
			{
				name:     "valid relative path",
				basePath: "/workspace",
				path:     "src/main.c",
				want:     "/workspace/src/main.c",
			},
			{
				name:     "blocks path traversal",
				basePath: "/workspace",
				path:     "../../../etc/passwd",
				want:     "",
			},
			{
				name:     "blocks absolute escape",
				basePath: "/workspace",
				path:     "/etc/passwd",
				want:     "",
			},
			{
				name:     "allows subpath of base",
				basePath: "/workspace",
				path:     "/workspace/src/main.c",
				want:     "/workspace/src/main.c",
			},
			{
				name:     "empty path",
				basePath: "/workspace",
				path:     "",
				want:     "",
			},
		}
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SanitizePath(tt.basePath, tt.path)
			if got != tt.want {
				t.Errorf("SanitizePath(%q, %q) = %q, want %q", tt.basePath, tt.path, got, tt.want)
			}
		})
	}
}

func TestWindowsPathValidation(t *testing.T) {
	tests := []struct {
		name  string
		path  string
		valid bool
	}{
		{"valid path", "foo/bar.txt", true},
		{"reserved name CON", "CON", false},
		{"reserved name PRN", "PRN", false},
		{"reserved name with ext", "NUL.txt", false},
		{"reserved name COM1", "COM1", false},
		{"invalid char <", "foo<bar", false},
		{"invalid char >", "foo>bar", false},
		{"invalid char : in filename", "foo:bar", false},
		{"invalid char |", "foo|bar", false},
		{"invalid char ?", "foo?bar", false},
		{"invalid char *", "foo*bar", false},
		{"valid with numbers", "abc123", true},
		{"valid drive letter C:", "C:\\folder\\file.txt", true},
		{"valid drive letter D:", "D:\\test", true},
		{"invalid colon after drive", "C:\\foo:bar", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errMsg := ValidatePathForWindows(tt.path)
			isValid := errMsg == ""
			if isValid != tt.valid {
				t.Errorf("ValidatePathForWindows(%q) = %q, want valid=%v", tt.path, errMsg, tt.valid)
			}
		})
	}
}

func TestValidateDockerImage(t *testing.T) {
	tests := []struct {
		name  string
		image string
		valid bool
	}{
		{"empty is valid", "", true},
		{"simple name", "ubuntu", true},
		{"with tag", "ubuntu:20.04", true},
		{"with registry", "docker.io/library/ubuntu:20.04", true},
		{"with digest", "ubuntu@sha256:abc123", true},
		{"shell injection", "ubuntu;rm -rf /", false},
		{"command substitution", "$(whoami)/image", false},
		{"pipe", "image|cat", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ValidateDockerImage(tt.image)
			if got != tt.valid {
				t.Errorf("ValidateDockerImage(%q) = %v, want %v", tt.image, got, tt.valid)
			}
		})
	}
}

func TestIsHexString(t *testing.T) {
	tests := []struct {
		s    string
		want bool
	}{
		{"abc123", true},
		{"ABC123", true},
		{"abc123def456", true},
		{"", false},
		{"abc", false}, // Odd length
		{"ghijkl", false},
		{"abc 123", false},
	}

	for _, tt := range tests {
		got := isHexString(tt.s)
		if got != tt.want {
			t.Errorf("isHexString(%q) = %v, want %v", tt.s, got, tt.want)
		}
	}
}

func TestMultiError(t *testing.T) {
	errs := &MultiError{}

	if errs.HasErrors() {
		t.Error("Empty MultiError should not have errors")
	}
	if errs.ToError() != nil {
		t.Error("Empty MultiError.ToError() should return nil")
	}

	errs.Add("field1", "error1")
	if !errs.HasErrors() {
		t.Error("MultiError with errors should report HasErrors")
	}
	if errs.ToError() == nil {
		t.Error("MultiError.ToError() should return error")
	}
	if !strings.Contains(errs.Error(), "field1") {
		t.Error("Error should contain field name")
	}

	errs.Add("field2", "error2")
	if !strings.Contains(errs.Error(), "and 1 more") {
		t.Errorf("Error should mention additional errors: %v", errs.Error())
	}
}

func TestIsValidCompiler(t *testing.T) {
	tests := []struct {
		name  string
		valid bool
	}{
		{"gcc", true},
		{"g++", true},
		{"clang", true},
		{"clang++", true},
		{"/usr/bin/gcc", true},
		{"/usr/local/bin/clang-12", true},
		{"rm -rf /", false},
		{"gcc; whoami", false},
		{"gcc`id`", false},
	}

	for _, tt := range tests {
		got := isValidCompiler(tt.name)
		if got != tt.valid {
			t.Errorf("isValidCompiler(%q) = %v, want %v", tt.name, got, tt.valid)
		}
	}
}
