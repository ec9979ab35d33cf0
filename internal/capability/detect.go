// Package capability probes the local host for compile toolchains and
// resources, producing the registry.Capability bitset, tool table, and
// SystemInfo a worker reports in its HELLO payload.
package capability

import (
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strings"

	"github.com/cyxwiz-lab/hybridbuild/internal/registry"
)

// Detection is the result of a local capability probe.
type Detection struct {
	Capabilities registry.Capability
	Tools        map[string]registry.Tool
	SystemInfo   registry.SystemInfo
}

// Detect probes the current host for compile toolchains, build systems,
// and available resources.
func Detect() Detection {
	hostname, _ := os.Hostname()
	_ = hostname // reported via HelloPayload.Name, not SystemInfo

	d := Detection{
		Tools: make(map[string]registry.Tool),
		SystemInfo: registry.SystemInfo{
			Arch:       runtime.GOARCH,
			OS:         runtime.GOOS,
			CPUCores:   runtime.NumCPU(),
			CPUThreads: runtime.NumCPU(),
			MemoryMB:   detectMemoryMB(),
			DiskFreeMB: detectDiskFreeMB(),
		},
	}

	detectCompilers(&d)
	detectBuildSystems(&d)
	if detectDocker() {
		d.Capabilities |= registry.CapDocker
	}
	if detectCrossCompilers() {
		d.Capabilities |= registry.CapCrossCompile
	}

	return d
}

func detectCompilers(d *Detection) {
	cCompilers := []string{"gcc", "clang", "cc"}
	for _, c := range cCompilers {
		if path, err := exec.LookPath(c); err == nil {
			d.Capabilities |= registry.CapCompileC
			d.Tools[c] = registry.Tool{Path: path, Version: toolVersion(path, "--version")}
		}
	}

	cxxCompilers := []string{"g++", "clang++", "c++"}
	for _, c := range cxxCompilers {
		if path, err := exec.LookPath(c); err == nil {
			d.Capabilities |= registry.CapCompileCXX
			d.Tools[c] = registry.Tool{Path: path, Version: toolVersion(path, "--version")}
		}
	}

	if path, err := exec.LookPath("go"); err == nil {
		d.Capabilities |= registry.CapCompileGo
		d.Tools["go"] = registry.Tool{Path: path, Version: goVersion()}
	}

	if path, err := exec.LookPath("rustc"); err == nil {
		d.Capabilities |= registry.CapCompileRust
		d.Tools["rustc"] = registry.Tool{Path: path, Version: toolVersion(path, "--version")}
	}
}

func detectBuildSystems(d *Detection) {
	if path, err := exec.LookPath("cmake"); err == nil {
		d.Capabilities |= registry.CapCMake
		d.Tools["cmake"] = registry.Tool{Path: path, Version: toolVersion(path, "--version")}
	}
	if path, err := exec.LookPath("make"); err == nil {
		d.Capabilities |= registry.CapMake
		d.Tools["make"] = registry.Tool{Path: path, Version: toolVersion(path, "--version")}
	}
	if path, err := exec.LookPath("ninja"); err == nil {
		d.Capabilities |= registry.CapNinja
		d.Tools["ninja"] = registry.Tool{Path: path, Version: toolVersion(path, "--version")}
	}
}

// toolVersion runs `<path> <flag>` and returns its first output line,
// trimmed; empty on any failure, since version strings are advisory only.
func toolVersion(path, flag string) string {
	out, err := exec.Command(path, flag).Output()
	if err != nil {
		return ""
	}
	line, _, _ := strings.Cut(string(out), "\n")
	return strings.TrimSpace(line)
}

func goVersion() string {
	out, err := exec.Command("go", "version").Output()
	if err != nil {
		return ""
	}
	parts := strings.Fields(string(out))
	if len(parts) >= 3 {
		return strings.TrimPrefix(parts[2], "go")
	}
	return ""
}

func detectDocker() bool {
	cmd := exec.Command("docker", "version", "--format", "{{.Server.Version}}")
	return cmd.Run() == nil
}

func detectCrossCompilers() bool {
	candidates := []string{
		"aarch64-linux-gnu-gcc",
		"arm-linux-gnueabihf-gcc",
		"x86_64-w64-mingw32-gcc",
		"aarch64-w64-mingw32-gcc",
	}
	for _, c := range candidates {
		if _, err := exec.LookPath(c); err == nil {
			return true
		}
	}
	return false
}

func detectMemoryMB() int64 {
	var bytes int64
	switch runtime.GOOS {
	case "linux":
		bytes = detectMemoryLinux()
	case "darwin":
		bytes = detectMemoryDarwin()
	case "windows":
		bytes = detectMemoryWindows()
	}
	return bytes / (1024 * 1024)
}

func detectMemoryLinux() int64 {
	data, err := os.ReadFile("/proc/meminfo")
	if err != nil {
		return 0
	}
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "MemTotal:") {
			continue
		}
		fields := strings.Fields(strings.TrimPrefix(line, "MemTotal:"))
		if len(fields) == 0 {
			return 0
		}
		var kb int64
		if _, err := fmt.Sscanf(fields[0], "%d", &kb); err == nil {
			return kb * 1024
		}
	}
	return 0
}

func detectMemoryDarwin() int64 {
	out, err := exec.Command("sysctl", "-n", "hw.memsize").Output()
	if err != nil {
		return 0
	}
	var bytes int64
	if _, err := fmt.Sscanf(strings.TrimSpace(string(out)), "%d", &bytes); err != nil {
		return 0
	}
	return bytes
}

func detectMemoryWindows() int64 {
	out, err := exec.Command("wmic", "ComputerSystem", "get", "TotalPhysicalMemory", "/value").Output()
	if err != nil {
		return 0
	}
	text := strings.ReplaceAll(strings.ReplaceAll(string(out), "\r\n", "\n"), "\r", "\n")
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "TotalPhysicalMemory=") {
			continue
		}
		digits := strings.Map(func(r rune) rune {
			if r >= '0' && r <= '9' {
				return r
			}
			return -1
		}, strings.TrimPrefix(line, "TotalPhysicalMemory="))
		var bytes int64
		if _, err := fmt.Sscanf(digits, "%d", &bytes); err == nil {
			return bytes
		}
	}
	return 0
}

func detectDiskFreeMB() int64 {
	dir := os.TempDir()
	switch runtime.GOOS {
	case "linux", "darwin":
		out, err := exec.Command("df", "-k", dir).Output()
		if err != nil {
			return 0
		}
		lines := strings.Split(strings.TrimSpace(string(out)), "\n")
		if len(lines) < 2 {
			return 0
		}
		fields := strings.Fields(lines[len(lines)-1])
		if len(fields) < 4 {
			return 0
		}
		var kb int64
		if _, err := fmt.Sscanf(fields[3], "%d", &kb); err != nil {
			return 0
		}
		return kb / 1024
	default:
		return 0
	}
}
