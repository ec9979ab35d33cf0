package registry

// Capability is a bitset encoding the features a worker reports in its
// HELLO payload: compile toolchains, build systems, and cross-compile/
// sandboxing support that is reported but never required by the scheduler
// (sandboxed/cross-compiled execution itself is out of scope here).
type Capability uint64

const (
	CapCompileC Capability = 1 << iota
	CapCompileCXX
	CapCompileGo
	CapCompileRust
	CapCMake
	CapMake
	CapNinja
	CapDocker
	CapCrossCompile
)

// Has reports whether all bits in want are set in c.
func (c Capability) Has(want Capability) bool {
	return c&want == want
}

// Names returns the human-readable names of the set bits, for logging and
// the admin dashboard.
func (c Capability) Names() []string {
	var names []string
	for bit, name := range capabilityNames {
		if c.Has(bit) {
			names = append(names, name)
		}
	}
	return names
}

var capabilityNames = map[Capability]string{
	CapCompileC:     "compile_c",
	CapCompileCXX:   "compile_cxx",
	CapCompileGo:    "compile_go",
	CapCompileRust:  "compile_rust",
	CapCMake:        "cmake",
	CapMake:         "make",
	CapNinja:        "ninja",
	CapDocker:       "docker",
	CapCrossCompile: "cross_compile",
}
