package scheduler

import "github.com/cyxwiz-lab/hybridbuild/internal/registry"

// DecomposeCompile produces one compile job per source file, sharing the
// same compiler and flags. Pure: identical inputs always produce identical
// (modulo JobID) output.
func DecomposeCompile(sources []string, compiler string, flags []string) []DistributedJob {
	jobs := make([]DistributedJob, 0, len(sources))
	for _, src := range sources {
		jobs = append(jobs, DistributedJob{
			Type:                 JobCompile,
			SourceFile:           src,
			Compiler:             compiler,
			CompilerArgs:         flags,
			RequiredCapabilities: registry.CapCompileC,
		})
	}
	return jobs
}

// SuggestStrategy recommends a decomposition strategy from coarse project
// shape: tiny projects build as one unit, large flat projects split per
// compile unit, target-aware build systems split per target, and anything
// else gets a hybrid split.
func SuggestStrategy(sourceCount int, hasCMake bool, targetCount int) Strategy {
	switch {
	case sourceCount < 5:
		return StrategyWholeProject
	case sourceCount > 50:
		return StrategyCompileUnits
	case hasCMake && targetCount > 0:
		return StrategyTargets
	default:
		return StrategyHybrid
	}
}
