package scheduler

import (
	"crypto/rand"
	"math/big"
	"sync/atomic"

	"github.com/cyxwiz-lab/hybridbuild/internal/registry"
)

// selector picks a worker from the registry for a job, given the
// configured load-balancing algorithm. ROUND_ROBIN and RANDOM work off the
// eligible candidate list directly; LEAST_LOADED, LEAST_LATENCY, and
// WEIGHTED delegate to the registry's composite-score Select, which already
// accounts for health, preferred-capability match, and available slots.
type selector struct {
	algo    Algorithm
	reg     registry.Registry
	counter uint64
}

func newSelector(algo Algorithm, reg registry.Registry) *selector {
	return &selector{algo: algo, reg: reg}
}

// pick selects an eligible worker for criteria c, or reports false if none
// qualify.
func (s *selector) pick(c registry.Criteria) (*registry.Worker, bool) {
	switch s.algo {
	case AlgoRoundRobin:
		return s.pickRoundRobin(c)
	case AlgoRandom:
		return s.pickRandom(c)
	case AlgoLeastLoaded, AlgoLeastLatency, AlgoWeighted:
		fallthrough
	default:
		return s.reg.Select(c)
	}
}

func (s *selector) eligible(c registry.Criteria) []*registry.Worker {
	var out []*registry.Worker
	for _, w := range s.reg.List() {
		if w.IsEligible(c) {
			out = append(out, w)
		}
	}
	return out
}

func (s *selector) pickRoundRobin(c registry.Criteria) (*registry.Worker, bool) {
	candidates := s.eligible(c)
	if len(candidates) == 0 {
		return nil, false
	}
	idx := atomic.AddUint64(&s.counter, 1)
	return candidates[int(idx)%len(candidates)], true
}

func (s *selector) pickRandom(c registry.Criteria) (*registry.Worker, bool) {
	candidates := s.eligible(c)
	if len(candidates) == 0 {
		return nil, false
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(len(candidates))))
	if err != nil {
		return candidates[0], true
	}
	return candidates[n.Int64()], true
}
