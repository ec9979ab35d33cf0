// Package registry tracks connected workers, their capabilities and live
// health, and implements worker selection for the scheduler.
package registry

import (
	"sort"
	"sync"
	"time"
)

// Criteria describes the constraints a candidate worker must satisfy, and
// the soft preferences used to rank eligible candidates.
type Criteria struct {
	RequiredCaps      Capability
	PreferredCaps     Capability
	TargetArch        string
	TargetOS          string
	MinAvailableSlots int
}

// Config tunes heartbeat supervision.
type Config struct {
	MaxMissedHeartbeats  int
	OfflineRemovalDelay  time.Duration
	HeartbeatSweepPeriod time.Duration
}

// DefaultConfig returns the supervision defaults.
func DefaultConfig() Config {
	return Config{
		MaxMissedHeartbeats:  3,
		OfflineRemovalDelay:  5 * time.Minute,
		HeartbeatSweepPeriod: 10 * time.Second,
	}
}

// Registry is the set of operations the coordinator façade and scheduler
// perform against the live worker population.
type Registry interface {
	Add(w *Worker)
	Remove(id string)
	Get(id string) (*Worker, bool)
	List() []*Worker
	ListByCapability(caps Capability) []*Worker
	UpdateState(id string, state State)
	UpdateHeartbeat(id string, cpuUsage, memUsage float64)
	IncrementTasks(id string)
	DecrementTasks(id string, success bool, durationSec float64)
	ReleaseTask(id string)
	RecordLatency(id string, latencyMs float64)
	Select(c Criteria) (*Worker, bool)
	Count() int
	Close()
}

// InMemoryRegistry is the default Registry backed by a guarded map, mirroring
// the teacher's copy-on-read concurrency pattern: readers get a cloned
// snapshot so callers never observe a worker mutated out from under them.
type InMemoryRegistry struct {
	mu      sync.RWMutex
	workers map[string]*Worker
	latency *LatencyTracker
	success map[string]*EWMA

	cfg    Config
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewInMemoryRegistry creates a registry and starts its heartbeat sweep.
func NewInMemoryRegistry(cfg Config) *InMemoryRegistry {
	if cfg.MaxMissedHeartbeats <= 0 {
		cfg = DefaultConfig()
	}
	r := &InMemoryRegistry{
		workers: make(map[string]*Worker),
		latency: NewLatencyTracker(),
		success: make(map[string]*EWMA),
		cfg:     cfg,
		stopCh:  make(chan struct{}),
	}
	r.wg.Add(1)
	go r.sweepLoop()
	return r
}

func clone(w *Worker) *Worker {
	c := *w
	if w.Tools != nil {
		c.Tools = make(map[string]Tool, len(w.Tools))
		for k, v := range w.Tools {
			c.Tools[k] = v
		}
	}
	return &c
}

// Add registers a new worker or replaces an existing record with the same ID.
func (r *InMemoryRegistry) Add(w *Worker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.workers[w.ID] = clone(w)
	if _, ok := r.success[w.ID]; !ok {
		r.success[w.ID] = NewEWMA(0.4)
	}
}

// Remove deletes a worker record entirely.
func (r *InMemoryRegistry) Remove(id string) {
	r.mu.Lock()
	delete(r.workers, id)
	delete(r.success, id)
	r.mu.Unlock()
	r.latency.Remove(id)
}

// Get returns a cloned snapshot of a worker.
func (r *InMemoryRegistry) Get(id string) (*Worker, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	w, ok := r.workers[id]
	if !ok {
		return nil, false
	}
	return clone(w), true
}

// List returns cloned snapshots of every known worker.
func (r *InMemoryRegistry) List() []*Worker {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Worker, 0, len(r.workers))
	for _, w := range r.workers {
		out = append(out, clone(w))
	}
	return out
}

// ListByCapability returns online/busy workers that carry all of caps.
func (r *InMemoryRegistry) ListByCapability(caps Capability) []*Worker {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Worker
	for _, w := range r.workers {
		if (w.State == StateOnline || w.State == StateBusy) && w.Capabilities.Has(caps) {
			out = append(out, clone(w))
		}
	}
	return out
}

// UpdateState transitions a worker to a new lifecycle state.
func (r *InMemoryRegistry) UpdateState(id string, state State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if w, ok := r.workers[id]; ok {
		w.State = state
	}
}

// UpdateHeartbeat resets the missed-heartbeat counter and records the latest
// resource snapshot; it also recomputes the health score.
func (r *InMemoryRegistry) UpdateHeartbeat(id string, cpuUsage, memUsage float64) {
	r.mu.Lock()
	w, ok := r.workers[id]
	if !ok {
		r.mu.Unlock()
		return
	}
	w.LastHeartbeat = time.Now()
	w.MissedHeartbeats = 0
	w.CPUUsage = cpuUsage
	w.MemoryUsage = memUsage
	if w.State == StateOffline || w.State == StateError {
		w.State = StateOnline
	}
	r.mu.Unlock()
	r.recomputeHealth(id)
}

// IncrementTasks records a newly-assigned job.
func (r *InMemoryRegistry) IncrementTasks(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if w, ok := r.workers[id]; ok {
		w.ActiveJobs++
		if w.State == StateOnline && w.ActiveJobs >= w.MaxJobs {
			w.State = StateBusy
		}
	}
}

// ReleaseTask frees one active-job slot without recording a success or
// failure outcome, for the case where a job is taken away from a worker
// through no fault of the job itself (worker disconnect).
func (r *InMemoryRegistry) ReleaseTask(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.workers[id]
	if !ok {
		return
	}
	if w.ActiveJobs > 0 {
		w.ActiveJobs--
	}
	if w.State == StateBusy && w.ActiveJobs < w.MaxJobs {
		w.State = StateOnline
	}
}

// DecrementTasks records a job completion or failure, folding the outcome
// into the worker's rolling success rate and average duration.
func (r *InMemoryRegistry) DecrementTasks(id string, success bool, durationSec float64) {
	r.mu.Lock()
	w, ok := r.workers[id]
	if !ok {
		r.mu.Unlock()
		return
	}
	if w.ActiveJobs > 0 {
		w.ActiveJobs--
	}
	if success {
		w.Counters.Completed++
	} else {
		w.Counters.Failed++
	}
	if w.AvgJobDurationSec == 0 {
		w.AvgJobDurationSec = durationSec
	} else {
		w.AvgJobDurationSec = 0.8*w.AvgJobDurationSec + 0.2*durationSec
	}
	if w.State == StateBusy && w.ActiveJobs < w.MaxJobs {
		w.State = StateOnline
	}
	ewma := r.success[id]
	r.mu.Unlock()

	if ewma != nil {
		if success {
			ewma.Update(1.0)
		} else {
			ewma.Update(0.0)
		}
	}
	r.recomputeHealth(id)
}

// RecordLatency folds a fresh round-trip sample into the worker's latency
// tracker and recomputes its health score.
func (r *InMemoryRegistry) RecordLatency(id string, latencyMs float64) {
	r.latency.Record(id, latencyMs)
	r.recomputeHealth(id)
}

// recomputeHealth implements the composite health score: EWMA success rate
// (0.4) + normalized inverse latency (0.2) + normalized load (0.2) +
// heartbeat freshness (0.2).
func (r *InMemoryRegistry) recomputeHealth(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.workers[id]
	if !ok {
		return
	}
	ewma := r.success[id]
	successRate := 1.0
	if ewma != nil && ewma.IsInitialized() {
		successRate = ewma.Value()
	}

	latencyMs := r.latency.Get(id)
	// Normalize inverse latency against a 1s ceiling: at 0ms score is 1, at
	// or beyond 1000ms score is 0.
	invLatency := 1.0 - latencyMs/1000.0
	if invLatency < 0 {
		invLatency = 0
	}
	if invLatency > 1 {
		invLatency = 1
	}

	load := 1.0
	if w.MaxJobs > 0 {
		load = float64(w.AvailableSlots()) / float64(w.MaxJobs)
	}

	freshness := 1.0
	if !w.LastHeartbeat.IsZero() {
		age := time.Since(w.LastHeartbeat)
		staleAfter := r.cfg.HeartbeatSweepPeriod * time.Duration(r.cfg.MaxMissedHeartbeats)
		if staleAfter <= 0 {
			staleAfter = 30 * time.Second
		}
		freshness = 1.0 - float64(age)/float64(staleAfter)
		if freshness < 0 {
			freshness = 0
		}
		if freshness > 1 {
			freshness = 1
		}
	}

	w.HealthScore = 0.4*successRate + 0.2*invLatency + 0.2*load + 0.2*freshness
	w.NetworkLatencyMs = latencyMs
}

// Select picks the best eligible worker for c using the composite score
// health_score * (1 + preferred_caps_match) * (available_slots / max_jobs),
// tie-breaking by lowest network latency then lexicographically smallest ID.
func (r *InMemoryRegistry) Select(c Criteria) (*Worker, bool) {
	r.mu.RLock()
	candidates := make([]*Worker, 0, len(r.workers))
	for _, w := range r.workers {
		if w.IsEligible(c) {
			candidates = append(candidates, clone(w))
		}
	}
	r.mu.RUnlock()

	if len(candidates) == 0 {
		return nil, false
	}

	type scored struct {
		w     *Worker
		score float64
	}
	scoredList := make([]scored, 0, len(candidates))
	for _, w := range candidates {
		match := 0.0
		if c.PreferredCaps != 0 {
			matched := bitsSetCount(w.Capabilities & c.PreferredCaps)
			wanted := bitsSetCount(c.PreferredCaps)
			if wanted > 0 {
				match = float64(matched) / float64(wanted)
			}
		}
		loadFactor := 1.0
		if w.MaxJobs > 0 {
			loadFactor = float64(w.AvailableSlots()) / float64(w.MaxJobs)
		}
		score := w.HealthScore * (1 + match) * loadFactor
		scoredList = append(scoredList, scored{w: w, score: score})
	}

	sort.Slice(scoredList, func(i, j int) bool {
		if scoredList[i].score != scoredList[j].score {
			return scoredList[i].score > scoredList[j].score
		}
		if scoredList[i].w.NetworkLatencyMs != scoredList[j].w.NetworkLatencyMs {
			return scoredList[i].w.NetworkLatencyMs < scoredList[j].w.NetworkLatencyMs
		}
		return scoredList[i].w.ID < scoredList[j].w.ID
	})

	return scoredList[0].w, true
}

func bitsSetCount(c Capability) int {
	n := 0
	for c != 0 {
		n += int(c & 1)
		c >>= 1
	}
	return n
}

// Count returns the number of known workers regardless of state.
func (r *InMemoryRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.workers)
}

// Close stops the heartbeat sweep goroutine.
func (r *InMemoryRegistry) Close() {
	close(r.stopCh)
	r.wg.Wait()
}

func (r *InMemoryRegistry) sweepLoop() {
	defer r.wg.Done()
	ticker := time.NewTicker(r.cfg.HeartbeatSweepPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-r.stopCh:
			return
		case <-ticker.C:
			r.sweepOnce()
		}
	}
}

func (r *InMemoryRegistry) sweepOnce() {
	now := time.Now()
	var toRemove []string

	r.mu.Lock()
	for id, w := range r.workers {
		if w.State == StateOffline {
			if !w.LastHeartbeat.IsZero() && now.Sub(w.LastHeartbeat) > r.cfg.OfflineRemovalDelay {
				toRemove = append(toRemove, id)
			}
			continue
		}
		if now.Sub(w.LastHeartbeat) > r.cfg.HeartbeatSweepPeriod {
			w.MissedHeartbeats++
			if w.MissedHeartbeats >= r.cfg.MaxMissedHeartbeats {
				w.State = StateOffline
			}
		}
	}
	r.mu.Unlock()

	for _, id := range toRemove {
		r.Remove(id)
	}
}
