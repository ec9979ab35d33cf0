package main

import (
	"time"

	"github.com/cyxwiz-lab/hybridbuild/internal/coordinator"
	"github.com/cyxwiz-lab/hybridbuild/internal/observability/dashboard"
	"github.com/cyxwiz-lab/hybridbuild/internal/registry"
)

// coordStatsProvider adapts a Coordinator to dashboard.StatsProvider,
// projecting the coordinator's job counters and the registry's worker list
// into the dashboard's own Stats/WorkerInfo shapes.
type coordStatsProvider struct {
	coord *coordinator.Coordinator
}

func newStatsProvider(coord *coordinator.Coordinator) *coordStatsProvider {
	return &coordStatsProvider{coord: coord}
}

func (p *coordStatsProvider) GetStats() *dashboard.Stats {
	snap := p.coord.StatsSnapshot()

	var cacheHits int64
	if store := p.coord.Cache.Local(); store != nil {
		cacheHits = store.Stats().TotalHits
	}

	return &dashboard.Stats{
		TotalTasks:     snap.TotalJobs,
		SuccessTasks:   snap.SuccessJobs,
		FailedTasks:    snap.FailedJobs,
		ActiveTasks:    int64(snap.ActiveJobs),
		QueuedTasks:    int64(snap.QueuedJobs),
		CacheHits:      cacheHits,
		TotalWorkers:   snap.TotalWorkers,
		HealthyWorkers: snap.OnlineWorkers,
		UptimeSeconds:  snap.UptimeSeconds,
		Timestamp:      time.Now().Unix(),
	}
}

func (p *coordStatsProvider) GetWorkers() []*dashboard.WorkerInfo {
	workers := p.coord.Registry.List()
	out := make([]*dashboard.WorkerInfo, len(workers))
	for i, w := range workers {
		out[i] = toWorkerInfo(w, string(p.coord.Circuit.GetState(w.ID)))
	}
	return out
}

func toWorkerInfo(w *registry.Worker, circuitState string) *dashboard.WorkerInfo {
	var successRate float64
	total := w.Counters.Completed + w.Counters.Failed
	if total > 0 {
		successRate = float64(w.Counters.Completed) / float64(total)
	}

	return &dashboard.WorkerInfo{
		ID:              w.ID,
		Host:            w.Hostname,
		Address:         w.Hostname,
		Architecture:    w.SystemInfo.Arch,
		CPUCores:        int32(w.SystemInfo.CPUCores),
		MemoryGB:        float64(w.SystemInfo.MemoryMB) / 1024,
		ActiveTasks:     int32(w.ActiveJobs),
		TotalTasks:      total,
		SuccessRate:     successRate,
		AvgLatencyMs:    w.NetworkLatencyMs,
		CircuitState:    circuitState,
		DiscoverySource: w.DiscoverySource,
		Healthy:         w.State == registry.StateOnline || w.State == registry.StateBusy,
		LastSeen:        w.LastHeartbeat.Unix(),
	}
}
