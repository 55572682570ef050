package pipeline

import (
	"context"

	"github.com/sony/gobreaker"
)

// ComponentStatus is the per-component health reported by Worker.Health,
// per spec §6.
type ComponentStatus string

const (
	ComponentHealthy   ComponentStatus = "healthy"
	ComponentUnhealthy ComponentStatus = "unhealthy"
	ComponentUnknown   ComponentStatus = "unknown"
)

// Health is the worker's health-check payload, per spec §6:
// {status, worker_id, running, circuit_open, components}.
type Health struct {
	Status      string                     `json:"status"`
	WorkerID    string                     `json:"worker_id"`
	Running     bool                       `json:"running"`
	CircuitOpen bool                       `json:"circuit_open"`
	Components  map[string]ComponentStatus `json:"components"`
}

// Health probes every dependency and reports the worker's overall status.
// It never returns an error: an unreachable dependency is reflected as
// ComponentUnhealthy, not a Go error, since the caller is an HTTP
// handler that always wants a response body.
func (w *Worker) Health(ctx context.Context) Health {
	components := map[string]ComponentStatus{
		"job_store":  probeJobStore(ctx, w.jobs),
		"blob_store": probeBlobStore(ctx, w.deps),
		"parser":     probeParser(ctx, w.deps),
		"embedding":  probeEmbedding(ctx, w.deps),
	}

	status := "healthy"
	for _, c := range components {
		if c != ComponentHealthy {
			status = "degraded"
			break
		}
	}

	return Health{
		Status:      status,
		WorkerID:    w.workerID(),
		Running:     w.state.Load() == started,
		CircuitOpen: w.breaker.State() == gobreaker.StateOpen,
		Components:  components,
	}
}

func (w *Worker) workerID() string {
	return w.id
}

func probeJobStore(ctx context.Context, jobs JobStore) ComponentStatus {
	if jobs == nil {
		return ComponentUnknown
	}
	if err := jobs.Ping(ctx); err != nil {
		return ComponentUnhealthy
	}
	return ComponentHealthy
}

func probeBlobStore(ctx context.Context, deps *stageDeps) ComponentStatus {
	if deps == nil || deps.blobs == nil {
		return ComponentUnknown
	}
	if _, err := deps.blobs.Exists(ctx, "_health_check"); err != nil {
		return ComponentUnhealthy
	}
	return ComponentHealthy
}

func probeParser(ctx context.Context, deps *stageDeps) ComponentStatus {
	if deps == nil || deps.parser == nil {
		return ComponentUnknown
	}
	healthy, _, err := deps.parser.Health(ctx)
	if err != nil || !healthy {
		return ComponentUnhealthy
	}
	return ComponentHealthy
}

func probeEmbedding(ctx context.Context, deps *stageDeps) ComponentStatus {
	if deps == nil || deps.embedder == nil {
		return ComponentUnknown
	}
	healthy, _, err := deps.embedder.Health(ctx)
	if err != nil || !healthy {
		return ComponentUnhealthy
	}
	return ComponentHealthy
}
