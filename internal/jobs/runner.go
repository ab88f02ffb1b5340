// Package jobs drives the engine's periodic work: detection cycles, delivery
// dispatch, digest flushes and outbox drains. Each tick is stamped with one
// shared clock and run id, recorded in job_runs, and guarded by an advisory
// redis lease so a fleet of workers does not duplicate effort. Correctness
// never depends on the lease; every job is safe to re-run.
package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"vigil/internal/jobs/models"
	"vigil/internal/jobs/ports"
	"vigil/internal/platform/metrics"
	"vigil/pkg/requestcontext"
)

// heartbeatInterval is how often a running job refreshes its heartbeat.
const heartbeatInterval = 30 * time.Second

// Job is one named periodic task.
type Job struct {
	Name     string
	Interval time.Duration
	Fn       func(ctx context.Context) error
}

// Runner executes registered jobs on their tickers.
type Runner struct {
	jobs    []Job
	runs    ports.RunStore
	lease   *redis.Client
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// Option configures a Runner.
type Option func(*Runner)

// WithLogger sets the runner's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runner) { r.logger = logger }
}

// WithMetrics wires Prometheus counters.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Runner) { r.metrics = m }
}

// WithLease enables the advisory redis lease. A nil client disables leasing
// and every tick runs locally.
func WithLease(client *redis.Client) Option {
	return func(r *Runner) { r.lease = client }
}

// New creates a Runner.
func New(runs ports.RunStore, jobs []Job, opts ...Option) (*Runner, error) {
	if runs == nil {
		return nil, fmt.Errorf("run store is required")
	}
	if len(jobs) == 0 {
		return nil, fmt.Errorf("at least one job is required")
	}
	for _, j := range jobs {
		if j.Name == "" || j.Interval <= 0 || j.Fn == nil {
			return nil, fmt.Errorf("job %q is incomplete", j.Name)
		}
	}
	r := &Runner{
		jobs:   jobs,
		runs:   runs,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Run blocks until the context is cancelled, ticking every job on its own
// interval. Each job also fires once at startup so a fresh deploy does not
// wait a full interval for its first cycle.
func (r *Runner) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, job := range r.jobs {
		g.Go(func() error {
			ticker := time.NewTicker(job.Interval)
			defer ticker.Stop()

			r.tick(gctx, job)
			for {
				select {
				case <-gctx.Done():
					return gctx.Err()
				case <-ticker.C:
					r.tick(gctx, job)
				}
			}
		})
	}
	return g.Wait()
}

// tick executes one run of one job.
func (r *Runner) tick(ctx context.Context, job Job) {
	if !r.acquireLease(ctx, job) {
		r.logger.Debug("cycle lease held elsewhere, skipping", "job", job.Name)
		return
	}
	defer r.releaseLease(ctx, job)

	start := time.Now()
	runID := uuid.NewString()
	ctx = requestcontext.WithTime(ctx, start)
	ctx = requestcontext.WithRunID(ctx, runID)

	run := models.Run{
		ID:          runID,
		Job:         job.Name,
		StartedAt:   start,
		HeartbeatAt: start,
		Status:      models.RunRunning,
	}
	if err := r.runs.Start(ctx, run); err != nil {
		r.logger.Error("failed to record job run start", "job", job.Name, "error", err)
		// Still run the job; the record is observability, not a gate.
	}

	hbCtx, stopHeartbeat := context.WithCancel(ctx)
	go r.heartbeat(hbCtx, runID, job.Name)

	err := job.Fn(ctx)
	stopHeartbeat()

	status, detail, outcome := models.RunSucceeded, "", "success"
	if err != nil {
		status, detail, outcome = models.RunFailed, err.Error(), "failure"
		r.logger.Error("job run failed", "job", job.Name, "run_id", runID, "error", err)
	}
	if finishErr := r.runs.Finish(ctx, runID, status, detail, time.Now()); finishErr != nil {
		r.logger.Error("failed to record job run finish", "job", job.Name, "error", finishErr)
	}

	if r.metrics != nil {
		r.metrics.CyclesRun.WithLabelValues(job.Name, outcome).Inc()
		r.metrics.CycleDuration.WithLabelValues(job.Name).Observe(time.Since(start).Seconds())
	}
	r.logger.Info("job run finished",
		"job", job.Name,
		"run_id", runID,
		"status", string(status),
		"duration", time.Since(start),
	)
}

// heartbeat refreshes the run's heartbeat until the job finishes.
func (r *Runner) heartbeat(ctx context.Context, runID, jobName string) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.runs.Heartbeat(ctx, runID, time.Now()); err != nil {
				r.logger.Warn("job heartbeat failed", "job", jobName, "error", err)
			}
		}
	}
}

// acquireLease takes the advisory per-job lease. Lease failures fall open:
// running a duplicate idempotent cycle is cheaper than running none.
func (r *Runner) acquireLease(ctx context.Context, job Job) bool {
	if r.lease == nil {
		return true
	}
	ok, err := r.lease.SetNX(ctx, leaseKey(job.Name), "1", job.Interval).Result()
	if err != nil {
		r.logger.Warn("lease acquire failed, running anyway", "job", job.Name, "error", err)
		return true
	}
	return ok
}

func (r *Runner) releaseLease(ctx context.Context, job Job) {
	if r.lease == nil {
		return
	}
	if err := r.lease.Del(ctx, leaseKey(job.Name)).Err(); err != nil {
		r.logger.Warn("lease release failed", "job", job.Name, "error", err)
	}
}

func leaseKey(name string) string {
	return "vigil:lease:" + name
}
