// Package metrics is the engine's injectable observability surface. The
// recorder is in-process and deliberately tiny: callers hold a *Recorder
// (possibly nil) and the HTTP layer exposes a summary. Nothing here does
// I/O on the hot path.
package metrics

import (
	"sync"
	"time"
)

// Recorder accumulates engine counters.
type Recorder struct {
	mu sync.Mutex

	jobs map[jobOutcome]*jobStats

	reconcilePasses      int64
	structuralChanges    int64
	suppressedFocusCalcs int64

	writeFailures int64
}

type jobOutcome struct {
	JobType string
	State   string
}

type jobStats struct {
	count int64
	total time.Duration
}

// NewRecorder creates an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{
		jobs: make(map[jobOutcome]*jobStats),
	}
}

// JobFinished records a terminal job transition and how long the job ran.
func (r *Recorder) JobFinished(jobType, state string, duration time.Duration) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	key := jobOutcome{JobType: jobType, State: state}
	stats, ok := r.jobs[key]
	if !ok {
		stats = &jobStats{}
		r.jobs[key] = stats
	}
	stats.count++
	stats.total += duration
}

// ReconcilePass records one reconciliation, its classification, and whether
// focus recalculation was suppressed.
func (r *Recorder) ReconcilePass(structural, suppressed bool) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	r.reconcilePasses++
	if structural {
		r.structuralChanges++
	}
	if suppressed {
		r.suppressedFocusCalcs++
	}
}

// WriteFailure records a failed persistence call.
func (r *Recorder) WriteFailure() {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.writeFailures++
}

// JobSummary is the per-(type, state) aggregate.
type JobSummary struct {
	JobType     string        `json:"job_type"`
	State       string        `json:"state"`
	Count       int64         `json:"count"`
	AvgDuration time.Duration `json:"avg_duration"`
}

// Summary is a point-in-time view of every counter.
type Summary struct {
	Jobs                 []JobSummary `json:"jobs"`
	ReconcilePasses      int64        `json:"reconcile_passes"`
	StructuralChanges    int64        `json:"structural_changes"`
	SuppressedFocusCalcs int64        `json:"suppressed_focus_calcs"`
	WriteFailures        int64        `json:"write_failures"`
}

// Snapshot returns a copy of the current counters.
func (r *Recorder) Snapshot() Summary {
	if r == nil {
		return Summary{}
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	summary := Summary{
		ReconcilePasses:      r.reconcilePasses,
		StructuralChanges:    r.structuralChanges,
		SuppressedFocusCalcs: r.suppressedFocusCalcs,
		WriteFailures:        r.writeFailures,
	}

	for key, stats := range r.jobs {
		avg := time.Duration(0)
		if stats.count > 0 {
			avg = stats.total / time.Duration(stats.count)
		}
		summary.Jobs = append(summary.Jobs, JobSummary{
			JobType:     key.JobType,
			State:       key.State,
			Count:       stats.count,
			AvgDuration: avg,
		})
	}
	return summary
}
