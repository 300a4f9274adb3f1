package metrics

import (
	"testing"
	"time"
)

func TestRecorder_JobFinished(t *testing.T) {
	r := NewRecorder()
	r.JobFinished("image-set", "success", 2*time.Second)
	r.JobFinished("image-set", "success", 4*time.Second)
	r.JobFinished("image-set", "error", time.Second)

	summary := r.Snapshot()
	if len(summary.Jobs) != 2 {
		t.Fatalf("len(Jobs) = %d, want 2", len(summary.Jobs))
	}

	for _, js := range summary.Jobs {
		switch js.State {
		case "success":
			if js.Count != 2 || js.AvgDuration != 3*time.Second {
				t.Errorf("success stats = %+v", js)
			}
		case "error":
			if js.Count != 1 {
				t.Errorf("error stats = %+v", js)
			}
		}
	}
}

func TestRecorder_ReconcileCounters(t *testing.T) {
	r := NewRecorder()
	r.ReconcilePass(false, false)
	r.ReconcilePass(true, false)
	r.ReconcilePass(false, true)
	r.WriteFailure()

	summary := r.Snapshot()
	if summary.ReconcilePasses != 3 {
		t.Errorf("ReconcilePasses = %d, want 3", summary.ReconcilePasses)
	}
	if summary.StructuralChanges != 1 {
		t.Errorf("StructuralChanges = %d, want 1", summary.StructuralChanges)
	}
	if summary.SuppressedFocusCalcs != 1 {
		t.Errorf("SuppressedFocusCalcs = %d, want 1", summary.SuppressedFocusCalcs)
	}
	if summary.WriteFailures != 1 {
		t.Errorf("WriteFailures = %d, want 1", summary.WriteFailures)
	}
}

func TestRecorder_NilSafe(t *testing.T) {
	var r *Recorder
	r.JobFinished("image-set", "success", time.Second)
	r.ReconcilePass(true, true)
	r.WriteFailure()

	if got := r.Snapshot(); got.ReconcilePasses != 0 {
		t.Errorf("nil recorder snapshot = %+v", got)
	}
}
