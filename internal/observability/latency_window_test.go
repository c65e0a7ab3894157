package observability

import (
	"testing"
	"time"
)

func TestLatencyWindowSnapshot(t *testing.T) {
	w := NewLatencyWindow(8)
	w.Observe(StageNegotiation, 500*time.Millisecond)
	w.Observe(StageNegotiation, 700*time.Millisecond)
	w.Observe(StageNegotiation, 900*time.Millisecond)
	w.Observe("", time.Second)
	w.Observe(StageFirstDelta, -time.Second)

	snap := w.Snapshot()
	if snap.WindowSize != 8 {
		t.Fatalf("WindowSize = %d, want 8", snap.WindowSize)
	}
	if len(snap.Stages) != 1 {
		t.Fatalf("len(Stages) = %d, want 1", len(snap.Stages))
	}
	s := snap.Stages[0]
	if s.Stage != StageNegotiation {
		t.Fatalf("Stage = %q, want %q", s.Stage, StageNegotiation)
	}
	if s.Samples != 3 {
		t.Fatalf("Samples = %d, want 3", s.Samples)
	}
	if s.LastMS != 900 {
		t.Fatalf("LastMS = %.2f, want 900", s.LastMS)
	}
	if s.P50MS != 700 {
		t.Fatalf("P50MS = %.2f, want 700", s.P50MS)
	}
	if s.P95MS <= 700 || s.P95MS > 900 {
		t.Fatalf("P95MS = %.2f, want (700,900]", s.P95MS)
	}
	if s.TargetP95MS != 2500 {
		t.Fatalf("TargetP95MS = %.2f, want 2500", s.TargetP95MS)
	}
}

func TestLatencyWindowWrapsAndResets(t *testing.T) {
	w := NewLatencyWindow(2)
	w.Observe(StageCredentialIssue, 100*time.Millisecond)
	w.Observe(StageCredentialIssue, 200*time.Millisecond)
	w.Observe(StageCredentialIssue, 300*time.Millisecond)

	s := w.Snapshot().Stages[0]
	if s.Samples != 2 {
		t.Fatalf("Samples = %d, want 2", s.Samples)
	}
	if s.AvgMS != 250 {
		t.Fatalf("AvgMS = %.2f, want 250 (oldest sample evicted)", s.AvgMS)
	}

	w.Reset()
	if got := len(w.Snapshot().Stages); got != 0 {
		t.Fatalf("len(Stages) after reset = %d, want 0", got)
	}
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.ObserveNegotiation(time.Second)
	m.ObserveStage(StageFirstDelta, time.Second)
	m.ObserveCharge("newSearch", "ok")
	if got := len(m.LatencySnapshot().Stages); got != 0 {
		t.Fatalf("nil metrics snapshot has %d stages", got)
	}
}
