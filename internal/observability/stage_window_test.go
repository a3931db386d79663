package observability

import "testing"

func TestStageWindowSnapshot(t *testing.T) {
	w := newStageWindow(8)
	w.Observe("gate", 500)
	w.Observe("gate", 700)
	w.Observe("gate", 900)
	w.ObserveIndicator("gate_refused")
	w.ObserveIndicator("gate_refused")

	snap := w.Snapshot()
	if snap.WindowSize != 8 {
		t.Fatalf("WindowSize = %d, want 8", snap.WindowSize)
	}
	if len(snap.Stages) != 1 {
		t.Fatalf("len(Stages) = %d, want 1", len(snap.Stages))
	}
	s := snap.Stages[0]
	if s.Stage != "gate" {
		t.Fatalf("Stage = %q, want %q", s.Stage, "gate")
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
	if s.TargetP95MS != 1500 {
		t.Fatalf("TargetP95MS = %.2f, want 1500", s.TargetP95MS)
	}
	if len(snap.Indicators) != 1 || snap.Indicators[0].Count != 2 {
		t.Fatalf("Indicators = %+v, want one indicator with count 2", snap.Indicators)
	}
}

func TestStageWindowWrapsAround(t *testing.T) {
	w := newStageWindow(2)
	w.Observe("analysis", 100)
	w.Observe("analysis", 200)
	w.Observe("analysis", 300)

	snap := w.Snapshot()
	if got := snap.Stages[0].Samples; got != 2 {
		t.Fatalf("Samples = %d, want 2", got)
	}
	if got := snap.Stages[0].AvgMS; got != 250 {
		t.Fatalf("AvgMS = %.2f, want 250", got)
	}
}

func TestNilMetricsAreNoops(t *testing.T) {
	var m *Metrics
	m.ObserveChatOutcome("reply")
	m.ObserveStage("gate", 0)
	snap := m.SnapshotStages()
	if len(snap.Stages) != 0 {
		t.Fatalf("len(Stages) = %d, want 0", len(snap.Stages))
	}
}
