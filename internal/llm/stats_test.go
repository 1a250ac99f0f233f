package llm

import (
	"testing"
	"time"
)

func TestLLMStatsSnapshotPercentiles(t *testing.T) {
	stats := NewLLMStats(time.Hour)
	for _, ms := range []int64{500, 100, 300, 200, 400} {
		stats.Record(ms)
	}

	snap := stats.Snapshot()
	if snap.Count != 5 {
		t.Fatalf("expected count=5, got %d", snap.Count)
	}
	if snap.MinMs != 100 || snap.MaxMs != 500 {
		t.Fatalf("expected min=100 max=500, got min=%d max=%d", snap.MinMs, snap.MaxMs)
	}
	if snap.AvgMs != 300 {
		t.Fatalf("expected avg=300, got %f", snap.AvgMs)
	}
	if snap.P50Ms != 300 {
		t.Fatalf("expected p50=300, got %f", snap.P50Ms)
	}
	if snap.P95Ms != 480 {
		t.Fatalf("expected p95=480, got %f", snap.P95Ms)
	}
	if snap.P99Ms != 496 {
		t.Fatalf("expected p99=496, got %f", snap.P99Ms)
	}
}

func TestLLMStatsExpiresOldSamples(t *testing.T) {
	stats := NewLLMStats(10 * time.Millisecond)
	stats.Record(100)
	time.Sleep(25 * time.Millisecond)

	if snap := stats.Snapshot(); snap.Count != 0 {
		t.Fatalf("expected count=0 after expiry, got %d", snap.Count)
	}

	stats.Record(200)
	snap := stats.Snapshot()
	if snap.Count != 1 || snap.MinMs != 200 || snap.MaxMs != 200 {
		t.Fatalf("expected one fresh sample of 200, got %+v", snap)
	}
}

func TestLLMStatsClampsNegativeDuration(t *testing.T) {
	stats := NewLLMStats(time.Hour)
	stats.Record(-10)
	snap := stats.Snapshot()
	if snap.Count != 1 || snap.MaxMs != 0 {
		t.Fatalf("expected a single zero sample, got %+v", snap)
	}
}

func TestLLMStatsCapsSampleCount(t *testing.T) {
	stats := NewLLMStats(time.Hour)
	for i := 0; i < maxSamples+10; i++ {
		stats.Record(int64(i))
	}
	snap := stats.Snapshot()
	if snap.Count != maxSamples {
		t.Fatalf("expected count=%d, got %d", maxSamples, snap.Count)
	}
	if snap.MinMs != 10 {
		t.Fatalf("expected oldest samples dropped, min=%d", snap.MinMs)
	}
}

func TestRegistry(t *testing.T) {
	r := NewRegistry(time.Hour)
	r.For("embedding").Record(40)
	r.For("generation").Record(900)
	if r.For("embedding") != r.For("embedding") {
		t.Fatal("expected the same tracker for a name")
	}

	snap := r.Snapshot()
	if len(snap) != 2 {
		t.Fatalf("expected 2 upstreams, got %d", len(snap))
	}
	if snap["generation"].MaxMs != 900 {
		t.Fatalf("expected generation max=900, got %d", snap["generation"].MaxMs)
	}
}
