package ingest

import (
	"math"
	"sync"
	"testing"
	"time"

	"github.com/openride/surgecast/core/metrics"
	"github.com/openride/surgecast/core/model"
)

type fixedResolver struct{ zone model.Zone }

func (r fixedResolver) ResolvePrimary(lat, lng float64) (model.Zone, bool) {
	if lat == 0 && lng == 0 {
		return model.Zone{}, false
	}
	return r.zone, true
}

type countingSink struct {
	mu       sync.Mutex
	outcomes map[string]int
}

func (s *countingSink) RecordIngest(ev metrics.IngestEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.outcomes == nil {
		s.outcomes = map[string]int{}
	}
	s.outcomes[ev.Outcome]++
	return nil
}

func (s *countingSink) count(outcome string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.outcomes[outcome]
}

// waitCount polls until the sink has seen the outcome at least want times.
// Metric records are emitted off the ingestion path, so assertions on the
// sink have to wait for the emitter to catch up.
func waitCount(t *testing.T, s *countingSink, outcome string, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if s.count(outcome) >= want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("%s count = %d, want at least %d", outcome, s.count(outcome), want)
}

func newTestIngestor(sink metrics.IngestRecorder) *Ingestor {
	zone := model.Zone{ID: "downtown", Kind: model.KindDowntown, Lat: 36.373, Lng: -94.209, RadiusKm: 2}
	return New(Config{HalfLifeSeconds: 300, StalenessSeconds: 600, QueueSize: 8}, fixedResolver{zone}, sink, nil)
}

func ev(id string, kind model.EventKind, ts time.Time) model.SignalEvent {
	return model.SignalEvent{ID: id, Kind: kind, Lat: 36.373, Lng: -94.209, Timestamp: ts}
}

func TestApplyCounters(t *testing.T) {
	in := newTestIngestor(nil)
	defer in.Close()
	base := time.Date(2025, 6, 2, 8, 0, 0, 0, time.UTC)
	in.now = func() time.Time { return base }
	st := in.lane("downtown").state

	in.apply(st, ev("a", model.DriverOnline, base))
	in.apply(st, ev("b", model.DriverOnline, base))
	in.apply(st, ev("c", model.RideRequested, base))
	in.apply(st, ev("d", model.RideRequested, base))
	in.apply(st, ev("e", model.RideMatched, base))

	snap := in.Snapshot("downtown")
	if math.Abs(snap.ActiveDrivers-2) > 1e-9 {
		t.Fatalf("drivers = %.2f, want 2", snap.ActiveDrivers)
	}
	if math.Abs(snap.PendingRequests-1) > 1e-9 {
		t.Fatalf("pending = %.2f, want 1", snap.PendingRequests)
	}
}

func TestApplyIdempotent(t *testing.T) {
	sink := &countingSink{}
	in := newTestIngestor(sink)
	defer in.Close()
	base := time.Date(2025, 6, 2, 8, 0, 0, 0, time.UTC)
	in.now = func() time.Time { return base }
	st := in.lane("downtown").state

	e := ev("same-id", model.DriverOnline, base)
	in.apply(st, e)
	in.apply(st, e)
	snap := in.Snapshot("downtown")
	if math.Abs(snap.ActiveDrivers-1) > 1e-9 {
		t.Fatalf("duplicate event double-counted: drivers = %.2f", snap.ActiveDrivers)
	}
	waitCount(t, sink, "duplicate", 1)
}

func TestApplyStaleDropped(t *testing.T) {
	sink := &countingSink{}
	in := newTestIngestor(sink)
	defer in.Close()
	base := time.Date(2025, 6, 2, 8, 0, 0, 0, time.UTC)
	in.now = func() time.Time { return base }
	st := in.lane("downtown").state

	in.apply(st, ev("old", model.DriverOnline, base.Add(-time.Hour)))
	snap := in.Snapshot("downtown")
	if snap.ActiveDrivers != 0 {
		t.Fatalf("stale event applied")
	}
	waitCount(t, sink, "stale", 1)
}

func TestOutOfOrderWeighted(t *testing.T) {
	in := newTestIngestor(nil)
	defer in.Close()
	base := time.Date(2025, 6, 2, 8, 0, 0, 0, time.UTC)
	in.now = func() time.Time { return base }
	st := in.lane("downtown").state

	in.apply(st, ev("new", model.DriverOnline, base))
	// An event 300s (one half-life) older than the snapshot head should
	// contribute half a driver, not be rejected.
	in.apply(st, ev("late", model.DriverOnline, base.Add(-300*time.Second)))
	snap := in.Snapshot("downtown")
	if math.Abs(snap.ActiveDrivers-1.5) > 1e-9 {
		t.Fatalf("drivers = %.3f, want 1.5", snap.ActiveDrivers)
	}
	if !snap.LastUpdated.Equal(base) {
		t.Fatalf("out-of-order event moved last_updated backwards")
	}
}

func TestSnapshotDecays(t *testing.T) {
	in := newTestIngestor(nil)
	defer in.Close()
	base := time.Date(2025, 6, 2, 8, 0, 0, 0, time.UTC)
	in.now = func() time.Time { return base }
	st := in.lane("downtown").state
	in.apply(st, ev("a", model.DriverOnline, base))
	in.apply(st, ev("b", model.DriverOnline, base))

	// One half-life later the counters have lost half their weight.
	in.now = func() time.Time { return base.Add(300 * time.Second) }
	snap := in.Snapshot("downtown")
	if math.Abs(snap.ActiveDrivers-1) > 1e-9 {
		t.Fatalf("decayed drivers = %.3f, want 1", snap.ActiveDrivers)
	}
}

func TestNeverNegative(t *testing.T) {
	in := newTestIngestor(nil)
	defer in.Close()
	base := time.Date(2025, 6, 2, 8, 0, 0, 0, time.UTC)
	in.now = func() time.Time { return base }
	st := in.lane("downtown").state
	in.apply(st, ev("x", model.DriverOffline, base))
	in.apply(st, ev("y", model.RideCancelled, base))
	snap := in.Snapshot("downtown")
	if snap.ActiveDrivers < 0 || snap.PendingRequests < 0 || snap.QueueLength < 0 {
		t.Fatalf("counters went negative: %+v", snap)
	}
}

func TestIngestNonBlocking(t *testing.T) {
	sink := &countingSink{}
	zone := model.Zone{ID: "downtown", Kind: model.KindDowntown, Lat: 36.373, Lng: -94.209, RadiusKm: 2}
	in := New(Config{HalfLifeSeconds: 300, StalenessSeconds: 600, QueueSize: 2}, fixedResolver{zone}, sink, nil)
	defer in.Close()
	// Stop the lane consumer so the queue stays full.
	in.cancel()
	in.wg.Wait()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 50; i++ {
			in.Ingest(ev(string(rune('a'+i)), model.RideRequested, time.Now()))
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("Ingest blocked under overload")
	}
	waitCount(t, sink, "queue_drop", 1)
}

func TestUnresolvedDropped(t *testing.T) {
	sink := &countingSink{}
	in := newTestIngestor(sink)
	defer in.Close()
	in.Ingest(model.SignalEvent{ID: "nowhere", Kind: model.DriverOnline, Lat: 0, Lng: 0, Timestamp: time.Now()})
	waitCount(t, sink, "unresolved", 1)
}

type stallingSink struct {
	release chan struct{}
}

func (s *stallingSink) RecordIngest(metrics.IngestEvent) error {
	<-s.release
	return nil
}

func TestIngestNeverWaitsOnSink(t *testing.T) {
	sink := &stallingSink{release: make(chan struct{})}
	in := newTestIngestor(sink)
	defer in.Close()
	defer close(sink.release)

	start := time.Now()
	// Unresolved events record a metric directly on the caller's path; a
	// stalled sink must not be felt there.
	for i := 0; i < 20; i++ {
		in.Ingest(model.SignalEvent{ID: "nowhere", Kind: model.DriverOnline, Lat: 0, Lng: 0, Timestamp: time.Now()})
	}
	if elapsed := time.Since(start); elapsed > 200*time.Millisecond {
		t.Fatalf("Ingest took %s with a stalled sink", elapsed)
	}
}

func TestDrainRideCounts(t *testing.T) {
	in := newTestIngestor(nil)
	defer in.Close()
	base := time.Date(2025, 6, 2, 8, 0, 0, 0, time.UTC)
	in.now = func() time.Time { return base }
	st := in.lane("downtown").state

	in.apply(st, ev("r1", model.RideRequested, base))
	in.apply(st, ev("r2", model.RideRequested, base))
	in.apply(st, ev("r3", model.RideRequested, base))
	in.apply(st, ev("m1", model.RideMatched, base))

	counts := in.DrainRideCounts()
	if math.Abs(counts["downtown"]-3) > 1e-9 {
		t.Fatalf("drained %v, want 3 requests for downtown", counts)
	}
	// The drain resets; a second call reports nothing new.
	if counts := in.DrainRideCounts(); len(counts) != 0 {
		t.Fatalf("second drain not empty: %v", counts)
	}
}

func TestDecayFactor(t *testing.T) {
	if f := decayFactor(0, time.Minute); f != 1 {
		t.Fatalf("zero elapsed must not decay, got %f", f)
	}
	if f := decayFactor(time.Minute, time.Minute); math.Abs(f-0.5) > 1e-9 {
		t.Fatalf("one half-life = %.3f, want 0.5", f)
	}
	if f := decayFactor(2*time.Minute, time.Minute); math.Abs(f-0.25) > 1e-9 {
		t.Fatalf("two half-lives = %.3f, want 0.25", f)
	}
}
