package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	coremetrics "github.com/openride/surgecast/core/metrics"
	"github.com/openride/surgecast/core/model"
)

func TestPromSinkRecordsSurgeGauges(t *testing.T) {
	reg := prometheus.NewRegistry()
	sink, err := NewPromSinkWithRegistry(coremetrics.Config{}, reg)
	if err != nil {
		t.Fatalf("new sink: %v", err)
	}
	err = sink.RecordSurgeTick([]coremetrics.SurgeTickEvent{
		{ZoneID: "lax", Automatic: 2.1, Effective: 2.5, Source: model.SourceManual, Ratio: 2.5, Time: time.Now()},
	})
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	found := false
	for _, mf := range mfs {
		if mf.GetName() == "surge_effective_multiplier" {
			found = true
			if v := mf.GetMetric()[0].GetGauge().GetValue(); v != 2.5 {
				t.Fatalf("gauge = %v", v)
			}
		}
	}
	if !found {
		t.Fatalf("surge_effective_multiplier not registered")
	}
}

func TestPromSinkCountsIngestOutcomes(t *testing.T) {
	reg := prometheus.NewRegistry()
	sink, err := NewPromSinkWithRegistry(coremetrics.Config{}, reg)
	if err != nil {
		t.Fatalf("new sink: %v", err)
	}
	for i := 0; i < 3; i++ {
		ev := coremetrics.IngestEvent{ZoneID: "lax", Kind: model.RideRequested, Outcome: "queue_drop", Time: time.Now()}
		if err := sink.RecordIngest(ev); err != nil {
			t.Fatalf("record: %v", err)
		}
	}
	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, mf := range mfs {
		if mf.GetName() == "signal_ingest_total" {
			if v := mf.GetMetric()[0].GetCounter().GetValue(); v != 3 {
				t.Fatalf("counter = %v", v)
			}
			return
		}
	}
	t.Fatalf("signal_ingest_total not registered")
}

func TestPromSinkDoubleRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	if _, err := NewPromSinkWithRegistry(coremetrics.Config{}, reg); err != nil {
		t.Fatalf("first: %v", err)
	}
	if _, err := NewPromSinkWithRegistry(coremetrics.Config{}, reg); err != nil {
		t.Fatalf("rebuilding the sink must tolerate existing collectors: %v", err)
	}
}
