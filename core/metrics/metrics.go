package metrics

import (
	"time"

	"github.com/openride/surgecast/core/model"
)

// IngestEvent captures the outcome of one signal event on the ingestion path.
type IngestEvent struct {
	ZoneID    string
	Kind      model.EventKind
	Outcome   string // applied, stale, duplicate, queue_drop, unresolved
	Component string
	Time      time.Time
}

// IngestRecorder records ingestion outcomes. Implementations must be
// non-blocking: this is called from the hot path.
type IngestRecorder interface {
	RecordIngest(ev IngestEvent) error
}

// SurgeTickEvent is a snapshot of one zone produced by a surge tick.
type SurgeTickEvent struct {
	ZoneID    string
	Automatic float64
	Effective float64
	Source    model.SurgeSource
	Ratio     float64
	Drivers   float64
	Demand    float64
	Time      time.Time
}

// SurgeTickRecorder records per-zone tick results.
type SurgeTickRecorder interface {
	RecordSurgeTick(evs []SurgeTickEvent) error
}

// OverrideEvent records an administrator override mutation.
type OverrideEvent struct {
	ZoneID     string
	Action     string // set, clear, bulk_set, expire
	Multiplier float64
	SetBy      string
	Time       time.Time
}

// OverrideRecorder records override mutations.
type OverrideRecorder interface {
	RecordOverride(ev OverrideEvent) error
}

// ForecastEvent records a forecast computation.
type ForecastEvent struct {
	ZoneID     string
	Predicted  float64
	Confidence float64
	Fallback   bool
	Time       time.Time
}

// ForecastRecorder records forecast results.
type ForecastRecorder interface {
	RecordForecast(evs []ForecastEvent) error
}

// Alert is an operational condition that must not be silently dropped,
// such as a persistent audit-write failure.
type Alert struct {
	Component string
	Message   string
	Err       string
	Time      time.Time
}

// AlertRecorder escalates operational alerts.
type AlertRecorder interface {
	RecordAlert(a Alert) error
}

// Sink aggregates the recorder interfaces a full observability backend
// implements.
type Sink interface {
	IngestRecorder
	SurgeTickRecorder
	OverrideRecorder
	ForecastRecorder
	AlertRecorder
}

// NopSink implements Sink with no-op methods.
type NopSink struct{}

func (NopSink) RecordIngest(IngestEvent) error         { return nil }
func (NopSink) RecordSurgeTick([]SurgeTickEvent) error { return nil }
func (NopSink) RecordOverride(OverrideEvent) error     { return nil }
func (NopSink) RecordForecast([]ForecastEvent) error   { return nil }
func (NopSink) RecordAlert(Alert) error                { return nil }
