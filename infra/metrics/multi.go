package metrics

import coremetrics "github.com/openride/surgecast/core/metrics"

// MultiSink fans records out to multiple sinks.
type MultiSink struct {
	Sinks []coremetrics.Sink
}

// NewMultiSink creates a MultiSink with the provided sinks.
func NewMultiSink(sinks ...coremetrics.Sink) *MultiSink {
	return &MultiSink{Sinks: sinks}
}

// RecordIngest forwards the event to all sinks, returning the first error.
func (m *MultiSink) RecordIngest(ev coremetrics.IngestEvent) error {
	for _, s := range m.Sinks {
		if err := s.RecordIngest(ev); err != nil {
			return err
		}
	}
	return nil
}

// RecordSurgeTick forwards tick results.
func (m *MultiSink) RecordSurgeTick(evs []coremetrics.SurgeTickEvent) error {
	for _, s := range m.Sinks {
		if err := s.RecordSurgeTick(evs); err != nil {
			return err
		}
	}
	return nil
}

// RecordOverride forwards override mutations.
func (m *MultiSink) RecordOverride(ev coremetrics.OverrideEvent) error {
	for _, s := range m.Sinks {
		if err := s.RecordOverride(ev); err != nil {
			return err
		}
	}
	return nil
}

// RecordForecast forwards forecast results.
func (m *MultiSink) RecordForecast(evs []coremetrics.ForecastEvent) error {
	for _, s := range m.Sinks {
		if err := s.RecordForecast(evs); err != nil {
			return err
		}
	}
	return nil
}

// RecordAlert forwards operational alerts.
func (m *MultiSink) RecordAlert(a coremetrics.Alert) error {
	for _, s := range m.Sinks {
		if err := s.RecordAlert(a); err != nil {
			return err
		}
	}
	return nil
}
