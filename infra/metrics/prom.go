package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	coremetrics "github.com/openride/surgecast/core/metrics"
)

// PromSink exposes pricing-engine activity as Prometheus metrics.
type PromSink struct {
	ingest    *prometheus.CounterVec
	overrides *prometheus.CounterVec
	alerts    *prometheus.CounterVec
	surge     *prometheus.GaugeVec
	ratio     *prometheus.GaugeVec
	forecast  *prometheus.GaugeVec
}

// NewPromSink registers the metrics on the default Prometheus registerer.
// The Prometheus server should be started separately using cfg.PrometheusPort.
func NewPromSink(cfg coremetrics.Config) (coremetrics.Sink, error) {
	return NewPromSinkWithRegistry(cfg, prometheus.DefaultRegisterer)
}

// NewPromSinkWithRegistry registers metrics on the provided registerer.
// A nil registerer defaults to the global Prometheus registerer.
func NewPromSinkWithRegistry(_ coremetrics.Config, reg prometheus.Registerer) (coremetrics.Sink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	ingest := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "signal_ingest_total",
		Help: "Signal events by zone, kind and outcome",
	}, []string{"zone_id", "kind", "outcome"})
	overrides := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "override_mutations_total",
		Help: "Administrator override mutations by zone and action",
	}, []string{"zone_id", "action"})
	alerts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "operational_alerts_total",
		Help: "Escalated operational alerts by component",
	}, []string{"component"})
	surge := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "surge_effective_multiplier",
		Help: "Effective surge multiplier per zone",
	}, []string{"zone_id", "source"})
	ratio := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "surge_demand_supply_ratio",
		Help: "Demand/supply ratio per zone at the last tick",
	}, []string{"zone_id"})
	forecast := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "forecast_predicted_rides",
		Help: "Predicted rides per hour per zone",
	}, []string{"zone_id", "fallback"})

	s := &PromSink{ingest: ingest, overrides: overrides, alerts: alerts, surge: surge, ratio: ratio, forecast: forecast}
	for _, c := range []prometheus.Collector{ingest, overrides, alerts, surge, ratio, forecast} {
		if err := register(reg, c); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// register tolerates duplicate registration so sinks can be rebuilt in
// tests and on config reload.
func register(reg prometheus.Registerer, c prometheus.Collector) error {
	if err := reg.Register(c); err != nil {
		if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
			return nil
		}
		return err
	}
	return nil
}

// RecordIngest counts one signal event outcome.
func (s *PromSink) RecordIngest(ev coremetrics.IngestEvent) error {
	s.ingest.WithLabelValues(ev.ZoneID, ev.Kind.String(), ev.Outcome).Inc()
	return nil
}

// RecordSurgeTick updates the per-zone gauges.
func (s *PromSink) RecordSurgeTick(evs []coremetrics.SurgeTickEvent) error {
	for _, ev := range evs {
		s.surge.WithLabelValues(ev.ZoneID, ev.Source.String()).Set(ev.Effective)
		s.ratio.WithLabelValues(ev.ZoneID).Set(ev.Ratio)
	}
	return nil
}

// RecordOverride counts one override mutation.
func (s *PromSink) RecordOverride(ev coremetrics.OverrideEvent) error {
	s.overrides.WithLabelValues(ev.ZoneID, ev.Action).Inc()
	return nil
}

// RecordForecast updates the forecast gauges.
func (s *PromSink) RecordForecast(evs []coremetrics.ForecastEvent) error {
	for _, ev := range evs {
		s.forecast.WithLabelValues(ev.ZoneID, strconv.FormatBool(ev.Fallback)).Set(ev.Predicted)
	}
	return nil
}

// RecordAlert counts an escalated alert.
func (s *PromSink) RecordAlert(a coremetrics.Alert) error {
	s.alerts.WithLabelValues(a.Component).Inc()
	return nil
}
