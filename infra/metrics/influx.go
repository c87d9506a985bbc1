package metrics

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	coremetrics "github.com/openride/surgecast/core/metrics"
	"github.com/openride/surgecast/infra/logger"
)

// InfluxSink writes pricing-engine events to an InfluxDB instance using the
// official client.
type InfluxSink struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	log      logger.Logger
}

// NewInfluxSink creates a sink configured for the given InfluxDB endpoint.
func NewInfluxSink(url, token, org, bucket string) *InfluxSink {
	base := strings.TrimSuffix(url, "/api/v2/write")
	client := influxdb2.NewClientWithOptions(base, token,
		influxdb2.DefaultOptions().SetHTTPClient(&http.Client{Timeout: 5 * time.Second}))
	return &InfluxSink{
		client:   client,
		writeAPI: client.WriteAPIBlocking(org, bucket),
		log:      logger.New("influx-sink"),
	}
}

// NewInfluxSinkWithFallback pings the InfluxDB instance and returns a
// NopSink if the health check fails, so a missing backend never takes the
// pricing service down.
func NewInfluxSinkWithFallback(url, token, org, bucket string) coremetrics.Sink {
	sink := NewInfluxSink(url, token, org, bucket)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	health, err := sink.client.Health(ctx)
	if err != nil || health.Status != "pass" {
		if err != nil {
			sink.log.Errorf("influx health check error: %v", err)
		} else {
			sink.log.Errorf("influx health status: %s", health.Status)
		}
		sink.client.Close()
		return coremetrics.NopSink{}
	}
	return sink
}

// Close releases the underlying client.
func (s *InfluxSink) Close() { s.client.Close() }

// RecordIngest writes one ingestion outcome point.
func (s *InfluxSink) RecordIngest(ev coremetrics.IngestEvent) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p := write.NewPointWithMeasurement("signal_ingest").
		AddTag("zone_id", ev.ZoneID).
		AddTag("kind", ev.Kind.String()).
		AddTag("outcome", ev.Outcome).
		AddTag("component", ev.Component).
		AddField("count", 1).
		SetTime(ev.Time)
	return s.writeAPI.WritePoint(ctx, p)
}

// RecordSurgeTick writes one point per zone for the tick.
func (s *InfluxSink) RecordSurgeTick(evs []coremetrics.SurgeTickEvent) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for _, ev := range evs {
		p := write.NewPointWithMeasurement("surge_tick").
			AddTag("zone_id", ev.ZoneID).
			AddTag("source", ev.Source.String()).
			AddField("automatic", round3(ev.Automatic)).
			AddField("effective", round3(ev.Effective)).
			AddField("ratio", round3(ev.Ratio)).
			AddField("drivers", round3(ev.Drivers)).
			AddField("demand", round3(ev.Demand)).
			SetTime(ev.Time)
		if err := s.writeAPI.WritePoint(ctx, p); err != nil {
			return err
		}
	}
	return nil
}

// RecordOverride writes one override mutation point.
func (s *InfluxSink) RecordOverride(ev coremetrics.OverrideEvent) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p := write.NewPointWithMeasurement("override_mutation").
		AddTag("zone_id", ev.ZoneID).
		AddTag("action", ev.Action).
		AddTag("set_by", ev.SetBy).
		AddField("multiplier", round3(ev.Multiplier)).
		SetTime(ev.Time)
	return s.writeAPI.WritePoint(ctx, p)
}

// RecordForecast writes one point per forecast result.
func (s *InfluxSink) RecordForecast(evs []coremetrics.ForecastEvent) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for _, ev := range evs {
		p := write.NewPointWithMeasurement("demand_forecast").
			AddTag("zone_id", ev.ZoneID).
			AddTag("fallback", strconv.FormatBool(ev.Fallback)).
			AddField("predicted_rides", round3(ev.Predicted)).
			AddField("confidence", round3(ev.Confidence)).
			SetTime(ev.Time)
		if err := s.writeAPI.WritePoint(ctx, p); err != nil {
			return err
		}
	}
	return nil
}

// RecordAlert writes an operational alert point.
func (s *InfluxSink) RecordAlert(a coremetrics.Alert) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p := write.NewPointWithMeasurement("operational_alert").
		AddTag("component", a.Component).
		AddField("message", a.Message).
		AddField("error", a.Err).
		SetTime(a.Time)
	return s.writeAPI.WritePoint(ctx, p)
}

func round3(f float64) float64 {
	return math.Round(f*1000) / 1000
}
