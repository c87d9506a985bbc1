package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/openride/surgecast/api"
	"github.com/openride/surgecast/config"
	"github.com/openride/surgecast/core/forecast"
	"github.com/openride/surgecast/core/geo"
	"github.com/openride/surgecast/core/ingest"
	coremetrics "github.com/openride/surgecast/core/metrics"
	"github.com/openride/surgecast/core/model"
	"github.com/openride/surgecast/core/override"
	"github.com/openride/surgecast/core/positioning"
	"github.com/openride/surgecast/core/scheduler"
	"github.com/openride/surgecast/core/surge"
	"github.com/openride/surgecast/infra/logger"
	"github.com/openride/surgecast/infra/metrics"
	"github.com/openride/surgecast/infra/mqtt"
	"github.com/openride/surgecast/infra/store"
	"github.com/openride/surgecast/internal/eventbus"
)

// Service wires the pricing engine together: zone registry, ingestion,
// forecasting, surge computation, overrides, positioning and the HTTP
// boundary.
type Service struct {
	Zones      *geo.Registry
	Ingestor   *ingest.Ingestor
	Forecaster *forecast.Forecaster
	Engine     *surge.Engine
	Overrides  *override.Store
	Advisor    *positioning.Advisor

	cfg      *config.Config
	bus      *eventbus.Bus
	consumer *mqtt.Consumer
	audit    *store.AsyncAudit
	cache    *store.SQLiteStore
	runner   *scheduler.Runner
	log      logger.Logger

	closers []func() error
}

// New creates a Service from the configuration.
func New(cfg *config.Config) (*Service, error) {
	logg := logger.New("service")

	var sinks []coremetrics.Sink
	if cfg.Metrics.PrometheusEnabled {
		sink, err := metrics.NewPromSink(cfg.Metrics)
		if err != nil {
			return nil, fmt.Errorf("prom sink: %w", err)
		}
		sinks = append(sinks, sink)
	}
	if cfg.Metrics.InfluxEnabled {
		sinks = append(sinks, metrics.NewInfluxSinkWithFallback(
			cfg.Metrics.InfluxURL, cfg.Metrics.InfluxToken, cfg.Metrics.InfluxOrg, cfg.Metrics.InfluxBucket))
	}
	var sink coremetrics.Sink = coremetrics.NopSink{}
	if len(sinks) == 1 {
		sink = sinks[0]
	} else if len(sinks) > 1 {
		sink = metrics.NewMultiSink(sinks...)
	}

	svc := &Service{cfg: cfg, log: logg, bus: eventbus.New()}

	svc.Zones = geo.NewRegistry(nil)
	if err := seedZones(svc.Zones, cfg.Zones); err != nil {
		return nil, err
	}

	auditSink, err := svc.buildAudit(cfg.Audit, sink)
	if err != nil {
		return nil, err
	}

	svc.Overrides = override.NewStore(cfg.Override, svc.Zones, auditSink, sink, nil)
	svc.Zones.SetOverrideChecker(svc.Overrides)

	svc.Ingestor = ingest.New(cfg.Ingest, svc.Zones, sink, nil)
	svc.Forecaster = forecast.New(cfg.Forecast, svc.Zones, nil, nil, nil, sink, nil)
	if svc.cache != nil {
		svc.warmStartForecasts()
	}
	svc.Engine = surge.New(cfg.Surge, svc.Zones, svc.Ingestor, svc.Forecaster, svc.Overrides, sink, svc.bus, nil)
	svc.Advisor = positioning.New(cfg.Positioning, svc.Zones, svc.Ingestor, svc.Forecaster, svc.Engine, nil)

	if cfg.MQTT.Broker != "" {
		consumer, err := mqtt.NewConsumer(cfg.MQTT, svc.Ingestor)
		if err != nil {
			return nil, fmt.Errorf("mqtt consumer: %w", err)
		}
		svc.consumer = consumer
	}

	svc.runner = scheduler.NewRunner(logger.New("scheduler"))
	svc.runner.Add(scheduler.Job{
		Name:  "surge-tick",
		Every: svc.Engine.TickInterval(),
		Run:   func(context.Context) { svc.Engine.Tick() },
	})
	svc.runner.Add(scheduler.Job{
		Name:  "forecast-refresh",
		Every: time.Duration(cfg.Forecast.RefreshMinutes) * time.Minute,
		Run:   func(context.Context) { svc.refreshForecasts() },
	})
	svc.runner.Add(scheduler.Job{
		Name:  "history-roll",
		Every: time.Hour,
		Run:   func(context.Context) { svc.rollHistory() },
	})
	return svc, nil
}

// buildAudit constructs the configured audit backend wrapped in the async
// writer.
func (s *Service) buildAudit(cfg config.AuditConfig, alerts coremetrics.AlertRecorder) (override.AuditSink, error) {
	var dst override.AuditSink
	switch cfg.Backend {
	case "sqlite":
		st, err := store.NewSQLiteStore(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("audit sqlite: %w", err)
		}
		s.closers = append(s.closers, st.Close)
		s.cache = st
		dst = st
	default:
		st, err := store.NewRotatingJSONLAudit(cfg.Path, cfg.MaxSizeMB, cfg.MaxBackups, cfg.MaxAgeDays)
		if err != nil {
			return nil, fmt.Errorf("audit jsonl: %w", err)
		}
		s.closers = append(s.closers, st.Close)
		dst = st
	}
	s.audit = store.NewAsyncAudit(store.AsyncConfig{
		QueueSize: cfg.QueueSize,
		Retries:   cfg.Retries,
		BackoffMS: cfg.BackoffMS,
	}, dst, alerts, nil)
	return s.audit, nil
}

func seedZones(reg *geo.Registry, zones []config.ZoneConfig) error {
	for _, zc := range zones {
		kind, err := model.ParseZoneKind(zc.Kind)
		if err != nil {
			return fmt.Errorf("zone %s: %w", zc.ID, err)
		}
		z := model.Zone{
			ID:       zc.ID,
			Name:     zc.Name,
			Kind:     kind,
			Lat:      zc.Lat,
			Lng:      zc.Lng,
			RadiusKm: zc.RadiusKm,
			ParentID: zc.ParentID,
		}
		if err := reg.Register(z); err != nil {
			return fmt.Errorf("zone %s: %w", zc.ID, err)
		}
	}
	return nil
}

func (s *Service) refreshForecasts() {
	zones := s.Zones.List()
	ids := make([]string, len(zones))
	for i, z := range zones {
		ids[i] = z.ID
	}
	if _, err := s.Forecaster.BatchPredict(ids, 0); err != nil {
		s.log.Errorf("forecast refresh: %v", err)
	}
}

// rollHistory moves the past hour's observed ride requests from the ingestor
// into the forecaster's history buckets. Without this roll the forecaster
// would never learn from live traffic.
func (s *Service) rollHistory() {
	hour := time.Now().UTC().Truncate(time.Hour)
	for zoneID, rides := range s.Ingestor.DrainRideCounts() {
		s.Forecaster.AddSample(zoneID, hour, rides)
	}
}

// warmStartForecasts replays cached forecast points as history samples so a
// restarted service does not reset every zone to the fallback baseline.
func (s *Service) warmStartForecasts() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	from := time.Now().UTC().Add(-7 * 24 * time.Hour)
	n := 0
	for _, z := range s.Zones.List() {
		points, err := s.cache.LoadForecasts(ctx, z.ID, from)
		if err != nil {
			s.log.Warnf("load cached forecasts for %s: %v", z.ID, err)
			continue
		}
		for _, p := range points {
			s.Forecaster.AddSample(z.ID, p.TargetHour, p.PredictedRides)
		}
		n += len(points)
	}
	if n > 0 {
		s.log.Infof("warm started forecaster from %d cached points", n)
	}
}

// Run starts the schedulers, the metrics server and the HTTP API, then
// blocks until the context is cancelled.
func (s *Service) Run(ctx context.Context) error {
	s.runner.Start(ctx)
	defer s.runner.Stop()

	if s.cfg.Metrics.PrometheusEnabled {
		go func() {
			if err := metrics.StartPromServer(ctx, ":"+s.cfg.Metrics.PrometheusPort); err != nil {
				s.log.Errorf("prom server: %v", err)
			}
		}()
	}

	apiServer := api.NewServer(s.Zones, s.Engine, s.Overrides, s.Forecaster, s.Advisor, s.Ingestor, s.bus, nil)
	srv := &http.Server{Addr: s.cfg.API.Addr, Handler: apiServer.Routes()}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.log.Errorf("api shutdown: %v", err)
		}
	}()
	s.log.Infof("api listening on %s", s.cfg.API.Addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Close releases resources held by the service.
func (s *Service) Close() error {
	if s.consumer != nil {
		s.consumer.Disconnect()
	}
	s.Ingestor.Close()
	if s.audit != nil {
		s.audit.Close()
	}
	s.bus.Close()
	var first error
	for _, c := range s.closers {
		if err := c(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
