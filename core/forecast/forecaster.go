package forecast

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/openride/surgecast/core/metrics"
	"github.com/openride/surgecast/core/model"
	"github.com/openride/surgecast/infra/logger"
)

// ErrForecastUnavailable marks a bucket with insufficient history. Predict
// recovers from it internally by falling back to the zone-kind baseline; it
// never reaches HTTP callers.
var ErrForecastUnavailable = errors.New("insufficient historical data for bucket")

// ZoneLister provides zone definitions to the forecaster.
type ZoneLister interface {
	Get(zoneID string) (model.Zone, error)
	List() []model.Zone
}

// WeatherProvider supplies the deterministic weather input for a zone and
// time. Live API lookups stay outside the prediction path.
type WeatherProvider interface {
	Sample(zoneID string, t time.Time) model.WeatherSample
}

// StaticWeather is a WeatherProvider returning a fixed sample.
type StaticWeather model.WeatherSample

// Sample implements WeatherProvider.
func (w StaticWeather) Sample(string, time.Time) model.WeatherSample {
	return model.WeatherSample(w)
}

// TrafficProvider supplies the deterministic congestion input per zone and
// time.
type TrafficProvider interface {
	Sample(zoneID string, t time.Time) model.TrafficSample
}

// StaticTraffic is a TrafficProvider returning a fixed sample.
type StaticTraffic model.TrafficSample

// Sample implements TrafficProvider.
func (s StaticTraffic) Sample(string, time.Time) model.TrafficSample {
	return model.TrafficSample(s)
}

// Config defines forecasting parameters.
type Config struct {
	ConfidenceCap  float64 `json:"confidence_cap"`
	MinSamples     int     `json:"min_samples"`
	RefreshMinutes int     `json:"refresh_minutes"`
	HorizonHours   int     `json:"horizon_hours"`
}

// SetDefaults fills in unset fields.
func (c *Config) SetDefaults() {
	if c.ConfidenceCap == 0 {
		c.ConfidenceCap = 95
	}
	if c.MinSamples == 0 {
		c.MinSamples = 4
	}
	if c.RefreshMinutes == 0 {
		c.RefreshMinutes = 60
	}
	if c.HorizonHours == 0 {
		c.HorizonHours = 24
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.ConfidenceCap <= 0 || c.ConfidenceCap > 100 {
		return fmt.Errorf("confidence_cap must be in (0,100]")
	}
	if c.HorizonHours <= 0 {
		return fmt.Errorf("horizon_hours must be positive")
	}
	return nil
}

// bucketKey addresses one (hour-of-day, day-of-week) history bucket.
type bucketKey struct {
	weekday time.Weekday
	hour    int
}

type zoneHistory struct {
	buckets map[bucketKey][]float64
}

// Forecaster produces deterministic demand predictions per zone from
// historical hourly ride counts and shape functions. All randomness lives
// in SyntheticGenerator, never here.
type Forecaster struct {
	cfg      Config
	zones    ZoneLister
	weather  WeatherProvider
	traffic  TrafficProvider
	calendar *EventCalendar
	sink     metrics.ForecastRecorder
	log      logger.Logger

	mu      sync.RWMutex
	history map[string]*zoneHistory
}

// New creates a Forecaster. Weather, traffic, calendar and sink may be nil.
func New(cfg Config, zones ZoneLister, weather WeatherProvider, traffic TrafficProvider, calendar *EventCalendar, sink metrics.ForecastRecorder, log logger.Logger) *Forecaster {
	cfg.SetDefaults()
	if weather == nil {
		weather = StaticWeather{Condition: model.WeatherSunny, TempC: 20}
	}
	if traffic == nil {
		traffic = StaticTraffic{}
	}
	if calendar == nil {
		calendar = NewEventCalendar()
	}
	if sink == nil {
		sink = metrics.NopSink{}
	}
	if log == nil {
		log = logger.New("forecast")
	}
	return &Forecaster{
		cfg:      cfg,
		zones:    zones,
		weather:  weather,
		traffic:  traffic,
		calendar: calendar,
		sink:     sink,
		log:      log,
		history:  map[string]*zoneHistory{},
	}
}

// AddSample records an observed hourly ride count for the bucket containing
// t. Samples only ever increase a bucket's confidence.
func (f *Forecaster) AddSample(zoneID string, t time.Time, rides float64) {
	if rides < 0 {
		rides = 0
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	h, ok := f.history[zoneID]
	if !ok {
		h = &zoneHistory{buckets: map[bucketKey][]float64{}}
		f.history[zoneID] = h
	}
	k := bucketKey{weekday: t.Weekday(), hour: t.Hour()}
	h.buckets[k] = append(h.buckets[k], rides)
}

// SampleCount returns the number of historical samples for the bucket
// containing t.
func (f *Forecaster) SampleCount(zoneID string, t time.Time) int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	h, ok := f.history[zoneID]
	if !ok {
		return 0
	}
	return len(h.buckets[bucketKey{weekday: t.Weekday(), hour: t.Hour()}])
}

// Predict returns the demand forecast for a zone at the target time. It is
// deterministic given its inputs. Zones with too little bucket history fall
// back to the zone-kind baseline pattern with low confidence.
func (f *Forecaster) Predict(zoneID string, target time.Time) (model.ForecastPoint, error) {
	zone, err := f.zones.Get(zoneID)
	if err != nil {
		return model.ForecastPoint{}, err
	}
	base, n, err := f.historicalBase(zoneID, target)
	fallback := false
	if err != nil {
		base = baselineRides[zone.Kind]
		fallback = true
	}

	seasonal := hourlyShape(zone.Kind, target.Hour()) * weeklyShape(zone.Kind, target.Weekday())
	weather := f.weather.Sample(zoneID, target).Multiplier()
	traffic := f.traffic.Sample(zoneID, target).Multiplier()
	events := 1.0 + 0.2*float64(f.calendar.CountAt(zoneID, target))

	predicted := base * seasonal * weather * traffic * events
	if predicted < 0 {
		predicted = 0
	}

	point := model.ForecastPoint{
		ZoneID:         zoneID,
		TargetHour:     target.Truncate(time.Hour),
		PredictedRides: math.Round(predicted*100) / 100,
		Confidence:     f.confidence(n, fallback),
		Factors: model.FactorBreakdown{
			Weather:    weather,
			Traffic:    traffic,
			Seasonal:   seasonal,
			Events:     events,
			Historical: base,
		},
		Fallback: fallback,
	}
	return point, nil
}

// BatchPredict produces forecasts for the given zones over the horizon,
// starting at the next full hour. The sequence is finite and safe to
// recompute at any time: it reads signal history but never mutates it.
func (f *Forecaster) BatchPredict(zoneIDs []string, horizonHours int) ([]model.ForecastPoint, error) {
	if horizonHours <= 0 || horizonHours > f.cfg.HorizonHours {
		horizonHours = f.cfg.HorizonHours
	}
	start := time.Now().UTC().Truncate(time.Hour).Add(time.Hour)
	points := make([]model.ForecastPoint, 0, len(zoneIDs)*horizonHours)
	evs := make([]metrics.ForecastEvent, 0, len(points))
	for _, id := range zoneIDs {
		for h := 0; h < horizonHours; h++ {
			p, err := f.Predict(id, start.Add(time.Duration(h)*time.Hour))
			if err != nil {
				return nil, err
			}
			points = append(points, p)
			evs = append(evs, metrics.ForecastEvent{
				ZoneID:     p.ZoneID,
				Predicted:  p.PredictedRides,
				Confidence: p.Confidence,
				Fallback:   p.Fallback,
				Time:       time.Now(),
			})
		}
	}
	if err := f.sink.RecordForecast(evs); err != nil {
		f.log.Warnf("record forecast: %v", err)
	}
	return points, nil
}

// Calendar exposes the event calendar for registration endpoints.
func (f *Forecaster) Calendar() *EventCalendar { return f.calendar }

func (f *Forecaster) historicalBase(zoneID string, target time.Time) (float64, int, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	h, ok := f.history[zoneID]
	if !ok {
		return 0, 0, ErrForecastUnavailable
	}
	samples := h.buckets[bucketKey{weekday: target.Weekday(), hour: target.Hour()}]
	if len(samples) < f.cfg.MinSamples {
		return 0, len(samples), fmt.Errorf("zone %s bucket %s/%02dh: %w",
			zoneID, target.Weekday(), target.Hour(), ErrForecastUnavailable)
	}
	return stat.Mean(samples, nil), len(samples), nil
}

// confidence maps the bucket sample count to a 0-100 score. It is
// monotonically non-decreasing in n and capped: fallback predictions never
// exceed 20.
func (f *Forecaster) confidence(n int, fallback bool) float64 {
	if fallback {
		c := 5.0 * float64(n)
		if c > 20 {
			c = 20
		}
		return c
	}
	c := f.cfg.ConfidenceCap * float64(n) / (float64(n) + 10)
	return math.Round(c*10) / 10
}

// EventCalendar holds known local events per zone.
type EventCalendar struct {
	mu     sync.RWMutex
	events []model.LocalEvent
}

// NewEventCalendar creates an empty calendar.
func NewEventCalendar() *EventCalendar { return &EventCalendar{} }

// Add registers an event.
func (c *EventCalendar) Add(ev model.LocalEvent) {
	c.mu.Lock()
	c.events = append(c.events, ev)
	c.mu.Unlock()
}

// CountAt returns the number of events active for the zone at t.
func (c *EventCalendar) CountAt(zoneID string, t time.Time) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	n := 0
	for _, ev := range c.events {
		if ev.ZoneID == zoneID && ev.ActiveAt(t) {
			n++
		}
	}
	return n
}
