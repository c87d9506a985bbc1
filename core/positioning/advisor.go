package positioning

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/openride/surgecast/core/model"
	"github.com/openride/surgecast/infra/logger"
)

// Config defines the economics of a repositioning recommendation.
type Config struct {
	// RidesPerDriver is how many rides one driver serves per hour.
	RidesPerDriver float64 `json:"rides_per_driver"`
	// AvgFareUSD is the base fare estimate used for revenue potential.
	AvgFareUSD float64 `json:"avg_fare_usd"`
	// PlatformShare is the non-driver revenue cut, in [0, 1).
	PlatformShare float64 `json:"platform_share"`
}

// SetDefaults fills in unset fields.
func (c *Config) SetDefaults() {
	if c.RidesPerDriver == 0 {
		c.RidesPerDriver = 3.5
	}
	if c.AvgFareUSD == 0 {
		c.AvgFareUSD = 12.0
	}
	if c.PlatformShare == 0 {
		c.PlatformShare = 0.25
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.RidesPerDriver <= 0 {
		return fmt.Errorf("rides_per_driver must be positive")
	}
	if c.PlatformShare < 0 || c.PlatformShare >= 1 {
		return fmt.Errorf("platform_share must be in [0, 1)")
	}
	return nil
}

// Recommendation suggests moving drivers into a zone, with the expected
// payoff for the drivers who follow it.
type Recommendation struct {
	ZoneID              string  `json:"zone_id"`
	ZoneName            string  `json:"zone_name"`
	PredictedDemand     float64 `json:"predicted_demand"`
	CurrentDrivers      float64 `json:"current_drivers"`
	RecommendedDelta    int     `json:"recommended_delta"`
	EstimatedRevenueUSD float64 `json:"estimated_revenue_usd"`
	EffectiveMultiplier float64 `json:"effective_multiplier"`
	PickupEstimateMin   float64 `json:"pickup_estimate_min"`
	Reason              string  `json:"reason"`
}

// ZoneLister resolves zone metadata.
type ZoneLister interface {
	Get(zoneID string) (model.Zone, error)
	List() []model.Zone
}

// SnapshotProvider supplies the current supply counters for a zone.
type SnapshotProvider interface {
	Snapshot(zoneID string) model.SignalSnapshot
}

// Predictor supplies the demand forecast for the target hour.
type Predictor interface {
	Predict(zoneID string, target time.Time) (model.ForecastPoint, error)
}

// SurgeReader exposes the effective multiplier per zone.
type SurgeReader interface {
	GetEffective(zoneID string) (model.SurgeState, error)
}

// Advisor compares forecasted demand against current supply and ranks the
// zones with the largest unmet demand first. It only ever recommends adding
// drivers; pulling drivers out of a zone is left to their own drift.
type Advisor struct {
	cfg       Config
	zones     ZoneLister
	snapshots SnapshotProvider
	predictor Predictor
	surge     SurgeReader
	log       logger.Logger
}

// New creates an Advisor.
func New(cfg Config, zones ZoneLister, snapshots SnapshotProvider, predictor Predictor, surge SurgeReader, log logger.Logger) *Advisor {
	cfg.SetDefaults()
	if log == nil {
		log = logger.New("positioning")
	}
	return &Advisor{cfg: cfg, zones: zones, snapshots: snapshots, predictor: predictor, surge: surge, log: log}
}

// Recommend builds one recommendation per resolvable zone, ordered by
// recommended delta descending, ties broken by revenue potential. Zone ids
// that do not resolve are skipped rather than failing the whole report.
func (a *Advisor) Recommend(zoneIDs []string, target time.Time) ([]Recommendation, error) {
	recs := make([]Recommendation, 0, len(zoneIDs))
	for _, id := range zoneIDs {
		z, err := a.zones.Get(id)
		if err != nil {
			a.log.Debugf("skip zone %s: %v", id, err)
			continue
		}
		p, err := a.predictor.Predict(id, target)
		if err != nil {
			a.log.Debugf("skip zone %s: %v", id, err)
			continue
		}
		snap := a.snapshots.Snapshot(id)
		mult := 1.0
		if a.surge != nil {
			if st, err := a.surge.GetEffective(id); err == nil {
				mult = st.EffectiveMultiplier
			}
		}
		recs = append(recs, a.build(z, p.PredictedRides, snap.ActiveDrivers, mult))
	}
	sort.SliceStable(recs, func(i, j int) bool {
		if recs[i].RecommendedDelta != recs[j].RecommendedDelta {
			return recs[i].RecommendedDelta > recs[j].RecommendedDelta
		}
		return recs[i].EstimatedRevenueUSD > recs[j].EstimatedRevenueUSD
	})
	return recs, nil
}

// RecommendAll runs Recommend over every registered zone.
func (a *Advisor) RecommendAll(target time.Time) ([]Recommendation, error) {
	zones := a.zones.List()
	ids := make([]string, len(zones))
	for i, z := range zones {
		ids[i] = z.ID
	}
	return a.Recommend(ids, target)
}

func (a *Advisor) build(z model.Zone, predicted, drivers, mult float64) Recommendation {
	needed := math.Ceil(predicted / a.cfg.RidesPerDriver)
	delta := int(needed - math.Floor(drivers))
	if delta < 0 {
		delta = 0
	}
	revenue := predicted * a.cfg.AvgFareUSD * mult * (1 - a.cfg.PlatformShare)
	reason := "balanced supply"
	if delta > 0 {
		reason = fmt.Sprintf("driver shortage in %s", z.Name)
	}
	return Recommendation{
		ZoneID:              z.ID,
		ZoneName:            z.Name,
		PredictedDemand:     predicted,
		CurrentDrivers:      drivers,
		RecommendedDelta:    delta,
		EstimatedRevenueUSD: math.Round(revenue*100) / 100,
		EffectiveMultiplier: mult,
		PickupEstimateMin:   PickupEstimateMin(z, drivers),
		Reason:              reason,
	}
}

// PickupEstimateMin estimates the average pickup time in minutes from
// driver density over the zone's area. Each driver covers an equal patch
// of the circle; the estimate is the travel time across that patch at
// city speed plus a fixed dispatch latency, clamped to [2, 20] minutes.
func PickupEstimateMin(z model.Zone, drivers float64) float64 {
	const (
		cityspeedKmPerMin = 0.4 // 24 km/h
		dispatchMin       = 1.5
		minEstimate       = 2.0
		maxEstimate       = 20.0
	)
	if drivers < 1 {
		return maxEstimate
	}
	area := math.Pi * z.RadiusKm * z.RadiusKm
	patchRadius := math.Sqrt(area / drivers / math.Pi)
	est := dispatchMin + patchRadius/cityspeedKmPerMin
	if est < minEstimate {
		est = minEstimate
	}
	if est > maxEstimate {
		est = maxEstimate
	}
	return math.Round(est*10) / 10
}
