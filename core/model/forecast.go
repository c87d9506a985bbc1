package model

import "time"

// WeatherCondition is the coarse weather input to the demand model.
type WeatherCondition int

const (
	WeatherSunny WeatherCondition = iota
	WeatherCloudy
	WeatherRainy
	WeatherSnow
)

// String returns a human-readable representation of the condition.
func (w WeatherCondition) String() string {
	switch w {
	case WeatherSunny:
		return "sunny"
	case WeatherCloudy:
		return "cloudy"
	case WeatherRainy:
		return "rainy"
	case WeatherSnow:
		return "snow"
	default:
		return "unknown"
	}
}

// DemandMultiplier returns the ride-demand uplift for the condition.
func (w WeatherCondition) DemandMultiplier() float64 {
	switch w {
	case WeatherCloudy:
		return 0.95
	case WeatherRainy:
		return 1.3
	case WeatherSnow:
		return 1.5
	default:
		return 1.0
	}
}

// WeatherSample is a deterministic weather observation fed to the forecaster.
// Extreme temperatures add a small demand uplift on top of the condition.
type WeatherSample struct {
	Condition WeatherCondition `json:"condition"`
	TempC     float64          `json:"temp_c"`
}

// Multiplier combines condition and temperature effects.
func (s WeatherSample) Multiplier() float64 {
	m := s.Condition.DemandMultiplier()
	if s.TempC <= -4 || s.TempC >= 30 {
		m *= 1.2
	} else if s.TempC <= 2 || s.TempC >= 27 {
		m *= 1.1
	}
	return m
}

// TrafficSample is a deterministic congestion observation: the extra travel
// minutes versus free flow.
type TrafficSample struct {
	DelayMinutes float64 `json:"delay_minutes"`
}

// Multiplier maps the congestion delay onto a demand uplift tier.
func (s TrafficSample) Multiplier() float64 {
	switch {
	case s.DelayMinutes <= 5:
		return 1.0
	case s.DelayMinutes <= 15:
		return 1.2
	case s.DelayMinutes <= 30:
		return 1.5
	default:
		return 1.8
	}
}

// FactorBreakdown exposes the individual multipliers that produced a
// forecast, for dashboard transparency.
type FactorBreakdown struct {
	Weather    float64 `json:"weather"`
	Traffic    float64 `json:"traffic"`
	Seasonal   float64 `json:"seasonal"`
	Events     float64 `json:"events"`
	Historical float64 `json:"historical"`
}

// ForecastPoint is a predicted demand value for a zone at a target hour.
type ForecastPoint struct {
	ZoneID         string          `json:"zone_id"`
	TargetHour     time.Time       `json:"target_hour"`
	PredictedRides float64         `json:"predicted_rides"`
	Confidence     float64         `json:"confidence"`
	Factors        FactorBreakdown `json:"factors"`
	Fallback       bool            `json:"fallback,omitempty"`
}

// LocalEvent is a known event (concert, game, arrival wave) attached to a
// zone. Each concurrent event adds 20% demand.
type LocalEvent struct {
	ZoneID string    `json:"zone_id"`
	Name   string    `json:"name"`
	Start  time.Time `json:"start"`
	End    time.Time `json:"end"`
}

// ActiveAt reports whether the event overlaps the given instant.
func (e LocalEvent) ActiveAt(t time.Time) bool {
	return !t.Before(e.Start) && t.Before(e.End)
}
