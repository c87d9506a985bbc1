package forecast

import (
	"time"

	"github.com/openride/surgecast/core/model"
)

// Hourly demand shapes per zone kind, normalized around 1.0. Business zones
// peak with commuters, residential zones in the evening, airports on
// arrival waves. Indexed by hour of day.
var hourlyShapes = map[model.ZoneKind][24]float64{
	model.KindDowntown: {
		0.5, 0.3, 0.2, 0.2, 0.2, 0.3, 0.6, 1.0, 1.3, 1.1, 1.0, 1.2,
		1.4, 1.2, 1.0, 1.0, 1.1, 1.4, 1.5, 1.4, 1.3, 1.3, 1.1, 0.8,
	},
	model.KindAirport: {
		0.4, 0.3, 0.2, 0.2, 0.4, 0.8, 1.3, 1.5, 1.2, 1.0, 1.0, 1.1,
		1.2, 1.1, 1.0, 1.1, 1.3, 1.5, 1.6, 1.4, 1.2, 1.0, 0.8, 0.5,
	},
	model.KindBusiness: {
		0.2, 0.1, 0.1, 0.1, 0.2, 0.4, 0.9, 1.6, 1.8, 1.4, 1.0, 1.1,
		1.3, 1.1, 1.0, 1.1, 1.4, 1.8, 1.7, 1.2, 0.7, 0.5, 0.3, 0.2,
	},
	model.KindResidential: {
		0.4, 0.3, 0.2, 0.2, 0.3, 0.5, 0.9, 1.2, 1.0, 0.8, 0.7, 0.8,
		0.9, 0.8, 0.8, 0.9, 1.1, 1.3, 1.5, 1.5, 1.4, 1.2, 0.9, 0.6,
	},
	model.KindRetail: {
		0.2, 0.1, 0.1, 0.1, 0.1, 0.2, 0.4, 0.7, 0.9, 1.1, 1.3, 1.5,
		1.6, 1.5, 1.4, 1.4, 1.4, 1.5, 1.4, 1.2, 1.0, 0.7, 0.4, 0.3,
	},
}

// Baseline rides per hour by zone kind, used when a bucket has too little
// history to trust.
var baselineRides = map[model.ZoneKind]float64{
	model.KindDowntown:    20,
	model.KindAirport:     15,
	model.KindBusiness:    18,
	model.KindResidential: 12,
	model.KindRetail:      14,
}

// hourlyShape returns the hour-of-day multiplier for a zone kind.
func hourlyShape(kind model.ZoneKind, hour int) float64 {
	shape, ok := hourlyShapes[kind]
	if !ok {
		return 1.0
	}
	return shape[hour]
}

// weeklyShape returns the day-of-week multiplier. Nightlife and retail
// zones gain on weekends; commuter zones lose.
func weeklyShape(kind model.ZoneKind, weekday time.Weekday) float64 {
	weekend := weekday == time.Saturday || weekday == time.Sunday
	switch kind {
	case model.KindDowntown, model.KindRetail:
		if weekend {
			return 1.3
		}
		return 1.0
	case model.KindBusiness:
		if weekend {
			return 0.4
		}
		return 1.1
	case model.KindResidential:
		if weekend {
			return 1.1
		}
		return 1.0
	case model.KindAirport:
		if weekday == time.Friday || weekday == time.Sunday {
			return 1.2
		}
		return 1.0
	default:
		return 1.0
	}
}
