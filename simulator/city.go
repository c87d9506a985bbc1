package main

import (
	"encoding/json"
	"math"
	"math/rand"
	"os"
)

// ZoneSpec is one hotspot the simulator scatters traffic around. Weight
// biases how much of the city's demand lands inside it.
type ZoneSpec struct {
	ID       string  `json:"id"`
	Lat      float64 `json:"lat"`
	Lng      float64 `json:"lng"`
	RadiusKm float64 `json:"radius_km"`
	Weight   float64 `json:"weight"`
}

// defaultCity mirrors the zones shipped in the example service config so
// the simulator works against a stock deployment out of the box.
func defaultCity() []ZoneSpec {
	return []ZoneSpec{
		{ID: "downtown", Lat: 36.3729, Lng: -94.2088, RadiusKm: 2.0, Weight: 1.0},
		{ID: "airport", Lat: 36.3504, Lng: -94.2183, RadiusKm: 1.2, Weight: 0.7},
		{ID: "stadium", Lat: 36.3861, Lng: -94.1953, RadiusKm: 0.8, Weight: 0.5},
		{ID: "suburbs", Lat: 36.4010, Lng: -94.2400, RadiusKm: 4.0, Weight: 0.4},
	}
}

// loadCity reads zone specs from a JSON file, falling back to the default
// city when path is empty.
func loadCity(path string) ([]ZoneSpec, error) {
	if path == "" {
		return defaultCity(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var zones []ZoneSpec
	if err := json.Unmarshal(data, &zones); err != nil {
		return nil, err
	}
	return zones, nil
}

// pickZone selects a zone proportionally to its weight.
func pickZone(rng *rand.Rand, zones []ZoneSpec) ZoneSpec {
	total := 0.0
	for _, z := range zones {
		total += z.Weight
	}
	r := rng.Float64() * total
	for _, z := range zones {
		r -= z.Weight
		if r <= 0 {
			return z
		}
	}
	return zones[len(zones)-1]
}

// scatter returns a uniform random point inside the zone's disc.
func scatter(rng *rand.Rand, z ZoneSpec) (lat, lng float64) {
	// sqrt keeps the distribution uniform over the area rather than
	// clustered at the center.
	r := z.RadiusKm * math.Sqrt(rng.Float64())
	theta := rng.Float64() * 2 * math.Pi
	dLat := (r / 111.0) * math.Cos(theta)
	dLng := (r / (111.0 * math.Cos(z.Lat*math.Pi/180))) * math.Sin(theta)
	return z.Lat + dLat, z.Lng + dLng
}

// hourlyDemand scales the base request rate over the day: quiet nights,
// a morning bump and a tall evening peak.
func hourlyDemand(hour int) float64 {
	switch {
	case hour >= 1 && hour < 6:
		return 0.2
	case hour >= 6 && hour < 10:
		return 0.9
	case hour >= 10 && hour < 16:
		return 0.6
	case hour >= 16 && hour < 20:
		return 1.3
	default:
		return 1.0
	}
}
