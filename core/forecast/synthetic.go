package forecast

import (
	"math/rand"
	"time"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/openride/surgecast/core/model"
)

// SyntheticGenerator fabricates historical ride counts for development and
// test datasets. It is the only place randomness touches forecasting: the
// live prediction path stays deterministic.
type SyntheticGenerator struct {
	noise distuv.Normal
}

// NewSyntheticGenerator creates a generator with the given seed.
func NewSyntheticGenerator(seed int64) *SyntheticGenerator {
	src := rand.NewSource(seed)
	return &SyntheticGenerator{
		noise: distuv.Normal{Mu: 0, Sigma: 0.15, Src: rand.New(src)},
	}
}

// Backfill seeds daysBack days of hourly samples for each zone, following
// the zone-kind shape with multiplicative noise.
func (g *SyntheticGenerator) Backfill(f *Forecaster, zones []model.Zone, daysBack int) int {
	start := time.Now().UTC().Truncate(time.Hour).AddDate(0, 0, -daysBack)
	n := 0
	for _, z := range zones {
		for h := 0; h < daysBack*24; h++ {
			t := start.Add(time.Duration(h) * time.Hour)
			mean := baselineRides[z.Kind] * hourlyShape(z.Kind, t.Hour()) * weeklyShape(z.Kind, t.Weekday())
			rides := mean * (1 + g.noise.Rand())
			if rides < 0 {
				rides = 0
			}
			f.AddSample(z.ID, t, rides)
			n++
		}
	}
	return n
}
