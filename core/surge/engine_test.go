package surge

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openride/surgecast/core/geo"
	"github.com/openride/surgecast/core/model"
	"github.com/openride/surgecast/core/override"
)

type snapMap map[string]model.SignalSnapshot

func (m snapMap) Snapshot(id string) model.SignalSnapshot { return m[id] }

type staticPredictor struct{ rides float64 }

func (p staticPredictor) Predict(zoneID string, _ time.Time) (model.ForecastPoint, error) {
	return model.ForecastPoint{ZoneID: zoneID, PredictedRides: p.rides}, nil
}

func testZones(t *testing.T) *geo.Registry {
	t.Helper()
	r := geo.NewRegistry(nil)
	zones := []model.Zone{
		{ID: "downtown", Kind: model.KindDowntown, Lat: 36.373, Lng: -94.209, RadiusKm: 2},
		{ID: "lax", Kind: model.KindAirport, Lat: 36.385, Lng: -94.220, RadiusKm: 1},
	}
	for _, z := range zones {
		require.NoError(t, r.Register(z))
	}
	return r
}

func newTestEngine(t *testing.T, snaps snapMap) (*Engine, *override.Store) {
	t.Helper()
	ovs := override.NewStore(override.Config{MaxCap: 5}, nil, nil, nil, nil)
	e := New(Config{MaxCap: 5}, testZones(t), snaps, nil, ovs, nil, nil, nil)
	return e, ovs
}

func TestSevereShortageNearsCap(t *testing.T) {
	e, _ := newTestEngine(t, snapMap{
		"downtown": {ActiveDrivers: 10, PendingRequests: 25},
	})
	mult, err := e.ComputeAutomatic("downtown")
	require.NoError(t, err)
	assert.InDelta(t, 4.84, mult, 0.01, "ratio 2.5 sits close under max_cap")
	assert.Less(t, mult, 5.0)
}

func TestAutomaticCurveBounds(t *testing.T) {
	for drivers := 1.0; drivers <= 50; drivers += 7 {
		for demand := 0.0; demand <= 500; demand += 23 {
			e, _ := newTestEngine(t, snapMap{
				"downtown": {ActiveDrivers: drivers, PendingRequests: demand},
			})
			mult, err := e.ComputeAutomatic("downtown")
			require.NoError(t, err)
			if mult < 1.0 || mult > 5.0 {
				t.Fatalf("drivers=%.0f demand=%.0f: multiplier %.2f out of [1, 5]", drivers, demand, mult)
			}
		}
	}
}

func TestComputeAutomaticUnknownZone(t *testing.T) {
	e, _ := newTestEngine(t, snapMap{})
	_, err := e.ComputeAutomatic("nope")
	require.ErrorIs(t, err, geo.ErrZoneNotFound)
}

func TestNewZoneStartsAtBase(t *testing.T) {
	e, _ := newTestEngine(t, snapMap{})
	st, err := e.GetEffective("lax")
	require.NoError(t, err)
	assert.Equal(t, 1.0, st.EffectiveMultiplier)
	assert.Equal(t, model.SourceAutomatic, st.Source)
}

func TestOverrideWinsAcrossTicks(t *testing.T) {
	e, _ := newTestEngine(t, snapMap{
		"lax": {ActiveDrivers: 50, PendingRequests: 1},
	})
	_, err := e.SetOverride("lax", 2.5, "concert letout", "admin@ops", time.Time{})
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		e.Tick()
		st, err := e.GetEffective("lax")
		require.NoError(t, err)
		assert.Equal(t, 2.5, st.EffectiveMultiplier, "tick %d must not disturb the override", i)
		assert.Equal(t, model.SourceManual, st.Source)
	}
}

func TestResetAppliesAtNextTick(t *testing.T) {
	e, ovs := newTestEngine(t, snapMap{
		"lax": {ActiveDrivers: 50, PendingRequests: 1},
	})
	_, err := e.SetOverride("lax", 3.0, "r", "a", time.Time{})
	require.NoError(t, err)
	require.NoError(t, e.ResetToAutomatic("lax"))

	// Until the tick runs, the manual value still applies.
	st, err := e.GetEffective("lax")
	require.NoError(t, err)
	assert.Equal(t, 3.0, st.EffectiveMultiplier)
	assert.Equal(t, model.SourceManual, st.Source)

	e.Tick()
	st, err = e.GetEffective("lax")
	require.NoError(t, err)
	assert.Equal(t, model.SourceAutomatic, st.Source)
	assert.Equal(t, 1.0, st.EffectiveMultiplier, "plentiful supply prices at base fare")
	if _, ok := ovs.Active("lax"); ok {
		t.Fatalf("reset must clear the stored override")
	}
}

func TestResetWithoutOverrideIsNoop(t *testing.T) {
	e, _ := newTestEngine(t, snapMap{})
	require.NoError(t, e.ResetToAutomatic("lax"))
	e.Tick()
	st, err := e.GetEffective("lax")
	require.NoError(t, err)
	assert.Equal(t, model.SourceAutomatic, st.Source)
}

func TestExpiredOverrideTreatedAsAbsent(t *testing.T) {
	e, _ := newTestEngine(t, snapMap{
		"lax": {ActiveDrivers: 10, PendingRequests: 25},
	})
	_, err := e.SetOverride("lax", 2.0, "r", "a", time.Now().Add(-time.Minute))
	require.NoError(t, err)

	// No tick needed: an expired override never reaches the rider.
	st, err := e.GetEffective("lax")
	require.NoError(t, err)
	assert.Equal(t, model.SourceAutomatic, st.Source)
}

func TestBulkOverridesJoinStateMachine(t *testing.T) {
	e, ovs := newTestEngine(t, snapMap{})
	require.NoError(t, ovs.BulkSave([]override.BulkEntry{
		{ZoneID: "lax", Multiplier: 2.2, Reason: "event"},
	}, "ops"))
	e.Tick()

	st, err := e.GetEffective("lax")
	require.NoError(t, err)
	assert.Equal(t, 2.2, st.EffectiveMultiplier)
	assert.Equal(t, model.SourceManual, st.Source)

	// A reset must find the externally written override too.
	require.NoError(t, e.ResetToAutomatic("lax"))
	e.Tick()
	if _, ok := ovs.Active("lax"); ok {
		t.Fatalf("reset must clear bulk-written overrides")
	}
}

func TestForecastBacksEmptyQueues(t *testing.T) {
	zones := testZones(t)
	ovs := override.NewStore(override.Config{MaxCap: 5}, nil, nil, nil, nil)
	snaps := snapMap{"downtown": {ActiveDrivers: 10, PendingRequests: 0}}
	e := New(Config{MaxCap: 5}, zones, snaps, staticPredictor{rides: 100}, ovs, nil, nil, nil)

	mult, err := e.ComputeAutomatic("downtown")
	require.NoError(t, err)
	// 100 rides/hour over a quarter-hour window against 10 drivers.
	assert.InDelta(t, 4.84, mult, 0.01)
}

func TestTickRecordsEveryZone(t *testing.T) {
	e, _ := newTestEngine(t, snapMap{
		"downtown": {ActiveDrivers: 5, PendingRequests: 6},
	})
	e.Tick()
	states := e.States()
	require.Len(t, states, 2)
	for _, st := range states {
		assert.GreaterOrEqual(t, st.EffectiveMultiplier, 1.0)
		assert.LessOrEqual(t, st.EffectiveMultiplier, 5.0)
	}
}

func TestMultiplierCurveShape(t *testing.T) {
	cases := []struct {
		ratio float64
		want  float64
	}{
		{0.5, 1.0},
		{1.0, 1.0},
		{1.25, 1.15},
		{1.5, 1.3},
		{1.75, 1.5},
		{2.0, 1.7},
	}
	for _, c := range cases {
		assert.InDelta(t, c.want, multiplierFor(c.ratio, 5), 1e-9, "ratio %.2f", c.ratio)
	}
	// Monotone non-decreasing across segment joins.
	prev := 0.0
	for r := 0.0; r < 6; r += 0.05 {
		m := multiplierFor(r, 5)
		if m < prev {
			t.Fatalf("curve decreased at ratio %.2f: %.4f < %.4f", r, m, prev)
		}
		prev = m
	}
}
