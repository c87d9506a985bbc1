package surge

import (
	"fmt"
	"sync"
	"time"

	"github.com/openride/surgecast/core/metrics"
	"github.com/openride/surgecast/core/model"
	"github.com/openride/surgecast/infra/logger"
	"github.com/openride/surgecast/internal/eventbus"
)

// Config defines surge computation parameters.
type Config struct {
	MaxCap      float64 `json:"max_cap"`
	TickSeconds int     `json:"tick_seconds"`
}

// SetDefaults fills in unset fields.
func (c *Config) SetDefaults() {
	if c.MaxCap == 0 {
		c.MaxCap = 5.0
	}
	if c.TickSeconds == 0 {
		c.TickSeconds = 15
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.MaxCap < 1.0 {
		return fmt.Errorf("max_cap must be at least 1.0")
	}
	if c.TickSeconds <= 0 {
		return fmt.Errorf("tick_seconds must be positive")
	}
	return nil
}

// SnapshotProvider supplies the current signal snapshot for a zone.
type SnapshotProvider interface {
	Snapshot(zoneID string) model.SignalSnapshot
}

// Predictor supplies demand forecasts when a zone has no pending requests.
type Predictor interface {
	Predict(zoneID string, target time.Time) (model.ForecastPoint, error)
}

// OverrideSource exposes the active manual override per zone.
type OverrideSource interface {
	Active(zoneID string) (model.Override, bool)
	Set(zoneID string, multiplier float64, reason, setBy string, expiresAt time.Time) (model.Override, error)
	Clear(zoneID string, clearedBy string)
}

// ZoneLister enumerates registered zones for the tick loop.
type ZoneLister interface {
	Get(zoneID string) (model.Zone, error)
	List() []model.Zone
}

// zoneMode is the per-zone pricing state machine. Two writers compete for
// a zone's price — the automatic tick and the administrator — so the
// winner is encoded as an explicit state, not as last-write-wins.
type zoneMode int

const (
	modeAutomatic zoneMode = iota
	modeManualOverride
)

type zoneSurge struct {
	mode         zoneMode
	automatic    float64
	ratio        float64
	reason       string
	pendingReset bool
	updatedAt    time.Time
}

// Engine derives the automatic multiplier per zone and reconciles it with
// manual overrides into the single effective SurgeState.
//
// Per-zone writes happen under one lock, so GetEffective always observes
// either the pre-tick or the post-tick state. A tick never overwrites an
// active override: it only refreshes the shadow automatic value the zone
// would return to.
type Engine struct {
	cfg       Config
	zones     ZoneLister
	snapshots SnapshotProvider
	predictor Predictor
	overrides OverrideSource
	sink      metrics.SurgeTickRecorder
	bus       *eventbus.Bus
	log       logger.Logger
	now       func() time.Time

	mu    sync.RWMutex
	state map[string]*zoneSurge
}

// New creates an Engine. Predictor, sink and bus may be nil.
func New(cfg Config, zones ZoneLister, snapshots SnapshotProvider, predictor Predictor, overrides OverrideSource, sink metrics.SurgeTickRecorder, bus *eventbus.Bus, log logger.Logger) *Engine {
	cfg.SetDefaults()
	if sink == nil {
		sink = metrics.NopSink{}
	}
	if log == nil {
		log = logger.New("surge")
	}
	return &Engine{
		cfg:       cfg,
		zones:     zones,
		snapshots: snapshots,
		predictor: predictor,
		overrides: overrides,
		sink:      sink,
		bus:       bus,
		log:       log,
		now:       time.Now,
		state:     map[string]*zoneSurge{},
	}
}

// TickInterval returns the configured recomputation period. ResetToAutomatic
// takes effect within at most one such interval.
func (e *Engine) TickInterval() time.Duration {
	return time.Duration(e.cfg.TickSeconds) * time.Second
}

// ComputeAutomatic derives the automatic multiplier for a zone from the
// current snapshot, using the forecast for the current hour when no
// requests are pending.
func (e *Engine) ComputeAutomatic(zoneID string) (float64, error) {
	if _, err := e.zones.Get(zoneID); err != nil {
		return 0, err
	}
	mult, _, _, _ := e.automaticFor(zoneID)
	return mult, nil
}

func (e *Engine) automaticFor(zoneID string) (mult, ratio, demand, drivers float64) {
	snap := e.snapshots.Snapshot(zoneID)
	demand = snap.PendingRequests
	if demand <= 0 && e.predictor != nil {
		if p, err := e.predictor.Predict(zoneID, e.now()); err == nil {
			// Forecasted rides per hour, scaled down to the pickup window the
			// snapshot covers.
			demand = p.PredictedRides / 4
		}
	}
	drivers = snap.ActiveDrivers
	ratio = ratioFor(demand, drivers)
	return multiplierFor(ratio, e.cfg.MaxCap), ratio, demand, drivers
}

// GetEffective returns the zone's effective SurgeState. An unexpired manual
// override always wins; otherwise the most recent automatic value applies.
// Newly registered zones report 1.0x automatic.
func (e *Engine) GetEffective(zoneID string) (model.SurgeState, error) {
	if _, err := e.zones.Get(zoneID); err != nil {
		return model.SurgeState{}, err
	}
	if ov, ok := e.overrides.Active(zoneID); ok {
		return model.SurgeState{
			ZoneID:              zoneID,
			EffectiveMultiplier: ov.Multiplier,
			Source:              model.SourceManual,
			Reason:              ov.Reason,
			UpdatedAt:           ov.SetAt,
		}, nil
	}
	e.mu.RLock()
	st, ok := e.state[zoneID]
	e.mu.RUnlock()
	if !ok {
		return model.SurgeState{
			ZoneID:              zoneID,
			EffectiveMultiplier: 1.0,
			Source:              model.SourceAutomatic,
			Reason:              "balanced supply",
			UpdatedAt:           e.now(),
		}, nil
	}
	return model.SurgeState{
		ZoneID:              zoneID,
		EffectiveMultiplier: st.automatic,
		Source:              model.SourceAutomatic,
		Reason:              st.reason,
		UpdatedAt:           st.updatedAt,
	}, nil
}

// SetOverride transitions the zone to ManualOverride from any state.
func (e *Engine) SetOverride(zoneID string, multiplier float64, reason, setBy string, expiresAt time.Time) (model.Override, error) {
	if _, err := e.zones.Get(zoneID); err != nil {
		return model.Override{}, err
	}
	ov, err := e.overrides.Set(zoneID, multiplier, reason, setBy, expiresAt)
	if err != nil {
		return model.Override{}, err
	}
	e.mu.Lock()
	st := e.ensureState(zoneID)
	st.mode = modeManualOverride
	st.pendingReset = false
	e.mu.Unlock()
	return ov, nil
}

// ResetToAutomatic schedules the transition back to Automatic. The switch
// happens at the next tick, which guarantees a freshly computed automatic
// value to switch to; until then GetEffective keeps reporting the manual
// state. The staleness bound is TickInterval.
func (e *Engine) ResetToAutomatic(zoneID string) error {
	if _, err := e.zones.Get(zoneID); err != nil {
		return err
	}
	_, active := e.overrides.Active(zoneID)
	e.mu.Lock()
	st := e.ensureState(zoneID)
	if st.mode == modeManualOverride || active {
		st.mode = modeManualOverride
		st.pendingReset = true
	}
	e.mu.Unlock()
	return nil
}

// Tick recomputes the automatic multiplier for every registered zone and
// applies pending resets. While a zone is in ManualOverride only its shadow
// automatic value changes; the effective state is untouched.
func (e *Engine) Tick() {
	now := e.now()
	zones := e.zones.List()
	evs := make([]metrics.SurgeTickEvent, 0, len(zones))
	var updates []model.SurgeState

	for _, z := range zones {
		mult, ratio, demand, drivers := e.automaticFor(z.ID)

		e.mu.Lock()
		st := e.ensureState(z.ID)
		st.automatic = mult
		st.ratio = ratio
		st.reason = reasonFor(ratio)
		st.updatedAt = now
		if st.pendingReset {
			e.overrides.Clear(z.ID, "tick")
			st.mode = modeAutomatic
			st.pendingReset = false
		} else if _, ok := e.overrides.Active(z.ID); ok {
			// Overrides set outside the engine (bulk saves) join the state
			// machine here.
			st.mode = modeManualOverride
		} else {
			st.mode = modeAutomatic
		}
		e.mu.Unlock()

		eff, err := e.GetEffective(z.ID)
		if err != nil {
			continue
		}
		updates = append(updates, eff)
		evs = append(evs, metrics.SurgeTickEvent{
			ZoneID:    z.ID,
			Automatic: mult,
			Effective: eff.EffectiveMultiplier,
			Source:    eff.Source,
			Ratio:     ratio,
			Drivers:   drivers,
			Demand:    demand,
			Time:      now,
		})
	}
	if err := e.sink.RecordSurgeTick(evs); err != nil {
		e.log.Warnf("record surge tick: %v", err)
	}
	if e.bus != nil {
		for _, u := range updates {
			e.bus.Publish(u)
		}
	}
}

// States returns the effective SurgeState of every registered zone, sorted
// by the zone order of the registry.
func (e *Engine) States() []model.SurgeState {
	zones := e.zones.List()
	res := make([]model.SurgeState, 0, len(zones))
	for _, z := range zones {
		st, err := e.GetEffective(z.ID)
		if err != nil {
			continue
		}
		res = append(res, st)
	}
	return res
}

// ensureState returns the zone's state, creating the initial Automatic/1.0
// entry on first touch; callers hold the write lock.
func (e *Engine) ensureState(zoneID string) *zoneSurge {
	st, ok := e.state[zoneID]
	if !ok {
		st = &zoneSurge{mode: modeAutomatic, automatic: 1.0, reason: "balanced supply", updatedAt: e.now()}
		e.state[zoneID] = st
	}
	return st
}
