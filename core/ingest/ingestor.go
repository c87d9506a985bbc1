package ingest

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/openride/surgecast/core/metrics"
	"github.com/openride/surgecast/core/model"
	"github.com/openride/surgecast/infra/logger"
)

// Resolver maps a coordinate to its highest-precedence zone.
type Resolver interface {
	ResolvePrimary(lat, lng float64) (model.Zone, bool)
}

// Config defines ingestion parameters.
type Config struct {
	HalfLifeSeconds  int `json:"half_life_seconds"`
	StalenessSeconds int `json:"staleness_seconds"`
	QueueSize        int `json:"queue_size"`
}

// SetDefaults fills in unset fields.
func (c *Config) SetDefaults() {
	if c.HalfLifeSeconds == 0 {
		c.HalfLifeSeconds = 300
	}
	if c.StalenessSeconds == 0 {
		c.StalenessSeconds = 600
	}
	if c.QueueSize == 0 {
		c.QueueSize = 256
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.HalfLifeSeconds <= 0 {
		return fmt.Errorf("half_life_seconds must be positive")
	}
	if c.StalenessSeconds <= 0 {
		return fmt.Errorf("staleness_seconds must be positive")
	}
	if c.QueueSize <= 0 {
		return fmt.Errorf("queue_size must be positive")
	}
	return nil
}

// Ingestor maintains a decaying rolling snapshot of supply/demand per zone.
// Ingest never blocks the caller: each zone has one bounded lane applying
// events in order, with a drop-oldest policy under sustained overload.
type Ingestor struct {
	cfg      Config
	resolver Resolver
	sink     metrics.IngestRecorder
	log      logger.Logger
	now      func() time.Time

	mu    sync.RWMutex
	lanes map[string]*lane

	events   chan metrics.IngestEvent
	done     chan struct{}
	emitDone chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type lane struct {
	ch    chan model.SignalEvent
	state *zoneState
}

type zoneState struct {
	mu        sync.Mutex
	zoneID    string
	drivers   float64
	pending   float64
	queue     float64
	avgWait   float64 // seconds, EWMA
	requested float64 // raw ride_requested count since the last drain
	last      time.Time
	seen      map[string]time.Time
	lastScan  time.Time
}

// New creates an Ingestor. The sink may be nil.
func New(cfg Config, resolver Resolver, sink metrics.IngestRecorder, log logger.Logger) *Ingestor {
	cfg.SetDefaults()
	if sink == nil {
		sink = metrics.NopSink{}
	}
	if log == nil {
		log = logger.New("ingest")
	}
	ctx, cancel := context.WithCancel(context.Background())
	in := &Ingestor{
		cfg:      cfg,
		resolver: resolver,
		sink:     sink,
		log:      log,
		now:      time.Now,
		lanes:    map[string]*lane{},
		events:   make(chan metrics.IngestEvent, 2*cfg.QueueSize),
		done:     make(chan struct{}),
		emitDone: make(chan struct{}),
		ctx:      ctx,
		cancel:   cancel,
	}
	go in.emit()
	return in
}

// Ingest routes the event to its zone lane. It never blocks: when the lane
// is full the oldest queued event is dropped and counted, and the new event
// is enqueued.
func (in *Ingestor) Ingest(ev model.SignalEvent) {
	zone, ok := in.resolver.ResolvePrimary(ev.Lat, ev.Lng)
	if !ok {
		in.record(metrics.IngestEvent{Kind: ev.Kind, Outcome: "unresolved"})
		return
	}
	l := in.lane(zone.ID)
	select {
	case l.ch <- ev:
	default:
		// Drop-oldest: make room, then enqueue. Losing a decayed sample is
		// self-healing; blocking the caller is not.
		select {
		case old := <-l.ch:
			in.record(metrics.IngestEvent{ZoneID: zone.ID, Kind: old.Kind, Outcome: "queue_drop"})
		default:
		}
		select {
		case l.ch <- ev:
		default:
			in.record(metrics.IngestEvent{ZoneID: zone.ID, Kind: ev.Kind, Outcome: "queue_drop"})
		}
	}
}

// Snapshot returns the decayed view of a zone's counters at the current
// time. Zones with no events yet return a zero snapshot.
func (in *Ingestor) Snapshot(zoneID string) model.SignalSnapshot {
	in.mu.RLock()
	l, ok := in.lanes[zoneID]
	in.mu.RUnlock()
	if !ok {
		return model.SignalSnapshot{ZoneID: zoneID}
	}
	return l.state.snapshot(in.now(), in.halfLife())
}

// DrainRideCounts returns the raw ride_requested count applied per zone
// since the previous call and resets the counters. These are the hourly
// observations the forecaster buckets as history.
func (in *Ingestor) DrainRideCounts() map[string]float64 {
	in.mu.RLock()
	lanes := make([]*lane, 0, len(in.lanes))
	for _, l := range in.lanes {
		lanes = append(lanes, l)
	}
	in.mu.RUnlock()

	out := map[string]float64{}
	for _, l := range lanes {
		l.state.mu.Lock()
		if l.state.requested > 0 {
			out[l.state.zoneID] = l.state.requested
			l.state.requested = 0
		}
		l.state.mu.Unlock()
	}
	return out
}

// Close stops all lanes and the metric emitter and waits for them.
func (in *Ingestor) Close() {
	in.cancel()
	in.wg.Wait()
	close(in.done)
	<-in.emitDone
}

func (in *Ingestor) halfLife() time.Duration {
	return time.Duration(in.cfg.HalfLifeSeconds) * time.Second
}

func (in *Ingestor) staleness() time.Duration {
	return time.Duration(in.cfg.StalenessSeconds) * time.Second
}

func (in *Ingestor) lane(zoneID string) *lane {
	in.mu.RLock()
	l, ok := in.lanes[zoneID]
	in.mu.RUnlock()
	if ok {
		return l
	}
	in.mu.Lock()
	defer in.mu.Unlock()
	if l, ok = in.lanes[zoneID]; ok {
		return l
	}
	l = &lane{
		ch:    make(chan model.SignalEvent, in.cfg.QueueSize),
		state: &zoneState{zoneID: zoneID, seen: map[string]time.Time{}},
	}
	in.lanes[zoneID] = l
	in.wg.Add(1)
	go in.run(l)
	return l
}

func (in *Ingestor) run(l *lane) {
	defer in.wg.Done()
	for {
		select {
		case <-in.ctx.Done():
			return
		case ev := <-l.ch:
			in.apply(l.state, ev)
		}
	}
}

func (in *Ingestor) apply(st *zoneState, ev model.SignalEvent) {
	now := in.now()
	if now.Sub(ev.Timestamp) > in.staleness() {
		in.record(metrics.IngestEvent{ZoneID: st.zoneID, Kind: ev.Kind, Outcome: "stale"})
		return
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	if _, dup := st.seen[ev.ID]; dup {
		in.record(metrics.IngestEvent{ZoneID: st.zoneID, Kind: ev.Kind, Outcome: "duplicate"})
		return
	}
	st.seen[ev.ID] = ev.Timestamp
	st.pruneSeen(now, in.staleness())

	half := in.halfLife()
	weight := 1.0
	if st.last.IsZero() {
		st.last = ev.Timestamp
	} else if ev.Timestamp.After(st.last) {
		f := decayFactor(ev.Timestamp.Sub(st.last), half)
		st.drivers *= f
		st.pending *= f
		st.queue *= f
		st.last = ev.Timestamp
	} else {
		// Out-of-order event: weigh its contribution as if it had decayed
		// from its own timestamp to the snapshot's, instead of rejecting it.
		weight = decayFactor(st.last.Sub(ev.Timestamp), half)
	}

	switch ev.Kind {
	case model.DriverOnline:
		st.drivers += weight
	case model.DriverOffline:
		st.drivers = math.Max(0, st.drivers-weight)
	case model.RideRequested:
		st.pending += weight
		st.queue += weight
		st.requested++
	case model.RideMatched:
		st.pending = math.Max(0, st.pending-weight)
		st.queue = math.Max(0, st.queue-weight)
	case model.RideCancelled:
		st.pending = math.Max(0, st.pending-weight)
		st.queue = math.Max(0, st.queue-weight)
	}
	if ev.WaitSeconds > 0 {
		const alpha = 0.2
		if st.avgWait == 0 {
			st.avgWait = ev.WaitSeconds
		} else {
			st.avgWait = alpha*ev.WaitSeconds + (1-alpha)*st.avgWait
		}
	}
	in.record(metrics.IngestEvent{ZoneID: st.zoneID, Kind: ev.Kind, Outcome: "applied"})
}

func (st *zoneState) pruneSeen(now time.Time, staleness time.Duration) {
	if now.Sub(st.lastScan) < staleness {
		return
	}
	st.lastScan = now
	for id, ts := range st.seen {
		if now.Sub(ts) > staleness {
			delete(st.seen, id)
		}
	}
}

func (st *zoneState) snapshot(now time.Time, half time.Duration) model.SignalSnapshot {
	st.mu.Lock()
	defer st.mu.Unlock()
	f := 1.0
	if !st.last.IsZero() && now.After(st.last) {
		f = decayFactor(now.Sub(st.last), half)
	}
	return model.SignalSnapshot{
		ZoneID:          st.zoneID,
		ActiveDrivers:   st.drivers * f,
		PendingRequests: st.pending * f,
		QueueLength:     st.queue * f,
		AvgWait:         time.Duration(st.avgWait * float64(time.Second)),
		LastUpdated:     st.last,
	}
}

// record queues the metric event for the emitter goroutine. The sink may
// do network IO; it never runs on the ingestion path, and a full queue
// drops the event.
func (in *Ingestor) record(ev metrics.IngestEvent) {
	ev.Component = "ingestor"
	ev.Time = in.now()
	select {
	case in.events <- ev:
	default:
	}
}

func (in *Ingestor) emit() {
	defer close(in.emitDone)
	for {
		select {
		case <-in.done:
			return
		case ev := <-in.events:
			if err := in.sink.RecordIngest(ev); err != nil {
				in.log.Warnf("record ingest: %v", err)
			}
		}
	}
}

// decayFactor returns the exponential decay multiplier for the elapsed
// duration given the configured half-life.
func decayFactor(elapsed, half time.Duration) float64 {
	if elapsed <= 0 || half <= 0 {
		return 1
	}
	return math.Pow(0.5, elapsed.Seconds()/half.Seconds())
}
