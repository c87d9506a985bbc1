package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/openride/surgecast/core/model"
)

func main() {
	cfg := parseFlags()
	if err := (&cfg).Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}
	if !cfg.Verbose {
		log.SetOutput(io.Discard)
	}

	zones, err := loadCity(cfg.ZonesFile)
	if err != nil {
		log.Fatalf("zones file: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if cfg.Duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Duration)
		defer cancel()
	}

	cli, err := newMQTTClient(cfg.Broker, fmt.Sprintf("surgecast-sim-%s", uuid.NewString()[:8]))
	if err != nil {
		log.Fatalf("mqtt connect: %v", err)
	}
	defer cli.Disconnect(250)

	sim := &Simulator{
		cfg:   cfg,
		cli:   cli,
		zones: zones,
		rng:   rand.New(rand.NewSource(cfg.Seed)),
	}
	sim.Run(ctx)
}

func parseFlags() Config {
	var cfg Config
	flag.StringVar(&cfg.Broker, "broker", "tcp://localhost:1883", "MQTT broker URL")
	flag.StringVar(&cfg.TopicPrefix, "topic-prefix", "surge/signals", "MQTT topic prefix")
	flag.IntVar(&cfg.Drivers, "drivers", 25, "number of simulated drivers")
	flag.Float64Var(&cfg.RidesPerMin, "rides-per-min", 30, "base ride request rate")
	flag.Float64Var(&cfg.CancelRate, "cancel-rate", 0.1, "fraction of requests cancelled")
	flag.DurationVar(&cfg.Interval, "interval", 10*time.Second, "driver heartbeat interval")
	flag.DurationVar(&cfg.Duration, "duration", 0, "stop after this long (0 runs until interrupted)")
	flag.StringVar(&cfg.ZonesFile, "zones-file", "", "JSON zone specs overriding the built-in city")
	flag.Int64Var(&cfg.Seed, "seed", time.Now().UnixNano(), "random seed")
	flag.BoolVar(&cfg.Verbose, "verbose", false, "enable verbose logging")
	flag.Parse()
	return cfg
}

// Simulator publishes a plausible stream of driver and ride signals over
// MQTT so a local service instance has live data to price against.
type Simulator struct {
	cfg   Config
	cli   paho.Client
	zones []ZoneSpec
	rng   *rand.Rand

	mu sync.Mutex // guards rng across goroutines
}

// Run drives the driver fleet and the rider request loop until the
// context is cancelled.
func (s *Simulator) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < s.cfg.Drivers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			s.runDriver(ctx, fmt.Sprintf("drv%04d", n+1))
		}(i)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.runRiders(ctx)
	}()
	wg.Wait()
}

// runDriver brings one driver online in a weighted-random zone, re-announces
// presence every interval (ingestion decays silent drivers away) and
// occasionally relocates or signs off.
func (s *Simulator) runDriver(ctx context.Context, id string) {
	zone := s.randZone()
	lat, lng := s.randPoint(zone)
	s.publish(model.DriverOnline, lat, lng, 0)

	ticker := time.NewTicker(s.jittered(s.cfg.Interval))
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.publish(model.DriverOffline, lat, lng, 0)
			return
		case <-ticker.C:
			switch r := s.randFloat(); {
			case r < 0.05:
				s.publish(model.DriverOffline, lat, lng, 0)
				log.Printf("%s taking a break", id)
				select {
				case <-ctx.Done():
					return
				case <-time.After(s.jittered(s.cfg.Interval)):
				}
				zone = s.randZone()
				lat, lng = s.randPoint(zone)
				s.publish(model.DriverOnline, lat, lng, 0)
			case r < 0.25:
				zone = s.randZone()
				lat, lng = s.randPoint(zone)
				s.publish(model.DriverOnline, lat, lng, 0)
			default:
				s.publish(model.DriverOnline, lat, lng, 0)
			}
		}
	}
}

// runRiders emits ride requests following the hour-of-day demand shape,
// then resolves each one as matched or cancelled after a short wait.
func (s *Simulator) runRiders(ctx context.Context) {
	for {
		rate := s.cfg.RidesPerMin * hourlyDemand(time.Now().Hour())
		if rate <= 0 {
			rate = 0.1
		}
		gap := time.Duration(float64(time.Minute) / rate)
		select {
		case <-ctx.Done():
			return
		case <-time.After(s.jittered(gap)):
		}
		zone := s.randZone()
		lat, lng := s.randPoint(zone)
		wait := 30 + s.randFloat()*300
		s.publish(model.RideRequested, lat, lng, wait)
		go s.resolveRequest(ctx, lat, lng, wait)
	}
}

func (s *Simulator) resolveRequest(ctx context.Context, lat, lng, wait float64) {
	select {
	case <-ctx.Done():
		return
	case <-time.After(time.Duration(wait) * time.Second):
	}
	kind := model.RideMatched
	if s.randFloat() < s.cfg.CancelRate {
		kind = model.RideCancelled
	}
	s.publish(kind, lat, lng, wait)
}

func (s *Simulator) publish(kind model.EventKind, lat, lng, wait float64) {
	ev := model.SignalEvent{
		ID:          uuid.NewString(),
		KindName:    kind.String(),
		Lat:         lat,
		Lng:         lng,
		WaitSeconds: wait,
		Timestamp:   time.Now().UTC(),
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		log.Printf("marshal %s: %v", ev.KindName, err)
		return
	}
	topic := fmt.Sprintf("%s/%s", s.cfg.TopicPrefix, ev.KindName)
	if token := s.cli.Publish(topic, 1, false, payload); token.Wait() && token.Error() != nil {
		log.Printf("publish %s: %v", topic, token.Error())
		return
	}
	log.Printf("%s at (%.4f, %.4f)", ev.KindName, lat, lng)
}

func (s *Simulator) randZone() ZoneSpec {
	s.mu.Lock()
	defer s.mu.Unlock()
	return pickZone(s.rng, s.zones)
}

func (s *Simulator) randPoint(z ZoneSpec) (float64, float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return scatter(s.rng, z)
}

func (s *Simulator) randFloat() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Float64()
}

// jittered spreads periodic publishes so the fleet does not fire in
// lockstep.
func (s *Simulator) jittered(d time.Duration) time.Duration {
	return d/2 + time.Duration(s.randFloat()*float64(d))
}
