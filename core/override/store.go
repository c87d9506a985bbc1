package override

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/openride/surgecast/core/metrics"
	"github.com/openride/surgecast/core/model"
	"github.com/openride/surgecast/infra/logger"
)

// ErrInvalidOverride is returned for multipliers outside [1.0, max_cap].
var ErrInvalidOverride = errors.New("override multiplier out of bounds")

// BulkSaveError reports the entries that failed validation in a bulk save.
// The batch is all-or-nothing: when this error is returned no zone state
// changed.
type BulkSaveError struct {
	Failures []BulkFailure
}

// BulkFailure identifies one rejected entry.
type BulkFailure struct {
	ZoneID string `json:"zone_id"`
	Reason string `json:"reason"`
}

func (e *BulkSaveError) Error() string {
	ids := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		ids[i] = f.ZoneID
	}
	return fmt.Sprintf("bulk save rejected: %s", strings.Join(ids, ", "))
}

// BulkEntry is one zone override in a bulk save request.
type BulkEntry struct {
	ZoneID     string  `json:"zone_id"`
	Multiplier float64 `json:"multiplier"`
	Reason     string  `json:"reason"`
}

// AuditEntry is one immutable record of an override mutation. The trail is
// append-only; it backs dispute and accountability review.
type AuditEntry struct {
	ID             string    `json:"id"`
	ZoneID         string    `json:"zone_id"`
	Action         string    `json:"action"` // set, clear, bulk_set, expire
	Actor          string    `json:"actor"`
	PrevMultiplier float64   `json:"prev_multiplier"`
	NewMultiplier  float64   `json:"new_multiplier"`
	Reason         string    `json:"reason"`
	At             time.Time `json:"at"`
}

// AuditSink persists audit entries. Implementations are expected to be
// asynchronous relative to the in-memory state update: a pending audit
// write never delays the effective multiplier.
type AuditSink interface {
	Append(ctx context.Context, e AuditEntry) error
}

// ZoneChecker validates that a zone exists before an override is accepted.
type ZoneChecker interface {
	Exists(zoneID string) bool
}

// Config defines override bounds and expiry defaults.
type Config struct {
	MaxCap            float64 `json:"max_cap"`
	DefaultTTLMinutes int     `json:"default_ttl_minutes"`
}

// SetDefaults fills in unset fields.
func (c *Config) SetDefaults() {
	if c.MaxCap == 0 {
		c.MaxCap = 5.0
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.MaxCap < 1.0 {
		return fmt.Errorf("max_cap must be at least 1.0")
	}
	return nil
}

// Store holds administrator overrides, at most one active per zone, and
// appends every mutation to the audit trail. A single store-wide write lock
// serializes bulk saves against individual mutations; admin write volume is
// low enough that finer locking buys nothing.
type Store struct {
	cfg   Config
	zones ZoneChecker
	audit AuditSink
	sink  metrics.OverrideRecorder
	log   logger.Logger
	now   func() time.Time

	mu     sync.RWMutex
	active map[string]model.Override
}

// NewStore creates a Store. Audit sink and metrics sink may be nil.
func NewStore(cfg Config, zones ZoneChecker, audit AuditSink, sink metrics.OverrideRecorder, log logger.Logger) *Store {
	cfg.SetDefaults()
	if sink == nil {
		sink = metrics.NopSink{}
	}
	if log == nil {
		log = logger.New("override")
	}
	return &Store{
		cfg:    cfg,
		zones:  zones,
		audit:  audit,
		sink:   sink,
		log:    log,
		now:    time.Now,
		active: map[string]model.Override{},
	}
}

// MaxCap returns the configured multiplier ceiling.
func (s *Store) MaxCap() float64 { return s.cfg.MaxCap }

// Set creates or replaces the override for a zone.
func (s *Store) Set(zoneID string, multiplier float64, reason, setBy string, expiresAt time.Time) (model.Override, error) {
	if err := s.validate(zoneID, multiplier); err != nil {
		return model.Override{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	prev := s.active[zoneID]
	if expiresAt.IsZero() && s.cfg.DefaultTTLMinutes > 0 {
		expiresAt = now.Add(time.Duration(s.cfg.DefaultTTLMinutes) * time.Minute)
	}
	o := model.Override{
		ZoneID:     zoneID,
		Multiplier: multiplier,
		SetBy:      setBy,
		SetAt:      now,
		Reason:     reason,
		ExpiresAt:  expiresAt,
	}
	s.active[zoneID] = o
	s.appendAudit("set", o, prev.Multiplier)
	return o, nil
}

// Clear removes the override for a zone. Clearing an absent override is a
// no-op so that reset endpoints stay idempotent.
func (s *Store) Clear(zoneID string, clearedBy string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, ok := s.active[zoneID]
	if !ok {
		return
	}
	delete(s.active, zoneID)
	s.appendAudit("clear", model.Override{ZoneID: zoneID, SetBy: clearedBy, SetAt: s.now()}, prev.Multiplier)
}

// BulkSave applies all entries or none. Every entry is validated before any
// write; on failure the caller receives the complete list of failing zones
// and no state changes.
func (s *Store) BulkSave(entries []BulkEntry, setBy string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var failures []BulkFailure
	for _, e := range entries {
		if err := s.validate(e.ZoneID, e.Multiplier); err != nil {
			failures = append(failures, BulkFailure{ZoneID: e.ZoneID, Reason: err.Error()})
		}
	}
	if len(failures) > 0 {
		return &BulkSaveError{Failures: failures}
	}
	now := s.now()
	for _, e := range entries {
		prev := s.active[e.ZoneID]
		o := model.Override{
			ZoneID:     e.ZoneID,
			Multiplier: e.Multiplier,
			SetBy:      setBy,
			SetAt:      now,
			Reason:     e.Reason,
		}
		if s.cfg.DefaultTTLMinutes > 0 {
			o.ExpiresAt = now.Add(time.Duration(s.cfg.DefaultTTLMinutes) * time.Minute)
		}
		s.active[e.ZoneID] = o
		s.appendAudit("bulk_set", o, prev.Multiplier)
	}
	return nil
}

// Active returns the unexpired override for a zone, if any. Expired
// overrides are treated as absent and lazily removed with an audit record.
func (s *Store) Active(zoneID string) (model.Override, bool) {
	s.mu.RLock()
	o, ok := s.active[zoneID]
	s.mu.RUnlock()
	if !ok {
		return model.Override{}, false
	}
	if o.Expired(s.now()) {
		s.expire(zoneID, o)
		return model.Override{}, false
	}
	return o, true
}

// HasActiveOverride implements geo.OverrideChecker.
func (s *Store) HasActiveOverride(zoneID string) bool {
	_, ok := s.Active(zoneID)
	return ok
}

// List returns all unexpired overrides sorted by zone id.
func (s *Store) List() []model.Override {
	now := s.now()
	s.mu.RLock()
	res := make([]model.Override, 0, len(s.active))
	for _, o := range s.active {
		if !o.Expired(now) {
			res = append(res, o)
		}
	}
	s.mu.RUnlock()
	sort.Slice(res, func(i, j int) bool { return res[i].ZoneID < res[j].ZoneID })
	return res
}

func (s *Store) expire(zoneID string, o model.Override) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.active[zoneID]
	if !ok || cur.SetAt != o.SetAt {
		return
	}
	delete(s.active, zoneID)
	s.appendAudit("expire", model.Override{ZoneID: zoneID, SetAt: s.now()}, o.Multiplier)
}

func (s *Store) validate(zoneID string, multiplier float64) error {
	if s.zones != nil && !s.zones.Exists(zoneID) {
		return fmt.Errorf("zone %s: not found", zoneID)
	}
	if multiplier < 1.0 || multiplier > s.cfg.MaxCap {
		return fmt.Errorf("%w: %.2f not in [1.0, %.1f]", ErrInvalidOverride, multiplier, s.cfg.MaxCap)
	}
	return nil
}

// appendAudit records the mutation; callers hold the write lock. The audit
// sink is asynchronous, so the in-memory state is already correct even if
// the write is still pending.
func (s *Store) appendAudit(action string, o model.Override, prev float64) {
	if err := s.sink.RecordOverride(metrics.OverrideEvent{
		ZoneID:     o.ZoneID,
		Action:     action,
		Multiplier: o.Multiplier,
		SetBy:      o.SetBy,
		Time:       o.SetAt,
	}); err != nil {
		s.log.Warnf("record override: %v", err)
	}
	if s.audit == nil {
		return
	}
	e := AuditEntry{
		ID:             uuid.NewString(),
		ZoneID:         o.ZoneID,
		Action:         action,
		Actor:          o.SetBy,
		PrevMultiplier: prev,
		NewMultiplier:  o.Multiplier,
		Reason:         o.Reason,
		At:             o.SetAt,
	}
	if err := s.audit.Append(context.Background(), e); err != nil {
		s.log.Errorf("audit append: %v", err)
	}
}
