package override

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type allowAll struct{}

func (allowAll) Exists(string) bool { return true }

type knownZones map[string]bool

func (z knownZones) Exists(id string) bool { return z[id] }

type memAudit struct {
	mu      sync.Mutex
	entries []AuditEntry
}

func (a *memAudit) Append(_ context.Context, e AuditEntry) error {
	a.mu.Lock()
	a.entries = append(a.entries, e)
	a.mu.Unlock()
	return nil
}

func (a *memAudit) len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.entries)
}

func TestSetAndActive(t *testing.T) {
	s := NewStore(Config{MaxCap: 5}, allowAll{}, nil, nil, nil)
	o, err := s.Set("lax", 2.5, "event surge", "admin@ops", time.Time{})
	if err != nil {
		t.Fatalf("set: %v", err)
	}
	if o.Multiplier != 2.5 {
		t.Fatalf("multiplier = %.2f", o.Multiplier)
	}
	got, ok := s.Active("lax")
	if !ok || got.Multiplier != 2.5 {
		t.Fatalf("active = %+v ok=%v", got, ok)
	}
}

func TestSetBounds(t *testing.T) {
	s := NewStore(Config{MaxCap: 5}, allowAll{}, nil, nil, nil)
	if _, err := s.Set("lax", 0.5, "", "a", time.Time{}); !errors.Is(err, ErrInvalidOverride) {
		t.Fatalf("expected ErrInvalidOverride for 0.5, got %v", err)
	}
	if _, err := s.Set("lax", 5.1, "", "a", time.Time{}); !errors.Is(err, ErrInvalidOverride) {
		t.Fatalf("expected ErrInvalidOverride for 5.1, got %v", err)
	}
	if _, err := s.Set("lax", 1.0, "", "a", time.Time{}); err != nil {
		t.Fatalf("1.0 is in bounds: %v", err)
	}
	if _, err := s.Set("lax", 5.0, "", "a", time.Time{}); err != nil {
		t.Fatalf("max_cap is in bounds: %v", err)
	}
}

func TestClearIdempotent(t *testing.T) {
	audit := &memAudit{}
	s := NewStore(Config{MaxCap: 5}, allowAll{}, audit, nil, nil)
	if _, err := s.Set("lax", 2.0, "r", "a", time.Time{}); err != nil {
		t.Fatalf("set: %v", err)
	}
	s.Clear("lax", "a")
	if _, ok := s.Active("lax"); ok {
		t.Fatalf("override still active after clear")
	}
	n := audit.len()
	s.Clear("lax", "a")
	if audit.len() != n {
		t.Fatalf("clearing an absent override must not write audit entries")
	}
}

func TestExpiryTreatedAsAbsent(t *testing.T) {
	s := NewStore(Config{MaxCap: 5}, allowAll{}, nil, nil, nil)
	base := time.Date(2025, 6, 2, 8, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return base }
	if _, err := s.Set("lax", 2.0, "r", "a", base.Add(10*time.Minute)); err != nil {
		t.Fatalf("set: %v", err)
	}
	if _, ok := s.Active("lax"); !ok {
		t.Fatalf("override should be active before expiry")
	}
	s.now = func() time.Time { return base.Add(11 * time.Minute) }
	if _, ok := s.Active("lax"); ok {
		t.Fatalf("expired override must be treated as absent without explicit clear")
	}
	if s.HasActiveOverride("lax") {
		t.Fatalf("HasActiveOverride must agree")
	}
}

func TestBulkSaveAllOrNothing(t *testing.T) {
	zones := knownZones{"lax": true, "downtown": true}
	s := NewStore(Config{MaxCap: 5}, zones, nil, nil, nil)
	if _, err := s.Set("lax", 1.5, "before", "a", time.Time{}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	before := s.List()

	err := s.BulkSave([]BulkEntry{
		{ZoneID: "lax", Multiplier: 2.5, Reason: "event"},
		{ZoneID: "BAD_ZONE", Multiplier: 2.5, Reason: "event"},
	}, "a")
	var bulkErr *BulkSaveError
	if !errors.As(err, &bulkErr) {
		t.Fatalf("expected BulkSaveError, got %v", err)
	}
	if len(bulkErr.Failures) != 1 || bulkErr.Failures[0].ZoneID != "BAD_ZONE" {
		t.Fatalf("failures = %+v", bulkErr.Failures)
	}
	after := s.List()
	if len(after) != len(before) || after[0].Multiplier != 1.5 || after[0].Reason != "before" {
		t.Fatalf("rejected batch changed state: before=%+v after=%+v", before, after)
	}
}

func TestBulkSaveCommit(t *testing.T) {
	zones := knownZones{"lax": true, "downtown": true}
	audit := &memAudit{}
	s := NewStore(Config{MaxCap: 5}, zones, audit, nil, nil)
	err := s.BulkSave([]BulkEntry{
		{ZoneID: "lax", Multiplier: 2.5, Reason: "event"},
		{ZoneID: "downtown", Multiplier: 1.8, Reason: "event"},
	}, "a")
	if err != nil {
		t.Fatalf("bulk save: %v", err)
	}
	if got := s.List(); len(got) != 2 {
		t.Fatalf("expected 2 active overrides, got %d", len(got))
	}
	if audit.len() != 2 {
		t.Fatalf("expected 2 audit entries, got %d", audit.len())
	}
}

func TestAuditTrailAppendOnly(t *testing.T) {
	audit := &memAudit{}
	s := NewStore(Config{MaxCap: 5}, allowAll{}, audit, nil, nil)
	if _, err := s.Set("lax", 2.0, "first", "alice", time.Time{}); err != nil {
		t.Fatalf("set: %v", err)
	}
	if _, err := s.Set("lax", 3.0, "second", "bob", time.Time{}); err != nil {
		t.Fatalf("set: %v", err)
	}
	s.Clear("lax", "bob")
	if audit.len() != 3 {
		t.Fatalf("expected 3 audit entries, got %d", audit.len())
	}
	second := audit.entries[1]
	if second.PrevMultiplier != 2.0 || second.NewMultiplier != 3.0 || second.Actor != "bob" {
		t.Fatalf("audit entry missing previous value: %+v", second)
	}
	cleared := audit.entries[2]
	if cleared.Action != "clear" || cleared.PrevMultiplier != 3.0 {
		t.Fatalf("clear entry = %+v", cleared)
	}
}

func TestSingleActiveOverridePerZone(t *testing.T) {
	s := NewStore(Config{MaxCap: 5}, allowAll{}, nil, nil, nil)
	if _, err := s.Set("lax", 2.0, "r1", "a", time.Time{}); err != nil {
		t.Fatalf("set: %v", err)
	}
	if _, err := s.Set("lax", 3.0, "r2", "b", time.Time{}); err != nil {
		t.Fatalf("set: %v", err)
	}
	list := s.List()
	if len(list) != 1 {
		t.Fatalf("expected one active override, got %d", len(list))
	}
	if list[0].Multiplier != 3.0 {
		t.Fatalf("latest override must win, got %.1f", list[0].Multiplier)
	}
}

func TestDefaultTTL(t *testing.T) {
	s := NewStore(Config{MaxCap: 5, DefaultTTLMinutes: 30}, allowAll{}, nil, nil, nil)
	base := time.Date(2025, 6, 2, 8, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return base }
	o, err := s.Set("lax", 2.0, "r", "a", time.Time{})
	if err != nil {
		t.Fatalf("set: %v", err)
	}
	if !o.ExpiresAt.Equal(base.Add(30 * time.Minute)) {
		t.Fatalf("default TTL not applied: %v", o.ExpiresAt)
	}
}
