package geo

import (
	"errors"
	"math"
	"testing"

	"github.com/openride/surgecast/core/model"
)

func testZones() []model.Zone {
	return []model.Zone{
		{ID: "downtown", Name: "Downtown", Kind: model.KindDowntown, Lat: 36.373, Lng: -94.209, RadiusKm: 2.0},
		{ID: "lax", Name: "Airport", Kind: model.KindAirport, Lat: 36.3735, Lng: -94.2095, RadiusKm: 0.8, ParentID: "downtown"},
		{ID: "residential", Name: "Residential", Kind: model.KindResidential, Lat: 36.380, Lng: -94.195, RadiusKm: 1.5},
	}
}

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	r := NewRegistry(nil)
	for _, z := range testZones() {
		if err := r.Register(z); err != nil {
			t.Fatalf("register %s: %v", z.ID, err)
		}
	}
	return r
}

func TestHaversine(t *testing.T) {
	// Paris to London is roughly 344 km.
	d := HaversineKm(48.8566, 2.3522, 51.5074, -0.1278)
	if math.Abs(d-344) > 5 {
		t.Fatalf("unexpected distance %.1f", d)
	}
	if HaversineKm(1, 2, 1, 2) != 0 {
		t.Fatalf("identical points must be at distance 0")
	}
}

func TestResolvePrecedence(t *testing.T) {
	r := newTestRegistry(t)
	// Point inside both the airport zone and the enclosing downtown zone.
	hits := r.Resolve(36.3735, -94.2095)
	if len(hits) != 2 {
		t.Fatalf("expected 2 zones, got %d", len(hits))
	}
	if hits[0].ID != "lax" {
		t.Fatalf("airport zone must take precedence, got %s", hits[0].ID)
	}
	if hits[1].ID != "downtown" {
		t.Fatalf("enclosing city zone second, got %s", hits[1].ID)
	}
}

func TestResolveOutside(t *testing.T) {
	r := newTestRegistry(t)
	if _, ok := r.ResolvePrimary(0, 0); ok {
		t.Fatalf("expected no zone for remote coordinate")
	}
}

func TestRegisterDuplicate(t *testing.T) {
	r := newTestRegistry(t)
	dup := model.Zone{ID: "copy", Kind: model.KindRetail, Lat: 36.373, Lng: -94.209, RadiusKm: 2.0}
	if err := r.Register(dup); !errors.Is(err, ErrDuplicateZone) {
		t.Fatalf("expected ErrDuplicateZone, got %v", err)
	}
}

func TestRegisterInvalid(t *testing.T) {
	r := NewRegistry(nil)
	if err := r.Register(model.Zone{ID: "bad", RadiusKm: 0}); err == nil {
		t.Fatalf("expected error for zero radius")
	}
	if err := r.Register(model.Zone{ID: "orphan", Lat: 1, Lng: 1, RadiusKm: 1, ParentID: "nope"}); !errors.Is(err, ErrZoneNotFound) {
		t.Fatalf("expected ErrZoneNotFound for unknown parent, got %v", err)
	}
}

type staticChecker map[string]bool

func (c staticChecker) HasActiveOverride(id string) bool { return c[id] }

func TestRemoveZoneInUse(t *testing.T) {
	r := newTestRegistry(t)
	r.SetOverrideChecker(staticChecker{"lax": true})
	if err := r.Remove("lax"); !errors.Is(err, ErrZoneInUse) {
		t.Fatalf("expected ErrZoneInUse, got %v", err)
	}
	if err := r.Remove("residential"); err != nil {
		t.Fatalf("remove without override: %v", err)
	}
	if err := r.Remove("residential"); !errors.Is(err, ErrZoneNotFound) {
		t.Fatalf("expected ErrZoneNotFound, got %v", err)
	}
}

func TestUpdateBumpsVersion(t *testing.T) {
	r := newTestRegistry(t)
	z, err := r.Get("downtown")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	v := z.Version
	z.Name = "Downtown Core"
	if err := r.Update(z); err != nil {
		t.Fatalf("update: %v", err)
	}
	got, _ := r.Get("downtown")
	if got.Version <= v {
		t.Fatalf("version not bumped: %d <= %d", got.Version, v)
	}
	if got.Name != "Downtown Core" {
		t.Fatalf("name not updated")
	}
}

func TestListSorted(t *testing.T) {
	r := newTestRegistry(t)
	zs := r.List()
	for i := 1; i < len(zs); i++ {
		if zs[i-1].ID > zs[i].ID {
			t.Fatalf("list not sorted")
		}
	}
}
