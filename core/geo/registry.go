package geo

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/openride/surgecast/core/model"
)

var (
	// ErrZoneNotFound is returned for operations referencing an unknown zone.
	ErrZoneNotFound = errors.New("zone not found")
	// ErrZoneInUse is returned when removing a zone with an active override.
	ErrZoneInUse = errors.New("zone has an active override")
	// ErrDuplicateZone is returned when registering a zone whose center and
	// radius match an existing one.
	ErrDuplicateZone = errors.New("zone with identical center and radius exists")
)

// OverrideChecker reports whether a zone currently has an active override.
// The override store implements it; the registry uses it to refuse removing
// zones that would orphan override state.
type OverrideChecker interface {
	HasActiveOverride(zoneID string) bool
}

// Registry owns the set of geofenced zones and resolves coordinates to the
// zones containing them, innermost first.
type Registry struct {
	mu        sync.RWMutex
	zones     map[string]model.Zone
	version   int64
	overrides OverrideChecker
}

// NewRegistry creates an empty Registry. The checker may be nil, in which
// case Remove never fails with ErrZoneInUse.
func NewRegistry(checker OverrideChecker) *Registry {
	return &Registry{zones: map[string]model.Zone{}, overrides: checker}
}

// SetOverrideChecker wires the override store after construction. The
// registry and override store reference each other, so one side is attached
// late.
func (r *Registry) SetOverrideChecker(c OverrideChecker) {
	r.mu.Lock()
	r.overrides = c
	r.mu.Unlock()
}

// Register adds a new zone. Zones duplicating an existing center/radius pair
// are rejected.
func (r *Registry) Register(z model.Zone) error {
	if err := z.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.zones[z.ID]; ok {
		return fmt.Errorf("zone %s already registered", z.ID)
	}
	for _, existing := range r.zones {
		if existing.Lat == z.Lat && existing.Lng == z.Lng && existing.RadiusKm == z.RadiusKm {
			return fmt.Errorf("%w: %s", ErrDuplicateZone, existing.ID)
		}
	}
	if z.ParentID != "" {
		if _, ok := r.zones[z.ParentID]; !ok {
			return fmt.Errorf("parent %s: %w", z.ParentID, ErrZoneNotFound)
		}
	}
	r.version++
	z.Version = r.version
	r.zones[z.ID] = z
	return nil
}

// Update replaces an existing zone definition.
func (r *Registry) Update(z model.Zone) error {
	if err := z.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.zones[z.ID]; !ok {
		return fmt.Errorf("%s: %w", z.ID, ErrZoneNotFound)
	}
	r.version++
	z.Version = r.version
	r.zones[z.ID] = z
	return nil
}

// Remove deletes a zone. It fails with ErrZoneInUse when an active override
// references the zone, rather than silently orphaning override state.
func (r *Registry) Remove(zoneID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.zones[zoneID]; !ok {
		return fmt.Errorf("%s: %w", zoneID, ErrZoneNotFound)
	}
	if r.overrides != nil && r.overrides.HasActiveOverride(zoneID) {
		return fmt.Errorf("%s: %w", zoneID, ErrZoneInUse)
	}
	r.version++
	delete(r.zones, zoneID)
	return nil
}

// Get returns the zone with the given id.
func (r *Registry) Get(zoneID string) (model.Zone, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	z, ok := r.zones[zoneID]
	if !ok {
		return model.Zone{}, fmt.Errorf("%s: %w", zoneID, ErrZoneNotFound)
	}
	return z, nil
}

// Exists reports whether a zone is registered.
func (r *Registry) Exists(zoneID string) bool {
	r.mu.RLock()
	_, ok := r.zones[zoneID]
	r.mu.RUnlock()
	return ok
}

// List returns all zones sorted by id.
func (r *Registry) List() []model.Zone {
	r.mu.RLock()
	defer r.mu.RUnlock()
	res := make([]model.Zone, 0, len(r.zones))
	for _, z := range r.zones {
		res = append(res, z)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	return res
}

// Resolve returns the zones containing the coordinate, ordered by
// precedence: deeper nested zones first, airport zones before their
// enclosing city zone, then smaller radius first.
func (r *Registry) Resolve(lat, lng float64) []model.Zone {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var hits []model.Zone
	for _, z := range r.zones {
		if HaversineKm(lat, lng, z.Lat, z.Lng) <= z.RadiusKm {
			hits = append(hits, z)
		}
	}
	sort.Slice(hits, func(i, j int) bool {
		di, dj := r.depth(hits[i]), r.depth(hits[j])
		if di != dj {
			return di > dj
		}
		ai, aj := hits[i].Kind == model.KindAirport, hits[j].Kind == model.KindAirport
		if ai != aj {
			return ai
		}
		if hits[i].RadiusKm != hits[j].RadiusKm {
			return hits[i].RadiusKm < hits[j].RadiusKm
		}
		return hits[i].ID < hits[j].ID
	})
	return hits
}

// ResolvePrimary returns the single highest-precedence zone for a
// coordinate, or false if no zone contains it.
func (r *Registry) ResolvePrimary(lat, lng float64) (model.Zone, bool) {
	hits := r.Resolve(lat, lng)
	if len(hits) == 0 {
		return model.Zone{}, false
	}
	return hits[0], true
}

// depth counts parent links; callers hold the lock.
func (r *Registry) depth(z model.Zone) int {
	d := 0
	for z.ParentID != "" {
		p, ok := r.zones[z.ParentID]
		if !ok {
			break
		}
		d++
		z = p
	}
	return d
}

const earthRadiusKm = 6371.0

// HaversineKm returns the great-circle distance between two coordinates.
func HaversineKm(lat1, lng1, lat2, lng2 float64) float64 {
	rlat1 := lat1 * math.Pi / 180
	rlat2 := lat2 * math.Pi / 180
	dlat := (lat2 - lat1) * math.Pi / 180
	dlng := (lng2 - lng1) * math.Pi / 180
	a := math.Sin(dlat/2)*math.Sin(dlat/2) +
		math.Cos(rlat1)*math.Cos(rlat2)*math.Sin(dlng/2)*math.Sin(dlng/2)
	return 2 * earthRadiusKm * math.Asin(math.Sqrt(a))
}
