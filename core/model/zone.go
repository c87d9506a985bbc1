package model

import (
	"fmt"
	"time"
)

// ZoneKind classifies a pricing zone. The hourly demand shape used by the
// forecaster is selected exhaustively on this value.
type ZoneKind int

const (
	KindDowntown ZoneKind = iota
	KindAirport
	KindBusiness
	KindResidential
	KindRetail
)

// String returns a human-readable representation of the zone kind.
func (k ZoneKind) String() string {
	switch k {
	case KindDowntown:
		return "downtown"
	case KindAirport:
		return "airport"
	case KindBusiness:
		return "business"
	case KindResidential:
		return "residential"
	case KindRetail:
		return "retail"
	default:
		return "unknown"
	}
}

// ParseZoneKind converts a configuration string into a ZoneKind.
func ParseZoneKind(s string) (ZoneKind, error) {
	switch s {
	case "downtown", "city":
		return KindDowntown, nil
	case "airport":
		return KindAirport, nil
	case "business":
		return KindBusiness, nil
	case "residential":
		return KindResidential, nil
	case "retail":
		return KindRetail, nil
	default:
		return 0, fmt.Errorf("unknown zone kind %q", s)
	}
}

// Zone is a circular geofenced pricing region. Airport zones may be nested
// inside a city zone via ParentID; the nested zone wins for points inside
// both.
type Zone struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Kind     ZoneKind `json:"kind"`
	Lat      float64  `json:"lat"`
	Lng      float64  `json:"lng"`
	RadiusKm float64  `json:"radius_km"`
	ParentID string   `json:"parent_id,omitempty"`
	Version  int64    `json:"version"`
}

// Validate checks that the zone definition is sound.
func (z Zone) Validate() error {
	if z.ID == "" {
		return fmt.Errorf("zone id must not be empty")
	}
	if z.RadiusKm <= 0 {
		return fmt.Errorf("zone %s: radius must be positive", z.ID)
	}
	if z.Lat < -90 || z.Lat > 90 || z.Lng < -180 || z.Lng > 180 {
		return fmt.Errorf("zone %s: coordinates out of range", z.ID)
	}
	return nil
}

// SurgeSource identifies which writer produced the effective multiplier.
type SurgeSource int

const (
	SourceAutomatic SurgeSource = iota
	SourceManual
)

// String returns a human-readable representation of the surge source.
func (s SurgeSource) String() string {
	if s == SourceManual {
		return "manual"
	}
	return "automatic"
}

// MarshalText makes the source render as a string in JSON payloads.
func (s SurgeSource) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// SurgeState is the single effective pricing state of a zone. It is a
// derived view: the automatic value and any manual override remain the
// sources of truth.
type SurgeState struct {
	ZoneID              string      `json:"zone_id"`
	EffectiveMultiplier float64     `json:"effective_multiplier"`
	Source              SurgeSource `json:"source"`
	Reason              string      `json:"reason,omitempty"`
	UpdatedAt           time.Time   `json:"updated_at"`
}

// Override is an administrator-set multiplier for a zone. At most one
// override is active per zone at any instant.
type Override struct {
	ZoneID     string    `json:"zone_id"`
	Multiplier float64   `json:"multiplier"`
	SetBy      string    `json:"set_by"`
	SetAt      time.Time `json:"set_at"`
	Reason     string    `json:"reason"`
	ExpiresAt  time.Time `json:"expires_at,omitempty"`
}

// Expired reports whether the override has passed its TTL at the given time.
// A zero ExpiresAt means the override never expires on its own.
func (o Override) Expired(now time.Time) bool {
	return !o.ExpiresAt.IsZero() && !now.Before(o.ExpiresAt)
}
