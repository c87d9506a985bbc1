package model

import "time"

// EventKind defines the type of supply/demand signal received on the
// ingestion feed.
type EventKind int

const (
	DriverOnline EventKind = iota
	DriverOffline
	RideRequested
	RideMatched
	RideCancelled
)

// String returns a human-readable representation of the event kind.
func (k EventKind) String() string {
	switch k {
	case DriverOnline:
		return "driver_online"
	case DriverOffline:
		return "driver_offline"
	case RideRequested:
		return "ride_requested"
	case RideMatched:
		return "ride_matched"
	case RideCancelled:
		return "ride_cancelled"
	default:
		return "unknown"
	}
}

// ParseEventKind converts a wire string into an EventKind.
func ParseEventKind(s string) (EventKind, bool) {
	switch s {
	case "driver_online":
		return DriverOnline, true
	case "driver_offline":
		return DriverOffline, true
	case "ride_requested":
		return RideRequested, true
	case "ride_matched":
		return RideMatched, true
	case "ride_cancelled":
		return RideCancelled, true
	default:
		return 0, false
	}
}

// SignalEvent is a single driver/ride event carrying a zone-resolvable
// coordinate. Delivery is at-least-once; the ID makes ingestion idempotent
// within the staleness window.
type SignalEvent struct {
	ID          string    `json:"id"`
	Kind        EventKind `json:"-"`
	KindName    string    `json:"kind"`
	Lat         float64   `json:"lat"`
	Lng         float64   `json:"lng"`
	WaitSeconds float64   `json:"wait_seconds,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// SignalSnapshot is the decaying rolling aggregate of supply/demand counters
// for one zone. It is always the most recent decayed state, never a raw
// event log.
type SignalSnapshot struct {
	ZoneID          string        `json:"zone_id"`
	ActiveDrivers   float64       `json:"active_drivers"`
	PendingRequests float64       `json:"pending_requests"`
	QueueLength     float64       `json:"queue_length"`
	AvgWait         time.Duration `json:"avg_wait"`
	LastUpdated     time.Time     `json:"last_updated"`
}
