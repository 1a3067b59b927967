// README: Location update payloads and persisted snapshots.
package location

import (
	"time"

	"tram/internal/types"
)

// Snapshot is one persisted location fix, kept for audit and replay.
type Snapshot struct {
	ID         int64
	DriverID   types.ID
	Position   types.Point
	RecordedAt time.Time
}

// NearbyDriver is a geo-index hit with its distance from the query point.
type NearbyDriver struct {
	DriverID   types.ID    `json:"driver_id"`
	Position   types.Point `json:"position"`
	DistanceKm float64     `json:"distance_km"`
}
