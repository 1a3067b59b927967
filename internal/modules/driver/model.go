// README: Driver registry model: presence, capacity, and load accounting.
package driver

import (
	"time"

	"tram/internal/types"
)

type Presence string

const (
	PresenceOnline  Presence = "online"
	PresenceOffline Presence = "offline"
	PresencePaused  Presence = "paused"
)

func (p Presence) Valid() bool {
	switch p {
	case PresenceOnline, PresenceOffline, PresencePaused:
		return true
	}
	return false
}

type Driver struct {
	ID          types.ID
	Name        string
	Presence    Presence
	PauseReason string
	// IsAvailable is true only while presence is online and there is spare
	// seat capacity. Every store mutation recomputes it in the same atomic step.
	IsAvailable bool
	Location    types.Point
	Capacity    int
	CurrentLoad int
	UpdatedAt   time.Time
}

// SpareSeats is the headroom left for new assignments.
func (d *Driver) SpareSeats() int {
	return d.Capacity - d.CurrentLoad
}
