// README: Trip aggregate, status definitions, and the lifecycle transition table.
package trip

import (
	"time"

	"tram/internal/types"
)

type Status string

const (
	StatusNone               Status = "none"
	StatusPending            Status = "pending"
	StatusAccepted           Status = "accepted"
	StatusOnTrip             Status = "on_trip"
	StatusCompleted          Status = "completed"
	StatusCancelledByUser    Status = "cancelled_by_user"
	StatusCancelledByDriver  Status = "cancelled_by_driver"
	StatusNoDriversAvailable Status = "no_drivers_available"
	StatusFailedAssignment   Status = "failed_assignment"
)

// Place is a named pickup or dropoff point.
type Place struct {
	Name  string      `json:"name"`
	Point types.Point `json:"point"`
}

type Trip struct {
	ID             types.ID
	RiderID        types.ID
	Status         Status
	StatusVersion  int
	PassengerCount int
	Pickup         Place
	Dropoff        Place
	// AssignedDriverID is non-nil exactly while Status is accepted or on_trip.
	AssignedDriverID   *types.ID
	CancellationReason *string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// Event is one row of the append-only trip state log.
type Event struct {
	ID         int64
	TripID     types.ID
	FromStatus Status
	ToStatus   Status
	ActorType  string
	ActorID    *types.ID
	Reason     *string
	CreatedAt  time.Time
}

// AllowedTransitions represents the trip state flow (diagram) as code.
// no_drivers_available and failed_assignment keep a single outgoing edge back
// to pending for the external requeue surface; nothing inside the core takes
// that edge automatically.
var AllowedTransitions = map[Status][]Status{
	StatusPending: {
		StatusAccepted,
		StatusNoDriversAvailable,
		StatusFailedAssignment,
		StatusCancelledByUser,
	},
	StatusAccepted: {
		StatusOnTrip,
		StatusPending,
		StatusCancelledByDriver,
	},
	StatusOnTrip: {
		StatusCompleted,
		StatusPending,
		StatusCancelledByDriver,
	},
	StatusNoDriversAvailable: {StatusPending},
	StatusFailedAssignment:   {StatusPending},
}

func CanTransition(from, to Status) bool {
	next, ok := AllowedTransitions[from]
	if !ok {
		return false
	}
	for _, s := range next {
		if s == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transition may ever occur, including
// an external requeue.
func IsTerminal(s Status) bool {
	switch s {
	case StatusCompleted, StatusCancelledByUser, StatusCancelledByDriver:
		return true
	}
	return false
}

// HasDriver reports whether the status requires an assigned driver.
func HasDriver(s Status) bool {
	return s == StatusAccepted || s == StatusOnTrip
}
