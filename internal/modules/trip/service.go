// README: Trip lifecycle coordinator: intake, pickup confirmation, cancellation, proximity completion.
package trip

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"tram/internal/geo"
	"tram/internal/observability"
	"tram/internal/types"
)

var (
	ErrNotFound     = errors.New("trip not found")
	ErrBadRequest   = errors.New("bad request")
	ErrInvalidState = errors.New("invalid state transition")
	ErrConflict     = errors.New("trip state conflict")
)

// Store is the trip persistence contract. UpdateTripStatus is a single-entity
// compare-and-set; CompleteTripAndRelease spans the trip and its driver in one
// transaction.
type Store interface {
	CreateTrip(ctx context.Context, t *Trip) error
	GetTrip(ctx context.Context, id types.ID) (*Trip, error)
	// ListTripsByDriver returns the driver's trips in any of the given statuses.
	ListTripsByDriver(ctx context.Context, driverID types.ID, statuses ...Status) ([]Trip, error)
	// UpdateTripStatus commits from→to iff the stored status and version still
	// match. driverID is persisted only when the target status carries an
	// assignment (accepted, on_trip); otherwise the stored driver is cleared.
	// Returns false when the compare-and-set lost.
	UpdateTripStatus(ctx context.Context, id types.ID, from, to Status, version int, driverID *types.ID, reason *string) (bool, error)
	// CompleteTripAndRelease atomically moves the trip on_trip→completed and
	// releases its seats from the assigned driver. Returns false when the trip
	// already left on_trip.
	CompleteTripAndRelease(ctx context.Context, t *Trip) (bool, error)
	AppendTripEvent(ctx context.Context, e *Event) error
}

type Service struct {
	store           Store
	log             *slog.Logger
	dropoffRadiusKm float64
}

func NewService(store Store, log *slog.Logger, dropoffRadiusKm float64) *Service {
	if dropoffRadiusKm <= 0 {
		dropoffRadiusKm = 0.05
	}
	return &Service{store: store, log: log, dropoffRadiusKm: dropoffRadiusKm}
}

type CreateCommand struct {
	RiderID        types.ID
	PassengerCount int
	Pickup         Place
	Dropoff        Place
}

// Create validates the intake request and records a pending trip. Matching is
// the caller's next step; the record itself never assigns.
func (s *Service) Create(ctx context.Context, cmd CreateCommand) (*Trip, error) {
	if cmd.RiderID == "" || cmd.PassengerCount < 1 {
		return nil, ErrBadRequest
	}
	if cmd.Pickup.Name == "" || cmd.Dropoff.Name == "" {
		return nil, ErrBadRequest
	}
	now := time.Now()
	t := &Trip{
		ID:             types.ID(uuid.NewString()),
		RiderID:        cmd.RiderID,
		Status:         StatusPending,
		PassengerCount: cmd.PassengerCount,
		Pickup:         cmd.Pickup,
		Dropoff:        cmd.Dropoff,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.store.CreateTrip(ctx, t); err != nil {
		return nil, err
	}
	_ = s.store.AppendTripEvent(ctx, &Event{
		TripID:     t.ID,
		FromStatus: StatusNone,
		ToStatus:   StatusPending,
		ActorType:  "rider",
		ActorID:    &cmd.RiderID,
		CreatedAt:  now,
	})
	return t, nil
}

func (s *Service) Get(ctx context.Context, id types.ID) (*Trip, error) {
	if id == "" {
		return nil, ErrBadRequest
	}
	return s.store.GetTrip(ctx, id)
}

// ListActiveByDriver returns the trips currently holding seats on a driver.
func (s *Service) ListActiveByDriver(ctx context.Context, driverID types.ID) ([]Trip, error) {
	if driverID == "" {
		return nil, ErrBadRequest
	}
	return s.store.ListTripsByDriver(ctx, driverID, StatusAccepted, StatusOnTrip)
}

// ConfirmPickup moves an accepted trip onto the vehicle. on_trip is the only
// state the proximity completion check acts on, so this transition is required
// before a trip can complete.
func (s *Service) ConfirmPickup(ctx context.Context, id types.ID) error {
	t, err := s.store.GetTrip(ctx, id)
	if err != nil {
		return err
	}
	if !CanTransition(t.Status, StatusOnTrip) {
		return ErrInvalidState
	}
	ok, err := s.store.UpdateTripStatus(ctx, id, t.Status, StatusOnTrip, t.StatusVersion, t.AssignedDriverID, nil)
	if err != nil {
		return err
	}
	if !ok {
		return ErrConflict
	}
	_ = s.store.AppendTripEvent(ctx, &Event{
		TripID:     id,
		FromStatus: t.Status,
		ToStatus:   StatusOnTrip,
		ActorType:  "driver",
		ActorID:    t.AssignedDriverID,
		CreatedAt:  time.Now(),
	})
	return nil
}

// Complete finishes an on_trip trip on the driver's say-so: the status CAS
// and the seat release commit together, same as the dropoff proximity check.
func (s *Service) Complete(ctx context.Context, id types.ID) (*Trip, error) {
	t, err := s.store.GetTrip(ctx, id)
	if err != nil {
		return nil, err
	}
	if t.Status != StatusOnTrip {
		return nil, ErrInvalidState
	}
	driverID := t.AssignedDriverID
	ok, err := s.store.CompleteTripAndRelease(ctx, t)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrConflict
	}
	_ = s.store.AppendTripEvent(ctx, &Event{
		TripID:     id,
		FromStatus: StatusOnTrip,
		ToStatus:   StatusCompleted,
		ActorType:  "driver",
		ActorID:    driverID,
		CreatedAt:  time.Now(),
	})
	return s.store.GetTrip(ctx, id)
}

// CancelByUser cancels a pending trip. Any other state is rejected with
// ErrInvalidState and nothing mutates.
func (s *Service) CancelByUser(ctx context.Context, id types.ID, reason string) error {
	t, err := s.store.GetTrip(ctx, id)
	if err != nil {
		return err
	}
	if t.Status != StatusPending {
		return ErrInvalidState
	}
	if reason == "" {
		reason = "cancelled by user"
	}
	ok, err := s.store.UpdateTripStatus(ctx, id, StatusPending, StatusCancelledByUser, t.StatusVersion, nil, &reason)
	if err != nil {
		return err
	}
	if !ok {
		return ErrConflict
	}
	_ = s.store.AppendTripEvent(ctx, &Event{
		TripID:     id,
		FromStatus: StatusPending,
		ToStatus:   StatusCancelledByUser,
		ActorType:  "rider",
		ActorID:    &t.RiderID,
		Reason:     &reason,
		CreatedAt:  time.Now(),
	})
	return nil
}

// Requeue re-opens a trip the matcher could not place. This is the external
// retry surface; the core never takes this edge on its own.
func (s *Service) Requeue(ctx context.Context, id types.ID) error {
	t, err := s.store.GetTrip(ctx, id)
	if err != nil {
		return err
	}
	if t.Status != StatusNoDriversAvailable && t.Status != StatusFailedAssignment {
		return ErrInvalidState
	}
	ok, err := s.store.UpdateTripStatus(ctx, id, t.Status, StatusPending, t.StatusVersion, nil, nil)
	if err != nil {
		return err
	}
	if !ok {
		return ErrConflict
	}
	_ = s.store.AppendTripEvent(ctx, &Event{
		TripID:     id,
		FromStatus: t.Status,
		ToStatus:   StatusPending,
		ActorType:  "system",
		CreatedAt:  time.Now(),
	})
	return nil
}

// CheckDropoff runs the level-triggered completion check for every on_trip
// trip the driver is carrying. A trip within the dropoff radius is completed
// and its seats released in one transaction; a trip that already completed is
// skipped by the on_trip compare-and-set, so re-invoking with the same
// location is a no-op. Returns the trips completed by this call.
func (s *Service) CheckDropoff(ctx context.Context, driverID types.ID, loc types.Point) ([]Trip, error) {
	active, err := s.store.ListTripsByDriver(ctx, driverID, StatusOnTrip)
	if err != nil {
		return nil, err
	}
	var completed []Trip
	for i := range active {
		t := active[i]
		dist := geo.DistanceKm(loc, t.Dropoff.Point)
		if dist > s.dropoffRadiusKm {
			continue
		}
		ok, err := s.store.CompleteTripAndRelease(ctx, &t)
		if err != nil {
			// One trip's failure must not block the driver's other trips.
			s.log.Error("dropoff completion failed", "trip_id", t.ID, "driver_id", driverID, "err", err)
			continue
		}
		if !ok {
			continue
		}
		observability.TripsCompletedTotal.Inc()
		s.log.Info("trip completed at dropoff",
			"trip_id", t.ID, "driver_id", driverID, "distance_km", dist)
		_ = s.store.AppendTripEvent(ctx, &Event{
			TripID:     t.ID,
			FromStatus: StatusOnTrip,
			ToStatus:   StatusCompleted,
			ActorType:  "system",
			ActorID:    &driverID,
			CreatedAt:  time.Now(),
		})
		completed = append(completed, t)
	}
	return completed, nil
}
