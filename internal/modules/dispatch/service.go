// README: Matching engine: snapshot, nearest-driver selection, bounded optimistic commit.
package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"tram/internal/geo"
	"tram/internal/modules/driver"
	"tram/internal/modules/trip"
	"tram/internal/observability"
	"tram/internal/types"
)

// ErrNotPending means the trip is not in a matchable state; the caller gets
// the trip's actual state back alongside.
var ErrNotPending = errors.New("trip is not pending")

// Store is the slice of the datastore the matcher needs. CommitAssignment is
// the only multi-entity transaction: it re-validates the chosen driver's
// capacity and presence against live values and commits the trip CAS plus the
// seat reservation together, or not at all.
type Store interface {
	GetTrip(ctx context.Context, id types.ID) (*trip.Trip, error)
	ListAvailableDrivers(ctx context.Context) ([]driver.Driver, error)
	UpdateTripStatus(ctx context.Context, id types.ID, from, to trip.Status, version int, driverID *types.ID, reason *string) (bool, error)
	CommitAssignment(ctx context.Context, t *trip.Trip, d *driver.Driver) (bool, error)
	AppendTripEvent(ctx context.Context, e *trip.Event) error
}

// Offer is the payload pushed to the assigned driver.
type Offer struct {
	TripID         types.ID    `json:"trip_id"`
	PickupName     string      `json:"pickup_name"`
	PickupPoint    types.Point `json:"pickup_point"`
	DropoffName    string      `json:"dropoff_name"`
	PassengerCount int         `json:"passenger_count"`
}

// Notifier delivers assignment offers to drivers, best-effort.
type Notifier interface {
	NotifyAssignment(ctx context.Context, driverID types.ID, offer Offer) error
}

type Service struct {
	store       Store
	notifier    Notifier
	log         *slog.Logger
	maxAttempts int
}

func NewService(store Store, notifier Notifier, log *slog.Logger, maxAttempts int) *Service {
	if maxAttempts < 1 {
		maxAttempts = 4
	}
	return &Service{store: store, notifier: notifier, log: log, maxAttempts: maxAttempts}
}

// Assign matches a pending trip to the nearest eligible driver and commits the
// assignment. Candidate selection reads a snapshot, so the commit re-validates
// capacity inside the transaction; a lost commit re-runs selection up to the
// retry bound. The returned trip reflects the final state: accepted,
// no_drivers_available, or failed_assignment.
func (s *Service) Assign(ctx context.Context, tripID types.ID) (*trip.Trip, error) {
	t, err := s.store.GetTrip(ctx, tripID)
	if err != nil {
		return nil, err
	}
	if t.Status != trip.StatusPending {
		return t, ErrNotPending
	}

	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		best, found, err := s.selectDriver(ctx, t)
		if err != nil {
			return nil, err
		}
		if !found {
			// A normal business outcome, recorded on the trip rather than
			// raised as an error.
			return s.markUnassignable(ctx, t, trip.StatusNoDriversAvailable)
		}

		ok, err := s.store.CommitAssignment(ctx, t, &best)
		if err != nil {
			return nil, err
		}
		if ok {
			observability.AssignmentsTotal.WithLabelValues("accepted").Inc()
			s.log.Info("trip assigned",
				"trip_id", t.ID, "driver_id", best.ID, "seats", t.PassengerCount, "attempt", attempt)
			_ = s.store.AppendTripEvent(ctx, &trip.Event{
				TripID:     t.ID,
				FromStatus: trip.StatusPending,
				ToStatus:   trip.StatusAccepted,
				ActorType:  "system",
				ActorID:    &best.ID,
				CreatedAt:  time.Now(),
			})
			s.notify(ctx, best.ID, t)
			return s.store.GetTrip(ctx, tripID)
		}

		// Someone consumed the driver's seats or moved the trip since the
		// snapshot. Re-read and re-select.
		observability.AssignmentRetriesTotal.Inc()
		s.log.Warn("assignment commit lost, retrying",
			"trip_id", t.ID, "driver_id", best.ID, "attempt", attempt)
		t, err = s.store.GetTrip(ctx, tripID)
		if err != nil {
			return nil, err
		}
		if t.Status != trip.StatusPending {
			return t, ErrNotPending
		}
	}

	return s.markUnassignable(ctx, t, trip.StatusFailedAssignment)
}

// selectDriver snapshots available drivers, filters by seat headroom, and
// picks the one nearest the pickup. Ties break toward the lowest driver id so
// matching is deterministic.
func (s *Service) selectDriver(ctx context.Context, t *trip.Trip) (driver.Driver, bool, error) {
	candidates, err := s.store.ListAvailableDrivers(ctx)
	if err != nil {
		return driver.Driver{}, false, err
	}
	var (
		best     driver.Driver
		bestDist float64
		found    bool
	)
	for _, d := range candidates {
		if d.SpareSeats() < t.PassengerCount {
			continue
		}
		dist := geo.DistanceKm(d.Location, t.Pickup.Point)
		if !found || dist < bestDist || (dist == bestDist && d.ID < best.ID) {
			best, bestDist, found = d, dist, true
		}
	}
	return best, found, nil
}

func (s *Service) markUnassignable(ctx context.Context, t *trip.Trip, to trip.Status) (*trip.Trip, error) {
	ok, err := s.store.UpdateTripStatus(ctx, t.ID, trip.StatusPending, to, t.StatusVersion, nil, nil)
	if err != nil {
		return nil, err
	}
	if !ok {
		// The trip moved under us (e.g. a concurrent user cancel); report what
		// it became instead of fighting over it.
		cur, err := s.store.GetTrip(ctx, t.ID)
		if err != nil {
			return nil, err
		}
		return cur, ErrNotPending
	}
	observability.AssignmentsTotal.WithLabelValues(string(to)).Inc()
	s.log.Info("trip not assignable", "trip_id", t.ID, "outcome", to)
	_ = s.store.AppendTripEvent(ctx, &trip.Event{
		TripID:     t.ID,
		FromStatus: trip.StatusPending,
		ToStatus:   to,
		ActorType:  "system",
		CreatedAt:  time.Now(),
	})
	return s.store.GetTrip(ctx, t.ID)
}

func (s *Service) notify(ctx context.Context, driverID types.ID, t *trip.Trip) {
	if s.notifier == nil {
		return
	}
	offer := Offer{
		TripID:         t.ID,
		PickupName:     t.Pickup.Name,
		PickupPoint:    t.Pickup.Point,
		DropoffName:    t.Dropoff.Name,
		PassengerCount: t.PassengerCount,
	}
	if err := s.notifier.NotifyAssignment(ctx, driverID, offer); err != nil {
		s.log.Warn("assignment notification failed", "driver_id", driverID, "trip_id", t.ID, "err", err)
	}
}
