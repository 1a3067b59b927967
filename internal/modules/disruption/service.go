// README: Disruption handler: unwinds a departed driver's active trips and frees its seats.
package disruption

import (
	"context"
	"log/slog"
	"time"

	"tram/internal/modules/driver"
	"tram/internal/modules/trip"
	"tram/internal/observability"
	"tram/internal/types"
)

// Policy decides what happens to a disrupted driver's active trips. Exactly
// one policy is active per process; the two are never mixed per-trip.
type Policy string

const (
	// PolicyRequeue returns trips to pending for immediate re-matching.
	PolicyRequeue Policy = "requeue"
	// PolicyCancel cancels trips with the disruption reason, matching the
	// behavior of the original tram deployment.
	PolicyCancel Policy = "cancel"
)

func (p Policy) Valid() bool { return p == PolicyRequeue || p == PolicyCancel }

// Store is the datastore slice for disruption reconciliation. Each trip's
// status update is its own atomic unit; the load release is one atomic delta.
type Store interface {
	ListTripsByDriver(ctx context.Context, driverID types.ID, statuses ...trip.Status) ([]trip.Trip, error)
	UpdateTripStatus(ctx context.Context, id types.ID, from, to trip.Status, version int, driverID *types.ID, reason *string) (bool, error)
	ApplyDriverLoadDelta(ctx context.Context, id types.ID, delta int, forceUnavailable bool) (*driver.Driver, error)
	AppendTripEvent(ctx context.Context, e *trip.Event) error
}

// Matcher re-runs assignment for requeued trips, outside the disruption's own
// transactions since it targets other drivers.
type Matcher interface {
	Assign(ctx context.Context, tripID types.ID) (*trip.Trip, error)
}

type Service struct {
	store   Store
	matcher Matcher
	log     *slog.Logger
	policy  Policy
}

func NewService(store Store, matcher Matcher, log *slog.Logger, policy Policy) *Service {
	if !policy.Valid() {
		policy = PolicyRequeue
	}
	return &Service{store: store, matcher: matcher, log: log, policy: policy}
}

// Report summarizes one disruption reconciliation.
type Report struct {
	Requeued      []types.ID `json:"requeued"`
	Cancelled     []types.ID `json:"cancelled"`
	SeatsReleased int        `json:"seats_released"`
}

// HandleDisruption reconciles every trip assigned to a driver that just left
// the online pool. Callers invoke it once per online→{paused,offline} edge;
// the presence swap in the driver registry guarantees the edge is observed by
// exactly one caller. Per-trip failures are logged and skipped so one trip
// cannot block the rest of the driver's load from being released.
func (s *Service) HandleDisruption(ctx context.Context, driverID types.ID, reason string) (*Report, error) {
	if reason == "" {
		reason = "driver went offline"
	}
	active, err := s.store.ListTripsByDriver(ctx, driverID, trip.StatusAccepted, trip.StatusOnTrip)
	if err != nil {
		return nil, err
	}

	report := &Report{}
	seats := 0
	for i := range active {
		t := active[i]
		to := trip.StatusPending
		var cancelReason *string
		if s.policy == PolicyCancel {
			to = trip.StatusCancelledByDriver
			cancelReason = &reason
		}
		ok, err := s.store.UpdateTripStatus(ctx, t.ID, t.Status, to, t.StatusVersion, nil, cancelReason)
		if err != nil {
			s.log.Error("disruption reconcile failed", "trip_id", t.ID, "driver_id", driverID, "err", err)
			continue
		}
		if !ok {
			// The trip moved concurrently (e.g. completed at dropoff); its
			// seats were released by whichever transaction won.
			s.log.Warn("trip moved before disruption reconcile", "trip_id", t.ID, "driver_id", driverID)
			continue
		}
		seats += t.PassengerCount
		_ = s.store.AppendTripEvent(ctx, &trip.Event{
			TripID:     t.ID,
			FromStatus: t.Status,
			ToStatus:   to,
			ActorType:  "system",
			ActorID:    &driverID,
			Reason:     &reason,
			CreatedAt:  time.Now(),
		})
		if to == trip.StatusPending {
			report.Requeued = append(report.Requeued, t.ID)
		} else {
			report.Cancelled = append(report.Cancelled, t.ID)
		}
	}

	if seats > 0 {
		// Single release for everything reconciled above. forceUnavailable
		// because the driver is out of the pool regardless of headroom.
		if _, err := s.store.ApplyDriverLoadDelta(ctx, driverID, -seats, true); err != nil {
			return report, err
		}
		report.SeatsReleased = seats
	}

	observability.DisruptionsTotal.WithLabelValues(string(s.policy)).Inc()
	s.log.Info("disruption handled",
		"driver_id", driverID, "policy", s.policy,
		"requeued", len(report.Requeued), "cancelled", len(report.Cancelled),
		"seats_released", report.SeatsReleased)

	for _, id := range report.Requeued {
		if _, err := s.matcher.Assign(ctx, id); err != nil {
			s.log.Warn("re-match after disruption failed", "trip_id", id, "err", err)
		}
	}
	return report, nil
}
