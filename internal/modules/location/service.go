// README: Location service: registry write, geo index, snapshot log, completion checks.
package location

import (
	"context"
	"log/slog"
	"time"

	"tram/internal/modules/driver"
	"tram/internal/modules/trip"
	"tram/internal/observability"
	"tram/internal/types"
)

// Registry is the slice of the driver registry this module writes.
type Registry interface {
	UpdateLocation(ctx context.Context, id types.ID, p types.Point) (*driver.Driver, error)
}

// Lifecycle runs the dropoff completion check after each fix.
type Lifecycle interface {
	CheckDropoff(ctx context.Context, driverID types.ID, loc types.Point) ([]trip.Trip, error)
}

// GeoIndex is the live position cache (Redis in production).
type GeoIndex interface {
	Upsert(ctx context.Context, id types.ID, p types.Point) error
	Remove(ctx context.Context, id types.ID) error
	Nearby(ctx context.Context, p types.Point, radiusKm float64) ([]NearbyDriver, error)
}

// SnapshotStore appends location fixes to durable storage.
type SnapshotStore interface {
	AppendLocationSnapshot(ctx context.Context, snap Snapshot) error
}

type Service struct {
	registry  Registry
	lifecycle Lifecycle
	geo       GeoIndex
	snapshots SnapshotStore
	log       *slog.Logger
}

func NewService(registry Registry, lifecycle Lifecycle, geo GeoIndex, snapshots SnapshotStore, log *slog.Logger) *Service {
	return &Service{registry: registry, lifecycle: lifecycle, geo: geo, snapshots: snapshots, log: log}
}

// Update processes one driver location fix: writes the registry, mirrors the
// geo index, appends a snapshot, then runs the completion check. Index and
// snapshot writes are best-effort; the registry write and the completion
// check are the operations that matter for correctness.
func (s *Service) Update(ctx context.Context, driverID types.ID, p types.Point) ([]trip.Trip, error) {
	if _, err := s.registry.UpdateLocation(ctx, driverID, p); err != nil {
		return nil, err
	}
	observability.LocationUpdatesTotal.Inc()

	if s.geo != nil {
		if err := s.geo.Upsert(ctx, driverID, p); err != nil {
			s.log.Warn("geo index update failed", "driver_id", driverID, "err", err)
		}
	}
	if s.snapshots != nil {
		snap := Snapshot{DriverID: driverID, Position: p, RecordedAt: time.Now()}
		if err := s.snapshots.AppendLocationSnapshot(ctx, snap); err != nil {
			s.log.Warn("location snapshot append failed", "driver_id", driverID, "err", err)
		}
	}

	return s.lifecycle.CheckDropoff(ctx, driverID, p)
}

// Forget drops a driver from the live geo index, e.g. when it leaves the
// online pool.
func (s *Service) Forget(ctx context.Context, driverID types.ID) {
	if s.geo == nil {
		return
	}
	if err := s.geo.Remove(ctx, driverID); err != nil {
		s.log.Warn("geo index remove failed", "driver_id", driverID, "err", err)
	}
}

func (s *Service) Nearby(ctx context.Context, p types.Point, radiusKm float64) ([]NearbyDriver, error) {
	if s.geo == nil {
		return nil, nil
	}
	return s.geo.Nearby(ctx, p, radiusKm)
}
