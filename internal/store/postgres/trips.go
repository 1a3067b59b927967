// README: Trip record SQL: version-guarded status CAS plus the two trip+driver transactions.
package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"tram/internal/modules/driver"
	"tram/internal/modules/location"
	"tram/internal/modules/trip"
	"tram/internal/types"
)

const tripColumns = `id, rider_id, status, status_version, passenger_count,
	pickup_name, pickup_lat, pickup_lng, dropoff_name, dropoff_lat, dropoff_lng,
	driver_id, cancellation_reason, created_at, updated_at`

func (s *Store) CreateTrip(ctx context.Context, t *trip.Trip) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO trips (id, rider_id, status, status_version, passenger_count,
			pickup_name, pickup_lat, pickup_lng, dropoff_name, dropoff_lat, dropoff_lng,
			driver_id, cancellation_reason, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, NOW(), NOW())`,
		string(t.ID), string(t.RiderID), string(t.Status), t.StatusVersion, t.PassengerCount,
		t.Pickup.Name, t.Pickup.Point.Lat, t.Pickup.Point.Lng,
		t.Dropoff.Name, t.Dropoff.Point.Lat, t.Dropoff.Point.Lng,
		idOrNil(t.AssignedDriverID), t.CancellationReason,
	)
	return err
}

func (s *Store) GetTrip(ctx context.Context, id types.ID) (*trip.Trip, error) {
	row := s.db.QueryRow(ctx, `SELECT `+tripColumns+` FROM trips WHERE id = $1`, string(id))
	return scanTrip(row)
}

func (s *Store) ListTripsByDriver(ctx context.Context, driverID types.ID, statuses ...trip.Status) ([]trip.Trip, error) {
	ss := make([]string, 0, len(statuses))
	for _, st := range statuses {
		ss = append(ss, string(st))
	}
	rows, err := s.db.Query(ctx, `
		SELECT `+tripColumns+`
		FROM trips
		WHERE driver_id = $1 AND status = ANY($2)
		ORDER BY created_at`,
		string(driverID), ss,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []trip.Trip
	for rows.Next() {
		t, err := scanTrip(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

// UpdateTripStatus is the single-statement CAS: the row moves only if it still
// carries (from, version). Returns false without error when another writer won.
func (s *Store) UpdateTripStatus(ctx context.Context, id types.ID, from, to trip.Status, version int, driverID *types.ID, reason *string) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE trips
		SET status = $3,
		    status_version = status_version + 1,
		    driver_id = CASE WHEN $3 IN ('accepted', 'on_trip') THEN COALESCE($5, driver_id) ELSE NULL END,
		    cancellation_reason = COALESCE($6, cancellation_reason),
		    updated_at = NOW()
		WHERE id = $1 AND status = $2 AND status_version = $4`,
		string(id), string(from), string(to), version, idOrNil(driverID), reason,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// CommitAssignment seats the trip on the driver in one transaction. The driver
// update is guarded on presence and spare capacity, the trip update on the
// pending CAS; either guard failing rolls both back.
func (s *Store) CommitAssignment(ctx context.Context, t *trip.Trip, d *driver.Driver) (bool, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, `
		UPDATE drivers
		SET current_load = current_load + $2,
		    is_available = (current_load + $2 < capacity),
		    updated_at = NOW()
		WHERE id = $1 AND presence = 'online' AND current_load + $2 <= capacity`,
		string(d.ID), t.PassengerCount,
	)
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() != 1 {
		return false, nil
	}

	tag, err = tx.Exec(ctx, `
		UPDATE trips
		SET status = 'accepted',
		    status_version = status_version + 1,
		    driver_id = $2,
		    updated_at = NOW()
		WHERE id = $1 AND status = 'pending' AND status_version = $3`,
		string(t.ID), string(d.ID), t.StatusVersion,
	)
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() != 1 {
		return false, nil
	}
	return true, tx.Commit(ctx)
}

// CompleteTripAndRelease finishes the trip and hands the seats back in one
// transaction. A release that would drive the load negative aborts with
// ErrLoadOutOfRange rather than commit a half-applied completion.
func (s *Store) CompleteTripAndRelease(ctx context.Context, t *trip.Trip) (bool, error) {
	if t.AssignedDriverID == nil {
		return false, trip.ErrInvalidState
	}
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, `
		UPDATE trips
		SET status = 'completed',
		    status_version = status_version + 1,
		    driver_id = NULL,
		    updated_at = NOW()
		WHERE id = $1 AND status = 'on_trip' AND status_version = $2`,
		string(t.ID), t.StatusVersion,
	)
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() != 1 {
		return false, nil
	}

	tag, err = tx.Exec(ctx, `
		UPDATE drivers
		SET current_load = current_load - $2,
		    is_available = (presence = 'online' AND current_load - $2 < capacity),
		    updated_at = NOW()
		WHERE id = $1 AND current_load - $2 >= 0`,
		string(*t.AssignedDriverID), t.PassengerCount,
	)
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() != 1 {
		return false, driver.ErrLoadOutOfRange
	}
	return true, tx.Commit(ctx)
}

func (s *Store) AppendTripEvent(ctx context.Context, e *trip.Event) error {
	return s.db.QueryRow(ctx, `
		INSERT INTO trip_state_events (trip_id, from_status, to_status, actor_type, actor_id, reason, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		RETURNING id`,
		string(e.TripID), string(e.FromStatus), string(e.ToStatus), e.ActorType, idOrNil(e.ActorID), e.Reason,
	).Scan(&e.ID)
}

func (s *Store) AppendLocationSnapshot(ctx context.Context, snap location.Snapshot) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO location_snapshots (driver_id, lat, lng, recorded_at)
		VALUES ($1, $2, $3, $4)`,
		string(snap.DriverID), snap.Position.Lat, snap.Position.Lng, snap.RecordedAt,
	)
	return err
}

func scanTrip(row pgx.Row) (*trip.Trip, error) {
	var (
		t        trip.Trip
		driverID *string
	)
	err := row.Scan(
		&t.ID, &t.RiderID, &t.Status, &t.StatusVersion, &t.PassengerCount,
		&t.Pickup.Name, &t.Pickup.Point.Lat, &t.Pickup.Point.Lng,
		&t.Dropoff.Name, &t.Dropoff.Point.Lat, &t.Dropoff.Point.Lng,
		&driverID, &t.CancellationReason, &t.CreatedAt, &t.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, trip.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if driverID != nil {
		id := types.ID(*driverID)
		t.AssignedDriverID = &id
	}
	return &t, nil
}

func idOrNil(id *types.ID) *string {
	if id == nil {
		return nil
	}
	s := string(*id)
	return &s
}
