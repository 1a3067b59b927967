// README: Driver registry SQL: guarded load deltas, presence swaps, availability snapshot.
package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"tram/internal/modules/driver"
	"tram/internal/types"
)

const driverColumns = `id, name, presence, pause_reason, is_available, lat, lng, capacity, current_load, updated_at`

func (s *Store) CreateDriver(ctx context.Context, d *driver.Driver) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO drivers (id, name, presence, pause_reason, is_available, lat, lng, capacity, current_load, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW())`,
		string(d.ID), d.Name, string(d.Presence), d.PauseReason, d.IsAvailable,
		d.Location.Lat, d.Location.Lng, d.Capacity, d.CurrentLoad,
	)
	return err
}

func (s *Store) GetDriver(ctx context.Context, id types.ID) (*driver.Driver, error) {
	row := s.db.QueryRow(ctx, `SELECT `+driverColumns+` FROM drivers WHERE id = $1`, string(id))
	return scanDriver(row)
}

func (s *Store) ListAvailableDrivers(ctx context.Context) ([]driver.Driver, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+driverColumns+`
		FROM drivers
		WHERE presence = 'online' AND is_available`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []driver.Driver
	for rows.Next() {
		d, err := scanDriver(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}

// SwapPresence locks the row so concurrent presence writes serialize and only
// one caller observes any given transition edge.
func (s *Store) SwapPresence(ctx context.Context, id types.ID, p driver.Presence, reason string) (driver.Presence, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return "", err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var prev string
	err = tx.QueryRow(ctx, `SELECT presence FROM drivers WHERE id = $1 FOR UPDATE`, string(id)).Scan(&prev)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", driver.ErrNotFound
	}
	if err != nil {
		return "", err
	}

	_, err = tx.Exec(ctx, `
		UPDATE drivers
		SET presence = $2,
		    pause_reason = $3,
		    is_available = ($2 = 'online' AND current_load < capacity),
		    updated_at = NOW()
		WHERE id = $1`,
		string(id), string(p), reason,
	)
	if err != nil {
		return "", err
	}
	if err := tx.Commit(ctx); err != nil {
		return "", err
	}
	return driver.Presence(prev), nil
}

// ApplyDriverLoadDelta is one guarded statement: the WHERE clause refuses any
// delta that would leave [0, capacity], so a double-release or double-assign
// surfaces as ErrLoadOutOfRange instead of corrupting the counter.
func (s *Store) ApplyDriverLoadDelta(ctx context.Context, id types.ID, delta int, forceUnavailable bool) (*driver.Driver, error) {
	row := s.db.QueryRow(ctx, `
		UPDATE drivers
		SET current_load = current_load + $2,
		    is_available = CASE
		        WHEN $3 THEN FALSE
		        ELSE (presence = 'online' AND current_load + $2 < capacity)
		    END,
		    updated_at = NOW()
		WHERE id = $1 AND current_load + $2 BETWEEN 0 AND capacity
		RETURNING `+driverColumns,
		string(id), delta, forceUnavailable,
	)
	d, err := scanDriver(row)
	if errors.Is(err, driver.ErrNotFound) {
		var exists bool
		if err := s.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM drivers WHERE id = $1)`, string(id)).Scan(&exists); err != nil {
			return nil, err
		}
		if exists {
			return nil, driver.ErrLoadOutOfRange
		}
		return nil, driver.ErrNotFound
	}
	return d, err
}

func (s *Store) SetDriverLocation(ctx context.Context, id types.ID, p types.Point) (*driver.Driver, error) {
	row := s.db.QueryRow(ctx, `
		UPDATE drivers
		SET lat = $2, lng = $3, updated_at = NOW()
		WHERE id = $1
		RETURNING `+driverColumns,
		string(id), p.Lat, p.Lng,
	)
	return scanDriver(row)
}

func scanDriver(row pgx.Row) (*driver.Driver, error) {
	var d driver.Driver
	err := row.Scan(
		&d.ID, &d.Name, &d.Presence, &d.PauseReason, &d.IsAvailable,
		&d.Location.Lat, &d.Location.Lng, &d.Capacity, &d.CurrentLoad, &d.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, driver.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}
