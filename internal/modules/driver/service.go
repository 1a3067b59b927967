// README: Driver registry service: presence edges, atomic load deltas, availability snapshots.
package driver

import (
	"context"
	"errors"
	"log/slog"

	"tram/internal/types"
)

var (
	ErrNotFound   = errors.New("driver not found")
	ErrBadRequest = errors.New("bad request")
	// ErrLoadOutOfRange means a load delta would push current_load outside
	// [0, capacity]. It signals a double-assign or double-release upstream and
	// is never clamped away.
	ErrLoadOutOfRange = errors.New("driver load out of range")
)

// Store is the registry persistence contract. Every mutating operation is a
// single atomic step against the backing datastore.
type Store interface {
	CreateDriver(ctx context.Context, d *Driver) error
	GetDriver(ctx context.Context, id types.ID) (*Driver, error)
	// ListAvailableDrivers returns a snapshot of drivers with presence=online
	// and is_available=true.
	ListAvailableDrivers(ctx context.Context) ([]Driver, error)
	// SwapPresence atomically sets the presence and returns the presence that
	// was replaced, so callers can act on the transition edge exactly once.
	SwapPresence(ctx context.Context, id types.ID, p Presence, reason string) (Presence, error)
	// ApplyDriverLoadDelta adjusts current_load by delta and recomputes
	// is_available from the post-delta load and current presence in the same
	// atomic step. forceUnavailable pins is_available to false regardless of
	// headroom. A delta that would leave [0, capacity] fails with
	// ErrLoadOutOfRange and mutates nothing.
	ApplyDriverLoadDelta(ctx context.Context, id types.ID, delta int, forceUnavailable bool) (*Driver, error)
	SetDriverLocation(ctx context.Context, id types.ID, p types.Point) (*Driver, error)
}

type Service struct {
	store Store
	log   *slog.Logger
}

func NewService(store Store, log *slog.Logger) *Service {
	return &Service{store: store, log: log}
}

type RegisterCommand struct {
	ID       types.ID
	Name     string
	Capacity int
	Location types.Point
}

// Register onboards a new driver, offline and empty.
func (s *Service) Register(ctx context.Context, cmd RegisterCommand) (*Driver, error) {
	if cmd.ID == "" || cmd.Capacity < 1 {
		return nil, ErrBadRequest
	}
	d := &Driver{
		ID:       cmd.ID,
		Name:     cmd.Name,
		Presence: PresenceOffline,
		Location: cmd.Location,
		Capacity: cmd.Capacity,
	}
	if err := s.store.CreateDriver(ctx, d); err != nil {
		return nil, err
	}
	return d, nil
}

func (s *Service) Get(ctx context.Context, id types.ID) (*Driver, error) {
	if id == "" {
		return nil, ErrBadRequest
	}
	return s.store.GetDriver(ctx, id)
}

func (s *Service) ListAvailable(ctx context.Context) ([]Driver, error) {
	return s.store.ListAvailableDrivers(ctx)
}

// SetPresence updates a driver's presence. The returned flag is true exactly
// when this call performed the online→{paused,offline} transition, which is
// the trigger for disruption handling. Repeating the same presence write does
// not re-report the edge.
func (s *Service) SetPresence(ctx context.Context, id types.ID, p Presence, reason string) (*Driver, bool, error) {
	if id == "" || !p.Valid() {
		return nil, false, ErrBadRequest
	}
	prev, err := s.store.SwapPresence(ctx, id, p, reason)
	if err != nil {
		return nil, false, err
	}
	d, err := s.store.GetDriver(ctx, id)
	if err != nil {
		return nil, false, err
	}
	wentOffline := prev == PresenceOnline && p != PresenceOnline
	if wentOffline {
		s.log.Info("driver left the online pool", "driver_id", id, "presence", p, "reason", reason)
	}
	return d, wentOffline, nil
}

// ApplyLoadDelta adjusts the driver's passenger load. See Store for the
// atomicity and range contract.
func (s *Service) ApplyLoadDelta(ctx context.Context, id types.ID, delta int, forceUnavailable bool) (*Driver, error) {
	if id == "" {
		return nil, ErrBadRequest
	}
	d, err := s.store.ApplyDriverLoadDelta(ctx, id, delta, forceUnavailable)
	if errors.Is(err, ErrLoadOutOfRange) {
		s.log.Error("load delta rejected: accounting bug upstream",
			"driver_id", id, "delta", delta)
		return nil, err
	}
	return d, err
}

func (s *Service) UpdateLocation(ctx context.Context, id types.ID, p types.Point) (*Driver, error) {
	if id == "" {
		return nil, ErrBadRequest
	}
	return s.store.SetDriverLocation(ctx, id, p)
}
