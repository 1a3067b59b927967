// README: In-process store with the same CAS semantics as the Postgres store.
//
// Every exported method is one atomic step under the store lock, matching the
// datastore contract the services are written against (each Postgres method is
// one transaction). Used by the test suites and as the DSN-less dev mode.
package memory

import (
	"context"
	"sync"
	"time"

	"tram/internal/modules/driver"
	"tram/internal/modules/location"
	"tram/internal/modules/trip"
	"tram/internal/types"
)

type Store struct {
	mu        sync.RWMutex
	drivers   map[types.ID]*driver.Driver
	trips     map[types.ID]*trip.Trip
	events    []trip.Event
	snapshots []location.Snapshot
	nextEvent int64
}

func NewStore() *Store {
	return &Store{
		drivers: make(map[types.ID]*driver.Driver),
		trips:   make(map[types.ID]*trip.Trip),
	}
}

// --- driver registry ---

func (s *Store) CreateDriver(_ context.Context, d *driver.Driver) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *d
	cp.UpdatedAt = time.Now()
	s.drivers[d.ID] = &cp
	return nil
}

func (s *Store) GetDriver(_ context.Context, id types.ID) (*driver.Driver, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.drivers[id]
	if !ok {
		return nil, driver.ErrNotFound
	}
	cp := *d
	return &cp, nil
}

func (s *Store) ListAvailableDrivers(_ context.Context) ([]driver.Driver, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]driver.Driver, 0)
	for _, d := range s.drivers {
		if d.Presence == driver.PresenceOnline && d.IsAvailable {
			out = append(out, *d)
		}
	}
	return out, nil
}

func (s *Store) SwapPresence(_ context.Context, id types.ID, p driver.Presence, reason string) (driver.Presence, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.drivers[id]
	if !ok {
		return "", driver.ErrNotFound
	}
	prev := d.Presence
	d.Presence = p
	d.PauseReason = reason
	d.IsAvailable = p == driver.PresenceOnline && d.CurrentLoad < d.Capacity
	d.UpdatedAt = time.Now()
	return prev, nil
}

func (s *Store) ApplyDriverLoadDelta(_ context.Context, id types.ID, delta int, forceUnavailable bool) (*driver.Driver, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.drivers[id]
	if !ok {
		return nil, driver.ErrNotFound
	}
	next := d.CurrentLoad + delta
	if next < 0 || next > d.Capacity {
		return nil, driver.ErrLoadOutOfRange
	}
	d.CurrentLoad = next
	if forceUnavailable {
		d.IsAvailable = false
	} else {
		d.IsAvailable = d.Presence == driver.PresenceOnline && next < d.Capacity
	}
	d.UpdatedAt = time.Now()
	cp := *d
	return &cp, nil
}

func (s *Store) SetDriverLocation(_ context.Context, id types.ID, p types.Point) (*driver.Driver, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.drivers[id]
	if !ok {
		return nil, driver.ErrNotFound
	}
	d.Location = p
	d.UpdatedAt = time.Now()
	cp := *d
	return &cp, nil
}

// --- trip records ---

func (s *Store) CreateTrip(_ context.Context, t *trip.Trip) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := cloneTrip(t)
	s.trips[t.ID] = cp
	return nil
}

func (s *Store) GetTrip(_ context.Context, id types.ID) (*trip.Trip, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.trips[id]
	if !ok {
		return nil, trip.ErrNotFound
	}
	return cloneTrip(t), nil
}

func (s *Store) ListTripsByDriver(_ context.Context, driverID types.ID, statuses ...trip.Status) ([]trip.Trip, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]trip.Trip, 0)
	for _, t := range s.trips {
		if t.AssignedDriverID == nil || *t.AssignedDriverID != driverID {
			continue
		}
		for _, st := range statuses {
			if t.Status == st {
				out = append(out, *cloneTrip(t))
				break
			}
		}
	}
	return out, nil
}

func (s *Store) UpdateTripStatus(_ context.Context, id types.ID, from, to trip.Status, version int, driverID *types.ID, reason *string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.trips[id]
	if !ok {
		return false, trip.ErrNotFound
	}
	if t.Status != from || t.StatusVersion != version {
		return false, nil
	}
	s.applyStatus(t, to, driverID, reason)
	return true, nil
}

func (s *Store) CompleteTripAndRelease(_ context.Context, src *trip.Trip) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.trips[src.ID]
	if !ok {
		return false, trip.ErrNotFound
	}
	if t.Status != trip.StatusOnTrip || t.StatusVersion != src.StatusVersion {
		return false, nil
	}
	if t.AssignedDriverID == nil {
		return false, trip.ErrInvalidState
	}
	d, ok := s.drivers[*t.AssignedDriverID]
	if !ok {
		return false, driver.ErrNotFound
	}
	next := d.CurrentLoad - t.PassengerCount
	if next < 0 {
		// Releasing seats that were never reserved; abort with nothing applied.
		return false, driver.ErrLoadOutOfRange
	}
	s.applyStatus(t, trip.StatusCompleted, nil, nil)
	d.CurrentLoad = next
	d.IsAvailable = d.Presence == driver.PresenceOnline && next < d.Capacity
	d.UpdatedAt = time.Now()
	return true, nil
}

// CommitAssignment re-validates the driver against live values and applies the
// trip CAS plus the seat reservation together, or not at all.
func (s *Store) CommitAssignment(_ context.Context, src *trip.Trip, cand *driver.Driver) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.trips[src.ID]
	if !ok {
		return false, trip.ErrNotFound
	}
	d, ok := s.drivers[cand.ID]
	if !ok {
		return false, driver.ErrNotFound
	}
	if t.Status != trip.StatusPending || t.StatusVersion != src.StatusVersion {
		return false, nil
	}
	next := d.CurrentLoad + t.PassengerCount
	if d.Presence != driver.PresenceOnline || next > d.Capacity {
		return false, nil
	}
	s.applyStatus(t, trip.StatusAccepted, &d.ID, nil)
	d.CurrentLoad = next
	d.IsAvailable = next < d.Capacity
	d.UpdatedAt = time.Now()
	return true, nil
}

func (s *Store) AppendTripEvent(_ context.Context, e *trip.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextEvent++
	cp := *e
	cp.ID = s.nextEvent
	s.events = append(s.events, cp)
	return nil
}

// TripEvents returns the event log for one trip, oldest first.
func (s *Store) TripEvents(id types.ID) []trip.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]trip.Event, 0)
	for _, e := range s.events {
		if e.TripID == id {
			out = append(out, e)
		}
	}
	return out
}

// --- location snapshots ---

func (s *Store) AppendLocationSnapshot(_ context.Context, snap location.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap.ID = int64(len(s.snapshots) + 1)
	s.snapshots = append(s.snapshots, snap)
	return nil
}

// applyStatus mutates a held trip under the store lock. Driver linkage follows
// the invariant: set only for statuses that carry an assignment, cleared
// otherwise.
func (s *Store) applyStatus(t *trip.Trip, to trip.Status, driverID *types.ID, reason *string) {
	t.Status = to
	t.StatusVersion++
	if trip.HasDriver(to) {
		if driverID != nil {
			id := *driverID
			t.AssignedDriverID = &id
		}
	} else {
		t.AssignedDriverID = nil
	}
	if reason != nil {
		r := *reason
		t.CancellationReason = &r
	}
	t.UpdatedAt = time.Now()
}

func cloneTrip(t *trip.Trip) *trip.Trip {
	cp := *t
	if t.AssignedDriverID != nil {
		id := *t.AssignedDriverID
		cp.AssignedDriverID = &id
	}
	if t.CancellationReason != nil {
		r := *t.CancellationReason
		cp.CancellationReason = &r
	}
	return &cp
}
