package driver_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"tram/internal/modules/driver"
	"tram/internal/store/memory"
	"tram/internal/types"
)

func newService() (*driver.Service, *memory.Store) {
	store := memory.NewStore()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return driver.NewService(store, log), store
}

func TestRegister_Defaults(t *testing.T) {
	svc, _ := newService()
	d, err := svc.Register(context.Background(), driver.RegisterCommand{
		ID:       "d1",
		Name:     "somchai",
		Capacity: 4,
		Location: types.Point{Lat: 13.7, Lng: 100.5},
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if d.Presence != driver.PresenceOffline {
		t.Errorf("expected offline presence, got %s", d.Presence)
	}
	if d.IsAvailable {
		t.Error("new driver must not be available")
	}
	if d.CurrentLoad != 0 {
		t.Errorf("expected zero load, got %d", d.CurrentLoad)
	}
}

func TestRegister_Validation(t *testing.T) {
	svc, _ := newService()
	if _, err := svc.Register(context.Background(), driver.RegisterCommand{ID: "", Capacity: 4}); !errors.Is(err, driver.ErrBadRequest) {
		t.Errorf("expected ErrBadRequest for empty id, got %v", err)
	}
	if _, err := svc.Register(context.Background(), driver.RegisterCommand{ID: "d1", Capacity: 0}); !errors.Is(err, driver.ErrBadRequest) {
		t.Errorf("expected ErrBadRequest for zero capacity, got %v", err)
	}
}

func TestSetPresence_OnlineMakesAvailable(t *testing.T) {
	svc, _ := newService()
	ctx := context.Background()
	mustRegister(t, svc, "d1", 4)

	d, wentOffline, err := svc.SetPresence(ctx, "d1", driver.PresenceOnline, "")
	if err != nil {
		t.Fatalf("set presence: %v", err)
	}
	if wentOffline {
		t.Error("offline→online must not report an offline edge")
	}
	if !d.IsAvailable {
		t.Error("online driver with headroom must be available")
	}
}

func TestSetPresence_OfflineEdgeReportedOnce(t *testing.T) {
	svc, _ := newService()
	ctx := context.Background()
	mustRegister(t, svc, "d1", 4)
	if _, _, err := svc.SetPresence(ctx, "d1", driver.PresenceOnline, ""); err != nil {
		t.Fatal(err)
	}

	_, wentOffline, err := svc.SetPresence(ctx, "d1", driver.PresencePaused, "break")
	if err != nil {
		t.Fatal(err)
	}
	if !wentOffline {
		t.Error("online→paused must report the offline edge")
	}

	// Repeating the write must not re-report the edge.
	_, wentOffline, err = svc.SetPresence(ctx, "d1", driver.PresencePaused, "break")
	if err != nil {
		t.Fatal(err)
	}
	if wentOffline {
		t.Error("paused→paused reported the edge twice")
	}

	_, wentOffline, err = svc.SetPresence(ctx, "d1", driver.PresenceOffline, "")
	if err != nil {
		t.Fatal(err)
	}
	if wentOffline {
		t.Error("paused→offline must not report the edge again")
	}
}

func TestSetPresence_ConcurrentSingleEdge(t *testing.T) {
	svc, _ := newService()
	ctx := context.Background()
	mustRegister(t, svc, "d1", 4)
	if _, _, err := svc.SetPresence(ctx, "d1", driver.PresenceOnline, ""); err != nil {
		t.Fatal(err)
	}

	const n = 16
	var wg sync.WaitGroup
	edges := make(chan bool, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, edge, err := svc.SetPresence(ctx, "d1", driver.PresenceOffline, "gone")
			if err != nil {
				t.Errorf("set presence: %v", err)
				return
			}
			edges <- edge
		}()
	}
	wg.Wait()
	close(edges)

	count := 0
	for e := range edges {
		if e {
			count++
		}
	}
	if count != 1 {
		t.Errorf("expected exactly one observed offline edge, got %d", count)
	}
}

func TestApplyLoadDelta_Bounds(t *testing.T) {
	svc, _ := newService()
	ctx := context.Background()
	mustRegister(t, svc, "d1", 4)
	if _, _, err := svc.SetPresence(ctx, "d1", driver.PresenceOnline, ""); err != nil {
		t.Fatal(err)
	}

	if _, err := svc.ApplyLoadDelta(ctx, "d1", -1, false); !errors.Is(err, driver.ErrLoadOutOfRange) {
		t.Errorf("expected ErrLoadOutOfRange for negative load, got %v", err)
	}
	if _, err := svc.ApplyLoadDelta(ctx, "d1", 5, false); !errors.Is(err, driver.ErrLoadOutOfRange) {
		t.Errorf("expected ErrLoadOutOfRange for over-capacity load, got %v", err)
	}

	d, err := svc.ApplyLoadDelta(ctx, "d1", 4, false)
	if err != nil {
		t.Fatalf("full load: %v", err)
	}
	if d.CurrentLoad != 4 {
		t.Errorf("expected load 4, got %d", d.CurrentLoad)
	}
	if d.IsAvailable {
		t.Error("full driver must not be available")
	}

	d, err = svc.ApplyLoadDelta(ctx, "d1", -1, false)
	if err != nil {
		t.Fatalf("release: %v", err)
	}
	if !d.IsAvailable {
		t.Error("driver with headroom must become available again")
	}
}

func TestApplyLoadDelta_ForceUnavailable(t *testing.T) {
	svc, _ := newService()
	ctx := context.Background()
	mustRegister(t, svc, "d1", 4)
	if _, _, err := svc.SetPresence(ctx, "d1", driver.PresenceOnline, ""); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.ApplyLoadDelta(ctx, "d1", 2, false); err != nil {
		t.Fatal(err)
	}

	d, err := svc.ApplyLoadDelta(ctx, "d1", -2, true)
	if err != nil {
		t.Fatalf("forced release: %v", err)
	}
	if d.CurrentLoad != 0 {
		t.Errorf("expected load 0, got %d", d.CurrentLoad)
	}
	if d.IsAvailable {
		t.Error("forceUnavailable must pin availability to false")
	}
}

func mustRegister(t *testing.T, svc *driver.Service, id types.ID, capacity int) {
	t.Helper()
	if _, err := svc.Register(context.Background(), driver.RegisterCommand{
		ID:       id,
		Name:     string(id),
		Capacity: capacity,
	}); err != nil {
		t.Fatalf("register %s: %v", id, err)
	}
}
