// README: Concurrency tests for the store's CAS contract (run with -race).
package memory_test

import (
	"context"
	"sync"
	"testing"

	"tram/internal/modules/driver"
	"tram/internal/modules/trip"
	"tram/internal/store/memory"
	"tram/internal/types"
)

func seed(t *testing.T, store *memory.Store) *trip.Trip {
	t.Helper()
	ctx := context.Background()
	if err := store.CreateDriver(ctx, &driver.Driver{
		ID: "d1", Name: "d1", Presence: driver.PresenceOffline, Capacity: 4,
	}); err != nil {
		t.Fatal(err)
	}
	if _, err := store.SwapPresence(ctx, "d1", driver.PresenceOnline, ""); err != nil {
		t.Fatal(err)
	}
	tr := &trip.Trip{
		ID:             "t1",
		RiderID:        "r1",
		Status:         trip.StatusPending,
		PassengerCount: 2,
		Pickup:         trip.Place{Name: "a", Point: types.Point{Lat: 13.70, Lng: 100.50}},
		Dropoff:        trip.Place{Name: "b", Point: types.Point{Lat: 13.75, Lng: 100.52}},
	}
	if err := store.CreateTrip(ctx, tr); err != nil {
		t.Fatal(err)
	}
	return tr
}

func TestConcurrentAssignVsCancel(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	tr := seed(t, store)
	d, _ := store.GetDriver(ctx, "d1")

	var wg sync.WaitGroup
	results := make(chan bool, 2)

	wg.Add(1)
	go func() {
		defer wg.Done()
		ok, err := store.CommitAssignment(ctx, tr, d)
		if err != nil {
			t.Errorf("commit: %v", err)
			return
		}
		results <- ok
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		reason := "user_cancel"
		ok, err := store.UpdateTripStatus(ctx, tr.ID, trip.StatusPending, trip.StatusCancelledByUser, tr.StatusVersion, nil, &reason)
		if err != nil {
			t.Errorf("cancel: %v", err)
			return
		}
		results <- ok
	}()

	wg.Wait()
	close(results)

	wins := 0
	for ok := range results {
		if ok {
			wins++
		}
	}
	if wins != 1 {
		t.Fatalf("expected exactly one CAS winner, got %d", wins)
	}

	got, _ := store.GetTrip(ctx, tr.ID)
	dd, _ := store.GetDriver(ctx, "d1")
	switch got.Status {
	case trip.StatusAccepted:
		if dd.CurrentLoad != 2 {
			t.Errorf("accepted trip must hold 2 seats, load=%d", dd.CurrentLoad)
		}
	case trip.StatusCancelledByUser:
		if dd.CurrentLoad != 0 {
			t.Errorf("cancelled trip must hold no seats, load=%d", dd.CurrentLoad)
		}
	default:
		t.Errorf("unexpected final status %s", got.Status)
	}
}

func TestConcurrentCompleteVsDisruptionReconcile(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	tr := seed(t, store)
	d, _ := store.GetDriver(ctx, "d1")
	if ok, err := store.CommitAssignment(ctx, tr, d); err != nil || !ok {
		t.Fatalf("commit: ok=%v err=%v", ok, err)
	}
	cur, _ := store.GetTrip(ctx, tr.ID)
	if ok, err := store.UpdateTripStatus(ctx, tr.ID, trip.StatusAccepted, trip.StatusOnTrip, cur.StatusVersion, cur.AssignedDriverID, nil); err != nil || !ok {
		t.Fatalf("on_trip: ok=%v err=%v", ok, err)
	}
	onTrip, _ := store.GetTrip(ctx, tr.ID)

	var wg sync.WaitGroup
	type outcome struct {
		name string
		won  bool
	}
	results := make(chan outcome, 2)

	// The dropoff completion and a disruption requeue race for the same CAS.
	wg.Add(1)
	go func() {
		defer wg.Done()
		ok, err := store.CompleteTripAndRelease(ctx, onTrip)
		if err != nil {
			t.Errorf("complete: %v", err)
			return
		}
		results <- outcome{"complete", ok}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		ok, err := store.UpdateTripStatus(ctx, onTrip.ID, trip.StatusOnTrip, trip.StatusPending, onTrip.StatusVersion, nil, nil)
		if err != nil {
			t.Errorf("requeue: %v", err)
			return
		}
		if ok {
			// The winning reconcile releases the seats, as the disruption
			// handler does after its trip loop.
			if _, err := store.ApplyDriverLoadDelta(ctx, "d1", -onTrip.PassengerCount, true); err != nil {
				t.Errorf("release: %v", err)
			}
		}
		results <- outcome{"requeue", ok}
	}()

	wg.Wait()
	close(results)

	wins := 0
	for o := range results {
		if o.won {
			wins++
		}
	}
	if wins != 1 {
		t.Fatalf("expected exactly one CAS winner, got %d", wins)
	}

	// Whoever won, the seats were released exactly once.
	dd, _ := store.GetDriver(ctx, "d1")
	if dd.CurrentLoad != 0 {
		t.Errorf("expected load 0 after single release, got %d", dd.CurrentLoad)
	}
	got, _ := store.GetTrip(ctx, tr.ID)
	if got.Status != trip.StatusCompleted && got.Status != trip.StatusPending {
		t.Errorf("unexpected final status %s", got.Status)
	}
	if got.Status == trip.StatusPending && got.AssignedDriverID != nil {
		t.Error("requeued trip must not keep a driver")
	}
}
