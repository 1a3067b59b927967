// README: Trip handlers for request, lookup, cancel, pickup confirmation, requeue.
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"tram/internal/http/middleware"
	"tram/internal/modules/dispatch"
	"tram/internal/modules/trip"
	"tram/internal/types"
)

type TripHandler struct {
	trip    *trip.Service
	matcher *dispatch.Service
}

func NewTripHandler(tripSvc *trip.Service, matcherSvc *dispatch.Service) *TripHandler {
	return &TripHandler{trip: tripSvc, matcher: matcherSvc}
}

type placeReq struct {
	Name string  `json:"name"`
	Lat  float64 `json:"lat"`
	Lng  float64 `json:"lng"`
}

type createTripReq struct {
	PassengerCount int      `json:"passenger_count"`
	Pickup         placeReq `json:"pickup"`
	Dropoff        placeReq `json:"dropoff"`
}

type tripView struct {
	TripID         types.ID    `json:"trip_id"`
	RiderID        types.ID    `json:"rider_id"`
	Status         trip.Status `json:"status"`
	PassengerCount int         `json:"passenger_count"`
	PickupName     string      `json:"pickup_name"`
	DropoffName    string      `json:"dropoff_name"`
	DriverID       *types.ID   `json:"driver_id,omitempty"`
	Reason         *string     `json:"cancellation_reason,omitempty"`
}

func viewOf(t *trip.Trip) tripView {
	return tripView{
		TripID:         t.ID,
		RiderID:        t.RiderID,
		Status:         t.Status,
		PassengerCount: t.PassengerCount,
		PickupName:     t.Pickup.Name,
		DropoffName:    t.Dropoff.Name,
		DriverID:       t.AssignedDriverID,
		Reason:         t.CancellationReason,
	}
}

// Create records the trip and runs matching inline. The response always
// carries the trip's settled status, including no_drivers_available.
func (h *TripHandler) Create(c *gin.Context) {
	var req createTripReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	riderID := middleware.CallerUID(c)
	if riderID == "" {
		writeError(c, http.StatusUnauthorized, "missing caller identity")
		return
	}
	t, err := h.trip.Create(c.Request.Context(), trip.CreateCommand{
		RiderID:        types.ID(riderID),
		PassengerCount: req.PassengerCount,
		Pickup:         trip.Place{Name: req.Pickup.Name, Point: types.Point{Lat: req.Pickup.Lat, Lng: req.Pickup.Lng}},
		Dropoff:        trip.Place{Name: req.Dropoff.Name, Point: types.Point{Lat: req.Dropoff.Lat, Lng: req.Dropoff.Lng}},
	})
	if err != nil {
		writeTripError(c, err)
		return
	}
	matched, err := h.matcher.Assign(c.Request.Context(), t.ID)
	if err != nil && !errors.Is(err, dispatch.ErrNotPending) {
		writeTripError(c, err)
		return
	}
	if matched != nil {
		t = matched
	}
	writeJSON(c, http.StatusCreated, viewOf(t))
}

func (h *TripHandler) Get(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		writeError(c, http.StatusBadRequest, "missing trip id")
		return
	}
	t, err := h.trip.Get(c.Request.Context(), types.ID(id))
	if err != nil {
		writeTripError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, viewOf(t))
}

type cancelTripReq struct {
	Reason string `json:"reason"`
}

func (h *TripHandler) Cancel(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		writeError(c, http.StatusBadRequest, "missing trip id")
		return
	}
	var req cancelTripReq
	_ = c.ShouldBindJSON(&req)
	if err := h.trip.CancelByUser(c.Request.Context(), types.ID(id), req.Reason); err != nil {
		writeTripError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, map[string]any{"status": trip.StatusCancelledByUser})
}

func (h *TripHandler) ConfirmPickup(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		writeError(c, http.StatusBadRequest, "missing trip id")
		return
	}
	if err := h.trip.ConfirmPickup(c.Request.Context(), types.ID(id)); err != nil {
		writeTripError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, map[string]any{"status": trip.StatusOnTrip})
}

// Complete closes out an on_trip trip when the driver reports the dropoff
// themselves instead of waiting on the proximity check.
func (h *TripHandler) Complete(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		writeError(c, http.StatusBadRequest, "missing trip id")
		return
	}
	t, err := h.trip.Complete(c.Request.Context(), types.ID(id))
	if err != nil {
		writeTripError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, viewOf(t))
}

// Requeue moves a dead-ended trip back to pending and immediately retries
// matching.
func (h *TripHandler) Requeue(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		writeError(c, http.StatusBadRequest, "missing trip id")
		return
	}
	if err := h.trip.Requeue(c.Request.Context(), types.ID(id)); err != nil {
		writeTripError(c, err)
		return
	}
	t, err := h.matcher.Assign(c.Request.Context(), types.ID(id))
	if err != nil && !errors.Is(err, dispatch.ErrNotPending) {
		writeTripError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, viewOf(t))
}
