// README: Driver handlers for registration, presence, and nearby search.
package handlers

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"tram/internal/http/middleware"
	"tram/internal/modules/disruption"
	"tram/internal/modules/driver"
	"tram/internal/modules/location"
	"tram/internal/modules/trip"
	"tram/internal/types"
)

type DriverHandler struct {
	driver     *driver.Service
	trip       *trip.Service
	disruption *disruption.Service
	location   *location.Service
	log        *slog.Logger
}

func NewDriverHandler(driverSvc *driver.Service, tripSvc *trip.Service, disruptionSvc *disruption.Service, locationSvc *location.Service, log *slog.Logger) *DriverHandler {
	return &DriverHandler{driver: driverSvc, trip: tripSvc, disruption: disruptionSvc, location: locationSvc, log: log}
}

type registerDriverReq struct {
	Name     string  `json:"name"`
	Capacity int     `json:"capacity"`
	Lat      float64 `json:"lat"`
	Lng      float64 `json:"lng"`
}

type driverView struct {
	DriverID    types.ID        `json:"driver_id"`
	Name        string          `json:"name"`
	Presence    driver.Presence `json:"presence"`
	IsAvailable bool            `json:"is_available"`
	Capacity    int             `json:"capacity"`
	CurrentLoad int             `json:"current_load"`
}

func driverViewOf(d *driver.Driver) driverView {
	return driverView{
		DriverID:    d.ID,
		Name:        d.Name,
		Presence:    d.Presence,
		IsAvailable: d.IsAvailable,
		Capacity:    d.Capacity,
		CurrentLoad: d.CurrentLoad,
	}
}

// Register onboards the authenticated driver. The registry ID is the Firebase
// UID so location and presence routes can check ownership.
func (h *DriverHandler) Register(c *gin.Context) {
	var req registerDriverReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	uid := middleware.CallerUID(c)
	if uid == "" {
		writeError(c, http.StatusUnauthorized, "missing caller identity")
		return
	}
	d, err := h.driver.Register(c.Request.Context(), driver.RegisterCommand{
		ID:       types.ID(uid),
		Name:     req.Name,
		Capacity: req.Capacity,
		Location: types.Point{Lat: req.Lat, Lng: req.Lng},
	})
	if err != nil {
		writeDriverError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, driverViewOf(d))
}

func (h *DriverHandler) Get(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		writeError(c, http.StatusBadRequest, "missing driver id")
		return
	}
	d, err := h.driver.Get(c.Request.Context(), types.ID(id))
	if err != nil {
		writeDriverError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, driverViewOf(d))
}

type presenceReq struct {
	Presence string `json:"presence"`
	Reason   string `json:"reason"`
}

// SetPresence swaps the driver's presence. Leaving the online state fires the
// disruption handler exactly once for the edge and drops the driver from the
// geo index.
func (h *DriverHandler) SetPresence(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		writeError(c, http.StatusBadRequest, "missing driver id")
		return
	}
	if middleware.CallerUID(c) != id {
		writeError(c, http.StatusForbidden, "forbidden: id does not match authenticated user")
		return
	}
	var req presenceReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	p := driver.Presence(req.Presence)
	if !p.Valid() {
		writeError(c, http.StatusBadRequest, "invalid presence")
		return
	}
	d, wentOffline, err := h.driver.SetPresence(c.Request.Context(), types.ID(id), p, req.Reason)
	if err != nil {
		writeDriverError(c, err)
		return
	}
	resp := map[string]any{"driver": driverViewOf(d)}
	if wentOffline {
		h.location.Forget(c.Request.Context(), d.ID)
		// The presence swap is already committed, so a reconcile failure must
		// not turn into an error response. Leftover trips are picked up by a
		// later POST /drivers/:id/disruption.
		report, err := h.disruption.HandleDisruption(c.Request.Context(), d.ID, req.Reason)
		if err != nil {
			h.log.Error("disruption handling incomplete", "driver_id", d.ID, "error", err)
		}
		resp["disruption"] = report
	}
	writeJSON(c, http.StatusOK, resp)
}

type reconcileReq struct {
	Reason string `json:"reason"`
}

// ReconcileDisruption re-runs disruption handling for a driver whose offline
// edge left trips behind. Already reconciled trips drop out of the listing, so
// repeat calls settle on an empty report.
func (h *DriverHandler) ReconcileDisruption(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		writeError(c, http.StatusBadRequest, "missing driver id")
		return
	}
	if middleware.CallerUID(c) != id {
		writeError(c, http.StatusForbidden, "forbidden: id does not match authenticated user")
		return
	}
	var req reconcileReq
	_ = c.ShouldBindJSON(&req)
	report, err := h.disruption.HandleDisruption(c.Request.Context(), types.ID(id), req.Reason)
	if err != nil {
		writeError(c, http.StatusInternalServerError, "disruption handling failed")
		return
	}
	writeJSON(c, http.StatusOK, map[string]any{"disruption": report})
}

// ActiveTrips lists the authenticated driver's accepted and on_trip load.
func (h *DriverHandler) ActiveTrips(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		writeError(c, http.StatusBadRequest, "missing driver id")
		return
	}
	if middleware.CallerUID(c) != id {
		writeError(c, http.StatusForbidden, "forbidden: id does not match authenticated user")
		return
	}
	trips, err := h.trip.ListActiveByDriver(c.Request.Context(), types.ID(id))
	if err != nil {
		writeTripError(c, err)
		return
	}
	views := make([]tripView, 0, len(trips))
	for i := range trips {
		views = append(views, viewOf(&trips[i]))
	}
	writeJSON(c, http.StatusOK, map[string]any{"trips": views})
}

// Nearby returns drivers ordered by distance from the given point.
func (h *DriverHandler) Nearby(c *gin.Context) {
	lat, err1 := strconv.ParseFloat(c.Query("lat"), 64)
	lng, err2 := strconv.ParseFloat(c.Query("lng"), 64)
	if err1 != nil || err2 != nil {
		writeError(c, http.StatusBadRequest, "invalid lat/lng")
		return
	}
	radiusKm := 3.0
	if v := c.Query("radius_km"); v != "" {
		r, err := strconv.ParseFloat(v, 64)
		if err != nil || r <= 0 {
			writeError(c, http.StatusBadRequest, "invalid radius_km")
			return
		}
		radiusKm = r
	}
	drivers, err := h.location.Nearby(c.Request.Context(), types.Point{Lat: lat, Lng: lng}, radiusKm)
	if err != nil {
		writeError(c, http.StatusInternalServerError, "nearby lookup failed")
		return
	}
	writeJSON(c, http.StatusOK, map[string]any{"drivers": drivers})
}
