// README: Driver location update handler.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"tram/internal/http/middleware"
	"tram/internal/modules/location"
	"tram/internal/types"
)

type LocationHandler struct {
	location *location.Service
}

func NewLocationHandler(svc *location.Service) *LocationHandler {
	return &LocationHandler{location: svc}
}

type locationReq struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Update records the driver's position. Any on-board trip whose dropoff sits
// within the arrival radius is completed as a side effect, so the response
// lists trips the update finished.
func (h *LocationHandler) Update(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		writeError(c, http.StatusBadRequest, "missing driver id")
		return
	}
	// Only the authenticated driver may update their own location.
	if middleware.CallerUID(c) != id {
		writeError(c, http.StatusForbidden, "forbidden: id does not match authenticated user")
		return
	}
	var req locationReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	completed, err := h.location.Update(c.Request.Context(), types.ID(id), types.Point{Lat: req.Lat, Lng: req.Lng})
	if err != nil {
		writeDriverError(c, err)
		return
	}
	ids := make([]types.ID, 0, len(completed))
	for _, t := range completed {
		ids = append(ids, t.ID)
	}
	writeJSON(c, http.StatusOK, map[string]any{"status": "ok", "completed_trips": ids})
}
