// README: Base handler utilities (JSON helpers, error mapping).
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"tram/internal/modules/dispatch"
	"tram/internal/modules/driver"
	"tram/internal/modules/trip"
)

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(c *gin.Context, status int, v any) {
	c.JSON(status, v)
}

func writeError(c *gin.Context, status int, msg string) {
	writeJSON(c, status, errorResponse{Error: msg})
}

func writeTripError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, trip.ErrBadRequest):
		writeError(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, trip.ErrNotFound):
		writeError(c, http.StatusNotFound, err.Error())
	case errors.Is(err, trip.ErrInvalidState), errors.Is(err, trip.ErrConflict), errors.Is(err, dispatch.ErrNotPending):
		writeError(c, http.StatusConflict, err.Error())
	default:
		writeError(c, http.StatusInternalServerError, "internal error")
	}
}

func writeDriverError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, driver.ErrBadRequest):
		writeError(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, driver.ErrNotFound):
		writeError(c, http.StatusNotFound, err.Error())
	case errors.Is(err, driver.ErrLoadOutOfRange):
		writeError(c, http.StatusConflict, err.Error())
	default:
		writeError(c, http.StatusInternalServerError, "internal error")
	}
}
