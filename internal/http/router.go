// README: HTTP router registration.
package http

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"tram/internal/http/handlers"
	"tram/internal/http/middleware"
	"tram/internal/http/ws"
	"tram/internal/infra"
	"tram/internal/modules/dispatch"
	"tram/internal/modules/disruption"
	"tram/internal/modules/driver"
	"tram/internal/modules/location"
	"tram/internal/modules/trip"
)

type RouterDeps struct {
	Trip       *trip.Service
	Driver     *driver.Service
	Dispatch   *dispatch.Service
	Disruption *disruption.Service
	Location   *location.Service
	Hub        *ws.Hub
	Verifier   infra.TokenVerifier
	Log        *slog.Logger
}

func NewRouter(deps RouterDeps) http.Handler {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(middleware.Recovery(deps.Log))
	r.Use(middleware.Logging(deps.Log))
	r.Use(middleware.Metrics())

	r.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "OK")
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api", middleware.Auth(deps.Verifier))

	tripHandler := handlers.NewTripHandler(deps.Trip, deps.Dispatch)
	api.POST("/trips", tripHandler.Create)
	api.GET("/trips/:id", tripHandler.Get)
	api.POST("/trips/:id/cancel", tripHandler.Cancel)
	api.POST("/trips/:id/confirm-pickup", tripHandler.ConfirmPickup)
	api.POST("/trips/:id/complete", tripHandler.Complete)
	api.POST("/trips/:id/requeue", tripHandler.Requeue)

	driverHandler := handlers.NewDriverHandler(deps.Driver, deps.Trip, deps.Disruption, deps.Location, deps.Log)
	api.POST("/drivers", driverHandler.Register)
	api.GET("/drivers/:id", driverHandler.Get)
	api.GET("/drivers/:id/trips", driverHandler.ActiveTrips)
	api.PUT("/drivers/:id/presence", driverHandler.SetPresence)
	api.POST("/drivers/:id/disruption", driverHandler.ReconcileDisruption)
	api.GET("/drivers/nearby", driverHandler.Nearby)

	locationHandler := handlers.NewLocationHandler(deps.Location)
	api.PUT("/drivers/:id/location", locationHandler.Update)

	r.GET("/ws/drivers/:id", middleware.Auth(deps.Verifier), deps.Hub.Serve)

	return r
}
