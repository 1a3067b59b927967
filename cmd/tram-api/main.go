// README: Entry point; loads config, wires stores and services, starts the HTTP server.
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tram/internal/config"
	httptransport "tram/internal/http"
	"tram/internal/http/ws"
	"tram/internal/infra"
	"tram/internal/logging"
	"tram/internal/modules/dispatch"
	"tram/internal/modules/disruption"
	"tram/internal/modules/driver"
	"tram/internal/modules/location"
	"tram/internal/modules/trip"
	"tram/internal/store/memory"
	"tram/internal/store/postgres"
)

// tripStore is the union of the per-module store interfaces, so either backend
// can serve every service.
type tripStore interface {
	driver.Store
	trip.Store
	dispatch.Store
	disruption.Store
	location.SnapshotStore
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	logger := logging.NewLogger(cfg.Log.Level)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Firebase.ProjectID == "" {
		log.Fatal("TRAM_FIREBASE_PROJECT is required")
	}
	verifier, err := infra.NewFirebaseVerifier(ctx, cfg.Firebase.ProjectID, cfg.Firebase.CredentialsFile)
	if err != nil {
		log.Fatalf("firebase init: %v", err)
	}

	// An empty DSN selects the in-memory backend, which is enough for local
	// runs without Postgres.
	var store tripStore
	if cfg.DB.DSN != "" {
		dbPool, err := infra.NewDB(ctx, cfg.DB.DSN)
		if err != nil {
			log.Fatal(err)
		}
		defer dbPool.Close()
		store = postgres.NewStore(dbPool)
	} else {
		logger.Warn("TRAM_DB_DSN empty, using in-memory store")
		store = memory.NewStore()
	}

	redisClient := infra.NewRedis(cfg.Redis.Addr)
	defer redisClient.Close()
	geoIndex := location.NewGeoStore(redisClient)

	hub := ws.NewHub(logger)

	driverSvc := driver.NewService(store, logger)
	tripSvc := trip.NewService(store, logger, cfg.Dispatch.DropoffRadiusKm)
	dispatchSvc := dispatch.NewService(store, hub, logger, cfg.Dispatch.MaxAttempts)
	disruptionSvc := disruption.NewService(store, dispatchSvc, logger, disruption.Policy(cfg.Dispatch.DisruptionPolicy))
	locationSvc := location.NewService(driverSvc, tripSvc, geoIndex, store, logger)

	handler := httptransport.NewRouter(httptransport.RouterDeps{
		Trip:       tripSvc,
		Driver:     driverSvc,
		Dispatch:   dispatchSvc,
		Disruption: disruptionSvc,
		Location:   locationSvc,
		Hub:        hub,
		Verifier:   verifier,
		Log:        logger,
	})

	server := &http.Server{Addr: cfg.HTTP.Addr, Handler: handler}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	logger.Info("listening", "addr", cfg.HTTP.Addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal(err)
	}
}
