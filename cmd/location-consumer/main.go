// README: Kafka consumer feeding driver location updates into the location pipeline.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"tram/internal/config"
	"tram/internal/infra"
	"tram/internal/logging"
	"tram/internal/modules/driver"
	"tram/internal/modules/location"
	"tram/internal/modules/trip"
	"tram/internal/store/memory"
	"tram/internal/store/postgres"
	"tram/internal/types"
)

var (
	msgsConsumed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "tram", Name: "consumer_messages_consumed_total",
		Help: "Driver location messages consumed",
	})
	msgsInvalid = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "tram", Name: "consumer_messages_invalid_total",
		Help: "Malformed location messages dropped",
	})
	updateErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "tram", Name: "consumer_update_errors_total",
		Help: "Location updates that failed to apply",
	})
)

type locationMessage struct {
	DriverID string  `json:"driver_id"`
	Lat      float64 `json:"lat"`
	Lng      float64 `json:"lng"`
}

type consumerStore interface {
	driver.Store
	trip.Store
	location.SnapshotStore
}

func main() {
	var metricsAddr string
	flag.StringVar(&metricsAddr, "metrics-addr", ":2112", "address to serve prometheus metrics on")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}
	logger := logging.NewLogger(cfg.Log.Level)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var store consumerStore
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

	driverSvc := driver.NewService(store, logger)
	tripSvc := trip.NewService(store, logger, cfg.Dispatch.DropoffRadiusKm)
	locationSvc := location.NewService(driverSvc, tripSvc, geoIndex, store, logger)

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ok"))
		})
		mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
			if err := redisClient.Ping(r.Context()).Err(); err != nil {
				http.Error(w, "redis not ready", http.StatusServiceUnavailable)
				return
			}
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready"))
		})
		logger.Info("metrics listening", "addr", metricsAddr)
		if err := http.ListenAndServe(metricsAddr, mux); err != nil {
			logger.Error("metrics server stopped", "err", err)
		}
	}()

	reader := infra.NewKafkaReader(cfg.Kafka.Brokers, cfg.Kafka.Topic, cfg.Kafka.GroupID)
	defer reader.Close()

	logger.Info("consumer listening",
		"topic", cfg.Kafka.Topic, "brokers", cfg.Kafka.Brokers, "group", cfg.Kafka.GroupID)

	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		m, err := reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				logger.Info("shutting down consumer")
				return
			}
			logger.Warn("kafka read error", "err", err, "backoff", backoff)
			time.Sleep(backoff)
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}
		backoff = time.Second
		msgsConsumed.Inc()

		var msg locationMessage
		if err := json.Unmarshal(m.Value, &msg); err != nil || msg.DriverID == "" {
			msgsInvalid.Inc()
			logger.Warn("invalid location message", "err", err)
			continue
		}

		if _, err := locationSvc.Update(ctx, types.ID(msg.DriverID), types.Point{Lat: msg.Lat, Lng: msg.Lng}); err != nil {
			updateErrors.Inc()
			logger.Warn("location update failed", "driver_id", msg.DriverID, "err", err)
		}
	}
}
