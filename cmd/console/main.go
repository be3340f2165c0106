package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"

	"github.com/fleetcam/console/internal/api"
	"github.com/fleetcam/console/internal/config"
	"github.com/fleetcam/console/internal/metrics"
	"github.com/fleetcam/console/internal/notify"
	"github.com/fleetcam/console/internal/stream"
	"github.com/fleetcam/console/internal/tracker"
)

const serviceName = "fleetcam-console"

func main() {
	cfgPath := flag.String("config", os.Getenv("CONSOLE_CONFIG"), "path to the yaml config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("Config load error: %v", err)
	}

	// Optional infrastructure: the console runs standalone without
	// Redis or NATS, only losing the snapshot cache and event fanout.
	var rdb *redis.Client
	if cfg.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := rdb.Ping(context.Background()).Err(); err != nil {
			log.Printf("[WARN] Redis ping failed, snapshot cache disabled: %v", err)
			rdb = nil
		}
	}

	var pub *tracker.EventPublisher
	if cfg.NATSURL != "" {
		nc, err := nats.Connect(cfg.NATSURL, nats.Name(serviceName))
		if err != nil {
			log.Printf("[WARN] NATS connect failed, event fanout disabled: %v", err)
		} else {
			defer nc.Close()
			pub = tracker.NewEventPublisher(nc, cfg.NATSSubject, 3)
			log.Printf("Connected to NATS at %s", cfg.NATSURL)
		}
	}

	bus := notify.NewBus()
	metrics.RegisterNotificationGauge(bus.Count)

	store := tracker.NewSnapshotStore(rdb, pub)
	loop := tracker.NewLoop(tracker.NewClient(cfg.TrackerURL), store, bus, tracker.LoopConfig{
		PollInterval: cfg.PollInterval(),
		MaxTicks:     cfg.Poll.MaxTicks,
	})

	hub := api.NewFrameHub()
	streams := stream.NewManager(stream.Config{
		BaseURL:        cfg.StreamURL,
		ReconnectDelay: cfg.ReconnectDelay(),
	}, bus, hub.Broadcast)

	// Hot-reload the poll tunables; everything else needs a restart.
	if *cfgPath != "" {
		stopWatch, err := config.Watch(*cfgPath, func(next *config.Config) {
			loop.UpdateConfig(tracker.LoopConfig{
				PollInterval: next.PollInterval(),
				MaxTicks:     next.Poll.MaxTicks,
			})
		})
		if err != nil {
			log.Printf("[WARN] Config watch disabled: %v", err)
		} else {
			defer stopWatch()
		}
	}

	router := api.NewRouter(api.NewHandler(loop, store, streams, bus), hub)
	srv := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: router,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Printf("%s listening on %s (tracker %s)", serviceName, cfg.ListenAddr, cfg.TrackerURL)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("HTTP server error: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("Shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("[WARN] HTTP shutdown: %v", err)
	}

	streams.Disconnect()
	hub.Close()
	loop.Stop()
	log.Println("Shutdown complete")
}
