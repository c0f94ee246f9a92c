package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"facedesk/core"
)

func main() {
	cfg, err := core.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logCloser, err := core.SetupLogging(cfg, "worker.log")
	if err != nil {
		log.Fatalf("failed to setup logging: %v", err)
	}
	defer logCloser.Close()

	if cfg.RedisURL == "" {
		slog.Error("redis_url is required by the face sync worker")
		os.Exit(1)
	}
	redisClient, err := core.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		slog.Error("failed to connect redis", "error", err)
		os.Exit(1)
	}
	defer redisClient.Close()

	images, err := core.NewFaceImageStore(ctx, cfg)
	if err != nil {
		slog.Error("failed to open face image store", "error", err)
		os.Exit(1)
	}

	reg := core.NewRegistry()
	metrics := core.NewMetrics(reg)
	if cfg.WorkerMetricsPort != "" {
		srv := &http.Server{Addr: ":" + cfg.WorkerMetricsPort, Handler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{}), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("worker metrics listener failed", "error", err)
			}
		}()
		defer srv.Close()
	}
	processor := core.NewFaceSyncProcessor(images, core.NewHTTPFaceClient(cfg.FaceServiceURL))

	concurrency := cfg.WorkerConcurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	workerID := core.NewWorkerID()
	hostname, _ := os.Hostname()
	state := core.NewHeartbeatState(workerID, hostname, concurrency)
	go state.Start(ctx, redisClient)

	slog.Info("worker started", "worker_id", workerID, "concurrency", concurrency,
		"queue", core.PendingQueueKey, "face_service", cfg.FaceServiceURL)

	worker := core.NewFaceSyncWorker(core.NewRedisQueue(redisClient), processor, state, metrics,
		core.FaceSyncWorkerOptions{Concurrency: concurrency})
	worker.Run(ctx)
	slog.Info("worker stopped", "worker_id", workerID)
}
