package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"facedesk/core"
)

func main() {
	cfg, err := core.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logCloser, err := core.SetupLogging(cfg, "api.log")
	if err != nil {
		log.Fatalf("failed to setup logging: %v", err)
	}
	defer logCloser.Close()

	if err := run(ctx, cfg); err != nil {
		slog.Error("api server stopped", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg core.Config) error {
	stores, err := core.OpenStores(ctx, cfg)
	if err != nil {
		return err
	}
	defer stores.Close()

	hasher := core.NewPasswordHasher(cfg.BcryptCost)
	if _, err := core.BootstrapAdmin(ctx, stores.Accounts, hasher, cfg); err != nil {
		return fmt.Errorf("bootstrap admin: %w", err)
	}

	tokens, err := core.NewTokenServiceFromConfig(cfg)
	if err != nil {
		return err
	}

	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		redisClient, err = core.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		defer redisClient.Close()
	}

	reg := core.NewRegistry()
	metrics := core.NewMetrics(reg)

	var revocations core.RevocationList
	var scheduler core.FaceSyncScheduler
	var queueStats *core.MetricsService
	if redisClient != nil {
		if cfg.TokenRevocation {
			revocations = core.NewRedisRevocationList(redisClient)
		}
		if cfg.FaceSyncEnabled {
			scheduler = core.NewQueueFaceSyncScheduler(core.NewRedisQueue(redisClient), metrics)
			queueStats = core.NewMetricsService(redisClient)
		}
	}

	images, err := core.NewFaceImageStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("face image store: %w", err)
	}
	matcher := core.NewHTTPFaceClient(cfg.FaceServiceURL)

	router := core.NewRouter(core.RouterDeps{
		Config:      cfg,
		Gate:        core.NewGate(tokens, stores.Accounts, revocations, metrics),
		Auth:        core.NewRepositoryAuthService(stores.Accounts, hasher, tokens, metrics),
		Revocations: revocations,
		Accounts:    core.NewAccountService(stores.Accounts, hasher, images, scheduler),
		Leaves:      core.NewLeaveService(stores.Leaves),
		Faces:       core.NewFaceDetectService(matcher, stores.Accounts, cfg.FaceMatchThreshold, metrics),
		QueueStats:  queueStats,
		Registry:    reg,
		Ready:       stores.Ping,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		slog.Info("starting api server", "addr", srv.Addr, "store", cfg.StoreDriver,
			"revocation", revocations != nil, "face_sync", scheduler != nil)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	slog.Info("shutting down api server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
