package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	api "research-assistant/internal/api"
	"research-assistant/internal/archive"
	"research-assistant/internal/config"
	"research-assistant/internal/crew"
	"research-assistant/internal/jobs"
	"research-assistant/internal/logging"
	"research-assistant/internal/ratelimit"
	"research-assistant/internal/registry"
	"research-assistant/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.New("info", "text", nil).WithError(err).Fatal("load config")
	}
	log := logging.New(cfg.LogLevel, cfg.LogFormat, nil)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	tpm := ratelimit.NewWindow(cfg.ModelLimits, cfg.DefaultTPMLimit)
	factory := crew.NewFactory(cfg, crew.ModelClient(cfg, tpm))

	runnerOpts := []jobs.Option{
		jobs.WithLogger(log),
		jobs.WithMaxConcurrent(cfg.MaxConcurrentJobs),
		jobs.WithEcho(os.Stdout),
	}
	var serverOpts []api.Option

	if cfg.PostgresDSN != "" {
		st, err := store.New(ctx, cfg.PostgresDSN)
		if err != nil {
			log.WithError(err).Fatal("connect postgres")
		}
		defer st.Close()
		if err := st.RunMigrations(ctx); err != nil {
			log.WithError(err).Fatal("migrations")
		}
		runnerOpts = append(runnerOpts, jobs.WithAuditor(st))
		serverOpts = append(serverOpts, api.WithAudit(st))
		log.Info("audit trail enabled")
	}

	sink, err := archive.New(ctx, cfg)
	if err != nil {
		log.WithError(err).Fatal("report archive")
	}
	if sink != nil {
		runnerOpts = append(runnerOpts, jobs.WithArchive(sink))
	}

	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer rdb.Close()
		limiter := ratelimit.NewTokenBucket(rdb, cfg.RateLimitCapacity, cfg.RateLimitRefill, time.Hour)
		serverOpts = append(serverOpts, api.WithLimiter(limiter))
		log.WithField("redis", cfg.RedisAddr).Info("submission rate limit enabled")
	}

	reg := registry.New()
	runner := jobs.New(ctx, reg, factory, runnerOpts...)
	serverOpts = append(serverOpts, api.WithLogger(log))
	server := api.New(runner, reg, serverOpts...)

	httpServer := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	log.WithField("addr", httpServer.Addr).Info("api listening")
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("listen")
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("http shutdown")
	}
	runner.Wait()
}
