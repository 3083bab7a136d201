// File: cmd/app/main.go
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"dental-backoffice/internal/config"
	"dental-backoffice/internal/domain/ports/repository"
	"dental-backoffice/internal/infra/adapters/agent"
	"dental-backoffice/internal/infra/adapters/push"
	"dental-backoffice/internal/infra/adapters/render"
	pg "dental-backoffice/internal/infra/db/postgres"
	"dental-backoffice/internal/infra/logging"
	"dental-backoffice/internal/infra/metrics"
	red "dental-backoffice/internal/infra/redis"
	"dental-backoffice/internal/infra/sched"
	"dental-backoffice/internal/infra/security"
	"dental-backoffice/internal/infra/session"
	"dental-backoffice/internal/infra/web"
	"dental-backoffice/internal/infra/worker"
	"dental-backoffice/internal/usecase"
)

// Set with -ldflags "-X main.version=... -X main.commit=...".
var (
	version = "dev"
	commit  = "none"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		l := zerolog.New(os.Stderr)
		l.Fatal().Err(err).Msg("config")
	}
	logger := logging.New(cfg.Log, cfg.Runtime.Dev)
	if cfg.Runtime.Dev {
		logger.Warn().Msg("[DEV MODE] Enabled")
	}

	metrics.MustRegister()
	metrics.SetBuildInfo(version, commit)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(rootCtx, cfg, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal().Err(err).Msg("application stopped")
	}
	logger.Info().Msg("shutdown complete")
}

func run(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) error {
	// ---- Postgres ----
	connectCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	pool, err := pg.Connect(connectCtx, cfg.Database.URL)
	cancel()
	if err != nil {
		return err
	}
	defer pool.Close()

	encSvc, err := security.NewEncryptionService(cfg.Security.EncryptionKey)
	if err != nil {
		return err
	}

	// ---- Redis (optional) ----
	var (
		cache   repository.LastResultCache = session.NewLastResultStore()
		lock    repository.CompletionLock  = session.NewMemoryLock()
		limiter repository.RateLimiter     = session.NewMemoryRateLimiter()
		locker  sched.Locker
	)
	if cfg.Redis.URL != "" {
		rc, err := red.NewClient(ctx, &cfg.Redis)
		if err != nil {
			return err
		}
		defer rc.Close()
		rl := red.NewLocker(rc)
		cache = red.NewLastResultCache(rc, cfg.Redis.TTL)
		lock = rl
		locker = rl
		limiter = red.NewRateLimiter(rc)
		logger.Info().Msg("redis enabled for result cache, completion lock and rate limiting")
	} else {
		logger.Info().Msg("redis not configured; using in-process cache, lock and rate limiter")
	}

	// ---- Repositories ----
	patients := pg.NewPatientRepo(pool)
	documents := pg.NewDocumentRepo(pool)
	creds := pg.NewCredentialRepo(pool, encSvc)
	tm := pg.NewTxManager(pool)

	// ---- Adapters ----
	providers := cfg.ProviderModels()
	agents := agent.NewDirectory(cfg.Agent, providers, logger)
	hub := push.NewHub(cfg.HTTP.AllowedOrigins, logger)
	renderer := render.NewPDFRenderer()

	if err := os.MkdirAll(cfg.Storage.DownloadDir, 0o755); err != nil {
		return err
	}

	// ---- Use cases ----
	registry := session.NewRegistry()
	pollers := worker.NewPool(ctx, cfg.Worker.MaxPollers, logger)
	pipeline := usecase.NewCompletionPipeline(patients, documents, tm, renderer, cfg.Storage.DownloadDir, logger)
	poller := usecase.NewSessionPoller(registry, cache, lock, pipeline, hub, logger)
	eligibilityUC := usecase.NewEligibilityUseCase(
		agents, creds, registry, cache, limiter,
		usecase.StartLimit{Limit: cfg.RateLimit.StartsPerWindow, Window: cfg.RateLimit.Window},
		poller, pollers, hub, cfg.Runtime.Dev, logger,
	)
	credentialUC := usecase.NewCredentialUseCase(creds, logger)

	auth := web.NewAuthManager(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	server := web.NewServer(cfg.HTTP, eligibilityUC, credentialUC, agents, hub, pool, auth, logger)

	for _, p := range providers {
		logger.Info().Str("provider", p.Key).Str("start_path", p.StartPath).Msg("provider registered")
	}

	// ---- Run group ----
	g, gctx := errgroup.WithContext(ctx)
	g.Go(server.Start)
	g.Go(func() error {
		return sched.NewDownloadSweeper(cfg.Storage.DownloadDir, cfg.Sweeper.Interval, cfg.Sweeper.MaxAge, locker, logger).Run(gctx)
	})
	g.Go(func() error {
		return sched.Every(gctx, 15*time.Second, func() { pg.ReportPoolStats(pool) })
	})
	g.Go(func() error {
		<-gctx.Done()
		return shutdown(cfg.HTTP.ShutdownTimeout, server, registry, pollers, hub, logger)
	})

	return g.Wait()
}

// shutdown stops accepting requests, cancels running pollers and waits for
// them within timeout.
func shutdown(timeout time.Duration, server *web.Server, registry *session.Registry, pollers *worker.Pool, hub *push.Hub, logger *zerolog.Logger) error {
	logger.Info().Msg("shutdown requested")
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var errs []error
	if err := server.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := registry.Shutdown(ctx); err != nil {
		logger.Warn().Err(err).Int("in_flight", registry.Len()).Msg("pollers did not stop in time")
		errs = append(errs, err)
	}
	if err := pollers.Wait(ctx); err != nil {
		errs = append(errs, err)
	}
	hub.Close()
	return errors.Join(errs...)
}
