package apiapp

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/antonkalach/jobdeck/backend/internal/config"
	"github.com/antonkalach/jobdeck/backend/internal/domain/enums"
	"github.com/antonkalach/jobdeck/backend/internal/infra/httpclient"
	"github.com/antonkalach/jobdeck/backend/internal/jobs/expiry"
	pgrepo "github.com/antonkalach/jobdeck/backend/internal/repo/postgres"
	redrepo "github.com/antonkalach/jobdeck/backend/internal/repo/redis"
	authsvc "github.com/antonkalach/jobdeck/backend/internal/services/auth"
	billingsvc "github.com/antonkalach/jobdeck/backend/internal/services/billing"
	catalogsvc "github.com/antonkalach/jobdeck/backend/internal/services/catalog"
	entsvc "github.com/antonkalach/jobdeck/backend/internal/services/entitlements"
	"github.com/antonkalach/jobdeck/backend/internal/services/receipts"
)

type App struct {
	cfg        config.Config
	logger     *zap.Logger
	server     *http.Server
	postgres   *pgxpool.Pool
	redis      *goredis.Client
	expiryJob  *expiry.Job
	httpRouter http.Handler
}

func New(ctx context.Context, cfg config.Config, log *zap.Logger) (*App, error) {
	if log == nil {
		return nil, fmt.Errorf("logger is nil")
	}

	r := chi.NewRouter()
	ApplyMiddlewares(r, log)

	var pool *pgxpool.Pool
	if p, err := pgrepo.NewPool(ctx, cfg.Postgres.DSN); err != nil {
		log.Warn("postgres init failed, continuing in degraded mode", zap.Error(err))
	} else {
		pool = p
	}

	redisClient := redrepo.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	replayRepo := redrepo.NewReplayRepo(redisClient)
	planRepo := pgrepo.NewPlanRepo(pool)
	productRepo := pgrepo.NewProductRepo(pool)
	entitlementRepo := pgrepo.NewEntitlementRepo(pool)
	jobPostRepo := pgrepo.NewJobPostRepo(pool)

	jwtManager := authsvc.NewJWTManager(cfg.Auth.JWTSecret, cfg.Auth.JWTAccessTTL)
	catalogService := catalogsvc.NewService(productRepo, planRepo)
	entitlementService := entsvc.NewService(entitlementRepo, jobPostRepo)
	billingService := billingsvc.NewService(billingsvc.Dependencies{
		Catalog:     catalogService,
		Verifiers:   buildVerifiers(cfg.Billing, log),
		Ledger:      entitlementRepo,
		JobPosts:    jobPostRepo,
		ReplayCache: replayRepo,
		Logger:      log,
	}, billingsvc.Config{
		VerifyTimeout:  cfg.Billing.VerifyTimeout,
		ReplayCacheTTL: cfg.Billing.ReplayCacheTTL,
	})
	expiryJob := expiry.New(entitlementRepo, log)

	server := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      r,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	RegisterRoutes(r, Dependencies{
		BillingService:     billingService,
		EntitlementService: entitlementService,
		JWTManager:         jwtManager,
		Logger:             log,
		Config:             cfg,
	})

	return &App{
		cfg:        cfg,
		logger:     log,
		server:     server,
		postgres:   pool,
		redis:      redisClient,
		expiryJob:  expiryJob,
		httpRouter: r,
	}, nil
}

func buildVerifiers(cfg config.BillingConfig, log *zap.Logger) map[enums.Platform]receipts.Verifier {
	if cfg.VerificationMode == config.VerificationModeAccept {
		accept := receipts.NewAcceptAllVerifier(log)
		return map[enums.Platform]receipts.Verifier{
			enums.PlatformIOS:     accept,
			enums.PlatformAndroid: accept,
		}
	}

	client := httpclient.New(cfg.VerifyTimeout)
	return map[enums.Platform]receipts.Verifier{
		enums.PlatformIOS:     receipts.NewAppleVerifier(cfg.AppleVerifyURL, client, log),
		enums.PlatformAndroid: receipts.NewGoogleVerifier(cfg.GoogleVerifyURL, client, log),
	}
}

func (a *App) Run() error {
	a.logger.Info("api server started", zap.String("addr", a.cfg.HTTP.Addr))
	err := a.server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// StartJobs launches background maintenance loops; they stop when ctx is
// cancelled.
func (a *App) StartJobs(ctx context.Context) {
	go a.expiryJob.Start(ctx, a.cfg.Billing.ExpirySweepPeriod)
}

func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error

	if err := a.server.Shutdown(ctx); err != nil {
		shutdownErr = err
	}
	if a.postgres != nil {
		a.postgres.Close()
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil && shutdownErr == nil {
			shutdownErr = err
		}
	}

	return shutdownErr
}

func (a *App) Handler() http.Handler {
	return a.httpRouter
}
