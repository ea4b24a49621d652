package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/koshcoop/society-security/internal/core/port"
	"github.com/koshcoop/society-security/internal/infra/config"
	"github.com/koshcoop/society-security/internal/infra/database"
	kafkainfra "github.com/koshcoop/society-security/internal/infra/kafka"
	"github.com/koshcoop/society-security/internal/infra/logger"
	"github.com/koshcoop/society-security/internal/infra/notify"
	redisinfra "github.com/koshcoop/society-security/internal/infra/redis"
	"github.com/koshcoop/society-security/internal/infra/security"
	postgresrepo "github.com/koshcoop/society-security/internal/repository/postgres"
	redisrepo "github.com/koshcoop/society-security/internal/repository/redis"
	"github.com/koshcoop/society-security/internal/transport/http/middleware"
	"github.com/koshcoop/society-security/internal/transport/http/routes"
	"github.com/koshcoop/society-security/internal/usecase"
)

type Application struct {
	cfg      *config.AppConfig
	engine   *gin.Engine
	logger   *zap.Logger
	pool     *pgxpool.Pool
	redis    *redisinfra.Client
	producer *kafkainfra.Producer
	sessions *usecase.SessionService
}

func New(ctx context.Context, cfg *config.AppConfig) (*Application, error) {
	log, err := logger.New(cfg.App.Env)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	argonCfg := security.Argon2Config{
		Memory:      cfg.Argon2.Memory,
		Iterations:  cfg.Argon2.Iterations,
		Parallelism: cfg.Argon2.Parallelism,
		SaltLength:  cfg.Argon2.SaltLength,
		KeyLength:   cfg.Argon2.KeyLength,
	}
	if err := security.ConfigureArgon2(argonCfg); err != nil {
		return nil, fmt.Errorf("configure argon2: %w", err)
	}

	pool, err := database.NewPostgresPool(ctx, cfg.Postgres)
	if err != nil {
		return nil, fmt.Errorf("init postgres: %w", err)
	}

	redisClient, err := redisinfra.NewClient(ctx, cfg.Redis)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("init redis: %w", err)
	}

	tokenIssuer, err := security.NewTokenIssuer(cfg.JWT.Secret, cfg.App.Name, cfg.JWT.AccessTokenTTL)
	if err != nil {
		pool.Close()
		_ = redisClient.Close()
		return nil, fmt.Errorf("init token issuer: %w", err)
	}

	repos := postgresrepo.NewRepositories(pool)

	var producer *kafkainfra.Producer
	var eventPublisher port.EventPublisher
	if len(cfg.Kafka.Brokers) > 0 {
		producer, err = kafkainfra.NewProducer(cfg.Kafka, log)
		if err != nil {
			log.Warn("failed to init kafka producer, using stub publisher", zap.Error(err))
			eventPublisher = kafkainfra.NewStubPublisher(log)
		} else {
			eventPublisher = kafkainfra.NewEventPublisher(producer, cfg.App, log)
			log.Info("kafka event publisher initialized", zap.Strings("brokers", cfg.Kafka.Brokers))
		}
	} else {
		log.Info("kafka brokers not configured, using stub publisher")
		eventPublisher = kafkainfra.NewStubPublisher(log)
	}

	notifier := notify.NewGateway(cfg.Notify, log)

	rateLimitWindow := cfg.RateLimit.WindowDuration
	if rateLimitWindow <= 0 {
		rateLimitWindow = time.Minute
	}
	attemptStore := redisrepo.NewAttemptStore(redisClient.Raw(), cfg.Redis.RateLimitPrefix, rateLimitWindow*2)
	rateLimiter := middleware.NewRateLimiter(attemptStore, log)

	auditService := usecase.NewAuditService(repos.Audit, log)
	sessionService := usecase.NewSessionService(cfg.Session, repos.Sessions, eventPublisher, auditService, log)
	loginService := usecase.NewLoginService(cfg.Security, repos.Accounts, sessionService, auditService, notifier, eventPublisher, tokenIssuer, log)
	twoFactorService := usecase.NewTwoFactorService(cfg.Security, repos.Accounts, loginService, auditService, log)
	unlockService := usecase.NewUnlockService(cfg.Security, repos.Accounts, sessionService, auditService, notifier, eventPublisher, log)

	engine := routes.Register(routes.Dependencies{
		Config:      cfg,
		Logger:      log,
		RateLimiter: rateLimiter,
		TokenIssuer: tokenIssuer,
		Database:    pool,
		Cache:       redisClient,
		Services: routes.ServiceSet{
			Login:     loginService,
			TwoFactor: twoFactorService,
			Unlock:    unlockService,
			Sessions:  sessionService,
			Audit:     auditService,
		},
	})

	return &Application{
		cfg:      cfg,
		engine:   engine,
		logger:   log,
		pool:     pool,
		redis:    redisClient,
		producer: producer,
		sessions: sessionService,
	}, nil
}

func (a *Application) Run(ctx context.Context) error {
	defer func() {
		_ = a.logger.Sync()
	}()
	defer func() {
		if a.pool != nil {
			a.pool.Close()
		}
	}()
	defer func() {
		if a.redis != nil {
			_ = a.redis.Close()
		}
	}()
	defer func() {
		if a.producer != nil {
			_ = a.producer.Close()
		}
	}()

	sweepCtx, stopSweep := context.WithCancel(ctx)
	defer stopSweep()
	go a.runSessionSweeper(sweepCtx)

	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", a.cfg.App.Host, a.cfg.App.Port),
		Handler:           a.engine,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	a.logger.Info("starting account security API",
		zap.String("env", a.cfg.App.Env),
		zap.String("address", srv.Addr),
	)

	serverErrCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrCh <- fmt.Errorf("run server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		stopSweep()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown server: %w", err)
		}
		return nil
	case err := <-serverErrCh:
		return err
	}
}

// runSessionSweeper periodically expires idle sessions and purges old rows.
func (a *Application) runSessionSweeper(ctx context.Context) {
	interval := a.cfg.Session.SweepInterval
	if interval <= 0 {
		interval = 10 * time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sweepCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
			if _, _, err := a.sessions.Sweep(sweepCtx); err != nil {
				a.logger.Warn("session sweep failed", zap.Error(err))
			}
			cancel()
		}
	}
}
