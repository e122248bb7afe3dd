package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.uber.org/zap"

	"gardenhub/internal/auth"
	"gardenhub/internal/authflow"
	"gardenhub/internal/config"
	"gardenhub/internal/database"
	"gardenhub/internal/delivery"
	"gardenhub/internal/logging"
	"gardenhub/internal/metrics"
	"gardenhub/internal/server"
	"gardenhub/internal/verification"
)

const auditMaxLen = 200

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	logger, closeLog, err := logging.New(cfg)
	if err != nil {
		log.Fatalf("log setup error: %v", err)
	}
	defer closeLog()

	if err := run(cfg, logger); err != nil {
		logger.Error("server stopped", zap.Error(err))
		closeLog()
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metrics.Init()
	checks := map[string]server.HealthCheck{}

	redisClient, err := database.ConnectRedis(ctx, cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	defer redisClient.Close()
	checks["redis"] = func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }

	users, closeUsers, err := openUserStore(ctx, cfg, checks)
	if err != nil {
		return err
	}
	defer closeUsers()

	codeStore := openCodeStore(cfg, redisClient)
	coordinator := verification.NewCoordinator(codeStore, delivery.New(cfg, logger.Named("delivery")), logger)
	go verification.RunSweeper(ctx, codeStore, cfg.CodeSweepInterval, logger)

	sessions := &auth.SessionIssuer{
		Tokens:   auth.NewTokenManager(cfg.JWTSecret, cfg.SessionTTL),
		Sessions: &auth.SessionStore{Redis: redisClient},
	}
	rateLimiter := &auth.RateLimiter{Redis: redisClient}

	if cfg.NoEmailVerify {
		logger.Warn("email verification gate disabled, new accounts are verified at registration")
	}
	flow := authflow.New(authflow.Deps{
		Users:   users,
		Codes:   coordinator,
		Hasher:  auth.NewBcryptHasher(),
		Tokens:  sessions,
		TOTP:    auth.NewTOTPService(cfg.TOTPIssuer),
		Limiter: rateLimiter,
		Logger:  logger,
	}, !cfg.NoEmailVerify)

	api := server.NewServer(cfg, flow, sessions, rateLimiter, &auth.AuditLogger{Redis: redisClient, MaxLen: auditMaxLen}, logger)
	for name, check := range checks {
		api.HealthChecks[name] = check
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           api.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening",
			zap.String("addr", srv.Addr),
			zap.String("userStore", cfg.UserStore),
			zap.String("codeStore", cfg.CodeStore),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func openUserStore(ctx context.Context, cfg config.Config, checks map[string]server.HealthCheck) (auth.UserStore, func(), error) {
	switch cfg.UserStore {
	case config.UserStorePostgres:
		db, err := database.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("postgres: %w", err)
		}
		checks["postgres"] = db.Ping
		return auth.NewPostgresUserStore(db), db.Close, nil

	case config.UserStoreMongo:
		client, db, err := database.ConnectMongo(ctx, cfg.Mongo.URI, cfg.Mongo.Database)
		if err != nil {
			return nil, nil, err
		}
		store, err := auth.NewMongoUserStore(ctx, db)
		if err != nil {
			_ = client.Disconnect(context.Background())
			return nil, nil, fmt.Errorf("mongo user store: %w", err)
		}
		checks["mongo"] = func(ctx context.Context) error { return client.Ping(ctx, readpref.Primary()) }
		return store, func() { _ = client.Disconnect(context.Background()) }, nil

	default:
		return auth.NewMemoryUserStore(), func() {}, nil
	}
}

func openCodeStore(cfg config.Config, client *redis.Client) verification.Store {
	if cfg.CodeStore == config.CodeStoreRedis {
		return verification.NewRedisStore(client, "")
	}
	return verification.NewMemoryStore()
}
