package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"fintrack-auth/internal/config"
	"fintrack-auth/internal/domain"
	"fintrack-auth/internal/observability/logging"
	"fintrack-auth/internal/observability/metrics"
	impl "fintrack-auth/internal/service/impl"
	"fintrack-auth/internal/store"
	httpx "fintrack-auth/internal/transport/http"
	"fintrack-auth/pkg/db"

	"github.com/redis/go-redis/v9"
)

func main() {
	env := os.Getenv("ENVIRONMENT")
	if env == "" {
		env = "dev"
	}

	logger := logging.NewLogger(logging.Config{
		ServiceName: "auth",
		Environment: env,
		Level:       os.Getenv("LOG_LEVEL"),
	})
	slog.SetDefault(logger)

	logger.Info("starting service")

	cfg := config.Load()

	metrics.MustRegister("auth")

	gdb, err := db.OpenGorm(db.Config{DSN: cfg.DatabaseURL, LogSQL: cfg.LogSQL})
	if err != nil {
		logger.Error("gorm open", "error", err)
		os.Exit(1)
	}
	if err := gdb.AutoMigrate(
		&domain.User{},
		&domain.Session{},
		&domain.TwoFactorChallenge{},
		&domain.EmailConfirmation{},
	); err != nil {
		logger.Error("auto migrate", "error", err)
		os.Exit(1)
	}

	st := store.New(gdb)

	pw := impl.NewPasswordServiceArgon2id()
	ts := impl.NewTokenServiceHS256(impl.TokenConfig{
		Issuer:     cfg.Issuer,
		Audience:   cfg.Audience,
		AccessTTL:  cfg.AccessTTL,
		RefreshTTL: cfg.RefreshTTL,
		TempTTL:    cfg.TempTTL,
		SigningKey: []byte(cfg.SigningKey),
	})

	policy := impl.DefaultPolicy()
	policy.MaxLoginFailures = cfg.MaxLoginFailures
	policy.LockoutWindow = cfg.LockoutWindow
	policy.RefreshTTL = cfg.RefreshTTL
	policy.TwoFactorTTL = cfg.TempTTL

	as := impl.NewAuthServiceImpl(st, pw, ts, impl.LogCodeSender{}, policy)

	// The cross-client notifier rides redis; when it is configured, surface
	// its health on /healthz so a broken broadcast path shows up in readiness.
	var readyCheck func(ctx context.Context) error
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		readyCheck = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
		pingCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		if err := rdb.Ping(pingCtx).Err(); err != nil {
			logger.Warn("redis unreachable at startup", "addr", cfg.RedisAddr, "error", err)
		}
		cancel()
	}

	handler := httpx.NewRouter(as, ts, st.Sessions(), httpx.RouterConfig{
		CORSOrigins: cfg.CORSOrigins,
		TrustProxy:  cfg.TrustProxy,
		ReadyCheck:  readyCheck,
	})

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go sweepExpired(ctx, st, logger)

	go func() {
		slog.Info("auth service listening", "addr", srv.Addr, "issuer", cfg.Issuer)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown", "error", err)
	}
	logger.Info("stopped")
}

// sweepExpired periodically prunes dead registry rows and stale two-factor
// challenges. Revoked sessions are kept for a day so refresh reuse still hits
// a row instead of a miss.
func sweepExpired(ctx context.Context, st *store.Store, logger *slog.Logger) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		now := time.Now().UTC()
		if err := st.Sessions().DeleteExpired(ctx, now.Add(-24*time.Hour)); err != nil {
			logger.Warn("session sweep", "error", err)
		}
		if err := st.TwoFactor().DeleteExpired(ctx, now); err != nil {
			logger.Warn("two-factor sweep", "error", err)
		}
	}
}
