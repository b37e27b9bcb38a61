package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/joho/godotenv"

	"github.com/mailpool/mailpool/internal/api"
	"github.com/mailpool/mailpool/internal/apilog"
	"github.com/mailpool/mailpool/internal/auth"
	"github.com/mailpool/mailpool/internal/cache"
	"github.com/mailpool/mailpool/internal/config"
	"github.com/mailpool/mailpool/internal/crypto"
	"github.com/mailpool/mailpool/internal/mail"
	"github.com/mailpool/mailpool/internal/pool"
	"github.com/mailpool/mailpool/internal/ratelimit"
	"github.com/mailpool/mailpool/internal/storage"
	"github.com/mailpool/mailpool/pkg/logger"
)

func main() {
	// Env files exist locally; production relies on system env vars.
	_ = godotenv.Load(".env.local")
	_ = godotenv.Load()

	cfg := config.Load()

	log := logger.Setup(cfg.Env)
	log.Info("application_startup", "env", cfg.Env)

	if err := cfg.Validate(); err != nil {
		log.Error("config_invalid", "error", err)
		os.Exit(1)
	}

	if cfg.SentryDSN != "" {
		err := sentry.Init(sentry.ClientOptions{
			Dsn:              cfg.SentryDSN,
			TracesSampleRate: 1.0,
			Environment:      cfg.Env,
		})
		if err != nil {
			log.Error("sentry_init_failed", "error", err)
		} else {
			defer sentry.Flush(2 * time.Second)
			log.Info("sentry_initialized")
		}
	}

	ctx := context.Background()

	db, err := storage.NewPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Error("database_connect_failed", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	log.Info("database_connected")

	store := storage.New(db)

	// Shared counters and token caches live in Redis when available; the
	// in-process fallback is per-process only.
	var kv cache.KV
	if cfg.RedisURL != "" {
		redis, err := cache.NewRedis(ctx, cfg.RedisURL)
		if err != nil {
			log.Error("redis_connect_failed", "error", err)
			os.Exit(1)
		}
		defer redis.Close()
		kv = redis
		log.Info("cache_backend_selected", "backend", "redis")
	} else {
		kv = cache.NewMemory()
		log.Warn("cache_backend_selected", "backend", "memory",
			"details", "rate limits and token caches are per-process")
	}

	box, err := crypto.NewSecretBox(cfg.EncryptionKey)
	if err != nil {
		log.Error("encryption_key_invalid", "error", err)
		os.Exit(1)
	}

	hasher := auth.NewBcryptHasher()
	tokens := auth.NewJWTProvider(cfg.JWTSecret, cfg.JWTExpiresIn)
	totp := auth.NewTOTPService("MailPool")
	guard := auth.NewLoginGuard(kv, cfg.AdminLoginMaxAttempts, cfg.AdminLoginLockWindow)

	if err := bootstrapAdmin(ctx, store, hasher, cfg, log); err != nil {
		log.Error("admin_bootstrap_failed", "error", err)
		os.Exit(1)
	}

	broker := mail.NewTokenBroker(kv)
	engine := mail.NewOrchestrator(broker, mail.NewGraphClient(), mail.NewIMAPClient(), store)

	allocator := pool.NewAllocator(db, store)
	recorder := apilog.NewRecorder(store, log)
	limiter := ratelimit.New(kv)

	external := api.NewExternalHandler(allocator, store, engine, box, recorder)
	admin := api.NewAdminHandler(api.AdminHandlerDeps{
		Store:           store,
		Assignments:     allocator,
		Hasher:          hasher,
		TOTP:            totp,
		Tokens:          tokens,
		Guard:           guard,
		Box:             box,
		Logger:          log,
		Legacy2FASecret: cfg.Admin2FASecret,
		TOTPWindow:      cfg.Admin2FAWindow,
	})

	server := api.NewServer(api.ServerDeps{
		Config:   &cfg,
		Store:    store,
		External: external,
		Admin:    admin,
		Limiter:  limiter,
		Tokens:   tokens,
		Logger:   log,
	})

	retentionCtx, stopRetention := context.WithCancel(ctx)
	retention := apilog.NewRetentionJob(store, log, cfg.LogRetentionDays, cfg.LogCleanupInterval)
	go retention.Run(retentionCtx)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      server.Router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		log.Info("server_listening", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrors <- err
		}
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		log.Error("server_startup_failed", "error", err)
		os.Exit(1)

	case sig := <-shutdown:
		log.Info("shutdown_signal_received", "signal", sig)
		stopRetention()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("graceful_shutdown_failed", "error", err)
			if err := srv.Close(); err != nil {
				log.Error("server_force_close_failed", "error", err)
			}
		}

		db.Close()
		log.Info("server_shutdown_complete")
	}
}

// bootstrapAdmin seeds the first super admin on an empty deployment.
func bootstrapAdmin(ctx context.Context, store *storage.Store, hasher auth.PasswordHasher, cfg config.Config, log *slog.Logger) error {
	count, err := store.CountAdmins(ctx)
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	hash, err := hasher.Hash(cfg.AdminPassword)
	if err != nil {
		return err
	}
	admin, err := store.CreateAdmin(ctx, cfg.AdminUsername, hash, nil, storage.RoleSuperAdmin)
	if err != nil {
		return err
	}
	log.Info("admin_bootstrapped", "admin_id", admin.ID, "username", admin.Username)
	return nil
}
