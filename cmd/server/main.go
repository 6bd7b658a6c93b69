package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/Jonnhyortega/controlia-software-sub000/internal/businessday"
	"github.com/Jonnhyortega/controlia-software-sub000/internal/cache"
	"github.com/Jonnhyortega/controlia-software-sub000/internal/config"
	"github.com/Jonnhyortega/controlia-software-sub000/internal/httpapi"
	"github.com/Jonnhyortega/controlia-software-sub000/internal/logger"
	"github.com/Jonnhyortega/controlia-software-sub000/internal/service"
	"github.com/Jonnhyortega/controlia-software-sub000/internal/store"
	"github.com/Jonnhyortega/controlia-software-sub000/internal/store/memory"
	pgstore "github.com/Jonnhyortega/controlia-software-sub000/internal/store/postgres"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "failed to read .env: %v\n", err)
	}

	cfg := config.Load()
	log := logger.New(cfg.LogLevel, os.Stdout)
	if err := validateConfig(cfg); err != nil {
		log.Error("[server] invalid configuration", err, nil)
		os.Exit(1)
	}
	days, err := businessday.FromMinutes(cfg.BusinessUTCOffsetMinutes)
	if err != nil {
		log.Error("[server] invalid business day offset", err, nil)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var repo store.Repository
	closers := make([]func() error, 0, 2)

	if cfg.DatabaseURL != "" {
		pg, err := pgstore.New(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Error("[server] postgres unavailable and DATABASE_URL is set; refusing to start with in-memory fallback", err, nil)
			os.Exit(1)
		}
		if cfg.DBAutoMigrate {
			if err := pg.Migrate(ctx, "up"); err != nil {
				log.Error("[server] migrations failed", err, nil)
				os.Exit(1)
			}
		}
		repo = pg
		closers = append(closers, pg.Close)
		log.Info("[server] repository: postgres", nil)
	} else {
		repo = memory.NewSeeded(log)
		log.Info("[server] repository: in-memory", logger.Fields{"demo_owner": memory.DemoOwnerID})
	}

	opts := []service.Option{}
	if cfg.RedisAddr != "" {
		redisCache := cache.NewRedisRegisterCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := redisCache.Ping(ctx); err != nil {
			log.Warn("[server] redis unavailable, using noop cache", logger.Fields{"error": err.Error()})
		} else {
			opts = append(opts, service.WithRegisterCache(redisCache, time.Duration(cfg.RegisterCacheTTLSeconds)*time.Second))
			closers = append(closers, redisCache.Close)
			log.Info("[server] cache: redis", logger.Fields{"addr": cfg.RedisAddr})
		}
	} else {
		log.Info("[server] cache: noop", nil)
	}

	svc := service.New(repo, days, log, opts...)
	auth := httpapi.NewAuthManager(ctx, cfg.AuthSecret, time.Duration(cfg.AccessTokenTTLMinutes)*time.Minute, repo, log)
	if cfg.DatabaseURL != "" && cfg.SeedOwnerPassword != "" {
		if _, err := auth.EnsureOwner(ctx, cfg.SeedOwnerUsername, cfg.SeedOwnerPassword); err != nil {
			log.Error("[server] failed to bootstrap owner account", err, logger.Fields{"username": cfg.SeedOwnerUsername})
			os.Exit(1)
		}
	}
	api := httpapi.New(svc, auth, cfg.AllowedOrigin, log)

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("[server] listening", logger.Fields{
			"addr":               cfg.Address(),
			"utc_offset_minutes": cfg.BusinessUTCOffsetMinutes,
		})
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("[server] server error", err, nil)
			os.Exit(1)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("[server] shutdown error", err, nil)
	}

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			log.Error("[server] close error", err, nil)
		}
	}

	log.Info("[server] stopped", nil)
}

func validateConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	if cfg.BusinessUTCOffsetMinutes < -14*60 || cfg.BusinessUTCOffsetMinutes > 14*60 {
		return fmt.Errorf("BUSINESS_UTC_OFFSET_MINUTES must be between -840 and 840, got %d", cfg.BusinessUTCOffsetMinutes)
	}
	if cfg.DatabaseURL != "" && cfg.SeedOwnerPassword != "" && len(cfg.SeedOwnerPassword) < 8 {
		return fmt.Errorf("SEED_OWNER_PASSWORD must be at least 8 characters")
	}
	return nil
}
