// Command storefront runs the analytics collector and customer API the
// craft shop storefront talks to.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"craftshop/storefront/config"
	"craftshop/storefront/database"
	"craftshop/storefront/handlers"
	"craftshop/storefront/logging"
	"craftshop/storefront/middleware"
	"craftshop/storefront/store"
	"craftshop/storefront/utils"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to load configuration")
	}

	logging.Init(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})
	if cfg.Server.GinMode != "" {
		gin.SetMode(cfg.Server.GinMode)
	}
	if cfg.Auth.JWTSecret == "" {
		logging.Warn().Msg("JWT secret is not set; customer login is disabled")
	}

	dbClient, err := database.NewPostgresDB(cfg.Postgres)
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to initialize PostgreSQL")
	}
	defer dbClient.Close()

	chClient, err := database.NewClickHouseDB(cfg.ClickHouse)
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to initialize ClickHouse")
	}
	defer chClient.Close()

	userStore := store.NewUserStore(dbClient.DB)
	analyticsStore := store.NewAnalyticsStore(chClient)

	schemaCtx, cancelSchema := context.WithTimeout(context.Background(), 30*time.Second)
	if err := userStore.EnsureSchema(schemaCtx); err != nil {
		logging.Fatal().Err(err).Msg("failed to prepare users schema")
	}
	if err := analyticsStore.EnsureSchema(schemaCtx); err != nil {
		logging.Fatal().Err(err).Msg("failed to prepare analytics schema")
	}
	cancelSchema()

	tokens := utils.NewTokenIssuer(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL, cfg.Auth.Issuer)
	auth := handlers.NewAuthHandlers(userStore, tokens)
	auth.SecureCookie = gin.Mode() == gin.ReleaseMode

	r := handlers.NewRouter(handlers.RouterConfig{
		Analytics:   handlers.NewAnalyticsHandlers(analyticsStore, analyticsStore),
		Auth:        auth,
		Settings:    handlers.NewSettingsHandlers(cfg.Store.Settings()),
		Tokens:      tokens,
		APIKey:      cfg.Auth.APIKey,
		CORSOrigin:  cfg.Server.CORSOrigin,
		RateLimiter: middleware.NewRateLimiter(cfg.Server.RateLimitRPS, cfg.Server.RateLimitBurst),
	})

	srv := &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.Server.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logging.Info().Str("addr", srv.Addr).Msg("storefront API listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Fatal().Err(err).Msg("server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logging.Info().Msg("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logging.Error().Err(err).Msg("server forced to shutdown")
	}

	logging.Info().Msg("server exited")
}
