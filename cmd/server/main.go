package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/trustgate/trustgate/internal/config"
	"github.com/trustgate/trustgate/internal/crypto"
	"github.com/trustgate/trustgate/internal/database"
	"github.com/trustgate/trustgate/internal/handler"
	"github.com/trustgate/trustgate/internal/logger"
	"github.com/trustgate/trustgate/internal/middleware"
	"github.com/trustgate/trustgate/internal/repository"
	"github.com/trustgate/trustgate/internal/router"
	"github.com/trustgate/trustgate/internal/service"
	"github.com/trustgate/trustgate/internal/store"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.New(cfg.Log.Level, cfg.Log.Format)
	log.Info().Str("version", "0.1.0").Msg("starting TrustGate server")

	// Connect to PostgreSQL
	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()
	log.Info().Msg("connected to PostgreSQL")

	// Connect to Redis
	st, err := store.NewRedis(cfg.Redis)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to Redis")
	}
	defer st.Close()
	log.Info().Msg("connected to Redis")

	// Initialize crypto service
	totpParams := crypto.TOTPParams{
		Issuer: cfg.MFA.TOTP.Issuer,
		Digits: cfg.MFA.TOTP.Digits,
		Period: cfg.MFA.TOTP.Period,
		Skew:   cfg.MFA.TOTP.Skew,
	}
	var cryptoSvc *crypto.Service
	if cfg.Crypto.MasterKey == "" {
		cryptoSvc, err = crypto.NewEphemeral(totpParams)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to initialize crypto service")
		}
		log.Warn().Msg("crypto.master_key is not set; sealed secrets will not survive a restart")
	} else {
		cryptoSvc, err = crypto.New(cfg.Crypto.MasterKey, totpParams)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to initialize crypto service")
		}
	}

	// Initialize repositories
	mfaRepo := repository.NewMFARepository(st)
	webauthnRepo := repository.NewWebAuthnRepository(st)
	rbacRepo := repository.NewRBACRepository(st)
	threatRepo := repository.NewThreatRepository(st)
	eventRepo := repository.NewEventRepository(db, st)

	// Initialize MFA service
	mfaSvc, err := service.NewMFAService(mfaRepo, cryptoSvc, eventRepo, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize MFA service")
	}
	log.Info().Msg("MFA service initialized")

	// Initialize WebAuthn service
	webauthnSvc, err := service.NewWebAuthnService(webauthnRepo, eventRepo, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize WebAuthn service")
	}
	log.Info().Str("rp_id", cfg.WebAuthn.RPID).Msg("WebAuthn service initialized")

	// Initialize RBAC service
	rbacSvc := service.NewRBACService(rbacRepo, cryptoSvc, eventRepo, log)
	log.Info().Msg("RBAC service initialized")

	// Initialize threat detection service
	threatSvc := service.NewThreatService(threatRepo, cryptoSvc, eventRepo, cfg, log)
	log.Info().Msg("threat detection service initialized")

	// Initialize handlers
	h := handler.New(db, st, log, cfg, mfaSvc, webauthnSvc, rbacSvc, threatSvc)

	// Initialize middleware
	mw := middleware.New(st, log, cfg)

	// Set up router
	r := router.New(h, mw, log)

	// Create HTTP server
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info().Str("addr", addr).Bool("tls", cfg.Server.TLS.Enabled).Msg("HTTP server listening")
		var err error
		if cfg.Server.TLS.Enabled {
			err = srv.ListenAndServeTLS(cfg.Server.TLS.CertFile, cfg.Server.TLS.KeyFile)
		} else {
			err = srv.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server error")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server...")

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server stopped")
}
