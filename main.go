// main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/ariebrainware/physio-practice/assistant"
	"github.com/ariebrainware/physio-practice/config"
	"github.com/ariebrainware/physio-practice/endpoint"
	"github.com/ariebrainware/physio-practice/metrics"
	"github.com/ariebrainware/physio-practice/middleware"
	"github.com/ariebrainware/physio-practice/model"
	"github.com/ariebrainware/physio-practice/notify"
	"github.com/ariebrainware/physio-practice/report"
	"github.com/ariebrainware/physio-practice/sms"
	"github.com/ariebrainware/physio-practice/util"
	"github.com/ariebrainware/physio-practice/worker"
	"github.com/gin-gonic/gin"
)

func main() {
	// Load the configuration
	cfg := config.LoadConfig()
	logger := util.InitLogger(util.LogOptions{
		Level:   cfg.LogLevel,
		File:    cfg.LogFile,
		Console: cfg.AppEnv == "local",
		AppName: cfg.AppName,
	})
	if cfg.JWTSecret == "" {
		logger.Fatal().Msg("JWTSECRET is required")
	}
	util.SetJWTSecret(cfg.JWTSecret)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := config.ConnectMySQL()
	if err != nil {
		logger.Fatal().Err(err).Msg("error connecting to MySQL")
	}
	if err := db.AutoMigrate(model.All()...); err != nil {
		logger.Fatal().Err(err).Msg("auto migration failed")
	}
	if err := model.SeedRoles(db); err != nil {
		logger.Fatal().Err(err).Msg("seeding roles failed")
	}
	if cfg.AdminEmail != "" && cfg.AdminPassword != "" {
		if err := endpoint.EnsureAdmin(db, cfg.AdminName, cfg.AdminEmail, cfg.AdminPassword); err != nil {
			logger.Fatal().Err(err).Msg("bootstrapping admin account failed")
		}
	}

	util.SetAuditDB(db)
	util.SetAuditLogger(logger)
	if cfg.GeoIPDBPath != "" {
		if err := util.OpenGeoIP(cfg.GeoIPDBPath); err != nil {
			logger.Warn().Err(err).Msg("geoip lookups disabled")
		}
		defer util.CloseGeoIP()
	}

	rdb, err := config.ConnectRedis()
	if err != nil {
		logger.Warn().Err(err).Msg("redis unavailable, sessions and rate limits use the database only")
	}

	var reports report.Store = report.NewMemoryStore()
	mongoDB, err := config.ConnectMongo(ctx)
	switch {
	case err != nil:
		logger.Warn().Err(err).Msg("mongo unavailable, report versions are kept in memory")
	case mongoDB != nil:
		store := report.NewMongoStore(mongoDB)
		if err := store.EnsureIndexes(ctx); err != nil {
			logger.Fatal().Err(err).Msg("creating report indexes failed")
		}
		reports = store
	default:
		logger.Warn().Msg("MONGO_URI not set, report versions are kept in memory")
	}

	svc := &middleware.Services{
		Config:  cfg,
		Reports: reports,
		Assistant: assistant.New(assistant.Config{
			APIKey:  cfg.OpenAIKey,
			Model:   cfg.OpenAIModel,
			BaseURL: cfg.OpenAIBaseURL,
		}),
		Notify:   notify.NewHub(rdb),
		Metrics:  metrics.New(nil),
		Progress: util.NewMemo(10 * time.Minute),
	}
	if sender := sms.NewTwilioSender(sms.Config{
		AccountSID:    cfg.TwilioAccountSID,
		AuthToken:     cfg.TwilioAuthToken,
		From:          cfg.TwilioFrom,
		DefaultRegion: cfg.DefaultPhoneRegion,
	}); sender != nil {
		svc.SMS = sender
	}
	if rdb == nil {
		svc.RateCounter = middleware.NewMemoryCounter()
	}
	if err := svc.Notify.Start(ctx); err != nil {
		logger.Warn().Err(err).Msg("notification relay disabled, delivering in-process")
	}
	if sqlDB, err := db.DB(); err == nil {
		if err := svc.Metrics.RegisterDB(sqlDB, cfg.DBName); err != nil {
			logger.Warn().Err(err).Msg("db stats collector not registered")
		}
	}

	reminders := &worker.ReminderWorker{
		DB:       db,
		SMS:      svc.SMS,
		Hub:      svc.Notify,
		Metrics:  svc.Metrics,
		Logger:   logger.With().Str("component", "worker").Logger(),
		Lead:     cfg.ReminderLead,
		Interval: cfg.ReminderInterval,
	}
	go reminders.Start(ctx)

	// Set Gin mode from config
	gin.SetMode(cfg.GinMode)

	router := gin.New()
	router.Use(
		middleware.RequestID(),
		middleware.Logger(logger),
		middleware.Recovery(logger),
		middleware.CORSMiddleware(cfg.CORSOrigins),
		svc.Metrics.Middleware(),
		middleware.RequireAPIToken(cfg.APIToken),
		middleware.DatabaseMiddleware(db),
		middleware.ServicesMiddleware(svc),
		middleware.AuditTrail("/", "/metrics", "/notification/stream"),
	)
	endpoint.RegisterRoutes(router, cfg.AppName, svc.Metrics)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.AppPort),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("error starting server")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}
}
