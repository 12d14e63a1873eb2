package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"taskboard/api/internal/app"
	"taskboard/api/internal/attachment"
	"taskboard/api/internal/auth"
	"taskboard/api/internal/config"
	"taskboard/api/internal/dispatch"
	"taskboard/api/internal/email"
	"taskboard/api/internal/notify"
	"taskboard/api/internal/realtime"
	"taskboard/api/internal/search"
	"taskboard/api/internal/session"
	"taskboard/api/internal/store"
)

type backingStore interface {
	app.Store
	search.TaskFinder
}

func newLogger(level string) *log.Logger {
	logger := log.New()
	logger.SetFormatter(&log.JSONFormatter{})
	logger.SetOutput(os.Stdout)
	lvl, err := log.ParseLevel(level)
	if err != nil {
		logger.WithField("level", level).Warn("unknown log level, using info")
		lvl = log.InfoLevel
	}
	logger.SetLevel(lvl)
	return logger
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := newLogger(cfg.LogLevel)
	ctx := context.Background()

	var dataStore backingStore
	if strings.TrimSpace(cfg.DatabaseURL) != "" {
		db, err := store.Open(ctx, cfg.DatabaseURL, store.PoolConfig{MaxOpen: cfg.DBMaxConns, MaxIdle: cfg.DBIdleConns})
		if err != nil {
			logger.WithError(err).Fatal("database connection failed")
		}
		defer db.Close()
		if err := store.ApplyMigrations(ctx, db, logger); err != nil {
			logger.WithError(err).Fatal("migrations failed")
		}
		dataStore = store.NewPostgresStore(db)
	} else {
		logger.Warn("DATABASE_URL not set, using in-memory store")
		dataStore = store.NewMemoryStore()
	}

	var checks []app.Check
	var revocations auth.RevocationChecker
	var revoker *session.Denylist
	if strings.TrimSpace(cfg.RedisURL) != "" {
		denylist, err := session.NewDenylist(cfg.RedisURL)
		if err != nil {
			logger.WithError(err).Fatal("redis connection failed")
		}
		defer denylist.Close()
		revocations, revoker = denylist, denylist
		checks = append(checks, app.Check{Name: "redis", Ping: denylist.Ping})
	}
	gate := auth.NewGate([]byte(cfg.JWTSecret), dataStore, revocations)

	invites, err := auth.NewInviteSigner([]byte(cfg.InviteSecret), cfg.InviteTTL)
	if err != nil {
		logger.WithError(err).Fatal("invite signer")
	}

	mailer := email.NewService(email.Config{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
		FromName: cfg.SMTPFromName,
		BaseURL:  cfg.ClientURL,
	})
	if !mailer.IsConfigured() {
		logger.Info("SMTP not configured, emails disabled")
	}
	queue := dispatch.NewQueue(cfg.EmailQueueSize, logger)
	pool := dispatch.NewPool(queue, dispatch.PoolConfig{WorkerCount: cfg.EmailWorkers, JobTimeout: 30 * time.Second}, logger)
	pool.Start()

	hub := realtime.NewHub(64, logger)
	notifier := notify.NewEngine(dataStore, hub, mailer, queue, logger)

	var index search.Index
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meili := search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, logger)
		defer meili.Close()
		index = meili
	}
	searchService := search.NewService(index, search.NewStoreSearcher(dataStore), logger)

	deps := app.Deps{
		Store:    dataStore,
		Hub:      hub,
		Notifier: notifier,
		Invites:  invites,
		Gate:     gate,
		Mailer:   mailer,
		Search:   searchService,
		Checks:   checks,
		Logger:   logger,
	}
	if revoker != nil {
		deps.Revoker = revoker
	}
	if cfg.StorageEnabled() {
		attachments, err := attachment.New(attachment.Config{
			Endpoint:  cfg.S3Endpoint,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			Bucket:    cfg.S3Bucket,
			Region:    cfg.S3Region,
			UseSSL:    cfg.S3UseSSL,
		}, logger)
		if err != nil {
			logger.WithError(err).Fatal("attachment storage")
		}
		if err := attachments.EnsureBucket(ctx); err != nil {
			logger.WithError(err).Warn("attachment bucket check failed")
		}
		deps.Attachments = attachments
	}

	service, err := app.New(cfg, deps)
	if err != nil {
		logger.WithError(err).Fatal("service init failed")
	}

	reminderCtx, stopReminders := context.WithCancel(ctx)
	defer stopReminders()
	go service.RunReminders(reminderCtx, cfg.ReminderInterval)

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           app.NewHTTPServer(service, hub, cfg.CORSOrigin, logger).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.WithField("addr", cfg.Addr).Info("taskboard API listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("server failed")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	stopReminders()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("shutdown error")
	}
	pool.Stop(shutdownCtx)
}
