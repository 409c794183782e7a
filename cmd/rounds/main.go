// Command rounds runs the CloudRounds API server: the purpose registry,
// access-request engine, calendar, and the supporting health/metrics
// endpoint.
package main

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/cloudrounds/rounds/pkg/api"
	"github.com/cloudrounds/rounds/pkg/articles"
	"github.com/cloudrounds/rounds/pkg/audit"
	"github.com/cloudrounds/rounds/pkg/auth"
	"github.com/cloudrounds/rounds/pkg/config"
	"github.com/cloudrounds/rounds/pkg/feedback"
	"github.com/cloudrounds/rounds/pkg/middleware"
	"github.com/cloudrounds/rounds/pkg/notify"
	"github.com/cloudrounds/rounds/pkg/observability"
	"github.com/cloudrounds/rounds/pkg/purposes"
	"github.com/cloudrounds/rounds/pkg/requests"
	"github.com/cloudrounds/rounds/pkg/sso"
	"github.com/cloudrounds/rounds/pkg/storage"
	"github.com/cloudrounds/rounds/pkg/users"
)

func main() {
	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})

	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("Failed to load configuration")
	}

	level := observability.ParseLogLevel(cfg.Observability.LogLevel)
	obsLog := observability.NewLogger(level, os.Stdout)

	db, err := storage.Open(cfg.Database)
	if err != nil {
		log.WithError(err).Fatal("Failed to open database")
	}
	defer db.Close()
	log.WithField("driver", cfg.Database.Driver).Info("Database ready")

	metrics := observability.NewMetrics(nil)

	ctx := context.Background()
	var otelProviders *observability.OTelProviders
	if cfg.Observability.OTelEnabled {
		otelProviders, err = observability.InitOTel(ctx, observability.OTelConfig{
			Enabled:        true,
			Endpoint:       cfg.Observability.OTelEndpoint,
			ServiceName:    cfg.Observability.OTelServiceName,
			ServiceVersion: cfg.Observability.OTelServiceVersion,
			Insecure:       cfg.Observability.OTelInsecure,
		}, obsLog)
		if err != nil {
			log.WithError(err).Fatal("Failed to initialize OpenTelemetry")
		}
	}

	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			log.WithError(err).Warn("Redis unreachable at startup, rate limiting degrades to fail-open")
		}
	}

	// Outbound mail. Without SMTP the dispatcher swallows messages.
	var notifier notify.Notifier = notify.NopNotifier{}
	if cfg.SMTP.Enabled {
		notifier, err = notify.NewSMTPNotifier(notify.SMTPConfig{
			Host:     cfg.SMTP.Host,
			Port:     cfg.SMTP.Port,
			From:     cfg.SMTP.From,
			Username: cfg.SMTP.Username,
			Password: cfg.SMTP.Password,
		})
		if err != nil {
			log.WithError(err).Fatal("Invalid SMTP configuration")
		}
	}
	dispatcher := notify.NewDispatcher(notifier, 256, 2, logrus.NewEntry(log), metrics)

	// Core domain wiring. The registry invalidates the checker's
	// decision cache on every membership change.
	checker := purposes.NewChecker(db, purposes.DefaultCacheSize, purposes.DefaultCacheTTL, metrics)
	registry := purposes.NewRegistry(db, checker)
	authStore := auth.NewStore(db)
	userSvc := users.NewService(db, authStore)
	articleSvc := articles.NewService(db, registry)
	feedbackSvc := feedback.NewService(db)
	requestSvc := requests.NewService(db, registry, dispatcher, requests.Config{
		AllowDuplicatePending: cfg.Policy.AllowDuplicatePending,
	}, metrics)

	auditLogger, err := audit.NewDBLogger(db)
	if err != nil {
		log.WithError(err).Fatal("Failed to initialize audit logger")
	}

	var ssoHandlers *sso.Handlers
	if cfg.OIDC.Enabled {
		provider, err := sso.NewOIDCProvider(ctx, cfg.OIDC)
		if err != nil {
			log.WithError(err).Fatal("Failed to initialize OIDC provider")
		}
		provisioner := sso.NewProvisioner(db, authStore)
		ssoHandlers = sso.NewHandlers(provider, provisioner, auditLogger, true)
		log.WithField("issuer", cfg.OIDC.IssuerURL).Info("SSO enabled")
	}

	var rateLimit func(http.Handler) http.Handler
	if redisClient != nil {
		rateLimit = middleware.NewDistributedRateLimitMiddleware(redisClient).Handler
	} else {
		rl := middleware.NewRateLimitMiddleware()
		rateLimit = rl.Handler
	}

	server := api.NewServer(api.Deps{
		Config:    cfg,
		Metrics:   metrics,
		Auth:      middleware.NewAuthMiddleware(authStore, false),
		RateLimit: rateLimit,
		Users:     users.NewHandlers(userSvc, authStore, registry, dispatcher, auditLogger),
		Purposes:  purposes.NewHandlers(registry, checker, auditLogger),
		Requests:  requests.NewHandlers(requestSvc, checker, auditLogger),
		Articles:  articles.NewHandlers(articleSvc, checker, auditLogger),
		Feedback:  feedback.NewHandlers(feedbackSvc, articleSvc, checker, auditLogger),
		Audit:     audit.NewHandlers(auditLogger),
		SSO:       ssoHandlers,
	})

	// Background repair loop for approved requests whose membership
	// grant failed at resolve time.
	reconciler := requests.NewReconciler(db, registry, obsLog, metrics)
	if err := reconciler.Start(cfg.Policy.ReconcileInterval); err != nil {
		log.WithError(err).Fatal("Failed to start grant reconciler")
	}

	// Audit retention runs daily.
	retention := cron.New()
	if cfg.Policy.AuditRetention > 0 {
		_, err := retention.AddFunc("@daily", func() {
			cutoff := time.Now().Add(-cfg.Policy.AuditRetention)
			n, err := auditLogger.DeleteOlderThan(context.Background(), cutoff)
			if err != nil {
				log.WithError(err).Error("Audit retention sweep failed")
				return
			}
			log.WithField("deleted", n).Info("Audit retention sweep complete")
		})
		if err != nil {
			log.WithError(err).Fatal("Failed to schedule audit retention")
		}
		retention.Start()
	}

	apiServer := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:      server.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	health := observability.NewHealthChecker(db, redisClient)
	healthRouter := mux.NewRouter()
	healthRouter.HandleFunc("/healthz", health.Liveness).Methods("GET")
	healthRouter.HandleFunc("/readyz", health.Readiness).Methods("GET")
	if cfg.Observability.MetricsEnabled {
		healthRouter.Handle("/metrics", metrics.Handler()).Methods("GET")
	}
	healthServer := &http.Server{
		Addr:    cfg.Server.Host + ":" + cfg.Server.HealthPort,
		Handler: healthRouter,
	}

	shutdown := observability.NewShutdownManager(obsLog, apiServer, cfg.Server.ShutdownTimeout)
	shutdown.RegisterShutdownFunc(healthServer.Shutdown)
	shutdown.RegisterShutdownFunc(func(context.Context) error {
		reconciler.Stop()
		retention.Stop()
		dispatcher.Stop()
		return nil
	})
	if redisClient != nil {
		shutdown.RegisterShutdownFunc(func(context.Context) error { return redisClient.Close() })
	}
	if otelProviders != nil {
		shutdown.RegisterShutdownFunc(otelProviders.Shutdown)
	}

	g, _ := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.WithField("addr", apiServer.Addr).Info("API server listening")
		if err := apiServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		log.WithField("addr", healthServer.Addr).Info("Health server listening")
		if err := healthServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(shutdown.WaitForShutdown)

	if err := g.Wait(); err != nil {
		log.WithError(err).Fatal("Server exited with error")
	}
}
