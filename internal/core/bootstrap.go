package core

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"homevault/internal/activity"
	c "homevault/internal/cache"
	"homevault/internal/configuration"
	"homevault/internal/events"
	h "homevault/internal/helpers"
	m "homevault/internal/middlewares"
	"homevault/internal/models"
	"homevault/internal/notifier"
	"homevault/internal/otp"
	"homevault/internal/passkeys"
	"homevault/internal/services"
	"homevault/internal/workers"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

func CreateAdminUser(db *gorm.DB, config models.Configuration) {
	adminUser := models.User{
		DisplayName: "admin",
		Email:       config.App.AdminEmail,
		Role:        models.RoleAdmin,
	}

	hash, _ := h.CreateHash(config.App.AdminPassword)
	adminUser.HashedPassword = hash
	db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "email"}},
		TargetWhere: clause.Where{Exprs: []clause.Expression{
			clause.Eq{Column: "deleted_at", Value: nil},
		}},
		DoUpdates: clause.AssignmentColumns([]string{"hashed_password"}),
	}).Create(&adminUser)
}

func StartWorkers(
	profile models.Profile,
	eventsManager *EventsManager,
	db *gorm.DB,
	activityLogger activity.IActivityLogger,
	notify notifier.INotifier,
	config models.Configuration,
	cache c.ICache,
	appIdentity string,
) {
	eventParams := &events.EventParams{
		WebURL:   config.App.WebURL,
		Notifier: notify,
		DB:       db,
	}

	startWorker(profile.Workers.Notifications, "notifications", cache, appIdentity, func(_ context.Context) {
		notifications := eventsManager.GetSubscriber(configuration.EventsNotifications).Subscribe()
		events.HandleEvents(eventParams, notifications)
	})

	startWorker(profile.Workers.MethodCleanup, "method_cleanup", cache, appIdentity, func(ctx context.Context) {
		worker := &workers.MethodCleanupWorker{
			DB:             db,
			MaxAge:         workers.DefaultMaxAge(),
			RunInterval:    time.Hour,
			ActivityLogger: activityLogger,
		}
		worker.Start(ctx)
	})
}

func startWorker(
	mode models.WorkerMode,
	workerName string,
	cache c.ICache,
	appIdentity string,
	runWorker func(context.Context),
) {
	if mode == models.WorkerModeDisabled {
		return
	}

	if mode == models.WorkerModeSingleton {
		go startSingletonWorker(cache, appIdentity, workerName, runWorker)
	} else {
		go runWorker(context.Background())
		zap.L().Info("Started worker", zap.String("worker", workerName))
	}
}

func startSingletonWorker(cache c.ICache, instanceID string, workerName string, runWorker func(context.Context)) {
	lockKey := fmt.Sprintf(configuration.CacheAppWorkerLockKey, workerName)
	ticker := time.NewTicker(time.Duration(configuration.CacheAppWorkerLockRefresh) * time.Second)
	defer ticker.Stop()

	var workerStarted bool
	var cancelWorker context.CancelFunc

	for {
		if !workerStarted {
			acquired, err := cache.TryAcquireLock(lockKey, instanceID, configuration.CacheAppWorkerLockTTL)
			if err != nil {
				zap.L().Error("Failed to acquire worker lock", zap.String("worker", workerName), zap.Error(err))
			}

			if acquired {
				zap.L().Info("Acquired worker lock, starting worker", zap.String("worker", workerName))
				workerStarted = true
				var ctx context.Context
				ctx, cancelWorker = context.WithCancel(context.Background())
				go runWorker(ctx)
			}
		} else {
			refreshed, err := cache.RefreshLock(lockKey, instanceID, configuration.CacheAppWorkerLockTTL)
			if err != nil || !refreshed {
				zap.L().Warn("Lost worker lock, stopping worker", zap.String("worker", workerName))
				workerStarted = false
				if cancelWorker != nil {
					cancelWorker()
					cancelWorker = nil
				}
			}
		}

		<-ticker.C
	}
}

func StartHTTPServer(
	config models.Configuration,
	db *gorm.DB,
	cache c.ICache,
	activityLogger activity.IActivityLogger,
	notify notifier.INotifier,
	eventRouter *EventRouter,
) {
	m.InitValidator()

	r := chi.NewRouter()

	r.Use(middleware.Timeout(5 * time.Second))
	r.Use(m.Logger)
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   config.App.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "PUT", "DELETE"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	authConfig := config.App.GetAuthConfig()

	passkeyEngine, err := passkeys.NewEngine(config.App.WebURL, cache)
	if err != nil {
		zap.L().Fatal("Failed to initialize passkey engine", zap.Error(err))
	}

	emailOTP := otp.NewEngine(cache, notify, authConfig.MFAHashSalt)

	r.Route("/api", func(apiRouter chi.Router) {
		apiRouter.Use(m.Authenticate(authConfig.JWTSecret))
		apiRouter.Use(m.AudienceValidate)
		apiRouter.Use(m.MFAValidate(db))
		apiRouter.Use(m.RateLimit(cache, config.App.TrustedProxies))

		apiRouter.Mount("/v1/auth", services.AuthService{
			DB:             db,
			Cache:          cache,
			AuthConfig:     authConfig,
			Publisher:      eventRouter,
			ActivityLogger: activityLogger,
			Passkeys:       passkeyEngine,
		}.Routes())

		apiRouter.Mount("/v1/mfa", services.MFAService{
			DB:             db,
			Cache:          cache,
			AuthConfig:     authConfig,
			Publisher:      eventRouter,
			ActivityLogger: activityLogger,
			Passkeys:       passkeyEngine,
			EmailOTP:       emailOTP,
		}.Routes())

		apiRouter.Mount("/v1/users", services.UserService{
			DB: db,
		}.Routes())
	})

	zap.L().Info("HTTP server starting", zap.Int("port", config.App.Port))

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", config.App.Port),
		Handler:      otelhttp.NewHandler(r, "homevault"),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
		IdleTimeout:  5 * time.Second,
	}

	err = server.ListenAndServe()
	if err != nil {
		zap.L().Error("Failed to start the app", zap.Error(err))
	}
}
