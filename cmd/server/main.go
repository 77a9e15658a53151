package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/srijan-bhandari07/Neighborhood-Help-Exchange/internal/chat"
	"github.com/srijan-bhandari07/Neighborhood-Help-Exchange/internal/config"
	"github.com/srijan-bhandari07/Neighborhood-Help-Exchange/internal/db"
	"github.com/srijan-bhandari07/Neighborhood-Help-Exchange/internal/event"
	"github.com/srijan-bhandari07/Neighborhood-Help-Exchange/internal/helppost"
	myMiddleware "github.com/srijan-bhandari07/Neighborhood-Help-Exchange/internal/middleware"
	"github.com/srijan-bhandari07/Neighborhood-Help-Exchange/internal/notification"
	"github.com/srijan-bhandari07/Neighborhood-Help-Exchange/internal/user"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger, err := newLogger(cfg)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server exited", zap.Error(err))
		os.Exit(1)
	}
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	zcfg := zap.NewDevelopmentConfig()
	if cfg.IsProduction() {
		zcfg = zap.NewProductionConfig()
	}
	level, err := zap.ParseAtomicLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	zcfg.Level = level
	return zcfg.Build()
}

// connectRedis returns nil when Redis is unreachable. The hub then delivers
// locally, which is correct for a single instance.
func connectRedis(ctx context.Context, addr string, log *zap.Logger) *redis.Client {
	if addr == "" {
		log.Info("redis disabled, delivering locally")
		return nil
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		log.Warn("redis unreachable, delivering locally", zap.String("addr", addr), zap.Error(err))
		client.Close()
		return nil
	}
	log.Info("connected to redis", zap.String("addr", addr))
	return client
}

func run(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
	// Platform
	database, err := db.NewDatabase(ctx, cfg.DBDSN)
	if err != nil {
		return err
	}
	defer database.Close()
	log.Info("connected to postgres")

	if err := database.AutoMigrate(ctx); err != nil {
		return err
	}
	log.Info("database schema initialized")

	redisClient := connectRedis(ctx, cfg.RedisAddr, log)
	if redisClient != nil {
		defer redisClient.Close()
	}

	// Realtime hub
	hub := chat.NewHub(redisClient, cfg.RedisChannel, log)
	go hub.Run(ctx)
	if redisClient != nil {
		go hub.SubscribeToRedis(ctx)
	}

	// Notifications and the event pipeline
	notifyRepo := notification.NewRepository(database.Conn)
	notifyService := notification.NewService(notifyRepo)
	dispatcher := event.NewDispatcher(log)

	// Chat
	chatService := chat.NewService(chat.NewRepository(database.Conn), dispatcher, hub, log)
	chatHandler := chat.NewHandler(hub, chatService, chat.Options{
		AllowedOrigins: cfg.AllowedOrigins,
		FrameRate:      rate.Limit(cfg.WSRateLimit),
		FrameBurst:     cfg.WSRateBurst,
	}, log)

	dispatcher.Register(event.NewMessageObserver(notifyService, hub, log))
	dispatcher.Register(event.NewHelpPostObserver(notifyService, hub, log))
	dispatcher.Register(event.NewSystemObserver(notifyService, hub, log))
	dispatcher.Register(event.NewConversationObserver(chatService))

	// Users and help posts
	userService := user.NewService(user.NewRepository(database.Conn), dispatcher, cfg.JWTSecret, cfg.JWTExpiry, log)
	userHandler := user.NewHandler(userService, log)
	helpService := helppost.NewService(helppost.NewRepository(database.Conn), dispatcher, hub, log)
	helpHandler := helppost.NewHandler(helpService, log)
	notifyHandler := notification.NewHandler(notifyService, log)

	authMiddleware := myMiddleware.NewAuthMiddleware(userService)
	authLimiter := myMiddleware.NewRateLimiter(rate.Limit(cfg.AuthRateLimit), cfg.AuthRateBurst)
	go authLimiter.Cleanup(ctx, time.Minute)

	// Background jobs
	scheduler := cron.New()
	purger := notification.NewPurger(notifyRepo, cfg.NotificationRetention, log)
	if _, err := purger.Schedule(ctx, scheduler, cfg.PurgeSchedule); err != nil {
		return err
	}
	scheduler.Start()
	defer scheduler.Stop()

	// Routes
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Public Routes
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := database.Conn.PingContext(r.Context()); err != nil {
			http.Error(w, "database unavailable", http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())
	r.Group(func(r chi.Router) {
		r.Use(authLimiter.Limit)
		r.Post("/register", userHandler.Register)
		r.Post("/login", userHandler.Login)
	})

	// Protected Routes (Require JWT)
	r.Group(func(r chi.Router) {
		r.Use(authMiddleware.Handle)
		r.Get("/api/users/search", userHandler.SearchUsers)
		r.Get("/api/users/me", userHandler.Me)

		r.Get("/ws", chatHandler.ServeWs)

		r.Route("/api/messages", chatHandler.Routes)
		r.Route("/api/notifications", notifyHandler.Routes)
		r.Route("/api/help", helpHandler.Routes)
	})

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("server starting", zap.String("addr", cfg.Addr), zap.String("env", cfg.AppEnv))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	log.Info("server stopped")
	return nil
}
