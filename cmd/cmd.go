package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	ossignal "os/signal"
	"syscall"
	"time"

	"sync-pair-backend/internal/clock"
	"sync-pair-backend/internal/config"
	"sync-pair-backend/internal/echo"
	"sync-pair-backend/internal/handlers"
	"sync-pair-backend/internal/middleware"
	"sync-pair-backend/internal/mood"
	"sync-pair-backend/internal/pairing"
	"sync-pair-backend/internal/presence"
	"sync-pair-backend/internal/push"
	"sync-pair-backend/internal/repository"
	"sync-pair-backend/internal/services"
	"sync-pair-backend/internal/signal"
	"sync-pair-backend/internal/sos"
	"sync-pair-backend/internal/store"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func Run() {
	// Load configuration
	cfg, err := config.Load("config.yaml")
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	// Setup logger
	setupLogger(cfg.Log.Level)

	// Connect to database
	db, err := pgxpool.New(context.Background(), cfg.Database.DSN())
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()

	// Test database connection
	if err := db.Ping(context.Background()); err != nil {
		log.Fatal().Err(err).Msg("Failed to ping database")
	}
	log.Info().Msg("Database connection established")

	clk := clock.NewSystem()
	st := newStore(cfg, db)

	// Initialize repositories
	userRepo := repository.NewUserRepository(db)

	// Initialize push
	notifier := newNotifier(cfg)

	// Initialize services
	userService := services.NewUserService(userRepo, cfg.JWT.Secret)
	pairService := pairing.NewService(st, userRepo, clk)
	channel := signal.NewChannel(st, clk)
	tracker := presence.NewTracker(st, clk)
	echoService := echo.NewService(st, clk)
	moodService := mood.NewService(st, clk)
	wsHub := services.NewWSHub(channel, tracker, moodService, st, clk)

	reach := sos.NewHTTPReachability(cfg.SOS.ReachabilityURL, cfg.SOS.ReachabilityTimeoutOrDefault())
	launcher := sos.NewSchemeLauncher(cfg.SOS.CallSchemes, nil)

	// Initialize handlers
	userHandler := handlers.NewUserHandler(userService)
	pairHandler := handlers.NewPairHandler(pairService, wsHub)
	echoHandler := handlers.NewEchoHandler(echoService, userService)
	moodHandler := handlers.NewMoodHandler(moodService, userService)
	sosHandler := handlers.NewSOSHandler(st, userRepo, clk, reach, launcher, notifier, wsHub)
	wsHandler := handlers.NewWebSocketHandler(wsHub, userService, pairService)

	// Setup router
	r := chi.NewRouter()

	// Middleware
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(corsMiddleware)

	// Routes
	r.Route("/api/v1", func(r chi.Router) {
		// Public routes
		r.Post("/users", userHandler.CreateUser)

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(middleware.AuthMiddleware(userService))

			r.Put("/users/me/contact", userHandler.UpdateContact)
			r.Put("/users/me/push-token", userHandler.UpdatePushToken)
			r.Put("/users/me/one-tap-sos", userHandler.SetOneTapSOS)

			r.Post("/pairs", pairHandler.CreatePair)
			r.Delete("/pairs/{pair_key}", pairHandler.DeletePair)

			r.Post("/sos", sosHandler.TriggerSOS)
			r.Post("/sos/confirm", sosHandler.ConfirmSOS)
			r.Post("/sos/cancel", sosHandler.CancelSOS)
			r.Post("/sos/{sos_id}/respond", sosHandler.RespondSOS)

			r.Get("/echo/today", echoHandler.GetToday)
			r.Get("/echo/streak", echoHandler.GetStreak)
			r.Post("/echo/answer", echoHandler.SubmitAnswer)
			r.Post("/echo/reveal", echoHandler.Reveal)

			r.Post("/moods", moodHandler.SubmitMood)
		})
	})

	// WebSocket route
	r.Get("/ws", wsHandler.HandleWebSocket)

	// Create HTTP server
	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info().
			Str("host", cfg.Server.Host).
			Int("port", cfg.Server.Port).
			Msg("Starting server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server failed to start")
		}
	}()

	// Wait for interrupt signal for graceful shutdown
	quit := make(chan os.Signal, 1)
	ossignal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	// Shutdown HTTP server
	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server exited")
}

// newStore selects the document store backend. The memory backend gets the
// composite indexes the ordered queries expect; in Postgres those live in
// the schema, and dropping one exercises the unordered fallback path.
func newStore(cfg *config.Config, db *pgxpool.Pool) store.Store {
	if cfg.Store.Backend == "postgres" {
		return store.NewPostgres(db)
	}

	log.Warn().Msg("Using in-memory document store, data will not survive restarts")
	mem := store.NewMemory()
	mem.RegisterIndex(signal.Collection, []string{"to_user", "from_user", "kind"}, "client_timestamp")
	mem.RegisterIndex(sos.Collection, []string{"pair_key", "user_id", "responded"}, "timestamp")
	mem.RegisterIndex(mood.Collection, []string{"user_id", "pair_key"}, "created_at")
	return mem
}

func newNotifier(cfg *config.Config) push.Notifier {
	if !cfg.APNs.Enabled {
		log.Info().Msg("Push disabled")
		return push.Noop{}
	}
	notifier, err := push.NewAPNs(cfg.APNs.KeyPath, cfg.APNs.KeyID, cfg.APNs.TeamID, cfg.APNs.Topic, cfg.APNs.Production)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create APNs client")
	}
	return notifier
}

// setupLogger configures zerolog logger
func setupLogger(level string) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}

// corsMiddleware handles CORS
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
