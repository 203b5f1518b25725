package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/kitabu/swapcycle/config"
	"github.com/kitabu/swapcycle/internal/handler"
	"github.com/kitabu/swapcycle/internal/middleware"
	"github.com/kitabu/swapcycle/internal/repository"
	"github.com/kitabu/swapcycle/internal/service"
	"github.com/kitabu/swapcycle/pkg/cache"
	"github.com/kitabu/swapcycle/pkg/db"
)

func main() {
	// ── Load configuration ──────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	ctx := context.Background()

	// ── Connect to PostgreSQL ───────────────────────────
	pgPool, err := db.NewPostgresPool(ctx, cfg.Postgres)
	if err != nil {
		log.Fatalf("failed to connect to PostgreSQL: %v", err)
	}
	defer pgPool.Close()
	log.Println("✓ PostgreSQL connected")

	// ── Connect to Redis ────────────────────────────────
	redisClient, err := cache.NewRedisClient(ctx, cfg.Redis)
	if err != nil {
		log.Fatalf("failed to connect to Redis: %v", err)
	}
	defer redisClient.Close()
	log.Println("✓ Redis connected")

	// ── Initialize layers ───────────────────────────────
	listingRepo := repository.NewListingRepository(pgPool)
	cycleRepo := repository.NewCycleRepository(pgPool)
	reliabilityRepo := repository.NewReliabilityRepository(pgPool)
	dropPointRepo := repository.NewDropPointRepository(pgPool)
	notificationRepo := repository.NewNotificationRepository(pgPool)
	cycleViewRepo := repository.NewCycleViewRepository(pgPool, redisClient)

	graphBuilder := service.NewGraphBuilder(listingRepo)
	dropPointSel := service.NewDropPointSelector(dropPointRepo)
	detector := service.NewDetector(
		graphBuilder, cycleRepo, reliabilityRepo, dropPointSel, notificationRepo,
		cfg.Matching.ConfirmationWindow, cfg.Matching.CompletionWindow,
	)
	lifecycle := service.NewLifecycle(cycleRepo, reliabilityRepo, notificationRepo, cycleViewRepo)

	runner := service.NewJobRunner(
		detector, lifecycle,
		cfg.Matching.DetectInterval, cfg.Matching.SweepInterval,
		cfg.Matching.MaxCycleSize, cfg.Matching.TopN,
	)
	runner.Start(ctx)

	detectHandler := handler.NewDetectHandler(runner)
	cycleHandler := handler.NewCycleHandler(lifecycle, cycleViewRepo)

	// ── Setup router ────────────────────────────────────
	router := mux.NewRouter()
	router.Use(middleware.RequestLogger, middleware.Recoverer)

	// Health check endpoint.
	router.HandleFunc("/health", healthHandler(pgPool, redisClient)).Methods(http.MethodGet)

	// API v1 routes.
	api := router.PathPrefix("/api/v1").Subrouter()
	// Detection trigger (also runs on the internal schedule)
	api.HandleFunc("/swaps/detect", detectHandler.RunDetection).Methods(http.MethodPost)
	// Cycle read model and lifecycle actions
	api.HandleFunc("/cycles/{id}", cycleHandler.GetCycle).Methods(http.MethodGet)
	api.HandleFunc("/cycles/{id}/confirm", cycleHandler.Confirm).Methods(http.MethodPost)
	api.HandleFunc("/cycles/{id}/dropoff", cycleHandler.DropOff).Methods(http.MethodPost)
	api.HandleFunc("/cycles/{id}/collect", cycleHandler.Collect).Methods(http.MethodPost)
	api.HandleFunc("/cycles/{id}/cancel", cycleHandler.Cancel).Methods(http.MethodPost)
	api.HandleFunc("/cycles/{id}/report-condition", cycleHandler.ReportCondition).Methods(http.MethodPost)

	// Wrap with CORS so browser clients can call the API.
	root := middleware.CORS(router)

	// ── Start HTTP server ───────────────────────────────
	srv := &http.Server{
		Addr:         cfg.Server.ServerAddr(),
		Handler:      root,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start in a goroutine so we can listen for shutdown signals.
	go func() {
		log.Printf("🚀 Server listening on %s", cfg.Server.ServerAddr())
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	// ── Graceful shutdown ───────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("⏳ Shutting down server...")

	// Stop background jobs first so no detection run is cut off mid-save.
	runner.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("server forced to shutdown: %v", err)
	}

	log.Println("✅ Server gracefully stopped")
}

// HealthResponse represents the /health endpoint response.
type HealthResponse struct {
	Status   string            `json:"status"`
	Services map[string]string `json:"services"`
}

// healthHandler returns an HTTP handler that checks PG and Redis connectivity.
func healthHandler(pgPool *pgxpool.Pool, redisClient *redis.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := HealthResponse{
			Status:   "ok",
			Services: make(map[string]string),
		}

		if err := db.HealthCheck(r.Context(), pgPool); err != nil {
			resp.Status = "degraded"
			resp.Services["postgres"] = "unhealthy: " + err.Error()
		} else {
			resp.Services["postgres"] = "healthy"
		}

		if err := cache.HealthCheck(r.Context(), redisClient); err != nil {
			resp.Status = "degraded"
			resp.Services["redis"] = "unhealthy: " + err.Error()
		} else {
			resp.Services["redis"] = "healthy"
		}

		w.Header().Set("Content-Type", "application/json")
		if resp.Status != "ok" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(resp)
	}
}
