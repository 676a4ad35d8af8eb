package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"example.com/trainload/internal/api"
	"example.com/trainload/internal/auth"
	"example.com/trainload/internal/calibration"
	"example.com/trainload/internal/config"
	"example.com/trainload/internal/domain"
	"example.com/trainload/internal/ingest"
	"example.com/trainload/internal/logger"
	"example.com/trainload/internal/matching"
	"example.com/trainload/internal/outbox"
	persistence "example.com/trainload/internal/persistence/postgres"
	httptransport "example.com/trainload/internal/transport/http"
)

func main() {
	cfg := config.Load()

	zlog, err := logger.New(cfg.LogMode)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer zlog.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.PostgresURL)
	if err != nil {
		zlog.Fatalw("failed to connect to postgres", "error", err)
	}
	defer pool.Close()

	records := persistence.NewRepository(pool)
	metrics := persistence.NewMetricsRepository(pool)
	calRepo := persistence.NewCalibrationRepository(pool)

	calibrator := calibration.NewEngine(calibration.Config{
		MinSamples:         cfg.CalibrationMinSamples,
		MinConfidence:      cfg.CalibrationMinConfidence,
		LearningRate:       calibration.DefaultConfig().LearningRate,
		ConfidenceGain:     calibration.DefaultConfig().ConfidenceGain,
		ContradictionRatio: calibration.DefaultConfig().ContradictionRatio,
		ContradictionDecay: calibration.DefaultConfig().ContradictionDecay,
	}, calRepo, nil)

	recomputer := ingest.NewRecomputer(records, metrics, nil)
	matcher := matching.NewEngine(matching.Config{
		SameCategoryDistanceTolerance:  cfg.SameCategoryDistanceTolerance,
		CrossCategoryDistanceTolerance: cfg.CrossCategoryDistanceTolerance,
		DurationTolerance:              cfg.DurationTolerance,
		FallbackDurationTolerance:      cfg.FallbackDurationTolerance,
		AcceptConfidence:               cfg.MatchAcceptConfidence,
	})
	pipeline := ingest.NewPipeline(matcher, records, recomputer, zlog, nil, nil)

	service := domain.NewService(domain.ServiceConfig{
		MaxSessionStress:  cfg.MaxSessionStress,
		MaxLoad:           cfg.MaxLoad,
		DriftLookbackDays: domain.DefaultServiceConfig().DriftLookbackDays,
	}, records, metrics, calibrator, recomputer, nil)

	producer := outbox.NewKafkaProducer(cfg.KafkaBrokers)
	defer producer.Close()

	registry := outbox.NewSchemaRegistryClient(cfg.SchemaRegistryURL)
	dispatcher := outbox.NewDispatcher(pool, producer, registry, zlog, cfg.OutboxPollInterval, cfg.OutboxBatchSize)

	go dispatcher.Start(ctx)

	handler := api.NewHandler(service, pipeline)
	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)
	mux.Handle("/metrics", promhttp.Handler())

	// Simple CORS middleware for local dev
	cors := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "http://localhost:5173")
			w.Header().Set("Access-Control-Allow-Credentials", "true")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}

	requestLogger := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			zlog.Debugw("request", "method", r.Method, "path", r.URL.Path)
			next.ServeHTTP(w, r)
		})
	}

	skipper := func(r *http.Request) bool {
		return r.URL.Path == "/healthz" || r.URL.Path == "/metrics"
	}
	authMiddleware := auth.NewMiddleware(auth.Config{Secret: cfg.JWTSecret, Issuer: cfg.JWTIssuer}, skipper)

	server := httptransport.NewServer(httptransport.ServerConfig{
		Address:      cfg.HTTPAddress,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}, authMiddleware.Wrap(requestLogger(cors(mux))))

	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		zlog.Infow("trainload api listening", "address", cfg.HTTPAddress)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zlog.Fatalw("server error", "error", err)
		}
	}()

	<-shutdownCh
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		zlog.Errorw("graceful shutdown failed", "error", err)
	}

	dispatcher.Wait()
}
