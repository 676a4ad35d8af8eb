package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/segmentio/kafka-go"

	"example.com/trainload/internal/config"
	"example.com/trainload/internal/consumer"
	"example.com/trainload/internal/ingest"
	"example.com/trainload/internal/logger"
	"example.com/trainload/internal/matching"
	persistence "example.com/trainload/internal/persistence/postgres"
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

	recomputer := ingest.NewRecomputer(records, metrics, nil)
	matcher := matching.NewEngine(matching.Config{
		SameCategoryDistanceTolerance:  cfg.SameCategoryDistanceTolerance,
		CrossCategoryDistanceTolerance: cfg.CrossCategoryDistanceTolerance,
		DurationTolerance:              cfg.DurationTolerance,
		FallbackDurationTolerance:      cfg.FallbackDurationTolerance,
		AcceptConfidence:               cfg.MatchAcceptConfidence,
	})
	pipeline := ingest.NewPipeline(matcher, records, recomputer, zlog, nil, nil)
	handler := consumer.NewIngestHandler(pipeline)

	metricsSrv := &http.Server{Addr: cfg.MetricsAddress, Handler: promhttp.Handler()}

	go func() {
		zlog.Infow("consumer metrics listening", "address", cfg.MetricsAddress)
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zlog.Errorw("metrics server error", "error", err)
		}
	}()

	var wg sync.WaitGroup
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	for _, topic := range cfg.ConsumerTopics {
		reader := kafka.NewReader(kafka.ReaderConfig{
			Brokers:         cfg.KafkaBrokers,
			GroupID:         cfg.ConsumerGroupID,
			Topic:           topic,
			MinBytes:        1e3,
			MaxBytes:        10e6,
			CommitInterval:  time.Second,
			RetentionTime:   24 * time.Hour,
			ReadLagInterval: -1,
		})

		proc := consumer.NewProcessor(reader, handler, consumer.WithLogger(zlog))

		wg.Add(1)
		go func(topic string, r *kafka.Reader) {
			defer wg.Done()
			defer r.Close()

			zlog.Infow("consumer started", "topic", topic, "group", cfg.ConsumerGroupID)
			if err := proc.Run(ctx); err != nil && err != context.Canceled {
				zlog.Errorw("consumer stopped with error", "topic", topic, "error", err)
			}
		}(topic, reader)
	}

	<-stop
	zlog.Infow("consumer shutdown requested")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		zlog.Errorw("metrics server shutdown error", "error", err)
	}

	wg.Wait()
}
