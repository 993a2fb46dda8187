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

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/segmentio/kafka-go"

	"example.com/aggregator/internal/bootstrap"
	"example.com/aggregator/internal/config"
	"example.com/aggregator/internal/consumer"
	"example.com/aggregator/internal/scheduler"
)

func main() {
	if err := config.LoadDotEnv(); err != nil {
		log.Fatalf("failed to load .env: %v", err)
	}
	cfg := config.Load()
	if len(cfg.RefreshUsers) == 0 {
		log.Fatalf("REFRESH_USERS is empty; nothing to refresh")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	components, err := bootstrap.Build(ctx, cfg)
	if err != nil {
		log.Fatalf("failed to build engine: %v", err)
	}
	defer components.Close()

	sched := scheduler.New(components.Engine, cfg.RefreshUsers, scheduler.WithRunTimeout(cfg.SourceTimeout*time.Duration(len(cfg.RefreshUsers)*3+1)))

	// Warm the cache before the first scheduled pass.
	if err := sched.RunOnce(ctx); err != nil {
		log.Printf("initial refresh finished with errors: %v", err)
	}
	if err := sched.Start(cfg.RefreshSchedule); err != nil {
		log.Fatalf("failed to start scheduler: %v", err)
	}

	metricsSrv := &http.Server{Addr: cfg.MetricsAddress, Handler: promhttp.Handler(), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		log.Printf("refresher metrics listening on %s", cfg.MetricsAddress)
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("metrics server error: %v", err)
		}
	}()

	var wg sync.WaitGroup
	if len(cfg.KafkaBrokers) > 0 {
		if cfg.RedisURL == "" {
			log.Printf("REDIS_URL is empty; activity events only invalidate this process's cache")
		}
		handler := consumer.NewInvalidationHandler(components.Engine)
		for _, topic := range cfg.ConsumerTopics {
			reader := kafka.NewReader(kafka.ReaderConfig{
				Brokers:        cfg.KafkaBrokers,
				GroupID:        cfg.ConsumerGroupID,
				Topic:          topic,
				MinBytes:       1e3,
				MaxBytes:       10e6,
				CommitInterval: time.Second,
			})
			proc := consumer.NewProcessor(reader, handler)

			topic := topic
			wg.Add(1)
			go func() {
				defer wg.Done()
				defer reader.Close()

				log.Printf("consumer started (topic=%s, group=%s)", topic, cfg.ConsumerGroupID)
				if err := proc.Run(ctx); err != nil && err != context.Canceled {
					log.Printf("consumer stopped with error (topic=%s): %v", topic, err)
				}
			}()
		}
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	log.Println("refresher shutdown requested")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		log.Printf("metrics server shutdown error: %v", err)
	}

	select {
	case <-sched.Stop().Done():
	case <-shutdownCtx.Done():
		log.Printf("scheduled refresh still running at shutdown")
	}
	wg.Wait()
}
