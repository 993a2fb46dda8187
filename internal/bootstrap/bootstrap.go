// Package bootstrap assembles the aggregation engine from configuration.
package bootstrap

import (
	"context"
	"fmt"
	"log"

	"github.com/jackc/pgx/v5/pgxpool"

	"example.com/aggregator/internal/cache"
	"example.com/aggregator/internal/config"
	"example.com/aggregator/internal/domain"
	"example.com/aggregator/internal/engine"
	"example.com/aggregator/internal/identity"
	"example.com/aggregator/internal/publish"
	"example.com/aggregator/internal/source/device"
	"example.com/aggregator/internal/source/feed"
	"example.com/aggregator/internal/source/fitfile"
)

// Components holds the engine and the connections it depends on.
type Components struct {
	Engine  *engine.Engine
	closers []func()
}

// Close releases every connection opened by Build, newest first.
func (c *Components) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		c.closers[i]()
	}
	c.closers = nil
}

// Build wires the device source, feed client, identity provider, cache store
// and optional Kafka publisher described by cfg. Postgres is only dialled when
// the device source or the identity provider needs it.
func Build(ctx context.Context, cfg config.Config) (*Components, error) {
	c := &Components{}
	loc := cfg.Location()

	var pool *pgxpool.Pool
	if cfg.FitDir == "" || !cfg.StaticIdentities() {
		p, err := pgxpool.New(ctx, cfg.PostgresURL)
		if err != nil {
			return nil, fmt.Errorf("connect to postgres: %w", err)
		}
		pool = p
		c.closers = append(c.closers, p.Close)
	}

	var deviceSource domain.DeviceSource
	if cfg.FitDir != "" {
		deviceSource = fitfile.New(cfg.FitDir, fitfile.WithLocation(loc))
	} else {
		deviceSource = device.NewRepository(pool, device.WithLocation(loc))
	}

	var identities domain.IdentityProvider
	if cfg.StaticIdentities() {
		identities = identity.NewStaticProvider(cfg.PrimaryIdentity, cfg.LinkedIdentities)
	} else {
		identities = identity.NewPostgresProvider(pool)
	}

	feedClient := feed.NewClient(cfg.FeedBaseURL, cfg.FeedToken, cfg.SourceTimeout, feed.WithLocation(loc))

	var store cache.Store = cache.NewMemoryStore()
	if cfg.RedisURL != "" {
		client, err := cache.DialRedis(ctx, cfg.RedisURL)
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("connect to redis: %w", err)
		}
		store = cache.NewRedisStore(client)
		c.closers = append(c.closers, func() {
			if err := client.Close(); err != nil {
				log.Printf("redis close error: %v", err)
			}
		})
	}
	controller := cache.NewController(store, cache.WithTTL(cfg.CacheTTL))

	c.Engine = engine.New(deviceSource, feedClient, identities, controller,
		engine.WithLocation(loc),
		engine.WithSourceTimeout(cfg.SourceTimeout),
		engine.WithMonthlyGoal(cfg.MonthlyGoalKM*1000),
	)

	if len(cfg.KafkaBrokers) > 0 {
		producer := publish.NewKafkaProducer(cfg.KafkaBrokers)
		c.Engine.Subscribe(publish.NewPublisher(producer, cfg.AggregateTopic))
		c.closers = append(c.closers, func() {
			if err := producer.Close(); err != nil {
				log.Printf("kafka producer close error: %v", err)
			}
		})
	}
	return c, nil
}
