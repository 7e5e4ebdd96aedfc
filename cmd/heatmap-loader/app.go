package main

import (
	"context"
	"fmt"
	"io"

	"github.com/Sternrassler/swisscom-heatmap-loader/internal/config"
	"github.com/Sternrassler/swisscom-heatmap-loader/pkg/auth"
	"github.com/Sternrassler/swisscom-heatmap-loader/pkg/batch"
	"github.com/Sternrassler/swisscom-heatmap-loader/pkg/client"
	"github.com/Sternrassler/swisscom-heatmap-loader/pkg/pipeline"
	"github.com/Sternrassler/swisscom-heatmap-loader/pkg/sink"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// app bundles a pipeline with the resources its sink holds open.
type app struct {
	Pipeline *pipeline.Pipeline
	closers  []func()
}

// Close releases sink connections.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// newApp wires the pipeline described by c. stdout receives records for the
// stdout sink.
func newApp(ctx context.Context, c *config.Config, stdout io.Writer) (*app, error) {
	loc, err := c.Location()
	if err != nil {
		return nil, fmt.Errorf("timezone: %w", err)
	}

	apiClient, err := client.New(c.ClientConfig())
	if err != nil {
		return nil, fmt.Errorf("create api client: %w", err)
	}

	a := &app{}
	out, err := a.openSink(ctx, c, stdout)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.Pipeline = pipeline.New(
		auth.NewTokenProvider(c.AuthConfig()),
		apiClient,
		batch.NewDensityFetcher(apiClient, c.BatchConfig()),
		out,
		pipeline.Options{
			Region:   c.GridRegion(),
			Location: loc,
		},
	)

	log.Info().
		Str("region", c.GridRegion().String()).
		Str("sink", c.Sink.Type).
		Str("timezone", loc.String()).
		Str("base_url", apiClient.BaseURL()).
		Msg("Pipeline configured")

	return a, nil
}

// openSink returns nil for the none sink, which makes the pipeline return
// records without persisting them.
func (a *app) openSink(ctx context.Context, c *config.Config, stdout io.Writer) (pipeline.Sink, error) {
	switch c.Sink.Type {
	case config.SinkNone:
		return nil, nil

	case config.SinkStdout:
		return sink.NewWriterSink(stdout), nil

	case config.SinkRedis:
		redisClient := redis.NewClient(&redis.Options{
			Addr:     c.Sink.Redis.Addr,
			Password: c.Sink.Redis.Password,
			DB:       c.Sink.Redis.DB,
		})
		a.closers = append(a.closers, func() { redisClient.Close() })

		if err := redisClient.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("connect to redis at %s: %w", c.Sink.Redis.Addr, err)
		}
		log.Info().Str("addr", c.Sink.Redis.Addr).Msg("Connected to Redis")
		return sink.NewRedisSink(redisClient, c.Sink.Redis.Prefix), nil

	case config.SinkPostgres:
		pool, err := pgxpool.New(ctx, c.Sink.Postgres.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("create postgres pool: %w", err)
		}
		a.closers = append(a.closers, pool.Close)

		if err := pool.Ping(ctx); err != nil {
			return nil, fmt.Errorf("connect to postgres: %w", err)
		}

		pg := sink.NewPostgresSink(pool, c.Sink.Postgres.Table)
		if c.Sink.Postgres.EnsureSchema {
			if err := pg.EnsureSchema(ctx); err != nil {
				return nil, err
			}
		}
		log.Info().Str("table", c.Sink.Postgres.Table).Msg("Connected to Postgres")
		return pg, nil

	default:
		return nil, fmt.Errorf("unknown sink type %q", c.Sink.Type)
	}
}
