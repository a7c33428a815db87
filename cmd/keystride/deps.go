// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keystride Contributors

package main

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/pflag"

	"github.com/keystride/keystride/internal/config"
	"github.com/keystride/keystride/internal/observability"
	"github.com/keystride/keystride/internal/progress"
	"github.com/keystride/keystride/internal/progress/cache"
	"github.com/keystride/keystride/internal/store"
	"github.com/keystride/keystride/internal/web"
)

// ServeDeps contains injectable dependencies for the serve command.
// All fields with nil values use their default implementations.
type ServeDeps struct {
	// ConfigLoader builds the configuration.
	// Default: config.Load
	ConfigLoader func(path string, flags *pflag.FlagSet) (*config.Config, error)

	// PoolFactory opens the database pool.
	// Default: store.NewPool
	PoolFactory func(ctx context.Context, url string, opts store.PoolOptions) (Pool, error)

	// MigratorFactory creates the schema bootstrapper.
	// Default: store.NewMigrator
	MigratorFactory func(url string) (AutoMigrator, error)

	// CacheFactory connects the progress cache.
	// Default: a go-redis client wrapped by cache.NewRedisCache
	CacheFactory func(ctx context.Context, addr string, ttl time.Duration) (ProgressCache, error)

	// HTTPServerFactory creates the API server.
	// Default: web.NewServer
	HTTPServerFactory func(addr string, handler http.Handler) Server

	// ObservabilityServerFactory creates the metrics and health server.
	// Default: observability.NewServer
	ObservabilityServerFactory func(addr string, gatherer prometheus.Gatherer, ready observability.ReadinessChecker) Server
}

// Pool is the database handle used by serve. *pgxpool.Pool satisfies it.
type Pool interface {
	store.Querier
	Ping(ctx context.Context) error
	Close()
}

// AutoMigrator wraps the methods used from store.Migrator.
type AutoMigrator interface {
	Up() error
	Version() (version uint, dirty bool, err error)
	Pending() ([]uint, error)
	Close() error
}

// ProgressCache is a progress.Cache owning a connection.
type ProgressCache interface {
	progress.Cache
	Ping(ctx context.Context) error
	Close() error
}

// Server wraps the lifecycle shared by web.Server and observability.Server.
type Server interface {
	Start() (<-chan error, error)
	Stop(ctx context.Context) error
	Addr() string
}

func (d *ServeDeps) withDefaults() *ServeDeps {
	out := ServeDeps{}
	if d != nil {
		out = *d
	}
	if out.ConfigLoader == nil {
		out.ConfigLoader = config.Load
	}
	if out.PoolFactory == nil {
		out.PoolFactory = func(ctx context.Context, url string, opts store.PoolOptions) (Pool, error) {
			return store.NewPool(ctx, url, opts)
		}
	}
	if out.MigratorFactory == nil {
		out.MigratorFactory = func(url string) (AutoMigrator, error) {
			return store.NewMigrator(url)
		}
	}
	if out.CacheFactory == nil {
		out.CacheFactory = newRedisCache
	}
	if out.HTTPServerFactory == nil {
		out.HTTPServerFactory = func(addr string, handler http.Handler) Server {
			return web.NewServer(addr, handler)
		}
	}
	if out.ObservabilityServerFactory == nil {
		out.ObservabilityServerFactory = func(addr string, gatherer prometheus.Gatherer, ready observability.ReadinessChecker) Server {
			return observability.NewServer(addr, gatherer, ready)
		}
	}
	return &out
}

type redisCache struct {
	*cache.RedisCache
	client *redis.Client
}

func (c redisCache) Close() error {
	return c.client.Close()
}

// newRedisCache connects to addr and fails fast when Redis is unreachable.
func newRedisCache(ctx context.Context, addr string, ttl time.Duration) (ProgressCache, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	c := redisCache{RedisCache: cache.NewRedisCache(client, ttl), client: client}
	if err := c.Ping(ctx); err != nil {
		_ = client.Close() //nolint:errcheck // ping error takes precedence
		return nil, err
	}
	return c, nil
}
