// Package database coordinates the relay's optional backing stores: Redis for
// miner authorisation and InfluxDB for periodic statistics.
package database

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/bardlex/gomp-relay/internal/database/influx"
	"github.com/bardlex/gomp-relay/internal/database/redis"
	"github.com/bardlex/gomp-relay/internal/events"
	"github.com/bardlex/gomp-relay/internal/relay"
	"github.com/bardlex/gomp-relay/pkg/errors"
	"github.com/bardlex/gomp-relay/pkg/log"
)

// StatsWriter receives periodic statistics snapshots
type StatsWriter interface {
	WriteRelayStats(service string, st relay.Stats)
	WriteEventStats(service string, st events.Stats)
	Flush()
}

// StatsSource supplies the snapshots written by the stats loop
type StatsSource struct {
	Relay  func() relay.Stats
	Events func() events.Stats
}

// Manager owns the connections to every configured store. Either store may be
// absent.
type Manager struct {
	Redis  *redis.Client
	Influx *influx.Client

	stats  StatsWriter
	logger *log.Logger
}

// Config holds configuration for the stores. A nil entry disables that store.
type Config struct {
	Redis  *redis.Config
	Influx *influx.Config
}

// NewManager connects to every configured store, closing what was opened if a
// later connection fails
func NewManager(ctx context.Context, cfg *Config, logger *log.Logger) (*Manager, error) {
	m := &Manager{logger: logger.WithComponent("database")}

	if cfg.Redis != nil {
		client, err := redis.NewClient(ctx, cfg.Redis)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeRedis, "redis_connection",
				"failed to connect to Redis")
		}
		m.Redis = client
	}

	if cfg.Influx != nil {
		client, err := influx.NewClient(ctx, cfg.Influx)
		if err != nil {
			origErr := errors.Wrap(err, errors.ErrorTypeInflux, "influx_connection",
				"failed to connect to InfluxDB")
			if closeErr := m.Close(); closeErr != nil {
				return nil, origErr.WithContext("cleanup_error", closeErr.Error())
			}
			return nil, origErr
		}
		m.Influx = client
		m.stats = client
	}

	return m, nil
}

// Close closes all open connections
func (m *Manager) Close() error {
	var errs []error

	if m.Redis != nil {
		if err := m.Redis.Close(); err != nil {
			errs = append(errs, errors.Wrap(err, errors.ErrorTypeRedis, "close", "redis close error"))
		}
	}

	if m.Influx != nil {
		m.Influx.Close()
	}

	return stderrors.Join(errs...)
}

// Health checks every open connection
func (m *Manager) Health(ctx context.Context) error {
	if m.Redis != nil {
		if err := m.Redis.Health(ctx); err != nil {
			return errors.Wrap(err, errors.ErrorTypeRedis, "health", "redis health check failed")
		}
	}

	if m.Influx != nil {
		if err := m.Influx.Health(ctx); err != nil {
			return err
		}
	}

	return nil
}

// RunStatsLoop writes a statistics snapshot every interval and flushes on
// shutdown. It returns immediately when no stats store is configured.
func (m *Manager) RunStatsLoop(ctx context.Context, service string, interval time.Duration, src StatsSource) {
	if m.stats == nil || interval <= 0 {
		return
	}

	m.logger.Info("stats loop started", "interval", interval)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.writeStats(service, src)
			m.stats.Flush()
			return
		case <-ticker.C:
			m.writeStats(service, src)
		}
	}
}

func (m *Manager) writeStats(service string, src StatsSource) {
	if src.Relay != nil {
		m.stats.WriteRelayStats(service, src.Relay())
	}
	if src.Events != nil {
		m.stats.WriteEventStats(service, src.Events())
	}
}
