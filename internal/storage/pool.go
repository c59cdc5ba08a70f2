// Package storage owns the connection pool, schema-facing queries, and
// health/metrics for the relational store with vector support (§4.7). The
// pool wrapper is grounded on the pgx/pgxpool idiom used elsewhere in the
// example pack; vector columns and the similarity query are grounded on
// the pgvector-backed RAG store pattern (see DESIGN.md).
package storage

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/docserver-mcp/docserver/internal/metrics"
	"github.com/docserver-mcp/docserver/internal/retry"
)

// PoolConfig controls the connection pool, matching §4.7's defaults and
// §6's environment variables.
type PoolConfig struct {
	DatabaseURL    string
	MinConns       int32
	MaxConns       int32
	AcquireTimeout time.Duration
	MaxLifetime    time.Duration
	IdleTimeout    time.Duration
	AppName        string
	// Retry overrides the retry executor's backoff/attempt budget (§4.8,
	// §6 DB_RETRY_*). Zero value (RetryConfig{}) falls back to
	// retry.DefaultStorageConfig.
	Retry RetryConfig
}

// RetryConfig mirrors config.Retry without importing the config package
// (which would create an import cycle), letting callers pass through the
// DB_RETRY_* overrides (§4.8/§6).
type RetryConfig struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	Jitter       bool
}

// DefaultPoolConfig returns §4.7's defaults.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MinConns:       5,
		MaxConns:       100,
		AcquireTimeout: 30 * time.Second,
		MaxLifetime:    time.Hour,
		IdleTimeout:    10 * time.Minute,
		AppName:        "doc-server",
		Retry: RetryConfig{
			MaxAttempts:  5,
			InitialDelay: time.Second,
			MaxDelay:     30 * time.Second,
			Multiplier:   2.0,
			Jitter:       true,
		},
	}
}

// poolMetrics are the atomic counters §4.7 requires in addition to the
// process-wide Prometheus counters, kept locally so HealthCheck can report
// a query-success-rate ratio without scraping Prometheus.
type poolMetrics struct {
	queriesTotal   int64
	queryFailures  int64
	lastHealthTime int64 // unix nanos
}

// Pool wraps a pgxpool.Pool with the retry-aware, metrics-instrumented
// operations the rest of the service depends on.
type Pool struct {
	pool    *pgxpool.Pool
	cfg     PoolConfig
	metrics poolMetrics
}

// Open establishes the pool, validating the DSN and pinging once before
// returning, per the pgx/pgxpool idiom this is grounded on.
func Open(ctx context.Context, cfg PoolConfig) (*Pool, error) {
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing DATABASE_URL: %w", err)
	}

	poolCfg.MinConns = cfg.MinConns
	poolCfg.MaxConns = cfg.MaxConns
	poolCfg.MaxConnLifetime = cfg.MaxLifetime
	poolCfg.MaxConnIdleTime = cfg.IdleTimeout
	poolCfg.ConnConfig.RuntimeParams["application_name"] = cfg.AppName

	pgxPool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	p := &Pool{pool: pgxPool, cfg: cfg}

	acquireCtx, cancel := context.WithTimeout(ctx, cfg.AcquireTimeout)
	defer cancel()
	if err := p.pool.Ping(acquireCtx); err != nil {
		p.pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	metrics.PoolConnectionsCreated.Inc()

	return p, nil
}

// Close releases the pool.
func (p *Pool) Close() {
	p.pool.Close()
}

// Raw exposes the underlying pgxpool.Pool for advanced callers
// (transactions, batch operations) within this package.
func (p *Pool) Raw() *pgxpool.Pool {
	return p.pool
}

// withRetry wraps a storage operation with the retry executor configured
// from p.cfg.Retry (see retryConfig), classified by
// retry.ClassifyNetworkError.
func (p *Pool) withRetry(ctx context.Context, operation string, fn func(ctx context.Context) error) error {
	metrics.PoolAcquisitionsTotal.Inc()
	metrics.StorageQueriesTotal.WithLabelValues(operation).Inc()
	timer := metrics.NewTimer()

	cfg := p.retryConfig()
	err := retry.Do(ctx, cfg, fn)

	timer.ObserveDurationVec(metrics.StorageQueryDuration, operation)
	atomic.AddInt64(&p.metrics.queriesTotal, 1)
	if err != nil {
		metrics.StorageQueryFailures.WithLabelValues(operation).Inc()
		metrics.PoolAcquisitionFailures.Inc()
		atomic.AddInt64(&p.metrics.queryFailures, 1)
	}
	return err
}

// retryConfig builds the retry executor's Config from p.cfg.Retry, falling
// back to retry.DefaultStorageConfig when the caller left it zero-valued
// (e.g. Open called directly with a bare PoolConfig).
func (p *Pool) retryConfig() retry.Config {
	r := p.cfg.Retry
	if r.MaxAttempts == 0 {
		return retry.DefaultStorageConfig(retry.ClassifyNetworkError)
	}
	return retry.Config{
		MaxAttempts:  r.MaxAttempts,
		InitialDelay: r.InitialDelay,
		MaxDelay:     r.MaxDelay,
		Multiplier:   r.Multiplier,
		Jitter:       r.Jitter,
		Classify:     retry.ClassifyNetworkError,
	}
}

// Ping executes a trivial SELECT 1 (§4.7).
func (p *Pool) Ping(ctx context.Context) error {
	err := p.withRetry(ctx, "ping", func(ctx context.Context) error {
		var one int
		return p.pool.QueryRow(ctx, "SELECT 1").Scan(&one)
	})
	atomic.StoreInt64(&p.metrics.lastHealthTime, time.Now().UnixNano())
	return err
}

// HealthCheck returns a point-in-time snapshot of pool health, utilization,
// and the query success rate, matching §4.7/§4.10's contract. It does not
// itself cache; the caller (mcp.HealthChecker) applies the ≤5s TTL.
func (p *Pool) HealthCheck(ctx context.Context) (PoolHealth, error) {
	start := time.Now()
	err := p.Ping(ctx)
	elapsed := time.Since(start)

	stat := p.pool.Stat()
	total := atomic.LoadInt64(&p.metrics.queriesTotal)
	failures := atomic.LoadInt64(&p.metrics.queryFailures)
	successRate := 1.0
	if total > 0 {
		successRate = 1.0 - float64(failures)/float64(total)
	}

	utilization := 0.0
	if p.cfg.MaxConns > 0 {
		utilization = float64(stat.AcquiredConns()) / float64(p.cfg.MaxConns)
	}

	ph := PoolHealth{
		Healthy:           err == nil,
		ResponseTime:      elapsed,
		ActiveConnections: stat.AcquiredConns(),
		IdleConnections:   stat.IdleConns(),
		Utilization:       utilization,
		QuerySuccessRate:  successRate,
	}
	if err != nil {
		ph.Error = err.Error()
		return ph, err
	}
	return ph, nil
}

// PoolHealth is the point-in-time snapshot mcp.Pinger.HealthCheck returns;
// it lives here rather than in mcp so the health endpoint can report the
// pool's own fields directly without a translation layer.
type PoolHealth struct {
	Healthy           bool
	ResponseTime      time.Duration
	ActiveConnections int32
	IdleConnections   int32
	Utilization       float64
	QuerySuccessRate  float64
	Error             string
}
