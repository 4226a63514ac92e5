package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"

	"github.com/splax/agentdeploy/internal/domain"
	"github.com/splax/agentdeploy/internal/metrics"
	"github.com/splax/agentdeploy/internal/remote"
	"github.com/splax/agentdeploy/internal/repository"
	"github.com/splax/agentdeploy/internal/repository/postgres"
	redisrepo "github.com/splax/agentdeploy/internal/repository/redis"
	"github.com/splax/agentdeploy/internal/repository/sqlite"
	"github.com/splax/agentdeploy/internal/runtime/docker"
	"github.com/splax/agentdeploy/internal/service/bulk"
	"github.com/splax/agentdeploy/internal/service/deploy"
	"github.com/splax/agentdeploy/internal/service/gateway"
	"github.com/splax/agentdeploy/internal/service/group"
	"github.com/splax/agentdeploy/internal/service/policy"
	"github.com/splax/agentdeploy/pkg/config"
	"github.com/splax/agentdeploy/pkg/logger"
)

// app holds the orchestrator and everything that must be released after a
// command runs.
type app struct {
	cfg     config.Config
	log     *slog.Logger
	orch    *deploy.Orchestrator
	metrics *prometheus.Registry
	closers []func() error
}

func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	a := &app{
		cfg:     cfg,
		log:     logger.NewWithWriter(os.Stderr, "agentctl", cfg.Level()),
		metrics: prometheus.NewRegistry(),
	}
	if err := a.wire(ctx); err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

func (a *app) wire(ctx context.Context) error {
	rec := metrics.New(a.metrics)

	tasks, err := a.openTaskStore(ctx)
	if err != nil {
		return err
	}

	opts := []remote.Option{
		remote.WithToken(a.cfg.ServiceToken),
		remote.WithTimeout(a.cfg.RemoteTimeoutDuration()),
	}
	registryClient, err := remote.NewRegistryClient(a.cfg.RegistryURL, opts...)
	if err != nil {
		return err
	}
	lineageClient, err := remote.NewLineageClient(a.cfg.LineageURL, opts...)
	if err != nil {
		return err
	}
	gatewayClient, err := remote.NewGatewayClient(a.cfg.GatewayURL, opts...)
	if err != nil {
		return err
	}
	policyClient, err := remote.NewPolicyClient(a.cfg.PolicyURL, opts...)
	if err != nil {
		return err
	}

	var registry deploy.Registry = registryClient
	switch strings.ToLower(strings.TrimSpace(a.cfg.RegistryBackend)) {
	case "", "http":
	case "docker":
		dc, err := docker.New(a.cfg.DockerHost)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, dc.Close)
		if err := dc.Ping(ctx); err != nil {
			return err
		}
		local, err := docker.NewRegistry(dc, a.cfg.RuntimeImage)
		if err != nil {
			return err
		}
		registry = local
	default:
		return fmt.Errorf("unsupported registry backend %q", a.cfg.RegistryBackend)
	}

	runner := bulk.New(a.cfg.BulkConcurrency, a.log, rec)
	a.orch = deploy.New(
		registry,
		lineageClient,
		gateway.New(gatewayClient, tasks, a.log, rec),
		policy.New(policyClient, a.cfg.PublicGrantee, a.log),
		group.New(registryClient, runner, a.log, rec),
		deploy.WithLogger(a.log),
		deploy.WithMetrics(rec),
		deploy.WithResourceURLPrefix(a.cfg.ResourceURLPrefix),
	)
	return nil
}

func (a *app) openTaskStore(ctx context.Context) (repository.TaskRepository, error) {
	switch strings.ToLower(strings.TrimSpace(a.cfg.TaskStore)) {
	case "postgres":
		pool, err := pgxpool.New(ctx, a.cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("connect database: %w", err)
		}
		a.closers = append(a.closers, func() error { pool.Close(); return nil })
		if err := pool.Ping(ctx); err != nil {
			return nil, fmt.Errorf("ping database: %w", err)
		}
		return postgres.New(pool), nil
	case "sqlite":
		db, err := sqlite.Open(a.cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, db.Close)
		return &sqlite.TaskRepo{DB: db}, nil
	case "redis":
		store, err := redisrepo.New(ctx, a.cfg.RedisAddr, a.cfg.RedisPassword, a.cfg.RedisDB)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, store.Close)
		return store, nil
	default:
		return nil, fmt.Errorf("unsupported task store %q", a.cfg.TaskStore)
	}
}

// callContext attaches a per-call value carrying the operator's session.
func (a *app) callContext(ctx context.Context) (context.Context, error) {
	session, err := loadSession(a.cfg.JWTSecret)
	if err != nil {
		return nil, err
	}
	call := domain.NewCall(session)
	a.log.Debug("call started", "request_id", call.RequestID, "session", session != nil)
	return domain.WithCall(ctx, call), nil
}

// close pushes collected metrics and releases resources in reverse order.
func (a *app) close() {
	if url := strings.TrimSpace(a.cfg.PushgatewayURL); url != "" {
		if err := push.New(url, "agentctl").Gatherer(a.metrics).Push(); err != nil {
			a.log.Warn("push metrics failed", "url", url, "error", err)
		}
	}
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		a.log.Warn("release resources failed", "error", err)
	}
}
