// Package control wires the dispatcher's components together and
// manages their lifecycle.
package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/pressly/goose/v3"

	"github.com/velora-io/dispatch/internal/alert"
	"github.com/velora-io/dispatch/internal/core/config"
	"github.com/velora-io/dispatch/internal/dispatch/gatehealth"
	"github.com/velora-io/dispatch/internal/dispatch/orchestrator"
	"github.com/velora-io/dispatch/internal/dispatch/speed"
	redisclient "github.com/velora-io/dispatch/internal/infra/redis"
	"github.com/velora-io/dispatch/internal/infra/storage/memory"
	"github.com/velora-io/dispatch/internal/infra/storage/postgres"
	"github.com/velora-io/dispatch/internal/opshttp"
)

// Dispatcher is the main application struct managing component lifecycle.
type Dispatcher struct {
	cfg         Config
	health      *gatehealth.Manager
	speed       *speed.Manager
	batches     *orchestrator.Service
	opsServer   *opshttp.Server
	db          *postgres.DB
	redisClient *redisclient.Client
	speedRepo   *postgres.SpeedRepo
	log         *slog.Logger

	controlCancel context.CancelFunc
}

// Config holds the application configuration.
type Config struct {
	Port     int
	Gateways []config.GatewayConfig
	Redis    redisclient.Config
	Database postgres.Config
	Health   config.HealthConfig
	Speed    config.SpeedConfig
	Alert    config.AlertConfig
}

// NewDispatcher creates a Dispatcher with all dependencies initialized.
// Postgres and Redis are both optional: without postgres there are no
// custom plans or batch summaries, without redis there is no plan cache
// or remote control channel.
func NewDispatcher(cfg Config) (*Dispatcher, error) {
	log := slog.Default()

	// 1. Storage
	var db *postgres.DB
	var speedRepo *postgres.SpeedRepo
	var batchRepo *postgres.BatchRepo
	var planSource speed.PlanSource

	if cfg.Database.URL != "" {
		var err error
		db, err = postgres.NewDB(context.Background(), cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to init db: %w", err)
		}

		if err := goose.SetDialect("postgres"); err != nil {
			return nil, err
		}
		if err := goose.Up(db.DB.DB, "migrations"); err != nil {
			return nil, fmt.Errorf("failed to migrate db: %w", err)
		}

		speedRepo = postgres.NewSpeedRepo(db)
		batchRepo = postgres.NewBatchRepo(db)
		planSource = speedRepo
		slog.Info("Using PostgreSQL storage")
	} else {
		planSource = memory.NewSpeedStore()
		slog.Info("No database configured, using in-memory storage")
	}

	// 2. Redis (plan cache + control channel)
	var redisClient *redisclient.Client
	if cfg.Redis.URL != "" {
		var err error
		redisClient, err = redisclient.NewClient(cfg.Redis)
		if err != nil {
			return nil, fmt.Errorf("failed to init redis: %w", err)
		}
		if planSource != nil {
			planSource = redisclient.NewPlanCache(redisClient, planSource, cfg.Speed.CacheTTL, log)
		}
		slog.Info("Redis connected")
	}

	// 3. Health manager
	var notifier gatehealth.Notifier
	if cfg.Alert.WebhookURL != "" {
		notifier = alert.NewWebhookNotifier(cfg.Alert.WebhookURL, log)
	} else {
		notifier = alert.NewLogNotifier(log)
	}
	healthMgr := gatehealth.NewManager(healthPolicy(cfg.Health), notifier, log)

	// 4. Speed manager + orchestrator
	speedMgr := speed.NewManager(planSource, log)

	var store orchestrator.SummaryStore
	if batchRepo != nil {
		store = batchRepo
	}
	batches := orchestrator.NewService(healthMgr, speedMgr, nil, store, log)

	// 5. Ops server
	opsServer := opshttp.NewServer(healthMgr, speedMgr, cfg.Port)

	return &Dispatcher{
		cfg:         cfg,
		health:      healthMgr,
		speed:       speedMgr,
		batches:     batches,
		opsServer:   opsServer,
		db:          db,
		redisClient: redisClient,
		speedRepo:   speedRepo,
		log:         log,
	}, nil
}

// Start launches the ops server and the control channel subscriber.
func (d *Dispatcher) Start(ctx context.Context) error {
	go func() {
		d.log.Info("ops server listening", "port", d.cfg.Port)
		if err := d.opsServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			d.log.Error("ops server stopped", "error", err)
		}
	}()

	if d.redisClient != nil {
		controlCtx, cancel := context.WithCancel(ctx)
		d.controlCancel = cancel
		go d.redisClient.SubscribeControl(controlCtx, d.health, d.log)
		d.log.Info("gateway control channel subscribed")
	}

	return nil
}

// Stop shuts down components gracefully.
func (d *Dispatcher) Stop(ctx context.Context) error {
	if d.controlCancel != nil {
		d.controlCancel()
	}
	if err := d.opsServer.Stop(ctx); err != nil {
		d.log.Error("failed to stop ops server", "error", err)
	}
	if d.redisClient != nil {
		if err := d.redisClient.Close(); err != nil {
			d.log.Error("failed to close redis", "error", err)
		}
	}
	if d.db != nil {
		if err := d.db.Close(); err != nil {
			d.log.Error("failed to close db", "error", err)
		}
	}
	return nil
}

// Batches exposes the batch orchestrator.
func (d *Dispatcher) Batches() *orchestrator.Service {
	return d.batches
}

// Health exposes the gateway health manager.
func (d *Dispatcher) Health() *gatehealth.Manager {
	return d.health
}

// Speed exposes the speed manager.
func (d *Dispatcher) Speed() *speed.Manager {
	return d.speed
}

// SpeedRepo exposes the settings repository for administrative writes.
// Nil when no database is configured.
func (d *Dispatcher) SpeedRepo() *postgres.SpeedRepo {
	return d.speedRepo
}

// Redis exposes the redis client. Nil when not configured.
func (d *Dispatcher) Redis() *redisclient.Client {
	return d.redisClient
}

func healthPolicy(cfg config.HealthConfig) gatehealth.Policy {
	policy := gatehealth.DefaultPolicy()
	if cfg.WindowSize > 0 {
		policy.WindowSize = cfg.WindowSize
	}
	if cfg.OfflineConsecutiveFailures > 0 {
		policy.OfflineConsecutiveFailures = cfg.OfflineConsecutiveFailures
	}
	if cfg.OfflineSuccessRate > 0 {
		policy.OfflineSuccessRate = cfg.OfflineSuccessRate
	}
	if cfg.DegradedConsecutiveFailures > 0 {
		policy.DegradedConsecutiveFailures = cfg.DegradedConsecutiveFailures
	}
	if cfg.DegradedSuccessRate > 0 {
		policy.DegradedSuccessRate = cfg.DegradedSuccessRate
	}
	if cfg.MinSamples > 0 {
		policy.MinSamples = cfg.MinSamples
	}
	if cfg.RecoverySuccesses > 0 {
		policy.RecoverySuccesses = cfg.RecoverySuccesses
	}
	return policy
}
