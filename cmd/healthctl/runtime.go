package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ZanzyTHEbar/deal-health-engine/internal/alerting"
	"github.com/ZanzyTHEbar/deal-health-engine/internal/analysis"
	"github.com/ZanzyTHEbar/deal-health-engine/internal/cache"
	"github.com/ZanzyTHEbar/deal-health-engine/internal/config"
	"github.com/ZanzyTHEbar/deal-health-engine/internal/database"
	"github.com/ZanzyTHEbar/deal-health-engine/internal/eventbus"
	"github.com/ZanzyTHEbar/deal-health-engine/internal/health"
	"github.com/ZanzyTHEbar/deal-health-engine/internal/monitoring"
	"github.com/ZanzyTHEbar/deal-health-engine/internal/ratelimit"
	"github.com/ZanzyTHEbar/deal-health-engine/internal/telemetry"
	"github.com/ZanzyTHEbar/deal-health-engine/internal/triage"
	"github.com/ZanzyTHEbar/deal-health-engine/internal/types"
)

// runtime is the engine wired for one CLI invocation. Rate limiting is
// always in-memory here; the budget only spans a single run.
type runtime struct {
	repo     *database.Repository
	importer *database.ImportService
	alerts   *alerting.Engine
	engine   *health.Engine
	bus      *eventbus.Bus

	closers []func() error
}

func openRuntime(ctx context.Context, cfg *config.Config, logger *monitoring.Logger) (*runtime, error) {
	db, err := database.NewDB(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to open store in %s: %w", cfg.DataDir, err)
	}
	rt := &runtime{closers: []func() error{db.Close}}
	rt.repo = database.NewRepository(db)
	rt.importer = database.NewImportService(rt.repo)

	scoring, err := analysis.NewConfigStore(cfg.ScoringConfigPath).Load()
	if err != nil {
		rt.close()
		return nil, fmt.Errorf("invalid scoring config %s: %w", cfg.ScoringConfigPath, err)
	}

	metrics := monitoring.NewMetrics()
	baselines := cache.New[*types.Baseline](telemetry.BaselineTTL)
	rt.closers = append(rt.closers, func() error { baselines.Close(); return nil })

	limiterConfig := ratelimit.DefaultConfig()
	limiterConfig.NotificationsPerHour = cfg.NotifyRatePerHour
	limiter := ratelimit.NewRateLimiter(nil, limiterConfig, metrics)
	rt.closers = append(rt.closers, func() error { limiter.Close(); return nil })

	ranking := triage.NewService(rt.repo, 0)
	rt.closers = append(rt.closers, func() error { ranking.Close(); return nil })

	rt.bus = eventbus.New(cfg.EventBuffer)
	rt.alerts = alerting.NewEngine(rt.repo, rt.repo, rt.bus, cfg.DismissCooldown)
	rt.engine = health.NewEngine(health.Deps{
		Entities:   rt.repo,
		Aggregator: telemetry.NewAggregator(rt.repo, rt.repo, metrics, telemetry.DefaultAggregatorConfig()),
		Tracker:    telemetry.NewTracker(rt.repo, metrics, baselines, 0),
		Analyzer:   analysis.NewAnalyzer(scoring),
		Scores:     rt.repo,
		Alerts:     rt.alerts,
		Publisher:  rt.bus,
		Triage:     ranking,
		Observer:   metrics,
	}, cfg.StaleMaxAge)

	notifiers := []alerting.Notifier{alerting.NewLogNotifier(logger.Logger)}
	if cfg.SlackEnabled() {
		notifiers = append(notifiers, alerting.NewSlackNotifier(cfg.SlackWebhookURL, cfg.SlackChannel))
	}
	if cfg.KafkaEnabled() {
		kafka := alerting.NewKafkaNotifier(alerting.NewKafkaWriter(cfg.KafkaBrokers, cfg.KafkaAlertTopic))
		notifiers = append(notifiers, kafka)
		rt.closers = append(rt.closers, kafka.Close)
	}
	rt.bus.Subscribe("notifications", alerting.NewDispatcher(rt.repo, limiter, metrics, notifiers...))
	rt.bus.Start(ctx)

	return rt, nil
}

// close delivers queued notifications, then releases the store
func (rt *runtime) close() {
	if rt.bus != nil {
		rt.bus.Stop()
	}
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](); err != nil {
			slog.Warn("Failed to close component", "error", err)
		}
	}
	rt.closers = nil
}
