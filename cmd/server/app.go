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
	apperrors "github.com/ZanzyTHEbar/deal-health-engine/internal/errors"
	"github.com/ZanzyTHEbar/deal-health-engine/internal/eventbus"
	"github.com/ZanzyTHEbar/deal-health-engine/internal/health"
	"github.com/ZanzyTHEbar/deal-health-engine/internal/middleware"
	"github.com/ZanzyTHEbar/deal-health-engine/internal/monitoring"
	"github.com/ZanzyTHEbar/deal-health-engine/internal/ratelimit"
	"github.com/ZanzyTHEbar/deal-health-engine/internal/resilience"
	"github.com/ZanzyTHEbar/deal-health-engine/internal/security"
	"github.com/ZanzyTHEbar/deal-health-engine/internal/telemetry"
	"github.com/ZanzyTHEbar/deal-health-engine/internal/triage"
	"github.com/ZanzyTHEbar/deal-health-engine/internal/types"
)

// app holds every long-lived component of the service
type app struct {
	cfg *config.Config

	db       *database.DB
	repo     *database.Repository
	importer *database.ImportService

	logger      *monitoring.Logger
	metrics     *monitoring.Metrics
	degradation *resilience.DegradationManager

	analyzer      *analysis.Analyzer
	scoringConfig *analysis.ConfigStore
	baselines     *cache.Cache[*types.Baseline]
	triage        *triage.Service

	bus         *eventbus.Bus
	alerts      *alerting.Engine
	engine      *health.Engine
	redis       *ratelimit.RedisClient
	rateLimiter *ratelimit.RateLimiter
	security    *security.SecurityMiddleware
	compression *middleware.CompressionMiddleware

	closers []func() error
}

// sourceRecorders fans one fetch outcome out to metrics and degradation
// tracking
type sourceRecorders []telemetry.SourceRecorder

func (s sourceRecorders) RecordRequest(source string, success bool) {
	for _, r := range s {
		r.RecordRequest(source, success)
	}
}

func newApp(ctx context.Context, cfg *config.Config, logger *monitoring.Logger) (*app, error) {
	a := &app{
		cfg:         cfg,
		logger:      logger,
		metrics:     monitoring.NewMetrics(),
		degradation: resilience.NewDegradationManager(resilience.DefaultDegradationConfig()),
	}

	db, err := database.NewDB(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	a.db = db
	a.closers = append(a.closers, db.Close)
	a.repo = database.NewRepository(db)
	a.importer = database.NewImportService(a.repo)

	a.scoringConfig = analysis.NewConfigStore(cfg.ScoringConfigPath)
	scoring, err := a.scoringConfig.Load()
	if err != nil {
		a.close()
		return nil, apperrors.NewConfigurationError("invalid scoring config "+cfg.ScoringConfigPath, err)
	}
	a.analyzer = analysis.NewAnalyzer(scoring)

	recorder := sourceRecorders{a.metrics, a.degradation}
	a.baselines = cache.New[*types.Baseline](telemetry.BaselineTTL)
	a.closers = append(a.closers, func() error { a.baselines.Close(); return nil })
	aggregator := telemetry.NewAggregator(a.repo, a.repo, recorder, telemetry.DefaultAggregatorConfig())
	tracker := telemetry.NewTracker(a.repo, recorder, a.baselines, 0)

	if cfg.RedisEnabled {
		// a failed connection leaves a disabled client and in-memory limiting
		a.redis, err = ratelimit.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			slog.Warn("Redis unavailable", "error", err)
		}
		a.closers = append(a.closers, a.redis.Close)
	}
	rlConfig := ratelimit.DefaultConfig()
	rlConfig.NotificationsPerHour = cfg.NotifyRatePerHour
	a.rateLimiter = ratelimit.NewRateLimiter(a.redis, rlConfig, a.metrics)
	a.closers = append(a.closers, func() error { a.rateLimiter.Close(); return nil })

	a.bus = eventbus.New(cfg.EventBuffer)
	a.alerts = alerting.NewEngine(a.repo, a.repo, a.bus, cfg.DismissCooldown)
	a.triage = triage.NewService(a.repo, 0)
	a.closers = append(a.closers, func() error { a.triage.Close(); return nil })

	a.engine = health.NewEngine(health.Deps{
		Entities:   a.repo,
		Aggregator: aggregator,
		Tracker:    tracker,
		Analyzer:   a.analyzer,
		Scores:     a.repo,
		Alerts:     a.alerts,
		Publisher:  a.bus,
		Triage:     a.triage,
		Observer:   a.metrics,
	}, cfg.StaleMaxAge)

	notifiers := []alerting.Notifier{alerting.NewLogNotifier(logger.Logger)}
	if cfg.SlackEnabled() {
		notifiers = append(notifiers, alerting.NewSlackNotifier(cfg.SlackWebhookURL, cfg.SlackChannel))
	}
	if cfg.KafkaEnabled() {
		kafkaNotifier := alerting.NewKafkaNotifier(alerting.NewKafkaWriter(cfg.KafkaBrokers, cfg.KafkaAlertTopic))
		notifiers = append(notifiers, kafkaNotifier)
		a.closers = append(a.closers, kafkaNotifier.Close)
	}
	a.bus.Subscribe("notifications", alerting.NewDispatcher(a.repo, a.rateLimiter, a.metrics, notifiers...))
	a.bus.Subscribe("score-log", eventbus.HandlerFunc(func(_ context.Context, evt eventbus.Event) error {
		if evt.Type == eventbus.TypeScoreCalculated && evt.Score != nil {
			s := evt.Score
			logger.ScoreLogger(string(s.EntityKind), s.EntityID, s.OverallScore, string(s.Status), s.RiskFactors)
		}
		return nil
	}))

	secConfig := security.DefaultSecurityConfig()
	if len(cfg.AllowedOrigins) > 0 {
		secConfig.AllowedOrigins = cfg.AllowedOrigins
	}
	a.security = security.NewSecurityMiddleware(secConfig)
	a.compression = middleware.NewCompressionMiddleware(middleware.DefaultCompressionConfig())

	slog.Info("Service components initialized",
		"data_dir", cfg.DataDir,
		"redis", a.redis.IsEnabled(),
		"slack", cfg.SlackEnabled(),
		"kafka", cfg.KafkaEnabled(),
		"notify_rate_per_hour", cfg.NotifyRatePerHour,
	)
	return a, nil
}

// start runs the event bus until ctx is cancelled
func (a *app) start(ctx context.Context) {
	a.bus.Start(ctx)
}

// close stops the bus, drains pending notifications, then releases stores
// in reverse order of creation
func (a *app) close() {
	if a.bus != nil {
		a.bus.Stop()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			slog.Warn("Failed to close component", "error", err)
		}
	}
	a.closers = nil
}
