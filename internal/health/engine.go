// Package health is the entry point of the scoring pipeline. It loads an
// entity, builds its metrics and baseline, scores it, persists the result
// and hands it to the alert rule engine.
package health

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/ZanzyTHEbar/deal-health-engine/internal/alerting"
	"github.com/ZanzyTHEbar/deal-health-engine/internal/analysis"
	apperrors "github.com/ZanzyTHEbar/deal-health-engine/internal/errors"
	"github.com/ZanzyTHEbar/deal-health-engine/internal/eventbus"
	"github.com/ZanzyTHEbar/deal-health-engine/internal/telemetry"
	"github.com/ZanzyTHEbar/deal-health-engine/internal/triage"
	"github.com/ZanzyTHEbar/deal-health-engine/internal/types"
)

// DefaultStaleMaxAge is the age after which RefreshStale recalculates a score
const DefaultStaleMaxAge = 24 * time.Hour

// ScoreStore persists live scores and their history. SaveScore writes the
// live row (keyed by kind and entity id, with the persisted id written back
// into score.ID) and the snapshot together or not at all.
// GetScore returns an error wrapping errors.ErrScoreNotFound when missing.
type ScoreStore interface {
	SaveScore(ctx context.Context, score *types.HealthScore, snap *types.HistorySnapshot) error
	GetScore(ctx context.Context, kind types.EntityKind, entityID string) (*types.HealthScore, error)
	ListScores(ctx context.Context, ownerID string) ([]*types.HealthScore, error)
	History(ctx context.Context, kind types.EntityKind, entityID string, limit int) ([]*types.HistorySnapshot, error)
}

// Observer receives calculation outcomes for metrics
type Observer interface {
	ObserveScore(kind, status string, duration time.Duration)
	ObserveAlert(alertType, severity string)
}

// Deps wires the engine to its collaborators. Alerts, Publisher and Observer
// may be nil; a nil Triage gets a default service over Scores.
type Deps struct {
	Entities   telemetry.EntityReader
	Aggregator *telemetry.Aggregator
	Tracker    *telemetry.Tracker
	Analyzer   *analysis.Analyzer
	Scores     ScoreStore
	Alerts     *alerting.Engine
	Publisher  eventbus.Publisher
	Triage     *triage.Service
	Observer   Observer
}

// Engine runs health calculations
type Engine struct {
	deps        Deps
	staleMaxAge time.Duration
	now         func() time.Time
}

// NewEngine creates an engine. staleMaxAge <= 0 uses DefaultStaleMaxAge.
func NewEngine(deps Deps, staleMaxAge time.Duration) *Engine {
	if staleMaxAge <= 0 {
		staleMaxAge = DefaultStaleMaxAge
	}
	if deps.Analyzer == nil {
		deps.Analyzer = analysis.NewAnalyzer(nil)
	}
	if deps.Triage == nil {
		deps.Triage = triage.NewService(deps.Scores, 0)
	}
	return &Engine{deps: deps, staleMaxAge: staleMaxAge, now: time.Now}
}

// WithClock overrides the time source
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// CalculateHealth scores one entity. It returns nil with no error when the
// entity does not exist, a deal has no stage, or no signal could be computed.
func (e *Engine) CalculateHealth(ctx context.Context, kind types.EntityKind, id string) (*types.HealthScore, error) {
	start := time.Now()

	entity, err := e.deps.Entities.GetEntity(ctx, kind, id)
	if errors.Is(err, apperrors.ErrEntityNotFound) {
		slog.Info("Entity not found, skipping health calculation", "kind", kind, "entity_id", id)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load %s %s: %w", kind, id, err)
	}
	if entity.Kind == "" {
		entity.Kind = kind
	}
	if entity.Kind == types.KindDeal && entity.Stage == "" {
		slog.Info("Deal has no stage, skipping health calculation", "entity_id", id)
		return nil, nil
	}

	score, err := e.score(ctx, entity)
	if err != nil || score == nil {
		return nil, err
	}

	if err := e.persist(ctx, score); err != nil {
		return nil, err
	}

	if e.deps.Observer != nil {
		e.deps.Observer.ObserveScore(string(score.EntityKind), string(score.Status), time.Since(start))
	}
	slog.Info("Health score calculated",
		"entity_kind", score.EntityKind,
		"entity_id", score.EntityID,
		"score", score.OverallScore,
		"status", score.Status,
		"risk_level", score.RiskLevel,
		"risk_factors", len(score.RiskFactors),
	)

	if _, err := e.generateAlerts(ctx, entity, score); err != nil {
		slog.Error("Alert evaluation failed", "entity_id", score.EntityID, "error", err)
	}
	return score, nil
}

// score builds metrics and baseline concurrently and runs the analyzer
func (e *Engine) score(ctx context.Context, entity *types.Entity) (*types.HealthScore, error) {
	var (
		dealMetrics *types.DealMetrics
		relMetrics  *types.RelationshipMetrics
		baseline    *types.Baseline
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		if entity.Kind == types.KindDeal {
			dealMetrics, err = e.deps.Aggregator.DealMetrics(gctx, entity)
		} else {
			relMetrics, err = e.deps.Aggregator.RelationshipMetrics(gctx, entity)
		}
		return err
	})
	g.Go(func() error {
		var err error
		baseline, err = e.deps.Tracker.Baseline(gctx, entity.ID)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("collect metrics for %s %s: %w", entity.Kind, entity.ID, err)
	}

	var result *analysis.ScoreResult
	if dealMetrics != nil {
		result = e.deps.Analyzer.ScoreDeal(dealMetrics, baseline)
	} else {
		result = e.deps.Analyzer.ScoreRelationship(relMetrics, baseline)
	}
	if result.Overall == nil {
		slog.Info("No signal available, skipping health calculation", "kind", entity.Kind, "entity_id", entity.ID)
		return nil, nil
	}

	riskFactors := result.RiskFactors
	if riskFactors == nil {
		riskFactors = []string{}
	}
	return &types.HealthScore{
		ID:                      uuid.NewString(),
		EntityID:                entity.ID,
		EntityKind:              entity.Kind,
		EntityName:              entity.Name,
		OwnerID:                 entity.OwnerID,
		OverallScore:            *result.Overall,
		Status:                  result.Status,
		RiskLevel:               result.RiskLevel,
		Signals:                 result.PresentSignals(),
		DealMetrics:             dealMetrics,
		RelationshipMetrics:     relMetrics,
		Baseline:                baseline,
		RiskFactors:             riskFactors,
		IsGhostRisk:             result.IsGhostRisk,
		GhostProbabilityPercent: result.GhostProbabilityPercent,
		DaysUntilPredictedGhost: result.DaysUntilPredictedGhost,
		PredictedDaysToClose:    result.PredictedDaysToClose,
		LastCalculatedAt:        e.now().UTC(),
	}, nil
}

// persist writes the live score and its history snapshot atomically, then
// announces it
func (e *Engine) persist(ctx context.Context, score *types.HealthScore) error {
	snap := &types.HistorySnapshot{
		ID:           uuid.NewString(),
		EntityID:     score.EntityID,
		EntityKind:   score.EntityKind,
		OverallScore: score.OverallScore,
		Status:       score.Status,
		Signals:      score.Signals,
		RecordedAt:   score.LastCalculatedAt,
	}
	if err := e.deps.Scores.SaveScore(ctx, score, snap); err != nil {
		return fmt.Errorf("save health score for %s %s: %w", score.EntityKind, score.EntityID, err)
	}

	if e.deps.Triage != nil {
		e.deps.Triage.Invalidate(score.OwnerID)
	}
	if e.deps.Publisher != nil {
		e.deps.Publisher.Publish(ctx, eventbus.ScoreCalculated(score))
	}
	return nil
}

// GenerateAlertsForEntity evaluates the owner's alert rules against a score
func (e *Engine) GenerateAlertsForEntity(ctx context.Context, entityID string, score *types.HealthScore) ([]*types.HealthAlert, error) {
	if score == nil {
		return nil, nil
	}
	entity, err := e.deps.Entities.GetEntity(ctx, score.EntityKind, entityID)
	if err != nil && !errors.Is(err, apperrors.ErrEntityNotFound) {
		return nil, fmt.Errorf("load %s %s: %w", score.EntityKind, entityID, err)
	}
	return e.generateAlerts(ctx, entity, score)
}

func (e *Engine) generateAlerts(ctx context.Context, entity *types.Entity, score *types.HealthScore) ([]*types.HealthAlert, error) {
	if e.deps.Alerts == nil {
		return nil, nil
	}
	created, err := e.deps.Alerts.Evaluate(ctx, &alerting.Subject{Entity: entity, Score: score})
	if e.deps.Observer != nil {
		for _, a := range created {
			e.deps.Observer.ObserveAlert(string(a.AlertType), string(a.Severity))
		}
	}
	return created, err
}

// CalculateAllHealth scores every entity of the owner in turn. A failing
// entity is logged and skipped.
func (e *Engine) CalculateAllHealth(ctx context.Context, ownerID string) ([]*types.HealthScore, error) {
	refs, err := e.deps.Entities.ListEntities(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list entities for owner %s: %w", ownerID, err)
	}

	scores := make([]*types.HealthScore, 0, len(refs))
	for _, ref := range refs {
		if err := ctx.Err(); err != nil {
			return scores, err
		}
		score, err := e.CalculateHealth(ctx, ref.Kind, ref.ID)
		if err != nil {
			slog.Error("Health calculation failed, continuing batch",
				"owner_id", ownerID,
				"kind", ref.Kind,
				"entity_id", ref.ID,
				"error", err,
			)
			continue
		}
		if score != nil {
			scores = append(scores, score)
		}
	}

	slog.Info("Batch health calculation finished", "owner_id", ownerID, "entities", len(refs), "scored", len(scores))
	return scores, nil
}

// RefreshStale recalculates entities whose score is missing or older than
// maxAge. force recalculates everything. maxAge <= 0 uses the engine default.
func (e *Engine) RefreshStale(ctx context.Context, ownerID string, maxAge time.Duration, force bool) (*types.RefreshResult, error) {
	if maxAge <= 0 {
		maxAge = e.staleMaxAge
	}
	refs, err := e.deps.Entities.ListEntities(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list entities for owner %s: %w", ownerID, err)
	}

	result := &types.RefreshResult{Updated: []*types.HealthScore{}}
	now := e.now()
	for _, ref := range refs {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		if !force && e.fresh(ctx, ref, now, maxAge) {
			result.Skipped++
			continue
		}

		score, err := e.CalculateHealth(ctx, ref.Kind, ref.ID)
		if err != nil {
			slog.Error("Refresh failed, continuing", "kind", ref.Kind, "entity_id", ref.ID, "error", err)
			continue
		}
		if score != nil {
			result.Updated = append(result.Updated, score)
		}
	}

	slog.Info("Stale refresh finished",
		"owner_id", ownerID,
		"updated", len(result.Updated),
		"skipped", result.Skipped,
		"force", force,
	)
	return result, nil
}

// fresh reports whether the stored score is younger than maxAge. A lookup
// failure counts as stale.
func (e *Engine) fresh(ctx context.Context, ref types.EntityRef, now time.Time, maxAge time.Duration) bool {
	existing, err := e.deps.Scores.GetScore(ctx, ref.Kind, ref.ID)
	if err != nil {
		if !errors.Is(err, apperrors.ErrScoreNotFound) {
			slog.Warn("Score lookup failed, treating as stale", "entity_id", ref.ID, "error", err)
		}
		return false
	}
	return now.Sub(existing.LastCalculatedAt) < maxAge
}

// AcknowledgeAlert moves an alert to acknowledged
func (e *Engine) AcknowledgeAlert(ctx context.Context, alertID string) (bool, error) {
	if e.deps.Alerts == nil {
		return false, nil
	}
	return e.deps.Alerts.Acknowledge(ctx, alertID)
}

// ResolveAlert moves an alert to resolved
func (e *Engine) ResolveAlert(ctx context.Context, alertID string) (bool, error) {
	if e.deps.Alerts == nil {
		return false, nil
	}
	return e.deps.Alerts.Resolve(ctx, alertID)
}

// DismissAlert moves an alert to dismissed
func (e *Engine) DismissAlert(ctx context.Context, alertID string) (bool, error) {
	if e.deps.Alerts == nil {
		return false, nil
	}
	return e.deps.Alerts.Dismiss(ctx, alertID)
}

// Triage returns the owner's scores worst-first
func (e *Engine) Triage(ctx context.Context, ownerID string, limit int) (*triage.Response, error) {
	return e.deps.Triage.Rank(ctx, ownerID, limit)
}

// GetScore returns the stored score of an entity
func (e *Engine) GetScore(ctx context.Context, kind types.EntityKind, id string) (*types.HealthScore, error) {
	return e.deps.Scores.GetScore(ctx, kind, id)
}

// History returns the newest snapshots of an entity, newest first
func (e *Engine) History(ctx context.Context, kind types.EntityKind, id string, limit int) ([]*types.HistorySnapshot, error) {
	return e.deps.Scores.History(ctx, kind, id, limit)
}
