package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	apperrors "github.com/ZanzyTHEbar/deal-health-engine/internal/errors"
	"github.com/ZanzyTHEbar/deal-health-engine/internal/resilience"
	"github.com/ZanzyTHEbar/deal-health-engine/internal/types"
)

const version = "1.0.0"

// defaultAlertLimit caps alert listings without an explicit limit
const defaultAlertLimit = 100

type ownerRequest struct {
	OwnerID string `json:"owner_id" binding:"required"`
}

type calculateResponse struct {
	Calculated bool               `json:"calculated"`
	Kind       types.EntityKind   `json:"kind"`
	ID         string             `json:"id"`
	Score      *types.HealthScore `json:"score"`
}

type batchResponse struct {
	OwnerID string               `json:"owner_id"`
	Count   int                  `json:"count"`
	Scores  []*types.HealthScore `json:"scores"`
}

type alertsResponse struct {
	Alerts []*types.HealthAlert `json:"alerts"`
	Count  int                  `json:"count"`
}

type transitionResponse struct {
	ID      string            `json:"id"`
	Changed bool              `json:"changed"`
	Status  types.AlertStatus `json:"status"`
}

func parseKind(raw string) (types.EntityKind, error) {
	kind, ok := types.ParseEntityKind(raw)
	if !ok {
		return "", fmt.Errorf("%q: %w", raw, apperrors.ErrInvalidKind)
	}
	return kind, nil
}

func queryInt(c *gin.Context, key string, def int) (int, error) {
	raw := c.Query(key)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, apperrors.NewValidationError(fmt.Sprintf("%s must be a non-negative integer", key), raw)
	}
	return n, nil
}

func requireOwner(c *gin.Context) (string, bool) {
	ownerID := c.Query("owner_id")
	if ownerID == "" {
		_ = c.Error(apperrors.NewValidationError("owner_id is required"))
		return "", false
	}
	return ownerID, true
}

// handleHealth reports store, cache and upstream source health
func (a *app) handleHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	status := "ok"
	code := http.StatusOK

	dbStatus := gin.H{"status": "ok", "pool": a.db.GetPoolStats()}
	if err := a.db.HealthCheck(ctx); err != nil {
		dbStatus["status"] = "unavailable"
		dbStatus["error"] = err.Error()
		status = "unavailable"
		code = http.StatusServiceUnavailable
	} else if v, err := a.db.SchemaVersion(ctx); err == nil {
		dbStatus["schema_version"] = v
	}

	sources := a.degradation.GetAllServiceHealth()
	if a.degradation.Worst() == resilience.LevelCritical && code == http.StatusOK {
		status = "degraded"
	}

	c.JSON(code, gin.H{
		"status":         status,
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
		"version":        version,
		"database":       dbStatus,
		"redis":          a.redis.GetPoolStats(),
		"sources":        sources,
		"events_dropped": a.bus.Dropped(),
		"metrics":        a.metrics.GetStats(),
	})
}

// handleMetrics publishes the bus drop counter and serves Prometheus metrics
func (a *app) handleMetrics(c *gin.Context) {
	a.metrics.SetEventsDropped(a.bus.Dropped())
	a.metrics.Handler().ServeHTTP(c.Writer, c.Request)
}

// handleCalculate scores one entity
//
// @Summary  Calculate the health of one deal, contact or company
// @Tags     health
// @Accept   json
// @Produce  json
// @Param    request body types.CalculateRequest true "entity to score"
// @Success  200 {object} calculateResponse
// @Failure  400 {object} map[string]interface{}
// @Router   /api/v1/health/calculate [post]
func (a *app) handleCalculate(c *gin.Context) {
	var req types.CalculateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(apperrors.NewValidationError("invalid calculate request", err.Error()))
		return
	}
	kind, err := parseKind(req.Kind)
	if err != nil {
		_ = c.Error(err)
		return
	}
	if err := a.security.ValidateID(req.ID); err != nil {
		_ = c.Error(apperrors.NewValidationError("invalid id", err.Error()))
		return
	}

	score, err := a.engine.CalculateHealth(c.Request.Context(), kind, req.ID)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, calculateResponse{Calculated: score != nil, Kind: kind, ID: req.ID, Score: score})
}

// handleCalculateAll scores every entity of an owner
//
// @Summary  Calculate the health of every entity of an owner
// @Tags     health
// @Accept   json
// @Produce  json
// @Param    request body ownerRequest true "owner"
// @Success  200 {object} batchResponse
// @Router   /api/v1/health/calculate-all [post]
func (a *app) handleCalculateAll(c *gin.Context) {
	var req ownerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(apperrors.NewValidationError("owner_id is required", err.Error()))
		return
	}
	scores, err := a.engine.CalculateAllHealth(c.Request.Context(), req.OwnerID)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, batchResponse{OwnerID: req.OwnerID, Count: len(scores), Scores: scores})
}

// handleRefresh recalculates stale scores of an owner
//
// @Summary  Recalculate scores older than max_age_hours
// @Tags     health
// @Accept   json
// @Produce  json
// @Param    request body types.RefreshRequest true "refresh options"
// @Success  200 {object} types.RefreshResult
// @Router   /api/v1/health/refresh [post]
func (a *app) handleRefresh(c *gin.Context) {
	var req types.RefreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(apperrors.NewValidationError("invalid refresh request", err.Error()))
		return
	}
	if req.MaxAgeHours < 0 {
		_ = c.Error(apperrors.NewValidationError("max_age_hours must not be negative"))
		return
	}
	maxAge := time.Duration(req.MaxAgeHours * float64(time.Hour))
	result, err := a.engine.RefreshStale(c.Request.Context(), req.OwnerID, maxAge, req.Force)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// handleTriage ranks an owner's scores worst-first
//
// @Summary  Worst-first ranking of an owner's deals and relationships
// @Tags     health
// @Produce  json
// @Param    owner_id query string true  "owner"
// @Param    limit    query int    false "maximum entries"
// @Success  200 {object} triage.Response
// @Router   /api/v1/health/triage [get]
func (a *app) handleTriage(c *gin.Context) {
	ownerID, ok := requireOwner(c)
	if !ok {
		return
	}
	limit, err := queryInt(c, "limit", 0)
	if err != nil {
		_ = c.Error(err)
		return
	}
	resp, err := a.engine.Triage(c.Request.Context(), ownerID, limit)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// handleGetScore returns the stored score of an entity
//
// @Summary  Current health score of an entity
// @Tags     scores
// @Produce  json
// @Param    kind path string true "deal, contact or company"
// @Param    id   path string true "entity id"
// @Success  200 {object} types.HealthScore
// @Failure  404 {object} map[string]interface{}
// @Router   /api/v1/scores/{kind}/{id} [get]
func (a *app) handleGetScore(c *gin.Context) {
	kind, err := parseKind(c.Param("kind"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	score, err := a.engine.GetScore(c.Request.Context(), kind, c.Param("id"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, score)
}

// handleHistory returns the score history of an entity, newest first
//
// @Summary  Score history of an entity
// @Tags     scores
// @Produce  json
// @Param    kind  path  string true  "deal, contact or company"
// @Param    id    path  string true  "entity id"
// @Param    limit query int    false "maximum snapshots"
// @Success  200 {array} types.HistorySnapshot
// @Router   /api/v1/scores/{kind}/{id}/history [get]
func (a *app) handleHistory(c *gin.Context) {
	kind, err := parseKind(c.Param("kind"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	limit, err := queryInt(c, "limit", 30)
	if err != nil {
		_ = c.Error(err)
		return
	}
	history, err := a.engine.History(c.Request.Context(), kind, c.Param("id"), limit)
	if err != nil {
		_ = c.Error(err)
		return
	}
	if history == nil {
		history = []*types.HistorySnapshot{}
	}
	c.JSON(http.StatusOK, history)
}

// handleEvaluate runs the alert rules against the stored score of an entity
//
// @Summary  Evaluate alert rules against the stored score
// @Tags     alerts
// @Produce  json
// @Param    kind path string true "deal, contact or company"
// @Param    id   path string true "entity id"
// @Success  200 {object} alertsResponse
// @Router   /api/v1/scores/{kind}/{id}/alerts [post]
func (a *app) handleEvaluate(c *gin.Context) {
	kind, err := parseKind(c.Param("kind"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	id := c.Param("id")
	score, err := a.engine.GetScore(c.Request.Context(), kind, id)
	if err != nil {
		_ = c.Error(err)
		return
	}
	created, err := a.engine.GenerateAlertsForEntity(c.Request.Context(), id, score)
	if err != nil {
		_ = c.Error(err)
		return
	}
	if created == nil {
		created = []*types.HealthAlert{}
	}
	c.JSON(http.StatusOK, alertsResponse{Alerts: created, Count: len(created)})
}

// handleListAlerts lists alerts by owner, entity and status
//
// @Summary  List alerts
// @Tags     alerts
// @Produce  json
// @Param    owner_id  query string false "owner"
// @Param    entity_id query string false "entity"
// @Param    status    query string false "active, acknowledged, resolved or dismissed"
// @Param    limit     query int    false "maximum alerts"
// @Success  200 {object} alertsResponse
// @Router   /api/v1/alerts [get]
func (a *app) handleListAlerts(c *gin.Context) {
	limit, err := queryInt(c, "limit", defaultAlertLimit)
	if err != nil {
		_ = c.Error(err)
		return
	}
	filter := types.AlertFilter{
		OwnerID:  c.Query("owner_id"),
		EntityID: c.Query("entity_id"),
		Status:   types.AlertStatus(c.Query("status")),
		Limit:    limit,
	}
	switch filter.Status {
	case "", types.AlertActive, types.AlertAcknowledged, types.AlertResolved, types.AlertDismissed:
	default:
		_ = c.Error(apperrors.NewValidationError("unknown alert status", string(filter.Status)))
		return
	}

	alerts, err := a.alerts.ListAlerts(c.Request.Context(), filter)
	if err != nil {
		_ = c.Error(err)
		return
	}
	if alerts == nil {
		alerts = []*types.HealthAlert{}
	}
	c.JSON(http.StatusOK, alertsResponse{Alerts: alerts, Count: len(alerts)})
}

// transition adapts one lifecycle operation to a handler. A refused
// transition is reported as 404 for a missing alert and 409 otherwise.
func (a *app) transition(op func(ctx context.Context, id string) (bool, error)) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		id := c.Param("id")

		changed, err := op(ctx, id)
		if err != nil {
			_ = c.Error(err)
			return
		}

		alert, err := a.repo.GetAlert(ctx, id)
		if err != nil {
			_ = c.Error(err)
			return
		}
		if !changed {
			_ = c.Error(fmt.Errorf("alert %s is %s: %w", id, alert.Status, apperrors.ErrInvalidTransition))
			return
		}
		c.JSON(http.StatusOK, transitionResponse{ID: id, Changed: true, Status: alert.Status})
	}
}

// handleListRules lists an owner's alert rules
//
// @Summary  List alert rules of an owner
// @Tags     rules
// @Produce  json
// @Param    owner_id query string true "owner"
// @Success  200 {array} types.AlertRule
// @Router   /api/v1/rules [get]
func (a *app) handleListRules(c *gin.Context) {
	ownerID, ok := requireOwner(c)
	if !ok {
		return
	}
	rules, err := a.alerts.ListRules(c.Request.Context(), ownerID)
	if err != nil {
		_ = c.Error(err)
		return
	}
	if rules == nil {
		rules = []*types.AlertRule{}
	}
	c.JSON(http.StatusOK, rules)
}

// handleSaveRule creates or replaces an alert rule
//
// @Summary  Create or replace an alert rule
// @Tags     rules
// @Accept   json
// @Produce  json
// @Param    rule body types.AlertRule true "rule"
// @Success  201 {object} types.AlertRule
// @Failure  400 {object} map[string]interface{}
// @Router   /api/v1/rules [post]
func (a *app) handleSaveRule(c *gin.Context) {
	var rule types.AlertRule
	if err := c.ShouldBindJSON(&rule); err != nil {
		_ = c.Error(apperrors.NewValidationError("invalid alert rule", err.Error()))
		return
	}
	if err := a.alerts.SaveRule(c.Request.Context(), &rule); err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, &rule)
}

// handleScoringConfig returns the effective scoring tables
func (a *app) handleScoringConfig(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"path":   a.scoringConfig.Path(),
		"config": a.analyzer.Config(),
	})
}

// handleImport loads a YAML dataset of entities, interactions and rules
//
// @Summary  Import a YAML seed dataset
// @Tags     admin
// @Accept   application/x-yaml
// @Produce  json
// @Success  200 {object} database.ImportResult
// @Router   /api/v1/admin/import [post]
func (a *app) handleImport(c *gin.Context) {
	result, err := a.importer.ImportYAML(c.Request.Context(), c.Request.Body)
	if err != nil {
		var appErr *apperrors.AppError
		if !errors.As(err, &appErr) {
			err = apperrors.NewValidationError("import failed", err.Error())
		}
		_ = c.Error(err)
		return
	}
	a.baselines.Clear()
	c.JSON(http.StatusOK, result)
}

// handleCacheStats reports the baseline cache
func (a *app) handleCacheStats(c *gin.Context) {
	c.JSON(http.StatusOK, a.baselines.Stats())
}
