package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	apperrors "github.com/ZanzyTHEbar/deal-health-engine/internal/errors"
	"github.com/ZanzyTHEbar/deal-health-engine/internal/types"
)

// SaveScore writes the live score and its history snapshot in one
// transaction. Either both rows are written or neither is.
func (r *Repository) SaveScore(ctx context.Context, score *types.HealthScore, snap *types.HistorySnapshot) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return apperrors.NewStorageError("begin score transaction", err)
	}
	if err := r.upsertScore(ctx, tx, score); err != nil {
		tx.Rollback()
		return err
	}
	if err := r.appendHistory(ctx, tx, snap); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return apperrors.NewStorageError("commit score transaction", err)
	}
	return nil
}

// UpsertScore writes the live score for (kind, entity). On conflict the
// existing row keeps its id, which is written back into score.ID.
func (r *Repository) UpsertScore(ctx context.Context, score *types.HealthScore) error {
	return r.upsertScore(ctx, nil, score)
}

// AppendHistory adds a snapshot to the append-only history
func (r *Repository) AppendHistory(ctx context.Context, snap *types.HistorySnapshot) error {
	return r.appendHistory(ctx, nil, snap)
}

// statement returns a prepared statement, bound to tx when one is given
func (r *Repository) statement(ctx context.Context, tx *sql.Tx, name string) (*sql.Stmt, error) {
	stmt, err := r.db.GetPreparedStatement(name)
	if err != nil {
		return nil, err
	}
	if tx != nil {
		return tx.StmtContext(ctx, stmt), nil
	}
	return stmt, nil
}

func (r *Repository) upsertScore(ctx context.Context, tx *sql.Tx, score *types.HealthScore) error {
	if score.ID == "" {
		score.ID = uuid.NewString()
	}

	signals, err := toJSON(score.Signals)
	if err != nil {
		return fmt.Errorf("encode signals: %w", err)
	}
	riskFactors := score.RiskFactors
	if riskFactors == nil {
		riskFactors = []string{}
	}
	factors, err := toJSON(riskFactors)
	if err != nil {
		return fmt.Errorf("encode risk factors: %w", err)
	}
	dealMetrics, err := nullableJSON(score.DealMetrics)
	if err != nil {
		return fmt.Errorf("encode deal metrics: %w", err)
	}
	relMetrics, err := nullableJSON(score.RelationshipMetrics)
	if err != nil {
		return fmt.Errorf("encode relationship metrics: %w", err)
	}
	baseline, err := nullableJSON(score.Baseline)
	if err != nil {
		return fmt.Errorf("encode baseline: %w", err)
	}

	stmt, err := r.statement(ctx, tx, stmtUpsertScore)
	if err != nil {
		return err
	}
	var id string
	err = stmt.QueryRowContext(ctx,
		score.ID, score.EntityID, string(score.EntityKind), score.EntityName, score.OwnerID,
		score.OverallScore, string(score.Status), string(score.RiskLevel), signals,
		dealMetrics, relMetrics, baseline, factors, score.IsGhostRisk,
		nullInt(score.GhostProbabilityPercent), nullInt(score.DaysUntilPredictedGhost),
		nullInt(score.PredictedDaysToClose), formatTime(score.LastCalculatedAt),
	).Scan(&id)
	if err != nil {
		return apperrors.NewStorageError("upsert health score", err)
	}
	score.ID = id
	return nil
}

func (r *Repository) appendHistory(ctx context.Context, tx *sql.Tx, snap *types.HistorySnapshot) error {
	if snap.ID == "" {
		snap.ID = uuid.NewString()
	}
	signals, err := toJSON(snap.Signals)
	if err != nil {
		return fmt.Errorf("encode signals: %w", err)
	}

	stmt, err := r.statement(ctx, tx, stmtInsertHistory)
	if err != nil {
		return err
	}
	if _, err := stmt.ExecContext(ctx, snap.ID, snap.EntityID, string(snap.EntityKind),
		snap.OverallScore, string(snap.Status), signals, formatTime(snap.RecordedAt)); err != nil {
		return apperrors.NewStorageError("append score history", err)
	}
	return nil
}

// GetScore returns the live score of an entity
func (r *Repository) GetScore(ctx context.Context, kind types.EntityKind, entityID string) (*types.HealthScore, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+scoreColumns+` FROM health_scores
		WHERE entity_kind = ? AND entity_id = ?`, string(kind), entityID)
	s, err := scanScore(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s %s: %w", kind, entityID, apperrors.ErrScoreNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get health score: %w", err)
	}
	return s, nil
}

// ListScores returns every live score of the owner
func (r *Repository) ListScores(ctx context.Context, ownerID string) ([]*types.HealthScore, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+scoreColumns+` FROM health_scores
		WHERE owner_id = ? ORDER BY entity_kind, entity_id`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list health scores: %w", err)
	}
	defer rows.Close()

	var out []*types.HealthScore
	for rows.Next() {
		s, err := scanScore(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// History returns up to limit snapshots, newest first. limit <= 0 returns all.
func (r *Repository) History(ctx context.Context, kind types.EntityKind, entityID string, limit int) ([]*types.HistorySnapshot, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, entity_id, entity_kind, overall_score, status, signals, recorded_at
		FROM health_score_history
		WHERE entity_kind = ? AND entity_id = ?
		ORDER BY recorded_at DESC, rowid DESC
		LIMIT ?
	`, string(kind), entityID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query score history: %w", err)
	}
	defer rows.Close()

	var out []*types.HistorySnapshot
	for rows.Next() {
		var (
			h                         types.HistorySnapshot
			k, status, signals, taken string
		)
		if err := rows.Scan(&h.ID, &h.EntityID, &k, &h.OverallScore, &status, &signals, &taken); err != nil {
			return nil, err
		}
		h.EntityKind = types.EntityKind(k)
		h.Status = types.HealthStatus(status)
		if err := json.Unmarshal([]byte(signals), &h.Signals); err != nil {
			return nil, fmt.Errorf("decode signals: %w", err)
		}
		if h.RecordedAt, err = parseTime(taken); err != nil {
			return nil, err
		}
		out = append(out, &h)
	}
	return out, rows.Err()
}
