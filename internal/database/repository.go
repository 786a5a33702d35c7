package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/ZanzyTHEbar/deal-health-engine/internal/errors"
	"github.com/ZanzyTHEbar/deal-health-engine/internal/types"
)

// Repository handles database operations. It implements every reader and
// store interface the engine depends on.
type Repository struct {
	db *DB
}

// NewRepository creates a new repository
func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}

// GetEntity loads one entity of the given kind
func (r *Repository) GetEntity(ctx context.Context, kind types.EntityKind, id string) (*types.Entity, error) {
	stmt, err := r.db.GetPreparedStatement(stmtGetEntity)
	if err != nil {
		return nil, err
	}
	e, err := scanEntity(stmt.QueryRowContext(ctx, id, string(kind)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s %s: %w", kind, id, apperrors.ErrEntityNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get entity: %w", err)
	}
	return e, nil
}

// ListEntities returns the owner's deals, then contacts, then companies
func (r *Repository) ListEntities(ctx context.Context, ownerID string) ([]types.EntityRef, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, kind FROM entities
		WHERE owner_id = ?
		ORDER BY CASE kind WHEN 'deal' THEN 0 WHEN 'contact' THEN 1 ELSE 2 END, created_at, id
	`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list entities: %w", err)
	}
	defer rows.Close()

	var refs []types.EntityRef
	for rows.Next() {
		var ref types.EntityRef
		var kind string
		if err := rows.Scan(&ref.ID, &kind); err != nil {
			return nil, err
		}
		ref.Kind = types.EntityKind(kind)
		refs = append(refs, ref)
	}
	return refs, rows.Err()
}

// SaveEntity inserts or replaces an entity
func (r *Repository) SaveEntity(ctx context.Context, e *types.Entity) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		return apperrors.NewValidationError("entity created_at is required")
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO entities (`+entityColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			kind = excluded.kind,
			owner_id = excluded.owner_id,
			name = excluded.name,
			company_name = excluded.company_name,
			stage = excluded.stage,
			stage_entered_at = excluded.stage_entered_at,
			value = excluded.value,
			expected_close_date = excluded.expected_close_date
	`, e.ID, string(e.Kind), e.OwnerID, e.Name, e.CompanyName, e.Stage,
		nullableTime(e.StageEnteredAt), e.Value, nullableTime(e.ExpectedCloseDate), formatTime(e.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to save entity: %w", err)
	}
	return nil
}

// Meetings returns meetings of the entity starting at or after since
func (r *Repository) Meetings(ctx context.Context, entityID string, since time.Time) ([]types.Meeting, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, entity_id, start_time, sentiment FROM meetings
		WHERE entity_id = ? AND start_time >= ?
		ORDER BY start_time
	`, entityID, formatTime(since))
	if err != nil {
		return nil, fmt.Errorf("failed to query meetings: %w", err)
	}
	defer rows.Close()

	var out []types.Meeting
	for rows.Next() {
		var (
			m         types.Meeting
			start     string
			sentiment sql.NullFloat64
		)
		if err := rows.Scan(&m.ID, &m.EntityID, &start, &sentiment); err != nil {
			return nil, err
		}
		if m.StartTime, err = parseTime(start); err != nil {
			return nil, err
		}
		m.Sentiment = floatFromNull(sentiment)
		out = append(out, m)
	}
	return out, rows.Err()
}

// Communications returns messages of the entity sent at or after since
func (r *Repository) Communications(ctx context.Context, entityID string, since time.Time) ([]types.Communication, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, entity_id, channel, direction, timestamp, sentiment, replied, opened, response_time_hours
		FROM communications
		WHERE entity_id = ? AND timestamp >= ?
		ORDER BY timestamp
	`, entityID, formatTime(since))
	if err != nil {
		return nil, fmt.Errorf("failed to query communications: %w", err)
	}
	defer rows.Close()

	var out []types.Communication
	for rows.Next() {
		var (
			c                   types.Communication
			direction, ts       string
			sentiment, response sql.NullFloat64
		)
		if err := rows.Scan(&c.ID, &c.EntityID, &c.Channel, &direction, &ts, &sentiment,
			&c.Replied, &c.Opened, &response); err != nil {
			return nil, err
		}
		c.Direction = types.Direction(direction)
		if c.Timestamp, err = parseTime(ts); err != nil {
			return nil, err
		}
		c.Sentiment = floatFromNull(sentiment)
		c.ResponseTimeHours = floatFromNull(response)
		out = append(out, c)
	}
	return out, rows.Err()
}

// Activities returns logged touchpoints of the entity at or after since
func (r *Repository) Activities(ctx context.Context, entityID string, since time.Time) ([]types.Activity, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, entity_id, type, timestamp FROM activities
		WHERE entity_id = ? AND timestamp >= ?
		ORDER BY timestamp
	`, entityID, formatTime(since))
	if err != nil {
		return nil, fmt.Errorf("failed to query activities: %w", err)
	}
	defer rows.Close()

	var out []types.Activity
	for rows.Next() {
		var a types.Activity
		var ts string
		if err := rows.Scan(&a.ID, &a.EntityID, &a.Type, &ts); err != nil {
			return nil, err
		}
		if a.Timestamp, err = parseTime(ts); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// RelatedDeals returns the deals linked to a contact or company along with
// the status of their current score, if any
func (r *Repository) RelatedDeals(ctx context.Context, kind types.EntityKind, id string) ([]types.LinkedDeal, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT e.id, e.value, COALESCE(h.status, '')
		FROM deal_links l
		JOIN entities e ON e.id = l.deal_id AND e.kind = 'deal'
		LEFT JOIN health_scores h ON h.entity_kind = 'deal' AND h.entity_id = e.id
		WHERE l.relationship_kind = ? AND l.relationship_id = ?
		ORDER BY e.id
	`, string(kind), id)
	if err != nil {
		return nil, fmt.Errorf("failed to query related deals: %w", err)
	}
	defer rows.Close()

	var out []types.LinkedDeal
	for rows.Next() {
		var d types.LinkedDeal
		var status string
		if err := rows.Scan(&d.DealID, &d.Value, &status); err != nil {
			return nil, err
		}
		d.HealthStatus = types.HealthStatus(status)
		out = append(out, d)
	}
	return out, rows.Err()
}

// AddMeeting records a meeting
func (r *Repository) AddMeeting(ctx context.Context, m *types.Meeting) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO meetings (id, entity_id, start_time, sentiment) VALUES (?, ?, ?, ?)
	`, m.ID, m.EntityID, formatTime(m.StartTime), nullFloat(m.Sentiment))
	if err != nil {
		return fmt.Errorf("failed to add meeting: %w", err)
	}
	return nil
}

// AddCommunication records a message or call
func (r *Repository) AddCommunication(ctx context.Context, c *types.Communication) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO communications (
			id, entity_id, channel, direction, timestamp, sentiment, replied, opened, response_time_hours
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, c.ID, c.EntityID, c.Channel, string(c.Direction), formatTime(c.Timestamp),
		nullFloat(c.Sentiment), c.Replied, c.Opened, nullFloat(c.ResponseTimeHours))
	if err != nil {
		return fmt.Errorf("failed to add communication: %w", err)
	}
	return nil
}

// AddActivity records a logged touchpoint
func (r *Repository) AddActivity(ctx context.Context, a *types.Activity) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO activities (id, entity_id, type, timestamp) VALUES (?, ?, ?, ?)
	`, a.ID, a.EntityID, a.Type, formatTime(a.Timestamp))
	if err != nil {
		return fmt.Errorf("failed to add activity: %w", err)
	}
	return nil
}

// LinkDeal attaches a deal to a contact or company. Linking twice is a no-op.
func (r *Repository) LinkDeal(ctx context.Context, kind types.EntityKind, relationshipID, dealID string) error {
	if !kind.IsRelationship() {
		return fmt.Errorf("link deal to %s: %w", kind, apperrors.ErrInvalidKind)
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO deal_links (relationship_kind, relationship_id, deal_id) VALUES (?, ?, ?)
	`, string(kind), relationshipID, dealID)
	if err != nil {
		return fmt.Errorf("failed to link deal: %w", err)
	}
	return nil
}
