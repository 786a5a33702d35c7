package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// AlertType is the closed set of alert kinds a rule can produce
type AlertType string

const (
	AlertStageStall           AlertType = "stage_stall"
	AlertSentimentDrop        AlertType = "sentiment_drop"
	AlertEngagementDecline    AlertType = "engagement_decline"
	AlertNoActivity           AlertType = "no_activity"
	AlertMissedFollowUp       AlertType = "missed_follow_up"
	AlertCloseDateApproaching AlertType = "close_date_approaching"
	AlertHighRisk             AlertType = "high_risk"
	AlertGhostRisk            AlertType = "ghost_risk"
)

// Severity is copied from the rule onto the alert
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// ActionPriority tells the owner how quickly to act
type ActionPriority string

const (
	PriorityUrgent ActionPriority = "urgent"
	PriorityMedium ActionPriority = "medium"
)

// AlertStatus is the lifecycle state of an alert
type AlertStatus string

const (
	AlertActive       AlertStatus = "active"
	AlertAcknowledged AlertStatus = "acknowledged"
	AlertResolved     AlertStatus = "resolved"
	AlertDismissed    AlertStatus = "dismissed"
)

// IsOpen reports whether the alert still blocks a duplicate of its type
func (s AlertStatus) IsOpen() bool {
	return s == AlertActive || s == AlertAcknowledged
}

// ThresholdOperator compares a metric against a rule threshold
type ThresholdOperator string

const (
	OpGreater      ThresholdOperator = ">"
	OpLess         ThresholdOperator = "<"
	OpGreaterEqual ThresholdOperator = ">="
	OpLessEqual    ThresholdOperator = "<="
	OpEqual        ThresholdOperator = "="
)

// ThresholdUnit selects which metric a rule type is compared on
type ThresholdUnit string

const (
	UnitDays    ThresholdUnit = "days"
	UnitScore   ThresholdUnit = "score"
	UnitDelta   ThresholdUnit = "delta"
	UnitCount   ThresholdUnit = "count"
	UnitPercent ThresholdUnit = "percent"
)

// ConditionKind tags the variant stored in a RuleCondition
type ConditionKind string

const (
	ConditionStageEquals  ConditionKind = "stage_equals"
	ConditionValueRange   ConditionKind = "value_range"
	ConditionHasCloseDate ConditionKind = "has_close_date"
)

// RuleCondition is the persisted form of an entity attribute filter.
// Only the fields of the tagged kind are meaningful.
type RuleCondition struct {
	Kind  ConditionKind    `json:"kind" yaml:"kind"`
	Stage string           `json:"stage,omitempty" yaml:"stage,omitempty"`
	Min   *decimal.Decimal `json:"min,omitempty" yaml:"min,omitempty"`
	Max   *decimal.Decimal `json:"max,omitempty" yaml:"max,omitempty"`
}

// AlertRule is an owner-configured threshold rule
type AlertRule struct {
	ID                string            `json:"id"`
	OwnerID           string            `json:"owner_id"`
	Name              string            `json:"name"`
	EntityKind        EntityKind        `json:"entity_kind,omitempty"`
	RuleType          AlertType         `json:"rule_type"`
	ThresholdValue    float64           `json:"threshold_value"`
	ThresholdOperator ThresholdOperator `json:"threshold_operator"`
	ThresholdUnit     ThresholdUnit     `json:"threshold_unit"`
	Severity          Severity          `json:"alert_severity"`
	TitleTemplate     string            `json:"title_template"`
	MessageTemplate   string            `json:"message_template"`
	SuggestedActions  []string          `json:"suggested_actions"`
	Conditions        []RuleCondition   `json:"conditions,omitempty"`
	IsActive          bool              `json:"is_active"`
	CreatedAt         time.Time         `json:"created_at"`
}

// AppliesTo reports whether the rule is scoped to the given kind
func (r *AlertRule) AppliesTo(kind EntityKind) bool {
	return r.EntityKind == "" || r.EntityKind == kind
}

// HealthAlert is one triggered condition for one entity
type HealthAlert struct {
	ID                   string         `json:"id"`
	EntityID             string         `json:"entity_id"`
	EntityKind           EntityKind     `json:"entity_kind"`
	OwnerID              string         `json:"owner_id"`
	HealthScoreID        string         `json:"health_score_id"`
	RuleID               string         `json:"rule_id"`
	AlertType            AlertType      `json:"alert_type"`
	Severity             Severity       `json:"severity"`
	Title                string         `json:"title"`
	Message              string         `json:"message"`
	SuggestedActions     []string       `json:"suggested_actions"`
	ActionPriority       ActionPriority `json:"action_priority"`
	Status               AlertStatus    `json:"status"`
	CreatedAt            time.Time      `json:"created_at"`
	AcknowledgedAt       *time.Time     `json:"acknowledged_at,omitempty"`
	ResolvedAt           *time.Time     `json:"resolved_at,omitempty"`
	NotifiedAt           *time.Time     `json:"notified_at,omitempty"`
	NotificationChannels []string       `json:"notification_channels,omitempty"`
	NotificationError    string         `json:"notification_error,omitempty"`
}

// AlertFilter narrows alert listings
type AlertFilter struct {
	OwnerID  string
	EntityID string
	Status   AlertStatus
	Limit    int
}
