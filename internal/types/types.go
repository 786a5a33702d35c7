package types

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// EntityKind identifies what a health score is about
type EntityKind string

const (
	KindDeal    EntityKind = "deal"
	KindContact EntityKind = "contact"
	KindCompany EntityKind = "company"
)

// ParseEntityKind normalizes user input into a known kind
func ParseEntityKind(s string) (EntityKind, bool) {
	switch EntityKind(strings.ToLower(strings.TrimSpace(s))) {
	case KindDeal:
		return KindDeal, true
	case KindContact:
		return KindContact, true
	case KindCompany:
		return KindCompany, true
	}
	return "", false
}

// IsRelationship reports whether the kind is scored with the relationship model
func (k EntityKind) IsRelationship() bool {
	return k == KindContact || k == KindCompany
}

// HealthStatus is the discrete status derived from a score. Deals use
// healthy/warning/critical/stalled, relationships healthy/at_risk/critical/ghost.
type HealthStatus string

const (
	StatusHealthy  HealthStatus = "healthy"
	StatusWarning  HealthStatus = "warning"
	StatusCritical HealthStatus = "critical"
	StatusStalled  HealthStatus = "stalled"
	StatusAtRisk   HealthStatus = "at_risk"
	StatusGhost    HealthStatus = "ghost"
)

// RiskLevel is derived from the score and the number of risk factors
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// Rank orders risk levels, higher is worse
func (r RiskLevel) Rank() int {
	switch r {
	case RiskCritical:
		return 3
	case RiskHigh:
		return 2
	case RiskMedium:
		return 1
	}
	return 0
}

// Trend classifies the direction of recent sentiment samples
type Trend string

const (
	TrendImproving Trend = "improving"
	TrendStable    Trend = "stable"
	TrendDeclining Trend = "declining"
	TrendUnknown   Trend = "unknown"
)

// Signal names one behavioral dimension reduced to a 0-100 score
type Signal string

const (
	SignalStage                  Signal = "stage"
	SignalSentiment              Signal = "sentiment"
	SignalEngagement             Signal = "engagement"
	SignalActivity               Signal = "activity"
	SignalResponseTime           Signal = "response_time"
	SignalResponseBehavior       Signal = "response_behavior"
	SignalCommunicationFrequency Signal = "communication_frequency"
	SignalEngagementQuality      Signal = "engagement_quality"
	SignalMeetingPattern         Signal = "meeting_pattern"
)

// Entity holds the core attributes of a deal, contact or company
type Entity struct {
	ID                string          `json:"id"`
	Kind              EntityKind      `json:"kind"`
	OwnerID           string          `json:"owner_id"`
	Name              string          `json:"name"`
	CompanyName       string          `json:"company_name,omitempty"`
	Stage             string          `json:"stage,omitempty"`
	StageEnteredAt    *time.Time      `json:"stage_entered_at,omitempty"`
	Value             decimal.Decimal `json:"value"`
	ExpectedCloseDate *time.Time      `json:"expected_close_date,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
}

// EntityRef points at an entity without loading it
type EntityRef struct {
	ID   string     `json:"id"`
	Kind EntityKind `json:"kind"`
}

// Direction of a communication relative to the owner
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// Meeting is a held or scheduled meeting with an optional sentiment sample
type Meeting struct {
	ID        string    `json:"id"`
	EntityID  string    `json:"entity_id"`
	StartTime time.Time `json:"start_time"`
	Sentiment *float64  `json:"sentiment,omitempty"`
}

// Communication is a single message or call event
type Communication struct {
	ID                string    `json:"id"`
	EntityID          string    `json:"entity_id"`
	Channel           string    `json:"channel"`
	Direction         Direction `json:"direction"`
	Timestamp         time.Time `json:"timestamp"`
	Sentiment         *float64  `json:"sentiment,omitempty"`
	Replied           bool      `json:"replied"`
	Opened            bool      `json:"opened"`
	ResponseTimeHours *float64  `json:"response_time_hours,omitempty"`
}

// IsEmail reports whether open tracking applies
func (c Communication) IsEmail() bool {
	return strings.EqualFold(c.Channel, "email")
}

// Activity is any other logged touchpoint (task, note, call log)
type Activity struct {
	ID        string    `json:"id"`
	EntityID  string    `json:"entity_id"`
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
}

// LinkedDeal is a deal attached to a contact or company, with its own health
type LinkedDeal struct {
	DealID       string          `json:"deal_id"`
	Value        decimal.Decimal `json:"value"`
	HealthStatus HealthStatus    `json:"health_status,omitempty"`
}

// DealRollup aggregates the deals linked to a relationship
type DealRollup struct {
	Count       int             `json:"count"`
	TotalValue  decimal.Decimal `json:"total_value"`
	ValueAtRisk decimal.Decimal `json:"value_at_risk"`
}

// SentimentSummary is shared by both metric shapes
type SentimentSummary struct {
	Samples []float64 `json:"samples,omitempty"`
	Average *float64  `json:"average,omitempty"`
	Trend   Trend     `json:"trend"`
	Delta   *float64  `json:"delta,omitempty"`
}

// DealMetrics is the raw input snapshot for a deal score. Nil means no data.
type DealMetrics struct {
	Stage                 string           `json:"stage"`
	DaysInStage           *int             `json:"days_in_stage,omitempty"`
	DaysSinceLastMeeting  *int             `json:"days_since_last_meeting,omitempty"`
	DaysSinceLastActivity *int             `json:"days_since_last_activity,omitempty"`
	MeetingsLast30Days    *int             `json:"meetings_last_30_days,omitempty"`
	ActivitiesLast30Days  *int             `json:"activities_last_30_days,omitempty"`
	Sentiment             SentimentSummary `json:"sentiment"`
	AvgResponseHours      *float64         `json:"avg_response_hours,omitempty"`
	DaysUntilClose        *int             `json:"days_until_close,omitempty"`
	Value                 decimal.Decimal  `json:"value"`
}

// RelationshipMetrics is the raw input snapshot for a contact or company score
type RelationshipMetrics struct {
	DaysSinceLastContact     *int             `json:"days_since_last_contact,omitempty"`
	DaysSinceLastResponse    *int             `json:"days_since_last_response,omitempty"`
	ResponseRatePercent      *float64         `json:"response_rate_percent,omitempty"`
	EmailOpenRatePercent     *float64         `json:"email_open_rate_percent,omitempty"`
	EmailsSentLast30Days     *int             `json:"emails_sent_last_30_days,omitempty"`
	CommunicationsLast30Days *int             `json:"communications_last_30_days,omitempty"`
	InboundLast30Days        *int             `json:"inbound_last_30_days,omitempty"`
	OutboundLast30Days       *int             `json:"outbound_last_30_days,omitempty"`
	MeetingsLast30Days       *int             `json:"meetings_last_30_days,omitempty"`
	DaysSinceLastMeeting     *int             `json:"days_since_last_meeting,omitempty"`
	Sentiment                SentimentSummary `json:"sentiment"`
	AvgResponseHours         *float64         `json:"avg_response_hours,omitempty"`
	RelatedDeals             *DealRollup      `json:"related_deals,omitempty"`
}

// Baseline is an entity's own historical normal over the trailing window
type Baseline struct {
	ResponseHours  *float64 `json:"response_hours,omitempty"`
	ContactGapDays *float64 `json:"contact_gap_days,omitempty"`
	MeetingGapDays *float64 `json:"meeting_gap_days,omitempty"`
	WindowDays     int      `json:"window_days"`
}

// HealthScore is the live score record, one per entity
type HealthScore struct {
	ID                      string               `json:"id"`
	EntityID                string               `json:"entity_id"`
	EntityKind              EntityKind           `json:"entity_kind"`
	EntityName              string               `json:"entity_name"`
	OwnerID                 string               `json:"owner_id"`
	OverallScore            int                  `json:"overall_score"`
	Status                  HealthStatus         `json:"status"`
	RiskLevel               RiskLevel            `json:"risk_level"`
	Signals                 map[Signal]int       `json:"signals"`
	DealMetrics             *DealMetrics         `json:"deal_metrics,omitempty"`
	RelationshipMetrics     *RelationshipMetrics `json:"relationship_metrics,omitempty"`
	Baseline                *Baseline            `json:"baseline,omitempty"`
	RiskFactors             []string             `json:"risk_factors"`
	IsGhostRisk             bool                 `json:"is_ghost_risk"`
	GhostProbabilityPercent *int                 `json:"ghost_probability_percent,omitempty"`
	DaysUntilPredictedGhost *int                 `json:"days_until_predicted_ghost,omitempty"`
	PredictedDaysToClose    *int                 `json:"predicted_days_to_close,omitempty"`
	LastCalculatedAt        time.Time            `json:"last_calculated_at"`
}

// HasRiskFactor reports whether tag was detected
func (h *HealthScore) HasRiskFactor(tag string) bool {
	for _, f := range h.RiskFactors {
		if f == tag {
			return true
		}
	}
	return false
}

// HistorySnapshot is an append-only record written on every recalculation
type HistorySnapshot struct {
	ID           string         `json:"id"`
	EntityID     string         `json:"entity_id"`
	EntityKind   EntityKind     `json:"entity_kind"`
	OverallScore int            `json:"overall_score"`
	Status       HealthStatus   `json:"status"`
	Signals      map[Signal]int `json:"signals"`
	RecordedAt   time.Time      `json:"recorded_at"`
}

// RefreshResult is returned by a stale-score refresh
type RefreshResult struct {
	Updated []*HealthScore `json:"updated"`
	Skipped int            `json:"skipped"`
}

// CalculateRequest is the body accepted by the calculate endpoint
type CalculateRequest struct {
	Kind string `json:"kind" binding:"required"`
	ID   string `json:"id" binding:"required"`
}

// RefreshRequest is the body accepted by the refresh endpoint
type RefreshRequest struct {
	OwnerID     string  `json:"owner_id" binding:"required"`
	MaxAgeHours float64 `json:"max_age_hours"`
	Force       bool    `json:"force"`
}
