package analysis

import (
	"strings"

	"github.com/ZanzyTHEbar/deal-health-engine/internal/types"
)

// StageThresholds are the day bounds used by the stage velocity score
type StageThresholds struct {
	Optimal  int `yaml:"optimal" json:"optimal"`
	Warning  int `yaml:"warning" json:"warning"`
	Critical int `yaml:"critical" json:"critical"`
}

// Step is one row of a tier table
type Step struct {
	Bound  float64 `yaml:"bound" json:"bound"`
	Points int     `yaml:"points" json:"points"`
}

// FloorTable awards the points of the first step whose bound the value
// reaches (value >= bound). Steps are listed from the highest bound down.
type FloorTable struct {
	Steps []Step `yaml:"steps" json:"steps"`
	Else  int    `yaml:"else" json:"else"`
}

// Points looks up v in the table
func (t FloorTable) Points(v float64) int {
	for _, s := range t.Steps {
		if v >= s.Bound {
			return s.Points
		}
	}
	return t.Else
}

// CeilTable awards the points of the first step the value stays within
// (value <= bound). Steps are listed from the lowest bound up.
type CeilTable struct {
	Steps []Step `yaml:"steps" json:"steps"`
	Else  int    `yaml:"else" json:"else"`
}

// Points looks up v in the table
func (t CeilTable) Points(v float64) int {
	for _, s := range t.Steps {
		if v <= s.Bound {
			return s.Points
		}
	}
	return t.Else
}

// VolumeRecencyConfig drives the deal engagement and activity scores
type VolumeRecencyConfig struct {
	Base    int        `yaml:"base" json:"base"`
	Volume  FloorTable `yaml:"volume" json:"volume"`
	Recency CeilTable  `yaml:"recency" json:"recency"`
}

// ResponseConfig drives response time (deal) and response behavior (relationship)
type ResponseConfig struct {
	Base          int        `yaml:"base" json:"base"`
	Rate          FloorTable `yaml:"rate" json:"rate"`
	BaselineRatio CeilTable  `yaml:"baseline_ratio" json:"baseline_ratio"`
	AbsoluteHours CeilTable  `yaml:"absolute_hours" json:"absolute_hours"`
}

// CommunicationConfig drives the communication frequency score
type CommunicationConfig struct {
	Base                 int        `yaml:"base" json:"base"`
	Recency              CeilTable  `yaml:"recency" json:"recency"`
	Volume               FloorTable `yaml:"volume" json:"volume"`
	BaselineBonus        int        `yaml:"baseline_bonus" json:"baseline_bonus"`
	BaselinePenalty      int        `yaml:"baseline_penalty" json:"baseline_penalty"`
	BaselinePenaltyRatio float64    `yaml:"baseline_penalty_ratio" json:"baseline_penalty_ratio"`
}

// QualityConfig drives the engagement quality score
type QualityConfig struct {
	Base     int        `yaml:"base" json:"base"`
	OpenRate FloorTable `yaml:"open_rate" json:"open_rate"`
	Inbound  FloorTable `yaml:"inbound" json:"inbound"`
}

// MeetingConfig drives the meeting pattern score
type MeetingConfig struct {
	Base                 int        `yaml:"base" json:"base"`
	Volume               FloorTable `yaml:"volume" json:"volume"`
	Recency              CeilTable  `yaml:"recency" json:"recency"`
	BaselinePenalty      int        `yaml:"baseline_penalty" json:"baseline_penalty"`
	BaselinePenaltyRatio float64    `yaml:"baseline_penalty_ratio" json:"baseline_penalty_ratio"`
}

// SentimentConfig holds the trend threshold and trend adjustments
type SentimentConfig struct {
	TrendThreshold   float64 `yaml:"trend_threshold" json:"trend_threshold"`
	ImprovingBonus   int     `yaml:"improving_bonus" json:"improving_bonus"`
	DecliningPenalty int     `yaml:"declining_penalty" json:"declining_penalty"`
	NegativeCutoff   float64 `yaml:"negative_cutoff" json:"negative_cutoff"`
}

// StatusBands maps score floors to statuses. For relationships Warning is the
// at_risk floor and Critical is unused.
type StatusBands struct {
	Healthy  int `yaml:"healthy" json:"healthy"`
	Warning  int `yaml:"warning" json:"warning"`
	Critical int `yaml:"critical" json:"critical"`
}

// RiskBands escalate the risk level when the score falls below a band or
// the factor count reaches a limit
type RiskBands struct {
	CriticalBelow   int `yaml:"critical_below" json:"critical_below"`
	HighBelow       int `yaml:"high_below" json:"high_below"`
	MediumBelow     int `yaml:"medium_below" json:"medium_below"`
	CriticalFactors int `yaml:"critical_factors" json:"critical_factors"`
	HighFactors     int `yaml:"high_factors" json:"high_factors"`
	MediumFactors   int `yaml:"medium_factors" json:"medium_factors"`
}

// RiskConfig holds the cutoffs of the risk factor checklist
type RiskConfig struct {
	InactiveDays          int     `yaml:"inactive_days" json:"inactive_days"`
	SlowResponseRatio     float64 `yaml:"slow_response_ratio" json:"slow_response_ratio"`
	SlowResponseHours     float64 `yaml:"slow_response_hours" json:"slow_response_hours"`
	SilenceDays           int     `yaml:"silence_days" json:"silence_days"`
	MinEmailsForOpenCheck int     `yaml:"min_emails_for_open_check" json:"min_emails_for_open_check"`
	ContactGapRatio       float64 `yaml:"contact_gap_ratio" json:"contact_gap_ratio"`
	LowResponseRate       float64 `yaml:"low_response_rate" json:"low_response_rate"`
	MeetingDroughtDays    int     `yaml:"meeting_drought_days" json:"meeting_drought_days"`
}

// GhostConfig holds the ghost estimator parameters
type GhostConfig struct {
	WindowDays     int `yaml:"window_days" json:"window_days"`
	MinProbability int `yaml:"min_probability" json:"min_probability"`
}

// ScoringConfig collects every table the scoring core reads
type ScoringConfig struct {
	Stages                 map[string]StageThresholds `yaml:"stages" json:"stages"`
	DefaultStage           StageThresholds            `yaml:"default_stage" json:"default_stage"`
	StageOrder             []string                   `yaml:"stage_order" json:"stage_order"`
	DealWeights            map[types.Signal]float64   `yaml:"deal_weights" json:"deal_weights"`
	RelationshipWeights    map[types.Signal]float64   `yaml:"relationship_weights" json:"relationship_weights"`
	Sentiment              SentimentConfig            `yaml:"sentiment" json:"sentiment"`
	Engagement             VolumeRecencyConfig        `yaml:"engagement" json:"engagement"`
	Activity               VolumeRecencyConfig        `yaml:"activity" json:"activity"`
	Response               ResponseConfig             `yaml:"response" json:"response"`
	CommunicationFrequency CommunicationConfig        `yaml:"communication_frequency" json:"communication_frequency"`
	EngagementQuality      QualityConfig              `yaml:"engagement_quality" json:"engagement_quality"`
	MeetingPattern         MeetingConfig              `yaml:"meeting_pattern" json:"meeting_pattern"`
	DealStatus             StatusBands                `yaml:"deal_status" json:"deal_status"`
	RelationshipStatus     StatusBands                `yaml:"relationship_status" json:"relationship_status"`
	DealRisk               RiskBands                  `yaml:"deal_risk" json:"deal_risk"`
	RelationshipRisk       RiskBands                  `yaml:"relationship_risk" json:"relationship_risk"`
	Risk                   RiskConfig                 `yaml:"risk" json:"risk"`
	Ghost                  GhostConfig                `yaml:"ghost" json:"ghost"`
}

// ThresholdsFor returns the thresholds of a stage, matching names
// case-insensitively and falling back to DefaultStage
func (c *ScoringConfig) ThresholdsFor(stage string) StageThresholds {
	key := strings.ToLower(strings.TrimSpace(stage))
	if t, ok := c.Stages[key]; ok {
		return t
	}
	return c.DefaultStage
}

// DefaultScoringConfig returns the built-in tables
func DefaultScoringConfig() *ScoringConfig {
	return &ScoringConfig{
		Stages: map[string]StageThresholds{
			"lead":        {Optimal: 7, Warning: 14, Critical: 21},
			"sql":         {Optimal: 7, Warning: 14, Critical: 30},
			"opportunity": {Optimal: 14, Warning: 21, Critical: 45},
			"proposal":    {Optimal: 10, Warning: 21, Critical: 35},
			"negotiation": {Optimal: 7, Warning: 14, Critical: 28},
		},
		DefaultStage: StageThresholds{Optimal: 14, Warning: 21, Critical: 30},
		StageOrder:   []string{"lead", "sql", "opportunity", "proposal", "negotiation"},
		DealWeights: map[types.Signal]float64{
			types.SignalStage:        0.30,
			types.SignalSentiment:    0.25,
			types.SignalEngagement:   0.20,
			types.SignalActivity:     0.15,
			types.SignalResponseTime: 0.10,
		},
		RelationshipWeights: map[types.Signal]float64{
			types.SignalResponseBehavior:       0.30,
			types.SignalCommunicationFrequency: 0.25,
			types.SignalEngagementQuality:      0.20,
			types.SignalSentiment:              0.15,
			types.SignalMeetingPattern:         0.10,
		},
		Sentiment: SentimentConfig{
			TrendThreshold:   0.1,
			ImprovingBonus:   10,
			DecliningPenalty: -15,
			NegativeCutoff:   -0.3,
		},
		Engagement: VolumeRecencyConfig{
			Base:    50,
			Volume:  FloorTable{Steps: []Step{{4, 40}, {2, 25}, {1, 10}}, Else: -20},
			Recency: CeilTable{Steps: []Step{{7, 10}, {30, 0}}, Else: -20},
		},
		Activity: VolumeRecencyConfig{
			Base:    50,
			Volume:  FloorTable{Steps: []Step{{10, 40}, {5, 25}, {1, 10}}, Else: -30},
			Recency: CeilTable{Steps: []Step{{3, 10}, {14, 0}}, Else: -30},
		},
		Response: ResponseConfig{
			Base:          50,
			Rate:          FloorTable{Steps: []Step{{80, 50}, {60, 30}, {40, 10}, {20, -10}}, Else: -30},
			BaselineRatio: CeilTable{Steps: []Step{{1, 50}, {1.5, 30}, {2, 10}, {3, -20}}, Else: -40},
			AbsoluteHours: CeilTable{Steps: []Step{{4, 50}, {24, 30}, {48, 10}, {72, -20}}, Else: -40},
		},
		CommunicationFrequency: CommunicationConfig{
			Base:                 50,
			Recency:              CeilTable{Steps: []Step{{3, 30}, {7, 20}, {14, 0}, {30, -25}}, Else: -45},
			Volume:               FloorTable{Steps: []Step{{8, 20}, {4, 10}, {1, 0}}, Else: -10},
			BaselineBonus:        10,
			BaselinePenalty:      -15,
			BaselinePenaltyRatio: 2,
		},
		EngagementQuality: QualityConfig{
			Base:     50,
			OpenRate: FloorTable{Steps: []Step{{60, 25}, {30, 10}, {10, 0}}, Else: -20},
			Inbound:  FloorTable{Steps: []Step{{3, 20}, {1, 10}}, Else: -15},
		},
		MeetingPattern: MeetingConfig{
			Base:                 50,
			Volume:               FloorTable{Steps: []Step{{3, 30}, {1, 15}}, Else: -15},
			Recency:              CeilTable{Steps: []Step{{14, 20}, {60, 0}}, Else: -30},
			BaselinePenalty:      -10,
			BaselinePenaltyRatio: 2,
		},
		DealStatus:         StatusBands{Healthy: 75, Warning: 50, Critical: 25},
		RelationshipStatus: StatusBands{Healthy: 70, Warning: 50},
		DealRisk: RiskBands{
			CriticalBelow: 25, HighBelow: 50, MediumBelow: 75,
			CriticalFactors: 4, HighFactors: 3, MediumFactors: 1,
		},
		RelationshipRisk: RiskBands{
			CriticalBelow: 30, HighBelow: 50, MediumBelow: 70,
			CriticalFactors: 4, HighFactors: 3, MediumFactors: 1,
		},
		Risk: RiskConfig{
			InactiveDays:          14,
			SlowResponseRatio:     3,
			SlowResponseHours:     72,
			SilenceDays:           14,
			MinEmailsForOpenCheck: 3,
			ContactGapRatio:       2,
			LowResponseRate:       20,
			MeetingDroughtDays:    60,
		},
		Ghost: GhostConfig{WindowDays: 30, MinProbability: 60},
	}
}
