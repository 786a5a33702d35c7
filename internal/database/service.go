package database

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/ZanzyTHEbar/deal-health-engine/internal/alerting"
	"github.com/ZanzyTHEbar/deal-health-engine/internal/types"
)

// Dataset is a YAML seed file. Interaction times are given either as an
// absolute `at` or as `days_ago` relative to the import time.
type Dataset struct {
	Entities       []EntityFixture        `yaml:"entities"`
	Meetings       []MeetingFixture       `yaml:"meetings"`
	Communications []CommunicationFixture `yaml:"communications"`
	Activities     []ActivityFixture      `yaml:"activities"`
	Links          []LinkFixture          `yaml:"links"`
	Rules          []RuleFixture          `yaml:"rules"`
}

// When is an absolute or relative point in time
type When struct {
	At      *time.Time `yaml:"at"`
	DaysAgo *float64   `yaml:"days_ago"`
}

func (w When) resolve(now time.Time) *time.Time {
	switch {
	case w.At != nil:
		t := w.At.UTC()
		return &t
	case w.DaysAgo != nil:
		t := now.Add(-time.Duration(*w.DaysAgo * float64(24*time.Hour)))
		return &t
	default:
		return nil
	}
}

type EntityFixture struct {
	ID             string  `yaml:"id"`
	Kind           string  `yaml:"kind"`
	OwnerID        string  `yaml:"owner_id"`
	Name           string  `yaml:"name"`
	CompanyName    string  `yaml:"company_name"`
	Stage          string  `yaml:"stage"`
	Value          string  `yaml:"value"`
	StageEntered   When    `yaml:"stage_entered"`
	ExpectedClose  When    `yaml:"expected_close"`
	CreatedDaysAgo float64 `yaml:"created_days_ago"`
}

type MeetingFixture struct {
	EntityID  string   `yaml:"entity_id"`
	When      When     `yaml:",inline"`
	Sentiment *float64 `yaml:"sentiment"`
}

type CommunicationFixture struct {
	EntityID          string   `yaml:"entity_id"`
	When              When     `yaml:",inline"`
	Channel           string   `yaml:"channel"`
	Direction         string   `yaml:"direction"`
	Sentiment         *float64 `yaml:"sentiment"`
	Replied           bool     `yaml:"replied"`
	Opened            bool     `yaml:"opened"`
	ResponseTimeHours *float64 `yaml:"response_time_hours"`
}

type ActivityFixture struct {
	EntityID string `yaml:"entity_id"`
	When     When   `yaml:",inline"`
	Type     string `yaml:"type"`
}

type LinkFixture struct {
	Kind   string `yaml:"kind"`
	ID     string `yaml:"id"`
	DealID string `yaml:"deal_id"`
}

type RuleFixture struct {
	ID               string                `yaml:"id"`
	OwnerID          string                `yaml:"owner_id"`
	Name             string                `yaml:"name"`
	EntityKind       string                `yaml:"entity_kind"`
	RuleType         string                `yaml:"rule_type"`
	Threshold        float64               `yaml:"threshold"`
	Operator         string                `yaml:"operator"`
	Unit             string                `yaml:"unit"`
	Severity         string                `yaml:"severity"`
	Title            string                `yaml:"title"`
	Message          string                `yaml:"message"`
	SuggestedActions []string              `yaml:"suggested_actions"`
	Conditions       []types.RuleCondition `yaml:"conditions"`
	Inactive         bool                  `yaml:"inactive"`
}

// ImportResult counts what was written
type ImportResult struct {
	Entities       int `json:"entities"`
	Meetings       int `json:"meetings"`
	Communications int `json:"communications"`
	Activities     int `json:"activities"`
	Links          int `json:"links"`
	Rules          int `json:"rules"`
}

// ImportService loads seed datasets into the repository
type ImportService struct {
	repo *Repository
	now  func() time.Time
}

// NewImportService creates an importer
func NewImportService(repo *Repository) *ImportService {
	return &ImportService{repo: repo, now: time.Now}
}

// ImportYAML decodes a dataset and imports it
func (s *ImportService) ImportYAML(ctx context.Context, r io.Reader) (*ImportResult, error) {
	var ds Dataset
	if err := yaml.NewDecoder(r).Decode(&ds); err != nil {
		return nil, fmt.Errorf("failed to decode dataset: %w", err)
	}
	return s.Import(ctx, &ds)
}

// Import writes the dataset. It stops at the first invalid record; records
// written before it are kept.
func (s *ImportService) Import(ctx context.Context, ds *Dataset) (*ImportResult, error) {
	now := s.now().UTC()
	res := &ImportResult{}

	for _, f := range ds.Entities {
		e, err := f.entity(now)
		if err != nil {
			return res, err
		}
		if err := s.repo.SaveEntity(ctx, e); err != nil {
			return res, err
		}
		res.Entities++
	}

	for _, f := range ds.Meetings {
		at := f.When.resolve(now)
		if at == nil {
			return res, fmt.Errorf("meeting for %s has no time", f.EntityID)
		}
		if err := s.repo.AddMeeting(ctx, &types.Meeting{EntityID: f.EntityID, StartTime: *at, Sentiment: f.Sentiment}); err != nil {
			return res, err
		}
		res.Meetings++
	}

	for _, f := range ds.Communications {
		at := f.When.resolve(now)
		if at == nil {
			return res, fmt.Errorf("communication for %s has no time", f.EntityID)
		}
		c := &types.Communication{
			EntityID:          f.EntityID,
			Channel:           f.Channel,
			Direction:         types.Direction(f.Direction),
			Timestamp:         *at,
			Sentiment:         f.Sentiment,
			Replied:           f.Replied,
			Opened:            f.Opened,
			ResponseTimeHours: f.ResponseTimeHours,
		}
		if c.Direction != types.DirectionInbound && c.Direction != types.DirectionOutbound {
			return res, fmt.Errorf("communication for %s: unknown direction %q", f.EntityID, f.Direction)
		}
		if err := s.repo.AddCommunication(ctx, c); err != nil {
			return res, err
		}
		res.Communications++
	}

	for _, f := range ds.Activities {
		at := f.When.resolve(now)
		if at == nil {
			return res, fmt.Errorf("activity for %s has no time", f.EntityID)
		}
		if err := s.repo.AddActivity(ctx, &types.Activity{EntityID: f.EntityID, Type: f.Type, Timestamp: *at}); err != nil {
			return res, err
		}
		res.Activities++
	}

	for _, f := range ds.Links {
		kind, ok := types.ParseEntityKind(f.Kind)
		if !ok {
			return res, fmt.Errorf("link %s: unknown kind %q", f.ID, f.Kind)
		}
		if err := s.repo.LinkDeal(ctx, kind, f.ID, f.DealID); err != nil {
			return res, err
		}
		res.Links++
	}

	for _, f := range ds.Rules {
		rule, err := f.rule(now)
		if err != nil {
			return res, err
		}
		if err := alerting.ValidateRule(rule); err != nil {
			return res, fmt.Errorf("rule %q: %w", f.Name, err)
		}
		if err := s.repo.SaveRule(ctx, rule); err != nil {
			return res, err
		}
		res.Rules++
	}

	slog.Info("Dataset imported",
		"entities", res.Entities,
		"meetings", res.Meetings,
		"communications", res.Communications,
		"activities", res.Activities,
		"links", res.Links,
		"rules", res.Rules,
	)
	return res, nil
}

func (f EntityFixture) entity(now time.Time) (*types.Entity, error) {
	kind, ok := types.ParseEntityKind(f.Kind)
	if !ok {
		return nil, fmt.Errorf("entity %s: unknown kind %q", f.ID, f.Kind)
	}
	e := &types.Entity{
		ID:          f.ID,
		Kind:        kind,
		OwnerID:     f.OwnerID,
		Name:        f.Name,
		CompanyName: f.CompanyName,
		Stage:       f.Stage,
		CreatedAt:   now.Add(-time.Duration(f.CreatedDaysAgo * float64(24*time.Hour))),
	}
	if f.Value != "" {
		v, err := decimal.NewFromString(f.Value)
		if err != nil {
			return nil, fmt.Errorf("entity %s: invalid value %q: %w", f.ID, f.Value, err)
		}
		e.Value = v
	}
	e.StageEnteredAt = f.StageEntered.resolve(now)
	e.ExpectedCloseDate = f.ExpectedClose.resolve(now)
	return e, nil
}

func (f RuleFixture) rule(now time.Time) (*types.AlertRule, error) {
	var kind types.EntityKind
	if f.EntityKind != "" {
		var ok bool
		if kind, ok = types.ParseEntityKind(f.EntityKind); !ok {
			return nil, fmt.Errorf("rule %q: unknown entity kind %q", f.Name, f.EntityKind)
		}
	}
	return &types.AlertRule{
		ID:                f.ID,
		OwnerID:           f.OwnerID,
		Name:              f.Name,
		EntityKind:        kind,
		RuleType:          types.AlertType(f.RuleType),
		ThresholdValue:    f.Threshold,
		ThresholdOperator: types.ThresholdOperator(f.Operator),
		ThresholdUnit:     types.ThresholdUnit(f.Unit),
		Severity:          types.Severity(f.Severity),
		TitleTemplate:     f.Title,
		MessageTemplate:   f.Message,
		SuggestedActions:  f.SuggestedActions,
		Conditions:        f.Conditions,
		IsActive:          !f.Inactive,
		CreatedAt:         now,
	}, nil
}
